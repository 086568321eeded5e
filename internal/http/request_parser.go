// Package http provides HTTP server and handler implementations.
//
// This file implements parsing and validation of the submitted forms. Each
// form keeps the raw values so a rejected submission is shown again as typed.

package http

import (
	"net/mail"
	"net/url"
	"strings"

	"fintrack/internal/core"
)

// TransactionForm holds the values of the add and edit transaction forms.
type TransactionForm struct {
	Type        string
	Amount      string
	Description string
	Category    string
	Date        string
	Errors      map[string]string
}

// DefaultTransactionForm is the add form as first shown.
func DefaultTransactionForm(today core.Date) TransactionForm {
	return TransactionForm{
		Type:        string(core.Income),
		Amount:      "35000",
		Description: "November salary",
		Category:    "Salary",
		Date:        today.String(),
	}
}

// FormFromTransaction fills the edit form with a record.
func FormFromTransaction(tx core.Transaction) TransactionForm {
	return TransactionForm{
		Type:        string(tx.Type),
		Amount:      tx.Amount.String(),
		Description: tx.Description,
		Category:    tx.Category,
		Date:        tx.Date.String(),
	}
}

// ParseTransactionForm validates a submitted transaction form. previous is
// the type the record had before editing, or "" for a new record; when the
// type changes the category is cleared unless it belongs to the new type.
// A non-nil error is always core.ValidationErrors.
func ParseTransactionForm(form url.Values, previous core.TransactionType) (TransactionForm, core.TransactionInput, error) {
	f := TransactionForm{
		Type:        strings.ToLower(sanitizeInput(form.Get("type"))),
		Amount:      sanitizeInput(form.Get("amount")),
		Description: sanitizeInput(form.Get("description")),
		Category:    sanitizeInput(form.Get("category")),
		Date:        sanitizeInput(form.Get("date")),
	}

	var errs core.ValidationErrors
	var in core.TransactionInput

	t, err := core.ParseTransactionType(f.Type)
	if err != nil {
		errs = append(errs, core.ValidationError{Field: "type", Message: "Select income or expense"})
	} else {
		in.Type = t
		if previous != "" && t != previous && !core.IsCategory(t, f.Category) {
			f.Category = ""
		}
	}

	if amt, err := core.ParseAmount(f.Amount); err != nil {
		errs = append(errs, core.ValidationError{Field: "amount", Message: "Enter a positive amount"})
	} else {
		in.Amount = amt
	}

	if d, err := core.ParseDate(f.Date); err != nil {
		errs = append(errs, core.ValidationError{Field: "date", Message: "Pick a date"})
	} else {
		in.Date = d
	}

	in.Description = f.Description
	in.Category = f.Category

	if err := in.Validate(); err != nil {
		if ve, ok := err.(core.ValidationErrors); ok {
			errs = append(errs, ve...)
		}
	}
	if len(errs) > 0 {
		f.Errors = errs.ByField()
		return f, core.TransactionInput{}, errs
	}
	return f, in, nil
}

// LoginForm holds the sign in form. The password is never shown again.
type LoginForm struct {
	Email  string
	From   string
	Errors map[string]string
}

// ParseLoginForm validates a sign in submission and returns the password
// separately.
func ParseLoginForm(form url.Values) (LoginForm, string, error) {
	f := LoginForm{
		Email: strings.ToLower(sanitizeInput(form.Get("email"))),
		From:  form.Get("from"),
	}
	password := form.Get("password")

	var errs core.ValidationErrors
	if f.Email == "" {
		errs = append(errs, core.ValidationError{Field: "email", Message: "Email is required"})
	}
	if password == "" {
		errs = append(errs, core.ValidationError{Field: "password", Message: "Password is required"})
	}
	if len(errs) > 0 {
		f.Errors = errs.ByField()
		return f, "", errs
	}
	return f, password, nil
}

// RegisterForm holds the sign up form.
type RegisterForm struct {
	Name     string
	Email    string
	PhotoURL string
	Check    core.PasswordCheck
	Errors   map[string]string
}

// ParseRegisterForm validates a sign up submission and returns the password
// separately. Nothing is sent to the identity provider when it fails.
func ParseRegisterForm(form url.Values) (RegisterForm, string, error) {
	f := RegisterForm{
		Name:     sanitizeInput(form.Get("name")),
		Email:    strings.ToLower(sanitizeInput(form.Get("email"))),
		PhotoURL: sanitizeInput(form.Get("photo_url")),
	}
	password := form.Get("password")
	confirm := form.Get("confirm_password")
	f.Check = core.ValidatePassword(password)

	var errs core.ValidationErrors
	if f.Name == "" {
		errs = append(errs, core.ValidationError{Field: "name", Message: "Name is required"})
	}
	if !validEmail(f.Email) {
		errs = append(errs, core.ValidationError{Field: "email", Message: "Enter a valid email address"})
	}
	if f.PhotoURL != "" && !validPhotoURL(f.PhotoURL) {
		errs = append(errs, core.ValidationError{Field: "photo_url", Message: "Photo URL must be an http or https link"})
	}
	if password != confirm {
		errs = append(errs, core.ValidationError{Field: "confirm_password", Message: "Passwords do not match"})
	}
	if !f.Check.Valid() {
		errs = append(errs, core.ValidationError{Field: "password", Message: "Password does not meet requirements"})
	}
	if len(errs) > 0 {
		f.Errors = errs.ByField()
		return f, "", errs
	}
	return f, password, nil
}

// ProfileUpdate returns the profile fields chosen at sign up.
func (f RegisterForm) ProfileUpdate() core.ProfileUpdate {
	var upd core.ProfileUpdate
	if f.Name != "" {
		name := f.Name
		upd.DisplayName = &name
	}
	if f.PhotoURL != "" {
		photo := f.PhotoURL
		upd.PhotoURL = &photo
	}
	return upd
}

// ProfileForm holds the profile edit form.
type ProfileForm struct {
	DisplayName string
	PhotoURL    string
	Errors      map[string]string
}

// NewProfileForm fills the form with the current profile.
func NewProfileForm(id *core.Identity) ProfileForm {
	if id == nil {
		return ProfileForm{}
	}
	return ProfileForm{DisplayName: id.DisplayName, PhotoURL: id.PhotoURL}
}

// ParseProfileForm validates a profile submission against the current
// identity and returns only the fields that changed.
func ParseProfileForm(form url.Values, current *core.Identity) (ProfileForm, core.ProfileUpdate, error) {
	f := ProfileForm{
		DisplayName: sanitizeInput(form.Get("display_name")),
		PhotoURL:    sanitizeInput(form.Get("photo_url")),
	}

	var errs core.ValidationErrors
	if f.DisplayName == "" {
		errs = append(errs, core.ValidationError{Field: "display_name", Message: "Name is required"})
	} else if len(f.DisplayName) > 100 {
		errs = append(errs, core.ValidationError{Field: "display_name", Message: "Name too long (max 100 characters)"})
	}
	if f.PhotoURL != "" && !validPhotoURL(f.PhotoURL) {
		errs = append(errs, core.ValidationError{Field: "photo_url", Message: "Photo URL must be an http or https link"})
	}
	if len(errs) > 0 {
		f.Errors = errs.ByField()
		return f, core.ProfileUpdate{}, errs
	}

	var upd core.ProfileUpdate
	cur := NewProfileForm(current)
	if f.DisplayName != cur.DisplayName {
		name := f.DisplayName
		upd.DisplayName = &name
	}
	if f.PhotoURL != cur.PhotoURL {
		photo := f.PhotoURL
		upd.PhotoURL = &photo
	}
	return f, upd, nil
}

func validEmail(s string) bool {
	if s == "" {
		return false
	}
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

func validPhotoURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
