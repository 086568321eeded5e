package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"
)

// DateLayout is the calendar date format used on the wire and in forms.
const DateLayout = "2006-01-02"

type (
	TransactionType string

	// Date is a calendar date without time of day.
	Date struct {
		time.Time
	}

	// Transaction is a transient copy of a record owned by the backend.
	Transaction struct {
		ID          string          `json:"_id"`
		Type        TransactionType `json:"type"`
		Amount      decimal.Decimal `json:"amount"`
		Category    string          `json:"category"`
		Description string          `json:"description"`
		Date        Date            `json:"date"`
	}

	// TransactionInput is the body of a create request.
	TransactionInput struct {
		Type        TransactionType
		Amount      decimal.Decimal
		Description string
		Category    string
		Date        Date
	}

	// TransactionPatch is a partial update; nil fields are left untouched.
	TransactionPatch struct {
		Type        *TransactionType
		Amount      *decimal.Decimal
		Description *string
		Category    *string
		Date        *Date
	}
)

var (
	ErrInvalidType      = errors.New("invalid transaction type")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyDescription = errors.New("empty description")
	ErrEmptyCategory    = errors.New("empty category")
	ErrInvalidDate      = errors.New("invalid date")
)

// ParseTransactionType accepts "income" or "expense" in any case.
func ParseTransactionType(s string) (TransactionType, error) {
	switch TransactionType(strings.ToLower(strings.TrimSpace(s))) {
	case Income:
		return Income, nil
	case Expense:
		return Expense, nil
	default:
		return "", ErrInvalidType
	}
}

func (t TransactionType) Valid() bool {
	return t == Income || t == Expense
}

// Label returns the capitalised form used in the UI.
func (t TransactionType) Label() string {
	switch t {
	case Income:
		return "Income"
	case Expense:
		return "Expense"
	default:
		return string(t)
	}
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

// Today returns the current date in UTC.
func Today() Date {
	now := time.Now().UTC()
	return NewDate(now.Year(), int(now.Month()), now.Day())
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

// Display formats the date for lists, e.g. "Nov 01, 2024".
func (d Date) Display() string {
	if d.IsZero() {
		return "N/A"
	}
	return d.Format("Jan 02, 2006")
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(DateLayout))
}

// UnmarshalJSON accepts plain dates and full RFC 3339 timestamps.
func (d *Date) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date: %w", err)
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("date %q: %w", s, ErrInvalidDate)
	}
	t = t.UTC()
	*d = NewDate(t.Year(), int(t.Month()), t.Day())
	return nil
}

// UnmarshalJSON reads records keyed by either "_id" or "id".
func (t *Transaction) UnmarshalJSON(b []byte) error {
	type alias Transaction
	var aux struct {
		alias
		AltID string `json:"id"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*t = Transaction(aux.alias)
	if t.ID == "" {
		t.ID = aux.AltID
	}
	return nil
}

// IsIncome reports whether the record is an income.
func (t Transaction) IsIncome() bool {
	return t.Type == Income
}

// SignedAmount renders the amount with its sign and currency, e.g. "+BDT 35000.00".
func (t Transaction) SignedAmount() string {
	sign := "-"
	if t.IsIncome() {
		sign = "+"
	}
	return sign + FormatAmount(t.Amount)
}

// Input converts the record into a create/update body.
func (t Transaction) Input() TransactionInput {
	return TransactionInput{
		Type:        t.Type,
		Amount:      t.Amount,
		Description: t.Description,
		Category:    t.Category,
		Date:        t.Date,
	}
}

func (in TransactionInput) Validate() error {
	var errs ValidationErrors
	if !in.Type.Valid() {
		errs = append(errs, ValidationError{Field: "type", Message: "Select income or expense"})
	}
	if !in.Amount.IsPositive() {
		errs = append(errs, ValidationError{Field: "amount", Message: "Amount must be greater than zero"})
	}
	if strings.TrimSpace(in.Description) == "" {
		errs = append(errs, ValidationError{Field: "description", Message: "Description is required"})
	} else if len(in.Description) > 200 {
		errs = append(errs, ValidationError{Field: "description", Message: "Description too long (max 200 characters)"})
	}
	if strings.TrimSpace(in.Category) == "" {
		errs = append(errs, ValidationError{Field: "category", Message: "Select a category"})
	} else if in.Type.Valid() && !IsCategory(in.Type, in.Category) {
		errs = append(errs, ValidationError{Field: "category", Message: "Category does not match the transaction type"})
	}
	if in.Date.IsZero() {
		errs = append(errs, ValidationError{Field: "date", Message: "Pick a date"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// MarshalJSON writes the amount as a JSON number and the date as YYYY-MM-DD.
func (in TransactionInput) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type        TransactionType `json:"type"`
		Amount      json.Number     `json:"amount"`
		Description string          `json:"description"`
		Category    string          `json:"category"`
		Date        string          `json:"date"`
	}{
		Type:        in.Type,
		Amount:      json.Number(in.Amount.String()),
		Description: in.Description,
		Category:    in.Category,
		Date:        in.Date.String(),
	})
}

// IsEmpty reports whether the patch would change nothing.
func (p TransactionPatch) IsEmpty() bool {
	return p.Type == nil && p.Amount == nil && p.Description == nil && p.Category == nil && p.Date == nil
}

// Diff builds the patch that turns current into next.
func Diff(current Transaction, next TransactionInput) TransactionPatch {
	var p TransactionPatch
	if current.Type != next.Type {
		p.Type = &next.Type
	}
	if !current.Amount.Equal(next.Amount) {
		p.Amount = &next.Amount
	}
	if current.Description != next.Description {
		p.Description = &next.Description
	}
	if current.Category != next.Category {
		p.Category = &next.Category
	}
	if !current.Date.Equal(next.Date.Time) {
		p.Date = &next.Date
	}
	return p
}

func (p TransactionPatch) MarshalJSON() ([]byte, error) {
	out := struct {
		Type        *TransactionType `json:"type,omitempty"`
		Amount      json.Number      `json:"amount,omitempty"`
		Description *string          `json:"description,omitempty"`
		Category    *string          `json:"category,omitempty"`
		Date        string           `json:"date,omitempty"`
	}{
		Type:        p.Type,
		Description: p.Description,
		Category:    p.Category,
	}
	if p.Amount != nil {
		out.Amount = json.Number(p.Amount.String())
	}
	if p.Date != nil {
		out.Date = p.Date.String()
	}
	return json.Marshal(out)
}
