package http

import (
	"net/url"
	"strings"
	"testing"

	"fintrack/internal/core"
)

func TestParseTransactionForm(t *testing.T) {
	valid := url.Values{
		"type":        {"income"},
		"amount":      {"35000"},
		"description": {"November salary"},
		"category":    {"Salary"},
		"date":        {"2024-11-01"},
	}
	with := func(key, value string) url.Values {
		v := url.Values{}
		for k, vs := range valid {
			v[k] = append([]string(nil), vs...)
		}
		v.Set(key, value)
		return v
	}

	tests := []struct {
		name      string
		formData  url.Values
		wantField string
	}{
		{name: "valid", formData: valid},
		{name: "unknown type", formData: with("type", "transfer"), wantField: "type"},
		{name: "negative amount", formData: with("amount", "-10"), wantField: "amount"},
		{name: "zero amount", formData: with("amount", "0"), wantField: "amount"},
		{name: "text amount", formData: with("amount", "lots"), wantField: "amount"},
		{name: "empty description", formData: with("description", "   "), wantField: "description"},
		{name: "category of other type", formData: with("category", "Food"), wantField: "category"},
		{name: "missing date", formData: with("date", ""), wantField: "date"},
		{name: "malformed date", formData: with("date", "01/11/2024"), wantField: "date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form, in, err := ParseTransactionForm(tt.formData, "")
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if in.Type != core.Income || in.Amount.String() != "35000" || in.Date.String() != "2024-11-01" {
					t.Errorf("input = %+v", in)
				}
				return
			}
			if !core.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if _, ok := form.Errors[tt.wantField]; !ok {
				t.Errorf("Errors = %v, want entry for %q", form.Errors, tt.wantField)
			}
			if form.Description != strings.TrimSpace(tt.formData.Get("description")) {
				t.Errorf("submitted values should be kept, got %+v", form)
			}
		})
	}
}

func TestParseTransactionFormTypeChangeClearsCategory(t *testing.T) {
	form := url.Values{
		"type":        {"expense"},
		"amount":      {"12.50"},
		"description": {"Lunch"},
		"category":    {"Salary"},
		"date":        {"2024-11-02"},
	}

	got, _, err := ParseTransactionForm(form, core.Income)
	if err == nil {
		t.Fatal("expected a category error after switching type")
	}
	if got.Category != "" {
		t.Errorf("Category = %q, want cleared", got.Category)
	}

	form.Set("category", "Other")
	got, in, err := ParseTransactionForm(form, core.Income)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Category != "Other" || in.Category != "Other" {
		t.Errorf("category shared by both types should be kept, got %q", in.Category)
	}
}

func TestParseLoginForm(t *testing.T) {
	form, pw, err := ParseLoginForm(url.Values{"email": {" Ana@Example.com "}, "password": {"Secret1"}, "from": {"/reports"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if form.Email != "ana@example.com" || pw != "Secret1" || form.From != "/reports" {
		t.Errorf("form = %+v, password = %q", form, pw)
	}

	form, _, err = ParseLoginForm(url.Values{})
	if err == nil {
		t.Fatal("expected error for empty form")
	}
	if form.Errors["email"] == "" || form.Errors["password"] == "" {
		t.Errorf("Errors = %v", form.Errors)
	}
}

func TestParseRegisterForm(t *testing.T) {
	base := func() url.Values {
		return url.Values{
			"name":             {"Ana Diaz"},
			"email":            {"ana@example.com"},
			"photo_url":        {"https://example.com/ana.png"},
			"password":         {"Secret1"},
			"confirm_password": {"Secret1"},
		}
	}

	tests := []struct {
		name      string
		mutate    func(url.Values)
		wantField string
		wantMsg   string
	}{
		{name: "valid", mutate: func(url.Values) {}},
		{name: "missing name", mutate: func(v url.Values) { v.Set("name", "") }, wantField: "name"},
		{name: "bad email", mutate: func(v url.Values) { v.Set("email", "ana@") }, wantField: "email"},
		{name: "photo not http", mutate: func(v url.Values) { v.Set("photo_url", "javascript:alert(1)") }, wantField: "photo_url"},
		{
			name:      "mismatch",
			mutate:    func(v url.Values) { v.Set("confirm_password", "Secret2") },
			wantField: "confirm_password",
			wantMsg:   "Passwords do not match",
		},
		{
			name: "weak password",
			mutate: func(v url.Values) {
				v.Set("password", "secret1")
				v.Set("confirm_password", "secret1")
			},
			wantField: "password",
			wantMsg:   "Password does not meet requirements",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := base()
			tt.mutate(v)
			form, pw, err := ParseRegisterForm(v)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if pw != "Secret1" || !form.Check.Valid() {
					t.Errorf("form = %+v", form)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			msg, ok := form.Errors[tt.wantField]
			if !ok {
				t.Fatalf("Errors = %v, want %q", form.Errors, tt.wantField)
			}
			if tt.wantMsg != "" && msg != tt.wantMsg {
				t.Errorf("message = %q, want %q", msg, tt.wantMsg)
			}
			if pw != "" {
				t.Error("password must not be returned on failure")
			}
		})
	}
}

func TestRegisterFormProfileUpdate(t *testing.T) {
	upd := RegisterForm{Name: "Ana"}.ProfileUpdate()
	if upd.DisplayName == nil || *upd.DisplayName != "Ana" || upd.PhotoURL != nil {
		t.Errorf("update = %+v", upd)
	}
	if !(RegisterForm{}).ProfileUpdate().IsEmpty() {
		t.Error("empty form should give empty update")
	}
}

func TestParseProfileFormReturnsOnlyChanges(t *testing.T) {
	current := &core.Identity{DisplayName: "Ana", PhotoURL: "https://example.com/a.png"}

	_, upd, err := ParseProfileForm(url.Values{
		"display_name": {"Ana"},
		"photo_url":    {"https://example.com/a.png"},
	}, current)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !upd.IsEmpty() {
		t.Errorf("unchanged form should give empty update, got %+v", upd)
	}

	_, upd, err = ParseProfileForm(url.Values{
		"display_name": {"Ana Diaz"},
		"photo_url":    {"https://example.com/a.png"},
	}, current)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if upd.DisplayName == nil || *upd.DisplayName != "Ana Diaz" || upd.PhotoURL != nil {
		t.Errorf("update = %+v", upd)
	}

	form, _, err := ParseProfileForm(url.Values{"display_name": {strings.Repeat("a", 101)}}, current)
	if err == nil || form.Errors["display_name"] == "" {
		t.Errorf("expected length error, got %v", err)
	}
}

func TestSanitizeInput(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"  hello  ", "hello"},
		{"line\x00break", "linebreak"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := sanitizeInput(tt.input); got != tt.want {
			t.Errorf("sanitizeInput(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
