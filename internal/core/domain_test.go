package core

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestValidatePassword(t *testing.T) {
	cases := []struct {
		pw    string
		check PasswordCheck
	}{
		{"Abcdef", PasswordCheck{HasUpper: true, HasLower: true, HasMinLength: true}},
		{"abcdef", PasswordCheck{HasUpper: false, HasLower: true, HasMinLength: true}},
		{"ABC", PasswordCheck{HasUpper: true, HasLower: false, HasMinLength: false}},
		{"", PasswordCheck{}},
		{"Ab1", PasswordCheck{HasUpper: true, HasLower: true, HasMinLength: false}},
	}
	for _, tc := range cases {
		got := ValidatePassword(tc.pw)
		if got != tc.check {
			t.Fatalf("%q: got %+v, want %+v", tc.pw, got, tc.check)
		}
	}
	if !ValidatePassword("Abcdef").Valid() {
		t.Fatalf("Abcdef should be valid")
	}
	if ValidatePassword("abcdef").Valid() || ValidatePassword("ABC").Valid() {
		t.Fatalf("abcdef and ABC should be invalid")
	}
}

func TestTransactionInputMarshal(t *testing.T) {
	in := TransactionInput{
		Type:        Income,
		Amount:      decimal.RequireFromString("35000"),
		Description: "November salary",
		Category:    "Salary",
		Date:        NewDate(2024, 11, 1),
	}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"income","amount":35000,"description":"November salary","category":"Salary","date":"2024-11-01"}`
	if string(b) != want {
		t.Fatalf("body = %s, want %s", b, want)
	}
}

func TestTransactionInputValidate(t *testing.T) {
	good := TransactionInput{
		Type:        Expense,
		Amount:      decimal.RequireFromString("12.50"),
		Description: "Lunch",
		Category:    "Food",
		Date:        NewDate(2024, 11, 2),
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bad := good
	bad.Category = "Salary"
	bad.Description = " "
	err := bad.Validate()
	var ve ValidationErrors
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
	fields := ve.ByField()
	if _, ok := fields["category"]; !ok {
		t.Fatalf("expected category error, got %v", fields)
	}
	if _, ok := fields["description"]; !ok {
		t.Fatalf("expected description error, got %v", fields)
	}
	if !IsValidation(err) {
		t.Fatalf("IsValidation should detect %v", err)
	}
}

func TestTransactionUnmarshal(t *testing.T) {
	body := `{"_id":"abc123","type":"expense","amount":42.5,"category":"Food","description":"Dinner","date":"2024-11-05T00:00:00.000Z"}`
	var tx Transaction
	if err := json.Unmarshal([]byte(body), &tx); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if tx.ID != "abc123" || tx.Type != Expense || tx.Date.String() != "2024-11-05" {
		t.Fatalf("unexpected record: %+v", tx)
	}
	if tx.SignedAmount() != "-BDT 42.50" {
		t.Fatalf("signed amount = %q", tx.SignedAmount())
	}

	var alt Transaction
	if err := json.Unmarshal([]byte(`{"id":"x1","type":"income","amount":"10","date":"2024-01-01"}`), &alt); err != nil {
		t.Fatalf("unmarshal alt: %v", err)
	}
	if alt.ID != "x1" {
		t.Fatalf("expected id fallback, got %q", alt.ID)
	}
}

func TestDiff(t *testing.T) {
	cur := Transaction{
		ID:          "1",
		Type:        Income,
		Amount:      decimal.RequireFromString("100"),
		Category:    "Salary",
		Description: "Pay",
		Date:        NewDate(2024, 1, 1),
	}
	next := cur.Input()
	if !Diff(cur, next).IsEmpty() {
		t.Fatalf("identical input should give empty patch")
	}
	next.Amount = decimal.RequireFromString("150")
	p := Diff(cur, next)
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"amount":150}` {
		t.Fatalf("patch = %s", b)
	}
}

func TestUserMessage(t *testing.T) {
	if got := UserMessage(NewAuthError(AuthInvalidCredentials, nil)); got != "Invalid email or password." {
		t.Fatalf("auth message = %q", got)
	}
	if got := UserMessage(&ServerError{Status: 404}); got != "The requested record was not found." {
		t.Fatalf("server message = %q", got)
	}
	wrapped := errors.Join(errors.New("ctx"), &NetworkError{Op: "list", Err: errors.New("refused")})
	if got := UserMessage(wrapped); got == "" || got == "Something went wrong. Please try again." {
		t.Fatalf("network message = %q", got)
	}
}
