package core

import "unicode/utf8"

// MinPasswordLength is the minimum accepted password length.
const MinPasswordLength = 6

// PasswordCheck reports each password composition rule separately so the
// register form can show them one by one.
type PasswordCheck struct {
	HasUpper     bool
	HasLower     bool
	HasMinLength bool
}

// Valid reports whether every rule holds.
func (c PasswordCheck) Valid() bool {
	return c.HasUpper && c.HasLower && c.HasMinLength
}

// ValidatePassword checks for an ASCII uppercase letter, an ASCII lowercase
// letter and a minimum length.
func ValidatePassword(pw string) PasswordCheck {
	var c PasswordCheck
	for i := 0; i < len(pw); i++ {
		switch ch := pw[i]; {
		case ch >= 'A' && ch <= 'Z':
			c.HasUpper = true
		case ch >= 'a' && ch <= 'z':
			c.HasLower = true
		}
	}
	c.HasMinLength = utf8.RuneCountInString(pw) >= MinPasswordLength
	return c
}
