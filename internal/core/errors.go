package core

import (
	"errors"
	"fmt"
	"strings"
)

// AuthReason classifies authentication failures.
type AuthReason string

const (
	AuthInvalidCredentials AuthReason = "invalid_credentials"
	AuthEmailExists        AuthReason = "email_exists"
	AuthProviderRejected   AuthReason = "provider_rejected"
	AuthTokenMissing       AuthReason = "token_missing"
	AuthTokenExpired       AuthReason = "token_expired"
	AuthNetworkFailure     AuthReason = "network_failure"
)

// AuthError reports bad credentials, provider rejection or a missing/expired token.
type AuthError struct {
	Reason AuthReason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
	return "auth: " + string(e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Message is the text shown to the user.
func (e *AuthError) Message() string {
	switch e.Reason {
	case AuthInvalidCredentials:
		return "Invalid email or password."
	case AuthEmailExists:
		return "An account with this email already exists."
	case AuthProviderRejected:
		return "The sign-in provider rejected the request."
	case AuthTokenMissing, AuthTokenExpired:
		return "Your session has expired. Please sign in again."
	case AuthNetworkFailure:
		return "Could not reach the sign-in service. Please try again."
	default:
		return "Authentication failed."
	}
}

// NewAuthError builds an AuthError with an optional cause.
func NewAuthError(reason AuthReason, err error) *AuthError {
	return &AuthError{Reason: reason, Err: err}
}

// ValidationError is a client-side form rule violation. It never reaches the backend.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors collects every violation of a form.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Error())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ByField indexes messages by field name, keeping the first per field.
func (v ValidationErrors) ByField() map[string]string {
	out := make(map[string]string, len(v))
	for _, e := range v {
		if _, ok := out[e.Field]; !ok {
			out[e.Field] = e.Message
		}
	}
	return out
}

// NetworkError is a transport failure talking to the backend.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a non-2xx or unreadable response from the backend.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server: status %d", e.Status)
}

// IsAuth reports whether err is, or wraps, an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsValidation reports whether err carries form validation failures.
func IsValidation(err error) bool {
	var ve ValidationErrors
	if errors.As(err, &ve) {
		return true
	}
	var single ValidationError
	return errors.As(err, &single)
}

// UserMessage maps any error of the taxonomy to a notification text.
func UserMessage(err error) string {
	var (
		ae *AuthError
		ne *NetworkError
		se *ServerError
		ve ValidationErrors
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ae):
		return ae.Message()
	case errors.As(err, &ve) && len(ve) > 0:
		return ve[0].Message
	case errors.As(err, &ne):
		return "Network error. Please check your connection and try again."
	case errors.As(err, &se):
		if se.Status == 404 {
			return "The requested record was not found."
		}
		return fmt.Sprintf("The server returned an error (%d). Please try again.", se.Status)
	default:
		return "Something went wrong. Please try again."
	}
}
