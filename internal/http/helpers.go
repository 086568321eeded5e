package http

import (
	"errors"
	"net/http"
	"strings"

	"fintrack/internal/core"
	"fintrack/internal/log"
)

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// statusFor maps a backend or identity failure to the status of the page
// that reports it.
func statusFor(err error) int {
	var (
		se *core.ServerError
		ne *core.NetworkError
	)
	switch {
	case core.IsValidation(err):
		return http.StatusUnprocessableEntity
	case core.IsAuth(err):
		return http.StatusUnauthorized
	case errors.As(err, &se) && se.Status == http.StatusNotFound:
		return http.StatusNotFound
	case errors.As(err, &se), errors.As(err, &ne):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// isNotFound reports whether the backend said the record does not exist.
func isNotFound(err error) bool {
	var se *core.ServerError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

// errorType classifies err for the log.
func errorType(err error) string {
	var (
		se *core.ServerError
		ne *core.NetworkError
	)
	switch {
	case core.IsAuth(err):
		return log.ErrorTypeAuth
	case errors.As(err, &ne):
		return log.ErrorTypeNetwork
	case errors.As(err, &se):
		return log.ErrorTypeServer
	default:
		return log.ErrorTypeInternal
	}
}
