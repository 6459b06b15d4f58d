package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// Errors a StatusError unwraps to, by status code.
var (
	ErrNotFound     = errors.New("backend: not found")
	ErrUnauthorized = errors.New("backend: unauthorized")
	ErrForbidden    = errors.New("backend: forbidden")
	ErrConflict     = errors.New("backend: conflict")
	ErrRejected     = errors.New("backend: request rejected")
	ErrUnavailable  = errors.New("backend: unavailable")
)

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Operation  string
	StatusCode int
	// Message is the backend's error message, when it sent one.
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: unexpected status code: %d: %s", e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: unexpected status code: %d", e.Operation, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.StatusCode == http.StatusForbidden:
		return ErrForbidden
	case e.StatusCode == http.StatusConflict:
		return ErrConflict
	case e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests:
		return ErrUnavailable
	default:
		return ErrRejected
	}
}
