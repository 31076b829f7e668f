package common

import (
	"errors"
	"net/http"
)

// AppError is a failure with a client-facing code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// AsAppError returns the first AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var target *AppError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// ErrorMapping translates a sentinel error into a response when no AppError
// is present in the chain. Message falls back to err.Error().
type ErrorMapping struct {
	Target  error
	Status  int
	Code    string
	Message string
}

// WriteError renders err in the error envelope. AppErrors win, then the
// first matching mapping; anything else is an opaque 500.
func WriteError(w http.ResponseWriter, err error, mappings ...ErrorMapping) {
	if appErr, ok := AsAppError(err); ok {
		status, code := appErr.HTTPStatus, appErr.Code
		if status == 0 {
			status = http.StatusBadRequest
		}
		if code == "" {
			code = "BAD_REQUEST"
		}
		JSONError(w, status, code, appErr.Message, appErr.Details)
		return
	}
	for _, m := range mappings {
		if err != nil && errors.Is(err, m.Target) {
			msg := m.Message
			if msg == "" {
				msg = err.Error()
			}
			JSONError(w, m.Status, m.Code, msg, nil)
			return
		}
	}
	JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}
