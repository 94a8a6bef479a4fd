package http

import (
	"fmt"
	"net/http"
)

// AppError is a client-facing error with its HTTP status.
type AppError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// WithParam attaches a detail the client can act on, such as the id that was not found.
func (e *AppError) WithParam(key string, value interface{}) *AppError {
	if e.Params == nil {
		e.Params = make(map[string]interface{}, 1)
	}
	e.Params[key] = value
	return e
}

// WithError keeps the cause for logs; it is never serialized.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func errorf(status int, code, format string, a ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, a...), Status: status}
}

func NotFoundErrorf(format string, a ...interface{}) *AppError {
	return errorf(http.StatusNotFound, "ERR_NOT_FOUND", format, a...)
}

func InternalErrorf(format string, a ...interface{}) *AppError {
	return errorf(http.StatusInternalServerError, "ERR_INTERNAL", format, a...)
}

// UnavailableErrorf reports a dependency that is not configured or not reachable.
func UnavailableErrorf(format string, a ...interface{}) *AppError {
	return errorf(http.StatusServiceUnavailable, "ERR_UNAVAILABLE", format, a...)
}
