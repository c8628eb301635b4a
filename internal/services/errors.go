package services

import "errors"

var (
	// ErrQuotaExceeded marks an oracle rejection caused by exhausted quota or
	// billing. It is terminal: the call is not retried.
	ErrQuotaExceeded = errors.New("oracle quota exceeded")
	ErrEmptyReply    = errors.New("oracle returned an empty reply")
)

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return "Validation error" }

type NotFoundError struct{ Message string }

func (e *NotFoundError) Error() string { return e.Message }
