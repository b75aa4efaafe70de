package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrSignature    = errors.New("signature verification failed")
	ErrGateway      = errors.New("payment gateway error")
	ErrPersistence  = errors.New("persistence error")
	ErrInvalidState = errors.New("order is already in a terminal state")
	ErrNotFound     = errors.New("not found")
)

// ValidationError names the offending field so the caller can be told exactly what is missing.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Persistence wraps a backend failure so callers can match it with errors.Is(err, ErrPersistence).
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
