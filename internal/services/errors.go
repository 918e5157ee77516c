package services

import (
	"errors"
	"fmt"

	"inkwell-backend/internal/repository"
)

// Custom errors
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return "Validation error" }

type ConflictError struct{ Message string }

func (e *ConflictError) Error() string { return e.Message }

type NotFoundError struct{ Message string }

func (e *NotFoundError) Error() string { return e.Message }

type UnauthorizedError struct{ Message string }

func (e *UnauthorizedError) Error() string { return e.Message }

type ForbiddenError struct{ Message string }

func (e *ForbiddenError) Error() string { return e.Message }

type RateLimitError struct{ Message string }

func (e *RateLimitError) Error() string { return e.Message }

// StoreError is a persistence failure the caller may retry. Nothing of the
// failed operation was applied.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string   { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error   { return e.Err }
func (e *StoreError) Retryable() bool { return true }

// storeErr wraps retryable repository failures in a StoreError and passes
// everything else through with context.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrUnavailable) {
		return &StoreError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
