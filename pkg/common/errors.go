package common

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the live pipeline matches exactly one
// of these through errors.Is.
var (
	// ErrValidation the submission was rejected before any network call
	ErrValidation = errors.New("validation failed")

	// ErrGeneration the commentary generation call failed or returned unusable text
	ErrGeneration = errors.New("generation failed")

	// ErrNotFound the target match does not exist
	ErrNotFound = errors.New("not found")

	// ErrPersistence the durable store rejected or failed the write
	ErrPersistence = errors.New("persistence failed")

	// ErrConnection the real-time subscription dropped
	ErrConnection = errors.New("connection lost")

	// ErrConflict the match changed between read and write
	ErrConflict = errors.New("conflict")

	// ErrInvalidTransition the requested status change goes backwards
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Error codes carried by AppError
const (
	CodeValidation        = "VALIDATION_FAILED"
	CodeGeneration        = "GENERATION_FAILED"
	CodeNotFound          = "NOT_FOUND"
	CodePersistence       = "STORAGE_FAILED"
	CodeConnection        = "CONNECTION_LOST"
	CodeConflict          = "CONFLICT"
	CodeInvalidTransition = "INVALID_TRANSITION"
)

// ValidationError identifies the submission field that failed local validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is reports ErrValidation as the kind of every ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a validation error for field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// AppError 应用错误
type AppError struct {
	Code    string
	Message string
	Kind    error
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *AppError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// NewAppError 创建应用错误
func NewAppError(code string, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Kind:    kindForCode(code),
		Cause:   cause,
	}
}

func NewGenerationError(message string, cause error) *AppError {
	return NewAppError(CodeGeneration, message, cause)
}

func NewPersistenceError(message string, cause error) *AppError {
	return NewAppError(CodePersistence, message, cause)
}

func NewNotFoundError(what, id string) *AppError {
	return NewAppError(CodeNotFound, fmt.Sprintf("%s %s not found", what, id), nil)
}

func NewConnectionError(message string, cause error) *AppError {
	return NewAppError(CodeConnection, message, cause)
}

func NewConflictError(message string) *AppError {
	return NewAppError(CodeConflict, message, nil)
}

func NewInvalidTransitionError(from, to string) *AppError {
	return NewAppError(CodeInvalidTransition, fmt.Sprintf("cannot move match from %s to %s", from, to), nil)
}

func kindForCode(code string) error {
	switch code {
	case CodeValidation:
		return ErrValidation
	case CodeGeneration:
		return ErrGeneration
	case CodeNotFound:
		return ErrNotFound
	case CodePersistence:
		return ErrPersistence
	case CodeConnection:
		return ErrConnection
	case CodeConflict:
		return ErrConflict
	case CodeInvalidTransition:
		return ErrInvalidTransition
	}
	return nil
}

// Category returns the short category name used in operator-facing failures.
func Category(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrGeneration):
		return "generation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrConnection):
		return "connection"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	}
	return "internal"
}

// UserMessage describes the failure category in plain language.
func UserMessage(err error) string {
	var verr *ValidationError
	switch Category(err) {
	case "validation":
		if errors.As(err, &verr) {
			return fmt.Sprintf("Please check %s: %s.", verr.Field, verr.Reason)
		}
		return "Some of the event details are missing or invalid."
	case "generation":
		return "Commentary could not be generated. Try again or enter the text manually."
	case "not_found":
		return "That match no longer exists."
	case "conflict":
		return "The match was updated by someone else. Review the latest score and resubmit."
	case "invalid_transition":
		return "The match is not in a state that allows this update."
	case "connection":
		return "The live connection was lost. Reconnecting may help."
	case "persistence":
		return "The update could not be saved. Nothing was changed; please resubmit."
	}
	return "Something went wrong. Please try again."
}
