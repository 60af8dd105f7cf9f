package domain

import (
	"errors"
	"fmt"
)

type Code string
type Category string

const (
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeExternalService   Code = "EXTERNAL_SERVICE_ERROR"
	CodeNotFound          Code = "NOT_FOUND"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeInternal          Code = "INTERNAL_ERROR"
)

const (
	CategoryClient   Category = "client"
	CategoryRuntime  Category = "runtime"
	CategoryPlatform Category = "platform"
)

// Fault is the error type surfaced by the engine and its services.
type Fault struct {
	Code      Code
	Category  Category
	Message   string
	Retryable bool
	cause     error
}

func (f Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func (f Fault) Unwrap() error {
	return f.cause
}

func NewFault(code Code, category Category, message string) Fault {
	return Fault{Code: code, Category: category, Message: message}
}

func Validation(format string, args ...any) Fault {
	return NewFault(CodeValidation, CategoryClient, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) Fault {
	return NewFault(CodeNotFound, CategoryClient, fmt.Sprintf(format, args...))
}

func InvalidTransition(format string, args ...any) Fault {
	return NewFault(CodeInvalidTransition, CategoryClient, fmt.Sprintf(format, args...))
}

// ExternalService wraps a collaborator failure (AI, mail, search).
func ExternalService(service string, err error) Fault {
	f := NewFault(CodeExternalService, CategoryPlatform, fmt.Sprintf("%s: %v", service, err))
	f.Retryable = true
	f.cause = err
	return f
}

func Internal(message string, err error) Fault {
	f := NewFault(CodeInternal, CategoryRuntime, message)
	if err != nil {
		f.Message = fmt.Sprintf("%s: %v", message, err)
	}
	f.cause = err
	return f
}

func As(err error) (Fault, bool) {
	var target Fault
	if errors.As(err, &target) {
		return target, true
	}
	return Fault{}, false
}

// Message returns the human-readable part of err, without the fault code.
func Message(err error) string {
	if f, ok := As(err); ok {
		return f.Message
	}
	return err.Error()
}

func HasCode(err error, code Code) bool {
	f, ok := As(err)
	return ok && f.Code == code
}

func IsValidation(err error) bool { return HasCode(err, CodeValidation) }
func IsNotFound(err error) bool   { return HasCode(err, CodeNotFound) }

var (
	ErrWorkflowNotFound = NotFound("workflow not found")
	ErrRunNotFound      = NotFound("run not found")
	// ErrRunStatusChanged is returned by RunRepository.UpdateRun when the
	// stored status no longer matches the expected one.
	ErrRunStatusChanged = InvalidTransition("run status changed concurrently")
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth redelivering. The worker acknowledges
// messages whose handler returns a permanent error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
