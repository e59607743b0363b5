package apperror

import (
	"errors"
	"strings"
)

// Kind classifies an error for propagation and transport mapping.
type Kind string

const (
	KindValidation          Kind = "validation_error"
	KindAuthentication      Kind = "authentication_error"
	KindConflict            Kind = "conflict_error"
	KindTransient           Kind = "transient_error"
	KindCapacity            Kind = "capacity_error"
	KindPersistenceDegraded Kind = "persistence_degraded"
	KindNotFound            Kind = "not_found"
	KindForbidden           Kind = "forbidden"
	KindInternal            Kind = "internal_error"
)

// Kinded is implemented by errors that carry a classification.
type Kinded interface {
	ErrorKind() Kind
}

// Error is a classified error with a stable machine-readable code.
type Error struct {
	Kind Kind
	Code string
	Err  error
}

func New(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, code string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Code: code, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) ErrorKind() Kind { return e.Kind }

// KindOf returns the outermost classification found in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var k Kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return KindInternal
}

// CodeOf returns the code of the outermost *Error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return strings.TrimSpace(e.Code)
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
