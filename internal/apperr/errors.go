// Package apperr holds the error taxonomy shared by the valuation core, the
// stores and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// ValidationError describes malformed input. Subject names the offending
// property or record ("subject", "comparable 2 (id 7)", "coefficient").
type ValidationError struct {
	Subject string
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	if e.Subject == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: invalid %s: %s", e.Subject, e.Field, e.Reason)
}

func NewValidation(subject, field, reason string) *ValidationError {
	return &ValidationError{Subject: subject, Field: field, Reason: reason}
}

// InsufficientDataError is returned when a computation has fewer inputs than it
// needs, for example a valuation without comparables.
type InsufficientDataError struct {
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: have %d comparable properties, need at least %d", e.Have, e.Need)
}

// PersistenceFault wraps a storage failure that happened after the primary
// result was already computed.
type PersistenceFault struct {
	Op  string
	Err error
}

func (e *PersistenceFault) Error() string {
	return fmt.Sprintf("persistence fault during %s: %v", e.Op, e.Err)
}

func (e *PersistenceFault) Unwrap() error {
	return e.Err
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsInsufficientData(err error) bool {
	var v *InsufficientDataError
	return errors.As(err, &v)
}
