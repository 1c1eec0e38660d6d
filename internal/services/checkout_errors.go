package services

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks input the cashier can correct: bad tender amounts, invalid gate transitions.
	ErrValidation = errors.New("checkout: validation failed")
	// ErrStaleResult is returned when an asynchronous result was computed for an older cart revision.
	ErrStaleResult = errors.New("checkout: stale result")
	// ErrExternalUnavailable wraps failures of remote collaborators such as catalog or promotions.
	ErrExternalUnavailable = errors.New("checkout: external dependency unavailable")
	// ErrShiftAlreadyClosed is returned when a closed shift is closed again.
	ErrShiftAlreadyClosed = errors.New("shift drawer: shift already closed")
	// ErrShiftNotOpen indicates the station has no open shift.
	ErrShiftNotOpen = errors.New("shift drawer: no open shift")
	// ErrShiftAlreadyOpen indicates the station already has an open shift.
	ErrShiftAlreadyOpen = errors.New("shift drawer: shift already open")
	// ErrProductNotFound indicates the catalog has no product for the scanned code.
	ErrProductNotFound = errors.New("catalog: product not found")
	// ErrHeldTransactionNotFound indicates no held transaction exists for the id.
	ErrHeldTransactionNotFound = errors.New("checkout: held transaction not found")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ErrValidation.Error()
	}
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation.Error(), e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", ErrValidation.Error(), e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) match every ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func validationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a validation failure and returns its details when typed.
func IsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	if errors.Is(err, ErrValidation) {
		return &ValidationError{Reason: err.Error()}, true
	}
	return nil, false
}
