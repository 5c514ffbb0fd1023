package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrUnknownReservation  = errors.New("unknown reservation")
	ErrStaleJob            = errors.New("stale job")
	ErrAccountFrozen       = errors.New("account ledger frozen")
	ErrAccountExists       = errors.New("account already exists")
	ErrJobSettled          = errors.New("job already settled")
	ErrInvalidTransition   = errors.New("invalid job state transition")
	ErrUnknownKind         = errors.New("unknown generation kind")
	ErrInvalidAmount       = errors.New("invalid amount")
)

// ProviderError reports any upstream generation failure.
type ProviderError struct {
	Kind     JobKind
	Provider string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
	}
	return "provider: " + e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// AsProviderError wraps err into a ProviderError unless it already is one.
func AsProviderError(kind JobKind, provider string, err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProviderError{Kind: kind, Provider: provider, Message: err.Error(), Err: err}
}

// IntegrityError marks a balance-integrity violation. It is never shown to
// end users.
type IntegrityError struct {
	AccountID     string
	ReservationID string
	Err           error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("ledger integrity violation on account %s (reservation %s): %v", e.AccountID, e.ReservationID, e.Err)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}
