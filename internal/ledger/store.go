package ledger

import (
	"context"

	"adstudio/internal/domain"
)

// MaxEntries caps how many audit entries Entries returns. The newest
// entries win.
const MaxEntries = 1000

// Store persists balances, reservations and the audit trail. Every method is
// atomic on its own; Service adds per-account serialization on top.
type Store interface {
	CreateAccount(ctx context.Context, accountID string, balance int64) (*domain.Account, error)
	Account(ctx context.Context, accountID string) (*domain.Account, error)
	// Debit lowers the balance by amount and records a held reservation.
	Debit(ctx context.Context, accountID string, amount int64, reservationID string) (*domain.Reservation, error)
	// Settle moves a held reservation to status, crediting the amount back on
	// refund. Non-held reservations yield domain.ErrUnknownReservation.
	Settle(ctx context.Context, reservationID string, status domain.ReservationStatus) (*domain.Reservation, error)
	Adjust(ctx context.Context, accountID string, delta int64, reason string) (*domain.Account, error)
	Reservation(ctx context.Context, reservationID string) (*domain.Reservation, error)
	SetFrozen(ctx context.Context, accountID string, frozen bool, reason string) error
	Entries(ctx context.Context, accountID string) ([]domain.LedgerEntry, error)
}
