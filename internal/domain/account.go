package domain

import "time"

// Account holds a user's spendable credit balance.
type Account struct {
	ID           string
	Balance      int64
	Version      int64
	Frozen       bool
	FrozenReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ReservationStatus enumerates reservation outcomes.
type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "held"
	ReservationCommitted ReservationStatus = "committed"
	ReservationRefunded  ReservationStatus = "refunded"
)

// Reservation is a debit of credits tied to one in-flight job.
type Reservation struct {
	ID        string
	AccountID string
	Amount    int64
	Status    ReservationStatus
	CreatedAt time.Time
	SettledAt *time.Time
}

// Settled reports whether commit or refund has already been applied.
func (r Reservation) Settled() bool {
	return r.Status != ReservationHeld
}

// LedgerEntry is an audit line for every balance movement.
type LedgerEntry struct {
	ID            string
	AccountID     string
	Delta         int64
	BalanceAfter  int64
	Reason        string
	ReservationID string
	CreatedAt     time.Time
}
