package domain

import (
	"context"
	"time"
)

// Ledger owns every balance mutation for an account.
type Ledger interface {
	OpenAccount(ctx context.Context, accountID string, startingBalance int64) (*Account, error)
	Balance(ctx context.Context, accountID string) (*Account, error)
	Reserve(ctx context.Context, accountID string, amount int64) (*Reservation, error)
	Commit(ctx context.Context, reservationID string) error
	Refund(ctx context.Context, reservationID string) error
	Adjust(ctx context.Context, accountID string, delta int64, reason string) (*Account, error)
	Reservation(ctx context.Context, reservationID string) (*Reservation, error)
	Freeze(ctx context.Context, accountID, reason string) error
	Unfreeze(ctx context.Context, accountID string) error
}

// JobStore persists generation jobs and their state transitions.
type JobStore interface {
	Create(ctx context.Context, job NewJob) (*GenerationJob, error)
	Get(ctx context.Context, jobID string) (*GenerationJob, error)
	MarkProcessing(ctx context.Context, jobID string) (*GenerationJob, error)
	MarkCompleted(ctx context.Context, jobID, artifact string) (*GenerationJob, error)
	MarkFailed(ctx context.Context, jobID, reason string) (*GenerationJob, error)
	ListByAccount(ctx context.Context, accountID string, filter JobFilter) ([]GenerationJob, error)
	ListStale(ctx context.Context, before time.Time, limit int) ([]GenerationJob, error)
	// ListTerminal pages through settled jobs ordered by (settled_at, id),
	// returning those strictly after the cursor. Stores that can see the
	// ledger may omit jobs whose reservation already has the status the
	// job's state implies.
	ListTerminal(ctx context.Context, after SettledCursor, limit int) ([]GenerationJob, error)
}

// SettledCursor is a keyset position over terminal jobs. The zero ID sorts
// before every job settled at SettledAt.
type SettledCursor struct {
	SettledAt time.Time
	ID        string
}

// CursorAfter positions a cursor just past job.
func CursorAfter(job *GenerationJob) SettledCursor {
	c := SettledCursor{ID: job.ID}
	if job.SettledAt != nil {
		c.SettledAt = *job.SettledAt
	}
	return c
}

// Before reports whether job sorts strictly after the cursor.
func (c SettledCursor) Before(job *GenerationJob) bool {
	if job.SettledAt == nil {
		return false
	}
	if !job.SettledAt.Equal(c.SettledAt) {
		return job.SettledAt.After(c.SettledAt)
	}
	return job.ID > c.ID
}

// JobFilter narrows history listings.
type JobFilter struct {
	Kinds  []JobKind
	Limit  int
	Offset int
}

// Normalize applies paging defaults.
func (f JobFilter) Normalize() JobFilter {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
