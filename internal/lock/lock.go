// Package lock serializes ledger mutations per account.
package lock

import (
	"context"
	"errors"
)

// ErrNotAcquired is returned when a lock could not be taken before the
// context expired.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker grants exclusive access to a key. The returned release func must be
// called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// AccountKey namespaces the lock key for an account balance.
func AccountKey(accountID string) string {
	return "ledger:account:" + accountID
}
