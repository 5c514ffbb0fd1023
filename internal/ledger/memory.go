package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"adstudio/internal/domain"
)

// MemoryStore keeps the ledger in process memory. It backs tests and local
// development without Postgres.
type MemoryStore struct {
	mu           sync.Mutex
	accounts     map[string]*domain.Account
	reservations map[string]*domain.Reservation
	entries      map[string][]domain.LedgerEntry
	now          func() time.Time
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[string]*domain.Account),
		reservations: make(map[string]*domain.Reservation),
		entries:      make(map[string][]domain.LedgerEntry),
		now:          time.Now,
	}
}

func (m *MemoryStore) CreateAccount(_ context.Context, accountID string, balance int64) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[accountID]; ok {
		return nil, domain.ErrAccountExists
	}
	now := m.now()
	acct := &domain.Account{ID: accountID, Balance: balance, CreatedAt: now, UpdatedAt: now}
	m.accounts[accountID] = acct
	if balance > 0 {
		m.appendEntry(acct, balance, "opening balance", "")
	}
	out := *acct
	return &out, nil
}

func (m *MemoryStore) Account(_ context.Context, accountID string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[accountID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *acct
	return &out, nil
}

// Debit holds amount against the balance under reservationID.
func (m *MemoryStore) Debit(_ context.Context, accountID string, amount int64, reservationID string) (*domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[accountID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if acct.Frozen {
		return nil, domain.ErrAccountFrozen
	}
	if acct.Balance < amount {
		return nil, domain.ErrInsufficientCredits
	}
	if _, dup := m.reservations[reservationID]; dup {
		return nil, fmt.Errorf("reservation %s already exists", reservationID)
	}
	acct.Balance -= amount
	acct.Version++
	acct.UpdatedAt = m.now()

	res := &domain.Reservation{
		ID:        reservationID,
		AccountID: accountID,
		Amount:    amount,
		Status:    domain.ReservationHeld,
		CreatedAt: acct.UpdatedAt,
	}
	m.reservations[reservationID] = res
	m.appendEntry(acct, -amount, "reserve", reservationID)
	out := *res
	return &out, nil
}

// Settle moves a held reservation to status, crediting refunds back.
func (m *MemoryStore) Settle(_ context.Context, reservationID string, status domain.ReservationStatus) (*domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.reservations[reservationID]
	if !ok || res.Settled() {
		return nil, domain.ErrUnknownReservation
	}
	now := m.now()
	res.Status = status
	res.SettledAt = &now
	if status == domain.ReservationRefunded {
		acct := m.accounts[res.AccountID]
		acct.Balance += res.Amount
		acct.Version++
		acct.UpdatedAt = now
		m.appendEntry(acct, res.Amount, "refund", reservationID)
	}
	out := *res
	return &out, nil
}

func (m *MemoryStore) Adjust(_ context.Context, accountID string, delta int64, reason string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[accountID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if acct.Frozen {
		return nil, domain.ErrAccountFrozen
	}
	next := acct.Balance + delta
	if next < 0 {
		next = 0
	}
	applied := next - acct.Balance
	acct.Balance = next
	acct.Version++
	acct.UpdatedAt = m.now()
	m.appendEntry(acct, applied, adjustReason(reason), "")
	out := *acct
	return &out, nil
}

func (m *MemoryStore) Reservation(_ context.Context, reservationID string) (*domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.reservations[reservationID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *res
	return &out, nil
}

func (m *MemoryStore) SetFrozen(_ context.Context, accountID string, frozen bool, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[accountID]
	if !ok {
		return domain.ErrNotFound
	}
	acct.Frozen = frozen
	acct.FrozenReason = reason
	acct.Version++
	acct.UpdatedAt = m.now()
	return nil
}

// Entries returns at most MaxEntries of the newest audit entries, oldest
// first.
func (m *MemoryStore) Entries(_ context.Context, accountID string) ([]domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.entries[accountID]
	if len(entries) > MaxEntries {
		entries = entries[len(entries)-MaxEntries:]
	}
	return append([]domain.LedgerEntry(nil), entries...), nil
}

func (m *MemoryStore) appendEntry(acct *domain.Account, delta int64, reason, reservationID string) {
	m.entries[acct.ID] = append(m.entries[acct.ID], domain.LedgerEntry{
		ID:            uuid.NewString(),
		AccountID:     acct.ID,
		Delta:         delta,
		BalanceAfter:  acct.Balance,
		Reason:        reason,
		ReservationID: reservationID,
		CreatedAt:     acct.UpdatedAt,
	})
}

func adjustReason(reason string) string {
	if reason == "" {
		return "adjust"
	}
	return "adjust: " + reason
}

var _ Store = (*MemoryStore)(nil)
