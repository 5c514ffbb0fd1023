// Package ledger owns every credit balance mutation. Reserve, Commit, Refund
// and Adjust for one account are serialized through a lock.Locker, so the
// balance never goes negative and no update is lost under concurrent requests.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"adstudio/internal/domain"
	"adstudio/internal/lock"
	"adstudio/internal/metrics"
)

// Service is the ledger. It owns every balance mutation and serializes
// them per account through a lock.Locker.
type Service struct {
	store   Store
	locker  lock.Locker
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger for ledger events.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics records ledger operations on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New builds a Service over store. A nil locker falls back to an
// in-process LocalLocker.
func New(store Store, locker lock.Locker, opts ...Option) *Service {
	s := &Service{store: store, locker: locker, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.locker == nil {
		s.locker = lock.NewLocalLocker()
	}
	return s
}

func (s *Service) withAccount(ctx context.Context, accountID string, fn func() error) error {
	release, err := s.locker.Lock(ctx, lock.AccountKey(accountID))
	if err != nil {
		return fmt.Errorf("lock account %s: %w", accountID, err)
	}
	defer release()
	return fn()
}

// OpenAccount creates an account with startingBalance credits.
func (s *Service) OpenAccount(ctx context.Context, accountID string, startingBalance int64) (*domain.Account, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id is required", domain.ErrInvalidAmount)
	}
	if startingBalance < 0 {
		return nil, fmt.Errorf("%w: starting balance %d", domain.ErrInvalidAmount, startingBalance)
	}
	var acct *domain.Account
	err := s.withAccount(ctx, accountID, func() error {
		var err error
		acct, err = s.store.CreateAccount(ctx, accountID, startingBalance)
		return err
	})
	s.metrics.LedgerOp("open", err, startingBalance)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("account_id", accountID).Int64("balance", startingBalance).Msg("account opened")
	return acct, nil
}

// EnsureAccount returns the account, opening it with startingBalance on
// first use.
func (s *Service) EnsureAccount(ctx context.Context, accountID string, startingBalance int64) (*domain.Account, error) {
	acct, err := s.store.Account(ctx, accountID)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	acct, err = s.OpenAccount(ctx, accountID, startingBalance)
	if errors.Is(err, domain.ErrAccountExists) {
		return s.store.Account(ctx, accountID)
	}
	return acct, err
}

// Balance returns the account, including its freeze state.
func (s *Service) Balance(ctx context.Context, accountID string) (*domain.Account, error) {
	return s.store.Account(ctx, accountID)
}

// Reserve debits amount and returns a held reservation. It fails with
// domain.ErrInsufficientCredits when the balance is short and
// domain.ErrAccountFrozen when the account is frozen.
func (s *Service) Reserve(ctx context.Context, accountID string, amount int64) (*domain.Reservation, error) {
	if amount < 0 {
		return nil, fmt.Errorf("%w: reserve %d", domain.ErrInvalidAmount, amount)
	}
	var res *domain.Reservation
	err := s.withAccount(ctx, accountID, func() error {
		var err error
		res, err = s.store.Debit(ctx, accountID, amount, uuid.NewString())
		return err
	})
	s.metrics.LedgerOp("reserve", err, amount)
	if err != nil {
		s.logger.Debug().Err(err).Str("account_id", accountID).Int64("amount", amount).Msg("reserve rejected")
		return nil, err
	}
	s.logger.Debug().Str("account_id", accountID).Str("reservation_id", res.ID).Int64("amount", amount).Msg("credits reserved")
	return res, nil
}

// Commit finalizes a held reservation without moving credits.
func (s *Service) Commit(ctx context.Context, reservationID string) error {
	_, err := s.settle(ctx, reservationID, domain.ReservationCommitted)
	return err
}

// Refund returns a held reservation's credits to its account. A
// reservation that is not held yields domain.ErrUnknownReservation.
func (s *Service) Refund(ctx context.Context, reservationID string) error {
	_, err := s.settle(ctx, reservationID, domain.ReservationRefunded)
	return err
}

func (s *Service) settle(ctx context.Context, reservationID string, status domain.ReservationStatus) (*domain.Reservation, error) {
	op := "commit"
	if status == domain.ReservationRefunded {
		op = "refund"
	}
	if _, err := uuid.Parse(reservationID); err != nil {
		s.metrics.LedgerOp(op, domain.ErrUnknownReservation, 0)
		return nil, fmt.Errorf("%w: malformed token %q", domain.ErrUnknownReservation, reservationID)
	}

	current, err := s.store.Reservation(ctx, reservationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			err = fmt.Errorf("%w: %s", domain.ErrUnknownReservation, reservationID)
		}
		s.metrics.LedgerOp(op, err, 0)
		return nil, err
	}

	var res *domain.Reservation
	err = s.withAccount(ctx, current.AccountID, func() error {
		var err error
		res, err = s.store.Settle(ctx, reservationID, status)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrUnknownReservation) {
			err = fmt.Errorf("%w: %s already %s", domain.ErrUnknownReservation, reservationID, current.Status)
		}
		s.metrics.LedgerOp(op, err, 0)
		return nil, err
	}
	s.metrics.LedgerOp(op, nil, res.Amount)
	s.logger.Debug().Str("account_id", res.AccountID).Str("reservation_id", reservationID).Str("status", string(res.Status)).Msg("reservation settled")
	return res, nil
}

// Adjust applies an administrative delta, clamping the balance at zero,
// and records reason in the audit trail.
func (s *Service) Adjust(ctx context.Context, accountID string, delta int64, reason string) (*domain.Account, error) {
	var acct *domain.Account
	err := s.withAccount(ctx, accountID, func() error {
		var err error
		acct, err = s.store.Adjust(ctx, accountID, delta, reason)
		return err
	})
	s.metrics.LedgerOp("adjust", err, 0)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("account_id", accountID).Int64("delta", delta).Int64("balance", acct.Balance).Str("reason", reason).Msg("balance adjusted")
	return acct, nil
}

// Reservation looks up a reservation by id.
func (s *Service) Reservation(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	if _, err := uuid.Parse(reservationID); err != nil {
		return nil, domain.ErrNotFound
	}
	return s.store.Reservation(ctx, reservationID)
}

// Freeze halts Reserve and Adjust on the account until Unfreeze. Held
// reservations can still be committed or refunded.
func (s *Service) Freeze(ctx context.Context, accountID, reason string) error {
	err := s.withAccount(ctx, accountID, func() error {
		return s.store.SetFrozen(ctx, accountID, true, reason)
	})
	s.metrics.LedgerOp("freeze", err, 0)
	if err != nil {
		return err
	}
	s.logger.Warn().Str("account_id", accountID).Str("reason", reason).Msg("account ledger frozen")
	return nil
}

// Unfreeze lifts a freeze set by Freeze.
func (s *Service) Unfreeze(ctx context.Context, accountID string) error {
	err := s.withAccount(ctx, accountID, func() error {
		return s.store.SetFrozen(ctx, accountID, false, "")
	})
	s.metrics.LedgerOp("unfreeze", err, 0)
	if err != nil {
		return err
	}
	s.logger.Info().Str("account_id", accountID).Msg("account ledger unfrozen")
	return nil
}

// Entries returns the account's audit trail, oldest first.
func (s *Service) Entries(ctx context.Context, accountID string) ([]domain.LedgerEntry, error) {
	return s.store.Entries(ctx, accountID)
}

var _ domain.Ledger = (*Service)(nil)
