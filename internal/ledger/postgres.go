package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"adstudio/internal/domain"
	"adstudio/internal/infra"
	"adstudio/internal/sqlinline"
)

// PostgresStore keeps the ledger in Postgres. Every mutation runs in a
// transaction holding the account row lock, and the accounts table rejects
// negative balances with a CHECK constraint.
type PostgresStore struct {
	db infra.TxExecutor
}

// NewPostgresStore returns a store running on db.
func NewPostgresStore(db infra.TxExecutor) *PostgresStore {
	return &PostgresStore{db: db}
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var acct domain.Account
	if err := row.Scan(&acct.ID, &acct.Balance, &acct.Version, &acct.Frozen, &acct.FrozenReason, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		return nil, err
	}
	return &acct, nil
}

func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	var (
		res    domain.Reservation
		status string
	)
	if err := row.Scan(&res.ID, &res.AccountID, &res.Amount, &status, &res.CreatedAt, &res.SettledAt); err != nil {
		return nil, err
	}
	res.Status = domain.ReservationStatus(status)
	return &res, nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, accountID string, balance int64) (*domain.Account, error) {
	var acct *domain.Account
	err := s.db.WithTx(ctx, func(tx infra.SQLExecutor) error {
		var err error
		acct, err = scanAccount(tx.QueryRow(ctx, sqlinline.QInsertAccount, accountID, balance))
		if err != nil {
			if infra.IsNoRows(err) || infra.IsUniqueViolation(err) {
				return domain.ErrAccountExists
			}
			return fmt.Errorf("insert account: %w", err)
		}
		if balance > 0 {
			if _, err := tx.Exec(ctx, sqlinline.QInsertLedgerEntry, accountID, balance, balance, "opening balance", ""); err != nil {
				return fmt.Errorf("insert opening entry: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (s *PostgresStore) Account(ctx context.Context, accountID string) (*domain.Account, error) {
	acct, err := scanAccount(s.db.QueryRow(ctx, sqlinline.QSelectAccount, accountID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select account: %w", err)
	}
	return acct, nil
}

func lockAccount(ctx context.Context, tx infra.SQLExecutor, accountID string) (*domain.Account, error) {
	acct, err := scanAccount(tx.QueryRow(ctx, sqlinline.QLockAccount, accountID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("lock account: %w", err)
	}
	return acct, nil
}

func setBalance(ctx context.Context, tx infra.SQLExecutor, accountID string, balance int64) (*domain.Account, error) {
	acct, err := scanAccount(tx.QueryRow(ctx, sqlinline.QSetAccountBalance, accountID, balance))
	if err != nil {
		if infra.IsCheckViolation(err) {
			return nil, domain.ErrInsufficientCredits
		}
		return nil, fmt.Errorf("update balance: %w", err)
	}
	return acct, nil
}

func (s *PostgresStore) Debit(ctx context.Context, accountID string, amount int64, reservationID string) (*domain.Reservation, error) {
	var res *domain.Reservation
	err := s.db.WithTx(ctx, func(tx infra.SQLExecutor) error {
		acct, err := lockAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if acct.Frozen {
			return domain.ErrAccountFrozen
		}
		if acct.Balance < amount {
			return domain.ErrInsufficientCredits
		}
		updated, err := setBalance(ctx, tx, accountID, acct.Balance-amount)
		if err != nil {
			return err
		}

		var createdAt time.Time
		if err := tx.QueryRow(ctx, sqlinline.QInsertReservation, reservationID, accountID, amount).Scan(&createdAt); err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
		if _, err := tx.Exec(ctx, sqlinline.QInsertLedgerEntry, accountID, -amount, updated.Balance, "reserve", reservationID); err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}
		res = &domain.Reservation{
			ID:        reservationID,
			AccountID: accountID,
			Amount:    amount,
			Status:    domain.ReservationHeld,
			CreatedAt: createdAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *PostgresStore) Settle(ctx context.Context, reservationID string, status domain.ReservationStatus) (*domain.Reservation, error) {
	var res *domain.Reservation
	err := s.db.WithTx(ctx, func(tx infra.SQLExecutor) error {
		var (
			accountID string
			amount    int64
		)
		err := tx.QueryRow(ctx, sqlinline.QSettleReservation, reservationID, string(status)).Scan(&accountID, &amount)
		if err != nil {
			if infra.IsNoRows(err) {
				return domain.ErrUnknownReservation
			}
			return fmt.Errorf("settle reservation: %w", err)
		}

		if status == domain.ReservationRefunded {
			acct, err := lockAccount(ctx, tx, accountID)
			if err != nil {
				return err
			}
			updated, err := setBalance(ctx, tx, accountID, acct.Balance+amount)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, sqlinline.QInsertLedgerEntry, accountID, amount, updated.Balance, "refund", reservationID); err != nil {
				return fmt.Errorf("insert ledger entry: %w", err)
			}
		}

		res, err = scanReservation(tx.QueryRow(ctx, sqlinline.QSelectReservation, reservationID))
		if err != nil {
			return fmt.Errorf("reload reservation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *PostgresStore) Adjust(ctx context.Context, accountID string, delta int64, reason string) (*domain.Account, error) {
	var acct *domain.Account
	err := s.db.WithTx(ctx, func(tx infra.SQLExecutor) error {
		current, err := lockAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if current.Frozen {
			return domain.ErrAccountFrozen
		}
		next := current.Balance + delta
		if next < 0 {
			next = 0
		}
		acct, err = setBalance(ctx, tx, accountID, next)
		if err != nil {
			return err
		}
		applied := next - current.Balance
		if _, err := tx.Exec(ctx, sqlinline.QInsertLedgerEntry, accountID, applied, next, adjustReason(reason), ""); err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (s *PostgresStore) Reservation(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	res, err := scanReservation(s.db.QueryRow(ctx, sqlinline.QSelectReservation, reservationID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select reservation: %w", err)
	}
	return res, nil
}

func (s *PostgresStore) SetFrozen(ctx context.Context, accountID string, frozen bool, reason string) error {
	tag, err := s.db.Exec(ctx, sqlinline.QSetAccountFrozen, accountID, frozen, reason)
	if err != nil {
		return fmt.Errorf("set frozen: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Entries returns at most MaxEntries of the newest audit entries, oldest
// first.
func (s *PostgresStore) Entries(ctx context.Context, accountID string) ([]domain.LedgerEntry, error) {
	rows, err := s.db.Query(ctx, sqlinline.QListLedgerEntries, accountID, MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Delta, &e.BalanceAfter, &e.Reason, &e.ReservationID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return out, nil
}

var _ Store = (*PostgresStore)(nil)
