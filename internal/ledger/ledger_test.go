package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"adstudio/internal/domain"
	"adstudio/internal/lock"
	"adstudio/internal/metrics"
)

func newService(t *testing.T, balance int64) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	svc := New(store, lock.NewLocalLocker(), WithMetrics(metrics.New(prometheus.NewRegistry())))
	_, err := svc.OpenAccount(context.Background(), "acct-1", balance)
	require.NoError(t, err)
	return svc, store
}

func balanceOf(t *testing.T, svc *Service, id string) int64 {
	t.Helper()
	acct, err := svc.Balance(context.Background(), id)
	require.NoError(t, err)
	return acct.Balance
}

func TestReserveDebitsBalance(t *testing.T) {
	svc, _ := newService(t, 100)
	res, err := svc.Reserve(context.Background(), "acct-1", 5)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationHeld, res.Status)
	assert.Equal(t, int64(95), balanceOf(t, svc, "acct-1"))
}

func TestReserveInsufficientLeavesBalance(t *testing.T) {
	svc, _ := newService(t, 10)
	_, err := svc.Reserve(context.Background(), "acct-1", 50)
	require.ErrorIs(t, err, domain.ErrInsufficientCredits)
	assert.Equal(t, int64(10), balanceOf(t, svc, "acct-1"))
}

func TestReserveUnknownAccount(t *testing.T) {
	svc, _ := newService(t, 10)
	_, err := svc.Reserve(context.Background(), "ghost", 1)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReserveRejectsNegativeAmount(t *testing.T) {
	svc, _ := newService(t, 10)
	_, err := svc.Reserve(context.Background(), "acct-1", -1)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestCommitKeepsDebit(t *testing.T) {
	svc, _ := newService(t, 100)
	ctx := context.Background()
	res, err := svc.Reserve(ctx, "acct-1", 5)
	require.NoError(t, err)

	require.NoError(t, svc.Commit(ctx, res.ID))
	assert.Equal(t, int64(95), balanceOf(t, svc, "acct-1"))

	got, err := svc.Reservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationCommitted, got.Status)
	assert.NotNil(t, got.SettledAt)
}

func TestRefundRestoresBalanceOnce(t *testing.T) {
	svc, _ := newService(t, 100)
	ctx := context.Background()
	res, err := svc.Reserve(ctx, "acct-1", 50)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balanceOf(t, svc, "acct-1"))

	require.NoError(t, svc.Refund(ctx, res.ID))
	assert.Equal(t, int64(100), balanceOf(t, svc, "acct-1"))

	err = svc.Refund(ctx, res.ID)
	require.ErrorIs(t, err, domain.ErrUnknownReservation)
	assert.Equal(t, int64(100), balanceOf(t, svc, "acct-1"))

	err = svc.Commit(ctx, res.ID)
	require.ErrorIs(t, err, domain.ErrUnknownReservation)
}

func TestCommitTwiceRejected(t *testing.T) {
	svc, _ := newService(t, 100)
	ctx := context.Background()
	res, err := svc.Reserve(ctx, "acct-1", 5)
	require.NoError(t, err)

	require.NoError(t, svc.Commit(ctx, res.ID))
	require.ErrorIs(t, svc.Commit(ctx, res.ID), domain.ErrUnknownReservation)
	require.ErrorIs(t, svc.Refund(ctx, res.ID), domain.ErrUnknownReservation)
	assert.Equal(t, int64(95), balanceOf(t, svc, "acct-1"))
}

func TestSettleUnknownToken(t *testing.T) {
	svc, _ := newService(t, 100)
	ctx := context.Background()
	require.ErrorIs(t, svc.Commit(ctx, "not-a-token"), domain.ErrUnknownReservation)
	require.ErrorIs(t, svc.Refund(ctx, "6f1c2f9e-5a7a-4a44-9f40-2a9a5d6f8c11"), domain.ErrUnknownReservation)
}

func TestAdjustClampsAtZero(t *testing.T) {
	svc, store := newService(t, 30)
	ctx := context.Background()

	acct, err := svc.Adjust(ctx, "acct-1", 20, "promo")
	require.NoError(t, err)
	assert.Equal(t, int64(50), acct.Balance)

	acct, err = svc.Adjust(ctx, "acct-1", -80, "chargeback")
	require.NoError(t, err)
	assert.Equal(t, int64(0), acct.Balance)

	entries, err := store.Entries(ctx, "acct-1")
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, int64(-50), last.Delta)
	assert.Equal(t, "adjust: chargeback", last.Reason)
}

func TestFreezeBlocksReserveButAllowsSettlement(t *testing.T) {
	svc, _ := newService(t, 100)
	ctx := context.Background()
	held, err := svc.Reserve(ctx, "acct-1", 10)
	require.NoError(t, err)

	require.NoError(t, svc.Freeze(ctx, "acct-1", "double settlement"))

	_, err = svc.Reserve(ctx, "acct-1", 1)
	require.ErrorIs(t, err, domain.ErrAccountFrozen)
	_, err = svc.Adjust(ctx, "acct-1", 5, "grant")
	require.ErrorIs(t, err, domain.ErrAccountFrozen)

	require.NoError(t, svc.Refund(ctx, held.ID))
	assert.Equal(t, int64(100), balanceOf(t, svc, "acct-1"))

	require.NoError(t, svc.Unfreeze(ctx, "acct-1"))
	_, err = svc.Reserve(ctx, "acct-1", 1)
	require.NoError(t, err)
}

func TestOpenAccountTwice(t *testing.T) {
	svc, _ := newService(t, 100)
	_, err := svc.OpenAccount(context.Background(), "acct-1", 5)
	require.ErrorIs(t, err, domain.ErrAccountExists)
}

func TestEnsureAccountOpensOnce(t *testing.T) {
	svc, _ := newService(t, 100)
	ctx := context.Background()

	acct, err := svc.EnsureAccount(ctx, "acct-2", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), acct.Balance)

	_, err = svc.Reserve(ctx, "acct-2", 40)
	require.NoError(t, err)

	acct, err = svc.EnsureAccount(ctx, "acct-2", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(60), acct.Balance)
}

func TestConcurrentReservesAdmitFloorBalanceOverCost(t *testing.T) {
	const (
		balance = int64(100)
		cost    = int64(7)
		callers = 40
	)
	svc, store := newService(t, balance)

	var admitted, rejected int64
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			_, err := svc.Reserve(context.Background(), "acct-1", cost)
			switch {
			case err == nil:
				atomic.AddInt64(&admitted, 1)
			case errors.Is(err, domain.ErrInsufficientCredits):
				atomic.AddInt64(&rejected, 1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, balance/cost, admitted)
	assert.Equal(t, callers-balance/cost, rejected)
	assert.Equal(t, balance-(balance/cost)*cost, balanceOf(t, svc, "acct-1"))

	entries, err := store.Entries(context.Background(), "acct-1")
	require.NoError(t, err)
	var sum int64
	for _, e := range entries {
		assert.GreaterOrEqual(t, e.BalanceAfter, int64(0))
		sum += e.Delta
	}
	assert.Equal(t, balanceOf(t, svc, "acct-1"), sum)
}

func TestConcurrentRefundsCreditOnce(t *testing.T) {
	svc, _ := newService(t, 100)
	ctx := context.Background()
	res, err := svc.Reserve(ctx, "acct-1", 50)
	require.NoError(t, err)

	var ok int64
	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			err := svc.Refund(ctx, res.ID)
			if err == nil {
				atomic.AddInt64(&ok, 1)
				return nil
			}
			if errors.Is(err, domain.ErrUnknownReservation) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(1), ok)
	assert.Equal(t, int64(100), balanceOf(t, svc, "acct-1"))
}

func TestEntriesKeepsNewest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := New(store, lock.NewLocalLocker())
	_, err := svc.OpenAccount(ctx, "acct-1", 0)
	require.NoError(t, err)
	for i := range MaxEntries + 5 {
		_, err := svc.Adjust(ctx, "acct-1", 1, fmt.Sprintf("grant %d", i))
		require.NoError(t, err)
	}

	entries, err := svc.Entries(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, entries, MaxEntries)
	last := entries[len(entries)-1]
	assert.Equal(t, fmt.Sprintf("adjust: grant %d", MaxEntries+4), last.Reason)
	assert.Equal(t, int64(MaxEntries+5), last.BalanceAfter)
	assert.Equal(t, last.BalanceAfter-int64(MaxEntries)+1, entries[0].BalanceAfter)
}
