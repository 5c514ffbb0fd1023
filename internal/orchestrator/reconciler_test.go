package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adstudio/internal/domain"
)

// strand reserves credits and creates a job the way Run does, then stops,
// leaving the work a crashed process would leave.
func strand(t *testing.T, h *harness, kind domain.JobKind, cost int64) *domain.GenerationJob {
	t.Helper()
	ctx := context.Background()
	res, err := h.ledger.Reserve(ctx, account, cost)
	require.NoError(t, err)
	job, err := h.jobs.Create(ctx, domain.NewJob{
		AccountID:     account,
		Kind:          kind,
		ReservationID: res.ID,
		ReservedCost:  cost,
	})
	require.NoError(t, err)
	return job
}

func TestSweepFailsAndRefundsStaleJobOnce(t *testing.T) {
	h := newHarness(t, 100)
	h.jobs.SetClock(func() time.Time { return time.Now().Add(-time.Hour) })
	job := strand(t, h, domain.JobKindVideo, 50)
	h.jobs.SetClock(time.Now)
	require.Equal(t, int64(50), h.balance(t))

	rec := h.reconciler(ReconcilerOptions{StaleAfter: 10 * time.Minute})
	report, err := rec.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stale)
	assert.Equal(t, 1, report.Refunded)

	got, err := h.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateFailed, got.State)
	assert.Equal(t, domain.ErrStaleJob.Error(), got.FailureReason)
	assert.Equal(t, int64(100), h.balance(t))

	report, err = rec.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Stale)
	assert.Zero(t, report.Refunded)
	assert.Equal(t, int64(100), h.balance(t))
}

func TestSweepLeavesFreshJobs(t *testing.T) {
	h := newHarness(t, 100)
	job := strand(t, h, domain.JobKindImage, 5)

	report, err := h.reconciler(ReconcilerOptions{StaleAfter: 10 * time.Minute}).Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Stale)

	got, err := h.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatePending, got.State)
	assert.Equal(t, int64(95), h.balance(t))
}

func TestSweepFinishesOwedCommit(t *testing.T) {
	h := newHarness(t, 100)
	job := strand(t, h, domain.JobKindImage, 5)
	_, err := h.jobs.MarkCompleted(context.Background(), job.ID, "https://cdn.test/a.png")
	require.NoError(t, err)

	rec := h.reconciler(ReconcilerOptions{})
	report, err := rec.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Committed)
	assert.Equal(t, domain.ReservationCommitted, h.reservation(t, job.ReservationID).Status)
	assert.Equal(t, int64(95), h.balance(t))

	report, err = rec.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Committed)
	assert.Equal(t, 1, report.Skipped)
}

func TestSweepFinishesOwedRefund(t *testing.T) {
	h := newHarness(t, 100)
	job := strand(t, h, domain.JobKindVoiceover, 10)
	_, err := h.jobs.MarkFailed(context.Background(), job.ID, "provider elevenlabs: status 500")
	require.NoError(t, err)

	report, err := h.reconciler(ReconcilerOptions{}).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Refunded)
	assert.Equal(t, int64(100), h.balance(t))
}

func TestSweepReachesOwedJobPastFullPages(t *testing.T) {
	h := newHarness(t, 1000)
	o := h.orchestrator(succeed("https://cdn.test/a.png"))
	for range 12 {
		_, err := o.Run(context.Background(), account, domain.JobKindImage, nil)
		require.NoError(t, err)
	}
	owed := strand(t, h, domain.JobKindVoiceover, 10)
	_, err := h.jobs.MarkFailed(context.Background(), owed.ID, "provider elevenlabs: status 500")
	require.NoError(t, err)
	require.Equal(t, int64(1000-12*5-10), h.balance(t))

	rec := h.reconciler(ReconcilerOptions{BatchSize: 5})
	report, err := rec.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Refunded)
	assert.Equal(t, 12, report.Skipped)
	assert.Equal(t, domain.ReservationRefunded, h.reservation(t, owed.ReservationID).Status)
	assert.Equal(t, int64(1000-12*5), h.balance(t))

	report, err = rec.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Refunded)
	assert.Equal(t, int64(1000-12*5), h.balance(t))
}

func TestSweepRespectsSettleGrace(t *testing.T) {
	h := newHarness(t, 100)
	job := strand(t, h, domain.JobKindImage, 5)
	_, err := h.jobs.MarkCompleted(context.Background(), job.ID, "https://cdn.test/a.png")
	require.NoError(t, err)

	report, err := h.reconciler(ReconcilerOptions{SettleGrace: time.Minute}).Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Committed)
	assert.Equal(t, domain.ReservationHeld, h.reservation(t, job.ReservationID).Status)
}

func TestSweepAlertsOnMismatchedSettlementOnce(t *testing.T) {
	h := newHarness(t, 100)
	job := strand(t, h, domain.JobKindImage, 5)
	_, err := h.jobs.MarkCompleted(context.Background(), job.ID, "https://cdn.test/a.png")
	require.NoError(t, err)
	require.NoError(t, h.ledger.Refund(context.Background(), job.ReservationID))

	rec := h.reconciler(ReconcilerOptions{})
	report, err := rec.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Faults)

	acct, err := h.ledger.Balance(context.Background(), account)
	require.NoError(t, err)
	assert.True(t, acct.Frozen)

	require.NoError(t, h.ledger.Unfreeze(context.Background(), account))
	report, err = rec.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Faults)

	acct, err = h.ledger.Balance(context.Background(), account)
	require.NoError(t, err)
	assert.False(t, acct.Frozen)
}

func TestReconcilerRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, 100)
	h.jobs.SetClock(func() time.Time { return time.Now().Add(-time.Hour) })
	strand(t, h, domain.JobKindImage, 5)
	h.jobs.SetClock(time.Now)

	rec := h.reconciler(ReconcilerOptions{Interval: 10 * time.Millisecond, StaleAfter: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	require.Eventually(t, func() bool { return h.balance(t) == 100 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}
