package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"adstudio/internal/domain"
	"adstudio/internal/jobstore"
	"adstudio/internal/ledger"
	"adstudio/internal/lock"
	"adstudio/internal/metrics"
)

const account = "acct-1"

type providerFunc func(ctx context.Context, kind domain.JobKind, params domain.Parameters) (string, error)

func (f providerFunc) Execute(ctx context.Context, kind domain.JobKind, params domain.Parameters) (string, error) {
	return f(ctx, kind, params)
}

func succeed(artifact string) providerFunc {
	return func(context.Context, domain.JobKind, domain.Parameters) (string, error) { return artifact, nil }
}

type harness struct {
	ledger  *ledger.Service
	jobs    *jobstore.MemoryStore
	metrics *metrics.Metrics
}

func newHarness(t *testing.T, balance int64) *harness {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	svc := ledger.New(ledger.NewMemoryStore(), lock.NewLocalLocker(), ledger.WithMetrics(m))
	_, err := svc.OpenAccount(context.Background(), account, balance)
	require.NoError(t, err)
	return &harness{ledger: svc, jobs: jobstore.NewMemoryStore(), metrics: m}
}

func (h *harness) orchestrator(p Provider) *Orchestrator {
	return New(h.ledger, h.jobs, p, Options{Logger: zerolog.Nop(), Metrics: h.metrics})
}

func (h *harness) reconciler(opts ReconcilerOptions) *Reconciler {
	opts.Logger = zerolog.Nop()
	opts.Metrics = h.metrics
	return NewReconciler(h.ledger, h.jobs, opts)
}

func (h *harness) balance(t *testing.T) int64 {
	t.Helper()
	acct, err := h.ledger.Balance(context.Background(), account)
	require.NoError(t, err)
	return acct.Balance
}

func (h *harness) reservation(t *testing.T, id string) *domain.Reservation {
	t.Helper()
	res, err := h.ledger.Reservation(context.Background(), id)
	require.NoError(t, err)
	return res
}

func (h *harness) accountJobs(t *testing.T) []domain.GenerationJob {
	t.Helper()
	jobs, err := h.jobs.ListByAccount(context.Background(), account, domain.JobFilter{Limit: 100})
	require.NoError(t, err)
	return jobs
}

func TestRunSuccessCommits(t *testing.T) {
	h := newHarness(t, 100)
	o := h.orchestrator(succeed("https://cdn.test/out.png"))

	job, err := o.Run(context.Background(), account, domain.JobKindImage, domain.Parameters{"prompt": "kopi"})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCompleted, job.State)
	assert.Equal(t, "https://cdn.test/out.png", job.Artifact)
	assert.Equal(t, int64(5), job.ReservedCost)
	assert.NotNil(t, job.SettledAt)
	assert.Equal(t, int64(95), h.balance(t))
	assert.Equal(t, domain.ReservationCommitted, h.reservation(t, job.ReservationID).Status)
}

func TestRunProviderFailureRefunds(t *testing.T) {
	h := newHarness(t, 100)
	o := h.orchestrator(providerFunc(func(context.Context, domain.JobKind, domain.Parameters) (string, error) {
		return "", &domain.ProviderError{Kind: domain.JobKindVideo, Provider: "replicate", Message: "prediction failed"}
	}))

	job, err := o.Run(context.Background(), account, domain.JobKindVideo, domain.Parameters{"prompt": "ombak"})
	require.Error(t, err)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "prediction failed", pe.Message)

	assert.Equal(t, domain.JobStateFailed, job.State)
	assert.Contains(t, job.FailureReason, "prediction failed")
	assert.Same(t, job, runErr.Job)
	assert.Equal(t, int64(100), h.balance(t))
	assert.Equal(t, domain.ReservationRefunded, h.reservation(t, job.ReservationID).Status)
}

func TestRunPlainErrorBecomesProviderError(t *testing.T) {
	h := newHarness(t, 100)
	o := h.orchestrator(providerFunc(func(context.Context, domain.JobKind, domain.Parameters) (string, error) {
		return "", errors.New("connection reset")
	}))
	_, err := o.Run(context.Background(), account, domain.JobKindLogo, nil)
	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, int64(100), h.balance(t))
}

func TestRunInsufficientCreditsCreatesNoJob(t *testing.T) {
	h := newHarness(t, 30)
	called := false
	o := h.orchestrator(providerFunc(func(context.Context, domain.JobKind, domain.Parameters) (string, error) {
		called = true
		return "https://cdn.test/x", nil
	}))

	job, err := o.Run(context.Background(), account, domain.JobKindVideo, nil)
	require.ErrorIs(t, err, domain.ErrInsufficientCredits)
	assert.Nil(t, job)
	assert.False(t, called)
	assert.Equal(t, int64(30), h.balance(t))
	assert.Empty(t, h.accountJobs(t))
}

func TestRunUnknownKind(t *testing.T) {
	h := newHarness(t, 100)
	_, err := h.orchestrator(succeed("https://x")).Run(context.Background(), account, domain.JobKind("hologram"), nil)
	require.ErrorIs(t, err, domain.ErrUnknownKind)
	assert.Equal(t, int64(100), h.balance(t))
}

func TestRunFrozenAccountRejected(t *testing.T) {
	h := newHarness(t, 100)
	require.NoError(t, h.ledger.Freeze(context.Background(), account, "audit"))
	_, err := h.orchestrator(succeed("https://x")).Run(context.Background(), account, domain.JobKindImage, nil)
	require.ErrorIs(t, err, domain.ErrAccountFrozen)
	assert.Empty(t, h.accountJobs(t))
}

func TestRunLongRunningPassesThroughProcessing(t *testing.T) {
	h := newHarness(t, 200)
	var seen domain.JobState
	o := h.orchestrator(providerFunc(func(context.Context, domain.JobKind, domain.Parameters) (string, error) {
		jobs := h.accountJobs(t)
		require.Len(t, jobs, 1)
		seen = jobs[0].State
		return "https://cdn.test/presenter.mp4", nil
	}))

	job, err := o.Run(context.Background(), account, domain.JobKindPresenterVideo, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateProcessing, seen)
	assert.Equal(t, domain.JobStateCompleted, job.State)
	assert.Equal(t, int64(100), h.balance(t))
}

func TestRunShortKindStaysPendingDuringCall(t *testing.T) {
	h := newHarness(t, 100)
	var seen domain.JobState
	o := h.orchestrator(providerFunc(func(context.Context, domain.JobKind, domain.Parameters) (string, error) {
		seen = h.accountJobs(t)[0].State
		return "https://cdn.test/v.mp3", nil
	}))
	_, err := o.Run(context.Background(), account, domain.JobKindVoiceover, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatePending, seen)
}

func TestRunCancelledCallerStillSettles(t *testing.T) {
	h := newHarness(t, 100)
	ctx, cancel := context.WithCancel(context.Background())
	o := h.orchestrator(providerFunc(func(ctx context.Context, _ domain.JobKind, _ domain.Parameters) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	}))

	job, err := o.Run(ctx, account, domain.JobKindBanner, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, job)
	assert.Equal(t, domain.JobStateFailed, job.State)
	assert.Equal(t, int64(100), h.balance(t))
	assert.Equal(t, domain.ReservationRefunded, h.reservation(t, job.ReservationID).Status)
}

func TestRunConcurrentAdmitsFloorOfBalance(t *testing.T) {
	h := newHarness(t, 52)
	o := h.orchestrator(succeed("https://cdn.test/img.png"))

	var admitted, rejected atomic.Int64
	g, ctx := errgroup.WithContext(context.Background())
	for range 25 {
		g.Go(func() error {
			_, err := o.Run(ctx, account, domain.JobKindImage, nil)
			switch {
			case err == nil:
				admitted.Add(1)
			case errors.Is(err, domain.ErrInsufficientCredits):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(10), admitted.Load())
	assert.Equal(t, int64(15), rejected.Load())
	assert.Equal(t, int64(2), h.balance(t))
	assert.Len(t, h.accountJobs(t), 10)
}

func TestRunTerminalJobsSettleExactlyOnce(t *testing.T) {
	h := newHarness(t, 1000)
	var n atomic.Int64
	o := h.orchestrator(providerFunc(func(context.Context, domain.JobKind, domain.Parameters) (string, error) {
		if n.Add(1)%3 == 0 {
			return "", errors.New("upstream 500")
		}
		return "https://cdn.test/ok.png", nil
	}))

	var wg sync.WaitGroup
	for range 30 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = o.Run(context.Background(), account, domain.JobKindImage, nil)
		}()
	}
	wg.Wait()

	var committed int64
	for _, job := range h.accountJobs(t) {
		res := h.reservation(t, job.ReservationID)
		want, ok := owedStatus(job.State)
		require.True(t, ok)
		assert.Equal(t, want, res.Status)
		if res.Status == domain.ReservationCommitted {
			committed += res.Amount
		}
	}
	assert.Equal(t, int64(1000)-committed, h.balance(t))
	assert.Equal(t, int64(100), committed)
}

func TestRunLosesRaceWithStaleSweep(t *testing.T) {
	h := newHarness(t, 100)
	rec := h.reconciler(ReconcilerOptions{
		StaleAfter: time.Minute,
		Now:        func() time.Time { return time.Now().Add(time.Hour) },
	})
	o := h.orchestrator(providerFunc(func(ctx context.Context, _ domain.JobKind, _ domain.Parameters) (string, error) {
		report, err := rec.Sweep(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, report.Stale)
		return "https://cdn.test/late.png", nil
	}))

	job, err := o.Run(context.Background(), account, domain.JobKindImage, nil)
	require.ErrorIs(t, err, domain.ErrStaleJob)
	assert.Equal(t, domain.JobStateFailed, job.State)
	assert.Equal(t, int64(100), h.balance(t))

	acct, err := h.ledger.Balance(context.Background(), account)
	require.NoError(t, err)
	assert.False(t, acct.Frozen)
}

func TestRunFreezesOnConsumedReservation(t *testing.T) {
	h := newHarness(t, 100)
	o := h.orchestrator(providerFunc(func(ctx context.Context, _ domain.JobKind, _ domain.Parameters) (string, error) {
		jobs := h.accountJobs(t)
		require.NoError(t, h.ledger.Refund(ctx, jobs[0].ReservationID))
		return "https://cdn.test/ok.png", nil
	}))

	job, err := o.Run(context.Background(), account, domain.JobKindImage, nil)
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	var fault *domain.IntegrityError
	require.ErrorAs(t, err, &fault)
	assert.ErrorIs(t, err, domain.ErrUnknownReservation)
	assert.Equal(t, job.ReservationID, fault.ReservationID)
	require.Same(t, job, runErr.Job)
	assert.Equal(t, domain.JobStateCompleted, job.State)

	acct, err := h.ledger.Balance(context.Background(), account)
	require.NoError(t, err)
	assert.True(t, acct.Frozen)
	assert.Contains(t, acct.FrozenReason, job.ReservationID)

	_, err = o.Run(context.Background(), account, domain.JobKindImage, nil)
	require.ErrorIs(t, err, domain.ErrAccountFrozen)
}

func TestRunFailureReportsConsumedReservation(t *testing.T) {
	h := newHarness(t, 100)
	o := h.orchestrator(providerFunc(func(ctx context.Context, _ domain.JobKind, _ domain.Parameters) (string, error) {
		jobs := h.accountJobs(t)
		require.NoError(t, h.ledger.Commit(ctx, jobs[0].ReservationID))
		return "", errors.New("upstream 500")
	}))

	job, err := o.Run(context.Background(), account, domain.JobKindImage, nil)
	var fault *domain.IntegrityError
	require.ErrorAs(t, err, &fault)
	var provErr *domain.ProviderError
	assert.ErrorAs(t, err, &provErr)
	assert.Equal(t, domain.JobStateFailed, job.State)
	assert.Equal(t, int64(95), h.balance(t))
}

// deadlineJobs fails any call made on an expired context, the way a pgx
// query does.
type deadlineJobs struct {
	domain.JobStore
}

func (d deadlineJobs) Create(ctx context.Context, in domain.NewJob) (*domain.GenerationJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.JobStore.Create(ctx, in)
}

func (d deadlineJobs) MarkProcessing(ctx context.Context, id string) (*domain.GenerationJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.JobStore.MarkProcessing(ctx, id)
}

func (d deadlineJobs) MarkCompleted(ctx context.Context, id, artifact string) (*domain.GenerationJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.JobStore.MarkCompleted(ctx, id, artifact)
}

func (d deadlineJobs) MarkFailed(ctx context.Context, id, reason string) (*domain.GenerationJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.JobStore.MarkFailed(ctx, id, reason)
}

type deadlineLedger struct {
	domain.Ledger
}

func (d deadlineLedger) Commit(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.Ledger.Commit(ctx, id)
}

func (d deadlineLedger) Refund(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.Ledger.Refund(ctx, id)
}

func TestRunProviderSlowerThanSettleTimeout(t *testing.T) {
	const settleTimeout = 20 * time.Millisecond
	slow := func(err error) providerFunc {
		return func(context.Context, domain.JobKind, domain.Parameters) (string, error) {
			time.Sleep(3 * settleTimeout)
			if err != nil {
				return "", err
			}
			return "https://cdn.test/slow.mp4", nil
		}
	}

	t.Run("success commits", func(t *testing.T) {
		h := newHarness(t, 500)
		o := New(deadlineLedger{h.ledger}, deadlineJobs{h.jobs}, slow(nil), Options{SettleTimeout: settleTimeout, Logger: zerolog.Nop()})

		for range 5 {
			job, err := o.Run(context.Background(), account, domain.JobKindVideo, nil)
			require.NoError(t, err)
			assert.Equal(t, domain.JobStateCompleted, job.State)
			assert.Equal(t, domain.ReservationCommitted, h.reservation(t, job.ReservationID).Status)
		}
		assert.Equal(t, int64(250), h.balance(t))
	})

	t.Run("failure refunds", func(t *testing.T) {
		h := newHarness(t, 100)
		o := New(deadlineLedger{h.ledger}, deadlineJobs{h.jobs}, slow(errors.New("render timeout")), Options{SettleTimeout: settleTimeout, Logger: zerolog.Nop()})

		job, err := o.Run(context.Background(), account, domain.JobKindVideo, nil)
		var provErr *domain.ProviderError
		require.ErrorAs(t, err, &provErr)
		assert.Equal(t, domain.JobStateFailed, job.State)
		assert.Equal(t, domain.ReservationRefunded, h.reservation(t, job.ReservationID).Status)
		assert.Equal(t, int64(100), h.balance(t))
	})
}
