package orchestrator

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"adstudio/internal/domain"
	"adstudio/internal/metrics"
)

// ReconcilerOptions configures a Reconciler. Zero values take defaults.
type ReconcilerOptions struct {
	Interval time.Duration
	// StaleAfter is how long a job may stay PENDING or PROCESSING, counted
	// from creation, before it is failed and refunded.
	StaleAfter time.Duration
	// Lookback bounds how far back terminal jobs are checked for an owed
	// ledger action.
	Lookback time.Duration
	// SettleGrace leaves freshly settled jobs to the Run that settled them.
	SettleGrace time.Duration
	// BatchSize is the page size of both scans. The owed-settlement scan
	// pages through the whole lookback window in every sweep.
	BatchSize int
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// Reconciler finishes work a crashed or cancelled Run left behind.
type Reconciler struct {
	jobs        domain.JobStore
	interval    time.Duration
	staleAfter  time.Duration
	lookback    time.Duration
	settleGrace time.Duration
	batchSize   int
	now         func() time.Time
	settler

	mu      sync.Mutex
	alerted map[string]struct{}
}

// SweepReport counts what one sweep did.
type SweepReport struct {
	Stale     int
	Committed int
	Refunded  int
	Skipped   int
	Faults    int
}

// NewReconciler builds a Reconciler. Defaults: 1m interval, 15m stale
// threshold, 24h lookback, pages of 100.
func NewReconciler(ledger domain.Ledger, jobs domain.JobStore, opts ReconcilerOptions) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 15 * time.Minute
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 24 * time.Hour
	}
	if opts.SettleGrace < 0 {
		opts.SettleGrace = 0
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{
		jobs:        jobs,
		interval:    opts.Interval,
		staleAfter:  opts.StaleAfter,
		lookback:    opts.Lookback,
		settleGrace: opts.SettleGrace,
		batchSize:   opts.BatchSize,
		now:         opts.Now,
		alerted:     make(map[string]struct{}),
		settler: settler{
			ledger:  ledger,
			logger:  opts.Logger,
			metrics: opts.Metrics,
		},
	}
}

// Run sweeps immediately and then every interval plus up to 10% jitter
// until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info().Dur("interval", r.interval).Dur("stale_after", r.staleAfter).Msg("reconciler: started")
	for {
		if _, err := r.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error().Err(err).Msg("reconciler: sweep failed")
		}
		jitter := time.Duration(rand.Int64N(int64(r.interval)/10 + 1))
		timer := time.NewTimer(r.interval + jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info().Msg("reconciler: stopped")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Sweep fails and refunds stale jobs, then finishes the ledger action owed
// by terminal jobs whose reservation is still held. Repeated sweeps apply
// nothing twice.
func (r *Reconciler) Sweep(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	defer func() { r.metrics.ReconcileSweep(time.Since(start)) }()

	var report SweepReport
	now := r.now()

	stale, err := r.jobs.ListStale(ctx, now.Add(-r.staleAfter), r.batchSize)
	if err != nil {
		return report, err
	}
	for i := range stale {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		r.failStale(ctx, &stale[i], &report)
	}

	if err := r.sweepOwed(ctx, now, &report); err != nil {
		return report, err
	}

	if report != (SweepReport{}) {
		r.logger.Info().
			Int("stale", report.Stale).
			Int("committed", report.Committed).
			Int("refunded", report.Refunded).
			Int("faults", report.Faults).
			Msg("reconciler: sweep finished")
	}
	return report, nil
}

// sweepOwed pages through every job settled inside the lookback window,
// stopping at the first job still inside the settle grace.
func (r *Reconciler) sweepOwed(ctx context.Context, now time.Time, report *SweepReport) error {
	cursor := domain.SettledCursor{SettledAt: now.Add(-r.lookback)}
	graceCutoff := now.Add(-r.settleGrace)
	for {
		page, err := r.jobs.ListTerminal(ctx, cursor, r.batchSize)
		if err != nil {
			return err
		}
		for i := range page {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			job := &page[i]
			if job.SettledAt != nil && job.SettledAt.After(graceCutoff) {
				return nil
			}
			r.finishOwed(ctx, job, report)
			cursor = domain.CursorAfter(job)
		}
		if len(page) < r.batchSize {
			return nil
		}
	}
}

func (r *Reconciler) failStale(ctx context.Context, job *domain.GenerationJob, report *SweepReport) {
	logger := r.logger.With().Str("job_id", job.ID).Str("account_id", job.AccountID).Logger()
	failed, err := r.jobs.MarkFailed(ctx, job.ID, domain.ErrStaleJob.Error())
	if err != nil {
		if errors.Is(err, domain.ErrJobSettled) {
			report.Skipped++
			return
		}
		logger.Error().Err(err).Msg("reconciler: mark stale job failed")
		return
	}
	report.Stale++
	r.metrics.JobSettled(string(failed.Kind), string(failed.State))
	r.metrics.Reconciled("stale")
	logger.Warn().Time("created_at", job.CreatedAt).Msg("reconciler: stale job failed")
	r.apply(ctx, failed, report)
}

func (r *Reconciler) finishOwed(ctx context.Context, job *domain.GenerationJob, report *SweepReport) {
	res, err := r.ledger.Reservation(ctx, job.ReservationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			r.mismatch(ctx, job, report)
			return
		}
		r.logger.Error().Err(err).Str("job_id", job.ID).Msg("reconciler: reservation lookup failed")
		return
	}
	if res.Settled() {
		if want, _ := owedStatus(job.State); res.Status != want {
			r.mismatch(ctx, job, report)
			return
		}
		report.Skipped++
		return
	}
	r.apply(ctx, job, report)
}

// mismatch raises the integrity alert for a job whose reservation is
// missing or settled the wrong way. Each job is alerted once per process so
// an operator's unfreeze is not undone by the next sweep.
func (r *Reconciler) mismatch(ctx context.Context, job *domain.GenerationJob, report *SweepReport) {
	r.mu.Lock()
	_, seen := r.alerted[job.ID]
	r.alerted[job.ID] = struct{}{}
	r.mu.Unlock()
	if seen {
		report.Skipped++
		return
	}
	report.Faults++
	_ = r.integrityFault(ctx, job, domain.ErrUnknownReservation)
}

func (r *Reconciler) apply(ctx context.Context, job *domain.GenerationJob, report *SweepReport) {
	err := r.settle(ctx, job)
	var fault *domain.IntegrityError
	switch {
	case errors.As(err, &fault):
		report.Faults++
	case err != nil:
		r.logger.Error().Err(err).Str("job_id", job.ID).Msg("reconciler: settle failed")
	case job.State == domain.JobStateCompleted:
		report.Committed++
		r.metrics.Reconciled("commit")
	default:
		report.Refunded++
		r.metrics.Reconciled("refund")
	}
}
