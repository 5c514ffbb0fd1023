// Package orchestrator drives one metered generation: reserve credits,
// record the job, call the provider, then settle the job before the ledger.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"adstudio/internal/domain"
	"adstudio/internal/metrics"
)

// Provider executes one generation and returns the artifact reference.
// *providers.Registry satisfies it.
type Provider interface {
	Execute(ctx context.Context, kind domain.JobKind, params domain.Parameters) (string, error)
}

// RunError reports a run that got past the reservation. Job holds the
// record in its final known state.
type RunError struct {
	Job *domain.GenerationJob
	Err error
}

// Error returns the cause's message.
func (e *RunError) Error() string {
	return e.Err.Error()
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Options configures an Orchestrator. Zero values take defaults.
type Options struct {
	Costs domain.CostTable
	// SettleTimeout bounds each group of job and ledger writes. It starts
	// after the provider answers, never before.
	SettleTimeout time.Duration
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
}

// Orchestrator runs metered generations against a ledger, a job store and a
// provider.
type Orchestrator struct {
	jobs          domain.JobStore
	provider      Provider
	costs         domain.CostTable
	settleTimeout time.Duration
	settler
}

// New builds an Orchestrator. Costs defaults to DefaultCostTable and
// SettleTimeout to 30s.
func New(ledger domain.Ledger, jobs domain.JobStore, provider Provider, opts Options) *Orchestrator {
	if opts.Costs == nil {
		opts.Costs = domain.DefaultCostTable()
	}
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = 30 * time.Second
	}
	return &Orchestrator{
		jobs:          jobs,
		provider:      provider,
		costs:         opts.Costs,
		settleTimeout: opts.SettleTimeout,
		settler: settler{
			ledger:  ledger,
			logger:  opts.Logger,
			metrics: opts.Metrics,
		},
	}
}

// Cost returns the credits reserved for kind.
func (o *Orchestrator) Cost(kind domain.JobKind) (int64, error) {
	return o.costs.Cost(kind)
}

// Run executes one generation for accountID. A rejected reservation
// returns the ledger error and leaves no job behind. Every later failure
// returns a *RunError carrying the job, which is FAILED and refunded
// whenever the stores are reachable.
//
// Once credits are reserved, job and ledger settlement continue on a
// context detached from ctx, so a caller that goes away still leaves a
// terminal job and a settled reservation.
func (o *Orchestrator) Run(ctx context.Context, accountID string, kind domain.JobKind, params domain.Parameters) (*domain.GenerationJob, error) {
	cost, err := o.costs.Cost(kind)
	if err != nil {
		return nil, err
	}

	res, err := o.ledger.Reserve(ctx, accountID, cost)
	if err != nil {
		return nil, err
	}

	createCtx, cancelCreate := o.detached(ctx)
	defer cancelCreate()

	job, err := o.jobs.Create(createCtx, domain.NewJob{
		AccountID:     accountID,
		Kind:          kind,
		Input:         params,
		ReservationID: res.ID,
		ReservedCost:  cost,
	})
	if err != nil {
		if refundErr := o.ledger.Refund(createCtx, res.ID); refundErr != nil {
			o.logger.Error().Err(refundErr).Str("account_id", accountID).Str("reservation_id", res.ID).Msg("refund after failed job create")
		}
		return nil, fmt.Errorf("create job: %w", err)
	}
	logger := o.logger.With().Str("job_id", job.ID).Str("account_id", accountID).Str("kind", string(kind)).Logger()

	if kind.LongRunning() {
		processing, err := o.jobs.MarkProcessing(createCtx, job.ID)
		if err != nil {
			logger.Error().Err(err).Msg("mark processing failed")
			return o.fail(ctx, logger, job, err)
		}
		job = processing
	}
	cancelCreate()

	logger.Debug().Int64("reserved_cost", cost).Msg("dispatching to provider")
	artifact, execErr := o.provider.Execute(ctx, kind, params)
	if execErr != nil {
		logger.Warn().Err(execErr).Msg("generation failed")
		return o.fail(ctx, logger, job, domain.AsProviderError(kind, "", execErr))
	}

	// The settle budget starts once the provider has answered.
	settleCtx, cancel := o.detached(ctx)
	defer cancel()

	completed, err := o.jobs.MarkCompleted(settleCtx, job.ID, artifact)
	if err != nil {
		return o.afterTransitionError(settleCtx, logger, job, err)
	}
	o.metrics.JobSettled(string(kind), string(completed.State))
	if err := o.settle(settleCtx, completed); err != nil {
		var fault *domain.IntegrityError
		if errors.As(err, &fault) {
			return completed, &RunError{Job: completed, Err: fault}
		}
		// The completed job records the owed commit; the reconciler finishes it.
		logger.Error().Err(err).Msg("commit failed")
	}
	logger.Info().Str("artifact", artifact).Msg("generation completed")
	return completed, nil
}

// detached returns a context that survives cancellation of ctx and expires
// after the settle timeout.
func (o *Orchestrator) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.settleTimeout)
}

// fail drives job to FAILED with cause as its reason, then refunds. It
// settles on its own detached context so a slow or cancelled provider call
// cannot exhaust the settle budget.
func (o *Orchestrator) fail(ctx context.Context, logger zerolog.Logger, job *domain.GenerationJob, cause error) (*domain.GenerationJob, error) {
	ctx, cancel := o.detached(ctx)
	defer cancel()

	failed, err := o.jobs.MarkFailed(ctx, job.ID, cause.Error())
	if err != nil {
		if out, handled := o.handleSettled(ctx, logger, job, err); handled {
			return out, &RunError{Job: out, Err: errors.Join(cause, domain.ErrStaleJob)}
		}
		logger.Error().Err(err).Msg("mark failed failed, leaving job for reconciliation")
		return job, &RunError{Job: job, Err: cause}
	}
	o.metrics.JobSettled(string(failed.Kind), string(failed.State))
	if err := o.settle(ctx, failed); err != nil {
		var fault *domain.IntegrityError
		if errors.As(err, &fault) {
			return failed, &RunError{Job: failed, Err: errors.Join(cause, fault)}
		}
		logger.Error().Err(err).Msg("refund failed")
	}
	return failed, &RunError{Job: failed, Err: cause}
}

// afterTransitionError handles a failed MarkCompleted. The usual cause is
// the reconciler having already failed the job as stale.
func (o *Orchestrator) afterTransitionError(ctx context.Context, logger zerolog.Logger, job *domain.GenerationJob, err error) (*domain.GenerationJob, error) {
	if out, handled := o.handleSettled(ctx, logger, job, err); handled {
		return out, &RunError{Job: out, Err: domain.ErrStaleJob}
	}
	logger.Error().Err(err).Msg("mark completed failed, leaving job for reconciliation")
	return job, &RunError{Job: job, Err: err}
}

// handleSettled reloads a job another path already settled and makes sure
// its ledger action has been applied.
func (o *Orchestrator) handleSettled(ctx context.Context, logger zerolog.Logger, job *domain.GenerationJob, err error) (*domain.GenerationJob, bool) {
	if !errors.Is(err, domain.ErrJobSettled) {
		return nil, false
	}
	current, getErr := o.jobs.Get(ctx, job.ID)
	if getErr != nil {
		logger.Error().Err(getErr).Msg("reload settled job failed")
		return nil, false
	}
	logger.Warn().Str("job_state", string(current.State)).Msg("job settled concurrently")
	if settleErr := o.settle(ctx, current); settleErr != nil {
		logger.Error().Err(settleErr).Msg("settle concurrently settled job")
	}
	return current, true
}
