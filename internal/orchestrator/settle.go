package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"adstudio/internal/domain"
	"adstudio/internal/metrics"
)

// settler applies the ledger action a terminal job owes. Run and the
// Reconciler share it so both paths treat a concurrently settled
// reservation the same way.
type settler struct {
	ledger  domain.Ledger
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func owedStatus(state domain.JobState) (domain.ReservationStatus, bool) {
	switch state {
	case domain.JobStateCompleted:
		return domain.ReservationCommitted, true
	case domain.JobStateFailed:
		return domain.ReservationRefunded, true
	default:
		return "", false
	}
}

// settle commits or refunds the job's reservation according to its
// terminal state. A reservation that is already in the wanted status was
// settled by the other path and is not an error. Any other
// ErrUnknownReservation freezes the account.
func (s *settler) settle(ctx context.Context, job *domain.GenerationJob) error {
	want, ok := owedStatus(job.State)
	if !ok {
		return fmt.Errorf("%w: job %s is %s", domain.ErrInvalidTransition, job.ID, job.State)
	}

	var err error
	if want == domain.ReservationCommitted {
		err = s.ledger.Commit(ctx, job.ReservationID)
	} else {
		err = s.ledger.Refund(ctx, job.ReservationID)
	}
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrUnknownReservation) {
		return err
	}
	if res, lookupErr := s.ledger.Reservation(ctx, job.ReservationID); lookupErr == nil && res.Status == want {
		return nil
	}
	return s.integrityFault(ctx, job, err)
}

func (s *settler) integrityFault(ctx context.Context, job *domain.GenerationJob, cause error) error {
	s.metrics.IntegrityFault()
	fault := &domain.IntegrityError{AccountID: job.AccountID, ReservationID: job.ReservationID, Err: cause}
	s.logger.Error().
		Err(cause).
		Str("job_id", job.ID).
		Str("account_id", job.AccountID).
		Str("reservation_id", job.ReservationID).
		Str("job_state", string(job.State)).
		Msg("ALERT ledger integrity violation, freezing account")
	if err := s.ledger.Freeze(ctx, job.AccountID, fault.Error()); err != nil {
		s.logger.Error().Err(err).Str("account_id", job.AccountID).Msg("freeze account failed")
	}
	return fault
}
