package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"adstudio/internal/domain"
	"adstudio/internal/infra"
	"adstudio/internal/sqlinline"
)

// PostgresStore keeps jobs in the generation_jobs table.
type PostgresStore struct {
	db infra.SQLExecutor
}

// NewPostgresStore returns a store running on db.
func NewPostgresStore(db infra.SQLExecutor) *PostgresStore {
	return &PostgresStore{db: db}
}

func scanJob(row pgx.Row) (*domain.GenerationJob, error) {
	var (
		job   domain.GenerationJob
		kind  string
		state string
		input []byte
	)
	err := row.Scan(&job.ID, &job.AccountID, &kind, &input, &state, &job.ReservationID, &job.ReservedCost,
		&job.Artifact, &job.FailureReason, &job.CreatedAt, &job.UpdatedAt, &job.SettledAt)
	if err != nil {
		return nil, err
	}
	job.Kind = domain.JobKind(kind)
	job.State = domain.JobState(state)
	if len(input) > 0 {
		if err := json.Unmarshal(input, &job.Input); err != nil {
			return nil, fmt.Errorf("decode job input: %w", err)
		}
	}
	return &job, nil
}

func (s *PostgresStore) Create(ctx context.Context, in domain.NewJob) (*domain.GenerationJob, error) {
	if in.AccountID == "" || in.ReservationID == "" {
		return nil, fmt.Errorf("job requires account and reservation")
	}
	input, err := json.Marshal(in.Input)
	if err != nil {
		return nil, fmt.Errorf("encode job input: %w", err)
	}
	job := &domain.GenerationJob{
		ID:            uuid.NewString(),
		AccountID:     in.AccountID,
		Kind:          in.Kind,
		Input:         in.Input.Clone(),
		State:         domain.JobStatePending,
		ReservationID: in.ReservationID,
		ReservedCost:  in.ReservedCost,
	}
	err = s.db.QueryRow(ctx, sqlinline.QInsertJob, job.ID, job.AccountID, string(job.Kind), input, job.ReservationID, job.ReservedCost).
		Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if infra.IsUniqueViolation(err) {
			return nil, fmt.Errorf("reservation %s already bound to a job: %w", in.ReservationID, err)
		}
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) Get(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.ErrNotFound
	}
	job, err := scanJob(s.db.QueryRow(ctx, sqlinline.QSelectJob, jobID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) MarkProcessing(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	return s.transition(ctx, jobID, domain.JobStateProcessing, "", "")
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, jobID, artifact string) (*domain.GenerationJob, error) {
	return s.transition(ctx, jobID, domain.JobStateCompleted, artifact, "")
}

func (s *PostgresStore) MarkFailed(ctx context.Context, jobID, reason string) (*domain.GenerationJob, error) {
	return s.transition(ctx, jobID, domain.JobStateFailed, "", reason)
}

// transition applies a guarded UPDATE; when it matches nothing the current row
// is read back to tell a missing job from a settled one.
func (s *PostgresStore) transition(ctx context.Context, jobID string, next domain.JobState, artifact, reason string) (*domain.GenerationJob, error) {
	prior := domain.PriorStates(next)
	allowed := make([]string, 0, len(prior))
	for _, st := range prior {
		allowed = append(allowed, string(st))
	}
	job, err := scanJob(s.db.QueryRow(ctx, sqlinline.QTransitionJob, jobID, string(next), artifact, reason, allowed))
	if err == nil {
		return job, nil
	}
	if !infra.IsNoRows(err) {
		return nil, fmt.Errorf("transition job: %w", err)
	}

	current, getErr := s.Get(ctx, jobID)
	if getErr != nil {
		return nil, getErr
	}
	return nil, checkTransition(current, next)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]domain.GenerationJob, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := []domain.GenerationJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, *job)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListByAccount(ctx context.Context, accountID string, filter domain.JobFilter) ([]domain.GenerationJob, error) {
	filter = filter.Normalize()
	kinds := make([]string, 0, len(filter.Kinds))
	for _, k := range filter.Kinds {
		kinds = append(kinds, string(k))
	}
	return s.list(ctx, sqlinline.QListJobsByAccount, accountID, kinds, filter.Limit, filter.Offset)
}

// ListStale returns non-terminal jobs created before before, oldest first.
func (s *PostgresStore) ListStale(ctx context.Context, before time.Time, limit int) ([]domain.GenerationJob, error) {
	return s.list(ctx, sqlinline.QListStaleJobs, before, limit)
}

// ListTerminal skips jobs whose reservation already carries the status the
// job's state implies, so a page holds only owed or mismatched settlements.
func (s *PostgresStore) ListTerminal(ctx context.Context, after domain.SettledCursor, limit int) ([]domain.GenerationJob, error) {
	return s.list(ctx, sqlinline.QListTerminalJobs, after.SettledAt, after.ID, limit)
}

var _ domain.JobStore = (*PostgresStore)(nil)
