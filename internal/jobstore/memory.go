// Package jobstore persists generation jobs and enforces their state machine:
// pending, then optionally processing, then exactly one of completed or
// failed. Terminal jobs are never mutated again.
package jobstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"adstudio/internal/domain"
)

// MemoryStore is an in-process JobStore for tests and local runs.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*domain.GenerationJob
	seq  map[string]uint64
	next uint64
	now  func() time.Time
}

// NewMemoryStore returns an empty store using the wall clock.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*domain.GenerationJob),
		seq:  make(map[string]uint64),
		now:  time.Now,
	}
}

// SetClock overrides the time source; tests use it to age jobs.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Create stores a new PENDING job. A reservation may back only one job.
func (m *MemoryStore) Create(_ context.Context, in domain.NewJob) (*domain.GenerationJob, error) {
	if in.AccountID == "" || in.ReservationID == "" {
		return nil, fmt.Errorf("job requires account and reservation")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.ReservationID == in.ReservationID {
			return nil, fmt.Errorf("reservation %s already bound to job %s", in.ReservationID, j.ID)
		}
	}
	now := m.now()
	job := &domain.GenerationJob{
		ID:            uuid.NewString(),
		AccountID:     in.AccountID,
		Kind:          in.Kind,
		Input:         in.Input.Clone(),
		State:         domain.JobStatePending,
		ReservationID: in.ReservationID,
		ReservedCost:  in.ReservedCost,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.jobs[job.ID] = job
	m.next++
	m.seq[job.ID] = m.next
	return job.Clone(), nil
}

func (m *MemoryStore) Get(_ context.Context, jobID string) (*domain.GenerationJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job.Clone(), nil
}

func (m *MemoryStore) MarkProcessing(_ context.Context, jobID string) (*domain.GenerationJob, error) {
	return m.transition(jobID, domain.JobStateProcessing, "", "")
}

func (m *MemoryStore) MarkCompleted(_ context.Context, jobID, artifact string) (*domain.GenerationJob, error) {
	return m.transition(jobID, domain.JobStateCompleted, artifact, "")
}

func (m *MemoryStore) MarkFailed(_ context.Context, jobID, reason string) (*domain.GenerationJob, error) {
	return m.transition(jobID, domain.JobStateFailed, "", reason)
}

func (m *MemoryStore) transition(jobID string, next domain.JobState, artifact, reason string) (*domain.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if err := checkTransition(job, next); err != nil {
		return nil, err
	}
	now := m.now()
	job.State = next
	job.UpdatedAt = now
	if artifact != "" {
		job.Artifact = artifact
	}
	if reason != "" {
		job.FailureReason = reason
	}
	if next.Terminal() {
		job.SettledAt = &now
	}
	return job.Clone(), nil
}

func (m *MemoryStore) ListByAccount(_ context.Context, accountID string, filter domain.JobFilter) ([]domain.GenerationJob, error) {
	filter = filter.Normalize()
	m.mu.RLock()
	var matched []domain.GenerationJob
	for _, j := range m.jobs {
		if j.AccountID != accountID || !kindMatches(j.Kind, filter.Kinds) {
			continue
		}
		matched = append(matched, *j.Clone())
	}
	sort.Slice(matched, func(i, k int) bool {
		if !matched[i].CreatedAt.Equal(matched[k].CreatedAt) {
			return matched[i].CreatedAt.After(matched[k].CreatedAt)
		}
		return m.seq[matched[i].ID] > m.seq[matched[k].ID]
	})
	m.mu.RUnlock()
	if filter.Offset >= len(matched) {
		return []domain.GenerationJob{}, nil
	}
	matched = matched[filter.Offset:]
	if len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (m *MemoryStore) ListStale(_ context.Context, before time.Time, limit int) ([]domain.GenerationJob, error) {
	m.mu.RLock()
	var out []domain.GenerationJob
	for _, j := range m.jobs {
		if !j.State.Terminal() && j.CreatedAt.Before(before) {
			out = append(out, *j.Clone())
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return capList(out, limit), nil
}

// ListTerminal returns every settled job after the cursor; it cannot see
// reservations, so the reconciler filters settled ones itself.
func (m *MemoryStore) ListTerminal(_ context.Context, after domain.SettledCursor, limit int) ([]domain.GenerationJob, error) {
	m.mu.RLock()
	var out []domain.GenerationJob
	for _, j := range m.jobs {
		if j.State.Terminal() && after.Before(j) {
			out = append(out, *j.Clone())
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, k int) bool {
		if !out[i].SettledAt.Equal(*out[k].SettledAt) {
			return out[i].SettledAt.Before(*out[k].SettledAt)
		}
		return out[i].ID < out[k].ID
	})
	return capList(out, limit), nil
}

func checkTransition(job *domain.GenerationJob, next domain.JobState) error {
	if job.State.CanTransition(next) {
		return nil
	}
	if job.State.Terminal() {
		return fmt.Errorf("%w: job %s is %s", domain.ErrJobSettled, job.ID, job.State)
	}
	return fmt.Errorf("%w: job %s %s -> %s", domain.ErrInvalidTransition, job.ID, job.State, next)
}

func kindMatches(kind domain.JobKind, kinds []domain.JobKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func capList(jobs []domain.GenerationJob, limit int) []domain.GenerationJob {
	if limit > 0 && len(jobs) > limit {
		return jobs[:limit]
	}
	return jobs
}

var _ domain.JobStore = (*MemoryStore)(nil)
