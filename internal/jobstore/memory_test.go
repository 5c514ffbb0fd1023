package jobstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adstudio/internal/domain"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newStore() (*MemoryStore, *clock) {
	c := &clock{t: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
	s := NewMemoryStore()
	s.SetClock(c.now)
	return s, c
}

func newJob(account, reservation string, kind domain.JobKind) domain.NewJob {
	return domain.NewJob{
		AccountID:     account,
		Kind:          kind,
		Input:         domain.Parameters{"prompt": "sunset"},
		ReservationID: reservation,
		ReservedCost:  5,
	}
}

func TestCreateStartsPending(t *testing.T) {
	s, _ := newStore()
	job, err := s.Create(context.Background(), newJob("a", "r1", domain.JobKindImage))
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatePending, job.State)
	assert.Equal(t, int64(5), job.ReservedCost)
	assert.Nil(t, job.SettledAt)

	_, err = s.Create(context.Background(), newJob("a", "r1", domain.JobKindImage))
	require.Error(t, err)
}

func TestLifecycleThroughProcessing(t *testing.T) {
	s, c := newStore()
	ctx := context.Background()
	job, err := s.Create(ctx, newJob("a", "r1", domain.JobKindVideo))
	require.NoError(t, err)

	job, err = s.MarkProcessing(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateProcessing, job.State)

	c.advance(time.Minute)
	job, err = s.MarkCompleted(ctx, job.ID, "https://cdn.example/v.mp4")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCompleted, job.State)
	assert.Equal(t, "https://cdn.example/v.mp4", job.Artifact)
	require.NotNil(t, job.SettledAt)
	assert.Equal(t, c.t, *job.SettledAt)
}

func TestTerminalJobsAreImmutable(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	job, err := s.Create(ctx, newJob("a", "r1", domain.JobKindImage))
	require.NoError(t, err)
	_, err = s.MarkFailed(ctx, job.ID, "upstream 500")
	require.NoError(t, err)

	_, err = s.MarkCompleted(ctx, job.ID, "x")
	require.ErrorIs(t, err, domain.ErrJobSettled)
	_, err = s.MarkFailed(ctx, job.ID, "again")
	require.ErrorIs(t, err, domain.ErrJobSettled)
	_, err = s.MarkProcessing(ctx, job.ID)
	require.ErrorIs(t, err, domain.ErrJobSettled)

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "upstream 500", got.FailureReason)
}

func TestProcessingTwiceIsInvalid(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	job, err := s.Create(ctx, newJob("a", "r1", domain.JobKindVideo))
	require.NoError(t, err)
	_, err = s.MarkProcessing(ctx, job.ID)
	require.NoError(t, err)
	_, err = s.MarkProcessing(ctx, job.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestGetMissing(t *testing.T) {
	s, _ := newStore()
	_, err := s.Get(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.MarkFailed(context.Background(), "nope", "x")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReturnedJobsAreCopies(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	job, err := s.Create(ctx, newJob("a", "r1", domain.JobKindImage))
	require.NoError(t, err)
	job.Input["prompt"] = "mutated"
	job.State = domain.JobStateCompleted

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "sunset", got.Input.String("prompt"))
	assert.Equal(t, domain.JobStatePending, got.State)
}

func TestListByAccountFiltersAndPages(t *testing.T) {
	s, c := newStore()
	ctx := context.Background()
	kinds := []domain.JobKind{domain.JobKindImage, domain.JobKindVideo, domain.JobKindLogo, domain.JobKindVoiceover}
	for i, k := range kinds {
		_, err := s.Create(ctx, newJob("a", "r"+string(rune('0'+i)), k))
		require.NoError(t, err)
		c.advance(time.Second)
	}
	_, err := s.Create(ctx, newJob("b", "rb", domain.JobKindImage))
	require.NoError(t, err)

	all, err := s.ListByAccount(ctx, "a", domain.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, domain.JobKindVoiceover, all[0].Kind)

	images, err := s.ListByAccount(ctx, "a", domain.JobFilter{Kinds: domain.ImageKinds})
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, domain.JobKindLogo, images[0].Kind)

	page, err := s.ListByAccount(ctx, "a", domain.JobFilter{Limit: 2, Offset: 3})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, domain.JobKindImage, page[0].Kind)

	empty, err := s.ListByAccount(ctx, "a", domain.JobFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestListStaleAndTerminal(t *testing.T) {
	s, c := newStore()
	ctx := context.Background()
	start := c.t

	old, err := s.Create(ctx, newJob("a", "r1", domain.JobKindImage))
	require.NoError(t, err)
	done, err := s.Create(ctx, newJob("a", "r2", domain.JobKindImage))
	require.NoError(t, err)
	_, err = s.MarkCompleted(ctx, done.ID, "art")
	require.NoError(t, err)

	c.advance(20 * time.Minute)
	_, err = s.Create(ctx, newJob("a", "r3", domain.JobKindImage))
	require.NoError(t, err)

	stale, err := s.ListStale(ctx, c.t.Add(-15*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)

	terminal, err := s.ListTerminal(ctx, domain.SettledCursor{SettledAt: start}, 10)
	require.NoError(t, err)
	require.Len(t, terminal, 1)
	assert.Equal(t, done.ID, terminal[0].ID)

	terminal, err = s.ListTerminal(ctx, domain.CursorAfter(&terminal[0]), 10)
	require.NoError(t, err)
	assert.Empty(t, terminal)
}

func TestListTerminalPagesWithCursor(t *testing.T) {
	s, c := newStore()
	ctx := context.Background()
	start := c.t

	var want []string
	for i := range 7 {
		j, err := s.Create(ctx, newJob("a", fmt.Sprintf("r%d", i), domain.JobKindImage))
		require.NoError(t, err)
		_, err = s.MarkFailed(ctx, j.ID, "boom")
		require.NoError(t, err)
		if i%3 == 0 {
			c.advance(time.Second)
		}
		want = append(want, j.ID)
	}

	var got []string
	cursor := domain.SettledCursor{SettledAt: start}
	for {
		page, err := s.ListTerminal(ctx, cursor, 3)
		require.NoError(t, err)
		for i := range page {
			got = append(got, page[i].ID)
			cursor = domain.CursorAfter(&page[i])
		}
		if len(page) < 3 {
			break
		}
	}
	assert.ElementsMatch(t, want, got)
	assert.Len(t, got, len(want))
}
