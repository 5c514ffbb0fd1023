package domain

import (
	"strings"
	"time"
)

// JobKind enumerates the metered generation operations.
type JobKind string

const (
	JobKindImage             JobKind = "image"
	JobKindBanner            JobKind = "banner"
	JobKindLogo              JobKind = "logo"
	JobKindBackgroundRemoval JobKind = "background_removal"
	JobKindVideo             JobKind = "video"
	JobKindPresenterVideo    JobKind = "presenter_video"
	JobKindVoiceover         JobKind = "voiceover"
)

// AllJobKinds lists every supported kind in a stable order.
var AllJobKinds = []JobKind{
	JobKindImage,
	JobKindBanner,
	JobKindLogo,
	JobKindBackgroundRemoval,
	JobKindVideo,
	JobKindPresenterVideo,
	JobKindVoiceover,
}

// ImageKinds and VideoKinds group kinds the way the history endpoints expose them.
var (
	ImageKinds = []JobKind{JobKindImage, JobKindBanner, JobKindLogo, JobKindBackgroundRemoval}
	VideoKinds = []JobKind{JobKindVideo, JobKindPresenterVideo, JobKindVoiceover}
)

// ParseJobKind normalizes free-form input into a supported kind.
func ParseJobKind(s string) (JobKind, error) {
	k := JobKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllJobKinds {
		if k == known {
			return k, nil
		}
	}
	return "", ErrUnknownKind
}

// LongRunning reports whether the kind passes through the processing state
// before settlement.
func (k JobKind) LongRunning() bool {
	return k == JobKindVideo || k == JobKindPresenterVideo
}

// JobState enumerates job lifecycle states.
type JobState string

const (
	JobStatePending    JobState = "pending"
	JobStateProcessing JobState = "processing"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
)

// Terminal reports whether no transition may leave the state.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// CanTransition reports whether moving from s to next is permitted.
func (s JobState) CanTransition(next JobState) bool {
	switch s {
	case JobStatePending:
		return next == JobStateProcessing || next == JobStateCompleted || next == JobStateFailed
	case JobStateProcessing:
		return next == JobStateCompleted || next == JobStateFailed
	default:
		return false
	}
}

// GenerationJob is one metered attempt to produce an artifact.
type GenerationJob struct {
	ID            string
	AccountID     string
	Kind          JobKind
	Input         Parameters
	State         JobState
	ReservationID string
	ReservedCost  int64
	Artifact      string
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	SettledAt     *time.Time
}

// NewJob carries the fields required to create a pending job.
type NewJob struct {
	AccountID     string
	Kind          JobKind
	Input         Parameters
	ReservationID string
	ReservedCost  int64
}

// Clone returns a deep copy so stores never hand out aliased records.
func (j *GenerationJob) Clone() *GenerationJob {
	if j == nil {
		return nil
	}
	out := *j
	out.Input = j.Input.Clone()
	if j.SettledAt != nil {
		t := *j.SettledAt
		out.SettledAt = &t
	}
	return &out
}

// PriorStates lists the states from which next may be entered.
func PriorStates(next JobState) []JobState {
	var out []JobState
	for _, s := range []JobState{JobStatePending, JobStateProcessing, JobStateCompleted, JobStateFailed} {
		if s.CanTransition(next) {
			out = append(out, s)
		}
	}
	return out
}
