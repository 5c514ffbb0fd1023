// Package handlers exposes the generation workflow and the credit ledger
// over HTTP. Authentication happens upstream; handlers read the account id
// from the request context.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"adstudio/internal/domain"
	"adstudio/internal/middleware"
	"adstudio/internal/orchestrator"
)

const maxBodyBytes = 1 << 20

// Generator runs one metered generation. *orchestrator.Orchestrator
// satisfies it.
type Generator interface {
	Run(ctx context.Context, accountID string, kind domain.JobKind, params domain.Parameters) (*domain.GenerationJob, error)
	Cost(kind domain.JobKind) (int64, error)
}

// Accounts is the ledger surface the HTTP API needs. *ledger.Service
// satisfies it.
type Accounts interface {
	EnsureAccount(ctx context.Context, accountID string, startingBalance int64) (*domain.Account, error)
	Balance(ctx context.Context, accountID string) (*domain.Account, error)
	Adjust(ctx context.Context, accountID string, delta int64, reason string) (*domain.Account, error)
	Freeze(ctx context.Context, accountID, reason string) error
	Unfreeze(ctx context.Context, accountID string) error
	Entries(ctx context.Context, accountID string) ([]domain.LedgerEntry, error)
}

type App struct {
	Generator       Generator
	Accounts        Accounts
	Jobs            domain.JobStore
	StartingCredits int64
	Logger          zerolog.Logger
	// Ready reports dependency health for the readiness probe.
	Ready func(ctx context.Context) error
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	middleware.WriteError(w, code, errCode, message)
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return false
	}
	return true
}

func (a *App) currentAccountID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := middleware.AccountIDFromContext(r.Context())
	if id == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing account context")
		return "", false
	}
	return id, true
}

func (a *App) logger(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &a.Logger
}

// fail maps domain errors onto HTTP statuses. Integrity faults and
// unexpected errors are logged and reported as internal errors.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		runErr *orchestrator.RunError
		fault  *domain.IntegrityError
	)
	switch {
	case errors.Is(err, domain.ErrInsufficientCredits):
		a.error(w, http.StatusPaymentRequired, "insufficient_credits", "not enough credits for this generation")
	case errors.Is(err, domain.ErrAccountFrozen):
		a.error(w, http.StatusLocked, "account_frozen", "account is locked pending review")
	case errors.Is(err, domain.ErrUnknownKind):
		a.error(w, http.StatusBadRequest, "unknown_kind", err.Error())
	case errors.Is(err, domain.ErrInvalidAmount):
		a.error(w, http.StatusBadRequest, "invalid_amount", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "not found")
	case errors.As(err, &fault):
		a.logger(r).Error().Err(err).Str("path", r.URL.Path).Str("account_id", fault.AccountID).Msg("ledger integrity fault")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	case errors.As(err, &runErr) && runErr.Job != nil:
		a.json(w, http.StatusBadGateway, map[string]any{
			"error":   "generation_failed",
			"message": runErr.Error(),
			"job":     newJobView(runErr.Job),
		})
	default:
		a.logger(r).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

type jobView struct {
	ID           string            `json:"id"`
	AccountID    string            `json:"account_id"`
	Type         domain.JobKind    `json:"type"`
	Status       domain.JobState   `json:"status"`
	Settings     domain.Parameters `json:"settings,omitempty"`
	OutputURL    string            `json:"output_url,omitempty"`
	CreditsUsed  int64             `json:"credits_used"`
	ReservedCost int64             `json:"reserved_cost"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

func newJobView(j *domain.GenerationJob) jobView {
	v := jobView{
		ID:           j.ID,
		AccountID:    j.AccountID,
		Type:         j.Kind,
		Status:       j.State,
		Settings:     j.Input,
		OutputURL:    j.Artifact,
		ReservedCost: j.ReservedCost,
		ErrorMessage: j.FailureReason,
		CreatedAt:    j.CreatedAt,
		CompletedAt:  j.SettledAt,
	}
	if j.State == domain.JobStateCompleted {
		v.CreditsUsed = j.ReservedCost
	}
	return v
}
