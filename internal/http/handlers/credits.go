package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"adstudio/internal/domain"
)

type balanceView struct {
	AccountID    string           `json:"account_id"`
	Balance      int64            `json:"balance"`
	Frozen       bool             `json:"frozen"`
	FrozenReason string           `json:"frozen_reason,omitempty"`
	Costs        map[string]int64 `json:"costs,omitempty"`
}

func (a *App) Credits(w http.ResponseWriter, r *http.Request) {
	accountID, ok := a.currentAccountID(w, r)
	if !ok {
		return
	}
	acct, err := a.Accounts.EnsureAccount(r.Context(), accountID, a.StartingCredits)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	costs := make(map[string]int64, len(domain.AllJobKinds))
	for _, kind := range domain.AllJobKinds {
		if cost, err := a.Generator.Cost(kind); err == nil {
			costs[string(kind)] = cost
		}
	}
	view := balanceView{AccountID: acct.ID, Balance: acct.Balance, Frozen: acct.Frozen, Costs: costs}
	a.json(w, http.StatusOK, view)
}

type entryView struct {
	Delta         int64     `json:"delta"`
	BalanceAfter  int64     `json:"balance_after"`
	Reason        string    `json:"reason"`
	ReservationID string    `json:"reservation_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func (a *App) CreditEntries(w http.ResponseWriter, r *http.Request) {
	accountID, ok := a.currentAccountID(w, r)
	if !ok {
		return
	}
	a.entries(w, r, accountID)
}

func (a *App) entries(w http.ResponseWriter, r *http.Request, accountID string) {
	entries, err := a.Accounts.Entries(r.Context(), accountID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items := make([]entryView, 0, len(entries))
	for _, e := range entries {
		items = append(items, entryView{
			Delta:         e.Delta,
			BalanceAfter:  e.BalanceAfter,
			Reason:        e.Reason,
			ReservationID: e.ReservationID,
			CreatedAt:     e.CreatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

// AdminAdjustCredits grants or removes credits; the result is clamped at
// zero by the ledger.
func (a *App) AdminAdjustCredits(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	var req adjustRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Amount == 0 || strings.TrimSpace(req.Reason) == "" {
		a.error(w, http.StatusUnprocessableEntity, "invalid_request", "amount must be non-zero and reason is required")
		return
	}
	acct, err := a.Accounts.Adjust(r.Context(), accountID, req.Amount, req.Reason)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.logger(r).Info().Str("account_id", accountID).Int64("adjustment", req.Amount).Str("reason", req.Reason).Msg("admin credit adjustment")
	a.json(w, http.StatusOK, map[string]any{
		"account_id":  accountID,
		"new_balance": acct.Balance,
		"adjustment":  req.Amount,
		"reason":      req.Reason,
	})
}

func (a *App) AdminFreeze(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	var req freezeRequest
	if !a.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		a.error(w, http.StatusUnprocessableEntity, "invalid_request", "reason is required")
		return
	}
	if err := a.Accounts.Freeze(r.Context(), accountID, req.Reason); err != nil {
		a.fail(w, r, err)
		return
	}
	a.accountState(w, r, accountID)
}

func (a *App) AdminUnfreeze(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if err := a.Accounts.Unfreeze(r.Context(), accountID); err != nil {
		a.fail(w, r, err)
		return
	}
	a.accountState(w, r, accountID)
}

func (a *App) AdminAccount(w http.ResponseWriter, r *http.Request) {
	a.accountState(w, r, chi.URLParam(r, "id"))
}

func (a *App) AdminEntries(w http.ResponseWriter, r *http.Request) {
	a.entries(w, r, chi.URLParam(r, "id"))
}

func (a *App) accountState(w http.ResponseWriter, r *http.Request, accountID string) {
	acct, err := a.Accounts.Balance(r.Context(), accountID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, balanceView{
		AccountID:    acct.ID,
		Balance:      acct.Balance,
		Frozen:       acct.Frozen,
		FrozenReason: acct.FrozenReason,
	})
}
