package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"adstudio/internal/domain"
)

func (a *App) GenerationStatus(w http.ResponseWriter, r *http.Request) {
	accountID, ok := a.currentAccountID(w, r)
	if !ok {
		return
	}
	job, err := a.Jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if job.AccountID != accountID {
		a.error(w, http.StatusNotFound, "not_found", "generation not found")
		return
	}
	a.json(w, http.StatusOK, newJobView(job))
}

// GenerationHistory lists the caller's jobs, newest first. type accepts
// "images", "videos" or a single kind.
func (a *App) GenerationHistory(w http.ResponseWriter, r *http.Request) {
	accountID, ok := a.currentAccountID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := domain.JobFilter{
		Limit:  queryInt(q.Get("limit"), 20),
		Offset: queryInt(q.Get("offset"), 0),
	}
	switch typ := strings.ToLower(strings.TrimSpace(q.Get("type"))); typ {
	case "", "all":
	case "images":
		filter.Kinds = domain.ImageKinds
	case "videos":
		filter.Kinds = domain.VideoKinds
	default:
		kind, err := domain.ParseJobKind(typ)
		if err != nil {
			a.error(w, http.StatusBadRequest, "unknown_kind", "unknown generation type "+strconv.Quote(typ))
			return
		}
		filter.Kinds = []domain.JobKind{kind}
	}
	filter = filter.Normalize()

	jobs, err := a.Jobs.ListByAccount(r.Context(), accountID, filter)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items := make([]jobView, 0, len(jobs))
	for i := range jobs {
		items = append(items, newJobView(&jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{
		"items":  items,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func queryInt(raw string, fallback int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
		return v
	}
	return fallback
}
