package handlers

import (
	"net/http"

	"adstudio/internal/domain"
	"adstudio/internal/middleware"
)

func (a *App) ImagesGenerate(w http.ResponseWriter, r *http.Request) {
	a.generate(w, r, domain.JobKindImage, &imageRequest{})
}

func (a *App) ImagesBanner(w http.ResponseWriter, r *http.Request) {
	a.generate(w, r, domain.JobKindBanner, &bannerRequest{})
}

func (a *App) ImagesLogo(w http.ResponseWriter, r *http.Request) {
	a.generate(w, r, domain.JobKindLogo, &logoRequest{})
}

func (a *App) ImagesRemoveBackground(w http.ResponseWriter, r *http.Request) {
	a.generate(w, r, domain.JobKindBackgroundRemoval, &backgroundRemovalRequest{})
}

func (a *App) VideosGenerate(w http.ResponseWriter, r *http.Request) {
	a.generate(w, r, domain.JobKindVideo, &videoRequest{})
}

func (a *App) VideosPresenter(w http.ResponseWriter, r *http.Request) {
	a.generate(w, r, domain.JobKindPresenterVideo, &presenterRequest{})
}

func (a *App) VideosVoiceover(w http.ResponseWriter, r *http.Request) {
	a.generate(w, r, domain.JobKindVoiceover, &voiceoverRequest{})
}

// generate validates the payload, provisions the account on first use and
// runs the metered generation synchronously.
func (a *App) generate(w http.ResponseWriter, r *http.Request, kind domain.JobKind, req generationRequest) {
	accountID, ok := a.currentAccountID(w, r)
	if !ok {
		return
	}
	if !a.decode(w, r, req) {
		return
	}
	if err := req.validate(); err != nil {
		a.error(w, http.StatusUnprocessableEntity, "invalid_request", err.Error())
		return
	}
	if _, err := a.Accounts.EnsureAccount(r.Context(), accountID, a.StartingCredits); err != nil {
		a.fail(w, r, err)
		return
	}

	params := req.params()
	params["locale"] = middleware.LocaleFromContext(r.Context())
	if country := middleware.CountryFromContext(r.Context()); country != "" {
		params["country"] = country
	}

	job, err := a.Generator.Run(r.Context(), accountID, kind, params)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, newJobView(job))
}
