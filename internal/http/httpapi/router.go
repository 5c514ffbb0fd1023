package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"adstudio/internal/http/handlers"
	"adstudio/internal/middleware"
)

type Options struct {
	JWTSecret     string
	CORSOrigins   []string
	DefaultLocale string
	CountryLookup middleware.CountryLookup
	// RateLimitPerMin bounds authenticated requests per caller; zero disables it.
	RateLimitPerMin int
	// StaticDir is served under /static when set; locally stored artifacts
	// resolve there.
	StaticDir string
	Metrics   http.Handler
	Logger    zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		middleware.Logger(opts.Logger),
		chimw.Recoverer,
		middleware.CORS(opts.CORSOrigins),
		middleware.I18N(opts.DefaultLocale, opts.CountryLookup),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/readyz", app.Readyz)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}
	if opts.StaticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir))))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))
		if opts.RateLimitPerMin > 0 {
			r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
		}

		r.Route("/v1/images", func(r chi.Router) {
			r.Post("/generate", app.ImagesGenerate)
			r.Post("/banner", app.ImagesBanner)
			r.Post("/logo", app.ImagesLogo)
			r.Post("/remove-background", app.ImagesRemoveBackground)
		})
		r.Route("/v1/videos", func(r chi.Router) {
			r.Post("/generate", app.VideosGenerate)
			r.Post("/presenter", app.VideosPresenter)
			r.Post("/voiceover", app.VideosVoiceover)
		})
		r.Route("/v1/generations", func(r chi.Router) {
			r.Get("/", app.GenerationHistory)
			r.Get("/{id}", app.GenerationStatus)
		})
		r.Get("/v1/credits", app.Credits)
		r.Get("/v1/credits/entries", app.CreditEntries)

		r.Route("/v1/admin/accounts/{id}", func(r chi.Router) {
			r.Use(middleware.RequireRole(middleware.RoleAdmin))
			r.Get("/", app.AdminAccount)
			r.Get("/entries", app.AdminEntries)
			r.Post("/credits", app.AdminAdjustCredits)
			r.Post("/freeze", app.AdminFreeze)
			r.Post("/unfreeze", app.AdminUnfreeze)
		})
	})

	return r
}
