package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"photoenhance/internal/http/handlers"
	"photoenhance/internal/infra"
	"photoenhance/internal/middleware"
)

// Options configures the cross-cutting middleware.
type Options struct {
	JWTSecret             string
	InternalServiceSecret string
	AllowedOrigins        []string
	DefaultLocale         string
	CountryLookup         middleware.CountryLookup
	// Limiter throttles the photo endpoints; nil disables rate limiting.
	Limiter *middleware.Limiter
	Logger  infra.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimw.Recoverer,
		middleware.RequestID,
		middleware.CORS(opts.AllowedOrigins),
		middleware.Authenticate(opts.JWTSecret, opts.InternalServiceSecret),
		middleware.I18N(opts.DefaultLocale, opts.CountryLookup),
		middleware.Logger(opts.Logger),
	)

	r.Get("/healthz", app.Health)

	r.Group(func(r chi.Router) {
		if opts.Limiter != nil {
			r.Use(middleware.RateLimit(opts.Limiter, app.RateLimited))
		}

		r.Get("/credits", app.Credits)

		r.Route("/photos", func(r chi.Router) {
			r.Post("/", app.UploadPhoto)
			r.Post("/enhance", app.EnhancePhoto)
			r.Get("/status", app.PhotoStatus)
			r.Patch("/{jobId}", app.UpdatePhoto)

			r.Route("/recover", func(r chi.Router) {
				stale := app.RecoverStale()
				inconsistent := app.RecoverInconsistent()
				processing := app.RecoverProcessing()
				r.Get("/stale", stale)
				r.Post("/stale", stale)
				r.Get("/inconsistent", inconsistent)
				r.Post("/inconsistent", inconsistent)
				r.Get("/processing", processing)
				r.Post("/processing", processing)
			})
		})
	})

	return r
}
