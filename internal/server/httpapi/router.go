package httpapi

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/tubeauth/internal/logging"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Options configures the router.
type Options struct {
	Cookies            CookieConfig
	CORSOrigins        []string
	MaxUploadBytes     int64
	RateLimitPerSecond float64
	RateLimitBurst     int
}

const (
	limiterCacheSize = 10_000
	limiterTTL       = 10 * time.Minute
)

// NewHandler builds the request handlers.
func NewHandler(sessions SessionManager, profiles ProfileManager, opts Options, log logging.Logger) *Handler {
	return &Handler{
		sessions:       sessions,
		profiles:       profiles,
		cookies:        opts.Cookies,
		maxUploadBytes: opts.MaxUploadBytes,
		log:            log.With("module", "http_api"),
	}
}

// NewRouter mounts the account API under /api/v1/users. Credential
// endpoints are rate limited per client IP.
func NewRouter(h *Handler, opts Options, log logging.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(accessLog(log.With("module", "http_access")))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeData(w, http.StatusOK, nil, "ok")
	})

	limiter := newIPRateLimiter(opts.RateLimitPerSecond, opts.RateLimitBurst, limiterCacheSize, limiterTTL)

	r.Route("/api/v1/users", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware)
			r.Post("/register", h.register)
			r.Post("/login", h.login)
			r.Post("/refresh-token", h.refreshToken)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.Authenticate)
			r.Post("/logout", h.logout)
			r.Patch("/change-password", h.changePassword)
			r.Get("/get-user", h.currentUser)
			r.Patch("/update-user-details", h.updateDetails)
			r.Patch("/update-user-avatar", h.updateAvatar)
			r.Patch("/update-user-coverimage", h.updateCoverImage)
		})
	})

	return r
}
