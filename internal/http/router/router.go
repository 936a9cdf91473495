package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"digest-link-service/internal/http/handler"
	"digest-link-service/internal/http/middleware"
	"digest-link-service/internal/http/response"
)

type Dependencies struct {
	TokenHandler  *handler.TokenHandler
	HealthHandler *handler.HealthHandler

	LinkLimiter          middleware.Limiter
	LinkRateLimitRPM     int
	RateLimitFailureMode middleware.FailureMode
	TrustedOperatorCIDRs []string
}

// New assembles the public link surface and the internal operator surface.
// The public /l/ routes sit behind the per-token rate limiter; internal
// routes are reachable only from trusted networks, enforced upstream, so
// they carry no limiter here.
func New(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health/live", dep.HealthHandler.Live)
	r.Get("/health/ready", dep.HealthHandler.Ready)

	limiter := dep.LinkLimiter
	if limiter == nil {
		limiter = middleware.NewLocalFixedWindowLimiter()
	}
	rpm := dep.LinkRateLimitRPM
	if rpm <= 0 {
		rpm = 60
	}
	mode := dep.RateLimitFailureMode
	if mode == "" {
		mode = middleware.FailClosed
	}
	linkLimiter := middleware.NewDistributedRateLimiter(
		limiter, rpm, time.Minute, mode, "links", middleware.TokenPrefixOrIPKeyFunc,
	).WithBypass(middleware.NewRequestBypassEvaluator(middleware.RequestBypassConfig{
		TrustedOperatorCIDRs: dep.TrustedOperatorCIDRs,
	}))

	r.Group(func(r chi.Router) {
		r.Use(linkLimiter.Middleware())
		r.Get("/l/preferences", dep.TokenHandler.ValidatePreferences)
		r.Get("/l/unsubscribe", dep.TokenHandler.ValidateUnsubscribe)
		r.Post("/l/feedback", dep.TokenHandler.ValidateFeedback)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Post("/tokens", dep.TokenHandler.Issue)
		r.Get("/tokens/{token_id}/remaining", dep.TokenHandler.Remaining)
		r.Post("/tokens/{token_id}/revoke", dep.TokenHandler.RevokeToken)
		r.Post("/users/{user_id}/revoke-tokens", dep.TokenHandler.RevokeUserTokens)
		r.Get("/users/{user_id}/live-tokens", dep.TokenHandler.LiveTokens)
		r.Get("/security-events", dep.TokenHandler.SecurityEvents)
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		response.Error(w, req, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})

	return r
}
