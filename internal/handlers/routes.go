package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/readaloud/client/internal/metrics"
	"github.com/readaloud/client/internal/models"
)

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Users         UserStore
	Sessions      SessionManager
	Jobs          JobStore
	Queue         JobQueue
	Plans         []models.SubscriptionPlan
	SignupCredits int
	Recorder      metrics.Recorder
	// LoginLimiter throttles credential endpoints per client address. Nil disables it.
	LoginLimiter RateLimiter
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
	// Middleware wraps every route, outermost first.
	Middleware []func(http.Handler) http.Handler
}

// NewRouter wires every HTTP handler into a chi router.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(deps.Middleware...)

	health := HealthHandler{}
	authH := AuthHandler{Users: deps.Users, Sessions: deps.Sessions, SignupCredits: deps.SignupCredits}
	books := BookHandler{Users: deps.Users, Jobs: deps.Jobs, Queue: deps.Queue, Metrics: deps.Recorder}
	billing := BillingHandler{Users: deps.Users, Plans: deps.Plans}
	if billing.Plans == nil {
		billing.Plans = DefaultPlans()
	}

	r.Get("/healthz", health.Handle)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(Throttle(deps.LoginLimiter, "auth"))
				r.Post("/login", authH.Login)
				r.Post("/register", authH.Register)
				r.Post("/password/forgot", authH.ForgotPassword)
			})
			r.Post("/token/refresh", authH.Refresh)
			r.Post("/logout", authH.Logout)

			r.Group(func(r chi.Router) {
				r.Use(RequireAuth(deps.Sessions))
				r.Get("/me", authH.Me)
				r.Post("/profile/photo", authH.UpdateProfilePhoto)
			})
		})

		r.Get("/billing/plans", billing.ListPlans)

		r.Group(func(r chi.Router) {
			r.Use(RequireAuth(deps.Sessions))

			r.Post("/billing/checkout", billing.Checkout)
			r.Post("/billing/portal", billing.Portal)

			r.Route("/books", func(r chi.Router) {
				r.Get("/", books.List)
				r.Post("/submit", books.Submit)
				r.Get("/{id}", books.Details)
				r.Get("/{id}/progress", books.Progress)
				r.Get("/{id}/audio", books.Audio)
			})
		})
	})

	return r
}
