package handlers

import (
	"net/http"
	"time"

	"github.com/diagnosis/staybook/pkg/auth"
	mw "github.com/diagnosis/staybook/pkg/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const serviceName = "storefront"

// Stores back the router's request guards. Either may be nil: without
// Idempotency repeated booking requests are only deduplicated by the marketplace
// API, and without RateCounter sign-in attempts are not limited.
type Stores struct {
	Idempotency mw.IdempotencyStore
	RateCounter mw.Counter
}

func (h *Handlers) NewRouter(stores Stores) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.ServiceName(serviceName))
	r.Use(mw.Tracing(serviceName))
	r.Use(mw.Logging)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"Location", "X-Request-ID", "Idempotent-Replayed"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(mw.Health)
	r.Use(h.Session)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				if stores.RateCounter != nil {
					r.Use(mw.NewRateLimiter(stores.RateCounter, mw.RateLimitConfig{
						Requests: h.config.Auth.SignInLimit,
						Window:   h.config.Auth.SignInWindow,
					}).Middleware())
				}
				r.Post("/login", h.Login)
				r.Post("/register", h.Register)
			})
			r.Post("/logout", h.Logout)
			r.With(h.RequireUser()).Get("/me", h.Me)
		})

		r.Post("/quotes", h.CreateQuote)
		r.Get("/quotes/{id}", h.GetQuote)
		r.Get("/listings/{id}/bookable", h.CheckBookable)

		r.Route("/bookings", func(r chi.Router) {
			r.Use(h.RequireUser())
			if stores.Idempotency != nil {
				r.With(mw.IdempotencyMiddleware(stores.Idempotency, h.config.Auth.IdempotencyTTL)).Post("/", h.CreateBooking)
			} else {
				r.Post("/", h.CreateBooking)
			}
			r.Get("/me", h.MyBookings)
			r.Get("/{id}", h.GetBooking)
			r.Put("/{id}/cancel", h.CancelBooking)
		})

		r.Route("/vendor", func(r chi.Router) {
			r.Use(h.RequireUser(auth.RoleVendor, auth.RoleAdmin))
			r.Get("/bookings/pending", h.PendingBookings)
			r.Put("/bookings/{id}/accept", h.AcceptBooking)
			r.Put("/bookings/{id}/decline", h.DeclineBooking)
			r.Get("/listings/{id}/availability", h.ListingAvailability)
			r.Post("/listings/{id}/block", h.BlockDates)
			r.Post("/listings/{id}/unblock", h.UnblockDates)
			r.Get("/listings/{id}/quotes", h.ListingQuotes)
			r.Get("/stats", h.VendorStats)
		})
	})

	return r
}
