// Package router assembles the HTTP surface of the booking service.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/oohdoc/booking-platform/internal/booking"
	"github.com/oohdoc/booking-platform/internal/http/handlers"
	httpmiddleware "github.com/oohdoc/booking-platform/internal/http/middleware"
	"github.com/oohdoc/booking-platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger           *logging.Logger
	Registry         *booking.Registry
	BookingHandler   *handlers.BookingHandler
	CountdownHandler *handlers.CountdownHandler
	MetricsHandler   http.Handler

	SessionJWTSecret   string
	CORSAllowedOrigins []string
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/api/v1/sessions", func(api chi.Router) {
		// Session creation is the only unauthenticated call; it issues
		// the token every other endpoint requires. Rate limited per IP
		// so anonymous traffic cannot fill the session registry.
		api.With(httpmiddleware.RateLimit(1, 5)).Post("/", cfg.BookingHandler.CreateSession)

		api.Group(func(session chi.Router) {
			session.Use(httpmiddleware.SessionAuth(cfg.SessionJWTSecret, cfg.Registry))

			session.Delete("/", cfg.BookingHandler.DeleteSession)
			session.Post("/patient", cfg.BookingHandler.RegisterPatient)
			session.Post("/clinic", cfg.BookingHandler.SelectClinic)
			session.Get("/slots", cfg.BookingHandler.ListSlots)
			session.Post("/reserve", cfg.BookingHandler.ReserveSlot)
			session.Get("/hold", cfg.BookingHandler.Hold)
			session.Post("/payment/intent", cfg.BookingHandler.CreatePaymentIntent)
			session.Post("/payment/confirm", cfg.BookingHandler.ConfirmPayment)
			if cfg.CountdownHandler != nil {
				session.Get("/countdown", cfg.CountdownHandler.Stream)
			}
		})
	})

	return r
}
