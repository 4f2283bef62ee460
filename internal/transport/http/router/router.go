package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/vedran77/orderchat/internal/transport/http/handlers"
	"github.com/vedran77/orderchat/internal/transport/http/middleware"
)

type Deps struct {
	Logger   zerolog.Logger
	Verifier middleware.Verifier
	Messages *handlers.MessageHandler
	Health   *handlers.HealthHandler
	// WebSocket is mounted at /ws and authenticates on its own.
	WebSocket http.Handler
	// AllowedOrigins for CORS; empty allows any origin.
	AllowedOrigins []string
}

// New creates and configures the HTTP router.
func New(d Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Metrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(d.Logger))
	r.Use(chimw.Recoverer)

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", d.Health.Health)
	if d.WebSocket != nil {
		r.Handle("/ws", d.WebSocket)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(d.Verifier))
		r.Use(chimw.AllowContentType("application/json"))

		r.Get("/orders/{id}/messages", d.Messages.History)
		r.Post("/orders/{id}/messages", d.Messages.Send)
		r.Post("/orders/{id}/messages/read", d.Messages.MarkAllRead)
		r.Post("/messages/{id}/read", d.Messages.MarkRead)
	})

	return r
}
