package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"renderbot/internal/http/handlers"
)

// NewRouter assembles the caller-facing API consumed by the chat-transport
// glue.
func NewRouter(app *handlers.App) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, middleware.Logger)

	r.Get("/v1/healthz", app.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/", app.EnqueueJob)
		r.Delete("/last", app.CancelLastJob)
		r.Get("/{id}", app.GetJob)
		r.Delete("/{id}", app.CancelJob)
	})

	r.Get("/v1/queue", app.QueueStats)
	r.Post("/v1/inputs", app.UploadInput)

	return r
}
