package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"renderbot/internal/infra"
	"renderbot/internal/pipeline"
)

// HealthChecker reports whether the rendering engine is reachable.
type HealthChecker interface {
	CheckHealth(ctx context.Context) bool
}

// App carries handler dependencies.
type App struct {
	Pipeline *pipeline.Pipeline
	Engine   HealthChecker
	Logger   infra.Logger
}

func NewApp(p *pipeline.Pipeline, engine HealthChecker, logger infra.Logger) *App {
	return &App{Pipeline: p, Engine: engine, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) jsonError(w http.ResponseWriter, code int, msg string) {
	a.json(w, code, map[string]string{"error": msg})
}

// Health reports process and engine liveness.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	engineUp := a.Engine != nil && a.Engine.CheckHealth(r.Context())
	status := http.StatusOK
	if !engineUp {
		status = http.StatusServiceUnavailable
	}
	a.json(w, status, map[string]any{
		"status": "ok",
		"engine": engineUp,
	})
}
