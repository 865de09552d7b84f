package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"server/internal/pipeline"
)

// App is the handler container; it carries the shared delivery pipeline
// by reference into every request handler.
type App struct {
	Pipeline *pipeline.Pipeline
	Logger   zerolog.Logger
}

func NewApp(p *pipeline.Pipeline, logger zerolog.Logger) *App {
	return &App{Pipeline: p, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]string{"error": errCode, "message": message})
}
