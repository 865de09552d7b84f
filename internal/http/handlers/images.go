package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/pipeline"
)

// ServeImage delivers one image derivative. The route qualifies only for
// supported source extensions; the optional size query selects a
// responsive breakpoint. Per-asset failures never surface as errors here:
// the pipeline degrades to the original bytes or a fallback asset.
func (a *App) ServeImage(w http.ResponseWriter, r *http.Request) {
	logical := chi.URLParam(r, "*")
	if _, ok := domain.FormatFromExt(path.Ext(logical)); !ok {
		a.error(w, http.StatusNotFound, "not_found", "unsupported image path")
		return
	}
	size, ok := domain.ParseBreakpoint(r.URL.Query().Get("size"))
	if !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "unknown size label")
		return
	}

	res, err := a.Pipeline.Deliver(r.Context(), pipeline.Request{
		Path:   logical,
		Accept: r.Header.Get("Accept"),
		Size:   size,
	})
	if err != nil {
		if errors.Is(err, domain.ErrPathTraversal) {
			a.error(w, http.StatusBadRequest, "bad_request", "invalid image path")
			return
		}
		// Source and fallback both unreachable; configuration problem.
		a.Logger.Error().Str("path", logical).Err(err).Msg("image delivery failed")
		a.error(w, http.StatusInternalServerError, "internal", "image unavailable")
		return
	}

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("X-Image-Origin", string(res.Origin))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}

type warmRequest struct {
	Path   string `json:"path"`
	Format string `json:"format"`
}

// WarmImage pre-generates the full breakpoint set for one source so first
// visitors hit a warm cache.
func (a *App) WarmImage(w http.ResponseWriter, r *http.Request) {
	var req warmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Path == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "path required")
		return
	}
	var target domain.Format
	if req.Format != "" {
		f, ok := domain.FormatFromExt(req.Format)
		if !ok {
			a.error(w, http.StatusBadRequest, "bad_request", "unsupported format")
			return
		}
		target = f
	}

	keys, err := a.Pipeline.WarmSet(r.Context(), req.Path, target)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrPathTraversal):
			a.error(w, http.StatusBadRequest, "bad_request", "invalid image path")
		case errors.Is(err, domain.ErrSourceMissing):
			a.error(w, http.StatusNotFound, "not_found", "source image not found")
		default:
			a.Logger.Error().Str("path", req.Path).Err(err).Msg("breakpoint warm failed")
			a.error(w, http.StatusInternalServerError, "internal", "warm failed")
		}
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{"warmed": keys})
}
