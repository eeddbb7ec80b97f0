package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/download"
	"github.com/unkn0wn-root/tiercache/logger"
)

// statsResponse is the body of GET /stats.
type statsResponse struct {
	Kind      string          `json:"kind"`
	Cache     tiercache.Stats `json:"cache"`
	Downloads download.Stats  `json:"downloads"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func newRouter(a *app, reg *prom.Registry) http.Handler {
	h := &handler{app: a, log: a.logging.log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/artifacts", func(r chi.Router) {
		r.Get("/{key}", h.getArtifact)
		r.Delete("/{key}", h.deleteArtifact)
	})
	r.Get("/stats", h.stats)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return r
}

type handler struct {
	app *app
	log logger.Logger
}

func (h *handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug("request", logger.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"bytes":    ww.BytesWritten(),
			"duration": time.Since(start).String(),
			"id":       middleware.GetReqID(r.Context()),
		})
	})
}

func (h *handler) getArtifact(w http.ResponseWriter, r *http.Request) {
	req := tiercache.Request{Key: chi.URLParam(r, "key"), Locator: r.URL.Query().Get("locator")}
	if req.Locator == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "locator is required"})
		return
	}

	if r.URL.Query().Get("format") == "png" {
		var buf bytes.Buffer
		err := h.app.svc.writePNG(r.Context(), req, &buf)
		switch {
		case errors.Is(err, errNotImage):
			writeJSON(w, http.StatusNotAcceptable, errorResponse{Error: err.Error()})
		case errors.Is(err, errMiss):
			writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		case err != nil:
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		default:
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(buf.Bytes())
		}
		return
	}

	res := h.app.svc.get(r.Context(), req)
	if !res.Found {
		writeJSON(w, http.StatusNotFound, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) deleteArtifact(w http.ResponseWriter, r *http.Request) {
	if err := h.app.svc.invalidate(r.Context(), chi.URLParam(r, "key")); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Kind:      h.app.svc.kind(),
		Cache:     h.app.svc.stats(),
		Downloads: h.app.dl.Stats(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
