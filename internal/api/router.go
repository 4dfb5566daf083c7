// Package api exposes the extraction pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/menu-extractor/internal/model"
	"github.com/sells-group/menu-extractor/internal/pipeline"
)

// Pipeline is the set of run operations the handlers need.
type Pipeline interface {
	Upload(ctx context.Context, restaurant string, pdf []byte) (*model.Run, error)
	Status(ctx context.Context, runID string) (*pipeline.RunStatus, error)
	ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error)
	RunStage(ctx context.Context, runID string, stage model.Stage) (json.RawMessage, error)
	Artifact(ctx context.Context, runID string, stage model.Stage) (json.RawMessage, error)
	UpdateArtifact(ctx context.Context, runID string, stage model.Stage, raw []byte) (json.RawMessage, error)
	Reextract(ctx context.Context, runID string, stage model.Stage, page int, category string) (any, error)
	MergeUnit(ctx context.Context, runID string, stage model.Stage, page int, category string, unit []byte) (json.RawMessage, error)
}

// Inference reports the inference client's circuit breaker on /health.
type Inference interface {
	Service() string
	State() string
}

// Handler serves the run API.
type Handler struct {
	svc       Pipeline
	inference Inference // nil when extraction is not configured
}

// NewHandler creates a Handler backed by svc. inf may be nil.
func NewHandler(svc Pipeline, inf Inference) *Handler {
	return &Handler{svc: svc, inference: inf}
}

// NewRouter registers every route on a chi router. allowedOrigins feeds the
// CORS policy; an empty list allows any origin.
func NewRouter(h *Handler, allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)

	r.Route("/api/runs", func(r chi.Router) {
		r.Post("/", h.CreateRun)
		r.Get("/", h.ListRuns)

		r.Route("/{runID}", func(r chi.Router) {
			r.Get("/", h.GetRun)

			r.Route("/stages/{stage}", func(r chi.Router) {
				r.Get("/", h.GetArtifact)
				r.Put("/", h.UpdateArtifact)
				r.Post("/extract", h.Extract)
				r.Patch("/reextract", h.Reextract)
				r.Put("/units", h.MergeUnit)
				r.Get("/export", h.Export)
			})
		})
	})

	return r
}

// requestLogger logs one line per request through the global zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			zap.L().Info("api: request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
