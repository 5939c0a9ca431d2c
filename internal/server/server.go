package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"

	"github.com/quantumflow/finassist/internal/agent"
	"github.com/quantumflow/finassist/internal/logging"
)

const maxRequestBytes = 1 << 20

// Asker answers one question at a time
type Asker interface {
	Ask(ctx context.Context, question string) *agent.Bundle
	Model() string
}

// Server exposes the orchestrator over HTTP
type Server struct {
	asker  Asker
	logger *slog.Logger
	slots  *semaphore.Weighted
}

// AskRequest is the body of POST /v1/ask
type AskRequest struct {
	Question string `json:"question"`
	// Charts selects how chart artifacts are returned: "svg" (default) or "none"
	Charts string `json:"charts,omitempty"`
}

// ChartImage is a rendered chart artifact
type ChartImage struct {
	Title  string `json:"title"`
	Format string `json:"format"`
	Data   string `json:"data"`
}

// AskResponse is the bundle plus rendered charts
type AskResponse struct {
	*agent.Bundle
	ChartImages []ChartImage `json:"chart_images"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHandler creates the HTTP handler. maxConcurrent bounds conversations in flight;
// values below 1 mean one at a time.
func NewHandler(asker Asker, logger *slog.Logger, maxConcurrent int64) http.Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	s := &Server{asker: asker, logger: logger, slots: semaphore.NewWeighted(maxConcurrent)}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Post("/ask", s.Ask)
	})

	return r
}

// Health handles GET /healthz
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "model": s.asker.Model()})
}

// Ask handles POST /v1/ask
func (s *Server) Ask(w http.ResponseWriter, r *http.Request) {
	var body AskRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if strings.TrimSpace(body.Question) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "question is required"})
		return
	}
	if body.Charts != "" && body.Charts != "svg" && body.Charts != "none" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: `charts must be "svg" or "none"`})
		return
	}

	if err := s.slots.Acquire(r.Context(), 1); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "request cancelled while waiting"})
		return
	}
	bundle := s.asker.Ask(r.Context(), body.Question)
	s.slots.Release(1)

	resp := AskResponse{Bundle: bundle, ChartImages: []ChartImage{}}
	if body.Charts != "none" {
		for _, chart := range bundle.Metadata.Charts {
			var buf bytes.Buffer
			if err := chart.Render(&buf, "svg"); err != nil {
				s.logger.Warn("failed to render chart", "conversation", bundle.ID, "metric", chart.Metric, "error", err)
				continue
			}
			resp.ChartImages = append(resp.ChartImages, ChartImage{Title: chart.Title, Format: "svg", Data: buf.String()})
		}
	}

	status := http.StatusOK
	if bundle.Failed() {
		status = http.StatusBadGateway
	}
	s.logger.Info("question answered",
		"request_id", middleware.GetReqID(r.Context()),
		"conversation", bundle.ID,
		"state", bundle.State,
		"status", status)
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("failed to encode response", "error", err)
	}
}
