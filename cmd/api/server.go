package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/mffacts/mffacts/engine/domain"
	"github.com/mffacts/mffacts/engine/rag"
	"github.com/mffacts/mffacts/pkg/mid"
	"github.com/mffacts/mffacts/pkg/natsutil"
)

// maxRequestBytes caps the /api/ask body. Queries are far smaller.
const maxRequestBytes = 16 << 10

// answerer is the query service as seen by the handlers.
type answerer interface {
	Answer(ctx context.Context, query string) (domain.Answer, rag.Outcome)
}

// AskRequest is the JSON body for POST /api/ask.
type AskRequest struct {
	Question string `json:"question"`
}

// HealthResponse is the JSON body of GET /api/health.
type HealthResponse struct {
	Status      string                 `json:"status"`
	LastRebuild *natsutil.IndexRebuilt `json:"last_rebuild,omitempty"`
}

type server struct {
	svc     answerer
	events  *natsutil.Events
	metrics *apiMetrics
	logger  *slog.Logger

	mu          sync.RWMutex
	lastRebuild *natsutil.IndexRebuilt
}

func newServer(svc answerer, events *natsutil.Events, m *apiMetrics, logger *slog.Logger) *server {
	if logger == nil {
		logger = slog.Default()
	}
	return &server{svc: svc, events: events, metrics: m, logger: logger}
}

// routes returns the API handler wrapped in the middleware chain.
func (s *server) routes(corsOrigin string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/ask", s.handleAsk)

	return mid.Chain(mux,
		mid.OTel("mffacts-api"),
		mid.RequestID(),
		mid.Recover(s.logger),
		mid.Logger(s.logger),
		mid.CORS(corsOrigin),
		mid.MaxBody(maxRequestBytes),
	)
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	resp := HealthResponse{Status: "ok", LastRebuild: s.lastRebuild}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status := http.StatusBadRequest
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, map[string]string{"error": "invalid request body"})
		return
	}

	start := time.Now()
	ans, out := s.svc.Answer(r.Context(), req.Question)
	elapsed := time.Since(start)
	s.metrics.observe(out, elapsed)

	audit := natsutil.AnswerAudit{
		RequestID:   mid.RequestIDFrom(r.Context()),
		QuestionLen: utf8.RuneCountInString(req.Question),
		Outcome:     string(out),
		Refused:     ans.Refused,
		DurationMS:  elapsed.Milliseconds(),
		At:          time.Now().UTC(),
	}
	if ans.Citation != nil {
		audit.Citation = *ans.Citation
	}
	s.events.AnswerAudit(r.Context(), audit)

	writeJSON(w, http.StatusOK, ans)
}

// onRebuild records a finished index build for the health endpoint.
func (s *server) onRebuild(_ context.Context, ev natsutil.IndexRebuilt) {
	s.mu.Lock()
	s.lastRebuild = &ev
	s.mu.Unlock()
	s.metrics.indexed.Set(int64(ev.Indexed))
	s.logger.Info("index rebuilt", "indexed", ev.Indexed, "documents", ev.Documents, "built_at", ev.BuiltAt)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
