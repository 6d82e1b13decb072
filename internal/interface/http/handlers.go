package http

import (
	"net/http"
	"runtime"
	"time"

	"github.com/alem-hub/quiz-engine/internal/application/query"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth is the liveness probe: the process is up and serving.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"uptime":  s.Uptime().Round(time.Second).String(),
		"version": s.deps.Version,
	})
}

// handleReady pings the configured stores.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Healthy {
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"uptime_seconds": s.Uptime().Seconds(),
		"goroutines":     runtime.NumGoroutine(),
	}
	if s.deps.Sessions != nil {
		out["sessions_active"] = s.deps.Sessions.ActiveCount()
	}
	if s.deps.Jobs != nil {
		out["scheduler"] = s.deps.Jobs.Metrics().Snapshot()
	}
	for name, src := range s.deps.Metrics {
		out[name] = src()
	}
	writeJSON(w, http.StatusOK, out)
}

// ══════════════════════════════════════════════════════════════════════════════
// QUIZ HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleListBanks handles GET /api/v1/banks
func (s *Server) handleListBanks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Banks.List())
}

// handleGetProgress handles GET /api/v1/quizzes/{quiz}/students/{student}/progress
func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	q := query.GetProgressQuery{
		StudentID:      r.PathValue("student"),
		QuizID:         r.PathValue("quiz"),
		IncludeHistory: getQueryParamBool(r, "history"),
	}
	dto, err := s.deps.GetProgressHandler.Handle(r.Context(), q)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// handleGetQuizSummary handles GET /api/v1/quizzes/{quiz}/summary
func (s *Server) handleGetQuizSummary(w http.ResponseWriter, r *http.Request) {
	q := query.GetQuizSummaryQuery{
		QuizID:   r.PathValue("quiz"),
		TopLimit: getQueryParamInt(r, "top", 0),
	}
	dto, err := s.deps.GetQuizSummaryHandler.Handle(r.Context(), q)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// handleGetSession handles GET /api/v1/sessions/{id}
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Jobs.ListJobs())
}
