package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/aaronlmathis/kaptn-pulse/internal/errors"
)

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if !s.source.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "no snapshot published yet", Type: "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, s.source.Current())
}

func (s *Server) handleGitOpsSnapshot(w http.ResponseWriter, r *http.Request) {
	if !s.source.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "no snapshot published yet", Type: "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, s.source.Current().GitOps)
}

func (s *Server) handleClusterSnapshot(w http.ResponseWriter, r *http.Request) {
	if !s.source.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "no snapshot published yet", Type: "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, s.source.Current().Cluster)
}

// handleRefresh runs a cycle now, or joins the one in flight, and returns
// the snapshot it produced
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	force, err := parseBoolQuery(r, "force")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("Received refresh request",
		zap.String("requestId", middleware.GetReqID(r.Context())),
		zap.Bool("force", force))

	writeJSON(w, http.StatusOK, s.source.RefreshNow(r.Context(), force))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.streamer.ServeWS(w, r)
}

// handleHistory returns recorded statistics. since accepts an RFC 3339
// timestamp or a duration back from now ("15m"); key selects one series.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r.URL.Query().Get("since"), time.Now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	key := r.URL.Query().Get("key")
	if key == "" {
		writeJSON(w, http.StatusOK, s.history.All(since))
		return
	}

	points, ok := s.history.Get(key, since)
	if !ok {
		s.writeError(w, r, apperrors.NewNotFoundError("unknown history series", map[string]interface{}{"key": key}))
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func parseSince(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperrors.NewValidationError("since must be an RFC 3339 time or a positive duration", map[string]interface{}{"since": raw})
	}
	return t, nil
}
