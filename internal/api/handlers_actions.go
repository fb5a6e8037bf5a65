package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/aaronlmathis/kaptn-pulse/internal/errors"
	"github.com/aaronlmathis/kaptn-pulse/internal/gitops"
)

const maxActionBody = 64 << 10

// Action handlers pass imperative operations through to the GitOps controller

func (s *Server) handleSyncApplication(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	requestID := middleware.GetReqID(r.Context())

	var req gitops.SyncRequest
	if err := decodeBody(r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("Received sync request",
		zap.String("requestId", requestID),
		zap.String("application", name),
		zap.String("revision", req.Revision),
		zap.Bool("prune", req.Prune),
		zap.Bool("dryRun", req.DryRun))

	app, err := s.actions.Sync(r.Context(), requestID, name, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) handleRefreshApplication(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	requestID := middleware.GetReqID(r.Context())

	hard, err := parseBoolQuery(r, "hard")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("Received refresh request",
		zap.String("requestId", requestID),
		zap.String("application", name),
		zap.Bool("hard", hard))

	app, err := s.actions.Refresh(r.Context(), requestID, name, hard)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) handleDeleteApplication(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	requestID := middleware.GetReqID(r.Context())

	cascade, err := parseBoolQuery(r, "cascade")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("Received delete request",
		zap.String("requestId", requestID),
		zap.String("application", name),
		zap.Bool("cascade", cascade))

	if err := s.actions.Delete(r.Context(), requestID, name, cascade); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "application": name})
}

func (s *Server) handleResourceAction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	requestID := middleware.GetReqID(r.Context())

	var req gitops.ResourceActionRequest
	if err := decodeBody(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("Received resource action request",
		zap.String("requestId", requestID),
		zap.String("application", name),
		zap.String("kind", req.Kind),
		zap.String("resource", req.ResourceName),
		zap.String("action", req.Action))

	if err := s.actions.RunResourceAction(r.Context(), requestID, name, req); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "application": name, "action": req.Action})
}

// decodeBody decodes a JSON request body into v. An empty body is accepted
// only when optional is set.
func decodeBody(r *http.Request, v interface{}, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxActionBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && optional {
			return nil
		}
		return apperrors.NewValidationError("invalid request body", map[string]interface{}{"error": err.Error()})
	}
	return nil
}

func parseBoolQuery(r *http.Request, key string) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperrors.NewValidationError("invalid boolean query parameter", map[string]interface{}{"parameter": key, "value": raw})
	}
	return v, nil
}
