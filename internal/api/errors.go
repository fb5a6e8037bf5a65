package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/aaronlmathis/kaptn-pulse/internal/errors"
	kpmiddleware "github.com/aaronlmathis/kaptn-pulse/internal/middleware"
)

type errorResponse struct {
	Error   string                 `json:"error"`
	Type    string                 `json:"type"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch {
	case apperrors.IsValidationError(err):
		return http.StatusBadRequest
	case apperrors.IsAuthenticationError(err):
		return http.StatusUnauthorized
	case apperrors.IsNotFoundError(err):
		return http.StatusNotFound
	case apperrors.IsTransportError(err):
		return http.StatusGatewayTimeout
	case apperrors.IsAPIError(err):
		if apperrors.StatusCode(err) == http.StatusNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	case apperrors.IsMalformedResponseError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: kpmiddleware.SanitizeErrorMessage(err.Error(), status), Type: "internal"}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		resp.Type = string(appErr.Type)
		// backend failures carry controller URLs and paths
		if status < http.StatusInternalServerError {
			resp.Details = appErr.Details
		}
	}

	fields := []zap.Field{
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", fields...)
	} else {
		s.logger.Warn("Request rejected", fields...)
	}

	writeJSON(w, status, resp)
}
