package middleware

import (
	"net/http"
	"strings"
)

const maxClientMessage = 160

// sensitivePatterns mark upstream error text that must not reach clients
var sensitivePatterns = []string{
	"token", "bearer", "authorization", "secret", "password",
	"credential", "session", "://", "kubeconfig", "x509",
}

// SanitizeErrorMessage returns message when it is safe to show a client and
// a generic message for statusCode otherwise. Upstream failures often embed
// backend URLs or credential hints, so only short single-line messages
// without sensitive patterns pass through.
func SanitizeErrorMessage(message string, statusCode int) string {
	lower := strings.ToLower(message)
	for _, pattern := range sensitivePatterns {
		if strings.Contains(lower, pattern) {
			return GenericErrorMessage(statusCode)
		}
	}

	if idx := strings.Index(message, "\n"); idx != -1 {
		message = message[:idx]
	}
	if len(strings.TrimSpace(message)) < 5 {
		return GenericErrorMessage(statusCode)
	}
	if len(message) > maxClientMessage {
		message = message[:maxClientMessage] + "..."
	}
	return message
}

// GenericErrorMessage returns a client-safe message for an HTTP status
func GenericErrorMessage(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return "Invalid request. Please check your input and try again."
	case http.StatusUnauthorized:
		return "The GitOps controller rejected the configured credentials."
	case http.StatusNotFound:
		return "The requested resource was not found."
	case http.StatusTooManyRequests:
		return "Too many requests. Please wait a moment and try again."
	case http.StatusBadGateway:
		return "The upstream service returned an unexpected response."
	case http.StatusServiceUnavailable:
		return "The service is temporarily unavailable. Please try again later."
	case http.StatusGatewayTimeout:
		return "The upstream service did not respond in time."
	default:
		return "An internal server error occurred. Please try again later."
	}
}
