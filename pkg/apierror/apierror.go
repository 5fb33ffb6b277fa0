// Package apierror defines the stable error taxonomy shared by every
// Bentham component. Codes are strings, never typed Go errors, so that
// they survive serialization across the Gateway boundary unchanged.
package apierror

import "net/http"

// Code is one of the stable error kinds from the taxonomy.
type Code string

const (
	Unauthorized      Code = "UNAUTHORIZED"
	InvalidAPIKey     Code = "INVALID_API_KEY"
	APIKeyExpired     Code = "API_KEY_EXPIRED"
	RateLimited       Code = "RATE_LIMITED"
	ValidationError   Code = "VALIDATION_ERROR"
	StudyNotFound     Code = "STUDY_NOT_FOUND"
	PayloadTooLarge   Code = "PAYLOAD_TOO_LARGE"
	CircuitOpen       Code = "CIRCUIT_OPEN"
	UpstreamRateLimit Code = "RATE_LIMIT"
	AntiBot           Code = "ANTI_BOT"
	SessionExpired    Code = "SESSION_EXPIRED"
	Timeout           Code = "TIMEOUT"
	NetworkError      Code = "NETWORK_ERROR"
	DeadlineExceeded  Code = "DEADLINE_EXCEEDED"
	Cancelled         Code = "CANCELLED"
	SurfaceUnavailable Code = "SURFACE_UNAVAILABLE"
	Unknown           Code = "UNKNOWN"
	Conflict          Code = "CONFLICT"
	Internal          Code = "INTERNAL"
	CoverageNotMet    Code = "COVERAGE_THRESHOLD_NOT_MET"
)

// Error is the error type carried internally and surfaced to clients as
// {code, message}. Message must never contain stack traces, connection
// strings, internal hostnames, or raw/hashed keys.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

// New constructs an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// HTTPStatus maps a client-surfaced code to its HTTP status. Codes that
// are never surfaced to clients (internal-only adapter/executor codes)
// map to 500 as a safe default; callers should not expose them directly.
func HTTPStatus(code Code) int {
	switch code {
	case Unauthorized, InvalidAPIKey, APIKeyExpired:
		return http.StatusUnauthorized
	case RateLimited:
		return http.StatusTooManyRequests
	case ValidationError:
		return http.StatusBadRequest
	case StudyNotFound:
		return http.StatusNotFound
	case PayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the upstream/adapter-facing code represents a
// condition the Recovery Manager should retry.
func Retryable(code Code) bool {
	switch code {
	case UpstreamRateLimit, Timeout, NetworkError, Unknown:
		return true
	default:
		return false
	}
}
