package recovery

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/benthamhq/bentham/pkg/apierror"
)

// Classify maps an adapter failure to one of the stable internal error
// codes. It inspects context errors, net.Error, and a wrapped
// *apierror.Error, then well-known substrings of the error message;
// anything it does not recognize is UNKNOWN.
func Classify(err error) apierror.Code {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return apierror.Timeout
	}
	if errors.Is(err, context.Canceled) {
		return apierror.Cancelled
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return apierror.Timeout
		}
		return apierror.NetworkError
	}

	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "status 429") || strings.Contains(msg, "rate limit"):
		return apierror.UpstreamRateLimit
	case strings.Contains(msg, "captcha") || strings.Contains(msg, "anti-bot") || strings.Contains(msg, "blocked"):
		return apierror.AntiBot
	case strings.Contains(msg, "session") && strings.Contains(msg, "expired"):
		return apierror.SessionExpired
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return apierror.Timeout
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network") || strings.Contains(msg, "no such host"):
		return apierror.NetworkError
	case strings.Contains(msg, "status 5") :
		return apierror.NetworkError
	default:
		return apierror.Unknown
	}
}

// ClassifyHTTPStatus is a small helper adapters may use to turn a raw
// HTTP status code into the same taxonomy before wrapping it in an
// *apierror.Error, so Classify's errors.As branch picks it up directly.
func ClassifyHTTPStatus(status int) apierror.Code {
	switch {
	case status == http.StatusTooManyRequests:
		return apierror.UpstreamRateLimit
	case status == http.StatusRequestTimeout:
		return apierror.Timeout
	case status >= 500:
		return apierror.NetworkError
	default:
		return apierror.Unknown
	}
}
