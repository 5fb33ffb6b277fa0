package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/benthamhq/bentham/internal/httpserver"
	"github.com/benthamhq/bentham/internal/telemetry"
	"github.com/benthamhq/bentham/pkg/apierror"
	"github.com/benthamhq/bentham/pkg/apikey"
	"github.com/benthamhq/bentham/pkg/ratelimit"
)

// APIKeyAuth resolves the bearer token on every request through resolver
// and attaches the resulting Identity to the request context. A missing
// or malformed Authorization header is rejected with UNAUTHORIZED before
// the resolver is called; an unknown key and an expired key are
// distinguished by their response codes.
func APIKeyAuth(resolver *apikey.Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r.Header.Get("Authorization"))
			if raw == "" {
				httpserver.RespondError(w, apierror.Unauthorized, "missing or malformed Authorization header")
				return
			}

			key, err := resolver.Resolve(r.Context(), raw)
			if err != nil {
				switch {
				case errors.Is(err, apikey.ErrNotFound):
					httpserver.RespondError(w, apierror.InvalidAPIKey, "invalid API key")
				case errors.Is(err, apikey.ErrExpired):
					httpserver.RespondError(w, apierror.APIKeyExpired, "API key has expired")
				default:
					logger.Error("resolving api key", "error", err)
					httpserver.RespondError(w, apierror.Internal, "authentication failed")
				}
				return
			}

			id := Identity{APIKeyID: key.ID, TenantID: key.TenantID, KeyName: key.Name}
			ctx := withIdentity(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header, case-insensitively, returning "" if the header doesn't match.
func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// RateLimit enforces the per-API-key token bucket. It must run after
// APIKeyAuth, since it keys off the Identity that middleware attaches.
// Every key's bucket uses the limiter's default rate and burst; the key's
// own RateLimitRPS/RateLimitBurst fields are not consulted.
func RateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				httpserver.RespondError(w, apierror.Unauthorized, "authentication required")
				return
			}

			if !limiter.Allow(id.APIKeyID.String(), nil) {
				telemetry.RateLimitRejectedTotal.WithLabelValues(id.APIKeyID.String()).Inc()
				w.Header().Set("Retry-After", "1")
				httpserver.RespondError(w, apierror.RateLimited, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type loggerCtxKey struct{}

// withLogger attaches a request-scoped logger to ctx.
func withLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// LoggerFromContext returns the request-scoped logger attached by
// TenantScope, or fallback if the request never passed through it.
func LoggerFromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*slog.Logger); ok {
		return l
	}
	return fallback
}

// TenantScope tags the request-scoped logger with the caller's tenant id
// and API key id. It runs after APIKeyAuth and asserts that an Identity
// is present, giving every route under it a single place that fails
// loudly if ever mounted without the auth middleware ahead of it —
// rather than leaking into a handler that blindly trusts the context.
func TenantScope(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				httpserver.RespondError(w, apierror.Unauthorized, "authentication required")
				return
			}

			scoped := logger.With("tenant_id", id.TenantID.String(), "api_key_id", id.APIKeyID.String())
			ctx := withLogger(r.Context(), scoped)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
