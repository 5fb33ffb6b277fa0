package gateway

import (
	"context"

	"github.com/google/uuid"
)

// Identity is the authenticated caller attached to the request context by
// APIKeyAuth. Every handler downstream reads the tenant id from here
// rather than from any client-supplied field, closing off the
// cross-tenant spoofing path a body or query param would otherwise open.
type Identity struct {
	APIKeyID uuid.UUID
	TenantID uuid.UUID
	KeyName  string
}

type contextKey string

const identityKey contextKey = "gateway_identity"

// withIdentity returns a context carrying id.
func withIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the authenticated caller, or the zero
// Identity and false if the request never passed APIKeyAuth.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
