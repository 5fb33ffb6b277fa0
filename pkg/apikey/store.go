package apikey

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no key matches the given hash.
var ErrNotFound = errors.New("apikey: not found")

// Store persists API keys. FindByHash is the hot path, called on every
// authenticated request; implementations should index KeyHash.
type Store interface {
	Create(ctx context.Context, k *ApiKey) error
	FindByHash(ctx context.Context, hash string) (*ApiKey, error)
	FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]*ApiKey, error)
	Revoke(ctx context.Context, tenantID, keyID uuid.UUID) error
}
