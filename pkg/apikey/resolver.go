package apikey

import (
	"context"
	"errors"
	"time"
)

// Resolver authenticates a raw presented key against a Store.
type Resolver struct {
	store Store
	now   func() time.Time
}

// NewResolver builds a Resolver over store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store, now: time.Now}
}

// Resolve hashes raw and looks it up, returning the owning key record.
// The hash is always computed and the store is always queried — there is
// no early-return branch for an empty or malformed key — so a request
// with an invalid key takes the same time as one with a well-formed but
// unknown key, closing the timing side channel an early exit would open.
func (r *Resolver) Resolve(ctx context.Context, raw string) (*ApiKey, error) {
	hash := Hash(raw)

	key, err := r.store.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if !SecureCompare(key.KeyHash, hash) {
		return nil, ErrNotFound
	}
	if key.Expired(r.now()) {
		return nil, ErrExpired
	}
	return key, nil
}

// ErrExpired is returned when a key resolves but is past its expiry.
var ErrExpired = errors.New("apikey: expired")
