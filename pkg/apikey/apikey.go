// Package apikey implements tenant-scoped API key issuance, hashing, and
// timing-attack-safe resolution.
package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ApiKey is the persisted record for one issued key. RawKey is never
// stored; only its hash is.
type ApiKey struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	KeyHash     string
	KeyPrefix   string // first 10 chars of the raw key, for display/audit
	Name        string
	RateLimitRPS   float64
	RateLimitBurst int
	CreatedAt   time.Time
	ExpiresAt   *time.Time
}

// Expired reports whether the key is past its optional expiry.
func (k *ApiKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// Generate creates a new random API key with the "btm_" prefix and at
// least 256 bits of entropy, plus its SHA-256 hash and short display
// prefix.
func Generate() (raw, hash, prefix string) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	raw = fmt.Sprintf("btm_%x", b)
	h := sha256.Sum256([]byte(raw))
	hash = hex.EncodeToString(h[:])
	prefix = raw[:10]
	return
}

// Hash computes the lookup hash for a presented raw key. Resolve always
// calls this before any store lookup, regardless of whether the key
// turns out to exist, so the control flow takes the same path for a
// garbage key as for a well-formed-but-unknown one.
func Hash(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// SecureCompare reports whether two hex-encoded hashes are equal, using
// constant-time comparison so a timing side channel can't leak partial
// matches.
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
