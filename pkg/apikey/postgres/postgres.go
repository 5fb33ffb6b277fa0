// Package postgres is a pgxpool-backed apikey.Store using a
// column-list-and-scan idiom for reading and writing key records.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/benthamhq/bentham/pkg/apikey"
)

const keyColumns = `id, tenant_id, key_hash, key_prefix, name, rate_limit_rps, rate_limit_burst, created_at, expires_at`

// Store is a Postgres-backed apikey.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scan(row pgx.Row) (*apikey.ApiKey, error) {
	var k apikey.ApiKey
	err := row.Scan(&k.ID, &k.TenantID, &k.KeyHash, &k.KeyPrefix, &k.Name, &k.RateLimitRPS, &k.RateLimitBurst, &k.CreatedAt, &k.ExpiresAt)
	return &k, err
}

func (s *Store) Create(ctx context.Context, k *apikey.ApiKey) error {
	query := `INSERT INTO bentham.api_keys (id, tenant_id, key_hash, key_prefix, name, rate_limit_rps, rate_limit_burst, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.pool.Exec(ctx, query, k.ID, k.TenantID, k.KeyHash, k.KeyPrefix, k.Name, k.RateLimitRPS, k.RateLimitBurst, k.CreatedAt, k.ExpiresAt)
	if err != nil {
		return fmt.Errorf("creating api key: %w", err)
	}
	return nil
}

func (s *Store) FindByHash(ctx context.Context, hash string) (*apikey.ApiKey, error) {
	query := `SELECT ` + keyColumns + ` FROM bentham.api_keys WHERE key_hash = $1`
	k, err := scan(s.pool.QueryRow(ctx, query, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apikey.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding api key: %w", err)
	}
	return k, nil
}

func (s *Store) FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]*apikey.ApiKey, error) {
	query := `SELECT ` + keyColumns + ` FROM bentham.api_keys WHERE tenant_id = $1 ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	var out []*apikey.ApiKey
	for rows.Next() {
		k, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning api key row: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *Store) Revoke(ctx context.Context, tenantID, keyID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM bentham.api_keys WHERE id = $1 AND tenant_id = $2`, keyID, tenantID)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apikey.ErrNotFound
	}
	return nil
}

var _ apikey.Store = (*Store)(nil)
