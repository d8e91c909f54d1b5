// Package meta exposes the instance-wide settings row. The role engine
// only needs the policy override map layered over the built-in defaults.
package meta

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftwood-social/driftwood/internal/platform/memcache"
)

// Meta is the instance settings snapshot.
type Meta struct {
	// Policies overrides the built-in policy defaults instance-wide.
	// Keys are policy field names, values booleans or numbers.
	Policies map[string]any
}

// Service loads and caches the instance meta row.
type Service struct {
	pool  *pgxpool.Pool
	cache *memcache.Single[*Meta]
}

// NewService constructs a Service.
func NewService(pool *pgxpool.Pool, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{
		pool:  pool,
		cache: memcache.NewSingle[*Meta](ttl),
	}
}

// Fetch returns the cached meta, loading it on a miss. A missing row is
// treated as an empty override set, not an error.
func (s *Service) Fetch(ctx context.Context) (*Meta, error) {
	return s.cache.Fetch(ctx, s.load)
}

// PolicyOverrides returns the instance-wide policy override map.
func (s *Service) PolicyOverrides(ctx context.Context) (map[string]any, error) {
	m, err := s.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return m.Policies, nil
}

// Update replaces the policy override map and refreshes the local cache.
func (s *Service) Update(ctx context.Context, policies map[string]any) error {
	raw, err := json.Marshal(policies)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO meta (id, policies) VALUES ('x', $1)
		ON CONFLICT (id) DO UPDATE SET policies = EXCLUDED.policies`, raw)
	if err != nil {
		return err
	}
	s.cache.Set(&Meta{Policies: policies})
	return nil
}

func (s *Service) load(ctx context.Context) (*Meta, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT policies FROM meta WHERE id = 'x'`).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &Meta{Policies: map[string]any{}}, nil
		}
		return nil, err
	}
	policies := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &policies); err != nil {
			return nil, err
		}
	}
	return &Meta{Policies: policies}, nil
}
