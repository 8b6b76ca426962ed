package tenantcfg

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
)

// Store is the shared-store-backed tenant config reader/writer, keyed
// under "${tenantcfg-prefix}:${tenantId}" per spec.md §6.
type Store struct {
	rdb      redis.Cmdable
	prefix   string
	validate *validator.Validate
}

// NewStore builds a Store bound to rdb.
func NewStore(rdb redis.Cmdable, prefix string) *Store {
	return &Store{rdb: rdb, prefix: prefix, validate: validator.New()}
}

func (s *Store) key(tenantId string) string { return fmt.Sprintf("%s:%s", s.prefix, tenantId) }

// Get fetches and validates a tenant's config.
func (s *Store) Get(ctx context.Context, tenantId string) (*Config, error) {
	raw, err := s.rdb.Get(ctx, s.key(tenantId)).Bytes()
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal tenant config: %w", err)
	}
	if err := s.validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid tenant config for %s: %w", tenantId, err)
	}
	return &cfg, nil
}

// Put validates and writes a tenant's config, replacing it wholesale.
func (s *Store) Put(ctx context.Context, cfg *Config) error {
	if err := s.validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid tenant config for %s: %w", cfg.TenantID, err)
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key(cfg.TenantID), raw, 0).Err()
}

// GetRaw fetches the tenant's config as unvalidated raw JSON, for the
// CLI's dot-path operations which must work even on an in-progress edit.
func (s *Store) GetRaw(ctx context.Context, tenantId string) ([]byte, error) {
	return s.rdb.Get(ctx, s.key(tenantId)).Bytes()
}

// PutRaw writes pre-validated raw JSON back to the store.
func (s *Store) PutRaw(ctx context.Context, tenantId string, raw []byte) error {
	return s.rdb.Set(ctx, s.key(tenantId), raw, 0).Err()
}

// Validate checks raw JSON against the schema by decoding it into a
// Config, without writing anything, for the CLI's dry-run mode.
func (s *Store) Validate(raw []byte) error {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return err
	}
	return s.validate.Struct(&cfg)
}
