// Package postgres provides a Postgres-backed HostStore. Each host is one row
// holding the canonical document as jsonb next to its hostname.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/host-inventory/internal/id/uuid"
	"github.com/JakeFAU/host-inventory/internal/inventory"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for host rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// HostStore reads and writes host documents.
type HostStore struct {
	pool  querier
	table string
	ids   inventory.IDGenerator
}

// NewHostStore connects a pool using cfg.
func NewHostStore(ctx context.Context, cfg Config) (*HostStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewHostStoreWithPool(pool, cfg.Table, uuid.New())
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewHostStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewHostStoreWithPool(pool querier, table string, ids inventory.IDGenerator) (*HostStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "hosts"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if ids == nil {
		ids = uuid.New()
	}
	return &HostStore{pool: pool, table: table, ids: ids}, nil
}

// EnsureSchema creates the host table and its hostname index when missing.
// The index is deliberately not unique: uniqueness is only what the
// lookup-before-write in the store writer provides.
func (s *HostStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id uuid PRIMARY KEY,
	hostname text NOT NULL,
	document jsonb NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now()
)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_hostname_idx ON %s (hostname)`, s.table, s.table),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *HostStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// FindByHostname returns the oldest row for hostname.
func (s *HostStore) FindByHostname(ctx context.Context, hostname string) (inventory.StoredHost, error) {
	query := fmt.Sprintf(`SELECT id::text, document FROM %s WHERE hostname = $1 ORDER BY created_at LIMIT 1`, s.table)

	var (
		id  string
		doc []byte
	)
	if err := s.pool.QueryRow(ctx, query, hostname).Scan(&id, &doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inventory.StoredHost{}, inventory.ErrNotFound
		}
		return inventory.StoredHost{}, fmt.Errorf("find host: %w", err)
	}
	var record inventory.HostRecord
	if err := json.Unmarshal(doc, &record); err != nil {
		return inventory.StoredHost{}, fmt.Errorf("decode host document %s: %w", id, err)
	}
	return inventory.StoredHost{ID: id, Record: record}, nil
}

// Insert writes a new row.
func (s *HostStore) Insert(ctx context.Context, record inventory.HostRecord) error {
	id, err := s.ids.NewID()
	if err != nil {
		return fmt.Errorf("insert host: %w", err)
	}
	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode host document: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, hostname, document) VALUES ($1, $2, $3)`, s.table)
	if _, err := s.pool.Exec(ctx, query, id, record.Hostname, doc); err != nil {
		return fmt.Errorf("insert host: %w", err)
	}
	return nil
}

// Replace overwrites the document of row id in a single statement.
func (s *HostStore) Replace(ctx context.Context, id string, record inventory.HostRecord) error {
	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode host document: %w", err)
	}
	query := fmt.Sprintf(`UPDATE %s SET document = $2, updated_at = now() WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, id, doc)
	if err != nil {
		return fmt.Errorf("replace host: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("replace host %s: %w", id, inventory.ErrNotFound)
	}
	return nil
}
