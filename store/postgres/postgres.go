// Package postgres is a roster.Store backed by a PostgreSQL table of JSON documents.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mindtastic/roster"
	"github.com/mindtastic/roster/log"
)

// Ensure that Store implements the roster.Store interface
var _ roster.Store = (*Store)(nil)

// DefaultTable is the table used when none is configured.
const DefaultTable = "roster_users"

// Store keeps one row per user: its position in the collection, its id and the user
// document. ReplaceAll swaps the whole table content in a single transaction.
type Store struct {
	pool  *pgxpool.Pool
	table string
	owned bool
	log   *log.Source
}

// Option configures a Store.
type Option func(*Store)

// WithTable overrides DefaultTable.
func WithTable(name string) Option {
	return func(s *Store) {
		s.table = name
	}
}

// WithLogger sets the source used to report writes.
func WithLogger(src *log.Source) Option {
	return func(s *Store) {
		s.log = src
	}
}

// New connects to dsn. The returned store owns the pool and closes it on Close.
func New(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = 4
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := NewWithPool(pool, opts...)
	s.owned = true
	return s, nil
}

// NewWithPool uses an existing pool, which the caller keeps ownership of.
func NewWithPool(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, table: DefaultTable}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema creates the table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			position integer PRIMARY KEY,
			id       bigint  NOT NULL UNIQUE,
			doc      jsonb   NOT NULL
		)`, s.ident())
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// LoadAll returns every user in position order.
func (s *Store) LoadAll(ctx context.Context) ([]roster.User, error) {
	query := fmt.Sprintf(`SELECT doc FROM %s ORDER BY position`, s.ident())

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []roster.User
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		var u roster.User
		if err := json.Unmarshal(doc, &u); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// ReplaceAll deletes every row and copies users in, in one transaction.
func (s *Store) ReplaceAll(ctx context.Context, users []roster.User) error {
	rows := make([][]any, len(users))
	for i, u := range users {
		doc, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("encode user %d: %w", u.ID, err)
		}
		rows[i] = []any{int32(i), u.ID, doc}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, s.ident())); err != nil {
		return fmt.Errorf("clear users: %w", err)
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{s.table}, []string{"position", "id", "doc"}, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy users: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	s.log.Debugf("replaced %s with %d users", s.table, n)
	return nil
}

// Close closes the pool if the store created it.
func (s *Store) Close() error {
	if s.owned {
		s.pool.Close()
	}
	return nil
}

func (s *Store) ident() string {
	return pgx.Identifier{s.table}.Sanitize()
}
