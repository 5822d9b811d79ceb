package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/afoley587/coding-challenges-2025/grpc-user-service/internal/codec"
)

const pgUniqueViolation = "23505"

const createUsersTable = `
CREATE TABLE IF NOT EXISTS users (
	id            UUID PRIMARY KEY,
	email         TEXT        NOT NULL,
	date_of_birth TIMESTAMPTZ NOT NULL,
	password_hash TEXT        NOT NULL,
	metadata      JSONB       NOT NULL DEFAULT '{}'::jsonb,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const userColumns = `id, email, date_of_birth, password_hash, metadata, created_at`

// PostgresStore is an implementation of UserStore backed by a PostgreSQL
// "users" table.  Metadata is kept in a JSONB column.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a connection pool for databaseURL and verifies
// connectivity.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate creates the users table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createUsersTable); err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Insert stores rec.  A primary key violation maps to ErrDuplicateID.
func (s *PostgresStore) Insert(ctx context.Context, rec *Record) (*Record, error) {
	r := prepare(rec)
	meta, err := codec.EncodeStruct(r.Metadata)
	if err != nil {
		return nil, err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.Email, r.DateOfBirth, r.PasswordHash, meta, r.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrDuplicateID
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return r.Clone(), nil
}

// Get retrieves a user by id.  It returns (nil, nil) if the user does not
// exist.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	r, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return r, nil
}

// List streams the table in creation order.  Rows are read from the
// connection as the cursor advances; closing the cursor releases the
// connection back to the pool.
func (s *PostgresStore) List(ctx context.Context) (Cursor, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return &pgCursor{rows: rows}, nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		r    Record
		meta []byte
	)
	if err := row.Scan(&r.ID, &r.Email, &r.DateOfBirth, &r.PasswordHash, &meta, &r.CreatedAt); err != nil {
		return nil, err
	}
	m, err := codec.DecodeStruct(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to decode metadata of user %s: %w", r.ID, err)
	}
	r.Metadata = m
	r.DateOfBirth = r.DateOfBirth.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

type pgCursor struct {
	rows pgx.Rows
	cur  *Record
	err  error
}

func (c *pgCursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		c.rows.Close()
		return false
	}
	if !c.rows.Next() {
		c.cur = nil
		if err := c.rows.Err(); err != nil {
			c.err = fmt.Errorf("failed to iterate users: %w", err)
		}
		return false
	}
	r, err := scanRecord(c.rows)
	if err != nil {
		c.err = fmt.Errorf("failed to scan user: %w", err)
		c.rows.Close()
		return false
	}
	c.cur = r
	return true
}

func (c *pgCursor) Record() *Record { return c.cur }

func (c *pgCursor) Err() error { return c.err }

func (c *pgCursor) Close() error {
	c.rows.Close()
	c.cur = nil
	return nil
}
