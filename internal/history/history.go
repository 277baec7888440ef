// Package history keeps an audit log of completed transfers. It is never
// consulted to skip or resume a download.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

type Config struct {
	File      string `json:"file"`
	Url       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

// Enabled reports whether a store is configured at all.
func (config Config) Enabled() bool {
	return config.File != "" || config.Url != ""
}

// Open connects to a remote libsql database when Url is set and to a local
// sqlite file otherwise.
func (config Config) Open(ctx context.Context) (*Store, error) {
	var db *sql.DB
	var err error
	switch {
	case config.Url != "":
		dsn := config.Url
		if config.AuthToken != "" {
			u, err := url.Parse(config.Url)
			if err != nil {
				return nil, err
			}
			query := u.Query()
			query.Set("authToken", config.AuthToken)
			u.RawQuery = query.Encode()
			dsn = u.String()
		}
		db, err = sql.Open("libsql", dsn)
	case config.File != "":
		db, err = sql.Open("sqlite", config.File)
		if err == nil {
			db.SetMaxOpenConns(1)
		}
	default:
		return nil, fmt.Errorf("history: neither a file nor a url was specified")
	}
	if err != nil {
		return nil, err
	}

	store, err := NewStore(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

type Transfer struct {
	Source      string
	Filename    string
	Path        string
	Bytes       uint64
	CompletedAt time.Time
}

type Store struct {
	db *sql.DB
}

// NewStore applies the schema to db, the schema is idempotent.
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	_, err := db.ExecContext(ctx, Schema)
	if err != nil {
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Record(ctx context.Context, t Transfer) error {
	_, err := s.db.ExecContext(
		ctx,
		"insert into transfers(source, filename, path, bytes, completed_at) values (?, ?, ?, ?, ?)",
		t.Source,
		t.Filename,
		t.Path,
		int64(t.Bytes),
		t.CompletedAt.UnixMilli(),
	)
	return err
}

// List returns the most recent transfers first, limit <= 0 returns all of
// them.
func (s *Store) List(ctx context.Context, limit int) ([]Transfer, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(
		ctx,
		"select source, filename, path, bytes, completed_at from transfers order by completed_at desc, id desc limit ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transfer
	for rows.Next() {
		var t Transfer
		var bytes, completedAt int64
		err := rows.Scan(&t.Source, &t.Filename, &t.Path, &bytes, &completedAt)
		if err != nil {
			return nil, err
		}
		t.Bytes = uint64(bytes)
		t.CompletedAt = time.UnixMilli(completedAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
