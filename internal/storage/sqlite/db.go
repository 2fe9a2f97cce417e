// Package sqlite is the local store: documents, the invocation log,
// feedback and per-identity quotas, on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"runtime"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DefaultQuota is the number of asks a new identity starts with.
const DefaultQuota = 5

// Store is a SQLite database with a single writer and a pool of readers.
type Store struct {
	write *sql.DB
	read  *sql.DB

	defaultQuota int
}

// Option configures a Store.
type Option func(*Store)

// WithDefaultQuota sets the starting quota for identities seen for the
// first time.
func WithDefaultQuota(n int) Option {
	return func(s *Store) { s.defaultQuota = n }
}

// New opens the database at dsn, runs migrations, and returns a Store.
// dsn may be ":memory:".
func New(dsn string, opts ...Option) (*Store, error) {
	pragmas := "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"

	// Shared cache so both pools see the same in-memory database.
	var fullDSN string
	if dsn == ":memory:" {
		fullDSN = "file::memory:?mode=memory&cache=shared&" + pragmas
	} else {
		fullDSN = "file:" + dsn + "?" + pragmas
	}

	write, err := sql.Open("sqlite", fullDSN)
	if err != nil {
		return nil, fmt.Errorf("open write db: %w", err)
	}
	write.SetMaxOpenConns(1)

	read, err := sql.Open("sqlite", fullDSN)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open read db: %w", err)
	}
	read.SetMaxOpenConns(max(4, runtime.NumCPU()))

	if err := runMigrations(write); err != nil {
		write.Close()
		read.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	// Reservations do not survive a restart; their asks never settled.
	if _, err := write.Exec(`UPDATE quotas SET reserved = 0 WHERE reserved <> 0`); err != nil {
		write.Close()
		read.Close()
		return nil, fmt.Errorf("reset quota reservations: %w", err)
	}

	s := &Store{write: write, read: read, defaultQuota: DefaultQuota}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func runMigrations(db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("sub fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	_, err = provider.Up(context.Background())
	return err
}

// Ping checks the read pool.
func (s *Store) Ping(ctx context.Context) error {
	return s.read.PingContext(ctx)
}

// Close closes both pools.
func (s *Store) Close() error {
	return errors.Join(s.write.Close(), s.read.Close())
}
