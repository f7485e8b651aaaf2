// Package pg persists ranked collections in PostgreSQL through the pgx
// database/sql driver.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"agora.org/internal/ranked"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrSerialization       = "40001"
)

// table describes where a kind lives.
type table struct {
	name    string
	ordinal string
	// owner is the column referencing the owning kind, if any.
	owner string
}

var tables = map[ranked.Kind]table{
	ranked.KindRole:  {name: "roles", ordinal: "level"},
	ranked.KindBoard: {name: "boards", ordinal: "priority", owner: "role_id"},
}

// membership describes where the members of a collection point at their owner.
type membership struct {
	table  string
	column string
}

var memberships = map[ranked.Collection]membership{
	ranked.CollectionUsers:  {table: "users", column: "role_id"},
	ranked.CollectionBoards: {table: "boards", column: "role_id"},
	ranked.CollectionPosts:  {table: "posts", column: "board_id"},
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ ranked.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db), nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	return s.db.PingContext(ctx)
}

// WithinTx runs fn in a serializable transaction holding the advisory lock of
// kind, so writers of one kind never interleave.
func (s *Store) WithinTx(ctx context.Context, kind ranked.Kind, fn func(ctx context.Context, tx ranked.Tx) error) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	if _, ok := tables[kind]; !ok {
		return fmt.Errorf("%w: unknown kind %q", ranked.ErrInvalidInput, kind)
	}
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if _, err := sqlTx.ExecContext(ctx, `select pg_advisory_xact_lock(hashtext($1))`, "ranked:"+string(kind)); err != nil {
		return err
	}
	if err := fn(ctx, &txn{tx: sqlTx, kind: kind, now: s.now}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return commitError(err)
	}
	return nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// commitError maps violations of deferred constraints and serialization
// failures surfacing at commit time.
func commitError(err error) error {
	pgErr, ok := maybePgError(err)
	if !ok {
		return err
	}
	switch pgErr.Code {
	case pgErrUniqueViolation:
		return fmt.Errorf("%w: %s", ranked.ErrConflict, pgErr.ConstraintName)
	case pgErrSerialization:
		return fmt.Errorf("%w: concurrent modification, retry", ranked.ErrConflict)
	}
	return err
}
