package pgstore

import (
	"context"
	"embed"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/billing/pkg/billing"
	"github.com/dmitrymomot/billing/pkg/pg"
)

// Migrations holds the goose migrations creating the billing schema.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations that holds the SQL files.
const MigrationsDir = "migrations"

// DB is the subset of pgx used by the store.
// *pgxpool.Pool, pgx.Tx and pgxmock pools satisfy it.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements billing.Store on PostgreSQL.
type Store struct {
	db   DB
	inTx bool
}

// New creates a store over db.
func New(db DB) *Store {
	if db == nil {
		panic("pgstore: db is required")
	}
	return &Store{db: db}
}

// InTx implements billing.Store. A store already bound to a transaction
// runs fn in that transaction. Serialization failures and deadlocks are
// reported as billing.ErrConcurrentUpdate so callers retry the unit of work.
func (s *Store) InTx(ctx context.Context, fn func(tx billing.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	err := pg.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		return fn(&Store{db: tx, inTx: true})
	})
	if pg.IsSerializationError(err) {
		return errors.Join(billing.ErrConcurrentUpdate, err)
	}
	return err
}

var (
	_ billing.Store        = (*Store)(nil)
	_ billing.OutboxSource = (*Store)(nil)
)

type scanner interface {
	Scan(dest ...any) error
}

// where accumulates AND-ed conditions with positional arguments.
// Each '?' in a condition is replaced by the next $n placeholder.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	for _, arg := range args {
		w.args = append(w.args, arg)
		cond = strings.Replace(cond, "?", "$"+strconv.Itoa(len(w.args)), 1)
	}
	w.conds = append(w.conds, cond)
}

func (w *where) window(column string, win billing.Window) {
	if win.Start != nil {
		w.add(column+" >= ?", *win.Start)
	}
	if win.End != nil {
		w.add(column+" < ?", *win.End)
	}
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
