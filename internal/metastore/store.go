package metastore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("fathomd.metastore.postgres")

var (
	// ErrNotFound indicates a missing row.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates bad arguments.
	ErrInvalidInput = errors.New("invalid input")
)

// DB is the subset of pgxpool.Pool the store uses. pgxmock satisfies it
// for tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides metadata persistence over PostgreSQL. The caller owns the
// pool and closes it.
type Store struct {
	db     DB
	logger *zap.Logger
}

// New creates a store using an existing pool or mock.
func New(db DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}
