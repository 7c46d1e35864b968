// Package pgx implements store.GraphStore on PostgreSQL with pgvector for
// seed resolution. Merge arithmetic runs inside SQL (ON CONFLICT updates),
// so concurrent extraction jobs never lose mention or weight increments.
package pgx

import (
	"context"
	"errors"

	"github.com/latticehq/lattice/backend/pkg/ai"
	"github.com/latticehq/lattice/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// GraphDBStorage implements the GraphStore interface on PostgreSQL. The
// optional AI client is only used to embed node descriptions after batch
// merges; every graph-semantic decision happens in SQL.
type GraphDBStorage struct {
	conn     pgxIConn
	aiClient ai.GraphAIClient
}

var _ store.GraphStore = (*GraphDBStorage)(nil)

type GraphDBStorageOption func(*GraphDBStorage)

// WithAIClient enables embedding updates for merged nodes, which in turn
// enables similarity-based seed resolution.
func WithAIClient(client ai.GraphAIClient) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		s.aiClient = client
	}
}

// NewGraphDBStorage creates a GraphDBStorage using an existing connection
// or pool.
func NewGraphDBStorage(conn pgxIConn, opts ...GraphDBStorageOption) *GraphDBStorage {
	s := &GraphDBStorage{conn: conn}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

// isForeignKeyViolation reports a 23503 error, raised when an edge upsert
// references a node that does not exist.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
