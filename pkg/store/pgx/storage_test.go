package pgx

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/latticehq/lattice/backend/pkg/common"
	"github.com/latticehq/lattice/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakeCall struct {
	sql  string
	args []any
}

// fakeConn scripts single-row responses so SQL-level decisions (guards,
// argument construction) are testable without a database.
type fakeConn struct {
	execTag  pgconn.CommandTag
	execs    []fakeCall
	queryRow func(sql string, args []any) pgxv5.Row
}

func (f *fakeConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, fakeCall{sql: sql, args: args})
	return f.execTag, nil
}

func (f *fakeConn) Query(ctx context.Context, sql string, args ...any) (pgxv5.Rows, error) {
	return nil, errors.New("unexpected Query: " + sql)
}

func (f *fakeConn) QueryRow(ctx context.Context, sql string, args ...any) pgxv5.Row {
	return f.queryRow(sql, args)
}

func (f *fakeConn) Begin(ctx context.Context) (pgxv5.Tx, error) {
	return nil, errors.New("unexpected Begin")
}

func TestCompleteExtractionJobGuardsTerminalStatus(t *testing.T) {
	conn := &fakeConn{execTag: pgconn.NewCommandTag("UPDATE 1")}
	s := NewGraphDBStorage(conn)

	if err := s.CompleteExtractionJob(context.Background(), "job-1", 5, 3); err != nil {
		t.Fatalf("CompleteExtractionJob: %v", err)
	}
	if len(conn.execs) != 1 {
		t.Fatalf("expected 1 update, got %d", len(conn.execs))
	}
	if !strings.Contains(conn.execs[0].sql, "status NOT IN") {
		t.Fatalf("finish update must exclude terminal jobs:\n%s", conn.execs[0].sql)
	}
	args := conn.execs[0].args
	if args[4] != common.JobCompleted || args[5] != common.JobFailed {
		t.Fatalf("terminal guard args wrong: %v", args)
	}
}

func TestFailExtractionJobAfterCompletionIsNoOp(t *testing.T) {
	conn := &fakeConn{
		execTag: pgconn.NewCommandTag("UPDATE 0"),
		queryRow: func(sql string, args []any) pgxv5.Row {
			return fakeRow{scan: func(dest ...any) error {
				*(dest[0].(*string)) = "job-1"
				*(dest[4].(*common.JobStatus)) = common.JobCompleted
				return nil
			}}
		},
	}
	s := NewGraphDBStorage(conn)

	if err := s.FailExtractionJob(context.Background(), "job-1", "late failure"); err != nil {
		t.Fatalf("failing a completed job must be a no-op, got %v", err)
	}
	if !strings.Contains(conn.execs[0].sql, "status NOT IN") {
		t.Fatalf("fail update must exclude terminal jobs:\n%s", conn.execs[0].sql)
	}
}

func TestFinishExtractionJobUnknownID(t *testing.T) {
	conn := &fakeConn{
		execTag: pgconn.NewCommandTag("UPDATE 0"),
		queryRow: func(sql string, args []any) pgxv5.Row {
			return fakeRow{scan: func(dest ...any) error { return pgxv5.ErrNoRows }}
		},
	}
	s := NewGraphDBStorage(conn)

	if err := s.CompleteExtractionJob(context.Background(), "missing", 1, 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertNodePropertiesUnionAndMaxSalience(t *testing.T) {
	var upsertArgs []any
	conn := &fakeConn{
		queryRow: func(sql string, args []any) pgxv5.Row {
			if strings.Contains(sql, "FOR UPDATE") {
				return fakeRow{scan: func(dest ...any) error {
					*(dest[0].(*common.Properties)) = common.Properties{
						Aliases:  []string{"Acme", "ACME Inc"},
						Salience: 0.8,
					}
					return nil
				}}
			}
			upsertArgs = args
			return fakeRow{scan: func(dest ...any) error {
				*(dest[0].(*string)) = "node-1"
				return nil
			}}
		},
	}

	_, err := upsertNodeTx(context.Background(), conn, 1, store.NodeEvidence{
		EntityType: "organization",
		Name:       "Acme",
		Properties: common.Properties{
			Aliases:  []string{"acme", "Acme Corp"},
			Salience: 0.4,
		},
	})
	if err != nil {
		t.Fatalf("upsertNodeTx: %v", err)
	}

	props, ok := upsertArgs[6].(common.Properties)
	if !ok {
		t.Fatalf("properties argument has type %T", upsertArgs[6])
	}
	if got := strings.Join(props.Aliases, "|"); got != "Acme|ACME Inc|Acme Corp" {
		t.Fatalf("aliases not unioned case-insensitively: %q", got)
	}
	if props.Salience != 0.8 {
		t.Fatalf("salience must keep its maximum, got %v", props.Salience)
	}
}

func TestUpsertNodePropertiesFirstEvidence(t *testing.T) {
	var upsertArgs []any
	conn := &fakeConn{
		queryRow: func(sql string, args []any) pgxv5.Row {
			if strings.Contains(sql, "FOR UPDATE") {
				return fakeRow{scan: func(dest ...any) error { return pgxv5.ErrNoRows }}
			}
			upsertArgs = args
			return fakeRow{scan: func(dest ...any) error {
				*(dest[0].(*string)) = "node-1"
				return nil
			}}
		},
	}

	_, err := upsertNodeTx(context.Background(), conn, 1, store.NodeEvidence{
		EntityType: "organization",
		Name:       "Acme",
		Properties: common.Properties{Aliases: []string{"Acme Corp"}},
	})
	if err != nil {
		t.Fatalf("upsertNodeTx: %v", err)
	}

	props := upsertArgs[6].(common.Properties)
	if len(props.Aliases) != 1 || props.Aliases[0] != "Acme Corp" {
		t.Fatalf("first evidence bag must pass through unchanged: %+v", props)
	}
}
