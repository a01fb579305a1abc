package org

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// recordingQuerier captures the SQL and arguments a store method ships.
type recordingQuerier struct {
	sql  string
	args []any
	row  pgx.Row
}

func (r *recordingQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.sql, r.args = sql, args
	return pgconn.CommandTag{}, nil
}

func (r *recordingQuerier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	r.sql, r.args = sql, args
	return nil, nil
}

func (r *recordingQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	r.sql, r.args = sql, args
	return r.row
}

// boolRow scans a single bool, as EXISTS queries return.
type boolRow bool

func (b boolRow) Scan(dest ...any) error {
	*(dest[0].(*bool)) = bool(b)
	return nil
}

func TestSlugExistsWithoutExclusionShipsNoIDParameter(t *testing.T) {
	q := &recordingQuerier{row: boolRow(false)}

	taken, err := NewStore().SlugExists(context.Background(), q, "acme", "")
	if err != nil {
		t.Fatalf("SlugExists() error = %v", err)
	}
	if taken {
		t.Error("SlugExists() = true, want false")
	}
	// The id column is a uuid; an empty exclusion id must never be sent as
	// a parameter or the comparison fails before the query runs.
	if len(q.args) != 1 {
		t.Fatalf("query shipped %d args (%v), want 1", len(q.args), q.args)
	}
	if strings.Contains(q.sql, "$2") {
		t.Errorf("query references $2 with no exclusion id: %s", q.sql)
	}
}

func TestSlugExistsWithExclusionFiltersByID(t *testing.T) {
	q := &recordingQuerier{row: boolRow(true)}

	taken, err := NewStore().SlugExists(context.Background(), q, "acme", "11111111-1111-1111-1111-111111111111")
	if err != nil {
		t.Fatalf("SlugExists() error = %v", err)
	}
	if !taken {
		t.Error("SlugExists() = false, want true")
	}
	if len(q.args) != 2 {
		t.Fatalf("query shipped %d args, want 2", len(q.args))
	}
	if !strings.Contains(q.sql, "id <> $2") {
		t.Errorf("query missing exclusion clause: %s", q.sql)
	}
}
