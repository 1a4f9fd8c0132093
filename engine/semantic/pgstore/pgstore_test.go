package pgstore

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/mffacts/mffacts/engine/domain"
	"github.com/mffacts/mffacts/engine/semantic"
)

type fakeBatch struct {
	execErr error
	execs   int
	closed  bool
}

func (b *fakeBatch) Exec() (pgconn.CommandTag, error) {
	b.execs++
	return pgconn.CommandTag{}, b.execErr
}
func (b *fakeBatch) Query() (pgx.Rows, error) { return nil, errors.New("not implemented") }
func (b *fakeBatch) QueryRow() pgx.Row         { return nil }
func (b *fakeBatch) Close() error              { b.closed = true; return nil }

type fakeDB struct {
	execs   []string
	execErr error
	batch   *pgx.Batch
	results *fakeBatch
	query   string
	args    []any
}

func (f *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	return pgconn.CommandTag{}, f.execErr
}
func (f *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.query, f.args = sql, args
	return nil, errors.New("query failed")
}
func (f *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	f.batch = b
	return f.results
}

func TestNew_RejectsBadTableNames(t *testing.T) {
	for _, name := range []string{"passages; DROP TABLE x", "Passages", "1abc", ""} {
		if _, err := New(&fakeDB{}, name); err == nil {
			t.Errorf("New(%q) accepted invalid table name", name)
		}
	}
	if _, err := New(&fakeDB{}, "mf_passages"); err != nil {
		t.Errorf("valid name rejected: %v", err)
	}
}

func TestReset_Statements(t *testing.T) {
	db := &fakeDB{}
	s, _ := New(db, "passages")
	if err := s.Reset(context.Background(), 1536); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if len(db.execs) != 3 {
		t.Fatalf("expected 3 statements, got %d", len(db.execs))
	}
	if !strings.Contains(db.execs[1], "DROP TABLE IF EXISTS passages") {
		t.Errorf("unexpected drop: %s", db.execs[1])
	}
	if !strings.Contains(db.execs[2], "vector(1536)") {
		t.Errorf("unexpected create: %s", db.execs[2])
	}
}

func TestReset_Errors(t *testing.T) {
	s, _ := New(&fakeDB{execErr: errors.New("boom")}, "passages")
	if err := s.Reset(context.Background(), 4); err == nil {
		t.Fatal("expected exec error")
	}
	if err := s.Reset(context.Background(), 0); err == nil {
		t.Fatal("expected dimension error")
	}
}

func TestUpsert_QueuesOneRowPerRecord(t *testing.T) {
	db := &fakeDB{results: &fakeBatch{}}
	s, _ := New(db, "passages")
	recs := []semantic.Record{
		{Passage: domain.Passage{ID: "a_chunk0", Text: "Exit load nil"}, Embedding: []float32{1, 0}},
		{Passage: domain.Passage{ID: "a_chunk1", Text: "SIP ₹100"}, Embedding: []float32{0, 1}},
	}
	if err := s.Upsert(context.Background(), recs); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if db.batch.Len() != 2 || db.results.execs != 2 || !db.results.closed {
		t.Errorf("batch len=%d execs=%d closed=%v", db.batch.Len(), db.results.execs, db.results.closed)
	}
}

func TestUpsert_EmptyAndError(t *testing.T) {
	db := &fakeDB{results: &fakeBatch{execErr: errors.New("conflict")}}
	s, _ := New(db, "passages")
	if err := s.Upsert(context.Background(), nil); err != nil {
		t.Fatalf("empty upsert: %v", err)
	}
	if db.batch != nil {
		t.Fatal("empty upsert must not send a batch")
	}
	err := s.Upsert(context.Background(), []semantic.Record{{Passage: domain.Passage{ID: "x"}, Embedding: []float32{1}}})
	if err == nil {
		t.Fatal("expected batch error")
	}
}

func TestSearch_QueryArgs(t *testing.T) {
	db := &fakeDB{}
	s, _ := New(db, "passages")
	if _, err := s.Search(context.Background(), []float32{0.5, 1}, 10); err == nil {
		t.Fatal("expected query error")
	}
	if !strings.Contains(db.query, "FROM passages ORDER BY embedding <=> $1::vector LIMIT $2") {
		t.Errorf("unexpected query: %s", db.query)
	}
	if len(db.args) != 2 || db.args[1] != 10 {
		t.Fatalf("unexpected args: %v", db.args)
	}
	vec, ok := db.args[0].(pgvector.Vector)
	if !ok || !reflect.DeepEqual(vec.Slice(), []float32{0.5, 1}) {
		t.Errorf("embedding arg = %#v", db.args[0])
	}
}

func TestUpsert_EncodesEmbeddings(t *testing.T) {
	db := &fakeDB{results: &fakeBatch{}}
	s, _ := New(db, "passages")
	rec := semantic.Record{Passage: domain.Passage{ID: "a_chunk0", Text: "Exit load nil"}, Embedding: []float32{1, -0.25}}
	if err := s.Upsert(context.Background(), []semantic.Record{rec}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	args := db.batch.QueuedQueries[0].Arguments
	vec, ok := args[len(args)-1].(pgvector.Vector)
	if !ok || !reflect.DeepEqual(vec.Slice(), rec.Embedding) {
		t.Errorf("embedding arg = %#v", args[len(args)-1])
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("₹₹₹₹", 2); got != "₹₹" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("abc", 5); got != "abc" {
		t.Errorf("truncate = %q", got)
	}
}
