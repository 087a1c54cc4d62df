package rules

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "rules.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_Conformance(t *testing.T) {
	testStoreConformance(t, func(t *testing.T) Store {
		return newTestSQLiteStore(t)
	})
}

func TestNewSQLiteStore_EmptyPath(t *testing.T) {
	if _, err := NewSQLiteStore(""); err == nil {
		t.Error("Expected error for empty path")
	}
}

// TestSQLiteStore_Reopen verifies data survives closing the database
func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() failed: %v", err)
	}
	if err := store.AddRule(ctx, testRule("", 1, `(?P<n>\d+)`, "number", "$n")); err != nil {
		t.Fatalf("AddRule() failed: %v", err)
	}
	line := &SourceLine{Fields: Fields{"text": "12"}}
	if err := store.AddSourceLine(ctx, line); err != nil {
		t.Fatalf("AddSourceLine() failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	if err := reopened.Ping(ctx); err != nil {
		t.Fatalf("Ping() failed: %v", err)
	}

	report, err := NewEngine(reopened).Run(ctx)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if report.Transformed != 1 {
		t.Errorf("Transformed = %d, want 1", report.Transformed)
	}

	got, err := reopened.GetSourceLine(ctx, line.ID)
	if err != nil {
		t.Fatalf("GetSourceLine() failed: %v", err)
	}
	if !got.Processed {
		t.Error("Line should be processed after the run")
	}
	if !got.CreatedAt.Equal(line.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, line.CreatedAt)
	}
}

// TestSQLiteStore_UnprocessedInInsertionOrder verifies lines come back in
// the order they were added
func TestSQLiteStore_UnprocessedInInsertionOrder(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	var want []string
	for _, text := range []string{"c", "a", "b"} {
		l := &SourceLine{Fields: Fields{"text": text}}
		if err := store.AddSourceLine(ctx, l); err != nil {
			t.Fatalf("AddSourceLine() failed: %v", err)
		}
		want = append(want, l.ID)
	}

	got, err := store.ListUnprocessed(ctx)
	if err != nil {
		t.Fatalf("ListUnprocessed() failed: %v", err)
	}
	ids := lineIDs(got)
	if len(ids) != len(want) {
		t.Fatalf("ListUnprocessed() = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ListUnprocessed()[%d] = %s, want %s", i, ids[i], want[i])
		}
	}
}
