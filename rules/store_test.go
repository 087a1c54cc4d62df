package rules

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
)

// Compile-time interface checks
var (
	_ Store           = (*InMemoryStore)(nil)
	_ OutputCommitter = (*InMemoryStore)(nil)
	_ Store           = (*SQLiteStore)(nil)
	_ OutputCommitter = (*SQLiteStore)(nil)
	_ Store           = (*PostgresStore)(nil)
	_ OutputCommitter = (*PostgresStore)(nil)
)

// testStoreConformance runs the behaviour every Store must share.
func testStoreConformance(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("rule CRUD", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		r := testRule("", 10, `(?P<n>\d+)`, "number", "$n")
		if err := store.AddRule(ctx, r); err != nil {
			t.Fatalf("AddRule() failed: %v", err)
		}
		if r.ID == "" {
			t.Fatal("AddRule() should assign an ID")
		}
		if r.CreatedAt.IsZero() {
			t.Error("AddRule() should set CreatedAt")
		}

		got, err := store.GetRule(ctx, r.ID)
		if err != nil {
			t.Fatalf("GetRule() failed: %v", err)
		}
		if got.SourcePattern != r.SourcePattern || got.OutputPattern != r.OutputPattern ||
			got.ApplicationOrder != 10 || !got.Active {
			t.Errorf("GetRule() = %+v, want %+v", got, r)
		}

		got.OutputPattern = "#$n"
		got.Active = false
		if err := store.UpdateRule(ctx, got); err != nil {
			t.Fatalf("UpdateRule() failed: %v", err)
		}
		updated, err := store.GetRule(ctx, r.ID)
		if err != nil {
			t.Fatalf("GetRule() after update failed: %v", err)
		}
		if updated.OutputPattern != "#$n" || updated.Active {
			t.Errorf("Update not stored: %+v", updated)
		}
		if !updated.CreatedAt.Equal(got.CreatedAt) {
			t.Errorf("CreatedAt changed from %v to %v", got.CreatedAt, updated.CreatedAt)
		}

		if err := store.DeleteRule(ctx, r.ID); err != nil {
			t.Fatalf("DeleteRule() failed: %v", err)
		}
		if _, err := store.GetRule(ctx, r.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetRule() after delete = %v, want ErrNotFound", err)
		}
	})

	t.Run("missing rules", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		// IDs that are not UUIDs must read as missing too, not as store failures
		for _, id := range []string{"00000000-0000-0000-0000-000000000000", "foo"} {
			missing := testRule(id, 1, "x", "a", "b")

			if _, err := store.GetRule(ctx, id); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetRule(%q) = %v, want ErrNotFound", id, err)
			}
			if err := store.UpdateRule(ctx, missing); !errors.Is(err, ErrNotFound) {
				t.Errorf("UpdateRule(%q) = %v, want ErrNotFound", id, err)
			}
			if err := store.DeleteRule(ctx, id); !errors.Is(err, ErrNotFound) {
				t.Errorf("DeleteRule(%q) = %v, want ErrNotFound", id, err)
			}
			if _, err := store.GetSourceLine(ctx, id); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetSourceLine(%q) = %v, want ErrNotFound", id, err)
			}
			if err := store.MarkProcessed(ctx, id); !errors.Is(err, ErrNotFound) {
				t.Errorf("MarkProcessed(%q) = %v, want ErrNotFound", id, err)
			}
		}
	})

	t.Run("unique application order", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		first := testRule("", 1, "a", "a", "a")
		second := testRule("", 2, "b", "b", "b")
		for _, r := range []*Rule{first, second} {
			if err := store.AddRule(ctx, r); err != nil {
				t.Fatalf("AddRule() failed: %v", err)
			}
		}

		rejected := testRule("", 1, "c", "c", "c")
		if err := store.AddRule(ctx, rejected); !errors.Is(err, ErrDuplicateOrder) {
			t.Errorf("AddRule() with taken order = %v, want ErrDuplicateOrder", err)
		}
		if rejected.ID != "" || !rejected.CreatedAt.IsZero() {
			t.Errorf("Rejected rule was modified: ID %q, CreatedAt %v", rejected.ID, rejected.CreatedAt)
		}

		second.ApplicationOrder = 1
		if err := store.UpdateRule(ctx, second); !errors.Is(err, ErrDuplicateOrder) {
			t.Errorf("UpdateRule() to taken order = %v, want ErrDuplicateOrder", err)
		}

		// Keeping its own order is fine
		first.OutputPattern = "changed"
		if err := store.UpdateRule(ctx, first); err != nil {
			t.Errorf("UpdateRule() keeping order failed: %v", err)
		}
	})

	t.Run("list rules by order", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		for _, order := range []int{30, 10, 20} {
			r := testRule("", order, "x", "a", "b")
			r.Active = order != 20
			if err := store.AddRule(ctx, r); err != nil {
				t.Fatalf("AddRule() failed: %v", err)
			}
		}

		all, err := store.ListRules(ctx)
		if err != nil {
			t.Fatalf("ListRules() failed: %v", err)
		}
		if got := orders(all); !slices.Equal(got, []int{10, 20, 30}) {
			t.Errorf("ListRules() orders = %v, want [10 20 30]", got)
		}

		active, err := store.ListActiveRules(ctx)
		if err != nil {
			t.Fatalf("ListActiveRules() failed: %v", err)
		}
		if got := orders(active); !slices.Equal(got, []int{10, 30}) {
			t.Errorf("ListActiveRules() orders = %v, want [10 30]", got)
		}
	})

	t.Run("source lines", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		line := &SourceLine{Fields: Fields{"text": "banana123", "source": "ledger"}}
		if err := store.AddSourceLine(ctx, line); err != nil {
			t.Fatalf("AddSourceLine() failed: %v", err)
		}
		if line.ID == "" || line.CreatedAt.IsZero() {
			t.Errorf("AddSourceLine() should fill ID and CreatedAt: %+v", line)
		}

		got, err := store.GetSourceLine(ctx, line.ID)
		if err != nil {
			t.Fatalf("GetSourceLine() failed: %v", err)
		}
		if got.Fields["text"] != "banana123" || got.Fields["source"] != "ledger" || got.Processed {
			t.Errorf("GetSourceLine() = %+v", got)
		}

		if _, err := store.GetSourceLine(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetSourceLine() missing = %v, want ErrNotFound", err)
		}
		if err := store.MarkProcessed(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, ErrNotFound) {
			t.Errorf("MarkProcessed() missing = %v, want ErrNotFound", err)
		}
	})

	t.Run("commit output", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		a := &SourceLine{Fields: Fields{"text": "a"}}
		b := &SourceLine{Fields: Fields{"text": "b"}}
		for _, l := range []*SourceLine{a, b} {
			if err := store.AddSourceLine(ctx, l); err != nil {
				t.Fatalf("AddSourceLine() failed: %v", err)
			}
		}

		committer, ok := store.(OutputCommitter)
		if !ok {
			t.Fatal("store should implement OutputCommitter")
		}

		out := &OutputLine{SourceLineID: a.ID, Fields: Fields{"text": "A"}}
		if err := committer.CommitOutput(ctx, out); err != nil {
			t.Fatalf("CommitOutput() failed: %v", err)
		}
		if out.ID == "" {
			t.Error("CommitOutput() should assign an ID")
		}

		// A second commit for the same source must not add an output
		if err := committer.CommitOutput(ctx, &OutputLine{SourceLineID: a.ID, Fields: Fields{"text": "again"}}); err == nil {
			t.Error("CommitOutput() for a processed source should fail")
		}

		pending, err := store.ListUnprocessed(ctx)
		if err != nil {
			t.Fatalf("ListUnprocessed() failed: %v", err)
		}
		if len(pending) != 1 || pending[0].ID != b.ID {
			t.Errorf("ListUnprocessed() = %v, want only %s", lineIDs(pending), b.ID)
		}

		outputs, err := store.ListOutputLines(ctx)
		if err != nil {
			t.Fatalf("ListOutputLines() failed: %v", err)
		}
		if len(outputs) != 1 || outputs[0].SourceLineID != a.ID || outputs[0].Fields["text"] != "A" {
			t.Errorf("ListOutputLines() = %+v", outputs)
		}

		all, err := store.ListSourceLines(ctx)
		if err != nil {
			t.Fatalf("ListSourceLines() failed: %v", err)
		}
		if len(all) != 2 {
			t.Errorf("ListSourceLines() returned %d lines, want 2", len(all))
		}
	})

	t.Run("create and mark separately", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		line := &SourceLine{Fields: Fields{"text": "x"}}
		if err := store.AddSourceLine(ctx, line); err != nil {
			t.Fatalf("AddSourceLine() failed: %v", err)
		}

		if err := store.CreateOutputLine(ctx, &OutputLine{SourceLineID: line.ID, Fields: Fields{"text": "X"}}); err != nil {
			t.Fatalf("CreateOutputLine() failed: %v", err)
		}
		if err := store.MarkProcessed(ctx, line.ID); err != nil {
			t.Fatalf("MarkProcessed() failed: %v", err)
		}

		got, err := store.GetSourceLine(ctx, line.ID)
		if err != nil {
			t.Fatalf("GetSourceLine() failed: %v", err)
		}
		if !got.Processed {
			t.Error("Line should be processed")
		}

		if err := store.CreateOutputLine(ctx, &OutputLine{SourceLineID: "00000000-0000-0000-0000-000000000000"}); err == nil {
			t.Error("CreateOutputLine() for a missing source should fail")
		}
	})

	t.Run("engine run", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		if err := store.AddRule(ctx, testRule("", 1, `banana(?P<n>\d+)`, "text", "Banana number=$n")); err != nil {
			t.Fatalf("AddRule() failed: %v", err)
		}
		line := &SourceLine{Fields: Fields{"text": "banana123"}}
		if err := store.AddSourceLine(ctx, line); err != nil {
			t.Fatalf("AddSourceLine() failed: %v", err)
		}

		en := NewEngine(store)
		report, err := en.Run(ctx)
		if err != nil {
			t.Fatalf("Run() failed: %v", err)
		}
		if report.Transformed != 1 {
			t.Errorf("Transformed = %d, want 1", report.Transformed)
		}

		report, err = en.Run(ctx)
		if err != nil {
			t.Fatalf("second Run() failed: %v", err)
		}
		if report.Transformed != 0 {
			t.Errorf("second run Transformed = %d, want 0", report.Transformed)
		}
	})
}

func TestInMemoryStore_Conformance(t *testing.T) {
	testStoreConformance(t, func(t *testing.T) Store {
		return NewInMemoryStore()
	})
}

// TestInMemoryStore_ReturnsCopies verifies callers cannot mutate stored state
func TestInMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	line := &SourceLine{Fields: Fields{"text": "original"}}
	if err := store.AddSourceLine(ctx, line); err != nil {
		t.Fatalf("AddSourceLine() failed: %v", err)
	}
	line.Fields["text"] = "mutated after add"

	got, _ := store.GetSourceLine(ctx, line.ID)
	got.Fields["text"] = "mutated after get"
	got.Processed = true

	again, _ := store.GetSourceLine(ctx, line.ID)
	if again.Fields["text"] != "original" || again.Processed {
		t.Errorf("Stored line was mutated: %+v", again)
	}
}

func TestInMemoryStore_InsertionOrder(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	var want []string
	for _, text := range []string{"c", "a", "b"} {
		l := &SourceLine{Fields: Fields{"text": text}}
		if err := store.AddSourceLine(ctx, l); err != nil {
			t.Fatalf("AddSourceLine() failed: %v", err)
		}
		want = append(want, l.ID)
	}

	got, _ := store.ListUnprocessed(ctx)
	if ids := lineIDs(got); !slices.Equal(ids, want) {
		t.Errorf("ListUnprocessed() = %v, want %v", ids, want)
	}
}

// TestInMemoryStore_ConcurrentAccess verifies thread safety
func TestInMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.AddRule(ctx, testRule("", i, "x", "a", "b"))
			_ = store.AddSourceLine(ctx, &SourceLine{Fields: Fields{"text": "x"}})
			_, _ = store.ListActiveRules(ctx)
			_, _ = store.ListUnprocessed(ctx)
		}(i)
	}
	wg.Wait()

	all, _ := store.ListRules(ctx)
	if len(all) != 50 {
		t.Errorf("Expected 50 rules, got %d", len(all))
	}
}

func orders(rules []*Rule) []int {
	out := make([]int, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.ApplicationOrder)
	}
	return out
}

func lineIDs(lines []*SourceLine) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.ID)
	}
	return out
}
