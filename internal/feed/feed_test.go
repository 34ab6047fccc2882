package feed

import (
	"sync"
	"testing"

	"reelsync/internal/store"
)

func TestAppendAssignsIncreasingIDs(t *testing.T) {
	t.Parallel()
	f := New(0, nil)

	const workers = 8
	const perWorker = 100

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				f.Append(LevelInfo, "entry")
			}
		}()
	}
	wg.Wait()

	entries := f.EntriesAfter(0)
	if len(entries) != workers*perWorker {
		t.Fatalf("got %d entries, want %d", len(entries), workers*perWorker)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].ID != entries[i-1].ID+1 {
			t.Fatalf("gap or duplicate at index %d: %d after %d", i, entries[i].ID, entries[i-1].ID)
		}
	}
	if f.LastID() != uint64(workers*perWorker) {
		t.Fatalf("LastID = %d, want %d", f.LastID(), workers*perWorker)
	}
}

func TestEntriesAfterCursor(t *testing.T) {
	t.Parallel()
	f := New(0, nil)
	for i := 0; i < 5; i++ {
		f.Append(LevelInfo, "x")
	}

	got := f.EntriesAfter(3)
	if len(got) != 2 {
		t.Fatalf("got %d entries after cursor 3, want 2", len(got))
	}
	if got[0].ID != 4 || got[1].ID != 5 {
		t.Fatalf("unexpected ids: %d, %d", got[0].ID, got[1].ID)
	}

	// A cursor at the head returns nothing; ids are never reused.
	if got := f.EntriesAfter(f.LastID()); len(got) != 0 {
		t.Fatalf("expected empty tail, got %d entries", len(got))
	}
}

func TestRetentionDropsOldestKeepsIDs(t *testing.T) {
	t.Parallel()
	f := New(10, nil)
	for i := 0; i < 25; i++ {
		f.Append(LevelInfo, "x")
	}

	entries := f.EntriesAfter(0)
	if len(entries) != 10 {
		t.Fatalf("retained %d entries, want 10", len(entries))
	}
	if entries[0].ID != 16 || entries[len(entries)-1].ID != 25 {
		t.Fatalf("retained window [%d..%d], want [16..25]", entries[0].ID, entries[len(entries)-1].ID)
	}
}

func TestStatusCursorSeesEachTransitionOnce(t *testing.T) {
	t.Parallel()
	f := New(0, nil)
	f.MarkStatus("a", store.StatusProcessing, "")
	f.MarkStatus("a", store.StatusCompleted, "")
	f.MarkStatus("b", store.StatusFailed, "boom")

	first := f.StatusAfter(0)
	if len(first) != 3 {
		t.Fatalf("got %d changes, want 3", len(first))
	}
	cursor := first[len(first)-1].Seq

	if rest := f.StatusAfter(cursor); len(rest) != 0 {
		t.Fatalf("expected no changes after cursor, got %d", len(rest))
	}

	f.MarkStatus("c", store.StatusProcessing, "")
	rest := f.StatusAfter(cursor)
	if len(rest) != 1 || rest[0].TaskID != "c" {
		t.Fatalf("unexpected tail: %+v", rest)
	}
}
