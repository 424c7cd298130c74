package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	store, err := Open(ctx, filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() }) //nolint:errcheck
	return store
}

func TestRecordAndGet(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	submitted := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	err := store.RecordSubmission(ctx, Entry{
		TaskID:      "task-1",
		ScriptID:    "script-9",
		ScriptName:  "Disk Cleanup",
		CompanyID:   "co-1",
		EndpointIDs: []string{"ep-1", "ep-2"},
		SubmittedAt: submitted,
	})
	if err != nil {
		t.Fatalf("record submission: %v", err)
	}

	entry, err := store.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if entry.ScriptName != "Disk Cleanup" || !entry.SubmittedAt.Equal(submitted) {
		t.Fatalf("entry = %+v", entry)
	}
	if len(entry.EndpointIDs) != 2 || entry.EndpointIDs[0] != "ep-1" {
		t.Fatalf("endpoint ids = %v", entry.EndpointIDs)
	}
	if entry.Outcome != "" || entry.CompletedAt != nil || entry.Total != nil {
		t.Fatalf("fresh entry must have no outcome: %+v", entry)
	}
}

func TestRecordOutcome(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	submitted := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := store.RecordSubmission(ctx, Entry{TaskID: "task-1", ScriptID: "s", SubmittedAt: submitted}); err != nil {
		t.Fatalf("record submission: %v", err)
	}

	total := 125 * time.Second
	completed := submitted.Add(total)
	if err := store.RecordOutcome(ctx, "task-1", "DONE", completed, &total); err != nil {
		t.Fatalf("record outcome: %v", err)
	}

	entry, err := store.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if entry.Outcome != "DONE" {
		t.Errorf("outcome = %q, want DONE", entry.Outcome)
	}
	if entry.CompletedAt == nil || !entry.CompletedAt.Equal(completed) {
		t.Errorf("completedAt = %v, want %v", entry.CompletedAt, completed)
	}
	if entry.Total == nil || *entry.Total != total {
		t.Errorf("total = %v, want %v", entry.Total, total)
	}

	if err := store.RecordOutcome(ctx, "missing", "DONE", completed, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("outcome for unknown task: err = %v, want ErrNotFound", err)
	}
}

func TestRecentOrdersNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"t1", "t2", "t3"} {
		err := store.RecordSubmission(ctx, Entry{
			TaskID:      id,
			ScriptID:    "s",
			SubmittedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("record %s: %v", id, err)
		}
	}

	entries, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 2 || entries[0].TaskID != "t3" || entries[1].TaskID != "t2" {
		t.Fatalf("recent = %+v, want t3 then t2", entries)
	}
}

func TestResubmissionOverwrites(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.RecordSubmission(ctx, Entry{TaskID: "t1", ScriptID: "old"}); err != nil {
		t.Fatalf("first submission: %v", err)
	}
	if err := store.RecordSubmission(ctx, Entry{TaskID: "t1", ScriptID: "new"}); err != nil {
		t.Fatalf("second submission: %v", err)
	}
	entry, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry.ScriptID != "new" {
		t.Errorf("script id = %q, want new", entry.ScriptID)
	}
}
