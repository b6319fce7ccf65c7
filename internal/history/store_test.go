package history

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func openStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := Path(filepath.Join(t.TempDir(), "state"))
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("Close returned error: %v", err)
		}
	})
	return store, path
}

func TestRecordPersistsEntries(t *testing.T) {
	store, path := openStore(t)
	err := store.Record(context.Background(),
		Entry{RecordedAt: time.Unix(1700000000, 0), Session: "s1", Stack: "shop", Cycle: 1, Function: "a", Image: "sha256:aa", Port: 49152, Status: StatusRunning},
		Entry{RecordedAt: time.Unix(1700000000, 0), Session: "s1", Stack: "shop", Cycle: 1, Function: "b", Status: StatusBuildFailed, Error: "exit 3"},
	)
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}

	verifyDB, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open verification db: %v", err)
	}
	defer verifyDB.Close()
	var count int
	if err := verifyDB.QueryRow(`SELECT COUNT(*) FROM cycles WHERE session = 's1'`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 rows, got %d", count)
	}
}

func TestRecentReturnsNewestFirst(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	for cycle := 1; cycle <= 3; cycle++ {
		if err := store.Record(ctx, Entry{Session: "s1", Stack: "shop", Cycle: cycle, Function: "a", Status: StatusRunning, Port: 49152 + cycle}); err != nil {
			t.Fatalf("Record returned error: %v", err)
		}
	}
	got, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Cycle != 3 || got[1].Cycle != 2 {
		t.Fatalf("expected cycles 3 then 2, got %d then %d", got[0].Cycle, got[1].Cycle)
	}
	if got[0].Port != 49155 || got[0].RecordedAt.IsZero() {
		t.Fatalf("unexpected entry: %+v", got[0])
	}
}

func TestNilStoreRecordsNothing(t *testing.T) {
	var store *Store
	if err := store.Record(context.Background(), Entry{Function: "a"}); err != nil {
		t.Fatalf("expected nil store to be a no-op, got %v", err)
	}
}
