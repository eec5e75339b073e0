package history

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"daqserver/internal/device"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testConfig() device.Config {
	return device.Config{ResistorValues: []float64{0.01, 0.02}, Labels: []string{"A", "B"}}.Normalize()
}

func TestSessionLifecycleIsRecorded(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	clock := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }

	id, err := store.Configured(ctx, "/data/20260501_100000000000", testConfig())
	if err != nil {
		t.Fatalf("Configured: %v", err)
	}
	clock = clock.Add(time.Minute)
	if err := store.Started(ctx, id); err != nil {
		t.Fatalf("Started: %v", err)
	}
	clock = clock.Add(time.Minute)
	if err := store.Stopped(ctx, id); err != nil {
		t.Fatalf("Stopped: %v", err)
	}
	clock = clock.Add(time.Minute)
	if err := store.Ended(ctx, id, EndClosed); err != nil {
		t.Fatalf("Ended: %v", err)
	}

	records, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.State != StateEnded || rec.EndReason != EndClosed {
		t.Fatalf("unexpected state %q reason %q", rec.State, rec.EndReason)
	}
	if !slices.Equal(rec.Labels, []string{"A", "B"}) || rec.DeviceID != "Dev1" || rec.SamplingRate != 10000 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.StartedAt == nil || !rec.StartedAt.Equal(time.Date(2026, 5, 1, 10, 1, 0, 0, time.UTC)) {
		t.Fatalf("unexpected started_at %v", rec.StartedAt)
	}
	if rec.EndedAt == nil || rec.ReclaimedAt != nil {
		t.Fatalf("unexpected end timestamps %v %v", rec.EndedAt, rec.ReclaimedAt)
	}

	if err := store.Started(ctx, id); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ended session to reject updates, got %v", err)
	}
}

func TestReclaimedDirectoryEndsOpenSessions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	replaced, err := store.Configured(ctx, "/data/old", testConfig())
	if err != nil {
		t.Fatalf("Configured: %v", err)
	}
	if err := store.Ended(ctx, replaced, EndReplaced); err != nil {
		t.Fatalf("Ended: %v", err)
	}
	abandoned, err := store.Configured(ctx, "/data/abandoned", testConfig())
	if err != nil {
		t.Fatalf("Configured: %v", err)
	}

	for _, dir := range []string{"/data/old", "/data/abandoned"} {
		if err := store.ReclaimedDirectory(ctx, dir); err != nil {
			t.Fatalf("ReclaimedDirectory(%s): %v", dir, err)
		}
	}

	records, err := store.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	byID := map[int64]Record{}
	for _, rec := range records {
		byID[rec.ID] = rec
	}
	if rec := byID[replaced]; rec.EndReason != EndReplaced || rec.ReclaimedAt == nil {
		t.Fatalf("replaced session should keep its reason and gain reclaimed_at: %+v", rec)
	}
	if rec := byID[abandoned]; rec.EndReason != EndReclaimed || rec.State != StateEnded || rec.ReclaimedAt == nil {
		t.Fatalf("abandoned session should be ended as reclaimed: %+v", rec)
	}
	if records[0].ID != abandoned {
		t.Fatalf("expected newest record first, got %d", records[0].ID)
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	store.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	db.Close()

	if _, err := Open(path); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}

	reopened, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.Exec("UPDATE schema_version SET version = ?", schemaVersion); err != nil {
		t.Fatalf("restore version: %v", err)
	}
	store, err = Open(path)
	if err != nil {
		t.Fatalf("reopen after restore: %v", err)
	}
	store.Close()
}
