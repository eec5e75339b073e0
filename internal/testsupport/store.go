package testsupport

import (
	"context"
	"path/filepath"
	"testing"

	"daqserver/internal/history"
)

// MustOpenHistory opens a history.Store in a temp directory and registers cleanup.
func MustOpenHistory(t testing.TB) *history.Store {
	t.Helper()

	store, err := history.Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// RecentSessions lists the newest session records or fails the test.
func RecentSessions(t testing.TB, store *history.Store) []history.Record {
	t.Helper()

	records, err := store.Recent(context.Background(), 50)
	if err != nil {
		t.Fatalf("store.Recent: %v", err)
	}
	return records
}
