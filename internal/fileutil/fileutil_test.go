package fileutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDirNameRoundTrip(t *testing.T) {
	stamp := time.Date(2026, 3, 4, 5, 6, 7, 891234000, time.Local)
	name := DirName(stamp)
	if name != "20260304_050607891234" {
		t.Fatalf("unexpected name %q", name)
	}
	parsed, ok := ParseDirName(name)
	if !ok {
		t.Fatalf("ParseDirName(%q) failed", name)
	}
	if !parsed.Equal(stamp) {
		t.Fatalf("parsed %s, want %s", parsed, stamp)
	}
}

func TestParseDirNameRejectsForeignNames(t *testing.T) {
	for _, name := range []string{"", "lost+found", "20260304_050607", "20261399_050607000000", "20260304-050607891234"} {
		if _, ok := ParseDirName(name); ok {
			t.Fatalf("expected %q to be rejected", name)
		}
	}
}

func TestCreateSessionDirAvoidsCollisions(t *testing.T) {
	base := t.TempDir()
	now := time.Now()
	seen := map[string]bool{}
	for range 5 {
		dir, err := CreateSessionDir(base, now)
		if err != nil {
			t.Fatalf("CreateSessionDir: %v", err)
		}
		if seen[dir] {
			t.Fatalf("directory %s returned twice", dir)
		}
		seen[dir] = true
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory at %s: %v", dir, err)
		}
	}
}

func TestCreateSessionDirMissingBase(t *testing.T) {
	if _, err := CreateSessionDir(filepath.Join(t.TempDir(), "missing"), time.Now()); err == nil {
		t.Fatal("expected error for missing base directory")
	}
}

func TestPendingFileCommitAndAbort(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "A.csv")

	pending, err := CreatePending(dest)
	if err != nil {
		t.Fatalf("CreatePending: %v", err)
	}
	if _, err := pending.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Fatal("destination must not exist before commit")
	}
	if err := pending.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	pending.Abort()
	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "hello" {
		t.Fatalf("unexpected destination content %q %v", data, err)
	}

	aborted, err := CreatePending(filepath.Join(dir, "B.csv"))
	if err != nil {
		t.Fatalf("CreatePending: %v", err)
	}
	aborted.Abort()
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected only the committed file, got %d entries", len(entries))
	}
}

func TestBirthTimeIsRecentOrUnavailable(t *testing.T) {
	dir := t.TempDir()
	born, ok := BirthTime(dir)
	if !ok {
		t.Skip("filesystem does not record birth time")
	}
	if time.Since(born) > time.Hour || time.Until(born) > time.Minute {
		t.Fatalf("unexpected birth time %s", born)
	}
}
