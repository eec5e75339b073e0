package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// PendingFile is written under a temporary name next to its destination and
// renamed into place by Commit. Abort, or a failed Commit, removes it.
type PendingFile struct {
	*os.File
	dest string
	done bool
}

// CreatePending opens a temporary file in the directory of dest.
func CreatePending(dest string) (*PendingFile, error) {
	file, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".partial-*")
	if err != nil {
		return nil, fmt.Errorf("create temporary file for %s: %w", dest, err)
	}
	return &PendingFile{File: file, dest: dest}, nil
}

// Commit flushes the file and moves it to its destination.
func (p *PendingFile) Commit() error {
	if p.done {
		return nil
	}
	p.done = true
	if err := p.Sync(); err != nil {
		p.discard()
		return fmt.Errorf("sync %s: %w", p.dest, err)
	}
	if err := p.Close(); err != nil {
		os.Remove(p.Name())
		return fmt.Errorf("close %s: %w", p.dest, err)
	}
	if err := os.Chmod(p.Name(), 0o644); err != nil {
		os.Remove(p.Name())
		return fmt.Errorf("chmod %s: %w", p.dest, err)
	}
	if err := os.Rename(p.Name(), p.dest); err != nil {
		os.Remove(p.Name())
		return fmt.Errorf("rename into %s: %w", p.dest, err)
	}
	return nil
}

// Abort discards the file. It is a no-op after Commit.
func (p *PendingFile) Abort() {
	if p.done {
		return
	}
	p.done = true
	p.discard()
}

func (p *PendingFile) discard() {
	p.Close()
	os.Remove(p.Name())
}
