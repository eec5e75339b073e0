package runner

import (
	"fmt"
	"path/filepath"
	"slices"

	"daqserver/internal/device"
	"daqserver/internal/faults"
)

// Runner controls acquisition for one session.
type Runner interface {
	Start() error
	Stop() error
	IsRunning() bool
	// PortFilePath returns the output file backing label. Labels that are not
	// part of the session configuration fail with faults.ErrNotFound.
	PortFilePath(label string) (string, error)
}

// Factory builds a Runner for a validated configuration writing into outputDir.
type Factory func(cfg device.Config, outputDir string) (Runner, error)

// DefaultFileExtension is the extension of port files when none is configured.
const DefaultFileExtension = "csv"

type portFiles struct {
	dir       string
	extension string
	labels    []string
}

func newPortFiles(dir, extension string, labels []string) portFiles {
	if extension == "" {
		extension = DefaultFileExtension
	}
	return portFiles{dir: dir, extension: extension, labels: slices.Clone(labels)}
}

func (p portFiles) path(label string) (string, error) {
	if !slices.Contains(p.labels, label) {
		return "", faults.Wrap(faults.ErrNotFound, "runner", "port file", fmt.Sprintf("invalid port label %q", label), nil)
	}
	return filepath.Join(p.dir, label+"."+p.extension), nil
}
