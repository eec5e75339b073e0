package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WritePattern fills path with size bytes of a non-repeating-per-chunk pattern
// and returns the content so transfers can be compared byte for byte. A size
// <= 0 writes a single byte.
func WritePattern(t testing.TB, path string, size int) []byte {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i*31 + i/251)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return data
}
