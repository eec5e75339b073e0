package fileutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	dirLayout    = "20060102_150405"
	dirNameWidth = len(dirLayout) + 6
)

// DirName formats t as a session directory name, YYYYMMDD_HHMMSSffffff, in
// local time with microsecond precision.
func DirName(t time.Time) string {
	t = t.Local()
	return t.Format(dirLayout) + fmt.Sprintf("%06d", t.Nanosecond()/int(time.Microsecond))
}

// ParseDirName recovers the creation time encoded by DirName.
func ParseDirName(name string) (time.Time, bool) {
	if len(name) != dirNameWidth {
		return time.Time{}, false
	}
	base, err := time.ParseInLocation(dirLayout, name[:len(dirLayout)], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	micros, err := strconv.Atoi(name[len(dirLayout):])
	if err != nil || micros < 0 {
		return time.Time{}, false
	}
	return base.Add(time.Duration(micros) * time.Microsecond), true
}

// CreateSessionDir creates a new directory under base named after now. When
// the name is taken the timestamp is advanced one microsecond at a time, so
// the returned directory never existed before.
func CreateSessionDir(base string, now time.Time) (string, error) {
	const maxAttempts = 1000
	stamp := now.Truncate(time.Microsecond)
	for range maxAttempts {
		dir := filepath.Join(base, DirName(stamp))
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("create session directory: %w", err)
		}
		stamp = stamp.Add(time.Microsecond)
	}
	return "", fmt.Errorf("create session directory: no free name after %d attempts", maxAttempts)
}
