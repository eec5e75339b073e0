//go:build !linux

package fileutil

import "time"

// BirthTime is not available on this platform; callers fall back to the
// modification time.
func BirthTime(string) (time.Time, bool) {
	return time.Time{}, false
}
