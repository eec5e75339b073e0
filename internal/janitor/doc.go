// Package janitor reclaims session directories that clients never closed.
//
// A Janitor periodically scans the base directory and removes every session
// directory older than the retention threshold, except the one belonging to
// the active session. Age comes from the timestamp in the directory name,
// falling back to the filesystem birth time and then the modification time.
package janitor
