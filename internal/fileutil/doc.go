// Package fileutil holds filesystem helpers shared by the server and client:
// timestamped session directory names, file birth times, and atomic file
// replacement for downloads.
package fileutil
