// Package transfer serves session files to remote clients in chunks.
//
// A Tracker maps opaque descriptors to open file handles. Clients open a file,
// read it in bounded chunks until an empty read signals end of file, and
// close the descriptor. Transfers left open longer than the maximum lifetime
// are closed by a background sweep so abandoned clients cannot leak handles.
package transfer
