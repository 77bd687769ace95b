//go:build linux

package wal

import (
	"os"

	"golang.org/x/sys/unix"
)

// durableFlush uses fdatasync(2) instead of fsync(2): the WAL file's size
// never changes after append-only writes within a segment (it is only
// appended to), so the inode metadata fsync would flush is not needed —
// fdatasync skips it and commits only the data pages.
func durableFlush(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
