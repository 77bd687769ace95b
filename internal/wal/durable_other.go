//go:build !linux

package wal

import "os"

// durableFlush falls back to fsync(2) on platforms without fdatasync.
func durableFlush(f *os.File) error {
	return f.Sync()
}
