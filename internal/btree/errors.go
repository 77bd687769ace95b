package btree

import "errors"

// Error kinds surfaced by the driver (spec 7).
var (
	ErrUniqueViolation = errors.New("btree: unique constraint violation")
	ErrKeyNotFound     = errors.New("btree: key not found")
	ErrDuplicateOid    = errors.New("btree: duplicate oid for key")
	ErrLockNotGranted  = errors.New("btree: lock not granted")
	ErrPageCorruption  = errors.New("btree: page corruption detected")
	ErrOom             = errors.New("btree: out of memory/space")
	ErrFileSystem      = errors.New("btree: file system error")
)
