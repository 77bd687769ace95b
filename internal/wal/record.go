// Package wal is the write-ahead log consumed by the btree driver: the
// undo/redo/undoredo record families of spec §6, system sub-operations,
// and idempotent redo replay for crash recovery.
package wal

import (
	"errors"
	"hash/crc32"

	"github.com/tuannm99/pbtree/pkg/bx"
)

var (
	ErrBadMagic  = errors.New("wal: bad magic")
	ErrBadCRC    = errors.New("wal: bad crc")
	ErrBadRecord = errors.New("wal: bad record")
	ErrShortRead = errors.New("wal: short read")
	ErrNoWALFile = errors.New("wal: wal file not found")
)

const (
	magicU32   uint32 = 0x4C41574E // "NWAL"
	versionU16        = 2
)

// Kind is the log record family, matching spec §6's abstract codes.
type Kind uint8

const (
	KindNodeHeaderUpd Kind = iota + 1
	KindNodeHeaderIns
	KindNodeRecordUpd
	KindNodeRecordIns
	KindNodeRecordDel
	KindLeafRecordKeyIns
	KindLeafRecordOidIns
	KindLeafRecordDel
	KindOidTruncate
	KindKeyvalIns
	KindKeyvalDel
	KindRootHeaderUpd
	KindUpdateOvfID
	KindInsPgRecords
	KindDelPgRecords
	KindCopyPage
	KindNewPgAlloc
	KindGetNewPage
	KindNoop
	kindSysOpStart
	kindSysOpEnd
)

// Logging is which halves of a record are present: only undo (before-image,
// for logical KEYVAL_* records), only redo (after-image, for fresh
// allocations), or both (the common undoredo case).
type Logging uint8

const (
	LoggingRedo Logging = 1 << iota
	LoggingUndo
)

const LoggingUndoRedo = LoggingUndo | LoggingRedo

// Outcome is the terminator of a system sub-operation.
type Outcome uint8

const (
	OutcomeCommit Outcome = iota + 1
	OutcomeAbort
	OutcomeAttachToOuter
)

// Record is one decoded WAL entry.
type Record struct {
	LSN     uint64
	Kind    Kind
	Logging Logging
	VFID    string
	VPID    uint32
	Slot    int32 // -1 when not applicable
	Before  []byte
	After   []byte
	SysOp   uint64 // nesting id for kindSysOpStart/kindSysOpEnd
	Outcome Outcome
}

// encode serializes rec into a self-describing, checksummed frame.
func encode(rec Record) []byte {
	vfidB := []byte(rec.VFID)

	// magic(4) ver(2) kind(1) logging(1) totalLen(4) crc(4) lsn(8)
	// vpid(4) slot(4) sysop(8) outcome(1) vfidLen(2) beforeLen(4) afterLen(4)
	fixed := 4 + 2 + 1 + 1 + 4 + 4 + 8 + 4 + 4 + 8 + 1 + 2 + 4 + 4
	total := fixed + len(vfidB) + len(rec.Before) + len(rec.After)

	buf := make([]byte, total)
	off := 0
	putU32 := func(v uint32) { bx.PutU32(buf[off:], v); off += 4 }
	putU16 := func(v uint16) { bx.PutU16(buf[off:], v); off += 2 }
	putU64 := func(v uint64) { bx.PutU64(buf[off:], v); off += 8 }
	putU8 := func(v uint8) { buf[off] = v; off++ }

	putU32(magicU32)
	putU16(versionU16)
	putU8(uint8(rec.Kind))
	putU8(uint8(rec.Logging))
	putU32(uint32(total))
	crcOff := off
	putU32(0)
	putU64(rec.LSN)
	putU32(rec.VPID)
	putU32(uint32(rec.Slot))
	putU64(rec.SysOp)
	putU8(uint8(rec.Outcome))
	putU16(uint16(len(vfidB)))
	putU32(uint32(len(rec.Before)))
	putU32(uint32(len(rec.After)))

	copy(buf[off:], vfidB)
	off += len(vfidB)
	copy(buf[off:], rec.Before)
	off += len(rec.Before)
	copy(buf[off:], rec.After)
	off += len(rec.After)

	crc := crc32.ChecksumIEEE(buf[crcOff+4:])
	bx.PutU32(buf[crcOff:], crc)
	return buf
}
