package wal

import (
	"bufio"
	"errors"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/tuannm99/pbtree/pkg/bx"
)

// Manager is the append-only log file backing one storage instance. All
// btree/heap mutations route their undo/redo records through it; crash
// recovery replays it via Recover.
type Manager struct {
	mu      sync.Mutex
	f       *os.File
	path    string
	lsn     uint64
	flushed uint64

	nextSysOp uint64
}

func Open(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "wal.log")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	m := &Manager{f: f, path: path}
	_ = m.initLastLSN()
	return m, nil
}

func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return nil
	}
	err := m.f.Close()
	m.f = nil
	return err
}

func (m *Manager) append(rec Record) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.f == nil {
		return 0, ErrNoWALFile
	}
	m.lsn++
	rec.LSN = m.lsn
	buf := encode(rec)
	if _, err := m.f.Write(buf); err != nil {
		return 0, err
	}
	return rec.LSN, nil
}

// AppendRedo logs a redo-only record (fresh page allocation, GET_NEWPAGE,
// NOOP — nothing to undo because nothing existed before).
func (m *Manager) AppendRedo(kind Kind, vfid string, vpid uint32, slot int32, after []byte) (uint64, error) {
	return m.append(Record{Kind: kind, Logging: LoggingRedo, VFID: vfid, VPID: vpid, Slot: slot, After: after})
}

// AppendUndo logs an undo-only record (logical KEYVAL_INS/KEYVAL_DEL,
// COPY_PAGE, NEW_PGALLOC).
func (m *Manager) AppendUndo(kind Kind, vfid string, vpid uint32, slot int32, before []byte) (uint64, error) {
	return m.append(Record{Kind: kind, Logging: LoggingUndo, VFID: vfid, VPID: vpid, Slot: slot, Before: before})
}

// AppendUndoRedo logs a paired before/after image, the common case for
// NODE_HEADER_UPD, NODE_RECORD_UPD/DEL, ROOT_HEADER_UPD, UPDATE_OVFID.
func (m *Manager) AppendUndoRedo(kind Kind, vfid string, vpid uint32, slot int32, before, after []byte) (uint64, error) {
	return m.append(Record{Kind: kind, Logging: LoggingUndoRedo, VFID: vfid, VPID: vpid, Slot: slot, Before: before, After: after})
}

// StartSystemOp opens a nested logging scope for a structural
// modification (split, merge, page allocation) and returns its id, which
// EndSystemOp must be called with exactly once.
func (m *Manager) StartSystemOp() uint64 {
	m.mu.Lock()
	m.nextSysOp++
	id := m.nextSysOp
	m.mu.Unlock()
	_, _ = m.append(Record{Kind: kindSysOpStart, SysOp: id})
	return id
}

// EndSystemOp closes the sub-op with outcome (COMMIT persists the
// sub-op's effects past an enclosing rollback; ABORT unwinds just the
// sub-op; ATTACH_TO_OUTER folds it into the enclosing transaction so a
// later rollback of the outer transaction also undoes it).
func (m *Manager) EndSystemOp(id uint64, outcome Outcome) error {
	_, err := m.append(Record{Kind: kindSysOpEnd, SysOp: id, Outcome: outcome})
	return err
}

// Flush durably persists all records appended through upto (see durable.go
// for the platform-specific fsync/fdatasync call).
func (m *Manager) Flush(upto uint64) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return nil
	}
	if upto == 0 || upto <= m.flushed {
		return nil
	}
	if err := durableFlush(m.f); err != nil {
		return err
	}
	m.flushed = upto
	return nil
}

// PageWriter applies a redo record's after-image during recovery replay,
// without wal needing to import the storage package. lsn is the record's
// own sequence number, passed through so implementations can skip an image
// already reflected on disk (a page whose current LSN is >= lsn).
type PageWriter interface {
	ApplyRedo(vfid string, vpid uint32, slot int32, kind Kind, after []byte, lsn uint64) error
}

// Recover replays every redo-bearing record in LSN order. Replay is
// idempotent: PageWriter implementations compare the record's LSN against
// the page's current LSN and skip records already reflected on disk
// (spec testable property 8).
func (m *Manager) Recover(writer PageWriter) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	path := m.path
	m.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReaderSize(f, 1<<20)
	for {
		rec, err := readOne(r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, ErrShortRead) {
				return nil
			}
			return err
		}
		if rec.Logging&LoggingRedo == 0 {
			continue
		}
		if rec.Kind == kindSysOpStart || rec.Kind == kindSysOpEnd {
			continue
		}
		if err := writer.ApplyRedo(rec.VFID, rec.VPID, rec.Slot, rec.Kind, rec.After, rec.LSN); err != nil {
			return err
		}
	}
}

func readOne(r *bufio.Reader) (*Record, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if bx.U32(hdr[:]) != magicU32 {
		return nil, ErrBadMagic
	}

	var rest2 [2]byte
	if _, err := io.ReadFull(r, rest2[:]); err != nil {
		return nil, err
	}
	if bx.U16(rest2[:]) != versionU16 {
		return nil, ErrBadRecord
	}

	kindB, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	loggingB, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	var lenB [4]byte
	if _, err := io.ReadFull(r, lenB[:]); err != nil {
		return nil, err
	}
	total := bx.U32(lenB[:])

	var crcB [4]byte
	if _, err := io.ReadFull(r, crcB[:]); err != nil {
		return nil, err
	}
	wantCRC := bx.U32(crcB[:])

	headerSoFar := 4 + 2 + 1 + 1 + 4 + 4
	if int(total) < headerSoFar {
		return nil, ErrBadRecord
	}
	restLen := int(total) - headerSoFar
	rest := make([]byte, restLen)
	if _, err := io.ReadFull(r, rest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrShortRead
		}
		return nil, err
	}
	if crc32.ChecksumIEEE(rest) != wantCRC {
		return nil, ErrBadCRC
	}

	off := 0
	getU32 := func() uint32 { v := bx.U32(rest[off:]); off += 4; return v }
	getU16 := func() uint16 { v := bx.U16(rest[off:]); off += 2; return v }
	getU64 := func() uint64 { v := bx.U64(rest[off:]); off += 8; return v }
	getU8 := func() uint8 { v := rest[off]; off++; return v }

	lsn := getU64()
	vpid := getU32()
	slot := int32(getU32())
	sysOp := getU64()
	outcome := getU8()
	vfidLen := int(getU16())
	beforeLen := int(getU32())
	afterLen := int(getU32())

	if off+vfidLen+beforeLen+afterLen > len(rest) {
		return nil, ErrBadRecord
	}
	vfid := string(rest[off : off+vfidLen])
	off += vfidLen
	before := append([]byte(nil), rest[off:off+beforeLen]...)
	off += beforeLen
	after := append([]byte(nil), rest[off:off+afterLen]...)
	off += afterLen

	return &Record{
		LSN:     lsn,
		Kind:    Kind(kindB),
		Logging: Logging(loggingB),
		VFID:    vfid,
		VPID:    vpid,
		Slot:    slot,
		Before:  before,
		After:   after,
		SysOp:   sysOp,
		Outcome: Outcome(outcome),
	}, nil
}

func (m *Manager) initLastLSN() error {
	f, err := os.Open(m.path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReaderSize(f, 1<<20)
	var last uint64
	for {
		rec, err := readOne(r)
		if err != nil {
			break
		}
		if rec.LSN > last {
			last = rec.LSN
		}
	}
	if last > 0 {
		m.lsn = last
		m.flushed = last
	}
	return nil
}
