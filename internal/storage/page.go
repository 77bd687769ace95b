package storage

import "github.com/tuannm99/pbtree/pkg/bx"

// Page is a fixed-size slotted page: a PostgreSQL-style header, a slot
// (line pointer) array that grows from the header toward higher offsets,
// and a tuple region that grows from the end of the page toward lower
// offsets.
//
//	+------------------+ 0
//	| flags | pageID    |
//	| lsn | lower|upper |  <-- fixed header, HeaderSize bytes
//	| special          |
//	+------------------+
//	| slot[0] slot[1].. | <-- grows down as records are added, ends at `lower`
//	+------------------+
//	|    free space     |
//	+------------------+ <-- `upper`
//	|   tuple data       | <-- grows up (toward lower offsets) as inserted
//	+------------------+ PageSize
//
// Slot 0 is reserved by convention for the btree/heap layer's own header
// record; the Page type itself does not special-case it.
type Page struct {
	Buf []byte
}

const (
	offFlags   = 0
	offPageID  = 2
	offLsn     = 6
	offLower   = 14
	offUpper   = 16
	offSpecial = 18
)

// Slot flags.
const (
	SlotFlagNormal  uint16 = 0
	SlotFlagDeleted uint16 = 1
)

type slotRec struct {
	Offset uint16
	Length uint16
	Flags  uint16
}

// NewPage wraps buf (which must be exactly PageSize bytes) as a fresh,
// initialized page with the given id.
func NewPage(buf []byte, pageID uint32) *Page {
	p := &Page{Buf: buf}
	p.Reset(pageID)
	return p
}

// Reset zeroes the page and reinitializes its header. Used both for
// brand-new pages and for pages the recovery replayer must reconstruct
// from scratch (GET_NEWPAGE log records).
func (p *Page) Reset(pageID uint32) {
	for i := range p.Buf {
		p.Buf[i] = 0
	}
	bx.PutU16(p.Buf[offFlags:], 0)
	bx.PutU32(p.Buf[offPageID:], pageID)
	bx.PutU64(p.Buf[offLsn:], 0)
	bx.PutU16(p.Buf[offLower:], uint16(HeaderSize))
	bx.PutU16(p.Buf[offUpper:], uint16(PageSize))
	bx.PutU16(p.Buf[offSpecial:], uint16(PageSize))
}

func (p *Page) IsUninitialized() bool {
	return p.lower() == 0 && p.upper() == 0
}

func (p *Page) PageID() uint32 { return bx.U32(p.Buf[offPageID:]) }

// Lsn returns the page's log sequence number: the LSN of the most recent
// log record whose effect is reflected in this page's current bytes.
// Recovery compares this against a record's LSN to decide whether replay
// is necessary (idempotent redo, property 8).
func (p *Page) Lsn() uint64         { return bx.U64(p.Buf[offLsn:]) }
func (p *Page) SetLsn(lsn uint64)   { bx.PutU64(p.Buf[offLsn:], lsn) }

func (p *Page) lower() int  { return int(bx.U16(p.Buf[offLower:])) }
func (p *Page) setLower(v int) { bx.PutU16(p.Buf[offLower:], uint16(v)) }
func (p *Page) upper() int  { return int(bx.U16(p.Buf[offUpper:])) }
func (p *Page) setUpper(v int) { bx.PutU16(p.Buf[offUpper:], uint16(v)) }
func (p *Page) special() int { return int(bx.U16(p.Buf[offSpecial:])) }
func (p *Page) flags() uint16 { return bx.U16(p.Buf[offFlags:]) }

// NumSlots returns the number of slot entries, live or deleted.
func (p *Page) NumSlots() int {
	return (p.lower() - HeaderSize) / SlotSize
}

// FreeSpace is the number of bytes available for a new slot + tuple.
func (p *Page) FreeSpace() int {
	return p.upper() - p.lower()
}

// MaxPayloadForNewRecord is the largest single tuple that could ever fit
// on an otherwise-empty page of this size; used by the insert driver's
// preemptive-split estimate (spec 4.7).
func (p *Page) MaxPayloadForNewRecord() int {
	n := PageSize - HeaderSize - SlotSize
	if n < 0 {
		return 0
	}
	return n
}

func (p *Page) slotOff(i int) int { return HeaderSize + i*SlotSize }

func (p *Page) getSlot(i int) (slotRec, error) {
	if i < 0 || i >= p.NumSlots() {
		return slotRec{}, ErrBadSlot
	}
	o := p.slotOff(i)
	return slotRec{
		Offset: bx.U16(p.Buf[o:]),
		Length: bx.U16(p.Buf[o+2:]),
		Flags:  bx.U16(p.Buf[o+4:]),
	}, nil
}

func (p *Page) putSlot(i int, s slotRec) {
	o := p.slotOff(i)
	bx.PutU16(p.Buf[o:], s.Offset)
	bx.PutU16(p.Buf[o+2:], s.Length)
	bx.PutU16(p.Buf[o+4:], s.Flags)
}

// insertSlotArrayAt shifts slots [at..NumSlots) up by one and leaves a
// hole at `at` for the caller to fill. Grows `lower` by SlotSize.
func (p *Page) insertSlotArrayAt(at int) {
	n := p.NumSlots()
	for i := n; i > at; i-- {
		s, _ := p.getSlot(i - 1)
		p.putSlotRaw(i, s)
	}
	p.setLower(p.lower() + SlotSize)
}

// putSlotRaw writes a slot whose array has already been grown to cover index i.
func (p *Page) putSlotRaw(i int, s slotRec) {
	o := p.slotOff(i)
	bx.PutU16(p.Buf[o:], s.Offset)
	bx.PutU16(p.Buf[o+2:], s.Length)
	bx.PutU16(p.Buf[o+4:], s.Flags)
}

// removeSlotArrayAt shifts slots (at, NumSlots) down by one, shrinking
// `lower` by SlotSize. The tuple bytes the removed slot pointed at are
// abandoned (the page never reclaims tuple-region space until the whole
// page is rebuilt via rebuildSorted/compaction in the btree layer).
func (p *Page) removeSlotArrayAt(at int) {
	n := p.NumSlots()
	for i := at; i < n-1; i++ {
		s, _ := p.getSlot(i + 1)
		p.putSlotRaw(i, s)
	}
	p.setLower(p.lower() - SlotSize)
}

func (p *Page) appendTupleBytes(data []byte) (offset int, ok bool) {
	need := len(data)
	if p.upper()-p.lower() < need {
		return 0, false
	}
	u := p.upper() - need
	copy(p.Buf[u:], data)
	p.setUpper(u)
	return u, true
}

// InsertTuple appends data in a brand-new slot at the end of the slot
// array (stable slot ids across future inserts) — used by the heap table,
// which must keep TIDs valid for the table's lifetime.
func (p *Page) InsertTuple(data []byte) (int, error) {
	need := len(data) + SlotSize
	if need > p.MaxPayloadForNewRecord()+SlotSize {
		return 0, ErrTupleTooLarge
	}
	if p.FreeSpace() < need {
		return 0, ErrNoSpace
	}
	off, ok := p.appendTupleBytes(data)
	if !ok {
		return 0, ErrNoSpace
	}
	slot := p.NumSlots()
	p.setLower(p.lower() + SlotSize)
	p.putSlot(slot, slotRec{Offset: uint16(off), Length: uint16(len(data)), Flags: SlotFlagNormal})
	return slot, nil
}

// InsertAt inserts data as a new slot at logical position `slot`,
// shifting every later slot one position to the right. Used by the
// btree, where slot position IS key order (spec 3: "records are kept in
// logical (key) order").
func (p *Page) InsertAt(slot int, data []byte) error {
	n := p.NumSlots()
	if slot < 0 || slot > n {
		return ErrBadSlot
	}
	need := len(data) + SlotSize
	if p.FreeSpace() < need {
		return ErrNoSpace
	}
	off, ok := p.appendTupleBytes(data)
	if !ok {
		return ErrNoSpace
	}
	p.insertSlotArrayAt(slot)
	p.putSlotRaw(slot, slotRec{Offset: uint16(off), Length: uint16(len(data)), Flags: SlotFlagNormal})
	return nil
}

// ReadTuple returns a PEEK view: a slice backed directly by the page
// buffer. The caller must not retain it past the page's pin/latch (spec
// 4.1 copy_key=false contract); use ReadTupleCopy when the value must
// survive a blocking wait or a page eviction.
func (p *Page) ReadTuple(slot int) ([]byte, error) {
	s, err := p.getSlot(slot)
	if err != nil {
		return nil, err
	}
	if s.Flags == SlotFlagDeleted {
		return nil, ErrBadSlot
	}
	return p.Buf[s.Offset : s.Offset+s.Length], nil
}

// ReadTupleCopy is the COPY-semantics counterpart of ReadTuple.
func (p *Page) ReadTupleCopy(slot int) ([]byte, error) {
	raw, err := p.ReadTuple(slot)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

// UpdateTuple rewrites the tuple at slot in place. If the new value fits
// in the old footprint it is written in place; otherwise a new copy is
// appended to the tuple region and the slot is repointed (the old bytes
// become unreachable garbage until the page is rebuilt).
func (p *Page) UpdateTuple(slot int, data []byte) error {
	s, err := p.getSlot(slot)
	if err != nil {
		return err
	}
	if int(s.Length) >= len(data) {
		copy(p.Buf[s.Offset:], data)
		s.Length = uint16(len(data))
		s.Flags = SlotFlagNormal
		p.putSlot(slot, s)
		return nil
	}
	off, ok := p.appendTupleBytes(data)
	if !ok {
		return ErrNoSpace
	}
	p.putSlot(slot, slotRec{Offset: uint16(off), Length: uint16(len(data)), Flags: SlotFlagNormal})
	return nil
}

// DeleteTuple soft-deletes a slot (heap semantics): the slot id remains
// allocated (and reads ErrBadSlot) so existing TIDs pointing past it are
// not silently repointed at a different row.
func (p *Page) DeleteTuple(slot int) error {
	s, err := p.getSlot(slot)
	if err != nil {
		return err
	}
	s.Flags = SlotFlagDeleted
	p.putSlot(slot, s)
	return nil
}

// DeleteAt hard-deletes a slot and compacts the slot array (btree
// semantics): slot positions downstream shift left by one, matching
// `key_cnt` to the live record count exactly.
func (p *Page) DeleteAt(slot int) error {
	if _, err := p.getSlot(slot); err != nil {
		return err
	}
	p.removeSlotArrayAt(slot)
	return nil
}
