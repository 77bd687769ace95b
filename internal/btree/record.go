package btree

import (
	"github.com/tuannm99/pbtree/internal/keydomain"
	"github.com/tuannm99/pbtree/internal/storage"
	"github.com/tuannm99/pbtree/pkg/bx"
)

// oidOverflowThreshold bounds how large a leaf record's inline OID list may
// grow before further OIDs spill into a chain of dedicated OID-overflow
// pages (spec 3 "OID-overflow invariants"). A quarter-page is generous
// enough that small fan-out indexes never spill while still exercising the
// chain in tests with a few hundred duplicates.
const oidOverflowThreshold = storage.PageSize / 4

func oidEntrySize(unique bool) int {
	if unique {
		return 12 // classOID(6) + OID(6)
	}
	return 6
}

func encodeOID(o OID) []byte {
	buf := make([]byte, 6)
	bx.PutU32(buf, o.PageID)
	bx.PutU16(buf[4:], o.Slot)
	return buf
}

func decodeOID(buf []byte) OID {
	return OID{PageID: bx.U32(buf), Slot: bx.U16(buf[4:])}
}

func encodeOidPair(unique bool, classOID, oid OID) []byte {
	if !unique {
		return encodeOID(oid)
	}
	out := make([]byte, 12)
	copy(out[0:6], encodeOID(classOID))
	copy(out[6:12], encodeOID(oid))
	return out
}

func decodeOidPair(unique bool, buf []byte) (classOID, oid OID) {
	if !unique {
		return OID{}, decodeOID(buf)
	}
	return decodeOID(buf[0:6]), decodeOID(buf[6:12])
}

// keyCodec bundles what record encode/decode needs to route oversized keys
// to the external overflow-key file (spec 4.1: "key_len < 0 … routed to the
// overflow-key manager").
type keyCodec struct {
	Domain    keydomain.Domain
	Keys      *storage.OverflowKeyStore
	MaxInline int
	Unique    bool
}

// leafRecord is the decoded, in-memory form of a leaf entry (spec 3 "Leaf
// entry"): a key plus the in-page prefix of its OID list, plus a pointer to
// an overflow-OID chain holding the rest.
type leafRecord struct {
	Key      []any
	OvflVPID VPID
	Oids     []pairedOID
}

type pairedOID struct {
	ClassOID OID
	OID      OID
}

// encodeKeyBytes writes key either inline or, if it exceeds MaxInline,
// through the overflow-key store, returning the in-page bytes to embed
// (raw key bytes, or an overflowKeyRefSize-byte OverflowKeyRef when
// overflowed) and the key_len to
// record (negative signals overflow).
func (kc *keyCodec) encodeKeyBytes(key []any) (inPage []byte, keyLen int32, err error) {
	enc, err := kc.Domain.EncodeKey(key)
	if err != nil {
		return nil, 0, err
	}
	if len(enc) <= kc.MaxInline {
		return enc, int32(len(enc)), nil
	}
	ref, err := kc.Keys.WriteKey(enc)
	if err != nil {
		return nil, 0, err
	}
	buf := make([]byte, overflowKeyRefSize)
	bx.PutU32(buf[0:], ref.FirstPageID)
	bx.PutU32(buf[4:], ref.Length)
	copy(buf[8:], ref.Tag[:])
	return buf, -int32(len(buf)), nil
}

// overflowKeyRefSize is the in-page footprint of an OverflowKeyRef:
// firstPageID(4) + length(4) + uuid tag(16).
const overflowKeyRefSize = 4 + 4 + 16

func (kc *keyCodec) decodeKeyBytes(inPage []byte, keyLen int32) ([]any, error) {
	if keyLen >= 0 {
		return kc.Domain.DecodeKey(inPage[:keyLen])
	}
	ref := storage.OverflowKeyRef{FirstPageID: bx.U32(inPage[0:]), Length: bx.U32(inPage[4:])}
	copy(ref.Tag[:], inPage[8:overflowKeyRefSize])
	full, err := kc.Keys.ReadKey(ref)
	if err != nil {
		return nil, err
	}
	return kc.Domain.DecodeKey(full)
}

// encodeLeafRecord builds a brand-new leaf record for key with exactly one
// OID (the record grows in-place via appendOidToRecord thereafter).
func (kc *keyCodec) encodeLeafRecord(key []any, classOID, oid OID) ([]byte, error) {
	keyBytes, keyLen, err := kc.encodeKeyBytes(key)
	if err != nil {
		return nil, err
	}
	return kc.assembleLeaf(NullVPID, keyBytes, keyLen, [][]byte{encodeOidPair(kc.Unique, classOID, oid)}), nil
}

func (kc *keyCodec) assembleLeaf(ovfl VPID, keyBytes []byte, keyLen int32, oidPairs [][]byte) []byte {
	head := 4 + 4 + len(keyBytes)
	pad := (4 - head%4) % 4
	out := make([]byte, head+pad+2)
	bx.PutU32(out[0:], ovfl.PageID)
	bx.PutU32(out[4:], uint32(keyLen))
	copy(out[8:], keyBytes)
	bx.PutU16(out[head+pad:], uint16(len(oidPairs)))
	for _, p := range oidPairs {
		out = append(out, p...)
	}
	return out
}

// decodeLeafRecord parses raw into its key and inline OID list.
func (kc *keyCodec) decodeLeafRecord(raw []byte) (leafRecord, error) {
	ovfl := VPID{PageID: bx.U32(raw[0:])}
	keyLen := int32(bx.U32(raw[4:]))
	klen := int(keyLen)
	if keyLen < 0 {
		klen = overflowKeyRefSize
	}
	keyBytes := raw[8 : 8+klen]
	key, err := kc.decodeKeyBytes(keyBytes, keyLen)
	if err != nil {
		return leafRecord{}, err
	}

	head := 8 + klen
	pad := (4 - head%4) % 4
	oidOff := head + pad
	n := int(bx.U16(raw[oidOff:]))
	oidOff += 2

	entrySize := oidEntrySize(kc.Unique)
	oids := make([]pairedOID, n)
	for i := 0; i < n; i++ {
		cls, o := decodeOidPair(kc.Unique, raw[oidOff+i*entrySize:])
		oids[i] = pairedOID{ClassOID: cls, OID: o}
	}

	return leafRecord{Key: key, OvflVPID: ovfl, Oids: oids}, nil
}

// rebuildLeafRecordBytes re-serializes an in-memory leafRecord, reusing the
// same key encoding it was decoded with (the key section of a leaf record
// never changes after creation).
func (kc *keyCodec) rebuildLeafRecordBytes(raw []byte, rec leafRecord) []byte {
	keyLen := int32(bx.U32(raw[4:]))
	klen := int(keyLen)
	if keyLen < 0 {
		klen = overflowKeyRefSize
	}
	keyBytes := raw[8 : 8+klen]
	pairs := make([][]byte, len(rec.Oids))
	for i, p := range rec.Oids {
		pairs[i] = encodeOidPair(kc.Unique, p.ClassOID, p.OID)
	}
	return kc.assembleLeaf(rec.OvflVPID, keyBytes, keyLen, pairs)
}

func leafRecordInlineSize(raw []byte) int { return len(raw) }

// nonLeafRecord is the decoded form of a non-leaf entry (spec 3 "Non-leaf
// entry"): a child pointer plus the separator key, or no key at all for the
// final "rest of range" record.
type nonLeafRecord struct {
	Child VPID
	Key   []any // nil for the last, key-less record
}

func (kc *keyCodec) encodeNonLeafRecord(child VPID, key []any) ([]byte, error) {
	if key == nil {
		buf := make([]byte, 8)
		bx.PutU32(buf[0:], child.PageID)
		return buf, nil
	}
	keyBytes, keyLen, err := kc.encodeKeyBytes(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8+len(keyBytes))
	bx.PutU32(out[0:], child.PageID)
	bx.PutU32(out[4:], uint32(keyLen))
	copy(out[8:], keyBytes)
	return out, nil
}

func (kc *keyCodec) decodeNonLeafRecord(raw []byte) (nonLeafRecord, error) {
	child := VPID{PageID: bx.U32(raw[0:])}
	if len(raw) == 8 {
		return nonLeafRecord{Child: child}, nil
	}
	keyLen := int32(bx.U32(raw[4:]))
	klen := int(keyLen)
	if keyLen < 0 {
		klen = overflowKeyRefSize
	}
	key, err := kc.decodeKeyBytes(raw[8:8+klen], keyLen)
	if err != nil {
		return nonLeafRecord{}, err
	}
	return nonLeafRecord{Child: child, Key: key}, nil
}

// --- OID-overflow chain (spec 3 "Overflow-OID header/body") ---
//
// Unlike the generic byte-chain of internal/storage.OverflowManager, an
// OID-overflow page stores a packed array of (classOID,oid) pairs so a scan
// can walk it without re-decoding a generic blob.

const oidPageHeaderSize = 4 // next_vpid

func oidPageMaxEntries(unique bool) int {
	return (storage.PageSize - storage.HeaderSize - oidPageHeaderSize) / oidEntrySize(unique)
}

func readOidOverflowPage(buf []byte, unique bool) (next VPID, entries []pairedOID) {
	base := storage.HeaderSize
	next = VPID{PageID: bx.U32(buf[base:])}
	count := int(bx.U32(buf[base+4:]))
	entrySize := oidEntrySize(unique)
	off := base + oidPageHeaderSize + 4
	entries = make([]pairedOID, count)
	for i := 0; i < count; i++ {
		cls, o := decodeOidPair(unique, buf[off+i*entrySize:])
		entries[i] = pairedOID{ClassOID: cls, OID: o}
	}
	return
}

func writeOidOverflowPage(buf []byte, next VPID, entries []pairedOID, unique bool) {
	base := storage.HeaderSize
	bx.PutU32(buf[base:], next.PageID)
	bx.PutU32(buf[base+4:], uint32(len(entries)))
	entrySize := oidEntrySize(unique)
	off := base + oidPageHeaderSize + 4
	for i, e := range entries {
		copy(buf[off+i*entrySize:], encodeOidPair(unique, e.ClassOID, e.OID))
	}
}
