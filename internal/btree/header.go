package btree

import (
	"github.com/tuannm99/pbtree/internal/keydomain"
	"github.com/tuannm99/pbtree/pkg/bx"
)

// NodeType tags a page as one of the two node kinds a header can describe
// (spec 3: "node_type ∈ {LEAF, NON_LEAF}"). Overflow-key and OID-overflow
// pages carry no NodeHeader at all — they are opaque chains read directly by
// internal/storage's OverflowManager/OverflowKeyStore.
type NodeType uint8

const (
	NodeLeaf NodeType = iota + 1
	NodeNonLeaf
)

// nodeHeaderSize is the fixed encoding of a NodeHeader: type(1) + keyCnt(4)
// + maxKeyLen(4) + nextVPID(4).
const nodeHeaderSize = 1 + 4 + 4 + 4

// NodeHeader is every node's slot-0 record (spec 3 "Header invariants").
type NodeHeader struct {
	NodeType  NodeType
	KeyCount  int32
	MaxKeyLen int32
	NextVPID  VPID // leaf: right sibling. Non-leaf: always NullVPID.
}

func encodeNodeHeader(h NodeHeader) []byte {
	buf := make([]byte, nodeHeaderSize)
	buf[0] = byte(h.NodeType)
	bx.PutU32(buf[1:], uint32(h.KeyCount))
	bx.PutU32(buf[5:], uint32(h.MaxKeyLen))
	bx.PutU32(buf[9:], h.NextVPID.PageID)
	return buf
}

func decodeNodeHeader(buf []byte) NodeHeader {
	return NodeHeader{
		NodeType:  NodeType(buf[0]),
		KeyCount:  int32(bx.U32(buf[1:])),
		MaxKeyLen: int32(bx.U32(buf[5:])),
		NextVPID:  VPID{PageID: bx.U32(buf[9:])},
	}
}

// rootHeaderFixedExtra is the size of the RootHeader's fixed-width fields
// beyond the embedded NodeHeader: numOids(8) + numNulls(8) + numKeys(8) +
// unique(1) + reverse(1) + revision(4) + hasOverflowFile(1) + column
// count(1). The packed column descriptors (kind(1)+descending(1) each, up
// to 255 columns) follow and are not counted here.
const rootHeaderFixedExtra = 8 + 8 + 8 + 1 + 1 + 4 + 1 + 1

// RootHeader is the root page's slot-0 record: a NodeHeader plus tree-wide
// metadata (spec 3 "Root header additionally carries…").
type RootHeader struct {
	NodeHeader

	NumOids  int64 // -1 on non-unique indexes
	NumNulls int64
	NumKeys  int64

	Unique  bool
	Reverse bool

	Revision int32

	HasOverflowFile bool

	Domain keydomain.Domain
}

func encodeRootHeader(h RootHeader) []byte {
	nh := encodeNodeHeader(h.NodeHeader)

	cols := h.Domain.Columns
	if len(cols) > 255 {
		cols = cols[:255]
	}
	extra := make([]byte, rootHeaderFixedExtra+len(cols)*2)
	bx.PutU64(extra[0:], uint64(h.NumOids))
	bx.PutU64(extra[8:], uint64(h.NumNulls))
	bx.PutU64(extra[16:], uint64(h.NumKeys))
	if h.Unique {
		extra[24] = 1
	}
	if h.Reverse {
		extra[25] = 1
	}
	bx.PutU32(extra[26:], uint32(h.Revision))
	if h.HasOverflowFile {
		extra[30] = 1
	}
	extra[31] = byte(len(cols))
	for i, c := range cols {
		extra[rootHeaderFixedExtra+i*2] = byte(c.Kind)
		if c.Descending {
			extra[rootHeaderFixedExtra+i*2+1] = 1
		}
	}

	out := make([]byte, 0, len(nh)+len(extra))
	out = append(out, nh...)
	out = append(out, extra...)
	return out
}

func decodeRootHeader(buf []byte) RootHeader {
	nh := decodeNodeHeader(buf)
	extra := buf[nodeHeaderSize:]

	numCols := int(extra[31])
	cols := make([]keydomain.Column, numCols)
	for i := 0; i < numCols; i++ {
		cols[i] = keydomain.Column{
			Kind:       keydomain.Kind(extra[rootHeaderFixedExtra+i*2]),
			Descending: extra[rootHeaderFixedExtra+i*2+1] == 1,
		}
	}

	return RootHeader{
		NodeHeader:      nh,
		NumOids:         int64(bx.U64(extra[0:])),
		NumNulls:        int64(bx.U64(extra[8:])),
		NumKeys:         int64(bx.U64(extra[16:])),
		Unique:          extra[24] == 1,
		Reverse:         extra[25] == 1,
		Revision:        int32(bx.U32(extra[26:])),
		HasOverflowFile: extra[30] == 1,
		Domain:          keydomain.Domain{Columns: cols, Reverse: extra[25] == 1},
	}
}

func readNodeHeader(p pageReader) NodeHeader {
	raw, err := p.ReadTuple(0)
	if err != nil {
		return NodeHeader{}
	}
	return decodeNodeHeader(raw)
}

// pageReader is the subset of *storage.Page used to read slot 0; it exists
// only to keep readNodeHeader testable without importing storage here.
type pageReader interface {
	ReadTuple(slot int) ([]byte, error)
}
