// Package keydomain implements the pr_type-style typed value codec and
// composite key domain consumed by the btree (spec 3: "key domain"; spec
// 4.2's composite comparator with prefix-matching optimization).
package keydomain

import (
	"bytes"
	"errors"
	"math"

	"github.com/tuannm99/pbtree/pkg/bx"
)

var (
	ErrBadEncoding  = errors.New("keydomain: bad encoding")
	ErrArityMismatch = errors.New("keydomain: value count does not match domain arity")
)

// Kind is a column's scalar type.
type Kind uint8

const (
	KindInt32 Kind = iota + 1
	KindInt64
	KindFloat64
	KindVarChar
	KindBytes
)

// Column is one typed, independently ordered field of a composite key.
type Column struct {
	Kind       Kind
	Descending bool
}

// Domain is an ordered list of columns forming one index's key shape.
// Reverse flips the sort order of every column on top of each column's own
// Descending flag (spec 3: "a reverse index flips the sort order of every
// column").
type Domain struct {
	Columns []Column
	Reverse bool
}

func (d Domain) Arity() int { return len(d.Columns) }

// boundBitsLen is the number of bytes needed for one NULL bit per column.
func (d Domain) boundBitsLen() int {
	return (len(d.Columns) + 7) / 8
}

// EncodeKey serializes vals (len(vals) must equal d.Arity(); a nil entry
// means SQL NULL) as a bound-bits NULL prefix followed by each non-NULL
// column's encoded bytes in order.
func (d Domain) EncodeKey(vals []any) ([]byte, error) {
	if len(vals) != len(d.Columns) {
		return nil, ErrArityMismatch
	}
	bits := make([]byte, d.boundBitsLen())
	var body bytes.Buffer
	for i, col := range d.Columns {
		if vals[i] == nil {
			bits[i/8] |= 1 << uint(i%8)
			continue
		}
		enc, err := writeVal(col.Kind, vals[i])
		if err != nil {
			return nil, err
		}
		body.Write(enc)
	}
	out := make([]byte, 0, len(bits)+body.Len())
	out = append(out, bits...)
	out = append(out, body.Bytes()...)
	return out, nil
}

// DecodeKey is the inverse of EncodeKey.
func (d Domain) DecodeKey(buf []byte) ([]any, error) {
	bitsLen := d.boundBitsLen()
	if len(buf) < bitsLen {
		return nil, ErrBadEncoding
	}
	bits := buf[:bitsLen]
	rest := buf[bitsLen:]

	vals := make([]any, len(d.Columns))
	off := 0
	for i, col := range d.Columns {
		if bits[i/8]&(1<<uint(i%8)) != 0 {
			vals[i] = nil
			continue
		}
		v, n, err := readVal(col.Kind, rest[off:])
		if err != nil {
			return nil, err
		}
		vals[i] = v
		off += n
	}
	return vals, nil
}

// EstimateSize returns an upper bound on an encoded key's length given
// avgLen, the expected average length of variable-length columns (used by
// the insert driver's preemptive-split sizing estimate per spec 4.7).
func (d Domain) EstimateSize(avgLen int) int {
	size := d.boundBitsLen()
	for _, col := range d.Columns {
		switch col.Kind {
		case KindInt32:
			size += 4
		case KindInt64, KindFloat64:
			size += 8
		case KindVarChar, KindBytes:
			size += 2 + avgLen
		}
	}
	return size
}

// Compare compares a and b starting from column startCol (columns before
// startCol are assumed equal by the caller — the incremental
// prefix-matching optimization of spec 4.2). It returns the standard
// <0/0/>0 comparison result and the first column index where they
// diverged (or len(Columns) if fully equal from startCol on), which the
// caller should remember to skip on its next comparison against a
// neighboring key.
func (d Domain) Compare(a, b []any, startCol int) (cmp int, diffCol int) {
	for i := startCol; i < len(d.Columns); i++ {
		c := compareVal(d.Columns[i].Kind, a[i], b[i])
		if c == 0 {
			continue
		}
		if d.Columns[i].Descending {
			c = -c
		}
		if d.Reverse {
			c = -c
		}
		return c, i
	}
	return 0, len(d.Columns)
}

func writeVal(k Kind, v any) ([]byte, error) {
	switch k {
	case KindInt32:
		buf := make([]byte, 4)
		bx.PutU32(buf, uint32(int32(v.(int32))))
		return buf, nil
	case KindInt64:
		buf := make([]byte, 8)
		bx.PutU64(buf, uint64(v.(int64)))
		return buf, nil
	case KindFloat64:
		buf := make([]byte, 8)
		bx.PutU64(buf, math.Float64bits(v.(float64)))
		return buf, nil
	case KindVarChar:
		s := v.(string)
		buf := make([]byte, 2+len(s))
		bx.PutU16(buf, uint16(len(s)))
		copy(buf[2:], s)
		return buf, nil
	case KindBytes:
		b := v.([]byte)
		buf := make([]byte, 2+len(b))
		bx.PutU16(buf, uint16(len(b)))
		copy(buf[2:], b)
		return buf, nil
	default:
		return nil, ErrBadEncoding
	}
}

func readVal(k Kind, buf []byte) (any, int, error) {
	switch k {
	case KindInt32:
		if len(buf) < 4 {
			return nil, 0, ErrBadEncoding
		}
		return int32(bx.U32(buf)), 4, nil
	case KindInt64:
		if len(buf) < 8 {
			return nil, 0, ErrBadEncoding
		}
		return int64(bx.U64(buf)), 8, nil
	case KindFloat64:
		if len(buf) < 8 {
			return nil, 0, ErrBadEncoding
		}
		return math.Float64frombits(bx.U64(buf)), 8, nil
	case KindVarChar:
		if len(buf) < 2 {
			return nil, 0, ErrBadEncoding
		}
		n := int(bx.U16(buf))
		if len(buf) < 2+n {
			return nil, 0, ErrBadEncoding
		}
		return string(buf[2 : 2+n]), 2 + n, nil
	case KindBytes:
		if len(buf) < 2 {
			return nil, 0, ErrBadEncoding
		}
		n := int(bx.U16(buf))
		if len(buf) < 2+n {
			return nil, 0, ErrBadEncoding
		}
		out := make([]byte, n)
		copy(out, buf[2:2+n])
		return out, 2 + n, nil
	default:
		return nil, 0, ErrBadEncoding
	}
}

func compareVal(k Kind, a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	switch k {
	case KindInt32:
		av, bv := a.(int32), b.(int32)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case KindInt64:
		av, bv := a.(int64), b.(int64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case KindFloat64:
		av, bv := a.(float64), b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case KindVarChar:
		return bytes.Compare([]byte(a.(string)), []byte(b.(string)))
	case KindBytes:
		return bytes.Compare(a.([]byte), b.([]byte))
	default:
		return 0
	}
}

// ShortestSeparator returns the shortest byte string sep such that
// left < sep <= right (lexicographically), used by the leaf-split
// separator-key rule of spec 4.3 for variable-length string columns: the
// shortest prefix of right that is strictly greater than left.
func ShortestSeparator(left, right string) string {
	n := len(left)
	if len(right) < n {
		n = len(right)
	}
	i := 0
	for i < n && left[i] == right[i] {
		i++
	}
	if i == len(right) {
		return right
	}
	return right[:i+1]
}
