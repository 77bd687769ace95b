// Package record is the heap table's row codec: a named-column schema
// encoded with the same typed-value codec the btree uses for keys
// (internal/keydomain), since a row is just an unordered tuple of the
// same scalar kinds a key column can hold.
package record

import "github.com/tuannm99/pbtree/internal/keydomain"

// Column is one named field of a heap row.
type Column struct {
	Name string
	Kind keydomain.Kind
}

// Schema is the ordered list of a table's columns.
type Schema struct {
	Columns []Column
}

func (s Schema) domain() keydomain.Domain {
	cols := make([]keydomain.Column, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = keydomain.Column{Kind: c.Kind}
	}
	return keydomain.Domain{Columns: cols}
}

// EncodeRow serializes vals (one entry per schema column, nil for NULL).
func (s Schema) EncodeRow(vals []any) ([]byte, error) {
	return s.domain().EncodeKey(vals)
}

// DecodeRow is the inverse of EncodeRow.
func (s Schema) DecodeRow(buf []byte) ([]any, error) {
	return s.domain().DecodeKey(buf)
}

// ColumnIndex returns the position of name in the schema, or -1.
func (s Schema) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}
