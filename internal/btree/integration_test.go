package btree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/pbtree/internal/bufferpool"
	"github.com/tuannm99/pbtree/internal/heap"
	"github.com/tuannm99/pbtree/internal/keydomain"
	"github.com/tuannm99/pbtree/internal/record"
	"github.com/tuannm99/pbtree/internal/storage"
)

// newTestTable builds a minimal heap table backing a (id int64, name
// varchar) row, used to exercise find_unique/range_search against real
// stored rows rather than bare OIDs.
func newTestTable(t *testing.T) *heap.Table {
	t.Helper()
	dir := t.TempDir()
	sm := storage.NewStorageManager()
	fs := storage.LocalFileSet{Dir: dir, Base: "rows"}
	gp := bufferpool.NewGlobalPool(sm, bufferpool.DefaultCapacity)
	bp := gp.View(fs)

	schema := record.Schema{Columns: []record.Column{
		{Name: "id", Kind: keydomain.KindInt64},
		{Name: "name", Kind: keydomain.KindVarChar},
	}}
	return heap.NewTable("people", schema, sm, fs, bp, nil, 0)
}

// TestIndexOverHeapTable_FindUniqueAndRangeSearch exercises the btree
// driver end-to-end over rows actually stored in a heap table, confirming
// an OID the index hands back resolves to the row that was inserted under
// that key.
func TestIndexOverHeapTable_FindUniqueAndRangeSearch(t *testing.T) {
	table := newTestTable(t)
	tr := newTestTree(t, int64Domain(), true)

	type person struct {
		id   int64
		name string
	}
	people := []person{
		{1, "ann"}, {2, "bao"}, {3, "cam"}, {4, "duy"}, {5, "eve"},
	}

	for _, p := range people {
		tid, err := table.Insert([]any{p.id, p.name})
		require.NoError(t, err)

		rowOID := OID{PageID: tid.PageID, Slot: tid.Slot}
		require.NoError(t, tr.Insert([]any{p.id}, OID{}, rowOID, true))
	}
	require.NoError(t, table.Flush())

	found, ok, err := tr.FindUnique([]any{int64(3)})
	require.NoError(t, err)
	require.True(t, ok)

	row, err := table.Get(heap.TID{PageID: found.PageID, Slot: found.Slot})
	require.NoError(t, err)
	require.Equal(t, []any{int64(3), "cam"}, row)

	c := &ScanCursor{Lower: []any{int64(2)}, Upper: []any{int64(4)}, Kind: RangeGeLe}
	oids, done, err := tr.RangeSearch(c, 100)
	require.NoError(t, err)
	require.True(t, done)
	require.Len(t, oids, 3)

	names := make([]string, 0, len(oids))
	for _, o := range oids {
		row, err := table.Get(heap.TID{PageID: o.PageID, Slot: o.Slot})
		require.NoError(t, err)
		names = append(names, row[1].(string))
	}
	require.ElementsMatch(t, []string{"bao", "cam", "duy"}, names)
}

// TestIndexOverHeapTable_DeleteRowAndIndexEntryTogether checks that
// removing a row and its index entry leaves find_unique reporting it gone
// while the heap's scan skips the deleted slot.
func TestIndexOverHeapTable_DeleteRowAndIndexEntryTogether(t *testing.T) {
	table := newTestTable(t)
	tr := newTestTree(t, int64Domain(), true)

	tid, err := table.Insert([]any{int64(10), "zara"})
	require.NoError(t, err)
	rowOID := OID{PageID: tid.PageID, Slot: tid.Slot}
	require.NoError(t, tr.Insert([]any{int64(10)}, OID{}, rowOID, true))

	require.NoError(t, tr.Delete([]any{int64(10)}, rowOID))
	require.NoError(t, table.Delete(tid))

	_, ok, err := tr.FindUnique([]any{int64(10)})
	require.NoError(t, err)
	require.False(t, ok)

	seen := 0
	require.NoError(t, table.Scan(func(id heap.TID, row []any) error {
		seen++
		return nil
	}))
	require.Equal(t, 0, seen)
}
