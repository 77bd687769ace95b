package heap

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/pbtree/internal/bufferpool"
	"github.com/tuannm99/pbtree/internal/keydomain"
	"github.com/tuannm99/pbtree/internal/record"
	"github.com/tuannm99/pbtree/internal/storage"
)

func testSchema() record.Schema {
	return record.Schema{Columns: []record.Column{
		{Name: "id", Kind: keydomain.KindInt64},
		{Name: "name", Kind: keydomain.KindVarChar},
		{Name: "active", Kind: keydomain.KindInt32},
	}}
}

// newTestTable creates a new heap.Table bound to a temp directory and returns
// it along with the underlying StorageManager and FileSet for reopen tests.
func newTestTable(t *testing.T, base string) (*Table, *storage.StorageManager, storage.LocalFileSet) {
	t.Helper()

	dir := t.TempDir()

	sm := storage.NewStorageManager()
	fs := storage.LocalFileSet{Dir: dir, Base: base}
	gp := bufferpool.NewGlobalPool(sm, bufferpool.DefaultCapacity)
	bp := gp.View(fs)

	overflowFS := storage.LocalFileSet{Dir: dir, Base: base + "_ovf"}
	ovf := storage.NewOverflowManager(sm, overflowFS)

	tbl := NewTable(base, testSchema(), sm, fs, bp, ovf, 0)

	return tbl, sm, fs
}

// reopenTestTable rebuilds a Table with a fresh buffer pool over the same
// files, simulating a process restart.
func reopenTestTable(t *testing.T, name string, sm *storage.StorageManager, fs storage.LocalFileSet) *Table {
	t.Helper()

	pageCount, err := sm.CountPages(fs)
	require.NoError(t, err)

	gp := bufferpool.NewGlobalPool(sm, bufferpool.DefaultCapacity)
	bp := gp.View(fs)

	overflowFS := storage.LocalFileSet{Dir: fs.Dir, Base: fs.Base + "_ovf"}
	ovf := storage.NewOverflowManager(sm, overflowFS)

	return NewTable(name, testSchema(), sm, fs, bp, ovf, pageCount)
}

func TestTable_InsertAndScan_Persisted(t *testing.T) {
	tbl, sm, fs := newTestTable(t, "users")

	const numRows = 10
	type rowData struct {
		id     int64
		name   string
		active int32
	}
	expected := make(map[int64]rowData)

	for i := 1; i <= numRows; i++ {
		r := rowData{id: int64(i), name: fmt.Sprintf("user-%d", i), active: int32(i % 2)}
		_, err := tbl.Insert([]any{r.id, r.name, r.active})
		require.NoError(t, err)
		expected[r.id] = r
	}

	require.NoError(t, tbl.Flush())

	pageCount, err := sm.CountPages(fs)
	require.NoError(t, err)
	require.Greater(t, pageCount, uint32(0))

	tbl2 := reopenTestTable(t, "users", sm, fs)

	got := make(map[int64]rowData)
	err = tbl2.Scan(func(id TID, row []any) error {
		got[row[0].(int64)] = rowData{id: row[0].(int64), name: row[1].(string), active: row[2].(int32)}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, expected, got)
}

func TestTable_UpdateGrow_ScanAndGet(t *testing.T) {
	tbl, sm, fs := newTestTable(t, "users_update")

	var tidFirst TID
	for i := 1; i <= 3; i++ {
		tid, err := tbl.Insert([]any{int64(i), fmt.Sprintf("user-%d", i), int32(1)})
		require.NoError(t, err)
		if i == 1 {
			tidFirst = tid
		}
	}

	updatedName := "user-1-updated-and-longer"
	require.NoError(t, tbl.Update(tidFirst, []any{int64(1), updatedName, int32(0)}))
	require.NoError(t, tbl.Flush())

	tbl2 := reopenTestTable(t, "users_update", sm, fs)

	foundIDs := make(map[int64]string)
	err := tbl2.Scan(func(id TID, row []any) error {
		foundIDs[row[0].(int64)] = row[1].(string)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, updatedName, foundIDs[1])
	require.Len(t, foundIDs, 3)

	row, err := tbl2.Get(tidFirst)
	require.NoError(t, err)
	require.Equal(t, int64(1), row[0])
	require.Equal(t, updatedName, row[1])
	require.Equal(t, int32(0), row[2])
}

func TestTable_DeleteAndScan(t *testing.T) {
	tbl, sm, fs := newTestTable(t, "users_delete")

	var tid3 TID
	for i := 1; i <= 5; i++ {
		tid, err := tbl.Insert([]any{int64(i), fmt.Sprintf("user-%d", i), int32(i % 2)})
		require.NoError(t, err)
		if i == 3 {
			tid3 = tid
		}
	}

	require.NoError(t, tbl.Delete(tid3))
	require.NoError(t, tbl.Flush())

	tbl2 := reopenTestTable(t, "users_delete", sm, fs)

	found := make(map[int64]bool)
	err := tbl2.Scan(func(id TID, row []any) error {
		found[row[0].(int64)] = true
		return nil
	})
	require.NoError(t, err)

	require.False(t, found[3], "id=3 should have been deleted")
	require.True(t, found[1])
	require.True(t, found[2])
	require.True(t, found[4])
	require.True(t, found[5])
	require.Len(t, found, 4)
}

func TestTable_Overflow_LargeRow(t *testing.T) {
	tbl, sm, fs := newTestTable(t, "users_overflow")

	big := make([]byte, storage.PageSize)
	for i := range big {
		big[i] = byte('a' + i%26)
	}

	tid, err := tbl.Insert([]any{int64(1), string(big), int32(1)})
	require.NoError(t, err)
	require.NoError(t, tbl.Flush())

	tbl2 := reopenTestTable(t, "users_overflow", sm, fs)
	row, err := tbl2.Get(tid)
	require.NoError(t, err)
	require.Equal(t, string(big), row[1])

	require.NoError(t, tbl2.Delete(tid))
}
