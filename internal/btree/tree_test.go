package btree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/pbtree/internal/bufferpool"
	"github.com/tuannm99/pbtree/internal/storage"
)

func TestCreateIndex_EmptyRootLeaf(t *testing.T) {
	tr := newTestTree(t, int64Domain(), true)
	require.Equal(t, rootPageID, tr.Root)
	require.Equal(t, 1, tr.Height)

	st, err := tr.GetStats(false)
	require.NoError(t, err)
	require.Equal(t, int64(0), st.NumOids)
	require.Equal(t, int64(1), st.LeafPages)
	require.Equal(t, int64(0), st.NonLeafPages)
}

func TestOpenIndex_RestoresStateAfterReopen(t *testing.T) {
	dir := t.TempDir()
	sm := storage.NewStorageManager()
	fs := storage.LocalFileSet{Dir: dir, Base: "idx"}
	gp := bufferpool.NewGlobalPool(sm, bufferpool.DefaultCapacity)
	bp := gp.View(fs)
	keysFS := storage.LocalFileSet{Dir: dir, Base: "idx_keys"}
	keys := storage.NewOverflowKeyStore(sm, keysFS)

	tr, err := CreateIndex(sm, fs, bp, keys, nil, nil, int64Domain(), true, false)
	require.NoError(t, err)
	for i := int64(0); i < 100; i++ {
		require.NoError(t, tr.Insert([]any{i}, OID{}, oid(1, uint16(i)), true))
	}
	require.NoError(t, tr.BP.FlushAll())

	gp2 := bufferpool.NewGlobalPool(sm, bufferpool.DefaultCapacity)
	bp2 := gp2.View(fs)
	reopened, err := OpenIndex(sm, fs, bp2, keys, nil, nil)
	require.NoError(t, err)
	require.Equal(t, tr.Height, reopened.Height)
	require.True(t, reopened.Unique)

	found, ok, err := reopened.FindUnique([]any{int64(42)})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, oid(1, 42), found)
}

func TestDeleteIndex_RemovesBackingFiles(t *testing.T) {
	dir := t.TempDir()
	sm := storage.NewStorageManager()
	fs := storage.LocalFileSet{Dir: dir, Base: "idx"}
	gp := bufferpool.NewGlobalPool(sm, bufferpool.DefaultCapacity)
	bp := gp.View(fs)
	keysFS := storage.LocalFileSet{Dir: dir, Base: "idx_keys"}
	keys := storage.NewOverflowKeyStore(sm, keysFS)

	tr, err := CreateIndex(sm, fs, bp, keys, nil, nil, varcharDomain(), false, false)
	require.NoError(t, err)
	require.NoError(t, tr.Insert([]any{"short"}, OID{}, oid(1, 1), true))

	big := make([]byte, maxInlineKeyBytes+64)
	for i := range big {
		big[i] = byte('a' + i%26)
	}
	require.NoError(t, tr.Insert([]any{string(big)}, OID{}, oid(1, 2), true))
	require.NoError(t, tr.BP.FlushAll())

	require.NoError(t, DeleteIndex(gp, fs, keys))

	n, err := sm.CountPages(fs)
	require.NoError(t, err)
	require.Equal(t, uint32(0), n)

	kn, err := sm.CountPages(keysFS)
	require.NoError(t, err)
	require.Equal(t, uint32(0), kn)
}
