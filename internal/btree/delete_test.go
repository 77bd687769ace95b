package btree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func rangeOf(t *testing.T, tr *Tree, lower, upper int64) []int64 {
	t.Helper()
	c := &ScanCursor{Lower: []any{lower}, Upper: []any{upper}, Kind: RangeGeLe}
	oids, done, err := tr.RangeSearch(c, 1000)
	require.NoError(t, err)
	require.True(t, done)
	got := make([]int64, len(oids))
	for i, o := range oids {
		got[i] = int64(o.Slot)
	}
	return got
}

// TestRangeSearch_SmallIndex_OrderedResult covers spec scenario S3's range
// query: ten int64 keys fit on a single leaf at the fixed 16 KiB page size,
// so no split happens here (splitting is covered by
// TestInsert_ManyKeys_SplitsAndGrowsHeight); the range comes back ordered
// and gap-free.
func TestRangeSearch_SmallIndex_OrderedResult(t *testing.T) {
	tr := newTestTree(t, int64Domain(), false)
	for i := int64(1); i <= 10; i++ {
		require.NoError(t, tr.Insert([]any{i}, OID{}, oid(1, uint16(i)), true))
	}
	require.Greater(t, tr.Height, 0)

	require.Equal(t, []int64{3, 4, 5, 6, 7}, rangeOf(t, tr, 3, 7))
}

// TestDelete_RemovesKeyAndClosesGap covers spec scenario S4: deleting one
// key out of a populated range leaves the remaining ones intact and in
// order.
func TestDelete_RemovesKeyAndClosesGap(t *testing.T) {
	tr := newTestTree(t, int64Domain(), false)
	for i := int64(1); i <= 10; i++ {
		require.NoError(t, tr.Insert([]any{i}, OID{}, oid(1, uint16(i)), true))
	}

	require.NoError(t, tr.Delete([]any{int64(5)}, oid(1, 5)))
	require.Equal(t, []int64{3, 4, 6, 7}, rangeOf(t, tr, 3, 7))
	require.NoError(t, tr.CheckTree())
}

// TestDelete_MissingKey_IsWarningNotError covers the "delete found no
// key" tolerated-warning case from spec 9.
func TestDelete_MissingKey_IsWarningNotError(t *testing.T) {
	tr := newTestTree(t, int64Domain(), false)
	require.NoError(t, tr.Insert([]any{int64(1)}, OID{}, oid(1, 1), true))

	require.NoError(t, tr.Delete([]any{int64(99)}, oid(1, 99)))
	require.NoError(t, tr.Delete([]any{int64(1)}, oid(2, 2)))

	oids, err := tr.KeyvalSearch([]any{int64(1)})
	require.NoError(t, err)
	require.Len(t, oids, 1)
}

// TestDelete_EmptiesRecord_RemovesLeafEntry checks a key whose only OID is
// removed disappears from the tree entirely.
func TestDelete_EmptiesRecord_RemovesLeafEntry(t *testing.T) {
	tr := newTestTree(t, int64Domain(), true)
	require.NoError(t, tr.Insert([]any{int64(1)}, OID{}, oid(1, 1), true))

	require.NoError(t, tr.Delete([]any{int64(1)}, oid(1, 1)))

	found, ok, err := tr.FindUnique([]any{int64(1)})
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, OID{}, found)

	st, err := tr.GetStats(false)
	require.NoError(t, err)
	require.Equal(t, int64(0), st.NumKeys)
	require.Equal(t, int64(0), st.NumOids)
}

// TestDeleteMany_TriggersMergesAndStaysConsistent builds a multi-level
// tree, deletes most of its keys, and checks CheckTree never trips.
func TestDeleteMany_TriggersMergesAndStaysConsistent(t *testing.T) {
	tr := newTestTree(t, int64Domain(), false)

	const n = 300
	for i := int64(0); i < n; i++ {
		require.NoError(t, tr.Insert([]any{i}, OID{}, oid(1, uint16(i)), true))
	}
	require.NoError(t, tr.CheckTree())

	for i := int64(0); i < n; i += 2 {
		require.NoError(t, tr.Delete([]any{i}, oid(1, uint16(i))))
	}
	require.NoError(t, tr.CheckTree())

	c := &ScanCursor{Kind: RangeInfInf}
	oids, done, err := tr.RangeSearch(c, n*2)
	require.NoError(t, err)
	require.True(t, done)
	require.Len(t, oids, n/2)
}
