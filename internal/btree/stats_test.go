package btree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetStats_PartialKeys_CountsDistinctColumns(t *testing.T) {
	tr := newTestTree(t, int64Domain(), false)
	for _, v := range []int64{1, 2, 2, 3, 3, 3} {
		require.NoError(t, tr.Insert([]any{v}, OID{}, oid(1, uint16(v)), true))
	}

	st, err := tr.GetStats(true)
	require.NoError(t, err)
	require.Len(t, st.DistinctPerColumn, 1)
	require.Equal(t, int64(3), st.DistinctPerColumn[0])
}

func TestReflectUniqueStatistics_MergesDelta(t *testing.T) {
	tr := newTestTree(t, int64Domain(), true)
	require.NoError(t, tr.Insert([]any{int64(1)}, OID{}, oid(1, 1), true))

	require.NoError(t, tr.ReflectUniqueStatistics(5, 2, 3))

	st, err := tr.GetStats(false)
	require.NoError(t, err)
	require.Equal(t, int64(6), st.NumOids)
	require.Equal(t, int64(2), st.NumNulls)
	require.Equal(t, int64(4), st.NumKeys)
}

func TestCheckTree_DetectsNothingWrongOnHealthyTree(t *testing.T) {
	tr := newTestTree(t, int64Domain(), false)
	for i := int64(0); i < 200; i++ {
		require.NoError(t, tr.Insert([]any{i}, OID{}, oid(1, uint16(i)), true))
	}
	require.NoError(t, tr.CheckTree())
}

func TestCheckAll_AggregatesMultipleTrees(t *testing.T) {
	a := newTestTree(t, int64Domain(), false)
	b := newTestTree(t, int64Domain(), true)
	require.NoError(t, a.Insert([]any{int64(1)}, OID{}, oid(1, 1), true))
	require.NoError(t, b.Insert([]any{int64(2)}, OID{}, oid(1, 2), true))

	require.NoError(t, CheckAll([]*Tree{a, b}))
}

func TestFindKey_ReverseLookup(t *testing.T) {
	tr := newTestTree(t, int64Domain(), false)
	for i := int64(0); i < 50; i++ {
		require.NoError(t, tr.Insert([]any{i}, OID{}, oid(1, uint16(i)), true))
	}

	key, ok, err := tr.FindKey(oid(1, 37))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []any{int64(37)}, key)

	_, ok, err = tr.FindKey(oid(9, 9))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpdate_MovesOidToNewKey(t *testing.T) {
	tr := newTestTree(t, int64Domain(), true)
	require.NoError(t, tr.Insert([]any{int64(1)}, OID{}, oid(1, 1), true))

	require.NoError(t, tr.Update([]any{int64(1)}, []any{int64(2)}, OID{}, oid(1, 1)))

	_, ok, err := tr.FindUnique([]any{int64(1)})
	require.NoError(t, err)
	require.False(t, ok)

	found, ok, err := tr.FindUnique([]any{int64(2)})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, oid(1, 1), found)
}
