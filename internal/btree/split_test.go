package btree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindSplitPoint_BalancesByByteSize(t *testing.T) {
	require.Equal(t, 0, findSplitPoint(nil))
	require.Equal(t, 1, findSplitPoint([]int{10}))
	require.Equal(t, 1, findSplitPoint([]int{10, 10}))
	require.Equal(t, 2, findSplitPoint([]int{10, 10, 10, 10}))
	// a single oversized record still yields an in-bounds split point.
	mid := findSplitPoint([]int{1, 1, 1000, 1})
	require.GreaterOrEqual(t, mid, 1)
	require.LessOrEqual(t, mid, 3)
}

func TestSeparatorKey_TrimsSharedVarcharPrefix(t *testing.T) {
	tr := newTestTree(t, varcharDomain(), false)
	sep := tr.separatorKey([]any{"alphabet"}, []any{"alphorn"})
	require.Equal(t, []any{"alpho"}, sep)

	sep = tr.separatorKey([]any{"apple"}, []any{"banana"})
	got, ok := sep[0].(string)
	require.True(t, ok)
	require.GreaterOrEqual(t, got, "apple")
	require.Less(t, got, "banana")
}

func TestSplitLeaf_DividesRecordsAndLinksSiblings(t *testing.T) {
	tr := newTestTree(t, int64Domain(), false)

	root, err := tr.BP.GetPage(tr.Root)
	require.NoError(t, err)
	for i := int64(0); i < 8; i++ {
		rec, err := tr.codec().encodeLeafRecord([]any{i}, OID{}, oid(1, uint16(i)))
		require.NoError(t, err)
		require.NoError(t, root.InsertAt(int(i)+1, rec))
	}
	h := readNodeHeader(root)
	h.KeyCount = 8
	require.NoError(t, writeHeader(root, h))

	rightID, sep, rightPage, err := tr.splitLeaf(root)
	require.NoError(t, err)
	require.NotNil(t, rightPage)
	require.NotNil(t, sep)

	lh := readNodeHeader(root)
	rh := readNodeHeader(rightPage)
	require.Equal(t, int32(8), lh.KeyCount+rh.KeyCount)
	require.Equal(t, rightID, lh.NextVPID.PageID)
	require.True(t, rh.NextVPID.IsNull())

	leftKeys, err := tr.leafKeys(root)
	require.NoError(t, err)
	rightKeys, err := tr.leafKeys(rightPage)
	require.NoError(t, err)
	require.Equal(t, int(lh.KeyCount), len(leftKeys))
	require.Equal(t, int(rh.KeyCount), len(rightKeys))
	require.Less(t, leftKeys[len(leftKeys)-1][0].(int64), rightKeys[0][0].(int64))

	require.NoError(t, tr.BP.Unpin(root, true))
	require.NoError(t, tr.BP.Unpin(rightPage, true))
}

func TestSplitRoot_IncrementsHeightAndPreservesRootID(t *testing.T) {
	tr := newTestTree(t, int64Domain(), false)

	root, err := tr.BP.GetPage(tr.Root)
	require.NoError(t, err)
	for i := int64(0); i < 8; i++ {
		rec, err := tr.codec().encodeLeafRecord([]any{i}, OID{}, oid(1, uint16(i)))
		require.NoError(t, err)
		require.NoError(t, root.InsertAt(int(i)+1, rec))
	}
	h := readNodeHeader(root)
	h.KeyCount = 8
	require.NoError(t, writeHeader(root, h))

	require.Equal(t, 1, tr.Height)
	require.NoError(t, tr.splitRoot(root))
	require.Equal(t, 2, tr.Height)

	nh := readNodeHeader(root)
	require.Equal(t, NodeNonLeaf, nh.NodeType)
	require.Equal(t, int32(1), nh.KeyCount)
	require.NoError(t, tr.BP.Unpin(root, true))
}
