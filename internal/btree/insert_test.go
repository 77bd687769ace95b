package btree

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestInsert_UniqueIndex_SingleLeaf covers spec scenario S1: a handful of
// inserts into a fresh unique index stay on one leaf page and stats track
// exactly.
func TestInsert_UniqueIndex_SingleLeaf(t *testing.T) {
	tr := newTestTree(t, int64Domain(), true)

	require.NoError(t, tr.Insert([]any{int64(1)}, OID{}, oid(1, 0), true))
	require.NoError(t, tr.Insert([]any{int64(2)}, OID{}, oid(1, 1), true))
	require.NoError(t, tr.Insert([]any{int64(3)}, OID{}, oid(1, 2), true))

	found, got, err := tr.FindUnique([]any{int64(2)})
	require.NoError(t, err)
	require.True(t, got)
	require.Equal(t, oid(1, 1), found)

	st, err := tr.GetStats(false)
	require.NoError(t, err)
	require.Equal(t, int64(3), st.NumOids)
	require.Equal(t, int64(3), st.NumKeys)
	require.Equal(t, int64(0), st.NumNulls)
	require.Equal(t, 1, st.Height)
	require.Equal(t, int64(1), st.LeafPages)
}

// TestInsert_ManyKeys_SplitsAndGrowsHeight forces enough inserts that the
// root leaf overflows repeatedly (spec 4.7/4.4/4.5), and checks the
// resulting tree is still internally consistent.
func TestInsert_ManyKeys_SplitsAndGrowsHeight(t *testing.T) {
	tr := newTestTree(t, int64Domain(), false)

	const n = 500
	for i := int64(0); i < n; i++ {
		require.NoError(t, tr.Insert([]any{i}, OID{}, oid(1, uint16(i%60000)), true))
	}

	require.NoError(t, tr.CheckTree())
	require.Greater(t, tr.Height, 1)

	c := &ScanCursor{Kind: RangeInfInf}
	oids, done, err := tr.RangeSearch(c, n*2)
	require.NoError(t, err)
	require.True(t, done)
	require.Len(t, oids, n)
}

// TestInsert_DuplicateOid_IsWarningNotError covers the "insert found
// duplicate OID" tolerated-warning case from spec 9.
func TestInsert_DuplicateOid_IsWarningNotError(t *testing.T) {
	tr := newTestTree(t, int64Domain(), false)

	require.NoError(t, tr.Insert([]any{int64(1)}, OID{}, oid(1, 0), true))
	require.NoError(t, tr.Insert([]any{int64(1)}, OID{}, oid(1, 0), true))

	oids, err := tr.KeyvalSearch([]any{int64(1)})
	require.NoError(t, err)
	require.Len(t, oids, 1)
}

// TestInsert_UniqueIndex_DuplicateKey_FailsUniqueViolation covers spec
// scenario S2: inserting a second OID under an existing key in a unique
// index with do_unique_check=true fails with ErrUniqueViolation and
// leaves the tree unchanged.
func TestInsert_UniqueIndex_DuplicateKey_FailsUniqueViolation(t *testing.T) {
	tr := newTestTree(t, int64Domain(), true)

	require.NoError(t, tr.Insert([]any{int64(2)}, OID{}, oid(1, 1), true))

	err := tr.Insert([]any{int64(2)}, OID{}, oid(1, 4), true)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUniqueViolation))

	found, ok, err := tr.FindUnique([]any{int64(2)})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, oid(1, 1), found)

	st, err := tr.GetStats(false)
	require.NoError(t, err)
	require.Equal(t, int64(1), st.NumOids)
	require.Equal(t, int64(1), st.NumKeys)
}

// TestInsert_UniqueIndex_DuplicateKey_SkipsCheckWhenDoUniqueCheckFalse
// confirms do_unique_check is a per-call flag, not a property solely of
// the index: a caller that opts out (e.g. a bulk loader building a
// unique index from already-validated data) still gets the append.
func TestInsert_UniqueIndex_DuplicateKey_SkipsCheckWhenDoUniqueCheckFalse(t *testing.T) {
	tr := newTestTree(t, int64Domain(), true)

	require.NoError(t, tr.Insert([]any{int64(2)}, OID{}, oid(1, 1), true))
	require.NoError(t, tr.Insert([]any{int64(2)}, OID{}, oid(1, 4), false))

	oids, err := tr.KeyvalSearch([]any{int64(2)})
	require.NoError(t, err)
	require.Len(t, oids, 2)
}

// TestInsert_NonUnique_DuplicateKeySpillsToOverflowChain covers spec
// scenario S6's shape at a smaller scale: many OIDs under one key spill
// from the inline list into the OID-overflow chain and are all found.
func TestInsert_NonUnique_DuplicateKeySpillsToOverflowChain(t *testing.T) {
	tr := newTestTree(t, int64Domain(), false)

	const n = 400
	for i := 0; i < n; i++ {
		require.NoError(t, tr.Insert([]any{int64(1)}, OID{}, oid(1, uint16(i)), true))
	}

	oids, err := tr.KeyvalSearch([]any{int64(1)})
	require.NoError(t, err)
	require.Len(t, oids, n)

	seen := make(map[OID]bool, n)
	for _, o := range oids {
		require.False(t, seen[o], "duplicate oid returned: %v", o)
		seen[o] = true
	}
}
