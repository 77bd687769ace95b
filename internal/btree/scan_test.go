package btree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/pbtree/internal/bufferpool"
	"github.com/tuannm99/pbtree/internal/lock"
	"github.com/tuannm99/pbtree/internal/storage"
)

// TestRangeSearch_BufferedIteration covers spec scenario S6's iterative
// shape at a smaller scale: repeated small-capacity calls with the same
// cursor return every OID exactly once, in order, across calls.
func TestRangeSearch_BufferedIteration(t *testing.T) {
	tr := newTestTree(t, int64Domain(), false)
	const n = 200
	for i := 0; i < n; i++ {
		require.NoError(t, tr.Insert([]any{int64(1)}, OID{}, oid(1, uint16(i)), true))
	}

	c := &ScanCursor{Lower: []any{int64(1)}, Upper: []any{int64(1)}, Kind: RangeGeLe}
	seen := make(map[OID]bool, n)
	total := 0
	for {
		batch, done, err := tr.RangeSearch(c, 32)
		require.NoError(t, err)
		for _, o := range batch {
			require.False(t, seen[o])
			seen[o] = true
		}
		total += len(batch)
		if done {
			break
		}
	}
	require.Equal(t, n, total)
}

func TestRangeSearch_ExclusiveBounds(t *testing.T) {
	tr := newTestTree(t, int64Domain(), false)
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, tr.Insert([]any{i}, OID{}, oid(1, uint16(i)), true))
	}

	c := &ScanCursor{Lower: []any{int64(1)}, Upper: []any{int64(5)}, Kind: RangeGtLt}
	oids, done, err := tr.RangeSearch(c, 100)
	require.NoError(t, err)
	require.True(t, done)
	got := make([]int, len(oids))
	for i, o := range oids {
		got[i] = int(o.Slot)
	}
	require.Equal(t, []int{2, 3, 4}, got)
}

func TestRangeSearch_UnboundedEnds(t *testing.T) {
	tr := newTestTree(t, int64Domain(), false)
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, tr.Insert([]any{i}, OID{}, oid(1, uint16(i)), true))
	}

	c := &ScanCursor{Upper: []any{int64(2)}, Kind: RangeInfLe}
	oids, done, err := tr.RangeSearch(c, 100)
	require.NoError(t, err)
	require.True(t, done)
	require.Len(t, oids, 2)

	c2 := &ScanCursor{Lower: []any{int64(4)}, Kind: RangeGeInf}
	oids2, done2, err := tr.RangeSearch(c2, 100)
	require.NoError(t, err)
	require.True(t, done2)
	require.Len(t, oids2, 2)
}

// TestRangeSearch_TakesNextKeyLockPerMatchedKey covers spec 4.9's
// getoid-again validation: RangeSearch takes an instant hold lock on
// every key it returns, so a lock manager attached to the tree actually
// observes scan traffic rather than sitting unused.
func TestRangeSearch_TakesNextKeyLockPerMatchedKey(t *testing.T) {
	dir := t.TempDir()
	sm := storage.NewStorageManager()
	fs := storage.LocalFileSet{Dir: dir, Base: "idx"}
	gp := bufferpool.NewGlobalPool(sm, bufferpool.DefaultCapacity)
	bp := gp.View(fs)
	keysFS := storage.LocalFileSet{Dir: dir, Base: "idx_keys"}
	keys := storage.NewOverflowKeyStore(sm, keysFS)
	locks := lock.NewManager()

	tr, err := CreateIndex(sm, fs, bp, keys, locks, nil, int64Domain(), false, false)
	require.NoError(t, err)
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, tr.Insert([]any{i}, OID{}, oid(1, uint16(i)), true))
	}

	c := &ScanCursor{Lower: []any{int64(1)}, Upper: []any{int64(5)}, Kind: RangeGeLe, Txn: lock.TxnID(42)}
	oids, done, err := tr.RangeSearch(c, 100)
	require.NoError(t, err)
	require.True(t, done)
	require.Len(t, oids, 5)

	// Instant hold locks always release before RangeSearch returns to its
	// caller, so a second, unrelated txn can still take an exclusive lock on
	// the same leaf slot right after: the scan never leaves anything held.
	held, err := locks.LockObject(lock.TxnID(99), lock.ObjectID{Page: tr.Root, Slot: 1}, lock.ObjectID{}, lock.X, false)
	require.NoError(t, err)
	require.True(t, held)
}

func TestKeyvalSearch_UniqueIndex_ZeroOrOne(t *testing.T) {
	tr := newTestTree(t, int64Domain(), true)
	require.NoError(t, tr.Insert([]any{int64(7)}, OID{}, oid(1, 7), true))

	oids, err := tr.KeyvalSearch([]any{int64(7)})
	require.NoError(t, err)
	require.Len(t, oids, 1)

	oids, err = tr.KeyvalSearch([]any{int64(8)})
	require.NoError(t, err)
	require.Len(t, oids, 0)
}

// TestFindUnique_OversizedKey_RoutesThroughOverflowFile covers spec
// scenario S5: a key too large to fit inline is stored via the overflow-
// key file and still round-trips through find_unique.
func TestFindUnique_OversizedKey_RoutesThroughOverflowFile(t *testing.T) {
	tr := newTestTree(t, varcharDomain(), true)

	big := make([]byte, maxInlineKeyBytes+1024)
	for i := range big {
		big[i] = byte('a' + i%26)
	}
	bigKey := string(big)

	require.NoError(t, tr.Insert([]any{bigKey}, OID{}, oid(1, 1), true))

	found, ok, err := tr.FindUnique([]any{bigKey})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, oid(1, 1), found)
}
