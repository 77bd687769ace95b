package btree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/pbtree/internal/bufferpool"
	"github.com/tuannm99/pbtree/internal/storage"
	"github.com/tuannm99/pbtree/internal/wal"
)

// TestRecovery_ReplaysUnflushedMutations simulates a crash: a tree is
// mutated through one buffer pool and WAL manager, the dirty pages are
// never flushed to disk, and a second, independent buffer pool opened over
// the same on-disk files only sees pre-mutation bytes until Recovery
// replays the WAL against it.
func TestRecovery_ReplaysUnflushedMutations(t *testing.T) {
	dir := t.TempDir()
	sm := storage.NewStorageManager()
	fs := storage.LocalFileSet{Dir: dir, Base: "idx"}
	keysFS := storage.LocalFileSet{Dir: dir, Base: "idx_keys"}
	keys := storage.NewOverflowKeyStore(sm, keysFS)

	walDir := t.TempDir()
	walMgr, err := wal.Open(walDir)
	require.NoError(t, err)
	defer func() { _ = walMgr.Close() }()

	gp1 := bufferpool.NewGlobalPool(sm, bufferpool.DefaultCapacity)
	bp1 := gp1.View(fs)

	tr1, err := CreateIndex(sm, fs, bp1, keys, nil, walMgr, int64Domain(), false, false)
	require.NoError(t, err)

	// Enough inserts to force at least one split, exercising KindCopyPage
	// on more than just the root leaf.
	for i := int64(1); i <= 200; i++ {
		require.NoError(t, tr1.Insert([]any{i}, OID{}, oid(1, uint16(i)), false))
	}

	// Never call gp1.FlushAll(): every mutated page only exists dirty in
	// gp1's frames, not on disk, mirroring a crash before checkpoint.

	// A second, independent pool over the same StorageManager/FileSet reads
	// genuinely stale bytes: GetPage's miss path goes straight to disk.
	gp2 := bufferpool.NewGlobalPool(sm, bufferpool.DefaultCapacity)
	bp2 := gp2.View(fs)

	tr2 := &Tree{
		SM: sm, FS: fs, BP: bp2, Keys: keys, WAL: walMgr,
		Domain: tr1.Domain, Unique: tr1.Unique, Reverse: tr1.Reverse,
		Root: tr1.Root, Height: tr1.Height,
	}

	_, found, err := tr2.FindUnique([]any{int64(150)})
	require.NoError(t, err)
	require.False(t, found, "unflushed mutation should not be visible before recovery")

	rec := &Recovery{Pages: map[string]*Tree{vfid(fs): tr2}}
	require.NoError(t, walMgr.Recover(rec))

	for i := int64(1); i <= 200; i++ {
		got, found, err := tr2.FindUnique([]any{i})
		require.NoError(t, err)
		require.True(t, found, "key %d should be visible after WAL replay", i)
		require.Equal(t, oid(1, uint16(i)), got)
	}
}

// TestRecovery_IdempotentReplay confirms a second Recover pass over the
// same WAL file is a no-op: every record's LSN is already reflected on the
// recovered pages, so ApplyRedo's LSN check skips re-applying it.
func TestRecovery_IdempotentReplay(t *testing.T) {
	dir := t.TempDir()
	sm := storage.NewStorageManager()
	fs := storage.LocalFileSet{Dir: dir, Base: "idx"}
	keysFS := storage.LocalFileSet{Dir: dir, Base: "idx_keys"}
	keys := storage.NewOverflowKeyStore(sm, keysFS)

	walDir := t.TempDir()
	walMgr, err := wal.Open(walDir)
	require.NoError(t, err)
	defer func() { _ = walMgr.Close() }()

	gp1 := bufferpool.NewGlobalPool(sm, bufferpool.DefaultCapacity)
	bp1 := gp1.View(fs)
	tr1, err := CreateIndex(sm, fs, bp1, keys, nil, walMgr, int64Domain(), false, false)
	require.NoError(t, err)
	for i := int64(1); i <= 10; i++ {
		require.NoError(t, tr1.Insert([]any{i}, OID{}, oid(1, uint16(i)), false))
	}

	gp2 := bufferpool.NewGlobalPool(sm, bufferpool.DefaultCapacity)
	bp2 := gp2.View(fs)
	tr2 := &Tree{
		SM: sm, FS: fs, BP: bp2, Keys: keys, WAL: walMgr,
		Domain: tr1.Domain, Unique: tr1.Unique, Reverse: tr1.Reverse,
		Root: tr1.Root, Height: tr1.Height,
	}
	rec := &Recovery{Pages: map[string]*Tree{vfid(fs): tr2}}

	require.NoError(t, walMgr.Recover(rec))
	require.NoError(t, walMgr.Recover(rec))

	for i := int64(1); i <= 10; i++ {
		got, found, err := tr2.FindUnique([]any{i})
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, oid(1, uint16(i)), got)
	}
}
