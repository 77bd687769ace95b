package btree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/pbtree/internal/bufferpool"
	"github.com/tuannm99/pbtree/internal/keydomain"
	"github.com/tuannm99/pbtree/internal/storage"
)

func int64Domain() keydomain.Domain {
	return keydomain.Domain{Columns: []keydomain.Column{{Kind: keydomain.KindInt64}}}
}

func varcharDomain() keydomain.Domain {
	return keydomain.Domain{Columns: []keydomain.Column{{Kind: keydomain.KindVarChar}}}
}

// newTestTree creates a brand-new index bound to a temp directory, mirroring
// internal/heap's newTestTable harness.
func newTestTree(t *testing.T, domain keydomain.Domain, unique bool) *Tree {
	t.Helper()

	dir := t.TempDir()
	sm := storage.NewStorageManager()
	fs := storage.LocalFileSet{Dir: dir, Base: "idx"}
	gp := bufferpool.NewGlobalPool(sm, bufferpool.DefaultCapacity)
	bp := gp.View(fs)

	keysFS := storage.LocalFileSet{Dir: dir, Base: "idx_keys"}
	keys := storage.NewOverflowKeyStore(sm, keysFS)

	tr, err := CreateIndex(sm, fs, bp, keys, nil, nil, domain, unique, false)
	require.NoError(t, err)
	return tr
}

func oid(page uint32, slot uint16) OID { return OID{PageID: page, Slot: slot} }
