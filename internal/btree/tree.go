// Package btree implements a prefix B+-tree index, modeled on CUBRID's
// btree.c: composite typed keys, an external overflow-key file for keys
// too large to fit inline, and a chained overflow-OID store for
// duplicate-heavy keys in non-unique indexes.
package btree

import (
	"errors"

	"github.com/tuannm99/pbtree/internal/bufferpool"
	"github.com/tuannm99/pbtree/internal/keydomain"
	"github.com/tuannm99/pbtree/internal/lock"
	"github.com/tuannm99/pbtree/internal/storage"
	"github.com/tuannm99/pbtree/internal/wal"
)

// rootPageID is the fixed page id of an index's root. Each index owns a
// dedicated FileSet, so there is never ambiguity about which page is root
// and the root never needs to move.
const rootPageID uint32 = 0

// maxInlineKeyBytes bounds how large an encoded key may be before it is
// routed to the overflow-key file (spec 3: "key_len < 0").
const maxInlineKeyBytes = storage.PageSize / 8

// Tree is one prefix B+-tree index. It shares the buffer pool, lock
// manager, and WAL with every other table/index of the same database
// (spec 6) but owns its own FileSet.
type Tree struct {
	SM    *storage.StorageManager
	FS    storage.FileSet
	BP    bufferpool.Manager
	Keys  *storage.OverflowKeyStore
	Locks *lock.Manager
	WAL   *wal.Manager
	Pool  *bufferpool.GlobalPool // not read by Tree's methods; DeleteIndex takes its pool as a parameter

	Domain  keydomain.Domain
	Unique  bool
	Reverse bool

	Root       uint32
	Height     int
	nextPageID uint32
	freePages  []uint32

	metaEnabled bool
	metaPath    string
}

func (t *Tree) codec() *keyCodec {
	return &keyCodec{Domain: t.Domain, Keys: t.Keys, MaxInline: maxInlineKeyBytes, Unique: t.Unique}
}

func vfid(fs storage.FileSet) string {
	key, _, ok := storage.FsKeyOf(fs)
	if !ok {
		return ""
	}
	return key
}

func initStat(unique bool) int64 {
	if unique {
		return 0
	}
	return -1
}

// CreateIndex allocates a brand-new index (spec 6 operation add_index):
// a single-page tree whose root is an empty leaf.
func CreateIndex(
	sm *storage.StorageManager, fs storage.FileSet, bp bufferpool.Manager,
	keys *storage.OverflowKeyStore, locks *lock.Manager, walMgr *wal.Manager,
	domain keydomain.Domain, unique, reverse bool,
) (*Tree, error) {
	t := &Tree{
		SM: sm, FS: fs, BP: bp, Keys: keys, Locks: locks, WAL: walMgr,
		Domain: domain, Unique: unique, Reverse: reverse, nextPageID: 1,
	}
	if p, ok := metaPathForFileSet(fs); ok {
		t.metaEnabled = true
		t.metaPath = p
	}

	page, err := t.BP.GetPage(rootPageID)
	if err != nil {
		return nil, err
	}
	page.Reset(rootPageID)

	rh := RootHeader{
		NodeHeader: NodeHeader{NodeType: NodeLeaf, NextVPID: NullVPID},
		NumOids:    initStat(unique),
		NumNulls:   initStat(unique),
		NumKeys:    initStat(unique),
		Unique:     unique,
		Reverse:    reverse,
		Revision:   1,
		Domain:     domain,
	}
	encoded := encodeRootHeader(rh)
	if err := page.InsertAt(0, encoded); err != nil {
		_ = t.BP.Unpin(page, false)
		return nil, err
	}
	if err := t.BP.Unpin(page, true); err != nil {
		return nil, err
	}

	if t.WAL != nil {
		if lsn, err := t.WAL.AppendRedo(wal.KindNewPgAlloc, vfid(fs), rootPageID, -1, encoded); err == nil {
			_ = storage.MarkFileNew(fs, lsn)
		}
	}

	t.Root = rootPageID
	t.Height = 1
	if err := t.saveMeta(); err != nil {
		return nil, err
	}
	return t, nil
}

// OpenIndex reattaches to an existing index file, restoring the domain
// and tree-wide stats from the root page's header.
func OpenIndex(
	sm *storage.StorageManager, fs storage.FileSet, bp bufferpool.Manager,
	keys *storage.OverflowKeyStore, locks *lock.Manager, walMgr *wal.Manager,
) (*Tree, error) {
	t := &Tree{SM: sm, FS: fs, BP: bp, Keys: keys, Locks: locks, WAL: walMgr}
	if p, ok := metaPathForFileSet(fs); ok {
		t.metaEnabled = true
		t.metaPath = p
	}

	m, found, err := t.loadMeta()
	if err != nil {
		return nil, err
	}
	if found {
		t.Root, t.Height, t.nextPageID = m.Root, m.Height, m.NextPageID
	} else {
		t.Root, t.Height = rootPageID, 1
	}
	if t.nextPageID == 0 {
		t.nextPageID = 1
	}
	if n, err := sm.CountPages(fs); err == nil && n > t.nextPageID {
		t.nextPageID = n
	}

	page, err := t.BP.GetPage(t.Root)
	if err != nil {
		return nil, err
	}
	rh, err := t.readRootHeader(page)
	unpinErr := t.BP.Unpin(page, false)
	if err != nil {
		return nil, err
	}
	if unpinErr != nil {
		return nil, unpinErr
	}

	t.Domain = rh.Domain
	t.Unique = rh.Unique
	t.Reverse = rh.Reverse
	return t, nil
}

// DeleteIndex removes an index's backing files entirely, including its
// overflow-key file if it has one (spec 6 operation delete_index; spec 3
// Lifecycle: "the overflow-key file is... deallocated with the btree").
// pool may be nil if the caller already knows no page of this FileSet is
// cached (e.g. immediately after CreateIndex). keys may be nil for an
// index that never spilled a key to the overflow-key file.
func DeleteIndex(pool *bufferpool.GlobalPool, fs storage.FileSet, keys *storage.OverflowKeyStore) error {
	if pool != nil {
		if err := pool.DropFileSet(fs); err != nil {
			return err
		}
	}
	if err := dropIndexFileSet(fs); err != nil {
		return err
	}

	if keys == nil {
		return nil
	}
	keysFS := keys.FS()
	if pool != nil {
		if err := pool.DropFileSet(keysFS); err != nil {
			return err
		}
	}
	return dropIndexFileSet(keysFS)
}

func (t *Tree) allocPage() uint32 {
	if n := len(t.freePages); n > 0 {
		id := t.freePages[n-1]
		t.freePages = t.freePages[:n-1]
		return id
	}
	id := t.nextPageID
	t.nextPageID++
	return id
}

func (t *Tree) freePage(id uint32) {
	t.freePages = append(t.freePages, id)
}

func (t *Tree) newLeafPage() (uint32, *storage.Page, error) {
	id := t.allocPage()
	p, err := t.BP.GetPage(id)
	if err != nil {
		return 0, nil, err
	}
	p.Reset(id)
	h := NodeHeader{NodeType: NodeLeaf, NextVPID: NullVPID}
	if err := p.InsertAt(0, encodeNodeHeader(h)); err != nil {
		return 0, nil, err
	}
	return id, p, nil
}

func (t *Tree) newNonLeafPage() (uint32, *storage.Page, error) {
	id := t.allocPage()
	p, err := t.BP.GetPage(id)
	if err != nil {
		return 0, nil, err
	}
	p.Reset(id)
	h := NodeHeader{NodeType: NodeNonLeaf, NextVPID: NullVPID}
	if err := p.InsertAt(0, encodeNodeHeader(h)); err != nil {
		return 0, nil, err
	}
	return id, p, nil
}

func writeHeader(p *storage.Page, h NodeHeader) error {
	return p.UpdateTuple(0, encodeNodeHeader(h))
}

// logFullPage appends a whole-page-image redo record (wal.KindCopyPage) for
// pageID's current contents and stamps the page with the resulting LSN.
// Every insert/delete/split/merge mutation that leaves a page dirty routes
// through this (via logAndUnpin) instead of individually encoding each
// record-level change, so recovery only ever needs to reapply one page-sized
// after-image per WAL record rather than decode spec 6's full per-operation
// record family. A no-op when the tree has no attached WAL.
func (t *Tree) logFullPage(pageID uint32, p *storage.Page) {
	if t.WAL == nil {
		return
	}
	after := append([]byte(nil), p.Buf...)
	lsn, err := t.WAL.AppendRedo(wal.KindCopyPage, vfid(t.FS), pageID, -1, after)
	if err != nil {
		return
	}
	t.BP.SetLsa(p, lsn)
}

// logAndUnpin logs p's full current image then unpins it dirty. Used by the
// insert/delete drivers in place of a bare Unpin(p, true) at every point a
// page leaves this call with mutated contents, so split/merge rewrites are
// crash-recoverable the same way a plain leaf insert/delete already was.
func (t *Tree) logAndUnpin(pageID uint32, p *storage.Page) error {
	t.logFullPage(pageID, p)
	return t.BP.Unpin(p, true)
}

func (t *Tree) readRootHeader(p *storage.Page) (RootHeader, error) {
	raw, err := p.ReadTupleCopy(0)
	if err != nil {
		return RootHeader{}, err
	}
	return decodeRootHeader(raw), nil
}

func (t *Tree) writeRootHeader(p *storage.Page, h RootHeader) error {
	return p.UpdateTuple(0, encodeRootHeader(h))
}

func (t *Tree) nonLeafRecordAt(p *storage.Page, slot int) (nonLeafRecord, error) {
	raw, err := p.ReadTuple(slot)
	if err != nil {
		return nonLeafRecord{}, err
	}
	return t.codec().decodeNonLeafRecord(raw)
}

func (t *Tree) leafRecordAt(p *storage.Page, slot int) (leafRecord, error) {
	raw, err := p.ReadTuple(slot)
	if err != nil {
		return leafRecord{}, err
	}
	return t.codec().decodeLeafRecord(raw)
}

// nonLeafKeys decodes every record's key on a non-leaf page; the final
// entry is always nil (spec 3's key-less "rest of range" record).
func (t *Tree) nonLeafKeys(p *storage.Page) ([][]any, error) {
	h := readNodeHeader(p)
	n := int(h.KeyCount) + 1
	kc := t.codec()
	keys := make([][]any, n)
	for i := 0; i < n; i++ {
		raw, err := p.ReadTuple(i + 1)
		if err != nil {
			return nil, err
		}
		rec, err := kc.decodeNonLeafRecord(raw)
		if err != nil {
			return nil, err
		}
		keys[i] = rec.Key
	}
	return keys, nil
}

func (t *Tree) leafKeys(p *storage.Page) ([][]any, error) {
	h := readNodeHeader(p)
	n := int(h.KeyCount)
	kc := t.codec()
	keys := make([][]any, n)
	for i := 0; i < n; i++ {
		raw, err := p.ReadTuple(i + 1)
		if err != nil {
			return nil, err
		}
		rec, err := kc.decodeLeafRecord(raw)
		if err != nil {
			return nil, err
		}
		keys[i] = rec.Key
	}
	return keys, nil
}

// descendToLeaf walks from the root to the leaf that should contain key,
// returning that leaf pinned and the list of non-leaf page ids visited
// along the way (root-to-parent order), for the insert/delete drivers'
// bottom-up split/merge propagation.
func (t *Tree) descendToLeaf(key []any) (leafID uint32, leafPage *storage.Page, path []uint32, err error) {
	pageID := t.Root
	for {
		p, err := t.BP.GetPage(pageID)
		if err != nil {
			return 0, nil, nil, err
		}
		h := readNodeHeader(p)
		if h.NodeType == NodeLeaf {
			return pageID, p, path, nil
		}
		keys, err := t.nonLeafKeys(p)
		if err != nil {
			_ = t.BP.Unpin(p, false)
			return 0, nil, nil, err
		}
		idx := searchNonLeaf(t.Domain, keys, key)
		rec, err := t.nonLeafRecordAt(p, idx+1)
		if err != nil {
			_ = t.BP.Unpin(p, false)
			return 0, nil, nil, err
		}
		path = append(path, pageID)
		if err := t.BP.Unpin(p, false); err != nil {
			return 0, nil, nil, err
		}
		pageID = rec.Child.PageID
	}
}

// loadIfHasChild loads pageID and reports whether it is a non-leaf with
// childID as one of its direct children, leaving it pinned if so.
func (t *Tree) loadIfHasChild(pageID, childID uint32) (*storage.Page, bool, error) {
	p, err := t.BP.GetPage(pageID)
	if err != nil {
		return nil, false, err
	}
	h := readNodeHeader(p)
	if h.NodeType != NodeNonLeaf {
		_ = t.BP.Unpin(p, false)
		return nil, false, nil
	}
	n := int(h.KeyCount) + 1
	kc := t.codec()
	for i := 0; i < n; i++ {
		raw, err := p.ReadTuple(i + 1)
		if err != nil {
			continue
		}
		rec, err := kc.decodeNonLeafRecord(raw)
		if err != nil {
			continue
		}
		if rec.Child.PageID == childID {
			return p, true, nil
		}
	}
	_ = t.BP.Unpin(p, false)
	return nil, false, nil
}

var errNoSuchChild = errors.New("btree: child page not found under parent")
