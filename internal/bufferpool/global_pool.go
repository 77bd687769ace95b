package bufferpool

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/tuannm99/pbtree/internal/storage"
)

var (
	DefaultCapacity = 128

	ErrNoFreeFrame = errors.New("bufferpool: no free frame available (all pinned)")
	ErrPagePinned  = errors.New("bufferpool: page is pinned")

	// ErrUnsupportedFileSet is returned when GlobalPool cannot work with a FileSet implementation.
	ErrUnsupportedFileSet = errors.New("bufferpool: unsupported FileSet (global pool requires LocalFileSet)")
)

// Replacer selects a victim frame among evictable (unpinned) frames.
type Replacer interface {
	RecordAccess(frameID int)
	SetEvictable(frameID int, evictable bool)
	Evict() (frameID int, ok bool)
	Remove(frameID int)
	Size() int
}

// ReplacerKind selects which Replacer implementation backs a GlobalPool.
type ReplacerKind int

const (
	ReplacerClock ReplacerKind = iota
	ReplacerLRU
)

// Manager is the relation-scoped view the btree/heap layers program
// against: pin (GetPage), unpin, and a page's log sequence number
// (spec 6's `pin/unpin/mark_dirty/lsa/set_lsa` buffer-pool contract).
type Manager interface {
	GetPage(pageID uint32) (*storage.Page, error)
	Unpin(page *storage.Page, dirty bool) error
	FlushAll() error
	Lsa(page *storage.Page) uint64
	SetLsa(page *storage.Page, lsn uint64)
}

// PageTag uniquely identifies a page in the global pool.
type PageTag struct {
	FSKey  string
	PageID uint32
}

// Frame is a single slot in the shared pool.
type Frame struct {
	Tag   PageTag
	FS    storage.LocalFileSet
	Page  *storage.Page
	Dirty bool
	Pin   int32
}

// GlobalPool is a single shared buffer pool for all relations (heap rows,
// btree nodes, overflow-key chains), mirroring a conventional DBMS shared
// buffer cache: one frame table, one replacement policy, independent of
// which file a page belongs to.
type GlobalPool struct {
	sm *storage.StorageManager

	mu     sync.Mutex
	frames []*Frame
	table  map[PageTag]int
	repl   Replacer
}

func NewGlobalPool(sm *storage.StorageManager, capacity int) *GlobalPool {
	return NewGlobalPoolWithReplacer(sm, capacity, ReplacerClock)
}

// NewGlobalPoolWithReplacer lets the caller pick CLOCK (default, low
// bookkeeping) or LRU (pkg/cache's container/list-backed manager,
// precise recency at the cost of a list node per frame).
func NewGlobalPoolWithReplacer(sm *storage.StorageManager, capacity int, kind ReplacerKind) *GlobalPool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	var repl Replacer
	switch kind {
	case ReplacerLRU:
		repl = newLRUAdapter(capacity)
	default:
		repl = newClockAdapter(capacity)
	}
	return &GlobalPool{
		sm:     sm,
		frames: make([]*Frame, capacity),
		table:  make(map[PageTag]int),
		repl:   repl,
	}
}

// GetPage pins and returns the page (fs,pageID).
func (g *GlobalPool) GetPage(fs storage.FileSet, pageID uint32) (*storage.Page, error) {
	key, lfs, ok := storage.FsKeyOf(fs)
	if !ok {
		return nil, ErrUnsupportedFileSet
	}
	tag := PageTag{FSKey: key, PageID: pageID}

	g.mu.Lock()
	defer g.mu.Unlock()

	if idx, ok := g.table[tag]; ok {
		f := g.frames[idx]
		if f == nil {
			delete(g.table, tag)
		} else {
			wasZero := f.Pin == 0
			f.Pin++
			g.repl.RecordAccess(idx)
			if wasZero {
				g.repl.SetEvictable(idx, false)
			}
			return f.Page, nil
		}
	}

	freeIdx := -1
	for i, f := range g.frames {
		if f == nil {
			freeIdx = i
			break
		}
	}
	if freeIdx != -1 {
		page, err := g.sm.LoadPage(lfs, pageID)
		if err != nil {
			return nil, err
		}
		g.frames[freeIdx] = &Frame{Tag: tag, FS: lfs, Page: page, Pin: 1}
		g.table[tag] = freeIdx
		g.repl.RecordAccess(freeIdx)
		g.repl.SetEvictable(freeIdx, false)
		return page, nil
	}

	victimIdx, ok := g.repl.Evict()
	if !ok {
		slog.Debug("bufferpool: no evictable frame", "capacity", len(g.frames))
		return nil, ErrNoFreeFrame
	}
	victim := g.frames[victimIdx]
	if victim == nil || victim.Pin != 0 {
		return nil, ErrNoFreeFrame
	}

	if victim.Dirty {
		if err := g.sm.SavePage(victim.FS, victim.Tag.PageID, victim.Page); err != nil {
			g.repl.RecordAccess(victimIdx)
			g.repl.SetEvictable(victimIdx, true)
			return nil, err
		}
		victim.Dirty = false
	}

	newPage, err := g.sm.LoadPage(lfs, pageID)
	if err != nil {
		g.repl.RecordAccess(victimIdx)
		g.repl.SetEvictable(victimIdx, true)
		return nil, err
	}

	delete(g.table, victim.Tag)

	victim.Tag = tag
	victim.FS = lfs
	victim.Page = newPage
	victim.Dirty = false
	victim.Pin = 1

	g.table[tag] = victimIdx
	g.repl.RecordAccess(victimIdx)
	g.repl.SetEvictable(victimIdx, false)

	return newPage, nil
}

// Unpin decreases pin count and optionally marks the frame dirty
// (mark_dirty in spec 6's buffer-pool interface).
func (g *GlobalPool) Unpin(fs storage.FileSet, page *storage.Page, dirty bool) error {
	if page == nil {
		return nil
	}
	key, _, ok := storage.FsKeyOf(fs)
	if !ok {
		return ErrUnsupportedFileSet
	}
	tag := PageTag{FSKey: key, PageID: page.PageID()}

	g.mu.Lock()
	defer g.mu.Unlock()

	idx, ok := g.table[tag]
	if !ok {
		return nil
	}
	f := g.frames[idx]
	if f == nil {
		delete(g.table, tag)
		return nil
	}

	if dirty {
		f.Dirty = true
	}
	if f.Pin > 0 {
		f.Pin--
		if f.Pin == 0 {
			g.repl.SetEvictable(idx, true)
		}
	}
	return nil
}

// FlushAll flushes every dirty frame in the pool, regardless of relation.
func (g *GlobalPool) FlushAll() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, f := range g.frames {
		if f == nil || !f.Dirty {
			continue
		}
		if err := g.sm.SavePage(f.FS, f.Tag.PageID, f.Page); err != nil {
			return err
		}
		f.Dirty = false
	}
	return nil
}

// FlushFileSet flushes dirty pages belonging to a single relation.
func (g *GlobalPool) FlushFileSet(fs storage.FileSet) error {
	key, _, ok := storage.FsKeyOf(fs)
	if !ok {
		return ErrUnsupportedFileSet
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, f := range g.frames {
		if f == nil || f.Tag.FSKey != key || !f.Dirty {
			continue
		}
		if err := g.sm.SavePage(f.FS, f.Tag.PageID, f.Page); err != nil {
			return err
		}
		f.Dirty = false
	}
	return nil
}

// DropFileSet evicts every page of a relation from the pool. Must be
// called before deleting or renaming that relation's underlying files.
func (g *GlobalPool) DropFileSet(fs storage.FileSet) error {
	key, _, ok := storage.FsKeyOf(fs)
	if !ok {
		return ErrUnsupportedFileSet
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, f := range g.frames {
		if f != nil && f.Tag.FSKey == key && f.Pin != 0 {
			return ErrPagePinned
		}
	}

	for i, f := range g.frames {
		if f == nil || f.Tag.FSKey != key {
			continue
		}
		if f.Dirty {
			if err := g.sm.SavePage(f.FS, f.Tag.PageID, f.Page); err != nil {
				return err
			}
		}
		delete(g.table, f.Tag)
		g.frames[i] = nil
		g.repl.Remove(i)
	}
	return nil
}

// View returns a relation-scoped Manager backed by the shared GlobalPool.
func (g *GlobalPool) View(fs storage.FileSet) Manager {
	return &FileSetView{gp: g, fs: fs}
}
