package bufferpool

import "github.com/tuannm99/pbtree/internal/storage"

// FileSetView binds a GlobalPool to a specific FileSet (relation).
// It implements Manager so heap/table/btree can use it without caring about FS.
type FileSetView struct {
	gp *GlobalPool
	fs storage.FileSet
}

func (v *FileSetView) GetPage(pageID uint32) (*storage.Page, error) {
	return v.gp.GetPage(v.fs, pageID)
}

func (v *FileSetView) Unpin(page *storage.Page, dirty bool) error {
	return v.gp.Unpin(v.fs, page, dirty)
}

// FlushAll flushes dirty pages for THIS FileSet only.
func (v *FileSetView) FlushAll() error {
	return v.gp.FlushFileSet(v.fs)
}

// Lsa returns the page's current log sequence number.
func (v *FileSetView) Lsa(page *storage.Page) uint64 {
	return page.Lsn()
}

// SetLsa stamps the page with the log sequence number of the record whose
// effect the page now reflects. The driver calls this immediately after
// appending each undo/redo/undoredo record for a page it just mutated.
func (v *FileSetView) SetLsa(page *storage.Page, lsn uint64) {
	page.SetLsn(lsn)
}
