package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tuannm99/pbtree/pkg/bx"
	"github.com/tuannm99/pbtree/pkg/util"
)

type FileSet interface {
	OpenSegment(segNo int32) (*os.File, error)
}

var _ FileSet = (*LocalFileSet)(nil)

// LocalFileSet represents a local directory + base file name.
// Segments are stored as: Base, Base.1, Base.2, ...
type LocalFileSet struct {
	Dir  string
	Base string
}

func (lfs LocalFileSet) OpenSegment(segNo int32) (*os.File, error) {
	name := SegFileName(lfs.Base, segNo)
	path := filepath.Join(lfs.Dir, name)
	if err := os.MkdirAll(lfs.Dir, FileMode0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE, FileMode0644)
}

// StorageManager maps a logical pageID -> (segment, offset). It carries no
// state of its own; every method takes the FileSet it should operate on.
type StorageManager struct{}

func NewStorageManager() *StorageManager {
	return &StorageManager{}
}

func (sm *StorageManager) pagesPerSegment() int {
	return SegmentSize / PageSize
}

func (sm *StorageManager) locate(pageID int32) (segNo int32, offset int32) {
	pps := sm.pagesPerSegment()
	segNo = pageID / int32(pps)
	pageInSeg := pageID % int32(pps)
	offset = pageInSeg * PageSize
	return segNo, offset
}

// ReadPage reads exactly one page (PageSize bytes) into dst. If the
// underlying file is shorter than offset+PageSize, the remainder is
// zero-filled: a page that was never written is a legal, uninitialized
// page (spec 3: VPID NULL / lazily-allocated pages).
func (sm *StorageManager) ReadPage(fs FileSet, pageID int32, dst []byte) error {
	if len(dst) != PageSize {
		return fmt.Errorf("storage: dst must be exactly %d bytes", PageSize)
	}
	segNo, off := sm.locate(pageID)
	f, err := fs.OpenSegment(segNo)
	if err != nil {
		return err
	}
	defer util.CloseFileFunc(f)

	n, err := f.ReadAt(dst, int64(off))
	if err != nil && err != io.EOF {
		return err
	}
	for i := n; i < PageSize; i++ {
		dst[i] = 0
	}
	return nil
}

// WritePage writes exactly one page (PageSize bytes) from src to disk.
func (sm *StorageManager) WritePage(fs FileSet, pageID int32, src []byte) error {
	if len(src) != PageSize {
		return fmt.Errorf("storage: src must be exactly %d bytes", PageSize)
	}
	segNo, off := sm.locate(pageID)
	f, err := fs.OpenSegment(segNo)
	if err != nil {
		return err
	}
	defer util.CloseFileFunc(f)

	n, err := f.WriteAt(src, int64(off))
	if err != nil {
		return err
	}
	if n != PageSize {
		return io.ErrShortWrite
	}
	return nil
}

// LoadPage reads a page into memory. An all-zero on-disk image is treated
// as uninitialized and reset to a fresh header for pageID.
func (sm *StorageManager) LoadPage(fs FileSet, pageID uint32) (*Page, error) {
	buf := make([]byte, PageSize)
	if err := sm.ReadPage(fs, int32(pageID), buf); err != nil {
		return nil, err
	}
	p := &Page{Buf: buf}
	if p.IsUninitialized() {
		p.Reset(pageID)
	}
	return p, nil
}

// SavePage writes the in-memory Page back to disk.
func (sm *StorageManager) SavePage(fs FileSet, pageID uint32, p *Page) error {
	if len(p.Buf) != PageSize {
		return fmt.Errorf("storage: page buffer must be %d bytes", PageSize)
	}
	return sm.WritePage(fs, int32(pageID), p.Buf)
}

// CountPages computes the total page count for fs by scanning all segments.
func (sm *StorageManager) CountPages(fs FileSet) (uint32, error) {
	var total uint32
	for segNo := int32(0); ; segNo++ {
		f, err := fs.OpenSegment(segNo)
		if err != nil {
			if os.IsNotExist(err) {
				break
			}
			return 0, err
		}
		info, statErr := f.Stat()
		_ = f.Close()
		if statErr != nil {
			return 0, statErr
		}
		if info.Size() > 0 {
			total += uint32(info.Size() / int64(PageSize))
		} else if segNo > 0 {
			break
		}
	}
	return total, nil
}

// newFileMarkerName is the sidecar file recording the LSN at which a
// FileSet's root page was allocated. Its presence is how NewIsValid tells
// a "new file" (created by a transaction still in flight, spec 6's
// logging-policy table) from an "old file" that predates it.
const newFileMarkerName = ".newfile"

func markerPath(lfs LocalFileSet) string {
	return filepath.Join(lfs.Dir, lfs.Base+newFileMarkerName)
}

// MarkFileNew records that fs's index file was created at creationLSN.
// Called once, when add_index allocates the root page.
func MarkFileNew(fs FileSet, creationLSN uint64) error {
	lfs, lfsKey, ok := FsKeyOf(fs)
	_ = lfsKey
	if !ok {
		return nil
	}
	_ = lfs
	local, ok2 := fs.(LocalFileSet)
	if !ok2 {
		return nil
	}
	buf := make([]byte, 8)
	bx.PutU64(buf, creationLSN)
	return os.WriteFile(markerPath(local), buf, FileMode0644)
}

// NewIsValid reports whether fs is still a "new file" as of txnStartLSN:
// true when the file's creation marker exists and was written at or after
// txnStartLSN, meaning the current transaction (or one that has not yet
// committed when this check runs) is the one that created it. Per spec 6,
// new files use physical (page-image) undo only; old files require
// logical KEYVAL_INS/KEYVAL_DEL undo because concurrent readers may
// already be holding references into the structure.
func NewIsValid(fs FileSet, txnStartLSN uint64) bool {
	local, ok := fs.(LocalFileSet)
	if !ok {
		return false
	}
	buf, err := os.ReadFile(markerPath(local))
	if err != nil || len(buf) != 8 {
		return false
	}
	createdAt := bx.U64(buf)
	return createdAt >= txnStartLSN
}

// ClearFileNewMarker promotes fs from "new" to "old" status. Nothing in
// this module calls it, so a file marked new stays new until a caller
// clears it.
func ClearFileNewMarker(fs FileSet) error {
	local, ok := fs.(LocalFileSet)
	if !ok {
		return nil
	}
	err := os.Remove(markerPath(local))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
