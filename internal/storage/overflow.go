package storage

import (
	"github.com/tuannm99/pbtree/pkg/bx"
)

// overflow page layout: a 6-byte header (next VPID page id, uint32; chunk
// length, uint16) followed by up to PageSize-HeaderSize-overflowHeaderSize
// bytes of payload, chained across pages.
const (
	overflowHeaderSize = 6
	overflowOffNext    = 0
	overflowOffLen     = 4
	overflowNoNext     = 0xFFFFFFFF
)

// OverflowRef locates an overflow value: the first page of its chain and
// its total decoded length.
type OverflowRef struct {
	FirstPageID uint32
	Length      uint32
}

// OverflowManager stores values too large for a single heap-row slot as a
// chain of dedicated pages in fs. It is the row-value counterpart of
// internal/storage/overflowkey.go, which stores oversized btree keys.
type OverflowManager struct {
	sm *StorageManager
	fs FileSet
}

func NewOverflowManager(sm *StorageManager, fs FileSet) *OverflowManager {
	return &OverflowManager{sm: sm, fs: fs}
}

// FS returns the FileSet backing this manager's overflow chains.
func (om *OverflowManager) FS() FileSet {
	return om.fs
}

func (om *OverflowManager) allocatePage() (uint32, error) {
	n, err := om.sm.CountPages(om.fs)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Write chains data across as many overflow pages as needed and returns a
// ref to the head of the chain.
func (om *OverflowManager) Write(data []byte) (OverflowRef, error) {
	total := uint32(len(data))
	chunkCap := PageSize - HeaderSize - overflowHeaderSize
	var firstPageID uint32
	var prevPageID uint32
	havePrev := false

	off := 0
	for off < len(data) || (off == 0 && len(data) == 0) {
		pageID, err := om.allocatePage()
		if err != nil {
			return OverflowRef{}, err
		}
		if !havePrev {
			firstPageID = pageID
		}

		end := off + chunkCap
		if end > len(data) {
			end = len(data)
		}
		chunk := data[off:end]

		buf := make([]byte, PageSize)
		bx.PutU32(buf[HeaderSize+overflowOffNext:], overflowNoNext)
		bx.PutU32(buf[HeaderSize+overflowOffLen:], uint32(len(chunk)))
		copy(buf[HeaderSize+overflowHeaderSize:], chunk)
		if err := om.sm.WritePage(om.fs, int32(pageID), buf); err != nil {
			return OverflowRef{}, err
		}

		if havePrev {
			if err := om.patchNext(prevPageID, pageID); err != nil {
				return OverflowRef{}, err
			}
		}
		prevPageID = pageID
		havePrev = true

		off = end
		if len(chunk) == 0 {
			break
		}
	}
	return OverflowRef{FirstPageID: firstPageID, Length: total}, nil
}

func (om *OverflowManager) patchNext(pageID, nextPageID uint32) error {
	buf := make([]byte, PageSize)
	if err := om.sm.ReadPage(om.fs, int32(pageID), buf); err != nil {
		return err
	}
	bx.PutU32(buf[HeaderSize+overflowOffNext:], nextPageID)
	return om.sm.WritePage(om.fs, int32(pageID), buf)
}

// Read walks the chain starting at ref.FirstPageID and returns the
// reassembled value.
func (om *OverflowManager) Read(ref OverflowRef) ([]byte, error) {
	out := make([]byte, 0, ref.Length)
	pageID := ref.FirstPageID
	for pageID != overflowNoNext {
		buf := make([]byte, PageSize)
		if err := om.sm.ReadPage(om.fs, int32(pageID), buf); err != nil {
			return nil, err
		}
		n := bx.U32(buf[HeaderSize+overflowOffLen:])
		out = append(out, buf[HeaderSize+overflowHeaderSize:HeaderSize+overflowHeaderSize+n]...)
		next := bx.U32(buf[HeaderSize+overflowOffNext:])
		if next == overflowNoNext {
			break
		}
		pageID = next
	}
	return out, nil
}

// Free walks the chain and overwrites each page with zeros so its space
// can be reused by a future allocatePage scan. The engine never compacts
// segment files, so "free" means "available for a fresh CountPages-based
// allocation to land on again" is not actually reclaimed by this simple
// scan-to-EOF allocator; Free exists so callers have a symmetric API and
// so the zeroed page stops returning stale bytes if read directly.
func (om *OverflowManager) Free(ref OverflowRef) error {
	pageID := ref.FirstPageID
	zero := make([]byte, PageSize)
	for pageID != overflowNoNext {
		buf := make([]byte, PageSize)
		if err := om.sm.ReadPage(om.fs, int32(pageID), buf); err != nil {
			return err
		}
		next := bx.U32(buf[HeaderSize+overflowOffNext:])
		if err := om.sm.WritePage(om.fs, int32(pageID), zero); err != nil {
			return err
		}
		if next == overflowNoNext {
			break
		}
		pageID = next
	}
	return nil
}
