package storage

import (
	"github.com/google/uuid"
)

// OverflowKeyStore persists prefix B+-tree keys too large to fit in a
// leaf record (spec 3: key_len < 0 routes to this file) as a chain of
// pages in a dedicated FileSet, one chain per oversized key.
//
// Each chain is tagged with a uuid.UUID written as the first 16 bytes of
// its payload. Two keys that happen to hash/split into chains starting at
// the same reused page id (after a delete frees that page for reuse by
// CountPages-based allocation) are still distinguishable by this tag,
// which ReadKey verifies against the caller's expectation.
type OverflowKeyStore struct {
	om *OverflowManager
}

func NewOverflowKeyStore(sm *StorageManager, fs FileSet) *OverflowKeyStore {
	return &OverflowKeyStore{om: NewOverflowManager(sm, fs)}
}

// FS returns the FileSet backing this store's oversized-key chains.
func (s *OverflowKeyStore) FS() FileSet {
	return s.om.FS()
}

// OverflowKeyRef is what a leaf record's ovfl_vpid field stores: the page
// id of the chain head, plus the uuid used to detect stale reads.
type OverflowKeyRef struct {
	FirstPageID uint32
	Length      uint32
	Tag         uuid.UUID
}

// WriteKey stores key as a new chain and returns its reference.
func (s *OverflowKeyStore) WriteKey(key []byte) (OverflowKeyRef, error) {
	tag := uuid.New()
	payload := make([]byte, 16+len(key))
	copy(payload, tag[:])
	copy(payload[16:], key)

	ref, err := s.om.Write(payload)
	if err != nil {
		return OverflowKeyRef{}, err
	}
	return OverflowKeyRef{FirstPageID: ref.FirstPageID, Length: uint32(len(key)), Tag: tag}, nil
}

// ReadKey reassembles the key bytes for ref.
func (s *OverflowKeyStore) ReadKey(ref OverflowKeyRef) ([]byte, error) {
	payload, err := s.om.Read(OverflowRef{FirstPageID: ref.FirstPageID, Length: ref.Length + 16})
	if err != nil {
		return nil, err
	}
	if len(payload) < 16 {
		return nil, ErrPageCorrupted
	}
	got := uuid.UUID(payload[:16])
	if got != ref.Tag {
		return nil, ErrPageCorrupted
	}
	return payload[16:], nil
}

// FreeKey releases the chain backing ref; called when the owning leaf
// record is deleted or its overflow key is replaced on update.
func (s *OverflowKeyStore) FreeKey(ref OverflowKeyRef) error {
	return s.om.Free(OverflowRef{FirstPageID: ref.FirstPageID, Length: ref.Length + 16})
}
