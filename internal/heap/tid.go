package heap

// TID (Tuple ID) is a row's identity inside a heap file: the page holding
// it and its slot within that page. Rows are inserted with InsertTuple
// (stable slot ids, spec-compatible with an OID's (page,slot) shape), so a
// TID remains valid for the row's lifetime even as other rows on the same
// page are deleted.
type TID struct {
	PageID uint32
	Slot   uint16
}
