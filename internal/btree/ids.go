package btree

// VPID (virtual page id) locates a page within a single-volume file set. The
// engine has no multi-volume concept, so unlike CUBRID's (volume, page) pair
// a VPID here is just a page id; NullVPID is the sentinel "no page".
type VPID struct {
	PageID uint32
}

// NullVPID is the "no page" sentinel (next_vpid on the last leaf, ovfl_vpid
// when a leaf record has no overflow chain, …).
var NullVPID = VPID{PageID: ^uint32(0)}

func (v VPID) IsNull() bool { return v == NullVPID }

// OID identifies a row: the heap page holding it and its slot. ClassOID
// additionally identifies the schema class a row belongs to, carried
// alongside the instance OID only in unique indexes (spec 3, "class OID").
type OID struct {
	PageID uint32
	Slot   uint16
}

// BTID is an index handle holding the page id of the root, which never
// moves once allocated; the index's FileSet is not part of it.
type BTID struct {
	RootVPID VPID
}
