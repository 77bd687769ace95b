package btree

import (
	"log/slog"

	"github.com/tuannm99/pbtree/internal/lock"
	"github.com/tuannm99/pbtree/internal/storage"
)

// RangeKind is the nine-way interval shape a range search can describe
// (spec 4.9): which side(s) are bounded and whether each bound is
// inclusive.
type RangeKind int

const (
	RangeGeLe RangeKind = iota
	RangeGtLe
	RangeGeLt
	RangeGtLt
	RangeGeInf
	RangeGtInf
	RangeInfLe
	RangeInfLt
	RangeInfInf
)

func (k RangeKind) hasLower() bool {
	switch k {
	case RangeInfLe, RangeInfLt, RangeInfInf:
		return false
	default:
		return true
	}
}

func (k RangeKind) lowerInclusive() bool {
	switch k {
	case RangeGeLe, RangeGeLt, RangeGeInf:
		return true
	default:
		return false
	}
}

func (k RangeKind) hasUpper() bool {
	switch k {
	case RangeGeInf, RangeGtInf, RangeInfInf:
		return false
	default:
		return true
	}
}

func (k RangeKind) upperInclusive() bool {
	switch k {
	case RangeGeLe, RangeGtLe, RangeInfLe:
		return true
	default:
		return false
	}
}

// ScanCursor is the resumable state of one range/keyval scan (spec 4.9's
// `bts`). It remembers only a (leaf page id, slot) position rather than
// the full LSA-revalidation state CUBRID keeps: positions are re-fetched
// fresh on every call instead of held across calls under a pin. What it
// does keep from spec 4.9 is the per-key validation step ("getoid-again"):
// before a matched key's OIDs are returned, RangeSearch takes an instant
// hold lock on that key's slot (spec's next-key lock, scoped here to the
// key itself rather than the gap after it) to detect a concurrent writer
// in the middle of changing it. See DESIGN.md for the full comparison.
type ScanCursor struct {
	Lower, Upper []any
	Kind         RangeKind
	ClassOIDs    map[OID]bool // nil: no class-oid filter
	Filter       func(key []any) bool

	// Txn identifies this scan to the lock manager (spec 6's lock_object
	// txn argument). The zero value is a valid anonymous reader: instant
	// hold locks never outlive the call that takes them, so no cross-call
	// identity is required.
	Txn lock.TxnID

	started bool
	done    bool
	leafID  uint32
	slot    int
}

// RangeSearch gathers OIDs matching the cursor's range up to roughly
// capacity entries (spec 6 operation range_search / 4.9). A key's full OID
// list — inline plus overflow chain — is always returned whole in the
// call that reaches it, so the returned slice may run slightly over
// capacity (spec 4.9: "an entire key's OIDs are always returned in one
// call"). Call repeatedly with the same cursor until done is true.
func (t *Tree) RangeSearch(c *ScanCursor, capacity int) (oids []OID, done bool, err error) {
	if c.done {
		return nil, true, nil
	}

	leafID, slot, err := t.locateScanStart(c)
	if err != nil {
		c.done = true
		return nil, true, err
	}

	for len(oids) < capacity {
		p, err := t.BP.GetPage(leafID)
		if err != nil {
			return oids, true, err
		}
		h := readNodeHeader(p)
		n := int(h.KeyCount)

		if slot > n {
			next := h.NextVPID
			if err := t.BP.Unpin(p, false); err != nil {
				return oids, true, err
			}
			if next.IsNull() {
				c.leafID, c.slot, c.done = 0, 0, true
				return oids, true, nil
			}
			leafID, slot = next.PageID, 1
			continue
		}

		rec, err := t.leafRecordAt(p, slot)
		if err != nil {
			_ = t.BP.Unpin(p, false)
			return oids, true, err
		}

		if c.Kind.hasUpper() {
			cmp, _ := t.Domain.Compare(rec.Key, c.Upper, 0)
			if cmp > 0 || (cmp == 0 && !c.Kind.upperInclusive()) {
				if err := t.BP.Unpin(p, false); err != nil {
					return oids, true, err
				}
				c.leafID, c.slot, c.done = 0, 0, true
				return oids, true, nil
			}
		}

		if c.Filter == nil || c.Filter(rec.Key) {
			t.lockKeyForScan(c.Txn, leafID, slot)

			matched, err := t.collectOidsFrom(rec, c.ClassOIDs)
			if err != nil {
				_ = t.BP.Unpin(p, false)
				return oids, true, err
			}
			oids = append(oids, matched...)
		}

		slot++
		if err := t.BP.Unpin(p, false); err != nil {
			return oids, true, err
		}
	}

	c.leafID, c.slot = leafID, slot
	return oids, false, nil
}

// locateScanStart runs once per cursor: it finds the leaf and slot the
// scan should begin at, honoring the lower bound's inclusivity, and
// leaves that position cached on the cursor for every subsequent call.
func (t *Tree) locateScanStart(c *ScanCursor) (uint32, int, error) {
	if c.started {
		return c.leafID, c.slot, nil
	}
	c.started = true

	var leafID uint32
	var leafPage *storage.Page
	var err error
	if c.Kind.hasLower() {
		leafID, leafPage, _, err = t.descendToLeaf(c.Lower)
	} else {
		leafID, leafPage, err = t.leftmostLeaf()
	}
	if err != nil {
		return 0, 0, err
	}

	slot := 1
	if c.Kind.hasLower() {
		keys, kerr := t.leafKeys(leafPage)
		if kerr != nil {
			_ = t.BP.Unpin(leafPage, false)
			return 0, 0, kerr
		}
		found, idx := searchLeaf(t.Domain, keys, c.Lower)
		slot = idx + 1
		if found && !c.Kind.lowerInclusive() {
			slot++
		}
	}
	if err := t.BP.Unpin(leafPage, false); err != nil {
		return 0, 0, err
	}

	c.leafID, c.slot = leafID, slot
	return leafID, slot, nil
}

func (t *Tree) leftmostLeaf() (uint32, *storage.Page, error) {
	pageID := t.Root
	for {
		p, err := t.BP.GetPage(pageID)
		if err != nil {
			return 0, nil, err
		}
		h := readNodeHeader(p)
		if h.NodeType == NodeLeaf {
			return pageID, p, nil
		}
		rec, err := t.nonLeafRecordAt(p, 1)
		if err != nil {
			_ = t.BP.Unpin(p, false)
			return 0, nil, err
		}
		if err := t.BP.Unpin(p, false); err != nil {
			return 0, nil, err
		}
		pageID = rec.Child.PageID
	}
}

// lockKeyForScan takes and immediately releases a share-mode hold lock on
// the leaf slot holding the key about to be returned (spec 4.9's
// getoid-again validation): a no-op when no lock manager is attached
// (single-writer deployments per DESIGN.md), and otherwise a best-effort
// detection of a concurrent writer mid-mutation on this exact key. The
// simplified cursor has no retry path, so a contended lock is logged and
// the scan proceeds rather than re-validating via the slow key-search path.
func (t *Tree) lockKeyForScan(txn lock.TxnID, leafID uint32, slot int) {
	if t.Locks == nil {
		return
	}
	obj := lock.ObjectID{Page: leafID, Slot: uint16(slot)}
	if !t.Locks.LockHoldObjectInstant(txn, obj, lock.ObjectID{}, lock.S) {
		slog.Warn("btree.RangeSearch.nextKeyLockContended", "leaf", leafID, "slot", slot)
	}
}

func (t *Tree) collectOidsFrom(rec leafRecord, classOIDs map[OID]bool) ([]OID, error) {
	out := make([]OID, 0, len(rec.Oids))
	for _, p := range rec.Oids {
		if classOIDs == nil || classOIDs[p.ClassOID] {
			out = append(out, p.OID)
		}
	}

	cur := rec.OvflVPID
	for !cur.IsNull() {
		p, err := t.BP.GetPage(cur.PageID)
		if err != nil {
			return nil, err
		}
		next, entries := readOidOverflowPage(p.Buf, t.Unique)
		if err := t.BP.Unpin(p, false); err != nil {
			return nil, err
		}
		for _, e := range entries {
			if classOIDs == nil || classOIDs[e.ClassOID] {
				out = append(out, e.OID)
			}
		}
		cur = next
	}
	return out, nil
}

// KeyvalSearch looks up every OID stored under exactly one key (spec 6
// operation keyval_search / 4.10: a range_search specialized to GE_LE with
// lower = upper = key).
func (t *Tree) KeyvalSearch(key []any) ([]OID, error) {
	c := &ScanCursor{Lower: key, Upper: key, Kind: RangeGeLe}
	oids, _, err := t.RangeSearch(c, 1<<30)
	return oids, err
}

// FindUnique looks up the single OID stored under key in a unique index
// (spec 6 operation find_unique). More than one stored OID under a
// supposedly-unique key indicates corruption.
func (t *Tree) FindUnique(key []any) (OID, bool, error) {
	oids, err := t.KeyvalSearch(key)
	if err != nil {
		return OID{}, false, err
	}
	switch len(oids) {
	case 0:
		return OID{}, false, nil
	case 1:
		return oids[0], true, nil
	default:
		return OID{}, false, ErrPageCorruption
	}
}
