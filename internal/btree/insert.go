package btree

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/tuannm99/pbtree/internal/storage"
)

// maxInsertRetries bounds how many times Insert re-descends after a split
// before giving up; a bounded retry loop stands in for the spec's
// preemptive top-down split (spec 4.7), trading one extra descent per
// split for much simpler latch bookkeeping.
const maxInsertRetries = 8

// Insert adds (classOID, oid) under key (spec 6 operation insert,
// op_type's do_unique_check flag). A second OID for a key that already
// exists is appended to that key's OID list rather than creating a new
// leaf record; a byte-identical duplicate is logged as a warning, not an
// error (spec 4.7). If the index is unique, doUniqueCheck is true, and the
// key already exists, the tree is left unchanged and ErrUniqueViolation is
// returned (spec 4.7, testable scenario S2).
func (t *Tree) Insert(key []any, classOID, oid OID, doUniqueCheck bool) error {
	kc := t.codec()

	for attempt := 0; attempt < maxInsertRetries; attempt++ {
		leafID, leafPage, path, err := t.descendToLeaf(key)
		if err != nil {
			return err
		}

		found, slot := searchLeafPage(t, leafPage, key)
		if found && t.Unique && doUniqueCheck {
			_ = t.BP.Unpin(leafPage, false)
			return fmt.Errorf("%w: key already present", ErrUniqueViolation)
		}

		var insertErr error
		if found {
			insertErr = t.appendOidToRecord(leafPage, slot, classOID, oid)
		} else {
			var raw []byte
			raw, insertErr = kc.encodeLeafRecord(key, classOID, oid)
			if insertErr == nil {
				insertErr = leafPage.InsertAt(slot+1, raw)
				if insertErr == nil {
					h := readNodeHeader(leafPage)
					h.KeyCount++
					insertErr = writeHeader(leafPage, h)
				}
			}
		}

		if insertErr == nil {
			if err := t.maybeBumpUniqueStats(!found); err != nil {
				_ = t.logAndUnpin(leafID, leafPage)
				return err
			}
			return t.logAndUnpin(leafID, leafPage)
		}

		if !errors.Is(insertErr, storage.ErrNoSpace) {
			_ = t.BP.Unpin(leafPage, false)
			return insertErr
		}

		if err := t.splitAndRetry(leafID, leafPage, path); err != nil {
			return err
		}
	}
	return errors.New("btree: insert did not converge after repeated splits")
}

func searchLeafPage(t *Tree, p *storage.Page, key []any) (found bool, slot int) {
	keys, err := t.leafKeys(p)
	if err != nil {
		return false, 0
	}
	return searchLeaf(t.Domain, keys, key)
}

// appendOidToRecord grows an existing leaf record's OID list in place,
// spilling into the overflow-OID chain once it exceeds
// oidOverflowThreshold (spec 3's OID-overflow invariant).
func (t *Tree) appendOidToRecord(p *storage.Page, slot int, classOID, oid OID) error {
	kc := t.codec()
	raw, err := p.ReadTupleCopy(slot + 1)
	if err != nil {
		return err
	}
	rec, err := kc.decodeLeafRecord(raw)
	if err != nil {
		return err
	}

	for _, existing := range rec.Oids {
		if existing.OID == oid {
			slog.Warn("btree.Insert.duplicateOid", "oid", oid)
			return nil
		}
	}
	if !rec.OvflVPID.IsNull() {
		dup, err := t.oidInChain(rec.OvflVPID, oid)
		if err != nil {
			return err
		}
		if dup {
			slog.Warn("btree.Insert.duplicateOid", "oid", oid)
			return nil
		}
	}

	inlineBudget := oidOverflowThreshold
	entrySize := oidEntrySize(t.Unique)
	if (len(rec.Oids)+1)*entrySize > inlineBudget {
		if err := t.appendOidToOverflowChain(&rec, classOID, oid); err != nil {
			return err
		}
		return p.UpdateTuple(slot+1, kc.rebuildLeafRecordBytes(raw, rec))
	}

	rec.Oids = append(rec.Oids, pairedOID{ClassOID: classOID, OID: oid})
	newRaw := kc.rebuildLeafRecordBytes(raw, rec)
	if err := p.UpdateTuple(slot+1, newRaw); err != nil {
		return err
	}
	return nil
}

// appendOidToOverflowChain pushes oid onto the head of rec's overflow-OID
// chain, allocating a fresh chain if none exists yet.
func (t *Tree) appendOidToOverflowChain(rec *leafRecord, classOID, oid OID) error {
	maxEntries := oidPageMaxEntries(t.Unique)

	if !rec.OvflVPID.IsNull() {
		headID := rec.OvflVPID.PageID
		hp, err := t.BP.GetPage(headID)
		if err != nil {
			return err
		}
		next, entries := readOidOverflowPage(hp.Buf, t.Unique)
		if len(entries)+1 <= maxEntries {
			entries = append(entries, pairedOID{ClassOID: classOID, OID: oid})
			writeOidOverflowPage(hp.Buf, next, entries, t.Unique)
			return t.logAndUnpin(headID, hp)
		}
		if err := t.BP.Unpin(hp, false); err != nil {
			return err
		}
	}

	newID := t.allocPage()
	np, err := t.BP.GetPage(newID)
	if err != nil {
		return err
	}
	np.Reset(newID)
	writeOidOverflowPage(np.Buf, rec.OvflVPID, []pairedOID{{ClassOID: classOID, OID: oid}}, t.Unique)
	if err := t.logAndUnpin(newID, np); err != nil {
		return err
	}
	rec.OvflVPID = VPID{PageID: newID}
	return nil
}

// maybeBumpUniqueStats advances the root header's NumOids/NumKeys
// counters for a unique index (spec 3's num_nulls+num_keys==num_oids
// invariant); non-unique indexes carry no such counters (-1 sentinel).
func (t *Tree) maybeBumpUniqueStats(isNewKey bool) error {
	if !t.Unique {
		return nil
	}
	p, err := t.BP.GetPage(t.Root)
	if err != nil {
		return err
	}
	rh, err := t.readRootHeader(p)
	if err != nil {
		_ = t.BP.Unpin(p, false)
		return err
	}
	rh.NumOids++
	if isNewKey {
		rh.NumKeys++
	}
	if err := t.writeRootHeader(p, rh); err != nil {
		_ = t.BP.Unpin(p, false)
		return err
	}
	return t.logAndUnpin(t.Root, p)
}

// splitAndRetry splits the page that just overflowed and propagates the
// new separator up path, unpinning leafPage itself (the caller re-descends
// afterward).
func (t *Tree) splitAndRetry(childID uint32, childPage *storage.Page, path []uint32) error {
	if childID == t.Root {
		if err := t.splitRoot(childPage); err != nil {
			_ = t.BP.Unpin(childPage, false)
			return err
		}
		return t.logAndUnpin(childID, childPage)
	}

	h := readNodeHeader(childPage)
	var rightID uint32
	var sep []any
	var rightPage *storage.Page
	var err error
	if h.NodeType == NodeLeaf {
		rightID, sep, rightPage, err = t.splitLeaf(childPage)
	} else {
		rightID, sep, rightPage, err = t.splitNonLeaf(childPage)
	}
	if err != nil {
		_ = t.BP.Unpin(childPage, false)
		return err
	}
	if err := t.logAndUnpin(childID, childPage); err != nil {
		return err
	}
	if err := t.logAndUnpin(rightID, rightPage); err != nil {
		return err
	}

	return t.propagateSplitUp(path, childID, sep, rightID)
}

// propagateSplitUp inserts (childID, sepKey, rightID) into childID's
// parent (the last entry of path), recursively splitting ancestors as
// needed all the way to a possible root split (spec 4.4/4.5).
func (t *Tree) propagateSplitUp(path []uint32, childID uint32, sepKey []any, rightID uint32) error {
	if len(path) == 0 {
		// childID's parent is the root itself; it was already expanded to
		// directly hold childID before this insert began, so find it there.
		root, err := t.BP.GetPage(t.Root)
		if err != nil {
			return err
		}
		if err := t.insertSeparatorInto(root, childID, sepKey, rightID); err != nil {
			if errors.Is(err, storage.ErrNoSpace) {
				if serr := t.splitRoot(root); serr != nil {
					_ = t.BP.Unpin(root, false)
					return serr
				}
				return t.retrySeparatorAfterRootSplit(root, childID, sepKey, rightID)
			}
			_ = t.BP.Unpin(root, false)
			return err
		}
		return t.logAndUnpin(t.Root, root)
	}

	parentID := path[len(path)-1]
	rest := path[:len(path)-1]

	pp, err := t.BP.GetPage(parentID)
	if err != nil {
		return err
	}
	if err := t.insertSeparatorInto(pp, childID, sepKey, rightID); err != nil {
		if !errors.Is(err, storage.ErrNoSpace) {
			_ = t.BP.Unpin(pp, false)
			return err
		}
		if parentID == t.Root {
			if serr := t.splitRoot(pp); serr != nil {
				_ = t.BP.Unpin(pp, false)
				return serr
			}
			return t.retrySeparatorAfterRootSplit(pp, childID, sepKey, rightID)
		}

		parentRightID, parentSep, parentRightPage, serr := t.splitNonLeaf(pp)
		if serr != nil {
			_ = t.BP.Unpin(pp, false)
			return serr
		}
		if ierr := t.insertSeparatorEither(pp, parentRightPage, childID, sepKey, rightID); ierr != nil {
			_ = t.logAndUnpin(parentID, pp)
			_ = t.logAndUnpin(parentRightID, parentRightPage)
			return ierr
		}
		if err := t.logAndUnpin(parentID, pp); err != nil {
			return err
		}
		if err := t.logAndUnpin(parentRightID, parentRightPage); err != nil {
			return err
		}
		return t.propagateSplitUp(rest, parentID, parentSep, parentRightID)
	}
	return t.logAndUnpin(parentID, pp)
}

// retrySeparatorAfterRootSplit locates, among the root's two fresh
// children, whichever one directly holds childID, and inserts the pending
// separator there.
func (t *Tree) retrySeparatorAfterRootSplit(root *storage.Page, childID uint32, sepKey []any, rightID uint32) error {
	leftRec, err := t.nonLeafRecordAt(root, 1)
	if err != nil {
		_ = t.BP.Unpin(root, true)
		return err
	}
	rightRec, err := t.nonLeafRecordAt(root, 2)
	if err != nil {
		_ = t.BP.Unpin(root, true)
		return err
	}
	if err := t.logAndUnpin(t.Root, root); err != nil {
		return err
	}

	targetID := leftRec.Child.PageID
	target, found, err := t.loadIfHasChild(targetID, childID)
	if err != nil {
		return err
	}
	if !found {
		targetID = rightRec.Child.PageID
		target, found, err = t.loadIfHasChild(targetID, childID)
		if err != nil {
			return err
		}
	}
	if !found {
		return errNoSuchChild
	}
	if err := t.insertSeparatorInto(target, childID, sepKey, rightID); err != nil {
		_ = t.BP.Unpin(target, false)
		return err
	}
	return t.logAndUnpin(targetID, target)
}

// insertSeparatorInto rewrites childID's record on pp to carry sepKey as
// its new upper bound and inserts a fresh record for rightID carrying the
// old upper bound immediately after it.
func (t *Tree) insertSeparatorInto(pp *storage.Page, childID uint32, sepKey []any, rightID uint32) error {
	kc := t.codec()
	h := readNodeHeader(pp)
	n := int(h.KeyCount) + 1

	slotIdx := -1
	var oldKey []any
	for i := 0; i < n; i++ {
		raw, err := pp.ReadTuple(i + 1)
		if err != nil {
			return err
		}
		rec, err := kc.decodeNonLeafRecord(raw)
		if err != nil {
			return err
		}
		if rec.Child.PageID == childID {
			slotIdx, oldKey = i, rec.Key
			break
		}
	}
	if slotIdx < 0 {
		return errNoSuchChild
	}

	newLeftRaw, err := kc.encodeNonLeafRecord(VPID{PageID: childID}, sepKey)
	if err != nil {
		return err
	}
	if err := pp.UpdateTuple(slotIdx+1, newLeftRaw); err != nil {
		return err
	}

	newRightRaw, err := kc.encodeNonLeafRecord(VPID{PageID: rightID}, oldKey)
	if err != nil {
		return err
	}
	if err := pp.InsertAt(slotIdx+2, newRightRaw); err != nil {
		return err
	}

	h.KeyCount++
	return writeHeader(pp, h)
}

// insertSeparatorEither tries left then right after a parent split, since
// childID may have landed on either half.
func (t *Tree) insertSeparatorEither(left, right *storage.Page, childID uint32, sepKey []any, rightID uint32) error {
	if err := t.insertSeparatorInto(left, childID, sepKey, rightID); err == nil {
		return nil
	} else if !errors.Is(err, errNoSuchChild) {
		return err
	}
	return t.insertSeparatorInto(right, childID, sepKey, rightID)
}
