package btree

import "github.com/tuannm99/pbtree/internal/storage"

// pageIsSparse reports whether more than half of p's usable space is free,
// which makes p a merge candidate (spec 4.6: delete triggers a merge check, not a strict
// underflow count, matching CUBRID's "merge if the combined content of
// this page and a sibling fits in one page" rule).
func pageIsSparse(p *storage.Page) bool {
	return p.FreeSpace() > (storage.PageSize-storage.HeaderSize)/2
}

// combinedFits reports whether a and b's live records would together fit
// on a single page (the actual merge precondition; pageIsSparse is only a
// cheap pre-filter to avoid decoding every sibling on every delete).
func combinedFits(a, b *storage.Page) bool {
	usedA := (storage.PageSize - storage.HeaderSize) - a.FreeSpace()
	usedB := (storage.PageSize - storage.HeaderSize) - b.FreeSpace()
	return usedA+usedB <= storage.PageSize-storage.HeaderSize
}

// mergeLeafSiblings folds right's records onto left (left keeps its page
// id; right is vacated), relinking next_vpid around the vacated page
// (spec 4.6: "right sibling preferred, no traversal needed since leaves
// only forward-link").
func (t *Tree) mergeLeafSiblings(left, right *storage.Page, rightID uint32) error {
	lh := readNodeHeader(left)
	rh := readNodeHeader(right)

	n := int(rh.KeyCount)
	base := int(lh.KeyCount)
	for i := 0; i < n; i++ {
		raw, err := right.ReadTupleCopy(i + 1)
		if err != nil {
			return err
		}
		if err := left.InsertAt(base+i+1, raw); err != nil {
			return err
		}
	}
	lh.KeyCount += rh.KeyCount
	lh.NextVPID = rh.NextVPID
	if rh.MaxKeyLen > lh.MaxKeyLen {
		lh.MaxKeyLen = rh.MaxKeyLen
	}
	if err := writeHeader(left, lh); err != nil {
		return err
	}

	t.freePage(rightID)
	return nil
}

// mergeNonLeafSiblings folds right's children onto left. The separator
// that used to divide the two siblings in their parent becomes the key
// on left's former key-less last record (the mirror image of splitNonLeaf).
func (t *Tree) mergeNonLeafSiblings(left, right *storage.Page, rightID uint32, parentSep []any) error {
	kc := t.codec()
	lh := readNodeHeader(left)
	rh := readNodeHeader(right)

	lastLeftIdx := int(lh.KeyCount) // 0-based index of left's key-less record
	lastLeftRaw, err := left.ReadTuple(lastLeftIdx + 1)
	if err != nil {
		return err
	}
	lastLeftRec, err := kc.decodeNonLeafRecord(lastLeftRaw)
	if err != nil {
		return err
	}
	newLastLeftRaw, err := kc.encodeNonLeafRecord(lastLeftRec.Child, parentSep)
	if err != nil {
		return err
	}
	if err := left.UpdateTuple(lastLeftIdx+1, newLastLeftRaw); err != nil {
		return err
	}

	rightTotal := int(rh.KeyCount) + 1
	base := lastLeftIdx + 1
	for i := 0; i < rightTotal; i++ {
		raw, err := right.ReadTupleCopy(i + 1)
		if err != nil {
			return err
		}
		if err := left.InsertAt(base+i+1, raw); err != nil {
			return err
		}
	}
	lh.KeyCount = int32(base + rightTotal - 1)
	if rh.MaxKeyLen > lh.MaxKeyLen {
		lh.MaxKeyLen = rh.MaxKeyLen
	}
	if err := writeHeader(left, lh); err != nil {
		return err
	}

	t.freePage(rightID)
	return nil
}

// removeChildFromParent deletes the vacated right sibling childID's record
// from pp. The merged-left sibling now covers childID's range too, so the
// record just before it takes over childID's upper-bound key (none, if
// childID's record was the key-less last one).
func (t *Tree) removeChildFromParent(pp *storage.Page, childID uint32) error {
	kc := t.codec()
	h := readNodeHeader(pp)
	n := int(h.KeyCount) + 1
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
			if i > 0 {
				prev, err := t.nonLeafRecordAt(pp, i)
				if err != nil {
					return err
				}
				prevRaw, err := kc.encodeNonLeafRecord(prev.Child, rec.Key)
				if err != nil {
					return err
				}
				if err := pp.UpdateTuple(i, prevRaw); err != nil {
					return err
				}
			}
			if err := pp.DeleteAt(i + 1); err != nil {
				return err
			}
			h.KeyCount--
			return writeHeader(pp, h)
		}
	}
	return errNoSuchChild
}

// mergeRoot collapses a root holding exactly two children back down to a
// single page once those two children themselves merge into one (spec
// 4.6). The root page id is preserved; height decreases by one.
func (t *Tree) mergeRoot(root *storage.Page, soleChildID uint32) error {
	cp, err := t.BP.GetPage(soleChildID)
	if err != nil {
		return err
	}
	ch := readNodeHeader(cp)

	rawRoot, err := root.ReadTupleCopy(0)
	if err != nil {
		_ = t.BP.Unpin(cp, false)
		return err
	}
	rh := decodeRootHeader(rawRoot)
	rh.NodeType = ch.NodeType
	rh.KeyCount = ch.KeyCount
	rh.MaxKeyLen = ch.MaxKeyLen
	rh.NextVPID = ch.NextVPID

	for i := root.NumSlots() - 1; i >= 1; i-- {
		if err := root.DeleteAt(i); err != nil {
			_ = t.BP.Unpin(cp, false)
			return err
		}
	}
	if err := root.UpdateTuple(0, encodeRootHeader(rh)); err != nil {
		_ = t.BP.Unpin(cp, false)
		return err
	}

	n := cp.NumSlots() - 1
	for i := 0; i < n; i++ {
		raw, err := cp.ReadTupleCopy(i + 1)
		if err != nil {
			_ = t.BP.Unpin(cp, false)
			return err
		}
		if err := root.InsertAt(i+1, raw); err != nil {
			_ = t.BP.Unpin(cp, false)
			return err
		}
	}

	if err := t.BP.Unpin(cp, false); err != nil {
		return err
	}
	t.freePage(soleChildID)
	t.Height--
	return nil
}
