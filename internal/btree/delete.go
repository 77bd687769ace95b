package btree

import (
	"errors"
	"log/slog"

	"github.com/tuannm99/pbtree/internal/storage"
)

// Delete removes oid from key's OID list (spec 6 operation delete). A
// missing key or a missing oid within an existing key's list is a no-op
// logged as a warning rather than an error — redo of an already-applied
// delete must stay idempotent (spec 4.8).
func (t *Tree) Delete(key []any, oid OID) error {
	leafID, leafPage, path, err := t.descendToLeaf(key)
	if err != nil {
		return err
	}

	found, slot := searchLeafPage(t, leafPage, key)
	if !found {
		slog.Warn("btree.Delete.keyNotFound", "key", key)
		return t.BP.Unpin(leafPage, false)
	}

	wasEmpty, err := t.removeOidFromRecord(leafPage, slot, oid)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			slog.Warn("btree.Delete.oidNotFound", "key", key, "oid", oid)
			return t.BP.Unpin(leafPage, false)
		}
		_ = t.BP.Unpin(leafPage, false)
		return err
	}

	if err := t.maybeDropUniqueStats(wasEmpty); err != nil {
		_ = t.BP.Unpin(leafPage, false)
		return err
	}

	return t.tryMergeLeaf(leafID, leafPage, path)
}

func (t *Tree) maybeDropUniqueStats(keyRemoved bool) error {
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
	rh.NumOids--
	if keyRemoved {
		rh.NumKeys--
	}
	if err := t.writeRootHeader(p, rh); err != nil {
		_ = t.BP.Unpin(p, false)
		return err
	}
	return t.logAndUnpin(t.Root, p)
}

// removeOidFromRecord removes oid from slot's record using the tail-swap
// technique of spec 4.8: the victim entry is overwritten with whichever
// OID is logically last (inline, or at the tail of the overflow chain)
// instead of shifting every later entry down.
func (t *Tree) removeOidFromRecord(p *storage.Page, slot int, oid OID) (recordNowEmpty bool, err error) {
	kc := t.codec()
	raw, err := p.ReadTupleCopy(slot + 1)
	if err != nil {
		return false, err
	}
	rec, err := kc.decodeLeafRecord(raw)
	if err != nil {
		return false, err
	}

	victimIdx := -1
	for i, o := range rec.Oids {
		if o.OID == oid {
			victimIdx = i
			break
		}
	}

	if victimIdx < 0 {
		if rec.OvflVPID.IsNull() {
			return false, ErrKeyNotFound
		}
		removed, err := t.removeOidFromChain(&rec, oid)
		if err != nil {
			return false, err
		}
		if !removed {
			return false, ErrKeyNotFound
		}
	} else if tail, ok, err := t.popTailOid(&rec); err != nil {
		return false, err
	} else if ok {
		rec.Oids[victimIdx] = tail
	} else {
		rec.Oids[victimIdx] = rec.Oids[len(rec.Oids)-1]
		rec.Oids = rec.Oids[:len(rec.Oids)-1]
	}

	empty := len(rec.Oids) == 0 && rec.OvflVPID.IsNull()
	if empty {
		if err := p.DeleteAt(slot + 1); err != nil {
			return false, err
		}
		h := readNodeHeader(p)
		h.KeyCount--
		return true, writeHeader(p, h)
	}
	newRaw := kc.rebuildLeafRecordBytes(raw, rec)
	return false, p.UpdateTuple(slot+1, newRaw)
}

type oidChainPage struct {
	id      uint32
	next    VPID
	entries []pairedOID
}

func (t *Tree) readOidChain(head VPID) ([]oidChainPage, error) {
	var chain []oidChainPage
	cur := head
	for !cur.IsNull() {
		p, err := t.BP.GetPage(cur.PageID)
		if err != nil {
			return nil, err
		}
		next, entries := readOidOverflowPage(p.Buf, t.Unique)
		chain = append(chain, oidChainPage{id: cur.PageID, next: next, entries: entries})
		if err := t.BP.Unpin(p, false); err != nil {
			return nil, err
		}
		cur = next
	}
	return chain, nil
}

func (t *Tree) flushOidChain(chain []oidChainPage) error {
	for _, ps := range chain {
		p, err := t.BP.GetPage(ps.id)
		if err != nil {
			return err
		}
		writeOidOverflowPage(p.Buf, ps.next, ps.entries, t.Unique)
		if err := t.logAndUnpin(ps.id, p); err != nil {
			return err
		}
	}
	return nil
}

// popTailOid removes and returns the last OID of rec's overflow chain,
// unlinking and freeing the chain's tail page if it becomes empty.
func (t *Tree) popTailOid(rec *leafRecord) (pairedOID, bool, error) {
	if rec.OvflVPID.IsNull() {
		return pairedOID{}, false, nil
	}
	chain, err := t.readOidChain(rec.OvflVPID)
	if err != nil {
		return pairedOID{}, false, err
	}
	last := len(chain) - 1
	tail := chain[last].entries[len(chain[last].entries)-1]
	chain[last].entries = chain[last].entries[:len(chain[last].entries)-1]

	if len(chain[last].entries) == 0 {
		if last == 0 {
			rec.OvflVPID = NullVPID
		} else {
			chain[last-1].next = NullVPID
		}
		t.freePage(chain[last].id)
		chain = chain[:last]
	}
	if err := t.flushOidChain(chain); err != nil {
		return pairedOID{}, false, err
	}
	return tail, true, nil
}

// removeOidFromChain locates oid anywhere in rec's overflow chain and
// removes it via the same tail-swap technique as removeOidFromRecord.
func (t *Tree) removeOidFromChain(rec *leafRecord, oid OID) (bool, error) {
	chain, err := t.readOidChain(rec.OvflVPID)
	if err != nil {
		return false, err
	}
	if len(chain) == 0 {
		return false, nil
	}

	victimPage, victimIdx := -1, -1
	for pi, ps := range chain {
		for i, e := range ps.entries {
			if e.OID == oid {
				victimPage, victimIdx = pi, i
				break
			}
		}
		if victimPage >= 0 {
			break
		}
	}
	if victimPage < 0 {
		return false, nil
	}

	last := len(chain) - 1
	tail := chain[last].entries[len(chain[last].entries)-1]
	chain[last].entries = chain[last].entries[:len(chain[last].entries)-1]
	if !(victimPage == last && victimIdx == len(chain[last].entries)) {
		chain[victimPage].entries[victimIdx] = tail
	}

	if len(chain[last].entries) == 0 {
		if last == 0 {
			rec.OvflVPID = NullVPID
		} else {
			chain[last-1].next = NullVPID
		}
		t.freePage(chain[last].id)
		chain = chain[:last]
	}
	if err := t.flushOidChain(chain); err != nil {
		return false, err
	}
	return true, nil
}

// tryMergeLeaf peeks at leaf's right sibling once a delete leaves it
// sparse and merges it in if the combined content fits one page (spec
// 4.6: "right sibling preferred, no traversal needed since leaves only
// forward-link"). leaf arrives pinned and dirty and is always unpinned
// by this call.
func (t *Tree) tryMergeLeaf(leafID uint32, leaf *storage.Page, path []uint32) error {
	if !pageIsSparse(leaf) || len(path) == 0 {
		return t.logAndUnpin(leafID, leaf)
	}
	h := readNodeHeader(leaf)
	if h.NextVPID.IsNull() {
		return t.logAndUnpin(leafID, leaf)
	}

	rightID := h.NextVPID.PageID
	parentID := path[len(path)-1]
	pp, err := t.BP.GetPage(parentID)
	if err != nil {
		_ = t.logAndUnpin(leafID, leaf)
		return err
	}
	if !t.areAdjacentChildren(pp, leafID, rightID) {
		_ = t.BP.Unpin(pp, false)
		return t.logAndUnpin(leafID, leaf)
	}

	right, err := t.BP.GetPage(rightID)
	if err != nil {
		_ = t.BP.Unpin(pp, false)
		_ = t.logAndUnpin(leafID, leaf)
		return err
	}
	if !combinedFits(leaf, right) {
		_ = t.BP.Unpin(right, false)
		_ = t.BP.Unpin(pp, false)
		return t.logAndUnpin(leafID, leaf)
	}

	if err := t.mergeLeafSiblings(leaf, right, rightID); err != nil {
		_ = t.BP.Unpin(right, false)
		_ = t.BP.Unpin(pp, false)
		_ = t.logAndUnpin(leafID, leaf)
		return err
	}
	if err := t.logAndUnpin(rightID, right); err != nil {
		return err
	}
	if err := t.logAndUnpin(leafID, leaf); err != nil {
		return err
	}

	if err := t.removeChildFromParent(pp, rightID); err != nil {
		_ = t.BP.Unpin(pp, false)
		return err
	}
	return t.propagateMergeUp(path[:len(path)-1], parentID, pp)
}

// propagateMergeUp is called immediately after a child's record was
// removed from node (already reflected on the pinned, dirty node page).
// It collapses the root if exactly one child remains, otherwise merges
// node with a sibling — found via node's OWN parent, since only leaves
// carry a direct sibling pointer — when node itself has gone sparse.
func (t *Tree) propagateMergeUp(path []uint32, nodeID uint32, node *storage.Page) error {
	if nodeID == t.Root {
		h := readNodeHeader(node)
		if h.NodeType == NodeNonLeaf && h.KeyCount == 0 {
			rec, err := t.nonLeafRecordAt(node, 1)
			if err != nil {
				_ = t.logAndUnpin(nodeID, node)
				return err
			}
			if err := t.mergeRoot(node, rec.Child.PageID); err != nil {
				_ = t.logAndUnpin(nodeID, node)
				return err
			}
		}
		return t.logAndUnpin(nodeID, node)
	}

	if !pageIsSparse(node) || len(path) == 0 {
		return t.logAndUnpin(nodeID, node)
	}

	grandParentID := path[len(path)-1]
	gp, err := t.BP.GetPage(grandParentID)
	if err != nil {
		_ = t.logAndUnpin(nodeID, node)
		return err
	}

	siblingID, ok := t.rightSiblingOf(gp, nodeID)
	if !ok {
		_ = t.BP.Unpin(gp, false)
		return t.logAndUnpin(nodeID, node)
	}
	sibling, err := t.BP.GetPage(siblingID)
	if err != nil {
		_ = t.BP.Unpin(gp, false)
		_ = t.logAndUnpin(nodeID, node)
		return err
	}
	if !combinedFits(node, sibling) {
		_ = t.BP.Unpin(sibling, false)
		_ = t.BP.Unpin(gp, false)
		return t.logAndUnpin(nodeID, node)
	}

	sepKey, err := t.separatorOf(gp, nodeID)
	if err != nil {
		_ = t.BP.Unpin(sibling, false)
		_ = t.BP.Unpin(gp, false)
		_ = t.logAndUnpin(nodeID, node)
		return err
	}
	if err := t.mergeNonLeafSiblings(node, sibling, siblingID, sepKey); err != nil {
		_ = t.BP.Unpin(sibling, false)
		_ = t.BP.Unpin(gp, false)
		_ = t.logAndUnpin(nodeID, node)
		return err
	}
	if err := t.logAndUnpin(siblingID, sibling); err != nil {
		return err
	}
	if err := t.logAndUnpin(nodeID, node); err != nil {
		return err
	}

	if err := t.removeChildFromParent(gp, siblingID); err != nil {
		_ = t.BP.Unpin(gp, false)
		return err
	}
	return t.propagateMergeUp(path[:len(path)-1], grandParentID, gp)
}

func (t *Tree) areAdjacentChildren(pp *storage.Page, leftID, rightID uint32) bool {
	kc := t.codec()
	h := readNodeHeader(pp)
	n := int(h.KeyCount) + 1
	prevChild, havePrev := uint32(0), false
	for i := 0; i < n; i++ {
		raw, err := pp.ReadTuple(i + 1)
		if err != nil {
			return false
		}
		rec, err := kc.decodeNonLeafRecord(raw)
		if err != nil {
			return false
		}
		if havePrev && prevChild == leftID && rec.Child.PageID == rightID {
			return true
		}
		prevChild, havePrev = rec.Child.PageID, true
	}
	return false
}

func (t *Tree) rightSiblingOf(pp *storage.Page, childID uint32) (uint32, bool) {
	kc := t.codec()
	h := readNodeHeader(pp)
	n := int(h.KeyCount) + 1
	for i := 0; i < n-1; i++ {
		raw, err := pp.ReadTuple(i + 1)
		if err != nil {
			return 0, false
		}
		rec, err := kc.decodeNonLeafRecord(raw)
		if err != nil {
			return 0, false
		}
		if rec.Child.PageID == childID {
			nextRaw, err := pp.ReadTuple(i + 2)
			if err != nil {
				return 0, false
			}
			nextRec, err := kc.decodeNonLeafRecord(nextRaw)
			if err != nil {
				return 0, false
			}
			return nextRec.Child.PageID, true
		}
	}
	return 0, false
}

func (t *Tree) separatorOf(pp *storage.Page, childID uint32) ([]any, error) {
	kc := t.codec()
	h := readNodeHeader(pp)
	n := int(h.KeyCount) + 1
	for i := 0; i < n; i++ {
		raw, err := pp.ReadTuple(i + 1)
		if err != nil {
			return nil, err
		}
		rec, err := kc.decodeNonLeafRecord(raw)
		if err != nil {
			return nil, err
		}
		if rec.Child.PageID == childID {
			return rec.Key, nil
		}
	}
	return nil, errNoSuchChild
}
