package btree

import "fmt"

// Stats is the summary get_stats reports (spec 6 operation get_stats):
// shape counters plus the tree-wide OID/key/null counters a unique index
// maintains in its root header.
type Stats struct {
	Height       int
	LeafPages    int64
	NonLeafPages int64
	NumKeys      int64
	NumOids      int64
	NumNulls     int64

	// DistinctPerColumn holds one approximate distinct-value count per key
	// column, populated only when GetStats is called with
	// wantPartialKeys=true (spec 6: "per-column distinct counts").
	DistinctPerColumn []int64
}

// GetStats walks every page of the tree once to report its shape and
// tree-wide counters (spec 6 operation get_stats).
func (t *Tree) GetStats(wantPartialKeys bool) (Stats, error) {
	st := Stats{Height: t.Height}

	root, err := t.BP.GetPage(t.Root)
	if err != nil {
		return Stats{}, err
	}
	rh, err := t.readRootHeader(root)
	unpinErr := t.BP.Unpin(root, false)
	if err != nil {
		return Stats{}, err
	}
	if unpinErr != nil {
		return Stats{}, unpinErr
	}
	st.NumOids, st.NumNulls, st.NumKeys = rh.NumOids, rh.NumNulls, rh.NumKeys

	var distinct []map[any]struct{}
	if wantPartialKeys {
		distinct = make([]map[any]struct{}, len(t.Domain.Columns))
		for i := range distinct {
			distinct[i] = make(map[any]struct{})
		}
	}

	var walk func(pageID uint32) error
	walk = func(pageID uint32) error {
		p, err := t.BP.GetPage(pageID)
		if err != nil {
			return err
		}
		h := readNodeHeader(p)
		if h.NodeType == NodeLeaf {
			st.LeafPages++
			if wantPartialKeys {
				keys, err := t.leafKeys(p)
				if err != nil {
					_ = t.BP.Unpin(p, false)
					return err
				}
				for _, k := range keys {
					for i, v := range k {
						if i < len(distinct) {
							distinct[i][v] = struct{}{}
						}
					}
				}
			}
			return t.BP.Unpin(p, false)
		}

		st.NonLeafPages++
		n := int(h.KeyCount) + 1
		children := make([]uint32, n)
		for i := 0; i < n; i++ {
			rec, err := t.nonLeafRecordAt(p, i+1)
			if err != nil {
				_ = t.BP.Unpin(p, false)
				return err
			}
			children[i] = rec.Child.PageID
		}
		if err := t.BP.Unpin(p, false); err != nil {
			return err
		}
		for _, c := range children {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(t.Root); err != nil {
		return Stats{}, err
	}

	if wantPartialKeys {
		st.DistinctPerColumn = make([]int64, len(distinct))
		for i, m := range distinct {
			st.DistinctPerColumn[i] = int64(len(m))
		}
	}
	return st, nil
}

// ReflectUniqueStatistics merges a caller-accumulated delta into the root
// header's counters (spec 6 operation reflect_unique_statistics) — used
// to fold up per-transaction deltas that were tracked locally instead of
// touching the shared root header on every single insert/delete.
func (t *Tree) ReflectUniqueStatistics(deltaOids, deltaNulls, deltaKeys int64) error {
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
	rh.NumOids += deltaOids
	rh.NumNulls += deltaNulls
	rh.NumKeys += deltaKeys
	if err := t.writeRootHeader(p, rh); err != nil {
		_ = t.BP.Unpin(p, false)
		return err
	}
	return t.logAndUnpin(t.Root, p)
}

// CheckTree walks the whole tree verifying the invariants spec 3 and 4.2
// rely on: every node's keys are sorted, non-leaf separators bound their
// subtrees correctly, and the leaf chain is itself sorted end to end.
// It returns the first violation found, or nil.
func (t *Tree) CheckTree() error {
	var prevLeafKey []any
	havePrev := false

	var walk func(pageID uint32, lo, hi []any) error
	walk = func(pageID uint32, lo, hi []any) error {
		p, err := t.BP.GetPage(pageID)
		if err != nil {
			return err
		}
		h := readNodeHeader(p)

		if h.NodeType == NodeLeaf {
			keys, err := t.leafKeys(p)
			if err != nil {
				_ = t.BP.Unpin(p, false)
				return err
			}
			if err := t.BP.Unpin(p, false); err != nil {
				return err
			}
			for i, k := range keys {
				if i > 0 {
					if cmp, _ := t.Domain.Compare(keys[i-1], k, 0); cmp >= 0 {
						return fmt.Errorf("btree: page %d keys out of order at slot %d", pageID, i)
					}
				}
				if lo != nil {
					if cmp, _ := t.Domain.Compare(k, lo, 0); cmp <= 0 {
						return fmt.Errorf("btree: page %d key at/below its subtree's lower bound", pageID)
					}
				}
				if hi != nil {
					if cmp, _ := t.Domain.Compare(k, hi, 0); cmp > 0 {
						return fmt.Errorf("btree: page %d key above its subtree's upper bound", pageID)
					}
				}
				if havePrev {
					if cmp, _ := t.Domain.Compare(prevLeafKey, k, 0); cmp >= 0 {
						return fmt.Errorf("btree: leaf chain out of order entering page %d", pageID)
					}
				}
				prevLeafKey, havePrev = k, true
			}
			return nil
		}

		keys, err := t.nonLeafKeys(p)
		if err != nil {
			_ = t.BP.Unpin(p, false)
			return err
		}
		n := int(h.KeyCount) + 1
		children := make([]uint32, n)
		for i := 0; i < n; i++ {
			rec, err := t.nonLeafRecordAt(p, i+1)
			if err != nil {
				_ = t.BP.Unpin(p, false)
				return err
			}
			children[i] = rec.Child.PageID
		}
		if err := t.BP.Unpin(p, false); err != nil {
			return err
		}

		childLo := lo
		for i := 0; i < n; i++ {
			var childHi []any
			if i < n-1 {
				childHi = keys[i]
				if childHi == nil {
					return fmt.Errorf("btree: page %d non-final record missing separator key", pageID)
				}
			} else {
				childHi = hi
			}
			if err := walk(children[i], childLo, childHi); err != nil {
				return err
			}
			childLo = childHi
		}
		return nil
	}

	return walk(t.Root, nil, nil)
}

// CheckAll runs CheckTree over every index in trees, reporting the first
// violation with the offending index's position (spec 6 operation
// check_all: a whole-database verifier, here scoped to whatever set of
// indexes the caller hands in).
func CheckAll(trees []*Tree) error {
	for i, t := range trees {
		if err := t.CheckTree(); err != nil {
			return fmt.Errorf("btree: index %d failed check: %w", i, err)
		}
	}
	return nil
}

// FindKey reverse-looks-up the key that stores oid (spec 6 operation
// find_key), scanning the leaf chain from the left since no secondary
// OID->key index is maintained.
func (t *Tree) FindKey(oid OID) ([]any, bool, error) {
	_, leafPage, err := t.leftmostLeaf()
	if err != nil {
		return nil, false, err
	}

	for {
		h := readNodeHeader(leafPage)
		n := int(h.KeyCount)
		for slot := 1; slot <= n; slot++ {
			rec, err := t.leafRecordAt(leafPage, slot)
			if err != nil {
				_ = t.BP.Unpin(leafPage, false)
				return nil, false, err
			}
			for _, o := range rec.Oids {
				if o.OID == oid {
					_ = t.BP.Unpin(leafPage, false)
					return rec.Key, true, nil
				}
			}
			if !rec.OvflVPID.IsNull() {
				found, err := t.oidInChain(rec.OvflVPID, oid)
				if err != nil {
					_ = t.BP.Unpin(leafPage, false)
					return nil, false, err
				}
				if found {
					key := rec.Key
					_ = t.BP.Unpin(leafPage, false)
					return key, true, nil
				}
			}
		}

		next := h.NextVPID
		if err := t.BP.Unpin(leafPage, false); err != nil {
			return nil, false, err
		}
		if next.IsNull() {
			return nil, false, nil
		}
		leafPage, err = t.BP.GetPage(next.PageID)
		if err != nil {
			return nil, false, err
		}
	}
}

func (t *Tree) oidInChain(head VPID, oid OID) (bool, error) {
	chain, err := t.readOidChain(head)
	if err != nil {
		return false, err
	}
	for _, ps := range chain {
		for _, e := range ps.entries {
			if e.OID == oid {
				return true, nil
			}
		}
	}
	return false, nil
}
