package btree

import (
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/tuannm99/pbtree/internal/storage"
)

// GC periodically splices out degenerate non-leaf nodes — a merge can
// leave a non-root node with one child and zero keys (spec 9's "open
// question": the case "is documented to arise after merges and to be
// cleaned up lazily on subsequent insert/delete"). Rather than hunting for
// every such node inline on every delete, a background sweep mops them up
// on the schedule the caller picks.
type GC struct {
	cron *cron.Cron
	tree *Tree
}

// NewGC schedules CollapseDegenerate to run on spec, a robfig/cron spec:
// a standard 5-field expression or a descriptor such as "@every 1m".
func NewGC(t *Tree, spec string) (*GC, error) {
	c := cron.New()
	g := &GC{cron: c, tree: t}
	if _, err := c.AddFunc(spec, g.runOnce); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *GC) Start() { g.cron.Start() }
func (g *GC) Stop()  { g.cron.Stop() }

func (g *GC) runOnce() {
	if err := g.tree.CollapseDegenerate(); err != nil {
		slog.Warn("btree.gc.collapseDegenerate", "err", err)
	}
}

// CollapseDegenerate walks every non-leaf page and splices out any
// non-root node left with key_cnt == 0 (one child, no keys): the child
// pointer is hoisted directly into the node's own parent slot and the
// degenerate page is freed. The root's own degenerate case is instead
// handled synchronously by mergeRoot at delete time.
func (t *Tree) CollapseDegenerate() error {
	return t.collapseBelow(t.Root)
}

func (t *Tree) collapseBelow(pageID uint32) error {
	p, err := t.BP.GetPage(pageID)
	if err != nil {
		return err
	}
	h := readNodeHeader(p)
	if h.NodeType != NodeNonLeaf {
		return t.BP.Unpin(p, false)
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

	for _, childID := range children {
		collapsed, err := t.collapseIfDegenerate(pageID, childID)
		if err != nil {
			return err
		}
		if !collapsed {
			if err := t.collapseBelow(childID); err != nil {
				return err
			}
		}
	}
	return nil
}

// collapseIfDegenerate checks whether childID is a non-leaf with zero
// keys and, if so, splices its sole grandchild directly into parentID in
// childID's place.
func (t *Tree) collapseIfDegenerate(parentID, childID uint32) (bool, error) {
	cp, err := t.BP.GetPage(childID)
	if err != nil {
		return false, err
	}
	ch := readNodeHeader(cp)
	if ch.NodeType != NodeNonLeaf || ch.KeyCount != 0 {
		return false, t.BP.Unpin(cp, false)
	}
	rec, err := t.nonLeafRecordAt(cp, 1)
	if err != nil {
		_ = t.BP.Unpin(cp, false)
		return false, err
	}
	if err := t.BP.Unpin(cp, false); err != nil {
		return false, err
	}
	grandchildID := rec.Child.PageID

	pp, err := t.BP.GetPage(parentID)
	if err != nil {
		return false, err
	}
	if err := t.replaceChildPointer(pp, childID, grandchildID); err != nil {
		_ = t.BP.Unpin(pp, false)
		return false, err
	}
	if err := t.logAndUnpin(parentID, pp); err != nil {
		return false, err
	}

	t.freePage(childID)
	return true, nil
}

func (t *Tree) replaceChildPointer(pp *storage.Page, oldChild, newChild uint32) error {
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
		if rec.Child.PageID == oldChild {
			newRaw, err := kc.encodeNonLeafRecord(VPID{PageID: newChild}, rec.Key)
			if err != nil {
				return err
			}
			return pp.UpdateTuple(i+1, newRaw)
		}
	}
	return errNoSuchChild
}
