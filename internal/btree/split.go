package btree

import (
	"github.com/tuannm99/pbtree/internal/keydomain"
	"github.com/tuannm99/pbtree/internal/storage"
	"github.com/tuannm99/pbtree/pkg/bx"
)

// findSplitPoint picks the record index at which to divide a full page
// (spec 4.3): a running byte-size prefix sum is walked until it crosses
// half of the page's total record footprint, which degenerates to the
// exact midpoint for fixed-length keys and favors a byte-balanced split
// for variable-length ones. With at least two records, both sides are
// guaranteed at least one record; with fewer, n itself is returned.
func findSplitPoint(sizes []int) int {
	n := len(sizes)
	if n <= 1 {
		return n
	}
	total := 0
	for _, s := range sizes {
		total += s
	}
	half := total / 2
	running, mid := 0, n/2
	for i, s := range sizes {
		running += s
		if running >= half {
			mid = i + 1
			break
		}
	}
	if mid < 1 {
		mid = 1
	}
	if mid > n-1 {
		mid = n - 1
	}
	return mid
}

func maxKeyLenOf(raws [][]byte) int32 {
	var m int32
	for _, r := range raws {
		if len(r) < 8 {
			continue
		}
		l := int32(bx.U32(r[4:]))
		if l < 0 {
			l = -l
		}
		if l > m {
			m = l
		}
	}
	return m
}

// separatorKey derives the parent separator for a leaf split. A parent
// record's key is its child's inclusive upper bound, so the separator must
// satisfy leftLast <= sep < rightFirst; the straightforward choice is
// leftLast itself. When the two keys agree on every column up to a trailing
// variable-length string column, spec 4.3's ShortestSeparator rule trims
// that column to the shortest string that still divides the halves,
// keeping the separator — and the parent page — smaller; if the trimmed
// key would not sort strictly below rightFirst, leftLast is used instead.
func (t *Tree) separatorKey(leftLast, rightFirst []any) []any {
	cols := t.Domain.Columns
	if len(cols) == 0 {
		return leftLast
	}
	last := len(cols) - 1
	_, diff := t.Domain.Compare(leftLast, rightFirst, 0)
	if diff != last || cols[last].Kind != keydomain.KindVarChar {
		return leftLast
	}
	ls, lok := leftLast[last].(string)
	rs, rok := rightFirst[last].(string)
	if !lok || !rok {
		return leftLast
	}
	out := append([]any(nil), rightFirst...)
	out[last] = keydomain.ShortestSeparator(ls, rs)
	if lo, _ := t.Domain.Compare(leftLast, out, 0); lo > 0 {
		return leftLast
	}
	if hi, _ := t.Domain.Compare(out, rightFirst, 0); hi >= 0 {
		return leftLast
	}
	return out
}

// splitLeaf moves the upper half of p's records onto a freshly allocated
// right sibling, relinks next_vpid, and returns the new page (pinned,
// dirty) plus the separator key the caller must insert into the parent.
// p itself is left holding the lower half, also dirty.
func (t *Tree) splitLeaf(p *storage.Page) (rightID uint32, sepKey []any, rightPage *storage.Page, err error) {
	kc := t.codec()
	h := readNodeHeader(p)
	n := int(h.KeyCount)

	raws := make([][]byte, n)
	recs := make([]leafRecord, n)
	for i := 0; i < n; i++ {
		raw, err := p.ReadTupleCopy(i + 1)
		if err != nil {
			return 0, nil, nil, err
		}
		rec, err := kc.decodeLeafRecord(raw)
		if err != nil {
			return 0, nil, nil, err
		}
		raws[i], recs[i] = raw, rec
	}

	sizes := make([]int, n)
	for i, r := range raws {
		sizes[i] = len(r)
	}
	mid := findSplitPoint(sizes)

	rightID, rightPage, err = t.newLeafPage()
	if err != nil {
		return 0, nil, nil, err
	}
	for i := mid; i < n; i++ {
		if err := rightPage.InsertAt(i-mid+1, raws[i]); err != nil {
			return 0, nil, nil, err
		}
	}
	rh := readNodeHeader(rightPage)
	rh.KeyCount = int32(n - mid)
	rh.NextVPID = h.NextVPID
	rh.MaxKeyLen = maxKeyLenOf(raws[mid:])
	if err := writeHeader(rightPage, rh); err != nil {
		return 0, nil, nil, err
	}

	for i := n - 1; i >= mid; i-- {
		if err := p.DeleteAt(i + 1); err != nil {
			return 0, nil, nil, err
		}
	}
	h.KeyCount = int32(mid)
	h.NextVPID = VPID{PageID: rightID}
	h.MaxKeyLen = maxKeyLenOf(raws[:mid])
	if err := writeHeader(p, h); err != nil {
		return 0, nil, nil, err
	}

	sepKey = t.separatorKey(recs[mid-1].Key, recs[mid].Key)
	return rightID, sepKey, rightPage, nil
}

// splitNonLeaf divides an overflowing internal node. The record holding
// the chosen midpoint's upper-bound key is promoted to the parent as the
// separator; its child pointer becomes the left page's new key-less
// "rest of range" record, and every record after it moves verbatim onto
// a freshly allocated right sibling (spec 4.4).
func (t *Tree) splitNonLeaf(p *storage.Page) (rightID uint32, sepKey []any, rightPage *storage.Page, err error) {
	kc := t.codec()
	h := readNodeHeader(p)
	total := int(h.KeyCount) + 1

	raws := make([][]byte, total)
	recs := make([]nonLeafRecord, total)
	for i := 0; i < total; i++ {
		raw, err := p.ReadTupleCopy(i + 1)
		if err != nil {
			return 0, nil, nil, err
		}
		rec, err := kc.decodeNonLeafRecord(raw)
		if err != nil {
			return 0, nil, nil, err
		}
		raws[i], recs[i] = raw, rec
	}

	sizes := make([]int, total)
	for i, r := range raws {
		sizes[i] = len(r)
	}
	mid := findSplitPoint(sizes)
	if mid > total-2 {
		mid = total - 2
	}
	if mid < 1 {
		mid = 1
	}

	sepKey = recs[mid].Key

	rightID, rightPage, err = t.newNonLeafPage()
	if err != nil {
		return 0, nil, nil, err
	}
	for i := mid + 1; i < total; i++ {
		if err := rightPage.InsertAt(i-mid, raws[i]); err != nil {
			return 0, nil, nil, err
		}
	}
	rightRecordCount := total - (mid + 1)
	rh := readNodeHeader(rightPage)
	rh.KeyCount = int32(rightRecordCount - 1)
	rh.MaxKeyLen = maxKeyLenOf(raws[mid+1:])
	if err := writeHeader(rightPage, rh); err != nil {
		return 0, nil, nil, err
	}

	lastLeftRaw, err := kc.encodeNonLeafRecord(recs[mid].Child, nil)
	if err != nil {
		return 0, nil, nil, err
	}
	for i := total - 1; i >= mid; i-- {
		if err := p.DeleteAt(i + 1); err != nil {
			return 0, nil, nil, err
		}
	}
	if err := p.InsertAt(mid+1, lastLeftRaw); err != nil {
		return 0, nil, nil, err
	}
	h.KeyCount = int32(mid)
	h.MaxKeyLen = maxKeyLenOf(raws[:mid])
	if err := writeHeader(p, h); err != nil {
		return 0, nil, nil, err
	}

	return rightID, sepKey, rightPage, nil
}

// splitRoot relocates the root page's current content onto a freshly
// allocated page, splits that page in place via splitLeaf/splitNonLeaf,
// and rewrites the root's own page as a 2-child non-leaf header pointing
// at the two halves. The root page id never changes (spec 4.5); tree-wide
// stats carried in the RootHeader survive untouched.
func (t *Tree) splitRoot(root *storage.Page) error {
	h := readNodeHeader(root)

	leftID, leftPage, err := func() (uint32, *storage.Page, error) {
		id := t.allocPage()
		p, err := t.BP.GetPage(id)
		if err != nil {
			return 0, nil, err
		}
		p.Reset(id)
		if err := p.InsertAt(0, encodeNodeHeader(h)); err != nil {
			return 0, nil, err
		}
		n := root.NumSlots() - 1
		for i := 0; i < n; i++ {
			raw, err := root.ReadTupleCopy(i + 1)
			if err != nil {
				return 0, nil, err
			}
			if err := p.InsertAt(i+1, raw); err != nil {
				return 0, nil, err
			}
		}
		return id, p, nil
	}()
	if err != nil {
		return err
	}

	var rightID uint32
	var rightPage *storage.Page
	var sep []any
	if h.NodeType == NodeLeaf {
		rightID, sep, rightPage, err = t.splitLeaf(leftPage)
	} else {
		rightID, sep, rightPage, err = t.splitNonLeaf(leftPage)
	}
	if err != nil {
		return err
	}
	if err := t.logAndUnpin(leftID, leftPage); err != nil {
		return err
	}
	if err := t.logAndUnpin(rightID, rightPage); err != nil {
		return err
	}

	rawRoot, err := root.ReadTupleCopy(0)
	if err != nil {
		return err
	}
	rh := decodeRootHeader(rawRoot)
	rh.NodeType = NodeNonLeaf
	rh.KeyCount = 1
	rh.NextVPID = NullVPID
	rh.MaxKeyLen = 0

	for i := root.NumSlots() - 1; i >= 1; i-- {
		if err := root.DeleteAt(i); err != nil {
			return err
		}
	}
	if err := root.UpdateTuple(0, encodeRootHeader(rh)); err != nil {
		return err
	}

	kc := t.codec()
	leftRec, err := kc.encodeNonLeafRecord(VPID{PageID: leftID}, sep)
	if err != nil {
		return err
	}
	rightRec, err := kc.encodeNonLeafRecord(VPID{PageID: rightID}, nil)
	if err != nil {
		return err
	}
	if err := root.InsertAt(1, leftRec); err != nil {
		return err
	}
	if err := root.InsertAt(2, rightRec); err != nil {
		return err
	}

	t.Height++
	return nil
}
