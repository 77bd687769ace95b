package btree

import "github.com/tuannm99/pbtree/internal/keydomain"

// searchLeaf performs the binary search of spec 4.2 over a leaf's decoded
// keys: if found, slotID is the matching slot; otherwise slotID is the
// insertion position (which may equal len(keys)).
func searchLeaf(domain keydomain.Domain, keys [][]any, target []any) (found bool, slotID int) {
	lo, hi := 0, len(keys)
	startCol := 0
	for lo < hi {
		mid := (lo + hi) / 2
		cmp, diff := domain.Compare(keys[mid], target, startCol)
		switch {
		case cmp == 0:
			return true, mid
		case cmp < 0:
			lo = mid + 1
		default:
			hi = mid
		}
		startCol = min(startCol, diff)
	}
	return false, lo
}

// searchNonLeaf performs the binary search of spec 4.2 over a non-leaf's
// separator keys (keys[i] omitted — it is nil — for the key-less final
// "rest of range" entry) and returns the child index the search key
// descends into.
func searchNonLeaf(domain keydomain.Domain, keys [][]any, target []any) (childIdx int) {
	n := len(keys)
	if n == 0 {
		return 0
	}
	// keys[0..n-2] are real separators; keys[n-1] is nil (rest-of-range).
	lo, hi := 0, n-1
	startCol := 0
	for lo < hi {
		mid := (lo + hi) / 2
		cmp, diff := domain.Compare(keys[mid], target, startCol)
		if cmp == 0 {
			return mid
		}
		if cmp < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
		startCol = min(startCol, diff)
	}
	return lo
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
