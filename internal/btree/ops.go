package btree

// Update is delete-then-insert (spec 6 operation update). Delete itself
// already treats a missing key as a no-op warning rather than an error
// (spec 4.8), which is what lets a uniqueness-template check that already
// performed the delete ahead of time call Update safely regardless. The
// re-insert still runs with do_unique_check on: moving an oid onto a key
// that collides with a different, unrelated entry in a unique index must
// still fail (spec 4.7).
func (t *Tree) Update(oldKey, newKey []any, classOID, oid OID) error {
	if err := t.Delete(oldKey, oid); err != nil {
		return err
	}
	return t.Insert(newKey, classOID, oid, true)
}
