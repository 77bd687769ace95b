package btree

import (
	"fmt"

	"github.com/tuannm99/pbtree/internal/storage"
	"github.com/tuannm99/pbtree/internal/wal"
)

// Recovery implements wal.PageWriter, replaying redo records against the
// trees in Pages after a crash. Insert/Delete/split/merge all route their
// page mutations through Tree.logFullPage (wal.KindCopyPage), which logs the
// page's entire post-mutation byte image rather than a per-operation delta,
// so ApplyRedo's real work reduces to two cases: materialize a brand-new
// page (KindNewPgAlloc) or overwrite an existing one wholesale
// (KindCopyPage). Replay is idempotent because every record carries the LSN
// it was appended with and a page only accepts an image strictly newer than
// its own current Lsn().
type Recovery struct {
	Pages map[string]*Tree // vfid key (storage.FsKeyOf) -> tree
}

func (r *Recovery) ApplyRedo(vfid string, vpid uint32, slot int32, kind wal.Kind, after []byte, lsn uint64) error {
	t, ok := r.Pages[vfid]
	if !ok {
		return nil
	}

	switch kind {
	case wal.KindNewPgAlloc:
		p, err := t.BP.GetPage(vpid)
		if err != nil {
			return err
		}
		if len(after) > 0 && p.Lsn() == 0 {
			p.Reset(vpid)
			if err := p.InsertAt(0, after); err != nil {
				_ = t.BP.Unpin(p, false)
				return err
			}
			p.SetLsn(lsn)
			return t.BP.Unpin(p, true)
		}
		return t.BP.Unpin(p, false)

	case wal.KindCopyPage:
		p, err := t.BP.GetPage(vpid)
		if err != nil {
			return err
		}
		if len(after) == storage.PageSize && p.Lsn() < lsn {
			copy(p.Buf, after)
			p.SetLsn(lsn)
			return t.BP.Unpin(p, true)
		}
		return t.BP.Unpin(p, false)

	case wal.KindLeafRecordKeyIns, wal.KindLeafRecordDel, wal.KindNoop:
		return nil

	default:
		return fmt.Errorf("btree: recovery: unhandled wal kind %d", kind)
	}
}
