package wal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	applied []Record
}

func (w *fakeWriter) ApplyRedo(vfid string, vpid uint32, slot int32, kind Kind, after []byte, lsn uint64) error {
	w.applied = append(w.applied, Record{VFID: vfid, VPID: vpid, Slot: slot, Kind: kind, After: after, LSN: lsn})
	return nil
}

func TestAppendAndRecoverRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()

	_, err = m.AppendUndoRedo(KindNodeHeaderUpd, "idx", 1, -1, []byte("before"), []byte("after"))
	require.NoError(t, err)

	_, err = m.AppendRedo(KindGetNewPage, "idx", 2, -1, nil)
	require.NoError(t, err)

	_, err = m.AppendUndo(KindKeyvalIns, "idx", 0, -1, []byte("undo-only"))
	require.NoError(t, err)

	require.NoError(t, m.Close())

	m2, err := Open(dir)
	require.NoError(t, err)
	defer func() { _ = m2.Close() }()

	w := &fakeWriter{}
	require.NoError(t, m2.Recover(w))

	require.Len(t, w.applied, 2)
	require.Equal(t, KindNodeHeaderUpd, w.applied[0].Kind)
	require.Equal(t, []byte("after"), w.applied[0].After)
	require.Equal(t, KindGetNewPage, w.applied[1].Kind)
}

func TestSystemOpStartEnd(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()

	id := m.StartSystemOp()
	require.NoError(t, m.EndSystemOp(id, OutcomeAttachToOuter))

	id2 := m.StartSystemOp()
	require.NotEqual(t, id, id2)
	require.NoError(t, m.EndSystemOp(id2, OutcomeCommit))
}

func TestLSNMonotonicAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir)
	require.NoError(t, err)

	lsn1, err := m.AppendRedo(KindNoop, "idx", 0, -1, nil)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	m2, err := Open(dir)
	require.NoError(t, err)
	defer func() { _ = m2.Close() }()

	lsn2, err := m2.AppendRedo(KindNoop, "idx", 0, -1, nil)
	require.NoError(t, err)
	require.Greater(t, lsn2, lsn1)
}
