package lock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLockObjectConditionalIncompatible(t *testing.T) {
	m := NewManager()
	oid := ObjectID{Page: 1, Slot: 1}

	granted, err := m.LockObject(1, oid, ObjectID{}, X, true)
	require.NoError(t, err)
	require.True(t, granted)

	granted, err = m.LockObject(2, oid, ObjectID{}, S, true)
	require.ErrorIs(t, err, ErrNotGranted)
	require.False(t, granted)
}

func TestLockObjectSharedCompatible(t *testing.T) {
	m := NewManager()
	oid := ObjectID{Page: 1, Slot: 1}

	granted, err := m.LockObject(1, oid, ObjectID{}, S, true)
	require.NoError(t, err)
	require.True(t, granted)

	granted, err = m.LockObject(2, oid, ObjectID{}, S, true)
	require.NoError(t, err)
	require.True(t, granted)
}

func TestUnlockWakesWaiter(t *testing.T) {
	m := NewManager()
	oid := ObjectID{Page: 1, Slot: 1}

	granted, err := m.LockObject(1, oid, ObjectID{}, X, true)
	require.NoError(t, err)
	require.True(t, granted)

	done := make(chan bool, 1)
	go func() {
		g, _ := m.LockObject(2, oid, ObjectID{}, S, false)
		done <- g
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, m.UnlockObject(1, oid, ObjectID{}, X, false))

	select {
	case g := <-done:
		require.True(t, g)
	case <-time.After(time.Second):
		t.Fatal("waiter never granted")
	}
}

func TestDeadlockVictimAbortsWaiter(t *testing.T) {
	m := NewManager()
	m.DeadlockVictim = func(txn TxnID) bool { return txn == 2 }
	oid := ObjectID{Page: 1, Slot: 1}

	_, err := m.LockObject(1, oid, ObjectID{}, X, true)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := m.LockObject(2, oid, ObjectID{}, S, false)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, m.UnlockObject(1, oid, ObjectID{}, X, false))

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrNotGranted)
		require.ErrorIs(t, err, ErrDeadlockAbort)
	case <-time.After(time.Second):
		t.Fatal("waiter never resolved")
	}
}

func TestClassLockEscalationSkipsInstanceLock(t *testing.T) {
	m := NewManager()
	classOID := ObjectID{Page: 99}
	oid := ObjectID{Page: 1, Slot: 1}

	m.mu.Lock()
	m.recordClassLockLocked(classOID, 1, X)
	m.mu.Unlock()

	granted, err := m.LockObject(1, oid, classOID, S, true)
	require.NoError(t, err)
	require.True(t, granted)
	require.Empty(t, m.objects)
}

func TestLockHoldObjectInstant(t *testing.T) {
	m := NewManager()
	oid := ObjectID{Page: 1, Slot: 1}

	require.True(t, m.LockHoldObjectInstant(1, oid, ObjectID{}, S))
	m.mu.Lock()
	_, present := m.objects[oid]
	m.mu.Unlock()
	require.False(t, present)
}
