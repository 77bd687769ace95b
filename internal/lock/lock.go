// Package lock implements the object/class lock manager consumed by the
// btree scan and mutation drivers (spec 6: lock_object, lock_hold_object_instant,
// unlock_object, get_class_lock).
package lock

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrNotGranted is returned by a conditional LockObject call that could
// not acquire the lock without blocking, and by an unconditional call
// whose waiting transaction was chosen as a deadlock victim.
var ErrNotGranted = errors.New("lock: not granted")

// ErrDeadlockAbort is the reason returned alongside ErrNotGranted when the
// caller's transaction was aborted by the deadlock-victim hook while
// waiting unconditionally (spec 5: "Unconditional lock requests may
// return a 'not granted due to abort' outcome").
var ErrDeadlockAbort = errors.New("lock: transaction aborted as deadlock victim")

// Mode is a lock mode, ordered weakest to strongest.
type Mode int

const (
	NoLock Mode = iota
	IS          // intent share (used only for class locks)
	S           // share
	U           // update: compatible with S, incompatible with itself/X
	IX          // intent exclusive (used only for class locks)
	X           // exclusive
)

func (m Mode) String() string {
	switch m {
	case NoLock:
		return "NONE"
	case IS:
		return "IS"
	case S:
		return "S"
	case U:
		return "U"
	case IX:
		return "IX"
	case X:
		return "X"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// compatible reports whether a and b can be held concurrently by two
// different transactions on the same object.
func compatible(a, b Mode) bool {
	if a == NoLock || b == NoLock {
		return true
	}
	switch {
	case a == IS && b == IS, a == IS && b == S, a == IS && b == U, a == IS && b == IX:
		return true
	case a == S && b == IS, a == S && b == S, a == S && b == U:
		return true
	case a == U && b == IS, a == U && b == S:
		return true
	case a == IX && b == IS, a == IX && b == IX:
		return true
	default:
		return false
	}
}

// stronger reports whether a is at least as strong as b (for escalation
// checks: an instance lock is redundant if the transaction already holds
// a class lock at least as strong).
func stronger(a, b Mode) bool {
	rank := map[Mode]int{NoLock: 0, IS: 1, S: 2, U: 3, IX: 2, X: 4}
	return rank[a] >= rank[b]
}

// TxnID identifies a transaction (scan or mutation) for lock bookkeeping.
type TxnID uint64

// ObjectID is whatever the caller locks: an OID, or a class OID used as
// the granularity for escalation.
type ObjectID struct {
	Volume int32
	Page   uint32
	Slot   uint16
}

type grant struct {
	txn  TxnID
	mode Mode
}

type waiter struct {
	txn     TxnID
	mode    Mode
	granted chan bool
}

type entry struct {
	grants  []grant
	waiters []*waiter
}

// Manager is a process-wide object/class lock table.
type Manager struct {
	mu sync.Mutex

	objects map[ObjectID]*entry

	// classLocks caches, per (txn, classOID), the strongest mode the
	// transaction holds on that class — used to bypass redundant
	// instance locks (spec 5's "escalated mode").
	classLocks map[TxnID]map[ObjectID]Mode

	// DeadlockVictim, if set, is consulted by the unconditional-wait path;
	// it lets tests simulate a deadlock detector choosing txn as a victim.
	DeadlockVictim func(txn TxnID) bool
}

func NewManager() *Manager {
	return &Manager{
		objects:    make(map[ObjectID]*entry),
		classLocks: make(map[TxnID]map[ObjectID]Mode),
	}
}

func (m *Manager) entryFor(oid ObjectID) *entry {
	e, ok := m.objects[oid]
	if !ok {
		e = &entry{}
		m.objects[oid] = e
	}
	return e
}

func (m *Manager) heldLocked(e *entry, txn TxnID) (Mode, bool) {
	for _, g := range e.grants {
		if g.txn == txn {
			return g.mode, true
		}
	}
	return NoLock, false
}

func (m *Manager) canGrantLocked(e *entry, txn TxnID, mode Mode) bool {
	for _, g := range e.grants {
		if g.txn == txn {
			continue
		}
		if !compatible(g.mode, mode) {
			return false
		}
	}
	return true
}

// GetClassLock returns the strongest mode txn currently holds on classOID,
// or NoLock if none.
func (m *Manager) GetClassLock(classOID ObjectID, txn TxnID) Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	cm, ok := m.classLocks[txn]
	if !ok {
		return NoLock
	}
	return cm[classOID]
}

func (m *Manager) recordClassLockLocked(classOID ObjectID, txn TxnID, mode Mode) {
	cm, ok := m.classLocks[txn]
	if !ok {
		cm = make(map[ObjectID]Mode)
		m.classLocks[txn] = cm
	}
	if stronger(mode, cm[classOID]) {
		cm[classOID] = mode
	}
}

// LockObject attempts to acquire mode on oid for txn. If cond is true the
// call never blocks: it returns (false, ErrNotGranted) immediately when
// incompatible grants exist. If cond is false and the lock cannot be
// granted immediately, the caller blocks until it is granted or the
// DeadlockVictim hook aborts it.
//
// classOID, if non-zero, is checked first: if txn already holds a class
// lock at least as strong as mode, the instance lock is skipped entirely
// (spec 5's escalated-mode shortcut) and this call is a no-op success.
func (m *Manager) LockObject(txn TxnID, oid, classOID ObjectID, mode Mode, cond bool) (bool, error) {
	m.mu.Lock()
	if classOID != (ObjectID{}) {
		if cm, ok := m.classLocks[txn]; ok && stronger(cm[classOID], mode) {
			m.mu.Unlock()
			slog.Debug("lock: escalated, skipping instance lock", "oid", oid, "class", classOID, "mode", mode)
			return true, nil
		}
	}

	e := m.entryFor(oid)
	if held, ok := m.heldLocked(e, txn); ok && stronger(held, mode) {
		m.mu.Unlock()
		return true, nil
	}

	if m.canGrantLocked(e, txn, mode) {
		e.grants = append(e.grants, grant{txn: txn, mode: mode})
		m.mu.Unlock()
		return true, nil
	}

	if cond {
		m.mu.Unlock()
		return false, ErrNotGranted
	}

	w := &waiter{txn: txn, mode: mode, granted: make(chan bool, 1)}
	e.waiters = append(e.waiters, w)
	m.mu.Unlock()

	granted := <-w.granted
	if !granted {
		return false, fmt.Errorf("%w: %w", ErrNotGranted, ErrDeadlockAbort)
	}
	return true, nil
}

// LockHoldObjectInstant acquires mode on oid just long enough to confirm
// no conflicting holder exists, then releases it immediately — used by
// the scan driver when it only needs to confirm a key wasn't concurrently
// deleted, not hold a durable lock across the call.
func (m *Manager) LockHoldObjectInstant(txn TxnID, oid, classOID ObjectID, mode Mode) bool {
	granted, err := m.LockObject(txn, oid, classOID, mode, true)
	if err != nil || !granted {
		return false
	}
	_ = m.UnlockObject(txn, oid, classOID, mode, true)
	return true
}

// UnlockObject releases txn's mode-lock on oid. releaseEarly is accepted
// for interface fidelity with spec 6; this implementation always releases
// immediately (no held-until-commit distinction, since there is no
// transaction manager in this engine beyond the per-call txn id).
func (m *Manager) UnlockObject(txn TxnID, oid, classOID ObjectID, mode Mode, releaseEarly bool) error {
	_ = mode
	_ = releaseEarly
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.objects[oid]
	if !ok {
		return nil
	}
	out := e.grants[:0]
	for _, g := range e.grants {
		if g.txn != txn {
			out = append(out, g)
		}
	}
	e.grants = out

	if classOID != (ObjectID{}) {
		if cm, ok := m.classLocks[txn]; ok {
			delete(cm, classOID)
		}
	}

	m.wakeWaitersLocked(e)
	if len(e.grants) == 0 && len(e.waiters) == 0 {
		delete(m.objects, oid)
	}
	return nil
}

// wakeWaitersLocked grants as many compatible waiters as possible, in
// FIFO order, after a grant set changes. Called with m.mu held.
func (m *Manager) wakeWaitersLocked(e *entry) {
	for len(e.waiters) > 0 {
		w := e.waiters[0]
		if m.DeadlockVictim != nil && m.DeadlockVictim(w.txn) {
			e.waiters = e.waiters[1:]
			w.granted <- false
			continue
		}
		if !m.canGrantLocked(e, w.txn, w.mode) {
			break
		}
		e.grants = append(e.grants, grant{txn: w.txn, mode: w.mode})
		e.waiters = e.waiters[1:]
		w.granted <- true
	}
}
