package concurrency

import (
	"sync"
	"testing"

	"github.com/pingcap-incubator/tinytxn/kv/storage/tilegroup"
	"github.com/pingcap-incubator/tinytxn/kv/tso"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// scriptedSource hands out commit timestamps from a fixed list.
type scriptedSource struct {
	mu    sync.Mutex
	txnID tilegroup.TxnID
	cids  []tilegroup.CID
}

func newScriptedSource(cids ...tilegroup.CID) *scriptedSource {
	return &scriptedSource{txnID: tilegroup.InitialTxnID, cids: cids}
}

func (s *scriptedSource) NextTxnID() tilegroup.TxnID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txnID++
	return s.txnID
}

func (s *scriptedSource) NextCommitID() tilegroup.CID {
	s.mu.Lock()
	defer s.mu.Unlock()
	cid := s.cids[0]
	s.cids = s.cids[1:]
	return cid
}

func newTestManager(policy CommitPolicy) (*Manager, *tilegroup.Manager) {
	store := tilegroup.NewManager(8)
	return NewManager(store, tso.NewOracle(), policy), store
}

func loadMeta(t *testing.T, store *tilegroup.Manager, loc tilegroup.ItemPointer) tilegroup.TupleMeta {
	h, err := store.Locate(loc)
	require.Nil(t, err)
	return h.Load(loc.Offset)
}

func insertCommitted(t *testing.T, m *Manager, store *tilegroup.Manager) tilegroup.ItemPointer {
	txn := m.BeginTransaction()
	loc := store.AllocateSlot()
	require.Nil(t, m.PerformInsert(txn, loc))
	require.Equal(t, ResultSuccess, m.CommitTransaction(txn))
	return loc
}

// update takes loc for txn and installs a new version after it.
func update(t *testing.T, m *Manager, store *tilegroup.Manager, txn *Transaction, loc tilegroup.ItemPointer) tilegroup.ItemPointer {
	ok, err := m.AcquireOwnership(txn, loc)
	require.Nil(t, err)
	require.True(t, ok)
	newLoc := store.AllocateSlot()
	require.Nil(t, m.PerformUpdate(txn, loc, newLoc))
	return newLoc
}

func visible(t *testing.T, m *Manager, txn *Transaction, loc tilegroup.ItemPointer) bool {
	ok, err := m.IsVisible(txn, loc)
	require.Nil(t, err)
	return ok
}

func TestIsVisible(t *testing.T) {
	const me, other tilegroup.TxnID = 5, 7
	const snapshot tilegroup.CID = 100
	meta := func(owner tilegroup.TxnID, begin, end tilegroup.CID) tilegroup.TupleMeta {
		m := tilegroup.FreshTupleMeta()
		m.TxnID, m.BeginTS, m.EndTS = owner, begin, end
		return m
	}
	tests := []struct {
		name    string
		meta    tilegroup.TupleMeta
		visible bool
	}{
		{"fresh slot", tilegroup.FreshTupleMeta(), false},
		{"own insert", meta(me, tilegroup.MaxCID, tilegroup.MaxCID), true},
		{"own tombstone", meta(me, tilegroup.MaxCID, tilegroup.InvalidCID), false},
		{"own superseded version", meta(me, 50, tilegroup.MaxCID), false},
		{"uncommitted version of another", meta(other, tilegroup.MaxCID, tilegroup.MaxCID), false},
		{"committed version being updated by another", meta(other, 50, tilegroup.MaxCID), true},
		{"committed current", meta(tilegroup.InitialTxnID, 50, tilegroup.MaxCID), true},
		{"committed at snapshot", meta(tilegroup.InitialTxnID, 100, tilegroup.MaxCID), true},
		{"committed after snapshot", meta(tilegroup.InitialTxnID, 150, tilegroup.MaxCID), false},
		{"ended at snapshot", meta(tilegroup.InitialTxnID, 50, 100), false},
		{"ended after snapshot", meta(tilegroup.InitialTxnID, 50, 120), true},
		{"committed tombstone", meta(tilegroup.InvalidTxnID, 50, tilegroup.InvalidCID), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.visible, IsVisible(tt.meta, me, snapshot), tt.name)
		// Same input, same answer.
		assert.Equal(t, tt.visible, IsVisible(tt.meta, me, snapshot), tt.name)
	}

	assert.True(t, IsOwner(meta(me, tilegroup.MaxCID, tilegroup.MaxCID), me))
	assert.False(t, IsOwner(meta(other, tilegroup.MaxCID, tilegroup.MaxCID), me))
	assert.True(t, IsOwnable(meta(tilegroup.InitialTxnID, 50, tilegroup.MaxCID)))
	assert.False(t, IsOwnable(meta(tilegroup.InitialTxnID, 50, 80)))
	assert.False(t, IsOwnable(meta(other, 50, tilegroup.MaxCID)))
}

func TestInsertCommit(t *testing.T) {
	m, store := newTestManager(CommitPolicyBegin)
	txn := m.BeginTransaction()
	loc := store.AllocateSlot()
	require.Nil(t, m.PerformInsert(txn, loc))
	assert.True(t, visible(t, m, txn, loc))

	other := m.BeginTransaction()
	assert.False(t, visible(t, m, other, loc))
	ok, err := m.PerformRead(other, loc)
	require.Nil(t, err)
	assert.False(t, ok)
	m.AbortTransaction(other)

	assert.Equal(t, ResultSuccess, m.CommitTransaction(txn))
	assert.Equal(t, TxnCommitted, txn.State())
	assert.Equal(t, txn.BeginCID(), txn.EndCID())

	meta := loadMeta(t, store, loc)
	assert.Equal(t, tilegroup.InitialTxnID, meta.TxnID)
	assert.Equal(t, txn.BeginCID(), meta.BeginTS)
	assert.Equal(t, tilegroup.MaxCID, meta.EndTS)

	reader := m.BeginTransaction()
	assert.True(t, visible(t, m, reader, loc))
	ok, err = m.PerformRead(reader, loc)
	require.Nil(t, err)
	assert.True(t, ok)
	assert.Equal(t, reader.BeginCID(), loadMeta(t, store, loc).ReadTS)
	assert.Equal(t, ResultSuccess, m.CommitTransaction(reader))
}

func TestInsertAbortRestoresFreshSlot(t *testing.T) {
	m, store := newTestManager(CommitPolicyBegin)
	txn := m.BeginTransaction()
	loc := store.AllocateSlot()
	before := loadMeta(t, store, loc)

	require.Nil(t, m.PerformInsert(txn, loc))
	assert.Equal(t, ResultAborted, m.AbortTransaction(txn))
	assert.Equal(t, before, loadMeta(t, store, loc))
	assert.Equal(t, tilegroup.FreshTupleMeta(), loadMeta(t, store, loc))
}

func TestInsertRequiresFreshSlot(t *testing.T) {
	m, store := newTestManager(CommitPolicyBegin)
	loc := insertCommitted(t, m, store)

	txn := m.BeginTransaction()
	err := m.PerformInsert(txn, loc)
	assert.Equal(t, ErrSlotState, errors.Cause(err))
	assert.True(t, txn.IsReadOnly())

	_, err = m.PerformRead(txn, tilegroup.ItemPointer{Block: 9, Offset: 0})
	assert.Equal(t, tilegroup.ErrNoSuchTileGroup, errors.Cause(err))
}

func TestStaleWriteRejected(t *testing.T) {
	m, store := newTestManager(CommitPolicyBegin)
	loc := insertCommitted(t, m, store)

	older := m.BeginTransaction()
	newer := m.BeginTransaction()
	require.True(t, older.BeginCID() < newer.BeginCID())

	ok, err := m.PerformRead(newer, loc)
	require.Nil(t, err)
	require.True(t, ok)

	ok, err = m.AcquireOwnership(older, loc)
	require.Nil(t, err)
	assert.False(t, ok)
	// Nothing changed on the slot.
	assert.Equal(t, tilegroup.InitialTxnID, loadMeta(t, store, loc).TxnID)

	// A writer with a later snapshot is fine.
	ok, err = m.AcquireOwnership(newer, loc)
	require.Nil(t, err)
	assert.True(t, ok)
}

func TestNoDirtyRead(t *testing.T) {
	m, store := newTestManager(CommitPolicyBegin)
	loc := insertCommitted(t, m, store)

	writer := m.BeginTransaction()
	newLoc := update(t, m, store, writer, loc)

	reader := m.BeginTransaction()
	ok, err := m.PerformRead(reader, loc)
	require.Nil(t, err)
	assert.False(t, ok)
	ok, err = m.PerformRead(reader, newLoc)
	require.Nil(t, err)
	assert.False(t, ok)
	assert.False(t, visible(t, m, reader, newLoc))

	// The writer sees its own new version only.
	assert.False(t, visible(t, m, writer, loc))
	assert.True(t, visible(t, m, writer, newLoc))
	ok, err = m.PerformRead(writer, newLoc)
	require.Nil(t, err)
	assert.True(t, ok)
}

func TestAtMostOneOwner(t *testing.T) {
	m, store := newTestManager(CommitPolicyBegin)
	loc := insertCommitted(t, m, store)

	const n = 32
	txns := make([]*Transaction, n)
	for i := range txns {
		txns[i] = m.BeginTransaction()
	}

	var mu sync.Mutex
	winners := 0
	var g errgroup.Group
	for _, txn := range txns {
		txn := txn
		g.Go(func() error {
			ok, err := m.AcquireOwnership(txn, loc)
			if err != nil {
				return err
			}
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
			return nil
		})
	}
	require.Nil(t, g.Wait())
	assert.Equal(t, 1, winners)

	failed := 0
	for _, txn := range txns {
		if txn.Result() == ResultFailure {
			failed++
		}
		m.AbortTransaction(txn)
	}
	assert.Equal(t, n-1, failed)

	// The winner never performed an update; its abort gives the version back.
	ok, err := m.IsOwnable(loc)
	require.Nil(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, m.ActiveCount())
}

func TestChainContinuity(t *testing.T) {
	m, store := newTestManager(CommitPolicyFresh)
	oldLoc := insertCommitted(t, m, store)

	txn := m.BeginTransaction()
	newLoc := update(t, m, store, txn, oldLoc)
	require.Equal(t, ResultSuccess, m.CommitTransaction(txn))
	end := txn.EndCID()
	require.True(t, end > txn.BeginCID())

	oldMeta := loadMeta(t, store, oldLoc)
	newMeta := loadMeta(t, store, newLoc)
	assert.Equal(t, newLoc, oldMeta.Next)
	assert.Equal(t, oldLoc, newMeta.Prev)
	assert.Equal(t, end, oldMeta.EndTS)
	assert.Equal(t, end, newMeta.BeginTS)
	assert.Equal(t, tilegroup.InitialTxnID, oldMeta.TxnID)
	assert.Equal(t, tilegroup.InitialTxnID, newMeta.TxnID)

	for s := oldMeta.BeginTS; s < end+5; s++ {
		seesOld := IsVisible(oldMeta, 1000, s)
		seesNew := IsVisible(newMeta, 1000, s)
		assert.True(t, seesOld != seesNew, "snapshot %d", s)
		assert.Equal(t, s < end, seesOld, "snapshot %d", s)
	}
}

func metaAt(store *tilegroup.Manager, loc tilegroup.ItemPointer) tilegroup.TupleMeta {
	h, err := store.Locate(loc)
	if err != nil {
		panic(err)
	}
	return h.Load(loc.Offset)
}

// readChain reads the row whose oldest version is head the way an executor does: it walks to the
// first version visible to txn, reads it and checks it again. It returns whether the read went
// through and how many versions it could see, counting the one it read.
func readChain(m *Manager, store *tilegroup.Manager, txn *Transaction, head tilegroup.ItemPointer) (bool, int, error) {
	loc := head
	for ; !loc.IsNull(); loc = metaAt(store, loc).Next {
		if IsVisible(metaAt(store, loc), txn.ID(), txn.BeginCID()) {
			break
		}
	}
	if loc.IsNull() {
		return false, 0, nil
	}
	ok, err := m.PerformRead(txn, loc)
	if err != nil || !ok || !IsVisible(metaAt(store, loc), txn.ID(), txn.BeginCID()) {
		return false, 1, err
	}
	seen := 1
	for next := metaAt(store, loc).Next; !next.IsNull(); next = metaAt(store, next).Next {
		if IsVisible(metaAt(store, next), txn.ID(), txn.BeginCID()) {
			seen++
		}
	}
	return true, seen, nil
}

func TestChainReadDuringCommit(t *testing.T) {
	for _, policy := range []CommitPolicy{CommitPolicyBegin, CommitPolicyFresh} {
		m, store := newTestManager(policy)
		head := insertCommitted(t, m, store)

		const rounds, readers = 100, 4
		done := make(chan struct{})
		var g errgroup.Group
		g.Go(func() error {
			defer close(done)
			tail := head
			for i := 0; i < rounds; {
				txn := m.BeginTransaction()
				ok, err := m.AcquireOwnership(txn, tail)
				if err != nil {
					return err
				}
				if !ok {
					// A reader with a later snapshot got there first.
					m.AbortTransaction(txn)
					continue
				}
				newLoc := store.AllocateSlot()
				if err := m.PerformUpdate(txn, tail, newLoc); err != nil {
					return err
				}
				if r := m.CommitTransaction(txn); r != ResultSuccess {
					return errors.Errorf("round %d: commit %s", i, r)
				}
				tail = newLoc
				i++
			}
			return nil
		})
		var reads, refused atomic.Int64
		for i := 0; i < readers; i++ {
			g.Go(func() error {
				for {
					select {
					case <-done:
						return nil
					default:
					}
					txn := m.BeginTransaction()
					ok, seen, err := readChain(m, store, txn, head)
					m.CommitTransaction(txn)
					if err != nil {
						return err
					}
					if seen == 0 {
						return errors.Errorf("%s: row vanished at snapshot %d", policy, txn.BeginCID())
					}
					if !ok {
						refused.Inc()
						continue
					}
					reads.Inc()
					if seen != 1 {
						return errors.Errorf("%s: saw %d versions at snapshot %d", policy, seen, txn.BeginCID())
					}
				}
			})
		}
		require.Nil(t, g.Wait(), policy.String())
		t.Logf("%s: %d reads, %d refused", policy, reads.Load(), refused.Load())

		txn := m.BeginTransaction()
		ok, seen, err := readChain(m, store, txn, head)
		require.Nil(t, err)
		assert.True(t, ok, policy.String())
		assert.Equal(t, 1, seen, policy.String())
		m.CommitTransaction(txn)
	}
}

func TestUpdateAbortRestores(t *testing.T) {
	m, store := newTestManager(CommitPolicyBegin)
	oldLoc := insertCommitted(t, m, store)
	before := loadMeta(t, store, oldLoc)

	txn := m.BeginTransaction()
	newLoc := update(t, m, store, txn, oldLoc)
	require.Nil(t, m.PerformInPlaceUpdate(txn, newLoc))
	assert.Equal(t, ResultAborted, m.AbortTransaction(txn))

	assert.Equal(t, before, loadMeta(t, store, oldLoc))
	assert.Equal(t, tilegroup.FreshTupleMeta(), loadMeta(t, store, newLoc))
}

func TestDeleteCommit(t *testing.T) {
	m, store := newTestManager(CommitPolicyBegin)
	oldLoc := insertCommitted(t, m, store)
	snapshot := m.BeginTransaction()

	txn := m.BeginTransaction()
	ok, err := m.AcquireOwnership(txn, oldLoc)
	require.Nil(t, err)
	require.True(t, ok)
	tombLoc := store.AllocateSlot()
	require.Nil(t, m.PerformDelete(txn, oldLoc, tombLoc))
	assert.False(t, visible(t, m, txn, tombLoc))
	assert.False(t, visible(t, m, txn, oldLoc))
	require.Equal(t, ResultSuccess, m.CommitTransaction(txn))

	tomb := loadMeta(t, store, tombLoc)
	assert.Equal(t, tilegroup.InvalidTxnID, tomb.TxnID)
	assert.Equal(t, txn.EndCID(), tomb.BeginTS)
	assert.Equal(t, tilegroup.InvalidCID, tomb.EndTS)
	old := loadMeta(t, store, oldLoc)
	assert.Equal(t, tilegroup.InitialTxnID, old.TxnID)
	assert.Equal(t, txn.EndCID(), old.EndTS)

	// The snapshot taken before the delete still sees the row.
	assert.True(t, visible(t, m, snapshot, oldLoc))
	later := m.BeginTransaction()
	assert.False(t, visible(t, m, later, oldLoc))
	assert.False(t, visible(t, m, later, tombLoc))
	ok, err = m.IsOwnable(oldLoc)
	require.Nil(t, err)
	assert.False(t, ok)
}

func TestDeleteAbortRestores(t *testing.T) {
	m, store := newTestManager(CommitPolicyBegin)
	oldLoc := insertCommitted(t, m, store)
	before := loadMeta(t, store, oldLoc)

	txn := m.BeginTransaction()
	ok, err := m.AcquireOwnership(txn, oldLoc)
	require.Nil(t, err)
	require.True(t, ok)
	tombLoc := store.AllocateSlot()
	require.Nil(t, m.PerformDelete(txn, oldLoc, tombLoc))
	assert.Equal(t, ResultAborted, m.AbortTransaction(txn))

	assert.Equal(t, before, loadMeta(t, store, oldLoc))
	assert.Equal(t, tilegroup.FreshTupleMeta(), loadMeta(t, store, tombLoc))
}

func TestInsertThenDelete(t *testing.T) {
	m, store := newTestManager(CommitPolicyBegin)
	txn := m.BeginTransaction()
	loc := store.AllocateSlot()
	require.Nil(t, m.PerformInsert(txn, loc))
	require.Nil(t, m.PerformInPlaceUpdate(txn, loc))
	require.Nil(t, m.PerformInPlaceDelete(txn, loc))

	rw, _ := txn.RWType(loc)
	assert.Equal(t, RWInsDel, rw)
	assert.False(t, visible(t, m, txn, loc))

	require.Equal(t, ResultSuccess, m.CommitTransaction(txn))
	assert.Equal(t, tilegroup.FreshTupleMeta(), loadMeta(t, store, loc))
}

func TestUpdateThenDeleteInPlace(t *testing.T) {
	m, store := newTestManager(CommitPolicyBegin)
	oldLoc := insertCommitted(t, m, store)

	txn := m.BeginTransaction()
	newLoc := update(t, m, store, txn, oldLoc)
	require.Nil(t, m.PerformInPlaceDelete(txn, newLoc))
	rw, _ := txn.RWType(oldLoc)
	assert.Equal(t, RWDelete, rw)

	// A tombstone can not be updated in place.
	err := m.PerformInPlaceUpdate(txn, newLoc)
	assert.Equal(t, ErrSlotState, errors.Cause(err))

	require.Equal(t, ResultSuccess, m.CommitTransaction(txn))
	tomb := loadMeta(t, store, newLoc)
	assert.Equal(t, tilegroup.InvalidTxnID, tomb.TxnID)
	assert.Equal(t, tilegroup.InvalidCID, tomb.EndTS)
	assert.Equal(t, txn.EndCID(), loadMeta(t, store, oldLoc).EndTS)
}

func TestPerformUpdateRequiresOwnership(t *testing.T) {
	m, store := newTestManager(CommitPolicyBegin)
	oldLoc := insertCommitted(t, m, store)

	txn := m.BeginTransaction()
	err := m.PerformUpdate(txn, oldLoc, store.AllocateSlot())
	assert.Equal(t, ErrSlotState, errors.Cause(err))
	assert.True(t, txn.IsReadOnly())
}

func TestAcquireSuperseded(t *testing.T) {
	m, store := newTestManager(CommitPolicyFresh)
	oldLoc := insertCommitted(t, m, store)

	txn := m.BeginTransaction()
	update(t, m, store, txn, oldLoc)
	require.Equal(t, ResultSuccess, m.CommitTransaction(txn))

	// The old version is committed and unowned but no longer the current one.
	late := m.BeginTransaction()
	ok, err := m.AcquireOwnership(late, oldLoc)
	require.Nil(t, err)
	assert.False(t, ok)
	assert.Equal(t, ResultFailure, late.Result())
	assert.Equal(t, tilegroup.InitialTxnID, loadMeta(t, store, oldLoc).TxnID)
}

func TestFreshCommitValidatesReads(t *testing.T) {
	m, store := newTestManager(CommitPolicyFresh)
	x := insertCommitted(t, m, store)
	y := insertCommitted(t, m, store)

	txn := m.BeginTransaction()
	ok, err := m.PerformRead(txn, y)
	require.Nil(t, err)
	require.True(t, ok)
	update(t, m, store, txn, x)

	// y is superseded before txn draws its end commit id.
	writer := m.BeginTransaction()
	newY := update(t, m, store, writer, y)
	require.Equal(t, ResultSuccess, m.CommitTransaction(writer))

	assert.Equal(t, ResultAborted, m.CommitTransaction(txn))
	meta := loadMeta(t, store, x)
	assert.Equal(t, tilegroup.InitialTxnID, meta.TxnID)
	assert.Equal(t, tilegroup.MaxCID, meta.EndTS)

	// A read version the transaction owns itself passes.
	txn = m.BeginTransaction()
	ok, err = m.PerformRead(txn, newY)
	require.Nil(t, err)
	require.True(t, ok)
	ok, err = m.AcquireOwnership(txn, newY)
	require.Nil(t, err)
	require.True(t, ok)
	update(t, m, store, txn, x)
	assert.Equal(t, ResultSuccess, m.CommitTransaction(txn))
	assert.True(t, txn.EndCID() > txn.BeginCID())
	assert.Equal(t, tilegroup.InitialTxnID, loadMeta(t, store, newY).TxnID)
}

func TestFailureRedirectsToAbort(t *testing.T) {
	m, store := newTestManager(CommitPolicyBegin)
	loc := store.AllocateSlot()

	txn := m.BeginTransaction()
	require.Nil(t, m.PerformInsert(txn, loc))
	txn.SetResult(ResultFailure)
	txn.SetResult(ResultSuccess)
	assert.Equal(t, ResultAborted, m.CommitTransaction(txn))
	assert.Equal(t, TxnAborted, txn.State())
	assert.Equal(t, tilegroup.FreshTupleMeta(), loadMeta(t, store, loc))
}

func TestFinishedTransaction(t *testing.T) {
	m, store := newTestManager(CommitPolicyBegin)
	loc := insertCommitted(t, m, store)

	txn := m.BeginTransaction()
	assert.Equal(t, ResultSuccess, m.CommitTransaction(txn))
	assert.Equal(t, ResultSuccess, m.CommitTransaction(txn))
	assert.Equal(t, ResultSuccess, m.AbortTransaction(txn))

	_, err := m.PerformRead(txn, loc)
	assert.Equal(t, ErrTxnFinished, errors.Cause(err))
	_, err = m.AcquireOwnership(txn, loc)
	assert.Equal(t, ErrTxnFinished, errors.Cause(err))
	err = m.PerformInsert(txn, store.AllocateSlot())
	assert.Equal(t, ErrTxnFinished, errors.Cause(err))

	aborted := m.BeginTransaction()
	assert.Equal(t, ResultAborted, m.AbortTransaction(aborted))
	assert.Equal(t, ResultAborted, m.CommitTransaction(aborted))
}

func TestAcquiredWithoutUpdateIsReleased(t *testing.T) {
	m, store := newTestManager(CommitPolicyBegin)
	loc := insertCommitted(t, m, store)

	txn := m.BeginTransaction()
	ok, err := m.AcquireOwnership(txn, loc)
	require.Nil(t, err)
	require.True(t, ok)
	assert.Equal(t, ResultSuccess, m.CommitTransaction(txn))

	meta := loadMeta(t, store, loc)
	assert.Equal(t, tilegroup.InitialTxnID, meta.TxnID)
	assert.Equal(t, tilegroup.MaxCID, meta.EndTS)
}

func TestWatermark(t *testing.T) {
	m, _ := newTestManager(CommitPolicyBegin)
	assert.Equal(t, tilegroup.MaxCID, m.MinActiveBeginCID())

	t1 := m.BeginTransaction()
	t2 := m.BeginTransaction()
	t3 := m.BeginTransaction()
	assert.Equal(t, 3, m.ActiveCount())
	assert.Equal(t, t1.BeginCID(), m.MinActiveBeginCID())

	m.CommitTransaction(t1)
	assert.Equal(t, t2.BeginCID(), m.MinActiveBeginCID())
	m.AbortTransaction(t3)
	assert.Equal(t, t2.BeginCID(), m.MinActiveBeginCID())
	m.CommitTransaction(t2)
	assert.Equal(t, tilegroup.MaxCID, m.MinActiveBeginCID())
	assert.Equal(t, 0, m.ActiveCount())
}

func TestEndToEndScenario(t *testing.T) {
	source := newScriptedSource(
		100, 100, // t1 begins and commits
		150,      // t2
		120,      // t3
		170, 175, // t3' begins and commits
		160,      // t4
		200,      // t5
	)
	store := tilegroup.NewManager(4)
	m := NewManager(store, source, CommitPolicyFresh)

	t1 := m.BeginTransaction()
	first := store.AllocateSlot()
	require.Equal(t, tilegroup.ItemPointer{Block: 0, Offset: 0}, first)
	require.Nil(t, m.PerformInsert(t1, first))
	require.Equal(t, ResultSuccess, m.CommitTransaction(t1))
	meta := loadMeta(t, store, first)
	assert.Equal(t, tilegroup.CID(100), meta.BeginTS)
	assert.Equal(t, tilegroup.MaxCID, meta.EndTS)
	assert.Equal(t, tilegroup.InitialTxnID, meta.TxnID)

	t2 := m.BeginTransaction()
	assert.True(t, visible(t, m, t2, first))
	ok, err := m.PerformRead(t2, first)
	require.Nil(t, err)
	require.True(t, ok)

	// t3 began before t2 but wants to write what t2 already read.
	t3 := m.BeginTransaction()
	ok, err = m.AcquireOwnership(t3, first)
	require.Nil(t, err)
	assert.False(t, ok)
	assert.Equal(t, ResultAborted, m.AbortTransaction(t3))
	assert.Equal(t, ResultSuccess, m.CommitTransaction(t2))

	t3 = m.BeginTransaction()
	second := update(t, m, store, t3, first)
	require.Equal(t, tilegroup.ItemPointer{Block: 0, Offset: 1}, second)
	require.Equal(t, ResultSuccess, m.CommitTransaction(t3))
	assert.Equal(t, tilegroup.CID(175), t3.EndCID())

	t4 := m.BeginTransaction()
	assert.True(t, visible(t, m, t4, first))
	assert.False(t, visible(t, m, t4, second))

	t5 := m.BeginTransaction()
	assert.True(t, visible(t, m, t5, second))
	assert.False(t, visible(t, m, t5, first))
}
