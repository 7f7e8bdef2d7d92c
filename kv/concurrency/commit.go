package concurrency

import (
	"github.com/pingcap-incubator/tinytxn/kv/storage/tilegroup"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// CommitTransaction publishes the writes of txn. A transaction marked ResultFailure is aborted
// instead. Calling it on a finished transaction returns the result it finished with. Under
// CommitPolicyFresh the versions txn read must still be current at the new end commit id,
// otherwise txn is aborted.
//
// For every superseded version the new version's interval is stored first, then the old
// version's end, then the owner fields. A concurrent reader therefore never finds both versions
// missing, and a reader walking the chain from the old end stops at exactly one of them.
func (m *Manager) CommitTransaction(txn *Transaction) Result {
	if txn.IsFinished() {
		return txn.result
	}
	if txn.result == ResultFailure {
		return m.AbortTransaction(txn)
	}

	txn.state = TxnCommitting
	if txn.IsReadOnly() {
		result := txn.result
		m.endTransaction(txn, TxnCommitted, "commit_readonly")
		return result
	}

	endCID := txn.beginCID
	if m.policy == CommitPolicyFresh {
		endCID = m.source.NextCommitID()
		if loc, ok := m.validateReads(txn, endCID); !ok {
			m.reject(txn, loc, "read_validation")
			txn.SetResult(ResultFailure)
			return m.AbortTransaction(txn)
		}
	}
	txn.endCID = endCID

	for _, e := range txn.WriteSet() {
		h := m.mustLocate(e.Location)
		offset := e.Location.Offset
		switch e.Type {
		case RWUpdate, RWDelete:
			newLoc := h.GetNextItemPointer(offset)
			newHeader := m.mustLocate(newLoc)
			newHeader.SetBeginCommitID(newLoc.Offset, endCID)
			if e.Type == RWUpdate {
				newHeader.SetEndCommitID(newLoc.Offset, tilegroup.MaxCID)
			}

			h.SetEndCommitID(offset, endCID)

			if e.Type == RWUpdate {
				newHeader.SetTransactionID(newLoc.Offset, tilegroup.InitialTxnID)
			} else {
				newHeader.SetTransactionID(newLoc.Offset, tilegroup.InvalidTxnID)
			}
			h.SetTransactionID(offset, tilegroup.InitialTxnID)
		case RWInsert:
			h.SetBeginCommitID(offset, endCID)
			h.SetEndCommitID(offset, tilegroup.MaxCID)

			h.SetTransactionID(offset, tilegroup.InitialTxnID)
		case RWInsDel:
			h.SetBeginCommitID(offset, tilegroup.MaxCID)
			h.SetEndCommitID(offset, tilegroup.MaxCID)

			h.SetTransactionID(offset, tilegroup.InvalidTxnID)
		}
	}

	result := txn.result
	m.endTransaction(txn, TxnCommitted, "commit")
	return result
}

// validateReads checks that every version txn only read is still the current committed one at
// endCID. A fresh end commit id orders txn after transactions that began later than it, so a
// version superseded in between must fail the commit. On failure it returns the stale location.
func (m *Manager) validateReads(txn *Transaction, endCID tilegroup.CID) (tilegroup.ItemPointer, bool) {
	for _, e := range txn.ReadWriteSet() {
		if e.Type != RWRead {
			continue
		}
		meta := m.mustLocate(e.Location).Load(e.Location.Offset)
		if meta.TxnID == txn.id {
			continue
		}
		if meta.TxnID != tilegroup.InitialTxnID || meta.BeginTS > endCID || meta.EndTS < endCID {
			return e.Location, false
		}
	}
	return tilegroup.ItemPointer{}, true
}

// AbortTransaction rolls back every write of txn so that other transactions see the versions as
// they were before it began. It always returns ResultAborted.
func (m *Manager) AbortTransaction(txn *Transaction) Result {
	if txn.IsFinished() {
		return txn.result
	}
	txn.state = TxnAborting

	for _, e := range txn.WriteSet() {
		h := m.mustLocate(e.Location)
		offset := e.Location.Offset
		switch e.Type {
		case RWUpdate, RWDelete:
			newLoc := h.GetNextItemPointer(offset)
			newHeader := m.mustLocate(newLoc)
			newHeader.SetBeginCommitID(newLoc.Offset, tilegroup.MaxCID)
			newHeader.SetEndCommitID(newLoc.Offset, tilegroup.MaxCID)

			newHeader.SetTransactionID(newLoc.Offset, tilegroup.InvalidTxnID)

			h.SetNextItemPointer(offset, tilegroup.InvalidItemPointer)
			newHeader.SetPrevItemPointer(newLoc.Offset, tilegroup.InvalidItemPointer)

			h.SetEndCommitID(offset, tilegroup.MaxCID)

			h.SetTransactionID(offset, tilegroup.InitialTxnID)
		case RWInsert, RWInsDel:
			h.SetBeginCommitID(offset, tilegroup.MaxCID)
			h.SetEndCommitID(offset, tilegroup.MaxCID)

			h.SetTransactionID(offset, tilegroup.InvalidTxnID)
		}
	}

	txn.result = ResultAborted
	m.endTransaction(txn, TxnAborted, "abort")
	return ResultAborted
}

// endTransaction releases whatever txn still holds and retires it.
func (m *Manager) endTransaction(txn *Transaction, state TxnState, event string) {
	for loc := range txn.acquired {
		if t, ok := txn.RWType(loc); ok && (t == RWUpdate || t == RWDelete) {
			continue
		}
		// Ownership was taken but no update or delete followed.
		m.yield(txn, m.mustLocate(loc), loc)
	}
	txn.acquired = make(map[tilegroup.ItemPointer]struct{})
	txn.rwSet = make(map[uint32]map[uint32]RWType)
	txn.state = state
	m.active.done(txn.beginCID)

	txnCounter.WithLabelValues(event).Inc()
	activeGauge.Dec()
	log.Debug("end transaction",
		zap.String("event", event),
		zap.Uint64("txn-id", uint64(txn.id)),
		zap.Uint64("begin-cid", uint64(txn.beginCID)),
		zap.Stringer("end-cid", txn.endCID))
}
