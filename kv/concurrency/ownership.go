package concurrency

import (
	"github.com/pingcap-incubator/tinytxn/kv/storage/tilegroup"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

func (m *Manager) checkActive(txn *Transaction) error {
	if txn.IsFinished() {
		return errors.Annotatef(ErrTxnFinished, "txn %s is %s", txn.id, txn.state)
	}
	return nil
}

// AcquireOwnership takes exclusive write access to the committed version at loc.
//
// It fails without side effects when a transaction with a later snapshot has already read the
// version. It fails and marks txn ResultFailure when another transaction owns the slot, or when
// the version turns out to be superseded. The owner field is only ever changed by CAS.
func (m *Manager) AcquireOwnership(txn *Transaction, loc tilegroup.ItemPointer) (bool, error) {
	if err := m.checkActive(txn); err != nil {
		return false, err
	}
	h, err := m.catalog.Locate(loc)
	if err != nil {
		return false, err
	}

	if h.GetLastReaderCommitID(loc.Offset) > txn.beginCID {
		m.reject(txn, loc, "stale_write")
		return false, nil
	}
	if !h.SetAtomicTransactionID(loc.Offset, txn.id) {
		txn.SetResult(ResultFailure)
		m.reject(txn, loc, "ownership")
		return false, nil
	}

	// A reader may have passed its owner check before our CAS and raised the read timestamp
	// after our first look at it. A committer may have closed the version in between too.
	if h.GetLastReaderCommitID(loc.Offset) > txn.beginCID {
		m.yield(txn, h, loc)
		m.reject(txn, loc, "reader_race")
		return false, nil
	}
	if h.GetEndCommitID(loc.Offset) != tilegroup.MaxCID {
		m.yield(txn, h, loc)
		txn.SetResult(ResultFailure)
		m.reject(txn, loc, "superseded")
		return false, nil
	}

	txn.acquired[loc] = struct{}{}
	return true, nil
}

// yield hands a slot taken by AcquireOwnership back to the committed state.
func (m *Manager) yield(txn *Transaction, h *tilegroup.Header, loc tilegroup.ItemPointer) {
	if !h.CompareAndSwapTransactionID(loc.Offset, txn.id, tilegroup.InitialTxnID) {
		log.Warn("yield ownership of a slot not owned",
			zap.Uint64("txn-id", uint64(txn.id)),
			zap.Stringer("location", loc),
			zap.Stringer("owner", h.GetTransactionID(loc.Offset)))
	}
	delete(txn.acquired, loc)
}

func (m *Manager) reject(txn *Transaction, loc tilegroup.ItemPointer, reason string) {
	conflictCounter.WithLabelValues(reason).Inc()
	log.Debug("protocol rejection",
		zap.String("reason", reason),
		zap.Uint64("txn-id", uint64(txn.id)),
		zap.Uint64("begin-cid", uint64(txn.beginCID)),
		zap.Stringer("location", loc))
}
