package concurrency

import (
	"github.com/pingcap-incubator/tinytxn/kv/storage/tilegroup"
	"github.com/pingcap/errors"
)

func isFresh(meta tilegroup.TupleMeta) bool {
	return meta.TxnID == tilegroup.InvalidTxnID &&
		meta.BeginTS == tilegroup.MaxCID &&
		meta.EndTS == tilegroup.MaxCID
}

func slotStateError(loc tilegroup.ItemPointer, meta tilegroup.TupleMeta, want string) error {
	return errors.Annotatef(ErrSlotState, "%s is %s, want %s", loc, meta, want)
}

// PerformInsert makes txn the owner of the freshly allocated slot at loc.
func (m *Manager) PerformInsert(txn *Transaction, loc tilegroup.ItemPointer) error {
	if err := m.checkActive(txn); err != nil {
		return err
	}
	h, err := m.catalog.Locate(loc)
	if err != nil {
		return err
	}
	if meta := h.Load(loc.Offset); !isFresh(meta) {
		return slotStateError(loc, meta, "a fresh slot")
	}
	if err := txn.checkRecord(loc, RWInsert); err != nil {
		return err
	}
	if !h.CompareAndSwapTransactionID(loc.Offset, tilegroup.InvalidTxnID, txn.id) {
		return slotStateError(loc, h.Load(loc.Offset), "a fresh slot")
	}
	return txn.RecordInsert(loc)
}

// PerformRead registers a read of the version at loc. It returns false when another transaction
// is writing the version; the reader has to abort, since uncommitted data is never read.
func (m *Manager) PerformRead(txn *Transaction, loc tilegroup.ItemPointer) (bool, error) {
	if err := m.checkActive(txn); err != nil {
		return false, err
	}
	h, err := m.catalog.Locate(loc)
	if err != nil {
		return false, err
	}

	owner := h.GetTransactionID(loc.Offset)
	if owner == txn.id {
		return true, nil
	}
	if owner != tilegroup.InitialTxnID {
		m.reject(txn, loc, "dirty_read")
		return false, nil
	}

	h.RaiseLastReaderCommitID(loc.Offset, txn.beginCID)
	// A writer that took the slot before the raise did not see our timestamp.
	if h.GetTransactionID(loc.Offset) != tilegroup.InitialTxnID {
		m.reject(txn, loc, "dirty_read")
		return false, nil
	}
	if err := txn.RecordRead(loc); err != nil {
		return false, err
	}
	return true, nil
}

// link installs newLoc as the uncommitted successor of oldLoc, owned by txn.
func (m *Manager) link(txn *Transaction, oldLoc, newLoc tilegroup.ItemPointer, op RWType) (*tilegroup.Header, error) {
	if err := m.checkActive(txn); err != nil {
		return nil, err
	}
	oldHeader, err := m.catalog.Locate(oldLoc)
	if err != nil {
		return nil, err
	}
	newHeader, err := m.catalog.Locate(newLoc)
	if err != nil {
		return nil, err
	}
	if meta := oldHeader.Load(oldLoc.Offset); meta.TxnID != txn.id {
		return nil, slotStateError(oldLoc, meta, "owned by txn "+txn.id.String())
	}
	if meta := newHeader.Load(newLoc.Offset); !isFresh(meta) {
		return nil, slotStateError(newLoc, meta, "a fresh slot")
	}
	if err := txn.checkRecord(oldLoc, op); err != nil {
		return nil, err
	}
	if !newHeader.CompareAndSwapTransactionID(newLoc.Offset, tilegroup.InvalidTxnID, txn.id) {
		return nil, slotStateError(newLoc, newHeader.Load(newLoc.Offset), "a fresh slot")
	}
	newHeader.SetPrevItemPointer(newLoc.Offset, oldLoc)
	oldHeader.SetNextItemPointer(oldLoc.Offset, newLoc)
	return newHeader, nil
}

// PerformUpdate chains the fresh slot newLoc after oldLoc, which txn must own. The old location
// is what the read/write set tracks.
func (m *Manager) PerformUpdate(txn *Transaction, oldLoc, newLoc tilegroup.ItemPointer) error {
	if _, err := m.link(txn, oldLoc, newLoc, RWUpdate); err != nil {
		return err
	}
	return txn.RecordUpdate(oldLoc)
}

// PerformDelete is PerformUpdate with a tombstone as the new version.
func (m *Manager) PerformDelete(txn *Transaction, oldLoc, newLoc tilegroup.ItemPointer) error {
	newHeader, err := m.link(txn, oldLoc, newLoc, RWDelete)
	if err != nil {
		return err
	}
	newHeader.SetEndCommitID(newLoc.Offset, tilegroup.InvalidCID)
	return txn.RecordDelete(oldLoc)
}

// ownVersion checks that loc is an uncommitted version created by txn.
func (m *Manager) ownVersion(txn *Transaction, loc tilegroup.ItemPointer, needLive bool) (*tilegroup.Header, tilegroup.TupleMeta, error) {
	if err := m.checkActive(txn); err != nil {
		return nil, tilegroup.TupleMeta{}, err
	}
	h, err := m.catalog.Locate(loc)
	if err != nil {
		return nil, tilegroup.TupleMeta{}, err
	}
	meta := h.Load(loc.Offset)
	if meta.TxnID != txn.id || meta.BeginTS != tilegroup.MaxCID || (needLive && meta.EndTS != tilegroup.MaxCID) {
		return nil, meta, slotStateError(loc, meta, "an uncommitted version of txn "+txn.id.String())
	}
	return h, meta, nil
}

// PerformInPlaceUpdate is the update of a version txn created itself. The metadata stays as it
// is; the version it superseded, if any, is recorded so commit and abort find the whole chain.
func (m *Manager) PerformInPlaceUpdate(txn *Transaction, loc tilegroup.ItemPointer) error {
	_, meta, err := m.ownVersion(txn, loc, true)
	if err != nil {
		return err
	}
	if meta.Prev.IsNull() {
		return nil
	}
	return txn.RecordUpdate(meta.Prev)
}

// PerformInPlaceDelete turns a version txn created into a tombstone. A version txn inserted
// collapses to RWInsDel.
func (m *Manager) PerformInPlaceDelete(txn *Transaction, loc tilegroup.ItemPointer) error {
	h, meta, err := m.ownVersion(txn, loc, false)
	if err != nil {
		return err
	}
	target := loc
	if !meta.Prev.IsNull() {
		target = meta.Prev
	}
	if err := txn.checkRecord(target, RWDelete); err != nil {
		return err
	}
	h.SetEndCommitID(loc.Offset, tilegroup.InvalidCID)
	return txn.RecordDelete(target)
}
