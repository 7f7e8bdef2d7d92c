package concurrency

import (
	"github.com/pingcap-incubator/tinytxn/kv/storage/tilegroup"
)

// IsVisible decides whether the version described by meta is visible to a transaction with the
// given id and snapshot. It depends on nothing but its arguments.
//
// A transaction sees exactly one of the versions it owns: the one it created, unless that one is
// a tombstone. An uncommitted version of another transaction is never visible. Everything else
// is visible when the snapshot falls in [begin, end).
func IsVisible(meta tilegroup.TupleMeta, id tilegroup.TxnID, beginCID tilegroup.CID) bool {
	if meta.TxnID == tilegroup.InvalidTxnID {
		return false
	}
	if meta.TxnID == id {
		return meta.BeginTS == tilegroup.MaxCID && meta.EndTS != tilegroup.InvalidCID
	}
	if meta.TxnID != tilegroup.InitialTxnID && meta.BeginTS == tilegroup.MaxCID {
		return false
	}
	activated := beginCID >= meta.BeginTS
	invalidated := beginCID >= meta.EndTS
	return activated && !invalidated
}

// IsOwner reports whether id holds the slot described by meta.
func IsOwner(meta tilegroup.TupleMeta, id tilegroup.TxnID) bool {
	return meta.TxnID == id
}

// IsOwnable reports whether the version is committed, not being written and not superseded.
func IsOwnable(meta tilegroup.TupleMeta) bool {
	return meta.TxnID == tilegroup.InitialTxnID && meta.EndTS == tilegroup.MaxCID
}

// IsVisible loads the header of loc and checks it against txn.
func (m *Manager) IsVisible(txn *Transaction, loc tilegroup.ItemPointer) (bool, error) {
	h, err := m.catalog.Locate(loc)
	if err != nil {
		return false, err
	}
	return IsVisible(h.Load(loc.Offset), txn.id, txn.beginCID), nil
}

func (m *Manager) IsOwner(txn *Transaction, loc tilegroup.ItemPointer) (bool, error) {
	h, err := m.catalog.Locate(loc)
	if err != nil {
		return false, err
	}
	return h.GetTransactionID(loc.Offset) == txn.id, nil
}

func (m *Manager) IsOwnable(loc tilegroup.ItemPointer) (bool, error) {
	h, err := m.catalog.Locate(loc)
	if err != nil {
		return false, err
	}
	return IsOwnable(h.Load(loc.Offset)), nil
}
