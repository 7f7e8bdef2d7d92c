package tilegroup

import (
	"fmt"

	"go.uber.org/atomic"
)

// TupleHeader is the MVCC metadata of one tuple slot.
//
//  txnID:  owner of the version; InvalidTxnID when empty or dead, InitialTxnID when committed and
//          not being written, otherwise the id of the writing transaction.
//  readTS: the highest begin timestamp of any transaction that read the version.
//  beginTS, endTS: the visibility interval [beginTS, endTS) of the version.
//  next:   the newer version in the chain.
//  prev:   the older version in the chain.
//
// States:
//  txnID == InvalidTxnID, beginTS == MaxCID, endTS == MaxCID    --> empty slot
//  txnID != InitialTxnID, beginTS != MaxCID                     --> old version being updated
//  txnID != InitialTxnID, beginTS == MaxCID, endTS == MaxCID    --> new version to be installed
//  txnID != InitialTxnID, beginTS == MaxCID, endTS == InvalidCID --> tombstone to be installed
//
// Every field is accessed atomically. Go atomics are sequentially consistent, so the order in
// which a writer stores fields is the order in which concurrent readers can observe them.
type TupleHeader struct {
	txnID   atomic.Uint64
	readTS  atomic.Uint64
	beginTS atomic.Uint64
	endTS   atomic.Uint64
	next    atomic.Uint64
	prev    atomic.Uint64
}

// TupleMeta is a copy of a TupleHeader. The fields are loaded one at a time, so a TupleMeta of a
// slot under concurrent modification is not a consistent snapshot.
type TupleMeta struct {
	TxnID   TxnID
	ReadTS  CID
	BeginTS CID
	EndTS   CID
	Next    ItemPointer
	Prev    ItemPointer
}

// FreshTupleMeta returns the metadata of a slot that was never written.
func FreshTupleMeta() TupleMeta {
	return TupleMeta{
		TxnID:   InvalidTxnID,
		ReadTS:  InvalidCID,
		BeginTS: MaxCID,
		EndTS:   MaxCID,
		Next:    InvalidItemPointer,
		Prev:    InvalidItemPointer,
	}
}

func (m TupleMeta) String() string {
	return fmt.Sprintf("{txn: %s, read: %s, begin: %s, end: %s, next: %s, prev: %s}",
		m.TxnID, m.ReadTS, m.BeginTS, m.EndTS, m.Next, m.Prev)
}

// Header holds the tuple headers of a tile group. It is shared by all transactions; the
// concurrency protocol decides who may write which field.
type Header struct {
	tuples []TupleHeader
}

// NewHeader creates a header with capacity fresh slots.
func NewHeader(capacity int) *Header {
	h := &Header{tuples: make([]TupleHeader, capacity)}
	for i := range h.tuples {
		h.Reset(uint32(i))
	}
	return h
}

// Capacity returns the number of slots.
func (h *Header) Capacity() int {
	return len(h.tuples)
}

// Reset returns a slot to the never-written state.
func (h *Header) Reset(offset uint32) {
	t := &h.tuples[offset]
	t.beginTS.Store(uint64(MaxCID))
	t.endTS.Store(uint64(MaxCID))
	t.readTS.Store(uint64(InvalidCID))
	t.next.Store(InvalidItemPointer.pack())
	t.prev.Store(InvalidItemPointer.pack())
	t.txnID.Store(uint64(InvalidTxnID))
}

// Load copies the metadata of a slot. The owner is loaded first.
func (h *Header) Load(offset uint32) TupleMeta {
	t := &h.tuples[offset]
	return TupleMeta{
		TxnID:   TxnID(t.txnID.Load()),
		BeginTS: CID(t.beginTS.Load()),
		EndTS:   CID(t.endTS.Load()),
		ReadTS:  CID(t.readTS.Load()),
		Next:    unpackItemPointer(t.next.Load()),
		Prev:    unpackItemPointer(t.prev.Load()),
	}
}

func (h *Header) GetTransactionID(offset uint32) TxnID {
	return TxnID(h.tuples[offset].txnID.Load())
}

func (h *Header) GetLastReaderCommitID(offset uint32) CID {
	return CID(h.tuples[offset].readTS.Load())
}

func (h *Header) GetBeginCommitID(offset uint32) CID {
	return CID(h.tuples[offset].beginTS.Load())
}

func (h *Header) GetEndCommitID(offset uint32) CID {
	return CID(h.tuples[offset].endTS.Load())
}

func (h *Header) GetNextItemPointer(offset uint32) ItemPointer {
	return unpackItemPointer(h.tuples[offset].next.Load())
}

func (h *Header) GetPrevItemPointer(offset uint32) ItemPointer {
	return unpackItemPointer(h.tuples[offset].prev.Load())
}

func (h *Header) SetTransactionID(offset uint32, id TxnID) {
	h.tuples[offset].txnID.Store(uint64(id))
}

func (h *Header) SetBeginCommitID(offset uint32, cid CID) {
	h.tuples[offset].beginTS.Store(uint64(cid))
}

func (h *Header) SetEndCommitID(offset uint32, cid CID) {
	h.tuples[offset].endTS.Store(uint64(cid))
}

func (h *Header) SetNextItemPointer(offset uint32, p ItemPointer) {
	h.tuples[offset].next.Store(p.pack())
}

func (h *Header) SetPrevItemPointer(offset uint32, p ItemPointer) {
	h.tuples[offset].prev.Store(p.pack())
}

// SetAtomicTransactionID claims a committed version for id. It fails unless the current owner
// is InitialTxnID.
func (h *Header) SetAtomicTransactionID(offset uint32, id TxnID) bool {
	return h.CompareAndSwapTransactionID(offset, InitialTxnID, id)
}

// CompareAndSwapTransactionID replaces the owner of a slot if it is still old.
func (h *Header) CompareAndSwapTransactionID(offset uint32, old, id TxnID) bool {
	return h.tuples[offset].txnID.CAS(uint64(old), uint64(id))
}

// RaiseLastReaderCommitID sets the last reader timestamp to cid unless it is already higher.
// It returns the resulting value. The timestamp never decreases.
func (h *Header) RaiseLastReaderCommitID(offset uint32, cid CID) CID {
	t := &h.tuples[offset]
	for {
		cur := t.readTS.Load()
		if cur >= uint64(cid) {
			return CID(cur)
		}
		if t.readTS.CAS(cur, uint64(cid)) {
			return cid
		}
	}
}
