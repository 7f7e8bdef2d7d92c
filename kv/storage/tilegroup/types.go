package tilegroup

import (
	"fmt"
	"math"
)

// TxnID identifies a transaction. Two values are reserved, see InvalidTxnID and InitialTxnID.
type TxnID uint64

// CID is a commit timestamp. Begin timestamps of transactions are drawn from the same domain.
type CID uint64

const (
	// InvalidTxnID is the owner of a slot which holds no live version: it was never written, its
	// insert was aborted, or it is a committed tombstone.
	InvalidTxnID TxnID = 0
	// InitialTxnID is the owner of a committed version that no transaction is currently writing.
	InitialTxnID TxnID = 1

	// InvalidCID marks the end timestamp of a tombstone. No transaction begins at InvalidCID, so a
	// tombstone is invalidated for every reader.
	InvalidCID CID = 0
	// MaxCID is the open end of a visibility interval, and the begin timestamp of a version that
	// has not been committed.
	MaxCID CID = math.MaxUint64

	// InvalidOID is an unused tile group id or offset.
	InvalidOID uint32 = math.MaxUint32
)

// ItemPointer addresses a tuple slot: Block is the tile group id, Offset the slot inside it.
// Item pointers are opaque handles; the storage layer owns the slots they refer to.
type ItemPointer struct {
	Block  uint32
	Offset uint32
}

// InvalidItemPointer terminates a version chain.
var InvalidItemPointer = ItemPointer{Block: InvalidOID, Offset: InvalidOID}

// IsNull reports whether p is InvalidItemPointer.
func (p ItemPointer) IsNull() bool {
	return p.Block == InvalidOID && p.Offset == InvalidOID
}

func (p ItemPointer) String() string {
	if p.IsNull() {
		return "(null)"
	}
	return fmt.Sprintf("(%d, %d)", p.Block, p.Offset)
}

// Less orders item pointers by tile group, then offset.
func (p ItemPointer) Less(o ItemPointer) bool {
	if p.Block != o.Block {
		return p.Block < o.Block
	}
	return p.Offset < o.Offset
}

func (p ItemPointer) pack() uint64 {
	return uint64(p.Block)<<32 | uint64(p.Offset)
}

func unpackItemPointer(v uint64) ItemPointer {
	return ItemPointer{Block: uint32(v >> 32), Offset: uint32(v)}
}

func (id TxnID) String() string {
	switch id {
	case InvalidTxnID:
		return "invalid"
	case InitialTxnID:
		return "initial"
	}
	return fmt.Sprintf("%d", uint64(id))
}

func (c CID) String() string {
	switch c {
	case InvalidCID:
		return "invalid"
	case MaxCID:
		return "max"
	}
	return fmt.Sprintf("%d", uint64(c))
}
