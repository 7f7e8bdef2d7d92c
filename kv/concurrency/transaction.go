package concurrency

import (
	"sort"

	"github.com/pingcap-incubator/tinytxn/kv/storage/tilegroup"
	"github.com/pingcap/errors"
)

// Transaction is the context of one transaction. It is used by a single goroutine; the only
// state it shares with other transactions is the tuple headers it points at.
type Transaction struct {
	id       tilegroup.TxnID
	beginCID tilegroup.CID
	endCID   tilegroup.CID

	// rwSet maps tile group id -> offset -> what this transaction did to the slot.
	rwSet   map[uint32]map[uint32]RWType
	written bool

	// acquired holds the slots whose ownership this transaction took with AcquireOwnership.
	acquired map[tilegroup.ItemPointer]struct{}

	result Result
	state  TxnState
}

func newTransaction(id tilegroup.TxnID, beginCID tilegroup.CID) *Transaction {
	return &Transaction{
		id:       id,
		beginCID: beginCID,
		endCID:   tilegroup.MaxCID,
		rwSet:    make(map[uint32]map[uint32]RWType),
		acquired: make(map[tilegroup.ItemPointer]struct{}),
		result:   ResultSuccess,
		state:    TxnActive,
	}
}

func (txn *Transaction) ID() tilegroup.TxnID {
	return txn.id
}

// BeginCID is the snapshot timestamp the transaction reads at.
func (txn *Transaction) BeginCID() tilegroup.CID {
	return txn.beginCID
}

// EndCID is the commit timestamp, or MaxCID until the transaction has committed a write.
func (txn *Transaction) EndCID() tilegroup.CID {
	return txn.endCID
}

func (txn *Transaction) Result() Result {
	return txn.result
}

// SetResult records the outcome of a step. Executors set ResultFailure when a protocol call
// rejects them, so that a later commit turns into an abort. Once set, ResultFailure is kept.
func (txn *Transaction) SetResult(r Result) {
	if txn.result == ResultFailure {
		return
	}
	txn.result = r
}

func (txn *Transaction) State() TxnState {
	return txn.state
}

// IsFinished reports whether the transaction has committed or aborted.
func (txn *Transaction) IsFinished() bool {
	return txn.state == TxnCommitted || txn.state == TxnAborted
}

// IsReadOnly reports whether no write was ever recorded.
func (txn *Transaction) IsReadOnly() bool {
	return !txn.written
}

// RWType returns what the transaction did to loc.
func (txn *Transaction) RWType(loc tilegroup.ItemPointer) (RWType, bool) {
	t, ok := txn.rwSet[loc.Block][loc.Offset]
	return t, ok
}

// nextRWType computes the entry after recording op on a slot whose current entry is cur.
func nextRWType(cur RWType, present bool, op RWType) (RWType, error) {
	switch op {
	case RWRead:
		if !present {
			return RWRead, nil
		}
		return cur, nil
	case RWUpdate:
		if !present || cur == RWRead || cur == RWUpdate {
			return RWUpdate, nil
		}
	case RWInsert:
		if !present {
			return RWInsert, nil
		}
	case RWDelete:
		if !present || cur == RWRead || cur == RWUpdate {
			return RWDelete, nil
		}
		if cur == RWInsert {
			return RWInsDel, nil
		}
	}
	if present {
		return cur, errors.Annotatef(ErrIllegalTransition, "%s after %s", op, cur)
	}
	return cur, errors.Annotatef(ErrIllegalTransition, "%s on empty entry", op)
}

func (txn *Transaction) checkRecord(loc tilegroup.ItemPointer, op RWType) error {
	cur, ok := txn.RWType(loc)
	_, err := nextRWType(cur, ok, op)
	if err != nil {
		return errors.Annotatef(err, "txn %s at %s", txn.id, loc)
	}
	return nil
}

func (txn *Transaction) record(loc tilegroup.ItemPointer, op RWType) error {
	offsets, ok := txn.rwSet[loc.Block]
	if !ok {
		offsets = make(map[uint32]RWType)
		txn.rwSet[loc.Block] = offsets
	}
	cur, present := offsets[loc.Offset]
	next, err := nextRWType(cur, present, op)
	if err != nil {
		return errors.Annotatef(err, "txn %s at %s", txn.id, loc)
	}
	offsets[loc.Offset] = next
	if next.IsWrite() {
		txn.written = true
	}
	return nil
}

// RecordRead notes that loc was read. An existing entry is left unchanged.
func (txn *Transaction) RecordRead(loc tilegroup.ItemPointer) error {
	return txn.record(loc, RWRead)
}

// RecordUpdate notes that loc was superseded by a new version.
func (txn *Transaction) RecordUpdate(loc tilegroup.ItemPointer) error {
	return txn.record(loc, RWUpdate)
}

// RecordInsert notes that loc was inserted. The slot must not have an entry yet.
func (txn *Transaction) RecordInsert(loc tilegroup.ItemPointer) error {
	return txn.record(loc, RWInsert)
}

// RecordDelete notes that loc was deleted. Deleting a slot inserted by the same transaction
// collapses to RWInsDel.
func (txn *Transaction) RecordDelete(loc tilegroup.ItemPointer) error {
	return txn.record(loc, RWDelete)
}

// RWEntry is one slot of the read/write set.
type RWEntry struct {
	Location tilegroup.ItemPointer
	Type     RWType
}

// ReadWriteSet returns every entry ordered by location.
func (txn *Transaction) ReadWriteSet() []RWEntry {
	return txn.entries(false)
}

// WriteSet returns the entries that change version state, ordered by location. Index
// maintenance runs off this after the commit or abort decision is known.
func (txn *Transaction) WriteSet() []RWEntry {
	return txn.entries(true)
}

func (txn *Transaction) entries(writesOnly bool) []RWEntry {
	var entries []RWEntry
	for block, offsets := range txn.rwSet {
		for offset, t := range offsets {
			if writesOnly && !t.IsWrite() {
				continue
			}
			entries = append(entries, RWEntry{
				Location: tilegroup.ItemPointer{Block: block, Offset: offset},
				Type:     t,
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Location.Less(entries[j].Location)
	})
	return entries
}
