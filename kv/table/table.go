package table

import (
	"bytes"
	"sync"

	"github.com/google/btree"
	"github.com/pingcap-incubator/tinytxn/kv/concurrency"
	"github.com/pingcap-incubator/tinytxn/kv/storage/tilegroup"
	"github.com/pingcap-incubator/tinytxn/kv/transaction/latches"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

var (
	// ErrKeyExists is returned when inserting a key which has a version visible to the transaction.
	ErrKeyExists = errors.New("table: key already exists")
	// ErrKeyNotFound is returned when no version of the key is visible to the transaction.
	ErrKeyNotFound = errors.New("table: key not found")
	// ErrTxnConflict is returned when the concurrency protocol rejects a step. The transaction is marked
	// ResultFailure and can only abort.
	ErrTxnConflict = errors.New("table: transaction conflict")
)

const btreeDegree = 32

// KV is a key and the value visible to a transaction.
type KV struct {
	Key   []byte
	Value []byte
}

// indexItem maps a key to the heads of its version chains, oldest chain first. A key gets a new chain each time it
// is inserted after a delete.
type indexItem struct {
	key   []byte
	heads []tilegroup.ItemPointer
}

func (i *indexItem) Less(than btree.Item) bool {
	return bytes.Compare(i.key, than.(*indexItem).key) < 0
}

// Table is a key/value table stored in tile group slots and accessed through the concurrency manager. It plays the
// part of the executors: it finds the version of a row visible to a transaction, asks the protocol for permission,
// and installs new versions. The primary index is maintained from the write set once the outcome of a transaction
// is known.
type Table struct {
	store   *tilegroup.Manager
	mgr     *concurrency.Manager
	latches *latches.Latches

	mu    sync.RWMutex
	index *btree.BTree
}

// NewTable creates an empty table over store. mgr must have been created over the same store.
func NewTable(store *tilegroup.Manager, mgr *concurrency.Manager) *Table {
	return &Table{
		store:   store,
		mgr:     mgr,
		latches: latches.NewLatches(),
		index:   btree.New(btreeDegree),
	}
}

func (t *Table) Manager() *concurrency.Manager {
	return t.mgr
}

// Begin starts a transaction.
func (t *Table) Begin() *concurrency.Transaction {
	return t.mgr.BeginTransaction()
}

// KeyCount returns the number of keys in the index, including keys whose rows are all deleted.
func (t *Table) KeyCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.index.Len()
}

func (t *Table) heads(key []byte) []tilegroup.ItemPointer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	item := t.index.Get(&indexItem{key: key})
	if item == nil {
		return nil
	}
	return append([]tilegroup.ItemPointer(nil), item.(*indexItem).heads...)
}

func (t *Table) appendHead(key []byte, head tilegroup.ItemPointer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if item := t.index.Get(&indexItem{key: key}); item != nil {
		it := item.(*indexItem)
		it.heads = append(it.heads, head)
		return
	}
	t.index.ReplaceOrInsert(&indexItem{key: key, heads: []tilegroup.ItemPointer{head}})
}

func (t *Table) unlinkHead(key []byte, head tilegroup.ItemPointer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item := t.index.Get(&indexItem{key: key})
	if item == nil {
		return
	}
	it := item.(*indexItem)
	heads := make([]tilegroup.ItemPointer, 0, len(it.heads))
	for _, h := range it.heads {
		if h != head {
			heads = append(heads, h)
		}
	}
	if len(heads) == 0 {
		t.index.Delete(it)
		return
	}
	it.heads = heads
}

func (t *Table) load(loc tilegroup.ItemPointer) (tilegroup.TupleMeta, error) {
	h, err := t.store.Locate(loc)
	if err != nil {
		return tilegroup.TupleMeta{}, err
	}
	return h.Load(loc.Offset), nil
}

// visibleVersion walks a chain from its oldest version and returns the first version visible to txn.
func (t *Table) visibleVersion(txn *concurrency.Transaction, head tilegroup.ItemPointer) (tilegroup.ItemPointer, tilegroup.TupleMeta, bool, error) {
	for loc := head; !loc.IsNull(); {
		meta, err := t.load(loc)
		if err != nil {
			return loc, meta, false, err
		}
		if concurrency.IsVisible(meta, txn.ID(), txn.BeginCID()) {
			return loc, meta, true, nil
		}
		loc = meta.Next
	}
	return tilegroup.InvalidItemPointer, tilegroup.TupleMeta{}, false, nil
}

// chainTail returns the newest version of a chain.
func (t *Table) chainTail(head tilegroup.ItemPointer) (tilegroup.TupleMeta, error) {
	loc := head
	for {
		meta, err := t.load(loc)
		if err != nil || meta.Next.IsNull() {
			return meta, err
		}
		loc = meta.Next
	}
}

// lookup finds the version of key visible to txn. Chains are searched newest first.
func (t *Table) lookup(txn *concurrency.Transaction, key []byte) (tilegroup.ItemPointer, tilegroup.TupleMeta, bool, error) {
	heads := t.heads(key)
	for i := len(heads) - 1; i >= 0; i-- {
		loc, meta, ok, err := t.visibleVersion(txn, heads[i])
		if err != nil || ok {
			return loc, meta, ok, err
		}
	}
	return tilegroup.InvalidItemPointer, tilegroup.TupleMeta{}, false, nil
}

func (t *Table) conflict(txn *concurrency.Transaction, key []byte, reason string) error {
	txn.SetResult(concurrency.ResultFailure)
	log.Debug("table conflict",
		zap.String("reason", reason),
		zap.Uint64("txn-id", uint64(txn.ID())),
		zap.Binary("key", key))
	return errors.Annotatef(ErrTxnConflict, "%s on key %x", reason, key)
}

// read registers the read of loc and makes sure the version did not change under it.
func (t *Table) read(txn *concurrency.Transaction, key []byte, loc tilegroup.ItemPointer) ([]byte, error) {
	ok, err := t.mgr.PerformRead(txn, loc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, t.conflict(txn, key, "read uncommitted")
	}
	// A writer may have committed between the visibility check and the read.
	meta, err := t.load(loc)
	if err != nil {
		return nil, err
	}
	if !concurrency.IsVisible(meta, txn.ID(), txn.BeginCID()) {
		return nil, t.conflict(txn, key, "read superseded")
	}
	tuple, err := t.store.Payload(loc)
	if err != nil {
		return nil, err
	}
	return tuple.Value, nil
}

// Read returns the value of key visible to txn.
func (t *Table) Read(txn *concurrency.Transaction, key []byte) ([]byte, error) {
	loc, _, ok, err := t.lookup(txn, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Annotatef(ErrKeyNotFound, "key %x", key)
	}
	return t.read(txn, key, loc)
}

// Scan returns the rows visible to txn with keys from from onwards, at most limit of them when limit is positive.
func (t *Table) Scan(txn *concurrency.Transaction, from []byte, limit int) ([]KV, error) {
	var items []*indexItem
	t.mu.RLock()
	t.index.AscendGreaterOrEqual(&indexItem{key: from}, func(i btree.Item) bool {
		it := i.(*indexItem)
		items = append(items, &indexItem{key: it.key, heads: append([]tilegroup.ItemPointer(nil), it.heads...)})
		return true
	})
	t.mu.RUnlock()

	var kvs []KV
	for _, it := range items {
		if limit > 0 && len(kvs) >= limit {
			break
		}
		for i := len(it.heads) - 1; i >= 0; i-- {
			loc, _, ok, err := t.visibleVersion(txn, it.heads[i])
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			value, err := t.read(txn, it.key, loc)
			if err != nil {
				return nil, err
			}
			kvs = append(kvs, KV{Key: it.key, Value: value})
			break
		}
	}
	return kvs, nil
}

// Insert adds a row. It fails with ErrKeyExists when txn sees a row with the key, and with ErrTxnConflict when
// another transaction is writing the key or committed it after txn's snapshot.
func (t *Table) Insert(txn *concurrency.Transaction, key, value []byte) error {
	key = append([]byte(nil), key...)
	value = append([]byte(nil), value...)
	return t.latches.WithLatches([][]byte{key}, func() error {
		heads := t.heads(key)
		for i := len(heads) - 1; i >= 0; i-- {
			_, _, ok, err := t.visibleVersion(txn, heads[i])
			if err != nil {
				return err
			}
			if ok {
				txn.SetResult(concurrency.ResultFailure)
				return errors.Annotatef(ErrKeyExists, "key %x", key)
			}
		}
		if n := len(heads); n > 0 {
			tail, err := t.chainTail(heads[n-1])
			if err != nil {
				return err
			}
			// Only a chain ending in a tombstone, or an insert that never happened, can be followed by a new one.
			dead := tail.TxnID == tilegroup.InvalidTxnID ||
				(tail.TxnID == txn.ID() && tail.EndTS == tilegroup.InvalidCID)
			if !dead {
				return t.conflict(txn, key, "insert over live row")
			}
		}

		loc := t.store.AllocateSlot()
		if err := t.store.SetPayload(loc, tilegroup.Tuple{Key: key, Value: value}); err != nil {
			return err
		}
		if err := t.mgr.PerformInsert(txn, loc); err != nil {
			return err
		}
		t.appendHead(key, loc)
		return nil
	})
}

// Update replaces the value of key.
func (t *Table) Update(txn *concurrency.Transaction, key, value []byte) error {
	return t.write(txn, key, value, false)
}

// Delete removes key.
func (t *Table) Delete(txn *concurrency.Transaction, key []byte) error {
	return t.write(txn, key, nil, true)
}

func (t *Table) write(txn *concurrency.Transaction, key, value []byte, del bool) error {
	loc, meta, ok, err := t.lookup(txn, key)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Annotatef(ErrKeyNotFound, "key %x", key)
	}
	tuple := tilegroup.Tuple{Key: append([]byte(nil), key...), Value: append([]byte(nil), value...)}

	if concurrency.IsOwner(meta, txn.ID()) {
		if del {
			return t.mgr.PerformInPlaceDelete(txn, loc)
		}
		if err := t.store.SetPayload(loc, tuple); err != nil {
			return err
		}
		return t.mgr.PerformInPlaceUpdate(txn, loc)
	}

	if !concurrency.IsOwnable(meta) {
		return t.conflict(txn, key, "version not ownable")
	}
	acquired, err := t.mgr.AcquireOwnership(txn, loc)
	if err != nil {
		return err
	}
	if !acquired {
		return t.conflict(txn, key, "ownership")
	}

	newLoc := t.store.AllocateSlot()
	if err := t.store.SetPayload(newLoc, tuple); err != nil {
		return err
	}
	if del {
		return t.mgr.PerformDelete(txn, loc, newLoc)
	}
	return t.mgr.PerformUpdate(txn, loc, newLoc)
}

// Commit commits txn and updates the index. A transaction marked ResultFailure is aborted instead.
func (t *Table) Commit(txn *concurrency.Transaction) concurrency.Result {
	writes := txn.WriteSet()
	result := t.mgr.CommitTransaction(txn)
	t.maintainIndex(writes, result == concurrency.ResultSuccess)
	return result
}

// Abort aborts txn and updates the index.
func (t *Table) Abort(txn *concurrency.Transaction) concurrency.Result {
	writes := txn.WriteSet()
	result := t.mgr.AbortTransaction(txn)
	t.maintainIndex(writes, false)
	return result
}

// maintainIndex removes the chains whose only version never became visible.
func (t *Table) maintainIndex(writes []concurrency.RWEntry, committed bool) {
	for _, e := range writes {
		if e.Type == concurrency.RWInsDel || (e.Type == concurrency.RWInsert && !committed) {
			tuple, err := t.store.Payload(e.Location)
			if err != nil {
				log.Warn("unlink chain of unknown slot", zap.Stringer("location", e.Location), zap.Error(err))
				continue
			}
			t.unlinkHead(tuple.Key, e.Location)
		}
	}
}
