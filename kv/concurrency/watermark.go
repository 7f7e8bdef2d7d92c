package concurrency

import (
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
	"github.com/pingcap-incubator/tinytxn/kv/storage/tilegroup"
)

// watermark tracks the begin timestamps of live transactions. Begin timestamps are unique, so
// each key maps to the single transaction that holds it.
type watermark struct {
	mu     sync.Mutex
	active *treemap.Map
}

func newWatermark() *watermark {
	return &watermark{active: treemap.NewWith(utils.UInt64Comparator)}
}

// begin draws a begin timestamp and registers it in one step, so a concurrent min never
// misses a transaction that already holds a smaller timestamp.
func (w *watermark) begin(next func() tilegroup.CID, id tilegroup.TxnID) tilegroup.CID {
	w.mu.Lock()
	defer w.mu.Unlock()
	cid := next()
	w.active.Put(uint64(cid), id)
	return cid
}

func (w *watermark) done(cid tilegroup.CID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active.Remove(uint64(cid))
}

// min returns the smallest live begin timestamp, or MaxCID when nothing is running.
func (w *watermark) min() tilegroup.CID {
	w.mu.Lock()
	defer w.mu.Unlock()
	k, _ := w.active.Min()
	if k == nil {
		return tilegroup.MaxCID
	}
	return tilegroup.CID(k.(uint64))
}

func (w *watermark) size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active.Size()
}
