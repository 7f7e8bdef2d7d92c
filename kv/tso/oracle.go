package tso

import (
	"github.com/pingcap-incubator/tinytxn/kv/storage/tilegroup"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Source hands out transaction ids and commit timestamps. Both sequences are strictly increasing
// and safe for concurrent use.
type Source interface {
	NextTxnID() tilegroup.TxnID
	NextCommitID() tilegroup.CID
}

// Oracle is the in-process Source. Transaction ids start right after InitialTxnID and commit
// timestamps right after InvalidCID.
type Oracle struct {
	txnID    atomic.Uint64
	commitID atomic.Uint64
}

// NewOracle creates an Oracle.
func NewOracle() *Oracle {
	o := &Oracle{}
	o.txnID.Store(uint64(tilegroup.InitialTxnID))
	o.commitID.Store(uint64(tilegroup.InvalidCID))
	return o
}

// NextTxnID allocates a transaction id.
func (o *Oracle) NextTxnID() tilegroup.TxnID {
	tsoCounter.WithLabelValues("txn_id").Inc()
	return tilegroup.TxnID(o.txnID.Inc())
}

// NextCommitID allocates a commit timestamp.
func (o *Oracle) NextCommitID() tilegroup.CID {
	tsoCounter.WithLabelValues("commit_id").Inc()
	return tilegroup.CID(o.commitID.Inc())
}

// CurrentCommitID returns the last allocated commit timestamp.
func (o *Oracle) CurrentCommitID() tilegroup.CID {
	return tilegroup.CID(o.commitID.Load())
}

// AdvanceCommitID makes sure the next commit timestamp is greater than cid. It never moves the
// sequence backwards.
func (o *Oracle) AdvanceCommitID(cid tilegroup.CID) {
	for {
		cur := o.commitID.Load()
		if cur >= uint64(cid) {
			return
		}
		if o.commitID.CAS(cur, uint64(cid)) {
			log.Debug("commit id advanced", zap.Uint64("from", cur), zap.Uint64("to", uint64(cid)))
			return
		}
	}
}
