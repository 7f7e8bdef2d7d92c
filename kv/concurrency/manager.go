package concurrency

import (
	"github.com/pingcap-incubator/tinytxn/kv/storage/tilegroup"
	"github.com/pingcap-incubator/tinytxn/kv/tso"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Manager runs timestamp-ordering concurrency control over the tuple headers of a catalog.
//
// Readers never block and writers never wait: a writer takes a version with a single CAS on its
// owner field and gives up when the CAS fails, or when a transaction with a later snapshot has
// already read the version. Uncommitted versions are invisible to every other transaction, so an
// abort never cascades.
//
// A Manager is safe for concurrent use. Each Transaction must be driven by one goroutine.
type Manager struct {
	catalog tilegroup.Catalog
	source  tso.Source
	policy  CommitPolicy
	active  *watermark
}

// NewManager creates a Manager over the slots of catalog, drawing ids and timestamps from source.
func NewManager(catalog tilegroup.Catalog, source tso.Source, policy CommitPolicy) *Manager {
	return &Manager{
		catalog: catalog,
		source:  source,
		policy:  policy,
		active:  newWatermark(),
	}
}

func (m *Manager) CommitPolicy() CommitPolicy {
	return m.policy
}

// BeginTransaction starts a transaction with a fresh id and snapshot.
func (m *Manager) BeginTransaction() *Transaction {
	id := m.source.NextTxnID()
	beginCID := m.active.begin(m.source.NextCommitID, id)
	txn := newTransaction(id, beginCID)

	txnCounter.WithLabelValues("begin").Inc()
	activeGauge.Inc()
	log.Debug("begin transaction", zap.Uint64("txn-id", uint64(id)), zap.Uint64("begin-cid", uint64(beginCID)))
	return txn
}

// ActiveCount returns the number of transactions that have begun and not yet finished.
func (m *Manager) ActiveCount() int {
	return m.active.size()
}

// MinActiveBeginCID returns the oldest snapshot still in use, or MaxCID when no transaction is
// running. Versions whose end timestamp is at or below it are invisible to every current and
// future transaction.
func (m *Manager) MinActiveBeginCID() tilegroup.CID {
	return m.active.min()
}

func (m *Manager) mustLocate(loc tilegroup.ItemPointer) *tilegroup.Header {
	h, err := m.catalog.Locate(loc)
	if err != nil {
		log.Panic("recorded location vanished", zap.Stringer("location", loc), zap.Error(err))
	}
	return h
}
