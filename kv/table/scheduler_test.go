package table

import (
	"testing"

	"github.com/pingcap-incubator/tinytxn/kv/concurrency"
	"github.com/pingcap-incubator/tinytxn/kv/storage/tilegroup"
	"github.com/pingcap-incubator/tinytxn/kv/tso"
	"github.com/pingcap-incubator/tinytxn/kv/util/codec"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"
)

// notFound is recorded by a read of a key without a visible row.
const notFound int64 = -1

func encodeInt(v int64) []byte { return codec.EncodeInt(v) }
func decodeInt(b []byte) int64 { return codec.MustDecodeInt(b) }

// newTestTable creates a table with rows (i, 0) for i in [0, rows).
func newTestTable(t *testing.T, rows int) *Table {
	return newTestTableWithPolicy(t, rows, concurrency.CommitPolicyBegin)
}

// newTestTableWithPolicy returns a table holding keys 0 to rows-1, all with value 0.
func newTestTableWithPolicy(t *testing.T, rows int, policy concurrency.CommitPolicy) *Table {
	store := tilegroup.NewManager(16)
	tbl := NewTable(store, concurrency.NewManager(store, tso.NewOracle(), policy))
	txn := tbl.Begin()
	for i := 0; i < rows; i++ {
		require.Nil(t, tbl.Insert(txn, encodeInt(int64(i)), encodeInt(0)))
	}
	require.Equal(t, concurrency.ResultSuccess, tbl.Commit(txn))
	return tbl
}

type opType int

const (
	opInsert opType = iota
	opRead
	opUpdate
	opUpdateByValue
	opDelete
	opScan
	opCommit
	opAbort
)

type step struct {
	txn   int
	op    opType
	key   int64
	value int64
}

// schedule is what happened to one transaction of a scheduler run.
type schedule struct {
	txn *concurrency.Transaction
	// results holds the values read, notFound for missing keys; a scan appends key and value of every row.
	results []int64
	failed  bool
	done    bool
	result  concurrency.Result
}

// scheduler runs the steps of several transactions in a fixed interleaving on one goroutine. A transaction begins at
// its first step. Once a step fails, the remaining steps of that transaction are skipped and its commit becomes an
// abort.
type scheduler struct {
	t         *testing.T
	tbl       *Table
	steps     []step
	schedules []*schedule
}

func newScheduler(t *testing.T, n int, tbl *Table) *scheduler {
	s := &scheduler{t: t, tbl: tbl}
	for i := 0; i < n; i++ {
		s.schedules = append(s.schedules, &schedule{})
	}
	return s
}

type txnSteps struct {
	s  *scheduler
	id int
}

func (s *scheduler) Txn(id int) txnSteps {
	return txnSteps{s: s, id: id}
}

func (ts txnSteps) add(op opType, key, value int64) {
	ts.s.steps = append(ts.s.steps, step{txn: ts.id, op: op, key: key, value: value})
}

func (ts txnSteps) Insert(key, value int64) { ts.add(opInsert, key, value) }
func (ts txnSteps) Read(key int64) { ts.add(opRead, key, 0) }
func (ts txnSteps) Update(key, value int64) { ts.add(opUpdate, key, value) }
func (ts txnSteps) UpdateByValue(old, v int64) { ts.add(opUpdateByValue, old, v) }
func (ts txnSteps) Delete(key int64) { ts.add(opDelete, key, 0) }
func (ts txnSteps) Scan(from int64) { ts.add(opScan, from, 0) }
func (ts txnSteps) Commit() { ts.add(opCommit, 0, 0) }
func (ts txnSteps) Abort() { ts.add(opAbort, 0, 0) }

func (s *scheduler) Run() {
	for _, st := range s.steps {
		sch := s.schedules[st.txn]
		if sch.done {
			continue
		}
		if sch.txn == nil {
			sch.txn = s.tbl.Begin()
		}
		if sch.failed && st.op != opCommit && st.op != opAbort {
			continue
		}
		if err := s.exec(sch, st); err != nil {
			if errors.Cause(err) == ErrKeyNotFound {
				continue
			}
			cause := errors.Cause(err)
			require.True(s.t, cause == ErrTxnConflict || cause == ErrKeyExists, "unexpected error %v", err)
			sch.failed = true
		}
	}
	for _, sch := range s.schedules {
		if sch.txn != nil && !sch.done {
			sch.result = s.tbl.Abort(sch.txn)
			sch.done = true
		}
	}
}

func (s *scheduler) exec(sch *schedule, st step) error {
	tbl, txn := s.tbl, sch.txn
	switch st.op {
	case opInsert:
		return tbl.Insert(txn, encodeInt(st.key), encodeInt(st.value))
	case opRead:
		v, err := tbl.Read(txn, encodeInt(st.key))
		if errors.Cause(err) == ErrKeyNotFound {
			sch.results = append(sch.results, notFound)
			return nil
		}
		if err != nil {
			return err
		}
		sch.results = append(sch.results, decodeInt(v))
	case opUpdate:
		return tbl.Update(txn, encodeInt(st.key), encodeInt(st.value))
	case opUpdateByValue:
		kvs, err := tbl.Scan(txn, nil, 0)
		if err != nil {
			return err
		}
		for _, kv := range kvs {
			if decodeInt(kv.Value) == st.key {
				if err := tbl.Update(txn, kv.Key, encodeInt(st.value)); err != nil {
					return err
				}
			}
		}
	case opDelete:
		return tbl.Delete(txn, encodeInt(st.key))
	case opScan:
		kvs, err := tbl.Scan(txn, encodeInt(st.key), 0)
		if err != nil {
			return err
		}
		for _, kv := range kvs {
			sch.results = append(sch.results, decodeInt(kv.Key), decodeInt(kv.Value))
		}
	case opCommit:
		if sch.failed {
			sch.result = tbl.Abort(txn)
		} else {
			sch.result = tbl.Commit(txn)
		}
		sch.done = true
	case opAbort:
		sch.result = tbl.Abort(txn)
		sch.done = true
	}
	return nil
}
