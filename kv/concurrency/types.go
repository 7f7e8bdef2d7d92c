package concurrency

import (
	"fmt"
	"strings"

	"github.com/pingcap/errors"
)

// RWType is what a transaction did to a tuple slot.
type RWType int

const (
	RWRead RWType = iota + 1
	RWUpdate
	RWInsert
	RWDelete
	// RWInsDel is a slot the transaction inserted and then deleted itself.
	RWInsDel
)

func (t RWType) String() string {
	switch t {
	case RWRead:
		return "read"
	case RWUpdate:
		return "update"
	case RWInsert:
		return "insert"
	case RWDelete:
		return "delete"
	case RWInsDel:
		return "insert_then_delete"
	}
	return fmt.Sprintf("rwtype(%d)", int(t))
}

// IsWrite reports whether t changes version state at commit or abort.
func (t RWType) IsWrite() bool {
	return t != RWRead
}

// Result is the outcome of a transaction.
type Result int

const (
	ResultUnknown Result = iota
	ResultSuccess
	// ResultFailure means a conflict was detected; the transaction can only abort.
	ResultFailure
	ResultAborted
)

func (r Result) String() string {
	switch r {
	case ResultUnknown:
		return "unknown"
	case ResultSuccess:
		return "success"
	case ResultFailure:
		return "failure"
	case ResultAborted:
		return "aborted"
	}
	return fmt.Sprintf("result(%d)", int(r))
}

// TxnState is the lifecycle position of a transaction.
type TxnState int

const (
	TxnActive TxnState = iota
	TxnCommitting
	TxnCommitted
	TxnAborting
	TxnAborted
)

func (s TxnState) String() string {
	switch s {
	case TxnActive:
		return "active"
	case TxnCommitting:
		return "committing"
	case TxnCommitted:
		return "committed"
	case TxnAborting:
		return "aborting"
	case TxnAborted:
		return "aborted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// CommitPolicy decides the commit timestamp of a writing transaction.
type CommitPolicy int

const (
	// CommitPolicyBegin commits at the transaction's begin timestamp.
	CommitPolicyBegin CommitPolicy = iota
	// CommitPolicyFresh draws a new timestamp from the source at commit time.
	CommitPolicyFresh
)

func (p CommitPolicy) String() string {
	switch p {
	case CommitPolicyBegin:
		return "begin"
	case CommitPolicyFresh:
		return "fresh"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// ParseCommitPolicy parses "begin" or "fresh".
func ParseCommitPolicy(s string) (CommitPolicy, error) {
	switch strings.ToLower(s) {
	case "begin", "":
		return CommitPolicyBegin, nil
	case "fresh":
		return CommitPolicyFresh, nil
	}
	return CommitPolicyBegin, errors.Errorf("unknown commit timestamp policy %q", s)
}
