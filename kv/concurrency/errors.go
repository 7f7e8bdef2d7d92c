package concurrency

import "github.com/pingcap/errors"

// Protocol conflicts are not errors: they are reported by a false return and a
// ResultFailure on the transaction. The errors below are misuse of the engine.
var (
	// ErrTxnFinished is returned for an operation on a committed or aborted transaction.
	ErrTxnFinished = errors.New("concurrency: transaction already finished")
	// ErrSlotState is returned when a slot is not in the state an operation requires.
	ErrSlotState = errors.New("concurrency: slot in unexpected state")
	// ErrIllegalTransition is returned when a slot cannot move to the requested read/write type.
	ErrIllegalTransition = errors.New("concurrency: illegal read/write set transition")
)
