package concurrency

// The concurrency package implements timestamp-ordering multi-version concurrency control over the tuple slots of a
// tile group store (see kv/storage/tilegroup). Every slot carries a header with an owner, a visibility interval
// [begin, end), links to the previous and next version of the same row, and the highest snapshot that has read it.
// The package never allocates or frees slots. It only moves headers between the states listed on TupleHeader.
//
// A transaction gets an id and a begin timestamp (its snapshot) from a tso.Source. Executors drive it through the
// Manager:
//
//  - IsVisible, IsOwner and IsOwnable classify a version for the transaction. IsVisible is a pure function of the
//    loaded header, the transaction id and the snapshot.
//  - AcquireOwnership takes a committed version for writing. It is a single CAS on the owner field and it fails
//    instead of waiting. It also fails when a transaction with a later snapshot has already read the version, since
//    writing it would reorder history behind that reader's back.
//  - PerformRead, PerformInsert, PerformUpdate and PerformDelete link new versions into the chain and record what was
//    done in the transaction's read/write set. The in-place forms handle versions the transaction created itself.
//  - CommitTransaction and AbortTransaction walk the write set and publish or undo the changes.
//
// Conflicts are not errors. A rejected step returns false, and a transaction marked ResultFailure can only abort:
// CommitTransaction turns into AbortTransaction for it. Errors are reserved for misuse, e.g. operating on a finished
// transaction or on a slot in the wrong state.
//
// ## Publication order
//
// All header fields are atomics and Go atomics are sequentially consistent, so the order of stores in the commit
// path is the order concurrent readers observe. For an update the new version's interval is stored first, then the
// old version's end, then both owners. A reader which walks the chain from the oldest version and stops at the first
// visible one sees exactly one of the two.
//
// ## Commit timestamps
//
// With CommitPolicyBegin a transaction commits at its own begin timestamp, so commit timestamps of concurrent writers
// are not monotonic in commit order. CommitPolicyFresh draws a new timestamp at commit time instead. The manager
// tracks live snapshots; MinActiveBeginCID is the horizon below which superseded versions are garbage.
