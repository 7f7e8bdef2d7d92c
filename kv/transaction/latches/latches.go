package latches

import (
	"sort"
	"sync"
)

// Latches serialise the parts of a table operation which are not covered by the concurrency protocol. The protocol
// decides who may write a version once it exists; it says nothing about two transactions inserting the same key at
// the same time, each finding no live row and each appending a new version chain to the index. By latching the key
// around the check and the append, the second inserter finds the first one's uncommitted chain and backs off.
//
// A latch is a per-key lock held for the duration of one operation, never for a whole transaction, so latches can not
// deadlock with the protocol's ownership. All keys an operation needs are latched at once.
//
// Latching is implemented using a single map which maps keys to a Go WaitGroup. Access to this map is guarded by a
// mutex so that latching is atomic and consistent.
type Latches struct {
	// latchMap maps each latched key to a WaitGroup. Threads who find a key latched wait on it.
	latchMap map[string]*sync.WaitGroup
	// latchGuard guards latchMap.
	latchGuard sync.Mutex
	// OnAcquire, if set, is called with the keys every time they are latched. Only used for testing.
	OnAcquire func(keys [][]byte)
}

// NewLatches creates a new Latches object. There should only be one per table, shared between all threads.
func NewLatches() *Latches {
	return &Latches{latchMap: make(map[string]*sync.WaitGroup)}
}

// normalize sorts and deduplicates keys so that a key named twice is only latched once.
func normalize(keys [][]byte) []string {
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, string(key))
	}
	sort.Strings(out)
	n := 0
	for i, key := range out {
		if i == 0 || key != out[n-1] {
			out[n] = key
			n++
		}
	}
	return out[:n]
}

// AcquireLatches tries to latch every key. If this succeeds, nil is returned. If any of the keys is latched, the
// WaitGroup of that latch is returned so the thread can wait until it is free.
func (l *Latches) AcquireLatches(keysToLatch [][]byte) *sync.WaitGroup {
	keys := normalize(keysToLatch)

	l.latchGuard.Lock()
	defer l.latchGuard.Unlock()

	for _, key := range keys {
		if latchWg, ok := l.latchMap[key]; ok {
			return latchWg
		}
	}

	wg := new(sync.WaitGroup)
	wg.Add(1)
	for _, key := range keys {
		l.latchMap[key] = wg
	}
	if l.OnAcquire != nil {
		l.OnAcquire(keysToLatch)
	}
	return nil
}

// ReleaseLatches releases every key in keysToUnlatch and wakes up the threads waiting on them. The keys must have
// been latched together in one call to AcquireLatches.
func (l *Latches) ReleaseLatches(keysToUnlatch [][]byte) {
	keys := normalize(keysToUnlatch)

	l.latchGuard.Lock()
	defer l.latchGuard.Unlock()

	var wg *sync.WaitGroup
	for _, key := range keys {
		if wg == nil {
			wg = l.latchMap[key]
		}
		delete(l.latchMap, key)
	}
	if wg != nil {
		wg.Done()
	}
}

// WaitForLatches latches every key, waiting for latches held by other threads to be released first. It may block for
// as long as the current holders take.
func (l *Latches) WaitForLatches(keysToLatch [][]byte) {
	for {
		wg := l.AcquireLatches(keysToLatch)
		if wg == nil {
			return
		}
		wg.Wait()
	}
}

// WithLatches runs f while holding the latches of keys.
func (l *Latches) WithLatches(keys [][]byte, f func() error) error {
	l.WaitForLatches(keys)
	defer l.ReleaseLatches(keys)
	return f()
}

// IsLatched reports whether key is currently latched.
func (l *Latches) IsLatched(key []byte) bool {
	l.latchGuard.Lock()
	defer l.latchGuard.Unlock()
	_, ok := l.latchMap[string(key)]
	return ok
}
