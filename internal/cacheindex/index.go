// Package cacheindex is the in-memory SliceKey → path map spec.md §4.3
// describes: single writer (the fetch worker's message handler), single
// reader (the replay driver), plus a latched terminal error the writer can
// set and the reader polls for.
//
// Grounded on the single-writer/no-lock discipline of the teacher's
// replay buffer (src/replay_buffer.go's AddUnsafe/replayBufferWorker
// contract) and the sync.Map usage in
// ws/internal/single/limits/rate_limiter.go for a key space with
// infrequent churn and concurrent touch.
package cacheindex

import "sync"

// Index maps SliceKey (an ISO-8601 minute boundary string) to the local
// filesystem path of its cached, fully-written slice file.
type Index struct {
	paths sync.Map // map[string]string

	mu       sync.Mutex
	err      error
	errReady chan struct{} // closed exactly once, the instant err is latched

	ready chan struct{} // best-effort notification; see Ready
}

// New creates an empty index, ready for one job's lifetime.
func New() *Index {
	return &Index{
		errReady: make(chan struct{}),
		ready:    make(chan struct{}, 1),
	}
}

// Put inserts a finalized slice's path. Called only from the fetch worker's
// message handler. Invariant (spec.md §3): the entry must not be inserted
// until the file is fully written and closed.
func (idx *Index) Put(sliceKey, path string) {
	idx.paths.Store(sliceKey, path)
	select {
	case idx.ready <- struct{}{}:
	default:
	}
}

// Get returns the path for sliceKey and whether it is present.
func (idx *Index) Get(sliceKey string) (string, bool) {
	v, ok := idx.paths.Load(sliceKey)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Delete removes sliceKey, called by the driver immediately after
// consuming it (spec.md §3: "In-memory entries are deleted immediately
// after consumption").
func (idx *Index) Delete(sliceKey string) {
	idx.paths.Delete(sliceKey)
}

// SetErr latches a terminal worker error. Only the first call has an
// effect; subsequent calls are no-ops, matching spec.md §4.4's "a single
// terminal error".
func (idx *Index) SetErr(err error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.err != nil {
		return
	}
	idx.err = err
	close(idx.errReady)
	// Wake up anything blocked on Ready so the error is observed promptly,
	// per spec.md §5: "Worker errors are observed no later than the next
	// poll iteration after the error is latched."
	select {
	case idx.ready <- struct{}{}:
	default:
	}
}

// Err returns the latched worker error, if any.
func (idx *Index) Err() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.err
}

// Ready returns a channel that receives a value whenever a slice is put or
// an error is latched; it is never closed (see ErrReady for that). It is a best-effort wakeup, not a
// guarantee that the specific awaited key is present — callers must still
// re-check Get/Err after waking, which is exactly what the replay driver's
// wait loop does. This lets an implementation upgrade the fixed 100ms poll
// spec.md §4.5 describes to a notification channel, per the spec's
// explicit permission to do so as long as error visibility and
// no-lost-wakeups are preserved.
func (idx *Index) Ready() <-chan struct{} {
	return idx.ready
}

// ErrReady is closed exactly once, the moment a worker error is latched.
func (idx *Index) ErrReady() <-chan struct{} {
	return idx.errReady
}
