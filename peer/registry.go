package peer

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// resultSlot is a single entry in a ResultRegistry: a buffer and a
// single-shot broadcast notifier, implemented as a channel closed exactly
// once. Any number of waiters may observe the close.
type resultSlot struct {
	mu     sync.Mutex
	buf    []byte
	done   chan struct{}
	closed bool
}

func newResultSlot() *resultSlot {
	return &resultSlot{done: make(chan struct{})}
}

// deliver writes buf into the slot and signals the notifier, if it has
// not already been signalled. Returns false if the slot was already
// signalled (a duplicate delivery, acknowledged as an unaddressed
// limitation of the original design).
func (s *resultSlot) deliver(buf []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.buf = buf
	s.closed = true
	close(s.done)
	return true
}

// wait blocks until the slot is signalled or ctx is done, then returns the
// delivered bytes.
func (s *resultSlot) wait(ctx context.Context) ([]byte, error) {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.buf, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ResultRegistry is a peer's pending-result registry: a mapping from task
// UUID to a result slot. A slot is created by the local submitter before
// its task is enqueued, and removed by the submitter after consuming the
// result.
type ResultRegistry struct {
	mu    sync.RWMutex
	slots map[uuid.UUID]*resultSlot
}

// NewResultRegistry constructs an empty registry.
func NewResultRegistry() *ResultRegistry {
	return &ResultRegistry{slots: make(map[uuid.UUID]*resultSlot)}
}

// Create inserts a fresh, unsignalled slot for id. Only the local
// submitter calls this; remote executors never create a slot.
func (r *ResultRegistry) Create(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[id] = newResultSlot()
}

// Remove deletes id's slot. Called by the submitter once it has consumed
// the result.
func (r *ResultRegistry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, id)
}

// Deliver writes buf into id's slot and signals it, reporting whether a
// slot for id exists. A false return indicates either an unknown task id
// (a protocol invariant violation, on the peer-to-peer path) or a
// duplicate delivery (silently ignored, on the local-execution path).
func (r *ResultRegistry) Deliver(id uuid.UUID, buf []byte) bool {
	r.mu.RLock()
	slot, ok := r.slots[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return slot.deliver(buf)
}

// Wait blocks until id's slot is signalled or ctx is done. The caller must
// have already confirmed the slot exists (e.g. via the submitter's own
// Create call); Wait panics if no slot is registered for id, since that
// would indicate a programming error in this package.
func (r *ResultRegistry) Wait(ctx context.Context, id uuid.UUID) ([]byte, error) {
	r.mu.RLock()
	slot, ok := r.slots[id]
	r.mu.RUnlock()
	if !ok {
		panic("peer: Wait called for an id with no registered slot")
	}
	return slot.wait(ctx)
}

// Has reports whether a slot is currently registered for id, used by
// return_data to decide between a local delivery and a network hop.
func (r *ResultRegistry) Has(id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.slots[id]
	return ok
}
