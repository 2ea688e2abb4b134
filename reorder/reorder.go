// Package reorder implements the bounded out-of-order reassembly buffer
// described in spec.md §4.1.
package reorder

import "github.com/duskrelay/muxcore/message"

// Seqno is a per-stream monotonically increasing packet index.
type Seqno = message.Seqno

// Entry is one drained (seqno, payload) pair returned by Take.
type Entry struct {
	Seqno   Seqno
	Payload []byte
}

// Reorderer accepts indexed payloads in arbitrary order and drains a
// contiguous prefix in order. It never holds more than Cap entries;
// excess inserts are silently dropped, since a well-behaved sender will
// retransmit anything that never gets acked.
type Reorderer struct {
	next  Seqno
	cap   int
	store map[Seqno][]byte
}

// DefaultCap is used by New when cap <= 0.
const DefaultCap = 1024

// New creates a Reorderer with the given capacity starting at cursor 0.
func New(cap int) *Reorderer {
	if cap <= 0 {
		cap = DefaultCap
	}
	return &Reorderer{
		cap:   cap,
		store: make(map[Seqno][]byte),
	}
}

// Insert stores payload under seqno. It returns true if this was a new
// insertion: seqnos below the cursor are discarded (already delivered),
// duplicates of an already-buffered seqno are discarded, and inserts
// above the capacity are discarded once the buffer is full.
func (r *Reorderer) Insert(seqno Seqno, payload []byte) bool {
	if seqno < r.next {
		return false
	}
	if _, ok := r.store[seqno]; ok {
		return false
	}
	if len(r.store) >= r.cap {
		return false
	}
	r.store[seqno] = payload
	return true
}

// Take drains the contiguous run of seqnos starting at the cursor and
// advances the cursor past them. It returns an empty slice if the next
// expected seqno has not yet been seen.
func (r *Reorderer) Take() []Entry {
	var out []Entry
	for {
		payload, ok := r.store[r.next]
		if !ok {
			break
		}
		out = append(out, Entry{Seqno: r.next, Payload: payload})
		delete(r.store, r.next)
		r.next++
	}
	return out
}

// NextExpected returns the cursor: the lowest seqno not yet drained.
func (r *Reorderer) NextExpected() Seqno {
	return r.next
}

// Buffered returns the number of out-of-order entries currently held.
func (r *Reorderer) Buffered() int {
	return len(r.store)
}
