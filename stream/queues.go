package stream

import (
	"bytes"
	"sync"
)

// shared is the handle<->state bridge described in spec.md §3 ("the
// StreamQueues and a notification event are shared ... between the state
// and every handle clone"). It owns the single mutex that guards
// read_stream/write_stream/recv_urel/send_urel/connected/closed, the
// readyEvent waiters suspend on, the waker used to prod the owning
// multiplex, and a clone refcount standing in for Rust's "shared
// ownership with lifetime = longest holder": Go has no destructors, so the
// last Handle.Close (rather than the last Handle being garbage collected)
// is what marks the stream closed.
//
// Invariants: closed is monotonic (never cleared). connected is set
// exactly once, before any read_stream append. readStream and writeStream
// have soft caps that throttle, not truncate.
type shared struct {
	mu sync.Mutex

	readStream  bytes.Buffer
	writeStream bytes.Buffer
	recvUrel    [][]byte
	sendUrel    [][]byte

	connected bool
	closed    bool

	ready *readyEvent
	wake  *waker

	refs int32

	additionalData string
}

func newShared(additionalData string) *shared {
	return &shared{
		ready: newReadyEvent(),
		wake:  newWaker(),
		refs:  1,

		additionalData: additionalData,
	}
}

func (s *shared) popRecvUrel() ([]byte, bool) {
	if len(s.recvUrel) == 0 {
		return nil, false
	}
	d := s.recvUrel[0]
	s.recvUrel = s.recvUrel[1:]
	return d, true
}

func (s *shared) pushRecvUrel(d []byte) {
	s.recvUrel = append(s.recvUrel, d)
}

func (s *shared) popSendUrel() ([]byte, bool) {
	if len(s.sendUrel) == 0 {
		return nil, false
	}
	d := s.sendUrel[0]
	s.sendUrel = s.sendUrel[1:]
	return d, true
}

func (s *shared) pushSendUrel(d []byte) {
	s.sendUrel = append(s.sendUrel, d)
}
