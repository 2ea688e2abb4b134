// Package stream implements the StreamState phase machine and the
// user-facing Handle described in spec.md §4.4 and §4.5.
package stream

import (
	"context"
	"errors"
	"io"

	"github.com/duskrelay/muxcore/config"
)

// ErrClosed is returned by Handle operations once the stream is closed, in
// place of a broken-pipe-like OS error (this package has no actual pipe).
var ErrClosed = errors.New("stream: closed")

// Handle is the user-facing, cheaply clonable facade over a stream's
// shared queues. Multiple Handles may wrap the same underlying stream;
// the stream is only marked closed once every Handle has been closed
// (spec.md §4.5 "clone").
type Handle struct {
	s   *shared
	cfg config.Params

	// released is set by the first Close on this Handle, guarded by s.mu.
	released bool
}

func newHandle(s *shared, cfg config.Params) *Handle {
	return &Handle{s: s, cfg: cfg}
}

// Clone produces another Handle sharing the same queues.
func (h *Handle) Clone() *Handle {
	h.s.mu.Lock()
	h.s.refs++
	h.s.mu.Unlock()
	return &Handle{s: h.s, cfg: h.cfg}
}

// WaitConnected blocks until the handshake completes (connected becomes
// true) or ctx is cancelled.
func (h *Handle) WaitConnected(ctx context.Context) error {
	for {
		h.s.mu.Lock()
		if h.s.connected {
			h.s.mu.Unlock()
			return nil
		}
		if h.s.closed {
			h.s.mu.Unlock()
			return ErrClosed
		}
		ch := h.s.ready.Chan()
		h.s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Read suspends until read_stream is nonempty or the stream is closed,
// then copies up to len(buf) bytes. It returns 0, io.EOF on clean EOF
// (closed with an empty buffer).
func (h *Handle) Read(ctx context.Context, buf []byte) (int, error) {
	for {
		h.s.mu.Lock()
		if h.s.readStream.Len() > 0 {
			n, _ := h.s.readStream.Read(buf)
			h.s.mu.Unlock()
			h.s.wake.Wake()
			return n, nil
		}
		if h.s.closed {
			h.s.mu.Unlock()
			return 0, io.EOF
		}
		ch := h.s.ready.Chan()
		h.s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Write suspends until write_stream.Len() <= WriteCap, then appends up to
// len(buf) bytes and signals the multiplex.
func (h *Handle) Write(ctx context.Context, buf []byte) (int, error) {
	for {
		h.s.mu.Lock()
		if h.s.closed {
			h.s.mu.Unlock()
			return 0, ErrClosed
		}
		if h.s.writeStream.Len() <= h.cfg.WriteCap {
			n, _ := h.s.writeStream.Write(buf)
			h.s.mu.Unlock()
			h.s.wake.Wake()
			return n, nil
		}
		ch := h.s.ready.Chan()
		h.s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Close sets closed once every clone of this Handle has been closed,
// signals the multiplex, and wakes waiters. It is safe to call more than
// once on the same Handle (idempotent past the first call).
func (h *Handle) Close() {
	h.s.mu.Lock()
	if h.released {
		h.s.mu.Unlock()
		return
	}
	h.released = true
	if h.s.refs > 0 {
		h.s.refs--
	}
	last := h.s.refs == 0
	alreadyClosed := h.s.closed
	if last {
		h.s.closed = true
	}
	h.s.mu.Unlock()

	if last && !alreadyClosed {
		h.s.wake.Wake()
		h.s.ready.NotifyAll()
	}
}

// SendUrel appends dgram to send_urel and signals the multiplex.
// Unreliable datagrams bypass read/write caps and are never retransmitted.
func (h *Handle) SendUrel(dgram []byte) error {
	h.s.mu.Lock()
	if h.s.closed {
		h.s.mu.Unlock()
		return ErrClosed
	}
	h.s.pushSendUrel(dgram)
	h.s.mu.Unlock()
	h.s.wake.Wake()
	return nil
}

// RecvUrel suspends until recv_urel is nonempty or the stream is closed.
func (h *Handle) RecvUrel(ctx context.Context) ([]byte, error) {
	for {
		h.s.mu.Lock()
		if d, ok := h.s.popRecvUrel(); ok {
			h.s.mu.Unlock()
			return d, nil
		}
		if h.s.closed {
			h.s.mu.Unlock()
			return nil, ErrClosed
		}
		ch := h.s.ready.Chan()
		h.s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// AdditionalInfo returns the additional-data payload negotiated at
// handshake: the client's Syn payload, as observed by the server at
// accept (or the client's own value, for the initiator).
func (h *Handle) AdditionalInfo() string {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.s.additionalData
}

// Connected reports whether the handshake has completed, without
// blocking.
func (h *Handle) Connected() bool {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.s.connected
}

// Closed reports whether the stream has been closed, without blocking.
func (h *Handle) Closed() bool {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.s.closed
}
