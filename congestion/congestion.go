// Package congestion implements the pluggable congestion-control capability
// described in spec.md §4.3: a small interface the stream state machine
// treats as opaque, gated only through Cwnd.
package congestion

import "time"

// Controller maps ack/loss events to a congestion window. The stream
// state machine never inspects an implementation's internals; it only
// calls Cwnd to decide whether more segments may be sent, and MarkAck /
// MarkLoss to report events.
type Controller interface {
	// Cwnd returns the current congestion window, in packets.
	Cwnd() int

	// MarkAck reports that a single previously-unacked packet has just
	// been acknowledged. bdp and minRTT are the current bandwidth-delay
	// product (in bytes) and minimum RTT observed by Inflight; a
	// Reno/Highspeed-style controller may ignore them.
	MarkAck(bdp float64, minRTT time.Duration)

	// MarkLoss reports a loss event. The caller (stream.State) gates how
	// often this fires to at most once per RTT; see SPEC_FULL.md §3.
	MarkLoss()
}

// Pacer is implemented by controllers that want to space out transmission
// of new segments rather than releasing the whole congestion window at
// once. It is optional: the stream write half only consults it if a
// Controller also implements Pacer.
type Pacer interface {
	// PacingInterval returns the minimum spacing between successive new
	// segment transmissions, given the current min RTT. A zero result
	// means unpaced (send as fast as cwnd allows).
	PacingInterval(minRTT time.Duration) time.Duration
}
