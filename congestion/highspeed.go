package congestion

import "time"

// Highspeed is an AIMD controller: additive increase capped so it never
// adds more than one packet to cwnd per ack, multiplicative decrease on
// loss. Loss-event gating (at most once per RTT) is the
// caller's responsibility per spec.md §4.3.
type Highspeed struct {
	cwnd float64

	// K is the additive-increase divisor: cwnd += min(1, K/cwnd) per ack.
	K float64
	// Beta is the multiplicative-decrease factor applied to cwnd on loss.
	Beta float64
}

// NewHighspeed creates a Highspeed controller starting at the given
// initial window (packets), with the spec's suggested K≈32, β≈0.7.
func NewHighspeed(initialCwnd int) *Highspeed {
	if initialCwnd < 1 {
		initialCwnd = 1
	}
	return &Highspeed{cwnd: float64(initialCwnd), K: 32, Beta: 0.7}
}

// Cwnd implements Controller.
func (h *Highspeed) Cwnd() int {
	return int(h.cwnd)
}

// MarkAck implements Controller. bdp and minRTT are unused by this
// Reno/Highspeed-style algorithm.
func (h *Highspeed) MarkAck(_ float64, _ time.Duration) {
	inc := h.K / h.cwnd
	if inc > 1 {
		inc = 1
	}
	h.cwnd += inc
}

// MarkLoss implements Controller.
func (h *Highspeed) MarkLoss() {
	h.cwnd *= h.Beta
	if h.cwnd < 1 {
		h.cwnd = 1
	}
}
