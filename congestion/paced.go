package congestion

import "time"

// Paced wraps a Controller and implements Pacer by computing an implicit
// rate of cwnd/minRTT, the same formula
// original_source/src/multiplex/stream/connvars.rs uses for its Pacer
// (pacing_rate = cwnd / min_rtt, floored at 1 packet/sec).
type Paced struct {
	Controller
}

// NewPaced decorates a Controller with pacing.
func NewPaced(c Controller) *Paced {
	return &Paced{Controller: c}
}

// PacingInterval implements Pacer.
func (p *Paced) PacingInterval(minRTT time.Duration) time.Duration {
	if minRTT <= 0 {
		return 0
	}
	rate := float64(p.Cwnd()) / minRTT.Seconds()
	if rate < 1 {
		rate = 1
	}
	return time.Duration(float64(time.Second) / rate)
}
