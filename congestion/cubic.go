package congestion

import (
	"math"
	"time"
)

// Cubic implements the CUBIC-style controller: cwnd grows along a cubic
// curve anchored on the window size at the last loss, rather than Reno's
// purely additive growth. Grounded directly on
// original_source/src/multiplex/stream/congestion.rs (the Rust
// implementation this module's spec was distilled from): cwnd_max tracks
// the window at the last loss, K is the time-to-plateau, and mark_ack's
// exponential-growth term is capped by the cubic recalculation so CUBIC
// never grows faster than plain AIMD immediately after a loss.
type Cubic struct {
	cwnd     float64
	cwndMax  float64
	beta     float64
	cee      float64
	lastLoss time.Time
	hasLoss  bool
}

// NewCubic creates a Cubic controller with the given beta (multiplicative
// decrease factor) and C (cubic constant).
func NewCubic(beta, cee float64) *Cubic {
	return &Cubic{cwnd: 1, beta: beta, cee: cee, cwndMax: 10000}
}

// Cwnd implements Controller.
func (c *Cubic) Cwnd() int {
	return int(c.cwnd)
}

func (c *Cubic) recalculate() {
	if !c.hasLoss {
		return
	}
	k := math.Cbrt(c.cwndMax * (1 - c.beta) / c.cee)
	elapsed := time.Since(c.lastLoss).Seconds()
	cwnd := c.cee*math.Pow(elapsed-k, 3) + c.cwndMax
	if cwnd < 1 {
		cwnd = 1
	}
	c.cwnd = cwnd
}

// MarkAck implements Controller. minRTT is unused; bdp is unused by this
// loss-based algorithm.
func (c *Cubic) MarkAck(_ float64, _ time.Duration) {
	maxCwnd := c.cwnd + math.Min(1, 32.0/c.cwnd)
	c.cwnd = maxCwnd
	c.recalculate()
	if c.cwnd > maxCwnd {
		c.cwnd = maxCwnd
	}
}

// MarkLoss implements Controller.
func (c *Cubic) MarkLoss() {
	c.lastLoss = time.Now()
	c.hasLoss = true
	c.cwndMax = c.cwnd
	c.recalculate()
}
