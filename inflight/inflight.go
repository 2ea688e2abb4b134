// Package inflight implements the sender-side ledger of unacked segments
// described in spec.md §4.2: a map keyed by seqno, an index keyed by RTO deadline,
// an embedded RttCalculator and BwCalculator.
package inflight

import (
	"math"
	"time"

	"github.com/duskrelay/muxcore/message"
)

// Seqno is a per-stream monotonically increasing packet index.
type Seqno = message.Seqno

// Entry is one live (unacked) segment tracked by Inflight.
type Entry struct {
	Seqno      Seqno
	Payload    message.Message
	SendTime   time.Time
	Retrans    uint64
	RetransAt  time.Time
	KnownLost  bool

	deliveredSnapshot     uint64
	deliveredTimeSnapshot time.Time
}

// Inflight is the per-stream ledger of unacked segments, keyed by seqno,
// plus a secondary index keyed by retransmission deadline. Neither map is
// ordered; LastMinusFirst and FirstRTO scan them.
type Inflight struct {
	segments map[Seqno]*Entry
	rto      map[time.Time][]Seqno

	rtt *RttCalculator
	bw  *BwCalculator

	sent    uint64
	retrans uint64

	maxRetransMultiple float64
}

// New creates an empty Inflight whose RTO is clamped to [minRTO, maxRTO]
// and whose bandwidth window is the given duration (spec.md suggests
// 10*min_rtt; pass 0 to use a fixed 1s window). The window is fixed at
// construction and does not follow min_rtt.
func New(minRTO, maxRTO, bwWindow time.Duration, maxRetransMultiple float64) *Inflight {
	if maxRetransMultiple <= 0 {
		maxRetransMultiple = 60
	}
	return &Inflight{
		segments:           make(map[Seqno]*Entry),
		rto:                make(map[time.Time][]Seqno),
		rtt:                NewRttCalculator(minRTO, maxRTO),
		bw:                 NewBwCalculator(bwWindow),
		maxRetransMultiple: maxRetransMultiple,
	}
}

// Unacked returns the number of live (not-yet-acked) entries.
func (in *Inflight) Unacked() int {
	return len(in.segments)
}

// LastMinusFirst returns the distance between the largest and smallest
// live seqno, used by the write half of tick to gate the congestion
// window against segments actually outstanding.
func (in *Inflight) LastMinusFirst() uint64 {
	if len(in.segments) == 0 {
		return 0
	}
	var lo, hi Seqno
	first := true
	for s := range in.segments {
		if first {
			lo, hi = s, s
			first = false
			continue
		}
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	return hi - lo
}

// Insert records a newly-sent Data segment. It requires msg.Seqno be
// absent from the ledger.
func (in *Inflight) Insert(msg message.Message) {
	now := time.Now()
	seqno := msg.Seqno
	if _, exists := in.segments[seqno]; exists {
		panic("inflight: duplicate seqno inserted")
	}
	retransAt := now.Add(in.rtt.RTO())
	e := &Entry{
		Seqno:                 seqno,
		Payload:               msg,
		SendTime:              now,
		RetransAt:             retransAt,
		deliveredSnapshot:     in.bw.Delivered(),
		deliveredTimeSnapshot: in.bw.DeliveredTime(),
	}
	in.segments[seqno] = e
	in.insertRTO(retransAt, seqno)
	in.sent++
}

// MarkAcked removes seqno from the ledger if present, records an RTT
// sample (only if it was never retransmitted, i.e. Karn's algorithm),
// updates the bandwidth estimator, and removes its RTO index entry. It
// returns whether the seqno was present.
func (in *Inflight) MarkAcked(seqno Seqno) bool {
	e, ok := in.segments[seqno]
	if !ok {
		return false
	}
	now := time.Now()
	delete(in.segments, seqno)
	in.removeRTO(e.RetransAt, seqno)
	if e.Retrans == 0 {
		in.rtt.RecordSample(now.Sub(e.SendTime))
	}
	in.bw.OnAck(len(e.Payload.Payload), e.deliveredSnapshot, e.deliveredTimeSnapshot, now)
	return true
}

// MarkAckedLT is the cumulative-ack convenience: it calls MarkAcked for
// every entry whose seqno is strictly less than seqno, returning the
// count of newly-acked packets.
func (in *Inflight) MarkAckedLT(seqno Seqno) int {
	var toRemove []Seqno
	for s := range in.segments {
		if s < seqno {
			toRemove = append(toRemove, s)
		}
	}
	count := 0
	for _, s := range toRemove {
		if in.MarkAcked(s) {
			count++
		}
	}
	return count
}

// MarkLost sets known_lost on seqno's entry and removes its RTO index
// entry, without removing the segment itself. It remains eligible for
// retransmission via an explicit Retransmit call. Returns whether the
// seqno was present.
func (in *Inflight) MarkLost(seqno Seqno) bool {
	e, ok := in.segments[seqno]
	if !ok {
		return false
	}
	e.KnownLost = true
	in.removeRTO(e.RetransAt, seqno)
	return true
}

// FirstRTO returns the earliest retransmission deadline in the index
// (i.e. the next RTO), and its seqno. Known-lost entries are excluded
// from the index already, so this naturally skips them.
func (in *Inflight) FirstRTO() (Seqno, time.Time, bool) {
	var best time.Time
	var bestSeqno Seqno
	found := false
	for t, seqnos := range in.rto {
		if len(seqnos) == 0 {
			continue
		}
		if !found || t.Before(best) {
			best = t
			bestSeqno = seqnos[0]
			found = true
		}
	}
	if !found {
		return 0, time.Time{}, false
	}
	return bestSeqno, best, true
}

// Retransmit doubles the retransmission interval via RTO*2^retrans,
// capped at MaxRetransMultiple times the nominal RTO, reschedules the RTO
// index, clears known_lost, increments the retransmit counter, and
// returns a clone of the stored payload. It returns false if seqno is not
// present.
func (in *Inflight) Retransmit(seqno Seqno) (message.Message, bool) {
	e, ok := in.segments[seqno]
	if !ok {
		return message.Message{}, false
	}
	rto := in.rtt.RTO()
	old := e.RetransAt
	e.Retrans++
	mult := math.Pow(2, float64(e.Retrans))
	if mult > in.maxRetransMultiple {
		mult = in.maxRetransMultiple
	}
	e.RetransAt = time.Now().Add(time.Duration(float64(rto) * mult))
	e.KnownLost = false

	in.removeRTO(old, seqno)
	in.insertRTO(e.RetransAt, seqno)

	in.sent++
	in.retrans++

	payload := e.Payload
	return payload, true
}

func (in *Inflight) insertRTO(t time.Time, seqno Seqno) {
	in.rto[t] = append(in.rto[t], seqno)
}

func (in *Inflight) removeRTO(t time.Time, seqno Seqno) {
	seqnos, ok := in.rto[t]
	if !ok {
		return
	}
	out := seqnos[:0]
	for _, s := range seqnos {
		if s != seqno {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		delete(in.rto, t)
	} else {
		in.rto[t] = out
	}
}

// OldestSendTime returns the seqno and original SendTime of the
// longest-outstanding live segment, used by the connection-timeout
// backstop: a segment outstanding far longer than any plausible RTO
// indicates the peer is gone rather than merely lossy.
func (in *Inflight) OldestSendTime() (Seqno, time.Time, bool) {
	var best time.Time
	var bestSeqno Seqno
	found := false
	for s, e := range in.segments {
		if !found || e.SendTime.Before(best) {
			best = e.SendTime
			bestSeqno = s
			found = true
		}
	}
	if !found {
		return 0, time.Time{}, false
	}
	return bestSeqno, best, true
}

// Sent returns the total number of segments ever sent, including
// retransmissions.
func (in *Inflight) Sent() uint64 { return in.sent }

// Retrans returns the total number of retransmissions ever performed.
func (in *Inflight) Retrans() uint64 { return in.retrans }

// MinRTT returns the smallest RTT ever observed.
func (in *Inflight) MinRTT() time.Duration { return in.rtt.MinRTT() }

// RTO returns the current retransmission timeout.
func (in *Inflight) RTO() time.Duration { return in.rtt.RTO() }

// DeliveryRate returns the current estimated delivery rate, in bytes/sec.
func (in *Inflight) DeliveryRate() float64 { return in.bw.DeliveryRate() }

// BDP returns the bandwidth-delay product, in bytes: delivery_rate * min_rtt.
func (in *Inflight) BDP() float64 {
	return in.bw.DeliveryRate() * in.rtt.MinRTT().Seconds()
}

// LostCount returns the number of live entries currently marked known_lost.
func (in *Inflight) LostCount() int {
	n := 0
	for _, e := range in.segments {
		if e.KnownLost {
			n++
		}
	}
	return n
}

// RTOIndexSize exposes the total number of (time, seqno) pairs held by the
// RTO index, used by tests asserting the dual-index invariant in spec.md
// §4.4: every live, not-known-lost entry has exactly one RTO membership.
func (in *Inflight) RTOIndexSize() int {
	n := 0
	for _, seqnos := range in.rto {
		n += len(seqnos)
	}
	return n
}
