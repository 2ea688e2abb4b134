package stream

import (
	"fmt"
	"time"

	"gopkg.in/eapache/channels.v1"
	logging "gopkg.in/op/go-logging.v1"

	"github.com/duskrelay/muxcore/config"
	"github.com/duskrelay/muxcore/congestion"
	"github.com/duskrelay/muxcore/inflight"
	"github.com/duskrelay/muxcore/internal/xlog"
	"github.com/duskrelay/muxcore/message"
	"github.com/duskrelay/muxcore/metrics"
	"github.com/duskrelay/muxcore/reorder"
)

// Phase is the lifecycle stage of a stream's state machine.
type Phase uint8

const (
	// PhasePending has not yet sent a Syn.
	PhasePending Phase = iota
	// PhaseSynSent has sent a Syn and is waiting for a SynAck, resending
	// on a timer.
	PhaseSynSent
	// PhaseEstablished exchanges Data/DataAck and obeys congestion control.
	PhaseEstablished
	// PhaseClosed answers any further incoming traffic with Rst until the
	// owning multiplex evicts it.
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "Pending"
	case PhaseSynSent:
		return "SynSent"
	case PhaseEstablished:
		return "Established"
	case PhaseClosed:
		return "Closed"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

// State is the per-stream reliability state machine described in
// spec.md §4.4: it owns the reorder buffer, the inflight ledger, a
// pluggable congestion controller, and the shared queues a Handle reads
// and writes through. All of State's methods except InjectIncoming and
// Wakeups are meant to be called by a single owning goroutine (the
// multiplex actor, external to this package); State itself does no
// internal locking beyond what shared already provides for the Handle
// side.
type State struct {
	log *logging.Logger
	cfg config.Params

	streamID uint16
	s        *shared

	phase      Phase
	nextResend time.Time
	closedAt   time.Time

	incoming *channels.InfiniteChannel

	readUntil message.Seqno
	reorderer *reorder.Reorderer

	ackSeqnos  map[message.Seqno]struct{}
	ackTimerAt time.Time

	nextWriteSeqno message.Seqno
	inflight       *inflight.Inflight
	congestion     congestion.Controller

	haveLastLoss      bool
	lastLoss          time.Time
	lastSegmentSentAt time.Time

	metrics *metrics.Collector
}

func newController(cfg config.Params) congestion.Controller {
	if cfg.Congestion == "cubic" {
		return congestion.NewPaced(congestion.NewCubic(cfg.CubicBeta, cfg.CubicC))
	}
	return congestion.NewHighspeed(1)
}

func newState(streamID uint16, additionalData string, cfg config.Params, logBackend *xlog.Backend, collector *metrics.Collector) (*State, *shared) {
	if logBackend == nil {
		logBackend = xlog.Nop()
	}
	s := newShared(additionalData)
	st := &State{
		log:      logBackend.GetLogger("stream"),
		cfg:      cfg,
		streamID: streamID,
		s:        s,

		incoming: channels.NewInfiniteChannel(),

		reorderer: reorder.New(cfg.ReordererCap),
		ackSeqnos: make(map[message.Seqno]struct{}),

		inflight:   inflight.New(cfg.MinRTO, cfg.MaxRTO, 0, cfg.MaxRetransMultiple),
		congestion: newController(cfg),

		metrics: collector,
	}
	return st, s
}

// NewPending creates a stream in Pending phase, the initiator side of a
// handshake: its first tick() will emit a Syn carrying additionalData.
func NewPending(streamID uint16, additionalData string, cfg config.Params, logBackend *xlog.Backend, collector *metrics.Collector) (*State, *Handle) {
	st, s := newState(streamID, additionalData, cfg, logBackend, collector)
	st.phase = PhasePending
	return st, newHandle(s, cfg)
}

// NewEstablished creates a stream already in Established phase, the
// accepting side of a handshake that has already observed the peer's Syn
// (additionalData is that Syn's payload). Its Handle resolves
// WaitConnected immediately.
func NewEstablished(streamID uint16, additionalData string, cfg config.Params, logBackend *xlog.Backend, collector *metrics.Collector) (*State, *Handle) {
	st, s := newState(streamID, additionalData, cfg, logBackend, collector)
	st.phase = PhaseEstablished
	s.connected = true
	return st, newHandle(s, cfg)
}

// Phase returns the current phase, for tests and multiplex bookkeeping.
func (st *State) Phase() Phase { return st.phase }

// StreamID returns the stream id this state was constructed with.
func (st *State) StreamID() uint16 { return st.streamID }

// Wakeups returns the channel that receives a value whenever a Handle has
// produced or consumed bytes and this stream should be ticked soon. At
// most one pending wake is buffered.
func (st *State) Wakeups() <-chan struct{} { return st.s.wake.C() }

// Evictable reports whether a Closed-phase stream has finished its drain
// window and may be removed by the owning multiplex.
func (st *State) Evictable(now time.Time) bool {
	return st.phase == PhaseClosed && !st.closedAt.IsZero() && now.Sub(st.closedAt) >= st.cfg.CloseDrainDuration
}

// Close releases the goroutine and queue backing incoming. The owning
// multiplex must call this once Evictable reports true and the stream is
// removed from its table; State itself never calls this on its own.
func (st *State) Close() {
	st.incoming.Close()
}

// closeNow transitions the stream to Closed and, unlike the Evictable
// drain window, wakes any Handle blocked in Read/Write immediately: a
// peer Rst or the connection-timeout backstop is not something a blocked
// caller should have to wait CloseDrainDuration to learn about.
func (st *State) closeNow(now time.Time) {
	st.phase = PhaseClosed
	st.closedAt = now
	st.s.mu.Lock()
	alreadyClosed := st.s.closed
	st.s.closed = true
	st.s.mu.Unlock()
	if !alreadyClosed {
		st.s.ready.NotifyAll()
	}
}

// InjectIncoming hands msg to the state machine. It is safe to call from
// any goroutine; the message is only processed on a subsequent Tick.
func (st *State) InjectIncoming(msg message.Message) {
	st.incoming.In() <- msg
}

func (st *State) popIncoming() (message.Message, bool) {
	select {
	case v, ok := <-st.incoming.Out():
		if !ok {
			return message.Message{}, false
		}
		return v.(message.Message), true
	default:
		return message.Message{}, false
	}
}

// Tick advances the state machine by one step: it drains incoming
// messages, advances the read half, fills the congestion window on the
// write half, retransmits timed-out segments, and returns the deadline
// by which Tick should be called again (absent any earlier wake).
func (st *State) Tick(emit func(message.Message)) time.Time {
	now := time.Now()

	switch st.phase {
	case PhasePending:
		return st.tickPending(now, emit)
	case PhaseSynSent:
		return st.tickSynSent(now, emit)
	case PhaseEstablished:
		return st.tickEstablished(now, emit)
	case PhaseClosed:
		return st.tickClosed(now, emit)
	default:
		return now.Add(st.cfg.IdleRetickInterval)
	}
}

func (st *State) tickPending(now time.Time, emit func(message.Message)) time.Time {
	emit(message.Rel(message.Syn, st.streamID, 0, []byte(st.s.additionalData)))
	st.phase = PhaseSynSent
	st.nextResend = now.Add(st.cfg.SynResendInterval)
	return st.nextResend
}

func (st *State) tickSynSent(now time.Time, emit func(message.Message)) time.Time {
	gotSynAck := false
	for {
		msg, ok := st.popIncoming()
		if !ok {
			break
		}
		if msg.Reliable && msg.Kind == message.SynAck {
			gotSynAck = true
		}
		if msg.Reliable && msg.Kind == message.Rst {
			st.closeNow(now)
			return now
		}
	}
	if gotSynAck {
		st.phase = PhaseEstablished
		st.s.mu.Lock()
		st.s.connected = true
		st.s.mu.Unlock()
		st.s.ready.NotifyAll()
		return now
	}
	if !now.Before(st.nextResend) {
		emit(message.Rel(message.Syn, st.streamID, 0, []byte(st.s.additionalData)))
		st.nextResend = now.Add(st.cfg.SynResendInterval)
	}
	return st.nextResend
}

func (st *State) tickEstablished(now time.Time, emit func(message.Message)) time.Time {
	st.tickRead(now, emit)
	if st.phase == PhaseClosed {
		// A peer Rst fired inside tickRead above; closeNow already woke
		// any blocked Handle, so run tickClosed on the very next call
		// instead of waiting out the drain window.
		return now
	}
	st.tickWrite(now, emit)

	st.s.mu.Lock()
	closing := st.s.closed
	writeEmpty := st.s.writeStream.Len() == 0
	st.s.mu.Unlock()

	if st.phase == PhaseClosed {
		// The connection-timeout backstop fired inside tickWrite above;
		// same reasoning as the tickRead case.
		return now
	}

	// The local handle has asked to close; keep flushing pending writes
	// and acks until nothing remains outstanding, mirroring connvars.rs's
	// check_closed gate rather than cutting the stream immediately.
	if closing && writeEmpty && st.inflight.Unacked() == 0 {
		st.phase = PhaseClosed
		st.closedAt = now
		return now.Add(st.cfg.CloseDrainDuration)
	}

	if st.metrics != nil {
		id := fmt.Sprintf("%d", st.streamID)
		st.metrics.Sample(id, st.congestion.Cwnd(), st.inflight.MinRTT().Seconds(), st.inflight.RTO().Seconds(), st.inflight.Unacked(), st.inflight.DeliveryRate())
	}

	return st.retickTime(now)
}

func (st *State) tickClosed(now time.Time, emit func(message.Message)) time.Time {
	st.s.mu.Lock()
	alreadyClosed := st.s.closed
	st.s.closed = true
	st.s.mu.Unlock()
	if !alreadyClosed {
		st.s.ready.NotifyAll()
	}

	sawAny := false
	for {
		_, ok := st.popIncoming()
		if !ok {
			break
		}
		sawAny = true
	}
	if sawAny {
		emit(message.Rel(message.Rst, st.streamID, 0, nil))
	}
	return now.Add(st.cfg.CloseDrainDuration)
}

func (st *State) tickRead(now time.Time, emit func(message.Message)) {
	genAck := false

	for {
		msg, ok := st.popIncoming()
		if !ok {
			break
		}

		if !msg.Reliable {
			st.s.mu.Lock()
			if !st.s.closed {
				st.s.pushRecvUrel(msg.Payload)
			}
			st.s.mu.Unlock()
			st.s.ready.NotifyAll()
			continue
		}

		switch msg.Kind {
		case message.Data:
			genAck = true
			st.s.mu.Lock()
			overCap := st.s.readStream.Len() > st.cfg.ReadDropCap
			st.s.mu.Unlock()
			if overCap {
				continue
			}
			if st.reorderer.Insert(msg.Seqno, msg.Payload) {
				st.ackSeqnos[msg.Seqno] = struct{}{}
				if st.cfg.AckDelay > 0 && st.ackTimerAt.IsZero() {
					st.ackTimerAt = now.Add(st.cfg.AckDelay)
				}
			}

		case message.DataAck:
			newlyAcked := st.inflight.MarkAckedLT(msg.Seqno)
			for i := 0; i < newlyAcked; i++ {
				st.congestion.MarkAck(st.inflight.BDP(), st.inflight.MinRTT())
			}
			sacks, err := message.DecodeSack(msg.Payload)
			if err != nil {
				st.log.Warningf("stream %d: ignoring unparsable selective-ack payload: %v", st.streamID, err)
			}
			for _, sn := range sacks {
				if st.inflight.MarkAcked(sn) {
					st.congestion.MarkAck(st.inflight.BDP(), st.inflight.MinRTT())
				}
			}

		case message.Syn:
			// A retransmitted Syn after we are already established: reply
			// with SynAck again rather than re-running the handshake.
			emit(message.Rel(message.SynAck, st.streamID, msg.Seqno, msg.Payload))

		case message.Rst:
			st.closeNow(now)
			return
		}
	}

	entries := st.reorderer.Take()
	if len(entries) > 0 {
		st.s.mu.Lock()
		for _, e := range entries {
			st.s.readStream.Write(e.Payload)
		}
		st.s.mu.Unlock()
		st.s.ready.NotifyAll()
		if st.metrics != nil {
			n := 0
			for _, e := range entries {
				n += len(e.Payload)
			}
			st.metrics.AddBytesRead(fmt.Sprintf("%d", st.streamID), n)
		}
	}
	st.readUntil = st.reorderer.NextExpected()

	timerDue := !st.ackTimerAt.IsZero() && !now.Before(st.ackTimerAt)
	if !genAck && !timerDue {
		return
	}

	forceAck := st.cfg.AckBatch > 0 && len(st.ackSeqnos) >= st.cfg.AckBatch
	immediate := st.cfg.AckDelay <= 0

	if immediate || forceAck || timerDue {
		sacks := make([]message.Seqno, 0, len(st.ackSeqnos))
		for sn := range st.ackSeqnos {
			sacks = append(sacks, sn)
		}
		for k := range st.ackSeqnos {
			delete(st.ackSeqnos, k)
		}
		st.ackTimerAt = time.Time{}
		emit(message.Rel(message.DataAck, st.streamID, st.readUntil, message.EncodeSack(sacks)))
	}
}

func (st *State) tickWrite(now time.Time, emit func(message.Message)) {
	for uint64(st.congestion.Cwnd()) > st.inflight.LastMinusFirst() {
		if pacer, ok := st.congestion.(congestion.Pacer); ok {
			interval := pacer.PacingInterval(st.inflight.MinRTT())
			if interval > 0 && now.Sub(st.lastSegmentSentAt) < interval {
				break
			}
		}

		st.s.mu.Lock()
		if st.s.writeStream.Len() == 0 {
			st.s.mu.Unlock()
			break
		}
		buf := make([]byte, st.cfg.MSS)
		n, _ := st.s.writeStream.Read(buf)
		st.s.mu.Unlock()
		buf = buf[:n]

		seqno := st.nextWriteSeqno
		st.nextWriteSeqno++
		msg := message.Rel(message.Data, st.streamID, seqno, buf)
		st.inflight.Insert(msg)
		emit(msg)
		st.lastSegmentSentAt = now
		st.s.ready.NotifyAll()
		if st.metrics != nil {
			st.metrics.AddBytesWritten(fmt.Sprintf("%d", st.streamID), n)
		}
	}

	retransmitted := 0
	for {
		seqno, retransAt, ok := st.inflight.FirstRTO()
		if !ok || now.Before(retransAt) {
			break
		}
		if !st.haveLastLoss || now.Sub(st.lastLoss) > st.inflight.MinRTT() {
			st.congestion.MarkLoss()
			st.lastLoss = now
			st.haveLastLoss = true
		}
		msg, ok := st.inflight.Retransmit(seqno)
		if !ok {
			break
		}
		emit(msg)
		retransmitted++
	}
	if retransmitted > 0 && st.metrics != nil {
		st.metrics.AddRetrans(fmt.Sprintf("%d", st.streamID), retransmitted)
	}

	if oldestSeqno, sendTime, ok := st.inflight.OldestSendTime(); ok {
		if now.Sub(sendTime) > st.cfg.ConnectionTimeout {
			st.log.Warningf("stream %d: seqno %d outstanding %s, exceeding connection timeout; resetting", st.streamID, oldestSeqno, now.Sub(sendTime))
			emit(message.Rel(message.Rst, st.streamID, 0, nil))
			st.closeNow(now)
		}
	}
}

func (st *State) retickTime(now time.Time) time.Time {
	earliest := now.Add(st.cfg.IdleRetickInterval)
	if _, t, ok := st.inflight.FirstRTO(); ok && t.Before(earliest) {
		earliest = t
	}
	if !st.ackTimerAt.IsZero() && st.ackTimerAt.Before(earliest) {
		earliest = st.ackTimerAt
	}

	// A paced controller that broke tickWrite's send loop on cooldown
	// rather than on an empty window needs its own wake, or a backlog in
	// write_stream only drains at the RTO/idle cadence above.
	if pacer, ok := st.congestion.(congestion.Pacer); ok && uint64(st.congestion.Cwnd()) > st.inflight.LastMinusFirst() {
		st.s.mu.Lock()
		backlog := st.s.writeStream.Len() > 0
		st.s.mu.Unlock()
		if backlog {
			if interval := pacer.PacingInterval(st.inflight.MinRTT()); interval > 0 {
				if t := st.lastSegmentSentAt.Add(interval); t.Before(earliest) {
					earliest = t
				}
			}
		}
	}

	return earliest
}
