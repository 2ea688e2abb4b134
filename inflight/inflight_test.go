package inflight

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/duskrelay/muxcore/message"
)

func TestInsertAndMarkAcked(t *testing.T) {
	in := New(10*time.Millisecond, time.Second, 0, 60)
	msg := message.Rel(message.Data, 1, 0, []byte("abc"))
	in.Insert(msg)
	require.Equal(t, 1, in.Unacked())
	require.Equal(t, 1, in.RTOIndexSize())

	require.True(t, in.MarkAcked(0))
	require.Equal(t, 0, in.Unacked())
	require.Equal(t, 0, in.RTOIndexSize())
	require.False(t, in.MarkAcked(0))
}

func TestDuplicateInsertPanics(t *testing.T) {
	in := New(10*time.Millisecond, time.Second, 0, 60)
	in.Insert(message.Rel(message.Data, 1, 0, []byte("a")))
	require.Panics(t, func() {
		in.Insert(message.Rel(message.Data, 1, 0, []byte("a")))
	})
}

func TestMarkAckedLTCumulative(t *testing.T) {
	in := New(10*time.Millisecond, time.Second, 0, 60)
	for i := message.Seqno(0); i < 5; i++ {
		in.Insert(message.Rel(message.Data, 1, i, []byte("x")))
	}
	n := in.MarkAckedLT(3)
	require.Equal(t, 3, n)
	require.Equal(t, 2, in.Unacked())
}

func TestMarkLostKeepsEntryButDropsRTO(t *testing.T) {
	in := New(10*time.Millisecond, time.Second, 0, 60)
	in.Insert(message.Rel(message.Data, 1, 0, []byte("a")))
	require.True(t, in.MarkLost(0))
	require.Equal(t, 1, in.Unacked())
	require.Equal(t, 0, in.RTOIndexSize())
	require.Equal(t, 1, in.LostCount())
}

func TestRetransmitClearsLostAndReschedules(t *testing.T) {
	in := New(10*time.Millisecond, time.Second, 0, 60)
	in.Insert(message.Rel(message.Data, 1, 0, []byte("a")))
	in.MarkLost(0)
	msg, ok := in.Retransmit(0)
	require.True(t, ok)
	require.Equal(t, message.Seqno(0), msg.Seqno)
	require.Equal(t, 0, in.LostCount())
	require.Equal(t, 1, in.RTOIndexSize())
	require.Equal(t, uint64(1), in.Retrans())
}

func TestRetransmitBackoffCapped(t *testing.T) {
	in := New(1*time.Millisecond, time.Second, 0, 2)
	in.Insert(message.Rel(message.Data, 1, 0, []byte("a")))
	for i := 0; i < 10; i++ {
		_, ok := in.Retransmit(0)
		require.True(t, ok)
	}
	// with maxRetransMultiple=2, the schedule never drifts out past a few
	// RTOs even after many retransmissions
	_, retransAt, ok := in.FirstRTO()
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(2*time.Millisecond), retransAt, 50*time.Millisecond)
}

func TestFirstRTOPicksEarliest(t *testing.T) {
	in := New(10*time.Millisecond, time.Second, 0, 60)
	in.Insert(message.Rel(message.Data, 1, 0, []byte("a")))
	time.Sleep(time.Millisecond)
	in.Insert(message.Rel(message.Data, 1, 1, []byte("b")))
	seqno, _, ok := in.FirstRTO()
	require.True(t, ok)
	require.Equal(t, message.Seqno(0), seqno)
}

func TestKarnsAlgorithmSkipsRetransmittedSamples(t *testing.T) {
	in := New(1*time.Millisecond, time.Second, 0, 60)
	in.Insert(message.Rel(message.Data, 1, 0, []byte("a")))
	_, ok := in.Retransmit(0)
	require.True(t, ok)
	rtoBefore := in.RTO()
	in.MarkAcked(0)
	// no RTT sample was recorded (Retrans > 0), so RTO is unchanged
	require.Equal(t, rtoBefore, in.RTO())
}

func TestLastMinusFirst(t *testing.T) {
	in := New(10*time.Millisecond, time.Second, 0, 60)
	require.Equal(t, uint64(0), in.LastMinusFirst())
	in.Insert(message.Rel(message.Data, 1, 10, []byte("a")))
	in.Insert(message.Rel(message.Data, 1, 15, []byte("b")))
	require.Equal(t, uint64(5), in.LastMinusFirst())
}

func TestOldestSendTime(t *testing.T) {
	in := New(10*time.Millisecond, time.Second, 0, 60)
	in.Insert(message.Rel(message.Data, 1, 0, []byte("a")))
	time.Sleep(time.Millisecond)
	in.Insert(message.Rel(message.Data, 1, 1, []byte("b")))
	seqno, _, ok := in.OldestSendTime()
	require.True(t, ok)
	require.Equal(t, message.Seqno(0), seqno)
}

func TestRttCalculatorEWMA(t *testing.T) {
	c := NewRttCalculator(10*time.Millisecond, time.Second)
	require.Equal(t, 10*time.Millisecond, c.RTO())
	c.RecordSample(100 * time.Millisecond)
	require.Equal(t, 100*time.Millisecond, c.MinRTT())
	c.RecordSample(50 * time.Millisecond)
	require.Equal(t, 50*time.Millisecond, c.MinRTT())
	require.Greater(t, c.RTO(), 50*time.Millisecond)
}

func TestBwCalculatorDeliveryRate(t *testing.T) {
	bw := NewBwCalculator(time.Second)
	require.Equal(t, float64(0), bw.DeliveryRate())
	now := time.Now()
	bw.OnAck(1000, 0, now, now.Add(100*time.Millisecond))
	require.Greater(t, bw.DeliveryRate(), float64(0))
}
