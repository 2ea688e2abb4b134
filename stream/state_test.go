package stream

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/duskrelay/muxcore/config"
	"github.com/duskrelay/muxcore/message"
)

func testConfig() config.Params {
	p := config.Default()
	p.MSS = 4
	p.MinRTO = 5 * time.Millisecond
	p.MaxRTO = 50 * time.Millisecond
	p.CloseDrainDuration = 10 * time.Millisecond
	p.IdleRetickInterval = time.Hour
	p.ConnectionTimeout = time.Hour
	return p
}

func tickInto(st *State) []message.Message {
	var out []message.Message
	st.Tick(func(m message.Message) { out = append(out, m) })
	return out
}

func TestHandshakeAndDataTransfer(t *testing.T) {
	cfg := testConfig()
	client, clientHandle := NewPending(1, "hi there", cfg, nil, nil)

	emitted := tickInto(client)
	require.Len(t, emitted, 1)
	require.Equal(t, message.Syn, emitted[0].Kind)
	require.Equal(t, "hi there", string(emitted[0].Payload))
	require.Equal(t, PhaseSynSent, client.Phase())

	server, serverHandle := NewEstablished(1, string(emitted[0].Payload), cfg, nil, nil)
	require.True(t, serverHandle.Connected())

	server.InjectIncoming(emitted[0])
	serverReply := tickInto(server)
	require.Len(t, serverReply, 1)
	require.Equal(t, message.SynAck, serverReply[0].Kind)

	client.InjectIncoming(serverReply[0])
	require.Empty(t, tickInto(client))
	require.Equal(t, PhaseEstablished, client.Phase())
	require.True(t, clientHandle.Connected())

	n, err := clientHandle.Write(context.Background(), []byte("abc"))
	require.NoError(t, err)
	require.Equal(t, 3, n)

	dataMsgs := tickInto(client)
	require.Len(t, dataMsgs, 1)
	require.Equal(t, message.Data, dataMsgs[0].Kind)
	require.Equal(t, []byte("abc"), dataMsgs[0].Payload)

	server.InjectIncoming(dataMsgs[0])
	ackMsgs := tickInto(server)
	require.Len(t, ackMsgs, 1)
	require.Equal(t, message.DataAck, ackMsgs[0].Kind)
	require.Equal(t, message.Seqno(1), ackMsgs[0].Seqno)

	buf := make([]byte, 16)
	n, err = serverHandle.Read(context.Background(), buf)
	require.NoError(t, err)
	require.Equal(t, "abc", string(buf[:n]))

	client.InjectIncoming(ackMsgs[0])
	require.Empty(t, tickInto(client))
	require.Equal(t, 0, client.inflight.Unacked())
}

func TestOutOfOrderDeliveryProducesCumulativeAck(t *testing.T) {
	cfg := testConfig()
	server, serverHandle := NewEstablished(9, "", cfg, nil, nil)

	server.InjectIncoming(message.Rel(message.Data, 9, 2, []byte("c")))
	server.InjectIncoming(message.Rel(message.Data, 9, 0, []byte("a")))
	server.InjectIncoming(message.Rel(message.Data, 9, 1, []byte("b")))

	emitted := tickInto(server)
	require.Len(t, emitted, 1)
	require.Equal(t, message.DataAck, emitted[0].Kind)
	require.Equal(t, message.Seqno(3), emitted[0].Seqno)

	buf := make([]byte, 16)
	n, err := serverHandle.Read(context.Background(), buf)
	require.NoError(t, err)
	require.Equal(t, "abc", string(buf[:n]))
}

func TestPacketLossTriggersRTORetransmit(t *testing.T) {
	cfg := testConfig()
	client, clientHandle := NewPending(1, "", cfg, nil, nil)
	tickInto(client) // Syn
	client.phase = PhaseEstablished
	client.s.mu.Lock()
	client.s.connected = true
	client.s.mu.Unlock()

	_, err := clientHandle.Write(context.Background(), []byte("abc"))
	require.NoError(t, err)

	sent := tickInto(client)
	require.Len(t, sent, 1)
	require.Equal(t, message.Seqno(0), sent[0].Seqno)
	require.Equal(t, uint64(0), client.inflight.Retrans())

	time.Sleep(cfg.MaxRTO)
	resent := tickInto(client)
	require.Len(t, resent, 1)
	require.Equal(t, message.Seqno(0), resent[0].Seqno)
	require.Equal(t, uint64(1), client.inflight.Retrans())
}

func TestDuplicateSynAfterEstablishedGetsSynAckAgain(t *testing.T) {
	cfg := testConfig()
	server, _ := NewEstablished(3, "payload", cfg, nil, nil)

	server.InjectIncoming(message.Rel(message.Syn, 3, 0, []byte("payload")))
	emitted := tickInto(server)
	require.Len(t, emitted, 1)
	require.Equal(t, message.SynAck, emitted[0].Kind)
	require.Equal(t, PhaseEstablished, server.Phase())
}

func TestPeerResetClosesStream(t *testing.T) {
	cfg := testConfig()
	server, serverHandle := NewEstablished(4, "", cfg, nil, nil)

	server.InjectIncoming(message.Rel(message.Rst, 4, 0, nil))
	tickInto(server)
	require.Equal(t, PhaseClosed, server.Phase())
	require.True(t, serverHandle.Closed())
}

func TestWriteBackpressureBlocksUntilDrained(t *testing.T) {
	cfg := testConfig()
	cfg.WriteCap = 1
	client, clientHandle := NewPending(1, "", cfg, nil, nil)
	tickInto(client)
	client.phase = PhaseEstablished
	client.s.mu.Lock()
	client.s.connected = true
	client.s.mu.Unlock()

	_, err := clientHandle.Write(context.Background(), []byte("ab"))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, werr := clientHandle.Write(context.Background(), []byte("cd"))
		require.NoError(t, werr)
	}()

	select {
	case <-done:
		t.Fatal("write should have blocked above WriteCap")
	case <-time.After(20 * time.Millisecond):
	}

	tickInto(client) // drains write_stream onto the wire, freeing capacity

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("write did not unblock after drain")
	}
}

func TestWriteReturnsErrClosedAfterClose(t *testing.T) {
	cfg := testConfig()
	_, h := NewPending(1, "", cfg, nil, nil)
	h.Close()
	_, err := h.Write(context.Background(), []byte("x"))
	require.ErrorIs(t, err, ErrClosed)
}

func TestReadReturnsEOFAfterCloseWithEmptyBuffer(t *testing.T) {
	cfg := testConfig()
	_, h := NewPending(1, "", cfg, nil, nil)
	h.Close()
	buf := make([]byte, 4)
	_, err := h.Read(context.Background(), buf)
	require.ErrorIs(t, err, io.EOF)
}
