package worker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGoRunsAndWaitBlocksUntilDone(t *testing.T) {
	var w Worker
	var ran int32
	w.Go(func() {
		atomic.StoreInt32(&ran, 1)
	})
	w.Wait()
	require.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestHaltStopsASelectingLoop(t *testing.T) {
	var w Worker
	stopped := make(chan struct{})
	w.Go(func() {
		for {
			select {
			case <-w.HaltCh():
				close(stopped)
				return
			case <-time.After(time.Millisecond):
			}
		}
	})
	w.Halt()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("loop did not observe Halt")
	}
	w.Wait()
}

func TestHaltIsIdempotent(t *testing.T) {
	var w Worker
	w.Halt()
	require.NotPanics(t, func() { w.Halt() })
}
