// Package worker provides the halt-channel goroutine lifecycle helper used
// by this module's test harness, in the
// same shape as the teacher repository's core/worker.Worker (embedded by
// value in both stream/stream.go's Stream and map/client/stream.go's
// Stream: s.Go(s.reader); s.Go(s.writer); loops select on s.HaltCh()).
// stream.State itself never uses this: tick() is synchronous per spec.md
// §5 ("tick never suspends"). Worker is for the fakes and harness code
// that stand in for the external multiplex actor in this module's tests.
package worker

import "sync"

// Worker embeds into a type that owns one or more background goroutines
// which must be cleanly stopped. Call Go for each goroutine; call Halt to
// request they stop (they must select on HaltCh()); call Wait to block
// until all of them have called Done.
type Worker struct {
	haltOnce sync.Once
	haltCh   chan struct{}
	wg       sync.WaitGroup
}

func (w *Worker) lazyInit() {
	if w.haltCh == nil {
		w.haltCh = make(chan struct{})
	}
}

// HaltCh returns the channel that is closed when Halt is called.
func (w *Worker) HaltCh() <-chan struct{} {
	w.lazyInit()
	return w.haltCh
}

// Go starts fn in a new goroutine tracked by this Worker.
func (w *Worker) Go(fn func()) {
	w.lazyInit()
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn()
	}()
}

// Done decrements the count that Wait blocks on. Only Go increments that
// count, and every goroutine started with Go already decrements it when it
// returns, so a Done with no matching increment makes the count negative
// and panics.
func (w *Worker) Done() {
	w.wg.Done()
}

// Halt closes HaltCh, signalling every tracked goroutine to stop. Safe to
// call more than once.
func (w *Worker) Halt() {
	w.lazyInit()
	w.haltOnce.Do(func() {
		close(w.haltCh)
	})
}

// Wait blocks until every goroutine started with Go has completed.
func (w *Worker) Wait() {
	w.wg.Wait()
}
