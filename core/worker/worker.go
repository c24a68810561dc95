// Package worker provides the halt-channel embedding used across nsbroker's
// long-lived goroutines: embed a Worker, launch goroutines with Go, and
// Halt() closes HaltCh() exactly once so every goroutine observes shutdown.
package worker

import "sync"

// Worker is embedded by types that own background goroutines needing a
// single, idempotent shutdown signal.
type Worker struct {
	haltOnce sync.Once
	haltCh   chan struct{}
	initOnce sync.Once
	wg       sync.WaitGroup
}

func (w *Worker) init() {
	w.initOnce.Do(func() {
		w.haltCh = make(chan struct{})
	})
}

// HaltCh returns the channel that is closed when Halt is called.
func (w *Worker) HaltCh() chan struct{} {
	w.init()
	return w.haltCh
}

// Go launches fn in a goroutine tracked by this Worker's WaitGroup.
func (w *Worker) Go(fn func()) {
	w.init()
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn()
	}()
}

// Halt closes HaltCh, waking every goroutine selecting on it, and blocks
// until all goroutines launched via Go have returned. Safe to call more
// than once; only the first call has effect.
func (w *Worker) Halt() {
	w.init()
	w.haltOnce.Do(func() {
		close(w.haltCh)
	})
	w.wg.Wait()
}
