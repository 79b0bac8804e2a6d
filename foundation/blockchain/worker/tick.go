package worker

import (
	"time"
)

// tickOperations runs the scheduler passes of the node. A forced block is
// proposed without waiting for the next tick.
func (w *Worker) tickOperations() {
	w.evHandler("worker: tickOperations: G started")
	defer w.evHandler("worker: tickOperations: G completed")

	for {
		select {
		case now := <-w.tickTicker.C:
			if !w.isShutdown() {
				w.state.Tick(now)
			}
		case <-w.forceBlock:
			if !w.isShutdown() {
				w.state.ForceNewBlock()
				w.state.Tick(time.Now())
			}
		case <-w.shut:
			w.evHandler("worker: tickOperations: received shut signal")
			return
		}
	}
}
