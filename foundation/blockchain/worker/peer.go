package worker

import (
	"time"
)

// peerOperations announces this node to its peers and forgets the peers
// that went silent.
func (w *Worker) peerOperations() {
	w.evHandler("worker: peerOperations: G started")
	defer w.evHandler("worker: peerOperations: G completed")

	for {
		select {
		case <-w.helloTicker.C:
			if !w.isShutdown() {
				w.runPeersOperation(time.Now())
			}
		case <-w.hello:
			if !w.isShutdown() {
				w.state.SendHello()
			}
		case <-w.shut:
			w.evHandler("worker: peerOperations: received shut signal")
			return
		}
	}
}

// runPeersOperation expires silent peers and sends a hello to the rest.
func (w *Worker) runPeersOperation(now time.Time) {
	for _, p := range w.state.KnownPeers().Expire(now.Add(-w.peerExpiry)) {
		w.evHandler("worker: runPeersOperation: peer[%s] expired", p.Host)
	}

	w.state.SendHello()
}
