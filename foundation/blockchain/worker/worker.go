// Package worker implements the scheduler and peer updates for the
// blockchain node.
package worker

import (
	"sync"
	"time"

	"github.com/ardanlabs/dlt/foundation/blockchain/state"
)

// Defaults used when the configuration leaves a value unset.
const (
	DefaultTickInterval  = time.Second
	DefaultHelloInterval = 30 * time.Second
	DefaultPeerExpiry    = 5 * time.Minute
)

// Config represents the intervals the worker runs on.
type Config struct {
	TickInterval  time.Duration
	HelloInterval time.Duration
	PeerExpiry    time.Duration
}

// =============================================================================

// Worker drives the node: it runs the scheduler passes of the state and
// announces the node to its peers.
type Worker struct {
	state       *state.State
	wg          sync.WaitGroup
	tickTicker  *time.Ticker
	helloTicker *time.Ticker
	peerExpiry  time.Duration
	shut        chan struct{}
	forceBlock  chan bool
	hello       chan bool
	evHandler   state.EventHandler
}

// Run creates a worker, registers the worker with the state package, and
// starts up all the background processes.
func Run(st *state.State, cfg Config, evHandler state.EventHandler) {
	if cfg.TickInterval == 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.HelloInterval == 0 {
		cfg.HelloInterval = DefaultHelloInterval
	}
	if cfg.PeerExpiry == 0 {
		cfg.PeerExpiry = DefaultPeerExpiry
	}
	if evHandler == nil {
		evHandler = func(v string, args ...any) {}
	}

	w := Worker{
		state:       st,
		tickTicker:  time.NewTicker(cfg.TickInterval),
		helloTicker: time.NewTicker(cfg.HelloInterval),
		peerExpiry:  cfg.PeerExpiry,
		shut:        make(chan struct{}),
		forceBlock:  make(chan bool, 1),
		hello:       make(chan bool, 1),
		evHandler:   evHandler,
	}

	// Register this worker with the state package.
	st.Worker = &w

	// Let the peers know about this node before starting any support G's.
	st.SendHello()

	// Load the set of operations we need to run.
	operations := []func(){
		w.tickOperations,
		w.peerOperations,
	}

	// Set waitgroup to match the number of G's we need for the set
	// of operations we have.
	g := len(operations)
	w.wg.Add(g)

	// We don't want to return until we know all the G's are up and running.
	hasStarted := make(chan bool)

	// Start all the operational G's.
	for _, op := range operations {
		go func(op func()) {
			defer w.wg.Done()
			hasStarted <- true
			op()
		}(op)
	}

	// Wait for the G's to report they are running.
	for range g {
		<-hasStarted
	}
}

// =============================================================================
// These methods implement the state.Worker interface.

// Shutdown terminates the goroutines performing work.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	w.evHandler("worker: shutdown: stop tickers")
	w.tickTicker.Stop()
	w.helloTicker.Stop()

	w.evHandler("worker: shutdown: terminate goroutines")
	close(w.shut)
	w.wg.Wait()
}

// SignalForceBlock makes the node propose a block on the next pass. If there
// is already a signal pending in the channel, just return since a block
// will be proposed.
func (w *Worker) SignalForceBlock() {
	select {
	case w.forceBlock <- true:
		w.evHandler("worker: SignalForceBlock: block signaled")
	default:
	}
}

// SignalHello announces the node to its peers right away.
func (w *Worker) SignalHello() {
	select {
	case w.hello <- true:
	default:
	}
}

// =============================================================================

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}
