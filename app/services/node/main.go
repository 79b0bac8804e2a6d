package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/ardanlabs/dlt/app/services/node/handlers"
	"github.com/ardanlabs/dlt/foundation/blockchain/genesis"
	"github.com/ardanlabs/dlt/foundation/blockchain/metrics"
	"github.com/ardanlabs/dlt/foundation/blockchain/network"
	"github.com/ardanlabs/dlt/foundation/blockchain/peer"
	"github.com/ardanlabs/dlt/foundation/blockchain/state"
	"github.com/ardanlabs/dlt/foundation/blockchain/storage"
	"github.com/ardanlabs/dlt/foundation/blockchain/storage/memory"
	"github.com/ardanlabs/dlt/foundation/blockchain/storage/pebbledb"
	"github.com/ardanlabs/dlt/foundation/blockchain/worker"
	"github.com/ardanlabs/dlt/foundation/events"
	"github.com/ardanlabs/dlt/foundation/logger"
	"github.com/ardanlabs/dlt/foundation/nameservice"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	// This is all the configuration for the application and the default values.
	// Configuration values will be passed through the application as individual
	// values.
	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			PrivateHost     string        `conf:"default:0.0.0.0:9080"`
		}
		State struct {
			KeyPath     string   `conf:"default:zblock/node.ecdsa"`
			GenesisPath string   `conf:"default:zblock/genesis.json"`
			GenesisNode bool     `conf:"default:false"`
			KnownPeers  []string `conf:"default:0.0.0.0:9080;0.0.0.0:9180"`
			WalletsPath string   `conf:"default:zblock/wallets/"`
		}
		Storage struct {
			Engine string `conf:"default:pebble,help:pebble or memory"`
			Path   string `conf:"default:zblock/chain"`
		}
		Consensus struct {
			BlockInterval  time.Duration `conf:"default:30s"`
			ConsensusRatio uint64        `conf:"default:66"`
			RedactedWindow uint64        `conf:"default:3000"`
			Difficulty     uint64        `conf:"default:16"`
			MinFee         uint64        `conf:"default:1"`
			PowReward      uint64        `conf:"default:50"`
			StakingReward  uint64        `conf:"default:10"`
			Strategy       string        `conf:"default:nonce"`
			MaxTxsPerBlock int           `conf:"default:2000"`
		}
		Sync struct {
			ChunkSize        int           `conf:"default:500"`
			MaxBlockRequests int           `conf:"default:50"`
			RequestTimeout   time.Duration `conf:"default:10s"`
			Watchdog         time.Duration `conf:"default:120s"`
		}
		Worker struct {
			TickInterval  time.Duration `conf:"default:1s"`
			HelloInterval time.Duration `conf:"default:30s"`
			PeerExpiry    time.Duration `conf:"default:5m"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "distributed ledger node",
		},
	}

	// Parse will set the defaults and then look for any overriding values
	// in environment variables and command line flags.
	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Blockchain Support

	// Need to load the private key file for the node so it can sign the
	// blocks it proposes and receive its staking rewards.
	privateKey, err := crypto.LoadECDSA(cfg.State.KeyPath)
	if err != nil {
		return fmt.Errorf("unable to load private key for node: %w", err)
	}

	gen, err := genesis.Load(cfg.State.GenesisPath)
	if err != nil {
		return fmt.Errorf("unable to load genesis: %w", err)
	}

	// The name service maps wallet addresses to the names of their key files
	// for display in the public API.
	ns, err := nameservice.New(cfg.State.WalletsPath)
	if err != nil {
		return fmt.Errorf("unable to load name service: %w", err)
	}

	for address, name := range ns.Copy() {
		log.Infow("startup", "status", "nameservice", "name", name, "address", address)
	}

	engine, err := openStorage(cfg.Storage.Engine, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("unable to open storage: %w", err)
	}

	mtrs, err := metrics.New()
	if err != nil {
		return fmt.Errorf("unable to construct metrics: %w", err)
	}

	// A peer set is a collection of known nodes in the network so transactions
	// and blocks can be shared.
	peerSet := peer.NewPeerSet()
	for _, host := range cfg.State.KnownPeers {
		if host != cfg.Web.PrivateHost {
			peerSet.Add(peer.New(host))
		}
	}

	nw := network.New(network.Config{
		Host:    cfg.Web.PrivateHost,
		Peers:   peerSet,
		Log:     log,
		Metrics: mtrs,
	})
	defer nw.Shutdown()

	// The blockchain packages accept a function of this signature to allow the
	// application to log. For now, these raw messages are sent to any websocket
	// client that is connected into the system through the events package.
	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(s)
	}

	// The state value represents the blockchain node and manages the blockchain
	// storage and provides an API for application support.
	st, err := state.New(state.Config{
		Signer:      privateKey,
		Host:        cfg.Web.PrivateHost,
		Genesis:     gen,
		GenesisNode: cfg.State.GenesisNode,
		Storage:     engine,
		KnownPeers:  peerSet,
		Network:     nw,
		Metrics:     mtrs,
		Log:         log,
		EvHandler:   ev,
		Consensus: state.Consensus{
			BlockInterval:  cfg.Consensus.BlockInterval,
			ConsensusRatio: cfg.Consensus.ConsensusRatio,
			RedactedWindow: cfg.Consensus.RedactedWindow,
			Difficulty:     cfg.Consensus.Difficulty,
			MinFee:         cfg.Consensus.MinFee,
			PowReward:      cfg.Consensus.PowReward,
			StakingReward:  cfg.Consensus.StakingReward,
			Strategy:       cfg.Consensus.Strategy,
			MaxTxsPerBlock: cfg.Consensus.MaxTxsPerBlock,
		},
		Sync: state.Sync{
			ChunkSize:        cfg.Sync.ChunkSize,
			MaxBlockRequests: cfg.Sync.MaxBlockRequests,
			RequestTimeout:   cfg.Sync.RequestTimeout,
			Watchdog:         cfg.Sync.Watchdog,
		},
	})
	if err != nil {
		return err
	}
	defer st.Shutdown()

	// The worker package implements the scheduler and peer updates. The
	// worker will register itself with the state.
	worker.Run(st, worker.Config{
		TickInterval:  cfg.Worker.TickInterval,
		HelloInterval: cfg.Worker.HelloInterval,
		PeerExpiry:    cfg.Worker.PeerExpiry,
	}, ev)

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	// The Debug function returns a mux to listen and serve on for all the debug
	// related endpoints. This includes the standard library endpoints.

	// Construct the mux for the debug calls.
	debugMux := handlers.DebugMux(build, log, mtrs, st)

	// Start the service listening for debug requests.
	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	muxCfg := handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		Metrics:  mtrs,
		State:    st,
		Evts:     evts,
		NS:       ns,
	}

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	// Construct a server to service the requests against the mux.
	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      handlers.PublicMux(muxCfg),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Start Private Service

	log.Infow("startup", "status", "initializing V1 private API support")

	// Construct a server to service the requests against the mux.
	private := http.Server{
		Addr:         cfg.Web.PrivateHost,
		Handler:      handlers.PrivateMux(muxCfg),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "private api router started", "host", private.Addr)
		serverErrors <- private.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancelPri := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPri()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown private API started")
		if err := private.Shutdown(ctx); err != nil {
			private.Close()
			return fmt.Errorf("could not stop private service gracefully: %w", err)
		}

		// Give outstanding requests a deadline for completion.
		ctx, cancelPub := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPub()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}

// openStorage opens the configured storage engine.
func openStorage(engine string, path string) (storage.Engine, error) {
	switch engine {
	case "pebble":
		return pebbledb.New(path)
	case "memory":
		return memory.New(), nil
	}

	return nil, fmt.Errorf("unknown storage engine %q", engine)
}
