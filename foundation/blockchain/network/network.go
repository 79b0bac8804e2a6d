// Package network implements the transport nodes use to exchange protocol
// messages. Messages are posted to the private API of the peer.
package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ardanlabs/dlt/foundation/blockchain/metrics"
	"github.com/ardanlabs/dlt/foundation/blockchain/peer"
	"github.com/ardanlabs/dlt/foundation/blockchain/protocol"
	"go.uber.org/zap"
)

// ErrQueueFull is returned when a message can't be queued for sending.
var ErrQueueFull = errors.New("send queue full")

// ContentType is the media type of an encoded message.
const ContentType = "application/msgpack"

// Defaults used when the configuration leaves a value unset.
const (
	defaultTimeout   = 5 * time.Second
	defaultQueueSize = 1000
	defaultSenders   = 4
)

const messageURL = "http://%s/v1/node/message"

// Config represents the configuration required to construct the network.
type Config struct {
	Host      string
	Peers     *peer.PeerSet
	Log       *zap.SugaredLogger
	Metrics   *metrics.Metrics
	Timeout   time.Duration
	QueueSize int
	Senders   int
}

type outbound struct {
	host string
	msg  protocol.Message
}

// Network sends messages from a bounded queue drained by a fixed set of
// goroutines so callers never block on a slow peer.
type Network struct {
	host    string
	peers   *peer.PeerSet
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
	client  http.Client
	queue   chan outbound
	wg      sync.WaitGroup
	shut    chan struct{}
	once    sync.Once
}

// New constructs the network and starts the senders.
func New(cfg Config) *Network {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop().Sugar()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Senders == 0 {
		cfg.Senders = defaultSenders
	}

	n := Network{
		host:    cfg.Host,
		peers:   cfg.Peers,
		log:     cfg.Log,
		metrics: cfg.Metrics,
		client:  http.Client{Timeout: cfg.Timeout},
		queue:   make(chan outbound, cfg.QueueSize),
		shut:    make(chan struct{}),
	}

	n.wg.Add(cfg.Senders)
	for range cfg.Senders {
		go func() {
			defer n.wg.Done()
			n.sender()
		}()
	}

	return &n
}

// Shutdown stops the senders. Queued messages are discarded.
func (n *Network) Shutdown() {
	n.once.Do(func() {
		close(n.shut)
		n.wg.Wait()
	})
}

// Host returns the host peers use to reach this node.
func (n *Network) Host() string {
	return n.host
}

// =============================================================================
// These methods implement the protocol.Network interface.

// Broadcast queues the message for every known peer.
func (n *Network) Broadcast(code protocol.Code, payload any) {
	msg, err := protocol.NewMessage(n.host, code, payload)
	if err != nil {
		n.log.Errorw("network: Broadcast", "code", code, "ERROR", err)
		return
	}

	for _, host := range n.Peers() {
		if err := n.enqueue(host, msg); err != nil {
			n.log.Infow("network: Broadcast", "peer", host, "code", code, "ERROR", err)
		}
	}
}

// Send queues the message for the peer.
func (n *Network) Send(host string, code protocol.Code, payload any) error {
	msg, err := protocol.NewMessage(n.host, code, payload)
	if err != nil {
		return err
	}

	return n.enqueue(host, msg)
}

// Peers returns the hosts of the known peers.
func (n *Network) Peers() []string {
	return n.peers.Hosts(n.host)
}

// =============================================================================

// Deliver posts the message to the peer and waits for the answer.
func (n *Network) Deliver(ctx context.Context, host string, msg protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	url := fmt.Sprintf(messageURL, host)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", ContentType)

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
	if err != nil {
		return err
	}

	return fmt.Errorf("%s: status %d: %s", host, resp.StatusCode, bytes.TrimSpace(body))
}

func (n *Network) enqueue(host string, msg protocol.Message) error {
	select {
	case <-n.shut:
		return net.ErrClosed
	default:
	}

	select {
	case n.queue <- outbound{host: host, msg: msg}:
		return nil
	default:
		n.metrics.MessageDropped("queue_full")
		return ErrQueueFull
	}
}

func (n *Network) sender() {
	for {
		select {
		case out := <-n.queue:
			err := n.Deliver(context.Background(), out.host, out.msg)
			n.metrics.MessageSent(out.msg.Code.String(), err)
			if err != nil {
				n.log.Debugw("network: send", "peer", out.host, "code", out.msg.Code, "ERROR", err)
			}

		case <-n.shut:
			return
		}
	}
}
