// Package private maintains the group of handlers for node to node access.
package private

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/ardanlabs/dlt/business/web/errs"
	"github.com/ardanlabs/dlt/foundation/blockchain/network"
	"github.com/ardanlabs/dlt/foundation/blockchain/protocol"
	"github.com/ardanlabs/dlt/foundation/blockchain/state"
	"github.com/ardanlabs/dlt/foundation/web"
	"go.uber.org/zap"
)

// maxMessageSize bounds the size of a message read from a peer.
const maxMessageSize = 32 << 20

// Handlers manages the set of node to node endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
}

// Message accepts a protocol message from a peer and hands it to the node.
func (h Handlers) Message(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	if ct := r.Header.Get("Content-Type"); ct != network.ContentType {
		return errs.NewTrusted(fmt.Errorf("unsupported content type %q", ct), http.StatusUnsupportedMediaType)
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to read message: %w", err), http.StatusBadRequest)
	}

	msg, err := protocol.FromBytes(data)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if err := h.State.HandleMessage(msg); err != nil {
		h.Log.Infow("message", "traceid", v.TraceID, "code", msg.Code, "from", msg.From, "ERROR", err)
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	return web.Respond(ctx, w, nil, http.StatusAccepted)
}

// Status returns the status this node announces to its peers.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	hello := h.State.Hello()

	resp := struct {
		Host      string `json:"host"`
		Height    uint64 `json:"height"`
		Operating bool   `json:"operating"`
	}{
		Host:      hello.Host,
		Height:    hello.Height,
		Operating: hello.Operating,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// ForceBlock makes the node propose a block without waiting for the block
// interval.
func (h Handlers) ForceBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if h.State.IsSynchronizing() {
		return errs.NewTrusted(state.ErrSynchronizing, http.StatusServiceUnavailable)
	}

	if h.State.Worker != nil {
		h.State.Worker.SignalForceBlock()
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "block signaled",
	}

	return web.Respond(ctx, w, resp, http.StatusAccepted)
}
