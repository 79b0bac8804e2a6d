// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ardanlabs/dlt/business/web/errs"
	"github.com/ardanlabs/dlt/foundation/blockchain/state"
	"github.com/ardanlabs/dlt/foundation/blockchain/transaction"
	"github.com/ardanlabs/dlt/foundation/blockchain/txpool"
	"github.com/ardanlabs/dlt/foundation/events"
	"github.com/ardanlabs/dlt/foundation/nameservice"
	"github.com/ardanlabs/dlt/foundation/validate"
	"github.com/ardanlabs/dlt/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// queryErrors maps the query errors to their status.
var queryErrors = []errs.Mapping{
	{Err: state.ErrNotFound, Status: http.StatusNotFound},
}

// submitErrors maps the submission errors to their status.
var submitErrors = []errs.Mapping{
	{Err: state.ErrSynchronizing, Status: http.StatusServiceUnavailable},
	{Err: txpool.ErrDuplicate, Status: http.StatusConflict},
}

// Handlers manages the set of public node endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	WS    websocket.Upgrader
	Evts  *events.Events
	NS    *nameservice.NameService
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// Status returns the current status of the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, toStatus(h.State.QueryStatus()), http.StatusOK)
}

// Block returns the block at the height or the latest block.
func (h Handlers) Block(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	height := state.QueryLatest
	if param := web.Param(r, "height"); param != "latest" {
		var err error
		if height, err = strconv.ParseUint(param, 10, 64); err != nil {
			return errs.NewTrusted(fmt.Errorf("invalid height %q", param), http.StatusBadRequest)
		}
	}

	b, err := h.State.QueryBlock(height)
	if err != nil {
		return errs.Classify(err, http.StatusBadRequest, queryErrors...)
	}

	return web.Respond(ctx, w, toBlock(b), http.StatusOK)
}

// Wallet returns the account state of the address.
func (h Handlers) Wallet(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	wlt, err := h.State.QueryWallet(web.Param(r, "address"))
	if err != nil {
		return errs.Classify(err, http.StatusBadRequest, queryErrors...)
	}

	return web.Respond(ctx, w, toWallet(wlt, h.NS.Lookup(wlt.Address)), http.StatusOK)
}

// WalletTransactions returns the stored transactions of the address.
func (h Handlers) WalletTransactions(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	trans, err := h.State.QueryTransactionsByAddress(web.Param(r, "address"))
	if err != nil {
		return errs.Classify(err, http.StatusBadRequest, queryErrors...)
	}

	return web.Respond(ctx, w, toTxs(trans), http.StatusOK)
}

// Transaction returns the transaction by id.
func (h Handlers) Transaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	t, err := h.State.QueryTransaction(web.Param(r, "id"))
	if err != nil {
		return errs.Classify(err, http.StatusBadRequest, queryErrors...)
	}

	return web.Respond(ctx, w, toTx(t), http.StatusOK)
}

// Pool returns the transactions waiting for a block. The optional address
// parameter restricts the list to the transactions sent from or to it.
func (h Handlers) Pool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	addr := strings.ToLower(web.Param(r, "address"))

	trans := h.State.QueryPool()
	if addr != "" {
		trans = slices.DeleteFunc(trans, func(t *transaction.Transaction) bool {
			if strings.ToLower(t.From) == addr {
				return false
			}
			for to := range t.To {
				if strings.ToLower(to) == addr {
					return false
				}
			}
			return true
		})
	}

	return web.Respond(ctx, w, toTxs(trans), http.StatusOK)
}

// Peers returns the known peers and their last reported status.
func (h Handlers) Peers(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var out []peerStatus
	for p, st := range h.State.QueryPeers() {
		ps := peerStatus{
			Host:      p.Host,
			Height:    st.Height,
			Operating: st.Operating,
		}
		if len(st.Checksum) > 0 {
			ps.Checksum = hex.EncodeToString(st.Checksum)
		}
		if !st.LastSeen.IsZero() {
			ps.LastSeen = st.LastSeen.UTC().Format(time.RFC3339)
		}
		out = append(out, ps)
	}

	slices.SortFunc(out, func(a, b peerStatus) int {
		return strings.Compare(a.Host, b.Host)
	})

	return web.Respond(ctx, w, out, http.StatusOK)
}

// Names returns the known wallet names by address.
func (h Handlers) Names(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.NS.Copy(), http.StatusOK)
}

// SubmitTransaction adds a signed wallet transaction to the pool.
func (h Handlers) SubmitTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var req submitTx
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if err := validate.Check(req); err != nil {
		return err
	}

	data, err := hex.DecodeString(req.Tx)
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode transaction: %w", err), http.StatusBadRequest)
	}

	t, err := transaction.Decode(data)
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode transaction: %w", err), http.StatusBadRequest)
	}

	h.Log.Infow("submit tran", "traceid", v.TraceID, "id", t.ID, "type", t.Type, "from", t.From, "fee", t.Fee)
	if err := h.State.SubmitTransaction(t); err != nil {
		return errs.Classify(err, http.StatusBadRequest, submitErrors...)
	}

	resp := struct {
		Status string `json:"status"`
		ID     string `json:"id"`
	}{
		Status: "transaction added to the pool",
		ID:     t.ID,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}
