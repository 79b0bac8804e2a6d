// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"

	"github.com/ardanlabs/dlt/app/services/node/handlers/v1/private"
	"github.com/ardanlabs/dlt/app/services/node/handlers/v1/public"
	"github.com/ardanlabs/dlt/foundation/blockchain/state"
	"github.com/ardanlabs/dlt/foundation/events"
	"github.com/ardanlabs/dlt/foundation/nameservice"
	"github.com/ardanlabs/dlt/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log   *zap.SugaredLogger
	State *state.State
	Evts  *events.Events
	NS    *nameservice.NameService
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
		WS:    websocket.Upgrader{},
		Evts:  cfg.Evts,
		NS:    cfg.NS,
	}

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/status", pbl.Status)
	app.Handle(http.MethodGet, version, "/peers", pbl.Peers)
	app.Handle(http.MethodGet, version, "/names", pbl.Names)
	app.Handle(http.MethodGet, version, "/blocks/:height", pbl.Block)
	app.Handle(http.MethodGet, version, "/wallets/:address", pbl.Wallet)
	app.Handle(http.MethodGet, version, "/wallets/:address/transactions", pbl.WalletTransactions)
	app.Handle(http.MethodGet, version, "/tx/pool", pbl.Pool)
	app.Handle(http.MethodGet, version, "/tx/pool/:address", pbl.Pool)
	app.Handle(http.MethodGet, version, "/tx/id/:id", pbl.Transaction)
	app.Handle(http.MethodPost, version, "/tx/submit", pbl.SubmitTransaction)
}

// PrivateRoutes binds all the version 1 private routes.
func PrivateRoutes(app *web.App, cfg Config) {
	prv := private.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
	}

	app.Handle(http.MethodPost, version, "/node/message", prv.Message)
	app.Handle(http.MethodGet, version, "/node/status", prv.Status)
	app.Handle(http.MethodPost, version, "/node/block/force", prv.ForceBlock)
}
