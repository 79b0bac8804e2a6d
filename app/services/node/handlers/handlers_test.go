package handlers_test

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ardanlabs/dlt/app/services/node/handlers"
	"github.com/ardanlabs/dlt/foundation/blockchain/genesis"
	"github.com/ardanlabs/dlt/foundation/blockchain/metrics"
	"github.com/ardanlabs/dlt/foundation/blockchain/network"
	"github.com/ardanlabs/dlt/foundation/blockchain/protocol"
	"github.com/ardanlabs/dlt/foundation/blockchain/signature"
	"github.com/ardanlabs/dlt/foundation/blockchain/state"
	"github.com/ardanlabs/dlt/foundation/blockchain/storage/memory"
	"github.com/ardanlabs/dlt/foundation/blockchain/transaction"
	"github.com/ardanlabs/dlt/foundation/events"
	"github.com/ardanlabs/dlt/foundation/nameservice"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var keys = []string{
	"fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959",
	"aed31b6b5a341af8f27e66fb0b7633cf20fc27049e3eb7f6f623a4655b719ebb",
}

type nopNetwork struct{}

func (nopNetwork) Broadcast(code protocol.Code, payload any) {}
func (nopNetwork) Send(host string, code protocol.Code, payload any) error { return nil }
func (nopNetwork) Peers() []string { return nil }

type app struct {
	state   *state.State
	public  http.Handler
	private http.Handler
	debug   http.Handler
}

func newApp(t *testing.T) app {
	pk, err := crypto.HexToECDSA(keys[0])
	require.NoError(t, err)
	owner := signature.PrivateKeyToAddress(pk)

	log := zap.NewNop().Sugar()

	mtrs, err := metrics.New()
	require.NoError(t, err)

	st, err := state.New(state.Config{
		Signer:      pk,
		Host:        "a:9080",
		Genesis:     genesis.Genesis{Balances: map[string]uint64{owner: 1000}},
		GenesisNode: true,
		Storage:     memory.New(),
		Network:     nopNetwork{},
		Metrics:     mtrs,
		Log:         log,
		Consensus: state.Consensus{
			BlockInterval: time.Hour,
			MinFee:        1,
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Shutdown() })

	st.Tick(time.Now())

	dir := t.TempDir()
	require.NoError(t, crypto.SaveECDSA(filepath.Join(dir, "node.ecdsa"), pk))

	ns, err := nameservice.New(dir)
	require.NoError(t, err)

	cfg := handlers.MuxConfig{
		Shutdown: make(chan os.Signal, 1),
		Log:      log,
		Metrics:  mtrs,
		State:    st,
		Evts:     events.New(),
		NS:       ns,
	}

	return app{
		state:   st,
		public:  handlers.PublicMux(cfg),
		private: handlers.PrivateMux(cfg),
		debug:   handlers.DebugMux("test", log, mtrs, st),
	}
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

// =============================================================================

func Test_Status(t *testing.T) {
	a := newApp(t)

	w := serve(a.public, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got struct {
		Mode   string `json:"mode"`
		Height uint64 `json:"height"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, "operating", got.Mode)
	require.Equal(t, uint64(1), got.Height)
}

func Test_BlockAndWallet(t *testing.T) {
	a := newApp(t)

	w := serve(a.public, httptest.NewRequest(http.MethodGet, "/v1/blocks/latest", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(a.public, httptest.NewRequest(http.MethodGet, "/v1/blocks/99", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	w = serve(a.public, httptest.NewRequest(http.MethodGet, "/v1/blocks/abc", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(a.public, httptest.NewRequest(http.MethodGet, "/v1/wallets/"+a.state.Address(), nil))
	require.Equal(t, http.StatusOK, w.Code)

	var wlt struct {
		Name      string `json:"name"`
		Balance   uint64 `json:"balance"`
		NextNonce uint64 `json:"next_nonce"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &wlt))
	require.Equal(t, "node", wlt.Name)
	require.Equal(t, uint64(1000), wlt.Balance)
	require.Equal(t, uint64(1), wlt.NextNonce)

	w = serve(a.public, httptest.NewRequest(http.MethodGet, "/v1/names", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var names map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &names))
	require.Equal(t, "node", names[a.state.Address()])
}

func Test_SubmitTransaction(t *testing.T) {
	a := newApp(t)

	addrs := make([]string, 0, len(keys))
	for _, k := range keys {
		pk, err := crypto.HexToECDSA(k)
		require.NoError(t, err)
		addrs = append(addrs, signature.PrivateKeyToAddress(pk))
	}

	signer, err := crypto.HexToECDSA(keys[0])
	require.NoError(t, err)

	tx := transaction.NewNormal(addrs[0], map[string]uint64{addrs[1]: 10}, 1, 1, 1)
	require.NoError(t, tx.Sign(signer))

	data, err := tx.Bytes()
	require.NoError(t, err)

	body, err := json.Marshal(map[string]string{"tx": hex.EncodeToString(data)})
	require.NoError(t, err)

	w := serve(a.public, httptest.NewRequest(http.MethodPost, "/v1/tx/submit", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = serve(a.public, httptest.NewRequest(http.MethodPost, "/v1/tx/submit", bytes.NewReader(body)))
	require.Equal(t, http.StatusConflict, w.Code, "a transaction already in the pool")

	w = serve(a.public, httptest.NewRequest(http.MethodPost, "/v1/tx/submit", bytes.NewReader([]byte(`{}`))))
	require.Equal(t, http.StatusBadRequest, w.Code, "the tx field is required")

	w = serve(a.public, httptest.NewRequest(http.MethodGet, "/v1/tx/pool", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var pool []struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pool))
	require.Len(t, pool, 1)
	require.Equal(t, tx.ID, pool[0].ID)
}

func Test_PrivateMessage(t *testing.T) {
	a := newApp(t)

	msg, err := protocol.NewMessage("c:9080", protocol.CodeHello, protocol.Hello{
		Version:   protocol.Version,
		Host:      "c:9080",
		Height:    1,
		Operating: true,
	})
	require.NoError(t, err)

	data, err := msg.Bytes()
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/v1/node/message", bytes.NewReader(data))
	r.Header.Set("Content-Type", network.ContentType)

	w := serve(a.private, r)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.Len(t, a.state.QueryPeers(), 1)

	r = httptest.NewRequest(http.MethodPost, "/v1/node/message", bytes.NewReader([]byte("garbage")))
	r.Header.Set("Content-Type", network.ContentType)

	w = serve(a.private, r)
	require.Equal(t, http.StatusBadRequest, w.Code)

	r = httptest.NewRequest(http.MethodPost, "/v1/node/message", bytes.NewReader(data))
	r.Header.Set("Content-Type", "application/json")

	w = serve(a.private, r)
	require.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func Test_Debug(t *testing.T) {
	a := newApp(t)

	w := serve(a.debug, httptest.NewRequest(http.MethodGet, "/debug/readiness", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(a.debug, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "dlt_chain_height")
}
