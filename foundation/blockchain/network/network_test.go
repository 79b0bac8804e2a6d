package network_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ardanlabs/dlt/foundation/blockchain/network"
	"github.com/ardanlabs/dlt/foundation/blockchain/peer"
	"github.com/ardanlabs/dlt/foundation/blockchain/protocol"
	"github.com/stretchr/testify/require"
)

func Test_SendAndBroadcast(t *testing.T) {
	received := make(chan protocol.Message, 10)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/node/message", r.URL.Path)
		require.Equal(t, network.ContentType, r.Header.Get("Content-Type"))

		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		msg, err := protocol.FromBytes(data)
		require.NoError(t, err)
		received <- msg

		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")

	peers := peer.NewPeerSet()
	peers.Add(peer.New(host))
	peers.Add(peer.New("self:9080"))

	n := network.New(network.Config{Host: "self:9080", Peers: peers})
	defer n.Shutdown()

	require.Equal(t, []string{host}, n.Peers())

	require.NoError(t, n.Send(host, protocol.CodeGetBlock, protocol.GetBlock{Height: 7}))

	select {
	case msg := <-received:
		require.Equal(t, protocol.CodeGetBlock, msg.Code)
		require.Equal(t, "self:9080", msg.From)

		var req protocol.GetBlock
		require.NoError(t, msg.Decode(&req))
		require.Equal(t, uint64(7), req.Height)
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}

	n.Broadcast(protocol.CodeHello, protocol.Hello{Version: protocol.Version, Host: "self:9080", Height: 3})

	select {
	case msg := <-received:
		require.Equal(t, protocol.CodeHello, msg.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast not delivered")
	}
}

func Test_DeliverError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "refused", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	n := network.New(network.Config{Host: "self:9080", Peers: peer.NewPeerSet()})
	defer n.Shutdown()

	msg, err := protocol.NewMessage("self:9080", protocol.CodeSyncWalletState, protocol.SyncWalletState{})
	require.NoError(t, err)

	err = n.Deliver(t.Context(), strings.TrimPrefix(srv.URL, "http://"), msg)
	require.ErrorContains(t, err, "503")
	require.ErrorContains(t, err, "refused")
}
