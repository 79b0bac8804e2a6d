package protocol_test

import (
	"fmt"
	"testing"

	"github.com/ardanlabs/dlt/foundation/blockchain/protocol"
	"github.com/ardanlabs/dlt/foundation/blockchain/wallet"
	"github.com/stretchr/testify/require"
)

func Test_MessageRoundTrip(t *testing.T) {
	hello := protocol.Hello{
		Version:   protocol.Version,
		Host:      "0.0.0.0:9080",
		Height:    42,
		Checksum:  []byte{1, 2, 3},
		Operating: true,
	}

	msg, err := protocol.NewMessage("0.0.0.0:9080", protocol.CodeHello, hello)
	require.NoError(t, err)
	require.False(t, msg.Compressed)
	require.NotEmpty(t, msg.ID)

	data, err := msg.Bytes()
	require.NoError(t, err)

	got, err := protocol.FromBytes(data)
	require.NoError(t, err)
	require.Equal(t, msg, got)

	var decoded protocol.Hello
	require.NoError(t, got.Decode(&decoded))
	require.Equal(t, hello, decoded)
}

func Test_LargePayloadCompressed(t *testing.T) {
	chunk := protocol.WalletStateChunk{Height: 10, Index: 1}
	for i := range 500 {
		chunk.Wallets = append(chunk.Wallets, wallet.Wallet{
			Address: fmt.Sprintf("0x%040x", i),
			Balance: uint64(i),
		})
	}

	msg, err := protocol.NewMessage("node", protocol.CodeWalletStateChunk, chunk)
	require.NoError(t, err)
	require.True(t, msg.Compressed)

	var decoded protocol.WalletStateChunk
	require.NoError(t, msg.Decode(&decoded))
	require.Equal(t, chunk, decoded)
}

func Test_InvalidPayload(t *testing.T) {
	msg, err := protocol.NewMessage("node", protocol.CodeGetBlock, protocol.GetBlock{})
	require.NoError(t, err)

	var decoded protocol.GetBlock
	require.Error(t, msg.Decode(&decoded))

	_, err = protocol.NewMessage("node", protocol.Code(200), protocol.GetBlock{Height: 1})
	require.ErrorIs(t, err, protocol.ErrUnknownCode)
}

func Test_Seen(t *testing.T) {
	seen, err := protocol.NewSeen(16)
	require.NoError(t, err)

	a, err := protocol.NewMessage("node-a", protocol.CodeGetBlock, protocol.GetBlock{Height: 7})
	require.NoError(t, err)
	b, err := protocol.NewMessage("node-b", protocol.CodeGetBlock, protocol.GetBlock{Height: 7})
	require.NoError(t, err)
	c, err := protocol.NewMessage("node-a", protocol.CodeGetBlock, protocol.GetBlock{Height: 8})
	require.NoError(t, err)

	require.True(t, seen.Observe(a))
	require.False(t, seen.Observe(b))
	require.True(t, seen.Observe(c))

	seen.Forget(a)
	require.True(t, seen.Observe(b))
}
