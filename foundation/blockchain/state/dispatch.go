package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/ardanlabs/dlt/foundation/blockchain/block"
	"github.com/ardanlabs/dlt/foundation/blockchain/peer"
	"github.com/ardanlabs/dlt/foundation/blockchain/protocol"
	"github.com/ardanlabs/dlt/foundation/blockchain/transaction"
	"github.com/ardanlabs/dlt/foundation/blockchain/txpool"
)

// maxTxsPerChunk bounds the transactions sent in a single chunk.
const maxTxsPerChunk = 500

// broadcastCodes are the codes relayed through the network. A broadcast
// arriving from several peers is handled once.
var broadcastCodes = map[protocol.Code]bool{
	protocol.CodeNewBlock:          true,
	protocol.CodeNewBlockSignature: true,
	protocol.CodeNewTransaction:    true,
}

// HandleMessage routes a message received from a peer to the component in
// charge of it. A failure handling one message never takes the node down.
func (s *State) HandleMessage(msg protocol.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.Panic()
			err = fmt.Errorf("PANIC handling %s from %s: %v", msg.Code, msg.From, r)
		}
	}()

	s.metrics.MessageReceived(msg.Code.String())

	if broadcastCodes[msg.Code] && !s.seen.Observe(msg) {
		s.metrics.MessageDropped("duplicate")
		return nil
	}

	if err := s.dispatch(msg); err != nil {
		if broadcastCodes[msg.Code] {
			s.seen.Forget(msg)
		}
		return fmt.Errorf("%s from %s: %w", msg.Code, msg.From, err)
	}

	return nil
}

func (s *State) dispatch(msg protocol.Message) error {
	from := msg.From

	switch msg.Code {
	case protocol.CodeHello:
		var hello protocol.Hello
		if err := msg.Decode(&hello); err != nil {
			return err
		}
		s.onHello(from, hello)

	case protocol.CodeNewBlock, protocol.CodeBlockData:
		var data protocol.BlockData
		if err := msg.Decode(&data); err != nil {
			return err
		}
		b, err := block.FromBytes(data.Block)
		if err != nil {
			return err
		}
		s.onBlock(b, from)

	case protocol.CodeNewBlockSignature:
		if s.IsSynchronizing() {
			return nil
		}
		var sig protocol.NewBlockSignature
		if err := msg.Decode(&sig); err != nil {
			return err
		}
		s.processor.OnSignatureReceived(sig)

	case protocol.CodeGetBlockSignatures:
		var req protocol.GetBlockSignatures
		if err := msg.Decode(&req); err != nil {
			return err
		}
		if resp, ok := s.processor.ServeBlockSignatures(req); ok {
			return s.network.Send(from, protocol.CodeBlockSignatures, resp)
		}

	case protocol.CodeBlockSignatures:
		var bs protocol.BlockSignatures
		if err := msg.Decode(&bs); err != nil {
			return err
		}
		if s.IsSynchronizing() {
			s.sync.OnBlockSignatures(bs)
			return nil
		}
		s.processor.OnBlockSignaturesReceived(bs)

	case protocol.CodeGetBlock:
		var req protocol.GetBlock
		if err := msg.Decode(&req); err != nil {
			return err
		}
		return s.serveBlock(from, req)

	case protocol.CodeGetBlockTransactions:
		var req protocol.GetBlockTransactions
		if err := msg.Decode(&req); err != nil {
			return err
		}
		return s.serveTransactions(from, req.IDs)

	case protocol.CodeSyncWalletState:
		if ws, ok := s.sync.ServeWalletStateHeader(); ok {
			return s.network.Send(from, protocol.CodeWalletState, ws)
		}

	case protocol.CodeWalletState:
		var ws protocol.WalletState
		if err := msg.Decode(&ws); err != nil {
			return err
		}
		s.sync.OnWalletStateHeader(from, ws)

	case protocol.CodeGetWalletStateChunk:
		var req protocol.GetWalletStateChunk
		if err := msg.Decode(&req); err != nil {
			return err
		}
		if chunk, ok := s.sync.ServeWalletStateChunk(req); ok {
			return s.network.Send(from, protocol.CodeWalletStateChunk, chunk)
		}

	case protocol.CodeWalletStateChunk:
		var chunk protocol.WalletStateChunk
		if err := msg.Decode(&chunk); err != nil {
			return err
		}
		s.sync.OnWalletStateChunk(from, chunk)

	case protocol.CodeNewTransaction, protocol.CodeTransactionData:
		var data protocol.TransactionData
		if err := msg.Decode(&data); err != nil {
			return err
		}
		return s.addTransaction(data.Tx, msg.Code == protocol.CodeNewTransaction)

	case protocol.CodeTransactionsChunk:
		var chunk protocol.TransactionsChunk
		if err := msg.Decode(&chunk); err != nil {
			return err
		}
		var errs error
		for _, data := range chunk.Txs {
			if err := s.addTransaction(data, false); err != nil {
				errs = errors.Join(errs, err)
			}
		}
		return errs

	default:
		return protocol.ErrUnknownCode
	}

	return nil
}

// =============================================================================

// onHello records the status of the peer and starts synchronizing when the
// peer is ahead.
func (s *State) onHello(from string, hello protocol.Hello) {
	status := peer.Status{
		Height:              hello.Height,
		Checksum:            hello.Checksum,
		WalletStateChecksum: hello.WalletStateChecksum,
		Operating:           hello.Operating,
		LastSeen:            time.Now(),
	}

	if s.knownPeers.Update(peer.New(hello.Host), status) {
		s.evHandler("state: hello: new peer[%s] height[%d]", hello.Host, hello.Height)
	}

	if s.sync.OnHello(from, hello) {
		s.evHandler("state: hello: peer[%s] ahead: height[%d] local[%d]", from, hello.Height, s.chain.LastHeight())
	}
}

// onBlock hands a block to block sync first. Blocks it doesn't consume go to
// the processor while the node operates.
func (s *State) onBlock(b *block.Block, from string) {
	if s.sync.OnBlockReceived(b, from) {
		return
	}

	if s.IsSynchronizing() {
		return
	}

	s.processor.OnBlockReceived(b, from)
}

// addTransaction decodes and pools a transaction sent by a peer. New
// transactions are relayed.
func (s *State) addTransaction(data []byte, relay bool) error {
	tx, err := transaction.Decode(data)
	if err != nil {
		return err
	}

	err = s.pool.Add(tx, relay && !s.IsSynchronizing())
	if errors.Is(err, txpool.ErrDuplicate) {
		return nil
	}

	return err
}

// =============================================================================

// Hello returns the status announced to peers.
func (s *State) Hello() protocol.Hello {
	return protocol.Hello{
		Version:             protocol.Version,
		Host:                s.host,
		Height:              s.chain.LastHeight(),
		Checksum:            s.chain.LastChecksum(),
		WalletStateChecksum: s.wallets.Checksum(),
		Operating:           !s.IsSynchronizing(),
	}
}

// SendHello announces the status of this node to every known peer.
func (s *State) SendHello() {
	s.network.Broadcast(protocol.CodeHello, s.Hello())
}

// serveBlock answers a block request. The transactions are sent ahead of
// the block when asked for.
func (s *State) serveBlock(to string, req protocol.GetBlock) error {
	b := s.chain.Block(req.Height)
	if b == nil {
		return nil
	}

	if req.IncludeTransactions && len(b.TransactionIDs) > 0 {
		if err := s.serveTransactions(to, b.TransactionIDs); err != nil {
			return err
		}
	}

	return s.network.Send(to, protocol.CodeBlockData, protocol.BlockData{Block: b.Bytes()})
}

// serveTransactions sends the known transactions among ids in chunks.
func (s *State) serveTransactions(to string, ids []string) error {
	var chunk [][]byte

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		err := s.network.Send(to, protocol.CodeTransactionsChunk, protocol.TransactionsChunk{Txs: chunk})
		chunk = nil
		return err
	}

	for _, id := range ids {
		tx := s.pool.Get(id)
		if tx == nil {
			continue
		}

		data, err := tx.Bytes()
		if err != nil {
			return err
		}

		chunk = append(chunk, data)
		if len(chunk) == maxTxsPerChunk {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	return flush()
}
