// Package protocol defines the messages nodes exchange: their codes,
// payloads and encoding.
package protocol

import (
	"fmt"
)

// Version is the protocol version announced in hello messages.
const Version uint32 = 1

// Code identifies the payload carried by a message.
type Code uint8

// Set of message codes.
const (
	CodeHello Code = iota + 1
	CodeNewBlock
	CodeBlockData
	CodeNewBlockSignature
	CodeGetBlockSignatures
	CodeBlockSignatures
	CodeGetBlock
	CodeGetBlockTransactions
	CodeSyncWalletState
	CodeWalletState
	CodeGetWalletStateChunk
	CodeWalletStateChunk
	CodeNewTransaction
	CodeTransactionData
	CodeTransactionsChunk
)

var codeNames = map[Code]string{
	CodeHello:                "hello",
	CodeNewBlock:             "newBlock",
	CodeBlockData:            "blockData",
	CodeNewBlockSignature:    "newBlockSignature",
	CodeGetBlockSignatures:   "getBlockSignatures",
	CodeBlockSignatures:      "blockSignatures",
	CodeGetBlock:             "getBlock",
	CodeGetBlockTransactions: "getBlockTransactions",
	CodeSyncWalletState:      "syncWalletState",
	CodeWalletState:          "walletState",
	CodeGetWalletStateChunk:  "getWalletStateChunk",
	CodeWalletStateChunk:     "walletStateChunk",
	CodeNewTransaction:       "newTransaction",
	CodeTransactionData:      "transactionData",
	CodeTransactionsChunk:    "transactionsChunk",
}

// String implements the fmt.Stringer interface.
func (c Code) String() string {
	if name, exists := codeNames[c]; exists {
		return name
	}
	return fmt.Sprintf("code(%d)", uint8(c))
}

// Valid reports whether the code is known.
func (c Code) Valid() bool {
	_, exists := codeNames[c]
	return exists
}

// =============================================================================

// Network interface represents the transport components use to reach
// their peers. Payloads are encoded by the transport.
type Network interface {
	Broadcast(code Code, payload any)
	Send(host string, code Code, payload any) error
	Peers() []string
}
