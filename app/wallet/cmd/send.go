package cmd

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"log"

	"github.com/ardanlabs/dlt/foundation/blockchain/signature"
	"github.com/ardanlabs/dlt/foundation/blockchain/transaction"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var (
	outputs  map[string]int64
	fee      uint64
	from     string
	origTxID string
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send transaction",
	Run: func(cmd *cobra.Command, args []string) {
		privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
		if err != nil {
			log.Fatal(err)
		}

		to := make(map[string]uint64, len(outputs))
		for address, amount := range outputs {
			if amount <= 0 {
				log.Fatalf("amount for %s must be positive", address)
			}
			to[address] = uint64(amount)
		}

		if err := sendWithDetails(privateKey, to); err != nil {
			log.Fatal(err)
		}
	},
}

func sendWithDetails(privateKey *ecdsa.PrivateKey, to map[string]uint64) error {
	sender := signature.PrivateKeyToAddress(privateKey)

	// A multisig send spends from the multisig wallet and consumes its nonce.
	spender := sender
	if from != "" {
		spender = from
	}

	nonce, height, err := nextNonce(spender)
	if err != nil {
		return err
	}

	var tx *transaction.Transaction
	switch {
	case from != "":
		tx = transaction.NewMultisig(from, to, fee, height, nonce, origTxID)
	default:
		tx = transaction.NewNormal(sender, to, fee, height, nonce)
	}

	return submit(privateKey, tx)
}

// submit signs the transaction and hands it to the node.
func submit(privateKey *ecdsa.PrivateKey, tx *transaction.Transaction) error {
	if err := tx.Sign(privateKey); err != nil {
		return err
	}

	data, err := tx.Bytes()
	if err != nil {
		return err
	}

	req := struct {
		Tx string `json:"tx"`
	}{
		Tx: hex.EncodeToString(data),
	}

	var resp struct {
		Status string `json:"status"`
		ID     string `json:"id"`
	}
	if err := post("/v1/tx/submit", req, &resp); err != nil {
		return err
	}

	fmt.Println(resp.Status)
	fmt.Println(resp.ID)

	return nil
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringToInt64VarP(&outputs, "to", "t", nil, "Recipients as address=amount pairs.")
	sendCmd.MarkFlagRequired("to")
	sendCmd.Flags().Uint64VarP(&fee, "fee", "f", 1, "Fee to pay for the transaction.")
	sendCmd.Flags().StringVarP(&from, "multisig", "m", "", "Multisig wallet to spend from.")
	sendCmd.Flags().StringVarP(&origTxID, "orig", "o", "", "Id of the multisig transaction to co-sign.")
}
