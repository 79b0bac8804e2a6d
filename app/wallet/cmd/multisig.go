package cmd

import (
	"fmt"
	"log"

	"github.com/ardanlabs/dlt/foundation/blockchain/transaction"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var (
	msOp       string
	msSigner   string
	msRequired uint8
)

// multisigCmd represents the multisig command
var multisigCmd = &cobra.Command{
	Use:   "multisig",
	Short: "Change the signers of a multisig wallet",
	Long: `Change the signers of a multisig wallet. Operations are add-signer,
remove-signer and required. The first change of a plain wallet turns it
into a multisig wallet. Co-signers repeat the change with --orig set.`,
	Run: func(cmd *cobra.Command, args []string) {
		privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
		if err != nil {
			log.Fatal(err)
		}

		var op transaction.MultisigOp
		switch msOp {
		case "add-signer":
			op = transaction.AddSigner(msSigner, origTxID)
		case "remove-signer":
			op = transaction.RemoveSigner(msSigner, origTxID)
		case "required":
			op = transaction.ChangeRequiredSigs(msRequired, origTxID)
		default:
			log.Fatal(fmt.Errorf("unknown operation %q", msOp))
		}

		nonce, height, err := nextNonce(from)
		if err != nil {
			log.Fatal(err)
		}

		tx, err := transaction.NewChangeMultisig(from, op, fee, height, nonce)
		if err != nil {
			log.Fatal(err)
		}

		if err := submit(privateKey, tx); err != nil {
			log.Fatal(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(multisigCmd)
	multisigCmd.Flags().StringVarP(&msOp, "op", "x", "", "Operation: add-signer, remove-signer or required.")
	multisigCmd.MarkFlagRequired("op")
	multisigCmd.Flags().StringVarP(&from, "multisig", "m", "", "Wallet whose signers change.")
	multisigCmd.MarkFlagRequired("multisig")
	multisigCmd.Flags().StringVarP(&msSigner, "signer", "s", "", "Signer address to add or remove.")
	multisigCmd.Flags().Uint8VarP(&msRequired, "required", "r", 0, "Number of required signatures.")
	multisigCmd.Flags().Uint64VarP(&fee, "fee", "f", 1, "Fee to pay for the transaction.")
	multisigCmd.Flags().StringVarP(&origTxID, "orig", "o", "", "Id of the change to co-sign.")
}
