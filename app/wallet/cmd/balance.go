package cmd

import (
	"fmt"
	"log"

	"github.com/ardanlabs/dlt/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var balanceAddress string

// balanceCmd represents the balance command
var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print your balance.",
	Run: func(cmd *cobra.Command, args []string) {
		address := balanceAddress
		if address == "" {
			privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
			if err != nil {
				log.Fatal(err)
			}
			address = signature.PrivateKeyToAddress(privateKey)
		}

		var w wallet
		if err := get("/v1/wallets/"+address, &w); err != nil {
			log.Fatal(err)
		}

		fmt.Println("For Wallet:", w.Address)
		fmt.Println("Balance:", w.Balance)
		fmt.Println("Nonce:", w.Nonce)
		if w.Multisig {
			fmt.Println("Multisig: yes")
		}
	},
}

func init() {
	rootCmd.AddCommand(balanceCmd)
	balanceCmd.Flags().StringVarP(&balanceAddress, "address", "a", "", "Address to query instead of the local wallet.")
}
