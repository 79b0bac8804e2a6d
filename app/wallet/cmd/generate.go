package cmd

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/ardanlabs/dlt/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

// generateCmd represents the generate command
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate new key pair",
	Run: func(cmd *cobra.Command, args []string) {
		path := getPrivateKeyPath()
		if _, err := os.Stat(path); err == nil {
			log.Fatalf("key file %s already exists", path)
		}

		privateKey, err := crypto.GenerateKey()
		if err != nil {
			log.Fatal(err)
		}

		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			log.Fatal(err)
		}
		if err := crypto.SaveECDSA(path, privateKey); err != nil {
			log.Fatal(err)
		}

		fmt.Println(signature.PrivateKeyToAddress(privateKey))
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)
}
