package commands

import (
	"fmt"
	"io"

	"github.com/ardanlabs/dlt/foundation/blockchain/storage"
	"github.com/ardanlabs/dlt/foundation/blockchain/transaction"
)

// Transactions prints the stored transactions sent from or to an address.
func Transactions(args []string, w io.Writer, st *storage.Storage) error {
	if len(args) < 3 {
		return fmt.Errorf("address required")
	}

	txs, err := st.TransactionsByAddress(args[2])
	if err != nil {
		return err
	}

	for _, tx := range txs {
		printTx(w, tx)
	}

	return nil
}

// Transaction prints the stored transaction with the id.
func Transaction(args []string, w io.Writer, st *storage.Storage) error {
	if len(args) < 3 {
		return fmt.Errorf("id required")
	}

	tx, err := st.Transaction(args[2])
	if err != nil {
		return err
	}

	printTx(w, tx)

	return nil
}

func printTx(w io.Writer, tx *transaction.Transaction) {
	fmt.Fprintf(w, "ID: %s  Type: %s  From: %s  Fee: %d  Height: %d  Applied: %d\n",
		tx.ID, tx.Type, tx.From, tx.Fee, tx.BlockHeight, tx.Applied)
	for _, out := range tx.Outputs() {
		fmt.Fprintf(w, "    To: %s  Amount: %d\n", out.Address, out.Amount)
	}
}
