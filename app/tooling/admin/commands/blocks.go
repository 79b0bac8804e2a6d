// Package commands contains the functionality for the admin commands.
package commands

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/ardanlabs/dlt/foundation/blockchain/signature"
	"github.com/ardanlabs/dlt/foundation/blockchain/storage"
)

// Blocks prints the stored blocks, optionally restricted to a range of
// heights.
func Blocks(args []string, w io.Writer, st *storage.Storage) error {
	latest, err := st.LatestHeight()
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			fmt.Fprintln(w, "no blocks stored")
			return nil
		}
		return err
	}

	from, to := uint64(1), latest
	if len(args) > 2 {
		if from, err = strconv.ParseUint(args[2], 10, 64); err != nil {
			return fmt.Errorf("invalid from height: %w", err)
		}
	}
	if len(args) > 3 {
		if to, err = strconv.ParseUint(args[3], 10, 64); err != nil {
			return fmt.Errorf("invalid to height: %w", err)
		}
	}

	fmt.Fprintf(w, "LatestHeight: %d\n\n", latest)

	blocks, err := st.Blocks(from, to)
	if err != nil {
		return err
	}

	for _, b := range blocks {
		fmt.Fprintf(w, "Height: %d  Checksum: %s  Txs: %d  Signers: %d\n",
			b.Height, signature.Hex(b.Checksum), len(b.TransactionIDs), b.SignatureCount())
	}

	return nil
}
