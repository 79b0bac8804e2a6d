// This program inspects the storage of a stopped node.
package main

import (
	"fmt"
	"os"

	"github.com/ardanlabs/dlt/app/tooling/admin/commands"
	"github.com/ardanlabs/dlt/foundation/blockchain/storage"
	"github.com/ardanlabs/dlt/foundation/blockchain/storage/pebbledb"
	"github.com/ardanlabs/dlt/foundation/logger"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("ADMIN")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {
	if len(os.Args) < 2 {
		return fmt.Errorf("usage: admin [blocks|trans|tx] ... (build %s)", build)
	}

	path := os.Getenv("ADMIN_STORAGE_PATH")
	if path == "" {
		path = "zblock/chain"
	}

	engine, err := pebbledb.New(path)
	if err != nil {
		return err
	}

	st := storage.New(engine, log)
	defer st.Close()

	return processCommands(os.Args, st)
}

// processCommands handles the execution of the commands specified on
// the command line.
func processCommands(args []string, st *storage.Storage) error {
	switch args[1] {
	case "blocks":
		if err := commands.Blocks(args, os.Stdout, st); err != nil {
			return fmt.Errorf("getting blocks: %w", err)
		}
	case "trans":
		if err := commands.Transactions(args, os.Stdout, st); err != nil {
			return fmt.Errorf("getting transactions: %w", err)
		}
	case "tx":
		if err := commands.Transaction(args, os.Stdout, st); err != nil {
			return fmt.Errorf("getting transaction: %w", err)
		}
	default:
		return fmt.Errorf("unknown command %q", args[1])
	}

	return nil
}
