package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/Mindburn-Labs/proofpay/pkg/config"
	"github.com/Mindburn-Labs/proofpay/pkg/genesis"
	"github.com/Mindburn-Labs/proofpay/pkg/journal"
	"github.com/Mindburn-Labs/proofpay/pkg/node"
)

// journalFlags lets a command override where genesis and the journal come
// from. Defaults are the PROOFPAY_* configuration.
type journalFlags struct {
	genesis string
	driver  string
	dsn     string
}

func (j *journalFlags) register(cmd *flag.FlagSet, cfg *config.Config) {
	cmd.StringVar(&j.genesis, "genesis", cfg.GenesisPath, "Genesis YAML file (default: built-in devnet)")
	cmd.StringVar(&j.driver, "journal-driver", cfg.JournalDriver, "Journal driver: memory, sqlite or postgres")
	cmd.StringVar(&j.dsn, "journal-dsn", cfg.JournalDSN, "Journal DSN (file path for sqlite)")
}

func loadGenesis(path string) (*genesis.Document, error) {
	if path == "" {
		return genesis.Devnet(), nil
	}
	return genesis.Load(path)
}

// restore builds a node from doc and replays everything in store onto it.
// New calls are recorded to store when record is set.
func restore(ctx context.Context, doc *genesis.Document, store journal.Store, record bool, opts node.Options) (*node.Node, int, error) {
	records, err := store.Load(ctx, 0)
	if err != nil {
		return nil, 0, fmt.Errorf("load journal: %w", err)
	}
	if record {
		opts.Recorder = store
	}
	n, err := node.New(ctx, doc, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("genesis: %w", err)
	}
	if err := n.Replay(ctx, records); err != nil {
		return nil, 0, err
	}
	return n, len(records), nil
}
