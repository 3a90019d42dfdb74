package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/proofpay/pkg/config"
	"github.com/Mindburn-Labs/proofpay/pkg/journal"
	"github.com/Mindburn-Labs/proofpay/pkg/node"
	"github.com/Mindburn-Labs/proofpay/pkg/snapshot"
)

// runExportCmd implements `proofpay export`: replay the journal and write
// the resulting state to the configured snapshot store. The manifest is
// printed as JSON.
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var jf journalFlags
	jf.register(cmd, cfg)
	cmd.StringVar(&cfg.SnapshotDir, "out", cfg.SnapshotDir, "Snapshot directory when no bucket is configured")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	doc, err := loadGenesis(jf.genesis)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	store, err := journal.Open(ctx, jf.driver, jf.dsn)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open journal: %v\n", err)
		return 2
	}
	defer func() { _ = store.Close() }()

	n, _, err := restore(ctx, doc, store, false, node.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	blobs, err := snapshot.Open(ctx, snapshot.Config{
		Dir:        cfg.SnapshotDir,
		Prefix:     doc.ChainID + "/",
		S3Bucket:   cfg.S3Bucket,
		S3Region:   cfg.S3Region,
		S3Endpoint: cfg.S3Endpoint,
		GCSBucket:  cfg.GCSBucket,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: snapshot store: %v\n", err)
		return 2
	}
	manifest, err := snapshot.Export(ctx, n, blobs, time.Now())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: export: %v\n", err)
		return 1
	}
	data, _ := json.MarshalIndent(manifest, "", "  ")
	_, _ = fmt.Fprintln(stdout, string(data))
	return 0
}
