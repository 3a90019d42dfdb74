package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/proofpay/pkg/api"
	"github.com/Mindburn-Labs/proofpay/pkg/genesis"
	"github.com/Mindburn-Labs/proofpay/pkg/journal"
	"github.com/Mindburn-Labs/proofpay/pkg/node"
	"github.com/Mindburn-Labs/proofpay/pkg/snapshot"
)

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"proofpay"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunHelp(t *testing.T) {
	code, out, _ := run("help")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "USAGE")
	assert.Contains(t, out, "verify")

	code, _, errOut := run("frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "Unknown command: frobnicate")

	code, _, _ = run()
	assert.Equal(t, 2, code)

	code, out, _ = run("version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, version)
}

func TestDemo(t *testing.T) {
	code, out, _ := run("demo")
	require.Equal(t, 0, code, out)
	for _, want := range []string{"[A]", "[B]", "[C]", "[D]", "[E]", "DUPLICATE_CONTENT", "ALREADY_SUBMITTED", "INSUFFICIENT_ALLOWANCE", "PaymentProcessed"} {
		assert.Contains(t, out, want)
	}
	assert.Contains(t, out, "1.00 PPR (1,000,000 base units)")
	assert.NotContains(t, out, "✗")
}

func TestTokenCmd(t *testing.T) {
	t.Setenv("PROOFPAY_JWT_SECRET", "cli-secret")

	code, out, errOut := run("token", "--account", "buyer", "--ttl", "1h")
	require.Equal(t, 0, code, errOut)

	caller, err := api.NewAuthenticator("cli-secret", "proofpay").Validate(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, genesis.Devnet().MustResolve("buyer"), caller)

	code, _, errOut = run("token")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "--account is required")

	code, _, _ = run("token", "--account", "nobody")
	assert.Equal(t, 2, code)

	t.Setenv("PROOFPAY_JWT_SECRET", "")
	code, _, errOut = run("token", "--account", "buyer")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "no signing secret")
}

// writeJournal commits one receipt into a fresh SQLite journal.
func writeJournal(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")
	store, err := journal.OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	doc := genesis.Devnet()
	n, err := node.New(ctx, doc, node.Options{Recorder: store})
	require.NoError(t, err)
	_, err = n.Submit(ctx, doc.MustResolve("buyer"), node.MethodRecordReceipt, node.RecordReceiptArgs{
		Buyer:        doc.MustResolve("buyer"),
		ProductID:    "P1",
		ContentID:    "C1",
		PaymentToken: doc.MustResolve(doc.Tokens[0].Address),
		AmountPaid:   1_000_000,
		Currency:     "USD",
	})
	require.NoError(t, err)
	return path
}

func TestVerifyCmd(t *testing.T) {
	path := writeJournal(t)

	code, out, errOut := run("verify", "--journal-driver", "sqlite", "--journal-dsn", path, "--json")
	require.Equal(t, 0, code, errOut)
	var report verifyReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Verified)
	assert.Equal(t, 1, report.Records)
	assert.Equal(t, uint64(1), report.Height)
	assert.Equal(t, "proofpay-devnet", report.ChainID)

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE tx_log SET args = replace(args, '"P1"', '"P9"') WHERE height = 1`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	code, out, _ = run("verify", "--journal-driver", "sqlite", "--journal-dsn", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "verification failed")
}

func TestVerifyCmdBadDriver(t *testing.T) {
	code, _, errOut := run("verify", "--journal-driver", "mongo")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "open journal")
}

func TestExportCmd(t *testing.T) {
	path := writeJournal(t)
	dir := t.TempDir()

	code, out, errOut := run("export", "--journal-driver", "sqlite", "--journal-dsn", path, "--out", dir)
	require.Equal(t, 0, code, errOut)

	var m snapshot.Manifest
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.Equal(t, uint64(1), m.Height)

	store, err := snapshot.NewFileStore(dir)
	require.NoError(t, err)
	state, err := snapshot.Load(context.Background(), store, m.Digest)
	require.NoError(t, err)
	require.NoError(t, m.Verify(state))
	require.Len(t, state.Receipts, 1)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestServeCmd(t *testing.T) {
	t.Setenv("PROOFPAY_JOURNAL_DRIVER", "memory")
	t.Setenv("PROOFPAY_JWT_SECRET", "serve-secret")

	defer slog.SetDefault(slog.Default())

	var served bool
	orig := runServer
	runServer = func(_ context.Context, srv *api.Server, addr string) error {
		served = srv != nil && addr == ":9099"
		return nil
	}
	defer func() { runServer = orig }()

	code, _, errOut := run("serve", "--port", "9099")
	require.Equal(t, 0, code, errOut)
	assert.True(t, served)

	t.Setenv("PROOFPAY_JOURNAL_DRIVER", "mongo")
	code, _, errOut = run("serve")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "unknown journal driver")
}
