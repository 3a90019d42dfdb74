package main

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/Mindburn-Labs/proofpay/pkg/api"
	"github.com/Mindburn-Labs/proofpay/pkg/config"
)

// runTokenCmd implements `proofpay token`: sign a bearer token for an
// account so the API can be exercised locally.
func runTokenCmd(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	cmd := flag.NewFlagSet("token", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		account     string
		genesisPath string
		ttl         time.Duration
	)
	cmd.StringVar(&account, "account", "", "Genesis account name or 0x address (REQUIRED)")
	cmd.StringVar(&genesisPath, "genesis", cfg.GenesisPath, "Genesis YAML file used to resolve account names")
	cmd.DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	cmd.StringVar(&cfg.JWTSecret, "secret", cfg.JWTSecret, "HS256 signing secret (default: PROOFPAY_JWT_SECRET)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if account == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --account is required")
		cmd.Usage()
		return 2
	}

	auth := api.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer)
	if auth == nil {
		_, _ = fmt.Fprintln(stderr, "Error: no signing secret; set PROOFPAY_JWT_SECRET or --secret")
		return 2
	}
	doc, err := loadGenesis(genesisPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	addr, err := doc.Resolve(account)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	token, err := auth.Issue(addr, ttl)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, token)
	return 0
}
