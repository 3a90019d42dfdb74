// Package node assembles a running ledger: it applies a genesis document,
// deploys the registry, orchestrator and reward engine, and routes named
// calls to them.
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/proofpay/pkg/chain"
	"github.com/Mindburn-Labs/proofpay/pkg/genesis"
	"github.com/Mindburn-Labs/proofpay/pkg/payments"
	"github.com/Mindburn-Labs/proofpay/pkg/receipts"
	"github.com/Mindburn-Labs/proofpay/pkg/rewards"
	"github.com/Mindburn-Labs/proofpay/pkg/token"
)

// Options wires the ledger's collaborators.
type Options struct {
	Recorder    chain.Recorder
	Subscribers []chain.Subscriber
	Tracker     chain.Tracker
	Logger      *slog.Logger
	Clock       func() time.Time
}

// Node is a ledger with the three components deployed.
type Node struct {
	ledger  *chain.Ledger
	doc     *genesis.Document
	tokens  *token.Directory
	native  *token.Native
	erc20s  map[chain.Address]*token.ERC20
	methods map[string]method
	logger  *slog.Logger

	Registry *receipts.Registry
	Payments *payments.Orchestrator
	Rewards  *rewards.Engine
}

// New builds a node at height 0 from doc.
func New(ctx context.Context, doc *genesis.Document, opts Options) (*Node, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ledgerOpts := []chain.Option{chain.WithLogger(logger.With("component", "chain"))}
	if opts.Recorder != nil {
		ledgerOpts = append(ledgerOpts, chain.WithRecorder(opts.Recorder))
	}
	for _, s := range opts.Subscribers {
		ledgerOpts = append(ledgerOpts, chain.WithSubscriber(s))
	}
	if opts.Tracker != nil {
		ledgerOpts = append(ledgerOpts, chain.WithTracker(opts.Tracker))
	}
	l := chain.NewLedger(ledgerOpts...)
	if opts.Clock != nil {
		l.WithClock(opts.Clock)
	}

	n := &Node{
		ledger: l,
		doc:    doc,
		tokens: token.NewDirectory(),
		native: token.NewNative(),
		erc20s: make(map[chain.Address]*token.ERC20),
		logger: logger.With("component", "node"),
	}
	if err := n.deploy(ctx); err != nil {
		return nil, err
	}
	n.methods = n.methodTable()
	return n, nil
}

func (n *Node) deploy(ctx context.Context) error {
	doc := n.doc
	if err := n.tokens.Register(n.native); err != nil {
		return err
	}
	deployToken := func(addr chain.Address, t genesis.Token) (*token.ERC20, error) {
		tok := token.NewERC20(addr, token.Metadata{Name: t.Name, Symbol: t.Symbol, Decimals: t.Decimals}, doc.TokenOwner(t))
		if err := n.tokens.Register(tok); err != nil {
			return nil, fmt.Errorf("deploy %s: %w", t.Symbol, err)
		}
		n.erc20s[addr] = tok
		return tok, nil
	}

	rewardToken, err := deployToken(rewards.RewardToken, doc.RewardToken)
	if err != nil {
		return err
	}
	type allocation struct {
		tok   *token.ERC20
		owner chain.Address
		def   genesis.Token
	}
	allocs := []allocation{{tok: rewardToken, owner: doc.TokenOwner(doc.RewardToken), def: doc.RewardToken}}
	for _, t := range doc.Tokens {
		tok, err := deployToken(doc.MustResolve(t.Address), t)
		if err != nil {
			return err
		}
		allocs = append(allocs, allocation{tok: tok, owner: doc.TokenOwner(t), def: t})
	}

	owner := doc.MustResolve(doc.Owner)
	n.Registry = receipts.NewRegistry(doc.MustResolve(doc.Contracts.Registry), owner)
	n.Payments, err = payments.New(doc.MustResolve(doc.Contracts.Payments), owner, doc.MustResolve(doc.MerchantWallet), n.tokens, n.Registry)
	if err != nil {
		return fmt.Errorf("deploy payments: %w", err)
	}
	n.native.RegisterReceiver(n.Payments.Address(), n.Payments)
	n.Rewards, err = rewards.New(doc.MustResolve(doc.Contracts.Rewards), owner, n.tokens)
	if err != nil {
		return fmt.Errorf("deploy rewards: %w", err)
	}

	return n.ledger.Genesis(ctx, func(c *chain.Context) error {
		for _, a := range allocs {
			minter, err := c.As(a.owner)
			if err != nil {
				return err
			}
			for _, al := range doc.Allocations(a.def.Allocations) {
				if err := a.tok.Mint(minter, al.Account, al.Amount); err != nil {
					return fmt.Errorf("allocate %s: %w", a.def.Symbol, err)
				}
			}
		}
		for _, al := range doc.Allocations(doc.Native) {
			if err := n.native.Credit(c, al.Account, al.Amount); err != nil {
				return fmt.Errorf("allocate native: %w", err)
			}
		}
		return nil
	})
}

// Submit executes method as sender. args is encoded to JSON and becomes
// part of the committed record.
func (n *Node) Submit(ctx context.Context, sender chain.Address, name string, args any) (*chain.TxRecord, error) {
	m, err := n.lookup(name)
	if err != nil {
		return nil, err
	}
	raw, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}
	return n.ledger.Execute(ctx, chain.Call{Sender: sender, Method: name, Args: raw}, func(c *chain.Context) (any, error) {
		return m(c, raw)
	})
}

// Replay re-applies stored records on top of genesis. It must run before
// any Submit.
func (n *Node) Replay(ctx context.Context, records []*chain.TxRecord) error {
	if err := chain.VerifyChain(records); err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	for _, rec := range records {
		m, err := n.lookup(rec.Method)
		if err != nil {
			return fmt.Errorf("replay height %d: %w", rec.Height, err)
		}
		args := rec.Args
		if err := n.ledger.Replay(ctx, rec, func(c *chain.Context) (any, error) {
			return m(c, args)
		}); err != nil {
			return err
		}
	}
	if len(records) > 0 {
		n.logger.InfoContext(ctx, "journal replayed", "records", len(records), "height", n.ledger.Height(), "head", n.ledger.Head())
	}
	return nil
}

// View runs fn against a consistent snapshot of committed state.
func (n *Node) View(fn func() error) error { return n.ledger.View(fn) }

func (n *Node) Ledger() *chain.Ledger { return n.ledger }

func (n *Node) Genesis() *genesis.Document { return n.doc }

func (n *Node) Tokens() *token.Directory { return n.tokens }

func (n *Node) Native() *token.Native { return n.native }

// Token returns the ledger for addr; the zero address is the native currency.
func (n *Node) Token(addr chain.Address) (token.Ledger, bool) { return n.tokens.Lookup(addr) }

// Result decodes a committed record's result.
func Result[T any](rec *chain.TxRecord) (T, error) {
	var v T
	if err := json.Unmarshal(rec.Result, &v); err != nil {
		return v, fmt.Errorf("decode %s result: %w", rec.Method, err)
	}
	return v, nil
}
