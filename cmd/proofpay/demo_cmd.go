package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/Mindburn-Labs/proofpay/pkg/chain"
	"github.com/Mindburn-Labs/proofpay/pkg/errs"
	"github.com/Mindburn-Labs/proofpay/pkg/genesis"
	"github.com/Mindburn-Labs/proofpay/pkg/node"
	"github.com/Mindburn-Labs/proofpay/pkg/notify"
	"github.com/Mindburn-Labs/proofpay/pkg/rewards"
)

// demo drives the reference scenarios against a devnet node and prints
// what happened.
type demo struct {
	ctx     context.Context
	node    *node.Node
	doc     *genesis.Document
	out     io.Writer
	p       *message.Printer
	failed  bool
	usdc    chain.Address
	decimal map[chain.Address]uint8
	symbol  map[chain.Address]string
}

// runDemoCmd implements `proofpay demo`.
func runDemoCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("demo", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var lang string
	cmd.StringVar(&lang, "lang", "en", "Language tag used to format amounts")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	tag, err := language.Parse(lang)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: --lang: %v\n", err)
		return 2
	}

	ctx := context.Background()
	doc := genesis.Devnet()
	events := notify.NewBuffer()
	n, err := node.New(ctx, doc, node.Options{
		Subscribers: []chain.Subscriber{events},
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: genesis: %v\n", err)
		return 1
	}

	d := &demo{
		ctx:     ctx,
		node:    n,
		doc:     doc,
		out:     stdout,
		p:       message.NewPrinter(tag),
		usdc:    doc.MustResolve(doc.Tokens[0].Address),
		decimal: map[chain.Address]uint8{rewards.RewardToken: doc.RewardToken.Decimals},
		symbol:  map[chain.Address]string{rewards.RewardToken: doc.RewardToken.Symbol},
	}
	for _, t := range doc.Tokens {
		addr := doc.MustResolve(t.Address)
		d.decimal[addr] = t.Decimals
		d.symbol[addr] = t.Symbol
	}
	d.run()

	_, _ = fmt.Fprintln(stdout, "")
	_, _ = fmt.Fprintf(stdout, "%d events, height %d, head %s\n", len(events.Events()), n.Ledger().Height(), n.Ledger().Head())
	if err := n.Ledger().Verify(); err != nil {
		_, _ = fmt.Fprintf(stdout, "%s✗ chain verification failed%s: %v\n", ColorRed, ColorReset, err)
		return 1
	}
	if d.failed {
		return 1
	}
	return 0
}

func (d *demo) run() {
	buyer := d.doc.MustResolve("buyer")
	reviewer := d.doc.MustResolve("reviewer")
	admin := d.doc.MustResolve("admin")
	merchant := d.doc.MustResolve("merchant")

	receipt := node.RecordReceiptArgs{
		Buyer:        buyer,
		ProductID:    "P1",
		ContentID:    "C1",
		PaymentToken: d.usdc,
		AmountPaid:   1_000_000,
		Currency:     "USD",
	}
	d.section("A", "buyer records a receipt")
	d.expectOK(buyer, node.MethodRecordReceipt, receipt)

	d.section("B", "the same content id is recorded again")
	d.expectCode(buyer, node.MethodRecordReceipt, receipt, errs.CodeDuplicateContent)

	d.section("-", "owner funds the reward pool")
	d.expectOK(admin, node.MethodTokenApprove, node.TokenApproveArgs{Token: rewards.RewardToken, Spender: d.node.Rewards.Address(), Amount: 2 * rewards.RewardAmount})
	d.expectOK(admin, node.MethodFundPool, node.AmountArgs{Amount: 2 * rewards.RewardAmount})
	d.balance("pool", rewards.RewardToken, d.node.Rewards.Address())

	d.section("C", "reviewer submits feedback for receipt 0")
	d.balance("reviewer before", rewards.RewardToken, reviewer)
	d.expectOK(reviewer, node.MethodSubmitFeedback, node.SubmitFeedbackArgs{ReceiptID: 0, FeedbackContentID: "F1"})
	d.balance("reviewer after", rewards.RewardToken, reviewer)

	d.section("D", "second feedback for receipt 0")
	d.expectCode(buyer, node.MethodSubmitFeedback, node.SubmitFeedbackArgs{ReceiptID: 0, FeedbackContentID: "F2"}, errs.CodeAlreadySubmitted)
	d.balance("pool", rewards.RewardToken, d.node.Rewards.Address())

	payment := node.ProcessPaymentArgs{
		ProductID:        "P2",
		Amount:           1_000_000,
		ReceiptContentID: "C2",
		PaymentToken:     d.usdc,
		Currency:         "USD",
	}
	d.section("E", "buyer pays without an allowance")
	d.expectCode(buyer, node.MethodProcessPayment, payment, errs.CodeInsufficientAllowance)

	d.section("-", "buyer approves the orchestrator and pays")
	d.expectOK(buyer, node.MethodTokenApprove, node.TokenApproveArgs{Token: d.usdc, Spender: d.node.Payments.Address(), Amount: payment.Amount})
	d.expectOK(buyer, node.MethodProcessPayment, payment)
	d.balance("merchant", d.usdc, merchant)
	d.balance("buyer", d.usdc, buyer)
}

func (d *demo) section(id, title string) {
	_, _ = fmt.Fprintf(d.out, "\n%s[%s] %s%s\n", ColorBold+ColorCyan, id, title, ColorReset)
}

func (d *demo) expectOK(sender chain.Address, method string, args any) {
	rec, err := d.node.Submit(d.ctx, sender, method, args)
	if err != nil {
		d.failed = true
		_, _ = fmt.Fprintf(d.out, "  %s✗ %s failed%s: %v\n", ColorRed, method, ColorReset, err)
		return
	}
	_, _ = fmt.Fprintf(d.out, "  %s✓ %s%s height %d result %s\n", ColorGreen, method, ColorReset, rec.Height, rec.Result)
	for _, ev := range rec.Events {
		_, _ = fmt.Fprintf(d.out, "      %s %s\n", ev.Type, ev.Data)
	}
}

func (d *demo) expectCode(sender chain.Address, method string, args any, want errs.Code) {
	_, err := d.node.Submit(d.ctx, sender, method, args)
	if got := errs.CodeOf(err); err == nil || got != want {
		d.failed = true
		_, _ = fmt.Fprintf(d.out, "  %s✗ %s: expected %s, got %v%s\n", ColorRed, method, want, err, ColorReset)
		return
	}
	_, _ = fmt.Fprintf(d.out, "  %s✓ %s rejected%s with %s\n", ColorGreen, method, ColorReset, want)
}

func (d *demo) balance(label string, tok, account chain.Address) {
	l, ok := d.node.Token(tok)
	if !ok {
		return
	}
	_, _ = fmt.Fprintf(d.out, "    %-16s %s\n", label, d.amount(tok, l.BalanceOf(account)))
}

// amount renders base units as a localized decimal amount.
func (d *demo) amount(tok chain.Address, v uint64) string {
	scale := 1.0
	for i := uint8(0); i < d.decimal[tok]; i++ {
		scale *= 10
	}
	return d.p.Sprintf("%.2f %s (%d base units)", float64(v)/scale, d.symbol[tok], v)
}
