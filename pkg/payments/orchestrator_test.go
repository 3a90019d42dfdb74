package payments

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/proofpay/pkg/chain"
	"github.com/Mindburn-Labs/proofpay/pkg/errs"
	"github.com/Mindburn-Labs/proofpay/pkg/receipts"
	"github.com/Mindburn-Labs/proofpay/pkg/token"
	"github.com/Mindburn-Labs/proofpay/pkg/token/tokentest"
)

var (
	admin     = chain.DeriveAddress("admin")
	merchant  = chain.DeriveAddress("merchant")
	buyer     = chain.DeriveAddress("buyer")
	stranger  = chain.DeriveAddress("stranger")
	orchAddr  = chain.DeriveAddress("orchestrator")
	regAddr   = chain.DeriveAddress("registry")
	usdcAddr  = chain.DeriveAddress("usdc")
	flakyAddr = chain.DeriveAddress("flaky")
)

type fixture struct {
	ledger   *chain.Ledger
	registry *receipts.Registry
	orch     *Orchestrator
	usdc     *token.ERC20
	flaky    *tokentest.Ledger
	native   *token.Native
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ledger:   chain.NewLedger().WithClock(func() time.Time { return time.Unix(1_717_000_000, 0) }),
		registry: receipts.NewRegistry(regAddr, admin),
		usdc:     token.NewERC20(usdcAddr, token.Metadata{Name: "USD Coin", Symbol: "USDC", Decimals: 6}, admin),
		flaky:    tokentest.New(flakyAddr, admin),
		native:   token.NewNative(),
	}
	dir := token.NewDirectory()
	require.NoError(t, dir.Register(f.usdc))
	require.NoError(t, dir.Register(f.flaky))
	require.NoError(t, dir.Register(f.native))

	var err error
	f.orch, err = New(orchAddr, admin, merchant, dir, f.registry)
	require.NoError(t, err)
	f.native.RegisterReceiver(orchAddr, f.orch)

	require.NoError(t, f.ledger.Genesis(context.Background(), func(c *chain.Context) error {
		minter, err := c.As(admin)
		if err != nil {
			return err
		}
		if err := f.usdc.Mint(minter, buyer, 10_000_000); err != nil {
			return err
		}
		if err := f.flaky.Mint(minter, buyer, 10_000_000); err != nil {
			return err
		}
		if err := f.native.Credit(c, orchAddr, 3_000); err != nil {
			return err
		}
		return f.native.Credit(c, buyer, 5_000)
	}))
	return f
}

func (f *fixture) exec(sender chain.Address, fn func(*chain.Context) error) (*chain.TxRecord, error) {
	return f.ledger.Execute(context.Background(), chain.Call{Sender: sender, Method: "test"}, func(c *chain.Context) (any, error) {
		return nil, fn(c)
	})
}

func (f *fixture) approve(t *testing.T, tok *token.ERC20, amount uint64) {
	t.Helper()
	_, err := f.exec(buyer, func(c *chain.Context) error {
		_, err := tok.Approve(c, orchAddr, amount)
		return err
	})
	require.NoError(t, err)
}

func (f *fixture) pay(sender chain.Address, product string, amount uint64, content string, tok chain.Address, currency string) (*chain.TxRecord, uint64, uint64, error) {
	var pid, rid uint64
	rec, err := f.exec(sender, func(c *chain.Context) error {
		var err error
		pid, rid, err = f.orch.ProcessPayment(c, product, amount, content, tok, currency)
		return err
	})
	return rec, pid, rid, err
}

func (f *fixture) assertNoArtifacts(t *testing.T) {
	t.Helper()
	assert.Equal(t, uint64(0), f.orch.TotalPayments())
	assert.Equal(t, uint64(0), f.registry.TotalReceipts())
	assert.Empty(t, f.orch.GetPaymentsByBuyer(buyer))
	assert.Equal(t, uint64(10_000_000), f.usdc.BalanceOf(buyer))
	assert.Equal(t, uint64(0), f.usdc.BalanceOf(merchant))
}

func TestProcessPayment(t *testing.T) {
	f := newFixture(t)
	f.approve(t, f.usdc, 3_000_000)

	rec, pid, rid, err := f.pay(buyer, "P1", 2_500_000, "C1", usdcAddr, "USD")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), pid)
	assert.Equal(t, uint64(0), rid)

	assert.Equal(t, uint64(7_500_000), f.usdc.BalanceOf(buyer))
	assert.Equal(t, uint64(2_500_000), f.usdc.BalanceOf(merchant))
	assert.Equal(t, uint64(500_000), f.usdc.Allowance(buyer, orchAddr))

	p, err := f.orch.GetPaymentDetails(pid)
	require.NoError(t, err)
	assert.True(t, p.Completed)
	assert.Equal(t, buyer, p.Buyer)
	assert.Equal(t, "C1", p.ContentID)
	assert.Equal(t, rid, p.ReceiptID)
	assert.Equal(t, []uint64{0}, f.orch.GetPaymentsByBuyer(buyer))

	r, err := f.registry.GetReceipt(rid)
	require.NoError(t, err)
	assert.Equal(t, buyer, r.Buyer)
	assert.Equal(t, uint64(2_500_000), r.AmountPaid)
	assert.True(t, f.registry.IsContentRecorded("C1"))

	types := make([]string, 0, len(rec.Events))
	for _, ev := range rec.Events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{"Transfer", "ReceiptRecorded", "PaymentProcessed"}, types)

	var ev PaymentProcessed
	require.NoError(t, json.Unmarshal(rec.Events[2].Data, &ev))
	assert.Equal(t, merchant, ev.Merchant)
	assert.Equal(t, uint64(2_500_000), ev.Amount)
	assert.Equal(t, orchAddr, rec.Events[2].Emitter)
}

func TestProcessPaymentValidationOrder(t *testing.T) {
	cases := []struct {
		name     string
		product  string
		amount   uint64
		content  string
		token    chain.Address
		currency string
		want     errs.Code
	}{
		{"empty product first", "", 0, "", chain.ZeroAddress, "", errs.CodeInvalidArgument},
		{"zero amount", "P1", 0, "C1", usdcAddr, "USD", errs.CodeInvalidArgument},
		{"empty content", "P1", 1, "", usdcAddr, "USD", errs.CodeInvalidArgument},
		{"zero token", "P1", 1, "C1", chain.ZeroAddress, "USD", errs.CodeInvalidArgument},
		{"empty currency", "P1", 1, "C1", usdcAddr, "", errs.CodeInvalidArgument},
		{"allowance before balance", "P1", 20_000_000, "C1", usdcAddr, "USD", errs.CodeInsufficientAllowance},
		{"unknown token", "P1", 1, "C1", stranger, "USD", errs.CodeTransferFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, _, _, err := f.pay(buyer, tc.product, tc.amount, tc.content, tc.token, tc.currency)
			assert.Equal(t, tc.want, errs.CodeOf(err))
			f.assertNoArtifacts(t)
		})
	}
}

func TestProcessPaymentInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	f.approve(t, f.usdc, 50_000_000)
	_, _, _, err := f.pay(buyer, "P1", 10_000_001, "C1", usdcAddr, "USD")
	assert.Equal(t, errs.CodeInsufficientBalance, errs.CodeOf(err))
	f.assertNoArtifacts(t)
}

func TestProcessPaymentWithoutAllowance(t *testing.T) {
	f := newFixture(t)
	_, _, _, err := f.pay(buyer, "P1", 1_000_000, "C1", usdcAddr, "USD")
	assert.Equal(t, errs.CodeInsufficientAllowance, errs.CodeOf(err))
	f.assertNoArtifacts(t)
	assert.False(t, f.registry.IsContentRecorded("C1"))
}

func TestDuplicateContentRollsBackTransfer(t *testing.T) {
	f := newFixture(t)
	f.approve(t, f.usdc, 5_000_000)
	_, _, _, err := f.pay(buyer, "P1", 1_000_000, "C1", usdcAddr, "USD")
	require.NoError(t, err)

	_, _, _, err = f.pay(buyer, "P2", 1_000_000, "C1", usdcAddr, "USD")
	assert.Equal(t, errs.CodeDuplicateContent, errs.CodeOf(err))
	assert.Equal(t, uint64(1), f.orch.TotalPayments())
	assert.Equal(t, uint64(1), f.registry.TotalReceipts())
	assert.Equal(t, uint64(9_000_000), f.usdc.BalanceOf(buyer))
	assert.Equal(t, uint64(1_000_000), f.usdc.BalanceOf(merchant))
	assert.Equal(t, uint64(4_000_000), f.usdc.Allowance(buyer, orchAddr))
}

func TestTokenFailureIsTransferFailed(t *testing.T) {
	for _, mode := range []tokentest.Mode{tokentest.ReturnFalse, tokentest.Abort} {
		f := newFixture(t)
		f.approve(t, f.flaky.ERC20, 1_000)
		f.flaky.TransferFromMode = mode

		_, _, _, err := f.pay(buyer, "P1", 1_000, "C1", flakyAddr, "USD")
		assert.Equal(t, errs.CodeTransferFailed, errs.CodeOf(err))
		assert.Equal(t, 1, f.flaky.TransferFroms)
		assert.Equal(t, uint64(0), f.orch.TotalPayments())
		assert.False(t, f.registry.IsContentRecorded("C1"))
		assert.Equal(t, uint64(10_000_000), f.flaky.BalanceOf(buyer))
		assert.Equal(t, uint64(1_000), f.flaky.Allowance(buyer, orchAddr))
	}
}

func TestReentrantPaymentRejected(t *testing.T) {
	f := newFixture(t)
	f.approve(t, f.flaky.ERC20, 2_000)
	var inner error
	f.flaky.OnTransferFrom = func(c *chain.Context) error {
		_, _, inner = f.orch.ProcessPayment(c, "P2", 1_000, "C2", flakyAddr, "USD")
		return inner
	}

	_, _, _, err := f.pay(buyer, "P1", 1_000, "C1", flakyAddr, "USD")
	assert.Equal(t, errs.CodeReentrancy, errs.CodeOf(inner))
	assert.Equal(t, errs.CodeReentrancy, errs.CodeOf(err))
	assert.Equal(t, uint64(0), f.orch.TotalPayments())
	assert.Equal(t, uint64(0), f.registry.TotalReceipts())
	assert.Equal(t, uint64(10_000_000), f.flaky.BalanceOf(buyer))

	f.flaky.OnTransferFrom = nil
	_, _, _, err = f.pay(buyer, "P1", 1_000, "C1", flakyAddr, "USD")
	assert.NoError(t, err)
}

func TestGetPaymentDetailsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.GetPaymentDetails(0)
	assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))
}

func TestUpdateMerchantWallet(t *testing.T) {
	f := newFixture(t)
	newWallet := chain.DeriveAddress("new-wallet")

	_, err := f.exec(stranger, func(c *chain.Context) error { return f.orch.UpdateMerchantWallet(c, newWallet) })
	assert.Equal(t, errs.CodeUnauthorized, errs.CodeOf(err))
	_, err = f.exec(admin, func(c *chain.Context) error { return f.orch.UpdateMerchantWallet(c, chain.ZeroAddress) })
	assert.Equal(t, errs.CodeInvalidArgument, errs.CodeOf(err))

	rec, err := f.exec(admin, func(c *chain.Context) error { return f.orch.UpdateMerchantWallet(c, newWallet) })
	require.NoError(t, err)
	assert.Equal(t, newWallet, f.orch.MerchantWallet())
	require.Len(t, rec.Events, 1)
	assert.Equal(t, "MerchantWalletUpdated", rec.Events[0].Type)

	f.approve(t, f.usdc, 100)
	_, _, _, err = f.pay(buyer, "P1", 100, "C1", usdcAddr, "USD")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), f.usdc.BalanceOf(newWallet))
}

func TestEmergencyWithdraw(t *testing.T) {
	f := newFixture(t)
	_, err := f.exec(buyer, func(c *chain.Context) error {
		_, err := f.usdc.Transfer(c, orchAddr, 700)
		return err
	})
	require.NoError(t, err)

	withdraw := func(sender, tok chain.Address) (uint64, error) {
		var swept uint64
		_, err := f.exec(sender, func(c *chain.Context) error {
			var err error
			swept, err = f.orch.EmergencyWithdraw(c, tok)
			return err
		})
		return swept, err
	}

	_, err = withdraw(stranger, usdcAddr)
	assert.Equal(t, errs.CodeUnauthorized, errs.CodeOf(err))

	swept, err := withdraw(admin, usdcAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(700), swept)
	assert.Equal(t, uint64(700), f.usdc.BalanceOf(admin))
	assert.Equal(t, uint64(0), f.usdc.BalanceOf(orchAddr))

	_, err = withdraw(admin, usdcAddr)
	assert.Equal(t, errs.CodeInsufficientBalance, errs.CodeOf(err))

	_, err = withdraw(admin, flakyAddr)
	assert.Equal(t, errs.CodeInsufficientBalance, errs.CodeOf(err))
}

func (f *fixture) withdraw(sender, tok chain.Address) (*chain.TxRecord, uint64, error) {
	var swept uint64
	rec, err := f.exec(sender, func(c *chain.Context) error {
		var err error
		swept, err = f.orch.EmergencyWithdraw(c, tok)
		return err
	})
	return rec, swept, err
}

func TestEmergencyWithdrawNative(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, uint64(3_000), f.native.BalanceOf(orchAddr))

	rec, swept, err := f.withdraw(admin, chain.NativeToken)
	require.NoError(t, err)
	assert.Equal(t, uint64(3_000), swept)
	assert.Equal(t, uint64(0), f.native.BalanceOf(orchAddr))
	assert.Equal(t, uint64(3_000), f.native.BalanceOf(admin))

	require.NotEmpty(t, rec.Events)
	last := rec.Events[len(rec.Events)-1]
	assert.Equal(t, "EmergencyWithdrawal", last.Type)
	var ev EmergencyWithdrawal
	require.NoError(t, json.Unmarshal(last.Data, &ev))
	assert.Equal(t, chain.NativeToken, ev.Token)
	assert.Equal(t, admin, ev.To)
	assert.Equal(t, uint64(3_000), ev.Amount)

	_, _, err = f.withdraw(admin, chain.NativeToken)
	assert.Equal(t, errs.CodeInsufficientBalance, errs.CodeOf(err))
}

func TestReentrantEmergencyWithdrawRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.exec(buyer, func(c *chain.Context) error {
		_, err := f.flaky.Transfer(c, orchAddr, 700)
		return err
	})
	require.NoError(t, err)

	var inner error
	f.flaky.OnTransfer = func(c *chain.Context) error {
		_, inner = f.orch.EmergencyWithdraw(c, flakyAddr)
		return inner
	}
	_, _, err = f.withdraw(admin, flakyAddr)
	assert.Equal(t, errs.CodeReentrancy, errs.CodeOf(inner))
	assert.Equal(t, errs.CodeReentrancy, errs.CodeOf(err))
	assert.Equal(t, uint64(700), f.flaky.BalanceOf(orchAddr))
	assert.Equal(t, uint64(0), f.flaky.BalanceOf(admin))

	f.flaky.OnTransfer = nil
	_, swept, err := f.withdraw(admin, flakyAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(700), swept)
}

func TestNativeDepositRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.exec(buyer, func(c *chain.Context) error {
		_, err := f.native.Transfer(c, orchAddr, 100)
		return err
	})
	assert.ErrorIs(t, err, ErrDirectTransfer)
	assert.Equal(t, uint64(5_000), f.native.BalanceOf(buyer))
	assert.Equal(t, uint64(3_000), f.native.BalanceOf(orchAddr))
}
