package rewards

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/proofpay/pkg/chain"
	"github.com/Mindburn-Labs/proofpay/pkg/errs"
	"github.com/Mindburn-Labs/proofpay/pkg/token"
	"github.com/Mindburn-Labs/proofpay/pkg/token/tokentest"
)

var (
	admin      = chain.DeriveAddress("admin")
	reviewer   = chain.DeriveAddress("reviewer")
	stranger   = chain.DeriveAddress("stranger")
	engineAddr = chain.DeriveAddress("rewards")
)

type fixture struct {
	ledger *chain.Ledger
	token  *tokentest.Ledger
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ledger: chain.NewLedger().WithClock(func() time.Time { return time.Unix(1_717_000_000, 0) }),
		token:  tokentest.New(RewardToken, admin),
	}
	dir := token.NewDirectory()
	require.NoError(t, dir.Register(f.token))
	var err error
	f.engine, err = New(engineAddr, admin, dir)
	require.NoError(t, err)

	require.NoError(t, f.ledger.Genesis(context.Background(), func(c *chain.Context) error {
		minter, err := c.As(admin)
		if err != nil {
			return err
		}
		return f.token.Mint(minter, admin, 10_000_000)
	}))
	return f
}

func (f *fixture) exec(sender chain.Address, fn func(*chain.Context) error) (*chain.TxRecord, error) {
	return f.ledger.Execute(context.Background(), chain.Call{Sender: sender, Method: "test"}, func(c *chain.Context) (any, error) {
		return nil, fn(c)
	})
}

func (f *fixture) fund(t *testing.T, amount uint64) {
	t.Helper()
	_, err := f.exec(admin, func(c *chain.Context) error {
		if _, err := f.token.Approve(c, engineAddr, amount); err != nil {
			return err
		}
		return f.engine.FundPool(c, amount)
	})
	require.NoError(t, err)
}

func (f *fixture) submit(sender chain.Address, receiptID uint64, content string) (*chain.TxRecord, uint64, error) {
	var id uint64
	rec, err := f.exec(sender, func(c *chain.Context) error {
		var err error
		id, err = f.engine.SubmitFeedback(c, receiptID, content)
		return err
	})
	return rec, id, err
}

func TestNewRequiresRewardToken(t *testing.T) {
	_, err := New(engineAddr, admin, token.NewDirectory())
	assert.Error(t, err)
}

func TestSubmitFeedbackPaysReward(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 2_000_000)
	require.Equal(t, uint64(2_000_000), f.engine.GetRewardPoolBalance())

	rec, id, err := f.submit(reviewer, 0, "F1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id)

	assert.Equal(t, uint64(1_000_000), f.token.BalanceOf(reviewer))
	assert.Equal(t, uint64(1_000_000), f.engine.GetRewardPoolBalance())
	assert.True(t, f.engine.HasFeedback(0))
	assert.False(t, f.engine.HasFeedback(1))
	assert.Equal(t, []uint64{0}, f.engine.GetFeedbackBySubmitter(reviewer))

	fb, err := f.engine.GetFeedback(id)
	require.NoError(t, err)
	assert.Equal(t, Feedback{
		ID:        0,
		ReceiptID: 0,
		Submitter: reviewer,
		ContentID: "F1",
		Timestamp: 1_717_000_000,
		Rewarded:  true,
	}, fb)

	last := rec.Events[len(rec.Events)-1]
	assert.Equal(t, "FeedbackSubmitted", last.Type)
	var ev FeedbackSubmitted
	require.NoError(t, json.Unmarshal(last.Data, &ev))
	assert.Equal(t, reviewer, ev.Submitter)
	assert.Equal(t, RewardAmount, ev.Reward)
	assert.Equal(t, "F1", ev.FeedbackContentID)
}

func TestSecondFeedbackRejected(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 2_000_000)
	_, _, err := f.submit(reviewer, 0, "F1")
	require.NoError(t, err)

	_, _, err = f.submit(stranger, 0, "F2")
	assert.Equal(t, errs.CodeAlreadySubmitted, errs.CodeOf(err))
	assert.Equal(t, uint64(1_000_000), f.engine.GetRewardPoolBalance())
	assert.Equal(t, uint64(0), f.token.BalanceOf(stranger))
	assert.Equal(t, uint64(1), f.engine.TotalFeedback())
}

func TestSubmitFeedbackChecks(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.submit(reviewer, 0, "")
	assert.Equal(t, errs.CodeInvalidArgument, errs.CodeOf(err))

	_, _, err = f.submit(reviewer, 0, "F1")
	assert.Equal(t, errs.CodeInsufficientPool, errs.CodeOf(err))

	f.fund(t, RewardAmount-1)
	_, _, err = f.submit(reviewer, 0, "F1")
	assert.Equal(t, errs.CodeInsufficientPool, errs.CodeOf(err))
	assert.False(t, f.engine.HasFeedback(0))
	assert.Equal(t, uint64(0), f.engine.TotalFeedback())
}

func TestRewardTransferFailureRollsBack(t *testing.T) {
	for _, mode := range []tokentest.Mode{tokentest.ReturnFalse, tokentest.Abort} {
		f := newFixture(t)
		f.fund(t, 2_000_000)
		f.token.TransferMode = mode

		rec, _, err := f.submit(reviewer, 7, "F1")
		assert.Nil(t, rec)
		assert.Equal(t, errs.CodeRewardTransferFailed, errs.CodeOf(err))
		assert.False(t, f.engine.HasFeedback(7))
		assert.Equal(t, uint64(0), f.engine.TotalFeedback())
		assert.Empty(t, f.engine.GetFeedbackBySubmitter(reviewer))
		assert.Equal(t, uint64(2_000_000), f.engine.GetRewardPoolBalance())

		f.token.TransferMode = tokentest.Pass
		_, id, err := f.submit(reviewer, 7, "F1")
		require.NoError(t, err)
		assert.Equal(t, uint64(0), id)
	}
}

func TestReentrantFeedbackRejected(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 3_000_000)
	var inner error
	f.token.OnTransfer = func(c *chain.Context) error {
		_, inner = f.engine.SubmitFeedback(c, 1, "F2")
		return nil
	}

	_, _, err := f.submit(reviewer, 0, "F1")
	require.NoError(t, err)
	assert.Equal(t, errs.CodeReentrancy, errs.CodeOf(inner))
	assert.False(t, f.engine.HasFeedback(1))
	assert.Equal(t, uint64(1_000_000), f.token.BalanceOf(reviewer))
}

func TestFundPool(t *testing.T) {
	f := newFixture(t)

	_, err := f.exec(stranger, func(c *chain.Context) error { return f.engine.FundPool(c, 10) })
	assert.Equal(t, errs.CodeUnauthorized, errs.CodeOf(err))

	_, err = f.exec(admin, func(c *chain.Context) error { return f.engine.FundPool(c, 0) })
	assert.Equal(t, errs.CodeInvalidArgument, errs.CodeOf(err))

	_, err = f.exec(admin, func(c *chain.Context) error { return f.engine.FundPool(c, 10) })
	assert.Equal(t, errs.CodeInsufficientAllowance, errs.CodeOf(err))

	_, err = f.exec(admin, func(c *chain.Context) error {
		if _, err := f.token.Approve(c, engineAddr, 10); err != nil {
			return err
		}
		f.token.TransferFromMode = tokentest.ReturnFalse
		return f.engine.FundPool(c, 10)
	})
	assert.Equal(t, errs.CodeTransferFailed, errs.CodeOf(err))
	assert.Equal(t, uint64(0), f.token.Allowance(admin, engineAddr))
	f.token.TransferFromMode = tokentest.Pass

	f.fund(t, 500)
	assert.Equal(t, uint64(500), f.engine.GetRewardPoolBalance())
	assert.Equal(t, uint64(10_000_000-500), f.token.BalanceOf(admin))
}

func TestWithdrawPool(t *testing.T) {
	f := newFixture(t)
	withdraw := func(sender chain.Address) (*chain.TxRecord, uint64, error) {
		var swept uint64
		rec, err := f.exec(sender, func(c *chain.Context) error {
			var err error
			swept, err = f.engine.WithdrawPool(c)
			return err
		})
		return rec, swept, err
	}

	_, _, err := withdraw(admin)
	assert.Equal(t, errs.CodeEmptyPool, errs.CodeOf(err))

	f.fund(t, 1_500_000)
	_, _, err = withdraw(stranger)
	assert.Equal(t, errs.CodeUnauthorized, errs.CodeOf(err))

	rec, swept, err := withdraw(admin)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000), swept)
	assert.Equal(t, uint64(0), f.engine.GetRewardPoolBalance())
	assert.Equal(t, uint64(10_000_000), f.token.BalanceOf(admin))
	assert.Equal(t, "PoolWithdrawn", rec.Events[len(rec.Events)-1].Type)
}

func TestReentrantPoolAdminRejected(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 2_000_000)

	var inner error
	f.token.OnTransferFrom = func(c *chain.Context) error {
		_, inner = f.engine.WithdrawPool(c)
		return inner
	}
	_, err := f.exec(admin, func(c *chain.Context) error {
		if _, err := f.token.Approve(c, engineAddr, 500); err != nil {
			return err
		}
		return f.engine.FundPool(c, 500)
	})
	assert.Equal(t, errs.CodeReentrancy, errs.CodeOf(inner))
	assert.Equal(t, errs.CodeReentrancy, errs.CodeOf(err))
	assert.Equal(t, uint64(2_000_000), f.engine.GetRewardPoolBalance())
	f.token.OnTransferFrom = nil

	inner = nil
	f.token.OnTransfer = func(c *chain.Context) error {
		inner = f.engine.FundPool(c, 1)
		return inner
	}
	_, err = f.exec(admin, func(c *chain.Context) error {
		_, err := f.engine.WithdrawPool(c)
		return err
	})
	assert.Equal(t, errs.CodeReentrancy, errs.CodeOf(inner))
	assert.Equal(t, errs.CodeReentrancy, errs.CodeOf(err))
	assert.Equal(t, uint64(2_000_000), f.engine.GetRewardPoolBalance())
	assert.Equal(t, uint64(8_000_000), f.token.BalanceOf(admin))
}

func TestGetFeedbackNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.GetFeedback(0)
	assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))
}
