// Package rewards is the Reward Engine. A fixed reward is paid, once per
// receipt, to whoever first submits feedback for that receipt.
package rewards

import (
	"fmt"

	"github.com/Mindburn-Labs/proofpay/pkg/chain"
	"github.com/Mindburn-Labs/proofpay/pkg/errs"
	"github.com/Mindburn-Labs/proofpay/pkg/token"
)

// RewardAmount is paid per accepted feedback, in the reward token's
// smallest unit.
const RewardAmount uint64 = 1_000_000

// RewardToken is the address the reward token is deployed at.
var RewardToken = chain.MustParseAddress("0x5fbdb2315678afecb367f032d93f642f64180aa3")

// Feedback is a rewarded submission against a receipt.
type Feedback struct {
	ID        uint64        `json:"id"`
	ReceiptID uint64        `json:"receiptId"`
	Submitter chain.Address `json:"submitter"`
	ContentID string        `json:"contentId"`
	Timestamp int64         `json:"timestamp"`
	Rewarded  bool          `json:"rewarded"`
}

// TokenResolver finds the reward token ledger.
type TokenResolver interface {
	Lookup(addr chain.Address) (token.Ledger, bool)
}

// Engine holds the reward pool and the feedback log.
type Engine struct {
	addr        chain.Address
	owner       chain.Ownable
	guard       chain.Guard
	token       token.Ledger
	feedback    *chain.List[Feedback]
	rewarded    *chain.Set[uint64]
	bySubmitter *chain.Index[chain.Address]
}

// New deploys an engine at addr paying out of the ledger at RewardToken.
func New(addr, owner chain.Address, tokens TokenResolver) (*Engine, error) {
	tok, ok := tokens.Lookup(RewardToken)
	if !ok {
		return nil, fmt.Errorf("reward token %s is not deployed", RewardToken)
	}
	if owner.IsZero() {
		return nil, errs.New(errs.CodeInvalidArgument, "owner is the zero address")
	}
	return &Engine{
		addr:        addr,
		owner:       chain.NewOwnable(owner),
		token:       tok,
		feedback:    chain.NewList[Feedback](),
		rewarded:    chain.NewSet[uint64](),
		bySubmitter: chain.NewIndex[chain.Address](),
	}, nil
}

func (e *Engine) Address() chain.Address { return e.addr }

func (e *Engine) Owner() chain.Address { return e.owner.Owner() }

// SubmitFeedback records feedback for receiptID and pays the caller
// RewardAmount. Receipt ids are not checked against the registry.
func (e *Engine) SubmitFeedback(ctx *chain.Context, receiptID uint64, feedbackContentID string) (uint64, error) {
	ctx = ctx.Enter(e.addr)
	var id uint64
	err := e.guard.Run(func() error {
		var err error
		id, err = e.submitFeedback(ctx, receiptID, feedbackContentID)
		return err
	})
	return id, err
}

func (e *Engine) submitFeedback(ctx *chain.Context, receiptID uint64, contentID string) (uint64, error) {
	if contentID == "" {
		return 0, errs.New(errs.CodeInvalidArgument, "feedback content id is empty")
	}
	if e.rewarded.Has(receiptID) {
		return 0, errs.New(errs.CodeAlreadySubmitted, "feedback already submitted for receipt %d", receiptID)
	}
	if pool := e.token.BalanceOf(e.addr); pool < RewardAmount {
		return 0, errs.New(errs.CodeInsufficientPool, "pool %d below reward %d", pool, RewardAmount)
	}

	submitter := ctx.Sender()
	now := ctx.Block().Time
	id := e.feedback.Append(ctx, Feedback{
		ID:        e.feedback.Len(),
		ReceiptID: receiptID,
		Submitter: submitter,
		ContentID: contentID,
		Timestamp: now,
		Rewarded:  true,
	})
	e.rewarded.Add(ctx, receiptID)
	e.bySubmitter.Add(ctx, submitter, id)

	paid, err := e.token.Transfer(ctx, submitter, RewardAmount)
	if err != nil {
		return 0, errs.WrapTransfer(errs.CodeRewardTransferFailed, err, "pay reward")
	}
	if !paid {
		return 0, errs.New(errs.CodeRewardTransferFailed, "token refused reward of %d", RewardAmount)
	}

	ctx.Emit(FeedbackSubmitted{
		FeedbackID:        id,
		ReceiptID:         receiptID,
		Submitter:         submitter,
		FeedbackContentID: contentID,
		Reward:            RewardAmount,
		Timestamp:         now,
	})
	return id, nil
}

// GetFeedback returns the feedback with id.
func (e *Engine) GetFeedback(id uint64) (Feedback, error) {
	fb, ok := e.feedback.At(id)
	if !ok {
		return Feedback{}, errs.New(errs.CodeNotFound, "feedback %d not found", id)
	}
	return fb, nil
}

func (e *Engine) HasFeedback(receiptID uint64) bool { return e.rewarded.Has(receiptID) }

// GetFeedbackBySubmitter returns the submitter's feedback ids in order.
func (e *Engine) GetFeedbackBySubmitter(submitter chain.Address) []uint64 {
	return e.bySubmitter.Get(submitter)
}

func (e *Engine) TotalFeedback() uint64 { return e.feedback.Len() }

// Feedback returns every feedback entry in id order.
func (e *Engine) Feedback() []Feedback { return e.feedback.Items() }

// GetRewardPoolBalance is the engine's reward token balance.
func (e *Engine) GetRewardPoolBalance() uint64 { return e.token.BalanceOf(e.addr) }

// FundPool pulls amount from the owner into the pool. The owner must have
// approved the engine beforehand.
func (e *Engine) FundPool(ctx *chain.Context, amount uint64) error {
	ctx = ctx.Enter(e.addr)
	return e.guard.Run(func() error {
		if err := e.owner.OnlyOwner(ctx); err != nil {
			return err
		}
		if amount == 0 {
			return errs.New(errs.CodeInvalidArgument, "amount is zero")
		}
		funder := ctx.Sender()
		if allowed := e.token.Allowance(funder, e.addr); allowed < amount {
			return errs.New(errs.CodeInsufficientAllowance, "allowance %d below %d", allowed, amount)
		}
		moved, err := e.token.TransferFrom(ctx, funder, e.addr, amount)
		if err != nil {
			return errs.WrapTransfer(errs.CodeTransferFailed, err, "fund pool")
		}
		if !moved {
			return errs.New(errs.CodeTransferFailed, "token refused funding of %d", amount)
		}
		ctx.Emit(ContractFunded{Funder: funder, Amount: amount, Timestamp: ctx.Block().Time})
		return nil
	})
}

// WithdrawPool sweeps the whole pool to the owner.
func (e *Engine) WithdrawPool(ctx *chain.Context) (uint64, error) {
	ctx = ctx.Enter(e.addr)
	var swept uint64
	err := e.guard.Run(func() error {
		if err := e.owner.OnlyOwner(ctx); err != nil {
			return err
		}
		bal := e.token.BalanceOf(e.addr)
		if bal == 0 {
			return errs.ErrEmptyPool
		}
		owner := e.owner.Owner()
		moved, err := e.token.Transfer(ctx, owner, bal)
		if err != nil {
			return errs.WrapTransfer(errs.CodeTransferFailed, err, "withdraw pool")
		}
		if !moved {
			return errs.New(errs.CodeTransferFailed, "token refused withdrawal of %d", bal)
		}
		swept = bal
		ctx.Emit(PoolWithdrawn{To: owner, Amount: bal, Timestamp: ctx.Block().Time})
		return nil
	})
	return swept, err
}

func (e *Engine) TransferOwnership(ctx *chain.Context, newOwner chain.Address) error {
	return e.owner.TransferOwnership(ctx.Enter(e.addr), newOwner)
}

type FeedbackSubmitted struct {
	FeedbackID        uint64        `json:"feedbackId"`
	ReceiptID         uint64        `json:"receiptId"`
	Submitter         chain.Address `json:"submitter"`
	FeedbackContentID string        `json:"feedbackContentId"`
	Reward            uint64        `json:"reward"`
	Timestamp         int64         `json:"timestamp"`
}

func (FeedbackSubmitted) EventName() string { return "FeedbackSubmitted" }

type ContractFunded struct {
	Funder    chain.Address `json:"funder"`
	Amount    uint64        `json:"amount"`
	Timestamp int64         `json:"timestamp"`
}

func (ContractFunded) EventName() string { return "ContractFunded" }

type PoolWithdrawn struct {
	To        chain.Address `json:"to"`
	Amount    uint64        `json:"amount"`
	Timestamp int64         `json:"timestamp"`
}

func (PoolWithdrawn) EventName() string { return "PoolWithdrawn" }
