package node

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Mindburn-Labs/proofpay/pkg/chain"
	"github.com/Mindburn-Labs/proofpay/pkg/errs"
	"github.com/Mindburn-Labs/proofpay/pkg/rewards"
	"github.com/Mindburn-Labs/proofpay/pkg/token"
)

// Method names accepted by Submit. They are also the Method of every
// committed record.
const (
	MethodRecordReceipt         = "receipts.recordReceipt"
	MethodRegistryTransferOwner = "receipts.transferOwnership"
	MethodProcessPayment        = "payments.processPayment"
	MethodUpdateMerchantWallet  = "payments.updateMerchantWallet"
	MethodEmergencyWithdraw     = "payments.emergencyWithdraw"
	MethodPaymentsTransferOwner = "payments.transferOwnership"
	MethodSubmitFeedback        = "rewards.submitFeedback"
	MethodFundPool              = "rewards.fundPool"
	MethodWithdrawPool          = "rewards.withdrawPool"
	MethodRewardsTransferOwner  = "rewards.transferOwnership"
	MethodTokenApprove          = "token.approve"
	MethodTokenTransfer         = "token.transfer"
	MethodTokenMint             = "token.mint"
)

type RecordReceiptArgs struct {
	Buyer        chain.Address `json:"buyer"`
	ProductID    string        `json:"productId"`
	ContentID    string        `json:"contentId"`
	PaymentToken chain.Address `json:"paymentToken"`
	AmountPaid   uint64        `json:"amountPaid"`
	Currency     string        `json:"currency"`
}

type RecordReceiptResult struct {
	ReceiptID uint64 `json:"receiptId"`
}

type ProcessPaymentArgs struct {
	ProductID        string        `json:"productId"`
	Amount           uint64        `json:"amount"`
	ReceiptContentID string        `json:"receiptContentId"`
	PaymentToken     chain.Address `json:"paymentToken"`
	Currency         string        `json:"currency"`
}

type ProcessPaymentResult struct {
	PaymentID uint64 `json:"paymentId"`
	ReceiptID uint64 `json:"receiptId"`
}

type SubmitFeedbackArgs struct {
	ReceiptID         uint64 `json:"receiptId"`
	FeedbackContentID string `json:"feedbackContentId"`
}

type SubmitFeedbackResult struct {
	FeedbackID uint64 `json:"feedbackId"`
	Reward     uint64 `json:"reward"`
}

type TransferOwnershipArgs struct {
	NewOwner chain.Address `json:"newOwner"`
}

type UpdateMerchantWalletArgs struct {
	NewWallet chain.Address `json:"newWallet"`
}

type EmergencyWithdrawArgs struct {
	Token chain.Address `json:"token"`
}

type AmountArgs struct {
	Amount uint64 `json:"amount"`
}

type AmountResult struct {
	Amount uint64 `json:"amount"`
}

type TokenApproveArgs struct {
	Token   chain.Address `json:"token"`
	Spender chain.Address `json:"spender"`
	Amount  uint64        `json:"amount"`
}

// TokenTransferArgs moves Amount of Token from the caller to To. The zero
// token address is the native currency.
type TokenTransferArgs struct {
	Token  chain.Address `json:"token"`
	To     chain.Address `json:"to"`
	Amount uint64        `json:"amount"`
}

type TokenMintArgs struct {
	Token  chain.Address `json:"token"`
	To     chain.Address `json:"to"`
	Amount uint64        `json:"amount"`
}

type method func(c *chain.Context, raw json.RawMessage) (any, error)

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, errs.Wrap(errs.CodeInvalidArgument, err, "decode arguments")
	}
	return v, nil
}

func handler[T any](fn func(c *chain.Context, args T) (any, error)) method {
	return func(c *chain.Context, raw json.RawMessage) (any, error) {
		args, err := decode[T](raw)
		if err != nil {
			return nil, err
		}
		return fn(c, args)
	}
}

func (n *Node) methodTable() map[string]method {
	return map[string]method{
		MethodRecordReceipt: handler(func(c *chain.Context, a RecordReceiptArgs) (any, error) {
			id, err := n.Registry.RecordReceipt(c, a.Buyer, a.ProductID, a.ContentID, a.PaymentToken, a.AmountPaid, a.Currency)
			if err != nil {
				return nil, err
			}
			return RecordReceiptResult{ReceiptID: id}, nil
		}),
		MethodRegistryTransferOwner: handler(func(c *chain.Context, a TransferOwnershipArgs) (any, error) {
			return nil, n.Registry.TransferOwnership(c, a.NewOwner)
		}),
		MethodProcessPayment: handler(func(c *chain.Context, a ProcessPaymentArgs) (any, error) {
			pid, rid, err := n.Payments.ProcessPayment(c, a.ProductID, a.Amount, a.ReceiptContentID, a.PaymentToken, a.Currency)
			if err != nil {
				return nil, err
			}
			return ProcessPaymentResult{PaymentID: pid, ReceiptID: rid}, nil
		}),
		MethodUpdateMerchantWallet: handler(func(c *chain.Context, a UpdateMerchantWalletArgs) (any, error) {
			return nil, n.Payments.UpdateMerchantWallet(c, a.NewWallet)
		}),
		MethodEmergencyWithdraw: handler(func(c *chain.Context, a EmergencyWithdrawArgs) (any, error) {
			amount, err := n.Payments.EmergencyWithdraw(c, a.Token)
			if err != nil {
				return nil, err
			}
			return AmountResult{Amount: amount}, nil
		}),
		MethodPaymentsTransferOwner: handler(func(c *chain.Context, a TransferOwnershipArgs) (any, error) {
			return nil, n.Payments.TransferOwnership(c, a.NewOwner)
		}),
		MethodSubmitFeedback: handler(func(c *chain.Context, a SubmitFeedbackArgs) (any, error) {
			id, err := n.Rewards.SubmitFeedback(c, a.ReceiptID, a.FeedbackContentID)
			if err != nil {
				return nil, err
			}
			return SubmitFeedbackResult{FeedbackID: id, Reward: rewards.RewardAmount}, nil
		}),
		MethodFundPool: handler(func(c *chain.Context, a AmountArgs) (any, error) {
			return nil, n.Rewards.FundPool(c, a.Amount)
		}),
		MethodWithdrawPool: handler(func(c *chain.Context, _ struct{}) (any, error) {
			amount, err := n.Rewards.WithdrawPool(c)
			if err != nil {
				return nil, err
			}
			return AmountResult{Amount: amount}, nil
		}),
		MethodRewardsTransferOwner: handler(func(c *chain.Context, a TransferOwnershipArgs) (any, error) {
			return nil, n.Rewards.TransferOwnership(c, a.NewOwner)
		}),
		MethodTokenApprove: handler(func(c *chain.Context, a TokenApproveArgs) (any, error) {
			tok, err := n.erc20(a.Token)
			if err != nil {
				return nil, err
			}
			_, err = tok.Approve(c, a.Spender, a.Amount)
			return nil, err
		}),
		MethodTokenTransfer: handler(func(c *chain.Context, a TokenTransferArgs) (any, error) {
			tok, ok := n.tokens.Lookup(a.Token)
			if !ok {
				return nil, errs.New(errs.CodeNotFound, "token %s not deployed", a.Token)
			}
			ok, err := tok.Transfer(c, a.To, a.Amount)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, errs.New(errs.CodeTransferFailed, "token refused transfer")
			}
			return nil, nil
		}),
		MethodTokenMint: handler(func(c *chain.Context, a TokenMintArgs) (any, error) {
			tok, err := n.erc20(a.Token)
			if err != nil {
				return nil, err
			}
			return nil, tok.Mint(c, a.To, a.Amount)
		}),
	}
}

func (n *Node) erc20(addr chain.Address) (*token.ERC20, error) {
	tok, ok := n.erc20s[addr]
	if !ok {
		return nil, errs.New(errs.CodeNotFound, "token %s is not an ERC-20 deployment", addr)
	}
	return tok, nil
}

// Methods lists the accepted method names.
func (n *Node) Methods() []string {
	out := make([]string, 0, len(n.methods))
	for name := range n.methods {
		out = append(out, name)
	}
	return out
}

func (n *Node) lookup(name string) (method, error) {
	m, ok := n.methods[name]
	if !ok {
		return nil, errs.New(errs.CodeInvalidArgument, "unknown method %q", name)
	}
	return m, nil
}

func encodeArgs(args any) (json.RawMessage, error) {
	if args == nil {
		return json.RawMessage("{}"), nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}
	return raw, nil
}
