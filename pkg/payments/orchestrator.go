// Package payments is the Payment Orchestrator. It pulls a buyer's tokens
// to the merchant wallet and registers the purchase receipt in the same
// call, so a payment exists only if both happened.
package payments

import (
	"errors"

	"github.com/Mindburn-Labs/proofpay/pkg/chain"
	"github.com/Mindburn-Labs/proofpay/pkg/errs"
	"github.com/Mindburn-Labs/proofpay/pkg/token"
)

// ErrDirectTransfer is the cause attached to rejected native deposits.
var ErrDirectTransfer = errors.New("payments: direct native transfers are not accepted")

// ReceiptRecorder registers receipts on behalf of buyers.
type ReceiptRecorder interface {
	RecordReceipt(ctx *chain.Context, buyer chain.Address, productID, contentID string, paymentToken chain.Address, amountPaid uint64, currency string) (uint64, error)
}

// TokenResolver finds the ledger for a payment token.
type TokenResolver interface {
	Lookup(addr chain.Address) (token.Ledger, bool)
}

// Payment is a completed purchase.
type Payment struct {
	ID           uint64        `json:"id"`
	Buyer        chain.Address `json:"buyer"`
	ProductID    string        `json:"productId"`
	Amount       uint64        `json:"amount"`
	PaymentToken chain.Address `json:"paymentToken"`
	Currency     string        `json:"currency"`
	ReceiptID    uint64        `json:"receiptId"`
	ContentID    string        `json:"contentId"`
	Timestamp    int64         `json:"timestamp"`
	Completed    bool          `json:"completed"`
}

// Orchestrator forwards payments to a merchant wallet.
type Orchestrator struct {
	addr     chain.Address
	owner    chain.Ownable
	guard    chain.Guard
	merchant *chain.Value[chain.Address]
	payments *chain.List[Payment]
	byBuyer  *chain.Index[chain.Address]
	tokens   TokenResolver
	registry ReceiptRecorder
}

// New deploys an orchestrator at addr.
func New(addr, owner, merchantWallet chain.Address, tokens TokenResolver, registry ReceiptRecorder) (*Orchestrator, error) {
	if merchantWallet.IsZero() {
		return nil, errs.New(errs.CodeInvalidArgument, "merchant wallet is the zero address")
	}
	if owner.IsZero() {
		return nil, errs.New(errs.CodeInvalidArgument, "owner is the zero address")
	}
	return &Orchestrator{
		addr:     addr,
		owner:    chain.NewOwnable(owner),
		merchant: chain.NewValue(merchantWallet),
		payments: chain.NewList[Payment](),
		byBuyer:  chain.NewIndex[chain.Address](),
		tokens:   tokens,
		registry: registry,
	}, nil
}

func (o *Orchestrator) Address() chain.Address { return o.addr }

func (o *Orchestrator) Owner() chain.Address { return o.owner.Owner() }

func (o *Orchestrator) MerchantWallet() chain.Address { return o.merchant.Get() }

// ProcessPayment charges the caller amount of paymentToken and records a
// receipt for contentID. Returns the payment and receipt ids.
func (o *Orchestrator) ProcessPayment(ctx *chain.Context, productID string, amount uint64, receiptContentID string, paymentToken chain.Address, currency string) (paymentID, receiptID uint64, err error) {
	ctx = ctx.Enter(o.addr)
	err = o.guard.Run(func() error {
		paymentID, receiptID, err = o.processPayment(ctx, productID, amount, receiptContentID, paymentToken, currency)
		return err
	})
	return paymentID, receiptID, err
}

func (o *Orchestrator) processPayment(ctx *chain.Context, productID string, amount uint64, contentID string, paymentToken chain.Address, currency string) (uint64, uint64, error) {
	switch {
	case productID == "":
		return 0, 0, errs.New(errs.CodeInvalidArgument, "product id is empty")
	case amount == 0:
		return 0, 0, errs.New(errs.CodeInvalidArgument, "amount is zero")
	case contentID == "":
		return 0, 0, errs.New(errs.CodeInvalidArgument, "receipt content id is empty")
	case paymentToken.IsZero():
		return 0, 0, errs.New(errs.CodeInvalidArgument, "payment token is the zero address")
	case currency == "":
		return 0, 0, errs.New(errs.CodeInvalidArgument, "currency is empty")
	}

	tok, ok := o.tokens.Lookup(paymentToken)
	if !ok {
		return 0, 0, errs.New(errs.CodeTransferFailed, "unknown payment token %s", paymentToken)
	}
	buyer := ctx.Sender()
	if allowed := tok.Allowance(buyer, o.addr); allowed < amount {
		return 0, 0, errs.New(errs.CodeInsufficientAllowance, "allowance %d below %d", allowed, amount)
	}
	if bal := tok.BalanceOf(buyer); bal < amount {
		return 0, 0, errs.New(errs.CodeInsufficientBalance, "balance %d below %d", bal, amount)
	}

	merchant := o.merchant.Get()
	moved, err := tok.TransferFrom(ctx, buyer, merchant, amount)
	if err != nil {
		return 0, 0, errs.WrapTransfer(errs.CodeTransferFailed, err, "pull payment")
	}
	if !moved {
		return 0, 0, errs.New(errs.CodeTransferFailed, "token refused transfer of %d", amount)
	}

	receiptID, err := o.registry.RecordReceipt(ctx, buyer, productID, contentID, paymentToken, amount, currency)
	if err != nil {
		return 0, 0, err
	}

	now := ctx.Block().Time
	p := Payment{
		ID:           o.payments.Len(),
		Buyer:        buyer,
		ProductID:    productID,
		Amount:       amount,
		PaymentToken: paymentToken,
		Currency:     currency,
		ReceiptID:    receiptID,
		ContentID:    contentID,
		Timestamp:    now,
		Completed:    true,
	}
	id := o.payments.Append(ctx, p)
	o.byBuyer.Add(ctx, buyer, id)

	ctx.Emit(PaymentProcessed{
		PaymentID:    id,
		Buyer:        buyer,
		Merchant:     merchant,
		ProductID:    productID,
		Amount:       amount,
		PaymentToken: paymentToken,
		Currency:     currency,
		ReceiptID:    receiptID,
		ContentID:    contentID,
		Timestamp:    now,
	})
	return id, receiptID, nil
}

// GetPaymentDetails returns the payment with id.
func (o *Orchestrator) GetPaymentDetails(id uint64) (Payment, error) {
	p, ok := o.payments.At(id)
	if !ok {
		return Payment{}, errs.New(errs.CodeNotFound, "payment %d not found", id)
	}
	return p, nil
}

// GetPaymentsByBuyer returns the buyer's payment ids in order.
func (o *Orchestrator) GetPaymentsByBuyer(buyer chain.Address) []uint64 {
	return o.byBuyer.Get(buyer)
}

func (o *Orchestrator) TotalPayments() uint64 { return o.payments.Len() }

// Payments returns every payment in id order.
func (o *Orchestrator) Payments() []Payment { return o.payments.Items() }

// UpdateMerchantWallet redirects future payments. Owner only.
func (o *Orchestrator) UpdateMerchantWallet(ctx *chain.Context, newWallet chain.Address) error {
	ctx = ctx.Enter(o.addr)
	if err := o.owner.OnlyOwner(ctx); err != nil {
		return err
	}
	if newWallet.IsZero() {
		return errs.New(errs.CodeInvalidArgument, "merchant wallet is the zero address")
	}
	old := o.merchant.Get()
	o.merchant.Set(ctx, newWallet)
	ctx.Emit(MerchantWalletUpdated{OldWallet: old, NewWallet: newWallet, Timestamp: ctx.Block().Time})
	return nil
}

// EmergencyWithdraw sweeps the orchestrator's whole balance of tokenAddr
// (the native currency for the zero address) to the owner. Owner only.
func (o *Orchestrator) EmergencyWithdraw(ctx *chain.Context, tokenAddr chain.Address) (uint64, error) {
	ctx = ctx.Enter(o.addr)
	var swept uint64
	err := o.guard.Run(func() error {
		if err := o.owner.OnlyOwner(ctx); err != nil {
			return err
		}
		tok, ok := o.tokens.Lookup(tokenAddr)
		if !ok {
			return errs.New(errs.CodeTransferFailed, "unknown token %s", tokenAddr)
		}
		bal := tok.BalanceOf(o.addr)
		if bal == 0 {
			return errs.New(errs.CodeInsufficientBalance, "nothing to withdraw in %s", tokenAddr)
		}
		owner := o.owner.Owner()
		moved, err := tok.Transfer(ctx, owner, bal)
		if err != nil {
			return errs.WrapTransfer(errs.CodeTransferFailed, err, "sweep")
		}
		if !moved {
			return errs.New(errs.CodeTransferFailed, "token refused sweep of %d", bal)
		}
		swept = bal
		ctx.Emit(EmergencyWithdrawal{Token: tokenAddr, To: owner, Amount: bal, Timestamp: ctx.Block().Time})
		return nil
	})
	return swept, err
}

// ReceiveNative rejects every unsolicited native deposit.
func (o *Orchestrator) ReceiveNative(_ *chain.Context, from chain.Address, amount uint64) error {
	return errs.Wrap(errs.CodeInvalidArgument, ErrDirectTransfer, "native deposit rejected")
}

func (o *Orchestrator) TransferOwnership(ctx *chain.Context, newOwner chain.Address) error {
	return o.owner.TransferOwnership(ctx.Enter(o.addr), newOwner)
}
