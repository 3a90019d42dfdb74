// Package receipts is the Receipt Registry: an append-only record of
// purchases, each bound to a content identifier that can be used once.
package receipts

import (
	"github.com/Mindburn-Labs/proofpay/pkg/chain"
	"github.com/Mindburn-Labs/proofpay/pkg/errs"
)

// Receipt is an immutable proof of purchase.
type Receipt struct {
	ID           uint64        `json:"id"`
	Buyer        chain.Address `json:"buyer"`
	ProductID    string        `json:"productId"`
	ContentID    string        `json:"contentId"`
	PaymentToken chain.Address `json:"paymentToken"`
	AmountPaid   uint64        `json:"amountPaid"`
	Currency     string        `json:"currency"`
	Timestamp    int64         `json:"timestamp"`
}

// ReceiptRecorded is emitted once per stored receipt.
type ReceiptRecorded struct {
	ReceiptID    uint64        `json:"receiptId"`
	Buyer        chain.Address `json:"buyer"`
	ProductID    string        `json:"productId"`
	ContentID    string        `json:"contentId"`
	PaymentToken chain.Address `json:"paymentToken"`
	AmountPaid   uint64        `json:"amountPaid"`
	Currency     string        `json:"currency"`
	Timestamp    int64         `json:"timestamp"`
}

func (ReceiptRecorded) EventName() string { return "ReceiptRecorded" }

// Registry stores receipts. Anyone may record; only the owner may hand
// the registry over.
type Registry struct {
	addr     chain.Address
	owner    chain.Ownable
	receipts *chain.List[Receipt]
	content  *chain.Set[string]
	byBuyer  *chain.Index[chain.Address]
}

// NewRegistry deploys a registry at addr owned by owner.
func NewRegistry(addr, owner chain.Address) *Registry {
	return &Registry{
		addr:     addr,
		owner:    chain.NewOwnable(owner),
		receipts: chain.NewList[Receipt](),
		content:  chain.NewSet[string](),
		byBuyer:  chain.NewIndex[chain.Address](),
	}
}

func (r *Registry) Address() chain.Address { return r.addr }

func (r *Registry) Owner() chain.Address { return r.owner.Owner() }

// RecordReceipt stores a new receipt and returns its id. Ids are assigned
// sequentially from zero.
func (r *Registry) RecordReceipt(ctx *chain.Context, buyer chain.Address, productID, contentID string, paymentToken chain.Address, amountPaid uint64, currency string) (uint64, error) {
	ctx = ctx.Enter(r.addr)

	switch {
	case buyer.IsZero():
		return 0, errs.New(errs.CodeInvalidArgument, "buyer is the zero address")
	case productID == "":
		return 0, errs.New(errs.CodeInvalidArgument, "product id is empty")
	case contentID == "":
		return 0, errs.New(errs.CodeInvalidArgument, "content id is empty")
	case amountPaid == 0:
		return 0, errs.New(errs.CodeInvalidArgument, "amount paid is zero")
	}
	if r.content.Has(contentID) {
		return 0, errs.New(errs.CodeDuplicateContent, "content %q already recorded", contentID)
	}

	now := ctx.Block().Time
	rec := Receipt{
		ID:           r.receipts.Len(),
		Buyer:        buyer,
		ProductID:    productID,
		ContentID:    contentID,
		PaymentToken: paymentToken,
		AmountPaid:   amountPaid,
		Currency:     currency,
		Timestamp:    now,
	}
	id := r.receipts.Append(ctx, rec)
	r.content.Add(ctx, contentID)
	r.byBuyer.Add(ctx, buyer, id)

	ctx.Emit(ReceiptRecorded{
		ReceiptID:    id,
		Buyer:        buyer,
		ProductID:    productID,
		ContentID:    contentID,
		PaymentToken: paymentToken,
		AmountPaid:   amountPaid,
		Currency:     currency,
		Timestamp:    now,
	})
	return id, nil
}

// GetReceipt returns the receipt with id.
func (r *Registry) GetReceipt(id uint64) (Receipt, error) {
	rec, ok := r.receipts.At(id)
	if !ok {
		return Receipt{}, errs.New(errs.CodeNotFound, "receipt %d not found", id)
	}
	return rec, nil
}

// GetReceiptsByBuyer returns the buyer's receipt ids in recording order.
func (r *Registry) GetReceiptsByBuyer(buyer chain.Address) []uint64 {
	return r.byBuyer.Get(buyer)
}

func (r *Registry) IsContentRecorded(contentID string) bool {
	return r.content.Has(contentID)
}

func (r *Registry) TotalReceipts() uint64 { return r.receipts.Len() }

// Receipts returns every receipt in id order.
func (r *Registry) Receipts() []Receipt { return r.receipts.Items() }

func (r *Registry) TransferOwnership(ctx *chain.Context, newOwner chain.Address) error {
	return r.owner.TransferOwnership(ctx.Enter(r.addr), newOwner)
}
