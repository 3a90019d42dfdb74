package payments

import "github.com/Mindburn-Labs/proofpay/pkg/chain"

type PaymentProcessed struct {
	PaymentID    uint64        `json:"paymentId"`
	Buyer        chain.Address `json:"buyer"`
	Merchant     chain.Address `json:"merchant"`
	ProductID    string        `json:"productId"`
	Amount       uint64        `json:"amount"`
	PaymentToken chain.Address `json:"paymentToken"`
	Currency     string        `json:"currency"`
	ReceiptID    uint64        `json:"receiptId"`
	ContentID    string        `json:"contentId"`
	Timestamp    int64         `json:"timestamp"`
}

func (PaymentProcessed) EventName() string { return "PaymentProcessed" }

type MerchantWalletUpdated struct {
	OldWallet chain.Address `json:"oldWallet"`
	NewWallet chain.Address `json:"newWallet"`
	Timestamp int64         `json:"timestamp"`
}

func (MerchantWalletUpdated) EventName() string { return "MerchantWalletUpdated" }

type EmergencyWithdrawal struct {
	Token     chain.Address `json:"token"`
	To        chain.Address `json:"to"`
	Amount    uint64        `json:"amount"`
	Timestamp int64         `json:"timestamp"`
}

func (EmergencyWithdrawal) EventName() string { return "EmergencyWithdrawal" }
