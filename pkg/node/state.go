package node

import (
	"bytes"
	"sort"

	"github.com/Mindburn-Labs/proofpay/pkg/chain"
	"github.com/Mindburn-Labs/proofpay/pkg/payments"
	"github.com/Mindburn-Labs/proofpay/pkg/receipts"
	"github.com/Mindburn-Labs/proofpay/pkg/rewards"
)

// TokenState is one token's balances.
type TokenState struct {
	Address  chain.Address            `json:"address"`
	Symbol   string                   `json:"symbol"`
	Supply   uint64                   `json:"supply"`
	Balances map[chain.Address]uint64 `json:"balances"`
}

// ComponentState is the owner and address of a deployed component.
type ComponentState struct {
	Address chain.Address `json:"address"`
	Owner   chain.Address `json:"owner"`
}

// State is a full dump of committed state at one height.
type State struct {
	ChainID        string                   `json:"chainId"`
	Height         uint64                   `json:"height"`
	Head           string                   `json:"head"`
	Registry       ComponentState           `json:"registry"`
	Payments       ComponentState           `json:"payments"`
	Rewards        ComponentState           `json:"rewards"`
	MerchantWallet chain.Address            `json:"merchantWallet"`
	RewardPool     uint64                   `json:"rewardPool"`
	Receipts       []receipts.Receipt       `json:"receipts"`
	PaymentLog     []payments.Payment       `json:"payments"`
	Feedback       []rewards.Feedback       `json:"feedback"`
	Tokens         []TokenState             `json:"tokens"`
	Native         map[chain.Address]uint64 `json:"native"`
}

// State captures committed state under the read lock.
func (n *Node) State() State {
	var s State
	_ = n.ledger.ViewAt(func(height uint64, head string) error {
		s = State{
			ChainID:        n.doc.ChainID,
			Height:         height,
			Head:           head,
			Registry:       ComponentState{Address: n.Registry.Address(), Owner: n.Registry.Owner()},
			Payments:       ComponentState{Address: n.Payments.Address(), Owner: n.Payments.Owner()},
			Rewards:        ComponentState{Address: n.Rewards.Address(), Owner: n.Rewards.Owner()},
			MerchantWallet: n.Payments.MerchantWallet(),
			RewardPool:     n.Rewards.GetRewardPoolBalance(),
			Receipts:       n.Registry.Receipts(),
			PaymentLog:     n.Payments.Payments(),
			Feedback:       n.Rewards.Feedback(),
			Native:         nonZero(n.native.Holders(), n.native.BalanceOf),
		}
		addrs := make([]chain.Address, 0, len(n.erc20s))
		for a := range n.erc20s {
			addrs = append(addrs, a)
		}
		sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })
		for _, a := range addrs {
			tok := n.erc20s[a]
			s.Tokens = append(s.Tokens, TokenState{
				Address:  a,
				Symbol:   tok.Metadata().Symbol,
				Supply:   tok.TotalSupply(),
				Balances: nonZero(tok.Holders(), tok.BalanceOf),
			})
		}
		return nil
	})
	return s
}

func nonZero(holders []chain.Address, balance func(chain.Address) uint64) map[chain.Address]uint64 {
	out := make(map[chain.Address]uint64, len(holders))
	for _, h := range holders {
		if b := balance(h); b > 0 {
			out[h] = b
		}
	}
	return out
}
