package token

import (
	"github.com/Mindburn-Labs/proofpay/pkg/chain"
	"github.com/Mindburn-Labs/proofpay/pkg/errs"
)

// Receiver is implemented by contracts that get a callback when native
// currency is sent to them. Returning an error rejects the transfer.
type Receiver interface {
	ReceiveNative(ctx *chain.Context, from chain.Address, amount uint64) error
}

// Native is the ledger's native currency. It has no allowances, so
// TransferFrom always returns false.
type Native struct {
	balances  *chain.Map[chain.Address, uint64]
	receivers map[chain.Address]Receiver
}

func NewNative() *Native {
	return &Native{
		balances:  chain.NewMap[chain.Address, uint64](),
		receivers: make(map[chain.Address]Receiver),
	}
}

// Address is chain.NativeToken.
func (n *Native) Address() chain.Address { return chain.NativeToken }

// RegisterReceiver installs the callback for contract at addr.
func (n *Native) RegisterReceiver(addr chain.Address, r Receiver) {
	n.receivers[addr] = r
}

func (n *Native) BalanceOf(account chain.Address) uint64 { return n.balances.Get(account) }

func (n *Native) Allowance(chain.Address, chain.Address) uint64 { return 0 }

func (n *Native) Holders() []chain.Address { return n.balances.Keys() }

// Credit allocates amount to account. Genesis only.
func (n *Native) Credit(ctx *chain.Context, account chain.Address, amount uint64) error {
	if ctx.Block().Height != 0 {
		return errs.New(errs.CodeUnauthorized, "native credit outside genesis")
	}
	bal, err := checkedAdd(n.balances.Get(account), amount)
	if err != nil {
		return err
	}
	n.balances.Set(ctx, account, bal)
	return nil
}

func (n *Native) Transfer(ctx *chain.Context, to chain.Address, amount uint64) (bool, error) {
	ctx = ctx.Enter(chain.NativeToken)
	from := ctx.Sender()
	if to.IsZero() {
		return false, errs.New(errs.CodeInvalidArgument, "transfer to the zero address")
	}
	fromBal := n.balances.Get(from)
	if fromBal < amount {
		return false, errs.New(errs.CodeInsufficientBalance, "native balance %d below %d", fromBal, amount)
	}
	n.balances.Set(ctx, from, fromBal-amount)
	toBal, err := checkedAdd(n.balances.Get(to), amount)
	if err != nil {
		return false, err
	}
	n.balances.Set(ctx, to, toBal)
	if r, ok := n.receivers[to]; ok {
		if err := r.ReceiveNative(ctx, from, amount); err != nil {
			return false, err
		}
	}
	ctx.Emit(Transfer{From: from, To: to, Value: amount})
	return true, nil
}

func (n *Native) TransferFrom(*chain.Context, chain.Address, chain.Address, uint64) (bool, error) {
	return false, nil
}
