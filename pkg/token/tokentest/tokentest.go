// Package tokentest provides a scriptable token ledger for exercising
// failure and re-entry paths in contracts that move tokens.
package tokentest

import (
	"errors"

	"github.com/Mindburn-Labs/proofpay/pkg/chain"
	"github.com/Mindburn-Labs/proofpay/pkg/token"
)

// Mode selects how a transfer behaves.
type Mode int

const (
	// Pass moves the balance like a real token.
	Pass Mode = iota
	// ReturnFalse reports failure without moving anything.
	ReturnFalse
	// Abort returns Err without moving anything.
	Abort
)

// ErrAborted is returned in Abort mode when Err is unset.
var ErrAborted = errors.New("tokentest: transfer aborted")

// Ledger wraps a real ERC20 and overrides the transfer paths.
type Ledger struct {
	*token.ERC20

	TransferMode     Mode
	TransferFromMode Mode
	Err              error

	// Hooks run inside the token's frame before the balance moves, so they
	// may call back into the contract that invoked the token.
	OnTransfer     func(ctx *chain.Context) error
	OnTransferFrom func(ctx *chain.Context) error

	Transfers     int
	TransferFroms int
}

var _ token.Ledger = (*Ledger)(nil)

// New deploys a double at addr whose minter is owner.
func New(addr, owner chain.Address) *Ledger {
	return &Ledger{ERC20: token.NewERC20(addr, token.Metadata{Name: "Test Token", Symbol: "TST", Decimals: 6}, owner)}
}

func (l *Ledger) Transfer(ctx *chain.Context, to chain.Address, amount uint64) (bool, error) {
	l.Transfers++
	if ok, err := l.script(ctx, l.TransferMode, l.OnTransfer); !ok {
		return false, err
	}
	return l.ERC20.Transfer(ctx, to, amount)
}

func (l *Ledger) TransferFrom(ctx *chain.Context, from, to chain.Address, amount uint64) (bool, error) {
	l.TransferFroms++
	if ok, err := l.script(ctx, l.TransferFromMode, l.OnTransferFrom); !ok {
		return false, err
	}
	return l.ERC20.TransferFrom(ctx, from, to, amount)
}

func (l *Ledger) script(ctx *chain.Context, mode Mode, hook func(*chain.Context) error) (bool, error) {
	switch mode {
	case ReturnFalse:
		return false, nil
	case Abort:
		if l.Err != nil {
			return false, l.Err
		}
		return false, ErrAborted
	}
	if hook != nil {
		if err := hook(ctx.Enter(l.Address())); err != nil {
			return false, err
		}
	}
	return true, nil
}
