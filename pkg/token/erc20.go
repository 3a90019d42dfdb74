package token

import (
	"github.com/Mindburn-Labs/proofpay/pkg/chain"
	"github.com/Mindburn-Labs/proofpay/pkg/errs"
)

type allowanceKey struct {
	owner   chain.Address
	spender chain.Address
}

// Metadata describes an ERC-20 deployment.
type Metadata struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// ERC20 is a fungible token with allowances. Insufficient balance or
// allowance aborts the call.
type ERC20 struct {
	addr        chain.Address
	meta        Metadata
	owner       chain.Ownable
	balances    *chain.Map[chain.Address, uint64]
	allowances  *chain.Map[allowanceKey, uint64]
	totalSupply *chain.Value[uint64]
}

// NewERC20 deploys a token at addr. owner may mint.
func NewERC20(addr chain.Address, meta Metadata, owner chain.Address) *ERC20 {
	return &ERC20{
		addr:        addr,
		meta:        meta,
		owner:       chain.NewOwnable(owner),
		balances:    chain.NewMap[chain.Address, uint64](),
		allowances:  chain.NewMap[allowanceKey, uint64](),
		totalSupply: chain.NewValue[uint64](0),
	}
}

func (t *ERC20) Address() chain.Address { return t.addr }

func (t *ERC20) Metadata() Metadata { return t.meta }

func (t *ERC20) Owner() chain.Address { return t.owner.Owner() }

func (t *ERC20) TotalSupply() uint64 { return t.totalSupply.Get() }

func (t *ERC20) BalanceOf(account chain.Address) uint64 { return t.balances.Get(account) }

func (t *ERC20) Allowance(owner, spender chain.Address) uint64 {
	return t.allowances.Get(allowanceKey{owner: owner, spender: spender})
}

// Holders returns every account that has ever held a balance.
func (t *ERC20) Holders() []chain.Address { return t.balances.Keys() }

// Mint creates amount new tokens for to. Token owner only.
func (t *ERC20) Mint(ctx *chain.Context, to chain.Address, amount uint64) error {
	ctx = ctx.Enter(t.addr)
	if err := t.owner.OnlyOwner(ctx); err != nil {
		return err
	}
	if to.IsZero() {
		return errs.New(errs.CodeInvalidArgument, "mint to the zero address")
	}
	supply, err := checkedAdd(t.totalSupply.Get(), amount)
	if err != nil {
		return err
	}
	bal, err := checkedAdd(t.balances.Get(to), amount)
	if err != nil {
		return err
	}
	t.totalSupply.Set(ctx, supply)
	t.balances.Set(ctx, to, bal)
	ctx.Emit(Transfer{From: chain.ZeroAddress, To: to, Value: amount})
	return nil
}

// Approve sets the caller's allowance for spender.
func (t *ERC20) Approve(ctx *chain.Context, spender chain.Address, amount uint64) (bool, error) {
	ctx = ctx.Enter(t.addr)
	if spender.IsZero() {
		return false, errs.New(errs.CodeInvalidArgument, "approve the zero address")
	}
	owner := ctx.Sender()
	t.allowances.Set(ctx, allowanceKey{owner: owner, spender: spender}, amount)
	ctx.Emit(Approval{Owner: owner, Spender: spender, Value: amount})
	return true, nil
}

func (t *ERC20) Transfer(ctx *chain.Context, to chain.Address, amount uint64) (bool, error) {
	ctx = ctx.Enter(t.addr)
	if err := t.move(ctx, ctx.Sender(), to, amount); err != nil {
		return false, err
	}
	return true, nil
}

func (t *ERC20) TransferFrom(ctx *chain.Context, from, to chain.Address, amount uint64) (bool, error) {
	ctx = ctx.Enter(t.addr)
	key := allowanceKey{owner: from, spender: ctx.Sender()}
	allowed := t.allowances.Get(key)
	if allowed < amount {
		return false, errs.New(errs.CodeInsufficientAllowance, "allowance %d below %d", allowed, amount)
	}
	if err := t.move(ctx, from, to, amount); err != nil {
		return false, err
	}
	t.allowances.Set(ctx, key, allowed-amount)
	return true, nil
}

func (t *ERC20) move(ctx *chain.Context, from, to chain.Address, amount uint64) error {
	if to.IsZero() {
		return errs.New(errs.CodeInvalidArgument, "transfer to the zero address")
	}
	fromBal := t.balances.Get(from)
	if fromBal < amount {
		return errs.New(errs.CodeInsufficientBalance, "balance %d below %d", fromBal, amount)
	}
	t.balances.Set(ctx, from, fromBal-amount)
	toBal, err := checkedAdd(t.balances.Get(to), amount)
	if err != nil {
		return err
	}
	t.balances.Set(ctx, to, toBal)
	ctx.Emit(Transfer{From: from, To: to, Value: amount})
	return nil
}
