package chain

import (
	"github.com/Mindburn-Labs/proofpay/pkg/errs"
)

// Guard rejects re-entry into a contract while one of its guarded entry
// points is executing.
type Guard struct {
	entered bool
}

// Run executes fn with the guard held.
func (g *Guard) Run(fn func() error) error {
	if g.entered {
		return errs.ErrReentrancy
	}
	g.entered = true
	defer func() { g.entered = false }()
	return fn()
}

// OwnershipTransferred is emitted when a contract changes owner.
type OwnershipTransferred struct {
	PreviousOwner Address `json:"previousOwner"`
	NewOwner      Address `json:"newOwner"`
	Timestamp     int64   `json:"timestamp"`
}

func (OwnershipTransferred) EventName() string { return "OwnershipTransferred" }

// Ownable is single-owner access control for a contract.
type Ownable struct {
	owner *Value[Address]
}

func NewOwnable(owner Address) Ownable {
	return Ownable{owner: NewValue(owner)}
}

func (o Ownable) Owner() Address { return o.owner.Get() }

// OnlyOwner fails with Unauthorized unless the frame's sender is the owner.
// ctx must be the contract's own frame.
func (o Ownable) OnlyOwner(ctx *Context) error {
	if ctx.Sender() != o.owner.Get() {
		return errs.New(errs.CodeUnauthorized, "caller %s is not the owner", ctx.Sender())
	}
	return nil
}

// TransferOwnership hands the contract to newOwner.
func (o Ownable) TransferOwnership(ctx *Context, newOwner Address) error {
	if err := o.OnlyOwner(ctx); err != nil {
		return err
	}
	if newOwner.IsZero() {
		return errs.New(errs.CodeInvalidArgument, "new owner is the zero address")
	}
	prev := o.owner.Get()
	o.owner.Set(ctx, newOwner)
	ctx.Emit(OwnershipTransferred{
		PreviousOwner: prev,
		NewOwner:      newOwner,
		Timestamp:     ctx.Block().Time,
	})
	return nil
}
