// Package token holds the fungible-token ledgers the contracts move value
// through: ERC-20 style tokens and the native currency.
package token

import (
	"fmt"
	"math/bits"
	"sort"
	"sync"

	"github.com/Mindburn-Labs/proofpay/pkg/chain"
	"github.com/Mindburn-Labs/proofpay/pkg/errs"
)

// Ledger is a fungible-token ledger as seen by a calling contract.
// The caller is the Self of the frame passed in. A false return or an error
// both mean the transfer did not happen.
type Ledger interface {
	Address() chain.Address
	Transfer(ctx *chain.Context, to chain.Address, amount uint64) (bool, error)
	TransferFrom(ctx *chain.Context, from, to chain.Address, amount uint64) (bool, error)
	BalanceOf(account chain.Address) uint64
	Allowance(owner, spender chain.Address) uint64
}

// Transfer is emitted for every balance movement, including mints.
type Transfer struct {
	From  chain.Address `json:"from"`
	To    chain.Address `json:"to"`
	Value uint64        `json:"value"`
}

func (Transfer) EventName() string { return "Transfer" }

// Approval is emitted when an allowance is set.
type Approval struct {
	Owner   chain.Address `json:"owner"`
	Spender chain.Address `json:"spender"`
	Value   uint64        `json:"value"`
}

func (Approval) EventName() string { return "Approval" }

func checkedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, errs.New(errs.CodeInvalidArgument, "amount overflow")
	}
	return sum, nil
}

// Directory resolves token addresses to ledgers.
type Directory struct {
	mu      sync.RWMutex
	ledgers map[chain.Address]Ledger
}

func NewDirectory() *Directory {
	return &Directory{ledgers: make(map[chain.Address]Ledger)}
}

// Register adds l under its address.
func (d *Directory) Register(l Ledger) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.ledgers[l.Address()]; exists {
		return fmt.Errorf("token %s already registered", l.Address())
	}
	d.ledgers[l.Address()] = l
	return nil
}

// Lookup returns the ledger at addr.
func (d *Directory) Lookup(addr chain.Address) (Ledger, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	l, ok := d.ledgers[addr]
	return l, ok
}

// Addresses lists registered tokens in byte order.
func (d *Directory) Addresses() []chain.Address {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]chain.Address, 0, len(d.ledgers))
	for a := range d.ledgers {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i][:]) < string(out[j][:]) })
	return out
}
