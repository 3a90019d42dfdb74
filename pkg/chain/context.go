package chain

import (
	"context"
	"encoding/json"
	"fmt"
)

// Block is the position and time at which a call executes.
type Block struct {
	Height uint64 `json:"height"`
	Time   int64  `json:"time"`
}

// Notification is a typed event payload. The JSON encoding of the value
// becomes the event's data.
type Notification interface {
	EventName() string
}

// Event is a committed notification.
type Event struct {
	Type    string          `json:"type"`
	Emitter Address         `json:"emitter"`
	Height  uint64          `json:"height"`
	Index   int             `json:"index"`
	Time    int64           `json:"time"`
	Data    json.RawMessage `json:"data"`
}

// txState is shared by every frame of one call.
type txState struct {
	block  Block
	undo   []func()
	events []Event
	err    error
}

func (t *txState) revert() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.events = nil
}

// Context is a call frame. Sender is whoever invoked the current contract,
// Self is the contract (or, at the outermost frame, the account) executing.
type Context struct {
	ctx    context.Context
	tx     *txState
	sender Address
	self   Address
	depth  int
}

func newRootContext(ctx context.Context, tx *txState, sender Address) *Context {
	return &Context{ctx: ctx, tx: tx, sender: sender, self: sender}
}

// Context returns the request context the call was started with.
func (c *Context) Context() context.Context { return c.ctx }

func (c *Context) Sender() Address { return c.sender }

func (c *Context) Self() Address { return c.self }

func (c *Context) Block() Block { return c.tx.block }

// Depth is zero for the outermost frame.
func (c *Context) Depth() int { return c.depth }

// Enter opens a nested frame for contract, with the current frame's
// executor as sender.
func (c *Context) Enter(contract Address) *Context {
	return &Context{
		ctx:    c.ctx,
		tx:     c.tx,
		sender: c.self,
		self:   contract,
		depth:  c.depth + 1,
	}
}

// As returns an outermost frame acting for account. Only valid while
// applying genesis.
func (c *Context) As(account Address) (*Context, error) {
	if c.tx.block.Height != 0 {
		return nil, fmt.Errorf("act as %s outside genesis", account)
	}
	return &Context{ctx: c.ctx, tx: c.tx, sender: account, self: account}, nil
}

// OnRevert registers undo to run if the call fails. Undo actions run in
// reverse registration order.
func (c *Context) OnRevert(undo func()) {
	c.tx.undo = append(c.tx.undo, undo)
}

// Emit buffers n as an event from the executing contract. Buffered events
// are published only if the call commits.
func (c *Context) Emit(n Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		if c.tx.err == nil {
			c.tx.err = fmt.Errorf("encode %s: %w", n.EventName(), err)
		}
		return
	}
	ev := Event{
		Type:    n.EventName(),
		Emitter: c.self,
		Height:  c.tx.block.Height,
		Index:   len(c.tx.events),
		Time:    c.tx.block.Time,
		Data:    data,
	}
	c.tx.events = append(c.tx.events, ev)
	c.OnRevert(func() {
		c.tx.events = c.tx.events[:len(c.tx.events)-1]
	})
}
