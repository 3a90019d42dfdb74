// Package notify publishes committed ledger events to observers.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/Mindburn-Labs/proofpay/pkg/chain"
)

// Publisher receives each committed record once, in commit order.
// It satisfies chain.Subscriber.
type Publisher interface {
	Publish(ctx context.Context, rec *chain.TxRecord) error
}

// LogPublisher writes one structured log line per event.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger.With("component", "notify")}
}

func (p *LogPublisher) Publish(ctx context.Context, rec *chain.TxRecord) error {
	for _, ev := range rec.Events {
		p.logger.InfoContext(ctx, "event",
			"type", ev.Type,
			"emitter", ev.Emitter.String(),
			"height", ev.Height,
			"index", ev.Index,
			"data", string(ev.Data),
		)
	}
	return nil
}

// Fanout publishes to every child and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, rec *chain.TxRecord) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Buffer keeps events in memory, optionally filtered by type. Useful for
// tests and for the demo command.
type Buffer struct {
	mu     sync.Mutex
	types  map[string]bool
	events []chain.Event
}

func NewBuffer(types ...string) *Buffer {
	b := &Buffer{}
	if len(types) > 0 {
		b.types = make(map[string]bool, len(types))
		for _, t := range types {
			b.types[t] = true
		}
	}
	return b
}

func (b *Buffer) Publish(_ context.Context, rec *chain.TxRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ev := range rec.Events {
		if b.types == nil || b.types[ev.Type] {
			b.events = append(b.events, ev)
		}
	}
	return nil
}

// Events returns a copy of the buffered events.
func (b *Buffer) Events() []chain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]chain.Event, len(b.events))
	copy(out, b.events)
	return out
}
