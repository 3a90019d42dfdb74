// Package chain is the shared ledger runtime the contracts execute in.
//
// A Ledger serialises every call, gives it a block height and time, and
// either commits all of its state changes and events or none of them:
//   - Contract state lives in journaled collections that register undo actions
//   - Events are buffered and only leave the ledger after commit
//   - Committed calls form a hash-chained log of TxRecords
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Mindburn-Labs/proofpay/pkg/errs"
)

// Call identifies a state-changing invocation.
type Call struct {
	Sender Address
	Method string
	Args   any
}

// Recorder durably stores a record before it commits. A failing recorder
// aborts the call.
type Recorder interface {
	Record(ctx context.Context, rec *TxRecord) error
}

// Subscriber receives every committed record in order.
type Subscriber interface {
	Publish(ctx context.Context, rec *TxRecord) error
}

// Tracker instruments each executed call. The returned func is called with
// the call's outcome.
type Tracker interface {
	TrackCall(ctx context.Context, method string) (context.Context, func(error))
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithRecorder(r Recorder) Option { return func(l *Ledger) { l.recorder = r } }

func WithSubscriber(s Subscriber) Option {
	return func(l *Ledger) { l.subscribers = append(l.subscribers, s) }
}

func WithTracker(t Tracker) Option { return func(l *Ledger) { l.tracker = t } }

func WithLogger(logger *slog.Logger) Option { return func(l *Ledger) { l.logger = logger } }

// Ledger is the single-threaded transactional executor.
type Ledger struct {
	mu          sync.RWMutex
	records     []*TxRecord
	height      uint64
	lastTime    int64
	headHash    string
	clock       func() time.Time
	recorder    Recorder
	subscribers []Subscriber
	tracker     Tracker
	logger      *slog.Logger
}

// NewLedger creates an empty ledger at height 0.
func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{
		headHash: GenesisHash,
		clock:    time.Now,
		logger:   slog.Default().With("component", "chain"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WithClock overrides clock for testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// Genesis applies the height-0 state. It must run before any call.
func (l *Ledger) Genesis(ctx context.Context, fn func(*Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.height != 0 {
		return fmt.Errorf("genesis after height %d", l.height)
	}
	tx := &txState{block: Block{Height: 0, Time: l.clock().Unix()}}
	if err := fn(newRootContext(ctx, tx, ZeroAddress)); err != nil {
		tx.revert()
		return fmt.Errorf("genesis: %w", err)
	}
	if tx.err != nil {
		tx.revert()
		return fmt.Errorf("genesis: %w", tx.err)
	}
	l.lastTime = tx.block.Time
	return nil
}

// Execute runs fn as one atomic call by call.Sender. On success the
// committed record is returned; on failure state is exactly as before.
func (l *Ledger) Execute(ctx context.Context, call Call, fn func(*Context) (any, error)) (*TxRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.tracker != nil {
		var done func(error)
		ctx, done = l.tracker.TrackCall(ctx, call.Method)
		rec, err := l.execute(ctx, call, l.nextTime(), "", fn)
		done(err)
		return rec, err
	}
	return l.execute(ctx, call, l.nextTime(), "", fn)
}

// Replay re-executes a stored record at its recorded time. The recomputed
// hash must match the stored one. Replayed records are not sent to the
// recorder or subscribers again.
func (l *Ledger) Replay(ctx context.Context, rec *TxRecord, fn func(*Context) (any, error)) error {
	call := Call{Sender: rec.Sender, Method: rec.Method, Args: rec.Args}
	got, err := l.execute(ctx, call, func(int64) int64 { return rec.Time }, rec.Hash, fn)
	if err != nil {
		return fmt.Errorf("replay height %d: %w", rec.Height, err)
	}
	if got.Height != rec.Height {
		return errs.New(errs.CodeInternal, "replay height %d produced height %d", rec.Height, got.Height)
	}
	return nil
}

func (l *Ledger) nextTime() func(last int64) int64 {
	return func(last int64) int64 {
		now := l.clock().Unix()
		if now < last {
			return last
		}
		return now
	}
}

func (l *Ledger) execute(ctx context.Context, call Call, timeFn func(last int64) int64, wantHash string, fn func(*Context) (any, error)) (*TxRecord, error) {
	l.mu.Lock()

	tx := &txState{block: Block{Height: l.height + 1, Time: timeFn(l.lastTime)}}
	root := newRootContext(ctx, tx, call.Sender)

	result, err := fn(root)
	if err == nil && tx.err != nil {
		err = errs.Wrap(errs.CodeInternal, tx.err, "emit")
	}
	if err != nil {
		tx.revert()
		l.mu.Unlock()
		l.logger.DebugContext(ctx, "call reverted",
			"method", call.Method,
			"sender", call.Sender.String(),
			"code", string(errs.CodeOf(err)),
			"error", err,
		)
		return nil, err
	}

	rec, err := l.buildRecord(call, tx, result)
	if err == nil && wantHash != "" && rec.Hash != wantHash {
		err = errs.New(errs.CodeInternal, "hash diverged at height %d: stored %s, computed %s", rec.Height, wantHash, rec.Hash)
	}
	if err == nil && wantHash == "" && l.recorder != nil {
		if rerr := l.recorder.Record(ctx, rec); rerr != nil {
			err = errs.Wrap(errs.CodeInternal, rerr, "record transaction")
		}
	}
	if err != nil {
		tx.revert()
		l.mu.Unlock()
		l.logger.ErrorContext(ctx, "commit failed", "method", call.Method, "error", err)
		return nil, err
	}

	l.records = append(l.records, rec)
	l.height = rec.Height
	l.lastTime = rec.Time
	l.headHash = rec.Hash
	var subscribers []Subscriber
	if wantHash == "" {
		subscribers = l.subscribers
	}
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "call committed",
		"method", call.Method,
		"sender", call.Sender.String(),
		"height", rec.Height,
		"events", len(rec.Events),
	)
	for _, s := range subscribers {
		if perr := s.Publish(ctx, rec); perr != nil {
			l.logger.ErrorContext(ctx, "publish failed", "height", rec.Height, "error", perr)
		}
	}
	return rec, nil
}

func (l *Ledger) buildRecord(call Call, tx *txState, result any) (*TxRecord, error) {
	args, err := marshalRaw(call.Args)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "encode args")
	}
	res, err := marshalRaw(result)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "encode result")
	}
	events := make([]Event, len(tx.events))
	copy(events, tx.events)
	rec := &TxRecord{
		Height:   tx.block.Height,
		Time:     tx.block.Time,
		Sender:   call.Sender,
		Method:   call.Method,
		Args:     args,
		Result:   res,
		Events:   events,
		PrevHash: l.headHash,
	}
	rec.Hash, err = rec.ComputeHash()
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "hash record")
	}
	return rec, nil
}

func marshalRaw(v any) (json.RawMessage, error) {
	switch t := v.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if len(t) == 0 {
			return json.RawMessage("null"), nil
		}
		return t, nil
	}
	return json.Marshal(v)
}

// View runs fn with a consistent read of committed state.
func (l *Ledger) View(fn func() error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fn()
}

// ViewAt is View with the height and head hash of the state being read.
func (l *Ledger) ViewAt(fn func(height uint64, head string) error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fn(l.height, l.headHash)
}

// Height returns the height of the last committed call.
func (l *Ledger) Height() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.height
}

// Head returns the hash of the last committed record.
func (l *Ledger) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headHash
}

// Records returns committed records with height >= from, oldest first.
func (l *Ledger) Records(from uint64) []*TxRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*TxRecord, 0, len(l.records))
	for _, rec := range l.records {
		if rec.Height >= from {
			out = append(out, rec)
		}
	}
	return out
}

// Verify checks the integrity of the whole committed chain.
func (l *Ledger) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return VerifyChain(l.records)
}
