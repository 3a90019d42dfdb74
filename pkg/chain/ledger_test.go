package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/proofpay/pkg/errs"
)

type pinged struct {
	N int `json:"n"`
}

func (pinged) EventName() string { return "Pinged" }

type memRecorder struct {
	records []*TxRecord
	err     error
}

func (m *memRecorder) Record(_ context.Context, rec *TxRecord) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

type memSubscriber struct {
	records []*TxRecord
}

func (m *memSubscriber) Publish(_ context.Context, rec *TxRecord) error {
	m.records = append(m.records, rec)
	return nil
}

var (
	alice    = DeriveAddress("alice")
	contract = DeriveAddress("contract")
)

func fixedClock(sec int64) func() time.Time {
	return func() time.Time { return time.Unix(sec, 0) }
}

func TestExecuteCommitsStateAndEvents(t *testing.T) {
	sub := &memSubscriber{}
	l := NewLedger(WithSubscriber(sub)).WithClock(fixedClock(1_700_000_000))
	counter := NewValue(0)

	rec, err := l.Execute(context.Background(), Call{Sender: alice, Method: "ping"}, func(c *Context) (any, error) {
		frame := c.Enter(contract)
		counter.Set(frame, counter.Get()+1)
		frame.Emit(pinged{N: counter.Get()})
		return counter.Get(), nil
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), rec.Height)
	assert.Equal(t, int64(1_700_000_000), rec.Time)
	assert.Equal(t, GenesisHash, rec.PrevHash)
	assert.JSONEq(t, `1`, string(rec.Result))
	require.Len(t, rec.Events, 1)
	assert.Equal(t, "Pinged", rec.Events[0].Type)
	assert.Equal(t, contract, rec.Events[0].Emitter)
	assert.JSONEq(t, `{"n":1}`, string(rec.Events[0].Data))

	assert.Equal(t, 1, counter.Get())
	assert.Equal(t, rec.Hash, l.Head())
	assert.Len(t, sub.records, 1)
}

func TestExecuteRevertsEverythingOnError(t *testing.T) {
	sub := &memSubscriber{}
	l := NewLedger(WithSubscriber(sub))
	balances := NewMap[Address, uint64]()
	seen := NewSet[string]()
	items := NewList[string]()
	idx := NewIndex[Address]()

	boom := errs.New(errs.CodeTransferFailed, "boom")
	_, err := l.Execute(context.Background(), Call{Sender: alice, Method: "fail"}, func(c *Context) (any, error) {
		balances.Set(c, alice, 10)
		seen.Add(c, "C1")
		id := items.Append(c, "first")
		idx.Add(c, alice, id)
		c.Emit(pinged{N: 1})
		return nil, boom
	})
	require.ErrorIs(t, err, errs.ErrTransferFailed)

	_, ok := balances.Lookup(alice)
	assert.False(t, ok)
	assert.False(t, seen.Has("C1"))
	assert.Equal(t, uint64(0), items.Len())
	assert.Empty(t, idx.Get(alice))
	assert.Equal(t, uint64(0), l.Height())
	assert.Equal(t, GenesisHash, l.Head())
	assert.Empty(t, sub.records)
}

func TestRecorderFailureAbortsCommit(t *testing.T) {
	rec := &memRecorder{err: errors.New("disk full")}
	l := NewLedger(WithRecorder(rec))
	v := NewValue("before")

	_, err := l.Execute(context.Background(), Call{Sender: alice, Method: "set"}, func(c *Context) (any, error) {
		v.Set(c, "after")
		return nil, nil
	})
	require.Error(t, err)
	assert.Equal(t, errs.CodeInternal, errs.CodeOf(err))
	assert.Equal(t, "before", v.Get())
	assert.Equal(t, uint64(0), l.Height())
}

func TestBlockTimeNeverMovesBackwards(t *testing.T) {
	now := int64(2000)
	l := NewLedger().WithClock(func() time.Time { return time.Unix(now, 0) })
	noop := func(*Context) (any, error) { return nil, nil }

	first, err := l.Execute(context.Background(), Call{Sender: alice, Method: "a"}, noop)
	require.NoError(t, err)
	now = 1000
	second, err := l.Execute(context.Background(), Call{Sender: alice, Method: "b"}, noop)
	require.NoError(t, err)

	assert.Equal(t, first.Time, second.Time)
	assert.Equal(t, uint64(2), second.Height)
}

func TestVerifyDetectsTampering(t *testing.T) {
	l := NewLedger()
	for i := 0; i < 3; i++ {
		_, err := l.Execute(context.Background(), Call{Sender: alice, Method: "ping", Args: map[string]int{"i": i}}, func(c *Context) (any, error) {
			c.Emit(pinged{N: i})
			return nil, nil
		})
		require.NoError(t, err)
	}
	require.NoError(t, l.Verify())

	records := l.Records(0)
	records[1].Method = "pong"
	assert.ErrorContains(t, VerifyChain(records), "hash mismatch at record 2")
}

func TestReplayReproducesHead(t *testing.T) {
	recorder := &memRecorder{}
	clock := fixedClock(5000)
	apply := func(counter *Value[int]) func(*Context) (any, error) {
		return func(c *Context) (any, error) {
			counter.Set(c, counter.Get()+1)
			c.Emit(pinged{N: counter.Get()})
			return counter.Get(), nil
		}
	}

	origCounter := NewValue(0)
	orig := NewLedger(WithRecorder(recorder)).WithClock(clock)
	for i := 0; i < 3; i++ {
		_, err := orig.Execute(context.Background(), Call{Sender: alice, Method: "inc"}, apply(origCounter))
		require.NoError(t, err)
	}
	require.Len(t, recorder.records, 3)

	replayCounter := NewValue(0)
	replica := NewLedger().WithClock(fixedClock(9999))
	for _, rec := range recorder.records {
		require.NoError(t, replica.Replay(context.Background(), rec, apply(replayCounter)))
	}
	assert.Equal(t, orig.Head(), replica.Head())
	assert.Equal(t, 3, replayCounter.Get())
}

func TestReplayRejectsDivergence(t *testing.T) {
	recorder := &memRecorder{}
	orig := NewLedger(WithRecorder(recorder))
	_, err := orig.Execute(context.Background(), Call{Sender: alice, Method: "inc"}, func(c *Context) (any, error) {
		return 1, nil
	})
	require.NoError(t, err)

	replica := NewLedger()
	err = replica.Replay(context.Background(), recorder.records[0], func(c *Context) (any, error) {
		return 2, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash diverged")
	assert.Equal(t, uint64(0), replica.Height())
}

func TestGenesisOnlyAtHeightZero(t *testing.T) {
	l := NewLedger()
	owner := NewValue(ZeroAddress)
	require.NoError(t, l.Genesis(context.Background(), func(c *Context) error {
		owner.Set(c, alice)
		return nil
	}))
	assert.Equal(t, alice, owner.Get())

	_, err := l.Execute(context.Background(), Call{Sender: alice, Method: "noop"}, func(*Context) (any, error) { return nil, nil })
	require.NoError(t, err)
	assert.Error(t, l.Genesis(context.Background(), func(*Context) error { return nil }))
}

func TestCancelledContextIsRejectedBeforeExecution(t *testing.T) {
	l := NewLedger()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	_, err := l.Execute(ctx, Call{Sender: alice, Method: "noop"}, func(*Context) (any, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
