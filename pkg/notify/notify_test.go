package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/proofpay/pkg/chain"
)

var emitter = chain.DeriveAddress("registry")

func sampleRecord() *chain.TxRecord {
	return &chain.TxRecord{
		Height: 4,
		Time:   1_717_000_000,
		Hash:   "sha256:abc",
		Events: []chain.Event{
			{Type: "Transfer", Emitter: emitter, Height: 4, Index: 0, Data: []byte(`{"value":1}`)},
			{Type: "ReceiptRecorded", Emitter: emitter, Height: 4, Index: 1, Data: []byte(`{"receiptId":0}`)},
		},
	}
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(slog.New(slog.NewJSONHandler(&buf, nil)))
	require.NoError(t, p.Publish(context.Background(), sampleRecord()))
	assert.Contains(t, buf.String(), `"type":"ReceiptRecorded"`)
	assert.Contains(t, buf.String(), `"component":"notify"`)
}

type failing struct{ err error }

func (f failing) Publish(context.Context, *chain.TxRecord) error { return f.err }

func TestFanoutJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	buf := NewBuffer()
	err := Fanout{failing{boom}, buf}.Publish(context.Background(), sampleRecord())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, buf.Events(), 2)
}

func TestBufferFilters(t *testing.T) {
	buf := NewBuffer("ReceiptRecorded")
	require.NoError(t, buf.Publish(context.Background(), sampleRecord()))
	events := buf.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "ReceiptRecorded", events[0].Type)
}

// TestRedisPublisher_Integration requires a running Redis.
// We skip if connection fails.
func TestRedisPublisher_Integration(t *testing.T) {
	ctx := context.Background()
	stream := "proofpay:test:" + t.Name()
	p := NewRedisPublisher("localhost:6379", "", stream)
	if err := p.Ping(ctx); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}
	defer func() { _ = p.Close() }()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer func() { _ = rdb.Close() }()
	_ = rdb.Del(ctx, stream).Err()
	defer rdb.Del(ctx, stream)

	require.NoError(t, p.Publish(ctx, sampleRecord()))

	msgs, err := rdb.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Transfer", msgs[0].Values["type"])
	assert.Equal(t, "ReceiptRecorded", msgs[1].Values["type"])
	assert.Equal(t, "sha256:abc", msgs[1].Values["tx_hash"])
}
