// Package journal persists the committed transaction log so the ledger can
// be rebuilt by replay after a restart.
package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/proofpay/pkg/chain"
)

var (
	ErrNotFound      = errors.New("journal: record not found")
	ErrOutOfOrder    = errors.New("journal: record does not extend the log")
	ErrUnknownDriver = errors.New("journal: unknown driver")
)

// Store is an append-only log of committed records.
type Store interface {
	// Record appends rec. It implements chain.Recorder.
	Record(ctx context.Context, rec *chain.TxRecord) error
	// Load returns records with height >= from in height order.
	Load(ctx context.Context, from uint64) ([]*chain.TxRecord, error)
	// Get returns the record at height.
	Get(ctx context.Context, height uint64) (*chain.TxRecord, error)
	Close() error
}

// MemoryStore keeps the log in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*chain.TxRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Record(_ context.Context, rec *chain.TxRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := chain.GenesisHash
	if n := len(m.records); n > 0 {
		prev = m.records[n-1].Hash
	}
	if rec.PrevHash != prev {
		return fmt.Errorf("%w: height %d links to %s, head is %s", ErrOutOfOrder, rec.Height, rec.PrevHash, prev)
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *MemoryStore) Load(_ context.Context, from uint64) ([]*chain.TxRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*chain.TxRecord, 0, len(m.records))
	for _, rec := range m.records {
		if rec.Height >= from {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MemoryStore) Get(_ context.Context, height uint64) (*chain.TxRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.records {
		if rec.Height == height {
			return rec, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) Close() error { return nil }

// Open returns the store for driver ("memory", "sqlite" or "postgres").
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return OpenSQLite(ctx, dsn)
	case "postgres":
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}
