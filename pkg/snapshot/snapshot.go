package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/proofpay/pkg/chain"
	"github.com/Mindburn-Labs/proofpay/pkg/node"
)

// Manifest describes one exported state.
type Manifest struct {
	ChainID string `json:"chainId"`
	Height  uint64 `json:"height"`
	Head    string `json:"head"`
	// Digest addresses the state blob in the store.
	Digest string `json:"digest"`
	// StateHash is the RFC 8785 canonical hash of the state.
	StateHash string    `json:"stateHash"`
	CreatedAt time.Time `json:"createdAt"`
}

// Source is anything that can dump committed state.
type Source interface {
	State() node.State
}

// Export writes src's current state to store.
func Export(ctx context.Context, src Source, store Store, now time.Time) (*Manifest, error) {
	state := src.State()
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	stateHash, err := chain.CanonicalHash(state)
	if err != nil {
		return nil, fmt.Errorf("hash state: %w", err)
	}
	digest, err := store.Put(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("store state: %w", err)
	}
	return &Manifest{
		ChainID:   state.ChainID,
		Height:    state.Height,
		Head:      state.Head,
		Digest:    digest,
		StateHash: stateHash,
		CreatedAt: now.UTC(),
	}, nil
}

// Load reads the state blob at digest and checks it against its address.
func Load(ctx context.Context, store Store, digest string) (*node.State, error) {
	data, err := store.Get(ctx, digest)
	if err != nil {
		return nil, err
	}
	if got := Digest(data); got != digest {
		return nil, fmt.Errorf("snapshot %s: content hashes to %s", digest, got)
	}
	var state node.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &state, nil
}

// Verify checks that state is the one m was exported from.
func (m *Manifest) Verify(state *node.State) error {
	if state.Height != m.Height || state.Head != m.Head {
		return fmt.Errorf("snapshot at height %d (%s), manifest says %d (%s)", state.Height, state.Head, m.Height, m.Head)
	}
	h, err := chain.CanonicalHash(state)
	if err != nil {
		return fmt.Errorf("hash state: %w", err)
	}
	if h != m.StateHash {
		return fmt.Errorf("state hash %s does not match manifest %s", h, m.StateHash)
	}
	return nil
}
