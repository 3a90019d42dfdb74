package chain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gowebpki/jcs"
)

// GenesisHash is the PrevHash of the first committed record.
const GenesisHash = "genesis"

// TxRecord is the committed trace of one call. Records are hash-chained.
type TxRecord struct {
	Height   uint64          `json:"height"`
	Time     int64           `json:"time"`
	Sender   Address         `json:"sender"`
	Method   string          `json:"method"`
	Args     json.RawMessage `json:"args"`
	Result   json.RawMessage `json:"result"`
	Events   []Event         `json:"events"`
	PrevHash string          `json:"prev_hash"`
	Hash     string          `json:"hash"`
}

// ComputeHash returns the hash of every field except Hash. The record is
// hashed as encoding/json writes it, so args, result and event data are
// covered byte for byte.
func (r *TxRecord) ComputeHash() (string, error) {
	unsigned := *r
	unsigned.Hash = ""
	if unsigned.Events == nil {
		unsigned.Events = []Event{}
	}
	raw, err := json.Marshal(unsigned)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	return digest(raw), nil
}

// CanonicalHash hashes the RFC 8785 canonical JSON form of v. Integers
// outside the float64-exact range are canonicalized as decimal strings,
// since RFC 8785 serializes every number as a double.
func CanonicalHash(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	exact, err := quoteWideIntegers(raw)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(exact)
	if err != nil {
		return "", fmt.Errorf("canonicalize: %w", err)
	}
	return digest(canonical), nil
}

func digest(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

const maxExactInteger = 1 << 53

func quoteWideIntegers(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return json.Marshal(widen(doc))
}

func widen(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = widen(e)
		}
	case []any:
		for i, e := range t {
			t[i] = widen(e)
		}
	case json.Number:
		lit := string(t)
		if strings.ContainsAny(lit, ".eE") {
			return t
		}
		if n, err := strconv.ParseInt(lit, 10, 64); err == nil && n >= -maxExactInteger && n <= maxExactInteger {
			return t
		}
		return lit
	}
	return v
}

// VerifyChain checks that records link to each other and that every
// stored hash matches its content.
func VerifyChain(records []*TxRecord) error {
	prev := GenesisHash
	var height uint64
	for i, rec := range records {
		if rec.PrevHash != prev {
			return fmt.Errorf("chain broken at record %d: expected prev %s, got %s", i+1, prev, rec.PrevHash)
		}
		if rec.Height <= height {
			return fmt.Errorf("height not increasing at record %d", i+1)
		}
		computed, err := rec.ComputeHash()
		if err != nil {
			return fmt.Errorf("record %d: %w", i+1, err)
		}
		if computed != rec.Hash {
			return fmt.Errorf("hash mismatch at record %d", i+1)
		}
		prev = rec.Hash
		height = rec.Height
	}
	return nil
}
