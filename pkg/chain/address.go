package chain

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// AddressLength is the byte length of an account or contract address.
const AddressLength = 20

// Address identifies an account or a deployed contract.
type Address [AddressLength]byte

// ZeroAddress is the null address. It is never a valid buyer, owner or wallet.
var ZeroAddress Address

// NativeToken denotes the ledger's native currency wherever a token address is expected.
var NativeToken = ZeroAddress

// ParseAddress parses a 0x-prefixed, 40 hex digit address.
func ParseAddress(s string) (Address, error) {
	var a Address
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return a, fmt.Errorf("address %q: missing 0x prefix", s)
	}
	raw := s[2:]
	if len(raw) != AddressLength*2 {
		return a, fmt.Errorf("address %q: want %d hex digits, got %d", s, AddressLength*2, len(raw))
	}
	if _, err := hex.Decode(a[:], []byte(raw)); err != nil {
		return a, fmt.Errorf("address %q: %w", s, err)
	}
	return a, nil
}

// MustParseAddress is ParseAddress for package-level constants.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// DeriveAddress returns the last 20 bytes of Keccak-256(label).
// Used for well-known deployment slots and deterministic dev accounts.
func DeriveAddress(label string) Address {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(label))
	sum := h.Sum(nil)
	var a Address
	copy(a[:], sum[len(sum)-AddressLength:])
	return a
}

func (a Address) IsZero() bool { return a == ZeroAddress }

func (a Address) String() string { return "0x" + hex.EncodeToString(a[:]) }

func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
