// Package genesis loads the document that describes a ledger's initial
// state: named accounts, contract deployment slots, token deployments and
// balances.
package genesis

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/proofpay/pkg/chain"
)

// VersionConstraint is the range of document versions this build reads.
const VersionConstraint = "^1.0"

const schemaURL = "https://proofpay.dev/schemas/genesis.json"

//go:embed genesis.schema.json
var schemaJSON string

//go:embed devnet.yaml
var devnetYAML []byte

var (
	ErrUnsupportedVersion = errors.New("genesis: unsupported version")
	ErrUnknownAccount     = errors.New("genesis: unknown account")
	ErrInvalidDocument    = errors.New("genesis: document does not match schema")
)

// Token describes an ERC-20 deployment.
type Token struct {
	Name        string            `yaml:"name"`
	Symbol      string            `yaml:"symbol"`
	Decimals    uint8             `yaml:"decimals"`
	Address     string            `yaml:"address,omitempty"`
	Owner       string            `yaml:"owner,omitempty"`
	Allocations map[string]uint64 `yaml:"allocations,omitempty"`
}

// Contracts holds the deployment slot of each component.
type Contracts struct {
	Registry string `yaml:"registry"`
	Payments string `yaml:"payments"`
	Rewards  string `yaml:"rewards"`
}

// Document is a parsed genesis. Account references are either a name from
// Accounts or a 0x address.
type Document struct {
	Version        string            `yaml:"version"`
	ChainID        string            `yaml:"chain_id"`
	Accounts       map[string]string `yaml:"accounts"`
	Owner          string            `yaml:"owner"`
	MerchantWallet string            `yaml:"merchant_wallet"`
	Contracts      Contracts         `yaml:"contracts"`
	Tokens         []Token           `yaml:"tokens,omitempty"`
	RewardToken    Token             `yaml:"reward_token"`
	Native         map[string]uint64 `yaml:"native,omitempty"`
}

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add genesis schema: %w", err)
	}
	return c.Compile(schemaURL)
})

// Load reads and parses the genesis file at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load genesis %q: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load genesis %q: %w", path, err)
	}
	return doc, nil
}

// Devnet returns the built-in development genesis.
func Devnet() *Document {
	doc, err := Parse(devnetYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded devnet genesis: %v", err))
	}
	return doc
}

// Parse validates data against the genesis schema and version range.
func Parse(data []byte) (*Document, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	if err := doc.checkVersion(); err != nil {
		return nil, err
	}
	if err := doc.checkRefs(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func validateSchema(data []byte) error {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode genesis: %w", err)
	}
	// Round-trip through JSON so the validator sees JSON types.
	encoded, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	schema, err := compiledSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return nil
}

func (d *Document) checkVersion() error {
	v, err := semver.NewVersion(d.Version)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrUnsupportedVersion, d.Version, err)
	}
	c, err := semver.NewConstraint(VersionConstraint)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("%w: %s does not satisfy %s", ErrUnsupportedVersion, v, VersionConstraint)
	}
	return nil
}

func (d *Document) checkRefs() error {
	refs := []string{d.Owner, d.MerchantWallet, d.Contracts.Registry, d.Contracts.Payments, d.Contracts.Rewards}
	tokens := append([]Token{d.RewardToken}, d.Tokens...)
	for _, tok := range tokens {
		if tok.Address != "" {
			refs = append(refs, tok.Address)
		}
		if tok.Owner != "" {
			refs = append(refs, tok.Owner)
		}
		for holder := range tok.Allocations {
			refs = append(refs, holder)
		}
	}
	for holder := range d.Native {
		refs = append(refs, holder)
	}
	for _, ref := range refs {
		if _, err := d.Resolve(ref); err != nil {
			return err
		}
	}
	return nil
}

// Resolve turns an account name or 0x address into an address.
func (d *Document) Resolve(ref string) (chain.Address, error) {
	if strings.HasPrefix(ref, "0x") {
		return chain.ParseAddress(ref)
	}
	hex, ok := d.Accounts[ref]
	if !ok {
		return chain.ZeroAddress, fmt.Errorf("%w: %q", ErrUnknownAccount, ref)
	}
	return chain.ParseAddress(hex)
}

// MustResolve is Resolve for references already checked by Parse.
func (d *Document) MustResolve(ref string) chain.Address {
	a, err := d.Resolve(ref)
	if err != nil {
		panic(err)
	}
	return a
}

// TokenOwner returns the token's minter, defaulting to the document owner.
func (d *Document) TokenOwner(t Token) chain.Address {
	if t.Owner == "" {
		return d.MustResolve(d.Owner)
	}
	return d.MustResolve(t.Owner)
}

// Allocation is a resolved balance assignment.
type Allocation struct {
	Account chain.Address
	Amount  uint64
}

// Allocations resolves and orders a holder map by address so that applying
// it is deterministic.
func (d *Document) Allocations(m map[string]uint64) []Allocation {
	out := make([]Allocation, 0, len(m))
	for holder, amount := range m {
		out = append(out, Allocation{Account: d.MustResolve(holder), Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Account[:], out[j].Account[:]) < 0
	})
	return out
}

// Marshal encodes the document as YAML.
func (d *Document) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}
