// Package block defines the value types shared across the indexer: the
// opaque block/account identifiers, the externally-produced precomputed
// block record, and the compact in-tree block summary.
package block

import "fmt"

// Hash is a content-addressed block identifier. It is opaque to this
// package; the wire-level decoding that produces one lives upstream.
type Hash string

// PublicKey is an opaque, canonically-encoded account address. Encoding and
// decoding public keys is an external concern (see spec §1); the indexer
// only ever compares and stores the encoded form.
type PublicKey string

// CommandKind enumerates the ledger-affecting command types a precomputed
// block may carry.
type CommandKind int

const (
	CommandPayment CommandKind = iota
	CommandDelegation
	CommandFeeTransfer
	CommandCoinbase
)

func (k CommandKind) String() string {
	switch k {
	case CommandPayment:
		return "payment"
	case CommandDelegation:
		return "delegation"
	case CommandFeeTransfer:
		return "fee_transfer"
	case CommandCoinbase:
		return "coinbase"
	default:
		return fmt.Sprintf("CommandKind(%d)", int(k))
	}
}

// Command is a single ledger-affecting effect carried by a block, in the
// order it should be applied.
type Command struct {
	Kind     CommandKind
	Source   PublicKey // payer (payment) or delegator (delegation); empty otherwise
	Receiver PublicKey // payee, new delegate, fee recipient, or coinbase recipient
	Amount   uint64
}

// Precomputed is the externally-produced, read-only-to-the-core snapshot of
// one block. BlockchainLength is absent for legacy blocks.
type Precomputed struct {
	StateHash        Hash
	ParentHash       Hash
	BlockchainLength *uint32
	Commands         []Command
	CoinbaseReceiver PublicKey
}

// Length returns the block's blockchain length, or ok=false if absent.
func (p *Precomputed) Length() (uint32, bool) {
	if p == nil || p.BlockchainLength == nil {
		return 0, false
	}
	return *p.BlockchainLength, true
}

// Summary is the compact in-tree view of a block: everything a Branch needs
// to order, link, and prune nodes without holding the full precomputed
// record in memory.
type Summary struct {
	StateHash        Hash
	ParentHash       Hash
	BlockchainLength *uint32
	// Height is the node's depth within its containing branch; 1 at a
	// branch root, parent height + 1 otherwise.
	Height uint32
}

// SummaryOf projects a precomputed block into its tree summary, with the
// given height (the caller computes height from the parent's summary).
func SummaryOf(p *Precomputed, height uint32) Summary {
	return Summary{
		StateHash:        p.StateHash,
		ParentHash:       p.ParentHash,
		BlockchainLength: p.BlockchainLength,
		Height:           height,
	}
}

// Greater reports whether a outranks b under the best-tip ordering: greater
// blockchain length wins; equal (or both-absent) length falls back to
// lexicographically greatest state hash. A block with a known length always
// outranks one without, since a block lacking blockchain_length is "legacy"
// and only participates in parent-hash matching, never tip selection,
// except to keep the ordering total and deterministic when no other
// candidate exists.
func Greater(a, b Summary) bool {
	if a.BlockchainLength != nil && b.BlockchainLength != nil {
		if *a.BlockchainLength != *b.BlockchainLength {
			return *a.BlockchainLength > *b.BlockchainLength
		}
		return a.StateHash > b.StateHash
	}
	if a.BlockchainLength != nil {
		return true
	}
	if b.BlockchainLength != nil {
		return false
	}
	return a.StateHash > b.StateHash
}
