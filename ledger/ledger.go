// Package ledger implements the account ledger and the per-block diffs
// applied to it, grounded on the witness forest's canonical-promotion
// pipeline (spec §4.B, §4.D).
package ledger

import (
	"fmt"

	"github.com/mina-indexer/mina-indexer/block"
)

// Account is one ledger entry. A zero-value Account (balance 0, nonce 0, no
// delegate) is the implicit state of any address never seen before.
type Account struct {
	PublicKey block.PublicKey
	Balance   uint64
	Nonce     uint32
	Delegate  *block.PublicKey
}

func (a Account) clone() Account {
	c := a
	if a.Delegate != nil {
		d := *a.Delegate
		c.Delegate = &d
	}
	return c
}

// Ledger maps every account that has ever been touched to its current
// state. Accounts are created lazily on first credit.
type Ledger struct {
	Accounts map[block.PublicKey]Account
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{Accounts: make(map[block.PublicKey]Account)}
}

// Clone deep-copies the ledger. Canonical promotion loads a checkpoint from
// the store and must not mutate whatever the store handed back to other
// readers, so every mutation path works against a clone.
func (l *Ledger) Clone() *Ledger {
	out := &Ledger{Accounts: make(map[block.PublicKey]Account, len(l.Accounts))}
	for k, v := range l.Accounts {
		out.Accounts[k] = v.clone()
	}
	return out
}

// Get returns the account at pk, or the implicit zero-value account if it
// has never been touched.
func (l *Ledger) Get(pk block.PublicKey) Account {
	if a, ok := l.Accounts[pk]; ok {
		return a
	}
	return Account{PublicKey: pk}
}

// EffectKind enumerates the four command shapes a LedgerDiff carries.
type EffectKind int

const (
	EffectPayment EffectKind = iota
	EffectDelegation
	EffectFeeTransfer
	EffectCoinbase
)

// Effect is one ledger mutation derived from a block.Command.
type Effect struct {
	Kind     EffectKind
	Source   block.PublicKey // payer or delegator; unused for fee transfers/coinbases
	Receiver block.PublicKey
	Amount   uint64
}

// LedgerDiff is the ordered sequence of effects a block applies to the
// ledger. It is a total projection of the block: FromBlock never fails,
// since validity is only checked at Apply time.
type LedgerDiff struct {
	BlockHash block.Hash
	Effects   []Effect
}

// FromBlock projects every command in pb into its ledger effect, in the
// block's command order, plus a trailing coinbase effect when the block
// names a coinbase receiver.
func FromBlock(pb *block.Precomputed) LedgerDiff {
	diff := LedgerDiff{BlockHash: pb.StateHash, Effects: make([]Effect, 0, len(pb.Commands)+1)}
	for _, c := range pb.Commands {
		switch c.Kind {
		case block.CommandPayment:
			diff.Effects = append(diff.Effects, Effect{Kind: EffectPayment, Source: c.Source, Receiver: c.Receiver, Amount: c.Amount})
		case block.CommandDelegation:
			diff.Effects = append(diff.Effects, Effect{Kind: EffectDelegation, Source: c.Source, Receiver: c.Receiver})
		case block.CommandFeeTransfer:
			diff.Effects = append(diff.Effects, Effect{Kind: EffectFeeTransfer, Receiver: c.Receiver, Amount: c.Amount})
		case block.CommandCoinbase:
			diff.Effects = append(diff.Effects, Effect{Kind: EffectCoinbase, Receiver: c.Receiver, Amount: c.Amount})
		}
	}
	if pb.CoinbaseReceiver != "" {
		diff.Effects = append(diff.Effects, Effect{Kind: EffectCoinbase, Receiver: pb.CoinbaseReceiver, Amount: 0})
	}
	return diff
}

// ApplyDiff applies every effect in diff to the ledger in order. On error
// the ledger is left partially applied; callers that need atomicity must
// call Clone first and discard the clone on error.
func (l *Ledger) ApplyDiff(diff LedgerDiff) error {
	for i, e := range diff.Effects {
		if err := l.apply(e); err != nil {
			return fmt.Errorf("ledger: applying effect %d of block %s: %w", i, diff.BlockHash, err)
		}
	}
	return nil
}

func (l *Ledger) apply(e Effect) error {
	switch e.Kind {
	case EffectPayment:
		src := l.Get(e.Source)
		if src.Balance < e.Amount {
			return fmt.Errorf("insufficient balance: account %s has %d, payment debits %d", e.Source, src.Balance, e.Amount)
		}
		src.Balance -= e.Amount
		src.Nonce++
		l.Accounts[e.Source] = src

		dst := l.Get(e.Receiver)
		dst.Balance += e.Amount
		l.Accounts[e.Receiver] = dst
		return nil

	case EffectDelegation:
		src, ok := l.Accounts[e.Source]
		if !ok {
			return fmt.Errorf("delegation from unknown account %s", e.Source)
		}
		delegate := e.Receiver
		src.Delegate = &delegate
		src.Nonce++
		l.Accounts[e.Source] = src
		return nil

	case EffectFeeTransfer:
		dst := l.Get(e.Receiver)
		dst.Balance += e.Amount
		l.Accounts[e.Receiver] = dst
		return nil

	case EffectCoinbase:
		dst := l.Get(e.Receiver)
		dst.Balance += e.Amount
		l.Accounts[e.Receiver] = dst
		return nil

	default:
		return fmt.Errorf("unknown effect kind %d", e.Kind)
	}
}
