package ledger

import (
	"testing"

	"github.com/mina-indexer/mina-indexer/block"
)

func TestApplyDiffPayment(t *testing.T) {
	l := New()
	l.Accounts["alice"] = Account{PublicKey: "alice", Balance: 100}

	diff := LedgerDiff{BlockHash: "b1", Effects: []Effect{
		{Kind: EffectPayment, Source: "alice", Receiver: "bob", Amount: 40},
	}}
	if err := l.ApplyDiff(diff); err != nil {
		t.Fatalf("apply payment: %v", err)
	}

	alice := l.Get("alice")
	if alice.Balance != 60 {
		t.Fatalf("alice balance = %d, want 60", alice.Balance)
	}
	if alice.Nonce != 1 {
		t.Fatalf("alice nonce = %d, want 1", alice.Nonce)
	}
	bob := l.Get("bob")
	if bob.Balance != 40 {
		t.Fatalf("bob balance = %d, want 40 (auto-created account)", bob.Balance)
	}
}

func TestApplyDiffPaymentInsufficientBalance(t *testing.T) {
	l := New()
	l.Accounts["alice"] = Account{PublicKey: "alice", Balance: 10}

	diff := LedgerDiff{BlockHash: "b1", Effects: []Effect{
		{Kind: EffectPayment, Source: "alice", Receiver: "bob", Amount: 40},
	}}
	if err := l.ApplyDiff(diff); err == nil {
		t.Fatalf("expected insufficient-balance error, got nil")
	}
}

func TestApplyDiffDelegationRequiresExistingAccount(t *testing.T) {
	l := New()
	diff := LedgerDiff{BlockHash: "b1", Effects: []Effect{
		{Kind: EffectDelegation, Source: "ghost", Receiver: "validator"},
	}}
	if err := l.ApplyDiff(diff); err == nil {
		t.Fatalf("expected error delegating from unknown account, got nil")
	}

	l.Accounts["alice"] = Account{PublicKey: "alice", Balance: 5}
	diff = LedgerDiff{BlockHash: "b2", Effects: []Effect{
		{Kind: EffectDelegation, Source: "alice", Receiver: "validator"},
	}}
	if err := l.ApplyDiff(diff); err != nil {
		t.Fatalf("apply delegation: %v", err)
	}
	alice := l.Get("alice")
	if alice.Delegate == nil || *alice.Delegate != "validator" {
		t.Fatalf("alice delegate = %v, want validator", alice.Delegate)
	}
	if alice.Nonce != 1 {
		t.Fatalf("alice nonce = %d, want 1", alice.Nonce)
	}
}

func TestApplyDiffFeeTransferAndCoinbaseDoNotBumpNonce(t *testing.T) {
	l := New()
	diff := LedgerDiff{BlockHash: "b1", Effects: []Effect{
		{Kind: EffectFeeTransfer, Receiver: "miner", Amount: 1},
		{Kind: EffectCoinbase, Receiver: "miner", Amount: 720},
	}}
	if err := l.ApplyDiff(diff); err != nil {
		t.Fatalf("apply: %v", err)
	}
	miner := l.Get("miner")
	if miner.Balance != 721 {
		t.Fatalf("miner balance = %d, want 721", miner.Balance)
	}
	if miner.Nonce != 0 {
		t.Fatalf("miner nonce = %d, want 0 (fee transfers and coinbases never bump nonce)", miner.Nonce)
	}
}

func TestFromBlockOrdersEffectsAsCommandsThenCoinbase(t *testing.T) {
	pb := &block.Precomputed{
		StateHash: "b1",
		Commands: []block.Command{
			{Kind: block.CommandPayment, Source: "alice", Receiver: "bob", Amount: 10},
			{Kind: block.CommandDelegation, Source: "bob", Receiver: "validator"},
		},
		CoinbaseReceiver: "miner",
	}
	diff := FromBlock(pb)
	if len(diff.Effects) != 3 {
		t.Fatalf("len(Effects) = %d, want 3", len(diff.Effects))
	}
	if diff.Effects[0].Kind != EffectPayment || diff.Effects[1].Kind != EffectDelegation {
		t.Fatalf("command effects out of order: %+v", diff.Effects[:2])
	}
	if diff.Effects[2].Kind != EffectCoinbase || diff.Effects[2].Receiver != "miner" {
		t.Fatalf("trailing coinbase effect wrong: %+v", diff.Effects[2])
	}
}

func TestCloneIsIndependent(t *testing.T) {
	l := New()
	l.Accounts["alice"] = Account{PublicKey: "alice", Balance: 100}

	clone := l.Clone()
	clone.Accounts["alice"] = Account{PublicKey: "alice", Balance: 0}

	if l.Get("alice").Balance != 100 {
		t.Fatalf("mutating clone affected original: original balance = %d", l.Get("alice").Balance)
	}
}
