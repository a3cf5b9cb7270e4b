package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mina-indexer/mina-indexer/block"
	"github.com/mina-indexer/mina-indexer/ledger"
	"github.com/mina-indexer/mina-indexer/witness"
)

func ln(n uint32) *uint32 { return &n }

func TestPutGetBlockRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	pb := &block.Precomputed{StateHash: "b1", ParentHash: "b0", BlockchainLength: ln(3), CoinbaseReceiver: "miner"}
	if err := s.PutBlock(pb); err != nil {
		t.Fatalf("PutBlock: %v", err)
	}

	has, err := s.HasBlock("b1")
	if err != nil || !has {
		t.Fatalf("HasBlock(b1) = %v, %v, want true, nil", has, err)
	}
	got, ok, err := s.GetBlock("b1")
	if err != nil || !ok {
		t.Fatalf("GetBlock(b1) = %v, %v, %v", got, ok, err)
	}
	if got.ParentHash != "b0" || *got.BlockchainLength != 3 {
		t.Fatalf("round-tripped block mismatch: %+v", got)
	}

	if _, ok, err := s.GetBlock("missing"); err != nil || ok {
		t.Fatalf("GetBlock(missing) = %v, %v, want false, nil", ok, err)
	}
}

func TestPutGetLedgerRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	l := ledger.New()
	delegate := block.PublicKey("validator")
	l.Accounts["alice"] = ledger.Account{PublicKey: "alice", Balance: 100, Nonce: 2, Delegate: &delegate}
	l.Accounts["bob"] = ledger.Account{PublicKey: "bob", Balance: 5}

	if err := s.PutLedger("checkpoint-1", l); err != nil {
		t.Fatalf("PutLedger: %v", err)
	}
	got, ok, err := s.GetLedger("checkpoint-1")
	if err != nil || !ok {
		t.Fatalf("GetLedger = %v, %v, %v", got, ok, err)
	}
	alice := got.Get("alice")
	if alice.Balance != 100 || alice.Nonce != 2 || alice.Delegate == nil || *alice.Delegate != "validator" {
		t.Fatalf("round-tripped account mismatch: %+v", alice)
	}
}

func TestCanonicityRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.MarkCanonical("b1"); err != nil {
		t.Fatalf("MarkCanonical: %v", err)
	}
	if err := s.MarkOrphaned("b2"); err != nil {
		t.Fatalf("MarkOrphaned: %v", err)
	}
	c1, ok, err := s.GetCanonicity("b1")
	if err != nil || !ok || c1 != witness.CanonicalStatus {
		t.Fatalf("GetCanonicity(b1) = %v, %v, %v", c1, ok, err)
	}
	c2, ok, err := s.GetCanonicity("b2")
	if err != nil || !ok || c2 != witness.Orphaned {
		t.Fatalf("GetCanonicity(b2) = %v, %v, %v", c2, ok, err)
	}
}

func TestLoadTuningFallsBackOnMissingOrInvalidFile(t *testing.T) {
	dir := t.TempDir()
	got := LoadTuning(dir)
	want := DefaultTuning()
	if got != want {
		t.Fatalf("LoadTuning(missing) = %+v, want defaults %+v", got, want)
	}

	if err := os.WriteFile(filepath.Join(dir, TuningConfigFile), []byte("not: valid: yaml: ["), 0o644); err != nil {
		t.Fatalf("write tuning file: %v", err)
	}
	got = LoadTuning(dir)
	if got != want {
		t.Fatalf("LoadTuning(invalid) = %+v, want defaults %+v", got, want)
	}
}

func TestLoadTuningReadsValidYAML(t *testing.T) {
	dir := t.TempDir()
	content := "write_buffer_size: 1048576\ntarget_file_size: 2097152\n"
	if err := os.WriteFile(filepath.Join(dir, TuningConfigFile), []byte(content), 0o644); err != nil {
		t.Fatalf("write tuning file: %v", err)
	}
	got := LoadTuning(dir)
	if got.WriteBufferSize != 1048576 || got.TargetFileSize != 2097152 {
		t.Fatalf("LoadTuning = %+v, want parsed values", got)
	}
}

func TestSnapshotIsIndependentOfPrimary(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	pb1 := &block.Precomputed{StateHash: "b1", ParentHash: "b0", BlockchainLength: ln(1)}
	if err := s.PutBlock(pb1); err != nil {
		t.Fatalf("PutBlock: %v", err)
	}

	snap, err := s.Snapshot(t.TempDir())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	defer snap.Close()

	if _, ok, err := snap.GetBlock("b1"); err != nil || !ok {
		t.Fatalf("snapshot missing block present at snapshot time: %v, %v", ok, err)
	}

	pb2 := &block.Precomputed{StateHash: "b2", ParentHash: "b1", BlockchainLength: ln(2)}
	if err := s.PutBlock(pb2); err != nil {
		t.Fatalf("PutBlock: %v", err)
	}
	if _, ok, err := snap.GetBlock("b2"); err != nil || ok {
		t.Fatalf("snapshot observed a write made after it was taken: ok=%v, err=%v", ok, err)
	}
}
