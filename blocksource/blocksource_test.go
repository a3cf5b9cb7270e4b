package blocksource

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mina-indexer/mina-indexer/block"
)

func writeBlock(t *testing.T, dir, name string, pb *block.Precomputed) {
	t.Helper()
	data, err := json.Marshal(pb)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestBulkLoadOrdersByFileName(t *testing.T) {
	dir := t.TempDir()
	ln1, ln2 := uint32(1), uint32(2)
	writeBlock(t, dir, "2-b.json", &block.Precomputed{StateHash: "b", BlockchainLength: &ln2})
	writeBlock(t, dir, "1-a.json", &block.Precomputed{StateHash: "a", BlockchainLength: &ln1})
	writeBlock(t, dir, "ignore.txt", nil)

	blocks, err := BulkLoad(dir)
	if err != nil {
		t.Fatalf("BulkLoad: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("len(blocks) = %d, want 2 (non-.json files skipped)", len(blocks))
	}
	if blocks[0].StateHash != "a" || blocks[1].StateHash != "b" {
		t.Fatalf("blocks not ordered by file name: %s, %s", blocks[0].StateHash, blocks[1].StateHash)
	}
}

func TestBulkLoadMissingDirectoryIsEmpty(t *testing.T) {
	blocks, err := BulkLoad(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("BulkLoad(missing dir): %v", err)
	}
	if blocks != nil {
		t.Fatalf("expected nil blocks for a missing startup directory, got %v", blocks)
	}
}

func TestWatchDeliversNewBlocks(t *testing.T) {
	dir := t.TempDir()
	w, err := Watch(dir)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	ln := uint32(1)
	writeBlock(t, dir, "b1.json", &block.Precomputed{StateHash: "b1", BlockchainLength: &ln})

	select {
	case pb := <-w.Blocks():
		if pb.StateHash != "b1" {
			t.Fatalf("delivered block = %s, want b1", pb.StateHash)
		}
	case err := <-w.Errors():
		t.Fatalf("watcher error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for watched block")
	}
}
