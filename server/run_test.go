package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mina-indexer/mina-indexer/ledger"
	"github.com/mina-indexer/mina-indexer/store"
	"github.com/mina-indexer/mina-indexer/witness"
)

func ln(n uint32) *uint32 { return &n }

func dialWithRetry(path string, timeout time.Duration) (net.Conn, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.Dial("unix", path)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(20 * time.Millisecond)
	}
	return nil, lastErr
}

func TestRunServesSummaryOverControlSocket(t *testing.T) {
	dataDir := t.TempDir()
	cfg := DefaultConfig(dataDir)
	cfg.SocketPath = filepath.Join(dataDir, "ctl.sock")
	if err := os.MkdirAll(cfg.StartupDir, 0o755); err != nil {
		t.Fatalf("mkdir startup dir: %v", err)
	}
	if err := os.MkdirAll(cfg.WatchDir, 0o755); err != nil {
		t.Fatalf("mkdir watch dir: %v", err)
	}

	st, err := store.Open(cfg.DatabaseDir)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	f, err := witness.New("genesis", ln(0), ledger.New(), st, nil, cfg.PruneInterval)
	if err != nil {
		t.Fatalf("witness.New: %v", err)
	}

	logger := zap.NewNop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, f, st, logger) }()

	conn, err := dialWithRetry(cfg.SocketPath, 2*time.Second)
	if err != nil {
		t.Fatalf("dial control socket: %v", err)
	}
	if _, err := conn.Write([]byte("summary\x00")); err != nil {
		t.Fatalf("write request: %v", err)
	}
	data, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}

	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("unmarshal summary response: %v (data=%q)", err, data)
	}
	if s.RootHash != "genesis" {
		t.Fatalf("summary.RootHash = %q, want genesis", s.RootHash)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}
