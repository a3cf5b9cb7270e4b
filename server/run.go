package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/mina-indexer/mina-indexer/block"
	"github.com/mina-indexer/mina-indexer/blocksource"
	"github.com/mina-indexer/mina-indexer/store"
	"github.com/mina-indexer/mina-indexer/witness"
)

// startTime supplies the moment Run starts, from which Summary.Uptime is
// measured.
var startTime = time.Now

// Run bulk-loads cfg.StartupDir into forest, then runs the single-threaded
// event loop: it multiplexes new blocks arriving on cfg.WatchDir against
// accepted control-socket connections until ctx is cancelled, mirroring
// the original's tokio::select! loop over block_receiver.recv() and
// listener.accept().
func Run(ctx context.Context, cfg Config, f *witness.Forest, st *store.Store, logger *zap.Logger) error {
	started := startTime()

	startupBlocks, err := blocksource.BulkLoad(cfg.StartupDir)
	if err != nil {
		return fmt.Errorf("server: bulk loading startup directory: %w", err)
	}
	ingestStart := time.Now()
	for _, pb := range startupBlocks {
		if _, err := f.AddBlock(pb); err != nil {
			return fmt.Errorf("server: ingesting startup block %s: %w", pb.StateHash, err)
		}
	}
	logger.Info("ingested startup blocks", zap.Int("count", len(startupBlocks)), zap.Duration("elapsed", time.Since(ingestStart)))

	watcher, err := blocksource.Watch(cfg.WatchDir)
	if err != nil {
		return fmt.Errorf("server: starting block watcher: %w", err)
	}
	defer watcher.Close()

	f.Phase = witness.Watching

	listener, err := net.Listen("unix", cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("server: binding control socket %s: %w", cfg.SocketPath, err)
	}
	defer listener.Close()
	logger.Info("local socket listener started", zap.String("socket", cfg.SocketPath))

	conns := acceptLoop(ctx, listener, logger)

	for {
		select {
		case <-ctx.Done():
			return nil

		case pb, ok := <-watcher.Blocks():
			if !ok {
				logger.Info("block watcher closed, shutting down")
				return nil
			}
			ext, err := f.AddBlock(pb)
			if err != nil {
				return fmt.Errorf("server: adding watched block %s: %w", pb.StateHash, err)
			}
			length := uint32(0)
			if pb.BlockchainLength != nil {
				length = *pb.BlockchainLength
			}
			logger.Info("added block", zap.String("state_hash", string(pb.StateHash)), zap.Uint32("length", length), zap.Stringer("extension", ext))
			if f.BlocksProcessed%BlockReportingFreq == 0 {
				logger.Info("ingestion progress", zap.Uint64("blocks_processed", f.BlocksProcessed))
			}

		case werr, ok := <-watcher.Errors():
			if ok {
				logger.Warn("block watcher error", zap.Error(werr))
			}

		case conn, ok := <-conns:
			if !ok {
				continue
			}
			handleAccepted(conn, f, st, cfg, started, logger)
		}
	}
}

func acceptLoop(ctx context.Context, listener net.Listener, logger *zap.Logger) <-chan net.Conn {
	out := make(chan net.Conn)
	go func() {
		defer close(out)
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
					logger.Warn("accept failed", zap.Error(err))
					return
				}
			}
			select {
			case out <- conn:
			case <-ctx.Done():
				conn.Close()
				return
			}
		}
	}()
	return out
}

// handleAccepted builds the per-connection snapshot (a fresh read-only
// store view, the current best chain and ledger, and a Summary) and
// services the request in its own goroutine, so one slow client never
// blocks block ingestion.
func handleAccepted(conn net.Conn, f *witness.Forest, st *store.Store, cfg Config, started time.Time, logger *zap.Logger) {
	logger.Info("accepted connection")

	snapshot, err := st.Snapshot(cfg.DatabaseDir)
	if err != nil {
		logger.Error("failed to open snapshot for connection", zap.Error(err))
		conn.Close()
		return
	}

	bestChain := reverseHashes(f.Root.LongestChain())
	currentLedger, err := f.CurrentLedger(snapshot.GetLedger)
	if err != nil {
		logger.Error("failed to reconstruct current ledger for connection", zap.Error(err))
		snapshot.Close()
		conn.Close()
		return
	}

	bestTip, _ := f.Root.Get(f.BestTip)
	root, _ := f.Root.Get(f.Root.Root())
	maxDanglingHeight, maxDanglingLen := uint32(0), 0
	for _, d := range f.Dangling {
		if d.Height() > maxDanglingHeight {
			maxDanglingHeight = d.Height()
		}
		if d.Len() > maxDanglingLen {
			maxDanglingLen = d.Len()
		}
	}

	summary := Summary{
		Uptime:            time.Since(started),
		DateTime:          time.Now(),
		BlocksProcessed:   f.BlocksProcessed,
		BestTipHash:       string(bestTip.StateHash),
		RootHash:          string(root.StateHash),
		RootHeight:        f.Root.Height(),
		RootLength:        f.Root.Len(),
		NumLeaves:         len(f.Root.Leaves()),
		NumDangling:       len(f.Dangling),
		MaxDanglingHeight: maxDanglingHeight,
		MaxDanglingLength: maxDanglingLen,
	}

	ctx := connContext{snapshot: snapshot, bestChain: bestChain, ledger: currentLedger, summary: summary}

	go func() {
		defer snapshot.Close()
		if err := handleConn(conn, ctx, logger); err != nil {
			logger.Error("error handling connection", zap.Error(err))
		}
	}()
}

func reverseHashes(hashes []block.Hash) []block.Hash {
	out := make([]block.Hash, len(hashes))
	for i, h := range hashes {
		out[len(hashes)-1-i] = h
	}
	return out
}

