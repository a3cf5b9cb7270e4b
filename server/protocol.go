package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mina-indexer/mina-indexer/block"
	"github.com/mina-indexer/mina-indexer/ledger"
	"github.com/mina-indexer/mina-indexer/store"
)

// connContext is the per-connection snapshot a control-socket request is
// answered against: a consistent read-only view of the store plus the
// ledger and chain as of the moment the connection was accepted, so
// concurrent ingestion never mutates state mid-response.
type connContext struct {
	snapshot  *store.SnapshotReader
	bestChain []block.Hash // tip-first
	ledger    *ledger.Ledger
	summary   Summary
}

// readRequest reads one NUL-terminated request: "<command>[ <arg>]\x00".
func readRequest(r *bufio.Reader) (command string, arg string, err error) {
	raw, err := r.ReadBytes(0)
	if err != nil {
		return "", "", fmt.Errorf("server: reading request: %w", err)
	}
	raw = bytes.TrimSuffix(raw, []byte{0})
	parts := bytes.SplitN(raw, []byte{' '}, 2)
	command = string(parts[0])
	if len(parts) == 2 {
		arg = string(parts[1])
	}
	return command, arg, nil
}

// handleConn services exactly one request on conn and then closes it,
// matching the original's one-shot LocalSocketStream handling.
func handleConn(conn net.Conn, ctx connContext, logger *zap.Logger) error {
	defer conn.Close()

	r := bufio.NewReader(conn)
	command, arg, err := readRequest(r)
	if err != nil {
		return err
	}

	switch command {
	case "account":
		return handleAccount(conn, ctx, arg, logger)
	case "best_chain":
		return handleBestChain(conn, ctx, arg, logger)
	case "best_ledger":
		return handleBestLedger(conn, ctx, arg, logger)
	case "summary":
		return handleSummary(conn, ctx, logger)
	default:
		err := fmt.Errorf("server: malformed request: %q", command)
		logger.Error(err.Error())
		return err
	}
}

func handleAccount(w io.Writer, ctx connContext, arg string, logger *zap.Logger) error {
	logger.Info("received account command", zap.String("public_key", arg))
	a := ctx.ledger.Get(block.PublicKey(arg))
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("server: encoding account response: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func handleBestChain(w io.Writer, ctx connContext, arg string, logger *zap.Logger) error {
	logger.Info("received best_chain command")
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n < 0 {
		return fmt.Errorf("server: malformed best_chain count %q: %w", arg, err)
	}
	if n > len(ctx.bestChain) {
		n = len(ctx.bestChain)
	}
	blocks := make([]*block.Precomputed, 0, n)
	for _, hash := range ctx.bestChain[:n] {
		pb, ok, err := ctx.snapshot.GetBlock(hash)
		if err != nil {
			return fmt.Errorf("server: loading block %s for best_chain: %w", hash, err)
		}
		if !ok {
			continue
		}
		blocks = append(blocks, pb)
	}
	data, err := json.Marshal(blocks)
	if err != nil {
		return fmt.Errorf("server: encoding best_chain response: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func handleBestLedger(w io.Writer, ctx connContext, arg string, logger *zap.Logger) error {
	path := strings.TrimSpace(arg)
	logger.Info("received best_ledger command", zap.String("path", path))
	data, err := json.Marshal(ctx.ledger)
	if err != nil {
		return fmt.Errorf("server: encoding ledger for best_ledger: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("server: writing ledger to %s: %w", path, err)
	}
	confirmation, err := json.Marshal(fmt.Sprintf("Ledger written to %s", path))
	if err != nil {
		return err
	}
	_, err = w.Write(confirmation)
	return err
}

func handleSummary(w io.Writer, ctx connContext, logger *zap.Logger) error {
	logger.Info("received summary command")
	data, err := json.Marshal(ctx.summary)
	if err != nil {
		return fmt.Errorf("server: encoding summary response: %w", err)
	}
	_, err = w.Write(data)
	return err
}
