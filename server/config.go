// Package server is the control plane: the concurrency model from spec
// §5 (a single-threaded event loop multiplexing block ingestion and the
// control-socket accept loop) and the external interfaces from spec §6
// (the NUL-terminated, ASCII control-socket protocol and the Summary
// record). Grounded on original_source/src/server/mod.rs for the protocol
// shape, and on the teacher's node.Config/ValidateConfig split (see
// config.go) for the ambient configuration layer.
package server

import (
	"errors"
	"fmt"
	"strings"
)

// SocketName is the default control-socket address, using the Linux
// abstract-namespace convention (a leading '@') the Go net package maps to
// a NUL-prefixed abstract socket name — mirroring the original's
// SOCKET_NAME constant.
const SocketName = "@mina-indexer.sock"

// MainnetGenesisHash is the default root hash for a mainnet indexer,
// mirroring the original's MAINNET_GENESIS_HASH constant.
const MainnetGenesisHash = "3NKeMoncuHab5ScarV5ViyF16cJPT4taWNSaTLS64Dp67wuXigPZ"

// BlockReportingFreq is how often (in blocks processed) the event loop
// logs an ingestion progress line, mirroring BLOCK_REPORTING_FREQ.
const BlockReportingFreq = 5000

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// Config is the server's flag-sourced configuration.
type Config struct {
	RootHash      string
	DataDir       string
	LogDir        string
	DatabaseDir   string
	WatchDir      string
	StartupDir    string
	SocketPath    string
	PruneInterval uint32
	LogLevel      string
}

// DefaultConfig returns the server's baseline configuration, rooted under
// dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		RootHash:      MainnetGenesisHash,
		DataDir:       dataDir,
		LogDir:        dataDir + "/logs",
		DatabaseDir:   dataDir + "/database",
		WatchDir:      dataDir + "/blocks/watch",
		StartupDir:    dataDir + "/blocks/startup",
		SocketPath:    SocketName,
		PruneInterval: 10,
		LogLevel:      "info",
	}
}

// ValidateConfig fails fast on an unusable configuration, the way
// node.ValidateConfig does for the teacher's Config.
func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.RootHash) == "" {
		return errors.New("root_hash is required")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	if strings.TrimSpace(cfg.SocketPath) == "" {
		return errors.New("socket_path is required")
	}
	if cfg.PruneInterval == 0 {
		return errors.New("prune_interval must be > 0")
	}
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[logLevel]; !ok {
		return fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	return nil
}
