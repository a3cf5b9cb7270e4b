// Package logging builds the indexer's structured logger: a zap core that
// tees to stdout at the configured level and to a per-run numbered log
// file at debug level, grounded on original_source/src/server/mod.rs's
// dual tracing_subscriber layers and AKJUS-bsc-erigon's use of
// go.uber.org/zap.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NextLogFile probes "<dir>/mina-indexer-<n>.log" starting at 0 and
// returns the first path that does not already exist, mirroring the
// original's log file numbering loop.
func NextLogFile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("logging: creating log directory: %w", err)
	}
	for n := 0; ; n++ {
		path := filepath.Join(dir, fmt.Sprintf("mina-indexer-%d.log", n))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path, nil
		}
	}
}

// New builds a *zap.Logger that writes human-readable lines to stdout at
// level, and JSON lines to the next numbered file under logDir at debug
// level. The returned closer flushes and closes the log file handle.
func New(level zapcore.Level, logDir string) (*zap.Logger, func() error, error) {
	logPath, err := NextLogFile(logDir)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: opening log file %s: %w", logPath, err)
	}

	stdoutEncoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	fileEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())

	core := zapcore.NewTee(
		zapcore.NewCore(stdoutEncoder, zapcore.Lock(os.Stdout), level),
		zapcore.NewCore(fileEncoder, zapcore.Lock(f), zapcore.DebugLevel),
	)
	logger := zap.New(core)
	closer := func() error {
		_ = logger.Sync()
		return f.Close()
	}
	return logger, closer, nil
}

// ParseLevel maps a config string ("debug", "info", "warn", "error") onto
// a zapcore.Level, defaulting to info on an unrecognized value.
func ParseLevel(s string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
