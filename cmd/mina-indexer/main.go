// Command mina-indexer runs the witness-forest indexer server, or queries
// a running instance over its control socket. Grounded on the teacher's
// cmd/rubin-node/main.go: a testable run(args, stdout, stderr) int
// entrypoint built on stdlib flag.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mina-indexer/mina-indexer/block"
	"github.com/mina-indexer/mina-indexer/ledger"
	"github.com/mina-indexer/mina-indexer/logging"
	"github.com/mina-indexer/mina-indexer/server"
	"github.com/mina-indexer/mina-indexer/store"
	"github.com/mina-indexer/mina-indexer/witness"
)

// exitUnparseableGenesisLedger is returned when --genesis-ledger is set but
// cannot be decoded, distinct from the generic config-error exit code so
// operators can distinguish "bad flags" from "bad genesis data" in scripts.
const exitUnparseableGenesisLedger = 100

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: mina-indexer <server|client> ...")
		return 2
	}
	switch args[0] {
	case "server":
		return runServer(args[1:], stdout, stderr)
	case "client":
		return runClient(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown subcommand %q\n", args[0])
		return 2
	}
}

func runServer(args []string, stdout, stderr io.Writer) int {
	defaults := server.DefaultConfig(defaultDataDir())

	fs := flag.NewFlagSet("mina-indexer server", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfg := defaults
	fs.StringVar(&cfg.RootHash, "root-hash", defaults.RootHash, "genesis/root block state hash")
	fs.StringVar(&cfg.DataDir, "data-dir", defaults.DataDir, "base data directory")
	fs.StringVar(&cfg.LogDir, "log-dir", defaults.LogDir, "log directory")
	fs.StringVar(&cfg.DatabaseDir, "database-dir", defaults.DatabaseDir, "embedded store directory")
	fs.StringVar(&cfg.WatchDir, "watch-dir", defaults.WatchDir, "directory watched for new blocks")
	fs.StringVar(&cfg.StartupDir, "startup-dir", defaults.StartupDir, "directory bulk-loaded at startup")
	fs.StringVar(&cfg.SocketPath, "socket", defaults.SocketPath, "control socket address")
	fs.StringVar(&cfg.LogLevel, "log-level", defaults.LogLevel, "log level: debug|info|warn|error")
	var pruneInterval uint
	fs.UintVar(&pruneInterval, "prune-interval", uint(defaults.PruneInterval), "prune_interval * k is the root branch height pruning threshold")
	k := fs.Uint("transition-frontier-k", witness.MainnetTransitionFrontierK, "transition frontier length (0 disables pruning)")
	ledgerUpdateFreq := fs.Uint("ledger-update-freq", witness.DefaultLedgerUpdateFreq, "blocks between canonical ledger checkpoints")
	genesisLedgerPath := fs.String("genesis-ledger", "", "path to a JSON genesis ledger (account array); empty genesis ledger if unset")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg.PruneInterval = uint32(pruneInterval)

	if err := server.ValidateConfig(cfg); err != nil {
		fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 2
	}

	genesisLedger, err := loadGenesisLedger(*genesisLedgerPath)
	if err != nil {
		fmt.Fprintf(stderr, "unparseable genesis ledger: %v\n", err)
		return exitUnparseableGenesisLedger
	}

	logger, closeLogger, err := logging.New(logging.ParseLevel(cfg.LogLevel), cfg.LogDir)
	if err != nil {
		fmt.Fprintf(stderr, "logger init failed: %v\n", err)
		return 2
	}
	defer closeLogger()

	st, err := store.Open(cfg.DatabaseDir)
	if err != nil {
		fmt.Fprintf(stderr, "store open failed: %v\n", err)
		return 2
	}
	defer st.Close()

	var kPtr *uint32
	if *k > 0 {
		kv := uint32(*k)
		kPtr = &kv
	}

	f, err := witness.New(block.Hash(cfg.RootHash), nil, genesisLedger, st, kPtr, cfg.PruneInterval)
	if err != nil {
		fmt.Fprintf(stderr, "witness forest init failed: %v\n", err)
		return 2
	}
	f.LedgerUpdateFreq = uint32(*ledgerUpdateFreq)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(stdout, "mina-indexer server starting: root=%s socket=%s\n", cfg.RootHash, cfg.SocketPath)
	if err := server.Run(ctx, cfg, f, st, logger); err != nil {
		if isAddrInUse(err) {
			fmt.Fprintf(stderr, "control socket already bound: %v\n", err)
			return 1
		}
		fmt.Fprintf(stderr, "server error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "mina-indexer server stopped")
	return 0
}

func runClient(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: mina-indexer client <account|best-chain|best-ledger|summary> [--socket path] [arg]")
		return 2
	}
	subcommand := args[0]
	rest := args[1:]

	commands := map[string]string{
		"account":     "account",
		"best-chain":  "best_chain",
		"best-ledger": "best_ledger",
		"summary":     "summary",
	}
	command, ok := commands[subcommand]
	if !ok {
		fmt.Fprintf(stderr, "unknown client subcommand %q\n", subcommand)
		return 2
	}

	fs := flag.NewFlagSet("mina-indexer client "+subcommand, flag.ContinueOnError)
	fs.SetOutput(stderr)
	socket := fs.String("socket", server.SocketName, "control socket address")
	if err := fs.Parse(rest); err != nil {
		return 2
	}

	var positional string
	if subcommand != "summary" {
		if fs.NArg() < 1 {
			fmt.Fprintf(stderr, "%s requires one argument\n", subcommand)
			return 2
		}
		positional = fs.Arg(0)
	}

	request := command
	if positional != "" {
		request = command + " " + positional
	}

	conn, err := net.Dial("unix", *socket)
	if err != nil {
		fmt.Fprintf(stderr, "connecting to %s: %v\n", *socket, err)
		return 1
	}
	defer conn.Close()

	if _, err := conn.Write(append([]byte(request), 0)); err != nil {
		fmt.Fprintf(stderr, "sending request: %v\n", err)
		return 1
	}
	data, err := io.ReadAll(conn)
	if err != nil {
		fmt.Fprintf(stderr, "reading response: %v\n", err)
		return 1
	}
	stdout.Write(data)
	fmt.Fprintln(stdout)
	return 0
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".mina-indexer"
	}
	return home + "/.mina-indexer"
}

func loadGenesisLedger(path string) (*ledger.Ledger, error) {
	if path == "" {
		return ledger.New(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading genesis ledger %s: %w", path, err)
	}
	var accounts []genesisAccount
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("parsing genesis ledger %s: %w", path, err)
	}
	l := ledger.New()
	for _, a := range accounts {
		pk := block.PublicKey(a.PublicKey)
		l.Accounts[pk] = ledger.Account{PublicKey: pk, Balance: a.Balance}
	}
	return l, nil
}

type genesisAccount struct {
	PublicKey string `json:"public_key"`
	Balance   uint64 `json:"balance"`
}

func isAddrInUse(err error) bool {
	return err != nil && strings.Contains(err.Error(), "address already in use")
}
