// Package store is the embedded on-disk store (spec §4.E): blocks,
// per-checkpoint ledgers, and per-block canonicity, each in their own
// bbolt bucket, plus a read-only snapshot view (§4.F). Grounded on the
// teacher's node/store/db.go (bbolt Open, bucket layout, Put/Get per
// bucket) and original_source/src/store.rs (tuning-config YAML with
// fallback defaults, secondary/read-only view).
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
	"gopkg.in/yaml.v3"

	"github.com/mina-indexer/mina-indexer/block"
	"github.com/mina-indexer/mina-indexer/ledger"
	"github.com/mina-indexer/mina-indexer/witness"
)

var (
	bucketBlocks     = []byte("blocks")
	bucketLedgers    = []byte("ledgers")
	bucketCanonicity = []byte("canonicity")
)

// TuningConfigFile is the name of the on-disk tuning file the original
// crate reads as ROCKSDB_TUNING_CONFIG_FILE.
const TuningConfigFile = "tuning.config"

// Tuning mirrors original_source/src/store.rs's RocksDBTuningConfig. bbolt
// is a single-file mmap B+tree, not an LSM engine, so these fields have no
// literal RocksDB equivalent; WriteBufferSize is applied as bolt's
// InitialMmapSize hint and TargetFileSize is parsed but not used.
type Tuning struct {
	WriteBufferSize int   `yaml:"write_buffer_size"`
	TargetFileSize  int64 `yaml:"target_file_size"`
}

// DefaultTuning mirrors the original's ROCKSDB_WRITE_BUFFER_SIZE (512MiB)
// and ROCKSDB_TARGET_FILE_SIZE (1GiB) constants.
func DefaultTuning() Tuning {
	return Tuning{
		WriteBufferSize: 512 * 1024 * 1024,
		TargetFileSize:  1024 * 1024 * 1024,
	}
}

// LoadTuning reads dir/tuning.config as YAML, falling back to
// DefaultTuning on any read or parse error, exactly as
// initialize_rocksdb_tuning_configuration does.
func LoadTuning(dir string) Tuning {
	data, err := os.ReadFile(filepath.Join(dir, TuningConfigFile))
	if err != nil {
		return DefaultTuning()
	}
	var t Tuning
	if err := yaml.Unmarshal(data, &t); err != nil {
		return DefaultTuning()
	}
	if t.WriteBufferSize <= 0 || t.TargetFileSize <= 0 {
		return DefaultTuning()
	}
	return t
}

// Store is the embedded, single-writer KV store backing the witness
// forest.
type Store struct {
	path string
	db   *bolt.DB
}

// Open opens (creating if necessary) the bbolt database at
// dir/mina-indexer.db, ensuring the blocks/ledgers/canonicity buckets
// exist.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: creating database directory: %w", err)
	}
	tuning := LoadTuning(dir)
	path := filepath.Join(dir, "mina-indexer.db")
	db, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:         1 * time.Second,
		InitialMmapSize: tuning.WriteBufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("store: open bbolt database: %w", err)
	}
	s := &Store{path: path, db: db}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketBlocks, bucketLedgers, bucketCanonicity} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", string(b), err)
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the on-disk database file path.
func (s *Store) Path() string { return s.path }

// HasBlock reports whether hash has already been persisted.
func (s *Store) HasBlock(hash block.Hash) (bool, error) {
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBlocks).Get([]byte(hash))
		found = v != nil
		return nil
	})
	return found, err
}

// PutBlock persists a precomputed block, keyed by its state hash.
func (s *Store) PutBlock(pb *block.Precomputed) error {
	data, err := json.Marshal(pb)
	if err != nil {
		return fmt.Errorf("store: encoding block %s: %w", pb.StateHash, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlocks).Put([]byte(pb.StateHash), data)
	})
}

// GetBlock returns the persisted precomputed block for hash, if any.
func (s *Store) GetBlock(hash block.Hash) (*block.Precomputed, bool, error) {
	var pb *block.Precomputed
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBlocks).Get([]byte(hash))
		if v == nil {
			return nil
		}
		var decoded block.Precomputed
		if err := json.Unmarshal(v, &decoded); err != nil {
			return fmt.Errorf("decoding block %s: %w", hash, err)
		}
		pb = &decoded
		return nil
	})
	return pb, pb != nil, err
}

// ledgerAccount is the on-disk shape of a ledger.Account: Delegate is
// flattened to an empty string when absent so the JSON round-trips without
// a pointer indirection.
type ledgerAccount struct {
	PublicKey block.PublicKey `json:"public_key"`
	Balance   uint64          `json:"balance"`
	Nonce     uint32          `json:"nonce"`
	Delegate  block.PublicKey `json:"delegate,omitempty"`
}

// PutLedger persists a full ledger checkpoint keyed by the block hash it
// was computed as of.
func (s *Store) PutLedger(hash block.Hash, l *ledger.Ledger) error {
	accounts := make([]ledgerAccount, 0, len(l.Accounts))
	for _, a := range l.Accounts {
		la := ledgerAccount{PublicKey: a.PublicKey, Balance: a.Balance, Nonce: a.Nonce}
		if a.Delegate != nil {
			la.Delegate = *a.Delegate
		}
		accounts = append(accounts, la)
	}
	data, err := json.Marshal(accounts)
	if err != nil {
		return fmt.Errorf("store: encoding ledger checkpoint %s: %w", hash, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLedgers).Put([]byte(hash), data)
	})
}

// GetLedger returns the ledger checkpoint persisted at hash, if any.
func (s *Store) GetLedger(hash block.Hash) (*ledger.Ledger, bool, error) {
	var l *ledger.Ledger
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketLedgers).Get([]byte(hash))
		if v == nil {
			return nil
		}
		var accounts []ledgerAccount
		if err := json.Unmarshal(v, &accounts); err != nil {
			return fmt.Errorf("decoding ledger checkpoint %s: %w", hash, err)
		}
		out := ledger.New()
		for _, la := range accounts {
			a := ledger.Account{PublicKey: la.PublicKey, Balance: la.Balance, Nonce: la.Nonce}
			if la.Delegate != "" {
				d := la.Delegate
				a.Delegate = &d
			}
			out.Accounts[la.PublicKey] = a
		}
		l = out
		return nil
	})
	return l, l != nil, err
}

// MarkCanonical records hash as canonical.
func (s *Store) MarkCanonical(hash block.Hash) error {
	return s.putCanonicity(hash, witness.CanonicalStatus)
}

// MarkOrphaned records hash as orphaned.
func (s *Store) MarkOrphaned(hash block.Hash) error {
	return s.putCanonicity(hash, witness.Orphaned)
}

func (s *Store) putCanonicity(hash block.Hash, c witness.Canonicity) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCanonicity).Put([]byte(hash), []byte{byte(c)})
	})
}

// GetCanonicity returns the recorded canonicity status for hash, if any.
func (s *Store) GetCanonicity(hash block.Hash) (witness.Canonicity, bool, error) {
	var c witness.Canonicity
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketCanonicity).Get([]byte(hash))
		if v == nil {
			return nil
		}
		c = witness.Canonicity(v[0])
		found = true
		return nil
	})
	return c, found, err
}

// SnapshotReader is a point-in-time, read-only view of the store, taken by
// copying the live bbolt file into a fresh scratch directory. bbolt has no
// native secondary/follower mode the way RocksDB does; Tx.WriteTo inside a
// read transaction gives a consistent online copy without blocking the writer (bbolt readers never
// block writers), which is the bbolt-shaped equivalent of RocksDB's
// open_cf_as_secondary.
type SnapshotReader struct {
	dir string
	db  *bolt.DB
}

// Snapshot takes a consistent copy of the store under scratchRoot, in a
// directory named with a fresh UUID (mirroring the original's
// uuid::Uuid::new_v4() secondary-view naming), and opens it read-only.
func (s *Store) Snapshot(scratchRoot string) (*SnapshotReader, error) {
	dir := filepath.Join(scratchRoot, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: creating snapshot scratch directory: %w", err)
	}
	copyPath := filepath.Join(dir, "snapshot.db")

	f, err := os.OpenFile(copyPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("store: creating snapshot file: %w", err)
	}
	err = s.db.View(func(tx *bolt.Tx) error {
		_, werr := tx.WriteTo(f)
		return werr
	})
	closeErr := f.Close()
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("store: copying snapshot: %w", err)
	}
	if closeErr != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("store: closing snapshot file: %w", closeErr)
	}

	db, err := bolt.Open(copyPath, 0o400, &bolt.Options{ReadOnly: true, Timeout: 1 * time.Second})
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("store: opening snapshot read-only: %w", err)
	}
	return &SnapshotReader{dir: dir, db: db}, nil
}

// Close closes the snapshot's database handle and removes its scratch
// directory.
func (r *SnapshotReader) Close() error {
	err := r.db.Close()
	if rmErr := os.RemoveAll(r.dir); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}

// GetBlock reads a block from the snapshot.
func (r *SnapshotReader) GetBlock(hash block.Hash) (*block.Precomputed, bool, error) {
	var pb *block.Precomputed
	err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBlocks).Get([]byte(hash))
		if v == nil {
			return nil
		}
		var decoded block.Precomputed
		if err := json.Unmarshal(v, &decoded); err != nil {
			return err
		}
		pb = &decoded
		return nil
	})
	return pb, pb != nil, err
}

// GetLedger reads a ledger checkpoint from the snapshot.
func (r *SnapshotReader) GetLedger(hash block.Hash) (*ledger.Ledger, bool, error) {
	var l *ledger.Ledger
	err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketLedgers).Get([]byte(hash))
		if v == nil {
			return nil
		}
		var accounts []ledgerAccount
		if err := json.Unmarshal(v, &accounts); err != nil {
			return err
		}
		out := ledger.New()
		for _, la := range accounts {
			a := ledger.Account{PublicKey: la.PublicKey, Balance: la.Balance, Nonce: la.Nonce}
			if la.Delegate != "" {
				d := la.Delegate
				a.Delegate = &d
			}
			out.Accounts[la.PublicKey] = a
		}
		l = out
		return nil
	})
	return l, l != nil, err
}
