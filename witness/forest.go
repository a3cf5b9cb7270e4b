// Package witness implements the witness forest (spec §3, §4.D): the
// rooted-forest block tree, its five-case add_block dispatch, canonical
// promotion, and transition-frontier pruning. Grounded on
// original_source/src/state/mod.rs's IndexerState, translated onto the
// branch package's Go arena tree.
package witness

import (
	"fmt"

	"github.com/mina-indexer/mina-indexer/block"
	"github.com/mina-indexer/mina-indexer/branch"
	"github.com/mina-indexer/mina-indexer/ledger"
)

// Mainnet constants from the original source's crate root.
const (
	MainnetCanonicalThreshold   = 10
	PruneIntervalDefault        = 10
	MainnetTransitionFrontierK  = 290
	DefaultLedgerUpdateFreq     = 1
)

// ExtensionType is the outcome of one add_block call.
type ExtensionType int

const (
	BlockNotAdded ExtensionType = iota
	DanglingNew
	DanglingSimpleForward
	DanglingSimpleReverse
	DanglingComplex
	RootSimple
	RootComplex
)

func (e ExtensionType) String() string {
	switch e {
	case BlockNotAdded:
		return "BlockNotAdded"
	case DanglingNew:
		return "DanglingNew"
	case DanglingSimpleForward:
		return "DanglingSimpleForward"
	case DanglingSimpleReverse:
		return "DanglingSimpleReverse"
	case DanglingComplex:
		return "DanglingComplex"
	case RootSimple:
		return "RootSimple"
	case RootComplex:
		return "RootComplex"
	default:
		return fmt.Sprintf("ExtensionType(%d)", int(e))
	}
}

// Canonicity is the canonicity status the store records for a processed
// block hash.
type Canonicity int

const (
	Pending Canonicity = iota
	CanonicalStatus
	Orphaned
)

// Phase tracks whether the forest is still bulk-loading history, watching
// for new blocks, or under test. Folded in from the original's IndexerPhase
// (see SPEC_FULL.md §5); IndexerMode (Light/Full) is dropped.
type Phase int

const (
	Initializing Phase = iota
	Watching
	Testing
)

// LedgerStore is the subset of store.Store the forest needs: persisting
// blocks, ledger checkpoints, and canonicity marks. Kept as an interface so
// witness tests can run without a real bbolt-backed store.
type LedgerStore interface {
	HasBlock(hash block.Hash) (bool, error)
	PutBlock(pb *block.Precomputed) error
	GetLedger(hash block.Hash) (*ledger.Ledger, bool, error)
	PutLedger(hash block.Hash, l *ledger.Ledger) error
	MarkCanonical(hash block.Hash) error
	MarkOrphaned(hash block.Hash) error
	GetCanonicity(hash block.Hash) (Canonicity, bool, error)
}

// direction distinguishes a forward (child) dangling extension from a
// reverse (new-root) one.
type direction int

const (
	forward direction = iota
	reverse
)

// Forest is the rooted forest of block summaries: one root branch holding
// the canonical chain and pruned history, plus zero or more dangling
// branches awaiting a connection to the root.
type Forest struct {
	Root     *branch.Branch
	Dangling []*branch.Branch

	BestTip      branch.NodeID
	CanonicalTip branch.NodeID

	// Diffs holds one entry per block strictly above the canonical tip in
	// the root branch, plus every block in every dangling branch.
	Diffs map[block.Hash]ledger.LedgerDiff

	Store            LedgerStore
	K                *uint32 // transition frontier length; nil disables pruning
	PruneInterval    uint32
	LedgerUpdateFreq uint32
	BlocksProcessed  uint64
	Phase            Phase
}

// New creates a forest rooted at the given genesis hash with no known
// parent, persisting genesisLedger as the checkpoint for the root.
func New(genesisHash block.Hash, genesisLength *uint32, genesisLedger *ledger.Ledger, st LedgerStore, k *uint32, pruneInterval uint32) (*Forest, error) {
	root := branch.New(block.Summary{StateHash: genesisHash, BlockchainLength: genesisLength})
	f := &Forest{
		Root:             root,
		BestTip:          root.Root(),
		CanonicalTip:     root.Root(),
		Diffs:            make(map[block.Hash]ledger.LedgerDiff),
		Store:            st,
		K:                k,
		PruneInterval:    pruneInterval,
		LedgerUpdateFreq: DefaultLedgerUpdateFreq,
		Phase:            Initializing,
	}
	if st != nil && genesisLedger != nil {
		if err := st.PutLedger(genesisHash, genesisLedger); err != nil {
			return nil, fmt.Errorf("witness: persisting genesis ledger: %w", err)
		}
	}
	return f, nil
}

// AddBlock runs the full five-case dispatch described in spec §4.D.
func (f *Forest) AddBlock(pb *block.Precomputed) (ExtensionType, error) {
	f.pruneRootBranch()

	if f.Store != nil {
		already, err := f.Store.HasBlock(pb.StateHash)
		if err != nil {
			return BlockNotAdded, fmt.Errorf("witness: checking for duplicate block %s: %w", pb.StateHash, err)
		}
		if already {
			return BlockNotAdded, nil
		}
	}

	if f.Store != nil {
		if err := f.Store.PutBlock(pb); err != nil {
			return BlockNotAdded, fmt.Errorf("witness: persisting block %s: %w", pb.StateHash, err)
		}
	}
	f.BlocksProcessed++

	if f.isLengthWithinRootBounds(pb) {
		ext, handled, err := f.rootExtension(pb)
		if err != nil {
			return BlockNotAdded, err
		}
		if handled {
			return ext, nil
		}
	}

	if branchIdx, newNodeID, dir, found := f.danglingExtension(pb); found {
		return f.updateDangling(pb, branchIdx, newNodeID, dir)
	}

	f.Diffs[pb.StateHash] = ledger.FromBlock(pb)
	f.Dangling = append(f.Dangling, branch.New(block.SummaryOf(pb, 1)))
	return DanglingNew, nil
}

func (f *Forest) isLengthWithinRootBounds(pb *block.Precomputed) bool {
	length, ok := pb.Length()
	if !ok {
		return true
	}
	bestTip, _ := f.Root.Get(f.BestTip)
	bestLen := uint32(0)
	if bestTip.BlockchainLength != nil {
		bestLen = *bestTip.BlockchainLength
	}
	return bestLen+1 >= length
}

// rootExtension is Case R: extend the root branch forward, then fold in any
// dangling branches that turn out to chain off the new node.
func (f *Forest) rootExtension(pb *block.Precomputed) (ExtensionType, bool, error) {
	newNodeID, ok := f.Root.SimpleExtension(pb)
	if !ok {
		return BlockNotAdded, false, nil
	}
	f.updateBestTip()
	f.updateCanonical()

	var toRemove []int
	for i, d := range f.Dangling {
		if isReverseExtension(d, pb) {
			if err := f.Root.MergeOn(newNodeID, d); err != nil {
				return BlockNotAdded, false, fmt.Errorf("witness: merging dangling branch onto root: %w", err)
			}
			toRemove = append(toRemove, i)
		}
		if d.RootBlock().StateHash == pb.StateHash {
			return BlockNotAdded, true, nil
		}
	}

	if len(toRemove) == 0 {
		return RootSimple, true, nil
	}

	for n, idx := range toRemove {
		f.Dangling = removeAt(f.Dangling, idx-n)
	}
	f.updateBestTip()
	f.updateCanonical()
	return RootComplex, true, nil
}

// danglingExtension scans the dangling branches for the first one this
// block extends, forward (as a child) or reverse (as the new root).
func (f *Forest) danglingExtension(pb *block.Precomputed) (int, branch.NodeID, direction, bool) {
	length, hasLength := pb.Length()
	for i, d := range f.Dangling {
		if hasLength {
			minLength := uint32(0)
			if root := d.RootBlock(); root.BlockchainLength != nil {
				minLength = *root.BlockchainLength
			}
			_, tip := d.BestTip()
			maxLength := uint32(0)
			if tip.BlockchainLength != nil {
				maxLength = *tip.BlockchainLength
			}
			if !(maxLength+1 >= length && length+1 >= minLength) {
				continue
			}
		}

		if isReverseExtension(d, pb) {
			newRootID, err := d.Reroot(pb)
			if err == nil {
				return i, newRootID, reverse, true
			}
		}
		if newNodeID, ok := d.SimpleExtension(pb); ok {
			return i, newNodeID, forward, true
		}
	}
	return 0, 0, forward, false
}

// updateDangling is Case D's second half: fold any dangling branches that
// chain off the newly extended node into the extended branch.
func (f *Forest) updateDangling(pb *block.Precomputed, extendedIdx int, newNodeID branch.NodeID, dir direction) (ExtensionType, error) {
	var matches []int
	for i, d := range f.Dangling {
		if d.RootBlock().ParentHash == pb.StateHash {
			matches = append(matches, i)
		}
	}

	if len(matches) == 0 {
		if dir == forward {
			return DanglingSimpleForward, nil
		}
		return DanglingSimpleReverse, nil
	}

	extended := f.Dangling[extendedIdx]
	f.Dangling = removeAt(f.Dangling, extendedIdx)

	for i, p := range matches {
		oneBased := i + 1
		live := p - oneBased + 1
		if p > extendedIdx {
			live--
		}
		toMerge := f.Dangling[live]
		if err := extended.MergeOn(newNodeID, toMerge); err != nil {
			return BlockNotAdded, fmt.Errorf("witness: merging dangling branch: %w", err)
		}
		f.Dangling = removeAt(f.Dangling, live)
	}

	f.Dangling = append(f.Dangling, extended)
	return DanglingComplex, nil
}

func isReverseExtension(d *branch.Branch, pb *block.Precomputed) bool {
	return d.RootBlock().ParentHash == pb.StateHash
}

func removeAt(branches []*branch.Branch, idx int) []*branch.Branch {
	out := make([]*branch.Branch, 0, len(branches)-1)
	out = append(out, branches[:idx]...)
	out = append(out, branches[idx+1:]...)
	return out
}

func (f *Forest) updateBestTip() {
	id, _ := f.Root.BestTip()
	f.BestTip = id
}

// updateCanonical keeps the best tip and its MainnetCanonicalThreshold
// nearest ancestors pending and advances the canonical tip to the next
// ancestor (MainnetCanonicalThreshold+1 blocks below the best tip), leaving
// it where it is when the root branch is not that deep; it optionally checkpoints
// the ledger (gated by LedgerUpdateFreq), marks passed-over blocks
// canonical or orphaned in the store, and drops diffs at or below the new
// canonical tip's height.
func (f *Forest) updateCanonical() {
	oldCanonicalTipID := f.CanonicalTip
	oldCanonical, _ := f.Root.Get(oldCanonicalTipID)

	ancestors := f.Root.AncestorsInclusive(f.BestTip)
	var canonicalHashes []block.Hash
	newCanonicalTipID := oldCanonicalTipID
	for n, id := range ancestors {
		if n <= MainnetCanonicalThreshold {
			s, _ := f.Root.Get(id)
			canonicalHashes = append(canonicalHashes, s.StateHash)
			continue
		}
		newCanonicalTipID = id
		break
	}
	for i, j := 0, len(canonicalHashes)-1; i < j; i, j = i+1, j-1 {
		canonicalHashes[i], canonicalHashes[j] = canonicalHashes[j], canonicalHashes[i]
	}
	f.CanonicalTip = newCanonicalTipID

	bestTip, _ := f.Root.Get(f.BestTip)
	freq := f.LedgerUpdateFreq
	if freq == 0 {
		freq = DefaultLedgerUpdateFreq
	}
	if f.Store != nil && bestTip.Height%freq == 0 {
		l, ok, err := f.Store.GetLedger(oldCanonical.StateHash)
		if err == nil && ok {
			applied := l.Clone()
			for _, h := range canonicalHashes {
				if diff, present := f.Diffs[h]; present {
					_ = applied.ApplyDiff(diff)
				}
			}
			newCanonical, _ := f.Root.Get(f.CanonicalTip)
			_ = f.Store.PutLedger(newCanonical.StateHash, applied)
		}
	}

	if f.Store != nil {
		canonicalSet := make(map[block.Hash]struct{}, len(canonicalHashes))
		for _, h := range canonicalHashes {
			canonicalSet[h] = struct{}{}
		}
		for h := range f.Diffs {
			if _, isCanonical := canonicalSet[h]; isCanonical {
				_ = f.Store.MarkCanonical(h)
			} else {
				_ = f.Store.MarkOrphaned(h)
			}
		}
	}

	newCanonical, _ := f.Root.Get(f.CanonicalTip)
	for _, id := range f.Root.Descendants(oldCanonicalTipID) {
		s, _ := f.Root.Get(id)
		if s.Height <= newCanonical.Height {
			delete(f.Diffs, s.StateHash)
		}
	}
}

// pruneRootBranch implements prune_root_branch: once the root branch grows
// beyond PruneInterval*K, move the root forward to the node K levels above
// the best tip, discarding everything above it. A canonical tip that was
// discarded this way is moved to the new root.
func (f *Forest) pruneRootBranch() {
	if f.K == nil {
		return
	}
	interval := f.PruneInterval
	if interval == 0 {
		interval = PruneIntervalDefault
	}
	if f.Root.Height() <= interval*(*f.K) {
		return
	}
	bestTip, _ := f.Root.Get(f.BestTip)
	_ = f.Root.PruneTransitionFrontier(*f.K, bestTip)
	if _, ok := f.Root.Get(f.CanonicalTip); !ok {
		f.CanonicalTip = f.Root.Root()
	}
}

// BlockStatus reports a block's canonicity. With a store configured it
// returns the store's recorded canonicity, or Pending when the store has no
// record; without a store it returns Pending for a hash tracked in Diffs and
// an error for any other hash. Mirrors the original's get_block_status.
func (f *Forest) BlockStatus(hash block.Hash) (Canonicity, error) {
	if f.Store == nil {
		if _, ok := f.Diffs[hash]; ok {
			return Pending, nil
		}
		return Pending, fmt.Errorf("witness: no store configured and %s has no pending diff", hash)
	}
	c, ok, err := f.Store.GetCanonicity(hash)
	if err != nil {
		return Pending, err
	}
	if !ok {
		return Pending, nil
	}
	return c, nil
}

// CurrentLedger reconstructs the ledger as of the best tip: it loads the
// checkpoint persisted at the canonical tip (the only checkpoint
// guaranteed to exist) and replays the diffs for every block between the
// canonical tip and the best tip, oldest first.
func (f *Forest) CurrentLedger(loadLedger func(block.Hash) (*ledger.Ledger, bool, error)) (*ledger.Ledger, error) {
	canonicalTip, _ := f.Root.Get(f.CanonicalTip)
	base, ok, err := loadLedger(canonicalTip.StateHash)
	if err != nil {
		return nil, fmt.Errorf("witness: loading canonical ledger checkpoint %s: %w", canonicalTip.StateHash, err)
	}
	if !ok {
		return nil, fmt.Errorf("witness: no ledger checkpoint persisted at canonical tip %s", canonicalTip.StateHash)
	}
	applied := base.Clone()

	ancestors := f.Root.AncestorsInclusive(f.BestTip)
	cut := len(ancestors)
	for i, id := range ancestors {
		if id == f.CanonicalTip {
			cut = i
			break
		}
	}
	toApply := ancestors[:cut]
	for i, j := 0, len(toApply)-1; i < j; i, j = i+1, j-1 {
		toApply[i], toApply[j] = toApply[j], toApply[i]
	}
	for _, id := range toApply {
		s, _ := f.Root.Get(id)
		if diff, present := f.Diffs[s.StateHash]; present {
			if err := applied.ApplyDiff(diff); err != nil {
				return nil, fmt.Errorf("witness: replaying diff for %s: %w", s.StateHash, err)
			}
		}
	}
	return applied, nil
}

// CanonicalCommands flattens every command in the root branch's longest
// chain (root to best tip, so including blocks above the canonical tip),
// read back from the store. Mirrors the original's chain_commands.
func (f *Forest) CanonicalCommands(loadBlock func(block.Hash) (*block.Precomputed, bool, error)) ([]block.Command, error) {
	var out []block.Command
	for _, h := range f.Root.LongestChain() {
		pb, ok, err := loadBlock(h)
		if err != nil {
			return nil, fmt.Errorf("witness: loading block %s for canonical command export: %w", h, err)
		}
		if !ok {
			continue
		}
		out = append(out, pb.Commands...)
	}
	return out, nil
}

