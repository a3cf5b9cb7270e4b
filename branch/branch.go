// Package branch implements the arena-allocated tree backing a single
// witness-forest branch (spec §4.C): a rooted tree of block summaries
// keyed by stable node identifiers, supporting forward extension, reverse
// extension (new_root), grafting another branch on (merge_on), best-tip
// selection, and transition-frontier pruning.
package branch

import (
	"fmt"

	"github.com/mina-indexer/mina-indexer/block"
)

// NodeID identifies a node within one Branch's arena. IDs are assigned
// monotonically and never reused, so a NodeID obtained from one call
// remains valid to pass into a later call as long as that node hasn't been
// pruned away — mirroring the stability guarantee the original arena-tree
// crate provided.
type NodeID uint64

type node struct {
	summary  block.Summary
	parent   NodeID
	hasParent bool
	children []NodeID
}

// Branch is a rooted tree of block summaries. The zero value is not usable;
// construct with New.
type Branch struct {
	nodes     map[NodeID]*node
	byHash    map[block.Hash]NodeID
	rootID    NodeID
	nextID    NodeID
	maxHeight uint32
}

// New creates a single-node branch rooted at root. root.Height is forced to
// 1, matching the invariant that a branch root always has height 1.
func New(root block.Summary) *Branch {
	root.Height = 1
	b := &Branch{
		nodes:  make(map[NodeID]*node),
		byHash: make(map[block.Hash]NodeID),
	}
	b.nextID = 1
	id := b.nextID
	b.nextID++
	b.nodes[id] = &node{summary: root}
	b.byHash[root.StateHash] = id
	b.rootID = id
	b.maxHeight = 1
	return b
}

// Root returns the root node's identifier.
func (b *Branch) Root() NodeID { return b.rootID }

// RootBlock returns the root node's summary.
func (b *Branch) RootBlock() block.Summary { return b.nodes[b.rootID].summary }

// Get returns the summary stored at id.
func (b *Branch) Get(id NodeID) (block.Summary, bool) {
	n, ok := b.nodes[id]
	if !ok {
		return block.Summary{}, false
	}
	return n.summary, true
}

// Find returns the node identifier whose summary has the given state hash.
func (b *Branch) Find(hash block.Hash) (NodeID, bool) {
	id, ok := b.byHash[hash]
	return id, ok
}

// Len returns the number of nodes in the branch.
func (b *Branch) Len() int { return len(b.nodes) }

// Height returns the maximum node height in the branch.
func (b *Branch) Height() uint32 { return b.maxHeight }

func (b *Branch) alloc(summary block.Summary, parent NodeID, hasParent bool) NodeID {
	id := b.nextID
	b.nextID++
	b.nodes[id] = &node{summary: summary, parent: parent, hasParent: hasParent}
	b.byHash[summary.StateHash] = id
	if hasParent {
		pn := b.nodes[parent]
		pn.children = append(pn.children, id)
	}
	if summary.Height > b.maxHeight {
		b.maxHeight = summary.Height
	}
	return id
}

// SimpleExtension appends pb as a child of the node whose state hash equals
// pb.ParentHash, if any such node exists in this branch.
func (b *Branch) SimpleExtension(pb *block.Precomputed) (NodeID, bool) {
	parentID, ok := b.byHash[pb.ParentHash]
	if !ok {
		return 0, false
	}
	parentSummary := b.nodes[parentID].summary
	summary := block.SummaryOf(pb, parentSummary.Height+1)
	id := b.alloc(summary, parentID, true)
	return id, true
}

// Reroot implements new_root: newRoot must be the parent of the branch's
// current root (newRoot.StateHash == b.RootBlock().ParentHash). The current
// root, and its whole subtree, becomes a child of the new root, and every
// node's height is recomputed top-down from the new root at height 1.
func (b *Branch) Reroot(newRoot *block.Precomputed) (NodeID, error) {
	oldRoot := b.nodes[b.rootID].summary
	if newRoot.StateHash != oldRoot.ParentHash {
		return 0, fmt.Errorf("branch: reroot precondition failed: new root %s is not the parent of current root %s", newRoot.StateHash, oldRoot.StateHash)
	}
	newID := b.alloc(block.SummaryOf(newRoot, 1), 0, false)
	nn := b.nodes[newID]
	nn.children = append(nn.children, b.rootID)
	b.nodes[b.rootID].parent = newID
	b.nodes[b.rootID].hasParent = true
	b.rootID = newID
	b.recomputeHeights(newID, 1)
	return newID, nil
}

func (b *Branch) recomputeHeights(from NodeID, height uint32) {
	b.maxHeight = 0
	var walk func(id NodeID, h uint32)
	walk = func(id NodeID, h uint32) {
		n := b.nodes[id]
		n.summary.Height = h
		if h > b.maxHeight {
			b.maxHeight = h
		}
		for _, c := range n.children {
			walk(c, h+1)
		}
	}
	walk(from, height)
}

// MergeOn grafts other onto the node targetID, which must be the parent of
// other's root (other.RootBlock().ParentHash == target's state hash). Every
// node of other is copied into b's arena with freshly allocated IDs and
// heights rebased from target's height.
func (b *Branch) MergeOn(targetID NodeID, other *Branch) error {
	target, ok := b.nodes[targetID]
	if !ok {
		return fmt.Errorf("branch: merge_on target node not found")
	}
	otherRoot := other.nodes[other.rootID].summary
	if otherRoot.ParentHash != target.summary.StateHash {
		return fmt.Errorf("branch: merge_on precondition failed: grafted branch root %s is not a child of target %s", otherRoot.StateHash, target.summary.StateHash)
	}

	remap := make(map[NodeID]NodeID, len(other.nodes))
	var copySubtree func(otherID, newParent NodeID, hasParent bool, height uint32) NodeID
	copySubtree = func(otherID, newParent NodeID, hasParent bool, height uint32) NodeID {
		on := other.nodes[otherID]
		summary := on.summary
		summary.Height = height
		newID := b.alloc(summary, newParent, hasParent)
		remap[otherID] = newID
		for _, c := range on.children {
			copySubtree(c, newID, true, height+1)
		}
		return newID
	}
	copySubtree(other.rootID, targetID, true, target.summary.Height+1)
	return nil
}

// BestTip returns the identifier and summary of the branch's best leaf
// under block.Greater.
func (b *Branch) BestTip() (NodeID, block.Summary) {
	var bestID NodeID
	var best block.Summary
	first := true
	for id, n := range b.nodes {
		if len(n.children) != 0 {
			continue
		}
		if first || block.Greater(n.summary, best) {
			bestID, best, first = id, n.summary, false
		}
	}
	return bestID, best
}

// Leaves returns the identifiers of every childless node.
func (b *Branch) Leaves() []NodeID {
	var out []NodeID
	for id, n := range b.nodes {
		if len(n.children) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// AncestorsInclusive returns id and every ancestor up to and including the
// root, nearest-first (id is element 0, the root is the last element).
func (b *Branch) AncestorsInclusive(id NodeID) []NodeID {
	var out []NodeID
	for {
		n, ok := b.nodes[id]
		if !ok {
			return out
		}
		out = append(out, id)
		if !n.hasParent {
			return out
		}
		id = n.parent
	}
}

// LongestChain returns the state hashes from root to the branch's best tip,
// root-first.
func (b *Branch) LongestChain() []block.Hash {
	tipID, _ := b.BestTip()
	ancestors := b.AncestorsInclusive(tipID)
	out := make([]block.Hash, len(ancestors))
	for i, id := range ancestors {
		out[len(ancestors)-1-i] = b.nodes[id].summary.StateHash
	}
	return out
}

// Descendants returns id and every node reachable from it via children,
// level order (id first).
func (b *Branch) Descendants(id NodeID) []NodeID {
	out := []NodeID{id}
	for i := 0; i < len(out); i++ {
		out = append(out, b.nodes[out[i]].children...)
	}
	return out
}

// PruneTransitionFrontier implements prune_root_branch's tree surgery: the
// node k levels above tip becomes the new root (clamped to the existing
// root if the branch is shallower than k), and every node that is not in
// the new root's subtree — ancestors above it and their other children — is
// discarded.
func (b *Branch) PruneTransitionFrontier(k uint32, tip block.Summary) error {
	tipID, ok := b.byHash[tip.StateHash]
	if !ok {
		return fmt.Errorf("branch: prune: tip %s not found in branch", tip.StateHash)
	}
	ancestors := b.AncestorsInclusive(tipID)
	idx := int(k)
	if idx >= len(ancestors) {
		idx = len(ancestors) - 1
	}
	newRootID := ancestors[idx]
	if newRootID == b.rootID {
		return nil
	}

	keep := b.Descendants(newRootID)
	newNodes := make(map[NodeID]*node, len(keep))
	newByHash := make(map[block.Hash]NodeID, len(keep))
	for _, id := range keep {
		n := b.nodes[id]
		newNodes[id] = n
		newByHash[n.summary.StateHash] = id
	}
	b.nodes = newNodes
	b.byHash = newByHash
	b.rootID = newRootID
	b.nodes[newRootID].hasParent = false
	b.recomputeHeights(newRootID, 1)
	return nil
}
