package cfg

import "github.com/bits-and-blooms/bitset"

// Loop is a natural loop recovered from a back edge: tail dominated
// by head, member-set closed under backward predecessor reachability
// stopping at head (§4.5 step 5).
type Loop struct {
	HeadIndex int
	TailIndex int
	Members   *bitset.BitSet
	Depth     int

	cfg *Graph
}

// Head returns the loop's head block.
func (l *Loop) Head() *BasicBlock { return l.cfg.Blocks[l.HeadIndex] }

// Tail returns the loop's tail block (the one whose back edge closes
// the loop).
func (l *Loop) Tail() *BasicBlock { return l.cfg.Blocks[l.TailIndex] }

// HasBlock reports whether block idx is a member of this loop.
func (l *Loop) HasBlock(idx int) bool { return l.Members.Test(uint(idx)) }

// CountBlocks is the loop's member count.
func (l *Loop) CountBlocks() int { return int(l.Members.Count()) }

// CountInstructions sums CountInstructions over every member block.
func (l *Loop) CountInstructions() int {
	n := 0
	for i, e := l.Members.NextSet(0); e; i, e = l.Members.NextSet(i + 1) {
		n += l.cfg.Blocks[i].CountInstructions()
	}
	return n
}

// IsSubsetOf reports whether every member of l is also a member of
// other — the containment relation §4.5 step 6 counts to derive
// depth, and Loop.cpp's isChildOf asserts on (members.has(i) &&
// !lp->hasBasicBlock(i)).
func (l *Loop) IsSubsetOf(other *Loop) bool {
	for i, e := l.Members.NextSet(0); e; i, e = l.Members.NextSet(i + 1) {
		if !other.Members.Test(i) {
			return false
		}
	}
	return true
}

// IsChildOf reports whether l is strictly contained in other: every
// member of l is a member of other, and the two loops are not
// identical (Loop.cpp's isChildOf, simplified — EPAX's version also
// checks the two loops belong to the same function, which here is
// implicit since a Graph is scoped to one function).
func (l *Loop) IsChildOf(other *Loop) bool {
	if l == other {
		return false
	}
	return l.IsSubsetOf(other)
}
