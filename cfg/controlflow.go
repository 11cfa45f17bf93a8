package cfg

import (
	"fmt"
	"io"
	"sort"

	"armstatic/function"
	"armstatic/instr"

	"github.com/bits-and-blooms/bitset"
)

// Graph is one function's fully wired control-flow graph: blocks,
// dominators, back edges, natural loops, and loop depths, per
// spec.md §4.5. Block 0 is the function entry.
type Graph struct {
	Function     *function.Function
	Blocks       []*BasicBlock
	Instructions []*instr.Instruction
	Loops        []*Loop
}

// Build wires the leader-partitioned blocks produced by
// Function.Disassemble into a Graph: successor/predecessor edges,
// dominators, unreachable marking, back edges, natural loops, loop
// depths, and per-block innermost-loop back-pointers. Returns a Graph
// with no blocks if the function has none (e.g. not file-backed).
func Build(fn *function.Function) *Graph {
	g := &Graph{Function: fn}

	srcBlocks := fn.Blocks()
	if len(srcBlocks) == 0 {
		return g
	}

	blocks := make([]*BasicBlock, len(srcBlocks))
	blockAtAddress := make(map[uint64]int, len(srcBlocks))
	for i, b := range srcBlocks {
		blocks[i] = &BasicBlock{Index: i, Instructions: b.Instructions}
		blockAtAddress[b.StartAddress()] = i
	}
	g.Blocks = blocks

	flat := make([]*instr.Instruction, 0, len(fn.Instructions()))
	for _, b := range blocks {
		flat = append(flat, b.Instructions...)
	}
	g.Instructions = flat

	wireEdges(g, blockAtAddress)
	dom, touched := computeDominators(g)
	markReachable(g, touched)
	edges := findBackEdges(g)
	buildNaturalLoops(g, edges, dom)
	computeLoopDepths(g)
	assignLoopBackPointers(g)

	return g
}

// wireEdges implements §4.5 step 2: a tail's control target becomes
// an edge only when it lies within the function and names a known
// block start; targets outside the function (or register/indirect
// targets) stay printable on the instruction but form no intraprocedural
// edge.
func wireEdges(g *Graph, blockAtAddress map[uint64]int) {
	for _, b := range g.Blocks {
		tail := b.Tail()
		for _, tgt := range tail.GetControlTargets() {
			if !tail.InsideFunction(tgt) {
				continue
			}
			ti, ok := blockAtAddress[tgt]
			if !ok {
				continue
			}
			b.Targets = append(b.Targets, ti)
			g.Blocks[ti].Sources = append(g.Blocks[ti].Sources, b.Index)
		}
	}
}

// computeDominators runs the classical iterative worklist dominator
// computation of §4.5 step 3. touched[i] records whether block i was
// ever reached by forward propagation from entry — blocks never
// touched keep an empty Dom set and are unreachable.
func computeDominators(g *Graph) ([]*bitset.BitSet, []bool) {
	n := uint(len(g.Blocks))
	dom := make([]*bitset.BitSet, n)
	for i := uint(1); i < n; i++ {
		all := bitset.New(n)
		for j := uint(0); j < n; j++ {
			all.Set(j)
		}
		dom[i] = all
	}
	dom[0] = bitset.New(n).Set(0)

	touched := make([]bool, n)
	touched[0] = true

	queue := []int{0}
	queued := make([]bool, n)
	queued[0] = true
	entryPropagated := false

	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		queued[b] = false

		var next *bitset.BitSet
		if b == 0 {
			next = bitset.New(n).Set(0)
		} else {
			preds := g.Blocks[b].Sources
			if len(preds) == 0 {
				next = bitset.New(n)
			} else {
				next = dom[preds[0]].Clone()
				for _, p := range preds[1:] {
					next.InPlaceIntersection(dom[p])
				}
			}
			next.Set(uint(b))
		}

		// Entry's dominator set is fixed at {entry} from the start, so it
		// never looks "changed" — but its successors still need their
		// first visit, so propagate from entry unconditionally exactly
		// once. A later re-queuing of entry (e.g. a self-edge b==0 in
		// Targets) must fall through to the ordinary changed check, or a
		// single-instruction self-branching function loops forever.
		changed := !next.Equal(dom[b])
		dom[b] = next
		forcePropagate := b == 0 && !entryPropagated
		if b == 0 {
			entryPropagated = true
		}
		if forcePropagate || changed {
			for _, s := range g.Blocks[b].Targets {
				touched[s] = true
				if !queued[s] {
					queued[s] = true
					queue = append(queue, s)
				}
			}
		}
	}

	for i := uint(0); i < n; i++ {
		if !touched[i] {
			dom[i] = bitset.New(n)
		}
	}
	return dom, touched
}

func markReachable(g *Graph, touched []bool) {
	for i, b := range g.Blocks {
		b.Reachable = touched[i]
	}
}

type backEdge struct {
	head, tail int
}

// findBackEdges performs the DFS of §4.5 step 4 with a visited/closed
// bitset pair: a successor that is visited but not yet closed closes
// a back edge (head = successor, tail = current), matching
// ControlFlow.cpp's DFS push order into its backedg vector.
func findBackEdges(g *Graph) []backEdge {
	n := len(g.Blocks)
	visited := make([]bool, n)
	closed := make([]bool, n)
	var edges []backEdge

	var dfs func(b int)
	dfs = func(b int) {
		visited[b] = true
		for _, s := range g.Blocks[b].Targets {
			if visited[s] && !closed[s] {
				edges = append(edges, backEdge{head: s, tail: b})
				continue
			}
			if !visited[s] {
				dfs(s)
			}
		}
		closed[b] = true
	}
	dfs(0)
	return edges
}

// buildNaturalLoops implements §4.5 step 5. A back edge whose head
// does not dominate its tail is not a natural loop and is discarded.
func buildNaturalLoops(g *Graph, edges []backEdge, dom []*bitset.BitSet) {
	n := uint(len(g.Blocks))
	for _, e := range edges {
		if !dom[e.tail].Test(uint(e.head)) {
			continue
		}

		members := bitset.New(n)
		members.Set(uint(e.head))
		members.Set(uint(e.tail))

		stack := []int{e.tail}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if cur == e.head {
				continue
			}
			for _, p := range g.Blocks[cur].Sources {
				if !members.Test(uint(p)) {
					members.Set(uint(p))
					stack = append(stack, p)
				}
			}
		}

		g.Loops = append(g.Loops, &Loop{
			HeadIndex: e.head,
			TailIndex: e.tail,
			Members:   members,
			cfg:       g,
		})
	}
}

// computeLoopDepths implements §4.5 step 6: depth(L) = 1 plus the
// number of distinct other loops whose member-set L's is a subset of.
func computeLoopDepths(g *Graph) {
	for _, l := range g.Loops {
		depth := 1
		for _, other := range g.Loops {
			if other == l {
				continue
			}
			if l.IsSubsetOf(other) {
				depth++
			}
		}
		l.Depth = depth
	}
}

// assignLoopBackPointers implements §4.5 step 7: each block stores
// the innermost (greatest-depth) loop containing it.
func assignLoopBackPointers(g *Graph) {
	for _, b := range g.Blocks {
		var innermost *Loop
		for _, l := range g.Loops {
			if !l.HasBlock(b.Index) {
				continue
			}
			if innermost == nil || l.Depth > innermost.Depth {
				innermost = l
			}
		}
		b.Loop = innermost
	}
}

// FindBasicBlock returns the block whose instruction range contains
// addr, via binary search over the address-ordered block list (§9
// Open Questions: corrects the source's linear-scan / TODO-marked
// binary search).
func (g *Graph) FindBasicBlock(addr uint64) *BasicBlock {
	idx := sort.Search(len(g.Blocks), func(i int) bool {
		return g.Blocks[i].StartAddress() > addr
	})
	if idx == 0 {
		return nil
	}
	b := g.Blocks[idx-1]
	tail := b.Tail()
	if addr < tail.Address+uint64(tail.Size()) {
		return b
	}
	return nil
}

// FindInstruction returns the instruction at addr across the whole
// graph, or nil, via binary search over the flat address-ordered
// instruction stream.
func (g *Graph) FindInstruction(addr uint64) *instr.Instruction {
	idx := sort.Search(len(g.Instructions), func(i int) bool {
		return g.Instructions[i].Address >= addr
	})
	if idx < len(g.Instructions) && g.Instructions[idx].Address == addr {
		return g.Instructions[idx]
	}
	return nil
}

// FindLoop returns the deepest loop whose members contain the block
// at addr, per §4.6.
func (g *Graph) FindLoop(addr uint64) *Loop {
	b := g.FindBasicBlock(addr)
	if b == nil {
		return nil
	}
	return b.Loop
}

// GetParentOf returns the loop L' with L ⊂ L' and depth(L') =
// depth(L) - 1, per §4.6, or nil if L is outermost.
func (g *Graph) GetParentOf(l *Loop) *Loop {
	for _, other := range g.Loops {
		if other == l {
			continue
		}
		if other.Depth == l.Depth-1 && l.IsSubsetOf(other) {
			return other
		}
	}
	return nil
}

// WriteDot emits a Graphviz rendering of the graph: one node per
// block labeled with its index, start address, and innermost-loop
// depth, plus one edge per wired successor. Supplemented feature
// grounded on ControlFlow.cpp's dot_print.
func (g *Graph) WriteDot(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "digraph \"%s\" {\n", g.Function.Name); err != nil {
		return err
	}
	for _, b := range g.Blocks {
		label := fmt.Sprintf("bb%d\\n0x%x", b.Index, b.StartAddress())
		if b.Loop != nil {
			label += fmt.Sprintf("\\nloop depth %d", b.Loop.Depth)
		}
		if !b.Reachable {
			label += "\\nunreachable"
		}
		if _, err := fmt.Fprintf(w, "  n%d [label=\"%s\"];\n", b.Index, label); err != nil {
			return err
		}
	}
	for _, b := range g.Blocks {
		for _, t := range b.Targets {
			if _, err := fmt.Fprintf(w, "  n%d -> n%d;\n", b.Index, t); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprint(w, "}\n")
	return err
}
