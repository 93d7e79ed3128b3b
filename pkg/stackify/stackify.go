// Package stackify implements the CFG-to-structured-control-flow
// transformation (the "stackifier"): given a Function's unstructured CFG
// plus dominator information, it produces a tree of block/loop regions
// addressable only by br/br_if/br_table to an enclosing region label,
// which is what Wasm's structured control flow requires.
//
// The interval-nesting technique used for the reducible case is the one
// documented for LLVM's WebAssembly backend (CFGStackify): every CFG edge
// that is not a fall-through to the next block in reverse-postorder order
// needs a structured scope to branch to, and scopes nest exactly when
// their [start,end) spans over the RPO-linearised blocks nest.
package stackify

import (
	"sort"

	"github.com/cc2wasm/cc2wasm/pkg/ir"
)

// RegionKind distinguishes the two structured-control-flow scopes Wasm
// offers for targeting a br: block (forward exit) and loop (backward
// continue).
type RegionKind int

const (
	KindBlockScope RegionKind = iota // wasm `block`: br exits past the end
	KindLoopScope                    // wasm `loop`: br continues at the top
)

// Label identifies a branch target: an index into Result.Scopes (the
// label-resolution table), not a raw block id,
// since several CFG edges may share one scope.
type Label int

// NoBranch marks a Branch target slot whose destination is reached by
// falling off the end of the enclosing scope rather than an explicit br.
const NoBranch Label = -1

// Region is one node of the structured-control-flow tree produced by
// Build. Exactly one of the concrete *Region types below is ever
// constructed; callers type-switch on it, matching pkg/ir's sum-type
// style.
type Region interface{ isRegion() }

// Seq is a straight-line sequence of sibling regions, emitted in order.
type Seq struct{ Items []Region }

// BasicBlock renders one CFG basic block: its non-terminator instructions
// (the caller reads them off ir.Function directly via ID) plus its
// translated terminator.
type BasicBlock struct {
	ID ir.BlockID
	Br Branch
}

// Branch is a translated terminator: a fallthrough, an unconditional
// branch, a two-way conditional branch, or a dense table branch.
type Branch struct {
	IsCond  bool    // TagBranch: Targets = [ifTrueLabel, ifFalseLabel]
	IsTable bool    // TagSwitch: Targets[0] is the default, Targets[1:] are cases (pkg/ir's TagSwitch convention)
	Cond    ir.Reg  // valid when IsCond or IsTable
	Targets []Label // len 0: nothing to branch to (Return, Unreachable, or no terminator); len 1 means Jump
}

// Scoped wraps Body in a Wasm `block` or `loop` labeled Label, which
// Branch.Targets entries elsewhere in the tree reference by index into
// Result.Scopes.
type Scoped struct {
	Label Label
	Kind  RegionKind
	Body  Region
}

func (Seq) isRegion()        {}
func (BasicBlock) isRegion() {}
func (Scoped) isRegion()     {}

// Result is the stackifier's output for one function: the structured
// region tree plus the label-resolution table mapping each Label to its
// kind.
type Result struct {
	Root   Region
	Scopes []ScopeInfo // indexed by Label

	// Irreducible is set when the CFG failed the reducibility test (a
	// back edge whose target does not dominate its source, which arises
	// from goto into loop bodies) and DispatchLoop was produced instead
	// of Root/Scopes.
	Irreducible  bool
	DispatchLoop *DispatchLoop
}

// ScopeInfo records one entry of the label-resolution table: what kind of
// Wasm construct the scope becomes and, for a loop scope, which block is
// its header (the br target).
type ScopeInfo struct {
	Kind   RegionKind
	Target ir.BlockID
}

// DispatchLoop is the universal fallback structured-control-flow
// encoding used when the CFG is irreducible: a single `loop` containing a
// `br_table` that dispatches on a synthetic "current block" local, with
// every original block becoming one case. Irreducible functions go
// straight to the dispatch loop rather than through a node-splitting
// attempt first; the dispatch loop is valid for every CFG shape
// node-splitting would also have to handle.
type DispatchLoop struct {
	Blocks    []ir.BlockID // case order; index is the dispatch value
	BlockCase map[ir.BlockID]int
}

// Build runs the stackifier over fn and returns its structured-control-
// flow tree. fn.ComputeCFG must have been called so Preds are current.
func Build(fn *ir.Function) *Result {
	order := fn.ReversePostorder()
	if len(order) == 0 {
		return &Result{Root: Seq{}}
	}
	pos := make(map[ir.BlockID]int, len(order))
	for i, id := range order {
		pos[id] = i
	}

	idom, ok := computeDominators(fn, order, pos)
	if !ok || !isReducible(fn, order, pos, idom) {
		return &Result{Irreducible: true, DispatchLoop: buildDispatchLoop(order)}
	}

	b := &builder{fn: fn, order: order, pos: pos}
	b.collectScopes()
	if !b.laminar() {
		// A reducible CFG can still produce crossing (non-nesting) spans
		// in shapes this interval-nesting construction does not resolve;
		// the dispatch loop is valid regardless of span shape, so fall
		// back to it rather than emit an incorrectly structured module.
		return &Result{Irreducible: true, DispatchLoop: buildDispatchLoop(order)}
	}
	root := b.render(0, len(order))
	return &Result{Root: root, Scopes: b.scopes}
}

// laminar reports whether every pair of spans is either disjoint or
// properly nested (one contains the other), the precondition for the
// recursive render below to produce well-formed block/loop nesting.
func (b *builder) laminar() bool {
	for i := range b.spans {
		for j := i + 1; j < len(b.spans); j++ {
			a, c := b.spans[i], b.spans[j]
			disjoint := a.end <= c.start || c.end <= a.start
			aInC := c.start <= a.start && a.end <= c.end
			cInA := a.start <= c.start && c.end <= a.end
			if !disjoint && !aInC && !cInA {
				return false
			}
		}
	}
	return true
}

// computeDominators computes each block's immediate dominator via the
// standard iterative Cooper/Harvey/Kennedy algorithm over the
// reverse-postorder numbering; idom is indexed by RPO position (idom[0],
// the entry, maps to itself). ok is false if some reachable block never
// reaches a fixed point (should not happen post-DCE; guarded
// defensively).
func computeDominators(fn *ir.Function, order []ir.BlockID, pos map[ir.BlockID]int) ([]int, bool) {
	n := len(order)
	idom := make([]int, n)
	for i := range idom {
		idom[i] = -1
	}
	idom[0] = 0
	for changed := true; changed; {
		changed = false
		for i := 1; i < n; i++ {
			newIdom := -1
			for _, predID := range fn.Block(order[i]).Preds {
				p, ok := pos[predID]
				if !ok || idom[p] == -1 {
					continue
				}
				if newIdom == -1 {
					newIdom = p
					continue
				}
				newIdom = intersect(idom, newIdom, p)
			}
			if newIdom != -1 && idom[i] != newIdom {
				idom[i] = newIdom
				changed = true
			}
		}
	}
	for i := 1; i < n; i++ {
		if idom[i] == -1 {
			return nil, false
		}
	}
	return idom, true
}

func intersect(idom []int, a, b int) int {
	for a != b {
		for a > b {
			a = idom[a]
		}
		for b > a {
			b = idom[b]
		}
	}
	return a
}

// dominates reports whether RPO position a dominates RPO position b.
func dominates(idom []int, a, b int) bool {
	for b != a {
		if idom[b] == b {
			return false
		}
		b = idom[b]
	}
	return true
}

// isReducible reports whether every back edge's target dominates its
// source, the standard reducibility test (an edge u->v is a back edge
// when pos[v] <= pos[u]).
func isReducible(fn *ir.Function, order []ir.BlockID, pos map[ir.BlockID]int, idom []int) bool {
	for i, id := range order {
		for _, s := range fn.Block(id).Successors() {
			j, ok := pos[s]
			if !ok {
				return false
			}
			if j <= i && !dominates(idom, j, i) {
				return false
			}
		}
	}
	return true
}

func buildDispatchLoop(order []ir.BlockID) *DispatchLoop {
	dl := &DispatchLoop{Blocks: order, BlockCase: make(map[ir.BlockID]int, len(order))}
	for i, id := range order {
		dl.BlockCase[id] = i
	}
	return dl
}

// span is one candidate structured scope: a half-open [start,end) range
// over RPO positions that some CFG edge needs in order to resolve its
// branch, tagged with the Wasm construct kind it becomes.
type span struct {
	start, end int
	kind       RegionKind
	target     ir.BlockID
}

type builder struct {
	fn    *ir.Function
	order []ir.BlockID
	pos   map[ir.BlockID]int

	spans     []span
	scopes    []ScopeInfo
	edgeLabel map[[2]ir.BlockID]Label
	opensAt   map[int][]int // RPO position -> span indices opening there, outer-first
}

// collectScopes walks every non-fallthrough CFG edge and derives the span
// its branch needs: a forward edge u->v gets a block scope starting at u
// (the br sits inside the scope it exits) and ending at v; a back edge
// gets a loop scope from the target through the source. Crossing block
// spans are then laminarized by widening starts — a block scope is
// transparent on entry, so opening one earlier never changes behaviour —
// and edges that land on an identical span share one scope (duplicate
// endpoints are expected). Same-position opens are ordered outer-first by
// descending span width so nesting is well-formed.
func (b *builder) collectScopes() {
	type edge struct {
		from, to ir.BlockID
		span     span
	}
	var edges []edge
	for i, id := range b.order {
		isTable := false
		if t := b.fn.Block(id).Terminator(); t != nil {
			isTable = t.Tag == ir.TagSwitch
		}
		for _, s := range b.fn.Block(id).Successors() {
			j := b.pos[s]
			if j == i+1 && !isTable {
				continue // fall-through: no scope needed
			}
			var sp span
			if j > i {
				sp = span{start: i, end: j, kind: KindBlockScope, target: s}
			} else {
				sp = span{start: j, end: i + 1, kind: KindLoopScope, target: s}
			}
			edges = append(edges, edge{from: id, to: s, span: sp})
		}
	}

	// Laminarize: widen block-scope starts until no pair of spans
	// crosses. Starts only decrease and are bounded by zero, so this
	// terminates; loop scopes are left alone (a loop's start is its br
	// target and cannot move), and any crossing that survives fails the
	// laminar check later, falling back to the dispatch loop.
	for changed := true; changed; {
		changed = false
		for i := range edges {
			for j := range edges {
				a, c := edges[i].span, edges[j].span
				crossing := a.start < c.start && c.start < a.end && a.end < c.end
				if crossing && c.kind == KindBlockScope && edges[j].span.start != a.start {
					edges[j].span.start = a.start
					changed = true
				}
			}
		}
	}

	type key struct {
		start, end int
		kind       RegionKind
	}
	seen := make(map[key]int)
	b.edgeLabel = make(map[[2]ir.BlockID]Label)
	for _, e := range edges {
		sp := e.span
		k := key{sp.start, sp.end, sp.kind}
		idx, ok := seen[k]
		if !ok {
			idx = len(b.spans)
			seen[k] = idx
			b.spans = append(b.spans, sp)
			b.scopes = append(b.scopes, ScopeInfo{Kind: sp.kind, Target: sp.target})
		}
		b.edgeLabel[[2]ir.BlockID{e.from, e.to}] = Label(idx)
	}

	b.opensAt = make(map[int][]int)
	for idx, sp := range b.spans {
		b.opensAt[sp.start] = append(b.opensAt[sp.start], idx)
	}
	for pos, idxs := range b.opensAt {
		sort.Slice(idxs, func(a, c int) bool {
			sa, sc := b.spans[idxs[a]], b.spans[idxs[c]]
			if sa.end != sc.end {
				return sa.end > sc.end // widest (outermost) first
			}
			// Equal extents: keep a deterministic order.
			return sa.kind < sc.kind
		})
		b.opensAt[pos] = idxs
	}
}

// render lays out RPO positions [start,end) as a Region.
func (b *builder) render(start, end int) Region {
	return b.renderFrom(start, end, 0)
}

// renderFrom is render with `skip` tracking how many of the scopes
// opening exactly at `start` have already been opened by an enclosing
// call — necessary because two or more spans can share a start position
// (e.g. a loop header that is also the target of a forward break), and
// each must wrap the next rather than re-triggering itself infinitely.
// Opens at a position are ordered outermost (widest span) first by
// collectScopes, so skip==0 opens the widest remaining one, nests the
// next narrower one (skip+1) inside it, and once skip reaches the count
// of opens at `start` the position's basic block is finally emitted.
func (b *builder) renderFrom(start, end, skip int) Region {
	if start >= end {
		return Seq{}
	}
	idxs := b.opensAt[start]
	if skip < len(idxs) {
		idx := idxs[skip]
		sp := b.spans[idx]
		inner := b.renderFrom(sp.start, sp.end, skip+1)
		scoped := Scoped{Label: Label(idx), Kind: sp.kind, Body: inner}
		var rest Region
		if sp.end == start {
			// A span ending where it starts would re-trigger itself, so
			// continue here with the remaining opens. collectScopes gives
			// every span end > start, so this branch is only a guard.
			rest = b.renderFrom(start, end, skip+1)
		} else {
			rest = b.render(sp.end, end)
		}
		return flatten(scoped, rest)
	}
	id := b.order[start]
	blk := BasicBlock{ID: id, Br: b.translateTerminator(id)}
	rest := b.render(start+1, end)
	return flatten(blk, rest)
}

func flatten(first, rest Region) Region {
	if s, ok := rest.(Seq); ok {
		return Seq{Items: append([]Region{first}, s.Items...)}
	}
	return Seq{Items: []Region{first, rest}}
}

// translateTerminator converts id's IR terminator into a Branch, mapping
// each successor to NoBranch when that edge is a fall-through (no scope
// was allocated for it) or to the Label of the scope collectScopes built
// for it otherwise.
func (b *builder) translateTerminator(id ir.BlockID) Branch {
	t := b.fn.Block(id).Terminator()
	if t == nil {
		return Branch{}
	}
	labelFor := func(s ir.BlockID) Label {
		if lbl, ok := b.edgeLabel[[2]ir.BlockID{id, s}]; ok {
			return lbl
		}
		return NoBranch
	}
	switch t.Tag {
	case ir.TagJump:
		return Branch{Targets: []Label{labelFor(t.Targets[0])}}
	case ir.TagBranch:
		return Branch{IsCond: true, Cond: t.Cond, Targets: []Label{labelFor(t.IfTrue), labelFor(t.IfFalse)}}
	case ir.TagSwitch:
		targets := make([]Label, len(t.Targets))
		for i, s := range t.Targets {
			targets[i] = labelFor(s)
		}
		return Branch{IsTable: true, Cond: t.Cond, Targets: targets}
	default: // Return, Unreachable
		return Branch{}
	}
}
