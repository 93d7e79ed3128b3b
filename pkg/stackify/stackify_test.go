package stackify

import (
	"testing"

	"github.com/cc2wasm/cc2wasm/pkg/ir"
	"github.com/cc2wasm/cc2wasm/pkg/lexer"
	"github.com/cc2wasm/cc2wasm/pkg/opt"
	"github.com/cc2wasm/cc2wasm/pkg/parser"
	"github.com/cc2wasm/cc2wasm/pkg/sema"
)

// buildFn lowers src and runs dead-code elimination, since Build expects
// the post-DCE CFG (every block reachable, exactly one terminator each).
func buildFn(t *testing.T, src, name string) *ir.Function {
	t.Helper()
	p := parser.New(lexer.New(src))
	prog := p.ParseProgram()
	if len(p.Errors()) != 0 {
		t.Fatalf("parse errors: %v", p.Errors())
	}
	mod, errs := sema.Build(prog)
	if len(errs) != 0 {
		t.Fatalf("semantic errors: %v", errs)
	}
	for _, fn := range mod.Functions {
		if fn.Name == name {
			opt.Run(fn)
			return fn
		}
	}
	t.Fatalf("function %q not found", name)
	return nil
}

// countKinds walks a Region tree and counts Scoped nodes by kind and
// BasicBlock leaves, used to sanity-check the shape of the structured
// output without depending on its exact nesting.
func countKinds(r Region) (blocks, loops, basicBlocks int) {
	switch n := r.(type) {
	case Seq:
		for _, item := range n.Items {
			b, l, bb := countKinds(item)
			blocks += b
			loops += l
			basicBlocks += bb
		}
	case Scoped:
		b, l, bb := countKinds(n.Body)
		blocks += b
		loops += l
		basicBlocks += bb
		if n.Kind == KindBlockScope {
			blocks++
		} else {
			loops++
		}
	case BasicBlock:
		basicBlocks++
	}
	return
}

func TestBuildStraightLine(t *testing.T) {
	fn := buildFn(t, `int id(int x) { return x; }`, "id")
	res := Build(fn)
	if res.Irreducible {
		t.Fatalf("expected reducible result")
	}
	_, _, bb := countKinds(res.Root)
	if bb == 0 {
		t.Errorf("expected at least one basic block rendered")
	}
}

func TestBuildIfHasBlockScopeAndNoLoopScope(t *testing.T) {
	fn := buildFn(t, `int f(int x) {
		if (x) { return 1; }
		return 2;
	}`, "f")
	res := Build(fn)
	if res.Irreducible {
		t.Fatalf("expected reducible result for a plain if")
	}
	blocks, loops, _ := countKinds(res.Root)
	if loops != 0 {
		t.Errorf("a plain if/no-loop function should have no loop scopes, got %d", loops)
	}
	if blocks == 0 {
		t.Errorf("expected at least one block scope for the if's join point")
	}
}

func TestBuildWhileLoopHasLoopScope(t *testing.T) {
	fn := buildFn(t, `int f(int n) {
		int i = 0;
		while (i < n) { i = i + 1; }
		return i;
	}`, "f")
	res := Build(fn)
	if res.Irreducible {
		t.Fatalf("expected reducible result for a while loop")
	}
	_, loops, _ := countKinds(res.Root)
	if loops == 0 {
		t.Errorf("expected at least one loop scope for the while loop's back edge")
	}
}

func TestBuildEveryBlockAppearsExactlyOnce(t *testing.T) {
	fn := buildFn(t, `int f(int n) {
		int total = 0;
		for (int i = 0; i < n; i = i + 1) {
			if (i == 3) continue;
			if (i == 5) break;
			total = total + i;
		}
		return total;
	}`, "f")
	res := Build(fn)
	if res.Irreducible {
		t.Fatalf("expected reducible result for a for-loop with break/continue")
	}
	seen := make(map[ir.BlockID]int)
	var walk func(Region)
	walk = func(r Region) {
		switch n := r.(type) {
		case Seq:
			for _, it := range n.Items {
				walk(it)
			}
		case Scoped:
			walk(n.Body)
		case BasicBlock:
			seen[n.ID]++
		}
	}
	walk(res.Root)
	for _, b := range fn.Blocks {
		if seen[b.ID] != 1 {
			t.Errorf("block %d rendered %d times, want exactly 1", b.ID, seen[b.ID])
		}
	}
}

func TestBuildDenseSwitchEveryTargetHasLabel(t *testing.T) {
	fn := buildFn(t, `int f(int x) {
		switch (x) {
		case 0: return 10;
		case 1: return 11;
		case 2: return 12;
		default: return -1;
		}
	}`, "f")
	res := Build(fn)
	if res.Irreducible {
		t.Fatalf("expected reducible result for a switch")
	}
	// A br_table cannot fall through, so every table target must resolve
	// to a real scope label, including an edge to the lexically next
	// block.
	var walk func(Region)
	walk = func(r Region) {
		switch n := r.(type) {
		case Seq:
			for _, it := range n.Items {
				walk(it)
			}
		case Scoped:
			walk(n.Body)
		case BasicBlock:
			if !n.Br.IsTable {
				return
			}
			for i, tgt := range n.Br.Targets {
				if tgt == NoBranch {
					t.Errorf("table target %d has no label", i)
				} else if int(tgt) >= len(res.Scopes) {
					t.Errorf("table target %d label %d outside the scope table", i, tgt)
				}
			}
		}
	}
	walk(res.Root)
}

func TestBuildIrreducibleFallsBackToDispatchLoop(t *testing.T) {
	// Hand-construct an irreducible CFG: two blocks b1, b2 that are both
	// reachable from entry and that branch into each other, forming a
	// multiple-entry loop no dominator-based nesting can structure.
	fn := &ir.Function{Name: "irred"}
	entry := fn.NewBlock()
	b1 := fn.NewBlock()
	b2 := fn.NewBlock()
	fn.Entry = entry
	r := fn.NewReg(ir.KindI32)
	fn.Block(entry).Instrs = []ir.Instr{
		{Tag: ir.TagConst, Dest: r, IntVal: 1, Kind: ir.KindI32},
		{Tag: ir.TagBranch, Dest: -1, Cond: r, IfTrue: b1, IfFalse: b2},
	}
	fn.Block(b1).Instrs = []ir.Instr{
		{Tag: ir.TagBranch, Dest: -1, Cond: r, IfTrue: b2, IfFalse: b1},
	}
	fn.Block(b2).Instrs = []ir.Instr{
		{Tag: ir.TagBranch, Dest: -1, Cond: r, IfTrue: b1, IfFalse: b2},
	}
	fn.ComputeCFG()

	res := Build(fn)
	if !res.Irreducible {
		t.Fatalf("expected irreducible CFG to trigger the dispatch-loop fallback")
	}
	if res.DispatchLoop == nil || len(res.DispatchLoop.Blocks) != 3 {
		t.Fatalf("expected a 3-block dispatch loop, got %+v", res.DispatchLoop)
	}
}
