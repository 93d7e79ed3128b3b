package opt

import (
	"testing"

	"github.com/cc2wasm/cc2wasm/pkg/ir"
	"github.com/cc2wasm/cc2wasm/pkg/lexer"
	"github.com/cc2wasm/cc2wasm/pkg/parser"
	"github.com/cc2wasm/cc2wasm/pkg/sema"
)

func build(t *testing.T, src string) *ir.Function {
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
	return mod.Functions[0]
}

func TestRemoveUnreachableBlocks(t *testing.T) {
	fn := build(t, `int f(int x) {
		return x;
		x = x + 1;
		return x;
	}`)
	RemoveUnreachableBlocks(fn)

	reachable := make(map[ir.BlockID]bool)
	var walk func(ir.BlockID)
	walk = func(id ir.BlockID) {
		if reachable[id] {
			return
		}
		reachable[id] = true
		for _, s := range fn.Block(id).Successors() {
			walk(s)
		}
	}
	walk(fn.Entry)
	for _, b := range fn.Blocks {
		if !reachable[b.ID] {
			t.Errorf("block b%d survived removal but is unreachable", b.ID)
		}
	}
}

func TestRemoveUnreachableBlocksRemapsBranchTargets(t *testing.T) {
	fn := build(t, `int f(int x) {
		if (x > 0) { return 1; } else { return 2; }
		return 3;
	}`)
	RemoveUnreachableBlocks(fn)
	n := ir.BlockID(len(fn.Blocks))
	for _, b := range fn.Blocks {
		for _, s := range b.Successors() {
			if s < 0 || s >= n {
				t.Fatalf("block b%d has dangling successor b%d after removal", b.ID, s)
			}
		}
	}
}

func TestEliminateDeadInstructions(t *testing.T) {
	fn := &ir.Function{Name: "f"}
	entry := fn.NewBlock()
	fn.Entry = entry
	r0 := fn.NewReg(ir.KindI32)
	r1 := fn.NewReg(ir.KindI32)
	r2 := fn.NewReg(ir.KindI32)
	b := fn.Block(entry)
	b.Instrs = []ir.Instr{
		{Tag: ir.TagConst, Dest: r0, IntVal: 1, Kind: ir.KindI32},
		{Tag: ir.TagConst, Dest: r1, IntVal: 2, Kind: ir.KindI32},
		{Tag: ir.TagBinOp, Dest: r2, Op: ir.OpAddI32, Args: []ir.Reg{r0, r1}},
		{Tag: ir.TagReturn, Dest: -1, Args: []ir.Reg{r0}},
	}
	fn.ComputeCFG()

	EliminateDeadInstructions(fn)

	// r2 is unused; removing it leaves r1 unused too. Only the returned
	// r0's def and the return itself survive.
	if got := len(fn.Block(entry).Instrs); got != 2 {
		t.Fatalf("expected 2 surviving instructions, got %d: %v", got, fn.Block(entry).Instrs)
	}
	if fn.Block(entry).Instrs[0].Dest != r0 {
		t.Errorf("expected the surviving def to be r%d", r0)
	}
}

func TestDeadInstructionRemovalKeepsCallsAndStores(t *testing.T) {
	p := parser.New(lexer.New(`int g(int x) { return x; }
int f(int x) {
	g(x);
	x = 5;
	return 0;
}`))
	prog := p.ParseProgram()
	mod, errs := sema.Build(prog)
	if len(errs) != 0 {
		t.Fatalf("semantic errors: %v", errs)
	}
	fn := mod.Functions[1]
	Run(fn)
	calls, stores := 0, 0
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			switch in.Tag {
			case ir.TagCall:
				calls++
			case ir.TagStoreLocal, ir.TagStore, ir.TagStoreGlobal:
				stores++
			}
		}
	}
	if calls == 0 {
		t.Errorf("a call whose result is discarded must survive DCE")
	}
	if stores == 0 {
		t.Errorf("stores must survive DCE even when never reloaded")
	}
}

func TestRunReachesFixedPoint(t *testing.T) {
	fn := build(t, `int f(int a, int b) {
		int t1 = a + b;
		int t2 = t1 * 2;
		return a;
	}`)
	Run(fn)
	// Running again must change nothing.
	before := len(fn.Blocks)
	instrs := 0
	for _, b := range fn.Blocks {
		instrs += len(b.Instrs)
	}
	Run(fn)
	after := 0
	for _, b := range fn.Blocks {
		after += len(b.Instrs)
	}
	if len(fn.Blocks) != before || after != instrs {
		t.Errorf("second DCE run was not a no-op: %d->%d blocks, %d->%d instrs",
			before, len(fn.Blocks), instrs, after)
	}
}
