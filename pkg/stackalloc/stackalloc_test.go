package stackalloc

import (
	"testing"

	"github.com/cc2wasm/cc2wasm/pkg/ir"
	"github.com/cc2wasm/cc2wasm/pkg/lexer"
	"github.com/cc2wasm/cc2wasm/pkg/opt"
	"github.com/cc2wasm/cc2wasm/pkg/parser"
	"github.com/cc2wasm/cc2wasm/pkg/sema"
)

func simpleFn(locals []ir.Local) *ir.Function {
	fn := &ir.Function{Locals: locals}
	b := fn.NewBlock()
	fn.Entry = b
	return fn
}

func TestAllocateDisjointLiveIntervalsShareBytes(t *testing.T) {
	// Two 4-byte locals whose live intervals never overlap should be
	// packed into the same offset when packing is enabled.
	fn := simpleFn([]ir.Local{
		{Name: "a", Size: 4, Align: 4},
		{Name: "b", Size: 4, Align: 4},
	})
	intervals := []Interval{
		{Local: 0, Start: 0, End: 1},
		{Local: 1, Start: 2, End: 3},
	}
	frame := Allocate(fn, intervals, true)
	if frame.Offsets[0] != frame.Offsets[1] {
		t.Errorf("expected disjoint-lifetime locals to share an offset, got %v", frame.Offsets)
	}
	if frame.Size != 4 {
		t.Errorf("expected packed frame size 4, got %d", frame.Size)
	}
}

func TestAllocateOverlappingLiveIntervalsDisjointBytes(t *testing.T) {
	fn := simpleFn([]ir.Local{
		{Name: "a", Size: 4, Align: 4},
		{Name: "b", Size: 4, Align: 4},
	})
	intervals := []Interval{
		{Local: 0, Start: 0, End: 3},
		{Local: 1, Start: 1, End: 2},
	}
	frame := Allocate(fn, intervals, true)
	if frame.Offsets[0] == frame.Offsets[1] {
		t.Errorf("expected overlapping-lifetime locals to get disjoint offsets, got %v", frame.Offsets)
	}
	if frame.Size != 8 {
		t.Errorf("expected packed frame size 8, got %d", frame.Size)
	}
}

func TestAllocateAddressTakenNeverShares(t *testing.T) {
	fn := simpleFn([]ir.Local{
		{Name: "a", Size: 4, Align: 4, AddressTaken: true},
		{Name: "b", Size: 4, Align: 4},
	})
	intervals := []Interval{
		{Local: 0, Start: 0, End: 10},
		{Local: 1, Start: 20, End: 21}, // disjoint in time, but a is address-taken
	}
	frame := Allocate(fn, intervals, true)
	if frame.Offsets[0] == frame.Offsets[1] {
		t.Errorf("address-taken local must never share bytes, got %v", frame.Offsets)
	}
}

func TestAllocateUnoptimisedModeNeverPacks(t *testing.T) {
	fn := simpleFn([]ir.Local{
		{Name: "a", Size: 4, Align: 4},
		{Name: "b", Size: 4, Align: 4},
	})
	intervals := []Interval{
		{Local: 0, Start: 0, End: 1},
		{Local: 1, Start: 2, End: 3},
	}
	frame := Allocate(fn, intervals, false)
	if frame.Offsets[0] == frame.Offsets[1] {
		t.Errorf("unoptimised mode must give every local its own slot, got %v", frame.Offsets)
	}
	if frame.Size != 8 {
		t.Errorf("expected unpacked frame size 8, got %d", frame.Size)
	}
}

func TestAllocateRespectsAlignment(t *testing.T) {
	fn := simpleFn([]ir.Local{
		{Name: "c", Size: 1, Align: 1},
		{Name: "i", Size: 4, Align: 4},
	})
	// c's longer interval forces it to be placed first (decreasing
	// interval length is the primary sort key), landing it at offset 0;
	// i then must skip over c's byte and round up to its own alignment.
	intervals := []Interval{
		{Local: 0, Start: 0, End: 10},
		{Local: 1, Start: 0, End: 2},
	}
	frame := Allocate(fn, intervals, true)
	if frame.Offsets[0] != 0 {
		t.Fatalf("expected c at offset 0, got %d", frame.Offsets[0])
	}
	if frame.Offsets[1]%4 != 0 {
		t.Errorf("4-byte-aligned local got misaligned offset %d", frame.Offsets[1])
	}
	if frame.Offsets[1] == 0 {
		t.Errorf("expected i to skip over c's byte, got offset %d", frame.Offsets[1])
	}
}

func TestComputeIntervalsAddressTakenSpansWholeFunction(t *testing.T) {
	fn := simpleFn([]ir.Local{{Name: "a", Size: 4, Align: 4, AddressTaken: true}})
	b0 := fn.Entry
	fn.Block(b0).Instrs = []ir.Instr{
		{Tag: ir.TagAddrLocal, Dest: fn.NewReg(ir.KindI32), Local: 0},
		{Tag: ir.TagReturn},
	}
	b1 := fn.NewBlock()
	fn.Block(b1).Instrs = []ir.Instr{{Tag: ir.TagReturn}}
	fn.Block(b0).Instrs[len(fn.Block(b0).Instrs)-1] = ir.Instr{Tag: ir.TagJump, Targets: []ir.BlockID{b1}}
	fn.ComputeCFG()

	ivs := ComputeIntervals(fn, opt.AnalyzeLiveness(fn))
	if len(ivs) != 1 {
		t.Fatalf("expected 1 interval, got %d", len(ivs))
	}
	order := fn.ReversePostorder()
	if ivs[0].Start != 0 || ivs[0].End != len(order)-1 {
		t.Errorf("expected address-taken interval to span whole function, got %+v over %d blocks", ivs[0], len(order))
	}
}

// buildFn lowers src and runs DCE, the state the allocator sees in the
// real pipeline.
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

func localIndex(t *testing.T, fn *ir.Function, name string) int {
	t.Helper()
	for i, l := range fn.Locals {
		if l.Name == name {
			return i
		}
	}
	t.Fatalf("local %q not found", name)
	return -1
}

func TestComputeIntervalsLiveAcrossLoopBody(t *testing.T) {
	// `a` is written before the loop and read after it, so it is live
	// across the whole loop even though no instruction inside the loop
	// references it. Reverse postorder places the loop's exit before its
	// body, so a bare reference-position span would miss the overlap with
	// the body-scoped `b`; the dataflow-backed intervals must not.
	fn := buildFn(t, `int f(int n) {
		int a = 5;
		int i;
		for (i = 0; i < n; i = i + 1) {
			int b = i;
		}
		return a;
	}`, "f")

	live := opt.AnalyzeLiveness(fn)
	ivs := ComputeIntervals(fn, live)
	byLocal := make(map[int]Interval, len(ivs))
	for _, iv := range ivs {
		byLocal[iv.Local] = iv
	}
	la := localIndex(t, fn, "a")
	lb := localIndex(t, fn, "b")
	iva, ok := byLocal[la]
	if !ok {
		t.Fatalf("no interval for a")
	}
	ivb, ok := byLocal[lb]
	if !ok {
		t.Fatalf("no interval for b")
	}
	if !overlaps(iva, ivb) {
		t.Fatalf("a %+v must overlap loop-body b %+v: a is live across the loop", iva, ivb)
	}

	frame := Allocate(fn, ivs, true)
	if frame.Offsets[la] == frame.Offsets[lb] {
		t.Errorf("a and b share offset %d; each loop iteration would clobber a", frame.Offsets[la])
	}
}

func TestComputeIntervalsDisjointBranchesShareBytes(t *testing.T) {
	// `c` lives only inside the early-return branch and `a` is read only on
	// the other path. Branch successors are visited if-true first, so
	// reverse postorder places the early-return block last: a's hull ends
	// at the join block before c's block begins, and packing may overlay
	// them.
	fn := buildFn(t, `int f(int n) {
		int a = n;
		if (n > 0) {
			int c = n + 1;
			return c;
		}
		return a;
	}`, "f")

	live := opt.AnalyzeLiveness(fn)
	ivs := ComputeIntervals(fn, live)
	byLocal := make(map[int]Interval, len(ivs))
	for _, iv := range ivs {
		byLocal[iv.Local] = iv
	}
	la := localIndex(t, fn, "a")
	lc := localIndex(t, fn, "c")
	if overlaps(byLocal[la], byLocal[lc]) {
		t.Fatalf("a %+v and c %+v live on disjoint paths, intervals must not overlap", byLocal[la], byLocal[lc])
	}

	frame := Allocate(fn, ivs, true)
	if frame.Offsets[la] != frame.Offsets[lc] {
		t.Errorf("disjoint-lifetime a and c should share an offset, got %d and %d", frame.Offsets[la], frame.Offsets[lc])
	}
}
