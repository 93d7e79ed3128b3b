package sema

import (
	"testing"

	"github.com/cc2wasm/cc2wasm/pkg/ir"
	"github.com/cc2wasm/cc2wasm/pkg/lexer"
	"github.com/cc2wasm/cc2wasm/pkg/parser"
)

func build(t *testing.T, src string) *ir.Module {
	t.Helper()
	p := parser.New(lexer.New(src))
	prog := p.ParseProgram()
	if len(p.Errors()) != 0 {
		t.Fatalf("parse errors for %q: %v", src, p.Errors())
	}
	mod, errs := Build(prog)
	if len(errs) != 0 {
		t.Fatalf("unexpected semantic errors for %q: %v", src, errs)
	}
	return mod
}

func findFunc(t *testing.T, mod *ir.Module, name string) *ir.Function {
	t.Helper()
	for _, fn := range mod.Functions {
		if fn.Name == name {
			return fn
		}
	}
	t.Fatalf("function %q not found", name)
	return nil
}

func countInstrs(fn *ir.Function, tag ir.InstrTag) int {
	n := 0
	for _, blk := range fn.Blocks {
		for _, ins := range blk.Instrs {
			if ins.Tag == tag {
				n++
			}
		}
	}
	return n
}

func TestLowerSimpleFunction(t *testing.T) {
	mod := build(t, `int add(int a, int b) { return a + b; }`)
	fn := findFunc(t, mod, "add")
	if len(fn.Params) != 2 {
		t.Fatalf("expected 2 params, got %d", len(fn.Params))
	}
	if fn.ResultKind == nil || *fn.ResultKind != ir.KindI32 {
		t.Fatalf("expected i32 result kind")
	}
	if countInstrs(fn, ir.TagParam) != 2 {
		t.Fatalf("expected 2 TagParam instructions")
	}
	if countInstrs(fn, ir.TagReturn) == 0 {
		t.Fatalf("expected a return instruction")
	}
}

func TestLowerFibonacciRecursion(t *testing.T) {
	mod := build(t, `
int fib(int n) {
    if (n < 2) return n;
    return fib(n - 1) + fib(n - 2);
}`)
	fn := findFunc(t, mod, "fib")
	if countInstrs(fn, ir.TagCall) != 2 {
		t.Fatalf("expected 2 recursive calls, got %d", countInstrs(fn, ir.TagCall))
	}
	if countInstrs(fn, ir.TagBranch) == 0 {
		t.Fatalf("expected at least one branch from the if statement")
	}
}

func TestLowerForLoopWithCompoundAssign(t *testing.T) {
	mod := build(t, `
int sum(int n) {
    int total = 0;
    for (int i = 0; i < n; i++) {
        total += i;
    }
    return total;
}`)
	fn := findFunc(t, mod, "sum")
	if len(fn.Locals) < 3 {
		t.Fatalf("expected at least 3 locals (n, total, i), got %d", len(fn.Locals))
	}
	if countInstrs(fn, ir.TagSwitch) != 0 {
		t.Fatalf("a for loop should not lower to a switch")
	}
}

func TestLowerDenseSwitchUsesJumpTable(t *testing.T) {
	mod := build(t, `
int classify(int x) {
    switch (x) {
    case 0: return 10;
    case 1: return 11;
    case 2: return 12;
    default: return -1;
    }
}`)
	fn := findFunc(t, mod, "classify")
	if countInstrs(fn, ir.TagSwitch) != 1 {
		t.Fatalf("expected a dense switch to lower to exactly one TagSwitch, got %d", countInstrs(fn, ir.TagSwitch))
	}
}

func TestLowerSparseSwitchUsesCascade(t *testing.T) {
	mod := build(t, `
int classify(int x) {
    switch (x) {
    case 10: return 1;
    case 1000: return 2;
    default: return 0;
    }
}`)
	fn := findFunc(t, mod, "classify")
	if countInstrs(fn, ir.TagSwitch) != 0 {
		t.Fatalf("a sparse switch should not produce a jump table")
	}
	if countInstrs(fn, ir.TagBranch) < 2 {
		t.Fatalf("expected an equality-comparison cascade")
	}
}

func TestLowerPointerArithmeticScalesBySize(t *testing.T) {
	mod := build(t, `
int at(int *p, int i) {
    return *(p + i);
}`)
	fn := findFunc(t, mod, "at")
	found := false
	for _, blk := range fn.Blocks {
		for _, ins := range blk.Instrs {
			if ins.Tag == ir.TagBinOp && ins.Op == ir.OpMulI32 {
				found = true
			}
		}
	}
	if !found {
		t.Fatalf("expected pointer-arithmetic index to be scaled by sizeof(int)")
	}
}

func TestLowerAddressOfSetsLocalAddressTaken(t *testing.T) {
	mod := build(t, `
void inc(int *p) { *p = *p + 1; }
int main() {
    int x = 0;
    inc(&x);
    return x;
}`)
	fn := findFunc(t, mod, "main")
	taken := false
	for _, l := range fn.Locals {
		if l.Name == "x" && l.AddressTaken {
			taken = true
		}
	}
	if !taken {
		t.Fatalf("expected local 'x' to be marked AddressTaken after &x")
	}
}

func TestLowerShortCircuitLogicalAnd(t *testing.T) {
	mod := build(t, `
int both(int a, int b) {
    return a > 0 && b > 0;
}`)
	fn := findFunc(t, mod, "both")
	if countInstrs(fn, ir.TagBranch) == 0 {
		t.Fatalf("expected short-circuit && to introduce a branch")
	}
}

func TestLowerTailSelfRecursion(t *testing.T) {
	mod := build(t, `
int sumTo(int n, int acc) {
    if (n == 0) return acc;
    return sumTo(n - 1, acc + n);
}`)
	fn := findFunc(t, mod, "sumTo")
	found := false
	for _, blk := range fn.Blocks {
		for _, ins := range blk.Instrs {
			if ins.Tag == ir.TagCall && ins.IsTail {
				found = true
			}
		}
	}
	if !found {
		t.Fatalf("expected the recursive call in tail position to be marked IsTail")
	}
}

func TestLowerStructMemberAccess(t *testing.T) {
	mod := build(t, `
struct point { int x; int y; };
int sumXY(struct point *p) {
    return p->x + p->y;
}`)
	fn := findFunc(t, mod, "sumXY")
	if countInstrs(fn, ir.TagLoad) < 2 {
		t.Fatalf("expected at least 2 memory loads for the two field accesses")
	}
}

func TestLowerGlobalVarWithConstInit(t *testing.T) {
	mod := build(t, `int counter = 42;`)
	if len(mod.Globals) != 1 {
		t.Fatalf("expected 1 global, got %d", len(mod.Globals))
	}
	if mod.Globals[0].Name != "counter" {
		t.Fatalf("expected global named 'counter', got %q", mod.Globals[0].Name)
	}
}

func TestBuildReportsUndefinedSymbol(t *testing.T) {
	p := parser.New(lexer.New(`int f() { return undeclaredVar; }`))
	prog := p.ParseProgram()
	if len(p.Errors()) != 0 {
		t.Fatalf("unexpected parse errors: %v", p.Errors())
	}
	_, errs := Build(prog)
	if len(errs) == 0 {
		t.Fatalf("expected a semantic error for an undeclared identifier")
	}
}

func TestLowerGotoAndLabel(t *testing.T) {
	mod := build(t, `
int loopy(int n) {
    int i = 0;
top:
    if (i >= n) return i;
    i = i + 1;
    goto top;
}`)
	fn := findFunc(t, mod, "loopy")
	if countInstrs(fn, ir.TagJump) == 0 {
		t.Fatalf("expected goto to lower to a jump")
	}
}
