package tco

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
	if len(mod.Functions) == 0 {
		t.Fatalf("no functions lowered")
	}
	return mod.Functions[len(mod.Functions)-1]
}

func countTag(fn *ir.Function, tag ir.InstrTag) int {
	n := 0
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			if in.Tag == tag {
				n++
			}
		}
	}
	return n
}

func TestSelfTailCallRewrittenToJump(t *testing.T) {
	fn := build(t, `int sum(int acc, int n) {
		if (n == 0) return acc;
		return sum(acc + n, n - 1);
	}`)
	before := countTag(fn, ir.TagCall)
	if before == 0 {
		t.Fatalf("expected at least one call before TCO")
	}
	Run(fn)

	calls := 0
	tailCalls := 0
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			if in.Tag == ir.TagCall {
				calls++
				if in.IsTail {
					tailCalls++
				}
			}
		}
	}
	if calls != 0 {
		t.Errorf("expected the self-tail-call to be rewritten away entirely, %d calls remain", calls)
	}
	_ = tailCalls

	// The rewrite branches to the block just past the entry's param-init
	// prefix, which the split leaves as the entry's sole successor.
	entrySuccs := fn.Block(fn.Entry).Successors()
	if len(entrySuccs) != 1 {
		t.Fatalf("expected the split entry to end in a single jump, got %d successors", len(entrySuccs))
	}
	bodyEntry := entrySuccs[0]
	foundLoopJump := false
	for _, b := range fn.Blocks {
		if b.ID == fn.Entry {
			continue
		}
		term := b.Terminator()
		if term != nil && term.Tag == ir.TagJump && term.Targets[0] == bodyEntry {
			foundLoopJump = true
		}
	}
	if !foundLoopJump {
		t.Errorf("expected a jump back past the param-init prefix after TCO")
	}
}

func TestNonTailCallUntouched(t *testing.T) {
	fn := build(t, `int fact(int n) {
		if (n == 0) return 1;
		return n * fact(n - 1);
	}`)
	Run(fn)
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			if in.Tag == ir.TagCall && in.IsTail {
				t.Errorf("call used in a multiplication is not in tail position, should not be marked tail")
			}
		}
	}
}

func TestSiblingTailCallMarkedNotRewritten(t *testing.T) {
	fn := build(t, `int helper(int x) { return x + 1; }
int caller(int x) { return helper(x); }`)
	Run(fn)
	found := false
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			if in.Tag == ir.TagCall {
				if in.Callee != "helper" {
					continue
				}
				found = true
				if !in.IsTail {
					t.Errorf("expected sibling call in tail position to be marked IsTail")
				}
			}
		}
	}
	if !found {
		t.Fatalf("expected a call to helper to remain in the IR")
	}
}
