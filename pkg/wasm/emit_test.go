package wasm

import (
	"bytes"
	"testing"

	"github.com/cc2wasm/cc2wasm/pkg/ir"
	"github.com/cc2wasm/cc2wasm/pkg/lexer"
	"github.com/cc2wasm/cc2wasm/pkg/opt"
	"github.com/cc2wasm/cc2wasm/pkg/parser"
	"github.com/cc2wasm/cc2wasm/pkg/sema"
	"github.com/cc2wasm/cc2wasm/pkg/stackalloc"
	"github.com/cc2wasm/cc2wasm/pkg/tco"
)

// compileToWasm runs the full pipeline over src with every pass enabled.
func compileToWasm(t *testing.T, src string) []byte {
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
	frames := make(map[string]stackalloc.Frame, len(mod.Functions))
	for _, fn := range mod.Functions {
		opt.Run(fn)
		tco.Run(fn)
		live := opt.AnalyzeLiveness(fn)
		intervals := stackalloc.ComputeIntervals(fn, live)
		frames[fn.Name] = stackalloc.Allocate(fn, intervals, true)
	}
	opts := DefaultOptions()
	opts.Frames = frames
	bin, err := Emit(mod, opts)
	if err != nil {
		t.Fatalf("emit failed: %v", err)
	}
	return bin
}

// sectionIDs walks the module's section headers and returns the ids in
// file order.
func sectionIDs(t *testing.T, bin []byte) []byte {
	t.Helper()
	if len(bin) < 8 {
		t.Fatalf("module too short: %d bytes", len(bin))
	}
	var ids []byte
	pos := 8
	for pos < len(bin) {
		id := bin[pos]
		pos++
		size, n := decodeUleb(bin[pos:])
		if n == 0 {
			t.Fatalf("bad section size at offset %d", pos)
		}
		pos += n + int(size)
		ids = append(ids, id)
	}
	if pos != len(bin) {
		t.Fatalf("section sizes do not cover the module: ended at %d of %d", pos, len(bin))
	}
	return ids
}

const fibSrc = `
int fib(int n) {
	if (n < 2) return n;
	return fib(n - 1) + fib(n - 2);
}
int main() {
	int i;
	for (i = 0; i < 10; i = i + 1) {
		printf("%d: %d\n", i, fib(i));
	}
	return 0;
}
`

func TestEmitMagicAndVersion(t *testing.T) {
	bin := compileToWasm(t, fibSrc)
	want := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	if !bytes.HasPrefix(bin, want) {
		t.Fatalf("module prefix = % x, want % x", bin[:8], want)
	}
}

func TestEmitSectionsInNumericOrder(t *testing.T) {
	bin := compileToWasm(t, fibSrc)
	ids := sectionIDs(t, bin)
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("section ids out of order: %v", ids)
		}
	}
	required := []byte{sectionType, sectionImport, sectionFunction, sectionExport, sectionCode, sectionData}
	for _, want := range required {
		found := false
		for _, id := range ids {
			if id == want {
				found = true
			}
		}
		if !found {
			t.Errorf("module missing section %d (have %v)", want, ids)
		}
	}
}

func TestEmitExportsMainAndMemory(t *testing.T) {
	bin := compileToWasm(t, fibSrc)
	for _, name := range []string{"main", "memory"} {
		probe := appendName(nil, name)
		if !bytes.Contains(bin, probe) {
			t.Errorf("module does not export %q", name)
		}
	}
}

func TestEmitImportsStdlibNamespace(t *testing.T) {
	bin := compileToWasm(t, fibSrc)
	for _, name := range append([]string{"runtime", "stdlib"}, stdlibImports...) {
		probe := appendName(nil, name)
		if !bytes.Contains(bin, probe) {
			t.Errorf("module missing import name %q", name)
		}
	}
}

func TestEmitStringLiteralInDataSegment(t *testing.T) {
	bin := compileToWasm(t, `int main() { printf("hello, data segment"); return 0; }`)
	if !bytes.Contains(bin, append([]byte("hello, data segment"), 0)) {
		t.Errorf("NUL-terminated string literal not present in the module")
	}
}

func TestEmitDataSegmentInitialisesStackCells(t *testing.T) {
	src := `int main() { return 0; }`
	p := parser.New(lexer.New(src))
	mod, errs := sema.Build(p.ParseProgram())
	if len(errs) != 0 {
		t.Fatalf("semantic errors: %v", errs)
	}
	m := &moduleEmitter{
		mod:        mod,
		opts:       DefaultOptions(),
		funcIndex:  map[string]uint32{},
		globalAddr: map[string]int64{},
		tableIndex: map[string]uint32{},
		frames:     map[string]stackalloc.Frame{},
	}
	m.assignFunctionIndices()
	m.layoutData()
	read := func(addr int64) int64 {
		var v int64
		for i := int64(0); i < 4; i++ {
			v |= int64(m.data[addr+i]) << (8 * i)
		}
		return v
	}
	if read(FramePtrAddr) != m.stackBase || read(StackPtrAddr) != m.stackBase {
		t.Errorf("FP/SP cells = %d/%d, want both %d", read(FramePtrAddr), read(StackPtrAddr), m.stackBase)
	}
	if m.stackBase%16 != 0 {
		t.Errorf("stack base %d not 16-byte aligned", m.stackBase)
	}
}

func TestEmitFunctionPointerGetsTableAndElement(t *testing.T) {
	bin := compileToWasm(t, `
int inc(int x) { return x + 1; }
int main() {
	int (*f)(int) = &inc;
	return f(1);
}`)
	ids := sectionIDs(t, bin)
	hasTable, hasElem := false, false
	for _, id := range ids {
		if id == sectionTable {
			hasTable = true
		}
		if id == sectionElement {
			hasElem = true
		}
	}
	if !hasTable || !hasElem {
		t.Errorf("address-taken function needs table+element sections, got %v", ids)
	}
}

func TestEmitControlFlowShapes(t *testing.T) {
	cases := map[string]string{
		"if-else": `int f(int x) { if (x > 0) return 1; else return 2; }`,
		"while":   `int f(int n) { int s = 0; while (n > 0) { s = s + n; n = n - 1; } return s; }`,
		"do":      `int f(int n) { int s = 0; do { s = s + 1; n = n - 1; } while (n > 0); return s; }`,
		"switch": `int f(int x) {
			switch (x) {
			case 0: return 10;
			case 1: return 11;
			case 2: return 12;
			default: return -1;
			}
		}`,
		"goto": `int f(int n) {
			int s = 0;
		top:
			s = s + n;
			n = n - 1;
			if (n > 0) goto top;
			return s;
		}`,
		"tail-recursive": `long sum(long acc, long n) {
			if (n == 0) return acc;
			return sum(acc + n, n - 1);
		}`,
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			bin := compileToWasm(t, src)
			sectionIDs(t, bin)
		})
	}
}

func TestParamOffsetsNaturalAlignment(t *testing.T) {
	offs, total := paramOffsets([]ir.Kind{ir.KindI32, ir.KindI64, ir.KindI32})
	if offs[0] != 8 {
		t.Errorf("first i32 at %d, want 8 (just past the return slot)", offs[0])
	}
	if offs[1] != 16 {
		t.Errorf("i64 after an i32 at %d, want 16 (8-byte aligned)", offs[1])
	}
	if offs[2] != 24 {
		t.Errorf("trailing i32 at %d, want 24", offs[2])
	}
	if total != 28 {
		t.Errorf("total extent %d, want 28", total)
	}
}

func TestEmitUnknownCalleeFails(t *testing.T) {
	fn := &ir.Function{Name: "f"}
	b := fn.NewBlock()
	fn.Entry = b
	fn.Block(b).Instrs = []ir.Instr{
		{Tag: ir.TagCall, Dest: -1, Callee: "no_such_fn"},
		{Tag: ir.TagReturn, Dest: -1},
	}
	fn.ComputeCFG()
	mod := &ir.Module{Functions: []*ir.Function{fn}}
	_, err := Emit(mod, DefaultOptions())
	if err == nil {
		t.Fatalf("expected an emission error for an unknown callee")
	}
}
