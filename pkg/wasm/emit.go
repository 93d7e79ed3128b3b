// Package wasm serialises the optimised IR as a Wasm 1.0 binary module.
// All compiled functions share one Wasm type, ()->(): arguments and return
// values travel through a shadow call stack in linear memory (frame and
// stack pointer cells at fixed low addresses), so the Wasm-level signature
// carries nothing. The encoding vocabulary (section ids, opcode values,
// LEB128 conventions) follows the Wasm 1.0 binary format.
package wasm

import (
	"sort"

	"github.com/cc2wasm/cc2wasm/pkg/diag"
	"github.com/cc2wasm/cc2wasm/pkg/ir"
	"github.com/cc2wasm/cc2wasm/pkg/stackalloc"
)

// stdlibImports is the fixed import set every emitted module declares from
// the "stdlib" namespace, in function-index order. The host supplies each
// one; all use the shadow-stack ABI, so their Wasm type is ()->() like
// everything else.
var stdlibImports = []string{"printf", "strtol", "strtoul", "strlen", "strstr", "log_stack_ptr"}

// Options configures module emission.
type Options struct {
	// DataBase is the linear-memory address where globals and interned
	// strings begin. Addresses below it hold the FP/SP cells.
	DataBase int64
	// StackReserve is how much linear memory past the data segment is
	// provisioned for the shadow stack when sizing the imported memory.
	StackReserve int64
	// Frames carries each function's packed stack-slot layout.
	Frames map[string]stackalloc.Frame
}

// DefaultOptions returns the standard layout: data at 16, one MiB of
// shadow-stack headroom.
func DefaultOptions() Options {
	return Options{DataBase: 16, StackReserve: 1 << 20}
}

const pageSize = 65536

type moduleEmitter struct {
	mod  *ir.Module
	opts Options

	funcIndex  map[string]uint32
	globalAddr map[string]int64
	tableIndex map[string]uint32
	tableFuncs []string
	frames     map[string]stackalloc.Frame

	data      []byte // full data segment, starting at address 0
	stackBase int64
}

// Emit serialises mod into a Wasm binary module.
func Emit(mod *ir.Module, opts Options) ([]byte, *diag.Error) {
	if opts.DataBase < 16 {
		opts.DataBase = 16
	}
	if opts.StackReserve <= 0 {
		opts.StackReserve = 1 << 20
	}
	m := &moduleEmitter{
		mod:        mod,
		opts:       opts,
		funcIndex:  make(map[string]uint32),
		globalAddr: make(map[string]int64),
		tableIndex: make(map[string]uint32),
		frames:     opts.Frames,
	}
	if m.frames == nil {
		m.frames = make(map[string]stackalloc.Frame)
	}
	m.assignFunctionIndices()
	m.layoutData()
	m.collectTable()
	return m.encode()
}

// assignFunctionIndices numbers the function index space: imports first,
// then defined functions in module order.
func (m *moduleEmitter) assignFunctionIndices() {
	for i, name := range stdlibImports {
		m.funcIndex[name] = uint32(i)
	}
	base := uint32(len(stdlibImports))
	for i, fn := range m.mod.Functions {
		m.funcIndex[fn.Name] = base + uint32(i)
	}
}

// layoutData places every global at an absolute address and builds the
// single active data segment. The segment starts at address 0: its first
// sixteen bytes initialise the FP and SP cells to the stack base and the
// temp cell to zero, so the module is runnable without the host priming
// them.
func (m *moduleEmitter) layoutData() {
	cur := m.opts.DataBase
	for _, g := range m.mod.Globals {
		align := g.Align
		if align <= 0 {
			align = 1
		}
		cur = alignUp(cur, align)
		m.globalAddr[g.Name] = cur
		cur += g.Size
	}
	m.stackBase = alignUp(cur, 16)

	m.data = make([]byte, cur)
	putU32 := func(addr, v int64) {
		for i := int64(0); i < 4; i++ {
			m.data[addr+i] = byte(v >> (8 * i))
		}
	}
	putU32(FramePtrAddr, m.stackBase)
	putU32(TempFramePtrAddr, 0)
	putU32(StackPtrAddr, m.stackBase)
	for _, g := range m.mod.Globals {
		copy(m.data[m.globalAddr[g.Name]:], g.Init)
	}
}

// collectTable gathers every defined function whose address is taken
// (referenced by an address-of instruction) into the element table, in a
// stable order. A function "pointer" value is its table index.
func (m *moduleEmitter) collectTable() {
	defined := make(map[string]bool, len(m.mod.Functions))
	for _, fn := range m.mod.Functions {
		defined[fn.Name] = true
	}
	seen := make(map[string]bool)
	for _, fn := range m.mod.Functions {
		for _, b := range fn.Blocks {
			for i := range b.Instrs {
				in := &b.Instrs[i]
				if in.Tag == ir.TagAddrGlobal && defined[in.Global] {
					seen[in.Global] = true
				}
			}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		m.tableIndex[name] = uint32(i)
	}
	m.tableFuncs = names
}

// section appends a section header (id + size) and body to out.
func section(out []byte, id byte, body []byte) []byte {
	out = append(out, id)
	out = appendUleb128(out, uint64(len(body)))
	return append(out, body...)
}

func appendName(buf []byte, s string) []byte {
	buf = appendUleb128(buf, uint64(len(s)))
	return append(buf, s...)
}

func (m *moduleEmitter) encode() ([]byte, *diag.Error) {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	// Type section: the single shared ()->() type.
	var typ []byte
	typ = appendUleb128(typ, 1)
	typ = append(typ, typeFunc, 0x00, 0x00)
	out = section(out, sectionType, typ)

	// Import section: runtime.memory plus the stdlib functions.
	memPages := uint64((m.stackBase + m.opts.StackReserve + pageSize - 1) / pageSize)
	var imp []byte
	imp = appendUleb128(imp, uint64(1+len(stdlibImports)))
	imp = appendName(imp, "runtime")
	imp = appendName(imp, "memory")
	imp = append(imp, descMemory, 0x00) // limits: min only
	imp = appendUleb128(imp, memPages)
	for _, name := range stdlibImports {
		imp = appendName(imp, "stdlib")
		imp = appendName(imp, name)
		imp = append(imp, descFunc)
		imp = appendUleb128(imp, 0)
	}
	out = section(out, sectionImport, imp)

	// Function section: every defined function uses type 0.
	var fns []byte
	fns = appendUleb128(fns, uint64(len(m.mod.Functions)))
	for range m.mod.Functions {
		fns = appendUleb128(fns, 0)
	}
	out = section(out, sectionFunction, fns)

	// Table section, only when some function's address is taken.
	if len(m.tableFuncs) > 0 {
		var tbl []byte
		tbl = appendUleb128(tbl, 1)
		tbl = append(tbl, valFuncref, 0x01) // limits: min and max
		tbl = appendUleb128(tbl, uint64(len(m.tableFuncs)))
		tbl = appendUleb128(tbl, uint64(len(m.tableFuncs)))
		out = section(out, sectionTable, tbl)
	}

	// Export section: memory, main, and every exported function.
	var exp []byte
	var entries [][]byte
	memExport := appendName(nil, "memory")
	memExport = append(memExport, descMemory)
	memExport = appendUleb128(memExport, 0)
	entries = append(entries, memExport)
	for _, fn := range m.mod.Functions {
		if !fn.IsExported {
			continue
		}
		e := appendName(nil, fn.Name)
		e = append(e, descFunc)
		e = appendUleb128(e, uint64(m.funcIndex[fn.Name]))
		entries = append(entries, e)
	}
	exp = appendUleb128(exp, uint64(len(entries)))
	for _, e := range entries {
		exp = append(exp, e...)
	}
	out = section(out, sectionExport, exp)

	// Element section: table entries for address-taken functions.
	if len(m.tableFuncs) > 0 {
		var elem []byte
		elem = appendUleb128(elem, 1)
		elem = appendUleb128(elem, 0) // table 0
		elem = append(elem, opI32Const)
		elem = appendSleb128(elem, 0)
		elem = append(elem, opEnd)
		elem = appendUleb128(elem, uint64(len(m.tableFuncs)))
		for _, name := range m.tableFuncs {
			elem = appendUleb128(elem, uint64(m.funcIndex[name]))
		}
		out = section(out, sectionElement, elem)
	}

	// Code section.
	var code []byte
	code = appendUleb128(code, uint64(len(m.mod.Functions)))
	for _, fn := range m.mod.Functions {
		body, err := newFuncEmitter(m, fn).emitBody()
		if err != nil {
			return nil, err
		}
		code = appendUleb128(code, uint64(len(body)))
		code = append(code, body...)
	}
	out = section(out, sectionCode, code)

	// Data section: one active segment covering the pointer cells and all
	// globals, laid out contiguously from address 0.
	var data []byte
	data = appendUleb128(data, 1)
	data = appendUleb128(data, 0) // memory 0
	data = append(data, opI32Const)
	data = appendSleb128(data, 0)
	data = append(data, opEnd)
	data = appendUleb128(data, uint64(len(m.data)))
	data = append(data, m.data...)
	out = section(out, sectionData, data)

	return out, nil
}
