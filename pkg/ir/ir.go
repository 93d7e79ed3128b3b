// Package ir defines the compiler's three-address intermediate
// representation: a CFG of basic blocks over an infinite supply of virtual
// registers, built by pkg/sema and consumed by pkg/opt and pkg/stackify.
// Every value is defined exactly once and every use is dominated by its
// definition.
package ir

import (
	"fmt"
	"strings"

	"github.com/cc2wasm/cc2wasm/pkg/ctypes"
)

// BlockID identifies a basic block within a Function.
type BlockID int

// Reg is a virtual register: an infinite, SSA-like name for a value. Regs
// are never reused across a function; the emitter gives each Reg its own
// Wasm local. pkg/stackalloc packs Locals, not Regs, into frame bytes.
type Reg int

// Kind is the scalar kind of a value carried in a Reg, used by the emitter
// to pick the correct Wasm value type and arithmetic opcode family.
type Kind int

const (
	KindI32 Kind = iota // int, short, char, bool, pointer (all zero/sign-extended to 32 bits)
	KindI64             // long
	KindF32             // float
	KindF64             // double
)

// KindForType maps a C type to the IR Kind used to hold its values.
func KindForType(t ctypes.Type) Kind {
	switch tt := t.(type) {
	case ctypes.Tfloat:
		if tt.Width == ctypes.F32 {
			return KindF32
		}
		return KindF64
	case ctypes.Tlong:
		return KindI64
	case ctypes.Tpointer:
		return KindI32
	default:
		return KindI32
	}
}

// Op is a three-address arithmetic/comparison/conversion opcode. Each name
// before a suffix letter names the Kind it operates on: I32, I64, F32, F64.
type Op int

const (
	OpAddI32 Op = iota
	OpSubI32
	OpMulI32
	OpDivSI32
	OpDivUI32
	OpRemSI32
	OpRemUI32
	OpAndI32
	OpOrI32
	OpXorI32
	OpShlI32
	OpShrSI32
	OpShrUI32
	OpEqI32
	OpNeI32
	OpLtSI32
	OpLeSI32
	OpGtSI32
	OpGeSI32
	OpLtUI32
	OpLeUI32
	OpGtUI32
	OpGeUI32

	OpAddI64
	OpSubI64
	OpMulI64
	OpDivSI64
	OpDivUI64
	OpRemSI64
	OpRemUI64
	OpAndI64
	OpOrI64
	OpXorI64
	OpShlI64
	OpShrSI64
	OpShrUI64
	OpEqI64
	OpNeI64
	OpLtSI64
	OpLeSI64
	OpGtSI64
	OpGeSI64

	OpAddF32
	OpSubF32
	OpMulF32
	OpDivF32
	OpEqF32
	OpNeF32
	OpLtF32
	OpLeF32
	OpGtF32
	OpGeF32

	OpAddF64
	OpSubF64
	OpMulF64
	OpDivF64
	OpEqF64
	OpNeF64
	OpLtF64
	OpLeF64
	OpGtF64
	OpGeF64

	// Unary
	OpNegI32
	OpNegI64
	OpNegF32
	OpNegF64
	OpNotI32 // bitwise complement

	// Conversions
	OpI32ExtendToI64S
	OpI32ExtendToI64U
	OpI64WrapToI32
	OpI32TruncToF32S
	OpI32TruncToF64S
	OpF32ConvertFromI32S
	OpF64ConvertFromI32S
	OpF32DemoteFromF64
	OpF64PromoteFromF32
	OpI32Extend8S  // sign-extend char
	OpI32Extend16S // sign-extend short
)

func (op Op) String() string {
	names := [...]string{
		"add.i32", "sub.i32", "mul.i32", "div_s.i32", "div_u.i32", "rem_s.i32", "rem_u.i32",
		"and.i32", "or.i32", "xor.i32", "shl.i32", "shr_s.i32", "shr_u.i32",
		"eq.i32", "ne.i32", "lt_s.i32", "le_s.i32", "gt_s.i32", "ge_s.i32",
		"lt_u.i32", "le_u.i32", "gt_u.i32", "ge_u.i32",
		"add.i64", "sub.i64", "mul.i64", "div_s.i64", "div_u.i64", "rem_s.i64", "rem_u.i64",
		"and.i64", "or.i64", "xor.i64", "shl.i64", "shr_s.i64", "shr_u.i64",
		"eq.i64", "ne.i64", "lt_s.i64", "le_s.i64", "gt_s.i64", "ge_s.i64",
		"add.f32", "sub.f32", "mul.f32", "div.f32", "eq.f32", "ne.f32", "lt.f32", "le.f32", "gt.f32", "ge.f32",
		"add.f64", "sub.f64", "mul.f64", "div.f64", "eq.f64", "ne.f64", "lt.f64", "le.f64", "gt.f64", "ge.f64",
		"neg.i32", "neg.i64", "neg.f32", "neg.f64", "not.i32",
		"i64.extend_i32_s", "i64.extend_i32_u", "i32.wrap_i64",
		"i32.trunc_f32_s", "i32.trunc_f64_s", "f32.convert_i32_s", "f64.convert_i32_s",
		"f32.demote_f64", "f64.promote_f32", "i32.extend8_s", "i32.extend16_s",
	}
	if int(op) < len(names) {
		return names[op]
	}
	return "?"
}

// Instr is one three-address instruction. Tag selects which of the field
// groups below are meaningful; Dest is -1 for instructions with no result
// (store, branch, return).
type Instr struct {
	Tag  InstrTag
	Dest Reg
	P    diagPos

	// Const
	IntVal   int64
	FloatVal float64
	Kind     Kind

	// BinOp / UnOp / Convert
	Op   Op
	Args []Reg

	// Param
	ParamIndex int

	// Load / Store / AddrOf / AddrLocal
	Local  int // index into Function.Locals, for AddrLocal/LoadLocal/StoreLocal
	Global string
	Align  int
	MemKind Kind // register Kind the loaded/stored value is carried in
	// Width is the memory access width in bytes (1/2/4/8), which for narrow
	// integer types (char/short) is smaller than MemKind's 4-byte register
	// representation; Signed selects sign- vs zero-extension on load.
	Width  int64
	Signed bool

	// Call / TailCall
	Callee     string // direct call target; "" for indirect
	CalleeFunc Reg    // indirect call target register, when Callee == ""
	CallArgs   []Reg
	IsTail     bool

	// Branch targets
	Cond   Reg
	IfTrue BlockID
	IfFalse BlockID
	Targets []BlockID // Jump / Switch

	// Phi-like move set for loop back-edges and switch dispatch (parallel move)
	MovDst []Reg
	MovSrc []Reg

	// Comment is an optional human-readable annotation emitted by -emit-ir;
	// it carries no semantics.
	Comment string
}

// diagPos avoids importing pkg/diag into every instruction literal call
// site; it is structurally identical to diag.Pos.
type diagPos struct {
	Line   int
	Column int
}

// InstrTag distinguishes the instruction shapes encoded in Instr.
type InstrTag int

const (
	TagConst InstrTag = iota
	TagParam // dest = the function's ParamIndex-th incoming argument
	TagBinOp
	TagUnOp
	TagConvert
	TagLoadLocal
	TagStoreLocal
	TagAddrLocal  // dest = address of Local (a stack-slot that cannot be packed into a register)
	TagLoadGlobal
	TagStoreGlobal
	TagAddrGlobal
	TagLoad  // dest = *Args[0] (pointer load through an arbitrary address)
	TagStore // *Args[0] = Args[1]
	TagCall
	TagParallelMove // a set of simultaneous register-to-register copies (loop header / switch join)
	TagJump
	TagBranch // conditional two-way branch on Cond
	TagSwitch // dense jump table on Cond, Targets[0] is default
	TagReturn
	TagUnreachable
)

// Block is a basic block: a straight-line instruction list ending in
// exactly one control-transfer instruction (Jump, Branch, Switch, Return,
// or Unreachable).
type Block struct {
	ID    BlockID
	Instrs []Instr
	// Preds is filled in by Function.ComputeCFG and kept up to date by
	// passes that rewire edges.
	Preds []BlockID
}

// Terminator returns the block's last instruction, which must be a
// control-transfer instruction.
func (b *Block) Terminator() *Instr {
	if len(b.Instrs) == 0 {
		return nil
	}
	return &b.Instrs[len(b.Instrs)-1]
}

// Successors returns the blocks control can transfer to from b's
// terminator.
func (b *Block) Successors() []BlockID {
	t := b.Terminator()
	if t == nil {
		return nil
	}
	switch t.Tag {
	case TagJump:
		return []BlockID{t.Targets[0]}
	case TagBranch:
		return []BlockID{t.IfTrue, t.IfFalse}
	case TagSwitch:
		return t.Targets
	default:
		return nil
	}
}

// Local describes one function-local variable's storage requirements. The
// IR builder allocates one Local per source-level variable, parameters and
// scalars included, and per short-circuit or ternary join temporary; all of
// them live in the shadow-stack frame, and Regs hold only expression
// temporaries.
type Local struct {
	Name         string
	Size         int64
	Align        int64
	AddressTaken bool
}

// Param is one function parameter, already lowered to a Kind.
type Param struct {
	Name string
	Kind Kind
}

// Function is one compiled C function: its CFG, its virtual register kinds,
// its stack-allocated locals, and its signature.
type Function struct {
	Name       string
	Params     []Param
	ResultKind *Kind // nil for void
	Blocks     []*Block
	Entry      BlockID
	// RegKinds maps every Reg ever allocated in this function to its Kind.
	RegKinds []Kind
	Locals   []Local
	// IsExported marks a function reachable from outside the module (C
	// `extern`/non-static at file scope), which the emitter lists in the
	// Wasm export section.
	IsExported bool
}

// NewReg allocates a fresh virtual register of the given kind.
func (f *Function) NewReg(k Kind) Reg {
	id := Reg(len(f.RegKinds))
	f.RegKinds = append(f.RegKinds, k)
	return id
}

// NewLocal allocates a stack-resident local and returns its index.
func (f *Function) NewLocal(name string, size, align int64, addressTaken bool) int {
	f.Locals = append(f.Locals, Local{Name: name, Size: size, Align: align, AddressTaken: addressTaken})
	return len(f.Locals) - 1
}

// Block looks up a block by id.
func (f *Function) Block(id BlockID) *Block {
	return f.Blocks[id]
}

// NewBlock appends a new, empty block and returns its id.
func (f *Function) NewBlock() BlockID {
	id := BlockID(len(f.Blocks))
	f.Blocks = append(f.Blocks, &Block{ID: id})
	return id
}

// ComputeCFG (re)computes every block's Preds list from the current
// terminators. Passes that rewrite control flow must call this before
// anything that depends on Preds (liveness, dominance).
func (f *Function) ComputeCFG() {
	for _, b := range f.Blocks {
		b.Preds = nil
	}
	for _, b := range f.Blocks {
		for _, succ := range b.Successors() {
			target := f.Block(succ)
			target.Preds = append(target.Preds, b.ID)
		}
	}
}

// ReversePostorder returns block ids reachable from Entry in reverse
// postorder, the linearization used by liveness analysis and the
// stackifier.
func (f *Function) ReversePostorder() []BlockID {
	visited := make([]bool, len(f.Blocks))
	var order []BlockID
	var visit func(BlockID)
	visit = func(id BlockID) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, s := range f.Block(id).Successors() {
			visit(s)
		}
		order = append(order, id)
	}
	visit(f.Entry)
	// reverse in place
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// Global is a module-level variable: either a zero-initialized data region
// or one with an explicit byte initializer (string literals, aggregate
// initializers folded by the IR builder).
type Global struct {
	Name string
	Size int64
	Align int64
	Init []byte // nil means zero-initialized
}

// Module is an entire translation unit's IR: its functions and globals, in
// declaration order.
type Module struct {
	Functions []*Function
	Globals   []*Global
}

func (m *Module) String() string {
	var sb strings.Builder
	for _, fn := range m.Functions {
		fmt.Fprintf(&sb, "func %s {\n", fn.Name)
		for _, b := range fn.Blocks {
			fmt.Fprintf(&sb, "  b%d:\n", b.ID)
			for _, in := range b.Instrs {
				fmt.Fprintf(&sb, "    %s\n", in.String())
			}
		}
		sb.WriteString("}\n")
	}
	return sb.String()
}

func (i Instr) String() string {
	prefix := ""
	if i.Dest >= 0 && i.Tag != TagStore && i.Tag != TagStoreLocal && i.Tag != TagStoreGlobal &&
		i.Tag != TagJump && i.Tag != TagBranch && i.Tag != TagSwitch && i.Tag != TagReturn &&
		i.Tag != TagUnreachable && i.Tag != TagParallelMove {
		prefix = fmt.Sprintf("r%d = ", i.Dest)
	}
	switch i.Tag {
	case TagConst:
		return fmt.Sprintf("%sconst %v", prefix, i.IntVal)
	case TagParam:
		return fmt.Sprintf("%sparam %d", prefix, i.ParamIndex)
	case TagBinOp:
		return fmt.Sprintf("%s%s r%d, r%d", prefix, i.Op, i.Args[0], i.Args[1])
	case TagUnOp, TagConvert:
		return fmt.Sprintf("%s%s r%d", prefix, i.Op, i.Args[0])
	case TagLoadLocal:
		return fmt.Sprintf("%sload_local [%d]", prefix, i.Local)
	case TagStoreLocal:
		return fmt.Sprintf("store_local [%d] = r%d", i.Local, i.Args[0])
	case TagAddrLocal:
		return fmt.Sprintf("%saddr_local [%d]", prefix, i.Local)
	case TagCall:
		target := i.Callee
		if target == "" {
			target = fmt.Sprintf("r%d", i.CalleeFunc)
		}
		tail := ""
		if i.IsTail {
			tail = "tail"
		}
		return fmt.Sprintf("%s%scall %s(%v)", prefix, tail, target, i.CallArgs)
	case TagJump:
		return fmt.Sprintf("jump b%d", i.Targets[0])
	case TagBranch:
		return fmt.Sprintf("br r%d ? b%d : b%d", i.Cond, i.IfTrue, i.IfFalse)
	case TagSwitch:
		return fmt.Sprintf("switch r%d %v", i.Cond, i.Targets)
	case TagReturn:
		if len(i.Args) == 0 {
			return "return"
		}
		return fmt.Sprintf("return r%d", i.Args[0])
	case TagUnreachable:
		return "unreachable"
	case TagParallelMove:
		return fmt.Sprintf("move %v <- %v", i.MovDst, i.MovSrc)
	default:
		return fmt.Sprintf("<%d>", i.Tag)
	}
}
