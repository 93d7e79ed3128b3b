package wasm

import (
	"math"

	"github.com/cc2wasm/cc2wasm/pkg/diag"
	"github.com/cc2wasm/cc2wasm/pkg/ir"
	"github.com/cc2wasm/cc2wasm/pkg/stackify"
)

// Shadow-stack cells at fixed low addresses of linear memory. The frame
// pointer and stack pointer live in memory, not in Wasm globals, so the
// host runtime can read and stage them directly.
const (
	FramePtrAddr     = 0
	TempFramePtrAddr = 4
	StackPtrAddr     = 8
)

// retSlotSize is the width of the return-value slot at FP+0. Every frame
// reserves it, wide enough for the largest scalar return type.
const retSlotSize = 8

func valType(k ir.Kind) byte {
	switch k {
	case ir.KindI64:
		return valI64
	case ir.KindF32:
		return valF32
	case ir.KindF64:
		return valF64
	default:
		return valI32
	}
}

func kindSize(k ir.Kind) int64 {
	switch k {
	case ir.KindI64, ir.KindF64:
		return 8
	default:
		return 4
	}
}

func alignUp(n, align int64) int64 {
	return (n + align - 1) / align * align
}

// paramOffsets lays out one value per kind at its natural alignment,
// starting just above the return-value slot, and returns the per-value
// frame offsets plus the total packed extent (including the return slot).
// The same walk serves the callee reading its fixed parameters and the
// caller staging arguments, fixed and variadic alike.
func paramOffsets(kinds []ir.Kind) ([]int64, int64) {
	offs := make([]int64, len(kinds))
	cur := int64(retSlotSize)
	for i, k := range kinds {
		sz := kindSize(k)
		cur = alignUp(cur, sz)
		offs[i] = cur
		cur += sz
	}
	return offs, cur
}

// funcEmitter lowers one ir.Function to its code-section body.
type funcEmitter struct {
	m  *moduleEmitter
	fn *ir.Function

	paramOff  []int64
	localOff  map[int]int64 // absolute frame offset per Locals index
	frameSize int64

	regLocal []uint32 // Wasm local index per virtual register
	oldFP    uint32   // caller's FP, restored by the epilogue
	calleeFP uint32   // scratch frame base while staging call arguments
	selLocal uint32   // dispatch-loop block selector

	code   []byte
	labels []stackify.Label // enclosing scopes, innermost last
	err    *diag.Error
}

func newFuncEmitter(m *moduleEmitter, fn *ir.Function) *funcEmitter {
	e := &funcEmitter{m: m, fn: fn, localOff: make(map[int]int64)}

	kinds := make([]ir.Kind, len(fn.Params))
	for i, p := range fn.Params {
		kinds[i] = p.Kind
	}
	var paramExtent int64
	e.paramOff, paramExtent = paramOffsets(kinds)

	frame := m.frames[fn.Name]
	localBase := alignUp(paramExtent, 8)
	for local, off := range frame.Offsets {
		e.localOff[local] = localBase + off
	}
	e.frameSize = alignUp(localBase+frame.Size, 8)

	e.regLocal = make([]uint32, len(fn.RegKinds))
	for i := range fn.RegKinds {
		e.regLocal[i] = uint32(i)
	}
	n := uint32(len(fn.RegKinds))
	e.oldFP, e.calleeFP, e.selLocal = n, n+1, n+2
	return e
}

func (e *funcEmitter) fail(format string, args ...any) {
	if e.err == nil {
		e.err = diag.Emitf(e.fn.Name, format, args...)
	}
}

func (e *funcEmitter) op(b byte)        { e.code = append(e.code, b) }
func (e *funcEmitter) u32(v uint32)     { e.code = appendUleb128(e.code, uint64(v)) }
func (e *funcEmitter) i32Const(v int64) { e.op(opI32Const); e.code = appendSleb128(e.code, int64(int32(v))) }

func (e *funcEmitter) localGet(idx uint32) { e.op(opLocalGet); e.u32(idx) }
func (e *funcEmitter) localSet(idx uint32) { e.op(opLocalSet); e.u32(idx) }
func (e *funcEmitter) getReg(r ir.Reg)     { e.localGet(e.regLocal[r]) }
func (e *funcEmitter) setReg(r ir.Reg)     { e.localSet(e.regLocal[r]) }

// memArg appends the alignment-hint and offset immediates of a load/store.
func (e *funcEmitter) memArg(width, offset int64) {
	align := uint32(0)
	switch width {
	case 2:
		align = 1
	case 4:
		align = 2
	case 8:
		align = 3
	}
	e.u32(align)
	e.code = appendUleb128(e.code, uint64(offset))
}

// loadCell pushes the value of one shadow-stack pointer cell.
func (e *funcEmitter) loadCell(addr int64) {
	e.i32Const(0)
	e.op(opI32Load)
	e.memArg(4, addr)
}

// emitLoad emits the load opcode for a (kind, width, signed) access; the
// address must already be on the operand stack.
func (e *funcEmitter) emitLoad(k ir.Kind, width int64, signed bool, offset int64) {
	switch {
	case k == ir.KindI32 && width == 1 && signed:
		e.op(opI32Load8S)
	case k == ir.KindI32 && width == 1:
		e.op(opI32Load8U)
	case k == ir.KindI32 && width == 2 && signed:
		e.op(opI32Load16S)
	case k == ir.KindI32 && width == 2:
		e.op(opI32Load16U)
	case k == ir.KindI32:
		e.op(opI32Load)
	case k == ir.KindI64:
		e.op(opI64Load)
	case k == ir.KindF32:
		e.op(opF32Load)
	case k == ir.KindF64:
		e.op(opF64Load)
	}
	e.memArg(width, offset)
}

// emitStore emits the store opcode for a (kind, width) access; address and
// value must already be on the operand stack.
func (e *funcEmitter) emitStore(k ir.Kind, width int64, offset int64) {
	switch {
	case k == ir.KindI32 && width == 1:
		e.op(opI32Store8)
	case k == ir.KindI32 && width == 2:
		e.op(opI32Store16)
	case k == ir.KindI32:
		e.op(opI32Store)
	case k == ir.KindI64:
		e.op(opI64Store)
	case k == ir.KindF32:
		e.op(opF32Store)
	case k == ir.KindF64:
		e.op(opF64Store)
	}
	e.memArg(width, offset)
}

// accessWidth defaults a zero Width (older IR producers leave it unset for
// full-width accesses) to the kind's natural size.
func accessWidth(in *ir.Instr) int64 {
	if in.Width > 0 {
		return in.Width
	}
	return kindSize(in.MemKind)
}

// prologue saves the caller's FP through the temp cell, repoints FP at SP,
// and bumps SP past this function's frame.
func (e *funcEmitter) prologue() {
	// temp = FP
	e.i32Const(0)
	e.loadCell(FramePtrAddr)
	e.op(opI32Store)
	e.memArg(4, TempFramePtrAddr)
	// FP = SP
	e.i32Const(0)
	e.loadCell(StackPtrAddr)
	e.op(opI32Store)
	e.memArg(4, FramePtrAddr)
	// SP += frameSize
	e.i32Const(0)
	e.loadCell(StackPtrAddr)
	e.i32Const(e.frameSize)
	e.op(opI32Add)
	e.op(opI32Store)
	e.memArg(4, StackPtrAddr)
	// oldFP = temp
	e.loadCell(TempFramePtrAddr)
	e.localSet(e.oldFP)
}

// epilogue pops this function's frame: SP back to FP, FP back to the
// caller's saved value.
func (e *funcEmitter) epilogue() {
	e.i32Const(0)
	e.loadCell(FramePtrAddr)
	e.op(opI32Store)
	e.memArg(4, StackPtrAddr)
	e.i32Const(0)
	e.localGet(e.oldFP)
	e.op(opI32Store)
	e.memArg(4, FramePtrAddr)
}

func (e *funcEmitter) emitReturn(in *ir.Instr) {
	if len(in.Args) > 0 {
		r := in.Args[0]
		k := e.fn.RegKinds[r]
		e.loadCell(FramePtrAddr)
		e.getReg(r)
		e.emitStore(k, kindSize(k), 0)
	}
	e.epilogue()
	e.op(opReturn)
}

// stageCall writes the call's arguments into the frame the callee is about
// to claim (the memory at the current SP) and issues the call itself.
func (e *funcEmitter) stageCall(in *ir.Instr) {
	e.loadCell(StackPtrAddr)
	e.localSet(e.calleeFP)
	kinds := make([]ir.Kind, len(in.CallArgs))
	for i, a := range in.CallArgs {
		kinds[i] = e.fn.RegKinds[a]
	}
	offs, _ := paramOffsets(kinds)
	for i, a := range in.CallArgs {
		e.localGet(e.calleeFP)
		e.getReg(a)
		k := kinds[i]
		e.emitStore(k, kindSize(k), offs[i])
	}
	if in.Callee != "" {
		idx, ok := e.m.funcIndex[in.Callee]
		if !ok {
			e.fail("call to unknown function %q", in.Callee)
			return
		}
		e.op(opCall)
		e.u32(idx)
	} else {
		e.getReg(in.CalleeFunc)
		e.op(opCallIndirect)
		e.u32(0) // the module's single ()->() type
		e.op(0x00)
	}
}

func (e *funcEmitter) emitCall(in *ir.Instr) {
	e.stageCall(in)
	if in.Dest >= 0 {
		k := e.fn.RegKinds[in.Dest]
		e.localGet(e.calleeFP)
		e.emitLoad(k, kindSize(k), false, 0)
		e.setReg(in.Dest)
	}
}

// emitTailCall pops the current frame first, so the callee's frame lands
// exactly where this function's frame was and its return-value slot is the
// one this function's caller will read. The Wasm call stack still grows by
// one; only the shadow stack stays flat.
func (e *funcEmitter) emitTailCall(in *ir.Instr) {
	e.epilogue()
	e.stageCall(in)
	e.op(opReturn)
}

// lowerInstr emits one non-terminator instruction.
func (e *funcEmitter) lowerInstr(in *ir.Instr) {
	switch in.Tag {
	case ir.TagConst:
		switch in.Kind {
		case ir.KindI64:
			e.op(opI64Const)
			e.code = appendSleb128(e.code, in.IntVal)
		case ir.KindF32:
			e.op(opF32Const)
			bits := math.Float32bits(float32(in.FloatVal))
			e.code = append(e.code, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
		case ir.KindF64:
			e.op(opF64Const)
			bits := math.Float64bits(in.FloatVal)
			for i := 0; i < 8; i++ {
				e.code = append(e.code, byte(bits>>(8*i)))
			}
		default:
			e.i32Const(in.IntVal)
		}
		e.setReg(in.Dest)

	case ir.TagParam:
		if in.ParamIndex < 0 || in.ParamIndex >= len(e.paramOff) {
			e.fail("parameter index %d out of range", in.ParamIndex)
			return
		}
		k := e.fn.Params[in.ParamIndex].Kind
		e.loadCell(FramePtrAddr)
		e.emitLoad(k, kindSize(k), false, e.paramOff[in.ParamIndex])
		e.setReg(in.Dest)

	case ir.TagBinOp:
		e.getReg(in.Args[0])
		e.getReg(in.Args[1])
		e.emitOp(in.Op)
		e.setReg(in.Dest)

	case ir.TagUnOp, ir.TagConvert:
		e.lowerUnary(in)

	case ir.TagLoadLocal:
		off, ok := e.localOff[in.Local]
		if !ok {
			e.fail("local %d has no frame slot", in.Local)
			return
		}
		e.loadCell(FramePtrAddr)
		e.emitLoad(in.MemKind, accessWidth(in), in.Signed, off)
		e.setReg(in.Dest)

	case ir.TagStoreLocal:
		off, ok := e.localOff[in.Local]
		if !ok {
			e.fail("local %d has no frame slot", in.Local)
			return
		}
		e.loadCell(FramePtrAddr)
		e.getReg(in.Args[0])
		e.emitStore(in.MemKind, accessWidth(in), off)

	case ir.TagAddrLocal:
		off, ok := e.localOff[in.Local]
		if !ok {
			e.fail("local %d has no frame slot", in.Local)
			return
		}
		e.loadCell(FramePtrAddr)
		e.i32Const(off)
		e.op(opI32Add)
		e.setReg(in.Dest)

	case ir.TagLoadGlobal:
		addr, ok := e.m.globalAddr[in.Global]
		if !ok {
			e.fail("load of unknown global %q", in.Global)
			return
		}
		e.i32Const(addr)
		e.emitLoad(in.MemKind, accessWidth(in), in.Signed, 0)
		e.setReg(in.Dest)

	case ir.TagStoreGlobal:
		addr, ok := e.m.globalAddr[in.Global]
		if !ok {
			e.fail("store to unknown global %q", in.Global)
			return
		}
		e.i32Const(addr)
		e.getReg(in.Args[0])
		e.emitStore(in.MemKind, accessWidth(in), 0)

	case ir.TagAddrGlobal:
		if idx, ok := e.m.tableIndex[in.Global]; ok {
			e.i32Const(int64(idx))
		} else if addr, ok := e.m.globalAddr[in.Global]; ok {
			e.i32Const(addr)
		} else {
			e.fail("address of unknown global %q", in.Global)
			return
		}
		e.setReg(in.Dest)

	case ir.TagLoad:
		e.getReg(in.Args[0])
		e.emitLoad(in.MemKind, accessWidth(in), in.Signed, 0)
		e.setReg(in.Dest)

	case ir.TagStore:
		e.getReg(in.Args[0])
		e.getReg(in.Args[1])
		e.emitStore(in.MemKind, accessWidth(in), 0)

	case ir.TagCall:
		e.emitCall(in)

	case ir.TagParallelMove:
		// Push every source, then pop into destinations in reverse: the
		// operand stack itself is the temporary that makes the move
		// simultaneous.
		for _, s := range in.MovSrc {
			e.getReg(s)
		}
		for i := len(in.MovDst) - 1; i >= 0; i-- {
			e.setReg(in.MovDst[i])
		}

	default:
		e.fail("instruction %v has no lowering", in.Tag)
	}
}

func (e *funcEmitter) lowerUnary(in *ir.Instr) {
	a := in.Args[0]
	switch in.Op {
	case ir.OpNegI32:
		e.i32Const(0)
		e.getReg(a)
		e.op(opI32Sub)
	case ir.OpNegI64:
		e.op(opI64Const)
		e.code = appendSleb128(e.code, 0)
		e.getReg(a)
		e.op(opI64Sub)
	case ir.OpNegF32:
		e.getReg(a)
		e.op(opF32Neg)
	case ir.OpNegF64:
		e.getReg(a)
		e.op(opF64Neg)
	case ir.OpNotI32:
		e.getReg(a)
		e.i32Const(-1)
		e.op(opI32Xor)
	case ir.OpI32Extend8S:
		// Wasm 1.0 predates the sign-extension opcodes; shift up and back.
		e.getReg(a)
		e.i32Const(24)
		e.op(opI32Shl)
		e.i32Const(24)
		e.op(opI32ShrS)
	case ir.OpI32Extend16S:
		e.getReg(a)
		e.i32Const(16)
		e.op(opI32Shl)
		e.i32Const(16)
		e.op(opI32ShrS)
	default:
		e.getReg(a)
		e.emitOp(in.Op)
	}
	e.setReg(in.Dest)
}

var opTable = map[ir.Op]byte{
	ir.OpAddI32: opI32Add, ir.OpSubI32: opI32Sub, ir.OpMulI32: opI32Mul,
	ir.OpDivSI32: opI32DivS, ir.OpDivUI32: opI32DivU,
	ir.OpRemSI32: opI32RemS, ir.OpRemUI32: opI32RemU,
	ir.OpAndI32: opI32And, ir.OpOrI32: opI32Or, ir.OpXorI32: opI32Xor,
	ir.OpShlI32: opI32Shl, ir.OpShrSI32: opI32ShrS, ir.OpShrUI32: opI32ShrU,
	ir.OpEqI32: opI32Eq, ir.OpNeI32: opI32Ne,
	ir.OpLtSI32: opI32LtS, ir.OpLeSI32: opI32LeS, ir.OpGtSI32: opI32GtS, ir.OpGeSI32: opI32GeS,
	ir.OpLtUI32: opI32LtU, ir.OpLeUI32: opI32LeU, ir.OpGtUI32: opI32GtU, ir.OpGeUI32: opI32GeU,

	ir.OpAddI64: opI64Add, ir.OpSubI64: opI64Sub, ir.OpMulI64: opI64Mul,
	ir.OpDivSI64: opI64DivS, ir.OpDivUI64: opI64DivU,
	ir.OpRemSI64: opI64RemS, ir.OpRemUI64: opI64RemU,
	ir.OpAndI64: opI64And, ir.OpOrI64: opI64Or, ir.OpXorI64: opI64Xor,
	ir.OpShlI64: opI64Shl, ir.OpShrSI64: opI64ShrS, ir.OpShrUI64: opI64ShrU,
	ir.OpEqI64: opI64Eq, ir.OpNeI64: opI64Ne,
	ir.OpLtSI64: opI64LtS, ir.OpLeSI64: opI64LeS, ir.OpGtSI64: opI64GtS, ir.OpGeSI64: opI64GeS,

	ir.OpAddF32: opF32Add, ir.OpSubF32: opF32Sub, ir.OpMulF32: opF32Mul, ir.OpDivF32: opF32Div,
	ir.OpEqF32: opF32Eq, ir.OpNeF32: opF32Ne,
	ir.OpLtF32: opF32Lt, ir.OpLeF32: opF32Le, ir.OpGtF32: opF32Gt, ir.OpGeF32: opF32Ge,

	ir.OpAddF64: opF64Add, ir.OpSubF64: opF64Sub, ir.OpMulF64: opF64Mul, ir.OpDivF64: opF64Div,
	ir.OpEqF64: opF64Eq, ir.OpNeF64: opF64Ne,
	ir.OpLtF64: opF64Lt, ir.OpLeF64: opF64Le, ir.OpGtF64: opF64Gt, ir.OpGeF64: opF64Ge,

	ir.OpI32ExtendToI64S: opI64ExtendI32S, ir.OpI32ExtendToI64U: opI64ExtendI32U,
	ir.OpI64WrapToI32: opI32WrapI64,
	ir.OpI32TruncToF32S: opI32TruncF32S, ir.OpI32TruncToF64S: opI32TruncF64S,
	ir.OpF32ConvertFromI32S: opF32ConvertI32S, ir.OpF64ConvertFromI32S: opF64ConvertI32S,
	ir.OpF32DemoteFromF64: opF32DemoteF64, ir.OpF64PromoteFromF32: opF64PromoteF32,
}

func (e *funcEmitter) emitOp(op ir.Op) {
	b, ok := opTable[op]
	if !ok {
		e.fail("opcode %v has no Wasm encoding", op)
		return
	}
	e.op(b)
}

// branchDepth resolves a scope label to its relative br depth from the
// current nesting.
func (e *funcEmitter) branchDepth(lbl stackify.Label) uint32 {
	for i := len(e.labels) - 1; i >= 0; i-- {
		if e.labels[i] == lbl {
			return uint32(len(e.labels) - 1 - i)
		}
	}
	e.fail("branch to label %d escapes its scope", lbl)
	return 0
}

// lowerBlockBody emits a basic block's instructions. Jump/Branch/Switch
// terminators are rendered by the caller from the stackifier's Branch
// translation; Return and Unreachable are rendered here since their
// lowering does not involve scope labels. A tail call fuses with the
// Return that follows it.
func (e *funcEmitter) lowerBlockBody(id ir.BlockID) {
	instrs := e.fn.Block(id).Instrs
	for i := range instrs {
		in := &instrs[i]
		switch in.Tag {
		case ir.TagJump, ir.TagBranch, ir.TagSwitch:
			return
		case ir.TagReturn:
			e.emitReturn(in)
			return
		case ir.TagUnreachable:
			e.op(opUnreachable)
			return
		case ir.TagCall:
			if in.IsTail && i+1 < len(instrs) && instrs[i+1].Tag == ir.TagReturn {
				e.emitTailCall(in)
				return
			}
			e.lowerInstr(in)
		default:
			e.lowerInstr(in)
		}
	}
}

// renderRegion walks the stackifier's structured tree, emitting nested
// block/loop scopes and resolving every Branch to a relative depth.
func (e *funcEmitter) renderRegion(r stackify.Region) {
	switch reg := r.(type) {
	case stackify.Seq:
		for _, item := range reg.Items {
			e.renderRegion(item)
		}
	case stackify.Scoped:
		if reg.Kind == stackify.KindLoopScope {
			e.op(opLoop)
		} else {
			e.op(opBlock)
		}
		e.op(blockVoid)
		e.labels = append(e.labels, reg.Label)
		e.renderRegion(reg.Body)
		e.labels = e.labels[:len(e.labels)-1]
		e.op(opEnd)
	case stackify.BasicBlock:
		e.lowerBlockBody(reg.ID)
		e.renderBranch(reg.Br)
	}
}

func (e *funcEmitter) renderBranch(br stackify.Branch) {
	switch {
	case br.IsTable:
		e.getReg(br.Cond)
		e.op(opBrTable)
		e.u32(uint32(len(br.Targets) - 1))
		for _, t := range br.Targets[1:] {
			e.u32(e.branchDepth(t))
		}
		e.u32(e.branchDepth(br.Targets[0]))
	case br.IsCond:
		trueL, falseL := br.Targets[0], br.Targets[1]
		switch {
		case trueL == stackify.NoBranch && falseL == stackify.NoBranch:
			// Both edges fall through; nothing to emit.
		case falseL == stackify.NoBranch:
			e.getReg(br.Cond)
			e.op(opBrIf)
			e.u32(e.branchDepth(trueL))
		case trueL == stackify.NoBranch:
			e.getReg(br.Cond)
			e.op(opI32Eqz)
			e.op(opBrIf)
			e.u32(e.branchDepth(falseL))
		default:
			e.getReg(br.Cond)
			e.op(opBrIf)
			e.u32(e.branchDepth(trueL))
			e.op(opBr)
			e.u32(e.branchDepth(falseL))
		}
	case len(br.Targets) == 1:
		if br.Targets[0] != stackify.NoBranch {
			e.op(opBr)
			e.u32(e.branchDepth(br.Targets[0]))
		}
	}
}

// renderDispatchLoop emits the fallback encoding for irreducible CFGs: one
// loop whose body dispatches on a block-selector local via br_table, with
// every original block as one case.
func (e *funcEmitter) renderDispatchLoop(dl *stackify.DispatchLoop) {
	n := len(dl.Blocks)
	if n == 0 {
		return
	}
	e.i32Const(int64(dl.BlockCase[e.fn.Entry]))
	e.localSet(e.selLocal)
	e.op(opLoop)
	e.op(blockVoid)
	for i := 0; i < n; i++ {
		e.op(opBlock)
		e.op(blockVoid)
	}
	e.localGet(e.selLocal)
	e.op(opBrTable)
	e.u32(uint32(n))
	for i := 0; i < n; i++ {
		e.u32(uint32(i))
	}
	e.u32(uint32(n - 1))
	for i, id := range dl.Blocks {
		e.op(opEnd)
		loopDepth := uint32(n - 1 - i)
		e.lowerBlockBody(id)
		e.renderDispatchTerminator(id, dl, loopDepth)
	}
	e.op(opEnd)
}

// renderDispatchTerminator translates a block's Jump/Branch/Switch into
// "set selector, continue the dispatch loop". Return and Unreachable were
// already rendered by lowerBlockBody.
func (e *funcEmitter) renderDispatchTerminator(id ir.BlockID, dl *stackify.DispatchLoop, loopDepth uint32) {
	t := e.fn.Block(id).Terminator()
	if t == nil {
		e.op(opUnreachable)
		return
	}
	caseOf := func(b ir.BlockID) int64 { return int64(dl.BlockCase[b]) }
	switch t.Tag {
	case ir.TagJump:
		e.i32Const(caseOf(t.Targets[0]))
		e.localSet(e.selLocal)
		e.op(opBr)
		e.u32(loopDepth)
	case ir.TagBranch:
		e.i32Const(caseOf(t.IfTrue))
		e.i32Const(caseOf(t.IfFalse))
		e.getReg(t.Cond)
		e.op(opSelect)
		e.localSet(e.selLocal)
		e.op(opBr)
		e.u32(loopDepth)
	case ir.TagSwitch:
		// selector = default, then refine case by case.
		e.i32Const(caseOf(t.Targets[0]))
		e.localSet(e.selLocal)
		for i, tgt := range t.Targets[1:] {
			e.i32Const(caseOf(tgt))
			e.localGet(e.selLocal)
			e.getReg(t.Cond)
			e.i32Const(int64(i))
			e.op(opI32Eq)
			e.op(opSelect)
			e.localSet(e.selLocal)
		}
		e.op(opBr)
		e.u32(loopDepth)
	}
}

// emitBody produces the complete code-section entry body for the function:
// local declarations, prologue, structured (or dispatch-loop) control
// flow, and the closing end opcode.
func (e *funcEmitter) emitBody() ([]byte, *diag.Error) {
	sf := stackify.Build(e.fn)

	e.prologue()
	if sf.Irreducible {
		e.renderDispatchLoop(sf.DispatchLoop)
	} else {
		e.renderRegion(sf.Root)
	}
	e.op(opEnd)
	if e.err != nil {
		return nil, e.err
	}

	// Local declarations: one local per virtual register, in allocation
	// order, plus the three i32 scratch locals, compressed into
	// (count, type) runs.
	types := make([]byte, 0, len(e.fn.RegKinds)+3)
	for _, k := range e.fn.RegKinds {
		types = append(types, valType(k))
	}
	types = append(types, valI32, valI32, valI32)
	var runs [][2]uint64
	for _, t := range types {
		if len(runs) > 0 && runs[len(runs)-1][1] == uint64(t) {
			runs[len(runs)-1][0]++
			continue
		}
		runs = append(runs, [2]uint64{1, uint64(t)})
	}
	var body []byte
	body = appendUleb128(body, uint64(len(runs)))
	for _, r := range runs {
		body = appendUleb128(body, r[0])
		body = append(body, byte(r[1]))
	}
	body = append(body, e.code...)
	return body, nil
}
