// Package opt implements the optimisation passes that run between IR
// construction (pkg/sema) and structured-control-flow lowering
// (pkg/stackify): dead-code elimination and liveness analysis. Stack-slot
// allocation and tail-call optimisation live in pkg/stackalloc and pkg/tco.
package opt

import "github.com/cc2wasm/cc2wasm/pkg/ir"

// hasSideEffect reports whether an instruction must be kept regardless of
// whether its Dest register is used: control transfers, memory writes, and
// calls (which may have externally visible effects even when their result
// is discarded).
func hasSideEffect(i *ir.Instr) bool {
	switch i.Tag {
	case ir.TagStore, ir.TagStoreLocal, ir.TagStoreGlobal, ir.TagCall,
		ir.TagJump, ir.TagBranch, ir.TagSwitch, ir.TagReturn, ir.TagUnreachable,
		ir.TagParallelMove:
		return true
	}
	return false
}

func usedRegs(i *ir.Instr) []ir.Reg {
	regs := append([]ir.Reg{}, i.Args...)
	regs = append(regs, i.CallArgs...)
	regs = append(regs, i.MovSrc...)
	if i.Tag == ir.TagBranch || i.Tag == ir.TagSwitch {
		regs = append(regs, i.Cond)
	}
	if i.Tag == ir.TagCall && i.Callee == "" {
		regs = append(regs, i.CalleeFunc)
	}
	return regs
}

// RemoveUnreachableBlocks drops every block not reachable from fn.Entry,
// renumbers the survivors, and calls fn.ComputeCFG so Preds are current
// on return.
func RemoveUnreachableBlocks(fn *ir.Function) {
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

	kept := make([]*ir.Block, 0, len(fn.Blocks))
	remap := make(map[ir.BlockID]ir.BlockID)
	for _, b := range fn.Blocks {
		if reachable[b.ID] {
			remap[b.ID] = ir.BlockID(len(kept))
			kept = append(kept, b)
		}
	}
	for _, b := range kept {
		b.ID = remap[b.ID]
		t := b.Terminator()
		if t == nil {
			continue
		}
		switch t.Tag {
		case ir.TagJump:
			t.Targets[0] = remap[t.Targets[0]]
		case ir.TagBranch:
			t.IfTrue = remap[t.IfTrue]
			t.IfFalse = remap[t.IfFalse]
		case ir.TagSwitch:
			for i, tgt := range t.Targets {
				t.Targets[i] = remap[tgt]
			}
		}
	}
	fn.Blocks = kept
	fn.Entry = remap[fn.Entry]
	fn.ComputeCFG()
}

// EliminateDeadInstructions removes pure instructions whose Dest register
// is never read anywhere in the function, iterating to a fixed point since
// removing one dead def can make its own operands' sole use disappear (the
// removal iterates to a fixed point).
func EliminateDeadInstructions(fn *ir.Function) {
	for {
		used := make(map[ir.Reg]bool)
		for _, b := range fn.Blocks {
			for i := range b.Instrs {
				for _, r := range usedRegs(&b.Instrs[i]) {
					used[r] = true
				}
			}
		}
		changed := false
		for _, b := range fn.Blocks {
			out := b.Instrs[:0]
			for i := range b.Instrs {
				in := b.Instrs[i]
				if !hasSideEffect(&in) && in.Dest >= 0 && !used[in.Dest] {
					changed = true
					continue
				}
				out = append(out, in)
			}
			b.Instrs = out
		}
		if !changed {
			return
		}
	}
}

// Run applies dead-code elimination to fn: unreachable-block removal
// followed by iterative dead-instruction removal.
func Run(fn *ir.Function) {
	RemoveUnreachableBlocks(fn)
	EliminateDeadInstructions(fn)
}
