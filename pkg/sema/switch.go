package sema

import (
	"github.com/cc2wasm/cc2wasm/pkg/ast"
	"github.com/cc2wasm/cc2wasm/pkg/ir"
)

// caseLabel is one `case N:` or `default:` boundary discovered by the
// pre-scan below, paired with the block its body lowers into.
type caseLabel struct {
	value   int64
	isDefault bool
	block   ir.BlockID
}

// flattenSwitchBody returns the switch's statement list regardless of
// whether the body is a brace-delimited block or (rare, but grammatically
// legal) a single statement.
func flattenSwitchBody(body ast.Stmt) []ast.Node {
	if blk, ok := body.(*ast.BlockStmt); ok {
		return blk.Items
	}
	return []ast.Node{body}
}

// lowerSwitch lowers to a jump-table switch when every case
// label is a dense run of integer constants, otherwise a cascade of
// equality comparisons; fallthrough between cases with no break is
// encoded as an explicit unconditional branch (see the case/default
// boundary handling in the body loop below).
func (b *Builder) lowerSwitch(st *ast.SwitchStmt) {
	tagReg, tagType := b.lowerExpr(st.Tag)
	items := flattenSwitchBody(st.Body)

	var labels []caseLabel
	for _, item := range items {
		switch n := item.(type) {
		case *ast.CaseStmt:
			v, _ := b.constantInt(n.Value)
			labels = append(labels, caseLabel{value: v, block: b.fn.NewBlock()})
		case *ast.DefaultStmt:
			labels = append(labels, caseLabel{isDefault: true, block: b.fn.NewBlock()})
		}
	}
	exitID := b.fn.NewBlock()

	var defaultBlock ir.BlockID = exitID
	hasDefault := false
	for _, l := range labels {
		if l.isDefault {
			defaultBlock = l.block
			hasDefault = true
		}
	}

	if dense, min, targets := denseSwitch(labels, defaultBlock); dense {
		idxReg := tagReg
		k := ir.KindForType(tagType)
		if k != ir.KindI32 {
			idxReg = b.toI32(tagReg, k)
		}
		if min != 0 {
			c := b.fn.NewReg(ir.KindI32)
			b.emit(ir.Instr{Tag: ir.TagConst, Dest: c, IntVal: min, Kind: ir.KindI32})
			sub := b.fn.NewReg(ir.KindI32)
			b.emit(ir.Instr{Tag: ir.TagBinOp, Dest: sub, Op: ir.OpSubI32, Args: []ir.Reg{idxReg, c}})
			idxReg = sub
		}
		b.terminate(ir.Instr{Tag: ir.TagSwitch, Dest: -1, Cond: idxReg, Targets: targets})
	} else {
		testBlock := b.cur
		k := ir.KindForType(tagType)
		eqOp := ir.OpEqI32
		switch k {
		case ir.KindI64:
			eqOp = ir.OpEqI64
		}
		for _, l := range labels {
			if l.isDefault {
				continue
			}
			b.cur = testBlock
			c := b.fn.NewReg(k)
			b.emit(ir.Instr{Tag: ir.TagConst, Dest: c, IntVal: l.value, Kind: k})
			cmp := b.fn.NewReg(ir.KindI32)
			b.emit(ir.Instr{Tag: ir.TagBinOp, Dest: cmp, Op: eqOp, Args: []ir.Reg{tagReg, c}})
			nextTest := b.fn.NewBlock()
			b.terminate(ir.Instr{Tag: ir.TagBranch, Dest: -1, Cond: cmp, IfTrue: l.block, IfFalse: nextTest})
			testBlock = nextTest
		}
		b.cur = testBlock
		b.terminate(ir.Instr{Tag: ir.TagJump, Dest: -1, Targets: []ir.BlockID{defaultBlock}})
	}

	b.pushSwitchFrame(exitID)
	b.cur = b.openBlock() // dispatch-only predecessor; unreachable body falls here, removed by DCE
	li := 0
	for _, item := range items {
		switch n := item.(type) {
		case *ast.CaseStmt, *ast.DefaultStmt:
			target := labels[li].block
			li++
			if !b.blockTerminated() {
				b.terminate(ir.Instr{Tag: ir.TagJump, Dest: -1, Targets: []ir.BlockID{target}})
			}
			b.cur = target
			_ = n
		default:
			if stmt, ok := item.(ast.Stmt); ok {
				b.lowerStmt(stmt)
			} else if d, ok := item.(ast.Decl); ok {
				b.lowerLocalDecl(d)
			}
		}
	}
	if !b.blockTerminated() {
		b.terminate(ir.Instr{Tag: ir.TagJump, Dest: -1, Targets: []ir.BlockID{exitID}})
	}
	b.popLoop()
	_ = hasDefault
	b.cur = exitID
}

// denseSwitch reports whether every non-default case value forms a
// contiguous run (the condition for a jump-table switch) and, if so, returns the run's minimum and the Targets slice
// (Targets[0] is the default per pkg/ir's TagSwitch convention).
func denseSwitch(labels []caseLabel, defaultBlock ir.BlockID) (bool, int64, []ir.BlockID) {
	var values []int64
	byValue := make(map[int64]ir.BlockID)
	for _, l := range labels {
		if l.isDefault {
			continue
		}
		values = append(values, l.value)
		byValue[l.value] = l.block
	}
	if len(values) == 0 {
		return false, 0, nil
	}
	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	span := max - min + 1
	if span != int64(len(values)) || span > 4096 {
		return false, 0, nil
	}
	targets := make([]ir.BlockID, span+1)
	targets[0] = defaultBlock
	for v, blk := range byValue {
		targets[v-min+1] = blk
	}
	return true, min, targets
}
