// Package tco implements tail-call optimisation: rewriting a call in
// tail position so it reuses the current shadow-stack frame instead of
// growing it. Like pkg/opt's CFG-rewriting passes, it is a single forward
// scan per function, mutating ir.Function in place.
package tco

import "github.com/cc2wasm/cc2wasm/pkg/ir"

// Run finds every call in tail position in fn and marks it IsTail. A tail
// position is a TagCall instruction whose Dest is returned by the block's
// TagReturn terminator with no intervening instruction that uses Dest
// other than the return itself. A void call immediately followed by a
// bare `return` also qualifies.
//
// Self-tail-calls (Callee == fn.Name, direct, matching arity) are further
// rewritten in place: the call and return are replaced by stores of the
// call arguments into the parameters' Locals followed by an unconditional
// jump to the block just past the entry's param-init prefix (see
// splitEntryAfterParams), so the emitter never issues a
// Wasm `call` for them and the shadow stack never grows. Sibling tail
// calls (a different, or indirect, callee) are left as TagCall with
// IsTail set; the emitter is responsible for deallocating the caller's
// frame before issuing the Wasm `call` for those.
func Run(fn *ir.Function) {
	hasSelf := false
	for _, b := range fn.Blocks {
		tailCallIdx, _ := findTailCall(b)
		if tailCallIdx < 0 {
			continue
		}
		call := &b.Instrs[tailCallIdx]
		call.IsTail = true
		if call.Callee == fn.Name && len(call.CallArgs) == len(fn.Params) {
			hasSelf = true
		}
	}
	if !hasSelf {
		return
	}

	// Split before rewriting: a self-tail-call can sit in the entry block
	// itself, and the split moves it into the new body block, so every
	// rewrite below re-locates its call in the post-split CFG.
	bodyEntry := splitEntryAfterParams(fn)
	for _, b := range fn.Blocks {
		tailCallIdx, retIdx := findTailCall(b)
		if tailCallIdx < 0 {
			continue
		}
		call := &b.Instrs[tailCallIdx]
		if call.IsTail && call.Callee == fn.Name && len(call.CallArgs) == len(fn.Params) {
			rewriteSelfTailCall(fn, b, tailCallIdx, retIdx, bodyEntry)
		}
	}
}

// splitEntryAfterParams cuts the entry block in two just past its
// param-init prefix (the TagParam/TagStoreLocal pairs that copy incoming
// arguments into their slots) and returns the id of the new block holding
// the remainder. A rewritten self-tail-call must branch past that prefix:
// branching to the entry itself would re-run the TagParam loads, which
// read the caller-staged argument area and would overwrite the values the
// rewrite just stored.
func splitEntryAfterParams(fn *ir.Function) ir.BlockID {
	entry := fn.Block(fn.Entry)
	cut := 0
	for cut+1 < len(entry.Instrs) {
		p := &entry.Instrs[cut]
		s := &entry.Instrs[cut+1]
		if p.Tag != ir.TagParam || s.Tag != ir.TagStoreLocal || len(s.Args) != 1 || s.Args[0] != p.Dest {
			break
		}
		cut += 2
	}
	bodyID := fn.NewBlock()
	body := fn.Block(bodyID)
	body.Instrs = append(body.Instrs, entry.Instrs[cut:]...)
	entry.Instrs = append(entry.Instrs[:cut:cut], ir.Instr{Tag: ir.TagJump, Dest: -1, Targets: []ir.BlockID{bodyID}})
	fn.ComputeCFG()
	return bodyID
}

// findTailCall scans a block's instructions (which must already end in a
// TagReturn per the IR's CFG invariant, or not be a return block at all)
// for a TagCall whose result is exactly the value the block returns, with
// nothing but the call itself between the call and the return. It returns
// (-1, -1) if no tail call is present.
func findTailCall(b *ir.Block) (callIdx, retIdx int) {
	n := len(b.Instrs)
	if n == 0 {
		return -1, -1
	}
	ret := &b.Instrs[n-1]
	if ret.Tag != ir.TagReturn {
		return -1, -1
	}
	if len(ret.Args) == 0 {
		// A void return: a call immediately preceding it, whose result
		// (if any) is never used, is still in tail position.
		if n < 2 {
			return -1, -1
		}
		if b.Instrs[n-2].Tag == ir.TagCall {
			return n - 2, n - 1
		}
		return -1, -1
	}
	if n < 2 {
		return -1, -1
	}
	call := &b.Instrs[n-2]
	if call.Tag != ir.TagCall {
		return -1, -1
	}
	if ret.Args[0] != call.Dest {
		return -1, -1
	}
	return n - 2, n - 1
}

// rewriteSelfTailCall replaces `call` and the following `return` with a
// store of each (already-evaluated) call argument into the corresponding
// parameter's Local slot, followed by a jump to bodyEntry, the block just
// past the entry's param-init prefix.
// pkg/sema gives every parameter a stack Local (see its varBinding doc)
// and always fully evaluates a call's arguments into fresh registers
// before emitting the TagCall, so by the time this rewrite runs every
// CallArgs value is already materialized and independent of the other
// parameter slots' current contents: storing them in any order, including
// straight index order, cannot clobber a source another store still
// needs to read: the parallel-move safety falls out of the IR's
// evaluate-then-store discipline rather than needing an explicit
// simultaneous-assignment primitive.
func rewriteSelfTailCall(fn *ir.Function, b *ir.Block, callIdx, retIdx int, bodyEntry ir.BlockID) {
	paramStores := entryParamStores(fn)
	if paramStores == nil {
		return
	}
	call := b.Instrs[callIdx]
	replacement := make([]ir.Instr, 0, len(call.CallArgs)+1)
	for i, arg := range call.CallArgs {
		st := paramStores[i] // clone the entry's store shape (slot, width, signedness)
		st.Args = []ir.Reg{arg}
		st.P = call.P
		replacement = append(replacement, st)
	}
	replacement = append(replacement, ir.Instr{Tag: ir.TagJump, Dest: -1, Targets: []ir.BlockID{bodyEntry}, P: call.P})
	b.Instrs = append(b.Instrs[:callIdx], replacement...)
	fn.ComputeCFG()
}

// entryParamStores finds the store that binds each parameter to its slot,
// recovered from the entry block's prologue pattern: a TagParam followed
// immediately by a TagStoreLocal of that same register (see
// pkg/sema.Builder.lowerParamInit). Returns nil if fewer than all
// parameters follow that exact shape, in which case the self-tail-call
// rewrite is skipped and the call is left as an ordinary (IsTail-marked)
// sibling-style call.
func entryParamStores(fn *ir.Function) []ir.Instr {
	entry := fn.Block(fn.Entry)
	stores := make([]ir.Instr, len(fn.Params))
	found := 0
	for i := 0; i+1 < len(entry.Instrs); i++ {
		p := &entry.Instrs[i]
		if p.Tag != ir.TagParam || p.ParamIndex < 0 || p.ParamIndex >= len(stores) {
			continue
		}
		s := &entry.Instrs[i+1]
		if s.Tag != ir.TagStoreLocal || len(s.Args) != 1 || s.Args[0] != p.Dest {
			continue
		}
		stores[p.ParamIndex] = *s
		found++
	}
	if found != len(fn.Params) {
		return nil
	}
	return stores
}
