package opt

import "github.com/cc2wasm/cc2wasm/pkg/ir"

// RegSet is a set of virtual registers.
type RegSet map[ir.Reg]struct{}

func newRegSet() RegSet { return make(RegSet) }

func (s RegSet) Add(r ir.Reg)      { s[r] = struct{}{} }
func (s RegSet) Contains(r ir.Reg) bool {
	_, ok := s[r]
	return ok
}
func (s RegSet) Union(o RegSet) RegSet {
	out := newRegSet()
	for r := range s {
		out.Add(r)
	}
	for r := range o {
		out.Add(r)
	}
	return out
}
func (s RegSet) Equal(o RegSet) bool {
	if len(s) != len(o) {
		return false
	}
	for r := range s {
		if !o.Contains(r) {
			return false
		}
	}
	return true
}

// LocalSet is a set of stack-resident Local indices, the second domain
// the liveness analysis runs over: memory-backed locals are read and
// written through TagLoadLocal/TagStoreLocal rather than register defs,
// so their lifetimes need the same backward dataflow in their own sets.
type LocalSet map[int]struct{}

func newLocalSet() LocalSet { return make(LocalSet) }

func (s LocalSet) Add(l int)           { s[l] = struct{}{} }
func (s LocalSet) Contains(l int) bool {
	_, ok := s[l]
	return ok
}
func (s LocalSet) Union(o LocalSet) LocalSet {
	out := newLocalSet()
	for l := range s {
		out.Add(l)
	}
	for l := range o {
		out.Add(l)
	}
	return out
}
func (s LocalSet) Equal(o LocalSet) bool {
	if len(s) != len(o) {
		return false
	}
	for l := range s {
		if !o.Contains(l) {
			return false
		}
	}
	return true
}

// LivenessInfo is the result of backward liveness analysis over a
// Function's basic blocks, computed at block granularity: stack-slot
// packing needs live intervals over the block linearisation, not
// per-instruction precision. Registers and stack-resident Locals are
// analysed side by side in the same fixed point; the Local sets are what
// pkg/stackalloc packs frame slots from.
type LivenessInfo struct {
	Def     map[ir.BlockID]RegSet
	Use     map[ir.BlockID]RegSet
	LiveIn  map[ir.BlockID]RegSet
	LiveOut map[ir.BlockID]RegSet

	LocalDef     map[ir.BlockID]LocalSet
	LocalUse     map[ir.BlockID]LocalSet
	LocalLiveIn  map[ir.BlockID]LocalSet
	LocalLiveOut map[ir.BlockID]LocalSet
}

// blockDefUse computes a block's Def and Use sets: Use is every register
// read before being (re)defined within the block, Def is every register
// assigned anywhere in the block.
func blockDefUse(b *ir.Block) (def, use RegSet) {
	def, use = newRegSet(), newRegSet()
	for i := range b.Instrs {
		in := &b.Instrs[i]
		for _, r := range usedRegs(in) {
			if !def.Contains(r) {
				use.Add(r)
			}
		}
		if in.Dest >= 0 {
			def.Add(in.Dest)
		}
		for _, r := range in.MovDst {
			def.Add(r)
		}
	}
	return def, use
}

// blockLocalDefUse is blockDefUse over the Local domain: TagStoreLocal
// defines a Local, TagLoadLocal and TagAddrLocal use it. (An address
// escape additionally pins the Local for the whole function, but that is
// the slot packer's concern, not the dataflow's.)
func blockLocalDefUse(b *ir.Block) (def, use LocalSet) {
	def, use = newLocalSet(), newLocalSet()
	for i := range b.Instrs {
		in := &b.Instrs[i]
		switch in.Tag {
		case ir.TagLoadLocal, ir.TagAddrLocal:
			if !def.Contains(in.Local) {
				use.Add(in.Local)
			}
		case ir.TagStoreLocal:
			def.Add(in.Local)
		}
	}
	return def, use
}

// AnalyzeLiveness computes block-level LiveIn/LiveOut sets via the
// standard backward dataflow fixed point: LiveOut[b] = union of
// LiveIn[succ], LiveIn[b] = Use[b] U (LiveOut[b] - Def[b]), applied to
// registers and stack-resident Locals in the same iteration. fn.ComputeCFG
// must have been called so block Preds/Successors are current.
func AnalyzeLiveness(fn *ir.Function) *LivenessInfo {
	info := &LivenessInfo{
		Def:     make(map[ir.BlockID]RegSet),
		Use:     make(map[ir.BlockID]RegSet),
		LiveIn:  make(map[ir.BlockID]RegSet),
		LiveOut: make(map[ir.BlockID]RegSet),

		LocalDef:     make(map[ir.BlockID]LocalSet),
		LocalUse:     make(map[ir.BlockID]LocalSet),
		LocalLiveIn:  make(map[ir.BlockID]LocalSet),
		LocalLiveOut: make(map[ir.BlockID]LocalSet),
	}
	order := fn.ReversePostorder()
	for _, id := range order {
		def, use := blockDefUse(fn.Block(id))
		info.Def[id] = def
		info.Use[id] = use
		info.LiveIn[id] = newRegSet()
		info.LiveOut[id] = newRegSet()

		ldef, luse := blockLocalDefUse(fn.Block(id))
		info.LocalDef[id] = ldef
		info.LocalUse[id] = luse
		info.LocalLiveIn[id] = newLocalSet()
		info.LocalLiveOut[id] = newLocalSet()
	}
	for {
		changed := false
		for i := len(order) - 1; i >= 0; i-- {
			id := order[i]
			liveOut := newRegSet()
			localOut := newLocalSet()
			for _, s := range fn.Block(id).Successors() {
				liveOut = liveOut.Union(info.LiveIn[s])
				localOut = localOut.Union(info.LocalLiveIn[s])
			}
			liveIn := newRegSet()
			for r := range info.Use[id] {
				liveIn.Add(r)
			}
			for r := range liveOut {
				if !info.Def[id].Contains(r) {
					liveIn.Add(r)
				}
			}
			localIn := newLocalSet()
			for l := range info.LocalUse[id] {
				localIn.Add(l)
			}
			for l := range localOut {
				if !info.LocalDef[id].Contains(l) {
					localIn.Add(l)
				}
			}
			if !liveIn.Equal(info.LiveIn[id]) || !liveOut.Equal(info.LiveOut[id]) ||
				!localIn.Equal(info.LocalLiveIn[id]) || !localOut.Equal(info.LocalLiveOut[id]) {
				changed = true
			}
			info.LiveIn[id] = liveIn
			info.LiveOut[id] = liveOut
			info.LocalLiveIn[id] = localIn
			info.LocalLiveOut[id] = localOut
		}
		if !changed {
			break
		}
	}
	return info
}

// Interval is a register's live range expressed over block indices in
// reverse-postorder, the linearisation the stack-slot packer sorts by.
type Interval struct {
	Reg   ir.Reg
	Start int
	End   int
}

// ComputeIntervals derives one Interval per register that is live at any
// point, spanning from the reverse-postorder index of the block it is
// first defined or live-in at, to the index of the last block it is
// live-in or live-out of.
func ComputeIntervals(fn *ir.Function, info *LivenessInfo) []Interval {
	order := fn.ReversePostorder()
	pos := make(map[ir.BlockID]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	ranges := make(map[ir.Reg]*Interval)
	touch := func(r ir.Reg, idx int) {
		if iv, ok := ranges[r]; ok {
			if idx < iv.Start {
				iv.Start = idx
			}
			if idx > iv.End {
				iv.End = idx
			}
			return
		}
		ranges[r] = &Interval{Reg: r, Start: idx, End: idx}
	}
	for _, id := range order {
		idx := pos[id]
		for r := range info.Def[id] {
			touch(r, idx)
		}
		for r := range info.Use[id] {
			touch(r, idx)
		}
		for r := range info.LiveOut[id] {
			touch(r, idx)
		}
	}
	out := make([]Interval, 0, len(ranges))
	for _, iv := range ranges {
		out = append(out, *iv)
	}
	return out
}
