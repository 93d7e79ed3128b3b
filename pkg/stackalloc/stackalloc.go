// Package stackalloc packs every memory-resident local into a byte
// offset within the function's shadow-stack frame via interval-graph
// packing: two locals may share bytes only when their live intervals are
// disjoint.
package stackalloc

import (
	"sort"

	"github.com/cc2wasm/cc2wasm/pkg/ir"
	"github.com/cc2wasm/cc2wasm/pkg/opt"
)

// Interval is a Local's live range, expressed over the reverse-postorder
// block linearisation used throughout this compiler (pkg/opt.Interval
// uses the same linearisation for virtual registers).
type Interval struct {
	Local int
	Start int
	End   int
}

const universe = 1 << 30

// ComputeIntervals derives one Interval per Local that the liveness
// analysis saw a reference to, spanning every reverse-postorder block
// index at which the Local is defined, used, or live across: reverse
// postorder is not execution order (a loop's exit can precede its body),
// so the bounds must come from the backward-dataflow LiveIn/LiveOut sets,
// not from the positions of the referencing instructions alone. A Local
// with no reference left (fully eliminated by earlier passes) gets no
// interval and is dropped from the frame.
//
// An address-taken Local's interval always spans the entire function
// ([0, last block index]): aliasing can reach it via any pointer flowing
// through subsequent code, so it must never share bytes with anything
// live at any point.
func ComputeIntervals(fn *ir.Function, info *opt.LivenessInfo) []Interval {
	order := fn.ReversePostorder()
	if len(order) == 0 {
		return nil
	}
	pos := make(map[ir.BlockID]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	ranges := make(map[int]*Interval)
	touch := func(local, idx int) {
		if iv, ok := ranges[local]; ok {
			if idx < iv.Start {
				iv.Start = idx
			}
			if idx > iv.End {
				iv.End = idx
			}
			return
		}
		ranges[local] = &Interval{Local: local, Start: idx, End: idx}
	}
	for _, id := range order {
		idx := pos[id]
		for l := range info.LocalDef[id] {
			touch(l, idx)
		}
		for l := range info.LocalUse[id] {
			touch(l, idx)
		}
		for l := range info.LocalLiveIn[id] {
			touch(l, idx)
		}
		for l := range info.LocalLiveOut[id] {
			touch(l, idx)
		}
	}
	lastIdx := len(order) - 1
	for i, l := range fn.Locals {
		if !l.AddressTaken {
			continue
		}
		if _, ok := ranges[i]; !ok {
			ranges[i] = &Interval{Local: i, Start: 0, End: lastIdx}
		} else {
			ranges[i].Start = 0
			ranges[i].End = lastIdx
		}
	}
	out := make([]Interval, 0, len(ranges))
	for _, iv := range ranges {
		out = append(out, *iv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Local < out[j].Local })
	return out
}

func overlaps(a, b Interval) bool {
	return a.Start <= b.End && b.Start <= a.End
}

// Frame is the result of packing a function's locals into a shadow-stack
// frame: a byte offset per Local index (relative to the start of the
// local-variable area, which sits past the return slot and parameters)
// and the total
// packed size.
type Frame struct {
	Offsets map[int]int64
	Size    int64
}

type placedSlot struct {
	offset   int64
	size     int64
	interval Interval
	universe bool // address-taken: clashes with every byte range regardless of time overlap
}

func alignUp(n, align int64) int64 {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

// Allocate packs fn's locals into byte offsets.
//
// When packed is false (the diagnostic profile), every local gets its own
// non-overlapping slot regardless of liveness, the mode the profiler
// compares packed frames against.
func Allocate(fn *ir.Function, intervals []Interval, packed bool) Frame {
	byLocal := make(map[int]Interval, len(intervals))
	for _, iv := range intervals {
		byLocal[iv.Local] = iv
	}

	order := make([]int, 0, len(intervals))
	for _, iv := range intervals {
		order = append(order, iv.Local)
	}
	// Sort by decreasing live-interval length, ties by decreasing size,
	// then by stable (ascending) local id.
	sort.SliceStable(order, func(i, j int) bool {
		li, lj := order[i], order[j]
		ivi, ivj := byLocal[li], byLocal[lj]
		leni, lenj := ivi.End-ivi.Start, ivj.End-ivj.Start
		if leni != lenj {
			return leni > lenj
		}
		si, sj := fn.Locals[li].Size, fn.Locals[lj].Size
		if si != sj {
			return si > sj
		}
		return li < lj
	})

	var placed []placedSlot
	offsets := make(map[int]int64, len(order))
	var frameSize int64

	for _, local := range order {
		loc := fn.Locals[local]
		iv := byLocal[local]
		size := loc.Size
		if size <= 0 {
			size = 1
		}
		align := loc.Align
		if align <= 0 {
			align = 1
		}
		addressTaken := loc.AddressTaken

		var offset int64
		if packed {
			offset = place(placed, iv, size, align, addressTaken)
		} else {
			offset = alignUp(frameSize, align)
		}
		offsets[local] = offset
		if end := offset + size; end > frameSize {
			frameSize = end
		}
		placed = append(placed, placedSlot{offset: offset, size: size, interval: iv, universe: addressTaken})
		sort.Slice(placed, func(i, j int) bool { return placed[i].offset < placed[j].offset })
	}

	return Frame{Offsets: offsets, Size: frameSize}
}

// place finds the lowest aligned offset at which a local with the given
// live interval can be packed without clashing with any already-placed
// slot's byte range during their overlapping lifetime. placed is kept
// sorted by offset (the low endpoint), and the scan below stops as soon as
// a placed slot's offset exceeds the candidate's high end, since nothing
// further out in the sorted vector can possibly clash with it either.
func place(placed []placedSlot, iv Interval, size, align int64, addressTaken bool) int64 {
	offset := int64(0)
	for {
		conflict := false
		for _, p := range placed {
			if p.offset >= offset+size {
				break // sorted by offset: nothing further out can clash
			}
			if p.offset+p.size <= offset {
				continue // placed slot entirely below candidate's range
			}
			// Byte ranges overlap. A clash requires either party's
			// lifetime to be unbounded (address-taken) or the two
			// live intervals to actually overlap in time.
			if addressTaken || p.universe || overlaps(iv, p.interval) {
				offset = alignUp(p.offset+p.size, align)
				conflict = true
				break
			}
		}
		if !conflict {
			return offset
		}
	}
}
