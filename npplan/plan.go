// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package npplan

import (
	"fmt"

	"github.com/npucc/combiner/graph"
)

// CascadePhase parameterizes plan generation by the role a Part
// plays within its cascade (spec §4.2).
type CascadePhase int

const (
	Lonely CascadePhase = iota
	Beginning
	Middle
	End
)

func (p CascadePhase) String() string {
	switch p {
	case Lonely:
		return "Lonely"
	case Beginning:
		return "Beginning"
	case Middle:
		return "Middle"
	case End:
		return "End"
	default:
		return "CascadePhase(?)"
	}
}

// Plan is owned by one Part and describes one way to execute it: an
// OpGraph plus bijections between certain of its Buffers and the
// Part's slots (spec §3).
//
// Plan is treated as opaque by the rest of the combiner except
// through the accessors below (spec §4.2); it is produced by the
// external plan generator and is otherwise not modified once returned,
// except that section.AllocateSram writes Sram offsets and PLE kernel
// placement into its Graph.
type Plan struct {
	Part PartID
	Graph *graph.OpGraph

	// InputMapping/OutputMapping are bijections between a subset of
	// Graph's Buffers and this Part's slots.
	InputMapping  map[Slot]graph.BufferHandle
	OutputMapping map[Slot]graph.BufferHandle

	BlockConfig *graph.BlockConfig

	// IsPreallocated is true for e.g. concat-style Parts whose Sram
	// buffers already carry offsets and must never be re-allocated
	// (spec §4.3 AllocateSram step 1).
	IsPreallocated bool

	// NumWeightStripes is 1 for single-buffered, 2 for
	// double-buffered weights.
	NumWeightStripes int

	// CanDoubleBuffer is the per-Part hint from
	// Plan.can_double_buffer_weights (spec §4.2); it is carried per
	// Plan because it is produced alongside the rest of the Plan by
	// the external plan generator, even though in practice every
	// Plan for one Part agrees on its value.
	CanDoubleBuffer bool

	// pleOp, if set, names the single Ple op in Graph, used by
	// PleKernelInfo.
	pleOp graph.OpHandle
	hasPleOp bool
}

// SetPleOp records which Op in Graph is the Plan's Ple kernel op, if
// any. Called by the plan generator (or by tests) when constructing
// a Plan.
func (p *Plan) SetPleOp(h graph.OpHandle) {
	p.pleOp = h
	p.hasPleOp = true
}

// InputBuffer looks up the Buffer bound to slot, per spec §4.2
// input_buffer(slot).
func (p *Plan) InputBuffer(slot Slot) (*graph.Buffer, bool) {
	h, ok := p.InputMapping[slot]
	if !ok {
		return nil, false
	}
	return p.Graph.Buffer(h), true
}

// InputBufferHandle is like InputBuffer but returns the handle.
func (p *Plan) InputBufferHandle(slot Slot) (graph.BufferHandle, bool) {
	h, ok := p.InputMapping[slot]
	return h, ok
}

// OutputBuffer looks up the Buffer bound to slot, per spec §4.2
// output_buffer(slot).
func (p *Plan) OutputBuffer(slot Slot) (*graph.Buffer, bool) {
	h, ok := p.OutputMapping[slot]
	if !ok {
		return nil, false
	}
	return p.Graph.Buffer(h), true
}

// OutputBufferHandle is like OutputBuffer but returns the handle.
func (p *Plan) OutputBufferHandle(slot Slot) (graph.BufferHandle, bool) {
	h, ok := p.OutputMapping[slot]
	return h, ok
}

// PleKernelInfo describes the PLE kernel load a Plan requires.
type PleKernelInfo struct {
	KernelID string
	Size     int64
	PleOp    graph.OpHandle
}

// PleKernelInfo returns information about this Plan's Ple op, or
// (zero, false) if the Plan contains none (spec §4.2
// ple_kernel_info). caps is accepted for interface symmetry with the
// reference design (a production plan generator may size the kernel
// differently per-capability); this implementation's kernel size is
// fixed at Plan-construction time.
func (p *Plan) PleKernelInfo(caps Capabilities) (PleKernelInfo, bool) {
	if !p.hasPleOp {
		return PleKernelInfo{}, false
	}
	ple, ok := p.Graph.Op(p.pleOp).(*graph.Ple)
	if !ok {
		return PleKernelInfo{}, false
	}
	return PleKernelInfo{KernelID: ple.KernelID, Size: ple.KernelSize, PleOp: p.pleOp}, true
}

// CanDoubleBufferWeights reports the per-Part double-buffering hint
// (spec §4.2 can_double_buffer_weights).
func (p *Plan) CanDoubleBufferWeights() bool { return p.CanDoubleBuffer }

func (p *Plan) String() string {
	return fmt.Sprintf("Plan(part=%d, ops=%d, buffers=%d, prealloc=%v, stripes=%d)",
		p.Part, p.Graph.NumOps(), p.Graph.NumBuffers(), p.IsPreallocated, p.NumWeightStripes)
}
