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

// Package section implements the Start/Continue/End state machine
// that grows a cascade of Plans into a scratchpad-resident section
// (spec §4.3), generalizing the teacher's `plan/pir`'s ordered-pass-
// over-a-mutable-Trace shape to a state machine over a mutable
// SectionContext.
package section

import (
	"github.com/npucc/combiner/alloc"
	"github.com/npucc/combiner/combo"
	"github.com/npucc/combiner/graph"
	"github.com/npucc/combiner/internal/estimatecache"
	"github.com/npucc/combiner/npplan"
)

// plePlacement records where one PLE kernel's code lives once loaded
// (spec invariant I3: loaded at most once per section).
type plePlacement struct {
	KernelID string
	Offset   int64
	Size     int64
}

// bufKey globally identifies an Sram buffer within a section: Buffer
// handles are only unique within the arena that owns them (spec §9
// "arena + stable indices"), so allocated_buffers must qualify a
// handle by which Part's Plan arena it came from.
type bufKey struct {
	Part   npplan.PartID
	Handle graph.BufferHandle
	offset int64
}

// pendingOutput is one outgoing connection from a Buffer produced
// within the running section, keyed in SectionContext.UnresolvedOutputs
// by its consumer (input) Slot — since every input Slot is fed by
// exactly one output Slot, one pendingOutput per fan-out edge is
// sufficient (spec §3 "unresolved_outputs map (Part connection →
// producing Buffer not yet consumed)").
type pendingOutput struct {
	Buf          *graph.Buffer
	Producer     npplan.PartID
	ProducerPlan *npplan.Plan
	// OutSlot is the producer's own output Slot that fed this
	// connection, needed to locate the producer's Entry.EndingGlues
	// entry and OutputBufferHandle when an internal-boundary glue is
	// inserted (spec §4.3 step 5).
	OutSlot npplan.Slot
}

// SectionContext is the mutable state carried while growing one
// cascade (spec §3).
type SectionContext struct {
	Combo combo.Combination

	Alloc *alloc.Allocator

	// PleOps maps a kernel ID to where its code was placed within
	// this section (invariant I3/I5).
	PleOps map[string]plePlacement

	// AllocatedBuffers maps an Sram buffer to the set of PartIDs
	// still relying on its allocation (invariant I5: freed iff the
	// owner set becomes empty).
	AllocatedBuffers map[bufKey]map[npplan.PartID]struct{}

	// UnresolvedOutputs maps a not-yet-added consumer Slot to the
	// Buffer (produced earlier in this section) that feeds it.
	// ContinueSection/EndSection drain entries as Parts are added;
	// EndSection additionally requires the map be empty once its own
	// Part's inputs are resolved (spec §4.3, "UnresolvedOutputsAtEnd").
	UnresolvedOutputs map[npplan.Slot]*pendingOutput

	CurrentNumWeightStripes int
	HasSectionDoubleBuffered bool

	BlockConfig graph.BlockConfig

	Caps npplan.Capabilities

	// key incrementally hashes the sequence of (Part, Plan, stripes)
	// choices made so far, letting EndSection memoize Estimator calls
	// across overlapping candidate lengths (SPEC_FULL.md §4). lastKey
	// is the most recent Key folded, so EndSection can look up the
	// cache without re-folding (Fold mutates the running hash state).
	key     *estimatecache.Builder
	lastKey estimatecache.Key
}

// NewContext returns a fresh SectionContext with its own virgin
// allocator sized per spec §4.1 (capacity divided across SRAM banks).
// Exposed for the Combiner Driver's Phase 1 ChooseBestLonelyPlan
// (spec §4.5), which allocates a single Part's Plan outside of any
// section.
func NewContext(caps npplan.Capabilities) *SectionContext {
	return newContext(caps, PerBankCapacity(caps))
}

// PerBankCapacity divides a hardware Capabilities' total SRAM size
// across its banks, the per-bank address space a ScratchpadAllocator
// is sized over (spec §4.1: "the caller pre-divides requested sizes
// by the number of banks").
func PerBankCapacity(caps npplan.Capabilities) int64 {
	return perBankCapacity(caps)
}

// newContext returns a fresh SectionContext with its own allocator.
func newContext(caps npplan.Capabilities, capacityPerBank int64) *SectionContext {
	return &SectionContext{
		Alloc:             alloc.New(capacityPerBank, caps.NumSrams),
		PleOps:            make(map[string]plePlacement),
		AllocatedBuffers:  make(map[bufKey]map[npplan.PartID]struct{}),
		UnresolvedOutputs: make(map[npplan.Slot]*pendingOutput),
		Caps:              caps,
		key:               estimatecache.NewBuilder(),
	}
}

// clone returns a deep-enough copy of ctx so that a candidate that
// fails partway through never mutates the context it branched from
// (spec §7: "no partial state mutates the enclosing SectionContext").
func (ctx *SectionContext) clone() *SectionContext {
	c := &SectionContext{
		Combo:                    ctx.Combo,
		Alloc:                    ctx.Alloc.Clone(),
		PleOps:                   make(map[string]plePlacement, len(ctx.PleOps)),
		AllocatedBuffers:         make(map[bufKey]map[npplan.PartID]struct{}, len(ctx.AllocatedBuffers)),
		UnresolvedOutputs:        make(map[npplan.Slot]*pendingOutput, len(ctx.UnresolvedOutputs)),
		CurrentNumWeightStripes:  ctx.CurrentNumWeightStripes,
		HasSectionDoubleBuffered: ctx.HasSectionDoubleBuffered,
		BlockConfig:              ctx.BlockConfig,
		Caps:                     ctx.Caps,
		key:                      ctx.key.Clone(),
		lastKey:                  ctx.lastKey,
	}
	for k, v := range ctx.PleOps {
		c.PleOps[k] = v
	}
	for k, owners := range ctx.AllocatedBuffers {
		o2 := make(map[npplan.PartID]struct{}, len(owners))
		for p := range owners {
			o2[p] = struct{}{}
		}
		c.AllocatedBuffers[k] = o2
	}
	for k, po := range ctx.UnresolvedOutputs {
		poCopy := *po
		c.UnresolvedOutputs[k] = &poCopy
	}
	return c
}
