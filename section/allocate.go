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

package section

import (
	"github.com/npucc/combiner/alloc"
	"github.com/npucc/combiner/graph"
	"github.com/npucc/combiner/npplan"
)

// ResolvedInputs maps a Part's input slot to the already-allocated
// Buffer that feeds it, for slots whose producer lies earlier in the
// section being built.
type ResolvedInputs map[npplan.Slot]*graph.Buffer

// allocPreference returns the Start/End placement policy for partID,
// the section's only fragmentation heuristic (spec §4.3
// AllocateSram): even Part IDs prefer Start, odd prefer End.
func allocPreference(partID npplan.PartID) alloc.Preference {
	if partID%2 == 0 {
		return alloc.Start
	}
	return alloc.End
}

// AllocateSram attempts to place every Sram buffer of plan (and, if
// needed, its PLE kernel code) within ctx's scratchpad, per spec
// §4.3. It mutates ctx only when every allocation succeeds; on
// failure ctx is left untouched.
func AllocateSram(ctx *SectionContext, partID npplan.PartID, plan *npplan.Plan, resolved ResolvedInputs) bool {
	if plan.IsPreallocated {
		return true
	}

	pref := allocPreference(partID)
	trial := ctx.Alloc.Clone()

	handleToSlot := make(map[graph.BufferHandle]npplan.Slot, len(plan.InputMapping))
	for slot, h := range plan.InputMapping {
		handleToSlot[h] = slot
	}

	var newPle *plePlacement
	if info, ok := plan.PleKernelInfo(ctx.Caps); ok {
		pleOp, isPle := plan.Graph.Op(info.PleOp).(*graph.Ple)
		if !isPle {
			panic("section: PleKernelInfo referenced a non-Ple op")
		}
		if existing, ok := ctx.PleOps[info.KernelID]; ok {
			pleOp.Offset = existing.Offset
			pleOp.LoadKernel = false
		} else {
			off, ok := trial.Allocate(info.Size, pref, 0, info.KernelID)
			if !ok {
				return false
			}
			pleOp.Offset = off
			pleOp.LoadKernel = true
			newPle = &plePlacement{KernelID: info.KernelID, Offset: off, Size: info.Size}
		}
	}

	type allocated struct {
		handle graph.BufferHandle
		offset int64
	}
	var newlyAllocated []allocated
	ok := true
	plan.Graph.Buffers(func(h graph.BufferHandle) {
		if !ok {
			return
		}
		b := plan.Graph.Buffer(h)
		if b.Location != graph.Sram {
			return
		}
		if slot, isInput := handleToSlot[h]; isInput {
			if src, matched := resolved[slot]; matched {
				b.Offset = src.Offset
				return
			}
		}
		if b.SizeBytes <= 0 {
			panic("section: Sram buffer has non-positive size_bytes")
		}
		off, didAllocate := trial.Allocate(b.SizeBytes/int64(ctx.Caps.NumSrams), pref, 0, "")
		if !didAllocate {
			ok = false
			return
		}
		b.Offset = off
		newlyAllocated = append(newlyAllocated, allocated{handle: h, offset: off})
	})
	if !ok {
		return false
	}

	ctx.Alloc = trial
	for _, a := range newlyAllocated {
		key := bufKey{Part: partID, Handle: a.handle, offset: a.offset}
		ctx.AllocatedBuffers[key] = map[npplan.PartID]struct{}{partID: {}}
	}
	if newPle != nil {
		ctx.PleOps[newPle.KernelID] = *newPle
	}
	return true
}

// DeallocateUnusedBuffers releases ownership of partID's allocations
// once its Plan has executed (spec §4.3). For every Sram buffer
// partID allocated itself and still owns: if plan produces a
// full-tensor output on every output slot, or this buffer is itself one
// of plan's full-tensor outputs, ownership is forwarded to
// consumerPartIDs (the Parts that will consume partID's outputs going
// forward); otherwise partID's ownership simply lapses. A buffer partID
// only co-owns by inheritance is never forwarded again. Either way partID is removed from
// the owner set, and any buffer whose owner set becomes empty is
// physically freed (invariant I5).
func DeallocateUnusedBuffers(ctx *SectionContext, partID npplan.PartID, plan *npplan.Plan, consumerPartIDs []npplan.PartID) {
	outputs := make(map[graph.BufferHandle]struct{}, len(plan.OutputMapping))
	allFullTensor := len(plan.OutputMapping) > 0
	for _, h := range plan.OutputMapping {
		outputs[h] = struct{}{}
		if !plan.Graph.Buffer(h).FullTensor {
			allFullTensor = false
		}
	}

	for key, owners := range ctx.AllocatedBuffers {
		if _, owns := owners[partID]; !owns {
			continue
		}
		// Forwarding is only decided once, by the Part that produced
		// the buffer: an inherited co-ownership (key.Part != partID)
		// just lapses here, since the producing Part already forwarded
		// it to partID's consumer set when it was deallocated.
		if key.Part == partID {
			_, isOwnOutput := outputs[key.Handle]
			forward := allFullTensor || (isOwnOutput && plan.Graph.Buffer(key.Handle).FullTensor)
			if forward {
				for _, c := range consumerPartIDs {
					owners[c] = struct{}{}
				}
			}
		}
		delete(owners, partID)
		if len(owners) == 0 {
			ctx.Alloc.Free(key.offset)
			delete(ctx.AllocatedBuffers, key)
		}
	}
}
