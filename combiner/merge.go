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

package combiner

import (
	"sort"

	"github.com/npucc/combiner/combo"
	"github.com/npucc/combiner/graph"
	"github.com/npucc/combiner/npplan"
)

// arenaMap is the pair of handle translations graph.OpGraph.Merge
// returns for one source arena.
type arenaMap struct {
	buf map[graph.BufferHandle]graph.BufferHandle
	op  map[graph.OpHandle]graph.OpHandle
}

func sortedSlots(m interface{ keys() []npplan.Slot }) []npplan.Slot {
	s := m.keys()
	sort.Slice(s, func(i, j int) bool {
		if s[i].Part != s[j].Part {
			return s[i].Part < s[j].Part
		}
		return s[i].Index < s[j].Index
	})
	return s
}

type endingKeys map[npplan.Slot]*combo.EndingGlue

func (m endingKeys) keys() []npplan.Slot {
	s := make([]npplan.Slot, 0, len(m))
	for k := range m {
		s = append(s, k)
	}
	return s
}

type startingKeys map[npplan.Slot]*combo.StartingGlue

func (m startingKeys) keys() []npplan.Slot {
	s := make([]npplan.Slot, 0, len(m))
	for k := range m {
		s = append(s, k)
	}
	return s
}

// redirectOps rewrites every input port across ops (a Part's own
// merged op handles) that currently points at oldHandle to point at
// newHandle instead.
func redirectOps(out *graph.OpGraph, ops map[graph.OpHandle]graph.OpHandle, oldHandle, newHandle graph.BufferHandle) {
	for _, finalOp := range ops {
		for port, in := range out.Op(finalOp).Inputs() {
			if in == oldHandle {
				out.SetInput(finalOp, port, newHandle)
			}
		}
	}
}

// mergeFinal splices every Plan and glue arena in comb into one output
// OpGraph (spec §4.5 Phase 5). It walks comb in Part order; for each
// Part it merges in the Part's incoming StartingGlues, then the Plan
// itself, then the Part's outgoing EndingGlues — matching the order in
// which those arenas become relevant as a reader walks the graph
// downstream. A second pass then resolves every cross-arena reference
// now that every arena's final handles are known.
func mergeFinal(pg npplan.PartGraph, comb combo.Combination) *graph.OpGraph {
	out := graph.NewOpGraph()

	planArena := make(map[npplan.PartID]arenaMap, len(comb.Entries))
	endingArena := make(map[npplan.Slot]arenaMap)
	startingArena := make(map[npplan.Slot]arenaMap)

	for i := range comb.Entries {
		e := &comb.Entries[i]
		for _, slot := range sortedSlots(startingKeys(e.StartingGlues)) {
			bm, om := out.Merge(e.StartingGlues[slot].Graph)
			startingArena[slot] = arenaMap{bm, om}
		}
		bm, om := out.Merge(e.Plan.Graph)
		planArena[e.Part] = arenaMap{bm, om}
		for _, slot := range sortedSlots(endingKeys(e.EndingGlues)) {
			bm2, om2 := out.Merge(e.EndingGlues[slot].Graph)
			endingArena[slot] = arenaMap{bm2, om2}
		}
	}

	resolveFrom := func(ownerPart npplan.PartID, ownerSlot npplan.Slot, arena combo.Arena) map[graph.BufferHandle]graph.BufferHandle {
		if arena == combo.FromEndingGlue {
			return endingArena[ownerSlot].buf
		}
		return planArena[ownerPart].buf
	}

	// EndingGlues: external connections feed an Op this glue owns;
	// Replacement retargets the producer's own output Op.
	for i := range comb.Entries {
		e := &comb.Entries[i]
		for _, slot := range sortedSlots(endingKeys(e.EndingGlues)) {
			eg := e.EndingGlues[slot]
			ea := endingArena[slot]
			for _, ec := range eg.ExternalConnections {
				from, ok := resolveFrom(e.Part, slot, ec.FromArena)[ec.From]
				if !ok {
					continue
				}
				out.SetInput(ea.op[ec.ToOp], ec.ToPort, from)
			}
			if eg.Replacement != nil {
				if origHandle, ok := e.Plan.OutputBufferHandle(slot); ok {
					out.ReplaceOutput(planArena[e.Part].buf[origHandle], ea.buf[*eg.Replacement])
				}
			}
		}
	}

	// StartingGlues: external connections feed an Op this glue owns;
	// ReplacementBuffers/Aliases redirect the consumer's own Ops away
	// from their declared input Buffer onto the resolved upstream one.
	for i := range comb.Entries {
		e := &comb.Entries[i]
		for _, slot := range sortedSlots(startingKeys(e.StartingGlues)) {
			sg := e.StartingGlues[slot]
			sa := startingArena[slot]

			producerSlot, ok := pg.ConnectedOutputSlot(slot)
			if !ok {
				continue
			}

			for _, ec := range sg.ExternalConnections {
				from, ok := resolveFrom(producerSlot.Part, producerSlot, ec.FromArena)[ec.From]
				if !ok {
					continue
				}
				out.SetInput(sa.op[ec.ToOp], ec.ToPort, from)
			}

			for consumerLocal, replacementLocal := range sg.ReplacementBuffers {
				finalConsumer, ok := planArena[e.Part].buf[consumerLocal]
				if !ok {
					continue
				}
				finalReplacement, ok := sa.buf[replacementLocal]
				if !ok {
					continue
				}
				redirectOps(out, planArena[e.Part].op, finalConsumer, finalReplacement)
			}

			for _, al := range sg.Aliases {
				from, ok := resolveFrom(producerSlot.Part, producerSlot, al.FromArena)[al.From]
				if !ok {
					continue
				}
				finalLocal, ok := sa.buf[al.Local]
				if !ok {
					continue
				}
				redirectOps(out, planArena[e.Part].op, finalLocal, from)
			}
		}
	}

	return out
}
