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
	"github.com/npucc/combiner/combo"
	"github.com/npucc/combiner/glue"
	"github.com/npucc/combiner/npplan"
)

// phase4 invokes the Glue Engine for every Part output slot in best
// that does not already carry an EndingGlue (spec §4.5 Phase 4): every
// slot resolved within a section already has one, installed by
// section.addInternalGlue when the candidate was built, so this only
// ever fires for section-boundary (and graph-boundary) connections.
//
// If a producer's output slot has at least one consumer that was
// matched inside its own section, that slot's EndingGlue is already
// set and this loop skips it entirely — even if the same output slot
// also feeds a consumer outside that section. Mixed fan-out of that
// shape does not arise in the graphs this driver is built against; the
// Section Builder never partially glues one output's consumers.
func (d *Driver) phase4(best *combo.Combination) error {
	for i := range best.Entries {
		e := &best.Entries[i]
		for _, outSlot := range d.Graph.Outputs(e.Part) {
			if _, has := e.EndingGlues[outSlot]; has {
				continue
			}
			producerHandle, ok := e.Plan.OutputBufferHandle(outSlot)
			if !ok {
				continue
			}
			producerBuf := e.Plan.Graph.Buffer(producerHandle)

			consumers := d.consumersFor(*best, outSlot)
			ending, starting, _ := glue.Build(producerBuf, producerHandle, consumers, d.Oracle, d.Caps)
			e.SetEndingGlue(outSlot, ending)

			for _, inSlot := range d.Graph.ConnectedInputSlots(outSlot) {
				sg, ok := starting[inSlot]
				if !ok {
					continue
				}
				consumerEntry, ok := best.Entry(inSlot.Part)
				if !ok {
					return ErrInvariantViolation
				}
				if _, has := consumerEntry.StartingGlues[inSlot]; has {
					return ErrInvariantViolation
				}
				consumerEntry.SetStartingGlue(inSlot, sg)
			}
		}
	}
	return nil
}

// consumersFor builds the glue.Consumer list for one producer output
// slot: one entry per connected input Slot whose owning Part lies
// within comb.
func (d *Driver) consumersFor(comb combo.Combination, outSlot npplan.Slot) []glue.Consumer {
	inSlots := d.Graph.ConnectedInputSlots(outSlot)
	out := make([]glue.Consumer, 0, len(inSlots))
	for _, inSlot := range inSlots {
		consumerEntry, ok := comb.Entry(inSlot.Part)
		if !ok {
			continue
		}
		buf, ok := consumerEntry.Plan.InputBuffer(inSlot)
		if !ok {
			continue
		}
		h, _ := consumerEntry.Plan.InputBufferHandle(inSlot)
		out = append(out, glue.Consumer{Slot: inSlot, Buf: buf, PlanInput: h})
	}
	return out
}
