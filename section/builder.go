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
	"errors"

	"github.com/samber/lo"

	"github.com/npucc/combiner/combo"
	"github.com/npucc/combiner/graph"
	"github.com/npucc/combiner/internal/estimatecache"
	"github.com/npucc/combiner/npplan"
)

// ErrBudgetExceeded is returned when a Middle-phase plan request
// yields more than one plan, a programmer error in the plan generator
// that the combiner treats as a hard failure (spec §7).
var ErrBudgetExceeded = errors.New("section: cascade phase Middle yielded more than one plan")

// Builder bundles the external collaborators the Section Builder
// drives (spec §6): the partitioned-graph view, the plan generator and
// the estimator, plus the shared memoization cache for EndSection.
type Builder struct {
	Graph npplan.PartGraph
	Plans npplan.PlanGenerator
	Est   npplan.Estimator
	Cache *estimatecache.Cache
	Caps  npplan.Capabilities
}

func perBankCapacity(caps npplan.Capabilities) int64 {
	if caps.NumSrams <= 0 {
		return caps.TotalSramSize
	}
	return caps.TotalSramSize / int64(caps.NumSrams)
}

// candidatePlan is one (Plan, weight-stripe count) enumerated for one
// Part at one cascade phase.
type candidatePlan struct {
	plan    *npplan.Plan
	stripes int
	index   int
}

// reverseCandidatePlans reverses cs in place. Only StartSection applies
// this: the open tie-break question (spec §9) ties observable ordering
// between sections of different lengths to a reverse() over the
// initial starting-plan enumeration, so later transitions must not
// re-reverse candidates already committed to that order.
func reverseCandidatePlans(cs []candidatePlan) {
	for i, j := 0, len(cs)-1; i < j; i, j = i+1, j-1 {
		cs[i], cs[j] = cs[j], cs[i]
	}
}

// cascadeCandidates enumerates every (Plan, stripes) candidate for
// part at phase, honoring a Middle-phase plan's ≤1-result budget (spec
// §4.3 step 4) and the double-buffer-width rule of step 3: if the
// section has already committed to double-buffering, only that
// stripe count is requested; otherwise stripes=1 is always requested,
// and stripes=2 is requested too iff the stripes=1 result reports
// CanDoubleBufferWeights.
func cascadeCandidates(b *Builder, part npplan.PartID, phase npplan.CascadePhase, bc graph.BlockConfig, inputs []*graph.Buffer, hasDoubleBuffered bool, currentStripes int) ([]candidatePlan, error) {
	getPlans := func(stripes int) ([]*npplan.Plan, error) {
		ps, err := b.Plans.GetPlans(part, phase, bc, inputs, stripes)
		if err != nil {
			return nil, err
		}
		if phase == npplan.Middle && len(ps) > 1 {
			return nil, ErrBudgetExceeded
		}
		return ps, nil
	}

	if hasDoubleBuffered {
		ps, err := getPlans(currentStripes)
		if err != nil {
			return nil, err
		}
		return lo.Map(ps, func(p *npplan.Plan, i int) candidatePlan {
			return candidatePlan{plan: p, stripes: currentStripes, index: i}
		}), nil
	}

	plans1, err := getPlans(1)
	if err != nil {
		return nil, err
	}
	out := lo.Map(plans1, func(p *npplan.Plan, i int) candidatePlan {
		return candidatePlan{plan: p, stripes: 1, index: i}
	})
	if len(plans1) > 0 && plans1[0].CanDoubleBufferWeights() {
		plans2, err := getPlans(2)
		if err != nil {
			return nil, err
		}
		base := len(out)
		out = append(out, lo.Map(plans2, func(p *npplan.Plan, i int) candidatePlan {
			return candidatePlan{plan: p, stripes: 2, index: base + i}
		})...)
	}
	return out, nil
}

// seedOutputs registers every outgoing connection from part's Plan
// outputs into ctx.UnresolvedOutputs, keyed by the consuming input
// Slot (spec §3/§4.3).
func seedOutputs(ctx *SectionContext, pg npplan.PartGraph, part npplan.PartID, plan *npplan.Plan) {
	for _, outSlot := range pg.Outputs(part) {
		buf, ok := plan.OutputBuffer(outSlot)
		if !ok {
			continue
		}
		for _, inSlot := range pg.ConnectedInputSlots(outSlot) {
			ctx.UnresolvedOutputs[inSlot] = &pendingOutput{Buf: buf, Producer: part, ProducerPlan: plan, OutSlot: outSlot}
		}
	}
}

// inputMatch records one input Slot of the Part currently being added
// that resolved against a Buffer produced earlier in the running
// section, needed to insert that connection's internal-boundary glue
// (spec §4.3 step 5) once the candidate Plan is committed.
type inputMatch struct {
	Slot npplan.Slot
	PO   *pendingOutput
}

// resolveInputs matches part's input Slots against ctx.UnresolvedOutputs,
// returning the resolved Buffer per input Slot in PartGraph.Inputs
// order (nil for an unmatched slot, e.g. a section-boundary or
// external Dram input), the number of slots matched, a Part->Plan map
// of every producer Part resolved against (for DeallocateUnusedBuffers),
// and the individual per-slot matches (for internal glue insertion).
// Matched entries are removed from ctx.UnresolvedOutputs.
func resolveInputs(ctx *SectionContext, pg npplan.PartGraph, part npplan.PartID) ([]*graph.Buffer, int, map[npplan.PartID]*npplan.Plan, []inputMatch) {
	slots := pg.Inputs(part)
	bufs := make([]*graph.Buffer, len(slots))
	producers := make(map[npplan.PartID]*npplan.Plan)
	var matches []inputMatch
	matched := 0
	for i, slot := range slots {
		po, ok := ctx.UnresolvedOutputs[slot]
		if !ok {
			continue
		}
		bufs[i] = po.Buf
		producers[po.Producer] = po.ProducerPlan
		matches = append(matches, inputMatch{Slot: slot, PO: po})
		delete(ctx.UnresolvedOutputs, slot)
		matched++
	}
	return bufs, matched, producers, matches
}

// addInternalGlue records the §4.4 "empty, replacement-only" glue for
// one connection resolved entirely within the running section (spec
// §4.3 step 5): a producer-less stand-in Buffer is added to a fresh
// StartingGlue's own Graph, aliased (no DMA) to the producer's real
// output Buffer via combo.BufferAlias, and installed as the
// replacement for the consumer Plan's own declared input Buffer. The
// producer's Entry gets an empty EndingGlue for its output slot if it
// doesn't already have one — shared across every internal sibling
// that consumes the same output.
//
// This never needs a real DMA because AllocateSram already gave the
// consumer's input Buffer the identical Sram offset as the producer's
// output Buffer (spec §4.3 AllocateSram: "copy the predecessor's
// offset (no new allocation)"); the two Buffers are physically the
// same scratchpad bytes, just distinct arena entries.
func addInternalGlue(work *SectionContext, consumerPart npplan.PartID, consumerPlan *npplan.Plan, m inputMatch) {
	consumerEntry, ok := work.Combo.Entry(consumerPart)
	if !ok {
		return
	}
	if _, exists := consumerEntry.StartingGlues[m.Slot]; exists {
		return
	}
	consumerHandle, ok := consumerPlan.InputBufferHandle(m.Slot)
	if !ok {
		return
	}
	producerHandle, ok := m.PO.ProducerPlan.OutputBufferHandle(m.PO.OutSlot)
	if !ok {
		return
	}

	sg := combo.NewStartingGlue()
	local := sg.Graph.AddBuffer(*m.PO.Buf)
	sg.ReplacementBuffers[consumerHandle] = local
	sg.Aliases = append(sg.Aliases, combo.BufferAlias{Local: local, From: producerHandle})
	consumerEntry.SetStartingGlue(m.Slot, sg)

	producerEntry, ok := work.Combo.Entry(m.PO.Producer)
	if !ok {
		return
	}
	if _, exists := producerEntry.EndingGlues[m.PO.OutSlot]; !exists {
		producerEntry.SetEndingGlue(m.PO.OutSlot, combo.NewEndingGlue())
	}
}

// resolvedMap builds the ResolvedInputs view AllocateSram expects from
// the (slots, bufs) pair resolveInputs produced.
func resolvedMap(pg npplan.PartGraph, part npplan.PartID, bufs []*graph.Buffer) ResolvedInputs {
	r := make(ResolvedInputs, len(bufs))
	for i, slot := range pg.Inputs(part) {
		if bufs[i] != nil {
			r[slot] = bufs[i]
		}
	}
	return r
}

// StartSection opens a new cascade at part, returning one candidate
// SectionContext per surviving (Plan, weight-stripe) variant (spec
// §4.3 StartSection). Candidates that fail AllocateSram are pruned.
func StartSection(b *Builder, part npplan.PartID) ([]*SectionContext, error) {
	candidates, err := cascadeCandidates(b, part, npplan.Beginning, graph.DefaultBlockConfig, nil, false, 0)
	if err != nil {
		return nil, err
	}
	reverseCandidatePlans(candidates)

	var out []*SectionContext
	for _, c := range candidates {
		ctx := newContext(b.Caps, perBankCapacity(b.Caps))
		if !AllocateSram(ctx, part, c.plan, nil) {
			continue
		}
		ctx.CurrentNumWeightStripes = c.stripes
		ctx.HasSectionDoubleBuffered = c.stripes == 2
		if c.plan.BlockConfig != nil {
			ctx.BlockConfig = *c.plan.BlockConfig
		} else {
			ctx.BlockConfig = graph.DefaultBlockConfig
		}
		ctx.Combo = combo.Single(part, c.plan, 0)
		ctx.lastKey = ctx.key.Fold(int(part), c.index, c.stripes)
		seedOutputs(ctx, b.Graph, part, c.plan)
		out = append(out, ctx)
	}
	return out, nil
}

// ContinueSection grows ctx by appending part, returning one candidate
// per surviving variant (spec §4.3 ContinueSection/EndSection). ctx is
// never mutated; every returned context is a fresh clone.
func ContinueSection(b *Builder, part npplan.PartID, ctx *SectionContext) ([]*SectionContext, error) {
	return transition(b, part, ctx, npplan.Middle)
}

// EndSection closes ctx at part, returning one finished Combination
// per surviving variant, each stamped with the Estimator's metric
// (spec §4.3 EndSection). ctx is never mutated.
func EndSection(b *Builder, part npplan.PartID, ctx *SectionContext) ([]combo.Combination, error) {
	ends, err := transition(b, part, ctx, npplan.End)
	if err != nil {
		return nil, err
	}
	out := make([]combo.Combination, 0, len(ends))
	for _, end := range ends {
		metric, cached := b.Cache.Get(end.lastKey)
		if !cached {
			merged := mergeCombination(end.Combo)
			est, err := b.Est.Estimate(merged, b.Caps, npplan.EstimationOptions{})
			if err != nil {
				continue
			}
			metric = est.Metric
			b.Cache.Put(end.lastKey, metric)
		}
		final := end.Combo
		final.Metric = metric
		out = append(out, final)
	}
	return out, nil
}

// mergeCombination flattens every Entry's Plan OpGraph in c into one
// throwaway OpGraph for estimation purposes. Internal glues are always
// empty at this point in the pipeline (spec §4.5 Phase 4 runs after
// section selection), so none are spliced in here.
func mergeCombination(c combo.Combination) *graph.OpGraph {
	out := graph.NewOpGraph()
	for i := range c.Entries {
		out.Merge(c.Entries[i].Plan.Graph)
	}
	return out
}

// transition implements the shared body of ContinueSection/EndSection
// (spec §4.3): resolve part's inputs against ctx.UnresolvedOutputs,
// enumerate candidate plans at phase, and for each surviving candidate
// allocate its buffers, release any predecessor buffers it frees up,
// and append it to the Combination.
func transition(b *Builder, part npplan.PartID, ctx *SectionContext, phase npplan.CascadePhase) ([]*SectionContext, error) {
	probe := ctx.clone()
	inputBufs, matched, producers, matches := resolveInputs(probe, b.Graph, part)
	if matched == 0 {
		return nil, nil // DisconnectedContinuation: prune
	}
	if phase == npplan.End && len(probe.UnresolvedOutputs) != 0 {
		return nil, nil // UnresolvedOutputsAtEnd: prune
	}

	candidates, err := cascadeCandidates(b, part, phase, probe.BlockConfig, inputBufs, probe.HasSectionDoubleBuffered, probe.CurrentNumWeightStripes)
	if err != nil {
		return nil, err
	}

	resolved := resolvedMap(b.Graph, part, inputBufs)

	var out []*SectionContext
	for _, c := range candidates {
		work := probe.clone()
		if !AllocateSram(work, part, c.plan, resolved) {
			continue
		}
		// Map iteration order doesn't matter here: each call only
		// removes producerID's now-fully-consumed buffers from work's
		// owner set, and that set ends up the same regardless of which
		// producer is processed first.
		for producerID, producerPlan := range producers {
			DeallocateUnusedBuffers(work, producerID, producerPlan, []npplan.PartID{part})
		}
		work.CurrentNumWeightStripes = c.stripes
		if c.stripes == 2 {
			work.HasSectionDoubleBuffered = true
		}
		work.Combo = work.Combo.Concat(combo.Single(part, c.plan, 0))
		for _, m := range matches {
			addInternalGlue(work, part, c.plan, m)
		}
		work.lastKey = work.key.Fold(int(part), c.index, c.stripes)
		if phase != npplan.End {
			seedOutputs(work, b.Graph, part, c.plan)
		}
		out = append(out, work)
	}
	return out, nil
}
