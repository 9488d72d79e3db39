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
	"fmt"

	"github.com/npucc/combiner/graph"
	"github.com/npucc/combiner/internal/estimatecache"
	"github.com/npucc/combiner/npplan"
)

// fakePartGraph is a minimal npplan.PartGraph over a fixed connection
// list, enough to drive the Section Builder in tests.
type fakePartGraph struct {
	parts map[npplan.PartID]npplan.Part
	conns []npplan.Connection
}

func (g *fakePartGraph) PartIDs() []npplan.PartID {
	ids := make([]npplan.PartID, 0, len(g.parts))
	for id := range g.parts {
		ids = append(ids, id)
	}
	return ids
}

func (g *fakePartGraph) Part(id npplan.PartID) npplan.Part { return g.parts[id] }
func (g *fakePartGraph) Inputs(id npplan.PartID) []npplan.Slot  { return g.parts[id].Inputs() }
func (g *fakePartGraph) Outputs(id npplan.PartID) []npplan.Slot { return g.parts[id].Outputs() }

func (g *fakePartGraph) SourceConnections(id npplan.PartID) []npplan.Connection {
	var out []npplan.Connection
	for _, c := range g.conns {
		if c.Input.Part == id {
			out = append(out, c)
		}
	}
	return out
}

func (g *fakePartGraph) DestinationConnections(id npplan.PartID) []npplan.Connection {
	var out []npplan.Connection
	for _, c := range g.conns {
		if c.Output.Part == id {
			out = append(out, c)
		}
	}
	return out
}

func (g *fakePartGraph) ConnectedInputSlots(output npplan.Slot) []npplan.Slot {
	var out []npplan.Slot
	for _, c := range g.conns {
		if c.Output == output {
			out = append(out, c.Input)
		}
	}
	return out
}

func (g *fakePartGraph) ConnectedOutputSlot(input npplan.Slot) (npplan.Slot, bool) {
	for _, c := range g.conns {
		if c.Input == input {
			return c.Output, true
		}
	}
	return npplan.Slot{}, false
}

// planKey identifies one GetPlans call for the fakePlanGenerator.
func planKey(part npplan.PartID, phase npplan.CascadePhase, stripes int) string {
	return fmt.Sprintf("%d/%s/%d", part, phase, stripes)
}

type fakePlanGenerator struct {
	plans map[string][]*npplan.Plan
}

func newFakePlanGenerator() *fakePlanGenerator {
	return &fakePlanGenerator{plans: make(map[string][]*npplan.Plan)}
}

func (g *fakePlanGenerator) add(part npplan.PartID, phase npplan.CascadePhase, stripes int, plans ...*npplan.Plan) {
	g.plans[planKey(part, phase, stripes)] = plans
}

func (g *fakePlanGenerator) GetPlans(part npplan.PartID, phase npplan.CascadePhase, bc graph.BlockConfig, inputs []*graph.Buffer, stripes int) ([]*npplan.Plan, error) {
	return g.plans[planKey(part, phase, stripes)], nil
}

// bufCountEstimator scores a merged OpGraph purely by its buffer
// count, enough to give deterministic, distinguishable metrics across
// weight-stripe variants in tests without modeling real cost.
type bufCountEstimator struct{}

func (bufCountEstimator) Estimate(g *graph.OpGraph, caps npplan.Capabilities, opts npplan.EstimationOptions) (npplan.EstimatedOpGraph, error) {
	return npplan.EstimatedOpGraph{Metric: float64(g.NumBuffers())}, nil
}

const sramBufBytes = 64

func sramBuffer(fullTensor bool) graph.Buffer {
	return graph.Buffer{Location: graph.Sram, SizeBytes: sramBufBytes, FullTensor: fullTensor}
}

// plePlan builds a Plan for part consisting of a single Ple op: an
// optional Sram input bound to slot 0, and an Sram output optionally
// bound to slot 0 of the Part's outputs.
func plePlan(part npplan.PartID, kernelID string, hasInput, hasOutputSlot bool) *npplan.Plan {
	g := graph.NewOpGraph()
	var ins []graph.BufferHandle
	inMapping := map[npplan.Slot]graph.BufferHandle{}
	if hasInput {
		in := g.AddBuffer(sramBuffer(true))
		ins = append(ins, in)
		inMapping[npplan.Slot{Part: part, Index: 0}] = in
	}
	out := g.AddBuffer(sramBuffer(true))
	opH := g.AddOp(&graph.Ple{KernelID: kernelID, KernelSize: 128}, ins, out)
	outMapping := map[npplan.Slot]graph.BufferHandle{}
	if hasOutputSlot {
		outMapping[npplan.Slot{Part: part, Index: 0}] = out
	}
	p := &npplan.Plan{Part: part, Graph: g, InputMapping: inMapping, OutputMapping: outMapping}
	p.SetPleOp(opH)
	return p
}

// mcePlan builds a Plan for part with a single Mce op consuming one
// Sram input (slot 0) and producing one Sram output (slot 0). extraDram
// simulates the additional bookkeeping buffer a double-buffered weight
// variant might carry, purely to give stripe variants distinguishable
// merged-graph buffer counts in tests.
func mcePlan(part npplan.PartID, stripes int, extraDram bool) *npplan.Plan {
	g := graph.NewOpGraph()
	in := g.AddBuffer(sramBuffer(true))
	out := g.AddBuffer(sramBuffer(true))
	g.AddOp(&graph.Mce{}, []graph.BufferHandle{in}, out)
	if extraDram {
		g.AddBuffer(graph.Buffer{Location: graph.Dram, BufferType: graph.ConstantDma})
	}
	return &npplan.Plan{
		Part:             part,
		Graph:            g,
		InputMapping:     map[npplan.Slot]graph.BufferHandle{{Part: part, Index: 0}: in},
		OutputMapping:    map[npplan.Slot]graph.BufferHandle{{Part: part, Index: 0}: out},
		NumWeightStripes: stripes,
		CanDoubleBuffer:  true,
	}
}

func testBuilder(pg npplan.PartGraph, gen npplan.PlanGenerator) *Builder {
	return &Builder{
		Graph: pg,
		Plans: gen,
		Est:   bufCountEstimator{},
		Cache: estimatecache.New(),
		Caps:  npplan.Capabilities{TotalSramSize: 1 << 20, NumSrams: 4, MaxPleSize: 1 << 16},
	}
}
