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
	"fmt"

	"github.com/npucc/combiner/graph"
	"github.com/npucc/combiner/npplan"
)

// fakePartGraph is a minimal npplan.PartGraph over a fixed connection
// list, enough to drive the Driver in tests.
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

func (g *fakePartGraph) Part(id npplan.PartID) npplan.Part    { return g.parts[id] }
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
// candidates in tests without modeling real cost.
type bufCountEstimator struct{}

func (bufCountEstimator) Estimate(g *graph.OpGraph, caps npplan.Capabilities, opts npplan.EstimationOptions) (npplan.EstimatedOpGraph, error) {
	return npplan.EstimatedOpGraph{Metric: float64(g.NumBuffers())}, nil
}

// countingWeights is a WeightPreprocessor that only counts how many
// times preprocessing was requested for each Part, enough to satisfy
// Driver.Weights in tests that don't care about preprocessing.
type countingWeights struct {
	calls map[npplan.PartID]int
}

func newCountingWeights() *countingWeights {
	return &countingWeights{calls: make(map[npplan.PartID]int)}
}

func (w *countingWeights) PreprocessWeightsAsync(part npplan.PartID) {
	w.calls[part]++
}

// fakeOracle is a permissive FormatOracle: SRAM is always compatible
// with DRAM (no intermediate bounce needed) when compatible is true.
type fakeOracle struct{ compatible bool }

func (o fakeOracle) BestDRAMFormat(sramBuffers []*graph.Buffer, opts npplan.FormatOptions, debug bool) graph.Format {
	return graph.NHWCB
}

func (o fakeOracle) IsSramCompatibleWithDram(sram, dram *graph.Buffer, slack int) bool {
	return o.compatible
}

func (o fakeOracle) MakeGlueIntermediateSram(shape graph.Shape, quant graph.QuantInfo, dt graph.DataType, candidates []graph.Format, caps npplan.Capabilities) *graph.Buffer {
	f := graph.FormatUnknown
	if len(candidates) > 0 {
		f = candidates[len(candidates)-1]
	}
	return &graph.Buffer{Location: graph.Sram, Format: f, TensorShape: shape, QuantInfo: quant, DataType: dt, SizeBytes: 64}
}

const testSramBufBytes = 64

func testSramBuffer(fullTensor bool) graph.Buffer {
	return graph.Buffer{Location: graph.Sram, Format: graph.NHWC, SizeBytes: testSramBufBytes, TensorShape: graph.Shape{1, 2, 2, 4}, FullTensor: fullTensor}
}

// lonelySourcePlan builds a Lonely-phase Plan for part with no inputs
// and one Sram output bound to output slot 0, produced by a Ple op.
func lonelySourcePlan(part npplan.PartID) *npplan.Plan {
	g := graph.NewOpGraph()
	out := g.AddBuffer(testSramBuffer(true))
	opH := g.AddOp(&graph.Ple{KernelID: "k0", KernelSize: 128}, nil, out)
	p := &npplan.Plan{
		Part:          part,
		Graph:         g,
		OutputMapping: map[npplan.Slot]graph.BufferHandle{{Part: part, Index: 0}: out},
	}
	p.SetPleOp(opH)
	return p
}

// lonelySinkPlan builds a Lonely-phase Plan for part with one Dram
// Intermediate input bound to input slot 0 and no output, consumed by
// an Mce op into a private Sram buffer.
func lonelySinkPlan(part npplan.PartID) *npplan.Plan {
	g := graph.NewOpGraph()
	in := g.AddBuffer(graph.Buffer{Location: graph.Dram, Format: graph.NHWC, BufferType: graph.Intermediate, TensorShape: graph.Shape{1, 2, 2, 4}})
	out := g.AddBuffer(testSramBuffer(true))
	g.AddOp(&graph.Mce{}, []graph.BufferHandle{in}, out)
	return &npplan.Plan{
		Part:         part,
		Graph:        g,
		InputMapping: map[npplan.Slot]graph.BufferHandle{{Part: part, Index: 0}: in},
	}
}

// cascadePlan builds a one-op Plan usable as a Beginning/Middle/End
// cascade member: an Mce op with an optional Sram input (slot 0) and
// an optional Sram output (slot 0), mirroring section's own mcePlan
// helper.
func cascadePlan(part npplan.PartID, hasInput, hasOutput bool) *npplan.Plan {
	g := graph.NewOpGraph()
	var ins []graph.BufferHandle
	inMapping := map[npplan.Slot]graph.BufferHandle{}
	if hasInput {
		in := g.AddBuffer(testSramBuffer(true))
		ins = append(ins, in)
		inMapping[npplan.Slot{Part: part, Index: 0}] = in
	}
	out := g.AddBuffer(testSramBuffer(true))
	g.AddOp(&graph.Mce{}, ins, out)
	outMapping := map[npplan.Slot]graph.BufferHandle{}
	if hasOutput {
		outMapping[npplan.Slot{Part: part, Index: 0}] = out
	}
	return &npplan.Plan{Part: part, Graph: g, InputMapping: inMapping, OutputMapping: outMapping}
}
