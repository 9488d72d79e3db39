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

import "github.com/npucc/combiner/graph"

// PlanGenerator is the external, per-Part plan enumerator (spec §6.2).
// It must honor the constraint that CascadePhase == Middle implies
// len(result) <= 1; the combiner treats a violation as BudgetExceeded
// (spec §7), a hard failure, because it is a programmer error in the
// plan generator, not something the combiner can route around.
type PlanGenerator interface {
	GetPlans(part PartID, phase CascadePhase, blockConfig graph.BlockConfig, inputs []*graph.Buffer, numWeightStripes int) ([]*Plan, error)
}

// WeightPreprocessor fires-and-forgets weight preprocessing for a
// Part (spec §6.3). Callers must ensure PreprocessWeightsAsync(part)
// is invoked, and its effects visible, before any plan produced for
// that Part is estimated.
type WeightPreprocessor interface {
	PreprocessWeightsAsync(part PartID)
}

// EstimationOptions configures one Estimator.Estimate call.
type EstimationOptions struct {
	// DebugLevel mirrors the combiner's own debug verbosity so the
	// estimator's render pass (if any) can be driven consistently.
	DebugLevel DebugLevel
}

// DebugLevel mirrors the combiner's CLI surface debug levels (spec §6).
type DebugLevel int

const (
	DebugNone DebugLevel = iota
	DebugLow
	DebugHigh
)

// EstimatedOpGraph is the result of scoring one merged operation
// graph (spec §6.4). Lower Metric is better.
type EstimatedOpGraph struct {
	Metric float64
}

// Estimator is the external, black-box performance model (spec
// §6.4). It is never asked to estimate a partial/speculative op-graph
// that the combiner has not already committed to within the
// SectionContext being built.
type Estimator interface {
	Estimate(g *graph.OpGraph, caps Capabilities, opts EstimationOptions) (EstimatedOpGraph, error)
}

// FormatOptions configures FormatOracle.BestDRAMFormat.
type FormatOptions struct {
	// Candidates restricts the format choice, if non-empty.
	Candidates []graph.Format
}

// FormatOracle is the external format/compatibility oracle (spec
// §6.5): it knows which SRAM/DRAM format pairs are hardware-legal and
// can synthesize a new DRAM buffer shape when the Glue Engine needs
// one.
type FormatOracle interface {
	BestDRAMFormat(sramBuffers []*graph.Buffer, opts FormatOptions, debug bool) graph.Format
	IsSramCompatibleWithDram(sram, dram *graph.Buffer, slack int) bool
	MakeGlueIntermediateSram(shape graph.Shape, quant graph.QuantInfo, dt graph.DataType, candidates []graph.Format, caps Capabilities) *graph.Buffer
}

// Capabilities exposes the three hardware facts the combiner and its
// collaborators need (spec §6.6).
type Capabilities struct {
	TotalSramSize int64
	NumSrams      int
	MaxPleSize    int64
}
