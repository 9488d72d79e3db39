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

// Package combo holds the Combination/Glue data model shared by the
// Section Builder and Glue Engine (spec §3): the pair of packages
// that grow, score and stitch together contiguous runs of Plans.
package combo

import "github.com/npucc/combiner/graph"

// Arena names which neighboring OpGraph a cross-glue Buffer reference
// (ExternalConnection.From, BufferAlias.From) names. glue.Build
// materializes a producer's shared DRAM buffer either in the
// producer's own Plan arena (when the producer itself is already
// DRAM) or in the EndingGlue's own Graph (when it must synthesize one)
// — Phase 5's merge (spec §4.5) needs to know which, since the two
// arenas are merged into the final OpGraph separately.
type Arena int

const (
	// FromPlan is the zero value: the overwhelming majority of
	// cross-glue references name the neighboring Plan's own arena
	// (every EndingGlue.ExternalConnections.From does, always).
	FromPlan Arena = iota
	FromEndingGlue
)

// ExternalConnection records an edge crossing a glue's boundary: it
// connects a Buffer owned by a neighboring Plan or glue to one port
// of an Op owned by this glue's own OpGraph. Recording these
// separately (rather than inside the glue's OpGraph) preserves the
// invariant that a glue owns only what it creates (spec §4.4).
type ExternalConnection struct {
	From   graph.BufferHandle
	ToOp   graph.OpHandle
	ToPort int
	// FromArena says which arena From is a handle into. Always
	// FromPlan for an EndingGlue's own ExternalConnections; a
	// StartingGlue's may reference either arena depending on which
	// glue.Build case produced it.
	FromArena Arena
}

// EndingGlue sits on the producer side of a connection (spec §3).
type EndingGlue struct {
	Graph               *graph.OpGraph
	ExternalConnections []ExternalConnection
	// Replacement, when non-nil, says the producer's own output
	// Buffer should be treated as identical to this handle in Graph
	// rather than copied via a DMA. Only the Dram-Intermediate +
	// single-consumer Dram-Output merge case (spec §4.4) sets this:
	// there the glue materializes one merged buffer that stands in
	// for both the producer's and the consumer's declared buffers.
	Replacement *graph.BufferHandle
}

// NewEndingGlue returns an empty EndingGlue.
func NewEndingGlue() *EndingGlue {
	return &EndingGlue{Graph: graph.NewOpGraph()}
}

// IsEmpty reports whether this glue contributes nothing beyond
// passthrough (no ops of its own, no external connections, no
// producer-buffer replacement).
func (g *EndingGlue) IsEmpty() bool {
	return g.Graph.NumOps() == 0 && len(g.ExternalConnections) == 0 && g.Replacement == nil
}

// BufferAlias records that Local (a producer-less Buffer within this
// glue's own Graph) is identical to From (a handle in the neighboring
// arena — the preceding Plan or glue) — a pure identity, no data
// movement. Distinct from ExternalConnection, which feeds a real Op;
// Phase 5's merge (spec §4.5) uses this to fold Local away entirely
// rather than emit it as a separate buffer.
type BufferAlias struct {
	Local graph.BufferHandle
	From  graph.BufferHandle
	// FromArena says which arena From is a handle into (see Arena).
	// Zero value FromPlan matches every internal-boundary alias
	// (section/builder.go's addInternalGlue) and aliasAcross's
	// producer-owned branch.
	FromArena Arena
}

// StartingGlue sits on the consumer side of a connection (spec §3).
// ReplacementBuffers declares that a consumer Plan's Buffer should be
// treated as identical to some Buffer upstream (in the preceding glue
// or Plan) — no data movement, just an aliasing rule resolved during
// the final merge (spec §4.5 Phase 5). Aliases records the
// corresponding neighboring-arena handle for every entry of
// ReplacementBuffers that resolves via pure identity rather than a DMA
// (i.e. has no matching ExternalConnections entry).
type StartingGlue struct {
	Graph               *graph.OpGraph
	ReplacementBuffers  map[graph.BufferHandle]graph.BufferHandle
	ExternalConnections []ExternalConnection
	Aliases             []BufferAlias
}

// NewStartingGlue returns an empty StartingGlue.
func NewStartingGlue() *StartingGlue {
	return &StartingGlue{
		Graph:              graph.NewOpGraph(),
		ReplacementBuffers: make(map[graph.BufferHandle]graph.BufferHandle),
	}
}

// IsEmpty reports whether this glue contributes nothing beyond
// passthrough.
func (g *StartingGlue) IsEmpty() bool {
	return g.Graph.NumOps() == 0 && len(g.ReplacementBuffers) == 0 && len(g.ExternalConnections) == 0
}
