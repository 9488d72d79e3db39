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

package graph

import "fmt"

// BufferHandle and OpHandle are stable, non-owning references into
// one OpGraph's arena. They stay valid for the lifetime of the arena
// that produced them (spec §3, §9 "arena + stable indices").
type BufferHandle int
type OpHandle int

const invalidHandle = -1

// OpGraph is a bipartite DAG of Ops and Buffers: every Buffer has at
// most one producer Op, and every Op has ordered input Buffers.
// OpGraph owns its Ops and Buffers; references from Plans, Glues or
// Combinations are non-owning BufferHandle/OpHandle values.
type OpGraph struct {
	buffers   []Buffer
	producers []OpHandle // producers[h] == invalidHandle if b has no producer
	ops       []Op
}

// NewOpGraph returns an empty arena.
func NewOpGraph() *OpGraph {
	return &OpGraph{}
}

// AddBuffer inserts a producer-less Buffer (e.g. a graph input) and
// returns its handle.
func (g *OpGraph) AddBuffer(b Buffer) BufferHandle {
	g.buffers = append(g.buffers, b)
	g.producers = append(g.producers, invalidHandle)
	return BufferHandle(len(g.buffers) - 1)
}

// AddOp inserts op with the given ordered inputs and a single output
// buffer out, recording op as out's producer. It panics if out
// already has a producer (invariant I1: at most one producer per
// Buffer).
func (g *OpGraph) AddOp(op Op, inputs []BufferHandle, out BufferHandle) OpHandle {
	if g.producers[out] != invalidHandle {
		panic(fmt.Sprintf("graph: buffer %d already has a producer", out))
	}
	op.setInputs(inputs)
	g.ops = append(g.ops, op)
	h := OpHandle(len(g.ops) - 1)
	g.producers[out] = h
	return h
}

// Buffer returns the Buffer at h.
func (g *OpGraph) Buffer(h BufferHandle) *Buffer { return &g.buffers[h] }

// Op returns the Op at h.
func (g *OpGraph) Op(h OpHandle) Op { return g.ops[h] }

// SetInput rewrites the port'th input of op to h. Used by the
// Combiner Driver's final merge (spec §4.5 Phase 5) to redirect an Op
// that was built against a glue's local placeholder Buffer onto the
// real cross-arena Buffer once both arenas have been merged into one
// output graph.
func (g *OpGraph) SetInput(op OpHandle, port int, h BufferHandle) {
	in := append([]BufferHandle(nil), g.ops[op].Inputs()...)
	in[port] = h
	g.ops[op].setInputs(in)
}

// ReplaceOutput moves from's producer Op onto to, leaving from
// producer-less. Used by the Combiner Driver's final merge (spec §4.5
// Phase 5) to retarget a producer Op onto an EndingGlue's Replacement
// buffer — the merged Dram-Intermediate+Output case (spec §4.4) —
// once both arenas have been merged into the output graph.
func (g *OpGraph) ReplaceOutput(from, to BufferHandle) {
	g.producers[to] = g.producers[from]
	g.producers[from] = invalidHandle
}

// Producer returns the Op that produces h, or (0, false) if h has no
// producer within this arena (e.g. it is a graph input).
func (g *OpGraph) Producer(h BufferHandle) (OpHandle, bool) {
	p := g.producers[h]
	if p == invalidHandle {
		return 0, false
	}
	return p, true
}

// NumBuffers returns the number of Buffers in the arena.
func (g *OpGraph) NumBuffers() int { return len(g.buffers) }

// NumOps returns the number of Ops in the arena.
func (g *OpGraph) NumOps() int { return len(g.ops) }

// Buffers calls fn for every buffer handle in the arena, in
// insertion order.
func (g *OpGraph) Buffers(fn func(BufferHandle)) {
	for i := range g.buffers {
		fn(BufferHandle(i))
	}
}

// Ops calls fn for every op handle in the arena, in insertion order
// (which, by construction, is a valid topological order since an Op
// can only reference Buffers that already exist).
func (g *OpGraph) Ops(fn func(OpHandle)) {
	for i := range g.ops {
		fn(OpHandle(i))
	}
}

// Merge appends all of src's Ops and Buffers into g and returns a
// mapping from src's handles to the corresponding handles in g. This
// is used by the Combiner Driver's final merge pass (spec §4.5 Phase
// 5) to splice Plan and Glue arenas into one output graph.
func (g *OpGraph) Merge(src *OpGraph) (bufMap map[BufferHandle]BufferHandle, opMap map[OpHandle]OpHandle) {
	bufMap = make(map[BufferHandle]BufferHandle, src.NumBuffers())
	opMap = make(map[OpHandle]OpHandle, src.NumOps())
	for i := range src.buffers {
		nb := g.AddBuffer(src.buffers[i])
		bufMap[BufferHandle(i)] = nb
		g.producers[nb] = invalidHandle // re-link below once we know the op's new handle
	}
	for i := range src.ops {
		op := src.ops[i]
		in := make([]BufferHandle, len(op.Inputs()))
		for j, h := range op.Inputs() {
			in[j] = bufMap[h]
		}
		// find which buffer this op produced in src
		for srcBuf, srcOp := range src.producers {
			if srcOp == OpHandle(i) {
				out := bufMap[BufferHandle(srcBuf)]
				nh := g.AddOp(cloneOp(op), in, out)
				opMap[OpHandle(i)] = nh
				break
			}
		}
	}
	return bufMap, opMap
}

// cloneOp returns a shallow copy of op with a fresh (nil) input slice,
// so that AddOp's setInputs call does not mutate the source arena's Op.
func cloneOp(op Op) Op {
	switch o := op.(type) {
	case *Mce:
		c := *o
		return &c
	case *Ple:
		c := *o
		return &c
	case *Dma:
		c := *o
		return &c
	case *Concat:
		c := *o
		return &c
	default:
		panic(fmt.Sprintf("graph: unknown op kind %T", op))
	}
}
