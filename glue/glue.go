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

// Package glue materializes the data-movement (or pure aliasing) that
// connects one producer's output slot to each of its consumers across
// a section boundary (spec §4.4). A producer and its consumers never
// share an OpGraph arena, so every op or buffer a glue creates lives
// in that glue's own Graph; a reference to a neighboring arena's
// Buffer is recorded as a combo.ExternalConnection (for an Op this
// glue owns that needs the neighbor's data as an input) or a
// combo.StartingGlue.ReplacementBuffers entry (for pure aliasing, no
// data movement).
package glue

import (
	"sort"

	"github.com/npucc/combiner/combo"
	"github.com/npucc/combiner/graph"
	"github.com/npucc/combiner/npplan"
)

// Consumer is one edge leaving a producer's output slot.
type Consumer struct {
	// Slot is the consuming Part's input Slot.
	Slot npplan.Slot
	// Buf is the Buffer the consuming Plan declared for Slot.
	Buf *graph.Buffer
	// PlanInput is Buf's BufferHandle within the consuming Plan's own
	// OpGraph arena.
	PlanInput graph.BufferHandle
}

// Build materializes the EndingGlue for a producer's output slot and
// one StartingGlue per consumer (spec §4.4). producer is the produced
// Buffer and producerHandle its BufferHandle in the producing Plan's
// own arena. The returned aliased set names every ending.Graph handle
// at least one StartingGlue aliases via pure replacement (no DMA, so
// no ExternalConnection records the reference) — DeadOutputBuffers
// needs it to tell a live shared buffer from an orphaned one.
func Build(producer *graph.Buffer, producerHandle graph.BufferHandle, consumers []Consumer, oracle npplan.FormatOracle, caps npplan.Capabilities) (*combo.EndingGlue, map[npplan.Slot]*combo.StartingGlue, map[graph.BufferHandle]struct{}) {
	ending := combo.NewEndingGlue()
	starting := make(map[npplan.Slot]*combo.StartingGlue, len(consumers))
	aliased := make(map[graph.BufferHandle]struct{})

	ordered := stableDramFirst(consumers)

	shared := newSharedDramBuffers(producer, producerHandle)

	for _, c := range ordered {
		sg := combo.NewStartingGlue()
		switch {
		case producer.IsSram() && c.Buf.IsDram() && c.Buf.BufferType == graph.Intermediate:
			h := shared.resolve(ending, c.Buf.Format, func() graph.BufferHandle {
				return sramToDram(ending, producer, producerHandle, *c.Buf, oracle, caps)
			})
			aliasConsumer(sg, ending.Graph.Buffer(h), h, true, c)
			aliased[h] = struct{}{}

		case producer.IsSram() && c.Buf.IsDram() && c.Buf.BufferType == graph.Output:
			// Never shared: a dedicated copy into this consumer's own
			// output buffer identity.
			h := sramToDram(ending, producer, producerHandle, *c.Buf, oracle, caps)
			aliasConsumer(sg, ending.Graph.Buffer(h), h, true, c)
			aliased[h] = struct{}{}

		case producer.IsDram() && c.Buf.IsSram():
			h := shared.resolve(ending, producer.Format, func() graph.BufferHandle { return producerHandle })
			srcIsProducer := shared.isProducer(producer.Format)
			dramToSram(sg, h, sourceBuffer(ending, producer, h, srcIsProducer), c, arenaOf(srcIsProducer))

		case producer.IsSram() && c.Buf.IsSram():
			fmtChoice := oracle.BestDRAMFormat([]*graph.Buffer{producer, c.Buf}, npplan.FormatOptions{}, false)
			h := shared.resolve(ending, fmtChoice, func() graph.BufferHandle {
				return sramToDram(ending, producer, producerHandle, dramStandInFor(producer, fmtChoice), oracle, caps)
			})
			srcIsProducer := shared.isProducer(fmtChoice)
			dramToSram(sg, h, sourceBuffer(ending, producer, h, srcIsProducer), c, arenaOf(srcIsProducer))

		case producer.IsDram() && c.Buf.IsDram() && c.Buf.BufferType == graph.Intermediate && c.Buf.Format == producer.Format:
			h := shared.resolve(ending, producer.Format, func() graph.BufferHandle { return producerHandle })
			isProducerBuf := shared.isProducer(producer.Format)
			aliasAcross(sg, ending, producerHandle, h, isProducerBuf, c)
			if !isProducerBuf {
				aliased[h] = struct{}{}
			}

		case producer.IsDram() && producer.BufferType == graph.Intermediate &&
			c.Buf.IsDram() && c.Buf.BufferType == graph.Output &&
			len(ordered) == 1 && formatsCompatible(producer, c.Buf):
			merged := *producer
			merged.BufferType = graph.Output
			merged.OperationID = c.Buf.OperationID
			merged.ProducerOutputIndex = c.Buf.ProducerOutputIndex
			h := ending.Graph.AddBuffer(merged)
			ending.Replacement = &h
			aliasConsumer(sg, &merged, h, true, c)
			aliased[h] = struct{}{}

		default: // Dram -> Dram (Output, multi-consumer or mismatch).
			copyThroughSram(ending, sg, producer, producerHandle, c, oracle, caps)
		}
		starting[c.Slot] = sg
	}
	return ending, starting, aliased
}

func stableDramFirst(consumers []Consumer) []Consumer {
	ordered := make([]Consumer, len(consumers))
	copy(ordered, consumers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Buf.IsDram() && !ordered[j].Buf.IsDram()
	})
	return ordered
}

// sharedDramBuffers tracks, per DRAM format, the buffer available for
// reuse within one Build call: either the producer's own buffer (if
// it is itself DRAM) or one materialized into the EndingGlue's Graph
// by an earlier consumer (spec §4.4's "running map").
type sharedDramBuffers struct {
	handle       map[graph.Format]graph.BufferHandle
	fromProducer map[graph.Format]bool
}

func newSharedDramBuffers(producer *graph.Buffer, producerHandle graph.BufferHandle) *sharedDramBuffers {
	s := &sharedDramBuffers{handle: map[graph.Format]graph.BufferHandle{}, fromProducer: map[graph.Format]bool{}}
	if producer.IsDram() {
		s.handle[producer.Format] = producerHandle
		s.fromProducer[producer.Format] = true
	}
	return s
}

func (s *sharedDramBuffers) resolve(ending *combo.EndingGlue, format graph.Format, materialize func() graph.BufferHandle) graph.BufferHandle {
	if h, ok := s.handle[format]; ok {
		return h
	}
	h := materialize()
	s.handle[format] = h
	s.fromProducer[format] = false
	return h
}

func (s *sharedDramBuffers) isProducer(format graph.Format) bool { return s.fromProducer[format] }

// sramToDram emits a DMA from producer (Sram) into a fresh buffer
// shaped like want (Dram) inside ending's own Graph, bouncing through
// a compatible intermediate Sram buffer first if producer is not
// directly compatible with want (spec §4.4 row 2/3).
func sramToDram(ending *combo.EndingGlue, producer *graph.Buffer, producerHandle graph.BufferHandle, want graph.Buffer, oracle npplan.FormatOracle, caps npplan.Capabilities) graph.BufferHandle {
	placeholder := ending.Graph.AddBuffer(*producer)

	src := placeholder
	feedsOp := graph.OpHandle(ending.Graph.NumOps())
	if !oracle.IsSramCompatibleWithDram(producer, &want, 0) {
		stage := oracle.MakeGlueIntermediateSram(want.TensorShape, want.QuantInfo, want.DataType, []graph.Format{producer.Format, want.Format}, caps)
		stageHandle := ending.Graph.AddBuffer(*stage)
		ending.Graph.AddOp(&graph.Dma{Format: stage.Format}, []graph.BufferHandle{placeholder}, stageHandle)
		src = stageHandle
	}
	dstHandle := ending.Graph.AddBuffer(want)
	ending.Graph.AddOp(&graph.Dma{Format: want.Format}, []graph.BufferHandle{src}, dstHandle)
	// The placeholder always feeds the first Op added above, whether
	// that's the staging DMA or (no staging needed) the final one.
	ending.ExternalConnections = append(ending.ExternalConnections, combo.ExternalConnection{
		From: producerHandle, ToOp: feedsOp, ToPort: 0,
	})
	return dstHandle
}

// sourceBuffer fetches the Buffer value for a shared-DRAM handle that
// may live in either the producing Plan's arena (srcIsProducer) or
// ending's own Graph.
func sourceBuffer(ending *combo.EndingGlue, producer *graph.Buffer, h graph.BufferHandle, srcIsProducer bool) *graph.Buffer {
	if srcIsProducer {
		return producer
	}
	return ending.Graph.Buffer(h)
}

// dramToSram emits a DMA from a DRAM source (either the producer's
// own buffer or one already materialized in ending's Graph, described
// by srcBuf) into a fresh copy of the consumer's declared Sram buffer,
// owned by sg's own Graph, and records the replacement (spec §4.4 row
// 4/5). fromArena says which arena src is a handle into.
func dramToSram(sg *combo.StartingGlue, src graph.BufferHandle, srcBuf *graph.Buffer, c Consumer, fromArena combo.Arena) {
	localSrc := sg.Graph.AddBuffer(*srcBuf)
	dst := sg.Graph.AddBuffer(*c.Buf)
	opH := sg.Graph.AddOp(&graph.Dma{Format: c.Buf.Format}, []graph.BufferHandle{localSrc}, dst)
	sg.ExternalConnections = append(sg.ExternalConnections, combo.ExternalConnection{From: src, ToOp: opH, ToPort: 0, FromArena: fromArena})
	sg.ReplacementBuffers[c.PlanInput] = dst
}

// arenaOf translates sharedDramBuffers.isProducer's sense (true means
// the handle is the producer's own buffer) into an Arena.
func arenaOf(srcIsProducer bool) combo.Arena {
	if srcIsProducer {
		return combo.FromPlan
	}
	return combo.FromEndingGlue
}

// aliasConsumer records a pure Dram aliasing replacement: c's declared
// buffer is treated as identical to the buffer at from in the
// neighboring arena (either ending's Graph or the producer's own Plan
// arena), materializing a local producer-less stand-in in sg's own
// Graph — no data movement, resolved during Phase 5's merge via
// sg.Aliases.
func aliasConsumer(sg *combo.StartingGlue, target *graph.Buffer, from graph.BufferHandle, fromEnding bool, c Consumer) {
	local := sg.Graph.AddBuffer(*target)
	sg.ReplacementBuffers[c.PlanInput] = local
	arena := combo.FromPlan
	if fromEnding {
		arena = combo.FromEndingGlue
	}
	sg.Aliases = append(sg.Aliases, combo.BufferAlias{Local: local, From: from, FromArena: arena})
}

// aliasAcross records a replacement where the shared buffer may live
// either in the producer's own arena or in ending's Graph (spec §4.4
// row 6: Dram -> Dram, matching formats).
func aliasAcross(sg *combo.StartingGlue, ending *combo.EndingGlue, producerHandle, h graph.BufferHandle, isProducer bool, c Consumer) {
	if isProducer {
		aliasConsumer(sg, c.Buf, producerHandle, false, c)
		return
	}
	aliasConsumer(sg, ending.Graph.Buffer(h), h, true, c)
}

// copyThroughSram handles the Dram -> Dram (Output, multi-consumer or
// mismatch) fallback: a dedicated DMA-through-SRAM copy into the
// consumer's own output buffer (spec §4.4 row 8), via
// AddCopyBetweenBuffers staged across both glues.
func copyThroughSram(ending *combo.EndingGlue, sg *combo.StartingGlue, producer *graph.Buffer, producerHandle graph.BufferHandle, c Consumer, oracle npplan.FormatOracle, caps npplan.Capabilities) {
	placeholder := ending.Graph.AddBuffer(*producer)
	stage := oracle.MakeGlueIntermediateSram(producer.TensorShape, producer.QuantInfo, producer.DataType, []graph.Format{producer.Format, c.Buf.Format}, caps)
	stageHandle := AddCopyBetweenBuffers(ending.Graph, placeholder, *stage, oracle, caps)
	opH0 := graph.OpHandle(ending.Graph.NumOps() - 1)
	ending.ExternalConnections = append(ending.ExternalConnections, combo.ExternalConnection{From: producerHandle, ToOp: opH0, ToPort: 0})

	localStage := sg.Graph.AddBuffer(*ending.Graph.Buffer(stageHandle))
	dst := sg.Graph.AddBuffer(*c.Buf)
	opH1 := sg.Graph.AddOp(&graph.Dma{Format: c.Buf.Format}, []graph.BufferHandle{localStage}, dst)
	sg.ExternalConnections = append(sg.ExternalConnections, combo.ExternalConnection{From: stageHandle, ToOp: opH1, ToPort: 0, FromArena: combo.FromEndingGlue})
	sg.ReplacementBuffers[c.PlanInput] = dst
}

func dramStandInFor(producer *graph.Buffer, format graph.Format) graph.Buffer {
	b := *producer
	b.Location = graph.Dram
	b.Format = format
	b.BufferType = graph.Intermediate
	b.Offset = 0
	return b
}

func formatsCompatible(a, b *graph.Buffer) bool {
	return a.Format == b.Format && a.TensorShape == b.TensorShape && a.QuantInfo == b.QuantInfo
}

// AddCopyBetweenBuffers emits the Op(s) needed to copy data from src
// (already present in g) into a fresh buffer shaped like dst, also
// added to g, and returns that new buffer's handle (spec §4.4):
// Sram<->Dram is one DMA; Dram<->Dram stages through a fresh
// glue-owned Sram buffer; Sram<->Sram is forbidden.
func AddCopyBetweenBuffers(g *graph.OpGraph, src graph.BufferHandle, dst graph.Buffer, oracle npplan.FormatOracle, caps npplan.Capabilities) graph.BufferHandle {
	srcBuf := g.Buffer(src)
	if srcBuf.IsSram() && dst.IsSram() {
		panic("glue: AddCopyBetweenBuffers: Sram to Sram copy forbidden, insert a Dram hop explicitly")
	}
	if srcBuf.IsDram() && dst.IsDram() {
		stage := oracle.MakeGlueIntermediateSram(dst.TensorShape, dst.QuantInfo, dst.DataType, []graph.Format{srcBuf.Format, dst.Format}, caps)
		stageHandle := g.AddBuffer(*stage)
		g.AddOp(&graph.Dma{Format: stage.Format}, []graph.BufferHandle{src}, stageHandle)
		dstHandle := g.AddBuffer(dst)
		g.AddOp(&graph.Dma{Format: dst.Format}, []graph.BufferHandle{stageHandle}, dstHandle)
		return dstHandle
	}
	dstHandle := g.AddBuffer(dst)
	g.AddOp(&graph.Dma{Format: dst.Format}, []graph.BufferHandle{src}, dstHandle)
	return dstHandle
}

// liveEndingHandles reports the set of BufferHandles within ending's
// own Graph that something outside ending still points at: either a
// StartingGlue's ExternalConnection.From (a DMA sourced from a buffer
// ending materialized, e.g. copyThroughSram's staging buffer) or an
// entry of aliased (a pure-replacement reference with no DMA, e.g.
// aliasConsumer). ReplacementBuffers values are never ending.Graph
// handles — they live in the consuming StartingGlue's own arena — so
// they play no part in this check; aliased is what Build returns to
// close that gap.
func liveEndingHandles(sgs map[npplan.Slot]*combo.StartingGlue, aliased map[graph.BufferHandle]struct{}) map[graph.BufferHandle]struct{} {
	live := map[graph.BufferHandle]struct{}{}
	for h := range aliased {
		live[h] = struct{}{}
	}
	for _, sg := range sgs {
		for _, ec := range sg.ExternalConnections {
			live[ec.From] = struct{}{}
		}
	}
	return live
}

// DeadOutputBuffers returns, from the handles ending materialized,
// those no StartingGlue in sgs ultimately aliases — candidates for
// elimination under spec Law L3 (a glue never leaves behind
// materialized storage nothing consumes). aliased is the set Build
// returned alongside ending and sgs.
func DeadOutputBuffers(ending *combo.EndingGlue, sgs map[npplan.Slot]*combo.StartingGlue, aliased map[graph.BufferHandle]struct{}) []graph.BufferHandle {
	live := liveEndingHandles(sgs, aliased)
	if ending.Replacement != nil {
		live[*ending.Replacement] = struct{}{}
	}
	var dead []graph.BufferHandle
	referenced := map[graph.BufferHandle]struct{}{}
	ending.Graph.Ops(func(h graph.OpHandle) {
		for _, in := range ending.Graph.Op(h).Inputs() {
			referenced[in] = struct{}{}
		}
	})
	n := ending.Graph.NumBuffers()
	for i := 0; i < n; i++ {
		h := graph.BufferHandle(i)
		if _, isLive := live[h]; isLive {
			continue
		}
		if _, isSource := referenced[h]; isSource {
			continue
		}
		if _, hasProducer := ending.Graph.Producer(h); !hasProducer {
			continue // never materialized by this glue, just a placeholder stand-in
		}
		dead = append(dead, h)
	}
	return dead
}
