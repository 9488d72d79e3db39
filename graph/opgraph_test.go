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

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestOpGraphSingleProducer(t *testing.T) {
	g := NewOpGraph()
	in := g.AddBuffer(Buffer{Location: Dram, BufferType: Input})
	out := g.AddBuffer(Buffer{Location: Dram, BufferType: Output})
	g.AddOp(&Dma{Format: NHWC}, []BufferHandle{in}, out)

	if _, ok := g.Producer(in); ok {
		t.Fatalf("input buffer should have no producer")
	}
	op, ok := g.Producer(out)
	if !ok {
		t.Fatalf("output buffer should have a producer")
	}
	if _, ok := g.Op(op).(*Dma); !ok {
		t.Fatalf("expected Dma producer, got %T", g.Op(op))
	}
}

func TestOpGraphAddOpTwiceSameOutputPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on double-producer")
		}
	}()
	g := NewOpGraph()
	in := g.AddBuffer(Buffer{Location: Dram})
	out := g.AddBuffer(Buffer{Location: Dram})
	g.AddOp(&Dma{}, []BufferHandle{in}, out)
	g.AddOp(&Dma{}, []BufferHandle{in}, out)
}

func TestOpGraphMerge(t *testing.T) {
	src := NewOpGraph()
	a := src.AddBuffer(Buffer{Location: Sram, DebugTag: "a"})
	b := src.AddBuffer(Buffer{Location: Sram, DebugTag: "b"})
	src.AddOp(&Dma{Format: NHWCB}, []BufferHandle{a}, b)

	dst := NewOpGraph()
	pre := dst.AddBuffer(Buffer{Location: Dram, DebugTag: "pre-existing"})

	bufMap, opMap := dst.Merge(src)
	if dst.NumBuffers() != 3 || dst.NumOps() != 1 {
		t.Fatalf("unexpected arena sizes after merge: buffers=%d ops=%d", dst.NumBuffers(), dst.NumOps())
	}
	if _, ok := dst.Producer(pre); ok {
		t.Fatalf("pre-existing buffer should still have no producer")
	}
	mb, ok := dst.Producer(bufMap[b])
	if !ok {
		t.Fatalf("merged output buffer should have a producer")
	}
	if mb != opMap[0] {
		t.Fatalf("merged op handle mismatch")
	}
}

// TestOpGraphMergeCopiesBufferByValue confirms Merge copies each
// source Buffer's full contents into the destination arena (rather
// than aliasing it), using cmp.Diff for a field-by-field structural
// comparison instead of hand-rolled equality checks.
func TestOpGraphMergeCopiesBufferByValue(t *testing.T) {
	src := NewOpGraph()
	opID := uint64(42)
	want := Buffer{
		Location:    Dram,
		TensorShape: Shape{1, 2, 2, 4},
		Format:      NHWCB,
		BufferType:  Intermediate,
		OperationID: &opID,
		DebugTag:    "weights",
	}
	h := src.AddBuffer(want)

	dst := NewOpGraph()
	bufMap, _ := dst.Merge(src)

	got := *dst.Buffer(bufMap[h])
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("merged buffer contents mismatch (-want +got):\n%s", diff)
	}
}
