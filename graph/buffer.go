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

// Package graph implements the bipartite Op/Buffer arena that backs
// every Plan and Glue op-graph in the combiner.
package graph

import "fmt"

// Location is the storage location of a Buffer.
type Location int

const (
	// Sram buffers are resident in scratchpad.
	Sram Location = iota
	// Dram buffers are resident off-chip.
	Dram
	// PleInputSram is a transient staging area consumed
	// immediately by a PLE op; it is never independently
	// allocated by the ScratchpadAllocator.
	PleInputSram
)

func (l Location) String() string {
	switch l {
	case Sram:
		return "Sram"
	case Dram:
		return "Dram"
	case PleInputSram:
		return "PleInputSram"
	default:
		return "Location(?)"
	}
}

// BufferType classifies a Dram buffer's external role.
type BufferType int

const (
	Input BufferType = iota
	Output
	Intermediate
	ConstantDma
)

func (t BufferType) String() string {
	switch t {
	case Input:
		return "Input"
	case Output:
		return "Output"
	case Intermediate:
		return "Intermediate"
	case ConstantDma:
		return "ConstantDma"
	default:
		return "BufferType(?)"
	}
}

// DataType is the element type stored in a Buffer.
type DataType int

const (
	U8 DataType = iota
	S8
	U16
	S16
	Int32
)

// Format describes the on-wire/on-chip layout of a tensor.
type Format int

const (
	NHWC Format = iota
	NHWCB
	NCHW
	WeightsNCHW
	FormatUnknown
)

// Shape is a dense tensor/stripe shape, [N, H, W, C].
type Shape [4]int

// QuantInfo carries the affine quantization parameters for a Buffer.
type QuantInfo struct {
	ZeroPoint int32
	Scale     float64
}

// UnresolvedOffset marks an Sram Buffer that has not yet been
// allocated (see spec invariant I4).
const UnresolvedOffset int64 = -1

// Buffer is a tagged record with one of three Locations (spec §3).
// A single struct (rather than per-location concrete types) is used
// because the three variants largely share fields; FullTensor,
// BufferType, Offset etc. are meaningful only for the Locations
// documented on each field.
type Buffer struct {
	Location Location

	TensorShape Shape
	DataType    DataType
	QuantInfo   QuantInfo
	Format      Format

	// Sram-only.
	StripeShape   Shape
	NumStripes    int
	SlotSizeBytes int64
	SizeBytes     int64
	// Offset is UnresolvedOffset until the ScratchpadAllocator
	// assigns this buffer a home (invariant I4).
	Offset int64
	// FullTensor is true if this buffer's single stripe holds the
	// complete tensor (a "checkpoint" per spec §4.3
	// DeallocateUnusedBuffers and §9's open question: this flag is
	// authoritative, taken verbatim from the producing Plan, and is
	// never re-derived from the Op that produced it).
	FullTensor bool

	// Dram-only.
	BufferType           BufferType
	OperationID          *uint64
	ProducerOutputIndex  *int

	// DebugTag is an optional human-readable label surfaced in
	// .dot dumps; it carries no semantic weight.
	DebugTag string
}

// IsSram reports whether b is resident in scratchpad.
func (b *Buffer) IsSram() bool { return b.Location == Sram }

// IsDram reports whether b is resident off-chip.
func (b *Buffer) IsDram() bool { return b.Location == Dram }

// String implements fmt.Stringer.
func (b *Buffer) String() string {
	if b.Location == Dram {
		return fmt.Sprintf("Dram(%s, %s, shape=%v)", b.BufferType, b.Format, b.TensorShape)
	}
	return fmt.Sprintf("%s(%s, shape=%v, stripe=%v, offset=%d)", b.Location, b.Format, b.TensorShape, b.StripeShape, b.Offset)
}
