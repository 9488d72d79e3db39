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

// Op is implemented by every kind of operation that can appear in an
// OpGraph. Concrete kinds are Mce, Ple, Dma and Concat (spec §3).
type Op interface {
	fmt.Stringer

	// Inputs returns the ordered input Buffers of this Op.
	Inputs() []BufferHandle
	setInputs(in []BufferHandle)
}

// base is embedded by every concrete Op kind and holds the ordered
// input ports common to all of them.
type base struct {
	In []BufferHandle
}

func (b *base) Inputs() []BufferHandle     { return b.In }
func (b *base) setInputs(in []BufferHandle) { b.In = in }

// Mce is the matrix-compute engine operation.
type Mce struct {
	base
	BlockConfig BlockConfig
}

func (m *Mce) String() string { return "Mce" }

// Ple is the vector post-processor operation. It may have up to two
// data inputs. KernelID identifies the PLE microcode; Offset is
// resolved once the kernel's code is placed in scratchpad (spec
// invariant I3); LoadKernel is false when a section already has the
// kernel resident and this Op merely references it.
type Ple struct {
	base
	KernelID   string
	KernelSize int64
	Offset     int64
	LoadKernel bool
}

func (p *Ple) String() string {
	return fmt.Sprintf("Ple(kernel=%s, load=%v, offset=%d)", p.KernelID, p.LoadKernel, p.Offset)
}

// Dma moves data between Sram and Dram, optionally converting format.
type Dma struct {
	base
	Format Format
}

func (d *Dma) String() string { return fmt.Sprintf("Dma(%s)", d.Format) }

// Concat is a structural helper op that concatenates several input
// buffers into one logical output; it performs no data movement of
// its own (the producer side is expected to have already arranged
// the inputs to be physically adjacent, e.g. via a preallocated
// Plan).
type Concat struct {
	base
}

func (c *Concat) String() string { return "Concat" }

// BlockConfig is the MCE/PLE block tiling configuration shared by
// every Plan within one section (spec invariant I2).
type BlockConfig struct {
	Width  int
	Height int
}

// DefaultBlockConfig is used when a Plan does not specify one.
var DefaultBlockConfig = BlockConfig{Width: 16, Height: 16}

func (c BlockConfig) String() string { return fmt.Sprintf("%dx%d", c.Width, c.Height) }
