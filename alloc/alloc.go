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

// Package alloc implements the first-fit Scratchpad Allocator
// described in spec §4.1: a small fixed-capacity address space with
// Start/End placement preference and first-fit search, sized for the
// tens-of-entries working sets a cascade section actually produces.
package alloc

import (
	"fmt"
	"sort"

	"golang.org/x/exp/constraints"
)

// Preference selects which end of the free-chunk list is searched
// first by Allocate.
type Preference int

const (
	Start Preference = iota
	End
)

type chunk struct {
	begin, end int64
	tag        string
}

func (c chunk) size() int64 { return c.end - c.begin }

// Allocator is a first-fit allocator over [0, capacity).
//
// It is intentionally simple: two small ordered slices of chunks
// (free and used) are scanned linearly, because the number of live
// allocations within one cascade section is always small (tens, per
// spec §4.1 rationale). alignment defaults to 16 * numSramBanks bytes
// per spec, matching the hardware's bank-interleave granularity.
type Allocator struct {
	capacity  int64
	alignment int64
	free      []chunk // kept sorted by begin, non-overlapping
	used      []chunk // kept sorted by begin, non-overlapping
}

// New returns an Allocator over [0, capacity) whose default alignment
// is 16 * numSramBanks bytes. numSramBanks must be >= 1.
func New(capacity int64, numSramBanks int) *Allocator {
	a := &Allocator{
		capacity:  capacity,
		alignment: alignOf(numSramBanks),
	}
	a.Reset()
	return a
}

func alignOf(numSramBanks int) int64 {
	return int64(16 * numSramBanks)
}

// Reset restores the initial single free chunk covering the whole
// capacity, discarding every outstanding allocation.
func (a *Allocator) Reset() {
	a.free = []chunk{{begin: 0, end: a.capacity}}
	a.used = a.used[:0]
}

// alignUp rounds n up to the nearest multiple of align.
func alignUp[T constraints.Integer](n, align T) T {
	if align <= 0 {
		return n
	}
	rem := n % align
	if rem == 0 {
		return n
	}
	return n + (align - rem)
}

// Allocate reserves size bytes (rounded up to alignment, or the
// Allocator's default alignment if alignment <= 0) with the given
// placement Preference, scanning free chunks front-to-back for Start
// or back-to-front for End, and returns the chosen offset. It returns
// (0, false) if no free chunk is large enough (spec: AllocationFailure
// is never propagated as an error by callers; it is silently pruned).
func (a *Allocator) Allocate(size int64, pref Preference, alignment int64, tag string) (int64, bool) {
	if alignment <= 0 {
		alignment = a.alignment
	}
	size = alignUp(size, alignment)
	if size <= 0 {
		size = alignment
	}

	if pref == Start {
		for i := 0; i < len(a.free); i++ {
			if off, ok := a.tryFit(i, size, alignment, false); ok {
				a.commit(off, size, tag)
				return off, true
			}
		}
	} else {
		for i := len(a.free) - 1; i >= 0; i-- {
			if off, ok := a.tryFit(i, size, alignment, true); ok {
				a.commit(off, size, tag)
				return off, true
			}
		}
	}
	return 0, false
}

// tryFit checks whether free chunk i can satisfy an aligned
// allocation of size bytes. fromEnd places the allocation against the
// end of the chunk instead of the beginning, matching the "scan
// back-to-front" End preference's intent of packing high addresses
// first.
func (a *Allocator) tryFit(i int, size, alignment int64, fromEnd bool) (int64, bool) {
	c := a.free[i]
	if fromEnd {
		off := alignDown(c.end-size, alignment)
		if off >= c.begin && off+size <= c.end {
			return off, true
		}
		return 0, false
	}
	off := alignUp(c.begin, alignment)
	if off+size <= c.end {
		return off, true
	}
	return 0, false
}

func alignDown(n, align int64) int64 {
	if align <= 0 {
		return n
	}
	return n - (n % align)
}

// commit splits the free chunk containing [offset, offset+size) out
// of the free list and records it as used.
func (a *Allocator) commit(offset, size int64, tag string) {
	for i, c := range a.free {
		if offset >= c.begin && offset+size <= c.end {
			var rest []chunk
			if c.begin < offset {
				rest = append(rest, chunk{begin: c.begin, end: offset})
			}
			if offset+size < c.end {
				rest = append(rest, chunk{begin: offset + size, end: c.end})
			}
			a.free = append(a.free[:i], append(rest, a.free[i+1:]...)...)
			break
		}
	}
	a.used = insertSorted(a.used, chunk{begin: offset, end: offset + size, tag: tag})
}

func insertSorted(cs []chunk, c chunk) []chunk {
	i := sort.Search(len(cs), func(i int) bool { return cs[i].begin >= c.begin })
	cs = append(cs, chunk{})
	copy(cs[i+1:], cs[i:])
	cs[i] = c
	return cs
}

// Free releases the used chunk starting at offset and coalesces it
// with any adjacent free chunks. Freeing an offset that is not the
// start of a currently-used chunk panics (spec §4.1: "freeing an
// unknown offset is an error (assertion)").
func (a *Allocator) Free(offset int64) {
	idx := -1
	for i, c := range a.used {
		if c.begin == offset {
			idx = i
			break
		}
	}
	if idx < 0 {
		panic(fmt.Sprintf("alloc: free of unknown offset %d", offset))
	}
	c := a.used[idx]
	a.used = append(a.used[:idx], a.used[idx+1:]...)
	a.free = insertSorted(a.free, chunk{begin: c.begin, end: c.end})
	a.coalesce()
}

// coalesce merges adjacent (touching) free chunks.
func (a *Allocator) coalesce() {
	out := a.free[:0]
	for _, c := range a.free {
		if n := len(out); n > 0 && out[n-1].end == c.begin {
			out[n-1].end = c.end
			continue
		}
		out = append(out, c)
	}
	a.free = out
}

// Capacity returns the total size of the address space.
func (a *Allocator) Capacity() int64 { return a.capacity }

// UsedBytes returns the sum of all currently-outstanding allocations.
func (a *Allocator) UsedBytes() int64 {
	var total int64
	for _, c := range a.used {
		total += c.size()
	}
	return total
}

// Clone returns a deep copy of a, so that a SectionContext can
// speculatively attempt allocations without mutating the context it
// branched from (spec §4.3/§7: pruning paths must not mutate the
// enclosing SectionContext).
func (a *Allocator) Clone() *Allocator {
	b := &Allocator{capacity: a.capacity, alignment: a.alignment}
	b.free = append([]chunk(nil), a.free...)
	b.used = append([]chunk(nil), a.used...)
	return b
}
