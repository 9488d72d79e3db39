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

// Package estimatecache memoizes Estimator calls across every
// CalculateSectionsOfAllLengths invocation that shares one Cache (the
// combiner Driver keeps a single Cache for its lifetime) (SPEC_FULL.md §4
// SUPPLEMENTED FEATURES). It never changes which Combination wins;
// it only avoids re-scoring numerically identical candidates that
// recur as a common prefix of overlapping section lengths.
package estimatecache

import (
	"encoding/binary"
	"sync"

	"github.com/dchest/siphash"
)

// Key is a content hash of an EndSection candidate's sequence of
// chosen (Part, Plan identity, weight-stripe count) tuples. The block
// configuration is not folded into it. Internal glues carry no ops at
// estimation time (spec §4.5 Phase 4), so they never enter the key.
type Key uint64

// Builder incrementally derives a Key for one candidate section by
// folding in each Part's chosen plan identity as the section grows,
// so a cache lookup for a length-L candidate can reuse the hash state
// already computed for its length-(L-1) prefix.
type Builder struct {
	k0, k1 uint64
	buf    [8]byte
}

// NewBuilder seeds a Builder with a fixed key; the specific constants
// only need to be stable across one process run; they do not need to
// be cryptographically secret.
func NewBuilder() *Builder {
	return &Builder{k0: 0x706172745f636f6d, k1: 0x62696e65725f6b6579}
}

// Fold mixes planIdentity (a caller-chosen stable identifier for one
// chosen Plan, e.g. its slice index within the candidate list
// returned by the plan generator) and numWeightStripes into the
// running hash and returns the Key for the section built so far.
func (b *Builder) Fold(partID int, planIdentity int, numWeightStripes int) Key {
	binary.LittleEndian.PutUint64(b.buf[:], uint64(partID)<<32|uint64(uint32(planIdentity)))
	b.k0 = siphash.Hash(b.k0, b.k1, b.buf[:])
	binary.LittleEndian.PutUint64(b.buf[:], uint64(numWeightStripes))
	b.k1 = siphash.Hash(b.k1, b.k0, b.buf[:])
	return Key(b.k0 ^ b.k1)
}

// Clone returns an independent copy of the Builder so that two
// candidate sections sharing a prefix can diverge without disturbing
// each other's hash state.
func (b *Builder) Clone() *Builder {
	c := *b
	return &c
}

// Cache memoizes a Metric per Key. It is safe for concurrent use: the
// Section Builder runs one enumeration per starting Part in parallel
// (spec §4.5 Phase 2), and distinct starting Parts may still overlap
// on cached keys when they happen to choose identical plan sequences.
type Cache struct {
	mu sync.RWMutex
	m  map[Key]float64
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{m: make(map[Key]float64)}
}

// Get returns the memoized metric for key, if any.
func (c *Cache) Get(key Key) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[key]
	return v, ok
}

// Put records metric for key. It never overwrites an existing entry:
// the Estimator is assumed deterministic for an identical input, so
// the first recorded value is as good as any later one, and keeping
// the first avoids a benign race between two goroutines computing the
// same key concurrently.
func (c *Cache) Put(key Key, metric float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.m[key]; !ok {
		c.m[key] = metric
	}
}

// Len returns the number of memoized entries (exposed for tests and
// debug-dump statistics).
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}
