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

package combo

import (
	"fmt"

	"github.com/npucc/combiner/npplan"
)

// Entry is one Part's contribution to a Combination: its chosen Plan,
// plus any glue attached to its input/output slots.
type Entry struct {
	Part          npplan.PartID
	Plan          *npplan.Plan
	EndingGlues   map[npplan.Slot]*EndingGlue
	StartingGlues map[npplan.Slot]*StartingGlue
}

func newEntry(part npplan.PartID, plan *npplan.Plan) Entry {
	return Entry{
		Part:          part,
		Plan:          plan,
		EndingGlues:   make(map[npplan.Slot]*EndingGlue),
		StartingGlues: make(map[npplan.Slot]*StartingGlue),
	}
}

// SetEndingGlue attaches g to slot, panicking if a glue is already
// set there (spec Law L2: re-setting a glue is an InvariantViolation,
// never a silent overwrite).
func (e *Entry) SetEndingGlue(slot npplan.Slot, g *EndingGlue) {
	if _, ok := e.EndingGlues[slot]; ok {
		panic(fmt.Sprintf("combo: ending glue already set for %s", slot))
	}
	e.EndingGlues[slot] = g
}

// SetStartingGlue attaches g to slot, panicking if a glue is already
// set there (spec Law L2).
func (e *Entry) SetStartingGlue(slot npplan.Slot, g *StartingGlue) {
	if _, ok := e.StartingGlues[slot]; ok {
		panic(fmt.Sprintf("combo: starting glue already set for %s", slot))
	}
	e.StartingGlues[slot] = g
}

// Combination is an immutable snapshot of a contiguous range of Parts
// [First, End) with a chosen Plan per Part, optional glue per slot,
// and a scalar Metric (spec §3). The zero value is the canonical
// empty/invalid Combination.
type Combination struct {
	Valid   bool
	First   npplan.PartID
	End     npplan.PartID
	Entries []Entry
	Metric  float64
}

// Empty is the invalid/absent Combination.
var Empty = Combination{}

// Single returns a length-1 Combination for one Part's chosen Plan.
func Single(part npplan.PartID, plan *npplan.Plan, metric float64) Combination {
	return Combination{
		Valid:   true,
		First:   part,
		End:     part + 1,
		Entries: []Entry{newEntry(part, plan)},
		Metric:  metric,
	}
}

// Len returns the number of Parts spanned by c.
func (c Combination) Len() int { return int(c.End - c.First) }

// Entry returns the Entry for part, or (nil, false) if part is not
// within c's range.
func (c Combination) Entry(part npplan.PartID) (*Entry, bool) {
	if !c.Valid || part < c.First || part >= c.End {
		return nil, false
	}
	return &c.Entries[int(part-c.First)], true
}

// cloneEntry returns a copy of e whose EndingGlues/StartingGlues maps
// are independent of e's. Concat deep-copies every entry it carries
// forward for exactly this reason: a SectionContext clone shares its
// parent's Combination.Entries backing array and the glue maps inside
// it until the next Concat (spec §7, "no partial state mutates the
// enclosing SectionContext") — without this, Section Builder setting
// an internal-boundary glue on one candidate branch (via SetEndingGlue/
// SetStartingGlue) would leak into every sibling branch descended from
// the same ancestor context.
func cloneEntry(e Entry) Entry {
	ne := Entry{
		Part:          e.Part,
		Plan:          e.Plan,
		EndingGlues:   make(map[npplan.Slot]*EndingGlue, len(e.EndingGlues)),
		StartingGlues: make(map[npplan.Slot]*StartingGlue, len(e.StartingGlues)),
	}
	for k, v := range e.EndingGlues {
		ne.EndingGlues[k] = v
	}
	for k, v := range e.StartingGlues {
		ne.StartingGlues[k] = v
	}
	return ne
}

// Concat appends b after a, requiring a.End == b.First (spec §3). If
// either a or b is invalid/empty, or the ranges don't abut, Concat
// returns Empty — invalidity always propagates (spec Law P2).
func (a Combination) Concat(b Combination) Combination {
	if !a.Valid || !b.Valid {
		return Empty
	}
	if a.End != b.First {
		return Empty
	}
	entries := make([]Entry, 0, len(a.Entries)+len(b.Entries))
	for _, e := range a.Entries {
		entries = append(entries, cloneEntry(e))
	}
	for _, e := range b.Entries {
		entries = append(entries, cloneEntry(e))
	}
	return Combination{
		Valid:   true,
		First:   a.First,
		End:     b.End,
		Entries: entries,
		Metric:  a.Metric + b.Metric,
	}
}

// String implements fmt.Stringer for debug dumps.
func (c Combination) String() string {
	if !c.Valid {
		return "Combination(empty)"
	}
	return fmt.Sprintf("Combination([%d,%d), metric=%g)", c.First, c.End, c.Metric)
}
