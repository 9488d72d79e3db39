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
	"testing"

	"github.com/npucc/combiner/graph"
	"github.com/npucc/combiner/npplan"
)

func planFor(part npplan.PartID) *npplan.Plan {
	return &npplan.Plan{Part: part, Graph: graph.NewOpGraph()}
}

func TestCombinationConcatAssociative(t *testing.T) {
	a := Single(0, planFor(0), 1.0)
	b := Single(1, planFor(1), 2.0)
	c := Single(2, planFor(2), 3.0)

	left := a.Concat(b).Concat(c)
	right := a.Concat(b.Concat(c))

	if left.First != right.First || left.End != right.End {
		t.Fatalf("associativity broke range: left=[%d,%d) right=[%d,%d)", left.First, left.End, right.First, right.End)
	}
	if left.Metric != right.Metric {
		t.Fatalf("associativity broke metric: left=%g right=%g", left.Metric, right.Metric)
	}
	if len(left.Entries) != 3 || len(right.Entries) != 3 {
		t.Fatalf("expected 3 entries each, got %d and %d", len(left.Entries), len(right.Entries))
	}
}

func TestCombinationConcatEmptyPropagates(t *testing.T) {
	a := Single(0, planFor(0), 1.0)
	if got := a.Concat(Empty); got.Valid {
		t.Fatalf("expected Concat with Empty to yield Empty, got %v", got)
	}
	if got := Empty.Concat(a); got.Valid {
		t.Fatalf("expected Concat from Empty to yield Empty, got %v", got)
	}
}

func TestCombinationConcatRequiresAbuttingRange(t *testing.T) {
	a := Single(0, planFor(0), 1.0)
	c := Single(2, planFor(2), 1.0)
	if got := a.Concat(c); got.Valid {
		t.Fatalf("expected Concat across a gap to yield Empty, got %v", got)
	}
}

func TestEntrySetGlueTwicePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on re-setting an ending glue")
		}
	}()
	e := newEntry(0, planFor(0))
	slot := npplan.Slot{Part: 0, Index: 0}
	e.SetEndingGlue(slot, NewEndingGlue())
	e.SetEndingGlue(slot, NewEndingGlue())
}

func TestGlueIsEmpty(t *testing.T) {
	eg := NewEndingGlue()
	if !eg.IsEmpty() {
		t.Fatalf("fresh EndingGlue should be empty")
	}
	eg.ExternalConnections = append(eg.ExternalConnections, ExternalConnection{})
	if eg.IsEmpty() {
		t.Fatalf("EndingGlue with an external connection should not be empty")
	}

	sg := NewStartingGlue()
	if !sg.IsEmpty() {
		t.Fatalf("fresh StartingGlue should be empty")
	}
	sg.ReplacementBuffers[0] = 1
	if sg.IsEmpty() {
		t.Fatalf("StartingGlue with a replacement buffer should not be empty")
	}
}
