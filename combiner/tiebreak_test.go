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

package combiner

import (
	"testing"

	"github.com/npucc/combiner/combo"
	"github.com/npucc/combiner/npplan"
)

func plan(part npplan.PartID) *npplan.Plan {
	return cascadePlan(part, false, false)
}

// TestTailSolvePrefersLonelyOverEqualMetricSection documents the
// decision that a tie between the Lonely-plan option and a section
// starting at the same Part is broken in favor of the Lonely plan,
// since it is tried first and tailSolve only replaces tail[i] on a
// strictly lower metric.
func TestTailSolvePrefersLonelyOverEqualMetricSection(t *testing.T) {
	n := 2
	lonely := []combo.Combination{
		combo.Single(0, plan(0), 5),
		combo.Single(1, plan(1), 0),
	}
	section := combo.Single(0, plan(0), 5)
	section.End = 2
	sections := [][]combo.Combination{
		{combo.Empty, combo.Empty, section},
		{combo.Empty, combo.Empty},
	}

	tail := tailSolve(n, lonely, sections)

	if len(tail[0].Entries) != 2 {
		t.Fatalf("expected the Lonely-plan chain (2 entries) to win the tie, got %d entries", len(tail[0].Entries))
	}
	if _, ok := tail[0].Entry(0); !ok {
		t.Fatalf("expected part 0's entry to come from the Lonely-plan chain")
	}
}

// TestTailSolvePrefersStrictlyLowerMetricSection documents the
// complementary case: when a section's metric is strictly lower than
// the Lonely-plan chain's, the section wins even though it is tried
// second in the inner loop.
func TestTailSolvePrefersStrictlyLowerMetricSection(t *testing.T) {
	n := 2
	lonely := []combo.Combination{
		combo.Single(0, plan(0), 5),
		combo.Single(1, plan(1), 5),
	}
	section := combo.Single(0, plan(0), 1)
	section.End = 2
	sections := [][]combo.Combination{
		{combo.Empty, combo.Empty, section},
		{combo.Empty, combo.Empty},
	}

	tail := tailSolve(n, lonely, sections)

	if tail[0].Metric != 1 {
		t.Fatalf("expected the lower-metric section to win, got metric %v", tail[0].Metric)
	}
}

// TestTailSolveShortestValidLengthWinsAmongEqualSections documents
// ascending-length iteration order: among two sections starting at
// the same Part with equal metric, the shorter one (found first) wins.
func TestTailSolveShortestValidLengthWinsAmongEqualSections(t *testing.T) {
	n := 3
	lonely := []combo.Combination{
		combo.Single(0, plan(0), 9),
		combo.Single(1, plan(1), 9),
		combo.Single(2, plan(2), 9),
	}
	shortPlan, longPlan := plan(0), plan(0)
	short := combo.Single(0, shortPlan, 2)
	short.End = 2
	// long spans all the way to n, so it never pays lonely[2]'s cost;
	// its own Metric is set so that its total (long.Metric + 0, since
	// it concatenates with the neutral tail) exactly matches short's
	// total (short.Metric + lonely[2].Metric), producing a genuine tie.
	long := combo.Single(0, longPlan, 11)
	long.End = 3
	sections := [][]combo.Combination{
		{combo.Empty, combo.Empty, short, long},
		{combo.Empty, combo.Empty, combo.Empty},
		{combo.Empty, combo.Empty},
	}

	tail := tailSolve(n, lonely, sections)

	if tail[0].Metric != 11 {
		t.Fatalf("expected both candidates to tie at metric 11, got %v", tail[0].Metric)
	}
	got, ok := tail[0].Entry(0)
	if !ok || got.Plan != shortPlan {
		t.Fatalf("expected the shorter equal-metric section (tried first) to win the tie")
	}
}
