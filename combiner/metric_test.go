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

	"github.com/npucc/combiner/npplan"
)

// TestSelectMetricIsNeverRescoredAfterGlueInsertion documents a
// deliberate property of the five-phase pipeline: the Estimator only
// ever scores a Plan's (or a section's merged) own OpGraph during
// Phase 1/2, before any cross-Part glue exists. Phase 4's glue
// insertion and Phase 5's merge are purely structural and never feed
// back into Select's chosen Metric, so Run's final OpGraph can carry
// real DMA cost that the Metric never accounted for. This is the
// "estimation vs. compile-time glue format drift" tradeoff recorded
// alongside the Combiner Driver's grounding entry.
func TestSelectMetricIsNeverRescoredAfterGlueInsertion(t *testing.T) {
	pg := twoPartGraph()
	gen := newFakePlanGenerator()
	gen.add(0, npplan.Lonely, 1, lonelySourcePlan(0))
	gen.add(1, npplan.Lonely, 1, lonelySinkPlan(1))

	d := New(pg, gen, newCountingWeights(), bufCountEstimator{}, fakeOracle{compatible: true}, npplan.Capabilities{TotalSramSize: 1 << 20, NumSrams: 4, MaxPleSize: 1 << 16}, nil)

	best, err := d.Select()
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	// lonelySourcePlan(0)'s graph has 1 buffer, lonelySinkPlan(1)'s has
	// 2: the bufCountEstimator-scored Metric is exactly their sum,
	// with no allowance for the DMA Phase 4 is about to insert.
	wantMetric := 1.0 + 2.0
	if best.Metric != wantMetric {
		t.Fatalf("Select metric = %v, want %v", best.Metric, wantMetric)
	}

	out, err := d.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Run's merged graph carries a real Dma op that best.Metric never
	// priced in: glue is structural-only, never re-estimated.
	if out.NumOps() != 3 {
		t.Fatalf("expected Run to insert one glue op beyond the two Plans' own ops, got %d total ops", out.NumOps())
	}
}

// TestLonelyCandidatesSkipFailedAllocation documents that a Lonely
// candidate which cannot be allocated (AllocateSram fails) is simply
// excluded from consideration rather than surfacing an error, mirroring
// how a candidate section's over-budget cascade is skipped rather than
// failing the whole driver run (spec §4.3 step 6).
func TestLonelyCandidatesSkipFailedAllocation(t *testing.T) {
	pg := twoPartGraph()
	gen := newFakePlanGenerator()
	tooBig := lonelySourcePlan(0)
	tooBig.Graph.Buffer(tooBig.OutputMapping[npplan.Slot{Part: 0, Index: 0}]).SizeBytes = 1 << 30
	gen.add(0, npplan.Lonely, 1, tooBig)
	gen.add(1, npplan.Lonely, 1, lonelySinkPlan(1))

	d := New(pg, gen, newCountingWeights(), bufCountEstimator{}, fakeOracle{compatible: true}, npplan.Capabilities{TotalSramSize: 1 << 10, NumSrams: 4, MaxPleSize: 1 << 16}, nil)

	if _, err := d.Run(); err != ErrNoValidCombination {
		t.Fatalf("expected ErrNoValidCombination when the only Lonely candidate can't be allocated, got %v", err)
	}
}
