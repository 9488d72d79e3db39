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
	"fmt"
	"io"

	"github.com/npucc/combiner/combo"
	"github.com/npucc/combiner/graph"
	"github.com/npucc/combiner/internal/dumpfs"
	"github.com/npucc/combiner/internal/threadpool"
	"github.com/npucc/combiner/npplan"
	"github.com/npucc/combiner/section"
)

// phase1 computes the best Lonely-phase plan for every Part in
// parallel (spec §4.5 Phase 1): with no neighbors to cascade with, a
// Part's own metric is the only thing that can distinguish its plan
// variants.
func (d *Driver) phase1(n int) ([]combo.Combination, error) {
	futures := make([]*threadpool.Future[combo.Combination], n)
	for i := 0; i < n; i++ {
		part := npplan.PartID(i)
		futures[i] = threadpool.Submit(d.Pool, func(workerID int) (combo.Combination, error) {
			return d.chooseBestLonelyPlan(part)
		})
	}
	vals, errs := threadpool.WaitAll(futures)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return vals, nil
}

// lonelyCandidate is one (Plan, weight-stripe count) variant
// enumerated for one Part's Lonely phase.
type lonelyCandidate struct {
	plan    *npplan.Plan
	index   int
	stripes int
}

// lonelyCandidates mirrors section.cascadeCandidates's double-buffer-
// width rule (spec §4.3 step 3) for a Part with no section to join:
// stripes=1 is always requested, and stripes=2 is requested too iff
// the stripes=1 result reports CanDoubleBufferWeights.
func (d *Driver) lonelyCandidates(part npplan.PartID) ([]lonelyCandidate, error) {
	plans1, err := d.Plans.GetPlans(part, npplan.Lonely, graph.DefaultBlockConfig, nil, 1)
	if err != nil {
		return nil, err
	}
	out := make([]lonelyCandidate, 0, len(plans1))
	for i, p := range plans1 {
		out = append(out, lonelyCandidate{plan: p, index: i, stripes: 1})
	}
	if len(plans1) > 0 && plans1[0].CanDoubleBufferWeights() {
		plans2, err := d.Plans.GetPlans(part, npplan.Lonely, graph.DefaultBlockConfig, nil, 2)
		if err != nil {
			return nil, err
		}
		base := len(out)
		for i, p := range plans2 {
			out = append(out, lonelyCandidate{plan: p, index: base + i, stripes: 2})
		}
	}
	return out, nil
}

// chooseBestLonelyPlan enumerates every Lonely-phase candidate for
// part, scores each that allocates successfully, and returns the
// lowest-metric one as a length-1 Combination.
func (d *Driver) chooseBestLonelyPlan(part npplan.PartID) (combo.Combination, error) {
	candidates, err := d.lonelyCandidates(part)
	if err != nil {
		return combo.Empty, err
	}

	best := combo.Empty
	for i, c := range candidates {
		ctx := section.NewContext(d.Caps)
		if !section.AllocateSram(ctx, part, c.plan, nil) {
			continue
		}
		est, err := d.Estimator.Estimate(c.plan.Graph, d.Caps, npplan.EstimationOptions{DebugLevel: d.Debug})
		if err != nil {
			continue
		}
		cand := combo.Single(part, c.plan, est.Metric)
		d.dumpLonely(part, i, cand)
		if !best.Valid || cand.Metric < best.Metric {
			best = cand
		}
	}
	return best, nil
}

func (d *Driver) dumpLonely(part npplan.PartID, candidateIndex int, c combo.Combination) {
	if !d.shouldDump(part) {
		return
	}
	tag := fmt.Sprintf("candidate%d", candidateIndex)
	e, ok := c.Entry(part)
	if !ok {
		return
	}
	_ = d.Dumper.Write(dumpfs.LonelyPath(int(part), tag, "Detailed"), func(w io.Writer) error {
		return writeDot(w, e.Plan.Graph)
	})
}
