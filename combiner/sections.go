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

	"golang.org/x/sync/singleflight"

	"github.com/npucc/combiner/combo"
	"github.com/npucc/combiner/graph"
	"github.com/npucc/combiner/internal/dumpfs"
	"github.com/npucc/combiner/internal/threadpool"
	"github.com/npucc/combiner/npplan"
	"github.com/npucc/combiner/section"
)

// preprocessingPlans wraps a PlanGenerator so that every GetPlans call
// for a given Part fires WeightPreprocessor.PreprocessWeightsAsync
// before returning, except that concurrent callers for the same Part
// share one in-flight preprocessing call rather than each firing their
// own; a call made after that one has finished fires again (spec
// §4.5 Phase 2, SUPPLEMENTED FEATURES: singleflight dedup).
type preprocessingPlans struct {
	gen     npplan.PlanGenerator
	weights npplan.WeightPreprocessor
	sf      singleflight.Group
}

func (p *preprocessingPlans) GetPlans(part npplan.PartID, phase npplan.CascadePhase, bc graph.BlockConfig, inputs []*graph.Buffer, numWeightStripes int) ([]*npplan.Plan, error) {
	key := fmt.Sprintf("%d", part)
	p.sf.Do(key, func() (interface{}, error) {
		p.weights.PreprocessWeightsAsync(part)
		return nil, nil
	})
	return p.gen.GetPlans(part, phase, bc, inputs, numWeightStripes)
}

// phase2 computes, for every starting Part in parallel, the best
// section found at each length (spec §4.5 Phase 2).
func (d *Driver) phase2(n int) ([][]combo.Combination, error) {
	pp := &preprocessingPlans{gen: d.Plans, weights: d.Weights}
	b := &section.Builder{
		Graph: d.Graph,
		Plans: pp,
		Est:   d.Estimator,
		Cache: d.cache,
		Caps:  d.Caps,
	}

	// A section spans at least two Parts, so there is nothing to
	// enumerate starting at the last Part — tailSolve never looks at
	// sections[n-1] for the same reason (its inner loop only runs
	// while a section of length >= 2 could still fit before n).
	last := n - 1
	futures := make([]*threadpool.Future[[]combo.Combination], last)
	for i := 0; i < last; i++ {
		start := npplan.PartID(i)
		futures[i] = threadpool.Submit(d.Pool, func(workerID int) ([]combo.Combination, error) {
			lens, err := section.CalculateSectionsOfAllLengths(b, start)
			if err != nil {
				return nil, err
			}
			d.dumpSections(start, lens)
			return lens, nil
		})
	}
	vals, errs := threadpool.WaitAll(futures)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	sections := make([][]combo.Combination, n)
	copy(sections, vals)
	return sections, nil
}

func (d *Driver) dumpSections(start npplan.PartID, lens []combo.Combination) {
	if !d.shouldDump(start) {
		return
	}
	for length, c := range lens {
		if !c.Valid {
			continue
		}
		merged := graph.NewOpGraph()
		for i := range c.Entries {
			merged.Merge(c.Entries[i].Plan.Graph)
		}
		l := length
		_ = d.Dumper.Write(dumpfs.SectionPath(int(start), l), func(w io.Writer) error {
			return writeDot(w, merged)
		})
	}
}
