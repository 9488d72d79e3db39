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
	"github.com/npucc/combiner/combo"
	"github.com/npucc/combiner/npplan"
)

// neutralTail returns the identity Combination for the tail solve: a
// valid, zero-length Combination sitting exactly at part n (one past
// the last real Part), so that Concat-ing it onto a Combination ending
// at n is a no-op. This isn't a real Part-0 Combination — it only
// exists so best[n] participates in Concat the same way any real
// best[i] does, rather than requiring the loop below to special-case
// the last Part.
func neutralTail(n int) combo.Combination {
	end := npplan.PartID(n)
	return combo.Combination{Valid: true, First: end, End: end}
}

// tailSolve runs the tail dynamic program (spec §4.5 Phase 3): for
// each starting Part i, working right to left, it picks the
// lowest-metric way to cover [i, n) out of "the Lonely plan for i plus
// whatever covers the rest" and "each section starting at i plus
// whatever covers the rest of that section's tail". Ties are broken by
// the natural iteration order: the Lonely-plan option is tried first,
// then sections in ascending length order, and a later candidate only
// replaces the current best on a strictly lower metric.
func tailSolve(n int, lonely []combo.Combination, sections [][]combo.Combination) []combo.Combination {
	tail := make([]combo.Combination, n+1)
	tail[n] = neutralTail(n)

	for i := n - 1; i >= 0; i-- {
		tail[i] = lonely[i].Concat(tail[i+1])

		maxLen := n - i
		for length := 2; length <= maxLen; length++ {
			if length >= len(sections[i]) {
				continue
			}
			sec := sections[i][length]
			if !sec.Valid {
				continue
			}
			candidate := sec.Concat(tail[i+length])
			if !candidate.Valid {
				continue
			}
			if !tail[i].Valid || candidate.Metric < tail[i].Metric {
				tail[i] = candidate
			}
		}
	}
	return tail
}

// phase3 is a thin wrapper over tailSolve kept for symmetry with the
// other phaseN driver methods.
func (d *Driver) phase3(n int, lonely []combo.Combination, sections [][]combo.Combination) []combo.Combination {
	return tailSolve(n, lonely, sections)
}
