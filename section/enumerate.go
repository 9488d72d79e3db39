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

package section

import (
	"github.com/npucc/combiner/combo"
	"github.com/npucc/combiner/npplan"
)

// column holds the as-yet-untried SectionContexts that all end with
// the same last-added Part, mirroring the recursive enumeration's
// call stack (spec §4.3 CalculateSectionsOfAllLengths, §9 design note
// on replacing the recursion with an explicit stack).
type column struct {
	part  npplan.PartID
	items []*SectionContext
}

// CalculateSectionsOfAllLengths enumerates every cascade starting at
// startingPart, returning the best (lowest-metric) Combination found
// at each length. A section always spans at least the starting Part
// plus one further Part (Beginning and End are necessarily distinct
// plan phases), so result[0] and result[1] are always combo.Empty;
// lengths actually produced start at index 2.
func CalculateSectionsOfAllLengths(b *Builder, startingPart npplan.PartID) ([]combo.Combination, error) {
	// lastPartID bounds nextPart below: it is the highest Part ID in the
	// graph, so a nextPart beyond it names no Part at all (for Parts
	// numbered densely from 0 this is the original's
	// `partId < numParts - 1` guard before pushing a continuation column).
	var lastPartID npplan.PartID
	for _, id := range b.Graph.PartIDs() {
		if id > lastPartID {
			lastPartID = id
		}
	}

	start, err := StartSection(b, startingPart)
	if err != nil {
		return nil, err
	}
	results := []combo.Combination{combo.Empty, combo.Empty}
	if len(start) == 0 {
		return results, nil
	}

	stack := []column{{part: startingPart, items: start}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if len(top.items) == 0 {
			stack = stack[:len(stack)-1]
			continue
		}
		ctx := top.items[len(top.items)-1]
		top.items = top.items[:len(top.items)-1]

		nextPart := top.part + 1
		if nextPart > lastPartID {
			// top.part is already the last Part; there is no further
			// Part to end or continue the section at.
			continue
		}

		ends, err := EndSection(b, nextPart, ctx)
		if err != nil {
			return nil, err
		}
		if len(ends) > 0 {
			length := int(nextPart-startingPart) + 1
			for len(results) <= length {
				results = append(results, combo.Empty)
			}
			for _, c := range ends {
				// Ties keep whichever candidate was visited first
				// (spec §9 open question on tie-break ordering).
				if !results[length].Valid || c.Metric < results[length].Metric {
					results[length] = c
				}
			}
		}

		if nextPart < lastPartID {
			continued, err := ContinueSection(b, nextPart, ctx)
			if err != nil {
				return nil, err
			}
			if len(continued) > 0 {
				stack = append(stack, column{part: nextPart, items: continued})
			}
		}
	}
	return results, nil
}
