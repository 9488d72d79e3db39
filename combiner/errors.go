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

// Package combiner drives the five-phase search that turns a
// partitioned computation graph into one merged OpGraph (spec §4.5):
// best lonely plan per Part, sections of every length per starting
// Part, a tail dynamic-programming solve over both, boundary glue
// insertion, and a final arena merge.
package combiner

import "errors"

// ErrNoValidCombination is returned when Phase 3's tail solve leaves
// no valid Combination spanning every Part (spec §7).
var ErrNoValidCombination = errors.New("combiner: no combination covers the full part graph")

// ErrInvariantViolation is returned when a Combination Phase 3 selects
// already carries a glue where Phase 4 expects to insert one, or any
// other internal bookkeeping invariant the driver itself is
// responsible for maintaining is found broken (spec §7). This should
// never happen; it exists to turn a silent corruption into a loud
// failure rather than a SetEndingGlue/SetStartingGlue panic deep in
// the merge pass.
var ErrInvariantViolation = errors.New("combiner: invariant violation")
