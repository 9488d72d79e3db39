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
	"os"
	"strconv"
	"strings"

	"github.com/npucc/combiner/combo"
	"github.com/npucc/combiner/graph"
	"github.com/npucc/combiner/internal/dumpfs"
	"github.com/npucc/combiner/internal/estimatecache"
	"github.com/npucc/combiner/internal/threadpool"
	"github.com/npucc/combiner/npplan"
)

// DebugPartIDsVar is the environment variable restricting debug dumps
// to a subset of Parts (spec §6 CLI surface).
const DebugPartIDsVar = "ETHOSN_SUPPORT_LIBRARY_DEBUG_PART_IDS"

// Driver bundles every external collaborator (spec §6) plus the
// internal services the five phases share, and runs them in sequence
// via Run.
type Driver struct {
	Graph     npplan.PartGraph
	Plans     npplan.PlanGenerator
	Weights   npplan.WeightPreprocessor
	Estimator npplan.Estimator
	Oracle    npplan.FormatOracle
	Caps      npplan.Capabilities

	Pool *threadpool.Pool

	Debug        npplan.DebugLevel
	DebugPartIDs map[npplan.PartID]struct{}
	Dumper       *dumpfs.Dumper

	cache *estimatecache.Cache
}

// New returns a Driver ready to Run. pool may be nil, in which case
// every phase runs synchronously (equivalent to threadpool.New(0)).
func New(pg npplan.PartGraph, plans npplan.PlanGenerator, weights npplan.WeightPreprocessor, est npplan.Estimator, oracle npplan.FormatOracle, caps npplan.Capabilities, pool *threadpool.Pool) *Driver {
	if pool == nil {
		pool = threadpool.New(0)
	}
	return &Driver{
		Graph:     pg,
		Plans:     plans,
		Weights:   weights,
		Estimator: est,
		Oracle:    oracle,
		Caps:      caps,
		Pool:      pool,
		cache:     estimatecache.New(),
	}
}

// ParseDebugPartIDs parses the comma-separated ETHOSN_SUPPORT_LIBRARY_DEBUG_PART_IDS
// value (spec §6): an empty string means every Part is eligible for
// dumping (the returned map is nil, and shouldDump treats a nil map as
// "no restriction").
func ParseDebugPartIDs(v string) map[npplan.PartID]struct{} {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	out := make(map[npplan.PartID]struct{})
	for _, field := range strings.Split(v, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		out[npplan.PartID(n)] = struct{}{}
	}
	return out
}

// NewFromEnv additionally configures Debug/DebugPartIDs/Dumper from
// the process environment (spec §6 CLI surface): dumpRoot is where
// .dot artifacts are written if DebugLevel is above DebugNone.
func NewFromEnv(pg npplan.PartGraph, plans npplan.PlanGenerator, weights npplan.WeightPreprocessor, est npplan.Estimator, oracle npplan.FormatOracle, caps npplan.Capabilities, debug npplan.DebugLevel, dumpRoot string) *Driver {
	d := New(pg, plans, weights, est, oracle, caps, threadpool.NewFromEnv(threadpool.EnvThreadsVar))
	d.Debug = debug
	d.DebugPartIDs = ParseDebugPartIDs(os.Getenv(DebugPartIDsVar))
	if debug != npplan.DebugNone {
		d.Dumper = dumpfs.New(dumpRoot, debug == npplan.DebugHigh)
	}
	return d
}

func (d *Driver) shouldDump(part npplan.PartID) bool {
	if d.Dumper == nil || d.Debug == npplan.DebugNone {
		return false
	}
	if d.DebugPartIDs == nil {
		return true
	}
	_, ok := d.DebugPartIDs[part]
	return ok
}

// Select runs Phases 1 through 3 (spec §4.5) and returns the lowest-
// metric Combination spanning every Part, before any glue has been
// inserted. Run calls this internally; it is exported separately so
// callers (and tests) can inspect the chosen Metric without forcing a
// full merge.
func (d *Driver) Select() (combo.Combination, error) {
	ids := d.Graph.PartIDs()
	n := len(ids)
	if n == 0 {
		return combo.Empty, nil
	}

	lonely, err := d.phase1(n)
	if err != nil {
		return combo.Empty, err
	}

	sections, err := d.phase2(n)
	if err != nil {
		return combo.Empty, err
	}

	best := d.phase3(n, lonely, sections)[0]
	if !best.Valid {
		return combo.Empty, ErrNoValidCombination
	}
	return best, nil
}

// Run executes Phases 1 through 5 (spec §4.5) and returns the single
// merged OpGraph for the whole part graph.
func (d *Driver) Run() (*graph.OpGraph, error) {
	if len(d.Graph.PartIDs()) == 0 {
		return graph.NewOpGraph(), nil
	}

	best, err := d.Select()
	if err != nil {
		return nil, err
	}

	if err := d.phase4(&best); err != nil {
		return nil, err
	}

	return mergeFinal(d.Graph, best), nil
}
