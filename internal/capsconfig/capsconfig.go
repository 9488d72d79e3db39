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

// Package capsconfig loads YAML-described hardware-capability and
// default block-config fixtures (SPEC_FULL.md §4 SUPPLEMENTED
// FEATURES), so tests and the debug harness have a concrete,
// realizable Capabilities to drive the combiner against. Modeled on
// elasticproxy/proxy_http's YAML-configured handler chain in the
// teacher repo.
package capsconfig

import (
	"sigs.k8s.io/yaml"

	"github.com/npucc/combiner/graph"
	"github.com/npucc/combiner/npplan"
)

// Profile is one named hardware/default-config fixture.
type Profile struct {
	Name          string            `json:"name"`
	Capabilities  npplan.Capabilities `json:"capabilities"`
	BlockConfig   graph.BlockConfig `json:"blockConfig"`
	NumSramBanks  int               `json:"numSramBanks"`
}

// Parse decodes a YAML document containing one Profile.
func Parse(data []byte) (Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, err
	}
	if p.NumSramBanks <= 0 {
		p.NumSramBanks = 1
	}
	if p.BlockConfig == (graph.BlockConfig{}) {
		p.BlockConfig = graph.DefaultBlockConfig
	}
	return p, nil
}

// ParseAll decodes a YAML document containing a list of Profiles,
// keyed by Name.
func ParseAll(data []byte) (map[string]Profile, error) {
	var list []Profile
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	out := make(map[string]Profile, len(list))
	for _, p := range list {
		if p.NumSramBanks <= 0 {
			p.NumSramBanks = 1
		}
		if p.BlockConfig == (graph.BlockConfig{}) {
			p.BlockConfig = graph.DefaultBlockConfig
		}
		out[p.Name] = p
	}
	return out, nil
}
