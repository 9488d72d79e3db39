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

package capsconfig

import "testing"

const fixture = `
name: n78-small
capabilities:
  totalSramSize: 1048576
  numSrams: 4
  maxPleSize: 16384
blockConfig:
  width: 16
  height: 16
numSramBanks: 4
`

func TestParseProfile(t *testing.T) {
	p, err := Parse([]byte(fixture))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Name != "n78-small" {
		t.Fatalf("unexpected name %q", p.Name)
	}
	if p.Capabilities.TotalSramSize != 1048576 || p.Capabilities.NumSrams != 4 {
		t.Fatalf("unexpected capabilities: %+v", p.Capabilities)
	}
	if p.BlockConfig.Width != 16 || p.BlockConfig.Height != 16 {
		t.Fatalf("unexpected block config: %+v", p.BlockConfig)
	}
	if p.NumSramBanks != 4 {
		t.Fatalf("unexpected numSramBanks: %d", p.NumSramBanks)
	}
}

func TestParseDefaultsBlockConfigAndBanks(t *testing.T) {
	p, err := Parse([]byte(`name: minimal
capabilities:
  totalSramSize: 2048
  numSrams: 1
  maxPleSize: 1024
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.NumSramBanks != 1 {
		t.Fatalf("expected default NumSramBanks=1, got %d", p.NumSramBanks)
	}
	if p.BlockConfig.Width != 16 || p.BlockConfig.Height != 16 {
		t.Fatalf("expected default block config, got %+v", p.BlockConfig)
	}
}
