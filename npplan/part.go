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

// Package npplan defines the data model and external-collaborator
// interfaces the combiner drives: PartID/Slot/Plan (spec §3, §4.2)
// and the narrow PartGraph/PlanGenerator/Estimator/FormatOracle/
// Capabilities contracts of spec §6.
package npplan

import "fmt"

// PartID is a dense non-negative integer. Parts in the input graph
// are numbered so that topological order equals numeric order.
type PartID int

// SlotIndex identifies one input or output port of a Part.
type SlotIndex int

// Slot is a (PartID, index) pair identifying one input or output
// port of a Part.
type Slot struct {
	Part  PartID
	Index SlotIndex
}

func (s Slot) String() string { return fmt.Sprintf("Part%d[%d]", s.Part, s.Index) }

// Connection is an edge from one output Slot to one input Slot. An
// output Slot may feed many input Slots, but each input Slot is fed
// by exactly one output Slot.
type Connection struct {
	Output Slot
	Input  Slot
}

func (c Connection) String() string { return fmt.Sprintf("%s -> %s", c.Output, c.Input) }

// Part is an independently-plannable unit of the computation graph.
// The combiner treats Part as largely opaque beyond its identity and
// slot counts; richer metadata lives behind the PartGraph interface.
type Part struct {
	ID         PartID
	NumInputs  int
	NumOutputs int
}

func (p Part) Inputs() []Slot {
	s := make([]Slot, p.NumInputs)
	for i := range s {
		s[i] = Slot{Part: p.ID, Index: SlotIndex(i)}
	}
	return s
}

func (p Part) Outputs() []Slot {
	s := make([]Slot, p.NumOutputs)
	for i := range s {
		s[i] = Slot{Part: p.ID, Index: SlotIndex(i)}
	}
	return s
}

// PartGraph is the read-only view of the partitioned computation
// graph (spec §6.1). It is an external collaborator: the combiner
// never mutates it.
type PartGraph interface {
	PartIDs() []PartID
	Part(id PartID) Part
	Inputs(id PartID) []Slot
	Outputs(id PartID) []Slot
	SourceConnections(id PartID) []Connection
	DestinationConnections(id PartID) []Connection
	ConnectedInputSlots(output Slot) []Slot
	ConnectedOutputSlot(input Slot) (Slot, bool)
}
