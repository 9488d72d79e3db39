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

	"github.com/npucc/combiner/graph"
)

// writeDot renders g as dot(1)-compatible text (spec §6 CLI surface),
// one node per Op plus one node per producer-less Buffer (a graph
// input or a dead/orphaned buffer), with edges drawn from an Op's
// inputs to the Op itself.
func writeDot(dst io.Writer, g *graph.OpGraph) error {
	if _, err := io.WriteString(dst, "digraph combination {\n"); err != nil {
		return err
	}

	g.Ops(func(h graph.OpHandle) {
		op := g.Op(h)
		fmt.Fprintf(dst, "op%d [shape=box, label=%q];\n", h, op.String())
		for _, in := range op.Inputs() {
			fmt.Fprintf(dst, "buf%d -> op%d;\n", in, h)
		}
	})

	g.Buffers(func(h graph.BufferHandle) {
		if producer, ok := g.Producer(h); ok {
			fmt.Fprintf(dst, "op%d -> buf%d;\n", producer, h)
			return
		}
		fmt.Fprintf(dst, "buf%d [shape=ellipse, label=%q];\n", h, g.Buffer(h).String())
	})

	_, err := io.WriteString(dst, "}\n")
	return err
}
