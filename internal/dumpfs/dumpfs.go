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

// Package dumpfs writes the combiner's debug .dot artifacts (spec §6
// CLI surface): one uuid-named directory per Combiner run, with
// optional zstd bundling when a run is expected to produce many
// candidate dumps (DebugLevel::High). Modeled on plan.Graphviz's
// dot-writer shape and cmd/dump's file-per-artifact convention in the
// teacher repo.
package dumpfs

import (
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// Dumper writes debug artifacts under root/<run-id>/....
type Dumper struct {
	root     string
	runID    uuid.UUID
	compress bool
}

// New returns a Dumper rooted at root, with a freshly generated run
// ID. compress zstd-encodes every written artifact; this should be
// enabled once a run is known to dump a large number of candidates
// (spec §6: DebugLevel::High dumps one file per candidate considered
// in Driver Phase 1).
func New(root string, compress bool) *Dumper {
	return &Dumper{root: root, runID: uuid.New(), compress: compress}
}

// RunID returns this Dumper's run identifier.
func (d *Dumper) RunID() uuid.UUID { return d.runID }

// RunDir returns the directory this Dumper's artifacts live under.
func (d *Dumper) RunDir() string { return filepath.Join(d.root, d.runID.String()) }

// Write creates relPath under RunDir (creating parent directories as
// needed) and calls fn with a writer for its contents. If compress is
// set, a ".zst" suffix is appended to relPath and fn's output is
// zstd-encoded on the fly.
func (d *Dumper) Write(relPath string, fn func(io.Writer) error) (err error) {
	path := filepath.Join(d.RunDir(), relPath)
	if d.compress {
		path += ".zst"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	var w io.Writer = f
	if d.compress {
		enc, err := zstd.NewWriter(f)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := enc.Close(); err == nil {
				err = cerr
			}
		}()
		w = enc
	}
	return fn(w)
}

// SectionPath is the relative path for a dumped section candidate
// (spec §6: "Sections/<id>/LengthK.dot").
func SectionPath(partID, length int) string {
	return filepath.Join("Sections", strconv.Itoa(partID), "Length"+strconv.Itoa(length)+".dot")
}

// LonelyPath is the relative path for a dumped lonely-plan candidate
// (spec §6: "Lonely/<id> - <tag>/Detailed.dot").
func LonelyPath(partID int, tag, name string) string {
	return filepath.Join("Lonely", strconv.Itoa(partID)+" - "+tag, name+".dot")
}
