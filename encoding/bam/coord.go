// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bam

import (
	"fmt"
	"math"

	"github.com/grailbio/hts/sam"
)

const (
	// InfinityPos is 1+ the largest possible alignment position.
	InfinityPos = math.MaxInt32

	// UnmappedRefID is the pseudo reference ID of unmapped reads. It is
	// sorted after every valid reference.
	UnmappedRefID = -1
)

// Coord is a <refid, position> pair in the coordinate order of a sorted BAM
// file. Unmapped reads (RefID == UnmappedRefID) sort after all mapped reads.
type Coord struct {
	RefID int
	Pos   int
}

func sortableRefID(id int) int {
	if id == UnmappedRefID {
		return math.MaxInt32
	}
	return id
}

// Compare returns a negative value if c < o, zero if c == o, and a positive
// value if c > o.
func (c Coord) Compare(o Coord) int {
	if d := sortableRefID(c.RefID) - sortableRefID(o.RefID); d != 0 {
		return d
	}
	return c.Pos - o.Pos
}

// LT returns true if c < o.
func (c Coord) LT(o Coord) bool { return c.Compare(o) < 0 }

// GE returns true if c >= o.
func (c Coord) GE(o Coord) bool { return c.Compare(o) >= 0 }

func (c Coord) String() string {
	return fmt.Sprintf("%d:%d", c.RefID, c.Pos)
}

// NewCoord creates a Coord from the given reference and position.
func NewCoord(ref *sam.Reference, pos int) Coord {
	c := Coord{RefID: RefID(ref), Pos: pos}
	if c.RefID == UnmappedRefID && pos < 0 {
		// The convention is to store -1 as the position of unmapped reads,
		// but nothing else uses negative positions.
		c.Pos = 0
	}
	return c
}

// CoordFromSAMRecord returns the coordinate at which the record is stored in
// a sorted BAM file.
func CoordFromSAMRecord(r *sam.Record) Coord {
	return NewCoord(r.Ref, r.Pos)
}

// RefID returns the ID of ref, or UnmappedRefID if ref is nil.
func RefID(ref *sam.Reference) int {
	if ref == nil {
		return UnmappedRefID
	}
	return ref.ID()
}
