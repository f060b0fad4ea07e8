// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bam

import (
	"fmt"
	"math"

	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
)

// Shard represents a genomic interval. The <StartRef,Start> and <EndRef,End>
// coordinates form a half-open, 0-based interval. An iterator for such a
// range will return reads whose start positions fall within that range.
//
// An unmapped sequence has coordinate (nil,0), and it is stored after any
// mapped sequence. Thus, a shard that contains unmapped sequences has
// StartRef=EndRef=nil, Start=0 and End=InfinityPos.
//
// Padding must be >=0. It expands the read range to [PaddedStart, PaddedEnd),
// where PaddedStart=max(0, Start-Padding) and PaddedEnd=min(EndRef.Len(),
// End+Padding)). The regions [PaddedStart,Start) and [End,PaddedEnd) are not
// part of the shard, since the padding regions overlap with another Shard's
// [Start, End).
//
// ShardIdx is the index of the shard in the file order, starting at 0.
type Shard struct {
	StartRef *sam.Reference
	EndRef   *sam.Reference
	Start    int
	End      int

	Padding  int
	ShardIdx int
}

// UniversalShard creates a Shard that covers the entire genome and the
// unmapped reads.
func UniversalShard(header *sam.Header) Shard {
	var startRef *sam.Reference
	if len(header.Refs()) > 0 {
		startRef = header.Refs()[0]
	}
	return Shard{
		StartRef: startRef,
		EndRef:   nil,
		Start:    0,
		End:      InfinityPos,
	}
}

// Unmapped returns true if s covers the unmapped reads.
func (s *Shard) Unmapped() bool {
	return s.StartRef == nil
}

// PadStart returns max(s.Start-padding, 0).
func (s *Shard) PadStart(padding int) int {
	return max(0, s.Start-padding)
}

// PaddedStart computes the effective start of the range to read, including
// padding.
func (s *Shard) PaddedStart() int {
	return s.PadStart(s.Padding)
}

// PadEnd returns min(s.End+padding, length of s.EndRef).
func (s *Shard) PadEnd(padding int) int {
	if s.EndRef == nil {
		// Unmapped reads are all at position 0, so limit can be any positive value.
		return min(InfinityPos, s.End+padding)
	}
	return min(s.EndRef.Len(), s.End+padding)
}

// PaddedEnd computes the effective limit of the range to read, including
// padding.
func (s *Shard) PaddedEnd() int {
	return s.PadEnd(s.Padding)
}

// RecordInShard returns true if r is in s.
func (s *Shard) RecordInShard(r *sam.Record) bool {
	return s.CoordInShard(0, CoordFromSAMRecord(r))
}

// RecordInPaddedShard returns true if r is in s+padding.
func (s *Shard) RecordInPaddedShard(r *sam.Record) bool {
	return s.CoordInShard(s.Padding, CoordFromSAMRecord(r))
}

// CoordInShard returns whether coord is within the shard plus the supplied
// padding (this uses the padding parameter in place of s.Padding).
func (s *Shard) CoordInShard(padding int, coord Coord) bool {
	if coord.LT(NewCoord(s.StartRef, s.PadStart(padding))) {
		return false
	}
	return coord.LT(NewCoord(s.EndRef, s.PadEnd(padding)))
}

// String returns a debug string for s.
func (s *Shard) String() string {
	return fmt.Sprintf("%d:(%s[%d],%d(%d))-(%s[%d],%d(%d))",
		s.ShardIdx, s.StartRef.Name(), RefID(s.StartRef), s.Start, s.PaddedStart(),
		s.EndRef.Name(), RefID(s.EndRef), s.End, s.PaddedEnd())
}

func min(x, y int) int {
	if y < x {
		return y
	}
	return x
}

func max(x, y int) int {
	if y > x {
		return y
	}
	return x
}

// NewShardChannel returns a closed channel containing the shards.
func NewShardChannel(shards []Shard) chan Shard {
	shardChan := make(chan Shard, len(shards))
	for _, shard := range shards {
		shardChan <- shard
	}
	close(shardChan)
	return shardChan
}

// GetPositionBasedShards returns a list of shards that cover the genome using
// the specified shard size and padding size. It also returns a shard for the
// unmapped && mate-unmapped reads if includeUnmapped is true.
//
// A SAM record is associated with a shard if its alignment start position is
// within the given padding distance of the shard. This means reads near shard
// boundaries may be associated with more than one shard.
func GetPositionBasedShards(header *sam.Header, shardSize int, padding int, includeUnmapped bool) ([]Shard, error) {
	if shardSize <= 0 {
		return nil, fmt.Errorf("shard size must be positive, got %d", shardSize)
	}
	var shards []Shard
	shardIdx := 0
	for _, ref := range header.Refs() {
		var start int
		for start < ref.Len() {
			end := min(start+shardSize, ref.Len())
			shards = append(shards,
				Shard{
					StartRef: ref,
					EndRef:   ref,
					Start:    start,
					End:      end,
					Padding:  padding,
					ShardIdx: shardIdx,
				})
			start += shardSize
			shardIdx++
		}
	}
	if includeUnmapped {
		shards = append(shards,
			Shard{
				StartRef: nil,
				EndRef:   nil,
				Start:    0,
				End:      math.MaxInt32,
				ShardIdx: shardIdx,
			})
	}
	ValidateShardList(header, shards, padding)
	return shards, nil
}

// ValidateShardList checks that the shards are contiguous, non-overlapping,
// correctly indexed and cover every reference in the header. It crashes the
// process on violation.
func ValidateShardList(header *sam.Header, shards []Shard, padding int) {
	covered := make([]int, len(header.Refs()))
	for i, s := range shards {
		if s.ShardIdx != i {
			log.Fatalf("shard %v has index %d, expected %d", s.String(), s.ShardIdx, i)
		}
		if s.Unmapped() {
			if i != len(shards)-1 {
				log.Fatalf("unmapped shard %v must be the last shard", s.String())
			}
			continue
		}
		if s.StartRef != s.EndRef {
			log.Fatalf("shard %v spans more than one reference", s.String())
		}
		if s.Padding != padding {
			log.Fatalf("shard %v has padding %d, expected %d", s.String(), s.Padding, padding)
		}
		id := s.StartRef.ID()
		if s.Start != covered[id] || s.End <= s.Start {
			log.Fatalf("shard %v is not contiguous with previous shard ending at %d", s.String(), covered[id])
		}
		covered[id] = s.End
	}
	for id, end := range covered {
		if ref := header.Refs()[id]; end != ref.Len() {
			log.Fatalf("shards cover %s up to %d, reference length is %d", ref.Name(), end, ref.Len())
		}
	}
}
