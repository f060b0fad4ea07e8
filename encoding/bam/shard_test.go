package bam_test

import (
	"testing"

	"github.com/grailbio/fragcollapse/encoding/bam"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/expect"
	"github.com/grailbio/testutil/h"
)

func TestShardPadding(t *testing.T) {
	ref1, err := sam.NewReference("chr1", "", "", 100, nil, nil)
	expect.NoError(t, err)
	s := bam.Shard{StartRef: ref1, Start: 20, EndRef: ref1, End: 90, Padding: 3}
	expect.EQ(t, s.PaddedStart(), 17)
	expect.EQ(t, s.PaddedEnd(), 93)
	expect.EQ(t, s.PadStart(8), 12)
	expect.EQ(t, s.PadStart(21), 0)
	expect.EQ(t, s.PadEnd(11), 100)
	expect.False(t, s.Unmapped())

	u := bam.Shard{End: bam.InfinityPos}
	expect.True(t, u.Unmapped())
	expect.EQ(t, u.PaddedEnd(), bam.InfinityPos)
}

func TestUniversalShard(t *testing.T) {
	ref1, err := sam.NewReference("chr1", "", "", 100, nil, nil)
	expect.NoError(t, err)
	header, err := sam.NewHeader(nil, []*sam.Reference{ref1})
	expect.NoError(t, err)

	s := bam.UniversalShard(header)
	expect.EQ(t, s.StartRef, ref1)
	expect.True(t, s.EndRef == nil)
	expect.EQ(t, s.End, bam.InfinityPos)

	r := &sam.Record{Name: "u", Ref: nil, Pos: -1}
	expect.True(t, s.RecordInShard(r))
	r = &sam.Record{Name: "m", Ref: ref1, Pos: 99}
	expect.True(t, s.RecordInShard(r))
}

func TestShardMembership(t *testing.T) {
	ref1, err := sam.NewReference("chr1", "", "", 100, nil, nil)
	expect.NoError(t, err)
	ref2, err := sam.NewReference("chr2", "", "", 100, nil, nil)
	expect.NoError(t, err)
	_, err = sam.NewHeader(nil, []*sam.Reference{ref1, ref2})
	expect.NoError(t, err)

	s := bam.Shard{StartRef: ref1, Start: 20, EndRef: ref1, End: 50, Padding: 5}
	tests := []struct {
		ref       *sam.Reference
		pos       int
		inShard   bool
		inPadding bool
	}{
		{ref1, 14, false, false},
		{ref1, 15, false, true},
		{ref1, 20, true, true},
		{ref1, 49, true, true},
		{ref1, 50, false, true},
		{ref1, 54, false, true},
		{ref1, 55, false, false},
		{ref2, 20, false, false},
		{nil, -1, false, false},
	}
	for _, test := range tests {
		r := &sam.Record{Name: "r", Ref: test.ref, Pos: test.pos}
		expect.EQ(t, s.RecordInShard(r), test.inShard, "pos %d", test.pos)
		expect.EQ(t, s.RecordInPaddedShard(r), test.inPadding, "pos %d", test.pos)
	}

	u := bam.Shard{End: bam.InfinityPos, ShardIdx: 1}
	expect.True(t, u.RecordInShard(&sam.Record{Name: "u", Pos: -1}))
	expect.False(t, u.RecordInShard(&sam.Record{Name: "m", Ref: ref2, Pos: 99}))
}

func TestCoordOrder(t *testing.T) {
	ref1, err := sam.NewReference("chr1", "", "", 100, nil, nil)
	expect.NoError(t, err)
	ref2, err := sam.NewReference("chr2", "", "", 100, nil, nil)
	expect.NoError(t, err)
	_, err = sam.NewHeader(nil, []*sam.Reference{ref1, ref2})
	expect.NoError(t, err)

	a := bam.NewCoord(ref1, 99)
	b := bam.NewCoord(ref2, 0)
	u := bam.NewCoord(nil, -1)
	expect.True(t, a.LT(b))
	expect.True(t, b.LT(u))
	expect.EQ(t, u.Pos, 0)
	expect.True(t, u.GE(u))
}

func TestGetPositionBasedShards(t *testing.T) {
	ref1, err := sam.NewReference("chr1", "", "", 100, nil, nil)
	expect.NoError(t, err)
	ref2, err := sam.NewReference("chr2", "", "", 101, nil, nil)
	expect.NoError(t, err)
	ref3, err := sam.NewReference("chr3", "", "", 1, nil, nil)
	expect.NoError(t, err)
	header, _ := sam.NewHeader(nil, []*sam.Reference{ref1, ref2, ref3})
	shardList, err := bam.GetPositionBasedShards(header, 50, 10, true)
	expect.NoError(t, err)

	var shards []bam.Shard
	for s := range bam.NewShardChannel(shardList) {
		shards = append(shards, s)
	}
	expect.That(t, shards, h.ElementsAre(
		bam.Shard{StartRef: ref1, EndRef: ref1, Start: 0, End: 50, Padding: 10, ShardIdx: 0},
		bam.Shard{StartRef: ref1, EndRef: ref1, Start: 50, End: 100, Padding: 10, ShardIdx: 1},
		bam.Shard{StartRef: ref2, EndRef: ref2, Start: 0, End: 50, Padding: 10, ShardIdx: 2},
		bam.Shard{StartRef: ref2, EndRef: ref2, Start: 50, End: 100, Padding: 10, ShardIdx: 3},
		bam.Shard{StartRef: ref2, EndRef: ref2, Start: 100, End: 101, Padding: 10, ShardIdx: 4},
		bam.Shard{StartRef: ref3, EndRef: ref3, Start: 0, End: 1, Padding: 10, ShardIdx: 5},
		bam.Shard{End: bam.InfinityPos, ShardIdx: 6}))

	_, err = bam.GetPositionBasedShards(header, 0, 10, true)
	expect.True(t, err != nil)
}
