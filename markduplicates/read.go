package markduplicates

import (
	"fmt"
	"strings"

	"github.com/grailbio/base/simd"
	"github.com/grailbio/fragcollapse/encoding/bam"
	"github.com/grailbio/fragcollapse/umi"
	"github.com/grailbio/hts/sam"
)

const (
	// maxScore is the same clamping picard applies to base quality sums.
	maxScore = 32767 / 2
	// qcFailPenalty keeps QC-failed reads behind every passing read.
	qcFailPenalty = 32768 / 2
	// minScoredQual is the largest base quality not counted in a score.
	minScoredQual = 14
)

// ReadID is the stable identity of a read within one partition. Ordinal is
// the arrival index of the record in the partition's input stream.
type ReadID struct {
	Name    string
	Ordinal int
}

// Read is an input record together with everything derived from it. The
// record is never modified before the write boundary.
type Read struct {
	ID     ReadID
	Record *sam.Record
	Coords FragmentCoords
	UMI    umi.UMI
	// RawUMI is the UMI as found in the record, before parsing.
	RawUMI string
	// Score ranks reads when choosing a group's template.
	Score int
	// Anchor is the record's own unclipped 5' position. It bounds the
	// position of every read that can still join the read's bucket.
	Anchor bam.Coord
}

// readFactory turns the records of one partition into Reads.
type readFactory struct {
	cfg  *Config
	refs RefIndex

	missingUMIs int
}

func newReadFactory(cfg *Config, refs RefIndex) *readFactory {
	return &readFactory{cfg: cfg, refs: refs}
}

// newRead wraps r, the ordinal'th record of the partition.
func (f *readFactory) newRead(r *sam.Record, ordinal int) *Read {
	read := &Read{
		ID:     ReadID{Name: r.Name, Ordinal: ordinal},
		Record: r,
		Coords: NewFragmentCoords(r, f.cfg.Platform, f.refs),
		Anchor: anchor(r),
	}
	if f.cfg.UseUmis {
		raw, ok := umi.FromRecord(r, f.cfg.UmiTag, f.cfg.Umi.Delimiter)
		if !ok {
			f.missingUMIs++
		}
		read.RawUMI = raw
		read.UMI = f.cfg.Umi.Parse(raw)
	}
	read.Score = fragmentScore(r, read.Coords)
	return read
}

// fragmentScore is the score of the fragment r belongs to, computed so that
// every record of the fragment that can compute it gets the same value.
// A single-record unpaired read scores its own qualities. A record of a pair
// scores its own qualities plus the mate's from the ms tag; a supplementary
// record only does so when it carries the whole read, since the sum of
// qualities does not depend on the strand. Everything else scores 0 and is
// ranked by identity alone.
func fragmentScore(r *sam.Record, coords FragmentCoords) int {
	if !bam.IsPaired(r) {
		if coords.Kind == Unpaired && !coords.Supplementary &&
			r.AuxFields.Get(bam.SupplementaryAlignmentTag) == nil {
			return baseQScore(r)
		}
		return 0
	}
	ms, ok := bam.IntTag(r, bam.MateScoreTag)
	if !ok {
		return 0
	}
	if bam.IsSupplementary(r) && bam.HasHardClip(r.Cigar) {
		return 0
	}
	s := min(qualSum(r)+min(ms, maxScore), maxScore)
	if bam.IsQCFailed(r) {
		s -= qcFailPenalty
	}
	return s
}

// anchor returns the own unclipped 5' position of r, or its sort position
// if r is unmapped.
func anchor(r *sam.Record) bam.Coord {
	if bam.IsUnmapped(r) {
		return bam.CoordFromSAMRecord(r)
	}
	return bam.Coord{RefID: bam.RefID(r.Ref), Pos: bam.UnclippedFivePrimePosition(r)}
}

// baseQScore sums the base qualities above minScoredQual, capped at
// maxScore, with the QC-fail penalty applied.
func baseQScore(r *sam.Record) int {
	s := min(qualSum(r), maxScore)
	if bam.IsQCFailed(r) {
		s -= qcFailPenalty
	}
	return s
}

// qualSum sums the base qualities of r above minScoredQual. This is the
// quantity samtools fixmate stores in ms.
func qualSum(r *sam.Record) int {
	if len(r.Qual) > 0 && r.Qual[0] == 0xff {
		return 0
	}
	return simd.Accumulate8Greater(r.Qual, minScoredQual)
}

// compareIdentity is a total order over reads that depends only on record
// content.
func compareIdentity(a, b *Read) int {
	ra, rb := a.Record, b.Record
	if c := strings.Compare(ra.Name, rb.Name); c != 0 {
		return c
	}
	if c := boolOrder(bam.IsRead1(ra), bam.IsRead1(rb)); c != 0 {
		return c
	}
	if c := boolOrder(!bam.IsSupplementary(ra), !bam.IsSupplementary(rb)); c != 0 {
		return c
	}
	if c := bam.RefID(ra.Ref) - bam.RefID(rb.Ref); c != 0 {
		return c
	}
	if c := ra.Pos - rb.Pos; c != 0 {
		return c
	}
	if c := boolOrder(!bam.IsReversedRead(ra), !bam.IsReversedRead(rb)); c != 0 {
		return c
	}
	if c := strings.Compare(ra.Cigar.String(), rb.Cigar.String()); c != 0 {
		return c
	}
	return a.ID.Ordinal - b.ID.Ordinal
}

// compareRank orders reads by decreasing score, then by identity.
func compareRank(a, b *Read) int {
	if a.Score != b.Score {
		return b.Score - a.Score
	}
	return compareIdentity(a, b)
}

// boolOrder sorts true before false.
func boolOrder(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return -1
	}
	return 1
}

func (r *Read) String() string {
	return fmt.Sprintf("%s#%d[%v]", r.ID.Name, r.ID.Ordinal, r.Coords)
}
