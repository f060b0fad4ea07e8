package markduplicates

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/grailbio/fragcollapse/encoding/bam"
	"github.com/grailbio/hts/sam"
)

// Orientation is the strand of one end of a fragment.
type Orientation int8

const (
	// Forward strand.
	Forward Orientation = iota
	// Reverse strand.
	Reverse
)

func (o Orientation) String() string {
	if o == Reverse {
		return "R"
	}
	return "F"
}

func orientation(reverse bool) Orientation {
	if reverse {
		return Reverse
	}
	return Forward
}

// Kind distinguishes the fragment topologies a key can describe.
type Kind uint8

const (
	// Paired is a pair with both mates mapped.
	Paired Kind = iota
	// Unpaired is a single-end read.
	Unpaired
	// UnmappedSelf is an unmapped read whose mate is mapped. The key holds
	// the mate's end.
	UnmappedSelf
	// UnmappedMate is a mapped read whose mate is unmapped.
	UnmappedMate
	// SupplementaryUnmappedMate is a supplementary alignment whose mate is
	// unmapped. The key holds the primary alignment's end.
	SupplementaryUnmappedMate
)

var kindNames = [...]string{"paired", "unpaired", "unmapped-self", "unmapped-mate", "supp-unmapped-mate"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind" + strconv.Itoa(int(k))
}

// noPos marks the missing end of a single-ended key.
const noPos = -1

// FragmentCoords is the duplicate-identity key of a read. Both mates of a
// pair produce the same Lower and Upper ends; only ReadIsLower differs.
// FragmentCoords is comparable and is used directly as a map key.
type FragmentCoords struct {
	Kind          Kind
	Supplementary bool

	LowerRef    int
	LowerPos    int
	LowerOrient Orientation
	UpperRef    int
	UpperPos    int
	UpperOrient Orientation

	ReadIsLower bool
}

// CoarseKey is FragmentCoords without the two positions. It selects the
// candidates for jitter and SBX collapsing.
type CoarseKey struct {
	Kind          Kind
	Supplementary bool
	LowerRef      int
	LowerOrient   Orientation
	UpperRef      int
	UpperOrient   Orientation
	ReadIsLower   bool
}

// CoarseKey returns the coordinate-free projection of c.
func (c FragmentCoords) CoarseKey() CoarseKey {
	return CoarseKey{
		Kind:          c.Kind,
		Supplementary: c.Supplementary,
		LowerRef:      c.LowerRef,
		LowerOrient:   c.LowerOrient,
		UpperRef:      c.UpperRef,
		UpperOrient:   c.UpperOrient,
		ReadIsLower:   c.ReadIsLower,
	}
}

// Compare orders keys by kind, then lower end, upper end and the markers.
func (c FragmentCoords) Compare(o FragmentCoords) int {
	if d := int(c.Kind) - int(o.Kind); d != 0 {
		return d
	}
	if d := c.lower().compare(o.lower()); d != 0 {
		return d
	}
	if d := c.upper().compare(o.upper()); d != 0 {
		return d
	}
	if c.Supplementary != o.Supplementary {
		if c.Supplementary {
			return 1
		}
		return -1
	}
	if c.ReadIsLower != o.ReadIsLower {
		if c.ReadIsLower {
			return -1
		}
		return 1
	}
	return 0
}

func (c FragmentCoords) String() string {
	s := fmt.Sprintf("%v:%d:%d%v-%d:%d%v", c.Kind, c.LowerRef, c.LowerPos, c.LowerOrient,
		c.UpperRef, c.UpperPos, c.UpperOrient)
	if c.Supplementary {
		s += ":supp"
	}
	if c.ReadIsLower {
		return s + ":lower"
	}
	return s + ":upper"
}

func (c FragmentCoords) lower() fragmentEnd {
	return fragmentEnd{c.LowerRef, c.LowerPos, c.LowerOrient}
}

func (c FragmentCoords) upper() fragmentEnd {
	return fragmentEnd{c.UpperRef, c.UpperPos, c.UpperOrient}
}

// oneEnded returns true if c holds only one fragment end.
func (c FragmentCoords) oneEnded() bool {
	return c.UpperPos == noPos
}

// jitterDistance returns the distance between the free ends of c and o if
// exactly one of their ends is identical, and false otherwise.
func (c FragmentCoords) jitterDistance(o FragmentCoords) (int, bool) {
	lowerSame := c.LowerPos == o.LowerPos
	upperSame := c.UpperPos == o.UpperPos
	switch {
	case lowerSame && !upperSame:
		return abs(c.UpperPos - o.UpperPos), true
	case upperSame && !lowerSame:
		return abs(c.LowerPos - o.LowerPos), true
	}
	return 0, false
}

// fragmentEnd is the unclipped 5' end of one alignment.
type fragmentEnd struct {
	ref    int
	pos    int
	orient Orientation
}

var missingEnd = fragmentEnd{ref: noPos, pos: noPos}

func (e fragmentEnd) compare(o fragmentEnd) int {
	if e.ref != o.ref {
		return e.ref - o.ref
	}
	if e.pos != o.pos {
		return e.pos - o.pos
	}
	return int(e.orient) - int(o.orient)
}

// RefIndex maps reference names to header IDs. It resolves the reference
// names found in SA tags.
type RefIndex map[string]int

// NewRefIndex returns the RefIndex of header.
func NewRefIndex(header *sam.Header) RefIndex {
	idx := make(RefIndex, len(header.Refs()))
	for _, ref := range header.Refs() {
		idx[ref.Name()] = ref.ID()
	}
	return idx
}

func (x RefIndex) id(name string) int {
	if id, ok := x[name]; ok {
		return id
	}
	return noPos
}

// primaryEnd parses the first entry of the SA tag of a supplementary record
// and returns the 5' end of the primary alignment it names.
func (x RefIndex) primaryEnd(r *sam.Record) (fragmentEnd, bool) {
	sa, ok := bam.StringTag(r, bam.SupplementaryAlignmentTag)
	if !ok {
		return fragmentEnd{}, false
	}
	if i := strings.IndexByte(sa, ';'); i >= 0 {
		sa = sa[:i]
	}
	fields := strings.Split(sa, ",")
	if len(fields) < 4 {
		return fragmentEnd{}, false
	}
	pos, err := strconv.Atoi(fields[1])
	if err != nil || pos < 1 {
		return fragmentEnd{}, false
	}
	cigar, err := sam.ParseCigar([]byte(fields[3]))
	if err != nil {
		return fragmentEnd{}, false
	}
	reverse := fields[2] == "-"
	return fragmentEnd{
		ref:    x.id(fields[0]),
		pos:    bam.UnclippedFivePrime(pos-1, cigar, reverse),
		orient: orientation(reverse),
	}, true
}

func ownEnd(r *sam.Record) fragmentEnd {
	return fragmentEnd{
		ref:    bam.RefID(r.Ref),
		pos:    bam.UnclippedFivePrimePosition(r),
		orient: orientation(bam.IsReversedRead(r)),
	}
}

func mateEnd(r *sam.Record) fragmentEnd {
	return fragmentEnd{
		ref:    bam.RefID(r.MateRef),
		pos:    bam.MateUnclippedFivePrimePosition(r),
		orient: orientation((r.Flags & sam.MateReverse) != 0),
	}
}

// NewFragmentCoords computes the duplicate-identity key of r. Malformed or
// missing MC and SA tags fall back to the record's own fields.
func NewFragmentCoords(r *sam.Record, platform Platform, refs RefIndex) FragmentCoords {
	supp := bam.IsSupplementary(r)
	self := ownEnd(r)
	if supp {
		if e, ok := refs.primaryEnd(r); ok {
			self = e
		}
	}

	switch {
	case bam.IsUnmapped(r):
		if bam.IsPaired(r) && (r.Flags&sam.MateUnmapped) == 0 {
			return singleEnded(UnmappedSelf, supp, mateEnd(r), false)
		}
		// Fully unmapped records never reach the cache; key them on their
		// sort position.
		return singleEnded(UnmappedSelf, supp, fragmentEnd{ref: bam.RefID(r.Ref), pos: r.Pos}, false)

	case !bam.IsPaired(r):
		if platform == PlatformSBX {
			return singleEnded(Unpaired, supp, self, true)
		}
		// The 3' end is only known for the record's own alignment.
		other := self
		if !supp {
			other.pos = bam.UnclippedThreePrimePosition(r)
		}
		lo, hi := self, other
		if hi.compare(lo) < 0 {
			lo, hi = hi, lo
		}
		return FragmentCoords{
			Kind:          Unpaired,
			Supplementary: supp,
			LowerRef:      lo.ref,
			LowerPos:      lo.pos,
			LowerOrient:   lo.orient,
			UpperRef:      hi.ref,
			UpperPos:      hi.pos,
			UpperOrient:   hi.orient,
			ReadIsLower:   true,
		}

	case (r.Flags & sam.MateUnmapped) != 0:
		if supp {
			return singleEnded(SupplementaryUnmappedMate, true, self, true)
		}
		return singleEnded(UnmappedMate, false, self, true)
	}

	mate := mateEnd(r)
	readIsLower := false
	switch c := self.compare(mate); {
	case c < 0:
		readIsLower = true
	case c == 0:
		readIsLower = bam.IsRead1(r)
	}
	lo, hi := mate, self
	if readIsLower {
		lo, hi = self, mate
	}
	return FragmentCoords{
		Kind:          Paired,
		Supplementary: supp,
		LowerRef:      lo.ref,
		LowerPos:      lo.pos,
		LowerOrient:   lo.orient,
		UpperRef:      hi.ref,
		UpperPos:      hi.pos,
		UpperOrient:   hi.orient,
		ReadIsLower:   readIsLower,
	}
}

func singleEnded(kind Kind, supp bool, e fragmentEnd, readIsLower bool) FragmentCoords {
	return FragmentCoords{
		Kind:          kind,
		Supplementary: supp,
		LowerRef:      e.ref,
		LowerPos:      e.pos,
		LowerOrient:   e.orient,
		UpperRef:      missingEnd.ref,
		UpperPos:      missingEnd.pos,
		UpperOrient:   missingEnd.orient,
		ReadIsLower:   readIsLower,
	}
}
