package markduplicates

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/fragcollapse/encoding/bam"
	"github.com/grailbio/hts/sam"
)

const (
	consensusPrefix  = "CNS_"
	minConsensusQual = 2
	maxConsensusQual = 60
)

var (
	miTag = sam.NewTag("MI")
	rxTag = sam.NewTag("RX")
	mcTag = bam.MateCigarTag

	bases = [4]byte{'A', 'C', 'G', 'T'}
)

// SelectTemplateRead returns the read whose identity seeds the consensus
// record of g. It is the same read as g.PrimaryRead().
func SelectTemplateRead(g *DuplicateGroup) *Read {
	return g.PrimaryRead()
}

// indelSignature describes the insertions, deletions and skips of an
// alignment by reference position and length. Clipping and aligned span do
// not contribute.
func indelSignature(r *sam.Record) string {
	if bam.IsUnmapped(r) {
		return ""
	}
	var sb strings.Builder
	pos := r.Pos
	for _, op := range r.Cigar {
		t := op.Type()
		switch t {
		case sam.CigarInsertion, sam.CigarDeletion, sam.CigarSkipped:
			fmt.Fprintf(&sb, "%d%v%d;", pos, t, op.Len())
		}
		pos += op.Len() * t.Consumes().Reference
	}
	return sb.String()
}

// selectCompatible moves the consensus reads whose indel signature differs
// from the majority to the non-consensus set. Ties prefer the template's
// signature, then the smallest.
func selectCompatible(g *DuplicateGroup, template *Read) {
	sigs := make(map[*Read]string, len(g.reads))
	counts := map[string]int{}
	for _, r := range g.reads {
		s := indelSignature(r.Record)
		sigs[r] = s
		counts[s]++
	}
	if len(counts) <= 1 {
		return
	}
	templateSig := sigs[template]
	best, bestCount := "", -1
	for s, n := range counts {
		switch {
		case n > bestCount,
			n == bestCount && best != templateSig && (s == templateSig || s < best):
			best, bestCount = s, n
		}
	}
	g.exclude(func(r *Read) bool { return sigs[r] != best })
}

// column identifies one position of the molecule: a reference position, or
// the k'th base inserted after it.
type column struct {
	pos, ins int
}

// columns returns the column of every base of r. Soft clipped bases take
// the reference positions they would cover unclipped.
func columns(r *sam.Record) []column {
	n := r.Seq.Length
	cols := make([]column, 0, n)
	if bam.IsUnmapped(r) || len(r.Cigar) == 0 {
		for i := 0; i < n; i++ {
			cols = append(cols, column{pos: r.Pos + i})
		}
		return cols
	}
	pos := bam.UnclippedStart(r.Pos, r.Cigar) + leadingHardClip(r.Cigar)
	for _, op := range r.Cigar {
		switch op.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch, sam.CigarSoftClipped:
			for i := 0; i < op.Len(); i++ {
				cols = append(cols, column{pos: pos})
				pos++
			}
		case sam.CigarInsertion:
			for i := 0; i < op.Len(); i++ {
				cols = append(cols, column{pos: pos - 1, ins: i + 1})
			}
		case sam.CigarDeletion, sam.CigarSkipped:
			pos += op.Len()
		}
	}
	return cols
}

func leadingHardClip(cigar sam.Cigar) int {
	if len(cigar) > 0 && cigar[0].Type() == sam.CigarHardClipped {
		return cigar[0].Len()
	}
	return 0
}

type vote [4]int

func baseIndex(b byte) int {
	switch b {
	case 'A', 'a':
		return 0
	case 'C', 'c':
		return 1
	case 'G', 'g':
		return 2
	case 'T', 't':
		return 3
	}
	return -1
}

// BuildConsensus synthesizes the consensus record of g. Members whose
// indels disagree with the majority are moved to the non-consensus set
// first. Each base of the layout read is replaced by the quality weighted
// vote of all consensus reads covering its column.
func BuildConsensus(g *DuplicateGroup) (*sam.Record, error) {
	template := SelectTemplateRead(g)
	if template == nil {
		return nil, fmt.Errorf("empty duplicate group %v", g.Coords)
	}
	selectCompatible(g, template)
	members := g.ConsensusReads()
	layout := members[0]
	for _, r := range members {
		if r == template {
			layout = r
			break
		}
	}

	votes := map[column]*vote{}
	for _, r := range members {
		seq := r.Record.Seq.Expand()
		for i, col := range columns(r.Record) {
			if i >= len(seq) {
				break
			}
			b := baseIndex(seq[i])
			if b < 0 {
				continue
			}
			v := votes[col]
			if v == nil {
				v = &vote{}
				votes[col] = v
			}
			v[b] += int(qualAt(r.Record, i))
		}
	}

	layoutSeq := layout.Record.Seq.Expand()
	seq := make([]byte, len(layoutSeq))
	qual := make([]byte, len(layoutSeq))
	for i, col := range columns(layout.Record) {
		if i >= len(seq) {
			break
		}
		seq[i], qual[i] = votes[col].call(baseIndex(layoutSeq[i]))
	}

	t := template.Record
	l := layout.Record
	rec := &sam.Record{
		Name:    consensusPrefix + t.Name,
		Ref:     l.Ref,
		Pos:     l.Pos,
		MapQ:    l.MapQ,
		Cigar:   append(sam.Cigar(nil), l.Cigar...),
		Flags:   (t.Flags &^ (sam.Duplicate | sam.Reverse)) | (l.Flags & sam.Reverse),
		MateRef: t.MateRef,
		MatePos: t.MatePos,
		TempLen: t.TempLen,
		Seq:     sam.NewSeq(seq),
		Qual:    qual,
	}
	for _, tag := range []sam.Tag{rgTag, mcTag} {
		if aux := t.AuxFields.Get(tag); aux != nil {
			rec.AuxFields = append(rec.AuxFields, aux)
		}
	}
	if err := appendAux(rec, miTag, g.ID()); err != nil {
		return nil, err
	}
	if g.UMI != "" {
		if err := appendAux(rec, rxTag, g.UMI); err != nil {
			return nil, err
		}
	}
	if err := appendAux(rec, dsTag, g.Size()); err != nil {
		return nil, err
	}
	return rec, nil
}

// call returns the winning base of v and its quality. Ties go to the layout
// base, then to the first base in ACGT order.
func (v *vote) call(layoutBase int) (byte, byte) {
	if v == nil {
		return 'N', minConsensusQual
	}
	total := 0
	best := -1
	for b := range v {
		total += v[b]
		if v[b] == 0 {
			continue
		}
		if best < 0 || v[b] > v[best] || (v[b] == v[best] && b == layoutBase) {
			best = b
		}
	}
	if best < 0 {
		return 'N', minConsensusQual
	}
	q := v[best] - (total - v[best])
	if q < minConsensusQual {
		q = minConsensusQual
	}
	if q > maxConsensusQual {
		q = maxConsensusQual
	}
	return bases[best], byte(q)
}

func qualAt(r *sam.Record, i int) byte {
	if i >= len(r.Qual) || r.Qual[i] == 0xff {
		return 0
	}
	return r.Qual[i]
}

func appendAux(r *sam.Record, tag sam.Tag, value interface{}) error {
	aux, err := sam.NewAux(tag, value)
	if err != nil {
		return fmt.Errorf("creating %s tag for %s: %v", tag, r.Name, err)
	}
	r.AuxFields = append(r.AuxFields, aux)
	return nil
}

// groupSizes returns a readable summary of group sizes for debug logging.
func groupSizes(groups []*DuplicateGroup) string {
	sizes := make([]int, len(groups))
	for i, g := range groups {
		sizes[i] = g.Size()
	}
	sort.Ints(sizes)
	parts := make([]string, len(sizes))
	for i, n := range sizes {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}
