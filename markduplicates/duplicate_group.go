package markduplicates

import (
	"sort"
	"strconv"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/fragcollapse/umi"
)

// DuplicateGroup is a set of reads believed to come from one physical
// fragment. Reads in nonConsensus are members that are written as
// duplicates but do not contribute to the consensus.
type DuplicateGroup struct {
	Coords FragmentCoords
	// UMI is the canonical UMI of the group's cluster representative.
	UMI string

	rep          umi.UMI
	reads        []*Read
	nonConsensus []*Read
}

// newDuplicateGroup returns a group holding reads. The group keeps its own
// copy of the slice.
func newDuplicateGroup(coords FragmentCoords, reads ...*Read) *DuplicateGroup {
	return &DuplicateGroup{Coords: coords, reads: append([]*Read(nil), reads...)}
}

func (g *DuplicateGroup) add(r *Read) {
	g.reads = append(g.reads, r)
}

// Merge adds the members of other to g. g keeps its coordinates.
func (g *DuplicateGroup) Merge(other *DuplicateGroup) {
	g.reads = append(g.reads, other.reads...)
	g.nonConsensus = append(g.nonConsensus, other.nonConsensus...)
}

// Absorb adds every member of other to g as a non-consensus read.
func (g *DuplicateGroup) Absorb(other *DuplicateGroup) {
	g.nonConsensus = append(g.nonConsensus, other.reads...)
	g.nonConsensus = append(g.nonConsensus, other.nonConsensus...)
}

// Size returns the number of members.
func (g *DuplicateGroup) Size() int {
	return len(g.reads) + len(g.nonConsensus)
}

// ConsensusReads returns the members that contribute to the consensus,
// ordered by rank. The result is owned by g and is invalidated by the next
// call that changes the membership.
func (g *DuplicateGroup) ConsensusReads() []*Read {
	sortReads(g.reads, compareRank)
	return g.reads
}

// NonConsensusReads returns the members excluded from the consensus, ordered
// by identity. The result is owned by g.
func (g *DuplicateGroup) NonConsensusReads() []*Read {
	sortReads(g.nonConsensus, compareIdentity)
	return g.nonConsensus
}

// Reads returns every member.
func (g *DuplicateGroup) Reads() []*Read {
	all := make([]*Read, 0, g.Size())
	all = append(all, g.ConsensusReads()...)
	return append(all, g.NonConsensusReads()...)
}

// PrimaryRead returns the best ranked member: the highest score, ties
// broken by read identity. Moving a read out of the consensus set does not
// change the choice.
func (g *DuplicateGroup) PrimaryRead() *Read {
	var best *Read
	for _, reads := range [][]*Read{g.reads, g.nonConsensus} {
		for _, r := range reads {
			if best == nil || compareRank(r, best) < 0 {
				best = r
			}
		}
	}
	return best
}

// exclude moves the consensus reads for which drop returns true to
// nonConsensus.
func (g *DuplicateGroup) exclude(drop func(*Read) bool) {
	kept := g.reads[:0]
	for _, r := range g.reads {
		if drop(r) {
			g.nonConsensus = append(g.nonConsensus, r)
		} else {
			kept = append(kept, r)
		}
	}
	g.reads = kept
}

// ID returns the group id written in MI and DI tags. It is derived from the
// template name, so the groups holding the two mates of a template share it.
func (g *DuplicateGroup) ID() string {
	p := g.PrimaryRead()
	if p == nil {
		return ""
	}
	return strconv.FormatUint(seahash.Sum64([]byte(p.ID.Name)), 16)
}

func sortReads(reads []*Read, cmp func(a, b *Read) int) {
	sort.Slice(reads, func(i, j int) bool { return cmp(reads[i], reads[j]) < 0 })
}
