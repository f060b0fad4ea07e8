package markduplicates

import (
	"sort"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/fragcollapse/umi"
)

// UmiGroupBuilder refines the buckets of a Batch into the final duplicate
// groups. Buckets are split into UMI clusters, then clusters whose
// fragments differ at one end by a few bases are collapsed.
type UmiGroupBuilder struct {
	cfg *Config

	// Jittered is the number of groups absorbed by jitter collapsing.
	Jittered int
}

// NewUmiGroupBuilder creates a builder. cfg is shared and never modified.
func NewUmiGroupBuilder(cfg *Config) *UmiGroupBuilder {
	return &UmiGroupBuilder{cfg: cfg}
}

// Build returns the final groups of batch, singletons included, ordered by
// coordinates and UMI. The result depends only on the reads in batch.
func (b *UmiGroupBuilder) Build(batch Batch) []*DuplicateGroup {
	buckets := make([]*DuplicateGroup, 0, len(batch.Groups)+len(batch.Singles))
	buckets = append(buckets, batch.Groups...)
	for _, r := range batch.Singles {
		buckets = append(buckets, newDuplicateGroup(r.Coords, r))
	}

	var groups []*DuplicateGroup
	if b.cfg.UseUmis {
		for _, g := range buckets {
			groups = append(groups, b.splitByUMI(g)...)
		}
	} else {
		groups = buckets
	}
	if b.cfg.jitterEnabled() {
		groups = b.collapseJitter(groups)
	}
	sortGroups(groups, false)
	return groups
}

// splitByUMI partitions the reads of g into clusters of equivalent UMIs.
func (b *UmiGroupBuilder) splitByUMI(g *DuplicateGroup) []*DuplicateGroup {
	reads := g.reads
	umis := make([]umi.UMI, len(reads))
	for i, r := range reads {
		umis[i] = r.UMI
	}
	res := b.cfg.Umi.Cluster(umis)
	groups := make([]*DuplicateGroup, len(res.Representatives))
	for c, rep := range res.Representatives {
		groups[c] = newDuplicateGroup(g.Coords)
		groups[c].UMI = rep
		groups[c].rep = b.cfg.Umi.Parse(rep)
	}
	for i, r := range reads {
		groups[res.Assignment[i]].add(r)
	}
	if len(groups) > 1 {
		log.Debug.Printf("split %v into %d umi groups", g.Coords, len(groups))
	}
	return groups
}

// collapseJitter visits the groups by decreasing size. Each group not yet
// absorbed absorbs every later group with the same coarse key and an
// equivalent UMI whose fragment shares one end exactly and has the other
// end within the jitter distance. Absorbed groups never absorb others.
func (b *UmiGroupBuilder) collapseJitter(groups []*DuplicateGroup) []*DuplicateGroup {
	sortGroups(groups, true)
	consumed := make([]bool, len(groups))
	var out []*DuplicateGroup
	for i, anchor := range groups {
		if consumed[i] {
			continue
		}
		coarse := anchor.Coords.CoarseKey()
		for j := i + 1; j < len(groups); j++ {
			other := groups[j]
			if consumed[j] || other.Coords.CoarseKey() != coarse {
				continue
			}
			d, ok := anchor.Coords.jitterDistance(other.Coords)
			if !ok || d > b.cfg.JitterDistance {
				continue
			}
			if !b.cfg.Umi.Equivalent(anchor.rep, other.rep) {
				continue
			}
			log.Debug.Printf("jitter: %v absorbs %v (distance %d)", anchor.Coords, other.Coords, d)
			anchor.Absorb(other)
			consumed[j] = true
			b.Jittered++
		}
		out = append(out, anchor)
	}
	return out
}

// sortGroups orders groups by coordinates and UMI, after decreasing size if
// bySize is set.
func sortGroups(groups []*DuplicateGroup, bySize bool) {
	sort.Slice(groups, func(i, j int) bool {
		gi, gj := groups[i], groups[j]
		if bySize && gi.Size() != gj.Size() {
			return gi.Size() > gj.Size()
		}
		if c := gi.Coords.Compare(gj.Coords); c != 0 {
			return c < 0
		}
		if c := strings.Compare(gi.UMI, gj.UMI); c != 0 {
			return c < 0
		}
		return compareIdentity(gi.PrimaryRead(), gj.PrimaryRead()) < 0
	})
}
