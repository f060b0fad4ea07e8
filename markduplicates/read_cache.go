package markduplicates

import (
	"github.com/biogo/store/llrb"
	"github.com/grailbio/base/log"
	"github.com/grailbio/fragcollapse/encoding/bam"
)

// Batch is the unit of work handed from ReadCache to UmiGroupBuilder. Groups
// hold the buckets with at least two reads; Singles hold the rest.
type Batch struct {
	Groups  []*DuplicateGroup
	Singles []*Read
}

// NumReads returns the number of reads in b.
func (b *Batch) NumReads() int {
	n := len(b.Singles)
	for _, g := range b.Groups {
		n += g.Size()
	}
	return n
}

// CacheStats counts the reads that passed through a ReadCache.
type CacheStats struct {
	// Accepted is the number of reads given to ProcessRead.
	Accepted int
	// Emitted is the number of reads returned in batches.
	Emitted int
	// ForcedEvictions is the number of buckets sealed at MaxGroupSize.
	ForcedEvictions int
	// ClipViolations is the number of reads clipped by more than
	// MaxSoftClip.
	ClipViolations int
}

// bucket collects the reads of one exact key. It is indexed in
// ReadCache.byAnchor by (minAnchor, key).
type bucket struct {
	key                  FragmentCoords
	group                *DuplicateGroup
	minAnchor, maxAnchor bam.Coord
}

// Compare implements llrb.Comparable.
func (b *bucket) Compare(c llrb.Comparable) int {
	o := c.(*bucket)
	if d := b.minAnchor.Compare(o.minAnchor); d != 0 {
		return d
	}
	return b.key.Compare(o.key)
}

// ReadCache accumulates a position sorted stream of reads into buckets of
// identical FragmentCoords and releases them once no later read can join
// them. A ReadCache belongs to one partition and is not thread safe.
type ReadCache struct {
	cfg      *Config
	open     map[FragmentCoords]*bucket
	byAnchor llrb.Tree
	sealed   []*bucket
	warned   map[FragmentCoords]bool
	frontier bam.Coord
	stats    CacheStats
}

// NewReadCache creates an empty cache.
func NewReadCache(cfg *Config) *ReadCache {
	return &ReadCache{
		cfg:    cfg,
		open:   map[FragmentCoords]*bucket{},
		warned: map[FragmentCoords]bool{},
	}
}

// Stats returns the counters of c.
func (c *ReadCache) Stats() CacheStats { return c.stats }

// ProcessRead adds r to the bucket of its key. Reads must arrive in
// position order.
func (c *ReadCache) ProcessRead(r *Read) {
	pos := bam.CoordFromSAMRecord(r.Record)
	if c.frontier.LT(pos) {
		c.frontier = pos
	}
	if r.Anchor.RefID == c.frontier.RefID && r.Anchor.Pos < c.frontier.Pos-c.cfg.MaxSoftClip {
		if c.stats.ClipViolations == 0 {
			log.Error.Printf("read %s is clipped by more than %d bases, duplicates may be missed",
				r.ID.Name, c.cfg.MaxSoftClip)
		}
		c.stats.ClipViolations++
	}

	b, ok := c.open[r.Coords]
	if !ok {
		b = &bucket{
			key:       r.Coords,
			group:     newDuplicateGroup(r.Coords),
			minAnchor: r.Anchor,
			maxAnchor: r.Anchor,
		}
		c.open[r.Coords] = b
		c.byAnchor.Insert(b)
	} else {
		if r.Anchor.LT(b.minAnchor) {
			c.byAnchor.Delete(b)
			b.minAnchor = r.Anchor
			c.byAnchor.Insert(b)
		}
		if b.maxAnchor.LT(r.Anchor) {
			b.maxAnchor = r.Anchor
		}
	}
	b.group.add(r)
	c.stats.Accepted++

	if c.cfg.MaxGroupSize > 0 && b.group.Size() >= c.cfg.MaxGroupSize {
		if !c.warned[b.key] {
			log.Error.Printf("fragment %v reached %d reads, evicting early", b.key, b.group.Size())
			c.warned[b.key] = true
		}
		c.byAnchor.Delete(b)
		delete(c.open, b.key)
		c.sealed = append(c.sealed, b)
		c.stats.ForcedEvictions++
	}
}

// Evict returns the batches that no read at or after frontier can join.
// Buckets whose anchors lie within the window distance of each other are
// returned in the same batch.
func (c *ReadCache) Evict(frontier bam.Coord) []Batch {
	var batches []Batch
	for _, b := range c.sealed {
		batches = append(batches, c.newBatch([]*bucket{b}))
	}
	c.sealed = nil

	window := c.cfg.windowDistance()
	var (
		chain    []*bucket
		chainMax bam.Coord
		closed   []*bucket
	)
	// closes reports whether a chain ending at max can no longer grow.
	closes := func(max bam.Coord) bool {
		if max.RefID != frontier.RefID {
			return max.LT(frontier)
		}
		return max.Pos+c.cfg.MaxSoftClip+window < frontier.Pos
	}
	c.byAnchor.Do(func(item llrb.Comparable) bool {
		b := item.(*bucket)
		if len(chain) > 0 &&
			(b.minAnchor.RefID != chainMax.RefID || b.minAnchor.Pos > chainMax.Pos+window) {
			closed = append(closed, chain...)
			batches = append(batches, c.newBatch(chain))
			chain = nil
		}
		if len(chain) == 0 || chainMax.LT(b.maxAnchor) {
			chainMax = b.maxAnchor
		}
		chain = append(chain, b)
		// chainMax only grows, so neither this chain nor any later one
		// can close.
		if !closes(chainMax) {
			chain = nil
			return true
		}
		return false
	})
	if len(chain) > 0 {
		closed = append(closed, chain...)
		batches = append(batches, c.newBatch(chain))
	}
	for _, b := range closed {
		c.byAnchor.Delete(b)
		delete(c.open, b.key)
	}
	return batches
}

// EvictAll returns every remaining bucket. It is called at the end of a
// partition.
func (c *ReadCache) EvictAll() []Batch {
	batches := c.Evict(bam.Coord{RefID: bam.UnmappedRefID, Pos: bam.InfinityPos})
	if len(c.open) > 0 || c.byAnchor.Len() > 0 {
		log.Fatalf("%d buckets left after evicting all", len(c.open))
	}
	if c.stats.Accepted != c.stats.Emitted {
		log.Fatalf("read cache accepted %d reads but emitted %d", c.stats.Accepted, c.stats.Emitted)
	}
	return batches
}

func (c *ReadCache) newBatch(buckets []*bucket) Batch {
	if c.cfg.Platform == PlatformSBX && c.cfg.MaxDupDistance > 0 && len(buckets) > 1 {
		buckets = mergeLargestFirst(buckets, c.cfg.MaxDupDistance)
	}
	var batch Batch
	for _, b := range buckets {
		if b.group.Size() == 1 {
			batch.Singles = append(batch.Singles, b.group.reads[0])
		} else {
			batch.Groups = append(batch.Groups, b.group)
		}
	}
	n := batch.NumReads()
	c.stats.Emitted += n
	log.Debug.Printf("evicted batch of %d buckets, %d reads", len(buckets), n)
	return batch
}

// bySize orders buckets by decreasing size, then by key.
type bySize struct{ *bucket }

// Compare implements llrb.Comparable.
func (b bySize) Compare(c llrb.Comparable) int {
	o := c.(bySize)
	if d := o.group.Size() - b.group.Size(); d != 0 {
		return d
	}
	return b.key.Compare(o.key)
}

// mergeLargestFirst repeatedly takes the largest remaining bucket and merges
// into it every remaining bucket with the same coarse key whose 5' position
// is within maxDist. Merges never chain: a bucket only joins an anchor it is
// directly within reach of. Only single-ended keys merge; a key with two
// ends is left alone.
func mergeLargestFirst(buckets []*bucket, maxDist int) []*bucket {
	var queue llrb.Tree
	for _, b := range buckets {
		queue.Insert(bySize{b})
	}
	var merged []*bucket
	for queue.Len() > 0 {
		anchor := queue.Min().(bySize)
		queue.DeleteMin()
		if !anchor.key.oneEnded() {
			merged = append(merged, anchor.bucket)
			continue
		}
		coarse := anchor.key.CoarseKey()
		var absorbed []bySize
		queue.Do(func(item llrb.Comparable) bool {
			b := item.(bySize)
			if b.key.oneEnded() && b.key.CoarseKey() == coarse &&
				abs(b.key.LowerPos-anchor.key.LowerPos) <= maxDist {
				absorbed = append(absorbed, b)
			}
			return false
		})
		for _, b := range absorbed {
			queue.Delete(b)
			anchor.group.Merge(b.group)
		}
		merged = append(merged, anchor.bucket)
	}
	return merged
}
