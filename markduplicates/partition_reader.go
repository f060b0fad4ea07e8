package markduplicates

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash"
	"sort"

	"github.com/grailbio/base/log"
	"github.com/grailbio/fragcollapse/encoding/bam"
	"github.com/grailbio/fragcollapse/encoding/bamprovider"
	"github.com/grailbio/hts/sam"
	"github.com/minio/highwayhash"
	"github.com/willf/bitset"
)

// digestKey seeds the output digest. Any fixed value works; it only needs
// to be the same for every run.
var digestKey = []byte("fragcollapse-output-digest-key-0")

// annotation is the outcome of duplicate marking for one input record. It is
// applied to the record only when the record is written.
type annotation struct {
	grouped   bool
	duplicate bool
	optical   bool
	groupID   string
	groupSize int
	umi       string
}

// PartitionReader marks the duplicates of one shard. It owns its ReadCache
// and UmiGroupBuilder; only the Config is shared with other partitions.
type PartitionReader struct {
	cfg     *Config
	shard   bam.Shard
	rgl     map[string]string
	factory *readFactory
	cache   *ReadCache
	builder *UmiGroupBuilder

	records     []*sam.Record
	inShard     *bitset.BitSet
	cached      *bitset.BitSet
	annotations map[int]*annotation
	consensus   []*sam.Record

	metrics *MetricsCollection
	digest  uint64
}

// NewPartitionReader creates a reader for shard.
func NewPartitionReader(cfg *Config, header *sam.Header, shard bam.Shard) *PartitionReader {
	return &PartitionReader{
		cfg:         cfg,
		shard:       shard,
		rgl:         readGroupLibraries(header),
		factory:     newReadFactory(cfg, NewRefIndex(header)),
		cache:       NewReadCache(cfg),
		builder:     NewUmiGroupBuilder(cfg),
		inShard:     bitset.New(0),
		cached:      bitset.New(0),
		annotations: map[int]*annotation{},
		metrics:     newMetricsCollection(),
	}
}

// Process reads the padded shard from iter and returns the records to
// write: every input record that lies inside the shard, annotated, and the
// consensus records whose position lies inside the shard, in position
// order. Running Process twice over the same input gives the same output.
func (p *PartitionReader) Process(ctx context.Context, iter bamprovider.Iterator) ([]*sam.Record, error) {
	var (
		last    bam.Coord
		started bool
	)
	for iter.Scan() {
		r := iter.Record()
		ordinal := len(p.records)
		p.records = append(p.records, r)

		coord := bam.CoordFromSAMRecord(r)
		if started && coord.LT(last) {
			return nil, fmt.Errorf("input is not sorted: %s at %v follows %v", r.Name, coord, last)
		}
		last, started = coord, true

		if p.cfg.ClearExisting {
			ownAux(r)
			clearDupFlagTags(r)
		}
		if p.shard.Unmapped() || p.shard.RecordInShard(r) {
			p.inShard.Set(uint(ordinal))
			updateMetrics(p.rgl, p.metrics, r)
		}
		if p.shard.Unmapped() || bam.IsSecondary(r) || fullyUnmapped(r) {
			continue
		}
		p.cache.ProcessRead(p.factory.newRead(r, ordinal))
		p.cached.Set(uint(ordinal))
		if err := p.processBatches(p.cache.Evict(coord)); err != nil {
			return nil, err
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if err := p.processBatches(p.cache.EvictAll()); err != nil {
		return nil, err
	}

	for i, ok := p.cached.NextSet(0); ok; i, ok = p.cached.NextSet(i + 1) {
		if a := p.annotations[int(i)]; a == nil || !a.grouped {
			log.Fatalf("read %s (ordinal %d) was never grouped", p.records[i].Name, i)
		}
	}

	stats := p.cache.Stats()
	p.metrics.Cache = stats
	p.metrics.JitterCollapsed = p.builder.Jittered
	p.metrics.MissingUMIs = p.factory.missingUMIs
	return p.output(), nil
}

// Metrics returns the metrics of the records inside the shard. It is valid
// after Process returns.
func (p *PartitionReader) Metrics() *MetricsCollection {
	return p.metrics
}

// Digest returns a hash of the records returned by Process.
func (p *PartitionReader) Digest() uint64 {
	return p.digest
}

func (p *PartitionReader) processBatches(batches []Batch) error {
	for _, batch := range batches {
		groups := p.builder.Build(batch)
		log.Debug.Printf("shard %d: batch of %d reads in groups of sizes %s",
			p.shard.ShardIdx, batch.NumReads(), groupSizes(groups))
		for _, g := range groups {
			if err := p.processGroup(g); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *PartitionReader) processGroup(g *DuplicateGroup) error {
	if g.Size() < 2 {
		for _, r := range g.Reads() {
			p.annotate(r)
		}
		return nil
	}

	var cons *sam.Record
	if p.cfg.FormConsensus {
		var err error
		if cons, err = BuildConsensus(g); err != nil {
			return err
		}
	}
	primary := SelectTemplateRead(g)
	id := g.ID()
	members := g.Reads()

	var optical map[string]bool
	if p.cfg.TagDups && p.cfg.OpticalDistance > 0 {
		var names []string
		readGroups := map[string]string{}
		seen := map[string]bool{}
		for _, r := range members {
			if seen[r.ID.Name] {
				continue
			}
			seen[r.ID.Name] = true
			names = append(names, r.ID.Name)
			if rg, ok := getReadGroup(r.Record); ok {
				readGroups[r.ID.Name] = rg
			}
		}
		optical = detectOptical(p.cfg.OpticalDistance, primary.ID.Name, names, readGroups)
	}

	for _, r := range members {
		a := p.annotate(r)
		a.groupID = id
		a.groupSize = g.Size()
		a.umi = g.UMI
		a.duplicate = cons != nil || r != primary
		a.optical = optical[r.ID.Name]
		if r.ID.Name != primary.ID.Name && p.inShard.Test(uint(r.ID.Ordinal)) {
			countDuplicate(p.rgl, p.metrics, r.Record, a.optical)
		}
	}
	if cons != nil && p.shard.RecordInShard(cons) {
		p.consensus = append(p.consensus, cons)
		p.metrics.Get(GetLibrary(p.rgl, cons)).ConsensusReads++
	}
	return nil
}

// annotate returns the annotation of r. A read must be grouped exactly once.
func (p *PartitionReader) annotate(r *Read) *annotation {
	a := p.annotations[r.ID.Ordinal]
	if a == nil {
		a = &annotation{}
		p.annotations[r.ID.Ordinal] = a
	}
	if a.grouped {
		log.Fatalf("read %s (ordinal %d) was grouped twice", r.ID.Name, r.ID.Ordinal)
	}
	a.grouped = true
	return a
}

func (p *PartitionReader) output() []*sam.Record {
	out := make([]*sam.Record, 0, int(p.inShard.Count())+len(p.consensus))
	written := bitset.New(uint(len(p.records)))
	for i, r := range p.records {
		if !p.inShard.Test(uint(i)) {
			continue
		}
		if written.Test(uint(i)) {
			log.Fatalf("record %s (ordinal %d) written twice", r.Name, i)
		}
		written.Set(uint(i))
		if a := p.annotations[i]; a != nil && a.groupSize > 1 {
			p.apply(r, a)
		}
		out = append(out, r)
	}
	if written.Count() != p.inShard.Count() {
		log.Fatalf("wrote %d of %d records in shard %d", written.Count(), p.inShard.Count(), p.shard.ShardIdx)
	}
	out = mergeConsensus(out, p.consensus)

	h, err := highwayhash.New64(digestKey)
	if err != nil {
		log.Panicf("highwayhash: %v", err)
	}
	for _, r := range out {
		hashRecord(h, r)
	}
	p.digest = h.Sum64()
	return out
}

// mergeConsensus merges the consensus records into the sorted originals. At
// equal positions the originals come first, then the consensus records by
// name.
func mergeConsensus(originals, consensus []*sam.Record) []*sam.Record {
	if len(consensus) == 0 {
		return originals
	}
	sort.SliceStable(consensus, func(i, j int) bool {
		ci, cj := bam.CoordFromSAMRecord(consensus[i]), bam.CoordFromSAMRecord(consensus[j])
		if c := ci.Compare(cj); c != 0 {
			return c < 0
		}
		return consensus[i].Name < consensus[j].Name
	})
	out := make([]*sam.Record, 0, len(originals)+len(consensus))
	i := 0
	for _, c := range consensus {
		pos := bam.CoordFromSAMRecord(c)
		for i < len(originals) && !pos.LT(bam.CoordFromSAMRecord(originals[i])) {
			out = append(out, originals[i])
			i++
		}
		out = append(out, c)
	}
	return append(out, originals[i:]...)
}

// apply writes the outcome a into r.
func (p *PartitionReader) apply(r *sam.Record, a *annotation) {
	if a.duplicate {
		r.Flags |= sam.Duplicate
	}
	if !p.cfg.TagDups {
		return
	}
	ownAux(r)
	bam.ClearAuxTags(r, []sam.Tag{diTag, dsTag, duTag, dtTag})
	tags := []sam.Tag{diTag, dsTag}
	values := []interface{}{a.groupID, a.groupSize}
	if a.umi != "" {
		tags = append(tags, duTag)
		values = append(values, a.umi)
	}
	if a.duplicate {
		dt := "LB"
		if a.optical {
			dt = "SQ"
		}
		tags = append(tags, dtTag)
		values = append(values, dt)
	}
	for i, tag := range tags {
		if err := appendAux(r, tag, values[i]); err != nil {
			log.Error.Printf("%v", err)
		}
	}
}

// ownAux copies the aux fields of r so that edits never reach a record
// that shares them.
func ownAux(r *sam.Record) {
	r.AuxFields = append(sam.AuxFields(nil), r.AuxFields...)
}

// fullyUnmapped returns true for unmapped reads without a mapped mate. They
// have no position to group on.
func fullyUnmapped(r *sam.Record) bool {
	return bam.IsUnmapped(r) && bam.HasNoMappedMate(r)
}

func hashRecord(h hash.Hash64, r *sam.Record) {
	var buf [8]byte
	put := func(v int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:]) // nolint: errcheck
	}
	h.Write([]byte(r.Name)) // nolint: errcheck
	put(int(r.Flags))
	put(bam.RefID(r.Ref))
	put(r.Pos)
	put(bam.RefID(r.MateRef))
	put(r.MatePos)
	h.Write([]byte(r.Cigar.String())) // nolint: errcheck
	h.Write(r.Seq.Expand())           // nolint: errcheck
	h.Write(r.Qual)                   // nolint: errcheck
	for _, aux := range r.AuxFields {
		h.Write([]byte(aux)) // nolint: errcheck
	}
}
