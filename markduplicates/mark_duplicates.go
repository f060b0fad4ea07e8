package markduplicates

import (
	"context"
	"io"
	"io/ioutil"
	"os"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/fragcollapse/encoding/bam"
	"github.com/grailbio/fragcollapse/encoding/bamprovider"
	"github.com/grailbio/hts/sam"
	"github.com/klauspost/compress/gzip"
)

const (
	// SingleEndJitterCollapseDistance is the default distance by which the
	// free end of two fragments may differ and still be collapsed.
	SingleEndJitterCollapseDistance = 3
	// DefaultUmiTag is the aux tag holding the raw UMI.
	DefaultUmiTag = "RX"
)

// Opts for mark-duplicates.
type Opts struct {
	// Commandline options.
	BamFile     string
	IndexFile   string
	OutputPath  string
	MetricsFile string
	Format      string
	ShardSize   int
	Padding     int
	Parallelism int
	QueueLength int

	// Platform is "illumina" or "sbx".
	Platform      string
	ClearExisting bool
	TagDups       bool
	// FormConsensus emits one consensus record per duplicate group and
	// flags every original.
	FormConsensus bool

	UseUmis         bool
	UmiTag          string
	UmiFile         string
	Duplex          bool
	DuplexDelimiter string
	UmiMismatches   int
	PolyG           bool

	JitterDistance  int
	MaxDupDistance  int
	MaxGroupSize    int
	MaxSoftClip     int
	OpticalDistance int
}

// MarkDuplicates implements duplicate marking.
type MarkDuplicates struct {
	Provider bamprovider.Provider
	Opts     *Opts
	// KnownUmis is the \n separated list of known UMIs used for snap
	// correction, or nil.
	KnownUmis []byte

	cfg           *Config
	shardList     []bam.Shard
	globalMetrics *MetricsCollection
}

// Mark marks the duplicates, and returns metrics, and an error if
// encountered. If shards is nil, position based shards covering the whole
// input are used.
func (m *MarkDuplicates) Mark(shards []bam.Shard) (*MetricsCollection, error) {
	_, err := m.Provider.GetHeader()
	if err != nil {
		return nil, err
	}
	if m.cfg, err = newConfig(m.Opts, m.KnownUmis); err != nil {
		return nil, err
	}
	if shards == nil {
		if shards, err = m.Provider.GenerateShards(bamprovider.GenerateShardsOpts{
			ShardSize:       m.Opts.ShardSize,
			Padding:         m.Opts.Padding,
			IncludeUnmapped: true,
		}); err != nil {
			return nil, err
		}
	}
	m.shardList = shards
	m.globalMetrics = newMetricsCollection()
	if err := m.generateBAM(); err != nil {
		return nil, err
	}
	return m.globalMetrics, nil
}

func (m *MarkDuplicates) generateBAM() (err error) {
	ctx := context.Background()
	// Prepare outputs.
	var outputStream io.Writer
	if m.Opts.OutputPath == "" {
		outputStream = os.Stdout
	} else {
		out, err := file.Create(ctx, m.Opts.OutputPath)
		if err != nil {
			return errors.E(err, "couldn't create output file", m.Opts.OutputPath)
		}
		defer func() {
			if err2 := out.Close(ctx); err == nil && err2 != nil {
				err = errors.E(err2, "close", m.Opts.OutputPath)
			}
		}()
		outputStream = out.Writer(ctx)
	}
	header, err := m.Provider.GetHeader()
	if err != nil {
		return err
	}
	writer, err := bam.NewShardedBAMWriter(outputStream, gzip.DefaultCompression, m.Opts.QueueLength, header)
	if err != nil {
		return errors.E(err, "couldn't create bam writer for", m.Opts.OutputPath)
	}

	// The unmapped shard is the largest, so process it first.
	ordered := make([]bam.Shard, 0, len(m.shardList))
	for _, shard := range m.shardList {
		if shard.Unmapped() {
			ordered = append(ordered, shard)
		}
	}
	for _, shard := range m.shardList {
		if !shard.Unmapped() {
			ordered = append(ordered, shard)
		}
	}
	shardChannel := bam.NewShardChannel(ordered)

	t0 := time.Now()
	var e errors.Once
	log.Debug.Printf("creating %d workers for %d shards", m.Opts.Parallelism, len(ordered))
	e.Set(traverse.Each(m.Opts.Parallelism, func(worker int) error {
		compressor := writer.GetCompressor()
		for shard := range shardChannel {
			if err := m.processShard(ctx, header, shard, worker, compressor); err != nil {
				return err
			}
		}
		return nil
	}))
	t1 := time.Now()
	log.Debug.Printf("workers all done in %v", t1.Sub(t0))

	// Wait for the writer to finish writing and then close.
	e.Set(writer.Close())
	log.Debug.Printf("closed writer in %v", time.Since(t1))
	return e.Err()
}

func (m *MarkDuplicates) processShard(ctx context.Context, header *sam.Header, shard bam.Shard, worker int,
	compressor *bam.ShardedBAMCompressor) error {
	t0 := time.Now()
	if err := compressor.StartShard(shard.ShardIdx); err != nil {
		return err
	}
	p := NewPartitionReader(m.cfg, header, shard)
	iter := m.Provider.NewIterator(shard)
	records, err := p.Process(ctx, iter)
	if err2 := iter.Close(); err == nil && err2 != nil {
		err = err2
	}
	if err != nil {
		return errors.E(err, "shard", shard.String())
	}
	for _, r := range records {
		if err := compressor.AddRecord(r); err != nil {
			return err
		}
	}
	// Close the shard (this will block if the queue is full)
	if err := compressor.CloseShard(); err != nil {
		return errors.E(err, "close shard compressor", shard.ShardIdx)
	}
	m.globalMetrics.Merge(p.Metrics())
	log.Debug.Printf("worker %d finished shard %s, records %d, digest %016x, total %v",
		worker, shard.String(), len(records), p.Digest(), time.Since(t0))
	return nil
}

// SetupAndMark does some minimal setup for validating opts, and
// creating provider and then runs mark().
func SetupAndMark(ctx context.Context, provider bamprovider.Provider, opts *Opts) error {
	if err := validate(opts); err != nil {
		return err
	}

	// Prepare umi inputs.
	var knownUmis []byte
	if len(opts.UmiFile) > 0 {
		umiReader, err := file.Open(ctx, opts.UmiFile)
		if err != nil {
			return errors.E(err, "could not open umi file", opts.UmiFile)
		}
		defer umiReader.Close(ctx) // nolint: errcheck
		if knownUmis, err = ioutil.ReadAll(umiReader.Reader(ctx)); err != nil {
			return errors.E(err, "could not read umi file", opts.UmiFile)
		}
		if len(knownUmis) == 0 {
			return errors.E(errors.Invalid, "umi list is empty:", opts.UmiFile)
		}
	}

	markDuplicates := &MarkDuplicates{
		Provider:  provider,
		Opts:      opts,
		KnownUmis: knownUmis,
	}
	globalMetrics, err := markDuplicates.Mark(nil)
	if err != nil {
		log.Debug.Printf("Error marking duplicates: %v", err)
		return err
	}
	if globalMetrics.Cache.ForcedEvictions > 0 {
		log.Printf("%d duplicate groups were evicted early at max-group-size %d",
			globalMetrics.Cache.ForcedEvictions, opts.MaxGroupSize)
	}

	// Output metrics.
	if opts.MetricsFile != "" {
		if err := writeMetrics(ctx, opts, globalMetrics); err != nil {
			return err
		}
	}
	return nil
}
