package main

/*
  fragcollapse marks PCR and optical duplicates in a coordinate sorted BAM
  file, optionally grouping reads by UMI and writing one consensus record
  per duplicate group. For more information, see
  github.com/grailbio/fragcollapse/markduplicates/doc.go
*/

import (
	"flag"
	"runtime"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/fragcollapse/encoding/bamprovider"
	md "github.com/grailbio/fragcollapse/markduplicates"
)

var (
	bamFile         = flag.String("bam", "", "Input BAM filename")
	indexFile       = flag.String("index", "", "Input BAM index filename. By default, set to input BAM filename + .bai")
	outputPath      = flag.String("output", "", "Output filename, stdout if empty")
	format          = flag.String("format", "bam", "Output format. Only 'bam' is supported.")
	metricsFile     = flag.String("metrics", "", "Output metrics file, gzip compressed if it ends in .gz")
	parallelism     = flag.Int("parallelism", runtime.NumCPU(), "Number of shards to process in parallel")
	queueLength     = flag.Int("queue-length", runtime.NumCPU()*5, "Number shards to queue while waiting for flush")
	shardSize       = flag.Int("shard-size", 5000000, "shard size in bp")
	padding         = flag.Int("clip-padding", 143, "padding in bp, this must be at least max-soft-clip plus the largest collapse distance")
	platform        = flag.String("platform", "illumina", "sequencing platform, 'illumina' or 'sbx'")
	clearExisting   = flag.Bool("clear-existing", false, "clear existing duplicate flag and tags before marking")
	tagDups         = flag.Bool("tag-duplicates", false, "tag duplicates as DT:Z:SQ (optical) or DT:Z:LB (pcr), and include DI, DS and DU tags")
	formConsensus   = flag.Bool("consensus", false, "write one consensus record per duplicate group and flag every original")
	useUmis         = flag.Bool("use-umis", false, "use UMIs to split duplicate groups")
	umiTag          = flag.String("umi-tag", md.DefaultUmiTag, "aux tag holding the UMI, the read name suffix is used when absent")
	umiFile         = flag.String("umi-file", "", "perform UMI error correction with the known UMIs in this file")
	duplex          = flag.Bool("duplex", false, "UMIs are duplex, two parts separated by --duplex-delimiter")
	duplexDelimiter = flag.String("duplex-delimiter", "+", "separator of the parts of a duplex UMI")
	umiMismatches   = flag.Int("umi-mismatches", 1, "maximum number of mismatches per UMI part for two UMIs to be equivalent")
	polyG           = flag.Bool("poly-g", false, "ignore UMI mismatches where either base is a G (dark cycles)")
	jitterDistance  = flag.Int("jitter-distance", md.SingleEndJitterCollapseDistance, "collapse groups whose fragments share one end and differ by at most this many bases at the other, 0 to disable")
	maxDupDistance  = flag.Int("max-dup-distance", 0, "sbx only: merge groups whose 5' positions differ by at most this many bases")
	maxGroupSize    = flag.Int("max-group-size", 0, "evict a duplicate group once it holds this many reads, 0 for no limit")
	maxSoftClip     = flag.Int("max-soft-clip", 128, "largest expected clipping at the 5' end of a read")
	opticalDistance = flag.Int("optical-distance", 2500, "pixel distance threshold for optical duplicates, 0 to disable")
)

func main() {
	shutdown := grail.Init()
	defer shutdown()

	// Validate parameters.
	if flag.NArg() > 0 {
		a := flag.Args()
		log.Fatalf("unparsed flags, please check flag syntax: '%s'", strings.Join(a[len(a)-flag.NArg():], " "))
	}

	opts := md.Opts{
		BamFile:         *bamFile,
		IndexFile:       *indexFile,
		OutputPath:      *outputPath,
		MetricsFile:     *metricsFile,
		Format:          *format,
		ShardSize:       *shardSize,
		Padding:         *padding,
		Parallelism:     *parallelism,
		QueueLength:     *queueLength,
		Platform:        *platform,
		ClearExisting:   *clearExisting,
		TagDups:         *tagDups,
		FormConsensus:   *formConsensus,
		UseUmis:         *useUmis,
		UmiTag:          *umiTag,
		UmiFile:         *umiFile,
		Duplex:          *duplex,
		DuplexDelimiter: *duplexDelimiter,
		UmiMismatches:   *umiMismatches,
		PolyG:           *polyG,
		JitterDistance:  *jitterDistance,
		MaxDupDistance:  *maxDupDistance,
		MaxGroupSize:    *maxGroupSize,
		MaxSoftClip:     *maxSoftClip,
		OpticalDistance: *opticalDistance,
	}
	if opts.IndexFile == "" {
		opts.IndexFile = opts.BamFile + ".bai"
	}
	provider := bamprovider.NewProvider(opts.BamFile, bamprovider.ProviderOpts{Index: opts.IndexFile})

	ctx := vcontext.Background()
	if err := md.SetupAndMark(ctx, provider, &opts); err != nil {
		log.Fatalf(err.Error())
	}
	if err := provider.Close(); err != nil {
		log.Fatalf(err.Error())
	}
	log.Debug.Printf("exiting")
}
