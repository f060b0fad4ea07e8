package markduplicates

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/fragcollapse/encoding/bam"
	"github.com/grailbio/hts/sam"
	"github.com/klauspost/compress/gzip"
)

// Metrics contains metrics from one library.
type Metrics struct {
	// Implement the metrics reported by picard

	// UnpairedReads is the number of mapped reads examined which did
	// not have a mapped mate pair, either because the read is
	// unpaired, or the read is paired to an unmapped mate.
	UnpairedReads int

	// ReadPairsExamined is the number of mapped read pairs
	// examined. (Primary, non-supplemental).
	ReadPairsExamined int

	// SecondarySupplementary is the number of reads that were either
	// secondary or supplementary.
	SecondarySupplementary int

	// UnmappedReads is the total number of unmapped reads
	// examined. (Primary, non-supplemental).
	UnmappedReads int

	// UnpairedDups is the number of fragments that were marked as duplicates.
	UnpairedDups int

	// ReadPairDups is the number of read pairs that were marked as duplicates.
	ReadPairDups int

	// ReadPairOpticalDups is the number of read pairs duplicates that
	// were caused by optical duplication. Value is always <
	// READ_PAIR_DUPLICATES, which counts all duplicates regardless of
	// source.
	ReadPairOpticalDups int

	// ConsensusReads is the number of consensus records written.
	ConsensusReads int
}

// String returns a string representation of the metrics contained in
// m. The string can be used as metrics file output.
func (m *Metrics) String() string {
	librarySizeStr := "0"
	a := uint64((m.ReadPairsExamined / 2) - (m.ReadPairOpticalDups / 2))
	b := uint64((m.ReadPairsExamined / 2) - (m.ReadPairDups / 2))
	librarySize, err := estimateLibrarySize(a, b)
	if err == nil {
		librarySizeStr = fmt.Sprintf("%v", librarySize)
	} else {
		log.Debug.Printf("estimateLibrarySize(%v, %v): %v", a, b, err)
	}

	percent := 0.0
	if examined := m.UnpairedReads + m.ReadPairsExamined; examined > 0 {
		percent = 100 * float64(m.UnpairedDups+m.ReadPairDups) / float64(examined)
	}
	return fmt.Sprintf("%d\t%d\t%d\t%d\t%d\t%d\t%d\t%0.6f\t%v\t%d", m.UnpairedReads, m.ReadPairsExamined/2,
		m.SecondarySupplementary, m.UnmappedReads, m.UnpairedDups,
		m.ReadPairDups/2, m.ReadPairOpticalDups/2, percent,
		librarySizeStr, m.ConsensusReads)
}

// Add adds the metrics in other to m.
func (m *Metrics) Add(other *Metrics) {
	m.UnpairedReads += other.UnpairedReads
	m.ReadPairsExamined += other.ReadPairsExamined
	m.SecondarySupplementary += other.SecondarySupplementary
	m.UnmappedReads += other.UnmappedReads
	m.UnpairedDups += other.UnpairedDups
	m.ReadPairDups += other.ReadPairDups
	m.ReadPairOpticalDups += other.ReadPairOpticalDups
	m.ConsensusReads += other.ConsensusReads
}

// MetricsCollection contains metrics computed by Mark.
type MetricsCollection struct {
	// LibraryMetrics contains per-library metrics.
	LibraryMetrics map[string]*Metrics

	// Cache counters summed over all partitions.
	Cache CacheStats
	// JitterCollapsed is the number of groups absorbed by jitter
	// collapsing.
	JitterCollapsed int
	// MissingUMIs is the number of reads without a UMI in UMI mode.
	MissingUMIs int

	mutex sync.Mutex
}

func newMetricsCollection() *MetricsCollection {
	return &MetricsCollection{
		LibraryMetrics: make(map[string]*Metrics),
	}
}

// Get returns Metrics for the given library. If there is no Metrics
// for library yet, create one and return it.
func (mc *MetricsCollection) Get(library string) *Metrics {
	m, found := mc.LibraryMetrics[library]
	if found {
		return m
	}
	m = &Metrics{}
	mc.LibraryMetrics[library] = m
	return m
}

// Merge per-library metrics and counters from other into mc.
func (mc *MetricsCollection) Merge(other *MetricsCollection) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	for library, otherMetrics := range other.LibraryMetrics {
		existing, found := mc.LibraryMetrics[library]
		if found {
			existing.Add(otherMetrics)
		} else {
			// Make a copy to be owned by m.
			new := *otherMetrics
			mc.LibraryMetrics[library] = &new
		}
	}
	mc.Cache.Accepted += other.Cache.Accepted
	mc.Cache.Emitted += other.Cache.Emitted
	mc.Cache.ForcedEvictions += other.Cache.ForcedEvictions
	mc.Cache.ClipViolations += other.Cache.ClipViolations
	mc.JitterCollapsed += other.JitterCollapsed
	mc.MissingUMIs += other.MissingUMIs
}

// updateMetrics counts an input record that lies in its shard.
func updateMetrics(readGroupLibrary map[string]string, mc *MetricsCollection, record *sam.Record) {
	library := GetLibrary(readGroupLibrary, record)
	metrics := mc.Get(library)

	if (record.Flags & sam.Unmapped) != 0 {
		metrics.UnmappedReads++
	} else if bam.HasNoMappedMate(record) &&
		(record.Flags&sam.Secondary) == 0 && (record.Flags&sam.Supplementary) == 0 {
		metrics.UnpairedReads++
	}

	if (record.Flags&sam.Paired) != 0 &&
		(record.Flags&sam.Unmapped) == 0 && (record.Flags&sam.MateUnmapped) == 0 &&
		(record.Flags&sam.Secondary) == 0 && (record.Flags&sam.Supplementary) == 0 {
		metrics.ReadPairsExamined++
	}
	if (record.Flags&sam.Secondary) != 0 || (record.Flags&sam.Supplementary) != 0 {
		metrics.SecondarySupplementary++
	}
}

// countDuplicate counts a non-template member of a duplicate group.
func countDuplicate(readGroupLibrary map[string]string, mc *MetricsCollection, record *sam.Record, optical bool) {
	if (record.Flags&sam.Secondary) != 0 || (record.Flags&sam.Supplementary) != 0 ||
		(record.Flags&sam.Unmapped) != 0 {
		return
	}
	metrics := mc.Get(GetLibrary(readGroupLibrary, record))
	if bam.HasNoMappedMate(record) {
		metrics.UnpairedDups++
		return
	}
	metrics.ReadPairDups++
	if optical {
		metrics.ReadPairOpticalDups++
	}
}

const metricsColumns = "LIBRARY\tUNPAIRED_READS_EXAMINED\tREAD_PAIRS_EXAMINED\t" +
	"SECONDARY_OR_SUPPLEMENTARY_RDS\tUNMAPPED_READS\tUNPAIRED_READ_DUPLICATES\t" +
	"READ_PAIR_DUPLICATES\tREAD_PAIR_OPTICAL_DUPLICATES\tPERCENT_DUPLICATION\t" +
	"ESTIMATED_LIBRARY_SIZE\tCONSENSUS_READS\n"

// writeMetrics writes the metrics to opts.MetricsFile. The output is gzip
// compressed if the path ends in ".gz".
func writeMetrics(ctx context.Context, opts *Opts, globalMetrics *MetricsCollection) (err error) {
	out, err := file.Create(ctx, opts.MetricsFile)
	if err != nil {
		return errors.E(err, "couldn't create metrics file:", opts.MetricsFile)
	}
	defer func() {
		if err2 := out.Close(ctx); err == nil && err2 != nil {
			err = errors.E(err2, "closing metrics file:", opts.MetricsFile)
		}
	}()

	var w io.Writer = out.Writer(ctx)
	if strings.HasSuffix(opts.MetricsFile, ".gz") {
		gz := gzip.NewWriter(w)
		defer func() {
			if err2 := gz.Close(); err == nil && err2 != nil {
				err = errors.E(err2, "compressing metrics file:", opts.MetricsFile)
			}
		}()
		w = gz
	}
	if err = formatMetrics(w, globalMetrics); err != nil {
		return errors.E(err, "error writing to metrics file:", opts.MetricsFile)
	}
	return nil
}

func formatMetrics(w io.Writer, mc *MetricsCollection) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# fragcollapse run %s\n", uuid.New().String())
	fmt.Fprintf(&sb, "# reads cached: %d, forced evictions: %d, clip violations: %d\n",
		mc.Cache.Accepted, mc.Cache.ForcedEvictions, mc.Cache.ClipViolations)
	fmt.Fprintf(&sb, "# jitter collapsed groups: %d, reads without umi: %d\n",
		mc.JitterCollapsed, mc.MissingUMIs)
	sb.WriteString(metricsColumns)

	libraries := make([]string, 0, len(mc.LibraryMetrics))
	for library := range mc.LibraryMetrics {
		libraries = append(libraries, library)
	}
	sort.Strings(libraries)
	for _, library := range libraries {
		sb.WriteString(library + "\t" + mc.LibraryMetrics[library].String() + "\n")
	}
	_, err := io.WriteString(w, sb.String())
	return err
}
