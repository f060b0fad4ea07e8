package bamprovider

import (
	gbam "github.com/grailbio/fragcollapse/encoding/bam"
	"github.com/grailbio/hts/sam"
)

// ProviderOpts defines options for NewProvider.
type ProviderOpts struct {
	// Index specifies the name of the BAM index file. If Index=="", it
	// defaults to path + ".bai".
	Index string
}

// GenerateShardsOpts defines behavior of Provider.GenerateShards.
type GenerateShardsOpts struct {
	// ShardSize is the width of each mapped shard, in bases.
	ShardSize int
	// Padding is the number of bases each shard is extended by on both
	// sides when iterating.
	Padding int
	// IncludeUnmapped causes GenerateShards() to produce a shard for the
	// unmapped && mate-unmapped reads.
	IncludeUnmapped bool
}

// DefaultShardSize is the value used when GenerateShardsOpts.ShardSize is not
// set.
const DefaultShardSize = 1000000

// Provider allows reading a sorted BAM file in parallel. Thread safe.
type Provider interface {
	// GetHeader returns the header for the provided BAM data.  The callee
	// must not modify the returned header object.
	//
	// REQUIRES: Close has not been called.
	GetHeader() (*sam.Header, error)

	// GenerateShards splits the data into contiguous, non-overlapping
	// genomic intervals. A SAM record is associated with a shard if its
	// alignment start position is within the given padding distance of the
	// shard, so reads near shard boundaries are yielded by more than one
	// shard.
	//
	// REQUIRES: Close has not been called.
	GenerateShards(opts GenerateShardsOpts) ([]gbam.Shard, error)

	// NewIterator returns an iterator over records in the padded shard.
	//
	// REQUIRES: Close has not been called.
	NewIterator(shard gbam.Shard) Iterator

	// Close must be called exactly once. It returns any error encountered
	// by the provider, or any iterator created by the provider.
	//
	// REQUIRES: All the iterators created by NewIterator have been closed.
	Close() error
}

// Iterator iterates over sam.Records in a particular genomic range, in
// coordinate order. Thread compatible.
type Iterator interface {
	// Scan returns whether there are any records remaining in the iterator,
	// and if so, advances the iterator to the next record. If an error
	// occurs, Scan() returns false and the error can be retrieved by
	// calling Err().
	//
	// REQUIRES: Close has not been called.
	Scan() bool

	// Record returns the current record in the iterator. This must be
	// called only after a call to Scan() returns true.
	//
	// REQUIRES: Close has not been called.
	Record() *sam.Record

	// Err returns the error encountered during iteration, or nil if no error
	// occurred.  An io.EOF error will be translated to nil.
	Err() error

	// Close must be called exactly once. It returns the value of Err().
	Close() error
}

// NewProvider creates a Provider for the BAM file at path.
func NewProvider(path string, optList ...ProviderOpts) Provider {
	opts := ProviderOpts{}
	for _, o := range optList {
		if o.Index != "" {
			opts.Index = o.Index
		}
	}
	return &BAMProvider{Path: path, Index: opts.Index}
}

func generateShards(header *sam.Header, opts GenerateShardsOpts) ([]gbam.Shard, error) {
	size := opts.ShardSize
	if size <= 0 {
		size = DefaultShardSize
	}
	return gbam.GetPositionBasedShards(header, size, opts.Padding, opts.IncludeUnmapped)
}
