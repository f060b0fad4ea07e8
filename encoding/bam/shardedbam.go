package bam

import (
	"io"
	"sync"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/syncqueue"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// ShardedBAMWriter provides a way to write a BAM file as a sequence of
// shards. Each of the shards has a sequentially increasing shard number
// starting at 0. The ShardedBAMWriter writes these shards to a bam file in
// the order of their shard numbers, regardless of the order in which they
// are completed.
//
// To fill a shard, the user first creates a ShardedBAMCompressor with
// GetCompressor, starts a shard, adds the records and closes the shard.
// Each goroutine should own its compressor.
//
//   w, err := NewShardedBAMWriter(out, gzip.DefaultCompression, 10, header)
//   c := w.GetCompressor()
//   if err := c.StartShard(1); err != nil { ... }
//   if err := c.AddRecord(record); err != nil { ... }
//   if err := c.CloseShard(); err != nil { ... }
//   ...
//   if err := w.Close(); err != nil { ... }
type ShardedBAMWriter struct {
	w         *bam.Writer
	queue     *syncqueue.OrderedQueue
	waitGroup sync.WaitGroup
	err       error
}

// ShardedBAMCompressor collects the records of one in-progress shard. More
// than one ShardedBAMCompressor can exist at once.
type ShardedBAMCompressor struct {
	writer *ShardedBAMWriter
	output *shardedBAMBuffer
}

type shardedBAMBuffer struct {
	shardNum int
	records  []*sam.Record
}

// NewShardedBAMWriter creates a new ShardedBAMWriter that writes the output
// bam to w. At most queueSize completed shards are buffered while waiting
// for an earlier shard.
func NewShardedBAMWriter(w io.Writer, gzLevel, queueSize int, header *sam.Header) (*ShardedBAMWriter, error) {
	bw, err := bam.NewWriterLevel(w, header, gzLevel, 1)
	if err != nil {
		return nil, err
	}
	sw := &ShardedBAMWriter{
		w:     bw,
		queue: syncqueue.NewOrderedQueue(queueSize),
	}
	sw.waitGroup.Add(1)
	go func() {
		defer sw.waitGroup.Done()
		sw.writeShards()
	}()
	return sw, nil
}

// GetCompressor returns a child ShardedBAMCompressor.
func (bw *ShardedBAMWriter) GetCompressor() *ShardedBAMCompressor {
	return &ShardedBAMCompressor{writer: bw}
}

// StartShard begins a new shard with the specified shard number. If the
// compressor still has data from the previous shard, it crashes.
func (c *ShardedBAMCompressor) StartShard(shardNum int) error {
	if c.output != nil {
		log.Fatalf("shard %d still in progress", c.output.shardNum)
	}
	c.output = &shardedBAMBuffer{shardNum: shardNum}
	return nil
}

// AddRecord adds a record to the current shard. The compressor takes
// ownership of r.
func (c *ShardedBAMCompressor) AddRecord(r *sam.Record) error {
	c.output.records = append(c.output.records, r)
	return nil
}

// CloseShard passes the current shard to the parent ShardedBAMWriter. It
// blocks when the writer already buffers queueSize shards ahead of the next
// shard to write.
func (c *ShardedBAMCompressor) CloseShard() error {
	f := c.output
	c.output = nil
	return c.writer.queue.Insert(f.shardNum, f)
}

func (bw *ShardedBAMWriter) writeShards() {
	for {
		entry, ok, err := bw.queue.Next()
		if err != nil {
			bw.err = err
			break
		}
		if !ok {
			break
		}
		shard := entry.(*shardedBAMBuffer)
		for _, r := range shard.records {
			if err := bw.w.Write(r); err != nil {
				bw.err = err
				bw.queue.Close(err)
				return
			}
		}
	}
}

// Close flushes the bam file. This should be called only after all shards
// have been closed.
func (bw *ShardedBAMWriter) Close() error {
	err := bw.queue.Close(nil)
	bw.waitGroup.Wait()
	if bw.err != nil {
		return bw.err
	}
	if err != nil {
		return err
	}
	return bw.w.Close()
}
