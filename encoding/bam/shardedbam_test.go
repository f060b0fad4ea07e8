package bam_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/grailbio/base/traverse"
	gbam "github.com/grailbio/fragcollapse/encoding/bam"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/klauspost/compress/gzip"
)

func readNames(t *testing.T, buf *bytes.Buffer) []string {
	reader, err := bam.NewReader(buf, 1)
	assert.NoError(t, err)
	var names []string
	for {
		r, err := reader.Read()
		if err == io.EOF {
			break
		}
		assert.NoError(t, err)
		names = append(names, r.Name)
	}
	return names
}

func TestShardedBAMWriterOrder(t *testing.T) {
	chr1, err := sam.NewReference("chr1", "", "", 1000, nil, nil)
	assert.NoError(t, err)
	header, err := sam.NewHeader(nil, []*sam.Reference{chr1})
	assert.NoError(t, err)
	cigar := []sam.CigarOp{sam.NewCigarOp(sam.CigarMatch, 4)}

	const nShards = 8
	shards := make([][]*sam.Record, nShards)
	var want []string
	for i := 0; i < nShards; i++ {
		for j := 0; j < 3; j++ {
			name := string([]byte{byte('A' + i), byte('a' + j)})
			shards[i] = append(shards[i], &sam.Record{
				Name: name, Ref: chr1, Pos: 100*i + j, MateRef: nil, MatePos: -1, Cigar: cigar,
				Seq: sam.NewSeq([]byte("ACGT")), Qual: []byte{30, 30, 30, 30},
			})
			want = append(want, name)
		}
	}

	var buf bytes.Buffer
	w, err := gbam.NewShardedBAMWriter(&buf, gzip.DefaultCompression, nShards, header)
	assert.NoError(t, err)
	// Shards complete in reverse order across goroutines.
	err = traverse.Each(nShards, func(i int) error {
		shardNum := nShards - 1 - i
		c := w.GetCompressor()
		if err := c.StartShard(shardNum); err != nil {
			return err
		}
		for _, r := range shards[shardNum] {
			if err := c.AddRecord(r); err != nil {
				return err
			}
		}
		return c.CloseShard()
	})
	assert.NoError(t, err)
	assert.NoError(t, w.Close())
	expect.EQ(t, readNames(t, &buf), want)
}

func TestShardedBAMWriterEmptyShards(t *testing.T) {
	chr1, err := sam.NewReference("chr1", "", "", 1000, nil, nil)
	assert.NoError(t, err)
	header, err := sam.NewHeader(nil, []*sam.Reference{chr1})
	assert.NoError(t, err)

	var buf bytes.Buffer
	w, err := gbam.NewShardedBAMWriter(&buf, gzip.DefaultCompression, 2, header)
	assert.NoError(t, err)
	c := w.GetCompressor()
	for i := 0; i < 4; i++ {
		assert.NoError(t, c.StartShard(i))
		assert.NoError(t, c.CloseShard())
	}
	assert.NoError(t, w.Close())
	expect.EQ(t, len(readNames(t, &buf)), 0)
}
