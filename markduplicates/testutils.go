package markduplicates

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/fragcollapse/encoding/bamprovider"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type TestRecord struct {
	R              *sam.Record
	DupFlag        bool
	ExpectedAuxs   []sam.Aux
	UnexpectedTags []sam.Tag
}

type TestCase struct {
	TRecords []TestRecord
	Opts     Opts
	// Consensus is the expected number of consensus records.
	Consensus int
}

func NewRecord(name string, ref *sam.Reference, pos int, flags sam.Flags, matePos int, mateRef *sam.Reference, cigar sam.Cigar) *sam.Record {
	r := sam.GetFromFreePool()
	r.Name = name
	r.Ref = ref
	r.Pos = pos
	r.MatePos = matePos
	r.MateRef = mateRef
	r.Flags = flags
	r.Cigar = cigar
	r.AuxFields = nil
	_, n := cigar.Lengths()
	r.Seq = sam.NewSeq([]byte(strings.Repeat("A", n)))
	r.Qual = []byte(strings.Repeat("\x1e", n))
	return r
}

func NewRecordSeq(name string, ref *sam.Reference, pos int, flags sam.Flags, matePos int, mateRef *sam.Reference,
	cigar sam.Cigar, seq, qual string) *sam.Record {
	if len(seq) != len(qual) {
		panic("seq and qual must be equal length")
	}
	r := NewRecord(name, ref, pos, flags, matePos, mateRef, cigar)
	r.Seq = sam.NewSeq([]byte(seq))
	r.Qual = []byte(qual)
	return r
}

func NewRecordAux(name string, ref *sam.Reference, pos int, flags sam.Flags, matePos int, mateRef *sam.Reference,
	cigar sam.Cigar, aux ...sam.Aux) *sam.Record {
	r := NewRecord(name, ref, pos, flags, matePos, mateRef, cigar)
	r.AuxFields = append(r.AuxFields, aux...)
	return r
}

func NewAux(name string, val interface{}) sam.Aux {
	aux, err := sam.NewAux(sam.NewTag(name), val)
	if err != nil {
		panic(fmt.Sprintf("error creating %s %v tag: %v", name, val, err))
	}
	return aux
}

// NewPair returns the two mates of a template. The mate fields, the
// MateReverse flags and the MC tags of each record describe the other one.
// flags1 and flags2 should hold Paired, Read1/Read2 and Reverse.
func NewPair(name string, ref1 *sam.Reference, pos1 int, flags1 sam.Flags, cigar1 sam.Cigar,
	ref2 *sam.Reference, pos2 int, flags2 sam.Flags, cigar2 sam.Cigar, aux ...sam.Aux) (*sam.Record, *sam.Record) {
	if flags2&sam.Reverse != 0 {
		flags1 |= sam.MateReverse
	}
	if flags1&sam.Reverse != 0 {
		flags2 |= sam.MateReverse
	}
	a := NewRecordAux(name, ref1, pos1, flags1, pos2, ref2, cigar1, aux...)
	b := NewRecordAux(name, ref2, pos2, flags2, pos1, ref1, cigar2, aux...)
	a.AuxFields = append(a.AuxFields, NewAux("MC", cigar2.String()))
	b.AuxFields = append(b.AuxFields, NewAux("MC", cigar1.String()))
	return a, b
}

// RunTestCases marks each case with the fake provider and checks the
// original records of the output, in order, against the expectations.
func RunTestCases(t *testing.T, header *sam.Header, cases []TestCase) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	for testIdx, test := range cases {
		t.Logf("---- starting TestCase[%d] ----", testIdx)
		testrecords := make([]*sam.Record, 0, len(test.TRecords))
		for _, tr := range test.TRecords {
			testrecords = append(testrecords, tr.R)
		}
		provider := bamprovider.NewFakeProvider(header, testrecords)

		outputPath := filepath.Join(tempDir, fmt.Sprintf("%d.bam", testIdx))
		opts := test.Opts
		opts.OutputPath = outputPath
		opts.Format = "bam"
		markDuplicates := &MarkDuplicates{
			Provider: provider,
			Opts:     &opts,
		}
		_, err := markDuplicates.Mark(nil)
		require.NoError(t, err)
		for i, r := range testrecords {
			t.Logf("input[%v]: %v begin %d end %d", i, r, r.Start(), r.End())
		}

		var actualRecords []*sam.Record
		consensus := 0
		for _, r := range ReadRecords(t, outputPath) {
			if strings.HasPrefix(r.Name, consensusPrefix) {
				consensus++
				continue
			}
			actualRecords = append(actualRecords, r)
		}
		assert.Equal(t, test.Consensus, consensus, "number of consensus records, case %d", testIdx)
		require.Equal(t, len(test.TRecords), len(actualRecords), "case %d", testIdx)
		for i, r := range actualRecords {
			t.Logf("output[%v]: %v", i, r)
			assert.Equal(t, test.TRecords[i].R.Name, r.Name, "case %d record %d", testIdx, i)
			assert.Equal(t, test.TRecords[i].DupFlag, r.Flags&sam.Duplicate != 0,
				"duplicate flag is wrong, case %d record %d", testIdx, i)

			// Verify that exactly one of each expected tag exists, and has the right value.
			for _, expectedAux := range test.TRecords[i].ExpectedAuxs {
				found := 0
				for _, aux := range r.AuxFields {
					if aux[0] == expectedAux.Tag()[0] && aux[1] == expectedAux.Tag()[1] {
						assert.Equal(t, expectedAux, aux)
						found++
					}
				}
				assert.Equal(t, 1, found, "Incorrect number of %s tags, expected 1, got %d",
					expectedAux.Tag(), found)
			}
			// Verify that these tags do not exist.
			for _, negTag := range test.TRecords[i].UnexpectedTags {
				actual, ok := r.Tag([]byte{negTag[0], negTag[1]})
				assert.Equal(t, false, ok, "Expected tag to be absent, but it exists: %v", actual)
			}
		}
	}
}

// ReadRecords reads the records from the BAM file at path and returns them
// as a slice, in order.
func ReadRecords(t *testing.T, path string) []*sam.Record {
	records := make([]*sam.Record, 0)
	// BAM files produced by this test don't have indexes, so read them using
	// the raw reader.
	in, err := os.Open(path)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, in.Close())
	}()
	reader, err := bam.NewReader(in, 1)
	require.NoError(t, err)
	for {
		r, err := reader.Read()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		records = append(records, r)
	}
	return records
}
