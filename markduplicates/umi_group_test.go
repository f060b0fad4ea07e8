package markduplicates

import (
	"sort"
	"strings"
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func umiRead(name string, pos, length int, umi string) *sam.Record {
	cigar := sam.Cigar{sam.NewCigarOp(sam.CigarMatch, length)}
	return NewRecordAux(name, chr1, pos, 0, -1, nil, cigar, NewAux("RX", umi))
}

// groupSummary describes groups as "UMI:member,member".
func groupSummary(groups []*DuplicateGroup) []string {
	var out []string
	for _, g := range groups {
		var names []string
		for _, r := range g.Reads() {
			names = append(names, r.ID.Name)
		}
		sort.Strings(names)
		out = append(out, g.UMI+":"+strings.Join(names, ","))
	}
	sort.Strings(out)
	return out
}

func singles(reads []*Read) Batch {
	return Batch{Singles: reads}
}

func TestUmiGroupExactDuplicates(t *testing.T) {
	cfg := testConfig(t, func(o *Opts) {
		o.UseUmis = true
		o.UmiMismatches = 1
	})
	reads := newTestReads(cfg, umiRead("A", 10, 10, "ACGT"), umiRead("B", 10, 10, "ACGT"))
	groups := NewUmiGroupBuilder(cfg).Build(Batch{Groups: []*DuplicateGroup{
		newDuplicateGroup(reads[0].Coords, reads...),
	}})
	require.Len(t, groups, 1)
	assert.Equal(t, 2, groups[0].Size())
	assert.Equal(t, "ACGT", groups[0].UMI)
}

func TestUmiGroupSplit(t *testing.T) {
	cfg := testConfig(t, func(o *Opts) {
		o.UseUmis = true
		o.UmiMismatches = 1
	})
	reads := newTestReads(cfg,
		umiRead("A", 10, 10, "ACGT"),
		umiRead("B", 10, 10, "ACGA"),
		umiRead("C", 10, 10, "ACGT"),
		umiRead("D", 10, 10, "TTTT"))
	groups := NewUmiGroupBuilder(cfg).Build(Batch{Groups: []*DuplicateGroup{
		newDuplicateGroup(reads[0].Coords, reads...),
	}})
	assert.Equal(t, []string{"ACGT:A,B,C", "TTTT:D"}, groupSummary(groups))
}

func TestUmiGroupJitterBoundary(t *testing.T) {
	cfg := testConfig(t, func(o *Opts) {
		o.UseUmis = true
		o.UmiMismatches = 1
		o.JitterDistance = SingleEndJitterCollapseDistance
	})
	tests := []struct {
		name      string
		pos       int
		length    int
		umi       string
		collapsed bool
	}{
		{"3' end 3 bases away", 10, 13, "ACGT", true},
		{"3' end 3 bases away, one umi mismatch", 10, 13, "ACGA", true},
		{"3' end 2 bases short", 10, 8, "ACGT", true},
		{"3' end 4 bases away", 10, 14, "ACGT", false},
		{"two umi mismatches", 10, 12, "AGCT", false},
		{"both ends differ", 11, 11, "ACGT", false},
	}
	for _, test := range tests {
		b := NewUmiGroupBuilder(cfg)
		reads := newTestReads(cfg, umiRead("A", 10, 10, "ACGT"), umiRead("B", test.pos, test.length, test.umi))
		groups := b.Build(singles(reads))
		if test.collapsed {
			require.Len(t, groups, 1, test.name)
			assert.Equal(t, 2, groups[0].Size(), test.name)
			assert.Equal(t, 1, b.Jittered, test.name)
			assert.Len(t, groups[0].NonConsensusReads(), 1, test.name)
		} else {
			assert.Len(t, groups, 2, test.name)
			assert.Equal(t, 0, b.Jittered, test.name)
		}
	}
}

func TestUmiGroupJitterLargestFirst(t *testing.T) {
	cfg := testConfig(t, func(o *Opts) {
		o.UseUmis = true
		o.UmiMismatches = 1
		o.JitterDistance = SingleEndJitterCollapseDistance
	})
	// The pair of reads with a 3' end at 21 absorbs both neighbors, which
	// are 6 bases apart from each other.
	reads := newTestReads(cfg,
		umiRead("L", 10, 9, "ACGT"),
		umiRead("M1", 10, 12, "ACGT"),
		umiRead("M2", 10, 12, "ACGT"),
		umiRead("R", 10, 15, "ACGT"))
	batch := Batch{
		Groups:  []*DuplicateGroup{newDuplicateGroup(reads[1].Coords, reads[1], reads[2])},
		Singles: []*Read{reads[0], reads[3]},
	}
	groups := NewUmiGroupBuilder(cfg).Build(batch)
	assert.Equal(t, []string{"ACGT:L,M1,M2,R"}, groupSummary(groups))
	assert.Len(t, groups[0].ConsensusReads(), 2)
}

func TestUmiGroupDuplexOrderInvariance(t *testing.T) {
	cfg := testConfig(t, func(o *Opts) {
		o.UseUmis = true
		o.Duplex = true
		o.UmiMismatches = 1
	})
	names := []string{"A", "B", "C", "D"}
	umis := []string{"AAAA+CCCC", "CCCC+AAAA", "CCCA+AAAA", "GGTT+ACAC"}

	var want []string
	for _, perm := range permutations(len(names)) {
		recs := make([]*sam.Record, len(perm))
		for i, j := range perm {
			recs[i] = umiRead(names[j], 10, 10, umis[j])
		}
		reads := newTestReads(cfg, recs...)
		groups := NewUmiGroupBuilder(cfg).Build(Batch{Groups: []*DuplicateGroup{
			newDuplicateGroup(reads[0].Coords, reads...),
		}})
		got := groupSummary(groups)
		if want == nil {
			want = got
			continue
		}
		assert.Equal(t, want, got, "order %v", perm)
	}
	assert.Equal(t, []string{"AAAA+CCCC:A,B,C", "ACAC+GGTT:D"}, want)
}

func TestUmiGroupDisabled(t *testing.T) {
	cfg := testConfig(t, nil)
	reads := newTestReads(cfg, umiRead("A", 10, 10, "ACGT"), umiRead("B", 10, 10, "TTTT"))
	groups := NewUmiGroupBuilder(cfg).Build(Batch{Groups: []*DuplicateGroup{
		newDuplicateGroup(reads[0].Coords, reads...),
	}})
	require.Len(t, groups, 1)
	assert.Equal(t, 2, groups[0].Size())
	assert.Equal(t, "", groups[0].UMI)
}
