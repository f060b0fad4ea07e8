package umi

import (
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpts(t *testing.T, o Opts) *Opts {
	require.NoError(t, o.Validate())
	return &o
}

func TestValidate(t *testing.T) {
	o := Opts{}
	assert.NoError(t, o.Validate())
	assert.Equal(t, DefaultDelimiter, o.Delimiter)

	for _, o := range []Opts{{Delimiter: "A"}, {Delimiter: ":"}, {MaxMismatches: -1}} {
		assert.Error(t, o.Validate(), "%+v", o)
	}
}

func TestEquivalent(t *testing.T) {
	single := newOpts(t, Opts{MaxMismatches: 1})
	duplex := newOpts(t, Opts{Duplex: true, MaxMismatches: 1})
	polyG := newOpts(t, Opts{MaxMismatches: 1, PolyG: true})
	exact := newOpts(t, Opts{MaxMismatches: 0})

	tests := []struct {
		opts *Opts
		a, b string
		want bool
	}{
		{single, "ACGTAC", "ACGTAC", true},
		{single, "ACGTAC", "ACGTAA", true},
		{single, "ACGTAC", "TCGTAA", false},
		{single, "ACGTAC", "ACGTA", false},
		{exact, "ACGTAC", "ACGTAA", false},
		{single, "acgtac", "ACGTAC", true},

		// Duplex halves in either order, one mismatch per half.
		{duplex, "AAAC+GGGT", "AAAC+GGGT", true},
		{duplex, "AAAC+GGGT", "GGGT+AAAC", true},
		{duplex, "AAAC+GGGT", "GGGA+AAAT", true},
		{duplex, "AAAC+GGGT", "GGAA+AAAC", false},
		{duplex, "AAAC+GGGT", "AAAC", false},
		{duplex, "AAAC+GGGT", "AAACGGGT", false},

		// G calls are dark cycles, trailing or scattered.
		{polyG, "ACTTAC", "ACGGGG", true},
		{single, "ACTTAC", "ACGGGG", false},
		{polyG, "ACTTAC", "TTGGGG", false},
		{polyG, "AAAAAA", "AGAGAG", true},
		{single, "AAAAAA", "AGAGAG", false},
		{polyG, "ACATAC", "GCGTGC", true},
		{polyG, "ACATAC", "GCGTGA", true},
		{polyG, "ACTAGC", "ACTTCA", false},
		{polyG, "ACGT", "ACGTA", false},
	}
	for _, test := range tests {
		a, b := test.opts.Parse(test.a), test.opts.Parse(test.b)
		assert.Equal(t, test.want, test.opts.Equivalent(a, b), "%s vs %s", test.a, test.b)
		assert.Equal(t, test.want, test.opts.Equivalent(b, a), "%s vs %s", test.b, test.a)
	}
}

func TestCanonical(t *testing.T) {
	duplex := newOpts(t, Opts{Duplex: true})
	assert.Equal(t, "AAAC+GGGT", duplex.Canonical(duplex.Parse("GGGT+AAAC")))
	assert.Equal(t, "AAAC+GGGT", duplex.Canonical(duplex.Parse("aaac+gggt")))
	single := newOpts(t, Opts{})
	assert.Equal(t, "GGGT+AAAC", single.Canonical(single.Parse("GGGT+AAAC")))
	assert.True(t, single.Parse("").Empty())
}

func TestFromRecord(t *testing.T) {
	rx := sam.NewTag("RX")
	aux, err := sam.NewAux(rx, "ACGT+TTGA")
	require.NoError(t, err)

	r := &sam.Record{Name: "M:1:FC:1:1101:100:200:GGGG", AuxFields: sam.AuxFields{aux}}
	u, ok := FromRecord(r, rx, "+")
	assert.True(t, ok)
	assert.Equal(t, "ACGT+TTGA", u)

	r = &sam.Record{Name: "M:1:FC:1:1101:100:200:GGAC+NTTA"}
	u, ok = FromRecord(r, rx, "+")
	assert.True(t, ok)
	assert.Equal(t, "GGAC+NTTA", u)

	for _, name := range []string{"M:1:FC:1:1101:100:200", "read", "read:"} {
		_, ok = FromRecord(&sam.Record{Name: name}, rx, "+")
		assert.False(t, ok, name)
	}
}

func TestClusterDeterministic(t *testing.T) {
	o := newOpts(t, Opts{Duplex: true, MaxMismatches: 1})
	raw := []string{
		"AAAA+CCCC", "CCCC+AAAA", "AAAT+CCCC", // one molecule, 3 reads
		"GGGG+TTTT", "TTTT+GGGG", // a second molecule
		"AATT+CCCC", // two mismatches from the first
	}
	want := map[string][]string{
		"AAAA+CCCC": {"AAAA+CCCC", "CCCC+AAAA", "AAAT+CCCC"},
		"GGGG+TTTT": {"GGGG+TTTT", "TTTT+GGGG"},
		"AATT+CCCC": {"AATT+CCCC"},
	}

	// Every rotation of the input produces the same clusters.
	for shift := 0; shift < len(raw); shift++ {
		var umis []UMI
		var order []string
		for i := range raw {
			s := raw[(i+shift)%len(raw)]
			umis = append(umis, o.Parse(s))
			order = append(order, s)
		}
		res := o.Cluster(umis)
		got := map[string][]string{}
		for i, c := range res.Assignment {
			rep := res.Representatives[c]
			got[rep] = append(got[rep], order[i])
		}
		require.Equal(t, len(want), len(got), "shift %d", shift)
		for rep, members := range want {
			assert.ElementsMatch(t, members, got[rep], "shift %d rep %s", shift, rep)
		}
		assert.Equal(t, "AAAA+CCCC", res.Representatives[0])
		assert.Equal(t, 3, res.Sizes[0])
	}
}

func TestClusterSnapCorrection(t *testing.T) {
	c, err := NewSnapCorrector([]byte("AAAA\nCCCC\nGGGG\nTTTT"))
	require.NoError(t, err)
	o := newOpts(t, Opts{MaxMismatches: 0, Corrector: c})
	res := o.Cluster([]UMI{o.Parse("AAAA"), o.Parse("AANA"), o.Parse("CCCC")})
	assert.Equal(t, []int{0, 0, 1}, res.Assignment)
	assert.Equal(t, []string{"AAAA", "CCCC"}, res.Representatives)
}
