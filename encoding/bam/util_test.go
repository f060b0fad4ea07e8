package bam

import (
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseCigar(t *testing.T, s string) sam.Cigar {
	c, err := sam.ParseCigar([]byte(s))
	require.NoError(t, err)
	return c
}

func TestFlagPredicates(t *testing.T) {
	tests := []struct {
		flag sam.Flags
		f    func(record *sam.Record) bool
		want bool
	}{
		{sam.Paired, IsPaired, true},
		{sam.Unmapped, IsUnmapped, true},
		{sam.Reverse, IsReversedRead, true},
		{sam.Read1, IsRead1, true},
		{sam.Secondary, IsSecondary, true},
		{sam.Supplementary, IsSupplementary, true},
		{sam.Read2, IsRead1, false},
		{sam.MateReverse, IsReversedRead, false},
		{sam.Paired | sam.Supplementary, IsSecondary, false},
		{sam.Paired | sam.MateUnmapped, HasNoMappedMate, true},
		{sam.Read1, HasNoMappedMate, true},
		{sam.Paired | sam.Read1, HasNoMappedMate, false},
	}
	for i, test := range tests {
		assert.Equal(t, test.want, test.f(&sam.Record{Flags: test.flag}), "test %d flags %v", i, test.flag)
	}
}

func TestUnclippedPositions(t *testing.T) {
	tests := []struct {
		pos        int
		cigar      string
		reverse    bool
		fivePrime  int
		threePrime int
	}{
		{100, "10M", false, 100, 109},
		{100, "10M", true, 109, 100},
		{100, "3S7M", false, 97, 106},
		{100, "3S7M", true, 106, 97},
		{100, "2H3S5M4S", false, 95, 108},
		{100, "2H3S5M4S", true, 108, 95},
		{100, "4M2D4M", false, 100, 109},
		{100, "4M2I4M", true, 107, 100},
		{100, "4M100N4M1S", true, 208, 100},
	}
	for _, test := range tests {
		c := parseCigar(t, test.cigar)
		assert.Equal(t, test.fivePrime, UnclippedFivePrime(test.pos, c, test.reverse), "%+v", test)
		assert.Equal(t, test.threePrime, UnclippedThreePrime(test.pos, c, test.reverse), "%+v", test)

		var flags sam.Flags
		if test.reverse {
			flags = sam.Reverse
		}
		r := &sam.Record{Pos: test.pos, Cigar: c, Flags: flags}
		assert.Equal(t, test.fivePrime, UnclippedFivePrimePosition(r))
		assert.Equal(t, test.threePrime, UnclippedThreePrimePosition(r))
	}
}

func TestMateUnclippedFivePrimePosition(t *testing.T) {
	mc, err := sam.NewAux(MateCigarTag, "2S8M")
	require.NoError(t, err)
	badMC, err := sam.NewAux(MateCigarTag, "*")
	require.NoError(t, err)

	r := &sam.Record{MatePos: 200, AuxFields: sam.AuxFields{mc}}
	assert.Equal(t, 198, MateUnclippedFivePrimePosition(r))

	r = &sam.Record{MatePos: 200, Flags: sam.MateReverse, AuxFields: sam.AuxFields{mc}}
	assert.Equal(t, 207, MateUnclippedFivePrimePosition(r))

	r = &sam.Record{MatePos: 200, Flags: sam.MateReverse, AuxFields: sam.AuxFields{badMC}}
	assert.Equal(t, 200, MateUnclippedFivePrimePosition(r))

	r = &sam.Record{MatePos: 200}
	assert.Equal(t, 200, MateUnclippedFivePrimePosition(r))
	_, ok := StringTag(r, SupplementaryAlignmentTag)
	assert.False(t, ok)
}

func TestIntTag(t *testing.T) {
	small, err := sam.NewAux(MateScoreTag, 120)
	require.NoError(t, err)
	large, err := sam.NewAux(MateScoreTag, 70000)
	require.NoError(t, err)
	str, err := sam.NewAux(MateScoreTag, "120")
	require.NoError(t, err)

	tests := []struct {
		aux  sam.AuxFields
		want int
		ok   bool
	}{
		{sam.AuxFields{small}, 120, true},
		{sam.AuxFields{large}, 70000, true},
		{sam.AuxFields{str}, 0, false},
		{nil, 0, false},
	}
	for _, test := range tests {
		v, ok := IntTag(&sam.Record{AuxFields: test.aux}, MateScoreTag)
		assert.Equal(t, test.ok, ok, "%v", test.aux)
		assert.Equal(t, test.want, v, "%v", test.aux)
	}
}

func TestHasHardClip(t *testing.T) {
	assert.True(t, HasHardClip(parseCigar(t, "5H10M")))
	assert.False(t, HasHardClip(parseCigar(t, "5S10M")))
	assert.False(t, HasHardClip(nil))
}
