package umi

import (
	"os"
	"testing"

	"github.com/grailbio/base/grail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllKmers(t *testing.T) {
	kmers := allKmers(3, alphabetWithN)
	uniq := map[string]bool{}
	for _, kmer := range kmers {
		assert.NoError(t, validate(kmer, true), "%s is not a valid kmer", kmer)
		uniq[kmer] = true
	}
	assert.Equal(t, 125, len(uniq)) // 5^3 possible kmers including ACGTN.
}

func TestSnapCorrector(t *testing.T) {
	known3 := "AAA\nCCC\nGGG\nTTT"
	known4 := "AAAA\nCCCC\nGGGG\nTTTT\n"

	tests := []struct {
		knownUMIs   string
		umi         string
		expected    string
		edits       int
		correctable bool
	}{
		{known3, "AAA", "AAA", 0, false},
		{known3, "taa", "AAA", 1, true},
		{known3, "AAT", "AAA", 1, true},
		{known3, "NAA", "AAA", 1, true},
		{known4, "AACC", "AACC", -1, false}, // Could be AAAA or CCCC
		{known4, "AANN", "AAAA", 2, true},
		{known4, "NNNN", "NNNN", -1, false},
		{known4, "ACG", "ACG", -1, false},
	}
	for _, test := range tests {
		c, err := NewSnapCorrector([]byte(test.knownUMIs))
		require.NoError(t, err)
		correctedUMI, edits, corrected := c.CorrectUMI(test.umi)
		assert.Equal(t, test.expected, correctedUMI, "'%s' should have corrected to '%s'", test.umi, test.expected)
		assert.Equal(t, test.edits, edits, "'%s' edits", test.umi)
		assert.Equal(t, test.correctable, corrected, "'%s' should have corrected %v", test.umi, test.correctable)
	}
}

func TestSnapCorrectorErrors(t *testing.T) {
	for _, known := range []string{"", "AAA\nCC", "AAN", "AXA"} {
		_, err := NewSnapCorrector([]byte(known))
		assert.Error(t, err, "known umis %q", known)
	}
}

func TestMain(m *testing.M) {
	shutdown := grail.Init()
	status := m.Run()
	shutdown()
	os.Exit(status)
}
