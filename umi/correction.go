package umi

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"
	"github.com/grailbio/base/log"
)

var alphabetWithN = []byte{'A', 'C', 'G', 'T', 'N'}

type snapCorrectorEntry struct {
	knownUMI string
	edits    int
}

// SnapCorrector implements "snap" correction of UMIs.  A umi U is
// snappable if there is a known non-random umi U1 that is closer to U
// than all other known umis, in terms of Levenshtein edit distance.
type SnapCorrector struct {
	knownUMIs []string
	k         int

	// correctionTable maps every snappable k-mer (k is the length of the
	// known umis) to the known UMI it snaps to.
	correctionTable map[string]snapCorrectorEntry
}

// NewSnapCorrector creates a new snap corrector. knownUMIs is a \n separated
// list of UMIs of equal length, each consisting of ACGT.
func NewSnapCorrector(knownUMIs []byte) (*SnapCorrector, error) {
	log.Debug.Printf("building snappable UMI correction table")
	scanner := bufio.NewScanner(bytes.NewReader(knownUMIs))
	var known []string
	k := -1
	for scanner.Scan() {
		umi := strings.ToUpper(strings.TrimSpace(scanner.Text()))
		if umi == "" {
			continue
		}
		if k < 0 {
			k = len(umi)
		}
		if len(umi) != k {
			return nil, fmt.Errorf("umi %s has length %d, other umis have length %d", umi, len(umi), k)
		}
		if err := validate(umi, false); err != nil {
			return nil, err
		}
		known = append(known, umi)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if k < 0 {
		return nil, fmt.Errorf("no umis in input")
	}

	correctionTable := map[string]snapCorrectorEntry{}
	for _, umi := range allKmers(k, alphabetWithN) {
		// byCost[c] lists the known umis at edit distance c from umi.
		byCost := make([][]string, k+1)
		for _, knownUMI := range known {
			cost := matchr.Levenshtein(umi, knownUMI)
			byCost[cost] = append(byCost[cost], knownUMI)
		}
		for cost, knownList := range byCost {
			if len(knownList) == 1 {
				correctionTable[umi] = snapCorrectorEntry{knownList[0], cost}
			}
			if len(knownList) > 0 {
				break
			}
		}
	}
	log.Debug.Printf("built UMI correction table: %d known, %d snappable", len(known), len(correctionTable))
	return &SnapCorrector{
		knownUMIs:       known,
		k:               k,
		correctionTable: correctionTable,
	}, nil
}

// Len returns the length of the known UMIs.
func (c *SnapCorrector) Len() int { return c.k }

// CorrectUMI returns a corrected umi, number of edits to the corrected umi,
// and true if there is exactly one known UMI that is closest to the original
// umi with respect to Levenshtein edit distance.  Otherwise, return the
// original umi, -1, and false.
func (c *SnapCorrector) CorrectUMI(umi string) (correctedUMI string, edits int, corrected bool) {
	umi = strings.ToUpper(umi)
	entry, ok := c.correctionTable[umi]
	if ok {
		return entry.knownUMI, entry.edits, entry.knownUMI != umi
	}
	return umi, -1, false
}

func validate(umi string, allowN bool) error {
	for i := 0; i < len(umi); i++ {
		switch umi[i] {
		case 'A', 'C', 'G', 'T':
		case 'N':
			if !allowN {
				return fmt.Errorf("invalid base N in umi %v", umi)
			}
		default:
			return fmt.Errorf("invalid base %c in umi %v", umi[i], umi)
		}
	}
	return nil
}

// allKmers returns all kmers of length k over the given alphabet.
func allKmers(k int, alphabet []byte) []string {
	kmers := []string{""}
	for i := 0; i < k; i++ {
		next := make([]string, 0, len(kmers)*len(alphabet))
		for _, prefix := range kmers {
			for _, c := range alphabet {
				next = append(next, prefix+string(c))
			}
		}
		kmers = next
	}
	return kmers
}
