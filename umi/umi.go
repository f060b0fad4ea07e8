// Package umi parses unique molecular identifiers and decides when two of
// them name the same molecule. Comparison tolerates sequencing errors,
// swapped duplex halves and poly-G dark-cycle artifacts, and every decision
// depends only on the UMI strings, never on the order they are seen in.
package umi

import (
	"fmt"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
	"github.com/grailbio/hts/sam"
)

const (
	// DefaultDelimiter separates the two halves of a duplex UMI.
	DefaultDelimiter = "+"
	// DefaultMaxMismatches is the number of mismatches tolerated per UMI
	// part.
	DefaultMaxMismatches = 1
)

// darkBase is the call a dark sequencing cycle produces.
const darkBase = 'G'

// Opts configures UMI parsing and comparison. Opts is read-only once
// validated and may be shared between goroutines.
type Opts struct {
	// Duplex splits each UMI into two parts on Delimiter.
	Duplex bool
	// Delimiter separates the duplex parts.
	Delimiter string
	// MaxMismatches is the maximum Hamming distance per part for two UMIs
	// to be equivalent.
	MaxMismatches int
	// PolyG ignores mismatches where either base is a G, so dark cycles
	// (including a trailing poly-G run) never count.
	PolyG bool
	// Corrector, if non-nil, snaps each part to a known UMI before
	// comparison.
	Corrector *SnapCorrector
}

// Validate checks o and fills in defaults.
func (o *Opts) Validate() error {
	if o.Delimiter == "" {
		o.Delimiter = DefaultDelimiter
	}
	if strings.ContainsAny(strings.ToUpper(o.Delimiter), "ACGTN") {
		return fmt.Errorf("umi delimiter %q must not contain bases", o.Delimiter)
	}
	if strings.Contains(o.Delimiter, ":") {
		return fmt.Errorf("umi delimiter %q must not contain ':'", o.Delimiter)
	}
	if o.MaxMismatches < 0 {
		return fmt.Errorf("umi mismatches must be non-negative, got %d", o.MaxMismatches)
	}
	return nil
}

// UMI is a parsed identifier. Parts has one element, or two for a duplex
// UMI. Parts are upper case.
type UMI struct {
	Parts []string
}

// Parse splits s into its parts. In duplex mode a UMI without the delimiter
// has a single part and is never equivalent to a two part UMI.
func (o *Opts) Parse(s string) UMI {
	s = strings.ToUpper(s)
	var parts []string
	if o.Duplex {
		parts = strings.SplitN(s, o.Delimiter, 2)
	} else {
		parts = []string{s}
	}
	if o.Corrector != nil {
		for i, p := range parts {
			if len(p) == o.Corrector.Len() {
				parts[i], _, _ = o.Corrector.CorrectUMI(p)
			}
		}
	}
	return UMI{Parts: parts}
}

// Empty returns true if u carries no bases.
func (u UMI) Empty() bool {
	for _, p := range u.Parts {
		if p != "" {
			return false
		}
	}
	return true
}

// Canonical returns a signature of u that does not depend on the order of
// the duplex parts. Two UMIs reading the same molecule from opposite strands
// have the same canonical signature.
func (o *Opts) Canonical(u UMI) string {
	if len(u.Parts) == 2 && u.Parts[1] < u.Parts[0] {
		return u.Parts[1] + o.Delimiter + u.Parts[0]
	}
	return strings.Join(u.Parts, o.Delimiter)
}

// Equivalent returns true if a and b may name the same molecule: every part
// has equal length and at most MaxMismatches mismatches. Duplex parts are
// compared in both pairings.
func (o *Opts) Equivalent(a, b UMI) bool {
	if len(a.Parts) != len(b.Parts) {
		return false
	}
	if len(a.Parts) == 2 {
		return (o.partsMatch(a.Parts[0], b.Parts[0]) && o.partsMatch(a.Parts[1], b.Parts[1])) ||
			(o.partsMatch(a.Parts[0], b.Parts[1]) && o.partsMatch(a.Parts[1], b.Parts[0]))
	}
	for i := range a.Parts {
		if !o.partsMatch(a.Parts[i], b.Parts[i]) {
			return false
		}
	}
	return true
}

func (o *Opts) partsMatch(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	if o.PolyG {
		b = maskDarkCycles(a, b)
	}
	d, err := matchr.Hamming(a, b)
	return err == nil && d <= o.MaxMismatches
}

// maskDarkCycles returns b with every position where a and b differ and
// either one is a G replaced by a's base. a and b have equal length.
func maskDarkCycles(a, b string) string {
	var masked []byte
	for i := 0; i < len(a); i++ {
		if a[i] == b[i] || (a[i] != darkBase && b[i] != darkBase) {
			continue
		}
		if masked == nil {
			masked = []byte(b)
		}
		masked[i] = a[i]
	}
	if masked == nil {
		return b
	}
	return string(masked)
}

var nameSep = []byte{':'}

// FromRecord returns the raw UMI of r: the value of tag if present,
// otherwise the last ':' separated field of the read name if it consists of
// bases and the delimiter. It returns false if r carries no UMI.
func FromRecord(r *sam.Record, tag sam.Tag, delimiter string) (string, bool) {
	if aux := r.AuxFields.Get(tag); aux != nil {
		if s, ok := aux.Value().(string); ok {
			return s, true
		}
	}
	i := strings.LastIndexByte(r.Name, nameSep[0])
	if i < 0 || i == len(r.Name)-1 {
		return "", false
	}
	field := r.Name[i+1:]
	if err := validate(strings.ToUpper(strings.Replace(field, delimiter, "", 1)), true); err != nil {
		return "", false
	}
	return field, true
}

// ClusterResult assigns each input UMI to a cluster.
type ClusterResult struct {
	// Assignment[i] is the cluster of the i'th input UMI.
	Assignment []int
	// Representatives[c] is the canonical signature of cluster c's most
	// abundant UMI.
	Representatives []string
	// Sizes[c] is the number of inputs in cluster c.
	Sizes []int
}

// Cluster partitions umis into clusters of equivalent UMIs. Distinct
// canonical UMIs are visited by decreasing abundance, ties broken by
// signature; each joins the first earlier cluster whose representative is
// equivalent, else it starts a new cluster. The result depends only on the
// multiset of inputs.
func (o *Opts) Cluster(umis []UMI) ClusterResult {
	idx := newUMIIndex(o, len(umis))
	for i, u := range umis {
		idx.add(u, i)
	}
	entries := idx.sorted()

	res := ClusterResult{Assignment: make([]int, len(umis))}
	var reps []UMI
	for _, e := range entries {
		c := -1
		for ci, rep := range reps {
			if o.Equivalent(rep, e.umi) {
				c = ci
				break
			}
		}
		if c < 0 {
			c = len(reps)
			reps = append(reps, e.umi)
			res.Representatives = append(res.Representatives, e.canonical)
			res.Sizes = append(res.Sizes, 0)
		}
		for _, m := range e.members {
			res.Assignment[m] = c
		}
		res.Sizes[c] += len(e.members)
	}
	return res
}

func sortEntries(entries []*umiEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if len(entries[i].members) != len(entries[j].members) {
			return len(entries[i].members) > len(entries[j].members)
		}
		return entries[i].canonical < entries[j].canonical
	})
}
