package markduplicates

import (
	"github.com/grailbio/fragcollapse/encoding/bam"
	"github.com/grailbio/hts/sam"
)

var (
	rgTag = sam.Tag{'R', 'G'}
	diTag = sam.Tag{'D', 'I'}
	dsTag = sam.Tag{'D', 'S'}
	dtTag = sam.Tag{'D', 'T'}
	duTag = sam.Tag{'D', 'U'}
)

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func min(x, y int) int {
	if x < y {
		return x
	}
	return y
}

func max(x, y int) int {
	if x > y {
		return x
	}
	return y
}

func getReadGroup(r *sam.Record) (string, bool) {
	return bam.StringTag(r, rgTag)
}

// GetLibrary returns the library for the given record's read group.
// If the library is not defined in readGroupLibrary, returns "Unknown
// Library".
func GetLibrary(readGroupLibrary map[string]string, record *sam.Record) string {
	const unknown = "Unknown Library"

	readGroup, found := getReadGroup(record)
	if !found {
		return unknown
	}

	library := readGroupLibrary[readGroup]
	if library == "" {
		return unknown
	}
	return library
}

// readGroupLibraries maps every read group of header to its library.
func readGroupLibraries(header *sam.Header) map[string]string {
	m := make(map[string]string, len(header.RGs()))
	for _, readGroup := range header.RGs() {
		m[readGroup.Name()] = readGroup.Library()
	}
	return m
}

// clearDupFlagTags removes the outcome of an earlier run from r: the
// duplicate flag and the tags this package writes.
func clearDupFlagTags(r *sam.Record) {
	r.Flags &^= sam.Duplicate

	tagsToRemove := []sam.Tag{diTag, dsTag, dtTag, duTag, miTag}
	bam.ClearAuxTags(r, tagsToRemove)
}
