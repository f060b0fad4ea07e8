package markduplicates

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/log"
)

// PhysicalLocation describes a read's physical location on the flow
// cell. Lane, Surface, Swatch, Section, and TileNumber together
// specify which flowcell tile the read was found in. TileName is the
// 4 or 5 digit representation of the tile, e.g. 1203 means surface 1,
// swath 2 and tile 3. 12304 means surface 1, swath 2, section 3, and
// tile 4. X and Y describe the X and Y coordinates of the well within
// the tile.
type PhysicalLocation struct {
	Lane       int
	Surface    int
	Swath      int
	Section    int
	TileNumber int
	TileName   int
	X          int
	Y          int
}

const (
	// Illumina read names come in 3 varieties: 5, 7, and 8 columns.
	// For 5 and 7 field read names, the last three fields are:
	// tileName, X and Y. For 8 field read names, the last four fields
	// are tileName, X, Y, and UMI. These constants help keep track of
	// which fields are what.

	// IlluminaReadName5Fields is the number of columns in a 5 field read name.
	IlluminaReadName5Fields = 5
	// IlluminaReadName5FieldsTileField is 0-based field number that
	// contains the tileName for 5 field read names.
	IlluminaReadName5FieldsTileField = 2

	// IlluminaReadName7Fields is the number of columns in a 7 field read name.
	IlluminaReadName7Fields = 7
	// IlluminaReadName7FieldsTileField is 0-based field number that
	// contains the tileName for 7 field read names.
	IlluminaReadName7FieldsTileField = 4

	// IlluminaReadName8Fields is the number of columns in an 8 field read name.
	IlluminaReadName8Fields = 8
	// IlluminaReadName8FieldsTileField is 0-based field number that
	// contains the tileName for 8 field read names.
	IlluminaReadName8FieldsTileField = 4
)

// ParseLocation returns a physical location given an Illumina style
// read name. The read name must have 5, 7, or 8 fields separated by
// ':'. When there are 5 or 7 fields, the last three fields are
// tileName, X and Y.  When there are 8 fields, the last four fields
// are tileName, X, Y, and UMI.
//
// The tileName be formatted as a 4 or 5 digit Illumina tileName.
// For a description of 4 digit tile numbers, see Appendix B, section Tile Numbering in
//  http://support.illumina.com.cn/content/dam/illumina-support/documents/documentation/system_documentation/hiseqx/hiseq-x-system-guide-15050091-e.pdf
//
// For a description of 5 digit tile numbers, see Appendix C, section Tile Numbering in
//   https://support.illumina.com/content/dam/illumina-support/documents/documentation/system_documentation/nextseq/nextseq-550-system-guide-15069765-05.pdf
func ParseLocation(qname string) (PhysicalLocation, error) {
	fields := strings.Split(qname, ":")
	var tileIdx int
	switch len(fields) {
	case IlluminaReadName5Fields:
		tileIdx = IlluminaReadName5FieldsTileField
	case IlluminaReadName7Fields:
		tileIdx = IlluminaReadName7FieldsTileField
	case IlluminaReadName8Fields:
		tileIdx = IlluminaReadName8FieldsTileField
	default:
		return PhysicalLocation{}, fmt.Errorf("could not parse name: %s, expected 5, 7, or 8 fields separated by ':'", qname)
	}

	var location PhysicalLocation
	for _, f := range []struct {
		dest *int
		idx  int
		what string
	}{
		{&location.Lane, tileIdx - 1, "lane"},
		{&location.TileName, tileIdx, "tile"},
		{&location.X, tileIdx + 1, "x"},
		{&location.Y, tileIdx + 2, "y"},
	} {
		v, err := strconv.Atoi(fields[f.idx])
		if err != nil {
			return PhysicalLocation{}, fmt.Errorf("could not parse name: %s, could not convert %s to integer: %v",
				qname, f.what, err)
		}
		*f.dest = v
	}

	if location.TileName > 99999 {
		return PhysicalLocation{}, fmt.Errorf("could not parse name: %s, unexpected tile name %d, expected 4 or 5 digits",
			qname, location.TileName)
	} else if location.TileName > 9999 {
		location.Surface = location.TileName / 10000
		location.Swath = (location.TileName % 10000) / 1000
		location.Section = (location.TileName % 1000) / 100
		location.TileNumber = location.TileName % 100
	} else {
		location.Surface = location.TileName / 1000
		location.Swath = (location.TileName % 1000) / 100
		location.TileNumber = location.TileName % 100
	}
	return location, nil
}

func isOpticalDup(opticalDistance int, a, b *PhysicalLocation) bool {
	return abs(a.X-b.X) <= opticalDistance && abs(a.Y-b.Y) <= opticalDistance
}

// opticalEntry is one template name of a duplicate group placed on the
// flow cell.
type opticalEntry struct {
	name      string
	readGroup string
	location  PhysicalLocation
	duplicate bool
}

// detectOptical returns the template names in names that are optical
// duplicates. Entries are batched by lane, tile and read group; within a
// batch every entry is first compared to the primary, then to each other.
// names must not contain duplicates. Unparseable names are never optical.
func detectOptical(opticalDistance int, primary string, names []string, readGroups map[string]string) map[string]bool {
	type batchKey struct {
		lane, tile int
		readGroup  string
	}
	batches := map[batchKey][]*opticalEntry{}
	var primaryKey batchKey
	for _, name := range names {
		location, err := ParseLocation(name)
		if err != nil {
			log.Debug.Printf("optical detection: %v", err)
			continue
		}
		key := batchKey{location.Lane, location.TileName, readGroups[name]}
		if name == primary {
			primaryKey = key
		}
		batches[key] = append(batches[key], &opticalEntry{name: name, readGroup: key.readGroup, location: location})
	}

	optical := map[string]bool{}
	for key, batch := range batches {
		sort.Slice(batch, func(i, j int) bool { return batch[i].name < batch[j].name })
		bestIdx := -1
		if key == primaryKey {
			for i, e := range batch {
				if e.name == primary {
					bestIdx = i
					break
				}
			}
		}
		if bestIdx >= 0 {
			for i, e := range batch {
				if i != bestIdx && isOpticalDup(opticalDistance, &batch[bestIdx].location, &e.location) {
					e.duplicate = true
				}
			}
		}
		for i := 0; i < len(batch); i++ {
			if i == bestIdx {
				continue
			}
			for j := i + 1; j < len(batch); j++ {
				if j == bestIdx || (batch[i].duplicate && batch[j].duplicate) {
					continue
				}
				if isOpticalDup(opticalDistance, &batch[i].location, &batch[j].location) {
					if batch[j].duplicate {
						batch[i].duplicate = true
					} else {
						batch[j].duplicate = true
					}
				}
			}
		}
		for _, e := range batch {
			if e.duplicate {
				optical[e.name] = true
			}
		}
	}
	return optical
}
