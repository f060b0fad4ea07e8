package markduplicates

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLocation(t *testing.T) {
	tests := []struct {
		name     string
		expected PhysicalLocation
		err      bool
	}{
		{"A:::1:1203:10:20", PhysicalLocation{Lane: 1, Surface: 1, Swath: 2, TileNumber: 3, TileName: 1203, X: 10, Y: 20}, false},
		{"M:R:F:2:12304:7:8", PhysicalLocation{Lane: 2, Surface: 1, Swath: 2, Section: 3, TileNumber: 4, TileName: 12304, X: 7, Y: 8}, false},
		{"M:R:F:2:1101:7:8:ACGT", PhysicalLocation{Lane: 2, Surface: 1, Swath: 1, TileNumber: 1, TileName: 1101, X: 7, Y: 8}, false},
		{"A:1:10:20:30", PhysicalLocation{Lane: 1, TileNumber: 10, TileName: 10, X: 20, Y: 30}, false},
		{"A:B:1:10:20", PhysicalLocation{}, true},
		{"A::x:1203:10:20", PhysicalLocation{}, true},
		{"A:::1:123456:10:20", PhysicalLocation{}, true},
		{"short:name", PhysicalLocation{}, true},
	}
	for _, test := range tests {
		location, err := ParseLocation(test.name)
		if test.err {
			assert.Error(t, err, test.name)
			continue
		}
		assert.NoError(t, err, test.name)
		assert.Equal(t, test.expected, location, test.name)
	}
}

func TestDetectOptical(t *testing.T) {
	tests := []struct {
		primary    string
		names      []string
		readGroups map[string]string
		expected   map[string]bool
	}{
		{
			// B is next to the primary, C is too far from everything.
			"A:::1:10:1:1",
			[]string{"A:::1:10:1:1", "B:::1:10:5:5", "C:::1:10:3000:5"},
			nil,
			map[string]bool{"B:::1:10:5:5": true},
		},
		{
			// Neither D nor E is near the primary, but they are near each
			// other; only the later one is optical.
			"A:::1:10:1:1",
			[]string{"A:::1:10:1:1", "D:::1:10:5000:5", "E:::1:10:5001:6"},
			nil,
			map[string]bool{"E:::1:10:5001:6": true},
		},
		{
			// Different tiles, lanes and read groups never match.
			"A:::1:10:1:1",
			[]string{"A:::1:10:1:1", "F:::1:11:1:1", "G:::2:10:1:1", "H:::1:10:2:2"},
			map[string]string{"H:::1:10:2:2": "rg2"},
			map[string]bool{},
		},
		{
			// Unparseable names are skipped.
			"A:::1:10:1:1",
			[]string{"A:::1:10:1:1", "plain", "B:::1:10:5:5"},
			nil,
			map[string]bool{"B:::1:10:5:5": true},
		},
	}
	for i, test := range tests {
		assert.Equal(t, test.expected, detectOptical(2500, test.primary, test.names, test.readGroups), "case %d", i)
	}
}
