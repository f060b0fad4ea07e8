package bam

import (
	"github.com/grailbio/hts/sam"
)

var (
	// MateCigarTag is the SAM tag holding the CIGAR of the mate.
	MateCigarTag = sam.NewTag("MC")
	// SupplementaryAlignmentTag is the SAM tag listing the other
	// alignments of a chimeric read.
	SupplementaryAlignmentTag = sam.NewTag("SA")
	// MateScoreTag is the sum of the mate's base qualities, as written by
	// samtools fixmate -m.
	MateScoreTag = sam.NewTag("ms")
)

// HasNoMappedMate returns true if record is unpaired or has an unmapped mate.
func HasNoMappedMate(record *sam.Record) bool {
	return (record.Flags&sam.Paired) == 0 || (record.Flags&sam.MateUnmapped) != 0
}

// IsUnmapped returns true if the record itself is unmapped.
func IsUnmapped(record *sam.Record) bool {
	return (record.Flags & sam.Unmapped) != 0
}

// IsPaired returns true if the record is one end of a paired read.
func IsPaired(record *sam.Record) bool {
	return (record.Flags & sam.Paired) != 0
}

// IsRead1 returns true if the record is the first read of a pair.
func IsRead1(record *sam.Record) bool {
	return (record.Flags & sam.Read1) != 0
}

// IsReversedRead returns true if the record is aligned to the reverse strand.
func IsReversedRead(record *sam.Record) bool {
	return (record.Flags & sam.Reverse) != 0
}

// IsSupplementary returns true if the record is a supplementary alignment.
func IsSupplementary(record *sam.Record) bool {
	return (record.Flags & sam.Supplementary) != 0
}

// IsSecondary returns true if the record is a secondary alignment.
func IsSecondary(record *sam.Record) bool {
	return (record.Flags & sam.Secondary) != 0
}

// IsQCFailed returns true if the record failed platform quality checks.
func IsQCFailed(record *sam.Record) bool {
	return (record.Flags & sam.QCFail) != 0
}

// LeftClipDistance returns the number of soft and hard clipped bases at the
// start of the alignment.
func LeftClipDistance(cigar sam.Cigar) int {
	n := 0
	for _, op := range cigar {
		t := op.Type()
		if t != sam.CigarSoftClipped && t != sam.CigarHardClipped {
			break
		}
		n += op.Len()
	}
	return n
}

// RightClipDistance returns the number of soft and hard clipped bases at the
// end of the alignment.
func RightClipDistance(cigar sam.Cigar) int {
	n := 0
	for i := len(cigar) - 1; i >= 0; i-- {
		t := cigar[i].Type()
		if t != sam.CigarSoftClipped && t != sam.CigarHardClipped {
			break
		}
		n += cigar[i].Len()
	}
	return n
}

// RefSpan returns the number of reference bases covered by the cigar.
func RefSpan(cigar sam.Cigar) int {
	ref, _ := cigar.Lengths()
	return ref
}

// UnclippedStart returns the 0-based reference position of the first base of
// an alignment at pos, as if no bases had been clipped.
func UnclippedStart(pos int, cigar sam.Cigar) int {
	return pos - LeftClipDistance(cigar)
}

// UnclippedEnd returns the 0-based reference position of the last base of an
// alignment at pos, as if no bases had been clipped.
func UnclippedEnd(pos int, cigar sam.Cigar) int {
	span := RefSpan(cigar)
	if span == 0 {
		span = 1
	}
	return pos + span - 1 + RightClipDistance(cigar)
}

// UnclippedFivePrime returns the unclipped position of the 5' end of an
// alignment at pos with the given cigar and strand.
func UnclippedFivePrime(pos int, cigar sam.Cigar, reverse bool) int {
	if reverse {
		return UnclippedEnd(pos, cigar)
	}
	return UnclippedStart(pos, cigar)
}

// UnclippedThreePrime returns the unclipped position of the 3' end of an
// alignment at pos with the given cigar and strand.
func UnclippedThreePrime(pos int, cigar sam.Cigar, reverse bool) int {
	if reverse {
		return UnclippedStart(pos, cigar)
	}
	return UnclippedEnd(pos, cigar)
}

// UnclippedFivePrimePosition returns the unclipped 5' position of record.
func UnclippedFivePrimePosition(record *sam.Record) int {
	return UnclippedFivePrime(record.Pos, record.Cigar, IsReversedRead(record))
}

// UnclippedThreePrimePosition returns the unclipped 3' position of record.
func UnclippedThreePrimePosition(record *sam.Record) int {
	return UnclippedThreePrime(record.Pos, record.Cigar, IsReversedRead(record))
}

// StringTag returns the value of a string-typed aux tag. It returns false if
// the tag is missing or is not a string.
func StringTag(record *sam.Record, tag sam.Tag) (string, bool) {
	aux := record.AuxFields.Get(tag)
	if aux == nil {
		return "", false
	}
	s, ok := aux.Value().(string)
	return s, ok
}

// IntTag returns the value of an integer-typed aux tag. It returns false if
// the tag is missing or is not an integer.
func IntTag(record *sam.Record, tag sam.Tag) (int, bool) {
	aux := record.AuxFields.Get(tag)
	if aux == nil {
		return 0, false
	}
	switch v := aux.Value().(type) {
	case int8:
		return int(v), true
	case uint8:
		return int(v), true
	case int16:
		return int(v), true
	case uint16:
		return int(v), true
	case int32:
		return int(v), true
	case uint32:
		return int(v), true
	}
	return 0, false
}

// HasHardClip returns true if cigar contains a hard clip, that is, if the
// record's SEQ and QUAL are not the whole read.
func HasHardClip(cigar sam.Cigar) bool {
	for _, op := range cigar {
		if op.Type() == sam.CigarHardClipped {
			return true
		}
	}
	return false
}

// MateCigar returns the parsed MC tag of the record.
func MateCigar(record *sam.Record) (sam.Cigar, bool) {
	s, ok := StringTag(record, MateCigarTag)
	if !ok || s == "" || s == "*" {
		return nil, false
	}
	cigar, err := sam.ParseCigar([]byte(s))
	if err != nil {
		return nil, false
	}
	return cigar, true
}

// MateUnclippedFivePrimePosition returns the unclipped 5' position of the
// record's mate. The mate's clipping is read from the MC tag; without the tag
// the mate alignment position is returned.
func MateUnclippedFivePrimePosition(record *sam.Record) int {
	cigar, ok := MateCigar(record)
	if !ok {
		return record.MatePos
	}
	return UnclippedFivePrime(record.MatePos, cigar, (record.Flags&sam.MateReverse) != 0)
}

// ClearAuxTags removes every aux field of record whose tag is in tags. The
// remaining fields keep their order.
func ClearAuxTags(record *sam.Record, tags []sam.Tag) {
	kept := record.AuxFields[:0]
	for _, aux := range record.AuxFields {
		drop := false
		for _, tag := range tags {
			if aux.Tag() == tag {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, aux)
		}
	}
	record.AuxFields = kept
}
