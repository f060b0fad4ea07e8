package markduplicates

import (
	"fmt"
	"strings"

	"github.com/grailbio/fragcollapse/umi"
	"github.com/grailbio/hts/sam"
)

// Platform selects the collapsing rules of a sequencing platform.
type Platform int

const (
	// PlatformIllumina keys single-end reads on both ends and collapses
	// alignment jitter between UMI groups.
	PlatformIllumina Platform = iota
	// PlatformSBX keys single-end reads on their 5' end and merges nearby
	// buckets largest first.
	PlatformSBX
)

// ParsePlatform parses a --platform value.
func ParsePlatform(s string) (Platform, error) {
	switch strings.ToLower(s) {
	case "", "illumina":
		return PlatformIllumina, nil
	case "sbx":
		return PlatformSBX, nil
	}
	return PlatformIllumina, fmt.Errorf("unknown platform %q, expected illumina or sbx", s)
}

func (p Platform) String() string {
	if p == PlatformSBX {
		return "sbx"
	}
	return "illumina"
}

// Config is the validated, immutable form of Opts shared by every
// partition.
type Config struct {
	Platform Platform

	UseUmis bool
	UmiTag  sam.Tag
	Umi     *umi.Opts

	JitterDistance int
	MaxDupDistance int
	MaxGroupSize   int
	MaxSoftClip    int

	FormConsensus   bool
	TagDups         bool
	OpticalDistance int
	ClearExisting   bool
}

// windowDistance is the largest anchor distance at which two buckets may
// still be collapsed.
func (c *Config) windowDistance() int {
	w := 0
	if c.jitterEnabled() {
		w = c.JitterDistance
	}
	if c.Platform == PlatformSBX {
		w = max(w, c.MaxDupDistance)
	}
	return w
}

func (c *Config) jitterEnabled() bool {
	return c.Platform == PlatformIllumina && c.UseUmis && c.JitterDistance > 0
}

// validate checks the file and sharding options, and fills in defaults.
func validate(opts *Opts) error {
	if opts.BamFile == "" {
		return fmt.Errorf("you must specify a bam file with --bam")
	}
	if opts.IndexFile == "" {
		opts.IndexFile = opts.BamFile + ".bai"
	}
	if len(opts.UmiFile) > 0 && !opts.UseUmis {
		return fmt.Errorf("umi-file is set, but use-umis is false")
	}
	_, err := newConfig(opts, nil)
	return err
}

// newConfig validates the grouping options and derives the Config.
// knownUmis, if non-empty, enables snap correction.
func newConfig(opts *Opts, knownUmis []byte) (*Config, error) {
	if opts.ShardSize <= 0 {
		return nil, fmt.Errorf("shard-size must be positive")
	}
	if opts.Padding < 0 {
		return nil, fmt.Errorf("padding must be non-negative")
	}
	if opts.Padding >= opts.ShardSize {
		return nil, fmt.Errorf("padding must be less than shard-size")
	}
	if opts.Parallelism <= 0 {
		return nil, fmt.Errorf("parallelism must be positive")
	}
	if opts.QueueLength <= 0 {
		return nil, fmt.Errorf("queue-length must be positive")
	}
	if opts.Format != "" && opts.Format != "bam" {
		return nil, fmt.Errorf("unknown output format %s", opts.Format)
	}
	platform, err := ParsePlatform(opts.Platform)
	if err != nil {
		return nil, err
	}
	if opts.Duplex && !opts.UseUmis {
		return nil, fmt.Errorf("duplex is set, but use-umis is false")
	}
	if platform == PlatformSBX && opts.Duplex {
		return nil, fmt.Errorf("duplex umis are not supported on the sbx platform")
	}
	for _, v := range []struct {
		name  string
		value int
	}{
		{"umi-mismatches", opts.UmiMismatches},
		{"jitter-distance", opts.JitterDistance},
		{"max-dup-distance", opts.MaxDupDistance},
		{"max-group-size", opts.MaxGroupSize},
		{"max-soft-clip", opts.MaxSoftClip},
	} {
		if v.value < 0 {
			return nil, fmt.Errorf("%s must be non-negative, got %d", v.name, v.value)
		}
	}
	if opts.MaxGroupSize == 1 {
		return nil, fmt.Errorf("max-group-size must be 0 (unlimited) or at least 2")
	}

	cfg := &Config{
		Platform:        platform,
		UseUmis:         opts.UseUmis,
		JitterDistance:  opts.JitterDistance,
		MaxDupDistance:  opts.MaxDupDistance,
		MaxGroupSize:    opts.MaxGroupSize,
		MaxSoftClip:     opts.MaxSoftClip,
		FormConsensus:   opts.FormConsensus,
		TagDups:         opts.TagDups,
		OpticalDistance: opts.OpticalDistance,
		ClearExisting:   opts.ClearExisting,
		Umi: &umi.Opts{
			Duplex:        opts.Duplex,
			Delimiter:     opts.DuplexDelimiter,
			MaxMismatches: opts.UmiMismatches,
			PolyG:         opts.PolyG,
		},
	}
	if err := cfg.Umi.Validate(); err != nil {
		return nil, err
	}
	tag := opts.UmiTag
	if tag == "" {
		tag = DefaultUmiTag
	}
	if len(tag) != 2 {
		return nil, fmt.Errorf("umi-tag must have two characters, got %q", tag)
	}
	cfg.UmiTag = sam.NewTag(tag)
	if len(knownUmis) > 0 {
		if cfg.Umi.Corrector, err = umi.NewSnapCorrector(knownUmis); err != nil {
			return nil, err
		}
	}
	if need := opts.MaxSoftClip + cfg.windowDistance(); opts.Padding < need {
		return nil, fmt.Errorf("padding (%d) must be at least max-soft-clip plus the collapse distance (%d)",
			opts.Padding, need)
	}
	return cfg, nil
}
