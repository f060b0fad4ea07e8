// Package bamprovider provides utilities for scanning a sorted BAM file in
// parallel, one genomic shard at a time.
//
// The Provider is an interface for reading the file; BAMProvider reads an
// indexed BAM file and the fake provider serves in-memory records to tests.
package bamprovider
