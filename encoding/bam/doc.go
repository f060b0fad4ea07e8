// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package bam provides types and functions that augment the BAM and SAM
// packages in github.com/grailbio/hts: genomic shards and coordinates,
// clipping-aware alignment positions, flag and aux tag accessors, and a
// writer that assembles a BAM file from shards completed out of order.
package bam
