/*Package markduplicates collapses the PCR and optical duplicates of a
  coordinate sorted .bam file, optionally using unique molecular
  identifiers (UMIs), and optionally replaces each duplicate group by a
  synthesized consensus read.

  Fragment keys:

  Every read is keyed by the fragment it was sequenced from
  (FragmentCoords).  For a pair, the key holds the unclipped 5' position
  and orientation of both mates, ordered so that the two mates of one
  template compute the same key.  The mate's 5' position comes from the
  mate position, the MateReverse flag and the MC (mate cigar) tag, so a
  read never needs to see its mate.  A supplementary alignment keys on
  its primary alignment, parsed from the SA tag.

  Single-end reads are keyed differently per platform.  On Illumina both
  the 5' and the 3' end of the read are used.  On SBX only the 5' end is
  used, and buckets whose 5' ends lie within max-dup-distance are merged
  largest first.

  Reads with an unmapped mate, and unmapped reads placed at their mate's
  position, have their own kinds of key and never group with pairs.

    P1: left(chr1, 1020, F) right(chr1, 1040, R)
    P2: left(chr1, 1020, F) right(unmapped)

    P1 is not a duplicate of P2.

  UMIs:

  With use-umis, each bucket of identical keys is split into clusters of
  equivalent UMIs.  Two UMIs are equivalent if every part differs in at
  most umi-mismatches positions.  Duplex UMIs (two parts separated by
  the duplex delimiter) also match with their parts swapped.  With
  poly-g, mismatches against a G (a dark cycle) are not counted, and UMIs
  can be snapped to a list of known UMIs.

  On Illumina, UMI groups whose keys share one end and differ by at most
  jitter-distance at the other end are collapsed, larger groups first.
  Collapsed reads are marked as duplicates but do not vote in the
  consensus.

  Primary and consensus:

  Each group has a primary read.  A single-record unpaired fragment is
  scored by the sum of its base qualities above 14.  A record of a pair
  adds the mate's sum from the ms tag (samtools fixmate -m), so both
  mates, and a supplementary that is not hard clipped, get the same
  score.  Records that cannot compute the score of their fragment score
  0.  Ties are broken by read name and then by the alignment.  The order of the input never matters, so every
  shard that sees the reads of a group picks the same primary.

  Without consensus, the primary is written unflagged and every other
  member gets the duplicate flag 1024.  With consensus, every member is
  flagged and a new record named CNS_<primary name> is added.  Its bases
  are a quality weighted vote of the members whose indels agree with the
  majority.

  Tagging:

  If the caller specifies "tag-duplicates", each member of a group of
  two or more reads gets DI (the group id), DS (the group size), DU (the
  group UMI, if any) and, on duplicates, DT ("SQ" for optical
  duplicates, "LB" otherwise).  The group id is a hash of the primary's
  name, so both mates of a template carry the same DI.  Consensus
  records carry the same id in MI.

  Implementation:

  The input is split into non-overlapping shards, processed in parallel
  by PartitionReaders.  Each reader streams its padded shard through a
  ReadCache, which buckets reads by key and releases a bucket once no
  later read can join it, then through a UmiGroupBuilder.  Only the
  reads inside the shard, and the consensus records positioned inside
  it, are written.

  Duplicates are matched up using their 5' positions, and since a 5'
  position can differ from the alignment's start position, each shard
  needs some fuzziness at its boundaries to ensure all potential
  duplicates will be compared against each other.  For example:

           shard1                  shard2
   |---------------------|-------------------------|
                      |cccc|--------------|         read1 (with clipping)
                      5    S              E         5', Begin, End

                      |c|-----------------|         read2 (with clipping)
                      5 S                 E         5', Begin, End

                clip-pad           shard2            clip-pad
             |-----------|-------------------------|-----------|

  Both workers compare read1 and read2, and since the grouping is
  deterministic they agree on the outcome.  Clip-padding must be at
  least max-soft-clip plus the collapse distance.

  Output ordering:

  As the workers complete each shard, they output the shard's marked
  reads to an output queue that preserves the original order of the
  shards.  The output queue has a maximum size, and when full only
  allows a worker to insert the shard that the writer currently needs.
*/
package markduplicates
