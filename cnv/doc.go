/*Package cnv turns per-bin outlier labels into copy-number variant calls and
  evaluates those calls against a truth set.

  Coordinates throughout this package are 1-based and inclusive on both ends,
  matching the text formats the calls and truth sets are exchanged in.  Two
  bins are adjacent when they sit on the same chromosome and
  prev.End+1 == next.Start.

  Merge consolidates outlier bins: each one is typed as a duplication or a
  deletion relative to the sample's baseline depth, and runs of adjacent bins
  of the same type collapse into a single Call.  Score computes base-pair
  level precision, sensitivity and their harmonic mean against a truth set.
*/
package cnv
