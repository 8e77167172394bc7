package concurrent

import (
	hdrhistogram "github.com/mstoykov/hdrhistogram"
)

// Snapshot wraps a quiesced Sampleable handed back by Recorder.Sample: a
// point-in-time-consistent view no writer will ever touch again. It
// satisfies View directly for cheap per-slot inspection, and ToHistogram
// converts it into a plain Histogram for percentile/mean/Add/Subtract
// analysis, which Sampleable itself does not provide.
//
// owner is the Recorder that produced this Snapshot, kept so Resample can
// return the underlying allocation to its pool; it is nil for a Snapshot
// that did not come from a Recorder (ToHistogram-only use), in which case
// Resample is a no-op.
type Snapshot struct {
	source Sampleable
	owner  *Recorder
}

func newSnapshot(source Sampleable, owner *Recorder) *Snapshot {
	return &Snapshot{source: source, owner: owner}
}

// Settings returns the geometry the sampled interval was recorded under.
func (s *Snapshot) Settings() hdrhistogram.Settings { return s.source.Settings() }

// ArrayLength returns N for the sampled interval's geometry.
func (s *Snapshot) ArrayLength() int32 { return s.source.ArrayLength() }

// TotalCount returns the number of values recorded during the interval.
func (s *Snapshot) TotalCount() uint64 { return s.source.TotalCount() }

// CountAtIndex returns the count at logical index i.
func (s *Snapshot) CountAtIndex(i int32) uint64 { return s.source.CountAtIndex(i) }

// MaxValue returns the largest value recorded during the interval.
func (s *Snapshot) MaxValue() uint64 { return s.source.MaxValue() }

// GetMinValue returns the smallest non-zero value recorded during the
// interval, or 0 if none.
func (s *Snapshot) GetMinValue() uint64 { return s.source.GetMinValue() }

// GetStartTimeMs returns when the interval began.
func (s *Snapshot) GetStartTimeMs() int64 { return s.source.GetStartTimeMs() }

// GetEndTimeMs returns when the interval was retired by Sample.
func (s *Snapshot) GetEndTimeMs() int64 { return s.source.GetEndTimeMs() }

// ToHistogram copies the snapshot's counts into a freshly allocated,
// single-threaded Histogram, unlocking GetValueAtPercentile, GetMean,
// GetStdDeviation, Add, Subtract and Equals for this interval's data.
func (s *Snapshot) ToHistogram() (*hdrhistogram.Histogram, error) {
	h, err := hdrhistogram.NewFromCounts(s.source.Settings(), s.source.CountsSlice(), s.source.TotalCount())
	if err != nil {
		return nil, err
	}
	h.StartTimeMs = s.source.GetStartTimeMs()
	h.EndTimeMs = s.source.GetEndTimeMs()
	return h, nil
}

// Resample clears the snapshot's underlying counters and returns its
// allocation to the owning Recorder's free list, so a later Sample call
// reuses it instead of allocating a fresh Sampleable. After Resample the
// Snapshot must not be used again; calling it on a Snapshot with no owner
// is a no-op.
func (s *Snapshot) Resample() {
	if s.owner == nil {
		return
	}
	s.source.Reset()
	s.owner.release(s.source)
	s.source = nil
	s.owner = nil
}

var _ hdrhistogram.View = (*Snapshot)(nil)
