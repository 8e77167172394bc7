package hdrhistogram

import (
	"math"
	"time"

	"github.com/mstoykov/hdrhistogram/errs"
)

// Histogram is the single-threaded integer histogram (C3): it owns its
// counts, min/max/total, and (optionally) grows its own geometry on an
// out-of-range record. It implements Recordable and View.
//
// Out-of-range policy: RecordValue and friends return
// errs.ErrValueOutOfRangeResizeDisabled when AutoResize is false and the
// value lies beyond the highest value the counts array can hold (values
// above HighestTrackableValue that still fall inside the array's last
// bucket are recorded normally). Histogram never silently saturates —
// see SPEC_FULL.md §9 for why this differs from concurrent.Fixed.
type Histogram struct {
	settings Settings
	counts   countsArray

	totalCount      uint64
	minNonZeroValue uint64
	maxValue        uint64

	// AutoResize, when true, grows the geometry (and reallocates the
	// counts array) instead of failing on an out-of-range record.
	AutoResize bool

	Tag         string
	StartTimeMs int64
	EndTimeMs   int64
}

// New constructs a Histogram covering [lowestDiscernibleValue,
// highestTrackableValue] at the given significant-digit precision.
func New(lowestDiscernibleValue, highestTrackableValue uint64, significantValueDigits int32) (*Histogram, error) {
	s, err := NewSettings(lowestDiscernibleValue, highestTrackableValue, significantValueDigits)
	if err != nil {
		return nil, err
	}
	return NewFromSettings(s), nil
}

// NewFromSettings constructs an empty Histogram from an already-derived
// geometry.
func NewFromSettings(s Settings) *Histogram {
	return &Histogram{
		settings:        s,
		counts:          newCountsArray(s.CountsArrayLength()),
		minNonZeroValue: math.MaxUint64,
	}
}

// NewFromCounts reconstructs a Histogram from a previously exported counts
// slice (§6, the serialization collaborator's read path). len(counts) must
// equal settings.CountsArrayLength().
func NewFromCounts(settings Settings, counts []uint64, totalCount uint64) (*Histogram, error) {
	if int32(len(counts)) != settings.CountsArrayLength() {
		return nil, &errs.CountsArrayLengthMismatch{Expected: settings.CountsArrayLength(), Actual: int32(len(counts))}
	}
	h := NewFromSettings(settings)
	copy(h.counts.counts, counts)
	h.totalCount = totalCount
	for i, c := range counts {
		if c == 0 {
			continue
		}
		v := settings.ValueFromIndex(int32(i))
		h.updateMinMax(v)
		h.updateMinMax(settings.HighestEquivalentValue(v))
	}
	return h, nil
}

// Settings returns the histogram's geometry.
func (h *Histogram) Settings() Settings { return h.settings }

// ArrayLength returns N.
func (h *Histogram) ArrayLength() int32 { return h.counts.length() }

// TotalCount returns the number of recorded samples.
func (h *Histogram) TotalCount() uint64 { return h.totalCount }

// MaxValue returns the approximate maximum recorded value, or 0 if empty.
func (h *Histogram) MaxValue() uint64 { return h.maxValue }

// GetMaxValue is an alias of MaxValue matching the rest of the Get*
// accessor family (GetMean, GetStdDeviation, GetValueAtPercentile).
func (h *Histogram) GetMaxValue() uint64 { return h.maxValue }

// GetMinValue returns the approximate minimum non-zero recorded value, or
// 0 if empty.
func (h *Histogram) GetMinValue() uint64 {
	if h.totalCount == 0 || h.minNonZeroValue == math.MaxUint64 {
		return 0
	}
	return h.minNonZeroValue
}

// CountAtIndex returns the normalized count at logical index i.
func (h *Histogram) CountAtIndex(i int32) uint64 { return h.counts.get(i) }

// CountsSlice returns a freshly allocated, already-normalized copy of the
// counts array (the serialization collaborator's write path, §6).
func (h *Histogram) CountsSlice() []uint64 { return h.counts.toSlice() }

func (h *Histogram) updateMinMax(v uint64) {
	if v > h.maxValue {
		h.maxValue = v
	}
	if v != 0 && v < h.minNonZeroValue {
		h.minNonZeroValue = v
	}
}

// RecordValue records a single occurrence of v.
func (h *Histogram) RecordValue(v uint64) error {
	return h.RecordValues(v, 1)
}

// RecordValues records count occurrences of v.
func (h *Histogram) RecordValues(v uint64, count uint64) error {
	if v > h.settings.HighestEquivalentValue(h.settings.ValueFromIndex(h.counts.length()-1)) {
		if !h.AutoResize {
			return errs.ErrValueOutOfRangeResizeDisabled
		}
		if err := h.resizeToCover(v); err != nil {
			return err
		}
	}
	idx := h.settings.CountsArrayIndex(v)
	h.counts.increment(idx, count)
	h.totalCount += count
	h.updateMinMax(v)
	return nil
}

// RecordValueWithExpectedInterval records v, then back-fills synthetic
// samples at v-k*interval for every k>=1 while the result is still
// >=interval. This compensates for coordinated omission in latency
// measurements taken by a stalled producer.
func (h *Histogram) RecordValueWithExpectedInterval(v, expectedInterval uint64) error {
	if err := h.RecordValue(v); err != nil {
		return err
	}
	if expectedInterval == 0 || v <= expectedInterval {
		return nil
	}
	for missingValue := v - expectedInterval; missingValue >= expectedInterval; missingValue -= expectedInterval {
		if err := h.RecordValue(missingValue); err != nil {
			return err
		}
	}
	return nil
}

func (h *Histogram) resizeToCover(v uint64) error {
	newSettings, err := h.settings.WithHighestTrackableValue(v)
	if err != nil {
		return errs.ErrResizeFailed
	}
	h.resizeTo(newSettings)
	return nil
}

// resizeTo rebuilds the counts array under newSettings, remapping every
// populated logical index of the old geometry to its equivalent-value
// index under the new one.
func (h *Histogram) resizeTo(newSettings Settings) {
	newCounts := newCountsArray(newSettings.CountsArrayLength())
	oldSettings := h.settings
	for i := int32(0); i < h.counts.length(); i++ {
		c := h.counts.get(i)
		if c == 0 {
			continue
		}
		v := oldSettings.ValueFromIndex(i)
		newCounts.increment(newSettings.CountsArrayIndex(v), c)
	}
	h.settings = newSettings
	h.counts = newCounts
}

// Reset zeroes all slots, min/max/total, the normalizing offset, and
// metadata.
func (h *Histogram) Reset() {
	h.counts.clear()
	h.totalCount = 0
	h.minNonZeroValue = math.MaxUint64
	h.maxValue = 0
	h.Tag = ""
	h.StartTimeMs = 0
	h.EndTimeMs = 0
}

// Add merges other's recorded values into h. If the geometries are
// compatible (same array length and normalizing offset) the merge is a
// slot-wise add; otherwise h iterates other's recorded values and records
// each individually, resizing h first if AutoResize is set and other's max
// exceeds h's range.
func (h *Histogram) Add(other *Histogram) error {
	if h.settings.CountsArrayLength() == other.settings.CountsArrayLength() &&
		h.counts.normalizingIndexOffset == other.counts.normalizingIndexOffset &&
		h.settings.unitMagnitude == other.settings.unitMagnitude {
		for i := int32(0); i < h.counts.length(); i++ {
			c := other.counts.get(i)
			if c == 0 {
				continue
			}
			h.counts.increment(i, c)
		}
		h.totalCount += other.totalCount
		if other.maxValue > h.maxValue {
			h.maxValue = other.maxValue
		}
		if other.minNonZeroValue != math.MaxUint64 && other.minNonZeroValue < h.minNonZeroValue {
			h.minNonZeroValue = other.minNonZeroValue
		}
		return nil
	}

	if other.maxValue > h.settings.highestTrackableValue {
		if !h.AutoResize {
			return errs.ErrValueOutOfRangeResizeDisabled
		}
		if err := h.resizeToCover(other.maxValue); err != nil {
			return err
		}
	}

	it := newRecordedIterator(other)
	for it.next() {
		if err := h.RecordValues(it.valueFromIndex, it.countAtIndex); err != nil {
			return err
		}
	}
	return nil
}

// Subtract removes other's recorded values from h. It fails without
// mutating h if other's max exceeds h's representable range, or if any
// slot's count would underflow.
func (h *Histogram) Subtract(other *Histogram) error {
	if other.maxValue > h.settings.highestTrackableValue {
		return errs.ErrValueOutOfRange
	}

	// Pre-check every slot so the operation is all-or-nothing.
	it := newRecordedIterator(other)
	for it.next() {
		idx := h.settings.CountsArrayIndex(it.valueFromIndex)
		if h.counts.get(idx) < it.countAtIndex {
			return errs.ErrCountExceededAtValue
		}
	}

	it = newRecordedIterator(other)
	var removed uint64
	for it.next() {
		idx := h.settings.CountsArrayIndex(it.valueFromIndex)
		h.counts.set(idx, h.counts.get(idx)-it.countAtIndex)
		removed += it.countAtIndex
	}
	h.totalCount -= removed
	h.rebuildMinMax()
	return nil
}

func (h *Histogram) rebuildMinMax() {
	h.maxValue = 0
	h.minNonZeroValue = math.MaxUint64
	it := newRecordedIterator(h)
	for it.next() {
		h.updateMinMax(it.valueFromIndex)
		h.updateMinMax(h.settings.HighestEquivalentValue(it.valueFromIndex))
	}
}

// ShiftValuesLeft multiplies every tracked value by 2^n by rotating the
// normalizing offset. Fails with errs.ErrShiftOverflow if the top of the
// range is not empty enough to accommodate the shift.
func (h *Histogram) ShiftValuesLeft(n uint32) error {
	if n == 0 {
		return nil
	}
	halfCount := h.settings.subBucketHalfCount
	shiftAmount := int32(n) * halfCount

	if h.totalCount > 0 {
		// Any populated bucket whose values would move past the top of
		// the array overflows.
		it := newRecordedIterator(h)
		maxAllowedIndex := h.counts.length() - 1 - shiftAmount
		for it.next() {
			if it.index > maxAllowedIndex {
				return errs.ErrShiftOverflow
			}
		}
	}

	lowestHalfPopulated := h.counts.lowestHalfBucketPopulated(halfCount)

	h.counts.normalizingIndexOffset += shiftAmount
	if lowestHalfPopulated {
		h.redistributeLowestHalfBucket(int32(n), true)
	}
	h.maxValue <<= n
	if h.minNonZeroValue != math.MaxUint64 {
		h.minNonZeroValue <<= n
	}
	return nil
}

// ShiftValuesRight divides every tracked value by 2^n. Fails with
// errs.ErrShiftUnderflow if the bottom half-bucket is populated (those
// values cannot be represented after the shift) or the shift would evict
// data below the first bucket.
func (h *Histogram) ShiftValuesRight(n uint32) error {
	if n == 0 {
		return nil
	}
	halfCount := h.settings.subBucketHalfCount
	shiftAmount := int32(n) * halfCount

	if h.counts.lowestHalfBucketPopulated(halfCount) {
		return errs.ErrShiftUnderflow
	}
	if h.totalCount > 0 {
		it := newRecordedIterator(h)
		for it.next() {
			if it.index < shiftAmount {
				return errs.ErrShiftUnderflow
			}
		}
	}

	h.counts.normalizingIndexOffset -= shiftAmount
	h.redistributeLowestHalfBucket(int32(n), false)
	h.maxValue >>= n
	if h.minNonZeroValue != math.MaxUint64 {
		h.minNonZeroValue >>= n
	}
	return nil
}

// redistributeLowestHalfBucket fixes up the slots whose values cross a
// bucket boundary when the offset rotates. After a left shift it moves the
// counts of the pre-shift lowest half-bucket, which the rotation carried to
// logical slots starting at n*subBucketHalfCount, to the slots of their
// values multiplied by 2^n. After a right shift it moves the counts the
// rotation carried into the lowest half-bucket (the upper half of the
// pre-shift bucket n-1) to the slots of their values divided by 2^n.
func (h *Histogram) redistributeLowestHalfBucket(n int32, left bool) {
	halfCount := h.settings.subBucketHalfCount
	for k := int32(0); k < halfCount; k++ {
		i, from := k, k+n*halfCount
		v := h.settings.ValueFromIndex(i) << uint32(n)
		if !left {
			// Descending, so no slot is read after it has received a count.
			i = halfCount - 1 - k
			from = i
			v = h.settings.ValueFromIndex(i+n*halfCount) >> uint32(n)
		}
		c := h.counts.get(from)
		if c == 0 {
			continue
		}
		h.counts.set(from, 0)
		idx := h.settings.CountsArrayIndex(v)
		h.counts.increment(idx, c)
	}
}

// Equals reports whether h and other recorded the same multiset of
// equivalence classes, independent of their array length or normalizing
// offset (Testable Property 7).
func (h *Histogram) Equals(other *Histogram) bool {
	if h.totalCount != other.totalCount {
		return false
	}
	a := map[uint64]uint64{}
	it := newRecordedIterator(h)
	for it.next() {
		a[h.settings.LowestEquivalentValue(it.valueFromIndex)] += it.countAtIndex
	}
	b := map[uint64]uint64{}
	it2 := newRecordedIterator(other)
	for it2.next() {
		b[other.settings.LowestEquivalentValue(it2.valueFromIndex)] += it2.countAtIndex
	}
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// GetValueAtPercentile returns the value at or below which percentile p of
// recorded samples fall. p is clamped to [0, 100].
func (h *Histogram) GetValueAtPercentile(p float64) uint64 {
	if h.totalCount == 0 {
		return 0
	}
	if p > 100 {
		p = 100
	}
	if p < 0 {
		p = 0
	}
	// Subtract one ULP so that, e.g., a request for the 50th percentile
	// of an even total count reports the lower of the two central
	// samples' bucket, matching the reference implementation's rounding.
	requested := (p / 100) * float64(h.totalCount)
	requested = math.Nextafter(requested, math.Inf(-1))
	countAtOrBelowPercentile := int64(requested) + 1
	if countAtOrBelowPercentile < 1 {
		countAtOrBelowPercentile = 1
	}

	var total int64
	it := newRecordedIterator(h)
	for it.next() {
		total += int64(it.countAtIndex)
		if total >= countAtOrBelowPercentile {
			if p == 0 {
				return h.settings.LowestEquivalentValue(it.valueFromIndex)
			}
			return h.settings.HighestEquivalentValue(it.valueFromIndex)
		}
	}
	return 0
}

// GetPercentileAtOrBelowValue returns 100*sum(counts at or below v)/total,
// or 100 if the histogram is empty.
func (h *Histogram) GetPercentileAtOrBelowValue(v uint64) float64 {
	if h.totalCount == 0 {
		return 100
	}
	targetIdx := h.settings.CountsArrayIndex(v)
	var total uint64
	it := newRecordedIterator(h)
	for it.next() {
		if it.index > targetIdx {
			break
		}
		total += it.countAtIndex
	}
	return 100 * float64(total) / float64(h.totalCount)
}

// GetStartTimeMs returns StartTimeMs (method form, for View).
func (h *Histogram) GetStartTimeMs() int64 { return h.StartTimeMs }

// GetEndTimeMs returns EndTimeMs (method form, for View).
func (h *Histogram) GetEndTimeMs() int64 { return h.EndTimeMs }

// StartNow stamps StartTimeMs with the current wall-clock time, used by
// concurrent.Recorder when an interval sample begins.
func (h *Histogram) StartNow() { h.StartTimeMs = time.Now().UnixMilli() }

// EndNow stamps EndTimeMs with the current wall-clock time, used by
// concurrent.Recorder when an interval sample is handed off.
func (h *Histogram) EndNow() { h.EndTimeMs = time.Now().UnixMilli() }

// GetMean returns the arithmetic mean of recorded values, weighted by each
// index's median equivalent value.
func (h *Histogram) GetMean() float64 {
	if h.totalCount == 0 {
		return 0
	}
	var total float64
	it := newRecordedIterator(h)
	for it.next() {
		total += float64(it.countAddedThisStep) * float64(h.settings.MedianEquivalentValue(it.valueFromIndex))
	}
	return total / float64(h.totalCount)
}

// GetStdDeviation returns the standard deviation of recorded values.
func (h *Histogram) GetStdDeviation() float64 {
	if h.totalCount == 0 {
		return 0
	}
	mean := h.GetMean()
	var geometricDevTotal float64
	it := newRecordedIterator(h)
	for it.next() {
		dev := float64(h.settings.MedianEquivalentValue(it.valueFromIndex)) - mean
		geometricDevTotal += dev * dev * float64(it.countAddedThisStep)
	}
	return math.Sqrt(geometricDevTotal / float64(h.totalCount))
}
