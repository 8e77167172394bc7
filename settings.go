package hdrhistogram

import (
	"fmt"
	"math/bits"

	"github.com/mstoykov/hdrhistogram/errs"
)

// maxInt32 is the largest counts-array length the geometry will allow.
const maxInt32 = 1<<31 - 1

// Settings is the immutable geometry derived from a (lowest, highest,
// significant-digits) triple: the bucket layout that turns a value into a
// counts-array slot in O(1) while guaranteeing bounded relative error. It
// corresponds to the core's HistogramSettings (C1).
type Settings struct {
	lowestDiscernibleValue uint64
	highestTrackableValue  uint64
	significantValueDigits int32

	unitMagnitude    uint32
	subBucketCount   int32
	subBucketHalfCount int32
	subBucketHalfCountMagnitude uint32
	subBucketMask    uint64
	bucketCount      int32
	countsArrayLength int32
	leadingZeroCountBase uint32
}

// NewSettings derives the bucket geometry for the given range and
// precision. lowestDiscernibleValue must be >= 1, highestTrackableValue
// must be at least twice lowestDiscernibleValue, and significantValueDigits
// must be in [0, 5].
func NewSettings(lowestDiscernibleValue, highestTrackableValue uint64, significantValueDigits int32) (Settings, error) {
	if lowestDiscernibleValue < 1 {
		return Settings{}, errs.ErrLowIsZero
	}
	if lowestDiscernibleValue > ^uint64(0)/2 {
		return Settings{}, errs.ErrLowGtMax
	}
	if highestTrackableValue < 2*lowestDiscernibleValue {
		return Settings{}, errs.ErrHighLt2Low
	}
	if significantValueDigits < 0 || significantValueDigits > 5 {
		return Settings{}, errs.ErrSignificantValueDigitsExceedsMax
	}

	unitMagnitude := uint32(bits.Len64(lowestDiscernibleValue) - 1)

	largestValueWithSingleUnitResolution := 2 * pow10(significantValueDigits)
	subBucketCountMagnitude := uint32(ceilLog2(largestValueWithSingleUnitResolution))
	subBucketHalfCountMagnitude := uint32(0)
	if subBucketCountMagnitude >= 1 {
		subBucketHalfCountMagnitude = subBucketCountMagnitude - 1
	}

	if unitMagnitude+subBucketHalfCountMagnitude+1 > 63 {
		return Settings{}, errs.ErrCantReprSigDigitsLtLowestDiscernible
	}

	subBucketCount := int32(1) << (subBucketHalfCountMagnitude + 1)
	subBucketHalfCount := subBucketCount / 2
	subBucketMask := uint64(subBucketCount-1) << unitMagnitude

	bucketCount := determineBucketCount(unitMagnitude, subBucketCount, highestTrackableValue)
	countsArrayLength := (bucketCount + 1) * subBucketHalfCount
	if countsArrayLength > maxInt32 || countsArrayLength < 0 {
		return Settings{}, errs.ErrRequiresExcessiveArrayLen
	}

	leadingZeroCountBase := uint32(64) - unitMagnitude - (subBucketHalfCountMagnitude + 1)

	return Settings{
		lowestDiscernibleValue:      lowestDiscernibleValue,
		highestTrackableValue:       highestTrackableValue,
		significantValueDigits:      significantValueDigits,
		unitMagnitude:               unitMagnitude,
		subBucketCount:              subBucketCount,
		subBucketHalfCount:          subBucketHalfCount,
		subBucketHalfCountMagnitude: subBucketHalfCountMagnitude,
		subBucketMask:               subBucketMask,
		bucketCount:                 bucketCount,
		countsArrayLength:           countsArrayLength,
		leadingZeroCountBase:        leadingZeroCountBase,
	}, nil
}

// MustNewSettings is NewSettings, panicking on error. Intended for package
// initialization (tests, examples), never for handling user input.
func MustNewSettings(lowestDiscernibleValue, highestTrackableValue uint64, significantValueDigits int32) Settings {
	s, err := NewSettings(lowestDiscernibleValue, highestTrackableValue, significantValueDigits)
	if err != nil {
		panic(err)
	}
	return s
}

func determineBucketCount(unitMagnitude uint32, subBucketCount int32, highestTrackableValue uint64) int32 {
	smallestUntrackableValue := uint64(subBucketCount) << unitMagnitude
	bucketsNeeded := int32(1)
	for smallestUntrackableValue <= highestTrackableValue {
		if smallestUntrackableValue > ^uint64(0)/2 {
			return bucketsNeeded + 1
		}
		smallestUntrackableValue <<= 1
		bucketsNeeded++
	}
	return bucketsNeeded
}

func pow10(n int32) uint64 {
	r := uint64(1)
	for i := int32(0); i < n; i++ {
		r *= 10
	}
	return r
}

// ceilLog2 returns ceil(log2(x)) for x >= 1.
func ceilLog2(x uint64) uint32 {
	if x <= 1 {
		return 0
	}
	return uint32(bits.Len64(x - 1))
}

// LowestDiscernibleValue returns L.
func (s Settings) LowestDiscernibleValue() uint64 { return s.lowestDiscernibleValue }

// HighestTrackableValue returns H.
func (s Settings) HighestTrackableValue() uint64 { return s.highestTrackableValue }

// SignificantValueDigits returns d.
func (s Settings) SignificantValueDigits() int32 { return s.significantValueDigits }

// CountsArrayLength returns N, the number of counter slots this geometry
// requires.
func (s Settings) CountsArrayLength() int32 { return s.countsArrayLength }

// UnitMagnitude returns u = floor(log2(L)).
func (s Settings) UnitMagnitude() uint32 { return s.unitMagnitude }

// BucketCount returns b.
func (s Settings) BucketCount() int32 { return s.bucketCount }

// SubBucketCount returns s (the sub-bucket count).
func (s Settings) SubBucketCount() int32 { return s.subBucketCount }

func (s Settings) getBucketIndex(v uint64) int32 {
	leadingZeros := bits.LeadingZeros64(v | s.subBucketMask)
	idx := int32(s.leadingZeroCountBase) - int32(leadingZeros)
	if idx < 0 {
		idx = 0
	}
	return idx
}

func (s Settings) getSubBucketIndex(v uint64, bucketIndex int32) int32 {
	return int32(v >> (uint32(bucketIndex) + s.unitMagnitude))
}

// CountsArrayIndex maps a value to its logical slot in [0, N). Values whose
// slot would lie past the end of the array are clamped to the last slot;
// values above highestTrackableValue that still fall inside the array's
// last bucket keep their own slot (callers that must reject out-of-range
// values check the range first).
func (s Settings) CountsArrayIndex(v uint64) int32 {
	bucketIndex := s.getBucketIndex(v)
	subBucketIndex := s.getSubBucketIndex(v, bucketIndex)
	idx := s.countsArrayIndexFor(bucketIndex, subBucketIndex)
	if idx >= s.countsArrayLength {
		return s.countsArrayLength - 1
	}
	return idx
}

func (s Settings) countsArrayIndexFor(bucketIndex, subBucketIndex int32) int32 {
	bucketBaseIndex := (bucketIndex + 1) << s.subBucketHalfCountMagnitude
	offsetInBucket := subBucketIndex - s.subBucketHalfCount
	return bucketBaseIndex + offsetInBucket
}

// ValueFromIndex is the exact inverse of CountsArrayIndex: it returns the
// lowest value that maps to logical index i.
func (s Settings) ValueFromIndex(i int32) uint64 {
	bucketIndex := (i >> s.subBucketHalfCountMagnitude) - 1
	subBucketIndex := (i & (s.subBucketHalfCount - 1)) + s.subBucketHalfCount
	if bucketIndex < 0 {
		subBucketIndex -= s.subBucketHalfCount
		bucketIndex = 0
	}
	return s.valueFromBucketAndSubBucket(bucketIndex, subBucketIndex)
}

func (s Settings) valueFromBucketAndSubBucket(bucketIndex, subBucketIndex int32) uint64 {
	return uint64(subBucketIndex) << (uint32(bucketIndex) + s.unitMagnitude)
}

// SizeOfEquivalentValueRange returns the width of the equivalence class
// containing v.
func (s Settings) SizeOfEquivalentValueRange(v uint64) uint64 {
	bucketIndex := s.getBucketIndex(v)
	subBucketIndex := s.getSubBucketIndex(v, bucketIndex)
	adjustedBucket := bucketIndex
	if subBucketIndex >= s.subBucketCount {
		adjustedBucket++
	}
	return uint64(1) << (s.unitMagnitude + uint32(adjustedBucket))
}

// LowestEquivalentValue returns the smallest value in v's equivalence
// class.
func (s Settings) LowestEquivalentValue(v uint64) uint64 {
	bucketIndex := s.getBucketIndex(v)
	subBucketIndex := s.getSubBucketIndex(v, bucketIndex)
	return s.valueFromBucketAndSubBucket(bucketIndex, subBucketIndex)
}

// NextNonEquivalentValue returns the smallest value whose equivalence
// class differs from v's.
func (s Settings) NextNonEquivalentValue(v uint64) uint64 {
	return s.LowestEquivalentValue(v) + s.SizeOfEquivalentValueRange(v)
}

// HighestEquivalentValue returns the largest value in v's equivalence
// class, saturating at math.MaxUint64.
func (s Settings) HighestEquivalentValue(v uint64) uint64 {
	next := s.NextNonEquivalentValue(v)
	if next == 0 {
		return ^uint64(0)
	}
	return next - 1
}

// MedianEquivalentValue returns the midpoint of v's equivalence class.
func (s Settings) MedianEquivalentValue(v uint64) uint64 {
	return s.LowestEquivalentValue(v) + s.SizeOfEquivalentValueRange(v)/2
}

// IsEquivalent reports whether a and b fall in the same equivalence class.
func (s Settings) IsEquivalent(a, b uint64) bool {
	return s.LowestEquivalentValue(a) == s.LowestEquivalentValue(b)
}

// DetermineArrayLengthNeeded returns the counts-array length a geometry
// covering v (instead of highestTrackableValue) would require, used by
// resize paths.
func (s Settings) DetermineArrayLengthNeeded(v uint64) int32 {
	bucketsNeeded := determineBucketCount(s.unitMagnitude, s.subBucketCount, v)
	return (bucketsNeeded + 1) * s.subBucketHalfCount
}

// WithHighestTrackableValue returns a new Settings covering at least v,
// keeping the same lowest-discernible-value and precision. Used by
// auto-resize.
func (s Settings) WithHighestTrackableValue(v uint64) (Settings, error) {
	if v <= s.highestTrackableValue {
		v = s.highestTrackableValue
	}
	return NewSettings(s.lowestDiscernibleValue, v, s.significantValueDigits)
}

// String renders the geometry for debugging/logging.
func (s Settings) String() string {
	return fmt.Sprintf("Settings{low=%d high=%d sigDigits=%d N=%d}",
		s.lowestDiscernibleValue, s.highestTrackableValue, s.significantValueDigits, s.countsArrayLength)
}
