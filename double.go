package hdrhistogram

import (
	"math"
	"math/big"
	"math/bits"
	"time"

	"github.com/mstoykov/hdrhistogram/errs"
)

func nowMsDouble() int64 { return time.Now().UnixMilli() }

// initialLowestValueInAutoRange is the auto-ranging origin every Double
// starts (and resets) from: a value far above anything ever recorded, so
// the first RecordValue call always walks the range down to meet it rather
// than guessing a starting magnitude.
func initialLowestValueInAutoRange() float64 { return math.Ldexp(1, 800) }

// highestAllowedValueEverComputed is the largest power of two strictly
// below math.MaxFloat64/4: no auto-ranging shift may push
// currentHighestValueLimitInAutoRange past this, since growing it again
// would overflow float64.
var highestAllowedValueEverComputed = computeHighestAllowedValueEver()

func computeHighestAllowedValueEver() float64 {
	value := 1.0
	for value*2 < math.MaxFloat64/4 {
		value *= 2
	}
	return value
}

func highestAllowedValueEver() float64 { return highestAllowedValueEverComputed }

// ulp returns the distance from value to its next representable float64 in
// the direction of increasing magnitude.
func ulp(value float64) float64 {
	if math.IsNaN(value) {
		return math.NaN()
	}
	if math.IsInf(value, 0) {
		return math.Inf(1)
	}
	bitsOf := math.Float64bits(value)
	if value >= 0 {
		return math.Float64frombits(bitsOf+1) - value
	}
	return value - math.Float64frombits(bitsOf-1)
}

// findContainingBinaryOrderOfMagnitudeLong returns the number of bits
// needed to represent n, i.e. the smallest k with n < 2^k.
func findContainingBinaryOrderOfMagnitudeLong(n uint64) uint32 {
	return uint32(bits.Len64(n))
}

func findContainingBinaryOrderOfMagnitudeDouble(x float64) uint32 {
	return findContainingBinaryOrderOfMagnitudeLong(uint64(math.Ceil(x)))
}

// findCappedContainingBinaryOrderOfMagnitude bounds a single auto-ranging
// shift step so a wildly out-of-range value never overshoots by more than
// configuredRatio's own magnitude in one jump.
func findCappedContainingBinaryOrderOfMagnitude(n float64, configuredRatio uint64) uint32 {
	if n > float64(configuredRatio) {
		return uint32(math.Floor(math.Log2(float64(configuredRatio))))
	}
	if n > float64(uint64(1)<<50) {
		return 50
	}
	return findContainingBinaryOrderOfMagnitudeDouble(n)
}

// internalHighestToLowestValueRatio derives R' = 2^(floor(log2(R))+1), the
// power-of-two ratio the inner integer histogram is actually built at: it
// is always at least externalRatio, so the caller's configured ratio is
// never short-changed by rounding.
func internalHighestToLowestValueRatio(externalRatio uint64) uint64 {
	return uint64(1) << findContainingBinaryOrderOfMagnitudeLong(externalRatio)
}

// nextPowerOfTwo returns the smallest power of two >= n (1 for n<=1).
func nextPowerOfTwo(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	return uint64(1) << bits.Len64(n-1)
}

// subBucketHalfCountForDigits is the inner histogram's fixed
// lowest-tracking-integer-value: the sub-bucket half count implied by
// significantValueDigits alone, independent of whatever range the
// histogram is later resized to cover.
func subBucketHalfCountForDigits(digits int32) uint64 {
	largestValueWithSingleUnitResolution := 2 * pow10(digits)
	return nextPowerOfTwo(largestValueWithSingleUnitResolution) / 2
}

// deriveIntegerValueRange is subBucketHalfCountForDigits(digits) *
// internalHighestToLowestValueRatio(externalRatio), checked for uint64
// overflow.
func deriveIntegerValueRange(externalRatio uint64, digits int32) (uint64, bool) {
	internalRatio := internalHighestToLowestValueRatio(externalRatio)
	lowestTrackingIntegerValue := subBucketHalfCountForDigits(digits)
	if lowestTrackingIntegerValue != 0 && internalRatio > math.MaxUint64/lowestTrackingIntegerValue {
		return 0, false
	}
	return lowestTrackingIntegerValue * internalRatio, true
}

// Double is C7: a floating-point histogram built on an integer Histogram.
// It auto-ranges an exact-power-of-two conversion ratio between recorded
// double values and the inner histogram's integer representation, shifting
// that range (and, if AutoResize allows it, growing the inner histogram's
// geometry) whenever a recorded value falls outside the currently covered
// [currentLowestValueInAutoRange, currentHighestValueLimitInAutoRange)
// window.
type Double struct {
	integer *Histogram

	configuredHighestToLowestValueRatio uint64

	currentLowestValueInAutoRange       float64
	currentHighestValueLimitInAutoRange float64
	conversionRatio                     float64

	// AutoResize, when true, lets an out-of-range auto-ranging shift grow
	// the inner histogram's geometry (and the configured ratio along with
	// it) instead of failing. Defaults to false, matching Histogram.
	AutoResize bool

	Tag         string
	StartTimeMs int64
	EndTimeMs   int64
}

// NewDouble constructs a Double covering significantValueDigits of
// precision across a dynamic range spanning highestToLowestValueRatio
// (must be >= 2), auto-ranging from an initial window far above any value
// anyone will ever record. AutoResize defaults to false; set it explicitly
// to let the histogram grow past its initially configured ratio.
func NewDouble(highestToLowestValueRatio uint64, significantValueDigits int32) (*Double, error) {
	if highestToLowestValueRatio < 2 {
		return nil, errs.ErrRatioTooSmall
	}
	if significantValueDigits < 0 || significantValueDigits > 5 {
		return nil, errs.ErrDoubleSignificantValueDigitsExceedsMax
	}

	// highestToLowestValueRatio*10^digits must fit in 61 bits; both
	// factors can individually be large enough to overflow a uint64
	// product, so the check runs in arbitrary precision rather than risk
	// a silent wraparound passing validation it shouldn't.
	sigDigitsFactor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(significantValueDigits)), nil)
	ratioCheck := new(big.Int).Mul(new(big.Int).SetUint64(highestToLowestValueRatio), sigDigitsFactor)
	if ratioCheck.Cmp(new(big.Int).Lsh(big.NewInt(1), 61)) >= 0 {
		return nil, errs.ErrRatioTooLarge
	}

	integerValueRange, ok := deriveIntegerValueRange(highestToLowestValueRatio, significantValueDigits)
	if !ok {
		return nil, errs.ErrRatioTooLarge
	}
	highestTrackableValue := integerValueRange - 1
	integerSettings, err := NewSettings(1, highestTrackableValue, significantValueDigits)
	if err != nil {
		return nil, errs.ErrRatioTooLarge
	}

	d := &Double{integer: NewFromSettings(integerSettings)}
	d.initRange(highestToLowestValueRatio, initialLowestValueInAutoRange())
	return d, nil
}

// NewDoubleAutoSized builds a Double at the smallest legal ratio with
// AutoResize already set, for callers that would rather grow into whatever
// range they end up recording than configure one up front.
func NewDoubleAutoSized(significantValueDigits int32) (*Double, error) {
	d, err := NewDouble(2, significantValueDigits)
	if err != nil {
		return nil, err
	}
	d.AutoResize = true
	return d, nil
}

func (d *Double) initRange(configuredRatio uint64, lowestTrackableUnitValue float64) {
	d.configuredHighestToLowestValueRatio = configuredRatio
	internalRatio := internalHighestToLowestValueRatio(configuredRatio)
	highestValueLimit := lowestTrackableUnitValue * float64(internalRatio)
	d.setTrackableValueRange(lowestTrackableUnitValue, highestValueLimit)
}

// setTrackableValueRange installs a new auto-range window and recomputes
// the conversion ratio from it. The inner histogram's sub-bucket half
// count never changes across a resize, so the ratio stays an exact power
// of two for as long as lowest does.
func (d *Double) setTrackableValueRange(lowest, highest float64) {
	d.currentLowestValueInAutoRange = lowest
	d.currentHighestValueLimitInAutoRange = highest
	d.conversionRatio = lowest / float64(d.lowestTrackingIntegerValue())
}

func (d *Double) lowestTrackingIntegerValue() int32 {
	return d.integer.Settings().SubBucketCount() / 2
}

// HighestToLowestValueRatio returns the configured dynamic-range ratio,
// which grows if an out-of-range auto-resize shift widens it.
func (d *Double) HighestToLowestValueRatio() uint64 { return d.configuredHighestToLowestValueRatio }

// SignificantValueDigits returns the precision this Double was built with.
func (d *Double) SignificantValueDigits() int32 {
	return d.integer.Settings().SignificantValueDigits()
}

// GetCurrentLowestTrackableNonZeroValue returns the smallest non-zero
// value the currently covered auto-range can represent.
func (d *Double) GetCurrentLowestTrackableNonZeroValue() float64 {
	return d.currentLowestValueInAutoRange
}

// GetCurrentHighestTrackableValue returns the exclusive upper bound of the
// currently covered auto-range.
func (d *Double) GetCurrentHighestTrackableValue() float64 {
	return d.currentHighestValueLimitInAutoRange
}

// TotalCount returns the number of recorded samples.
func (d *Double) TotalCount() uint64 { return d.integer.TotalCount() }

// GetMinValue returns the smallest recorded value, or 0 if empty.
func (d *Double) GetMinValue() float64 {
	return float64(d.integer.GetMinValue()) * d.conversionRatio
}

// GetMaxValue returns the highest equivalent value of the largest recorded
// sample, or 0 if empty.
func (d *Double) GetMaxValue() float64 {
	if d.integer.TotalCount() == 0 {
		return 0
	}
	return d.highestEquivalentValue(float64(d.integer.MaxValue()) * d.conversionRatio)
}

// GetCountAtValue returns the count recorded at value's equivalence class.
func (d *Double) GetCountAtValue(value float64) uint64 {
	idx := d.integer.Settings().CountsArrayIndex(d.toIntegerValueClamped(value))
	return d.integer.CountAtIndex(idx)
}

// GetMean returns the arithmetic mean of recorded values.
func (d *Double) GetMean() float64 { return d.integer.GetMean() * d.conversionRatio }

// GetStdDeviation returns the standard deviation of recorded values.
func (d *Double) GetStdDeviation() float64 { return d.integer.GetStdDeviation() * d.conversionRatio }

// GetValueAtPercentile returns the value at or below which percentile p of
// recorded samples fall.
func (d *Double) GetValueAtPercentile(p float64) float64 {
	return float64(d.integer.GetValueAtPercentile(p)) * d.conversionRatio
}

// GetPercentileAtOrBelowValue returns 100*sum(counts at or below v)/total.
func (d *Double) GetPercentileAtOrBelowValue(value float64) float64 {
	return d.integer.GetPercentileAtOrBelowValue(d.toIntegerValueClamped(value))
}

// SizeOfEquivalentValueRange returns the width of the equivalence class
// containing value.
func (d *Double) SizeOfEquivalentValueRange(value float64) float64 {
	return float64(d.integer.Settings().SizeOfEquivalentValueRange(d.toIntegerValueClamped(value))) * d.conversionRatio
}

// LowestEquivalentValue returns the smallest value in value's equivalence
// class.
func (d *Double) LowestEquivalentValue(value float64) float64 {
	return float64(d.integer.Settings().LowestEquivalentValue(d.toIntegerValueClamped(value))) * d.conversionRatio
}

// MedianEquivalentValue returns the midpoint of value's equivalence class.
func (d *Double) MedianEquivalentValue(value float64) float64 {
	return float64(d.integer.Settings().MedianEquivalentValue(d.toIntegerValueClamped(value))) * d.conversionRatio
}

// ValuesAreEquivalent reports whether a and b fall in the same equivalence
// class.
func (d *Double) ValuesAreEquivalent(a, b float64) bool {
	return d.LowestEquivalentValue(a) == d.LowestEquivalentValue(b)
}

func (d *Double) nextNonEquivalentValue(value float64) float64 {
	return float64(d.integer.Settings().NextNonEquivalentValue(d.toIntegerValueClamped(value))) * d.conversionRatio
}

// highestEquivalentValue walks forward from the next non-equivalent value
// in ulp-sized steps, landing on the largest float64 still below it: the
// double-domain equivalent of the inner histogram's integer
// highestEquivalentValue (next-1), in a domain where "subtract 1" has no
// fixed meaning.
func (d *Double) highestEquivalentValue(value float64) float64 {
	next := d.nextNonEquivalentValue(value)
	highest := next - 2*ulp(next)
	for highest+ulp(highest) < next {
		highest += ulp(highest)
	}
	return highest
}

// toIntegerValue converts a double value into the inner histogram's
// integer domain, truncating (never rounding) towards zero. It errors on
// non-finite or negative input, or on a scaled value that would overflow
// uint64.
func (d *Double) toIntegerValue(value float64) (uint64, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, errs.ErrNonFiniteValue
	}
	if value < 0 {
		return 0, errs.ErrNegativeValue
	}
	scaled := value / d.conversionRatio
	if scaled > float64(math.MaxUint64) {
		return 0, errs.ErrValueOutOfRange
	}
	return uint64(scaled), nil
}

// toIntegerValueClamped is toIntegerValue's non-erroring counterpart used
// by the read-only accessors: non-finite or non-positive input collapses
// to 0, overflow saturates at math.MaxUint64.
func (d *Double) toIntegerValueClamped(value float64) uint64 {
	if math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 {
		return 0
	}
	scaled := value / d.conversionRatio
	if scaled > float64(math.MaxUint64) {
		return math.MaxUint64
	}
	return uint64(scaled)
}

// RecordValue records a single occurrence of v.
func (d *Double) RecordValue(v float64) error { return d.recordCountAtValue(v, 1) }

// RecordValues records count occurrences of v.
func (d *Double) RecordValues(v float64, count uint64) error { return d.recordCountAtValue(v, count) }

// RecordValueWithExpectedInterval records v, then back-fills synthetic
// samples at v-k*interval for every k>=1 while the result is still
// >=interval, compensating for coordinated omission.
func (d *Double) RecordValueWithExpectedInterval(v, expectedInterval float64) error {
	return d.recordValueWithCountAndExpectedInterval(v, 1, expectedInterval)
}

func (d *Double) recordValueWithCountAndExpectedInterval(value float64, count uint64, expectedInterval float64) error {
	if err := d.recordCountAtValue(value, count); err != nil {
		return err
	}
	if expectedInterval <= 0 {
		return nil
	}
	for missing := value - expectedInterval; missing >= expectedInterval; missing -= expectedInterval {
		if err := d.recordCountAtValue(missing, count); err != nil {
			return err
		}
	}
	return nil
}

// recordCountAtValue is C7's single entry point for every recording path:
// it rejects non-finite and negative values, fast-paths an exact zero
// directly into the inner histogram, widens the auto-range window to
// cover value if needed, then converts and records.
func (d *Double) recordCountAtValue(value float64, count uint64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return errs.ErrNonFiniteValue
	}
	if value == 0 {
		return d.integer.RecordValues(0, count)
	}
	if value < 0 {
		return errs.ErrNegativeValue
	}

	if value < d.currentLowestValueInAutoRange || value >= d.currentHighestValueLimitInAutoRange {
		if err := d.autoAdjustRangeForValue(value); err != nil {
			return err
		}
	}

	integerValue, err := d.toIntegerValue(value)
	if err != nil {
		return err
	}
	return d.integer.RecordValues(integerValue, count)
}

// autoAdjustRangeForValue widens the covered window until value falls
// inside [currentLowest, currentHighestLimit), shifting in capped
// binary-order-of-magnitude steps so a single wildly out-of-range value
// never overshoots past what configuredHighestToLowestValueRatio allows in
// one jump.
func (d *Double) autoAdjustRangeForValue(value float64) error {
	if value == 0 {
		return nil
	}
	if value < 0 {
		return errs.ErrNegativeValue
	}

	if value < d.currentLowestValueInAutoRange {
		for {
			shiftAmount := findCappedContainingBinaryOrderOfMagnitude(
				math.Ceil(d.currentLowestValueInAutoRange/value)-1,
				d.configuredHighestToLowestValueRatio,
			)
			if err := d.shiftCoveredRangeToTheRight(shiftAmount); err != nil {
				return err
			}
			if value >= d.currentLowestValueInAutoRange {
				return nil
			}
		}
	}

	if value >= d.currentHighestValueLimitInAutoRange {
		if value > highestAllowedValueEver() {
			return errs.ErrValueOutOfRangeEver
		}
		for {
			shiftAmount := findCappedContainingBinaryOrderOfMagnitude(
				math.Ceil((value+ulp(value))/d.currentHighestValueLimitInAutoRange)-1,
				d.configuredHighestToLowestValueRatio,
			)
			if err := d.shiftCoveredRangeToTheLeft(shiftAmount); err != nil {
				return err
			}
			if value < d.currentHighestValueLimitInAutoRange {
				return nil
			}
		}
	}
	return nil
}

// shiftCoveredRangeToTheRight shrinks the covered window downward by
// 2^shiftAmount, so smaller values become representable. When the inner
// histogram holds data outside its zero bucket, the equivalent integer
// values must grow to compensate (ShiftValuesLeft); if that overflows the
// inner geometry, handleShiftValuesException grows it first (when
// AutoResize allows) and the shift is retried exactly once.
//
// currentLowestValueInAutoRange/currentHighestValueLimitInAutoRange are
// left untouched on any failure rather than committed with a half-applied
// shift, and each new bound is multiplied by shiftMultiplier exactly once
// on success.
func (d *Double) shiftCoveredRangeToTheRight(shiftAmount uint32) error {
	shiftMultiplier := 1.0 / float64(uint64(1)<<shiftAmount)
	newLowest := d.currentLowestValueInAutoRange
	newHighest := d.currentHighestValueLimitInAutoRange

	if d.integer.TotalCount() > d.integer.CountAtIndex(0) {
		if err := d.integer.ShiftValuesLeft(shiftAmount); err != nil {
			if err := d.handleShiftValuesException(shiftAmount); err != nil {
				return err
			}
			if err := d.integer.ShiftValuesLeft(shiftAmount); err != nil {
				return errs.ErrResizeFailed
			}
		}
	}

	newLowest *= shiftMultiplier
	newHighest *= shiftMultiplier
	d.setTrackableValueRange(newLowest, newHighest)
	return nil
}

// shiftCoveredRangeToTheLeft grows the covered window upward by
// 2^shiftAmount, the mirror image of shiftCoveredRangeToTheRight: existing
// integer values must shrink to compensate (ShiftValuesRight).
func (d *Double) shiftCoveredRangeToTheLeft(shiftAmount uint32) error {
	shiftMultiplier := float64(uint64(1) << shiftAmount)
	newLowest := d.currentLowestValueInAutoRange
	newHighest := d.currentHighestValueLimitInAutoRange

	if d.integer.TotalCount() > d.integer.CountAtIndex(0) {
		if err := d.integer.ShiftValuesRight(shiftAmount); err != nil {
			if err := d.handleShiftValuesException(shiftAmount); err != nil {
				return err
			}
			if err := d.integer.ShiftValuesRight(shiftAmount); err != nil {
				return errs.ErrResizeFailed
			}
		}
	}

	newLowest *= shiftMultiplier
	newHighest *= shiftMultiplier
	d.setTrackableValueRange(newLowest, newHighest)
	return nil
}

// handleShiftValuesException grows the inner histogram's geometry (and
// widens configuredHighestToLowestValueRatio to match) so a shift that
// just failed for lack of headroom can be retried. Only legal when
// AutoResize is set and the wider geometry still fits in 63 bits.
func (d *Double) handleShiftValuesException(shiftAmount uint32) error {
	if !d.AutoResize {
		return errs.ErrValueOutOfRangeResizeDisabled
	}
	currentContainingOrder := findContainingBinaryOrderOfMagnitudeLong(d.integer.Settings().HighestTrackableValue())
	newContainingOrder := currentContainingOrder + shiftAmount
	if newContainingOrder > 63 {
		return errs.ErrValueOutOfRangeResizeDisabled
	}
	newHighestTrackableValue := (uint64(1) << newContainingOrder) - 1
	if err := d.integer.resizeToCover(newHighestTrackableValue); err != nil {
		return errs.ErrResizeFailed
	}
	d.configuredHighestToLowestValueRatio <<= shiftAmount
	return nil
}

// Reset zeroes the inner histogram and re-establishes the initial
// auto-ranging window at the configured ratio.
func (d *Double) Reset() {
	d.integer.Reset()
	d.initRange(d.configuredHighestToLowestValueRatio, initialLowestValueInAutoRange())
	d.Tag = ""
	d.StartTimeMs = 0
	d.EndTimeMs = 0
}

// Add merges other's recorded values into d, converting each through
// other's conversion ratio before re-recording it.
func (d *Double) Add(other *Double) error {
	otherRatio := other.conversionRatio
	it := newRecordedIterator(other.integer)
	for it.next() {
		doubleValue := float64(it.valueFromIndex) * otherRatio
		if err := d.recordCountAtValue(doubleValue, it.countAtIndex); err != nil {
			return err
		}
	}
	return nil
}

// AddWhileCorrectingForCoordinatedOmission merges other's recorded values
// into d the way Add does, but back-fills each one for coordinated
// omission against expectedIntervalBetweenValueSamples as it goes.
func (d *Double) AddWhileCorrectingForCoordinatedOmission(other *Double, expectedIntervalBetweenValueSamples float64) error {
	otherRatio := other.conversionRatio
	it := newRecordedIterator(other.integer)
	for it.next() {
		doubleValue := float64(it.valueFromIndex) * otherRatio
		if err := d.recordValueWithCountAndExpectedInterval(doubleValue, it.countAtIndex, expectedIntervalBetweenValueSamples); err != nil {
			return err
		}
	}
	return nil
}

// CopyCorrectedForCoordinatedOmission returns a fresh Double built at the
// same configured ratio and significant digits as d, pre-seeded with d's
// current auto-range window, then populated via
// AddWhileCorrectingForCoordinatedOmission.
func (d *Double) CopyCorrectedForCoordinatedOmission(expectedIntervalBetweenValueSamples float64) (*Double, error) {
	target, err := NewDouble(d.configuredHighestToLowestValueRatio, d.SignificantValueDigits())
	if err != nil {
		return nil, err
	}
	target.setTrackableValueRange(d.currentLowestValueInAutoRange, d.currentHighestValueLimitInAutoRange)
	if err := target.AddWhileCorrectingForCoordinatedOmission(d, expectedIntervalBetweenValueSamples); err != nil {
		return nil, err
	}
	return target, nil
}

// GetStartTimeMs returns StartTimeMs (method form, matching Histogram's
// View-style accessor).
func (d *Double) GetStartTimeMs() int64 { return d.StartTimeMs }

// GetEndTimeMs returns EndTimeMs (method form, matching Histogram's
// View-style accessor).
func (d *Double) GetEndTimeMs() int64 { return d.EndTimeMs }

// StartNow stamps StartTimeMs with the current wall-clock time.
func (d *Double) StartNow() { d.StartTimeMs = nowMsDouble() }

// EndNow stamps EndTimeMs with the current wall-clock time.
func (d *Double) EndNow() { d.EndTimeMs = nowMsDouble() }
