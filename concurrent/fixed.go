package concurrent

import (
	"sync/atomic"

	hdrhistogram "github.com/mstoykov/hdrhistogram"
	"github.com/mstoykov/hdrhistogram/internal/phaser"
)

// Fixed is a lock-free histogram whose counts array is allocated once at
// construction and never grows (C5's non-resizable variant). Recording
// takes no lock: each call is a few atomic adds plus compare-and-swap loops
// for min and max, coordinated against Reset via the phaser rather than a
// mutex. Values past the counts array's last bucket saturate into the last
// slot instead of erroring — the
// cheapest possible policy for a type that can never grow to accommodate
// them.
type Fixed struct {
	settings hdrhistogram.Settings
	counts   []atomic.Uint64

	totalCount      atomic.Uint64
	maxValue        atomic.Uint64
	minNonZeroValue atomic.Uint64

	ph       *phaser.Phaser
	unitMask uint64

	// Tag is an optional, caller-set label; concurrent writers never touch
	// it, so unlike the timing fields it needs no atomic access.
	Tag string

	startTimeMs atomic.Int64
	endTimeMs   atomic.Int64
}

// NewFixed allocates a Fixed histogram covering settings' range.
func NewFixed(settings hdrhistogram.Settings) *Fixed {
	f := &Fixed{
		settings: settings,
		counts:   make([]atomic.Uint64, settings.CountsArrayLength()),
		ph:       phaser.New(),
		unitMask: unitMaskFor(settings),
	}
	f.minNonZeroValue.Store(^uint64(0))
	return f
}

func unitMaskFor(s hdrhistogram.Settings) uint64 {
	return uint64(1)<<s.UnitMagnitude() - 1
}

// Settings returns the (immutable, for this variant) geometry.
func (f *Fixed) Settings() hdrhistogram.Settings { return f.settings }

// ArrayLength returns N.
func (f *Fixed) ArrayLength() int32 { return int32(len(f.counts)) }

// TotalCount returns the number of values recorded so far.
func (f *Fixed) TotalCount() uint64 { return f.totalCount.Load() }

// CountAtIndex returns the count at logical index i. Since Fixed never
// rotates its offset, logical and physical indices coincide.
func (f *Fixed) CountAtIndex(i int32) uint64 { return f.counts[i].Load() }

// MaxValue returns the largest value recorded.
func (f *Fixed) MaxValue() uint64 { return f.maxValue.Load() }

// GetMinValue returns the smallest non-zero value recorded, or 0 if none.
func (f *Fixed) GetMinValue() uint64 { return loadMinValue(&f.minNonZeroValue) }

// GetStartTimeMs returns the interval start stamp set by StartNow, or 0.
func (f *Fixed) GetStartTimeMs() int64 { return f.startTimeMs.Load() }

// GetEndTimeMs returns the interval end stamp set by EndNow, or 0.
func (f *Fixed) GetEndTimeMs() int64 { return f.endTimeMs.Load() }

// StartNow stamps the interval start with the current time.
func (f *Fixed) StartNow() { f.startTimeMs.Store(nowMs()) }

// EndNow stamps the interval end with the current time.
func (f *Fixed) EndNow() { f.endTimeMs.Store(nowMs()) }

// CountsSlice returns a freshly allocated snapshot of every slot. Unlike
// Resizable, Fixed has no inactive buffer to drain first: every writer
// always targets the one array, so a plain read under no lock at all is
// already coherent per-slot (individual Add calls are atomic); the
// snapshot as a whole may still observe a write-in-flight split across
// two slots, which is why Recorder exists for callers that need a
// point-in-time-consistent view.
func (f *Fixed) CountsSlice() []uint64 {
	out := make([]uint64, len(f.counts))
	for i := range out {
		out[i] = f.counts[i].Load()
	}
	return out
}

// RecordValue records a single occurrence of v.
func (f *Fixed) RecordValue(v uint64) error {
	return f.RecordValues(v, 1)
}

// RecordValues records count occurrences of v. Values past the counts
// array's last bucket saturate into the last slot rather than returning an
// error or growing the array; totalCount/min/max still reflect the true v.
func (f *Fixed) RecordValues(v uint64, count uint64) error {
	token := f.ph.BeginWriter()
	defer token.End()

	idx := f.settings.CountsArrayIndex(v)
	f.counts[idx].Add(count)
	f.totalCount.Add(count)
	atomicUpdateMax(&f.maxValue, v, f.unitMask)
	if v != 0 {
		atomicUpdateMin(&f.minNonZeroValue, v, f.unitMask)
	}
	return nil
}

// RecordValueWithExpectedInterval is RecordValue plus coordinated-omission
// back-fill: if v exceeds expectedInterval, synthetic samples are recorded
// at each expectedInterval step between the previous and current
// observation, compensating for a stop-the-world pause in the producer.
func (f *Fixed) RecordValueWithExpectedInterval(v, expectedInterval uint64) error {
	if err := f.RecordValue(v); err != nil {
		return err
	}
	if expectedInterval == 0 || v <= expectedInterval {
		return nil
	}
	for missingValue := v - expectedInterval; missingValue >= expectedInterval; missingValue -= expectedInterval {
		if err := f.RecordValue(missingValue); err != nil {
			return err
		}
	}
	return nil
}

// Reset zeroes every counter and the total/min/max trackers, holding the
// reader lock across a single flip so no writer observes a torn state.
func (f *Fixed) Reset() {
	f.ph.ReaderLock()
	defer f.ph.ReaderUnlock()
	f.ph.FlipLocked()

	for i := range f.counts {
		f.counts[i].Store(0)
	}
	f.totalCount.Store(0)
	f.maxValue.Store(0)
	f.minNonZeroValue.Store(^uint64(0))
	f.startTimeMs.Store(0)
	f.endTimeMs.Store(0)
}

var (
	_ hdrhistogram.Recordable = (*Fixed)(nil)
	_ Sampleable              = (*Fixed)(nil)
)
