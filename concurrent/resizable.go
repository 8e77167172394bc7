package concurrent

import (
	"math/bits"
	"sync/atomic"

	hdrhistogram "github.com/mstoykov/hdrhistogram"
	"github.com/mstoykov/hdrhistogram/errs"
	"github.com/mstoykov/hdrhistogram/internal/phaser"
)

// concurrentCounts is one generation of a Resizable's double-buffered
// backing store: a geometry paired with its own atomic counts slice and
// normalizing offset. Resizable never mutates a buffer's geometry or
// offset while it is reachable from active — every change allocates a
// fresh generation and hands it off via the phaser's double-flip
// protocol, so a buffer a writer is currently touching is never resized
// or rotated out from under it.
type concurrentCounts struct {
	geometry               hdrhistogram.Settings
	counts                 []atomic.Uint64
	normalizingIndexOffset int32
}

func newConcurrentCounts(s hdrhistogram.Settings) *concurrentCounts {
	return &concurrentCounts{geometry: s, counts: make([]atomic.Uint64, s.CountsArrayLength())}
}

func (b *concurrentCounts) length() int32 { return int32(len(b.counts)) }

func (b *concurrentCounts) physicalIndex(logical int32) int32 {
	return hdrhistogram.NormalizeIndex(logical, b.normalizingIndexOffset, b.length())
}

func (b *concurrentCounts) get(logical int32) uint64 {
	return b.counts[b.physicalIndex(logical)].Load()
}

func (b *concurrentCounts) add(logical int32, delta uint64) {
	b.counts[b.physicalIndex(logical)].Add(delta)
}

// drainInto walks every populated logical slot of b, zeroing it as it
// goes, and folds its count into dst at the index for transform(value).
// identityTransform is used by a pure resize (value semantics don't
// change, only capacity); a real value transform (v<<n, v>>n) is used by
// a shift, which rescales what every tracked value means.
func (b *concurrentCounts) drainInto(dst *concurrentCounts, transform func(uint64) uint64) {
	n := b.length()
	for i := int32(0); i < n; i++ {
		p := b.physicalIndex(i)
		c := b.counts[p].Swap(0)
		if c == 0 {
			continue
		}
		v := transform(b.geometry.ValueFromIndex(i))
		dst.add(dst.geometry.CountsArrayIndex(v), c)
	}
}

func identityTransform(v uint64) uint64 { return v }

// Resizable is a lock-free histogram whose counts array grows to cover
// out-of-range values (when AutoResize is set) and whose tracked range
// can be rotated via ShiftValuesLeft/Right, both without ever blocking a
// writer for longer than a single atomic add. Growth and shift share a
// double-flip handoff (C5 / C4): a new geometry is built off to the side,
// and the phaser is flipped twice to guarantee no writer is still
// targeting a buffer before it is folded into the next generation.
//
// Unlike Fixed, Resizable returns an error instead of saturating when a
// value is out of range and AutoResize is false — growth is this
// variant's whole purpose, so silent saturation would mask a
// misconfiguration rather than a deliberate space/fidelity tradeoff.
type Resizable struct {
	active   atomic.Pointer[concurrentCounts]
	inactive *concurrentCounts // only touched while ph's reader lock is held

	ph       *phaser.Phaser
	unitMask uint64

	totalCount      atomic.Uint64
	maxValue        atomic.Uint64
	minNonZeroValue atomic.Uint64

	// AutoResize, when true, grows the counts array to cover a value above
	// the current highest trackable value instead of erroring.
	AutoResize bool
	// Tag is an optional caller-set label.
	Tag string

	startTimeMs atomic.Int64
	endTimeMs   atomic.Int64
}

// NewResizable allocates a Resizable histogram starting at settings'
// range. AutoResize defaults to false, matching the single-threaded
// Histogram's opt-in convention.
func NewResizable(settings hdrhistogram.Settings) *Resizable {
	r := &Resizable{
		ph:       phaser.New(),
		unitMask: unitMaskFor(settings),
	}
	r.active.Store(newConcurrentCounts(settings))
	r.inactive = newConcurrentCounts(settings)
	r.minNonZeroValue.Store(^uint64(0))
	return r
}

// Settings returns the current geometry. It may widen between calls if
// another goroutine triggers a resize.
func (r *Resizable) Settings() hdrhistogram.Settings { return r.active.Load().geometry }

// ArrayLength returns the current N, which may grow over the histogram's
// lifetime.
func (r *Resizable) ArrayLength() int32 { return r.active.Load().length() }

// TotalCount returns the number of values recorded so far.
func (r *Resizable) TotalCount() uint64 { return r.totalCount.Load() }

// CountAtIndex returns the count at logical index i in the current active
// buffer. Callers that need a point-in-time-consistent read across the
// whole array should go through Recorder/Snapshot instead.
func (r *Resizable) CountAtIndex(i int32) uint64 { return r.active.Load().get(i) }

// MaxValue returns the largest value recorded.
func (r *Resizable) MaxValue() uint64 { return r.maxValue.Load() }

// GetMinValue returns the smallest non-zero value recorded, or 0 if none.
func (r *Resizable) GetMinValue() uint64 { return loadMinValue(&r.minNonZeroValue) }

// GetStartTimeMs returns the interval start stamp set by StartNow, or 0.
func (r *Resizable) GetStartTimeMs() int64 { return r.startTimeMs.Load() }

// GetEndTimeMs returns the interval end stamp set by EndNow, or 0.
func (r *Resizable) GetEndTimeMs() int64 { return r.endTimeMs.Load() }

// StartNow stamps the interval start with the current time.
func (r *Resizable) StartNow() { r.startTimeMs.Store(nowMs()) }

// EndNow stamps the interval end with the current time.
func (r *Resizable) EndNow() { r.endTimeMs.Store(nowMs()) }

// CountsSlice returns a freshly allocated, normalized snapshot of every
// slot in the current geometry. Per the resize/shift handoff above, a
// handful of counts can transiently be parked in the inactive buffer
// rather than active; CountsSlice drains them across before reading, so
// the returned slice always reflects every value recorded before the
// call returns.
func (r *Resizable) CountsSlice() []uint64 {
	r.drainInactiveIntoActive()
	buf := r.active.Load()
	out := make([]uint64, buf.length())
	for i := range out {
		out[i] = buf.get(int32(i))
	}
	return out
}

func (r *Resizable) drainInactiveIntoActive() {
	r.ph.ReaderLock()
	defer r.ph.ReaderUnlock()
	r.ph.FlipLocked()
	r.inactive.drainInto(r.active.Load(), identityTransform)
}

// RecordValue records a single occurrence of v.
func (r *Resizable) RecordValue(v uint64) error {
	return r.RecordValues(v, 1)
}

// RecordValues records count occurrences of v, growing the counts array
// first if v exceeds the current highest trackable value and AutoResize
// is set.
func (r *Resizable) RecordValues(v uint64, count uint64) error {
	for {
		if v <= r.active.Load().geometry.HighestTrackableValue() {
			break
		}
		if !r.AutoResize {
			return errs.ErrValueOutOfRangeResizeDisabled
		}
		if err := r.growToCover(v); err != nil {
			return err
		}
	}

	// BeginWriter must precede the active load: it is what lets a
	// concurrent resize's Flip know to wait for this write, regardless of
	// whether the load below observes the pre- or post-swap buffer.
	token := r.ph.BeginWriter()
	defer token.End()
	buf := r.active.Load()
	buf.add(buf.geometry.CountsArrayIndex(v), count)

	r.totalCount.Add(count)
	atomicUpdateMax(&r.maxValue, v, r.unitMask)
	if v != 0 {
		atomicUpdateMin(&r.minNonZeroValue, v, r.unitMask)
	}
	return nil
}

// RecordValueWithExpectedInterval is RecordValue plus coordinated-omission
// back-fill.
func (r *Resizable) RecordValueWithExpectedInterval(v, expectedInterval uint64) error {
	if err := r.RecordValue(v); err != nil {
		return err
	}
	if expectedInterval == 0 || v <= expectedInterval {
		return nil
	}
	for missingValue := v - expectedInterval; missingValue >= expectedInterval; missingValue -= expectedInterval {
		if err := r.RecordValue(missingValue); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resizable) growToCover(v uint64) error {
	r.ph.ReaderLock()
	defer r.ph.ReaderUnlock()

	cur := r.active.Load()
	if v <= cur.geometry.HighestTrackableValue() {
		return nil // another goroutine already grew past v
	}
	newSettings, err := cur.geometry.WithHighestTrackableValue(v)
	if err != nil {
		return errs.ErrResizeFailed
	}
	r.doubleFlipTransform(newSettings, identityTransform)
	return nil
}

// ShiftValuesLeft multiplies every tracked value by 2^n through the same
// double-flip handoff that resizing uses: every populated slot is remapped
// into freshly allocated buffers at its shifted value's index (the
// normalizing offset is not rotated).
// It fails with ErrShiftOverflow if any populated value would shift past
// the geometry's highest trackable value.
func (r *Resizable) ShiftValuesLeft(n uint32) error {
	if n == 0 {
		return nil
	}
	r.ph.ReaderLock()
	defer r.ph.ReaderUnlock()

	cur := r.active.Load()
	highest := cur.geometry.HighestTrackableValue()
	for i := int32(0); i < cur.length(); i++ {
		if cur.get(i) == 0 {
			continue
		}
		if shiftLeftOverflows(cur.geometry.ValueFromIndex(i), n, highest) {
			return errs.ErrShiftOverflow
		}
	}

	r.doubleFlipTransform(cur.geometry, func(v uint64) uint64 { return v << n })
	return nil
}

// ShiftValuesRight divides every tracked value by 2^n, in place. It fails
// with ErrShiftUnderflow if any populated value would be evicted below
// the trackable range (i.e. would round down to zero).
func (r *Resizable) ShiftValuesRight(n uint32) error {
	if n == 0 {
		return nil
	}
	r.ph.ReaderLock()
	defer r.ph.ReaderUnlock()

	cur := r.active.Load()
	for i := int32(0); i < cur.length(); i++ {
		if cur.get(i) == 0 {
			continue
		}
		v := cur.geometry.ValueFromIndex(i)
		if v>>n == 0 {
			return errs.ErrShiftUnderflow
		}
	}

	r.doubleFlipTransform(cur.geometry, func(v uint64) uint64 { return v >> n })
	return nil
}

func shiftLeftOverflows(v uint64, n uint32, highest uint64) bool {
	if v == 0 {
		return false
	}
	if n >= 64 {
		return true
	}
	if bits.LeadingZeros64(v) < int(n) {
		return true
	}
	return v<<n > highest
}

// doubleFlipTransform is the shared two-flip handoff behind growToCover
// and the shift operations: it replaces active (and retires inactive)
// with a buffer of targetGeometry, remapping every currently-tracked
// value through transform. The caller must already hold the phaser's
// reader lock.
//
//  1. Fold whatever is currently parked in inactive into a fresh buffer
//     A' sized for targetGeometry.
//  2. Publish A' as active (swap roles) and flip: this drains every
//     writer that began before the swap, whichever buffer it picked up.
//  3. The old active is now fully quiescent. Fold its (complete)
//     historical data into a second fresh buffer A'', which becomes the
//     definitive active; flip again to drain writers that raced into A'
//     during the handoff window.
//  4. Fold whatever landed in A' during that window back into A'', so
//     inactive returns to empty instead of silently hoarding counts until
//     the next resize.
func (r *Resizable) doubleFlipTransform(targetGeometry hdrhistogram.Settings, transform func(uint64) uint64) {
	aPrime := newConcurrentCounts(targetGeometry)
	r.inactive.drainInto(aPrime, transform)

	prevActive := r.active.Load()
	r.active.Store(aPrime)
	r.inactive = prevActive
	r.ph.FlipLocked()

	aDoublePrime := newConcurrentCounts(targetGeometry)
	r.inactive.drainInto(aDoublePrime, transform)

	prevActive2 := r.active.Load()
	r.active.Store(aDoublePrime)
	r.inactive = prevActive2
	r.ph.FlipLocked()

	// inactive is the retired A': everything in it is already expressed
	// in targetGeometry's terms, whether it arrived via the drainInto
	// above (already transformed once) or was written directly while A'
	// was briefly active (a real value, never needing transform at all).
	// Applying transform again here would double-shift it.
	r.inactive.drainInto(r.active.Load(), identityTransform)
}

// Reset zeroes every counter, replacing both buffers outright, having
// flipped once while holding the reader lock to guarantee no writer from
// before the call still targets either retired buffer.
func (r *Resizable) Reset() {
	r.ph.ReaderLock()
	defer r.ph.ReaderUnlock()
	r.ph.FlipLocked()

	geom := r.active.Load().geometry
	r.active.Store(newConcurrentCounts(geom))
	r.inactive = newConcurrentCounts(geom)

	r.totalCount.Store(0)
	r.maxValue.Store(0)
	r.minNonZeroValue.Store(^uint64(0))
	r.startTimeMs.Store(0)
	r.endTimeMs.Store(0)
}

var (
	_ hdrhistogram.Recordable = (*Resizable)(nil)
	_ Sampleable              = (*Resizable)(nil)
)
