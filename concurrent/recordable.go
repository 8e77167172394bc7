// Package concurrent provides lock-free histogram variants (C5) built on
// top of the root package's geometry and the internal writer/reader
// phaser (C4): Fixed, whose counts array never grows, and Resizable, which
// grows or shifts its tracked range under a double-flip handoff. Recorder
// (C6) layers atomic snapshot/reset on top of either.
package concurrent

import (
	"math"
	"sync/atomic"
	"time"

	hdrhistogram "github.com/mstoykov/hdrhistogram"
)

// nowMs is the millisecond wall-clock stamp used by every variant's
// StartNow/EndNow helpers.
func nowMs() int64 { return time.Now().UnixMilli() }

// Sampleable is the capability every concurrent variant exposes to
// Recorder: a way to feed it values and drain a quiesced, analyzable copy
// out of it. Both Fixed and Resizable satisfy it.
type Sampleable interface {
	hdrhistogram.View
	hdrhistogram.Recordable
	RecordValueWithExpectedInterval(v, expectedInterval uint64) error
	CountsSlice() []uint64
	StartNow()
	EndNow()
}

// atomicUpdateMax bumps *addr to value if value is larger, via a
// compare-and-swap retry loop. unitMask is ORed into value first so that
// two values in the same equivalence range never race each other into
// spurious extra CAS attempts. The non-atomic Histogram, by contrast,
// tracks the exact value.
func atomicUpdateMax(addr *atomic.Uint64, value uint64, unitMask uint64) {
	value |= unitMask
	for {
		cur := addr.Load()
		if value <= cur {
			return
		}
		if addr.CompareAndSwap(cur, value) {
			return
		}
	}
}

// atomicUpdateMin is atomicUpdateMax's counterpart for the minimum
// non-zero value. addr must have been initialized to math.MaxUint64.
// Callers must not invoke this for value == 0: the tracked minimum is a
// minimum-non-zero-value by definition.
func atomicUpdateMin(addr *atomic.Uint64, value uint64, unitMask uint64) {
	value &^= unitMask
	for {
		cur := addr.Load()
		if cur != math.MaxUint64 && value >= cur {
			return
		}
		if addr.CompareAndSwap(cur, value) {
			return
		}
	}
}

// loadMinValue converts the sentinel-initialized minimum tracker into the
// public zero-when-empty contract shared by Histogram.GetMinValue.
func loadMinValue(addr *atomic.Uint64) uint64 {
	v := addr.Load()
	if v == math.MaxUint64 {
		return 0
	}
	return v
}
