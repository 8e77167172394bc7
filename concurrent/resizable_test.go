package concurrent

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hdrhistogram "github.com/mstoykov/hdrhistogram"
	"github.com/mstoykov/hdrhistogram/errs"
)

func newTestResizable(t *testing.T) *Resizable {
	t.Helper()
	s := hdrhistogram.MustNewSettings(1, 1000, 3)
	return NewResizable(s)
}

func TestResizableRecordValueOutOfRangeWithoutAutoResize(t *testing.T) {
	t.Parallel()

	r := newTestResizable(t)
	err := r.RecordValue(1_000_000)
	assert.ErrorIs(t, err, errs.ErrValueOutOfRangeResizeDisabled)
	assert.Zero(t, r.TotalCount())
}

func TestResizableAutoResizeGrows(t *testing.T) {
	t.Parallel()

	r := newTestResizable(t)
	r.AutoResize = true

	require.NoError(t, r.RecordValue(1_000_000))
	assert.Equal(t, uint64(1), r.TotalCount())
	assert.GreaterOrEqual(t, r.Settings().HighestTrackableValue(), uint64(1_000_000))
	assert.True(t, r.Settings().IsEquivalent(r.MaxValue(), 1_000_000))
}

func TestResizableAutoResizePreservesPriorCounts(t *testing.T) {
	t.Parallel()

	r := newTestResizable(t)
	r.AutoResize = true

	require.NoError(t, r.RecordValue(10))
	require.NoError(t, r.RecordValue(1_000_000))

	assert.Equal(t, uint64(2), r.TotalCount())
	slice := r.CountsSlice()
	var sum uint64
	for _, c := range slice {
		sum += c
	}
	assert.Equal(t, uint64(2), sum)
}

func TestResizableShiftValuesRoundTrip(t *testing.T) {
	t.Parallel()

	r := newTestResizable(t)
	require.NoError(t, r.RecordValue(100))
	require.NoError(t, r.RecordValue(200))

	require.NoError(t, r.ShiftValuesLeft(2))
	require.NoError(t, r.ShiftValuesRight(2))

	snap := r.CountsSlice()
	var sum uint64
	for _, c := range snap {
		sum += c
	}
	assert.Equal(t, uint64(2), sum)
}

// TestResizableShiftValuesRaceWithConcurrentWriteReportsTrueMagnitude pins
// down the doubleFlipTransform fold-back: a write that lands on the
// transiently-active A' buffer during a shift's handoff window already
// carries its true (untransformed) value, so the final drain back into
// active must not run it through transform a second time. Every write here
// records the same value; ShiftValuesLeft(n) paired with ShiftValuesRight(n)
// nets to identity, so any count surviving at an index other than value's
// equivalence class means some write got double-shifted.
func TestResizableShiftValuesRaceWithConcurrentWriteReportsTrueMagnitude(t *testing.T) {
	t.Parallel()

	s := hdrhistogram.MustNewSettings(1, 1_000_000, 3)
	r := NewResizable(s)

	const value = uint64(10)
	const iterations = 4000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			assert.NoError(t, r.RecordValue(value))
			runtime.Gosched()
		}
	}()

	for i := 0; i < iterations/10; i++ {
		require.NoError(t, r.ShiftValuesLeft(2))
		require.NoError(t, r.ShiftValuesRight(2))
	}

	wg.Wait()

	settings := r.Settings()
	slice := r.CountsSlice()
	var total uint64
	for i, c := range slice {
		if c == 0 {
			continue
		}
		total += c
		v := settings.ValueFromIndex(int32(i))
		assert.Truef(t, settings.IsEquivalent(v, value),
			"count at index %d represents %d, want a value equivalent to %d (possible double-applied shift)", i, v, value)
	}
	assert.Equal(t, r.TotalCount(), total)
}

func TestResizableShiftValuesLeftOverflow(t *testing.T) {
	t.Parallel()

	s := hdrhistogram.MustNewSettings(1, 1_000_000, 3)
	r := NewResizable(s)
	require.NoError(t, r.RecordValue(999_999))

	err := r.ShiftValuesLeft(20)
	assert.ErrorIs(t, err, errs.ErrShiftOverflow)
}

func TestResizableShiftValuesRightUnderflow(t *testing.T) {
	t.Parallel()

	r := newTestResizable(t)
	require.NoError(t, r.RecordValue(1))

	err := r.ShiftValuesRight(4)
	assert.ErrorIs(t, err, errs.ErrShiftUnderflow)
}

func TestResizableCountsSliceDrainsInactiveBuffer(t *testing.T) {
	t.Parallel()

	r := newTestResizable(t)
	r.AutoResize = true
	require.NoError(t, r.RecordValue(1))
	require.NoError(t, r.RecordValue(1_000_000))

	before := r.CountsSlice()
	var sum uint64
	for _, c := range before {
		sum += c
	}
	assert.Equal(t, uint64(2), sum)
}

func TestResizableResetReplacesBuffers(t *testing.T) {
	t.Parallel()

	r := newTestResizable(t)
	require.NoError(t, r.RecordValue(100))
	r.Reset()

	assert.Zero(t, r.TotalCount())
	assert.Zero(t, r.MaxValue())
	assert.Zero(t, r.GetMinValue())
}

// TestResizableConcurrentAutoResizeConservesTotalCount hammers RecordValue
// from many goroutines while some calls force growth, pinning down that the
// double-flip handoff never drops or duplicates a write.
func TestResizableConcurrentAutoResizeConservesTotalCount(t *testing.T) {
	t.Parallel()

	r := newTestResizable(t)
	r.AutoResize = true

	const goroutines = 16
	const perGoroutine = 500

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				v := uint64(1 + (g*perGoroutine+i)%2_000_000)
				assert.NoError(t, r.RecordValue(v))
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, uint64(goroutines*perGoroutine), r.TotalCount())

	slice := r.CountsSlice()
	var sum uint64
	for _, c := range slice {
		sum += c
	}
	assert.Equal(t, r.TotalCount(), sum, "every recorded value must be reachable from the final active buffer")
}
