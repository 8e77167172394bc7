package hdrhistogram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstoykov/hdrhistogram/errs"
)

func newTestHistogram(t *testing.T) *Histogram {
	t.Helper()
	h, err := New(1, 3600000000, 3)
	require.NoError(t, err)
	return h
}

func TestRecordValueAndPercentiles(t *testing.T) {
	t.Parallel()

	h := newTestHistogram(t)
	require.NoError(t, h.RecordValue(4))
	require.NoError(t, h.RecordValue(4_000_000_000))

	assert.Equal(t, uint64(2), h.TotalCount())
	assert.Equal(t, uint64(4), h.GetValueAtPercentile(0))
	assert.InDelta(t, 4_000_000_000, h.GetValueAtPercentile(99.99), float64(4_000_000_000)*0.001)

	median := h.GetValueAtPercentile(50.0)
	assert.True(t, h.Settings().IsEquivalent(median, 4), "the 50th percentile of two samples should land on the lower one, got %d", median)
}

func TestRecordValueOutOfRangeWithoutAutoResize(t *testing.T) {
	t.Parallel()

	h, err := New(1, 1000, 3)
	require.NoError(t, err)

	err = h.RecordValue(1_000_000)
	assert.ErrorIs(t, err, errs.ErrValueOutOfRangeResizeDisabled)
	assert.Zero(t, h.TotalCount())
}

func TestRecordValueAutoResizeGrows(t *testing.T) {
	t.Parallel()

	h, err := New(1, 1000, 3)
	require.NoError(t, err)
	h.AutoResize = true

	require.NoError(t, h.RecordValue(1_000_000))
	assert.Equal(t, uint64(1), h.TotalCount())
	assert.GreaterOrEqual(t, h.Settings().HighestTrackableValue(), uint64(1_000_000))
}

func TestRecordValueWithExpectedIntervalBackfills(t *testing.T) {
	t.Parallel()

	h := newTestHistogram(t)
	require.NoError(t, h.RecordValueWithExpectedInterval(1000, 100))

	// 1000 plus nine synthetic samples at 900, 800, ..., 100.
	assert.Equal(t, uint64(10), h.TotalCount())
	assert.Equal(t, uint64(1000), h.MaxValue())
}

func TestAddMatchingGeometryIsSlotwise(t *testing.T) {
	t.Parallel()

	a := newTestHistogram(t)
	b := newTestHistogram(t)
	require.NoError(t, a.RecordValue(100))
	require.NoError(t, b.RecordValue(100))
	require.NoError(t, b.RecordValue(200))

	require.NoError(t, a.Add(b))
	assert.Equal(t, uint64(3), a.TotalCount())
	assert.Equal(t, uint64(200), a.MaxValue())
}

func TestAddDifferingGeometryResizesAndMerges(t *testing.T) {
	t.Parallel()

	a, err := New(1, 1000, 3)
	require.NoError(t, err)
	a.AutoResize = true
	require.NoError(t, a.RecordValue(10))

	b := newTestHistogram(t)
	require.NoError(t, b.RecordValue(10_000_000))

	require.NoError(t, a.Add(b))
	assert.Equal(t, uint64(2), a.TotalCount())
	assert.True(t, a.Settings().IsEquivalent(a.MaxValue(), 10_000_000))
}

func TestSubtractUnderflowLeavesHistogramUnchanged(t *testing.T) {
	t.Parallel()

	a := newTestHistogram(t)
	require.NoError(t, a.RecordValue(100))

	b := newTestHistogram(t)
	require.NoError(t, b.RecordValue(100))
	require.NoError(t, b.RecordValue(100))

	err := a.Subtract(b)
	assert.ErrorIs(t, err, errs.ErrCountExceededAtValue)
	assert.Equal(t, uint64(1), a.TotalCount(), "a failed Subtract must be all-or-nothing")
}

func TestSubtractRemovesCounts(t *testing.T) {
	t.Parallel()

	a := newTestHistogram(t)
	require.NoError(t, a.RecordValue(100))
	require.NoError(t, a.RecordValue(200))

	b := newTestHistogram(t)
	require.NoError(t, b.RecordValue(100))

	require.NoError(t, a.Subtract(b))
	assert.Equal(t, uint64(1), a.TotalCount())
	assert.True(t, a.Settings().IsEquivalent(a.MaxValue(), 200))
}

func TestShiftValuesRoundTrip(t *testing.T) {
	t.Parallel()

	h := newTestHistogram(t)
	require.NoError(t, h.RecordValue(1000))
	require.NoError(t, h.RecordValue(2000))

	require.NoError(t, h.ShiftValuesLeft(4))
	require.NoError(t, h.ShiftValuesRight(4))

	assert.True(t, h.Settings().IsEquivalent(h.GetValueAtPercentile(0), 1000))
	assert.True(t, h.Settings().IsEquivalent(h.GetValueAtPercentile(100), 2000))
}

func TestShiftValuesLeftOverflow(t *testing.T) {
	t.Parallel()

	h, err := New(1, 1_000_000, 3)
	require.NoError(t, err)
	require.NoError(t, h.RecordValue(999_999))

	err = h.ShiftValuesLeft(20)
	assert.ErrorIs(t, err, errs.ErrShiftOverflow)
}

func TestShiftValuesRightUnderflow(t *testing.T) {
	t.Parallel()

	h := newTestHistogram(t)
	require.NoError(t, h.RecordValue(1))

	err := h.ShiftValuesRight(4)
	assert.ErrorIs(t, err, errs.ErrShiftUnderflow)
}

func TestEqualsIsIndependentOfGeometry(t *testing.T) {
	t.Parallel()

	a := newTestHistogram(t)
	require.NoError(t, a.RecordValue(500))

	b, err := New(1, 1000, 3)
	require.NoError(t, err)
	require.NoError(t, b.RecordValue(500))

	assert.True(t, a.Equals(b))

	require.NoError(t, b.RecordValue(501))
	assert.False(t, a.Equals(b))
}

func TestResetClearsEverything(t *testing.T) {
	t.Parallel()

	h := newTestHistogram(t)
	require.NoError(t, h.RecordValue(100))
	h.Tag = "interval"
	h.Reset()

	assert.Zero(t, h.TotalCount())
	assert.Zero(t, h.MaxValue())
	assert.Zero(t, h.GetMinValue())
	assert.Empty(t, h.Tag)
}

func TestNewFromCountsRejectsLengthMismatch(t *testing.T) {
	t.Parallel()

	s := MustNewSettings(1, 1000, 3)
	_, err := NewFromCounts(s, make([]uint64, 1), 0)
	require.Error(t, err)

	var mismatch *errs.CountsArrayLengthMismatch
	assert.ErrorAs(t, err, &mismatch)
	assert.ErrorIs(t, err, errs.ErrCountsArrayLengthMismatch)
}

func TestMeanAndStdDeviation(t *testing.T) {
	t.Parallel()

	h := newTestHistogram(t)
	for _, v := range []uint64{10, 20, 30, 40, 50} {
		require.NoError(t, h.RecordValue(v))
	}

	assert.InDelta(t, 30, h.GetMean(), 1)
	assert.Greater(t, h.GetStdDeviation(), 0.0)
}
