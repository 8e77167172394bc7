package hdrhistogram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordedIteratorWalksPopulatedSlotsInOrder(t *testing.T) {
	t.Parallel()

	h := newTestHistogram(t)
	require.NoError(t, h.RecordValue(100))
	require.NoError(t, h.RecordValue(100))
	require.NoError(t, h.RecordValue(500_000))

	it := newRecordedIterator(h)

	require.True(t, it.next())
	assert.Equal(t, uint64(2), it.countAtIndex)
	assert.Equal(t, uint64(2), it.countToIndex)
	firstValue := it.valueFromIndex

	require.True(t, it.next())
	assert.Equal(t, uint64(1), it.countAtIndex)
	assert.Equal(t, uint64(3), it.countToIndex)
	assert.Greater(t, it.valueFromIndex, firstValue)

	assert.False(t, it.next())
}

func TestRecordedIteratorEmptyHistogramYieldsNothing(t *testing.T) {
	t.Parallel()

	h := newTestHistogram(t)
	it := newRecordedIterator(h)
	assert.False(t, it.next())
}
