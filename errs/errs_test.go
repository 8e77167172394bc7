package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithHintAttachesAndUnwraps(t *testing.T) {
	t.Parallel()

	err := WithHint(ErrValueOutOfRange, "call Settings.WithHighestTrackableValue and retry")
	assert.ErrorIs(t, err, ErrValueOutOfRange)

	hint, ok := Hint(err)
	require := assert.New(t)
	require.True(ok)
	require.Equal("call Settings.WithHighestTrackableValue and retry", hint)
}

func TestWithHintOnNilReturnsNil(t *testing.T) {
	t.Parallel()

	assert.NoError(t, WithHint(nil, "unreachable"))
}

func TestHintAbsentOnPlainError(t *testing.T) {
	t.Parallel()

	_, ok := Hint(ErrValueOutOfRange)
	assert.False(t, ok)
}

func TestCountsArrayLengthMismatchErrorAndUnwrap(t *testing.T) {
	t.Parallel()

	err := &CountsArrayLengthMismatch{Expected: 10, Actual: 4}
	assert.Contains(t, err.Error(), "expected 10, got 4")
	assert.ErrorIs(t, err, ErrCountsArrayLengthMismatch)

	var mismatch *CountsArrayLengthMismatch
	assert.True(t, errors.As(error(err), &mismatch))
	assert.Equal(t, int32(10), mismatch.Expected)
}

func TestSentinelsAreDistinct(t *testing.T) {
	t.Parallel()

	assert.NotErrorIs(t, ErrLowIsZero, ErrHighLt2Low)
	assert.NotErrorIs(t, ErrShiftUnderflow, ErrShiftOverflow)
}
