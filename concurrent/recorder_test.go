package concurrent

import (
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hdrhistogram "github.com/mstoykov/hdrhistogram"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	s := hdrhistogram.MustNewSettings(1, 3600000000, 3)
	return NewRecorder(func() Sampleable { return NewFixed(s) }, nil)
}

func TestRecorderRecordValueAndSample(t *testing.T) {
	t.Parallel()

	r := newTestRecorder(t)
	require.NoError(t, r.RecordValue(100))
	require.NoError(t, r.RecordValue(200))

	snap := r.Sample()
	assert.Equal(t, uint64(2), snap.TotalCount())
	assert.True(t, snap.Settings().IsEquivalent(snap.MaxValue(), 200))

	// The instance active after Sample starts empty.
	snap2 := r.Sample()
	assert.Zero(t, snap2.TotalCount())
}

func TestRecorderSampleLogsWhenLoggerSet(t *testing.T) {
	t.Parallel()

	logger, hook := test.NewNullLogger()
	s := hdrhistogram.MustNewSettings(1, 3600000000, 3)
	r := NewRecorder(func() Sampleable { return NewFixed(s) }, logger)

	require.NoError(t, r.RecordValue(5))
	r.Sample()

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, uint64(1), hook.Entries[0].Data["total_count"])
}

func TestRecorderSnapshotToHistogram(t *testing.T) {
	t.Parallel()

	r := newTestRecorder(t)
	require.NoError(t, r.RecordValue(10))
	require.NoError(t, r.RecordValue(20))

	h, err := r.Sample().ToHistogram()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), h.TotalCount())
	assert.True(t, h.Settings().IsEquivalent(h.GetValueAtPercentile(100), 20))
}

// TestRecorderResampleReusesAllocation pins down that a retired Snapshot's
// Resample call hands its Sampleable back to the Recorder's pool, and that
// a later Sample draws it back out instead of allocating a fresh one.
func TestRecorderResampleReusesAllocation(t *testing.T) {
	t.Parallel()

	r := newTestRecorder(t)
	require.NoError(t, r.RecordValue(10))

	snap1 := r.Sample()
	released := snap1.source
	snap1.Resample()

	require.NoError(t, r.RecordValue(20))
	snap2 := r.Sample()

	assert.Same(t, released, snap2.source)

	// The reused instance was cleared by Resample, not carried forward:
	// snap2 (the interval that follows the one recording 10) only ever
	// saw the 20.
	assert.Equal(t, uint64(1), snap2.TotalCount())
	assert.True(t, snap2.Settings().IsEquivalent(snap2.MaxValue(), 20))
}

// TestRecorderResampleWithoutOwnerIsNoOp covers a Snapshot never produced
// by a Recorder.Sample call (e.g. constructed directly for a one-off
// ToHistogram conversion): Resample must not panic and must leave the
// Snapshot's own fields untouched.
func TestRecorderResampleWithoutOwnerIsNoOp(t *testing.T) {
	t.Parallel()

	s := hdrhistogram.MustNewSettings(1, 3600000000, 3)
	fixed := NewFixed(s)
	snap := newSnapshot(fixed, nil)

	snap.Resample()

	assert.Same(t, fixed, snap.source)
}

// TestRecorderConcurrentWritersAcrossSamplesConservesTotalCount runs writer
// goroutines continuously while another goroutine periodically calls
// Sample; the sum of every snapshot's TotalCount plus whatever remains in
// the final live instance must equal the number of successful writes.
func TestRecorderConcurrentWritersAcrossSamplesConservesTotalCount(t *testing.T) {
	t.Parallel()

	r := newTestRecorder(t)
	const writers = 8
	const perWriter = 2000

	var wg sync.WaitGroup
	var written uint64
	var mu sync.Mutex

	wg.Add(writers)
	for g := 0; g < writers; g++ {
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if err := r.RecordValue(uint64(1 + (g+i)%1000)); err == nil {
					mu.Lock()
					written++
					mu.Unlock()
				}
			}
		}(g)
	}

	var sampled uint64
	var sampleWg sync.WaitGroup
	sampleWg.Add(1)
	stop := make(chan struct{})
	go func() {
		defer sampleWg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				sampled += r.Sample().TotalCount()
			}
		}
	}()

	wg.Wait()
	close(stop)
	sampleWg.Wait()

	final := r.Sample()
	sampled += final.TotalCount()

	assert.Equal(t, written, sampled)
}
