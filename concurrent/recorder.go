package concurrent

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/mstoykov/hdrhistogram/internal/phaser"
)

// Recorder is C6: it turns a stream of concurrent RecordValue calls into a
// series of non-blocking interval samples. Internally it holds one
// Sampleable (Fixed or Resizable) as the live target and swaps in a fresh
// one each time Sample is called, using the phaser to wait out any writer
// that grabbed the outgoing instance moments before the swap. Unlike
// Resizable's own double-flip handoff, a single flip suffices here: the
// outgoing instance is handed to the caller whole, never merged back into
// anything.
//
// A retired Snapshot's allocation does not have to be thrown away: calling
// its Resample method clears it and returns it to a free list that Sample
// checks before allocating a new instance, so a caller sampling at a steady
// rate settles into reusing a small, fixed number of Sampleables instead of
// allocating one per interval forever.
type Recorder struct {
	active atomic.Pointer[Sampleable]

	ph          *phaser.Phaser
	newInstance func() Sampleable

	poolMu sync.Mutex
	pool   []Sampleable

	// Logger, if set, receives a debug-level line on every Sample call
	// reporting the interval's total count. Recording itself never logs:
	// on a hot path that would be far too noisy.
	Logger logrus.FieldLogger
}

// NewRecorder constructs a Recorder whose interval instances are produced
// by newInstance (typically a closure over concurrent.NewFixed or
// concurrent.NewResizable with a fixed geometry). logger may be nil.
func NewRecorder(newInstance func() Sampleable, logger logrus.FieldLogger) *Recorder {
	r := &Recorder{
		ph:          phaser.New(),
		newInstance: newInstance,
		Logger:      logger,
	}
	first := newInstance()
	first.StartNow()
	r.active.Store(&first)
	return r
}

// RecordValue records a single occurrence of v against whichever instance
// is currently active.
func (r *Recorder) RecordValue(v uint64) error {
	token := r.ph.BeginWriter()
	defer token.End()
	return (*r.active.Load()).RecordValue(v)
}

// RecordValues records count occurrences of v.
func (r *Recorder) RecordValues(v, count uint64) error {
	token := r.ph.BeginWriter()
	defer token.End()
	return (*r.active.Load()).RecordValues(v, count)
}

// RecordValueWithExpectedInterval records v with coordinated-omission
// back-fill against whichever instance is currently active. The whole
// back-fill runs inside one writer critical section, so a concurrent Sample
// hands off either all of its samples or none of them.
func (r *Recorder) RecordValueWithExpectedInterval(v, expectedInterval uint64) error {
	token := r.ph.BeginWriter()
	defer token.End()
	return (*r.active.Load()).RecordValueWithExpectedInterval(v, expectedInterval)
}

// Sample retires the current interval: it installs a fresh instance (drawn
// from the reuse pool when one is available, otherwise freshly allocated
// via newInstance) as the new recording target, waits (via a single phaser
// flip) for every writer that had already grabbed the outgoing instance to
// finish, and returns a Snapshot over the now-quiesced outgoing instance.
func (r *Recorder) Sample() *Snapshot {
	next := r.acquireInstance()
	next.StartNow()

	outgoing := r.active.Swap(&next)
	r.ph.Flip()

	out := *outgoing
	out.EndNow()

	if r.Logger != nil {
		r.Logger.WithField("total_count", out.TotalCount()).Debug("hdrhistogram: sampled interval")
	}

	return newSnapshot(out, r)
}

// acquireInstance pops a reusable Sampleable off the pool, falling back to
// newInstance when the pool is empty.
func (r *Recorder) acquireInstance() Sampleable {
	r.poolMu.Lock()
	n := len(r.pool)
	if n == 0 {
		r.poolMu.Unlock()
		return r.newInstance()
	}
	inst := r.pool[n-1]
	r.pool = r.pool[:n-1]
	r.poolMu.Unlock()
	return inst
}

// release returns a retired Sampleable to the pool, for a future Sample
// call to hand back out via acquireInstance. Called only by a Snapshot's
// Resample method, after it has cleared the instance's counters.
func (r *Recorder) release(inst Sampleable) {
	r.poolMu.Lock()
	r.pool = append(r.pool, inst)
	r.poolMu.Unlock()
}
