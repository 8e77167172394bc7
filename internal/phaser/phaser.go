// Package phaser implements the writer/reader phaser (C4): a two-phase
// epoch coordination primitive that lets many writers proceed without
// locking while a single reader waits for a quiescence point. It underlies
// every concurrent histogram and recorder in the sibling concurrent
// package, but is itself an implementation detail — consumers never
// construct or observe epochs directly.
package phaser

import (
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Phaser coordinates writers (which never block on it beyond a single
// atomic RMW) against a reader that needs to observe a point at which every
// writer critical section that began before the observation has finished.
type Phaser struct {
	startEpoch   atomic.Int64
	evenEndEpoch atomic.Int64
	oddEndEpoch  atomic.Int64

	mu sync.Mutex

	// YieldTime, if non-zero, is slept between spin iterations while
	// Flip waits for writers to drain; zero busy-yields via
	// runtime.Gosched. Left at its zero value by New; callers recording
	// at very high rates with long-tailed critical sections may want to
	// set a small sleep to cut CPU burn during Flip.
	YieldTime time.Duration
}

// New returns a Phaser in its initial (even) phase.
func New() *Phaser {
	p := &Phaser{}
	p.oddEndEpoch.Store(math.MinInt64)
	return p
}

// WriterToken is returned by BeginWriter; the writer critical section ends
// when End is called. A WriterToken must not be reused or shared across
// goroutines.
type WriterToken struct {
	target *atomic.Int64
}

// BeginWriter enters a writer critical section. The returned token's End
// method must be called exactly once, typically via defer, before the
// writer's record completes.
func (p *Phaser) BeginWriter() WriterToken {
	// fetch_add semantics: capture the epoch value as it was before this
	// writer's increment took effect.
	e := p.startEpoch.Add(1) - 1
	if e < 0 {
		return WriterToken{target: &p.oddEndEpoch}
	}
	return WriterToken{target: &p.evenEndEpoch}
}

// End releases the writer critical section.
func (t WriterToken) End() {
	t.target.Add(1)
}

// Flip observes a quiescence point: when it returns, every writer critical
// section that began before the call has completed. Flip is idempotent and
// may be called repeatedly; concurrent calls serialize on the reader lock.
func (p *Phaser) Flip() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flipLocked()
}

// ReaderLock acquires the reader mutex without performing a flip, for
// callers that must hold it across more than one Flip (concurrent.Resizable's
// two-flip resize and shift protocols).
func (p *Phaser) ReaderLock() { p.mu.Lock() }

// ReaderUnlock releases a lock taken with ReaderLock.
func (p *Phaser) ReaderUnlock() { p.mu.Unlock() }

// FlipLocked is Flip for a caller that already holds the reader lock via
// ReaderLock.
func (p *Phaser) FlipLocked() { p.flipLocked() }

func (p *Phaser) flipLocked() {
	nextPhaseIsEven := p.startEpoch.Load() < 0

	var initialStartValue int64
	if !nextPhaseIsEven {
		initialStartValue = math.MinInt64
	}

	// Reset the new phase's end-epoch before publishing the swap, so no
	// writer entering the new phase can observe a stale end-epoch value.
	if nextPhaseIsEven {
		p.evenEndEpoch.Store(initialStartValue)
	} else {
		p.oddEndEpoch.Store(initialStartValue)
	}

	startValueAtFlip := p.startEpoch.Swap(initialStartValue)

	for {
		var caughtUp bool
		if nextPhaseIsEven {
			caughtUp = p.oddEndEpoch.Load() == startValueAtFlip
		} else {
			caughtUp = p.evenEndEpoch.Load() == startValueAtFlip
		}
		if caughtUp {
			return
		}
		if p.YieldTime == 0 {
			runtime.Gosched()
		} else {
			time.Sleep(p.YieldTime)
		}
	}
}
