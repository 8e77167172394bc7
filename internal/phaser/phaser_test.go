package phaser

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestFlipWithNoWritersReturnsImmediately(t *testing.T) {
	t.Parallel()

	p := New()
	done := make(chan struct{})
	go func() {
		p.Flip()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Flip with no writers never returned")
	}
}

func TestFlipWaitsForOpenWriter(t *testing.T) {
	t.Parallel()

	p := New()
	tok := p.BeginWriter()

	var flipped atomic.Bool
	flipDone := make(chan struct{})
	go func() {
		p.Flip()
		flipped.Store(true)
		close(flipDone)
	}()

	// Give Flip a chance to start spinning; it must not return yet.
	time.Sleep(20 * time.Millisecond)
	assert.False(t, flipped.Load(), "Flip returned before the open writer called End")

	tok.End()
	select {
	case <-flipDone:
	case <-time.After(time.Second):
		t.Fatal("Flip never observed the writer's End")
	}
	assert.True(t, flipped.Load())
}

func TestFlipIsRepeatable(t *testing.T) {
	t.Parallel()

	p := New()
	for i := 0; i < 5; i++ {
		tok := p.BeginWriter()
		tok.End()
		p.Flip()
	}
}

func TestReaderLockFlipLockedSupportsTwoFlipsWithoutDeadlock(t *testing.T) {
	t.Parallel()

	p := New()
	p.ReaderLock()
	defer p.ReaderUnlock()

	tok := p.BeginWriter()
	tok.End()
	p.FlipLocked()

	tok2 := p.BeginWriter()
	tok2.End()
	p.FlipLocked()
}

// TestConcurrentWritersNeverObservedMidFlip exercises many writer goroutines
// racing a single flipping reader; every writer's critical section must be
// accounted for by one side of the flip or the other, never lost.
func TestConcurrentWritersNeverObservedMidFlip(t *testing.T) {
	t.Parallel()

	p := New()
	p.YieldTime = time.Microsecond

	const writers = 32
	const rounds = 200

	var started, finished atomic.Int64
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				tok := p.BeginWriter()
				started.Add(1)
				runtime.Gosched()
				finished.Add(1)
				tok.End()
			}
		}()
	}

	for i := 0; i < rounds; i++ {
		// A writer counted in before was already inside its critical
		// section when Flip began, so Flip must not return before it is
		// counted out.
		before := started.Load()
		p.Flip()
		assert.GreaterOrEqual(t, finished.Load(), before)
	}
	close(stop)
	wg.Wait()

	require.Equal(t, started.Load(), finished.Load())
}
