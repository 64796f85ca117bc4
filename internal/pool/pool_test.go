package pool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDrainWaitsForAllJobs(t *testing.T) {
	const (
		producers   = 4
		perProducer = 250
	)
	p := New(8)
	defer p.Close()

	var done atomic.Int64
	var wg sync.WaitGroup
	wg.Add(producers)
	for i := 0; i < producers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				err := p.Submit(func(*Local) {
					done.Add(1)
				})
				if err != nil {
					t.Errorf("Submit: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	p.Drain()

	if got := done.Load(); got != producers*perProducer {
		t.Errorf("after Drain, %d jobs ran, want %d", got, producers*perProducer)
	}
}

func TestDrainIncludesQueuedJobs(t *testing.T) {
	// A single worker blocked on a slow job must not let Drain return
	// while later submissions are still queued.
	p := New(1)
	defer p.Close()

	var done atomic.Int64
	release := make(chan struct{})
	p.Submit(func(*Local) {
		<-release
		done.Add(1)
	})
	for i := 0; i < 20; i++ {
		p.Submit(func(*Local) { done.Add(1) })
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	p.Drain()
	if got := done.Load(); got != 21 {
		t.Errorf("after Drain, %d jobs ran, want 21", got)
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	p := New(2)
	p.Shutdown()

	if err := p.Submit(func(*Local) {}); err != ErrShutdown {
		t.Errorf("Submit after Shutdown = %v, want ErrShutdown", err)
	}
	// Drain must return immediately: the rejected submission did not
	// touch the in-flight count.
	doneCh := make(chan struct{})
	go func() {
		p.Drain()
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("Drain hung after rejected submission")
	}
}

func TestShutdownIdempotent(t *testing.T) {
	p := New(3)
	var ran atomic.Int64
	for i := 0; i < 10; i++ {
		p.Submit(func(*Local) { ran.Add(1) })
	}
	p.Shutdown()
	p.Shutdown() // must be observably identical to a single call
	if got := ran.Load(); got != 10 {
		t.Errorf("%d jobs ran, want 10", got)
	}
}

func TestShutdownRunsQueuedJobs(t *testing.T) {
	// Jobs already queued when Shutdown is requested still run; only
	// new submissions are rejected.
	p := New(1)
	var ran atomic.Int64
	release := make(chan struct{})
	p.Submit(func(*Local) { <-release })
	for i := 0; i < 50; i++ {
		p.Submit(func(*Local) { ran.Add(1) })
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()
	p.Shutdown()
	if got := ran.Load(); got != 50 {
		t.Errorf("%d queued jobs ran across shutdown, want 50", got)
	}
}

func TestWorkerCountClamped(t *testing.T) {
	p := New(0)
	defer p.Close()
	if p.Workers() != 1 {
		t.Errorf("Workers = %d, want 1", p.Workers())
	}
	var ran atomic.Bool
	p.Submit(func(*Local) { ran.Store(true) })
	p.Drain()
	if !ran.Load() {
		t.Error("job did not run on clamped pool")
	}
}

func TestLocalCleanupRunsAtExit(t *testing.T) {
	p := New(2)
	var cleanups atomic.Int64
	var stored atomic.Int64
	for i := 0; i < 16; i++ {
		p.Submit(func(tl *Local) {
			if tl.Value() == nil {
				stored.Add(1)
				tl.Store(struct{}{}, func() { cleanups.Add(1) })
			}
		})
	}
	p.Shutdown()
	if stored.Load() != cleanups.Load() {
		t.Errorf("%d slots stored but %d cleanups ran", stored.Load(), cleanups.Load())
	}
	if stored.Load() == 0 {
		t.Error("no worker stored a local value")
	}
}
