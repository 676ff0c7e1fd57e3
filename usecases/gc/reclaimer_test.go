package gc

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/semaphore"
)

func TestClampSleepBounds(t *testing.T) {
	r := &Reclaimer{cfg: ReclaimerTunables{MinSleep: 10 * time.Millisecond, MaxSleep: 100 * time.Millisecond}}

	if got := r.clampSleep(1 * time.Millisecond); got != r.cfg.MinSleep {
		t.Fatalf("clampSleep(below min) = %v, want %v", got, r.cfg.MinSleep)
	}
	if got := r.clampSleep(1 * time.Second); got != r.cfg.MaxSleep {
		t.Fatalf("clampSleep(above max) = %v, want %v", got, r.cfg.MaxSleep)
	}
	if got := r.clampSleep(50 * time.Millisecond); got != 50*time.Millisecond {
		t.Fatalf("clampSleep(in range) = %v, want unchanged", got)
	}
}

type fakeFrozen struct{ frozen bool }

func (f *fakeFrozen) Frozen() bool { return f.frozen }

type countingIdle struct {
	mu    sync.Mutex
	idle  bool
	calls int
}

func (c *countingIdle) DeviceIdle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.idle
}
func (c *countingIdle) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type countingInvalid struct {
	mu    sync.Mutex
	calls int
}

func (c *countingInvalid) EnoughInvalidBlocks() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return true
}
func (c *countingInvalid) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type countingBalance struct {
	mu    sync.Mutex
	calls int
}

func (c *countingBalance) BalanceMetadata(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
}
func (c *countingBalance) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newTestReclaimer(t *testing.T, gcMutex *semaphore.Weighted, frozen *fakeFrozen, idle *countingIdle, invalid *countingInvalid, balance *countingBalance) *Reclaimer {
	t.Helper()
	d, _, _, _ := newTestDriver(t, &fakeSummarySource{}, &fakeCheckpointer{}, &fakeMountState{}, nil)
	cfg := ReclaimerTunables{
		MinSleep:  time.Millisecond,
		MaxSleep:  4 * time.Millisecond,
		NoGCSleep: 2 * time.Millisecond,
		SleepStep: time.Millisecond,
	}
	return NewReclaimer(testLogger(), d, gcMutex, frozen, idle, invalid, balance, cfg)
}

// runBriefly starts the reclaimer, lets it tick a few times, then stops it
// and waits for a clean shutdown.
func runBriefly(r *Reclaimer) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go r.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	r.Stop()
}

func TestReclaimerRunsRoundWhenIdleAndNotFrozen(t *testing.T) {
	idle := &countingIdle{idle: true}
	invalid := &countingInvalid{}
	balance := &countingBalance{}
	r := newTestReclaimer(t, semaphore.NewWeighted(1), &fakeFrozen{}, idle, invalid, balance)

	runBriefly(r)

	if balance.Calls() == 0 {
		t.Fatal("expected at least one full round (balance.BalanceMetadata called) when idle and not frozen")
	}
}

func TestReclaimerSkipsRoundWhenFrozen(t *testing.T) {
	idle := &countingIdle{idle: true}
	invalid := &countingInvalid{}
	balance := &countingBalance{}
	r := newTestReclaimer(t, semaphore.NewWeighted(1), &fakeFrozen{frozen: true}, idle, invalid, balance)

	runBriefly(r)

	if balance.Calls() != 0 {
		t.Fatal("a frozen filesystem must never run a reclaim round")
	}
	if idle.Calls() != 0 {
		t.Fatal("a frozen filesystem must never even check device idleness")
	}
}

func TestReclaimerSkipsRoundWhenMutexHeld(t *testing.T) {
	mutex := semaphore.NewWeighted(1)
	if !mutex.TryAcquire(1) {
		t.Fatal("test setup: could not acquire the mutex")
	}

	idle := &countingIdle{idle: true}
	invalid := &countingInvalid{}
	balance := &countingBalance{}
	r := newTestReclaimer(t, mutex, &fakeFrozen{}, idle, invalid, balance)

	runBriefly(r)

	if idle.Calls() != 0 || balance.Calls() != 0 {
		t.Fatal("a reclaimer must never check idleness or run a round while gc_mutex is held elsewhere")
	}
}

func TestReclaimerSkipsRoundWhenDeviceNotIdle(t *testing.T) {
	idle := &countingIdle{idle: false}
	invalid := &countingInvalid{}
	balance := &countingBalance{}
	r := newTestReclaimer(t, semaphore.NewWeighted(1), &fakeFrozen{}, idle, invalid, balance)

	runBriefly(r)

	if invalid.Calls() != 0 || balance.Calls() != 0 {
		t.Fatal("a non-idle device must never reach the invalid-block check or run a round")
	}
}

func TestReclaimerStopReturnsPromptly(t *testing.T) {
	idle := &countingIdle{idle: true}
	invalid := &countingInvalid{}
	balance := &countingBalance{}
	r := newTestReclaimer(t, semaphore.NewWeighted(1), &fakeFrozen{}, idle, invalid, balance)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go r.Start(ctx)
	time.Sleep(10 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Stop() did not return promptly")
	}
}
