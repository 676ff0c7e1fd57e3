package gc

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// IdleChecker reports whether the device is currently idle enough to run
// a reclaim burst (spec.md §4.5 step 4 "pending writeback pages, pending
// request-queue entries").
type IdleChecker interface {
	DeviceIdle() bool
}

// InvalidBlockChecker reports whether the filesystem currently holds
// "enough" invalid blocks to be worth reclaiming (spec.md §4.5 step 5).
type InvalidBlockChecker interface {
	EnoughInvalidBlocks() bool
}

// MetadataBalancer runs the reclaimer's periodic housekeeping
// (spec.md §4.5 step 7 "periodic metadata balancing").
type MetadataBalancer interface {
	BalanceMetadata(ctx context.Context)
}

// ReclaimerTunables are the background reclaimer's three sleep bounds, the
// step by which the wait moves between MinSleep and MaxSleep, and the
// ForceFGGC flag (spec.md §4.5 "three tunables"). The gc_idle override is
// victim.Tunables.GCIdle, not a field here.
type ReclaimerTunables struct {
	MinSleep   time.Duration
	MaxSleep   time.Duration
	NoGCSleep  time.Duration
	SleepStep  time.Duration
	ForceFGGC  bool
}

// Reclaimer is the dedicated background task described in spec.md §4.5. It
// owns a non-blocking acquire of the mount-global gc_mutex (here a
// weight-1 semaphore, so TryAcquire never blocks the caller, matching
// "the reclaimer must never hold gc_mutex during interruptible sleep").
type Reclaimer struct {
	log    logrus.FieldLogger
	driver *Driver
	cfg    ReclaimerTunables

	gcMutex *semaphore.Weighted

	frozen  FreezeChecker
	idle    IdleChecker
	invalid InvalidBlockChecker
	balance MetadataBalancer

	stop chan struct{}
	done chan struct{}
}

// FreezeChecker reports whether the filesystem is currently frozen for
// writes (spec.md §4.5 step 2).
type FreezeChecker interface {
	Frozen() bool
}

// NewReclaimer builds a Reclaimer. gcMutex is shared with anything else
// that may request a synchronous GC burst outside the background loop
// (spec.md §5 "a mount-global gc_mutex serializes the reclaimer and any
// other consumer that itself requests GC").
func NewReclaimer(
	log logrus.FieldLogger,
	driver *Driver,
	gcMutex *semaphore.Weighted,
	frozen FreezeChecker,
	idle IdleChecker,
	invalid InvalidBlockChecker,
	balance MetadataBalancer,
	cfg ReclaimerTunables,
) *Reclaimer {
	return &Reclaimer{
		log: log, driver: driver, cfg: cfg, gcMutex: gcMutex,
		frozen: frozen, idle: idle, invalid: invalid, balance: balance,
		stop: make(chan struct{}), done: make(chan struct{}),
	}
}

// Start runs the reclaimer loop until Stop is called, blocking the
// calling goroutine. Callers typically invoke it via `go reclaimer.Start(ctx)`.
func (r *Reclaimer) Start(ctx context.Context) {
	defer close(r.done)

	wait := r.cfg.MinSleep
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-time.After(wait):
		}

		if r.frozen.Frozen() {
			wait = r.clampSleep(wait + r.cfg.SleepStep)
			continue
		}

		if !r.gcMutex.TryAcquire(1) {
			// Held by another consumer; skip this tick rather than block.
			continue
		}

		if !r.idle.DeviceIdle() {
			wait = r.clampSleep(wait + r.cfg.SleepStep)
			r.gcMutex.Release(1)
			continue
		}

		if r.invalid.EnoughInvalidBlocks() {
			wait = r.clampSleep(wait - r.cfg.SleepStep)
		} else {
			wait = r.clampSleep(wait + r.cfg.SleepStep)
		}

		err := r.driver.Gc(ctx, r.cfg.ForceFGGC)
		r.gcMutex.Release(1)

		switch {
		case err == ErrNoProgress:
			wait = r.cfg.NoGCSleep
		case err != nil:
			r.log.WithError(err).Warn("background reclaim round failed")
		}

		r.balance.BalanceMetadata(ctx)
	}
}

// Stop requests the reclaimer terminate at its next iteration boundary
// (spec.md §4.5 "Cancellation": never mid-migration) and blocks until it
// has.
func (r *Reclaimer) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Reclaimer) clampSleep(d time.Duration) time.Duration {
	if d < r.cfg.MinSleep {
		return r.cfg.MinSleep
	}
	if d > r.cfg.MaxSleep {
		return r.cfg.MaxSleep
	}
	return d
}
