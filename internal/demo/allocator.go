package demo

import (
	"context"
	"sync"

	"github.com/watersir/f2fs-change/adapters/migrate"
	"github.com/watersir/f2fs-change/adapters/segstore"
	"github.com/watersir/f2fs-change/entities/segment"
)

// Allocator hands out strictly increasing cold-data addresses from a
// separate address space above the section range the demo's SIT tracks,
// and records the merged-write submission count for assertions.
type Allocator struct {
	mu     sync.Mutex
	sit    *segstore.SIT
	next   segment.BlockAddr
	merged int
}

// NewAllocator builds an allocator that starts handing out addresses at
// start (callers should pick a start well past any address already in
// use by sit, since this fake never reclaims the address space itself).
func NewAllocator(sit *segstore.SIT, start segment.BlockAddr) *Allocator {
	return &Allocator{sit: sit, next: start}
}

func (a *Allocator) AllocateDataBlock(ctx context.Context, page migrate.DataPage, srcAddr segment.BlockAddr, summary segment.SummaryEntry) (segment.BlockAddr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	addr := a.next
	a.next++
	return addr, nil
}

// UpdateNodePointer is a no-op beyond what the migrators already do to the
// Inode/Node fakes directly; a richer backend would rewrite the owning
// dnode's slot here.
func (a *Allocator) UpdateNodePointer(ctx context.Context, inode migrate.Inode, nofs uint32, ofsInNode uint16, newAddr segment.BlockAddr, firstBlock bool) error {
	return nil
}

func (a *Allocator) SubmitMergedWrite(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.merged++
	return nil
}

// MergedWrites reports how many times SubmitMergedWrite has been called.
func (a *Allocator) MergedWrites() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.merged
}

// FreeSecsGauge is a simple threshold-based FreeSecsChecker.
type FreeSecsGauge struct {
	mu        sync.Mutex
	freeSecs  int
	threshold int
}

// NewFreeSecsGauge builds a gauge starting at freeSecs free sections,
// escalating to FG whenever fewer than threshold remain.
func NewFreeSecsGauge(freeSecs, threshold int) *FreeSecsGauge {
	return &FreeSecsGauge{freeSecs: freeSecs, threshold: threshold}
}

func (g *FreeSecsGauge) HasNotEnoughFreeSecs(extra int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.freeSecs+extra < g.threshold
}

// SetFreeSecs updates the tracked free-section count, e.g. as test setup
// simulates sections being reclaimed or consumed by writers.
func (g *FreeSecsGauge) SetFreeSecs(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.freeSecs = n
}
