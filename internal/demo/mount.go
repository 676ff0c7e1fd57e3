package demo

import (
	"context"
	"sync"

	"github.com/watersir/f2fs-change/entities/segment"
	gc "github.com/watersir/f2fs-change/usecases/gc"
)

// summaryHandle implements gc.SummaryHandle over a store-wide lock: the
// demo backend models "the summary page is locked" as holding the whole
// SummaryStore's mutex, released by Unlock.
type summaryHandle struct {
	block   segment.SummaryBlock
	release func()
}

func (h *summaryHandle) Block() segment.SummaryBlock { return h.block }
func (h *summaryHandle) Unlock()                     { h.release() }

// SummaryStore is the segno-keyed summary-block table backing
// gc.SummarySource.
type SummaryStore struct {
	mu     sync.Mutex
	blocks map[segment.No]segment.SummaryBlock
}

// NewSummaryStore builds an empty summary table.
func NewSummaryStore() *SummaryStore {
	return &SummaryStore{blocks: make(map[segment.No]segment.SummaryBlock)}
}

// Install registers segno's summary block, e.g. during test/demo setup.
func (s *SummaryStore) Install(segno segment.No, block segment.SummaryBlock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[segno] = block
}

func (s *SummaryStore) LockSummaryPage(ctx context.Context, segno segment.No) (gc.SummaryHandle, error) {
	s.mu.Lock()
	block, ok := s.blocks[segno]
	if !ok {
		s.mu.Unlock()
		return nil, errNotFound("summary block", uint64(segno))
	}
	return &summaryHandle{block: block, release: s.mu.Unlock}, nil
}

// Checkpoint is a fake checkpoint issuer: it counts forced checkpoints and
// can be made to simulate a latched checkpoint error.
type Checkpoint struct {
	mu      sync.Mutex
	errored bool
	forced  int
}

// NewCheckpoint builds a Checkpoint with no latched error.
func NewCheckpoint() *Checkpoint { return &Checkpoint{} }

func (c *Checkpoint) ForceCheckpoint(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forced++
	return nil
}

func (c *Checkpoint) CheckpointErrored() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errored
}

// SetErrored latches (or clears) the simulated checkpoint error.
func (c *Checkpoint) SetErrored(errored bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errored = errored
}

// Forced reports how many times ForceCheckpoint has been called.
func (c *Checkpoint) Forced() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forced
}

// Mount is a fake mount-lifecycle flag backing gc.MountState.
type Mount struct {
	mu         sync.Mutex
	unmounting bool
}

// NewMount builds a Mount that is not unmounting.
func NewMount() *Mount { return &Mount{} }

func (m *Mount) Unmounting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unmounting
}

// SetUnmounting flips the unmounting flag, e.g. to exercise the driver's
// ErrUnavailable path.
func (m *Mount) SetUnmounting(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unmounting = v
}
