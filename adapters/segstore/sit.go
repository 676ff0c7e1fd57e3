// Package segstore is the SegmentInfo (SIT) accessor: per-segment
// valid-bitmap, mtime and valid-block-count queries, guarded by the
// sentry_lock described in spec.md §5. It is the closest analogue to the
// teacher's on-disk segment bookkeeping in segment_group.go, stripped down
// to the in-memory metadata table the reclaim engine actually needs — the
// physical segment bytes live behind the collaborator interfaces in
// usecases/gc, not here.
package segstore

import (
	"fmt"
	"sync"

	"github.com/watersir/f2fs-change/entities/segment"
)

// SIT is the segment-information table: the mount-global map from segment
// number to its metadata, plus the mtime range tracked for Cost-Benefit
// aging (spec.md §4.1).
type SIT struct {
	mu sync.Mutex // sentry_lock

	blocksPerSeg uint32
	segsPerSec   uint32

	segs map[segment.No]*segment.Segment

	minMtime uint64
	maxMtime uint64
}

// New builds an empty SIT for a filesystem with the given geometry.
func New(blocksPerSeg, segsPerSec uint32) *SIT {
	return &SIT{
		blocksPerSeg: blocksPerSeg,
		segsPerSec:   segsPerSec,
		segs:         make(map[segment.No]*segment.Segment),
	}
}

// BlocksPerSeg returns B, the fixed block count per segment.
func (s *SIT) BlocksPerSeg() uint32 { return s.blocksPerSeg }

// SegsPerSec returns the section size in segments.
func (s *SIT) SegsPerSec() uint32 { return s.segsPerSec }

// Install registers a segment's metadata, e.g. during mount or when the
// allocator opens a fresh segment. Not part of the original's vocabulary
// (f2fs populates the SIT from disk at mount time); exposed here since this
// package has no on-disk reader of its own.
func (s *SIT) Install(seg *segment.Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segs[seg.ID] = seg
	if seg.MTime < s.minMtime || s.minMtime == 0 {
		s.minMtime = seg.MTime
	}
	if seg.MTime > s.maxMtime {
		s.maxMtime = seg.MTime
	}
}

// GetSegEntry returns the segment's metadata (spec.md §6
// "get_seg_entry(segno)"). The returned pointer is owned by the SIT; callers
// must not mutate CurValidMap without going through Invalidate/Validate
// below, since those calls also need sentry_lock.
func (s *SIT) GetSegEntry(segno segment.No) (*segment.Segment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.segs[segno]
	return seg, ok
}

// GetValidBlocks sums live-block counts across span consecutive segments
// starting at segno (spec.md §6 "get_valid_blocks(segno, span)"). span==1
// is the single-segment query the FG migrator path uses to confirm a
// segment fully reclaimed.
func (s *SIT) GetValidBlocks(segno segment.No, span uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total uint32
	for i := uint32(0); i < span; i++ {
		if seg, ok := s.segs[segno+segment.No(i)]; ok {
			total += seg.LiveBlocks()
		}
	}
	return total
}

// CheckValidMap reports whether block offset k of segno is currently live.
// This is check_valid_map from the original, re-run by the migration path
// before and after any blocking I/O (spec.md §4.2, §5).
func (s *SIT) CheckValidMap(segno segment.No, k uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.segs[segno]
	if !ok {
		return false
	}
	return seg.IsValid(k)
}

// Invalidate clears block k of segno under sentry_lock, e.g. when a
// migrated block's destination write lands or a foreground write
// overwrites/deletes a still-pending victim block.
func (s *SIT) Invalidate(segno segment.No, k uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seg, ok := s.segs[segno]; ok {
		seg.Invalidate(k)
	}
}

// Validate sets block k of segno under sentry_lock.
func (s *SIT) Validate(segno segment.No, k uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seg, ok := s.segs[segno]; ok {
		seg.Validate(k)
	}
}

// cbCostSection computes the per-section Cost-Benefit inputs by averaging
// mtime and valid-block count across the section's segments, exactly as
// get_cb_cost in the original does (it does not evaluate a single segment
// in isolation). Must be called with mu held.
func (s *SIT) cbCostSectionLocked(secno segment.SecNo) (avgMtime uint64, avgVblocks uint32) {
	start := segment.SectionStart(secno, s.segsPerSec)
	var mtimeSum uint64
	var vblocksSum uint32
	for i := uint32(0); i < s.segsPerSec; i++ {
		seg, ok := s.segs[start+segment.No(i)]
		if !ok {
			continue
		}
		mtimeSum += seg.MTime
		vblocksSum += seg.LiveBlocks()
	}
	return mtimeSum / uint64(s.segsPerSec), vblocksSum / s.segsPerSec
}

// CBCost returns the Cost-Benefit cost of the section containing segno,
// updating the tracked min/max mtime range as a side effect (spec.md §4.1,
// §5: "get_cb_cost additionally mutates min_mtime/max_mtime and therefore
// requires the SIT lock"). Lower is better.
func (s *SIT) CBCost(segno segment.No) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	secno := segment.SecNoOf(segno, s.segsPerSec)
	mtime, vblocks := s.cbCostSectionLocked(secno)

	if mtime < s.minMtime {
		s.minMtime = mtime
	}
	if mtime > s.maxMtime {
		s.maxMtime = mtime
	}

	u := (vblocks * 100) >> log2(s.blocksPerSeg)

	var age uint64
	if s.maxMtime != s.minMtime {
		age = 100 - (100*(mtime-s.minMtime))/(s.maxMtime-s.minMtime)
	}

	const maxUint32 = ^uint32(0)
	return maxUint32 - uint32((100*(100-uint64(u))*age)/(100+uint64(u)))
}

// log2 returns floor(log2(n)) for a power-of-two blocksPerSeg, i.e. the
// f2fs log_blocks_per_seg value computed from B directly, so callers only
// ever need to configure B.
func log2(n uint32) uint32 {
	if n == 0 {
		panic(fmt.Sprintf("segstore: blocksPerSeg must be > 0, got %d", n))
	}
	var shift uint32
	for n > 1 {
		n >>= 1
		shift++
	}
	return shift
}
