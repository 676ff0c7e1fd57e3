// Package victim implements the victim selector (spec.md §4.1): given an
// allocation mode, a GC type and (for SSR) a class, it scans the dirty set
// under policy-derived cost functions and returns one candidate segment, or
// segment.NullNo if none qualifies.
package victim

import (
	"github.com/watersir/f2fs-change/adapters/dirtysegmap"
	"github.com/watersir/f2fs-change/adapters/segstore"
	"github.com/watersir/f2fs-change/entities/reclaimstate"
	"github.com/watersir/f2fs-change/entities/segment"
)

// ActiveSectionChecker reports whether a section currently has an active
// write cursor pointing into it, making it ineligible as a victim
// (spec.md §3 "A section is a victim candidate only when no currently
// active write cursor points into it").
type ActiveSectionChecker interface {
	IsActiveCursorSection(secno segment.SecNo) bool
}

// Tunables configures the selector (spec.md §6 "Tunables").
type Tunables struct {
	// GCIdle overrides the gc_mode derived from gc_type: 0 leaves the
	// derivation alone, 1 forces Cost-Benefit, 2 forces Greedy.
	GCIdle reclaimstate.IdleMode
	// MaxVictimSearch caps the number of candidates examined per call,
	// regardless of how large nr_dirty[class] is.
	MaxVictimSearch int
}

// Request is the (alloc_mode, gc_type, class) input to Select
// (spec.md §4.1 "Inputs").
type Request struct {
	AllocMode reclaimstate.AllocMode
	GCType    reclaimstate.GCType
	// Class is only consulted when AllocMode == SSR; LFS always scans
	// segment.DirtyGeneric.
	Class segment.DirtyClass
}

// Selector runs victim selection over a DirtySegmap and SIT pair, and owns
// the LFS/FG "current victim section" slot (f2fs's sbi->cur_victim_sec).
type Selector struct {
	dirty  *dirtysegmap.Map
	sit    *segstore.SIT
	active ActiveSectionChecker
	cfg    Tunables

	curVictimSec    segment.SecNo
	hasCurVictimSec bool
}

// New builds a Selector over the given dirty-segment map and SIT.
func New(dirty *dirtysegmap.Map, sit *segstore.SIT, active ActiveSectionChecker, cfg Tunables) *Selector {
	return &Selector{dirty: dirty, sit: sit, active: active, cfg: cfg}
}

// CurVictimSec returns the section an LFS/FG selection most recently
// committed to, if any.
func (s *Selector) CurVictimSec() (segment.SecNo, bool) {
	return s.curVictimSec, s.hasCurVictimSec
}

// ClearCurVictimSec releases the FG cursor, called once f2fs_gc finishes
// processing a section (spec.md §4.4 "f2fs_gc").
func (s *Selector) ClearCurVictimSec() {
	s.hasCurVictimSec = false
}

// policy is the resolved (gc_mode, dirty class, scan unit, max_search,
// offset) tuple computed by selectPolicy, mirroring struct
// victim_sel_policy in the original.
type policy struct {
	allocMode reclaimstate.AllocMode
	gcType    reclaimstate.GCType
	gcMode    reclaimstate.GCMode
	class     segment.DirtyClass
	unit      uint32
	maxSearch int
	offset    uint32
}

func (s *Selector) selectGCMode(gcType reclaimstate.GCType) reclaimstate.GCMode {
	mode := reclaimstate.Greedy
	if gcType == reclaimstate.BG {
		mode = reclaimstate.CostBenefit
	}
	switch s.cfg.GCIdle {
	case reclaimstate.IdleCostBenefit:
		mode = reclaimstate.CostBenefit
	case reclaimstate.IdleGreedy:
		mode = reclaimstate.Greedy
	}
	return mode
}

func (s *Selector) selectPolicy(req Request) policy {
	var p policy
	p.allocMode = req.AllocMode
	p.gcType = req.GCType

	if req.AllocMode == reclaimstate.SSR {
		p.gcMode = reclaimstate.Greedy
		p.class = req.Class
		p.unit = 1
		p.maxSearch = s.dirty.NrDirty(req.Class)
	} else {
		p.gcMode = s.selectGCMode(req.GCType)
		p.class = segment.DirtyGeneric
		p.unit = s.sit.SegsPerSec()
		p.maxSearch = s.dirty.NrDirty(segment.DirtyGeneric)
	}

	if p.maxSearch > s.cfg.MaxVictimSearch {
		p.maxSearch = s.cfg.MaxVictimSearch
	}
	p.offset = s.dirty.LastVictim(p.gcMode)
	return p
}

func (s *Selector) maxCost(p policy) uint32 {
	switch {
	case p.allocMode == reclaimstate.SSR:
		return s.sit.BlocksPerSeg()
	case p.gcMode == reclaimstate.Greedy:
		return s.sit.BlocksPerSeg() * p.unit
	default: // CostBenefit
		return ^uint32(0)
	}
}

func (s *Selector) cost(segno segment.No, p policy) uint32 {
	if p.allocMode == reclaimstate.SSR {
		seg, ok := s.sit.GetSegEntry(segno)
		if !ok {
			return ^uint32(0)
		}
		return seg.CkptValidBlocks
	}
	if p.gcMode == reclaimstate.Greedy {
		return s.sit.GetValidBlocks(segno, p.unit)
	}
	return s.sit.CBCost(segno)
}

// Select runs one victim-selection pass. It returns the first segment of
// the chosen section, or (NullNo, false) if no candidate qualifies
// (spec.md §4.1 "Output").
func (s *Selector) Select(req Request) (segment.No, bool) {
	// selectPolicy, and the last_victim and victim-reserved writes deferred
	// below, go through the map's own locking accessors, so they run
	// outside the seglist_lock held for the scan.
	p := s.selectPolicy(req)
	lastVictim, setLastVictim := uint32(0), false
	var reserve *segment.SecNo
	defer func() {
		if setLastVictim {
			s.dirty.SetLastVictim(p.gcMode, lastVictim)
		}
		if reserve != nil {
			s.dirty.ReserveVictim(*reserve)
		}
	}()
	s.dirty.Lock()
	defer s.dirty.Unlock()

	maxCost := s.maxCost(p)
	minCost := maxCost
	minSegno := segment.NullNo

	if p.maxSearch == 0 {
		return segment.NullNo, false
	}

	// Fast path: LFS/FG first consults the victim-reserved map.
	if p.allocMode == reclaimstate.LFS && p.gcType == reclaimstate.FG {
		if secno, ok := s.dirty.TakeReservedVictimLocked(func(secno segment.SecNo) bool {
			return !s.sectionUnusable(secno)
		}); ok {
			result := segment.SectionStart(secno, s.sit.SegsPerSec())
			s.curVictimSec = secno
			s.hasCurVictimSec = true
			return result, true
		}
	}

	bitmap := s.dirty.BitmapLocked(p.class)
	lastSegment := s.dirty.MainSegs()
	nsearched := 0

	offset := p.offset
	startOffset := p.offset
	wrapped := false

	it := bitmap.Iterator()
	it.AdvanceIfNeeded(offset)

	for {
		// find_next_bit(dirty_segmap, lastSegment, offset): the next set
		// bit at or after offset, bounded above by lastSegment.
		if !it.HasNext() || uint32(it.PeekNext()) >= lastSegment {
			if !wrapped && offset != 0 {
				// Wrap once: having scanned [offset, lastSegment), restart
				// over [0, startOffset) and never wrap again. The bound is
				// the last-victim register snapshotted at entry, not
				// wherever the forward scan's cursor ended up.
				wrapped = true
				lastSegment = startOffset
				offset = 0
				it = bitmap.Iterator()
				lastVictim, setLastVictim = 0, true
				continue
			}
			break
		}

		segno := segment.No(it.Next())

		// Advance the cursor past this whole section so later bits of the
		// same section are never considered separate candidates.
		offset = uint32(segno) + p.unit
		if p.unit > 1 {
			offset -= uint32(segno) % p.unit
		}
		it.AdvanceIfNeeded(offset)

		secno := segment.SecNoOf(segno, s.sit.SegsPerSec())
		if s.sectionUnusable(secno) {
			continue
		}
		if p.gcType == reclaimstate.BG && s.dirty.IsReservedLocked(secno) {
			continue
		}

		c := s.cost(segno, p)
		if minCost > c {
			minSegno = segno
			minCost = c
		} else if c == maxCost {
			continue
		}

		nsearched++
		if nsearched >= p.maxSearch {
			lastVictim, setLastVictim = uint32(segno), true
			break
		}
	}

	if minSegno == segment.NullNo {
		return segment.NullNo, false
	}

	secno := segment.SecNoOf(minSegno, s.sit.SegsPerSec())
	if p.allocMode == reclaimstate.LFS {
		if p.gcType == reclaimstate.FG {
			s.curVictimSec = secno
			s.hasCurVictimSec = true
		} else {
			reserve = &secno
		}
	}

	result := (minSegno / segment.No(p.unit)) * segment.No(p.unit)
	return result, true
}

func (s *Selector) sectionUnusable(secno segment.SecNo) bool {
	if s.active != nil && s.active.IsActiveCursorSection(secno) {
		return true
	}
	if s.hasCurVictimSec && secno == s.curVictimSec {
		return true
	}
	return false
}
