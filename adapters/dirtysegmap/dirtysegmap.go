// Package dirtysegmap implements the DirtySegmap policy state described in
// spec.md §3/§4.1: a bitmap per dirty class, the victim-reserved bitmap a
// background round uses to hand a cheap section to a later foreground
// round, and the per-policy last_victim cursors used for round-robin
// fairness. Every method without a Locked suffix takes seglist_lock
// itself; the *Locked methods expect the caller to hold it already.
// Callers that also need sentry_lock (the victim selector) must take this
// lock first, never the other way around (spec.md §5 "Lock order").
package dirtysegmap

import (
	"sync"

	"github.com/RoaringBitmap/roaring"

	"github.com/watersir/f2fs-change/entities/reclaimstate"
	"github.com/watersir/f2fs-change/entities/segment"
)

// Map is the dirty-segment policy state for one mount.
type Map struct {
	mu sync.Mutex // seglist_lock

	classBitmaps [segment.NumDirtyClasses]*roaring.Bitmap
	nrDirty      [segment.NumDirtyClasses]int

	// victimSecmap records sections a BG round already selected, so a
	// later FG round can reuse the choice without rescanning.
	victimSecmap *roaring.Bitmap

	// lastVictim is last_victim[gc_mode], the round-robin scan cursor.
	lastVictim map[reclaimstate.GCMode]uint32

	mainSegs uint32
}

// New builds an empty DirtySegmap for a filesystem with mainSegs total
// segments.
func New(mainSegs uint32) *Map {
	m := &Map{
		victimSecmap: roaring.New(),
		lastVictim:   make(map[reclaimstate.GCMode]uint32),
		mainSegs:     mainSegs,
	}
	for i := range m.classBitmaps {
		m.classBitmaps[i] = roaring.New()
	}
	return m
}

// Lock/Unlock expose seglist_lock directly so the victim selector can hold
// it across its scan of the dirty bitmap (spec.md §4.1 "Concurrency").
func (m *Map) Lock()   { m.mu.Lock() }
func (m *Map) Unlock() { m.mu.Unlock() }

// MarkDirty adds segno to class's dirty bitmap. Safe to call without
// holding Lock(); it takes it internally.
func (m *Map) MarkDirty(class segment.DirtyClass, segno segment.No) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.classBitmaps[class].CheckedAdd(uint32(segno)) {
		m.nrDirty[class]++
	}
}

// ClearDirty removes segno from class's dirty bitmap, e.g. once a segment
// is fully reclaimed and becomes free.
func (m *Map) ClearDirty(class segment.DirtyClass, segno segment.No) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.classBitmaps[class].CheckedRemove(uint32(segno)) {
		m.nrDirty[class]--
	}
}

// NrDirty returns nr_dirty[class].
func (m *Map) NrDirty(class segment.DirtyClass) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nrDirty[class]
}

// BitmapLocked returns the live dirty bitmap for class. Callers MUST already
// hold Lock() (the victim selector scans it while holding seglist_lock for
// the whole pass); it is not a defensive copy.
func (m *Map) BitmapLocked(class segment.DirtyClass) *roaring.Bitmap {
	return m.classBitmaps[class]
}

// MainSegs returns the total segment count used to bound scans.
func (m *Map) MainSegs() uint32 { return m.mainSegs }

// ReserveVictim adds secno to the victim-reserved map. Called by a BG round
// in LFS mode once it picks a section (spec.md §4.1 "Output").
func (m *Map) ReserveVictim(secno segment.SecNo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.victimSecmap.Add(uint32(secno))
}

// ClearReserved removes secno from the victim-reserved map, e.g. once it
// becomes the current write cursor (spec.md §8 "Victim reservation
// monotonicity").
func (m *Map) ClearReserved(secno segment.SecNo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.victimSecmap.Remove(uint32(secno))
}

// IsReservedLocked reports whether secno is in the victim-reserved map. It
// does not take the lock itself: callers MUST already hold Lock(); the
// selector does.
func (m *Map) IsReservedLocked(secno segment.SecNo) bool {
	return m.victimSecmap.Contains(uint32(secno))
}

// TakeReservedVictimLocked implements check_bg_victims: it scans the
// victim-reserved map in increasing order and returns the first section
// isUsable accepts, clearing it from the map. Must be called with Lock()
// held (the FG fast path in victim.Select holds seglist_lock for its whole
// pass).
func (m *Map) TakeReservedVictimLocked(isUsable func(secno segment.SecNo) bool) (segment.SecNo, bool) {
	it := m.victimSecmap.Iterator()
	for it.HasNext() {
		secno := segment.SecNo(it.Next())
		if isUsable(secno) {
			m.victimSecmap.Remove(uint32(secno))
			return secno, true
		}
	}
	return 0, false
}

// LastVictim returns last_victim[mode].
func (m *Map) LastVictim(mode reclaimstate.GCMode) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastVictim[mode]
}

// SetLastVictim updates last_victim[mode], used both to store the scan
// cursor on search-cap exhaustion and to reset it to 0 when the scan wraps
// around (spec.md §4.1 "Scan loop").
func (m *Map) SetLastVictim(mode reclaimstate.GCMode, segno uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastVictim[mode] = segno
}
