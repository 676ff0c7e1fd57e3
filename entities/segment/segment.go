// Package segment holds the pure data types shared by every layer of the
// reclaim engine: segments, sections, summary blocks and the small integer
// types used to address them. Nothing in this package touches disk, a lock,
// or a collaborator interface — it is the "entities" layer, the same role
// entities/lsmkv and entities/storagestate play for the teacher.
package segment

import "github.com/RoaringBitmap/roaring"

// No is a segment number. NullNo marks the absence of a segment, mirroring
// f2fs's NULL_SEGNO sentinel.
type No uint32

// NullNo is returned by the victim selector when no candidate exists.
const NullNo No = ^No(0)

// SecNo is a section number: segs_per_sec consecutive segments.
type SecNo uint32

// BlockAddr is a block address within the whole device, or NullAddr.
type BlockAddr uint64

// NullAddr marks an unallocated block address.
const NullAddr BlockAddr = ^BlockAddr(0)

// NID is a node id (inode or indirect node).
type NID uint32

// Ino is an inode number.
type Ino uint32

// FooterType is the summary-block footer tag: which migrator a segment's
// blocks must go through.
type FooterType int

const (
	FooterNode FooterType = iota
	FooterData
)

// DirtyClass enumerates the dirty-segment classes tracked by the
// DirtySegmap (spec.md §3). DirtyGeneric is the class LFS scans
// ("dirty[DIRTY]" in the original); the rest are SSR-specific classes that
// mirror f2fs's CURSEG_* types.
type DirtyClass int

const (
	DirtyGeneric DirtyClass = iota
	DirtyHotData
	DirtyWarmData
	DirtyColdData
	DirtyHotNode
	DirtyWarmNode
	DirtyColdNode
	NumDirtyClasses
)

func (c DirtyClass) String() string {
	switch c {
	case DirtyGeneric:
		return "dirty"
	case DirtyHotData:
		return "hot_data"
	case DirtyWarmData:
		return "warm_data"
	case DirtyColdData:
		return "cold_data"
	case DirtyHotNode:
		return "hot_node"
	case DirtyWarmNode:
		return "warm_node"
	case DirtyColdNode:
		return "cold_node"
	default:
		return "unknown"
	}
}

// Segment is a fixed-size, append-only-written run of BlocksPerSeg blocks
// (spec.md §3). Segment does not know its own block count; callers that
// need it carry it alongside (typically from the owning SIT).
type Segment struct {
	ID No

	// CurValidMap is the current-valid-bitmap: bit k is set iff block k of
	// this segment is still live. LiveBlocks is the popcount of this
	// bitmap, so the live-block count always equals it.
	CurValidMap *roaring.Bitmap

	// CkptValidBlocks is the stable, checkpoint-time valid-block count used
	// by SSR cost (spec.md §4.1).
	CkptValidBlocks uint32

	// MTime is a monotone-ish wall-clock timestamp of the most recent write
	// into this segment.
	MTime uint64

	// Footer selects which migrator a segment's summary belongs to.
	Footer FooterType

	// Class is the dirty-class this segment belongs to while dirty.
	Class DirtyClass
}

// NewSegment returns an empty (fully invalid) segment ready to be
// reallocated, matching the "round-trip" testable property: live-blocks==0
// segments may be reused without reading prior contents.
func NewSegment(id No, footer FooterType, class DirtyClass) *Segment {
	return &Segment{
		ID:          id,
		CurValidMap: roaring.New(),
		Footer:      footer,
		Class:       class,
	}
}

// LiveBlocks reports the number of currently-valid blocks, which must always
// equal the popcount of CurValidMap.
func (s *Segment) LiveBlocks() uint32 {
	return uint32(s.CurValidMap.GetCardinality())
}

// IsValid reports whether block offset k (0 <= k < BlocksPerSeg) is live.
func (s *Segment) IsValid(k uint32) bool {
	return s.CurValidMap.Contains(k)
}

// Invalidate clears block k, e.g. on overwrite/delete racing with GC.
func (s *Segment) Invalidate(k uint32) {
	s.CurValidMap.Remove(k)
}

// Validate sets block k, e.g. when a fresh write lands here.
func (s *Segment) Validate(k uint32) {
	s.CurValidMap.Add(k)
}

// SecNoOf returns the section that segno belongs to, given segsPerSec.
func SecNoOf(segno No, segsPerSec uint32) SecNo {
	return SecNo(uint32(segno) / segsPerSec)
}

// SectionStart returns the first segment of section secno.
func SectionStart(secno SecNo, segsPerSec uint32) No {
	return No(uint32(secno) * segsPerSec)
}

// StartBlock returns the first block address of segno, given the
// filesystem's block-per-segment geometry (spec.md §4.3 "start_addr").
func StartBlock(segno No, blocksPerSeg uint32) BlockAddr {
	return BlockAddr(uint64(segno) * uint64(blocksPerSeg))
}

// SummaryEntry identifies, for one block slot in a segment, the node that
// owns it (spec.md §3 "Summary block").
type SummaryEntry struct {
	NID       NID
	OfsInNode uint16
	Version   uint8
}

// SummaryBlock is the per-segment table of B SummaryEntry values plus the
// footer type used to dispatch migration.
type SummaryBlock struct {
	Footer  FooterType
	Entries []SummaryEntry
}
