// Package migrate implements the block migrator (spec.md §4.3): moving
// node blocks, data blocks and encrypted data blocks out of a victim
// segment so it becomes fully invalid and may be rewritten.
package migrate

import (
	"context"

	"github.com/watersir/f2fs-change/adapters/validity"
	"github.com/watersir/f2fs-change/entities/segment"
)

// NodePage is a fetched node page, extending validity.NodePage with the
// write-side operations the node migrator needs.
type NodePage interface {
	validity.NodePage
	Writeback() bool
	WaitWriteback(ctx context.Context)
	SetDirty()
}

// NodeSource fetches, prefetches and flushes node pages
// (spec.md §6 "get_node_page", "ra_node_page").
type NodeSource interface {
	GetNodePage(ctx context.Context, nid segment.NID) (NodePage, error)
	RANodePage(ctx context.Context, nid segment.NID)
	// FlushNodes synchronously writes back all dirtied node pages
	// (spec.md §4.3 "on FG, flush all node pages synchronously").
	FlushNodes(ctx context.Context) error
}

// validityAdapter narrows a NodeSource down to validity.NodeSource so the
// cross-checker in adapters/validity can be reused as-is.
type validityAdapter struct{ inner NodeSource }

func (a validityAdapter) GetNodePage(ctx context.Context, nid segment.NID) (validity.NodePage, error) {
	return a.inner.GetNodePage(ctx, nid)
}

// Inode is the subset of inode state the data migrator touches.
type Inode interface {
	Ino() segment.Ino
	IsEncryptedRegular() bool
	// SetAppended/SetFirstBlockWritten mirror FI_APPEND_WRITE and
	// FI_FIRST_BLOCK_WRITTEN (spec.md §4.3 "the inode's appended flag is
	// set, and (if the rewritten index is 0) a first-block-written flag").
	SetAppended()
	SetFirstBlockWritten()
}

// InodeSource pins and releases inodes for the duration of a migration
// round (spec.md §6 "iget(sb, ino)", "iput(inode)").
type InodeSource interface {
	IGet(ctx context.Context, ino segment.Ino) (Inode, error)
	IPut(inode Inode)
}

// DataPage is a fetched (or freshly grabbed) data page.
type DataPage interface {
	Cached() bool
	Dirty() bool
	Writeback() bool
	WaitWriteback(ctx context.Context)
	SetDirty()
	// ClearDirtyForIO clears the dirty bit ahead of a write and reports
	// whether it had been set (spec.md §6 "clear_dirty_for_io").
	ClearDirtyForIO() bool
	SetCold(bool)
	// Index is the page's block-relative index within the file.
	Index() uint64
	Unlock()
}

// DataPageCache is the page-cache surface the data migrator needs
// (spec.md §6 "get_lock_data_page", "get_cached_data_page",
// "grab_cache_page").
type DataPageCache interface {
	GetLockDataPage(ctx context.Context, inode Inode, bidx uint64) (DataPage, error)
	GetCachedDataPage(ctx context.Context, inode Inode, bidx uint64) (DataPage, bool)
	GrabCachePage(ctx context.Context, inode Inode, bidx uint64) (DataPage, error)
}

// MetaPageCache backs the encrypted-block twin-page path
// (spec.md §4.3 "allocate a metadata-mapping twin page").
type MetaPageCache interface {
	GrabMetaPage(ctx context.Context, addr segment.BlockAddr) (DataPage, error)
	SubmitRead(ctx context.Context, page DataPage, addr segment.BlockAddr) error
	SubmitSyncWrite(ctx context.Context, page DataPage, addr segment.BlockAddr) error
}

// Allocator writes a migrated block to its new location and rewires the
// owning node to point at it (spec.md §6 "allocate_data_block").
type Allocator interface {
	// AllocateDataBlock writes page's contents to a freshly chosen
	// cold-data address and returns it. Callers are responsible for
	// ensuring page already holds the correct bytes (read or reused);
	// AllocateDataBlock itself never performs a read.
	AllocateDataBlock(ctx context.Context, page DataPage, srcAddr segment.BlockAddr, summary segment.SummaryEntry) (segment.BlockAddr, error)
	// UpdateNodePointer rewrites the dnode's slot to the new address. It
	// does not set the inode's appended / first-block-written flags; the
	// movers set those themselves after it succeeds.
	UpdateNodePointer(ctx context.Context, inode Inode, nofs uint32, ofsInNode uint16, newAddr segment.BlockAddr, firstBlock bool) error
	// SubmitMergedWrite flushes this round's plugged write bio
	// (spec.md §5 "FG data migration submits the merged bio").
	SubmitMergedWrite(ctx context.Context) error
}

// FreeSecsChecker reports whether the filesystem still has enough free
// sections, used to abort a BG round early (spec.md §6
// "has_not_enough_free_secs").
type FreeSecsChecker interface {
	HasNotEnoughFreeSecs(extra int) bool
}

// HintKind selects which end of a reclaim range the optional device hint
// marks (spec.md §6 "Optional device hint").
type HintKind int

const (
	HintRangeStart HintKind = iota
	HintRangeEnd
)

// DeviceHinter is the vendor-specific "tell the SSD a reclaim range" side
// effect. It is explicitly out of correctness scope (spec.md §1
// Non-goals); the default NoopDeviceHinter below is a no-op, matching
// the original's commented-out sendtoSSD calls.
type DeviceHinter interface {
	Hint(lba uint64, kind HintKind)
}

// NoopDeviceHinter implements DeviceHinter by doing nothing.
type NoopDeviceHinter struct{}

func (NoopDeviceHinter) Hint(uint64, HintKind) {}

// Collaborators bundles every external dependency the migrator needs.
// Hint may be left nil; callers get NoopDeviceHinter's behavior.
type Collaborators struct {
	Nodes    NodeSource
	Inodes   InodeSource
	Pages    DataPageCache
	Meta     MetaPageCache
	Alloc    Allocator
	FreeSecs FreeSecsChecker
	Hint     DeviceHinter
}

func (c Collaborators) hinter() DeviceHinter {
	if c.Hint == nil {
		return NoopDeviceHinter{}
	}
	return c.Hint
}
