package migrate

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/watersir/f2fs-change/adapters/segstore"
	"github.com/watersir/f2fs-change/adapters/validity"
	"github.com/watersir/f2fs-change/entities/reclaimstate"
	"github.com/watersir/f2fs-change/entities/segment"
)

// NodeTreeGeometry carries the per-filesystem constants StartBidxOfNode
// needs to decode a node's tree offset into a block index.
type NodeTreeGeometry struct {
	NIDsPerBlock  uint32
	AddrsPerBlock uint32
	AddrsPerInode uint32
}

// dataPageStrategy classifies how phase 3 must obtain the bytes for a
// migrated block (spec.md §4.3 "Data migration classification").
type dataPageStrategy int

const (
	strategyUncached dataPageStrategy = iota
	strategyCachedClean
	strategyCachedDirty
)

// DataSegment migrates every still-valid data block out of segno
// (spec.md §4.3 "Data migration", four phases). remapAllowed selects
// whether a clean/uncached block may be moved via a remap write (no read
// I/O) instead of a full read-modify-write; it collapses the original's
// separate FG/BG data-migration functions into one (spec.md §9 "FG/BG
// migration collapse").
func DataSegment(
	ctx context.Context,
	log logrus.FieldLogger,
	sit *segstore.SIT,
	geo NodeTreeGeometry,
	col Collaborators,
	segno segment.No,
	sum segment.SummaryBlock,
	gcType reclaimstate.GCType,
	remapAllowed bool,
) (freed bool, err error) {
	log = log.WithFields(logrus.Fields{"segno": segno, "gc_type": gcType, "footer": "data"})
	validityNodes := narrowNodeSource(col.Nodes)

	type liveEntry struct {
		off   int
		entry segment.SummaryEntry
		addr  segment.BlockAddr
	}

	// Phase 0: read-ahead the owning node of every still-valid slot.
	var live []liveEntry
	for off, entry := range sum.Entries {
		if !sit.CheckValidMap(segno, uint32(off)) {
			continue
		}
		addr := segment.StartBlock(segno, sit.BlocksPerSeg()) + segment.BlockAddr(off)
		live = append(live, liveEntry{off: off, entry: entry, addr: addr})
		col.Nodes.RANodePage(ctx, entry.NID)
	}

	if len(live) == 0 {
		return sit.GetValidBlocks(segno, 1) == 0, nil
	}

	// Phase 1: confirm liveness against the owning node. The owning inode
	// is not read ahead here; phase 2 fetches it with IGet.
	type aliveEntry struct {
		liveEntry
		nofs uint32
	}
	var alive []aliveEntry

	group, gctx := errgroup.WithContext(ctx)
	results := make([]*aliveEntry, len(live))
	for i, le := range live {
		i, le := i, le
		group.Go(func() error {
			ok, nofs, err := validity.IsAlive(gctx, validityNodes, le.entry, le.addr)
			if err != nil {
				return errors.Wrapf(err, "check liveness of nid %d", le.entry.NID)
			}
			if ok {
				results[i] = &aliveEntry{liveEntry: le, nofs: nofs}
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return false, err
	}
	for _, r := range results {
		if r != nil {
			alive = append(alive, *r)
		}
	}

	if len(alive) == 0 {
		return sit.GetValidBlocks(segno, 1) == 0, nil
	}

	// Phase 2: fetch each entry's owning inode and classify its strategy.
	type planned struct {
		aliveEntry
		inode    Inode
		bidx     uint64
		strategy dataPageStrategy
		page     DataPage // set only when cached
	}
	var plan []planned

	for _, a := range alive {
		if gcType == reclaimstate.BG && col.FreeSecs != nil && col.FreeSecs.HasNotEnoughFreeSecs(0) {
			log.Debug("aborting data migration early: not enough free sections")
			break
		}

		node, err := col.Nodes.GetNodePage(ctx, a.entry.NID)
		if err != nil {
			return false, errors.Wrapf(err, "get owning node for nid %d", a.entry.NID)
		}
		inode, err := col.Inodes.IGet(ctx, node.Info().Ino)
		if err != nil {
			return false, errors.Wrapf(err, "iget ino %d", node.Info().Ino)
		}

		startBidx := validity.StartBidxOfNode(a.nofs, geo.NIDsPerBlock, geo.AddrsPerBlock, geo.AddrsPerInode)
		bidx := startBidx + uint64(a.entry.OfsInNode)

		if inode.IsEncryptedRegular() {
			// Encrypted regular files always take the twin-page path in
			// phase 3; no data-page classification is needed here, but the
			// owning node's pointer still has to be updated on success.
			plan = append(plan, planned{aliveEntry: a, inode: inode, bidx: bidx, strategy: strategyUncached})
			continue
		}

		if page, ok := col.Pages.GetCachedDataPage(ctx, inode, bidx); ok {
			strategy := strategyCachedClean
			if page.Dirty() {
				strategy = strategyCachedDirty
			}
			plan = append(plan, planned{aliveEntry: a, inode: inode, bidx: bidx, strategy: strategy, page: page})
		} else {
			plan = append(plan, planned{aliveEntry: a, inode: inode, bidx: bidx, strategy: strategyUncached})
		}
	}

	// Phase 3: the actual move.
	for _, p := range plan {
		var moveErr error
		switch {
		case p.inode != nil && p.inode.IsEncryptedRegular():
			moveErr = moveEncryptedBlock(ctx, col, p.inode, p.nofs, p.bidx, sit.BlocksPerSeg(), p.addr, p.entry)
			col.Inodes.IPut(p.inode)

		case remapAllowed && p.strategy != strategyCachedDirty:
			moveErr = remapDataPage(ctx, col, p.inode, p.nofs, p.bidx, p.addr, p.entry, p.page)
			if p.inode != nil {
				col.Inodes.IPut(p.inode)
			}

		default:
			moveErr = rewriteDataPage(ctx, col, p.inode, p.nofs, p.bidx, p.addr, p.entry)
			if p.inode != nil {
				col.Inodes.IPut(p.inode)
			}
		}
		if moveErr != nil {
			return false, moveErr
		}
	}

	if gcType == reclaimstate.FG {
		if err := col.Alloc.SubmitMergedWrite(ctx); err != nil {
			return false, errors.Wrap(err, "submit merged write")
		}
	}

	return sit.GetValidBlocks(segno, 1) == 0, nil
}

// moveEncryptedBlock moves a block belonging to an encrypted regular file
// via the twin metadata-page path: the ciphertext is copied block-for-block
// without ever being decrypted (spec.md §4.3 "Encrypted block migration").
// Like the other two movers, it updates the owning node's pointer on
// success so the node tree never points at the freed source address.
func moveEncryptedBlock(ctx context.Context, col Collaborators, inode Inode, nofs uint32, bidx uint64, blocksPerSeg uint32, srcAddr segment.BlockAddr, entry segment.SummaryEntry) error {
	page, err := col.Meta.GrabMetaPage(ctx, srcAddr)
	if err != nil {
		return errors.Wrap(err, "grab meta page")
	}
	if err := col.Meta.SubmitRead(ctx, page, srcAddr); err != nil {
		return errors.Wrap(err, "read source block")
	}

	newAddr, err := col.Alloc.AllocateDataBlock(ctx, page, srcAddr, entry)
	if err != nil {
		return errors.Wrap(err, "allocate destination block")
	}
	if err := col.Meta.SubmitSyncWrite(ctx, page, newAddr); err != nil {
		return errors.Wrap(err, "write destination block")
	}

	firstBlock := bidx == 0
	if err := col.Alloc.UpdateNodePointer(ctx, inode, nofs, entry.OfsInNode, newAddr, firstBlock); err != nil {
		return errors.Wrap(err, "update node pointer after encrypted move")
	}
	inode.SetAppended()
	if firstBlock {
		inode.SetFirstBlockWritten()
	}
	return nil
}

// remapDataPage moves a clean or uncached block by writing it to a fresh
// address without ever reading it back into memory: the source page's
// existing contents (if cached) are reused as-is, or the allocator pulls
// bytes straight from the source address (spec.md §4.3 "remap-write").
func remapDataPage(ctx context.Context, col Collaborators, inode Inode, nofs uint32, bidx uint64, srcAddr segment.BlockAddr, entry segment.SummaryEntry, cached DataPage) error {
	page := cached
	var err error
	if page == nil {
		if inode == nil {
			return errors.New("remap requires an owning inode for an uncached page")
		}
		page, err = col.Pages.GrabCachePage(ctx, inode, bidx)
		if err != nil {
			return errors.Wrap(err, "grab cache page for remap")
		}
	}

	newAddr, err := col.Alloc.AllocateDataBlock(ctx, page, srcAddr, entry)
	if err != nil {
		return errors.Wrap(err, "allocate remap destination")
	}

	if inode != nil {
		firstBlock := bidx == 0
		if err := col.Alloc.UpdateNodePointer(ctx, inode, nofs, entry.OfsInNode, newAddr, firstBlock); err != nil {
			return errors.Wrap(err, "update node pointer after remap")
		}
		inode.SetAppended()
		if firstBlock {
			inode.SetFirstBlockWritten()
		}
	}
	if cached == nil {
		page.Unlock()
	}
	return nil
}

// rewriteDataPage moves a dirty or forced-full-rewrite block: the page is
// locked, any in-flight writeback is waited out, the dirty bit is cleared
// ahead of the new write, and the block is marked cold before being
// reallocated (spec.md §4.3 "full rewrite").
func rewriteDataPage(ctx context.Context, col Collaborators, inode Inode, nofs uint32, bidx uint64, srcAddr segment.BlockAddr, entry segment.SummaryEntry) error {
	if inode == nil {
		return errors.New("rewrite requires an owning inode")
	}

	page, err := col.Pages.GetLockDataPage(ctx, inode, bidx)
	if err != nil {
		return errors.Wrap(err, "get lock data page for rewrite")
	}
	defer page.Unlock()

	page.WaitWriteback(ctx)
	page.ClearDirtyForIO()
	page.SetCold(true)

	newAddr, err := col.Alloc.AllocateDataBlock(ctx, page, srcAddr, entry)
	if err != nil {
		return errors.Wrap(err, "allocate rewrite destination")
	}

	firstBlock := bidx == 0
	if err := col.Alloc.UpdateNodePointer(ctx, inode, nofs, entry.OfsInNode, newAddr, firstBlock); err != nil {
		return errors.Wrap(err, "update node pointer after rewrite")
	}
	inode.SetAppended()
	if firstBlock {
		inode.SetFirstBlockWritten()
	}
	page.SetCold(false)
	return nil
}
