package migrate

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/watersir/f2fs-change/adapters/segstore"
	"github.com/watersir/f2fs-change/adapters/validity"
	"github.com/watersir/f2fs-change/entities/reclaimstate"
	"github.com/watersir/f2fs-change/entities/segment"
)

// NodeSegment migrates every still-valid node block out of segno
// (spec.md §4.3 "Node migration", two phases: read-ahead then process).
// It reports whether the segment ended up fully invalid.
func NodeSegment(
	ctx context.Context,
	log logrus.FieldLogger,
	sit *segstore.SIT,
	col Collaborators,
	segno segment.No,
	sum segment.SummaryBlock,
	gcType reclaimstate.GCType,
) (freed bool, err error) {
	log = log.WithFields(logrus.Fields{"segno": segno, "gc_type": gcType, "footer": "node"})

	// Phase 1: read-ahead every entry whose slot is still marked valid in
	// the SIT. Blocks invalidated between summary-read and here are
	// skipped without I/O.
	for k, entry := range sum.Entries {
		if !sit.CheckValidMap(segno, uint32(k)) {
			continue
		}
		col.Nodes.RANodePage(ctx, entry.NID)
	}

	// Phase 2: process each still-valid entry in turn.
	for k, entry := range sum.Entries {
		if gcType == reclaimstate.BG && col.FreeSecs != nil && col.FreeSecs.HasNotEnoughFreeSecs(0) {
			log.Debug("aborting node migration early: not enough free sections")
			break
		}
		if !sit.CheckValidMap(segno, uint32(k)) {
			continue
		}

		page, err := col.Nodes.GetNodePage(ctx, entry.NID)
		if err != nil {
			return false, errors.Wrapf(err, "get node page for nid %d", entry.NID)
		}

		startAddr := segment.StartBlock(segno, sit.BlocksPerSeg()) + segment.BlockAddr(k)
		if info := page.Info(); info.BlkAddr != startAddr {
			continue
		}

		if gcType == reclaimstate.FG {
			page.WaitWriteback(ctx)
		} else if page.Writeback() {
			continue
		}

		// Re-check after any blocking wait above: the block may have been
		// invalidated while we waited (spec.md §5 "re-run validity after
		// blocking I/O").
		if !sit.CheckValidMap(segno, uint32(k)) {
			continue
		}

		page.SetDirty()
	}

	if gcType == reclaimstate.FG {
		if err := col.Nodes.FlushNodes(ctx); err != nil {
			return false, errors.Wrap(err, "flush node pages")
		}
	}

	return sit.GetValidBlocks(segno, 1) == 0, nil
}

// narrowNodeSource adapts a NodeSource down to validity.NodeSource.
func narrowNodeSource(n NodeSource) validity.NodeSource {
	return validityAdapter{inner: n}
}
