// Package validity implements the validity cross-checker (spec.md §4.2):
// confirming that a summary entry still owns the block address it claims,
// and decoding a node's position in its owning inode's node tree into a
// starting block index.
package validity

import (
	"context"

	"github.com/pkg/errors"

	"github.com/watersir/f2fs-change/entities/segment"
)

// NodeInfo is the subset of a node's NAT entry the cross-checker needs:
// its current version, its current block address, and the inode that owns
// it (spec.md §6 "get_node_info(nid) -> {version, blk_addr, ino}").
type NodeInfo struct {
	Version uint8
	BlkAddr segment.BlockAddr
	Ino     segment.Ino
}

// NodePage is a fetched node page: enough to read its stored version, the
// data block address at a slot, and its own offset within the owning
// inode's node tree.
type NodePage interface {
	Info() NodeInfo
	// DataBlockAddr returns the block address stored at ofsInNode
	// (spec.md §6 "datablock_addr(node, ofs)").
	DataBlockAddr(ofsInNode uint16) segment.BlockAddr
	// OfsOfNode returns node_ofs, this node's position in its owning
	// inode's node tree (spec.md §6 "ofs_of_node(node)").
	OfsOfNode() uint32
}

// NodeSource fetches node pages by id (spec.md §6 "get_node_page(nid)").
type NodeSource interface {
	GetNodePage(ctx context.Context, nid segment.NID) (NodePage, error)
}

// IsAlive implements the four-step check from spec.md §4.2: read the node
// page, check its version against the summary entry's, check the block
// address it stores against the candidate address, and report nofs (the
// node's offset within its inode's tree) when live. DataSegment calls it
// once per entry, in its phase 1; it is not re-run after the later blocking
// calls of the round.
func IsAlive(ctx context.Context, nodes NodeSource, entry segment.SummaryEntry, blkAddr segment.BlockAddr) (live bool, nofs uint32, err error) {
	page, err := nodes.GetNodePage(ctx, entry.NID)
	if err != nil {
		return false, 0, errors.Wrapf(err, "get node page for nid %d", entry.NID)
	}

	info := page.Info()
	if info.Version != entry.Version {
		return false, 0, nil
	}

	nofs = page.OfsOfNode()
	source := page.DataBlockAddr(entry.OfsInNode)
	if source != blkAddr {
		return false, 0, nil
	}
	return true, nofs, nil
}

// StartBidxOfNode decodes node_ofs (a node's position in its owning
// inode's node tree) into the block index of the first data block that
// node covers, per spec.md §4.2 "Start-index decoding". nidsPerBlock is
// the number of node ids that fit in one indirect-node block (N in the
// spec prose); addrsPerBlock and addrsPerInode are the corresponding
// per-block / per-inode direct address counts.
func StartBidxOfNode(nodeOfs uint32, nidsPerBlock, addrsPerBlock, addrsPerInode uint32) uint64 {
	// The subtractions below can go negative just past the indirectBlks
	// boundary before truncating division brings them back; do the whole
	// computation in signed arithmetic so that truncates toward zero like
	// the original, instead of wrapping around as unsigned subtraction
	// would.
	ofs := int64(nodeOfs)
	indirectBlks := 2*int64(nidsPerBlock) + 4

	var bidx int64
	switch {
	case ofs == 0:
		return 0
	case ofs <= 2:
		bidx = ofs - 1
	case ofs <= indirectBlks:
		dec := (ofs - 4) / (int64(nidsPerBlock) + 1)
		bidx = ofs - 2 - dec
	default:
		dec := (ofs - indirectBlks - 3) / (int64(nidsPerBlock) + 1)
		bidx = ofs - 5 - dec
	}

	return uint64(bidx)*uint64(addrsPerBlock) + uint64(addrsPerInode)
}
