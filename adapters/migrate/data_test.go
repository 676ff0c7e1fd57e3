package migrate

import (
	"context"
	"sync"
	"testing"

	"github.com/watersir/f2fs-change/adapters/segstore"
	"github.com/watersir/f2fs-change/adapters/validity"
	"github.com/watersir/f2fs-change/entities/reclaimstate"
	"github.com/watersir/f2fs-change/entities/segment"
)

// testNode plays both the "owning node" and, for ofsOfNode==0 entries, the
// inode's own node page: DataSegment only ever calls GetNodePage on it,
// never IGet-adjacent node methods.
type testNode struct {
	version   uint8
	ino       segment.Ino
	ofsOfNode uint32
	addrs     map[uint16]segment.BlockAddr
}

func (n *testNode) Info() validity.NodeInfo { return validity.NodeInfo{Version: n.version, Ino: n.ino} }
func (n *testNode) DataBlockAddr(ofs uint16) segment.BlockAddr {
	if addr, ok := n.addrs[ofs]; ok {
		return addr
	}
	return segment.NullAddr
}
func (n *testNode) OfsOfNode() uint32 { return n.ofsOfNode }

type testNodeSource struct {
	mu    sync.Mutex
	nodes map[segment.NID]*testNode
}

func (s *testNodeSource) GetNodePage(ctx context.Context, nid segment.NID) (NodePage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wrappedNode{s.nodes[nid]}, nil
}
func (s *testNodeSource) RANodePage(ctx context.Context, nid segment.NID) {}
func (s *testNodeSource) FlushNodes(ctx context.Context) error            { return nil }

// wrappedNode adds the write-side methods NodePage needs on top of a plain
// validity.NodePage fake.
type wrappedNode struct{ *testNode }

func (wrappedNode) Writeback() bool                  { return false }
func (wrappedNode) WaitWriteback(ctx context.Context) {}
func (wrappedNode) SetDirty()                         {}

type testInode struct {
	ino       segment.Ino
	encrypted bool
	appended  bool
}

func (i *testInode) Ino() segment.Ino         { return i.ino }
func (i *testInode) IsEncryptedRegular() bool { return i.encrypted }
func (i *testInode) SetAppended()             { i.appended = true }
func (i *testInode) SetFirstBlockWritten()    {}

type testInodeSource struct{ inodes map[segment.Ino]*testInode }

func (s *testInodeSource) IGet(ctx context.Context, ino segment.Ino) (Inode, error) {
	return s.inodes[ino], nil
}
func (s *testInodeSource) IPut(inode Inode) {}

type testPageCache struct {
	mu     sync.Mutex
	cached map[uint64]*testPage
}

type testPage struct {
	bidx  uint64
	dirty bool
	cold  bool
}

func (p *testPage) Cached() bool                      { return true }
func (p *testPage) Dirty() bool                       { return p.dirty }
func (p *testPage) Writeback() bool                   { return false }
func (p *testPage) WaitWriteback(ctx context.Context) {}
func (p *testPage) SetDirty()                         { p.dirty = true }
func (p *testPage) ClearDirtyForIO() bool             { was := p.dirty; p.dirty = false; return was }
func (p *testPage) SetCold(c bool)                    { p.cold = c }
func (p *testPage) Index() uint64                     { return p.bidx }
func (p *testPage) Unlock()                           {}

func (c *testPageCache) GetLockDataPage(ctx context.Context, inode Inode, bidx uint64) (DataPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.cached[bidx]
	if !ok {
		p = &testPage{bidx: bidx}
		c.cached[bidx] = p
	}
	return p, nil
}
func (c *testPageCache) GetCachedDataPage(ctx context.Context, inode Inode, bidx uint64) (DataPage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.cached[bidx]
	return p, ok
}
func (c *testPageCache) GrabCachePage(ctx context.Context, inode Inode, bidx uint64) (DataPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.cached[bidx]
	if !ok {
		p = &testPage{bidx: bidx}
		c.cached[bidx] = p
	}
	return p, nil
}

type testAllocator struct {
	mu       sync.Mutex
	next     segment.BlockAddr
	merged   int
	updated  int
	lastNofs uint32
}

func (a *testAllocator) AllocateDataBlock(ctx context.Context, page DataPage, srcAddr segment.BlockAddr, summary segment.SummaryEntry) (segment.BlockAddr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	addr := a.next
	a.next++
	return addr, nil
}
func (a *testAllocator) UpdateNodePointer(ctx context.Context, inode Inode, nofs uint32, ofsInNode uint16, newAddr segment.BlockAddr, firstBlock bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.updated++
	a.lastNofs = nofs
	return nil
}
func (a *testAllocator) SubmitMergedWrite(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.merged++
	return nil
}

// testMetaCache backs the encrypted twin-page path with the same testPage
// fake the ordinary page cache uses.
type testMetaCache struct {
	mu    sync.Mutex
	pages map[segment.BlockAddr]*testPage
}

func (c *testMetaCache) GrabMetaPage(ctx context.Context, addr segment.BlockAddr) (DataPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pages[addr]
	if !ok {
		p = &testPage{bidx: uint64(addr)}
		c.pages[addr] = p
	}
	return p, nil
}
func (c *testMetaCache) SubmitRead(ctx context.Context, page DataPage, addr segment.BlockAddr) error {
	return nil
}
func (c *testMetaCache) SubmitSyncWrite(ctx context.Context, page DataPage, addr segment.BlockAddr) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := page.(*testPage); ok {
		c.pages[addr] = p
	}
	return nil
}

const (
	testBlocksPerSeg = 512
	nidsPerBlock     = 1018
	addrsPerBlock    = 1018
	addrsPerInode    = 923
)

func testGeo() NodeTreeGeometry {
	return NodeTreeGeometry{NIDsPerBlock: nidsPerBlock, AddrsPerBlock: addrsPerBlock, AddrsPerInode: addrsPerInode}
}

func TestDataSegmentRemapsUncachedCleanBlock(t *testing.T) {
	sit := segstore.New(testBlocksPerSeg, 1)
	seg := segment.NewSegment(0, segment.FooterData, segment.DirtyGeneric)
	seg.Validate(0)
	sit.Install(seg)

	srcAddr := segment.StartBlock(0, testBlocksPerSeg)
	nodes := &testNodeSource{nodes: map[segment.NID]*testNode{
		100: {version: 1, ino: 1, ofsOfNode: 0, addrs: map[uint16]segment.BlockAddr{0: srcAddr}},
	}}
	inodes := &testInodeSource{inodes: map[segment.Ino]*testInode{1: {ino: 1}}}
	pages := &testPageCache{cached: make(map[uint64]*testPage)}
	alloc := &testAllocator{next: 9000}

	col := Collaborators{Nodes: nodes, Inodes: inodes, Pages: pages, Alloc: alloc}
	sum := segment.SummaryBlock{Footer: segment.FooterData, Entries: []segment.SummaryEntry{
		{NID: 100, OfsInNode: 0, Version: 1},
	}}

	freed, err := DataSegment(context.Background(), discardLogger(), sit, testGeo(), col, 0, sum, reclaimstate.BG, true)
	if err != nil {
		t.Fatalf("DataSegment returned error: %v", err)
	}
	if freed {
		t.Fatal("nothing invalidated the block; segment should not be reported freed")
	}
	if alloc.updated != 1 {
		t.Fatalf("expected one node-pointer update, got %d", alloc.updated)
	}
	if !inodes.inodes[1].appended {
		t.Fatal("inode should be marked appended after a remap write")
	}
}

func TestDataSegmentPassesNofsToNodePointerUpdate(t *testing.T) {
	sit := segstore.New(testBlocksPerSeg, 1)
	seg := segment.NewSegment(0, segment.FooterData, segment.DirtyGeneric)
	seg.Validate(0)
	sit.Install(seg)

	srcAddr := segment.StartBlock(0, testBlocksPerSeg)
	// ofsOfNode 4 is the first node reached through a single-indirect
	// node, so its nofs must flow through to UpdateNodePointer unchanged
	// rather than the literal 0 a direct-inode entry would use.
	nodes := &testNodeSource{nodes: map[segment.NID]*testNode{
		100: {version: 1, ino: 1, ofsOfNode: 4, addrs: map[uint16]segment.BlockAddr{0: srcAddr}},
	}}
	inodes := &testInodeSource{inodes: map[segment.Ino]*testInode{1: {ino: 1}}}
	pages := &testPageCache{cached: make(map[uint64]*testPage)}
	alloc := &testAllocator{next: 9000}

	col := Collaborators{Nodes: nodes, Inodes: inodes, Pages: pages, Alloc: alloc}
	sum := segment.SummaryBlock{Footer: segment.FooterData, Entries: []segment.SummaryEntry{
		{NID: 100, OfsInNode: 0, Version: 1},
	}}

	_, err := DataSegment(context.Background(), discardLogger(), sit, testGeo(), col, 0, sum, reclaimstate.BG, true)
	if err != nil {
		t.Fatalf("DataSegment returned error: %v", err)
	}
	if alloc.updated != 1 {
		t.Fatalf("expected one node-pointer update, got %d", alloc.updated)
	}
	if alloc.lastNofs != 4 {
		t.Fatalf("UpdateNodePointer received nofs %d, want 4 (the owning node's tree offset)", alloc.lastNofs)
	}
}

func TestDataSegmentMovesEncryptedBlockAndUpdatesNodePointer(t *testing.T) {
	sit := segstore.New(testBlocksPerSeg, 1)
	seg := segment.NewSegment(0, segment.FooterData, segment.DirtyGeneric)
	seg.Validate(0)
	sit.Install(seg)

	srcAddr := segment.StartBlock(0, testBlocksPerSeg)
	nodes := &testNodeSource{nodes: map[segment.NID]*testNode{
		100: {version: 1, ino: 1, ofsOfNode: 0, addrs: map[uint16]segment.BlockAddr{0: srcAddr}},
	}}
	inodes := &testInodeSource{inodes: map[segment.Ino]*testInode{1: {ino: 1, encrypted: true}}}
	pages := &testPageCache{cached: make(map[uint64]*testPage)}
	meta := &testMetaCache{pages: make(map[segment.BlockAddr]*testPage)}
	alloc := &testAllocator{next: 9000}

	col := Collaborators{Nodes: nodes, Inodes: inodes, Pages: pages, Meta: meta, Alloc: alloc}
	sum := segment.SummaryBlock{Footer: segment.FooterData, Entries: []segment.SummaryEntry{
		{NID: 100, OfsInNode: 0, Version: 1},
	}}

	_, err := DataSegment(context.Background(), discardLogger(), sit, testGeo(), col, 0, sum, reclaimstate.BG, true)
	if err != nil {
		t.Fatalf("DataSegment returned error: %v", err)
	}
	if _, ok := meta.pages[9000]; !ok {
		t.Fatal("encrypted block should have been written to the allocated destination address via the twin-page path")
	}
	if alloc.updated != 1 {
		t.Fatalf("expected one node-pointer update for the moved encrypted block, got %d", alloc.updated)
	}
	if !inodes.inodes[1].appended {
		t.Fatal("inode should be marked appended after an encrypted block move")
	}
}

func TestDataSegmentSkipsDeadEntries(t *testing.T) {
	sit := segstore.New(testBlocksPerSeg, 1)
	seg := segment.NewSegment(0, segment.FooterData, segment.DirtyGeneric)
	seg.Validate(0)
	sit.Install(seg)

	// The node's stored address does not match the candidate block
	// address: the block was overwritten concurrently and is now dead.
	nodes := &testNodeSource{nodes: map[segment.NID]*testNode{
		100: {version: 1, ino: 1, ofsOfNode: 0, addrs: map[uint16]segment.BlockAddr{0: 99999}},
	}}
	inodes := &testInodeSource{inodes: map[segment.Ino]*testInode{1: {ino: 1}}}
	pages := &testPageCache{cached: make(map[uint64]*testPage)}
	alloc := &testAllocator{next: 9000}

	col := Collaborators{Nodes: nodes, Inodes: inodes, Pages: pages, Alloc: alloc}
	sum := segment.SummaryBlock{Footer: segment.FooterData, Entries: []segment.SummaryEntry{
		{NID: 100, OfsInNode: 0, Version: 1},
	}}

	_, err := DataSegment(context.Background(), discardLogger(), sit, testGeo(), col, 0, sum, reclaimstate.BG, true)
	if err != nil {
		t.Fatalf("DataSegment returned error: %v", err)
	}
	if alloc.updated != 0 {
		t.Fatal("a dead entry must never be migrated")
	}
}
