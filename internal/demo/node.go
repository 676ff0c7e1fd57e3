// Package demo is an in-memory backend for the reclaim engine: fake node,
// inode, page-cache, allocator and checkpoint implementations good enough
// to drive the policy and migration adapters end to end, used by
// cmd/gcctl. None of it is part of the reclaim engine itself.
package demo

import (
	"context"
	"sync"

	"github.com/watersir/f2fs-change/adapters/migrate"
	"github.com/watersir/f2fs-change/adapters/validity"
	"github.com/watersir/f2fs-change/entities/segment"
)

// Node is an in-memory node page: a version, the inode it belongs to, its
// position in that inode's node tree, and the data block addresses it
// stores. cmd/gcctl's demo mount gives every node tree offset 0 and a
// single data slot, since the demo backend has no multi-level indirection.
type Node struct {
	mu sync.Mutex

	version   uint8
	blkAddr   segment.BlockAddr
	ino       segment.Ino
	ofsOfNode uint32
	addrs     map[uint16]segment.BlockAddr
	dirty     bool
}

// NewNode builds a node page owned by ino, at tree offset ofsOfNode.
func NewNode(version uint8, ino segment.Ino, ofsOfNode uint32) *Node {
	return &Node{version: version, ino: ino, ofsOfNode: ofsOfNode, addrs: make(map[uint16]segment.BlockAddr)}
}

func (n *Node) Info() validity.NodeInfo {
	n.mu.Lock()
	defer n.mu.Unlock()
	return validity.NodeInfo{Version: n.version, BlkAddr: n.blkAddr, Ino: n.ino}
}

// SetBlkAddr records where this node page itself currently lives, the
// address NodeSegment's liveness recheck compares against.
func (n *Node) SetBlkAddr(addr segment.BlockAddr) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blkAddr = addr
}

func (n *Node) DataBlockAddr(ofsInNode uint16) segment.BlockAddr {
	n.mu.Lock()
	defer n.mu.Unlock()
	addr, ok := n.addrs[ofsInNode]
	if !ok {
		return segment.NullAddr
	}
	return addr
}

// SetDataBlockAddr lets test setup and the allocator record which address
// a slot currently points at.
func (n *Node) SetDataBlockAddr(ofsInNode uint16, addr segment.BlockAddr) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.addrs[ofsInNode] = addr
}

func (n *Node) OfsOfNode() uint32 { return n.ofsOfNode }

// Writeback always reports false: the demo backend never simulates
// in-flight I/O, only the state transitions the migrators depend on.
func (n *Node) Writeback() bool { return false }

func (n *Node) WaitWriteback(ctx context.Context) {}

func (n *Node) SetDirty() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dirty = true
}

func (n *Node) Dirty() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dirty
}

// NodeStore is the NID-keyed node table backing migrate.NodeSource.
type NodeStore struct {
	mu    sync.Mutex
	nodes map[segment.NID]*Node
}

// NewNodeStore builds an empty node table.
func NewNodeStore() *NodeStore {
	return &NodeStore{nodes: make(map[segment.NID]*Node)}
}

// Install registers a node under nid, e.g. during test/demo setup.
func (s *NodeStore) Install(nid segment.NID, node *Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[nid] = node
}

func (s *NodeStore) GetNodePage(ctx context.Context, nid segment.NID) (migrate.NodePage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[nid]
	if !ok {
		return nil, errNotFound("node", uint64(nid))
	}
	return node, nil
}

// RANodePage is a no-op read-ahead: the demo backend has no disk to warm a
// cache from.
func (s *NodeStore) RANodePage(ctx context.Context, nid segment.NID) {}

// FlushNodes clears the dirty bit on every node, standing in for a
// synchronous node-page writeback pass.
func (s *NodeStore) FlushNodes(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		n.mu.Lock()
		n.dirty = false
		n.mu.Unlock()
	}
	return nil
}
