package demo

import (
	"context"
	"sync"

	"github.com/watersir/f2fs-change/adapters/migrate"
	"github.com/watersir/f2fs-change/entities/segment"
)

// Inode is an in-memory inode: just enough state for the data migrator's
// classification and post-move bookkeeping.
type Inode struct {
	mu sync.Mutex

	ino               segment.Ino
	encryptedRegular  bool
	appended          bool
	firstBlockWritten bool
}

// NewInode builds an inode, optionally flagged as an encrypted regular
// file so DataSegment routes its blocks through the twin-page path.
func NewInode(ino segment.Ino, encryptedRegular bool) *Inode {
	return &Inode{ino: ino, encryptedRegular: encryptedRegular}
}

func (i *Inode) Ino() segment.Ino         { return i.ino }
func (i *Inode) IsEncryptedRegular() bool { return i.encryptedRegular }

func (i *Inode) SetAppended() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.appended = true
}

func (i *Inode) SetFirstBlockWritten() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.firstBlockWritten = true
}

func (i *Inode) Appended() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.appended
}

func (i *Inode) FirstBlockWritten() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.firstBlockWritten
}

// InodeStore is the ino-keyed inode table backing migrate.InodeSource.
type InodeStore struct {
	mu     sync.Mutex
	inodes map[segment.Ino]*Inode
}

// NewInodeStore builds an empty inode table.
func NewInodeStore() *InodeStore {
	return &InodeStore{inodes: make(map[segment.Ino]*Inode)}
}

// Install registers an inode, e.g. during test/demo setup.
func (s *InodeStore) Install(inode *Inode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inodes[inode.Ino()] = inode
}

func (s *InodeStore) IGet(ctx context.Context, ino segment.Ino) (migrate.Inode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inode, ok := s.inodes[ino]
	if !ok {
		return nil, errNotFound("inode", uint64(ino))
	}
	return inode, nil
}

// IPut is a no-op: the demo backend has no refcounted inode cache to
// release against.
func (s *InodeStore) IPut(inode migrate.Inode) {}
