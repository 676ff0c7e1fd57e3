package demo

import (
	"context"
	"sync"

	"github.com/watersir/f2fs-change/adapters/migrate"
	"github.com/watersir/f2fs-change/entities/segment"
)

// Page is an in-memory data or meta page.
type Page struct {
	mu sync.Mutex

	bidx    uint64
	cached  bool
	dirty   bool
	cold    bool
	content []byte
}

func (p *Page) Cached() bool { p.mu.Lock(); defer p.mu.Unlock(); return p.cached }
func (p *Page) Dirty() bool  { p.mu.Lock(); defer p.mu.Unlock(); return p.dirty }

// Writeback always reports false; see Node.Writeback for why.
func (p *Page) Writeback() bool                   { return false }
func (p *Page) WaitWriteback(ctx context.Context) {}

func (p *Page) SetDirty() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dirty = true
}

func (p *Page) ClearDirtyForIO() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	was := p.dirty
	p.dirty = false
	return was
}

func (p *Page) SetCold(cold bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cold = cold
}

func (p *Page) Index() uint64 { return p.bidx }

// Unlock is a no-op: the demo backend serializes through its store
// mutexes rather than per-page locks.
func (p *Page) Unlock() {}

type pageKey struct {
	ino  segment.Ino
	bidx uint64
}

// PageCache is the in-memory data-page cache backing migrate.DataPageCache.
type PageCache struct {
	mu    sync.Mutex
	pages map[pageKey]*Page
}

// NewPageCache builds an empty page cache.
func NewPageCache() *PageCache {
	return &PageCache{pages: make(map[pageKey]*Page)}
}

// Install seeds the cache with a page at (ino, bidx), e.g. to set up a
// cached-dirty or cached-clean test scenario.
func (c *PageCache) Install(ino segment.Ino, bidx uint64, dirty bool) *Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := &Page{bidx: bidx, cached: true, dirty: dirty}
	c.pages[pageKey{ino, bidx}] = p
	return p
}

func (c *PageCache) GetLockDataPage(ctx context.Context, inode migrate.Inode, bidx uint64) (migrate.DataPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := pageKey{inode.Ino(), bidx}
	p, ok := c.pages[key]
	if !ok {
		p = &Page{bidx: bidx, cached: true}
		c.pages[key] = p
	}
	return p, nil
}

func (c *PageCache) GetCachedDataPage(ctx context.Context, inode migrate.Inode, bidx uint64) (migrate.DataPage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pages[pageKey{inode.Ino(), bidx}]
	if !ok {
		return nil, false
	}
	return p, true
}

func (c *PageCache) GrabCachePage(ctx context.Context, inode migrate.Inode, bidx uint64) (migrate.DataPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := pageKey{inode.Ino(), bidx}
	p, ok := c.pages[key]
	if !ok {
		p = &Page{bidx: bidx, cached: true}
		c.pages[key] = p
	}
	return p, nil
}

// MetaCache is the twin-page cache backing migrate.MetaPageCache, keyed by
// the source block address rather than (ino, bidx).
type MetaCache struct {
	mu    sync.Mutex
	pages map[segment.BlockAddr]*Page
}

// NewMetaCache builds an empty meta-page cache.
func NewMetaCache() *MetaCache {
	return &MetaCache{pages: make(map[segment.BlockAddr]*Page)}
}

func (c *MetaCache) GrabMetaPage(ctx context.Context, addr segment.BlockAddr) (migrate.DataPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pages[addr]
	if !ok {
		p = &Page{}
		c.pages[addr] = p
	}
	return p, nil
}

// SubmitRead simulates reading the ciphertext at addr into page; the demo
// backend has no real device, so this only marks the page populated.
func (c *MetaCache) SubmitRead(ctx context.Context, page migrate.DataPage, addr segment.BlockAddr) error {
	if p, ok := page.(*Page); ok {
		p.mu.Lock()
		p.cached = true
		p.mu.Unlock()
	}
	return nil
}

// SubmitSyncWrite simulates a synchronous write of page to addr and also
// files it under that destination address; its entry under the source
// address stays in place.
func (c *MetaCache) SubmitSyncWrite(ctx context.Context, page migrate.DataPage, addr segment.BlockAddr) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := page.(*Page); ok {
		p.mu.Lock()
		p.dirty = false
		p.mu.Unlock()
		c.pages[addr] = p
	}
	return nil
}
