package main

import (
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/watersir/f2fs-change/adapters/dirtysegmap"
	"github.com/watersir/f2fs-change/adapters/migrate"
	"github.com/watersir/f2fs-change/adapters/segstore"
	"github.com/watersir/f2fs-change/adapters/victim"
	"github.com/watersir/f2fs-change/entities/reclaimstate"
	"github.com/watersir/f2fs-change/entities/segment"
	"github.com/watersir/f2fs-change/internal/demo"
	gc "github.com/watersir/f2fs-change/usecases/gc"
)

const (
	demoBlocksPerSeg = 512
	demoSegsPerSec   = 1
	demoMainSegs     = 64
)

// env bundles one demo mount's worth of constructed adapters, wired the
// same way a real mount would wire them in usecases/gc.
type env struct {
	sit      *segstore.SIT
	dirty    *dirtysegmap.Map
	selector *victim.Selector
	driver   *gc.Driver

	conditions *demo.Conditions
	checkpoint *demo.Checkpoint
	mount      *demo.Mount
	metrics    *gc.Metrics
	gcMutex    *semaphore.Weighted
}

// buildEnv constructs a fresh demo mount with a handful of randomly
// populated dirty segments, so trigger/start have something to reclaim.
func buildEnv(log logrus.FieldLogger) *env {
	sit := segstore.New(demoBlocksPerSeg, demoSegsPerSec)
	dirty := dirtysegmap.New(demoMainSegs)
	conditions := demo.NewConditions()

	nodes := demo.NewNodeStore()
	inodes := demo.NewInodeStore()
	pages := demo.NewPageCache()
	meta := demo.NewMetaCache()
	summaries := demo.NewSummaryStore()
	freeSecs := demo.NewFreeSecsGauge(demoMainSegs/demoSegsPerSec, 4)
	allocator := demo.NewAllocator(sit, segment.BlockAddr(demoMainSegs*demoBlocksPerSeg))

	rng := rand.New(rand.NewSource(1))
	for segno := segment.No(0); segno < demoMainSegs; segno++ {
		seg := segment.NewSegment(segno, segment.FooterData, segment.DirtyGeneric)
		seg.MTime = uint64(time.Now().Add(-time.Duration(rng.Intn(3600)) * time.Second).Unix())

		entries := make([]segment.SummaryEntry, demoBlocksPerSeg)
		live := rng.Intn(demoBlocksPerSeg / 2)
		for k := 0; k < live; k++ {
			nid := segment.NID(uint32(segno)*1000 + uint32(k) + 1)
			ino := segment.Ino(uint32(segno) + 1)
			node := demo.NewNode(1, ino, 0)
			node.SetDataBlockAddr(uint16(k), segment.StartBlock(segno, demoBlocksPerSeg)+segment.BlockAddr(k))
			nodes.Install(nid, node)
			inodes.Install(demo.NewInode(ino, false))
			entries[k] = segment.SummaryEntry{NID: nid, OfsInNode: uint16(k), Version: 1}
			seg.Validate(uint32(k))
		}
		sit.Install(seg)
		summaries.Install(segno, segment.SummaryBlock{Footer: segment.FooterData, Entries: entries})
		dirty.MarkDirty(segment.DirtyGeneric, segno)
	}

	selector := victim.New(dirty, sit, conditions, victim.Tunables{
		GCIdle:          reclaimstate.IdleAuto,
		MaxVictimSearch: 16,
	})

	col := migrate.Collaborators{
		Nodes:    nodes,
		Inodes:   inodes,
		Pages:    pages,
		Meta:     meta,
		Alloc:    allocator,
		FreeSecs: freeSecs,
	}
	geo := migrate.NodeTreeGeometry{NIDsPerBlock: 1018, AddrsPerBlock: 1018, AddrsPerInode: 923}

	checkpoint := demo.NewCheckpoint()
	mount := demo.NewMount()
	metrics := gc.NewMetrics("gcctl", prometheus.NewRegistry())

	driver := gc.NewDriver(log, sit, dirty, selector, geo, col, summaries, checkpoint, mount, metrics, gc.Tunables{
		AllocMode: reclaimstate.LFS,
	})

	return &env{
		sit: sit, dirty: dirty, selector: selector, driver: driver,
		conditions: conditions, checkpoint: checkpoint, mount: mount,
		metrics: metrics, gcMutex: semaphore.NewWeighted(1),
	}
}
