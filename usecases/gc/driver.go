// Package gc implements the GC driver and f2fs_gc-equivalent outer loop
// (spec.md §4.4), the background reclaimer (spec.md §4.5), and the
// collaborator interfaces that bridge the policy/migration adapters to a
// concrete mount. It plays the role segment_group.go plays for the
// teacher's LSM store: the usecase that orchestrates storage-layer
// adapters under a mount-global lock.
package gc

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/watersir/f2fs-change/adapters/dirtysegmap"
	"github.com/watersir/f2fs-change/adapters/migrate"
	"github.com/watersir/f2fs-change/adapters/segstore"
	"github.com/watersir/f2fs-change/adapters/victim"
	"github.com/watersir/f2fs-change/entities/reclaimstate"
	"github.com/watersir/f2fs-change/entities/segment"
)

// ErrNoProgress is returned by Gc when sync=true and the round freed
// nothing (spec.md §4.4 "-EAGAIN for sync mode that freed nothing").
var ErrNoProgress = errors.New("gc: sync round made no progress")

// ErrUnavailable is returned by Gc when the mount is unmounting or has a
// latched checkpoint error (spec.md §4.4 "-EINVAL if unmounting or
// checkpoint-error latched").
var ErrUnavailable = errors.New("gc: unmounting or checkpoint error latched")

// SummaryHandle is a locked summary-block read. Unlock must be called as
// soon as the block's contents have been copied out, before migration
// begins (spec.md §4.4 step 2, §5 "summary-page deadlock avoidance").
type SummaryHandle interface {
	Block() segment.SummaryBlock
	Unlock()
}

// SummarySource fetches a victim segment's summary block under lock.
type SummarySource interface {
	LockSummaryPage(ctx context.Context, segno segment.No) (SummaryHandle, error)
}

// Checkpointer forces a checkpoint write and reports a latched checkpoint
// error, mirroring f2fs_sync_fs/f2fs_cp_error (spec.md §4.4, §6).
type Checkpointer interface {
	ForceCheckpoint(ctx context.Context) error
	CheckpointErrored() bool
}

// MountState reports shutdown-adjacent conditions the driver must respect.
type MountState interface {
	Unmounting() bool
}

// Driver orchestrates one mount's reclaim rounds: victim selection, summary
// fetch, migration dispatch, and the BG-to-FG escalation loop.
type Driver struct {
	log logrus.FieldLogger

	sit      *segstore.SIT
	dirty    *dirtysegmap.Map
	selector *victim.Selector
	geo      migrate.NodeTreeGeometry
	col      migrate.Collaborators

	summaries SummarySource
	ckpt      Checkpointer
	mount     MountState
	metrics   *Metrics

	cfg Tunables
}

// Tunables configures the driver (spec.md §6 "Tunables"; the reclaimer's
// sleep knobs are held in reclaimer.go, and gc_idle / max_victim_search in
// victim.Tunables).
type Tunables struct {
	AllocMode reclaimstate.AllocMode
}

// NewDriver builds a Driver over the given adapters.
func NewDriver(
	log logrus.FieldLogger,
	sit *segstore.SIT,
	dirty *dirtysegmap.Map,
	selector *victim.Selector,
	geo migrate.NodeTreeGeometry,
	col migrate.Collaborators,
	summaries SummarySource,
	ckpt Checkpointer,
	mount MountState,
	metrics *Metrics,
	cfg Tunables,
) *Driver {
	return &Driver{
		log: log, sit: sit, dirty: dirty, selector: selector, geo: geo,
		col: col, summaries: summaries, ckpt: ckpt, mount: mount,
		metrics: metrics, cfg: cfg,
	}
}

// doGarbageCollect migrates every still-live block out of segno and
// reports whether it freed (spec.md §4.4 "do_garbage_collect").
func (d *Driver) doGarbageCollect(ctx context.Context, segno segment.No, gcType reclaimstate.GCType) (freed bool, err error) {
	handle, err := d.summaries.LockSummaryPage(ctx, segno)
	if err != nil {
		return false, errors.Wrapf(err, "lock summary page for segno %d", segno)
	}
	sum := handle.Block()
	// Unlock before migrating: holding the summary page across migration
	// would deadlock against the allocator rewriting the summary under
	// sentry_lock (spec.md §4.4 step 2, §5).
	handle.Unlock()

	switch sum.Footer {
	case segment.FooterNode:
		freed, err = migrate.NodeSegment(ctx, d.log, d.sit, d.col, segno, sum, gcType)
		if err == nil {
			d.metrics.BlocksMigrated.WithLabelValues("node").Add(float64(len(sum.Entries)))
		}
	case segment.FooterData:
		remapAllowed := gcType == reclaimstate.BG
		freed, err = migrate.DataSegment(ctx, d.log, d.sit, d.geo, d.col, segno, sum, gcType, remapAllowed)
		if err == nil {
			d.metrics.BlocksMigrated.WithLabelValues("data").Add(float64(len(sum.Entries)))
		}
	default:
		return false, errors.Errorf("unknown summary footer %v for segno %d", sum.Footer, segno)
	}
	if err != nil {
		return false, err
	}
	if freed {
		d.metrics.SegmentsReclaimed.WithLabelValues(gcType.String()).Inc()
	}
	return freed, nil
}

// Gc runs one f2fs_gc-equivalent burst (spec.md §4.4 "f2fs_gc(sync)").
// sync forces foreground mode and a post-pass checkpoint.
func (d *Driver) Gc(ctx context.Context, sync bool) error {
	if d.mount.Unmounting() || d.ckpt.CheckpointErrored() {
		return ErrUnavailable
	}

	roundID := uuid.New()
	log := d.log.WithFields(logrus.Fields{"round_id": roundID, "sync": sync})

	gcType := reclaimstate.BG
	if sync {
		gcType = reclaimstate.FG
	}

	log.Debug("starting gc round")

	secFreed := 0
	for {
		if d.mount.Unmounting() || d.ckpt.CheckpointErrored() {
			return ErrUnavailable
		}

		escalated := false
		if gcType == reclaimstate.BG && d.col.FreeSecs != nil && d.col.FreeSecs.HasNotEnoughFreeSecs(secFreed) {
			log.Debug("escalating round from bg to fg: not enough free sections")
			gcType = reclaimstate.FG
			escalated = true
		}

		req := victim.Request{AllocMode: d.cfg.AllocMode, GCType: gcType}
		segno, ok := d.selector.Select(req)
		if !ok {
			d.metrics.NoVictim.WithLabelValues(gcType.String()).Inc()
			log.Debug("round ending: no victim found")
			if sync && secFreed == 0 {
				return ErrNoProgress
			}
			if gcType == reclaimstate.FG {
				if err := d.ckpt.ForceCheckpoint(ctx); err != nil {
					return errors.Wrap(err, "force checkpoint on no-victim FG exit")
				}
			}
			return nil
		}
		log.WithField("segno", segno).Debug("selected victim section")

		// A forced checkpoint here is scoped to the BG-to-FG escalation
		// itself (spec.md §4.4, gc.c "if (gc_type == BG_GC &&
		// has_not_enough_free_secs(...)) { gc_type = FG_GC; ...
		// write_checkpoint(...); }"): an ordinary BG round, or an FG/sync
		// round that never needed to escalate, must not force one here.
		if escalated {
			if err := d.ckpt.ForceCheckpoint(ctx); err != nil {
				return errors.Wrap(err, "force checkpoint before migrating victim section")
			}
		}

		sectionFreed := true
		for i := uint32(0); i < d.sit.SegsPerSec(); i++ {
			freed, err := d.doGarbageCollect(ctx, segno+segment.No(i), gcType)
			if err != nil {
				return errors.Wrapf(err, "garbage collect segno %d", segno+segment.No(i))
			}
			if !freed {
				sectionFreed = false
				if gcType == reclaimstate.FG {
					// The remaining segments of this section are presumed
					// expensive; abort the section rather than keep paying
					// for it (spec.md §4.4 "On FG, abort the section at the
					// first segment that fails to free").
					break
				}
			}
		}

		if sectionFreed && gcType == reclaimstate.FG {
			secFreed++
			d.selector.ClearCurVictimSec()
		}

		if sync {
			if gcType == reclaimstate.FG {
				if err := d.ckpt.ForceCheckpoint(ctx); err != nil {
					return err
				}
			}
			if secFreed == 0 {
				return ErrNoProgress
			}
			return nil
		}

		if d.col.FreeSecs == nil || !d.col.FreeSecs.HasNotEnoughFreeSecs(secFreed) {
			if gcType == reclaimstate.FG {
				return d.ckpt.ForceCheckpoint(ctx)
			}
			return nil
		}
	}
}
