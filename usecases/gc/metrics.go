package gc

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the reclaim engine's Prometheus collectors. One instance
// is built per mount and threaded through the driver the same way
// segment_group.go threads its own *Metrics field. The driver updates
// SegmentsReclaimed, BlocksMigrated and NoVictim; nothing in this module
// observes VictimSearchLen or RoundDuration.
type Metrics struct {
	SegmentsReclaimed *prometheus.CounterVec
	BlocksMigrated    *prometheus.CounterVec
	VictimSearchLen   prometheus.Histogram
	RoundDuration     *prometheus.HistogramVec
	NoVictim          *prometheus.CounterVec
}

// NewMetrics constructs and registers the reclaim engine's collectors
// under namespace. Passing a nil registerer skips registration, which
// the tests use to avoid duplicate-registration panics across repeated
// constructions.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SegmentsReclaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_reclaimed_total",
			Help:      "Segments that reached zero live blocks and were freed, by gc type.",
		}, []string{"gc_type"}),
		BlocksMigrated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_migrated_total",
			Help:      "Blocks migrated out of victim segments, by footer kind.",
		}, []string{"footer"}),
		VictimSearchLen: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "victim_search_length",
			Help:      "Number of candidates examined by a single victim selection pass.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		RoundDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_duration_seconds",
			Help:      "Wall-clock duration of one f2fs_gc invocation, by gc type.",
		}, []string{"gc_type"}),
		NoVictim: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "no_victim_total",
			Help:      "Reclaim rounds that found no eligible victim, by gc type.",
		}, []string{"gc_type"}),
	}

	if reg != nil {
		reg.MustRegister(m.SegmentsReclaimed, m.BlocksMigrated, m.VictimSearchLen, m.RoundDuration, m.NoVictim)
	}
	return m
}
