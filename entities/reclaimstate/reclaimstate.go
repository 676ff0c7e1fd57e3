// Package reclaimstate holds the small enums that describe a reclaim
// round's configuration and lifecycle, playing the same role
// entities/storagestate plays for the teacher's segment group status.
package reclaimstate

// AllocMode selects how the victim selector scans the dirty set
// (spec.md §4.1).
type AllocMode int

const (
	// LFS (log-structured) allocates a whole section at a time.
	LFS AllocMode = iota
	// SSR (slack-space recycling) allocates into partially-valid segments.
	SSR
)

func (m AllocMode) String() string {
	if m == SSR {
		return "SSR"
	}
	return "LFS"
}

// GCType distinguishes a best-effort background round from a
// must-make-progress foreground round.
type GCType int

const (
	BG GCType = iota
	FG
)

func (t GCType) String() string {
	if t == FG {
		return "FG"
	}
	return "BG"
}

// GCMode is the cost function family used by the selector.
type GCMode int

const (
	Greedy GCMode = iota
	CostBenefit
)

func (m GCMode) String() string {
	if m == CostBenefit {
		return "cost-benefit"
	}
	return "greedy"
}

// IdleMode configures the victim selector's gc_idle override
// (victim.Tunables.GCIdle; spec.md §4.1 "gc_idle override").
type IdleMode int

const (
	IdleAuto IdleMode = iota
	IdleCostBenefit
	IdleGreedy
)

// RoundState names the points in the state machine diagrammed in
// spec.md §4.4. It exists purely for observability: tests and the
// background reclaimer's logging can assert on the sequence of states a
// round passes through.
type RoundState int

const (
	Idle RoundState = iota
	Selecting
	Migrating
	CheckpointPending
)

func (s RoundState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Selecting:
		return "selecting"
	case Migrating:
		return "migrating"
	case CheckpointPending:
		return "checkpoint_pending"
	default:
		return "unknown"
	}
}
