package txn

import (
	"time"
)

// Route identifies a submission path for a transaction.
type Route string

const (
	RouteRPC      Route = "rpc"
	RouteJito     Route = "jito"
	RouteParallel Route = "parallel"

	// Routes reported by a live gateway rather than requested by a caller.
	RouteTPG  Route = "tpg"
	RouteMock Route = "mock"
)

// RequestedRoutes are the routes a caller may ask for when submitting.
var RequestedRoutes = []Route{RouteRPC, RouteJito, RouteParallel}

// IsRequestable reports whether r may be requested by a caller.
func (r Route) IsRequestable() bool {
	switch r {
	case RouteRPC, RouteJito, RouteParallel:
		return true
	}
	return false
}

// Status is the lifecycle state of a tracked transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusForwarded Status = "forwarded"
	StatusLanded    Status = "landed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether no further lifecycle transition is expected.
func (s Status) IsTerminal() bool {
	return s == StatusLanded || s == StatusFailed
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusForwarded, StatusLanded, StatusFailed:
		return true
	}
	return false
}

// rank orders statuses along the expected lifecycle. Landed and failed share a rank.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusForwarded:
		return 1
	case StatusLanded, StatusFailed:
		return 2
	}
	return -1
}

// IsRegression reports whether moving from s to next goes backwards in the lifecycle,
// including a flip between the two terminal outcomes.
func (s Status) IsRegression(next Status) bool {
	if s.IsTerminal() && next.IsTerminal() {
		return s != next
	}
	return next.rank() < s.rank()
}

// Phase is a timeline milestone. Refunded is an overlay and never a Status.
type Phase string

const (
	PhaseSubmitted Phase = "submitted"
	PhaseForwarded Phase = "forwarded"
	PhaseLanded    Phase = "landed"
	PhaseFailed    Phase = "failed"
	PhaseRefunded  Phase = "refunded"
)

// Phase returns the timeline phase recorded for a status.
func (s Status) Phase() Phase {
	switch s {
	case StatusForwarded:
		return PhaseForwarded
	case StatusLanded:
		return PhaseLanded
	case StatusFailed:
		return PhaseFailed
	default:
		return PhaseSubmitted
	}
}

// TimelineEntry records when a phase was first observed.
type TimelineEntry struct {
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Slot      *uint64   `json:"slot,omitempty"`
	LatencyMs *int64    `json:"latency_ms,omitempty"`
	Note      string    `json:"note,omitempty"`
}

// Record is the tracked lifecycle state of one signature.
type Record struct {
	Signature   string          `json:"signature"`
	Route       Route           `json:"route"`
	RouteUsed   Route           `json:"route_used,omitempty"`
	Status      Status          `json:"status"`
	Payer       string          `json:"payer,omitempty"`
	Slot        *uint64         `json:"slot,omitempty"`
	ConfirmTime *time.Time      `json:"confirm_time,omitempty"`
	Refund      *bool           `json:"refund,omitempty"`
	TipLamports *uint64         `json:"tip_lamports,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Timeline    []TimelineEntry `json:"timeline"`
}

// HasPhase reports whether the timeline already contains p.
func (r Record) HasPhase(p Phase) bool {
	for _, e := range r.Timeline {
		if e.Phase == p {
			return true
		}
	}
	return false
}

// Latency returns the confirmation delay, if a confirm time was observed.
func (r Record) Latency() (time.Duration, bool) {
	if r.ConfirmTime == nil {
		return 0, false
	}
	return r.ConfirmTime.Sub(r.CreatedAt), true
}

// Clone returns a deep copy so callers never share pointers or the timeline backing array.
func (r Record) Clone() Record {
	out := r
	out.Slot = clonePtr(r.Slot)
	out.ConfirmTime = clonePtr(r.ConfirmTime)
	out.Refund = clonePtr(r.Refund)
	out.TipLamports = clonePtr(r.TipLamports)
	if r.Timeline != nil {
		out.Timeline = make([]TimelineEntry, len(r.Timeline))
		for i, e := range r.Timeline {
			e.Slot = clonePtr(e.Slot)
			e.LatencyMs = clonePtr(e.LatencyMs)
			out.Timeline[i] = e
		}
	}
	return out
}

// StatusUpdate is a provider response. Empty strings and nil pointers mean "not reported".
type StatusUpdate struct {
	Signature   string     `json:"signature"`
	Status      Status     `json:"status,omitempty"`
	Slot        *uint64    `json:"slot,omitempty"`
	ConfirmTime *time.Time `json:"confirm_time,omitempty"`
	Refund      *bool      `json:"refund,omitempty"`
	TipLamports *uint64    `json:"tip_lamports,omitempty"`
	RouteUsed   Route      `json:"route_used,omitempty"`
	Error       string     `json:"error,omitempty"`
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
