package txn

import (
	"time"
)

// NewRecord returns a pending record with a single submitted timeline entry.
func NewRecord(signature string, route Route, payer string, tipLamports *uint64, now time.Time) Record {
	return Record{
		Signature:   signature,
		Route:       route,
		RouteUsed:   route,
		Status:      StatusPending,
		Payer:       payer,
		TipLamports: clonePtr(tipLamports),
		CreatedAt:   now,
		UpdatedAt:   now,
		Timeline: []TimelineEntry{
			{Phase: PhaseSubmitted, Timestamp: now},
		},
	}
}

// Merge reconciles a provider update into cur and returns the new record.
// cur is not modified. A phase already on the timeline is never appended again,
// so merging the same update twice yields the same record as merging it once.
func Merge(cur Record, upd StatusUpdate, now time.Time) Record {
	next := cur.Clone()

	if upd.Status != "" {
		next.Status = upd.Status
	}

	entry := TimelineEntry{
		Phase:     next.Status.Phase(),
		Timestamp: now,
		Slot:      clonePtr(upd.Slot),
	}
	if upd.ConfirmTime != nil {
		entry.Timestamp = *upd.ConfirmTime
		entry.LatencyMs = Ptr(upd.ConfirmTime.Sub(cur.CreatedAt).Milliseconds())
	}
	next.Timeline = appendPhase(next.Timeline, entry)

	// Refunds surface on a later poll than the landing, so they are stamped now.
	if upd.Refund != nil && *upd.Refund {
		next.Timeline = appendPhase(next.Timeline, TimelineEntry{
			Phase:     PhaseRefunded,
			Timestamp: now,
			Slot:      clonePtr(upd.Slot),
		})
	}

	if upd.Slot != nil {
		next.Slot = clonePtr(upd.Slot)
	}
	if upd.Refund != nil {
		next.Refund = clonePtr(upd.Refund)
	}
	if upd.TipLamports != nil {
		next.TipLamports = clonePtr(upd.TipLamports)
	}
	if upd.RouteUsed != "" {
		next.RouteUsed = upd.RouteUsed
	}
	if upd.Error != "" {
		next.Error = upd.Error
	}

	// First write wins.
	if next.ConfirmTime == nil {
		switch {
		case upd.ConfirmTime != nil:
			next.ConfirmTime = clonePtr(upd.ConfirmTime)
		case next.Status.IsTerminal():
			next.ConfirmTime = Ptr(now)
		}
	}

	next.UpdatedAt = now
	return next
}

func appendPhase(timeline []TimelineEntry, entry TimelineEntry) []TimelineEntry {
	for _, e := range timeline {
		if e.Phase == entry.Phase {
			return timeline
		}
	}
	return append(timeline, entry)
}
