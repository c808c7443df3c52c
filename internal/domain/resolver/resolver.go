// Package resolver implements the per-key state machine deciding how one
// deduplicated incoming transition changes a business key's version chain.
// Decisions are pure: no side effects, no storage access beyond the read of
// the key's latest version handed in by the caller.
package resolver

import (
	"fmt"
	"time"

	"github.com/dougwmorrow/open-sc/internal/domain/dimension"
)

// Action is the resolver's verdict for one key.
type Action string

const (
	ActionInsert    Action = "INSERT"
	ActionUpdate    Action = "UPDATE"
	ActionNoop      Action = "NOOP"
	ActionDelete    Action = "DELETE"
	ActionResurrect Action = "RESURRECT"
)

// Incoming is one deduplicated transition after canonicalization.
type Incoming struct {
	BusinessKey string
	Operation   dimension.OperationType

	// Attributes and ContentHash are the canonicalizer's output; empty for
	// deletes.
	Attributes  dimension.Attributes
	ContentHash string
}

// Decision is the tagged outcome the writer applies. Close names the version
// to close at the batch instant (exactly once, the only mutation a closed
// version ever receives); Insert is the new open version. Either may be nil.
type Decision struct {
	Action      Action
	BusinessKey string
	Close       *dimension.Version
	Insert      *dimension.Version
}

// Mutates reports whether the decision produces any write.
func (d Decision) Mutates() bool {
	return d.Close != nil || d.Insert != nil
}

// Resolve applies the transition table:
//
//	ABSENT  + upsert -> INSERT new CURRENT
//	ABSENT  + delete -> NOOP
//	CURRENT + upsert -> UPDATE when hash differs, NOOP when equal
//	CURRENT + delete -> DELETE: close current, open DELETED marker
//	DELETED + upsert -> RESURRECT: close marker, open CURRENT, count+1
//	DELETED + delete -> NOOP
//
// latest is the key's single latest version (CURRENT or DELETED) or nil for
// ABSENT. at is the batch instant captured once for the whole batch; every
// transition of the batch references it, never a per-row now.
func Resolve(latest *dimension.Version, in Incoming, batchID string, at time.Time) (Decision, error) {
	d := Decision{Action: ActionNoop, BusinessKey: in.BusinessKey}

	if latest != nil {
		if !latest.IsLatest() {
			return d, fmt.Errorf("resolver given non-latest version %s for key %s", latest.SurrogateKey, in.BusinessKey)
		}
		// A batch instant before the open version's start would close it
		// into a negative interval and break chain contiguity.
		if at.Before(latest.ValidFrom) {
			return d, fmt.Errorf("batch instant %s precedes open version start %s for key %s",
				at.Format(time.RFC3339Nano), latest.ValidFrom.Format(time.RFC3339Nano), in.BusinessKey)
		}
	}

	switch {
	case latest == nil && in.Operation == dimension.OpUpsert:
		v := dimension.NewCurrentVersion(in.BusinessKey, in.Attributes, in.ContentHash, batchID, at, 0)
		d.Action = ActionInsert
		d.Insert = &v

	case latest == nil && in.Operation == dimension.OpDelete:
		// Nothing to delete.

	case latest.State == dimension.StateCurrent && in.Operation == dimension.OpUpsert:
		if latest.ContentHash == in.ContentHash {
			return d, nil
		}
		closed := closeAt(latest, at)
		v := dimension.NewCurrentVersion(in.BusinessKey, in.Attributes, in.ContentHash, batchID, at, latest.ResurrectionCount)
		d.Action = ActionUpdate
		d.Close = closed
		d.Insert = &v

	case latest.State == dimension.StateCurrent && in.Operation == dimension.OpDelete:
		closed := closeAt(latest, at)
		marker := dimension.NewDeletedMarker(in.BusinessKey, latest.Attributes, latest.ContentHash, batchID, at, latest.ResurrectionCount)
		d.Action = ActionDelete
		d.Close = closed
		d.Insert = &marker

	case latest.State == dimension.StateDeleted && in.Operation == dimension.OpUpsert:
		closed := closeAt(latest, at)
		v := dimension.NewCurrentVersion(in.BusinessKey, in.Attributes, in.ContentHash, batchID, at, latest.ResurrectionCount+1)
		d.Action = ActionResurrect
		d.Close = closed
		d.Insert = &v

	case latest.State == dimension.StateDeleted && in.Operation == dimension.OpDelete:
		// Already deleted.

	default:
		return d, fmt.Errorf("unhandled transition: state=%s op=%s key=%s", latest.State, in.Operation, in.BusinessKey)
	}

	return d, nil
}

// ResolveSequence folds an ordered full-fidelity transition sequence for one
// key into decisions with synthetic sub-intervals: each intermediate version
// is closed at the batch instant by its successor, so no intra-batch version
// is lost and the chain stays contiguous. Intermediates never hit storage
// open: a version both produced and superseded inside the batch is folded
// into its insert decision already closed, so the writer's close phase only
// ever targets rows that exist before the batch.
func ResolveSequence(latest *dimension.Version, seq []Incoming, batchID string, at time.Time) ([]Decision, error) {
	decisions := make([]Decision, 0, len(seq))
	head := latest
	headInserted := false // head was produced by this batch, not read from storage
	for _, in := range seq {
		d, err := Resolve(head, in, batchID, at)
		if err != nil {
			return nil, err
		}
		if d.Close != nil && headInserted {
			// Fold the close into the pending insert of the same batch.
			prev := &decisions[len(decisions)-1]
			prev.Insert.ValidTo = d.Close.ValidTo
			prev.Insert.State = dimension.StateHistorical
			d.Close = nil
		}
		if d.Insert != nil {
			head = d.Insert
			headInserted = true
		}
		if d.Mutates() {
			decisions = append(decisions, d)
		}
	}
	return decisions, nil
}

// closeAt produces the closed (HISTORICAL) copy of the open version. ValidTo
// is set exactly once, here; the writer persists it as a set-oriented update.
func closeAt(v *dimension.Version, at time.Time) *dimension.Version {
	closed := *v
	closed.Attributes = v.Attributes.Clone()
	closed.ValidTo = at
	closed.State = dimension.StateHistorical
	return &closed
}
