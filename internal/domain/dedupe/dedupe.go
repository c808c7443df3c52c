// Package dedupe resolves multiple records for the same business key inside
// one batch into one effective transition, or an ordered sequence of
// transitions in full-fidelity mode.
package dedupe

import (
	"sort"
	"time"

	"github.com/dougwmorrow/open-sc/internal/domain/dimension"
)

// Mode selects how intra-batch duplicates are handled.
type Mode string

const (
	// ModeLastWriteWins collapses each key to the single winning record.
	ModeLastWriteWins Mode = "last_write_wins"

	// ModeFullFidelity keeps the ordered sequence of intra-batch
	// transitions; the writer materializes synthetic sub-intervals so no
	// intra-batch version is lost.
	ModeFullFidelity Mode = "full_fidelity"
)

// Policy configures deduplication.
type Policy struct {
	Mode Mode

	// DeleteWins flips the tie-break when a delete and an upsert for the
	// same key arrive at indistinguishable timestamps. Default false:
	// upsert outranks delete.
	DeleteWins bool
}

// DefaultPolicy returns last-write-wins with upsert-over-delete ties.
func DefaultPolicy() Policy {
	return Policy{Mode: ModeLastWriteWins}
}

// Deduplicator groups and orders raw records per business key.
type Deduplicator struct {
	policy Policy
}

// New creates a Deduplicator.
func New(policy Policy) *Deduplicator {
	if policy.Mode == "" {
		policy.Mode = ModeLastWriteWins
	}
	return &Deduplicator{policy: policy}
}

// Dedupe maps each business key to its ordered effective transitions.
// In last-write-wins mode every slice has exactly one element.
func (d *Deduplicator) Dedupe(records []dimension.ChangeRecord) map[string][]dimension.ChangeRecord {
	byKey := make(map[string][]dimension.ChangeRecord)
	for _, rec := range records {
		byKey[rec.BusinessKey] = append(byKey[rec.BusinessKey], rec)
	}

	for key, recs := range byKey {
		d.order(recs)
		if d.policy.Mode == ModeLastWriteWins && len(recs) > 1 {
			byKey[key] = recs[len(recs)-1:]
		} else {
			byKey[key] = recs
		}
	}
	return byKey
}

// order sorts records into effective application order, oldest first, so the
// last element is the winner. The order is a deterministic total order over
// (SourceTimestamp, operation priority, ingest sequence); ties on timestamp
// fall through to the operation-priority rule, then to arrival order.
func (d *Deduplicator) order(recs []dimension.ChangeRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]

		at, aok := sourceInstant(a)
		bt, bok := sourceInstant(b)
		if aok != bok {
			// Records without a source timestamp sort first: an explicit
			// timestamp always outranks an unknown one.
			return !aok
		}
		if aok && !at.Equal(bt) {
			return at.Before(bt)
		}

		// Indistinguishable timestamps: operation priority decides which
		// record wins (sorts later). By default upsert outranks delete.
		if a.Op() != b.Op() {
			aDelete := a.Op() == dimension.OpDelete
			if d.policy.DeleteWins {
				return !aDelete // delete sorts last, wins
			}
			return aDelete // upsert sorts last, wins
		}

		return a.Seq < b.Seq
	})
}

func sourceInstant(r dimension.ChangeRecord) (time.Time, bool) {
	if r.SourceTimestamp != nil {
		return *r.SourceTimestamp, true
	}
	return time.Time{}, false
}
