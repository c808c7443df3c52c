// Package dimension defines the data model of the temporal versioning engine:
// attribute versions with half-open validity intervals, change batches, and
// checkpoints for idempotent apply.
package dimension

import (
	"time"

	"github.com/dougwmorrow/open-sc/internal/core/id"
)

// ActiveState classifies a version row within its key's history.
type ActiveState string

const (
	// StateCurrent marks the open version carrying the key's live attributes.
	StateCurrent ActiveState = "CURRENT"

	// StateHistorical marks a closed version superseded by a later one.
	StateHistorical ActiveState = "HISTORICAL"

	// StateDeleted marks the open tombstone version of a deleted key.
	StateDeleted ActiveState = "DELETED"
)

// OpenEnded is the reserved ValidTo sentinel for still-current versions.
// A far-future instant rather than NULL so interval predicates stay sargable
// and the half-open convention holds uniformly.
var OpenEnded = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// Attributes is the typed attribute set of an entity at one point in time.
// Stored as JSONB; attribute order is irrelevant, the canonicalizer sorts names
// before hashing.
type Attributes map[string]any

// Clone returns a shallow copy.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Version is one immutable historical record of an entity's attributes for a
// time range. Versions are created only by the writer acting on a resolver
// decision, closed (ValidTo set) exactly once by a later batch, and never
// physically deleted except by compliance erasure, which overwrites attribute
// values in place while preserving the temporal chain.
type Version struct {
	// SurrogateKey is assigned once, never reused.
	SurrogateKey id.ID `db:"surrogate_key" json:"surrogateKey"`

	// BusinessKey is the stable external identifier of the entity.
	BusinessKey string `db:"business_key" json:"businessKey"`

	Attributes Attributes `db:"attributes" json:"attributes"`

	// ContentHash is the canonical fingerprint of Attributes, hex-encoded.
	ContentHash string `db:"content_hash" json:"contentHash"`

	// ValidFrom is inclusive, ValidTo exclusive. ValidTo == OpenEnded means
	// still current.
	ValidFrom time.Time `db:"valid_from" json:"validFrom"`
	ValidTo   time.Time `db:"valid_to" json:"validTo"`

	State ActiveState `db:"state" json:"state"`

	// BatchID is the batch that produced this version.
	BatchID string `db:"batch_id" json:"batchId"`

	// ResurrectionCount is the number of DELETED -> CURRENT transitions this
	// BusinessKey has gone through up to and including this version.
	ResurrectionCount int `db:"resurrection_count" json:"resurrectionCount"`
}

// IsOpen reports whether the version's interval is still open-ended.
func (v *Version) IsOpen() bool {
	return v.ValidTo.Equal(OpenEnded)
}

// IsLatest reports whether this version is its key's single latest row
// (the one the resolver reads as current state).
func (v *Version) IsLatest() bool {
	return v.State == StateCurrent || v.State == StateDeleted
}

// Covers reports whether asOf falls inside the half-open validity interval.
func (v *Version) Covers(asOf time.Time) bool {
	return !asOf.Before(v.ValidFrom) && asOf.Before(v.ValidTo)
}

// NewCurrentVersion builds an open CURRENT version starting at the batch instant.
func NewCurrentVersion(businessKey string, attrs Attributes, contentHash string, batchID string, at time.Time, resurrections int) Version {
	return Version{
		SurrogateKey:      id.New(),
		BusinessKey:       businessKey,
		Attributes:        attrs,
		ContentHash:       contentHash,
		ValidFrom:         at,
		ValidTo:           OpenEnded,
		State:             StateCurrent,
		BatchID:           batchID,
		ResurrectionCount: resurrections,
	}
}

// NewDeletedMarker builds the open tombstone version opened when a key is
// deleted. It carries the last known attributes so the audit chain stays
// complete across the gap.
func NewDeletedMarker(businessKey string, attrs Attributes, contentHash string, batchID string, at time.Time, resurrections int) Version {
	return Version{
		SurrogateKey:      id.New(),
		BusinessKey:       businessKey,
		Attributes:        attrs,
		ContentHash:       contentHash,
		ValidFrom:         at,
		ValidTo:           OpenEnded,
		State:             StateDeleted,
		BatchID:           batchID,
		ResurrectionCount: resurrections,
	}
}
