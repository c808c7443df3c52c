package engine

import (
	"context"
	"time"

	"github.com/dougwmorrow/open-sc/internal/core/id"
	"github.com/dougwmorrow/open-sc/internal/domain/dimension"
)

// Close is one entry of the writer's close phase: set ValidTo exactly once on
// an open version and demote it to HISTORICAL.
type Close struct {
	SurrogateKey id.ID
	ValidTo      time.Time
}

// Rewrite overwrites a version's attribute values in place. Used only by
// compliance erasure; the temporal chain (intervals, states, surrogate keys)
// is untouched.
type Rewrite struct {
	SurrogateKey id.ID
	Attributes   dimension.Attributes
	ContentHash  string
}

// VersionStore is the engine's view of the version table.
//
// ApplyTransitions must be atomic per call: all closes as one set-oriented
// update, then all inserts as one set-oriented insert, both inside one
// transaction. The engine chunks large batches into multiple calls.
type VersionStore interface {
	// LatestByKeys returns each key's single latest version (CURRENT or
	// DELETED). Keys with no versions are absent from the map.
	LatestByKeys(ctx context.Context, keys []string) (map[string]dimension.Version, error)

	// ApplyTransitions runs the two-phase close-then-insert apply.
	ApplyTransitions(ctx context.Context, closes []Close, inserts []dimension.Version) error

	// HistoryByKeys returns the full version chain per key, unordered.
	HistoryByKeys(ctx context.Context, keys []string) (map[string][]dimension.Version, error)

	// AllKeys lists every business key, for on-demand full validation.
	AllKeys(ctx context.Context) ([]string, error)

	// PointInTime returns the version covering asOf, or nil.
	PointInTime(ctx context.Context, businessKey string, asOf time.Time) (*dimension.Version, error)

	// CurrentSnapshot streams all CURRENT versions to fn. A non-nil error
	// from fn stops the stream.
	CurrentSnapshot(ctx context.Context, fn func(dimension.Version) error) error

	// RewriteVersions applies compliance-erasure overwrites.
	RewriteVersions(ctx context.Context, rewrites []Rewrite) error
}

// CheckpointStore tracks batch application for idempotent retry and resume.
type CheckpointStore interface {
	// Applied returns the stored checkpoint when the batch is APPLIED,
	// nil otherwise.
	Applied(ctx context.Context, batchID string) (*dimension.Checkpoint, error)

	// Begin registers the batch as PENDING before the writer runs.
	Begin(ctx context.Context, batch dimension.Batch) error

	// Commit marks the batch APPLIED with its result, replayed verbatim on
	// duplicate application.
	Commit(ctx context.Context, batchID string, result dimension.BatchResult) error

	// Fail marks the batch FAILED; such a batch is safe to retry in full.
	Fail(ctx context.Context, batchID string) error

	// LastApplied returns the most recent APPLIED checkpoint, nil if none.
	LastApplied(ctx context.Context) (*dimension.Checkpoint, error)
}

// ScopeLocker serializes batch application per entity scope. Disjoint scopes
// proceed in parallel; within one scope there is a single writer.
type ScopeLocker interface {
	// Acquire takes the advisory lock for scope or fails with a
	// ConflictError once timeout elapses. The returned release is called
	// exactly once.
	Acquire(ctx context.Context, scope string, timeout time.Duration) (release func(), err error)
}

// BlockStore is the read-block list fed by integrity findings. Blocked keys
// refuse downstream reads until an explicit repair clears them.
type BlockStore interface {
	Block(ctx context.Context, keys []string, reason string) error
	Unblock(ctx context.Context, keys []string) error
	IsBlocked(ctx context.Context, businessKey string) (bool, error)
	BlockedKeys(ctx context.Context) ([]string, error)
}

// ArchiveStore journals raw batch payloads for replay and audit.
type ArchiveStore interface {
	SaveBatch(ctx context.Context, batch dimension.Batch, payload []byte) error
}
