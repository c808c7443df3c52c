package dimension

import (
	"context"
	"time"

	"github.com/dougwmorrow/open-sc/internal/core/apperror"
)

// OperationType classifies an incoming change record.
type OperationType string

const (
	OpUpsert OperationType = "UPSERT"
	OpDelete OperationType = "DELETE"
)

// BatchStatus tracks a batch through the checkpoint store.
type BatchStatus string

const (
	BatchPending BatchStatus = "PENDING"
	BatchApplied BatchStatus = "APPLIED"
	BatchFailed  BatchStatus = "FAILED"
)

// ChangeRecord is one raw change delivered by the extraction collaborator.
type ChangeRecord struct {
	BusinessKey string     `json:"businessKey"`
	Attributes  Attributes `json:"attributes"`

	// SourceTimestamp orders records within a batch; nil means unknown.
	SourceTimestamp *time.Time `json:"sourceTimestamp,omitempty"`

	// Operation defaults to UPSERT when empty.
	Operation OperationType `json:"operationType,omitempty"`

	// Seq is the ingest sequence assigned on arrival, the deterministic
	// tie-break when source timestamps collide.
	Seq int `json:"-"`
}

// Op returns the effective operation, defaulting to UPSERT.
func (r *ChangeRecord) Op() OperationType {
	if r.Operation == "" {
		return OpUpsert
	}
	return r.Operation
}

// Validate checks record invariants before canonicalization.
func (r *ChangeRecord) Validate(ctx context.Context) error {
	if r.BusinessKey == "" {
		return apperror.NewValidation("business key is required").
			WithDetail("field", "businessKey")
	}
	switch r.Op() {
	case OpUpsert, OpDelete:
	default:
		return apperror.NewValidation("unknown operation type").
			WithDetail("field", "operationType").
			WithDetail("value", string(r.Operation))
	}
	return nil
}

// Batch groups the change records applied under one pre-captured instant.
type Batch struct {
	ID string `db:"batch_id" json:"batchId"`

	// Timestamp is captured once and stamped on every transition the batch
	// produces. Never a per-row now().
	Timestamp time.Time `db:"batch_ts" json:"batchTimestamp"`

	// SourceWatermark is the extraction-side high-water mark this batch covers.
	SourceWatermark string `db:"source_watermark" json:"sourceWatermark,omitempty"`

	Status BatchStatus `db:"status" json:"status"`
}

// RowError reports a single record that failed canonicalization or validation.
type RowError struct {
	BusinessKey string `json:"businessKey"`
	Seq         int    `json:"seq"`
	Code        string `json:"code"`
	Message     string `json:"message"`
}

// BatchResult is the outcome of applying one batch. Cached in the checkpoint
// store so replaying an APPLIED batch returns the original result verbatim.
type BatchResult struct {
	BatchID               string     `json:"batchId"`
	Applied               int        `json:"applied"`
	Inserted              int        `json:"inserted"`
	Updated               int        `json:"updated"`
	Deleted               int        `json:"deleted"`
	Resurrected           int        `json:"resurrected"`
	Noops                 int        `json:"noops"`
	Filtered              int        `json:"filtered"`
	SkippedDuplicateBatch bool       `json:"skippedDuplicateBatch"`
	PerRowErrors          []RowError `json:"perRowErrors,omitempty"`

	// FlaggedKeys lists business keys the post-commit validator flagged;
	// their reads are blocked pending repair.
	FlaggedKeys []string `json:"flaggedKeys,omitempty"`
}

// Checkpoint is the durable marker of the last successfully committed batch.
type Checkpoint struct {
	BatchID     string      `db:"batch_id"`
	Watermark   string      `db:"source_watermark"`
	Status      BatchStatus `db:"status"`
	Result      []byte      `db:"result"` // BatchResult JSON, replayed verbatim
	CommittedAt time.Time   `db:"committed_at"`
}
