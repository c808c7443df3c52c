package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dougwmorrow/open-sc/internal/domain/dimension"
	"github.com/dougwmorrow/open-sc/internal/domain/engine"
)

// Compile-time check that CheckpointRepo implements engine.CheckpointStore.
var _ engine.CheckpointStore = (*CheckpointRepo)(nil)

// CheckpointRepo persists batch application markers. A batch's lifecycle is
// PENDING on Begin, then APPLIED with the cached result or FAILED. Replaying
// an APPLIED batch short-circuits in the engine with the stored result.
type CheckpointRepo struct {
	txm *TxManager
}

// NewCheckpointRepo creates the checkpoint repository.
func NewCheckpointRepo(txm *TxManager) *CheckpointRepo {
	return &CheckpointRepo{txm: txm}
}

// Applied returns the checkpoint when the batch is APPLIED, nil otherwise.
func (r *CheckpointRepo) Applied(ctx context.Context, batchID string) (*dimension.Checkpoint, error) {
	var cp dimension.Checkpoint
	err := r.txm.GetQuerier(ctx).QueryRow(ctx, `
		SELECT batch_id, source_watermark, status, result, committed_at
		FROM sys_checkpoint
		WHERE batch_id = $1 AND status = $2
	`, batchID, dimension.BatchApplied).Scan(
		&cp.BatchID, &cp.Watermark, &cp.Status, &cp.Result, &cp.CommittedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select checkpoint: %w", err)
	}
	return &cp, nil
}

// Begin registers the batch as PENDING. Re-running a FAILED or interrupted
// batch resets its marker; the upsert never downgrades an APPLIED one, that
// case is filtered out by the engine's replay check beforehand.
func (r *CheckpointRepo) Begin(ctx context.Context, batch dimension.Batch) error {
	now := time.Now().UTC()
	_, err := r.txm.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO sys_checkpoint (batch_id, batch_ts, source_watermark, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (batch_id) DO UPDATE SET
			status = EXCLUDED.status,
			batch_ts = EXCLUDED.batch_ts,
			source_watermark = EXCLUDED.source_watermark,
			updated_at = EXCLUDED.updated_at
		WHERE sys_checkpoint.status <> $6
	`, batch.ID, batch.Timestamp, batch.SourceWatermark, dimension.BatchPending, now, dimension.BatchApplied)
	if err != nil {
		return fmt.Errorf("begin checkpoint: %w", err)
	}
	return nil
}

// Commit marks the batch APPLIED with its serialized result.
func (r *CheckpointRepo) Commit(ctx context.Context, batchID string, result dimension.BatchResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal batch result: %w", err)
	}

	now := time.Now().UTC()
	_, err = r.txm.GetQuerier(ctx).Exec(ctx, `
		UPDATE sys_checkpoint
		SET status = $1,
		    result = $2,
		    committed_at = $3,
		    updated_at = $3
		WHERE batch_id = $4
	`, dimension.BatchApplied, raw, now, batchID)
	if err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// Fail marks the batch FAILED. A FAILED batch is safe to retry in full.
func (r *CheckpointRepo) Fail(ctx context.Context, batchID string) error {
	_, err := r.txm.GetQuerier(ctx).Exec(ctx, `
		UPDATE sys_checkpoint
		SET status = $1, updated_at = $2
		WHERE batch_id = $3 AND status <> $4
	`, dimension.BatchFailed, time.Now().UTC(), batchID, dimension.BatchApplied)
	if err != nil {
		return fmt.Errorf("fail checkpoint: %w", err)
	}
	return nil
}

// LastApplied returns the most recently committed checkpoint, nil when no
// batch has been applied yet. Resume logic reads its watermark.
func (r *CheckpointRepo) LastApplied(ctx context.Context) (*dimension.Checkpoint, error) {
	var cp dimension.Checkpoint
	err := r.txm.GetQuerier(ctx).QueryRow(ctx, `
		SELECT batch_id, source_watermark, status, result, committed_at
		FROM sys_checkpoint
		WHERE status = $1
		ORDER BY committed_at DESC
		LIMIT 1
	`, dimension.BatchApplied).Scan(
		&cp.BatchID, &cp.Watermark, &cp.Status, &cp.Result, &cp.CommittedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select last checkpoint: %w", err)
	}
	return &cp, nil
}
