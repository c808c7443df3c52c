// Package engine orchestrates batch application: canonicalize, dedupe,
// resolve, write, validate, checkpoint. All storage access goes through the
// store interfaces; the concrete implementations live in
// infrastructure/storage/postgres.
package engine

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/dougwmorrow/open-sc/internal/core/apperror"
	"github.com/dougwmorrow/open-sc/internal/core/tx"
	"github.com/dougwmorrow/open-sc/internal/domain/canonical"
	"github.com/dougwmorrow/open-sc/internal/domain/dedupe"
	"github.com/dougwmorrow/open-sc/internal/domain/dimension"
	"github.com/dougwmorrow/open-sc/internal/domain/filter"
	"github.com/dougwmorrow/open-sc/internal/domain/resolver"
	"github.com/dougwmorrow/open-sc/internal/domain/validator"
	"github.com/dougwmorrow/open-sc/pkg/logger"
)

// Config tunes batch application.
type Config struct {
	// Scope is the default advisory-lock scope. Batches for disjoint
	// scopes apply in parallel; within one scope there is a single writer.
	Scope string

	// FailFast aborts the whole batch on the first row-level
	// canonicalization error instead of collecting per-row errors.
	FailFast bool

	// ChunkSize bounds the number of business keys per sub-transaction.
	// Zero applies the whole batch in one transaction.
	ChunkSize int

	// LockTimeout bounds the wait for the scope lock; expiry fails the
	// batch with a ConflictError, safe to retry.
	LockTimeout time.Duration

	// ValidateAfterApply runs the integrity validator over affected keys
	// after every commit.
	ValidateAfterApply bool

	Canonical canonical.Policy
	Dedupe    dedupe.Policy

	// HashAlgorithm selects the content-hash function (default xxhash64).
	HashAlgorithm string

	// FilterExpr is an optional CEL predicate; matching records are
	// dropped before deduplication.
	FilterExpr string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Scope:              "default",
		ChunkSize:          5000,
		LockTimeout:        30 * time.Second,
		ValidateAfterApply: true,
		Canonical:          canonical.DefaultPolicy(),
		Dedupe:             dedupe.DefaultPolicy(),
	}
}

// Engine is the temporal dimension versioning engine.
type Engine struct {
	cfg   Config
	canon *canonical.Canonicalizer
	dedup *dedupe.Deduplicator
	gate  *filter.Predicate // nil when no filter configured
	txm   tx.Manager

	versions    VersionStore
	checkpoints CheckpointStore
	locker      ScopeLocker
	blocks      BlockStore
	archive     ArchiveStore // optional
}

// New builds an Engine. archive may be nil to disable payload journaling.
func New(
	cfg Config,
	txm tx.Manager,
	versions VersionStore,
	checkpoints CheckpointStore,
	locker ScopeLocker,
	blocks BlockStore,
	archive ArchiveStore,
) (*Engine, error) {
	hasher, err := canonical.HasherByName(cfg.HashAlgorithm)
	if err != nil {
		return nil, err
	}

	var gate *filter.Predicate
	if cfg.FilterExpr != "" {
		gate, err = filter.Compile(cfg.FilterExpr)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Scope == "" {
		cfg.Scope = "default"
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 30 * time.Second
	}

	return &Engine{
		cfg:         cfg,
		canon:       canonical.New(cfg.Canonical, hasher),
		dedup:       dedupe.New(cfg.Dedupe),
		gate:        gate,
		txm:         txm,
		versions:    versions,
		checkpoints: checkpoints,
		locker:      locker,
		blocks:      blocks,
		archive:     archive,
	}, nil
}

// ApplyRequest carries one batch into the engine.
type ApplyRequest struct {
	BatchID         string
	Records         []dimension.ChangeRecord
	BatchTimestamp  time.Time
	SourceWatermark string

	// Scope overrides the engine's default lock scope, for sharded callers
	// processing disjoint business-key ranges in parallel.
	Scope string
}

// ApplyBatch applies one change batch atomically and idempotently.
//
// Replaying a BatchID that is already APPLIED returns the original cached
// result (flagged as a duplicate) without touching storage. A FAILED or
// interrupted batch is safe to retry in full: decisions are recomputed
// against current stored state, so keys already transitioned resolve to
// NOOPs.
func (e *Engine) ApplyBatch(ctx context.Context, req ApplyRequest) (*dimension.BatchResult, error) {
	if req.BatchID == "" {
		return nil, apperror.NewValidation("batch id is required")
	}

	// Idempotent replay: return the original result verbatim.
	if cached, err := e.replayApplied(ctx, req.BatchID); err != nil {
		return nil, err
	} else if cached != nil {
		return cached, nil
	}

	// The batch instant is captured exactly once, before any chunking, and
	// stamped on every transition this batch produces.
	batchTS := req.BatchTimestamp
	if batchTS.IsZero() {
		batchTS = time.Now().UTC()
	}
	batchTS = batchTS.UTC()

	scope := req.Scope
	if scope == "" {
		scope = e.cfg.Scope
	}

	release, err := e.locker.Acquire(ctx, scope, e.cfg.LockTimeout)
	if err != nil {
		return nil, err
	}
	defer release()

	// A concurrent submission of the same batch may have committed while we
	// waited for the lock; only the holder's view of the checkpoint is
	// authoritative.
	if cached, err := e.replayApplied(ctx, req.BatchID); err != nil {
		return nil, err
	} else if cached != nil {
		return cached, nil
	}

	batch := dimension.Batch{
		ID:              req.BatchID,
		Timestamp:       batchTS,
		SourceWatermark: req.SourceWatermark,
		Status:          dimension.BatchPending,
	}
	if err := e.checkpoints.Begin(ctx, batch); err != nil {
		return nil, apperror.NewStore(err)
	}
	if e.archive != nil {
		if payload, err := json.Marshal(req.Records); err != nil {
			logger.Warn(ctx, "batch payload not archivable", "batch_id", req.BatchID, "error", err)
		} else if err := e.archive.SaveBatch(ctx, batch, payload); err != nil {
			logger.Warn(ctx, "batch archive failed", "batch_id", req.BatchID, "error", err)
		}
	}

	result := &dimension.BatchResult{BatchID: req.BatchID}

	clean, hashes, err := e.prepareRecords(ctx, req.Records, result)
	if err != nil {
		_ = e.checkpoints.Fail(ctx, req.BatchID)
		return nil, err
	}

	decisions, err := e.resolveAll(ctx, clean, hashes, req.BatchID, batchTS, result)
	if err != nil {
		_ = e.checkpoints.Fail(ctx, req.BatchID)
		return nil, err
	}

	if err := e.applyDecisions(ctx, decisions); err != nil {
		_ = e.checkpoints.Fail(ctx, req.BatchID)
		return nil, apperror.NewStore(err).WithDetail("batch_id", req.BatchID)
	}

	if e.cfg.ValidateAfterApply {
		e.postCommitValidate(ctx, decisions, result)
	}

	if err := e.checkpoints.Commit(ctx, req.BatchID, *result); err != nil {
		return nil, apperror.NewStore(err)
	}

	logger.Info(ctx, "batch applied",
		"batch_id", req.BatchID,
		"scope", scope,
		"applied", result.Applied,
		"inserted", result.Inserted,
		"updated", result.Updated,
		"deleted", result.Deleted,
		"resurrected", result.Resurrected,
		"noops", result.Noops,
		"row_errors", len(result.PerRowErrors),
	)
	return result, nil
}

// prepareRecords validates, filters and canonicalizes the raw records.
// Returns the surviving records and the content hash per ingest sequence.
// replayApplied returns the cached result of an APPLIED batch, flagged as a
// duplicate, or nil when the batch has not been committed.
func (e *Engine) replayApplied(ctx context.Context, batchID string) (*dimension.BatchResult, error) {
	cp, err := e.checkpoints.Applied(ctx, batchID)
	if err != nil {
		return nil, apperror.NewStore(err)
	}
	if cp == nil {
		return nil, nil
	}

	var result dimension.BatchResult
	if err := json.Unmarshal(cp.Result, &result); err != nil {
		return nil, apperror.NewStore(err)
	}
	result.SkippedDuplicateBatch = true
	logger.Info(ctx, "duplicate batch skipped", "batch_id", batchID)
	return &result, nil
}

func (e *Engine) prepareRecords(ctx context.Context, records []dimension.ChangeRecord, result *dimension.BatchResult) ([]dimension.ChangeRecord, map[int]string, error) {
	clean := make([]dimension.ChangeRecord, 0, len(records))
	hashes := make(map[int]string, len(records))

	for i := range records {
		rec := records[i]
		rec.Seq = i

		if err := rec.Validate(ctx); err != nil {
			if e.cfg.FailFast {
				return nil, nil, err
			}
			result.PerRowErrors = append(result.PerRowErrors, rowError(rec, err))
			continue
		}

		if e.gate != nil {
			matched, err := e.gate.MatchRecord(rec)
			if err != nil {
				if e.cfg.FailFast {
					return nil, nil, apperror.NewValidation("filter evaluation failed").WithCause(err)
				}
				result.PerRowErrors = append(result.PerRowErrors, rowError(rec, err))
				continue
			}
			if matched {
				result.Filtered++
				continue
			}
		}

		if rec.Op() == dimension.OpUpsert {
			normalized, hash, err := e.canon.Canonicalize(rec.Attributes)
			if err != nil {
				if e.cfg.FailFast {
					return nil, nil, err
				}
				result.PerRowErrors = append(result.PerRowErrors, rowError(rec, err))
				continue
			}
			rec.Attributes = normalized
			hashes[rec.Seq] = hash
		}

		clean = append(clean, rec)
	}
	return clean, hashes, nil
}

// resolveAll runs dedupe and the per-key state machine against the stored
// latest versions. Decisions are pure; nothing is written yet.
func (e *Engine) resolveAll(ctx context.Context, records []dimension.ChangeRecord, hashes map[int]string, batchID string, batchTS time.Time, result *dimension.BatchResult) ([]resolver.Decision, error) {
	transitions := e.dedup.Dedupe(records)

	keys := make([]string, 0, len(transitions))
	for key := range transitions {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	latest, err := e.versions.LatestByKeys(ctx, keys)
	if err != nil {
		return nil, apperror.NewStore(err)
	}

	var decisions []resolver.Decision
	for _, key := range keys {
		seq := make([]resolver.Incoming, 0, len(transitions[key]))
		for _, rec := range transitions[key] {
			seq = append(seq, resolver.Incoming{
				BusinessKey: key,
				Operation:   rec.Op(),
				Attributes:  rec.Attributes,
				ContentHash: hashes[rec.Seq],
			})
		}

		var head *dimension.Version
		if v, ok := latest[key]; ok {
			head = &v
		}

		keyDecisions, err := resolver.ResolveSequence(head, seq, batchID, batchTS)
		if err != nil {
			if e.cfg.FailFast {
				return nil, apperror.NewValidation("transition cannot be resolved").
					WithDetail("business_key", key).
					WithCause(err)
			}
			result.PerRowErrors = append(result.PerRowErrors, dimension.RowError{
				BusinessKey: key,
				Code:        apperror.CodeValidation,
				Message:     err.Error(),
			})
			continue
		}

		if len(keyDecisions) == 0 {
			result.Noops++
			continue
		}
		for _, d := range keyDecisions {
			switch d.Action {
			case resolver.ActionInsert:
				result.Inserted++
			case resolver.ActionUpdate:
				result.Updated++
			case resolver.ActionDelete:
				result.Deleted++
			case resolver.ActionResurrect:
				result.Resurrected++
			}
		}
		result.Applied++
		decisions = append(decisions, keyDecisions...)
	}
	return decisions, nil
}

// applyDecisions runs the writer: chunk by business key, then inside each
// sub-transaction all closes as one set operation followed by all inserts.
// The batch instant was fixed before chunking, so every sub-transaction
// stamps the same timestamps.
func (e *Engine) applyDecisions(ctx context.Context, decisions []resolver.Decision) error {
	for _, chunk := range chunkByKey(decisions, e.cfg.ChunkSize) {
		closes := make([]Close, 0, len(chunk))
		inserts := make([]dimension.Version, 0, len(chunk))
		for _, d := range chunk {
			if d.Close != nil {
				closes = append(closes, Close{SurrogateKey: d.Close.SurrogateKey, ValidTo: d.Close.ValidTo})
			}
			if d.Insert != nil {
				inserts = append(inserts, *d.Insert)
			}
		}
		err := e.txm.RunInTransaction(ctx, func(ctx context.Context) error {
			return e.versions.ApplyTransitions(ctx, closes, inserts)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// postCommitValidate re-reads the affected chains and flags breaches.
// Committed data is never rolled back here; flagged keys are read-blocked
// pending explicit repair.
func (e *Engine) postCommitValidate(ctx context.Context, decisions []resolver.Decision, result *dimension.BatchResult) {
	keySet := map[string]struct{}{}
	for _, d := range decisions {
		keySet[d.BusinessKey] = struct{}{}
	}
	if len(keySet) == 0 {
		return
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	history, err := e.versions.HistoryByKeys(ctx, keys)
	if err != nil {
		logger.Error(ctx, "post-commit validation read failed", "error", err)
		return
	}

	report := validator.CheckAll(history)
	if report.Clean() {
		return
	}

	flagged := report.FlaggedKeys()
	result.FlaggedKeys = flagged
	if err := e.blocks.Block(ctx, flagged, "post-batch integrity validation"); err != nil {
		logger.Error(ctx, "failed to block flagged keys", "keys", flagged, "error", err)
	}
	logger.Error(ctx, "integrity violation after batch commit",
		"flagged_keys", flagged,
		"overlaps", len(report.Overlaps),
		"multi_latest", len(report.MultiLatest),
		"gaps", len(report.Gaps),
	)
}

// chunkByKey splits decisions into sub-transaction chunks of at most size
// business keys, never splitting one key across chunks. size <= 0 yields a
// single chunk.
func chunkByKey(decisions []resolver.Decision, size int) [][]resolver.Decision {
	if len(decisions) == 0 {
		return nil
	}
	if size <= 0 {
		return [][]resolver.Decision{decisions}
	}

	var chunks [][]resolver.Decision
	var current []resolver.Decision
	keysInChunk := map[string]struct{}{}
	for _, d := range decisions {
		if _, seen := keysInChunk[d.BusinessKey]; !seen && len(keysInChunk) >= size {
			chunks = append(chunks, current)
			current = nil
			keysInChunk = map[string]struct{}{}
		}
		keysInChunk[d.BusinessKey] = struct{}{}
		current = append(current, d)
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

func rowError(rec dimension.ChangeRecord, err error) dimension.RowError {
	code := apperror.CodeValidation
	if appErr, ok := apperror.AsAppError(err); ok {
		code = appErr.Code
	}
	return dimension.RowError{
		BusinessKey: rec.BusinessKey,
		Seq:         rec.Seq,
		Code:        code,
		Message:     err.Error(),
	}
}
