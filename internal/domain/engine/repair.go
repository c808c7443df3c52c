package engine

import (
	"context"
	"sort"

	"github.com/dougwmorrow/open-sc/internal/core/apperror"
	"github.com/dougwmorrow/open-sc/internal/domain/validator"
	"github.com/dougwmorrow/open-sc/pkg/logger"
)

// RepairResult reports the outcome of an explicit integrity repair.
type RepairResult struct {
	RepairedOverlaps int                        `json:"repairedOverlaps"`
	Unblocked        []string                   `json:"unblocked,omitempty"`
	Remaining        *validator.IntegrityReport `json:"remaining"`
}

// Repair resolves overlap findings by closing the earlier of two overlapping
// versions at the later's ValidFrom, the one auto-repair the engine knows to
// be safe. It is never run implicitly; the validator only flags. Keys whose
// chains come out clean are removed from the read-block list. Gaps and
// missing-latest findings need a correction batch and stay flagged.
func (e *Engine) Repair(ctx context.Context, keys []string) (*RepairResult, error) {
	if len(keys) == 0 {
		blocked, err := e.blocks.BlockedKeys(ctx)
		if err != nil {
			return nil, apperror.NewStore(err)
		}
		keys = blocked
	}
	if len(keys) == 0 {
		return &RepairResult{Remaining: &validator.IntegrityReport{}}, nil
	}
	sort.Strings(keys)

	history, err := e.versions.HistoryByKeys(ctx, keys)
	if err != nil {
		return nil, apperror.NewStore(err)
	}
	report := validator.CheckAll(history)

	closes := make([]Close, 0, len(report.Overlaps))
	for _, o := range report.Overlaps {
		closes = append(closes, Close{SurrogateKey: o.Earlier, ValidTo: o.LaterFrom})
	}

	if len(closes) > 0 {
		err = e.txm.RunInTransaction(ctx, func(ctx context.Context) error {
			return e.versions.ApplyTransitions(ctx, closes, nil)
		})
		if err != nil {
			return nil, apperror.NewStore(err)
		}
	}

	// Re-validate and clear blocks for chains that are clean now.
	history, err = e.versions.HistoryByKeys(ctx, keys)
	if err != nil {
		return nil, apperror.NewStore(err)
	}
	remaining := validator.CheckAll(history)

	stillFlagged := map[string]struct{}{}
	for _, k := range remaining.FlaggedKeys() {
		stillFlagged[k] = struct{}{}
	}
	var unblocked []string
	for _, k := range keys {
		if _, flagged := stillFlagged[k]; !flagged {
			unblocked = append(unblocked, k)
		}
	}
	if len(unblocked) > 0 {
		if err := e.blocks.Unblock(ctx, unblocked); err != nil {
			return nil, apperror.NewStore(err)
		}
	}

	logger.Info(ctx, "integrity repair finished",
		"repaired_overlaps", len(closes),
		"unblocked", len(unblocked),
		"still_flagged", len(stillFlagged),
	)
	return &RepairResult{
		RepairedOverlaps: len(closes),
		Unblocked:        unblocked,
		Remaining:        remaining,
	}, nil
}
