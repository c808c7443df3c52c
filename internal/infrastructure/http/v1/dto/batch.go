// Package dto provides data transfer objects for HTTP API.
package dto

import (
	"time"

	"github.com/dougwmorrow/open-sc/internal/domain/dimension"
	"github.com/dougwmorrow/open-sc/internal/domain/engine"
)

// --- Request DTOs ---

// ChangeRecordRequest is one incoming change row.
type ChangeRecordRequest struct {
	BusinessKey     string         `json:"businessKey" binding:"required"`
	Attributes      map[string]any `json:"attributes"`
	SourceTimestamp *time.Time     `json:"sourceTimestamp,omitempty"`
	Operation       string         `json:"operationType,omitempty"`
}

// ApplyBatchRequest carries one change batch.
type ApplyBatchRequest struct {
	BatchID         string                `json:"batchId" binding:"required"`
	BatchTimestamp  *time.Time            `json:"batchTimestamp,omitempty"`
	SourceWatermark string                `json:"sourceWatermark,omitempty"`
	Scope           string                `json:"scope,omitempty"`
	Records         []ChangeRecordRequest `json:"records" binding:"required"`
}

// ToApplyRequest converts to the engine request.
func (r *ApplyBatchRequest) ToApplyRequest() engine.ApplyRequest {
	records := make([]dimension.ChangeRecord, len(r.Records))
	for i, rec := range r.Records {
		records[i] = dimension.ChangeRecord{
			BusinessKey:     rec.BusinessKey,
			Attributes:      rec.Attributes,
			SourceTimestamp: rec.SourceTimestamp,
			Operation:       dimension.OperationType(rec.Operation),
		}
	}

	req := engine.ApplyRequest{
		BatchID:         r.BatchID,
		Records:         records,
		SourceWatermark: r.SourceWatermark,
		Scope:           r.Scope,
	}
	if r.BatchTimestamp != nil {
		req.BatchTimestamp = *r.BatchTimestamp
	}
	return req
}

// --- Response DTOs ---

// RowErrorResponse reports one rejected record.
type RowErrorResponse struct {
	Seq         int    `json:"seq"`
	BusinessKey string `json:"businessKey,omitempty"`
	Code        string `json:"code"`
	Message     string `json:"message"`
}

// BatchResultResponse reports batch application outcome.
type BatchResultResponse struct {
	BatchID               string             `json:"batchId"`
	Applied               int                `json:"applied"`
	Inserted              int                `json:"inserted"`
	Updated               int                `json:"updated"`
	Deleted               int                `json:"deleted"`
	Resurrected           int                `json:"resurrected"`
	Noops                 int                `json:"noops"`
	Filtered              int                `json:"filtered"`
	SkippedDuplicateBatch bool               `json:"skippedDuplicateBatch"`
	PerRowErrors          []RowErrorResponse `json:"perRowErrors,omitempty"`
	FlaggedKeys           []string           `json:"flaggedKeys,omitempty"`
}

// FromBatchResult creates response from engine result.
func FromBatchResult(res *dimension.BatchResult) *BatchResultResponse {
	rowErrors := make([]RowErrorResponse, len(res.PerRowErrors))
	for i, re := range res.PerRowErrors {
		rowErrors[i] = RowErrorResponse{
			Seq:         re.Seq,
			BusinessKey: re.BusinessKey,
			Code:        re.Code,
			Message:     re.Message,
		}
	}
	if len(rowErrors) == 0 {
		rowErrors = nil
	}

	return &BatchResultResponse{
		BatchID:               res.BatchID,
		Applied:               res.Applied,
		Inserted:              res.Inserted,
		Updated:               res.Updated,
		Deleted:               res.Deleted,
		Resurrected:           res.Resurrected,
		Noops:                 res.Noops,
		Filtered:              res.Filtered,
		SkippedDuplicateBatch: res.SkippedDuplicateBatch,
		PerRowErrors:          rowErrors,
		FlaggedKeys:           res.FlaggedKeys,
	}
}

// CheckpointResponse reports the last committed batch.
type CheckpointResponse struct {
	BatchID     string    `json:"batchId"`
	Watermark   string    `json:"sourceWatermark,omitempty"`
	Status      string    `json:"status"`
	CommittedAt time.Time `json:"committedAt"`
}

// FromCheckpoint creates response from a stored checkpoint.
func FromCheckpoint(cp *dimension.Checkpoint) *CheckpointResponse {
	return &CheckpointResponse{
		BatchID:     cp.BatchID,
		Watermark:   cp.Watermark,
		Status:      string(cp.Status),
		CommittedAt: cp.CommittedAt,
	}
}
