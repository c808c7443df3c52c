package dto

import (
	"github.com/dougwmorrow/open-sc/internal/domain/engine"
)

// --- Request DTOs ---

// ValidateRequest selects keys for an integrity check. Empty means all keys.
type ValidateRequest struct {
	BusinessKeys []string `json:"businessKeys,omitempty"`
}

// RepairRequest selects keys for repair. Empty means the read-block list.
type RepairRequest struct {
	BusinessKeys []string `json:"businessKeys,omitempty"`
}

// EraseRequest names versions for compliance erasure.
type EraseRequest struct {
	BusinessKeys []string       `json:"businessKeys,omitempty"`
	Expression   string         `json:"expression,omitempty"`
	Redactions   map[string]any `json:"redactions" binding:"required"`
}

// ToEraseRequest converts to the engine request.
func (r *EraseRequest) ToEraseRequest() engine.EraseRequest {
	return engine.EraseRequest{
		BusinessKeys: r.BusinessKeys,
		Expression:   r.Expression,
		Redactions:   r.Redactions,
	}
}

// RegisterClientRequest creates an API client.
type RegisterClientRequest struct {
	ClientID string `json:"clientId" binding:"required"`
	APIKey   string `json:"apiKey" binding:"required,min=16"`
	Role     string `json:"role" binding:"required"`
}
