package dto

import (
	"time"

	"github.com/dougwmorrow/open-sc/internal/domain/dimension"
)

// VersionResponse represents one temporal version in API responses.
type VersionResponse struct {
	SurrogateKey      string         `json:"surrogateKey"`
	BusinessKey       string         `json:"businessKey"`
	Attributes        map[string]any `json:"attributes"`
	ContentHash       string         `json:"contentHash"`
	ValidFrom         time.Time      `json:"validFrom"`
	ValidTo           time.Time      `json:"validTo"`
	State             string         `json:"state"`
	BatchID           string         `json:"batchId"`
	ResurrectionCount int            `json:"resurrectionCount"`
}

// FromVersion creates response from a domain version.
func FromVersion(v *dimension.Version) *VersionResponse {
	return &VersionResponse{
		SurrogateKey:      v.SurrogateKey.String(),
		BusinessKey:       v.BusinessKey,
		Attributes:        v.Attributes,
		ContentHash:       v.ContentHash,
		ValidFrom:         v.ValidFrom,
		ValidTo:           v.ValidTo,
		State:             string(v.State),
		BatchID:           v.BatchID,
		ResurrectionCount: v.ResurrectionCount,
	}
}

// PointInTimeQuery binds the asOf query parameter.
type PointInTimeQuery struct {
	AsOf *time.Time `form:"asOf" time_format:"2006-01-02T15:04:05Z07:00"`
}
