package engine

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/dougwmorrow/open-sc/internal/core/apperror"
	"github.com/dougwmorrow/open-sc/internal/domain/dimension"
	"github.com/dougwmorrow/open-sc/internal/domain/filter"
	"github.com/dougwmorrow/open-sc/pkg/logger"
)

// EraseRequest selects versions for compliance erasure and names the
// attribute overwrites. Erasure rewrites attribute values in place across a
// key's entire history; intervals, states and surrogate keys are preserved,
// so the temporal chain and every join over it keep working.
type EraseRequest struct {
	// BusinessKeys selects keys explicitly.
	BusinessKeys []string `json:"businessKeys,omitempty"`

	// Expression is an optional CEL selector evaluated against each key's
	// latest version; matching keys are erased. Used alone or to narrow
	// BusinessKeys.
	Expression string `json:"expression,omitempty"`

	// Redactions maps attribute name to its replacement value. Every
	// selected version that carries the attribute gets it overwritten.
	Redactions map[string]any `json:"redactions"`
}

// EraseResult reports what was overwritten.
type EraseResult struct {
	Keys              []string `json:"keys"`
	RewrittenVersions int      `json:"rewrittenVersions"`
}

// Erase performs governed compliance erasure. This is the only operation
// that modifies stored attribute values; it is explicit, journaled, and
// never invoked by batch application.
func (e *Engine) Erase(ctx context.Context, req EraseRequest) (*EraseResult, error) {
	if len(req.Redactions) == 0 {
		return nil, apperror.NewValidation("redactions are required")
	}
	if len(req.BusinessKeys) == 0 && req.Expression == "" {
		return nil, apperror.NewValidation("either business keys or a selector expression is required")
	}

	keys, err := e.selectEraseKeys(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return &EraseResult{Keys: []string{}}, nil
	}

	history, err := e.versions.HistoryByKeys(ctx, keys)
	if err != nil {
		return nil, apperror.NewStore(err)
	}

	var rewrites []Rewrite
	for _, versions := range history {
		for _, v := range versions {
			attrs, changed := redact(v.Attributes, req.Redactions)
			if !changed {
				continue
			}
			// The hash is recomputed so a later batch re-delivering the
			// original values registers as a change, not a NOOP.
			_, hash, err := e.canon.Canonicalize(attrs)
			if err != nil {
				return nil, err
			}
			rewrites = append(rewrites, Rewrite{
				SurrogateKey: v.SurrogateKey,
				Attributes:   attrs,
				ContentHash:  hash,
			})
		}
	}

	if len(rewrites) > 0 {
		err = e.txm.RunInTransaction(ctx, func(ctx context.Context) error {
			return e.versions.RewriteVersions(ctx, rewrites)
		})
		if err != nil {
			return nil, apperror.NewStore(err)
		}
	}

	if e.archive != nil {
		if payload, mErr := json.Marshal(req); mErr == nil {
			journal := dimension.Batch{
				ID:        "erase:" + time.Now().UTC().Format(time.RFC3339Nano),
				Timestamp: time.Now().UTC(),
				Status:    dimension.BatchApplied,
			}
			if aErr := e.archive.SaveBatch(ctx, journal, payload); aErr != nil {
				logger.Warn(ctx, "erasure journal failed", "error", aErr)
			}
		}
	}

	logger.Info(ctx, "compliance erasure applied",
		"keys", len(keys),
		"rewritten_versions", len(rewrites),
	)
	return &EraseResult{Keys: keys, RewrittenVersions: len(rewrites)}, nil
}

// selectEraseKeys resolves the erase scope: explicit keys, keys whose latest
// version matches the selector, or the intersection when both are given.
func (e *Engine) selectEraseKeys(ctx context.Context, req EraseRequest) ([]string, error) {
	candidates := req.BusinessKeys
	if len(candidates) == 0 {
		all, err := e.versions.AllKeys(ctx)
		if err != nil {
			return nil, apperror.NewStore(err)
		}
		candidates = all
	}
	sort.Strings(candidates)

	if req.Expression == "" {
		return candidates, nil
	}

	selector, err := filter.Compile(req.Expression)
	if err != nil {
		return nil, err
	}

	latest, err := e.versions.LatestByKeys(ctx, candidates)
	if err != nil {
		return nil, apperror.NewStore(err)
	}

	var keys []string
	for _, key := range candidates {
		v, ok := latest[key]
		if !ok {
			continue
		}
		matched, err := selector.MatchVersion(v)
		if err != nil {
			return nil, apperror.NewValidation("selector evaluation failed").
				WithDetail("business_key", key).
				WithCause(err)
		}
		if matched {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// redact returns a copy with the named attributes overwritten. changed is
// false when the version carries none of them.
func redact(attrs dimension.Attributes, redactions map[string]any) (dimension.Attributes, bool) {
	changed := false
	out := attrs.Clone()
	for name, replacement := range redactions {
		if _, ok := out[name]; ok {
			out[name] = replacement
			changed = true
		}
	}
	return out, changed
}
