// Package validator checks the temporal invariants every reader of the
// version table assumes: non-overlapping intervals, a contiguous chain per
// key, and exactly one latest version. Checks run after every batch commit
// and independently on demand; findings are advisory, repair is a separate
// explicit operation.
package validator

import (
	"sort"
	"time"

	"github.com/dougwmorrow/open-sc/internal/core/id"
	"github.com/dougwmorrow/open-sc/internal/domain/dimension"
)

// Overlap reports two versions of one key with intersecting intervals.
type Overlap struct {
	BusinessKey string    `json:"businessKey"`
	Earlier     id.ID     `json:"earlierSurrogateKey"`
	Later       id.ID     `json:"laterSurrogateKey"`
	EarlierTo   time.Time `json:"earlierValidTo"`
	LaterFrom   time.Time `json:"laterValidFrom"`
}

// MultiLatest reports a key with zero or more than one latest version.
type MultiLatest struct {
	BusinessKey string  `json:"businessKey"`
	Count       int     `json:"count"`
	Versions    []id.ID `json:"surrogateKeys,omitempty"`
}

// Gap reports a discontinuity between consecutive versions of one key.
type Gap struct {
	BusinessKey string    `json:"businessKey"`
	AfterKey    id.ID     `json:"afterSurrogateKey"`
	BeforeKey   id.ID     `json:"beforeSurrogateKey"`
	GapFrom     time.Time `json:"gapFrom"`
	GapTo       time.Time `json:"gapTo"`
}

// IntegrityReport is the outcome of one validation pass.
type IntegrityReport struct {
	Scope       string        `json:"scope"`
	CheckedKeys int           `json:"checkedKeys"`
	Overlaps    []Overlap     `json:"overlaps,omitempty"`
	MultiLatest []MultiLatest `json:"multiCurrent,omitempty"`
	Gaps        []Gap         `json:"gaps,omitempty"`
	CheckedAt   time.Time     `json:"checkedAt"`
}

// Clean reports whether no invariant was breached.
func (r *IntegrityReport) Clean() bool {
	return len(r.Overlaps) == 0 && len(r.MultiLatest) == 0 && len(r.Gaps) == 0
}

// FlaggedKeys returns the distinct business keys with findings; these are the
// keys downstream reads block on until repair.
func (r *IntegrityReport) FlaggedKeys() []string {
	seen := map[string]struct{}{}
	for _, o := range r.Overlaps {
		seen[o.BusinessKey] = struct{}{}
	}
	for _, m := range r.MultiLatest {
		seen[m.BusinessKey] = struct{}{}
	}
	for _, g := range r.Gaps {
		seen[g.BusinessKey] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge folds another report's findings into r.
func (r *IntegrityReport) Merge(other *IntegrityReport) {
	r.CheckedKeys += other.CheckedKeys
	r.Overlaps = append(r.Overlaps, other.Overlaps...)
	r.MultiLatest = append(r.MultiLatest, other.MultiLatest...)
	r.Gaps = append(r.Gaps, other.Gaps...)
}

// CheckChain validates all invariants for one key's full version set.
// The slice is reordered by ValidFrom in place.
func CheckChain(businessKey string, versions []dimension.Version) *IntegrityReport {
	report := &IntegrityReport{CheckedKeys: 1, CheckedAt: time.Now().UTC()}
	if len(versions) == 0 {
		return report
	}

	sort.Slice(versions, func(i, j int) bool {
		if versions[i].ValidFrom.Equal(versions[j].ValidFrom) {
			// Zero-width full-fidelity intervals share a ValidFrom; their
			// ValidTo orders them.
			return versions[i].ValidTo.Before(versions[j].ValidTo)
		}
		return versions[i].ValidFrom.Before(versions[j].ValidFrom)
	})

	var latest []id.ID
	for _, v := range versions {
		if v.IsLatest() {
			latest = append(latest, v.SurrogateKey)
		}
	}
	// Invariant 1: exactly one latest version, never zero after first
	// appearance.
	if len(latest) != 1 {
		report.MultiLatest = append(report.MultiLatest, MultiLatest{
			BusinessKey: businessKey,
			Count:       len(latest),
			Versions:    latest,
		})
	}

	for i := 0; i < len(versions)-1; i++ {
		cur, next := versions[i], versions[i+1]
		switch {
		case cur.ValidTo.After(next.ValidFrom):
			// Invariant 2: half-open intervals never overlap.
			report.Overlaps = append(report.Overlaps, Overlap{
				BusinessKey: businessKey,
				Earlier:     cur.SurrogateKey,
				Later:       next.SurrogateKey,
				EarlierTo:   cur.ValidTo,
				LaterFrom:   next.ValidFrom,
			})
		case cur.ValidTo.Before(next.ValidFrom):
			// Invariant 3: v[i].ValidTo == v[i+1].ValidFrom.
			report.Gaps = append(report.Gaps, Gap{
				BusinessKey: businessKey,
				AfterKey:    cur.SurrogateKey,
				BeforeKey:   next.SurrogateKey,
				GapFrom:     cur.ValidTo,
				GapTo:       next.ValidFrom,
			})
		}
	}

	return report
}

// CheckAll validates every key in the map and merges the findings.
func CheckAll(byKey map[string][]dimension.Version) *IntegrityReport {
	report := &IntegrityReport{CheckedAt: time.Now().UTC()}
	for key, versions := range byKey {
		report.Merge(CheckChain(key, versions))
	}
	return report
}
