package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougwmorrow/open-sc/internal/core/apperror"
	"github.com/dougwmorrow/open-sc/internal/core/id"
	"github.com/dougwmorrow/open-sc/internal/domain/dimension"
)

func seedChain(f *fixture, key string, segments ...dimension.Version) {
	for i := range segments {
		segments[i].BusinessKey = key
		if id.IsNil(segments[i].SurrogateKey) {
			segments[i].SurrogateKey = id.New()
		}
	}
	f.versions.rows = append(f.versions.rows, segments...)
}

func TestPointInTime(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	seedChain(f, "cust-1",
		dimension.Version{
			Attributes: dimension.Attributes{"tier": "gold"}, ContentHash: "aa",
			ValidFrom: ts(1), ValidTo: ts(5), State: dimension.StateHistorical,
		},
		dimension.Version{
			Attributes: dimension.Attributes{"tier": "platinum"}, ContentHash: "bb",
			ValidFrom: ts(5), ValidTo: dimension.OpenEnded, State: dimension.StateCurrent,
		},
	)

	v, err := f.engine.PointInTime(ctx, "cust-1", ts(3))
	require.NoError(t, err)
	assert.Equal(t, "gold", v.Attributes["tier"])

	// ValidFrom inclusive, ValidTo exclusive.
	v, err = f.engine.PointInTime(ctx, "cust-1", ts(5))
	require.NoError(t, err)
	assert.Equal(t, "platinum", v.Attributes["tier"])

	_, err = f.engine.PointInTime(ctx, "cust-1", ts(0))
	require.Error(t, err)
	assert.True(t, apperror.IsNotFound(err))

	_, err = f.engine.PointInTime(ctx, "missing", ts(3))
	require.Error(t, err)
	assert.True(t, apperror.IsNotFound(err))
}

func TestPointInTime_BlockedKeyRefusesReads(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	seedChain(f, "cust-1", dimension.Version{
		Attributes: dimension.Attributes{"v": 1}, ContentHash: "aa",
		ValidFrom: ts(1), ValidTo: dimension.OpenEnded, State: dimension.StateCurrent,
	})
	require.NoError(t, f.blocks.Block(ctx, []string{"cust-1"}, "test"))

	_, err := f.engine.PointInTime(ctx, "cust-1", ts(3))
	require.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeReadBlocked, appErr.Code)
}

func TestCurrentSnapshot_ExcludesBlockedKeys(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	seedChain(f, "a", dimension.Version{
		ValidFrom: ts(1), ValidTo: dimension.OpenEnded, State: dimension.StateCurrent,
	})
	seedChain(f, "b", dimension.Version{
		ValidFrom: ts(1), ValidTo: dimension.OpenEnded, State: dimension.StateCurrent,
	})
	seedChain(f, "c", dimension.Version{
		ValidFrom: ts(1), ValidTo: dimension.OpenEnded, State: dimension.StateDeleted,
	})
	require.NoError(t, f.blocks.Block(ctx, []string{"b"}, "test"))

	var keys []string
	err := f.engine.CurrentSnapshot(ctx, func(v dimension.Version) error {
		keys = append(keys, v.BusinessKey)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, keys)
}

func TestValidate_FlagsAndBlocks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	seedChain(f, "clean",
		dimension.Version{ValidFrom: ts(1), ValidTo: ts(2), State: dimension.StateHistorical},
		dimension.Version{ValidFrom: ts(2), ValidTo: dimension.OpenEnded, State: dimension.StateCurrent},
	)
	seedChain(f, "gapped",
		dimension.Version{ValidFrom: ts(1), ValidTo: ts(2), State: dimension.StateHistorical},
		dimension.Version{ValidFrom: ts(4), ValidTo: dimension.OpenEnded, State: dimension.StateCurrent},
	)

	// Empty key list validates everything.
	report, err := f.engine.Validate(ctx, nil)
	require.NoError(t, err)
	assert.False(t, report.Clean())
	assert.Equal(t, []string{"gapped"}, report.FlaggedKeys())

	blocked, err := f.blocks.BlockedKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gapped"}, blocked)
}

func TestRepair_ClosesOverlapAndUnblocks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	earlier := id.New()
	seedChain(f, "cust-1",
		dimension.Version{
			SurrogateKey: earlier,
			ValidFrom:    ts(1), ValidTo: ts(5), State: dimension.StateHistorical,
		},
		dimension.Version{
			ValidFrom: ts(3), ValidTo: dimension.OpenEnded, State: dimension.StateCurrent,
		},
	)
	require.NoError(t, f.blocks.Block(ctx, []string{"cust-1"}, "overlap"))

	res, err := f.engine.Repair(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RepairedOverlaps)
	assert.Equal(t, []string{"cust-1"}, res.Unblocked)
	assert.True(t, res.Remaining.Clean())

	chain := f.versions.byKey("cust-1")
	require.Len(t, chain, 2)
	assert.True(t, chain[0].ValidTo.Equal(ts(3)), "earlier version closed at later's start")

	blocked, err := f.blocks.IsBlocked(ctx, "cust-1")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestRepair_GapStaysFlagged(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	seedChain(f, "gapped",
		dimension.Version{ValidFrom: ts(1), ValidTo: ts(2), State: dimension.StateHistorical},
		dimension.Version{ValidFrom: ts(4), ValidTo: dimension.OpenEnded, State: dimension.StateCurrent},
	)
	require.NoError(t, f.blocks.Block(ctx, []string{"gapped"}, "gap"))

	res, err := f.engine.Repair(ctx, []string{"gapped"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.RepairedOverlaps)
	assert.Empty(t, res.Unblocked)
	require.Len(t, res.Remaining.Gaps, 1)

	blocked, err := f.blocks.IsBlocked(ctx, "gapped")
	require.NoError(t, err)
	assert.True(t, blocked, "gaps need a correction batch, not auto-repair")
}

func TestRepair_NothingBlocked(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.engine.Repair(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.RepairedOverlaps)
	assert.True(t, res.Remaining.Clean())
}

func TestErase_RewritesHistoryInPlace(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	seedChain(f, "cust-1",
		dimension.Version{
			Attributes: dimension.Attributes{"name": "Ada", "tier": "gold"}, ContentHash: "aa",
			ValidFrom: ts(1), ValidTo: ts(5), State: dimension.StateHistorical,
		},
		dimension.Version{
			Attributes: dimension.Attributes{"name": "Ada", "tier": "platinum"}, ContentHash: "bb",
			ValidFrom: ts(5), ValidTo: dimension.OpenEnded, State: dimension.StateCurrent,
		},
	)
	seedChain(f, "cust-2", dimension.Version{
		Attributes: dimension.Attributes{"tier": "silver"}, ContentHash: "cc",
		ValidFrom: ts(1), ValidTo: dimension.OpenEnded, State: dimension.StateCurrent,
	})

	before := f.versions.byKey("cust-1")

	res, err := f.engine.Erase(ctx, EraseRequest{
		BusinessKeys: []string{"cust-1"},
		Redactions:   map[string]any{"name": "REDACTED"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"cust-1"}, res.Keys)
	assert.Equal(t, 2, res.RewrittenVersions)

	after := f.versions.byKey("cust-1")
	require.Len(t, after, 2)
	for i, v := range after {
		assert.Equal(t, "REDACTED", v.Attributes["name"])
		// Chain shape untouched: same surrogate keys, intervals, states.
		assert.Equal(t, before[i].SurrogateKey, v.SurrogateKey)
		assert.True(t, before[i].ValidFrom.Equal(v.ValidFrom))
		assert.True(t, before[i].ValidTo.Equal(v.ValidTo))
		assert.Equal(t, before[i].State, v.State)
		// Hash recomputed so re-delivery of original values is a change.
		assert.NotEqual(t, before[i].ContentHash, v.ContentHash)
	}

	// Unselected key untouched.
	assert.Equal(t, "cc", f.versions.byKey("cust-2")[0].ContentHash)

	// Erasure is journaled.
	require.Len(t, f.archive.payloads, 1)
}

func TestErase_SelectorNarrowsKeys(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	seedChain(f, "eu-1", dimension.Version{
		Attributes: dimension.Attributes{"region": "eu", "name": "Ada"}, ContentHash: "aa",
		ValidFrom: ts(1), ValidTo: dimension.OpenEnded, State: dimension.StateCurrent,
	})
	seedChain(f, "us-1", dimension.Version{
		Attributes: dimension.Attributes{"region": "us", "name": "Bob"}, ContentHash: "bb",
		ValidFrom: ts(1), ValidTo: dimension.OpenEnded, State: dimension.StateCurrent,
	})

	res, err := f.engine.Erase(ctx, EraseRequest{
		Expression: `attrs["region"] == "eu"`,
		Redactions: map[string]any{"name": "X"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"eu-1"}, res.Keys)
	assert.Equal(t, "Bob", f.versions.byKey("us-1")[0].Attributes["name"])
}

func TestErase_ValidatesRequest(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.Erase(ctx, EraseRequest{BusinessKeys: []string{"k"}})
	require.Error(t, err)
	assert.True(t, apperror.IsValidation(err))

	_, err = f.engine.Erase(ctx, EraseRequest{Redactions: map[string]any{"a": 1}})
	require.Error(t, err)
	assert.True(t, apperror.IsValidation(err))
}

func TestErase_AbsentAttributeIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	seedChain(f, "cust-1", dimension.Version{
		Attributes: dimension.Attributes{"tier": "gold"}, ContentHash: "aa",
		ValidFrom: ts(1), ValidTo: dimension.OpenEnded, State: dimension.StateCurrent,
	})

	res, err := f.engine.Erase(context.Background(), EraseRequest{
		BusinessKeys: []string{"cust-1"},
		Redactions:   map[string]any{"ssn": "X"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.RewrittenVersions)
	assert.Equal(t, "aa", f.versions.byKey("cust-1")[0].ContentHash)
}
