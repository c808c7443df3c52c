package validator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougwmorrow/open-sc/internal/core/id"
	"github.com/dougwmorrow/open-sc/internal/domain/dimension"
)

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func version(key string, from, to time.Time, state dimension.ActiveState) dimension.Version {
	return dimension.Version{
		SurrogateKey: id.New(),
		BusinessKey:  key,
		ValidFrom:    from,
		ValidTo:      to,
		State:        state,
	}
}

func TestCheckChain_CleanChain(t *testing.T) {
	versions := []dimension.Version{
		version("A", day(1), day(3), dimension.StateHistorical),
		version("A", day(3), day(7), dimension.StateHistorical),
		version("A", day(7), dimension.OpenEnded, dimension.StateCurrent),
	}

	report := CheckChain("A", versions)
	assert.True(t, report.Clean())
	assert.Equal(t, 1, report.CheckedKeys)
	assert.Empty(t, report.FlaggedKeys())
}

func TestCheckChain_DetectsOverlap(t *testing.T) {
	versions := []dimension.Version{
		version("A", day(1), day(5), dimension.StateHistorical),
		version("A", day(3), dimension.OpenEnded, dimension.StateCurrent),
	}

	report := CheckChain("A", versions)
	require.Len(t, report.Overlaps, 1)
	assert.Equal(t, day(5), report.Overlaps[0].EarlierTo)
	assert.Equal(t, day(3), report.Overlaps[0].LaterFrom)
	assert.Equal(t, []string{"A"}, report.FlaggedKeys())
}

func TestCheckChain_DetectsTwoOpenRows(t *testing.T) {
	// The documented concurrent-writer failure: two processes each insert a
	// current row for the same key.
	versions := []dimension.Version{
		version("A", day(1), dimension.OpenEnded, dimension.StateCurrent),
		version("A", day(2), dimension.OpenEnded, dimension.StateCurrent),
	}

	report := CheckChain("A", versions)
	require.Len(t, report.MultiLatest, 1)
	assert.Equal(t, 2, report.MultiLatest[0].Count)
	// The first open row also overlaps the second.
	assert.NotEmpty(t, report.Overlaps)
}

func TestCheckChain_DetectsGap(t *testing.T) {
	versions := []dimension.Version{
		version("A", day(1), day(3), dimension.StateHistorical),
		version("A", day(5), dimension.OpenEnded, dimension.StateCurrent),
	}

	report := CheckChain("A", versions)
	require.Len(t, report.Gaps, 1)
	assert.Equal(t, day(3), report.Gaps[0].GapFrom)
	assert.Equal(t, day(5), report.Gaps[0].GapTo)
}

func TestCheckChain_DetectsZeroLatest(t *testing.T) {
	versions := []dimension.Version{
		version("A", day(1), day(3), dimension.StateHistorical),
	}

	report := CheckChain("A", versions)
	require.Len(t, report.MultiLatest, 1)
	assert.Equal(t, 0, report.MultiLatest[0].Count)
}

func TestCheckChain_DeletedMarkerIsLatest(t *testing.T) {
	versions := []dimension.Version{
		version("A", day(1), day(3), dimension.StateHistorical),
		version("A", day(3), dimension.OpenEnded, dimension.StateDeleted),
	}

	report := CheckChain("A", versions)
	assert.True(t, report.Clean())
}

func TestCheckChain_ZeroWidthIntervalsAreContiguous(t *testing.T) {
	// Full-fidelity mode inserts intra-batch versions as [t, t).
	versions := []dimension.Version{
		version("A", day(1), day(3), dimension.StateHistorical),
		version("A", day(3), day(3), dimension.StateHistorical),
		version("A", day(3), dimension.OpenEnded, dimension.StateCurrent),
	}

	report := CheckChain("A", versions)
	assert.True(t, report.Clean())
}

func TestCheckChain_UnsortedInput(t *testing.T) {
	versions := []dimension.Version{
		version("A", day(7), dimension.OpenEnded, dimension.StateCurrent),
		version("A", day(1), day(3), dimension.StateHistorical),
		version("A", day(3), day(7), dimension.StateHistorical),
	}

	report := CheckChain("A", versions)
	assert.True(t, report.Clean())
}

func TestCheckAll_MergesFindings(t *testing.T) {
	byKey := map[string][]dimension.Version{
		"A": {
			version("A", day(1), dimension.OpenEnded, dimension.StateCurrent),
		},
		"B": {
			version("B", day(1), day(3), dimension.StateHistorical),
			version("B", day(5), dimension.OpenEnded, dimension.StateCurrent),
		},
	}

	report := CheckAll(byKey)
	assert.Equal(t, 2, report.CheckedKeys)
	assert.False(t, report.Clean())
	assert.Equal(t, []string{"B"}, report.FlaggedKeys())
}
