package resolver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougwmorrow/open-sc/internal/core/id"
	"github.com/dougwmorrow/open-sc/internal/domain/dimension"
)

var (
	t1 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	t2 = time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
)

func openCurrent(key, hash string, resurrections int) *dimension.Version {
	return &dimension.Version{
		SurrogateKey:      id.New(),
		BusinessKey:       key,
		Attributes:        dimension.Attributes{"city": "NY"},
		ContentHash:       hash,
		ValidFrom:         t1,
		ValidTo:           dimension.OpenEnded,
		State:             dimension.StateCurrent,
		BatchID:           "b1",
		ResurrectionCount: resurrections,
	}
}

func openDeleted(key, hash string, resurrections int) *dimension.Version {
	v := openCurrent(key, hash, resurrections)
	v.State = dimension.StateDeleted
	return v
}

func upsert(key, hash string) Incoming {
	return Incoming{
		BusinessKey: key,
		Operation:   dimension.OpUpsert,
		Attributes:  dimension.Attributes{"city": "LA"},
		ContentHash: hash,
	}
}

func del(key string) Incoming {
	return Incoming{BusinessKey: key, Operation: dimension.OpDelete}
}

func TestResolve_TransitionTable(t *testing.T) {
	tests := []struct {
		name       string
		latest     *dimension.Version
		in         Incoming
		wantAction Action
		wantClose  bool
		wantInsert bool
	}{
		{"absent upsert inserts", nil, upsert("A", "h1"), ActionInsert, false, true},
		{"absent delete noops", nil, del("A"), ActionNoop, false, false},
		{"current upsert differing hash updates", openCurrent("A", "h1", 0), upsert("A", "h2"), ActionUpdate, true, true},
		{"current upsert equal hash noops", openCurrent("A", "h1", 0), upsert("A", "h1"), ActionNoop, false, false},
		{"current delete closes and marks", openCurrent("A", "h1", 0), del("A"), ActionDelete, true, true},
		{"deleted upsert resurrects", openDeleted("A", "h1", 0), upsert("A", "h2"), ActionResurrect, true, true},
		{"deleted delete noops", openDeleted("A", "h1", 0), del("A"), ActionNoop, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Resolve(tt.latest, tt.in, "b2", t2)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAction, d.Action)
			assert.Equal(t, tt.wantClose, d.Close != nil)
			assert.Equal(t, tt.wantInsert, d.Insert != nil)
		})
	}
}

func TestResolve_UpdateClosesAtBatchInstant(t *testing.T) {
	latest := openCurrent("A", "h1", 0)

	d, err := Resolve(latest, upsert("A", "h2"), "b2", t2)
	require.NoError(t, err)

	require.NotNil(t, d.Close)
	assert.Equal(t, latest.SurrogateKey, d.Close.SurrogateKey)
	assert.Equal(t, t2, d.Close.ValidTo)
	assert.Equal(t, dimension.StateHistorical, d.Close.State)

	require.NotNil(t, d.Insert)
	assert.NotEqual(t, latest.SurrogateKey, d.Insert.SurrogateKey)
	assert.Equal(t, t2, d.Insert.ValidFrom)
	assert.True(t, d.Insert.IsOpen())
	assert.Equal(t, dimension.StateCurrent, d.Insert.State)
	assert.Equal(t, "b2", d.Insert.BatchID)

	// Chain contiguity between the closed and the new version.
	assert.Equal(t, d.Close.ValidTo, d.Insert.ValidFrom)

	// The stored latest is not mutated; closing happens on a copy.
	assert.True(t, latest.IsOpen())
}

func TestResolve_DeleteCarriesLastAttributes(t *testing.T) {
	latest := openCurrent("A", "h1", 2)

	d, err := Resolve(latest, del("A"), "b2", t2)
	require.NoError(t, err)

	require.NotNil(t, d.Insert)
	assert.Equal(t, dimension.StateDeleted, d.Insert.State)
	assert.Equal(t, latest.Attributes, d.Insert.Attributes)
	assert.Equal(t, latest.ContentHash, d.Insert.ContentHash)
	assert.Equal(t, 2, d.Insert.ResurrectionCount)
}

func TestResolve_ResurrectIncrementsCount(t *testing.T) {
	latest := openDeleted("A", "h1", 1)

	d, err := Resolve(latest, upsert("A", "h2"), "b2", t2)
	require.NoError(t, err)

	assert.Equal(t, ActionResurrect, d.Action)
	require.NotNil(t, d.Insert)
	assert.Equal(t, dimension.StateCurrent, d.Insert.State)
	assert.Equal(t, 2, d.Insert.ResurrectionCount)
	assert.Equal(t, "A", d.Insert.BusinessKey)
}

func TestResolve_RejectsRegressingBatchInstant(t *testing.T) {
	latest := openCurrent("A", "h1", 0)
	latest.ValidFrom = t2

	_, err := Resolve(latest, upsert("A", "h2"), "b2", t1)
	assert.Error(t, err)
}

func TestResolve_RejectsHistoricalLatest(t *testing.T) {
	latest := openCurrent("A", "h1", 0)
	latest.State = dimension.StateHistorical

	_, err := Resolve(latest, upsert("A", "h2"), "b2", t2)
	assert.Error(t, err)
}

func TestResolveSequence_IntermediatesInsertedClosed(t *testing.T) {
	seq := []Incoming{
		upsert("A", "h1"),
		upsert("A", "h2"),
		del("A"),
	}

	decisions, err := ResolveSequence(nil, seq, "b1", t1)
	require.NoError(t, err)
	require.Len(t, decisions, 3)

	// First two versions are inserted already closed; no close decision may
	// target a row that does not pre-exist the batch.
	for _, d := range decisions {
		assert.Nil(t, d.Close)
	}
	assert.Equal(t, dimension.StateHistorical, decisions[0].Insert.State)
	assert.Equal(t, t1, decisions[0].Insert.ValidTo)
	assert.Equal(t, dimension.StateHistorical, decisions[1].Insert.State)

	// Only the last remains the key's single latest version.
	assert.Equal(t, dimension.StateDeleted, decisions[2].Insert.State)
	assert.True(t, decisions[2].Insert.IsOpen())
}

func TestResolveSequence_ClosesStoredLatestOnce(t *testing.T) {
	latest := openCurrent("A", "h0", 0)
	seq := []Incoming{
		upsert("A", "h1"),
		upsert("A", "h2"),
	}

	decisions, err := ResolveSequence(latest, seq, "b2", t2)
	require.NoError(t, err)
	require.Len(t, decisions, 2)

	// Only the first decision closes a pre-existing row.
	require.NotNil(t, decisions[0].Close)
	assert.Equal(t, latest.SurrogateKey, decisions[0].Close.SurrogateKey)
	assert.Nil(t, decisions[1].Close)

	assert.Equal(t, dimension.StateHistorical, decisions[0].Insert.State)
	assert.Equal(t, dimension.StateCurrent, decisions[1].Insert.State)
}

func TestResolveSequence_NoopMidSequence(t *testing.T) {
	latest := openCurrent("A", "h1", 0)
	seq := []Incoming{
		upsert("A", "h1"), // equal hash, noop
		upsert("A", "h2"),
	}

	decisions, err := ResolveSequence(latest, seq, "b2", t2)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, ActionUpdate, decisions[0].Action)
}
