package dedupe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougwmorrow/open-sc/internal/domain/dimension"
)

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestDedupe_LastWriteWinsByTimestamp(t *testing.T) {
	d := New(DefaultPolicy())

	records := []dimension.ChangeRecord{
		{BusinessKey: "B002", Attributes: dimension.Attributes{"city": "NY"}, SourceTimestamp: ts("2024-03-01T10:00:00Z"), Seq: 0},
		{BusinessKey: "B002", Attributes: dimension.Attributes{"city": "LA"}, SourceTimestamp: ts("2024-03-01T11:00:00Z"), Seq: 1},
		{BusinessKey: "B002", Attributes: dimension.Attributes{"city": "SF"}, SourceTimestamp: ts("2024-03-01T09:00:00Z"), Seq: 2},
	}

	out := d.Dedupe(records)
	require.Len(t, out["B002"], 1)
	assert.Equal(t, "LA", out["B002"][0].Attributes["city"])
}

func TestDedupe_TimestampTieFallsBackToSequence(t *testing.T) {
	d := New(DefaultPolicy())

	same := ts("2024-03-01T10:00:00Z")
	records := []dimension.ChangeRecord{
		{BusinessKey: "A", Attributes: dimension.Attributes{"v": 1}, SourceTimestamp: same, Seq: 0},
		{BusinessKey: "A", Attributes: dimension.Attributes{"v": 2}, SourceTimestamp: same, Seq: 1},
	}

	out := d.Dedupe(records)
	require.Len(t, out["A"], 1)
	assert.Equal(t, 2, out["A"][0].Attributes["v"])
}

func TestDedupe_MissingTimestampLosesToTimestamped(t *testing.T) {
	d := New(DefaultPolicy())

	records := []dimension.ChangeRecord{
		{BusinessKey: "A", Attributes: dimension.Attributes{"v": "untimed"}, Seq: 5},
		{BusinessKey: "A", Attributes: dimension.Attributes{"v": "timed"}, SourceTimestamp: ts("2024-03-01T00:00:00Z"), Seq: 0},
	}

	out := d.Dedupe(records)
	require.Len(t, out["A"], 1)
	assert.Equal(t, "timed", out["A"][0].Attributes["v"])
}

func TestDedupe_DeleteUpsertTie(t *testing.T) {
	same := ts("2024-03-01T10:00:00Z")
	records := []dimension.ChangeRecord{
		{BusinessKey: "A", Operation: dimension.OpDelete, SourceTimestamp: same, Seq: 0},
		{BusinessKey: "A", Operation: dimension.OpUpsert, Attributes: dimension.Attributes{"v": 1}, SourceTimestamp: same, Seq: 1},
	}

	t.Run("default: upsert outranks delete", func(t *testing.T) {
		out := New(DefaultPolicy()).Dedupe(records)
		require.Len(t, out["A"], 1)
		assert.Equal(t, dimension.OpUpsert, out["A"][0].Op())
	})

	t.Run("configured: delete wins", func(t *testing.T) {
		out := New(Policy{Mode: ModeLastWriteWins, DeleteWins: true}).Dedupe(records)
		require.Len(t, out["A"], 1)
		assert.Equal(t, dimension.OpDelete, out["A"][0].Op())
	})
}

func TestDedupe_FullFidelityKeepsOrderedSequence(t *testing.T) {
	d := New(Policy{Mode: ModeFullFidelity})

	records := []dimension.ChangeRecord{
		{BusinessKey: "A", Attributes: dimension.Attributes{"v": 2}, SourceTimestamp: ts("2024-03-01T11:00:00Z"), Seq: 0},
		{BusinessKey: "A", Attributes: dimension.Attributes{"v": 1}, SourceTimestamp: ts("2024-03-01T10:00:00Z"), Seq: 1},
		{BusinessKey: "A", Attributes: dimension.Attributes{"v": 3}, SourceTimestamp: ts("2024-03-01T12:00:00Z"), Seq: 2},
	}

	out := d.Dedupe(records)
	require.Len(t, out["A"], 3)
	assert.Equal(t, 1, out["A"][0].Attributes["v"])
	assert.Equal(t, 2, out["A"][1].Attributes["v"])
	assert.Equal(t, 3, out["A"][2].Attributes["v"])
}

func TestDedupe_IndependentKeysUntouched(t *testing.T) {
	d := New(DefaultPolicy())

	records := []dimension.ChangeRecord{
		{BusinessKey: "A", Attributes: dimension.Attributes{"v": 1}, Seq: 0},
		{BusinessKey: "B", Attributes: dimension.Attributes{"v": 2}, Seq: 1},
	}

	out := d.Dedupe(records)
	assert.Len(t, out, 2)
	require.Len(t, out["A"], 1)
	require.Len(t, out["B"], 1)
}
