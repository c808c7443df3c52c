package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionRepo_LatestQuery(t *testing.T) {
	repo := NewVersionRepo(nil)

	sql, args, err := repo.latestQuery([]string{"cust-1", "cust-2"}).ToSql()
	require.NoError(t, err)

	assert.Contains(t, sql, "FROM scd_version")
	assert.Contains(t, sql, "business_key IN ($1,$2)")
	assert.Contains(t, sql, "state IN ($3,$4)")
	assert.Equal(t, []any{"cust-1", "cust-2", "CURRENT", "DELETED"}, args)
}

func TestVersionRepo_HistoryQuery(t *testing.T) {
	repo := NewVersionRepo(nil)

	sql, args, err := repo.historyQuery([]string{"cust-1"}).ToSql()
	require.NoError(t, err)

	assert.Contains(t, sql, "ORDER BY business_key, valid_from, valid_to")
	assert.Equal(t, []any{"cust-1"}, args)
}

func TestVersionRepo_PointInTimeQuery(t *testing.T) {
	repo := NewVersionRepo(nil)
	asOf := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	sql, args, err := repo.pointInTimeQuery("cust-1", asOf).ToSql()
	require.NoError(t, err)

	assert.Contains(t, sql, "valid_from <= $2")
	assert.Contains(t, sql, "valid_to > $3")
	assert.Contains(t, sql, "state <> $4")
	assert.Contains(t, sql, "LIMIT 1")
	require.Len(t, args, 4)
	assert.Equal(t, "cust-1", args[0])
	assert.Equal(t, asOf, args[1])
	assert.Equal(t, asOf, args[2])
	assert.Equal(t, "DELETED", args[3])
}

func TestVersionRepo_SelectColumnsMatchModel(t *testing.T) {
	repo := NewVersionRepo(nil)
	assert.Len(t, repo.cols, 9)
	assert.Contains(t, repo.cols, "surrogate_key")
	assert.Contains(t, repo.cols, "valid_to")
}
