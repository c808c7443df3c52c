package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 5000, cfg.Engine.ChunkSize)
	assert.Equal(t, 30*time.Second, cfg.Engine.LockTimeout)
	assert.True(t, cfg.Engine.ValidateAfterApply)
	assert.Equal(t, "xxhash64", cfg.Engine.HashAlgorithm)
	assert.Equal(t, int32(4), cfg.Canonical.DecimalPlaces)
	assert.True(t, cfg.Database.Migrate)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SCD_ENGINE_CHUNK_SIZE", "100")
	t.Setenv("SCD_DATABASE_DSN", "postgres://db:5432/versions")
	t.Setenv("SCD_ENGINE_FAIL_FAST", "true")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Engine.ChunkSize)
	assert.Equal(t, "postgres://db:5432/versions", cfg.Database.DSN)
	assert.True(t, cfg.Engine.FailFast)
}

// Keys without a non-zero default still have to pick up their environment
// override; viper only binds env vars for keys it has seen.
func TestLoad_EnvOverrideZeroDefaultKeys(t *testing.T) {
	t.Setenv("SCD_AUTH_JWT_SECRET", "super-secret")
	t.Setenv("SCD_ENGINE_DELETE_WINS", "true")
	t.Setenv("SCD_ENGINE_FILTER_EXPR", `attrs["tier"] == "test"`)

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "super-secret", cfg.Auth.JWTSecret)
	assert.True(t, cfg.Engine.DeleteWins)
	assert.Equal(t, `attrs["tier"] == "test"`, cfg.Engine.FilterExpr)
}

func TestEngineConfig_Translation(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	cfg.Engine.DedupeMode = "full_fidelity"
	cfg.Canonical.TimestampPrecision = "second"

	ec := cfg.EngineConfig()
	assert.Equal(t, "default", ec.Scope)
	assert.Equal(t, "full_fidelity", string(ec.Dedupe.Mode))
	assert.Equal(t, time.Second, ec.Canonical.TimestampPrecision)
}
