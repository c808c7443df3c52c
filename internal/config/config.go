// Package config loads the service configuration from config.yaml plus
// SCD_-prefixed environment overrides.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dougwmorrow/open-sc/internal/domain/canonical"
	"github.com/dougwmorrow/open-sc/internal/domain/dedupe"
	"github.com/dougwmorrow/open-sc/internal/domain/engine"
)

// Config is the full service configuration.
type Config struct {
	HTTP      HTTP      `mapstructure:"http"`
	Database  Database  `mapstructure:"database"`
	Auth      Auth      `mapstructure:"auth"`
	Engine    Engine    `mapstructure:"engine"`
	Canonical Canonical `mapstructure:"canonical"`
	Log       Log       `mapstructure:"log"`
}

type HTTP struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type Database struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

type Auth struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type Engine struct {
	Scope              string        `mapstructure:"scope"`
	FailFast           bool          `mapstructure:"fail_fast"`
	ChunkSize          int           `mapstructure:"chunk_size"`
	LockTimeout        time.Duration `mapstructure:"lock_timeout"`
	ValidateAfterApply bool          `mapstructure:"validate_after_apply"`
	DedupeMode         string        `mapstructure:"dedupe_mode"`
	DeleteWins         bool          `mapstructure:"delete_wins"`
	HashAlgorithm      string        `mapstructure:"hash_algorithm"`
	FilterExpr         string        `mapstructure:"filter_expr"`
}

type Canonical struct {
	DecimalPlaces      int32  `mapstructure:"decimal_places"`
	TimestampPrecision string `mapstructure:"timestamp_precision"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config.yaml from configPath and applies environment overrides
// (SCD_DATABASE_DSN, SCD_HTTP_ADDR, ...). A missing file is not an error,
// defaults plus environment carry a minimal deployment.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.SetEnvPrefix("SCD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.dsn", "postgres://localhost:5432/scd?sslmode=disable")
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.migrate", true)

	// Every key needs a registered default, even a zero one: viper only
	// consults the environment during Unmarshal for keys it knows about.
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", time.Hour)

	v.SetDefault("engine.scope", "default")
	v.SetDefault("engine.fail_fast", false)
	v.SetDefault("engine.chunk_size", 5000)
	v.SetDefault("engine.lock_timeout", 30*time.Second)
	v.SetDefault("engine.validate_after_apply", true)
	v.SetDefault("engine.dedupe_mode", string(dedupe.ModeLastWriteWins))
	v.SetDefault("engine.delete_wins", false)
	v.SetDefault("engine.hash_algorithm", "xxhash64")
	v.SetDefault("engine.filter_expr", "")

	v.SetDefault("canonical.decimal_places", 4)
	v.SetDefault("canonical.timestamp_precision", "millisecond")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// EngineConfig translates the loaded settings into the engine's Config.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		Scope:              c.Engine.Scope,
		FailFast:           c.Engine.FailFast,
		ChunkSize:          c.Engine.ChunkSize,
		LockTimeout:        c.Engine.LockTimeout,
		ValidateAfterApply: c.Engine.ValidateAfterApply,
		Canonical: canonical.Policy{
			DecimalPlaces:      c.Canonical.DecimalPlaces,
			TimestampPrecision: canonical.PrecisionByName(c.Canonical.TimestampPrecision),
		},
		Dedupe: dedupe.Policy{
			Mode:       dedupe.Mode(c.Engine.DedupeMode),
			DeleteWins: c.Engine.DeleteWins,
		},
		HashAlgorithm: c.Engine.HashAlgorithm,
		FilterExpr:    c.Engine.FilterExpr,
	}
}
