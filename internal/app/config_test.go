package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("LICENSE_SECRET", "s3cret")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 24*time.Hour, cfg.LicenseTrial)
	require.Equal(t, "TXN", cfg.NumberPrefix)
	require.Equal(t, 5*time.Minute, cfg.CacheTTL)
	require.False(t, cfg.MigrateOnStart)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("LICENSE_SECRET", "s3cret")
	t.Setenv("APP_ENV", "production")
	t.Setenv("NUMBER_PREFIX", "INV")
	t.Setenv("MIGRATE_ON_START", "true")
	t.Setenv("RATE_LIMIT_PER_MIN", "30")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.Equal(t, "INV", cfg.NumberPrefix)
	require.True(t, cfg.MigrateOnStart)
	require.Equal(t, 30, cfg.RateLimitPerMin)
}

func TestLoadConfigRequiresLicenseSecret(t *testing.T) {
	t.Setenv("LICENSE_SECRET", "")
	_, err := LoadConfig()
	require.Error(t, err)
}
