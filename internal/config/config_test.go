package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/shipbroker/internal/config"
)

func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	inTempDir(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "50", cfg.FallbackBase.String())
	assert.Equal(t, "20", cfg.FallbackPerKg.String())
	assert.Equal(t, 2*time.Minute, cfg.BookingLease)
	assert.Equal(t, 5, cfg.BookingMaxAttempts)
	assert.Equal(t, "shipbroker.topups", cfg.KafkaTopUpTopic)
	assert.Empty(t, cfg.DatabaseURL)
	assert.True(t, cfg.DHLEnabled)
}

func TestLoad_EnvironmentAndDotEnv(t *testing.T) {
	dir := inTempDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("FALLBACK_PER_KG=18.5\nKAFKA_BROKERS=k1:9092,k2:9092\nPORT=9000\n"), 0o600))
	t.Setenv("PORT", "7000")
	t.Setenv("BOOKING_SWEEP_INTERVAL", "1m")
	t.Cleanup(func() {
		os.Unsetenv("FALLBACK_PER_KG")
		os.Unsetenv("KAFKA_BROKERS")
	})

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Port, "environment wins over .env")
	assert.Equal(t, "18.5", cfg.FallbackPerKg.String())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, time.Minute, cfg.BookingSweepInterval)
}

func TestLoad_Invalid(t *testing.T) {
	inTempDir(t)

	t.Setenv("FALLBACK_BASE", "-1")
	_, err := config.Load()
	assert.Error(t, err)

	t.Setenv("FALLBACK_BASE", "abc")
	_, err = config.Load()
	assert.Error(t, err)
}
