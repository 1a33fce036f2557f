package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STRING", "nebengjek")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "forty-two")
	t.Setenv("TEST_BOOL", "true")
	t.Setenv("TEST_FLOAT", "15.5")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_DURATION_SECONDS", "10")
	t.Setenv("TEST_SLICE", "a:9092, b:9092,,")

	assert.Equal(t, "nebengjek", GetEnv("TEST_STRING", "x"))
	assert.Equal(t, "fallback", GetEnv("TEST_MISSING", "fallback"))
	assert.Equal(t, 42, GetEnvAsInt("TEST_INT", 0))
	assert.Equal(t, 7, GetEnvAsInt("TEST_BAD_INT", 7))
	assert.True(t, GetEnvAsBool("TEST_BOOL", false))
	assert.Equal(t, 15.5, GetEnvAsFloat("TEST_FLOAT", 0))
	assert.Equal(t, 90*time.Second, GetEnvAsDuration("TEST_DURATION", 0))
	assert.Equal(t, 10*time.Second, GetEnvAsDuration("TEST_DURATION_SECONDS", 0))
	assert.Equal(t, []string{"a:9092", "b:9092"}, GetEnvAsSlice("TEST_SLICE", nil))
	assert.Equal(t, []string{"d"}, GetEnvAsSlice("TEST_MISSING", []string{"d"}))
}

func TestInitConfig_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "test")

	cfg := InitConfig("does-not-exist.env")
	require.NotNil(t, cfg)

	assert.Equal(t, 15*time.Minute, cfg.Dispatch.WaitingWindow)
	assert.Equal(t, 15.0, cfg.Dispatch.SearchRadiusKm)
	assert.Equal(t, 5*time.Second, cfg.Dispatch.ClaimTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Dispatch.ActiveTripWindow)
	assert.Equal(t, "trip_audit", cfg.NSQ.AuditTopic)
	assert.Equal(t, "driver-locations", cfg.Kafka.LocationTopic)
	assert.False(t, cfg.Geocoder.Enabled)
}

func TestInitConfig_LoadsLocalEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dispatch.env")
	require.NoError(t, os.WriteFile(path, []byte("DISPATCH_SEARCH_RADIUS_KM=7.5\nDISPATCH_WAITING_WINDOW=10m\n"), 0o600))

	t.Setenv("APP_ENV", "local")
	t.Cleanup(func() {
		os.Unsetenv("DISPATCH_SEARCH_RADIUS_KM")
		os.Unsetenv("DISPATCH_WAITING_WINDOW")
	})

	cfg := InitConfig(path)

	assert.Equal(t, 7.5, cfg.Dispatch.SearchRadiusKm)
	assert.Equal(t, 10*time.Minute, cfg.Dispatch.WaitingWindow)
}
