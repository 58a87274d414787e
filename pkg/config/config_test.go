package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 100, cfg.Allocation.MaxBatchSize)
	assert.Equal(t, 2, cfg.Allocation.ConflictRetries)
	assert.Equal(t, time.Hour, cfg.Meeting.DefaultDuration)
	assert.Equal(t, 24*time.Hour, cfg.JWT.Expiration)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOCATION_MAX_BATCH", "25")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("PROGRESS_CACHE_TTL", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 25, cfg.Allocation.MaxBatchSize)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, 5*time.Minute, cfg.Progress.CacheTTL)
}

func TestLoadRejectsUnsafeProductionSettings(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ENV", EnvProduction)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "RAZORPAY_KEY_SECRET")

	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("RAZORPAY_KEY_SECRET", "rzp")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

func TestValidateMeetingCredentials(t *testing.T) {
	cfg := &Config{Port: 8080, APIPrefix: "/api/v1", Meeting: MeetingConfig{Enabled: true}}
	require.ErrorContains(t, cfg.Validate(), "MEET_CREDENTIALS_FILE")

	cfg.Meeting.CredentialsFile = "/etc/meet.json"
	require.NoError(t, cfg.Validate())

	cfg.APIPrefix = "api"
	require.ErrorContains(t, cfg.Validate(), "API_PREFIX")
}
