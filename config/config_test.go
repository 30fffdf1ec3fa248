package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "aula-insights", cfg.App.Name)
	assert.Equal(t, EnvDevelopment, cfg.App.Environment)
	assert.True(t, cfg.IsDevelopment())

	assert.Equal(t, 5*time.Minute, cfg.Cache.Staleness)
	assert.Equal(t, 50, cfg.Cache.MaxEntries)

	assert.True(t, cfg.Policy.Enabled)
	assert.False(t, cfg.Policy.NotifyHigh)
	assert.Equal(t, "08:00", cfg.Policy.WindowStart)
	assert.Equal(t, "20:00", cfg.Policy.WindowEnd)

	assert.Equal(t, "console", cfg.Email.Provider)
	assert.Equal(t, 24*time.Hour, cfg.Redis.CooldownTTL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CACHE_MAX_ENTRIES", "10")
	t.Setenv("POLICY_PERFORMANCE_THRESHOLD", "4.5")
	t.Setenv("SCHEDULER_RETRY_INTERVAL", "5m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Cache.MaxEntries)
	assert.Equal(t, 4.5, cfg.Policy.PerformanceThreshold)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.RetrySweepInterval)
}

func TestLoad_ThresholdOverrides(t *testing.T) {
	t.Setenv("INSIGHT_THRESHOLDS", `{"rendimientoCritico": 4.5, "maxAusenciasCriticas": 6}`)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4.5, cfg.Insight.ThresholdOverrides["rendimientoCritico"])

	t.Setenv("INSIGHT_THRESHOLDS", `not json`)
	_, err = Load()
	assert.Error(t, err)
}

func TestLoad_GatewayRequiresCredentials(t *testing.T) {
	t.Setenv("EMAIL_PROVIDER", "gateway")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EMAIL_API_KEY")
}

func TestFeatureFlags_EnvAndRollout(t *testing.T) {
	t.Setenv("FEATURE_NOTIFY_SMS", "false")
	t.Setenv("FEATURE_NOTIFY_HIGH_PRIORITY", "50")

	ff := LoadFeatureFlags()

	assert.False(t, ff.IsEnabled(FeatureNotifySMS, nil))
	assert.True(t, ff.IsEnabled(FeatureNotifyEmail, nil))

	// 50% rollout buckets students deterministically.
	ctx := &FeatureContext{StudentID: "stu-1"}
	first := ff.IsEnabled(FeatureNotifyHighPri, ctx)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ff.IsEnabled(FeatureNotifyHighPri, ctx))
	}

	// Overrides beat rollout.
	ff.SetStudentOverride("stu-1", FeatureNotifyHighPri, !first)
	assert.Equal(t, !first, ff.IsEnabled(FeatureNotifyHighPri, ctx))

	ff.ClearStudentOverrides("stu-1")
	assert.Equal(t, first, ff.IsEnabled(FeatureNotifyHighPri, ctx))
}

func TestFeatureFlags_UnknownFeature(t *testing.T) {
	ff := LoadFeatureFlags()
	assert.False(t, ff.IsEnabled("does.not_exist", nil))
}
