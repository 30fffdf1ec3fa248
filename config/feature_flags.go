package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags manages feature toggles for the insight pipeline.
// Supports gradual rollout by student so a risky change (a new rule, a new
// channel) can be watched on a fraction of families before going wide.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Override rules (for testing/debugging)
	studentOverrides map[string]map[string]bool // studentID -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	// Students are assigned based on hash of their ID
	RolloutPercent int
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	StudentID string // evaluated student, empty for global checks
	Group     string // class group, reserved for future targeting
}

// Predefined feature flag names.
const (
	// === Live query cache ===
	FeatureCacheWarmReplay = "cache.warm_replay" // Serve cached snapshots to new subscribers
	FeatureCacheSweeps     = "cache.sweeps"      // Staleness and capacity eviction

	// === Notification channels ===
	FeatureNotifyEmail = "notify.email" // Email delivery
	FeatureNotifySMS   = "notify.sms"   // SMS delivery

	// === Alert pipeline ===
	FeatureRetrySweep    = "notify.retry_sweep"       // Periodic retry of pending records
	FeatureRecordPurge   = "maintenance.record_purge" // Retention cleanup
	FeatureNotifyHighPri = "notify.high_priority"     // Notify high-priority findings too
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:         make(map[string]*Feature),
		studentOverrides: make(map[string]map[string]bool),
	}

	ff.initializeDefaults()
	ff.loadFromEnvironment()

	return ff
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureCacheWarmReplay] = &Feature{
		Name:           FeatureCacheWarmReplay,
		Description:    "Serve cached snapshots to new subscribers",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureCacheSweeps] = &Feature{
		Name:           FeatureCacheSweeps,
		Description:    "Staleness and capacity eviction sweeps",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureNotifyEmail] = &Feature{
		Name:           FeatureNotifyEmail,
		Description:    "Deliver notifications by email",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureNotifySMS] = &Feature{
		Name:           FeatureNotifySMS,
		Description:    "Deliver notifications by SMS",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureRetrySweep] = &Feature{
		Name:           FeatureRetrySweep,
		Description:    "Retry pending notification records",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureRecordPurge] = &Feature{
		Name:           FeatureRecordPurge,
		Description:    "Purge notification records past retention",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureNotifyHighPri] = &Feature{
		Name:           FeatureNotifyHighPri,
		Description:    "Notify high-priority findings, not only critical",
		Enabled:        false, // Families found it noisy; kept for pilots
		RolloutPercent: 0,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_NOTIFY_SMS=false
// Example: FEATURE_NOTIFY_HIGH_PRIORITY=25 (25% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		envKey := featureNameToEnvKey(name)
		val := os.Getenv(envKey)
		if val == "" {
			continue
		}

		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			if b {
				feature.RolloutPercent = 100
			} else {
				feature.RolloutPercent = 0
			}
			continue
		}

		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "notify.retry_sweep" -> "FEATURE_NOTIFY_RETRY_SWEEP"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	// Check per-student overrides first
	if ctx != nil && ctx.StudentID != "" {
		if overrides, ok := ff.studentOverrides[ctx.StudentID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}

	if !feature.Enabled {
		return false
	}

	if feature.RolloutPercent < 100 && ctx != nil && ctx.StudentID != "" {
		return ff.isInRollout(ctx.StudentID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// isInRollout determines if a student is in the rollout percentage.
// Uses consistent hashing so students stay in their bucket.
func (ff *FeatureFlags) isInRollout(studentID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(studentID))
	bucket := int(h.Sum32() % 100)

	return bucket < percent
}

// SetStudentOverride sets a feature override for a specific student.
func (ff *FeatureFlags) SetStudentOverride(studentID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.studentOverrides[studentID]; !ok {
		ff.studentOverrides[studentID] = make(map[string]bool)
	}
	ff.studentOverrides[studentID][featureName] = enabled
}

// ClearStudentOverrides removes all overrides for a student.
func (ff *FeatureFlags) ClearStudentOverrides(studentID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.studentOverrides, studentID)
}

// ListFeatures returns a snapshot of all features.
func (ff *FeatureFlags) ListFeatures() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	features := make([]Feature, 0, len(ff.features))
	for _, f := range ff.features {
		features = append(features, *f)
	}
	return features
}
