package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aula-hub/aula-insights/internal/domain/insight"
	"github.com/aula-hub/aula-insights/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// COOLDOWN TRACKER
// ══════════════════════════════════════════════════════════════════════════════

// PrefixCooldown namespaces the suppression keys.
const PrefixCooldown = "cooldown:"

// DefaultCooldownTTL is how long one dispatched alert suppresses repeats of
// the same kind for the same student.
const DefaultCooldownTTL = 24 * time.Hour

var (
	// ErrCooldownKeyEmpty is returned when the student ID or kind is empty.
	ErrCooldownKeyEmpty = errors.New("cooldown: student id and kind are required")
)

// CooldownTracker implements notification.CooldownTracker on Redis TTL keys.
// A dispatched alert sets a key that expires on its own; presence of the key
// is the whole suppression decision.
type CooldownTracker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCooldownTracker creates a CooldownTracker. A non-positive ttl falls
// back to DefaultCooldownTTL.
func NewCooldownTracker(client *redis.Client, ttl time.Duration) *CooldownTracker {
	if ttl <= 0 {
		ttl = DefaultCooldownTTL
	}
	return &CooldownTracker{client: client, ttl: ttl}
}

// InCooldown reports whether the (student, kind) pair was dispatched inside
// the suppression window.
func (t *CooldownTracker) InCooldown(ctx context.Context, id student.ID, kind insight.Kind) (bool, error) {
	key, err := cooldownKey(id, kind)
	if err != nil {
		return false, err
	}

	n, err := t.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("cooldown: exists %s: %w", key, err)
	}
	return n > 0, nil
}

// MarkDispatched starts the suppression window for the pair. Re-marking an
// already suppressed pair resets the window.
func (t *CooldownTracker) MarkDispatched(ctx context.Context, id student.ID, kind insight.Kind) error {
	key, err := cooldownKey(id, kind)
	if err != nil {
		return err
	}

	if err := t.client.Set(ctx, key, time.Now().UTC().Format(time.RFC3339), t.ttl).Err(); err != nil {
		return fmt.Errorf("cooldown: set %s: %w", key, err)
	}
	return nil
}

// Remaining returns how long the pair stays suppressed, zero when it is not.
func (t *CooldownTracker) Remaining(ctx context.Context, id student.ID, kind insight.Kind) (time.Duration, error) {
	key, err := cooldownKey(id, kind)
	if err != nil {
		return 0, err
	}

	ttl, err := t.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("cooldown: ttl %s: %w", key, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// cooldownKey builds the suppression key for one (student, kind) pair.
func cooldownKey(id student.ID, kind insight.Kind) (string, error) {
	if !id.IsValid() || kind == "" {
		return "", ErrCooldownKeyEmpty
	}
	return fmt.Sprintf("%s%s:%s", PrefixCooldown, id.String(), kind.String()), nil
}
