package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aula-hub/aula-insights/internal/domain/insight"
)

func TestCooldownKey(t *testing.T) {
	key, err := cooldownKey("stu-1", insight.KindCriticalPerformance)
	require.NoError(t, err)
	assert.Equal(t, "cooldown:stu-1:critical-performance", key)
}

func TestCooldownKeyValidation(t *testing.T) {
	_, err := cooldownKey("", insight.KindCriticalPerformance)
	assert.ErrorIs(t, err, ErrCooldownKeyEmpty)

	_, err = cooldownKey("stu-1", "")
	assert.ErrorIs(t, err, ErrCooldownKeyEmpty)
}
