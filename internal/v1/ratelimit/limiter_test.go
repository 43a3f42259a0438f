package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pimeng/tphira-mp-sub001/internal/v1/config"
)

func testConfig() *config.Config {
	return &config.Config{
		RateLimitChat: "2-M",
		RateLimitRoom: "3-M",
		RateLimitGame: "100-M",
	}
}

func TestAllowExhaustsBucket(t *testing.T) {
	l, err := NewCommandLimiters(testConfig(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	assert.True(t, l.Allow(ctx, ClassChat, "100"))
	assert.True(t, l.Allow(ctx, ClassChat, "100"))
	assert.False(t, l.Allow(ctx, ClassChat, "100"))

	// Other keys and classes have independent buckets.
	assert.True(t, l.Allow(ctx, ClassChat, "101"))
	assert.True(t, l.Allow(ctx, ClassRoom, "100"))
}

func TestInvalidRateRejected(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitGame = "lots"
	_, err := NewCommandLimiters(cfg, nil)
	require.Error(t, err)
}
