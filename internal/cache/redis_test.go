package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"mx-liquidity/internal/config"
	"mx-liquidity/internal/storage"
)

func TestWrapKey(t *testing.T) {
	assert.Equal(t, "mxliquidity:pools", (&RedisCache{prefix: "mxliquidity"}).wrapKey(poolsKey))
	assert.Equal(t, "mxliquidity:pools", (&RedisCache{prefix: "mxliquidity:"}).wrapKey(poolsKey))
	assert.Equal(t, "pools", (&RedisCache{}).wrapKey(poolsKey))
}

func TestRedisCacheRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis integration test in -short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	c, err := NewRedisCache(ctx, config.CacheConfig{Addr: endpoint, Prefix: "test", TTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	_, err = c.GetPools(ctx)
	assert.ErrorIs(t, err, ErrCacheMiss)

	pools := []storage.Pool{
		{Address: "erd1b", TokenA: "WEGLD", TokenB: "USDC", TVLUSD: 200000, PriceRatio: 30, RiskScore: 15, LastUpdated: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
		{Address: "erd1a", TokenA: "MEX", TokenB: storage.UnknownToken, TVLUSD: 5000, PriceRatio: 1, RiskScore: 35, LastUpdated: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
	}
	require.NoError(t, c.SetPools(ctx, pools))

	got, err := c.GetPools(ctx)
	require.NoError(t, err)
	assert.Equal(t, pools, got)

	require.NoError(t, c.Invalidate(ctx))
	_, err = c.GetPools(ctx)
	assert.ErrorIs(t, err, ErrCacheMiss)
}
