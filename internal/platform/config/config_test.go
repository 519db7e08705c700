package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"FUNDPOOL_ADDR", "MINIMUM_EXTERNAL", "NETWORK", "KAFKA_BROKERS", "WITHDRAW_LEASE_TTL"} {
		t.Setenv(key, "")
	}
	cfg := FromEnv()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.True(t, cfg.MinimumExternal.Equal(DefaultMinimumExternal))
	assert.Equal(t, "hardhat", cfg.Network)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, 30*time.Second, cfg.WithdrawLeaseTTL)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("FUNDPOOL_ADDR", ":9090")
	t.Setenv("MINIMUM_EXTERNAL", "75.5")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("ORACLE_TIMEOUT", "2s")
	t.Setenv("RATE_LIMIT_BURST", "3")

	cfg := FromEnv()
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "75.5", cfg.MinimumExternal.String())
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 2*time.Second, cfg.OracleTimeout)
	assert.Equal(t, 3, cfg.RateLimitBurst)
}

func TestFromEnvIgnoresNonPositiveMinimum(t *testing.T) {
	t.Setenv("MINIMUM_EXTERNAL", "-1")
	assert.True(t, FromEnv().MinimumExternal.Equal(DefaultMinimumExternal))
}

func TestParseNetworks(t *testing.T) {
	t.Run("valid table", func(t *testing.T) {
		nets, err := ParseNetworks([]byte(`
networks:
  hardhat:
    mock: true
  sepolia:
    feed_url: http://feed
    decimals: 8
`))
		require.NoError(t, err)
		require.Len(t, nets, 2)
		assert.True(t, nets["hardhat"].Mock)
		assert.Equal(t, "sepolia", nets["sepolia"].Name)
		require.NotNil(t, nets["sepolia"].Decimals)
		assert.Equal(t, uint8(8), *nets["sepolia"].Decimals)
	})

	t.Run("feed url required", func(t *testing.T) {
		_, err := ParseNetworks([]byte("networks:\n  mainnet:\n    chain_id: 1\n"))
		require.Error(t, err)
	})

	t.Run("decimals out of range", func(t *testing.T) {
		_, err := ParseNetworks([]byte("networks:\n  x:\n    feed_url: http://f\n    decimals: 19\n"))
		require.Error(t, err)
	})
}

func TestResolve(t *testing.T) {
	nets := Networks{}
	n, err := nets.Resolve("localhost")
	require.NoError(t, err)
	assert.True(t, n.Mock)

	_, err = nets.Resolve("mainnet")
	require.Error(t, err)
}

func TestLoadNetworksMissingFile(t *testing.T) {
	nets, err := LoadNetworks(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, nets)
}

func TestLoadNetworksRepositoryTable(t *testing.T) {
	nets, err := LoadNetworks(filepath.Join("..", "..", "..", "config", "networks.yaml"))
	require.NoError(t, err)
	hardhat, err := nets.Resolve("hardhat")
	require.NoError(t, err)
	assert.True(t, hardhat.Mock)
}
