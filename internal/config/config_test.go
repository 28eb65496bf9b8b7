package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"cherry_chat/internal/protocol/address"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	v, err := New("")
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	require.Equal(t, address.DefaultProgramID, cfg.ProgramID)
	require.True(t, cfg.Subscribe)
	require.Equal(t, "localhost:9090", cfg.Gateway)
	require.Equal(t, 24*time.Hour, cfg.Redis.KeyTTL)
	require.True(t, cfg.Redis.CacheKeys)
}

func TestFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rpc_url: http://node:8899\nredis:\n  db: 3\n  key_ttl: 1h\nsubscribe: false\n"), 0o600))
	t.Setenv("CHERRY_MONGO_DATABASE", "other")
	t.Setenv("CHERRY_REDIS_CACHE_KEYS", "false")

	v, err := New(path)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	require.Equal(t, "http://node:8899", cfg.RPCURL)
	require.Equal(t, 3, cfg.Redis.DB)
	require.Equal(t, time.Hour, cfg.Redis.KeyTTL)
	require.False(t, cfg.Subscribe)
	require.Equal(t, "other", cfg.Mongo.Database)
	require.False(t, cfg.Redis.CacheKeys)
}

func TestBadProgramID(t *testing.T) {
	v, err := New("")
	require.NoError(t, err)
	v.Set("program_id", "not base58 0OIl")
	_, err = Load(v)
	require.Error(t, err)
}
