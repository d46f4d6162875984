package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prashantv/gostub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plentyOfMemory() (uint64, error) { return 1 << 40, nil }

func TestDefaultValidates(t *testing.T) {
	stubs := gostub.Stub(&freeMemory, plentyOfMemory)
	defer stubs.Reset()

	cfg := Default()
	cfg.Normalize()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 500*8*1024, cfg.PoolSize)
	assert.Equal(t, 1, cfg.Workers())
}

func TestValidateRejects(t *testing.T) {
	stubs := gostub.Stub(&freeMemory, plentyOfMemory)
	defer stubs.Reset()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no connections", func(c *Config) { c.MaxConnections = 0 }},
		{"no headers", func(c *Config) { c.MaxHeaders = 0 }},
		{"no params", func(c *Config) { c.MaxParams = 0 }},
		{"small header", func(c *Config) { c.MaxHeaderSize = 512 }},
		{"small pool", func(c *Config) { c.PoolSize = 64 * 1024 }},
		{"no writes", func(c *Config) { c.MaxWrites = 0 }},
		{"bad port", func(c *Config) { c.Port = 70000 }},
		{"bad backend", func(c *Config) { c.Backend = "kqueue" }},
		{"negative idle", func(c *Config) { c.IdleTimeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestValidateMemory(t *testing.T) {
	cfg := Default()

	stubs := gostub.Stub(&freeMemory, func() (uint64, error) { return cfg.NeededMemory(), nil })
	assert.ErrorIs(t, cfg.Validate(), ErrInsufficientMem)
	stubs.Reset()

	stubs = gostub.Stub(&freeMemory, func() (uint64, error) { return 0, errors.New("no sysinfo") })
	defer stubs.Reset()
	assert.Error(t, cfg.Validate())
}

func TestNeededMemoryScalesWithWorkers(t *testing.T) {
	cfg := Default()
	single := cfg.NeededMemory()
	assert.Greater(t, single, uint64(cfg.PoolSize))

	cfg.MultiCore = true
	assert.Equal(t, single*uint64(cfg.Workers()), cfg.NeededMemory())
}

func TestHeaderBufferSize(t *testing.T) {
	cfg := Default()
	cfg.MaxHeaderSize = 1000
	assert.Equal(t, 1024, cfg.HeaderBufferSize())
	cfg.MaxHeaderSize = 8192
	assert.Equal(t, 8192, cfg.HeaderBufferSize())
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
port = 9000
max-writes = 3
idle-timeout = "2s"
backend = "epoll"

[log]
level = "debug"
`), 0o644))

	env := []string{
		"FAST_URING_MAX_WRITES=4",
		"FAST_URING_POOL_ONLY=yes",
		"FAST_URING_LOG_FORMAT=json",
		"UNRELATED=1",
	}
	cfg, err := Load([]string{"-config", path, "-port", "9100"}, env)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, 4, cfg.MaxWrites)
	assert.Equal(t, 2*time.Second, cfg.IdleTimeout)
	assert.Equal(t, BackendEpoll, cfg.Backend)
	assert.True(t, cfg.PoolOnly)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, DefaultMaxHeaders, cfg.MaxHeaders)
}

func TestLoadFileUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("max-wrtes = 3\n"), 0o644))
	assert.Error(t, LoadFile(path, Default()))
}

func TestApplyEnvErrors(t *testing.T) {
	cfg := Default()
	assert.Error(t, ApplyEnv(cfg, EnvPrefix, []string{"FAST_URING_PORT=eighty"}))
	assert.Error(t, ApplyEnv(cfg, EnvPrefix, []string{"FAST_URING_MULTI_CORE=maybe"}))

	require.NoError(t, ApplyEnv(cfg, EnvPrefix, []string{"FAST_URING_IDLE_TIMEOUT=250ms"}))
	assert.Equal(t, 250*time.Millisecond, cfg.IdleTimeout)
}

func TestLoadBadFlag(t *testing.T) {
	_, err := Load([]string{"-no-such-flag"}, nil)
	assert.Error(t, err)
}
