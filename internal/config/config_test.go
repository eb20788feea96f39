package config

import (
	"bytes"
	"context"
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/agentrun/pkg/domain"
	"github.com/aretw0/agentrun/pkg/persistence/middleware"
)

// unsetEnv clears key for the duration of the test so a dotenv file can set it.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func clearEnv(t *testing.T) {
	for _, key := range []string{EnvStore, EnvRedisAddr, EnvSQLDSN, EnvSessionDir, EnvLogLevel, EnvQueueSize, EnvOverflow, EnvLogFormat, EnvRedactKeys, EnvEncryptionKey, EnvFallbackKeys} {
		unsetEnv(t, key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, StoreFile, cfg.Store)
	assert.Equal(t, DefaultSessionDir, cfg.SessionDir)
	assert.Equal(t, "drop_oldest", cfg.Overflow)
	assert.Equal(t, slog.LevelInfo, cfg.Level())
	assert.Empty(t, cfg.AgentPath)
}

func TestLoad_Precedence(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	agent := `name: reviewer
version: "1.2"
runtime:
  store: sqlite
  session_dir: from-agent
  queue_size: 16
  log_level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, AgentConfigFile), []byte(agent), 0644))

	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("AGENTRUN_SESSION_DIR=from-dotenv\nAGENTRUN_OVERFLOW=disconnect\n"), 0644))

	t.Setenv(EnvQueueSize, "64")

	cfg, err := Load(dir, envFile)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.AgentPath)
	assert.Equal(t, "reviewer", cfg.Agent.Name)
	assert.Equal(t, "1.2", cfg.Agent.Version)
	assert.Equal(t, StoreSQLite, cfg.Store, "agent config applies when nothing overrides it")
	assert.Equal(t, "from-dotenv", cfg.SessionDir, "dotenv beats agent config")
	assert.Equal(t, "disconnect", cfg.Overflow)
	assert.Equal(t, 64, cfg.QueueSize, "environment beats agent config")
	assert.Equal(t, slog.LevelDebug, cfg.Level())

	cfg.Override(RuntimeConfig{Store: StoreMemory})
	assert.Equal(t, StoreMemory, cfg.Store, "flags beat everything")
	assert.Equal(t, "from-dotenv", cfg.SessionDir, "zero flag values leave settings alone")
}

func TestLoad_DotenvDoesNotOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("AGENTRUN_STORE=redis\n"), 0644))
	t.Setenv(EnvStore, StoreMemory)

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
}

func TestLoad_MissingDotenvIsIgnored(t *testing.T) {
	clearEnv(t)

	_, err := Load("", filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestLoad_InvalidQueueSize(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvQueueSize, "lots")

	_, err := Load("", "")
	assert.ErrorContains(t, err, EnvQueueSize)
}

func TestReadAgentConfig(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		cfg, found, err := ReadAgentConfig(t.TempDir())
		require.NoError(t, err)
		assert.False(t, found)
		assert.Empty(t, cfg.Name)
	})

	t.Run("json", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "agent-config.json"),
			[]byte(`{"name":"writer","version":"0.1","runtime":{"store":"memory"}}`), 0644))

		cfg, found, err := ReadAgentConfig(dir)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "writer", cfg.Name)
		assert.Equal(t, StoreMemory, cfg.Runtime.Store)
	})

	t.Run("yaml wins over json", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, AgentConfigFile), []byte("name: from-yaml\n"), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "agent-config.json"), []byte(`{"name":"from-json"}`), 0644))

		cfg, _, err := ReadAgentConfig(dir)
		require.NoError(t, err)
		assert.Equal(t, "from-yaml", cfg.Name)
	})

	t.Run("malformed", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, AgentConfigFile), []byte("name: [unclosed\n"), 0644))

		_, _, err := ReadAgentConfig(dir)
		assert.ErrorContains(t, err, AgentConfigFile)
	})
}

func TestLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"", slog.LevelInfo},
		{"chatty", slog.LevelInfo},
	}
	for _, tt := range tests {
		c := &Config{RuntimeConfig: RuntimeConfig{LogLevel: tt.in}}
		assert.Equal(t, tt.want, c.Level(), tt.in)
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		b, err := OpenStore(ctx, &Config{RuntimeConfig: RuntimeConfig{Store: StoreMemory}})
		require.NoError(t, err)
		defer b.Close()
		assert.NotNil(t, b.Store)
		assert.Nil(t, b.Locker)
	})

	t.Run("file creates the directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "sessions")
		b, err := OpenStore(ctx, &Config{RuntimeConfig: RuntimeConfig{Store: StoreFile, SessionDir: dir}})
		require.NoError(t, err)
		defer b.Close()
		assert.DirExists(t, dir)
	})

	t.Run("sqlite defaults into the session directory", func(t *testing.T) {
		dir := t.TempDir()
		b, err := OpenStore(ctx, &Config{RuntimeConfig: RuntimeConfig{Store: StoreSQLite, SessionDir: dir}})
		require.NoError(t, err)
		require.NoError(t, b.Close())
		assert.FileExists(t, filepath.Join(dir, "sessions.db"))
	})

	t.Run("redis comes with a locker", func(t *testing.T) {
		mr := miniredis.RunT(t)
		unsetEnv(t, EnvRedisPassword)
		b, err := OpenStore(ctx, &Config{RuntimeConfig: RuntimeConfig{Store: StoreRedis, RedisAddr: mr.Addr()}})
		require.NoError(t, err)
		defer b.Close()
		assert.NotNil(t, b.Locker)
	})

	t.Run("redis needs an address", func(t *testing.T) {
		_, err := OpenStore(ctx, &Config{RuntimeConfig: RuntimeConfig{Store: StoreRedis}})
		assert.ErrorContains(t, err, EnvRedisAddr)
	})

	t.Run("mysql needs a dsn", func(t *testing.T) {
		_, err := OpenStore(ctx, &Config{RuntimeConfig: RuntimeConfig{Store: StoreMySQL}})
		assert.ErrorContains(t, err, EnvSQLDSN)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := OpenStore(ctx, &Config{RuntimeConfig: RuntimeConfig{Store: "etcd"}})
		assert.ErrorContains(t, err, "unknown store")
	})
}

func TestOpenStore_Middleware(t *testing.T) {
	ctx := context.Background()
	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))

	t.Run("encryption and redaction", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvEncryptionKey, key)
		dir := t.TempDir()

		b, err := OpenStore(ctx, &Config{RuntimeConfig: RuntimeConfig{Store: StoreFile, SessionDir: dir, RedactKeys: []string{"token"}}})
		require.NoError(t, err)
		defer b.Close()

		s := domain.NewSession("enc", "", time.Now())
		s.SharedContext["api_token"] = "abc"
		s.SharedContext["tone"] = "dry"
		require.NoError(t, b.Store.WriteSnapshot(ctx, "enc", s))

		loaded, err := b.Store.Load(ctx, "enc")
		require.NoError(t, err)
		assert.Equal(t, "dry", loaded.SharedContext["tone"])
		assert.Equal(t, middleware.Mask, loaded.SharedContext["api_token"])

		// Nothing readable reaches the disk.
		raw, err := os.ReadFile(filepath.Join(dir, "enc.json"))
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "dry")
	})

	t.Run("bad key", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvEncryptionKey, "not base64!")
		_, err := OpenStore(ctx, &Config{RuntimeConfig: RuntimeConfig{Store: StoreMemory}})
		assert.ErrorContains(t, err, EnvEncryptionKey)

		t.Setenv(EnvEncryptionKey, base64.StdEncoding.EncodeToString([]byte("short")))
		_, err = OpenStore(ctx, &Config{RuntimeConfig: RuntimeConfig{Store: StoreMemory}})
		assert.ErrorContains(t, err, "32 bytes")

		t.Setenv(EnvEncryptionKey, key)
		t.Setenv(EnvFallbackKeys, key+", ???")
		_, err = OpenStore(ctx, &Config{RuntimeConfig: RuntimeConfig{Store: StoreMemory}})
		assert.ErrorContains(t, err, EnvFallbackKeys)
	})

	t.Run("bad pattern", func(t *testing.T) {
		clearEnv(t)
		_, err := OpenStore(ctx, &Config{RuntimeConfig: RuntimeConfig{Store: StoreMemory, RedactKeys: []string{"("}}})
		assert.ErrorContains(t, err, "invalid redaction pattern")
	})
}

func TestLoad_RedactKeysFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvRedactKeys, "password, ,ssn")

	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"password", "ssn"}, cfg.RedactKeys)
}

func TestConfig_Logger(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvLogFormat, "json")

	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.LogFormat)
	logger, err := cfg.Logger()
	require.NoError(t, err)
	assert.NotNil(t, logger)

	cfg.Override(RuntimeConfig{LogFormat: "xml"})
	_, err = cfg.Logger()
	assert.ErrorContains(t, err, "unknown log format")
}
