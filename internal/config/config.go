// Package config resolves runtime settings from the agent directory, a .env file,
// AGENTRUN_* environment variables and command-line flags, in increasing precedence.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/agentrun/internal/logging"
	"github.com/aretw0/agentrun/pkg/schema"
)

// AgentConfigFile is the name of the optional metadata file in an agent directory.
const AgentConfigFile = "agent-config.yaml"

// Store kinds.
const (
	StoreFile   = "file"
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
	StoreMySQL  = "mysql"
)

// Environment variables.
const (
	EnvStore         = "AGENTRUN_STORE"
	EnvRedisAddr     = "AGENTRUN_REDIS_ADDR"
	EnvRedisPassword = "AGENTRUN_REDIS_PASSWORD"
	EnvSQLDSN        = "AGENTRUN_SQL_DSN"
	EnvSessionDir    = "AGENTRUN_SESSION_DIR"
	EnvLogLevel      = "AGENTRUN_LOG_LEVEL"
	EnvLogFormat     = "AGENTRUN_LOG_FORMAT"
	EnvQueueSize     = "AGENTRUN_QUEUE_SIZE"
	EnvOverflow      = "AGENTRUN_OVERFLOW"
	EnvRedactKeys    = "AGENTRUN_REDACT_KEYS"
	EnvEncryptionKey = "AGENTRUN_ENCRYPTION_KEY"
	EnvFallbackKeys  = "AGENTRUN_ENCRYPTION_FALLBACK_KEYS"
)

// DefaultSessionDir is relative to the working directory.
const DefaultSessionDir = ".agentrun/sessions"

// AgentConfig is the content of agent-config.yaml.
type AgentConfig struct {
	Name        string        `yaml:"name" json:"name"`
	Version     string        `yaml:"version" json:"version"`
	Description string        `yaml:"description" json:"description"`
	Runtime     RuntimeConfig `yaml:"runtime" json:"runtime"`

	// ContextSchema declares the types of shared-context keys.
	ContextSchema schema.Schema `yaml:"context_schema" json:"context_schema"`
}

// RuntimeConfig holds the settings that may come from any source.
type RuntimeConfig struct {
	Store      string `yaml:"store" json:"store"`
	SQLDSN     string `yaml:"store_dsn" json:"store_dsn"`
	RedisAddr  string `yaml:"redis_addr" json:"redis_addr"`
	SessionDir string `yaml:"session_dir" json:"session_dir"`
	QueueSize  int    `yaml:"queue_size" json:"queue_size"`
	Overflow   string `yaml:"overflow" json:"overflow"`
	LogLevel   string `yaml:"log_level" json:"log_level"`
	LogFormat  string `yaml:"log_format" json:"log_format"`

	// RedactKeys are regular expressions; matching keys are masked in persisted records.
	RedactKeys []string `yaml:"redact_keys" json:"redact_keys"`
}

// ReadAgentConfig reads agent-config.yaml (or agent-config.json) from dir.
// A missing file yields a zero AgentConfig and found == false.
func ReadAgentConfig(dir string) (cfg AgentConfig, found bool, err error) {
	for _, name := range []string{AgentConfigFile, "agent-config.json"} {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return cfg, false, fmt.Errorf("failed to read %s: %w", name, err)
		}

		if filepath.Ext(name) == ".json" {
			if err := json.Unmarshal(data, &cfg); err != nil {
				return cfg, false, fmt.Errorf("failed to parse %s: %w", name, err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, false, fmt.Errorf("failed to parse %s: %w", name, err)
			}
		}
		return cfg, true, nil
	}
	return cfg, false, nil
}

// Config is the resolved configuration of one process.
type Config struct {
	AgentPath string
	Agent     AgentConfig
	RuntimeConfig
}

// Load resolves the configuration. agentPath may be empty (no agent-level defaults).
// envFile names a dotenv file; a missing file is ignored. Values already present in the
// environment are never overwritten by the dotenv file.
func Load(agentPath, envFile string) (*Config, error) {
	cfg := &Config{
		RuntimeConfig: RuntimeConfig{
			Store:      StoreFile,
			SessionDir: DefaultSessionDir,
			Overflow:   "drop_oldest",
			LogLevel:   "info",
			LogFormat:  logging.FormatText,
		},
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	if agentPath != "" {
		abs, err := filepath.Abs(agentPath)
		if err != nil {
			return nil, fmt.Errorf("invalid agent path %q: %w", agentPath, err)
		}
		cfg.AgentPath = abs
		agent, _, err := ReadAgentConfig(abs)
		if err != nil {
			return nil, err
		}
		cfg.Agent = agent
		cfg.merge(agent.Runtime)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// merge overrides every non-zero field of o.
func (c *Config) merge(o RuntimeConfig) {
	if o.Store != "" {
		c.Store = o.Store
	}
	if o.SQLDSN != "" {
		c.SQLDSN = o.SQLDSN
	}
	if o.RedisAddr != "" {
		c.RedisAddr = o.RedisAddr
	}
	if o.SessionDir != "" {
		c.SessionDir = o.SessionDir
	}
	if o.QueueSize > 0 {
		c.QueueSize = o.QueueSize
	}
	if o.Overflow != "" {
		c.Overflow = o.Overflow
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if o.LogFormat != "" {
		c.LogFormat = o.LogFormat
	}
	if len(o.RedactKeys) > 0 {
		c.RedactKeys = o.RedactKeys
	}
}

func (c *Config) applyEnv() error {
	env := RuntimeConfig{
		Store:      os.Getenv(EnvStore),
		SQLDSN:     os.Getenv(EnvSQLDSN),
		RedisAddr:  os.Getenv(EnvRedisAddr),
		SessionDir: os.Getenv(EnvSessionDir),
		Overflow:   os.Getenv(EnvOverflow),
		LogLevel:   os.Getenv(EnvLogLevel),
		LogFormat:  os.Getenv(EnvLogFormat),
		RedactKeys: splitList(os.Getenv(EnvRedactKeys)),
	}
	if val := os.Getenv(EnvQueueSize); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s must be a positive integer, got %q", EnvQueueSize, val)
		}
		env.QueueSize = n
	}
	c.merge(env)
	return nil
}

// Override applies command-line values, which take precedence over everything else.
func (c *Config) Override(o RuntimeConfig) {
	c.merge(o)
}

// Level parses LogLevel, defaulting to info.
func (c *Config) Level() slog.Level {
	return logging.ParseLevel(c.LogLevel)
}

// Logger builds the process logger from LogLevel and LogFormat.
func (c *Config) Logger() (*slog.Logger, error) {
	format, err := logging.ParseFormat(c.LogFormat)
	if err != nil {
		return nil, err
	}
	return logging.New(c.Level(), logging.WithFormat(format)), nil
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
