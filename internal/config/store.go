package config

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/agentrun/pkg/adapters/file"
	"github.com/aretw0/agentrun/pkg/adapters/memory"
	"github.com/aretw0/agentrun/pkg/adapters/redis"
	"github.com/aretw0/agentrun/pkg/adapters/sqlstore"
	"github.com/aretw0/agentrun/pkg/persistence/middleware"
	"github.com/aretw0/agentrun/pkg/ports"
)

// Backend is an opened session store plus the lock service that comes with it, if any.
type Backend struct {
	Store  ports.SessionStore
	Locker ports.DistributedLocker
	close  func() error
}

// Close releases the connections held by the backend.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// OpenStore builds the session store selected by c.Store, wrapped with redaction
// (c.RedactKeys) and encryption (EnvEncryptionKey) when configured.
func OpenStore(ctx context.Context, c *Config) (*Backend, error) {
	mws, err := storeMiddleware(c)
	if err != nil {
		return nil, err
	}
	backend, err := openBackend(ctx, c)
	if err != nil {
		return nil, err
	}
	backend.Store = middleware.Chain(backend.Store, mws...)
	return backend, nil
}

// storeMiddleware masks before it seals, so redacted values never reach the ciphertext.
func storeMiddleware(c *Config) ([]middleware.Middleware, error) {
	var mws []middleware.Middleware
	if len(c.RedactKeys) > 0 {
		pii, err := middleware.NewPIIMiddleware(c.RedactKeys)
		if err != nil {
			return nil, err
		}
		mws = append(mws, pii)
	}

	if raw := os.Getenv(EnvEncryptionKey); raw != "" {
		active, err := decodeKey(EnvEncryptionKey, raw)
		if err != nil {
			return nil, err
		}
		var fallback [][]byte
		for _, val := range splitList(os.Getenv(EnvFallbackKeys)) {
			key, err := decodeKey(EnvFallbackKeys, val)
			if err != nil {
				return nil, err
			}
			fallback = append(fallback, key)
		}
		enc, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: active, FallbackKeys: fallback})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvEncryptionKey, err)
		}
		mws = append(mws, enc)
	}
	return mws, nil
}

func decodeKey(name, val string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(val))
	if err != nil {
		return nil, fmt.Errorf("%s must be base64: %w", name, err)
	}
	return key, nil
}

func openBackend(ctx context.Context, c *Config) (*Backend, error) {
	switch c.Store {
	case "", StoreFile:
		dir := c.SessionDir
		if dir == "" {
			dir = DefaultSessionDir
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create session directory: %w", err)
		}
		return &Backend{Store: file.New(dir)}, nil

	case StoreMemory:
		return &Backend{Store: memory.NewStore()}, nil

	case StoreRedis:
		if c.RedisAddr == "" {
			return nil, fmt.Errorf("store %q requires %s or runtime.redis_addr", StoreRedis, EnvRedisAddr)
		}
		store := redis.New(c.RedisAddr, os.Getenv(EnvRedisPassword), 0)
		if err := store.Client().Ping(ctx).Err(); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", c.RedisAddr, err)
		}
		return &Backend{
			Store:  store,
			Locker: redis.NewLocker(store.Client(), store.Prefix()),
			close:  store.Close,
		}, nil

	case StoreSQLite:
		path := c.SQLDSN
		if path == "" {
			dir := c.SessionDir
			if dir == "" {
				dir = DefaultSessionDir
			}
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create session directory: %w", err)
			}
			path = filepath.Join(dir, "sessions.db")
		}
		store, err := sqlstore.OpenSQLite(ctx, path)
		if err != nil {
			return nil, err
		}
		return &Backend{Store: store, close: store.Close}, nil

	case StoreMySQL:
		if c.SQLDSN == "" {
			return nil, fmt.Errorf("store %q requires %s or runtime.store_dsn", StoreMySQL, EnvSQLDSN)
		}
		store, err := sqlstore.OpenMySQL(ctx, c.SQLDSN)
		if err != nil {
			return nil, err
		}
		return &Backend{Store: store, close: store.Close}, nil
	}
	return nil, fmt.Errorf("unknown store %q (want file, memory, redis, sqlite or mysql)", c.Store)
}
