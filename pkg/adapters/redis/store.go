package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aretw0/agentrun/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by Store and Locker.
const DefaultPrefix = "agentrun:session:"

// Store implements ports.SessionStore using Redis.
// The snapshot is a string key, the trace a list, and a ZSET indexes live sessions.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets the expiration for sessions.
// Every write refreshes the expiration of both the snapshot and the trace.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for sessions.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: DefaultPrefix,
		ttl:    0, // No expiration by default
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Client exposes the underlying client, e.g. to build a Locker sharing the connection.
func (s *Store) Client() *backend.Client {
	return s.client
}

// Prefix returns the key prefix in use.
func (s *Store) Prefix() string {
	return s.prefix
}

func (s *Store) key(sessionID string) string {
	return s.prefix + sessionID
}

func (s *Store) traceKey(sessionID string) string {
	return s.prefix + sessionID + ":trace"
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

// indexScore is the expiry time used as ZSET score. Without TTL it is far in the future.
func (s *Store) indexScore() float64 {
	if s.ttl == 0 {
		return 4102444800 // 2100-01-01
	}
	return float64(time.Now().Add(s.ttl).Unix())
}

// WriteSnapshot persists the snapshot to Redis. SET replaces the value in one step.
func (s *Store) WriteSnapshot(ctx context.Context, sessionID string, session *domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	pipe := s.client.Pipeline()

	// 0 means no expiration.
	pipe.Set(ctx, s.key(sessionID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{
		Score:  s.indexScore(),
		Member: sessionID,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}

	return nil
}

// Load retrieves the snapshot from Redis.
func (s *Store) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	val, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if err != nil {
		if err == backend.Nil {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal([]byte(val), &session); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrCorruptSnapshot, sessionID, err)
	}
	session.Normalize()
	if session.SessionID == "" {
		session.SessionID = sessionID
	}

	return &session, nil
}

// AppendEvent pushes the event onto the session trace list.
func (s *Store) AppendEvent(ctx context.Context, sessionID string, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.RPush(ctx, s.traceKey(sessionID), data)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.traceKey(sessionID), s.ttl)
	}
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{
		Score:  s.indexScore(),
		Member: sessionID,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append trace to redis: %w", err)
	}
	return nil
}

// LoadTrace returns the whole trace list in push order.
func (s *Store) LoadTrace(ctx context.Context, sessionID string) ([]domain.Event, error) {
	raw, err := s.client.LRange(ctx, s.traceKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read trace from redis: %w", err)
	}

	events := make([]domain.Event, 0, len(raw))
	for i, item := range raw {
		var e domain.Event
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("failed to parse trace entry %d: %w", i, err)
		}
		events = append(events, e)
	}
	return events, nil
}

// Delete removes the snapshot, the trace and the index entry.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	pipe := s.client.Pipeline()

	pipe.Del(ctx, s.key(sessionID), s.traceKey(sessionID))
	pipe.ZRem(ctx, s.indexKey(), sessionID)

	_, err := pipe.Exec(ctx)
	return err
}

// List returns indexed sessions, pruning the ones whose TTL elapsed.
func (s *Store) List(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())

	// Without TTL every score is in 2100 and nothing is pruned.
	err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to prune expired sessions: %w", err)
	}

	sessions, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	return sessions, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
