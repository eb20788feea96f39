package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/aretw0/agentrun/internal/config"
	"github.com/aretw0/agentrun/internal/logging"
	"github.com/aretw0/agentrun/internal/runtime"
	"github.com/aretw0/agentrun/pkg/domain"
	"github.com/aretw0/agentrun/pkg/limits"
	"github.com/aretw0/agentrun/pkg/observability"
	"github.com/aretw0/agentrun/pkg/ports"
	"github.com/aretw0/agentrun/pkg/schema"
)

// DefaultLockTTL bounds how long a distributed session lock survives a crashed holder.
const DefaultLockTTL = 30 * time.Second

// LibraryFactory opens the instruction library of an agent directory.
type LibraryFactory func(agentPath string) (ports.Library, error)

// SchemaFactory reads the shared-context schema of an agent directory.
type SchemaFactory func(agentPath string) (schema.Schema, error)

// ReadContextSchema reads context_schema from the agent's configuration file.
// A directory without one yields a nil Schema.
func ReadContextSchema(agentPath string) (schema.Schema, error) {
	agent, _, err := config.ReadAgentConfig(agentPath)
	if err != nil {
		return nil, err
	}
	return agent.ContextSchema, nil
}

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager orchestrates session access, ensuring safe concurrent operations.
// It keeps one live Machine per session, restores sessions from the store on first use,
// and uses Reference Counting to garbage collect unused locks.
type Manager struct {
	store ports.SessionStore

	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	liveMu sync.RWMutex
	live   map[string]*runtime.Machine

	libraries LibraryFactory
	schemas   SchemaFactory
	publisher ports.Publisher
	metrics   *observability.Metrics
	tracer    trace.Tracer
	now       func() time.Time

	locker  ports.DistributedLocker // Optional distributed locker
	lockTTL time.Duration
	logger  *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL overrides DefaultLockTTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithLogger configures a logger for the Manager and the machines it creates.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithLibraries sets how instruction libraries are opened per agent directory.
// Without it, sessions run with no instructions and no iteration bounds.
func WithLibraries(factory LibraryFactory) Option {
	return func(m *Manager) {
		m.libraries = factory
	}
}

// WithSchemas overrides how context schemas are read (ReadContextSchema by default).
// A nil factory disables schema checks.
func WithSchemas(factory SchemaFactory) Option {
	return func(m *Manager) {
		m.schemas = factory
	}
}

// WithPublisher sets the live notification target of every session.
func WithPublisher(p ports.Publisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

// WithMetrics enables Prometheus accounting.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithTracer sets the tracer handed to every machine.
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) {
		m.tracer = tracer
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a new Session Manager with the given persistence store.
func NewManager(store ports.SessionStore, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		locks:     make(map[string]*lockEntry),
		live:      make(map[string]*runtime.Machine),
		publisher: ports.NopPublisher{},
		now:       func() time.Time { return time.Now().UTC() },
		schemas:   ReadContextSchema,
		lockTTL:   DefaultLockTTL,
		logger:    logging.NewNop(), // Default to no-op
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(sessionID) after unlocking.
func (m *Manager) acquire(sessionID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		entry = &lockEntry{}
		m.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		return // Should not happen if paired correctly
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, sessionID)
	}
}

// OpenOptions identifies the session to open.
type OpenOptions struct {
	// SessionID reuses an existing session. Empty generates a new one.
	SessionID string
	// AgentPath is the agent directory. It may be empty when resuming a session that recorded it.
	AgentPath string
}

// Open loads or creates a session. restored reports whether durable state already existed.
// Opening is not a mutation: no event is recorded. A fresh session is snapshotted at once
// so that it is listed by the store.
func (m *Manager) Open(ctx context.Context, opts OpenOptions) (machine *runtime.Machine, restored bool, err error) {
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	err = m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		if cached := m.cached(sessionID); cached != nil {
			machine, restored = cached, true
			return nil
		}

		s, found, err := m.restore(ctx, sessionID, opts.AgentPath, true)
		if err != nil {
			return err
		}
		if !found {
			s = domain.NewSession(sessionID, opts.AgentPath, m.now())
			if err := m.store.WriteSnapshot(ctx, sessionID, s); err != nil {
				m.metrics.ObservePersistenceFailure("snapshot")
				m.logger.Error("Failed to write initial snapshot", "session_id", sessionID, "err", err)
			}
		}

		machine, err = m.attach(ctx, s)
		restored = found
		return err
	})
	if err != nil {
		return nil, false, err
	}

	m.logger.Info("Session opened", "session_id", sessionID, "restored", restored)
	return machine, restored, nil
}

// Get returns the live machine of a session, restoring it from the store if needed.
// Returns domain.ErrUninitializedSession when the session was never opened.
func (m *Manager) Get(ctx context.Context, sessionID string) (*runtime.Machine, error) {
	if cached := m.cached(sessionID); cached != nil {
		return cached, nil
	}
	var machine *runtime.Machine
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		var err error
		machine, err = m.getLocked(ctx, sessionID)
		return err
	})
	return machine, err
}

// WithSession runs fn against the session while holding its lock.
func (m *Manager) WithSession(ctx context.Context, sessionID string, fn func(context.Context, *runtime.Machine) error) error {
	return m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		machine, err := m.getLocked(ctx, sessionID)
		if err != nil {
			return err
		}
		return fn(ctx, machine)
	})
}

func (m *Manager) getLocked(ctx context.Context, sessionID string) (*runtime.Machine, error) {
	if sessionID == "" {
		return nil, domain.ErrUninitializedSession
	}
	if cached := m.cached(sessionID); cached != nil {
		return cached, nil
	}
	s, found, err := m.restore(ctx, sessionID, "", true)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", domain.ErrUninitializedSession, sessionID)
	}
	return m.attach(ctx, s)
}

// Peek returns a copy of the session without making it live.
func (m *Manager) Peek(ctx context.Context, sessionID string) (*domain.Session, error) {
	if cached := m.cached(sessionID); cached != nil {
		return cached.Snapshot(), nil
	}
	s, found, err := m.restore(ctx, sessionID, "", false)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

// Source adapts Peek for the notification hub.
func (m *Manager) Source() observability.SourceFunc {
	return func(sessionID string) (*domain.Session, bool) {
		s, err := m.Peek(context.Background(), sessionID)
		if err != nil {
			return nil, false
		}
		return s, true
	}
}

// restore rebuilds a session from durable state. The trace is replayed when the snapshot
// is missing, unreadable or behind it. With rewrite set, a rebuilt session is snapshotted
// again; the caller must hold the session lock.
func (m *Manager) restore(ctx context.Context, sessionID, agentPath string, rewrite bool) (*domain.Session, bool, error) {
	snapshot, err := m.store.Load(ctx, sessionID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrSessionNotFound):
		snapshot = nil
	case errors.Is(err, domain.ErrCorruptSnapshot):
		m.logger.Warn("Ignoring corrupt snapshot", "session_id", sessionID, "err", err)
		snapshot = nil
	default:
		return nil, false, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	events, err := m.store.LoadTrace(ctx, sessionID)
	if err != nil {
		if snapshot == nil {
			return nil, false, fmt.Errorf("failed to load trace of %s: %w", sessionID, err)
		}
		m.logger.Warn("Failed to read trace, using snapshot", "session_id", sessionID, "err", err)
		events = nil
	}

	if snapshot != nil && len(snapshot.History) >= len(events) {
		snapshot.Normalize()
		if snapshot.SessionID == "" {
			snapshot.SessionID = sessionID
		}
		if snapshot.AgentPath == "" {
			snapshot.AgentPath = agentPath
		}
		return snapshot, true, nil
	}
	if len(events) == 0 {
		return nil, false, nil
	}

	if agentPath == "" && snapshot != nil {
		agentPath = snapshot.AgentPath
	}
	rebuilt := domain.Replay(sessionID, agentPath, events)
	if snapshot != nil && !snapshot.StartTime.IsZero() {
		rebuilt.StartTime = snapshot.StartTime
	}
	if !rewrite {
		return rebuilt, true, nil
	}
	m.logger.Info("Session rebuilt from trace", "session_id", sessionID, "events", len(events))
	if err := m.store.WriteSnapshot(ctx, sessionID, rebuilt); err != nil {
		m.metrics.ObservePersistenceFailure("snapshot")
		m.logger.Error("Failed to write rebuilt snapshot", "session_id", sessionID, "err", err)
	}
	return rebuilt, true, nil
}

// attach builds the machine of s and caches it.
func (m *Manager) attach(ctx context.Context, s *domain.Session) (*runtime.Machine, error) {
	opts := []runtime.Option{
		runtime.WithStore(m.store),
		runtime.WithPublisher(m.publisher),
		runtime.WithLogger(m.logger.With("session_id", s.SessionID)),
		runtime.WithMetrics(m.metrics),
		runtime.WithClock(m.now),
	}
	if m.tracer != nil {
		opts = append(opts, runtime.WithTracer(m.tracer))
	}

	if m.libraries != nil && s.AgentPath != "" {
		lib, err := m.libraries(s.AgentPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open agent %s: %w", s.AgentPath, err)
		}
		bounds, err := LoadLimits(ctx, lib)
		if err != nil {
			return nil, err
		}
		opts = append(opts, runtime.WithLibrary(lib), runtime.WithLimits(bounds))
	}

	if m.schemas != nil && s.AgentPath != "" {
		sch, err := m.schemas(s.AgentPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read context schema of %s: %w", s.AgentPath, err)
		}
		opts = append(opts, runtime.WithContextSchema(sch))
	}

	machine := runtime.NewMachine(s, opts...)

	m.liveMu.Lock()
	m.live[s.SessionID] = machine
	m.liveMu.Unlock()
	return machine, nil
}

// LoadLimits parses the iteration bounds from the library's graph definition.
// A library without a definition yields empty limits.
func LoadLimits(ctx context.Context, lib ports.Library) (limits.Limits, error) {
	text, found, err := lib.Definition(ctx)
	if err != nil {
		return limits.Limits{}, fmt.Errorf("failed to read graph definition: %w", err)
	}
	if !found {
		return limits.Limits{}, nil
	}
	return limits.Parse(text), nil
}

func (m *Manager) cached(sessionID string) *runtime.Machine {
	m.liveMu.RLock()
	defer m.liveMu.RUnlock()
	return m.live[sessionID]
}

// Evict drops the live machine of a session. Durable state is kept.
func (m *Manager) Evict(sessionID string) {
	m.liveMu.Lock()
	defer m.liveMu.Unlock()
	delete(m.live, sessionID)
}

// Live returns the number of sessions held in memory.
func (m *Manager) Live() int {
	m.liveMu.RLock()
	defer m.liveMu.RUnlock()
	return len(m.live)
}

// Delete removes the session from memory and from the store.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	return m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		m.Evict(sessionID)
		return m.store.Delete(ctx, sessionID)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying session store.
func (m *Manager) Store() ports.SessionStore {
	return m.store
}

// WithLock executes a function while holding the lock for the session.
func (m *Manager) WithLock(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	entry := m.acquire(sessionID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(sessionID)
	}()

	// Distributed Locking
	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, sessionID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"session_id", sessionID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
