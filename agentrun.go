package agentrun

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aretw0/introspection"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/aretw0/agentrun/internal/config"
	"github.com/aretw0/agentrun/internal/logging"
	"github.com/aretw0/agentrun/pkg/adapters/loam"
	"github.com/aretw0/agentrun/pkg/api"
	"github.com/aretw0/agentrun/pkg/observability"
	"github.com/aretw0/agentrun/pkg/ports"
	"github.com/aretw0/agentrun/pkg/session"
)

//go:embed VERSION
var version string

// Version is the release of this build.
var Version = strings.TrimSpace(version)

// Runtime wires the session store, notification hub, metrics and session manager
// behind the operation surface. Transports take Service and Hub from it.
type Runtime struct {
	Config   *config.Config
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Hub      *observability.Hub
	Manager  *session.Manager
	Service  *api.Service

	backend *config.Backend
	logger  *slog.Logger
}

type options struct {
	logger         *slog.Logger
	store          ports.SessionStore
	libraries      session.LibraryFactory
	registry       *prometheus.Registry
	tracer         trace.Tracer
	defaultSession string
}

// Option configures New.
type Option func(*options)

// WithLogger sets a custom structured logger for every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithStore injects a session store, bypassing the store selected by the configuration.
func WithStore(store ports.SessionStore) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithLibraries replaces the default Loam-backed instruction library.
func WithLibraries(factory session.LibraryFactory) Option {
	return func(o *options) {
		o.libraries = factory
	}
}

// WithRegistry registers the metrics on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

// WithDefaultSession selects the session used by requests that name none.
func WithDefaultSession(sessionID string) Option {
	return func(o *options) {
		o.defaultSession = sessionID
	}
}

// New builds a Runtime from a resolved configuration.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	o := &options{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(o)
	}

	policy, err := observability.ParseOverflowPolicy(cfg.Overflow)
	if err != nil {
		return nil, err
	}

	backend := &config.Backend{Store: o.store}
	if o.store == nil {
		backend, err = config.OpenStore(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store, err)
		}
	}

	reg := o.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	metrics := observability.NewMetrics(reg)

	hubOpts := []observability.HubOption{
		observability.WithOverflowPolicy(policy),
		observability.WithHubLogger(o.logger),
		observability.WithHubMetrics(metrics),
	}
	if cfg.QueueSize > 0 {
		hubOpts = append(hubOpts, observability.WithQueueSize(cfg.QueueSize))
	}
	hub := observability.NewHub(hubOpts...)

	libraries := o.libraries
	if libraries == nil {
		libraries = func(agentPath string) (ports.Library, error) {
			return loam.Open(agentPath, loam.WithLogger(o.logger))
		}
	}

	managerOpts := []session.Option{
		session.WithLogger(o.logger),
		session.WithLibraries(libraries),
		session.WithPublisher(hub),
		session.WithMetrics(metrics),
	}
	if backend.Locker != nil {
		managerOpts = append(managerOpts, session.WithLocker(backend.Locker))
	}
	if o.tracer != nil {
		managerOpts = append(managerOpts, session.WithTracer(o.tracer))
	}
	manager := session.NewManager(backend.Store, managerOpts...)
	hub.SetSource(manager.Source())

	serviceOpts := []api.Option{api.WithLogger(o.logger)}
	if o.defaultSession != "" {
		serviceOpts = append(serviceOpts, api.WithDefaultSession(o.defaultSession))
	}

	o.logger.Debug("Runtime ready", "store", cfg.Store, "overflow", policy.String())
	return &Runtime{
		Config:   cfg,
		Registry: reg,
		Metrics:  metrics,
		Hub:      hub,
		Manager:  manager,
		Service:  api.NewService(manager, serviceOpts...),
		backend:  backend,
		logger:   o.logger,
	}, nil
}

// Open opens (or resumes) a session on the configured agent directory and makes it
// the default session of the service.
func (r *Runtime) Open(ctx context.Context, sessionID string) (api.InitResult, error) {
	if r.Config.AgentPath == "" {
		return api.InitResult{}, errors.New("no agent directory configured")
	}
	return r.Service.Init(ctx, api.InitRequest{AgentPath: r.Config.AgentPath, SessionID: sessionID})
}

// Watch merges the given watchers (lifecycle contexts, other components) with one
// session watcher per ID into a single introspection stream that ends with ctx.
func (r *Runtime) Watch(ctx context.Context, sessionIDs []string, watchers ...any) <-chan introspection.StateSnapshot {
	agg := observability.NewAggregator(watchers...)
	for _, id := range sessionIDs {
		agg.AddWatcher(r.Hub.Watcher(id))
	}
	return agg.Watch(ctx)
}

// Close disconnects all subscribers and releases the store.
func (r *Runtime) Close() error {
	r.Hub.Close()
	return r.backend.Close()
}
