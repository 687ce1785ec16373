package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/garvis/router/auth"
	"github.com/garvis/router/config"
	"github.com/garvis/router/handlers"
	"github.com/garvis/router/internal/observability"
	"github.com/garvis/router/middleware"
	"github.com/garvis/router/models"
	"github.com/garvis/router/repositories"
	"github.com/garvis/router/repositories/postgres"
	"github.com/garvis/router/services/backend"
	"github.com/garvis/router/services/decisionlog"
	"github.com/garvis/router/services/health"
	"github.com/garvis/router/services/inventory"
	"github.com/garvis/router/services/proxy"
	"github.com/garvis/router/services/routing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// Dependencies is the central wiring point of the router process.
type Dependencies struct {
	// Infrastructure
	Config   *config.Config
	Routing  *models.RouterConfig
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	// Optional Postgres decision store
	RepoFactory *postgres.RepositoryFactory
	Decisions   repositories.DecisionRepository

	// Services
	Resolver    *inventory.Resolver
	Engine      *routing.Engine
	Backend     *backend.Client
	DecisionLog *decisionlog.Service
	Proxy       *proxy.Service
	Health      *health.Aggregator

	// HTTP
	AuthMiddleware *middleware.AuthMiddleware
	RouterHandler  *handlers.RouterHandler
	HealthHandler  *handlers.HealthHandler
}

// NewDependencies loads the routing configuration and wires every component.
// Any configuration error is returned before a listener is opened.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	deps.initMetrics()

	if err := deps.initRouting(cfg); err != nil {
		return nil, fmt.Errorf("failed to load routing config: %w", err)
	}

	if cfg.Database != nil {
		if err := deps.initDatabase(ctx, cfg.Database); err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
	}

	if err := deps.initDecisionLog(cfg.DecisionLog); err != nil {
		deps.closeDatabase()
		return nil, fmt.Errorf("failed to initialize decision log: %w", err)
	}

	deps.initServices(cfg)
	deps.initAuth(cfg.Auth)

	logger.Info("all dependencies initialized successfully",
		zap.Int("endpoints", len(deps.Routing.Endpoints)),
		zap.Int("aliases", len(deps.Routing.Inventory)),
		zap.Int("rules", len(deps.Routing.Policy.Rules)),
		zap.String("default", deps.Routing.Policy.Default))
	return deps, nil
}

func (d *Dependencies) initMetrics() {
	d.Registry = prometheus.NewRegistry()
	d.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.Metrics = observability.NewMetrics(d.Registry)
}

func (d *Dependencies) initRouting(cfg *config.Config) error {
	routingCfg, err := config.LoadRouting(cfg.Routing.ConfigPath)
	if err != nil {
		return err
	}
	d.Routing = routingCfg

	d.Resolver, err = inventory.NewResolver(routingCfg)
	if err != nil {
		return err
	}
	d.Engine, err = routing.NewEngine(routingCfg.Policy, d.Resolver)
	if err != nil {
		return err
	}

	for endpointID, aliases := range d.Resolver.EndpointsInUse() {
		d.Logger.Debug("endpoint serves aliases", zap.String("endpoint", endpointID), zap.Strings("aliases", aliases))
	}
	return nil
}

// initDatabase connects to Postgres and creates the decision table
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.DatabaseConfig) error {
	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}
	d.RepoFactory = factory

	if err := factory.DB().InitSchema(ctx); err != nil {
		_ = factory.Close()
		d.RepoFactory = nil
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.Decisions = factory.NewRepositories().Decisions
	d.Logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))
	return nil
}

func (d *Dependencies) initDecisionLog(cfg config.DecisionLogConfig) error {
	var sinks []decisionlog.Sink
	if cfg.Path != "" {
		fileSink, err := decisionlog.NewFileSink(cfg.Path)
		if err != nil {
			return err
		}
		sinks = append(sinks, fileSink)
	}
	if d.Decisions != nil {
		sinks = append(sinks, decisionlog.NewRepositorySink(d.Decisions))
	}
	if len(sinks) == 0 {
		d.Logger.Warn("decision log has no sinks, records are discarded")
	}

	logConfig := decisionlog.DefaultConfig()
	logConfig.BufferSize = cfg.BufferSize
	d.DecisionLog = decisionlog.NewService(sinks, d.Logger.Named("decisionlog"), d.Metrics, logConfig)
	return d.DecisionLog.Start()
}

func (d *Dependencies) initServices(cfg *config.Config) {
	d.Backend = backend.NewClient(backend.Config{
		Timeout:      cfg.Backend.Timeout,
		ProbeTimeout: cfg.Backend.ProbeTimeout,
	}, &http.Client{})

	d.Proxy = proxy.NewService(d.Engine, d.Resolver, d.Backend, d.DecisionLog, d.Metrics, d.Logger.Named("proxy"))

	components := []health.Component{
		{Name: "router", Check: func(context.Context) error {
			if d.Engine.Policy().Default == "" {
				return errors.New("no routing policy loaded")
			}
			return nil
		}},
		{Name: "decision_log", Check: func(context.Context) error {
			if !d.DecisionLog.Running() {
				return errors.New("writer stopped")
			}
			return nil
		}},
	}
	if d.RepoFactory != nil {
		db := d.RepoFactory.DB()
		components = append(components, health.Component{Name: "database", Check: db.HealthCheck})
	}
	d.Health = health.NewAggregator(d.Routing.OrderedEndpoints(), d.Backend, cfg.Backend.HealthDeadline,
		d.Logger.Named("health"), d.Metrics, components...)

	d.RouterHandler = handlers.NewRouterHandler(d.Proxy, d.Resolver, d.Logger)
	d.HealthHandler = handlers.NewHealthHandler(d.Health, cfg.Backend.DegradedIsFailure, d.Logger)
}

func (d *Dependencies) initAuth(cfg config.AuthConfig) {
	if !cfg.Enabled() {
		d.Logger.Warn("no gateway credentials configured, protected routes reject every request")
	}
	d.AuthMiddleware = middleware.NewAuthMiddleware(auth.NewValidator(cfg), d.Logger)
}

// Close drains the decision log and releases the database.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.DecisionLog != nil {
		if err := d.DecisionLog.Stop(d.Config.DecisionLog.StopTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop decision log: %w", err))
		} else {
			stats := d.DecisionLog.GetStats()
			d.Logger.Info("decision log drained",
				zap.Uint64("written", stats.Written),
				zap.Uint64("dropped", stats.Dropped))
		}
	}

	if err := d.closeDatabase(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close database: %w", err))
	}

	_ = d.Logger.Sync()

	return errors.Join(errs...)
}

func (d *Dependencies) closeDatabase() error {
	if d.RepoFactory == nil {
		return nil
	}
	err := d.RepoFactory.Close()
	if err == nil {
		d.Logger.Info("database connection closed")
	}
	d.RepoFactory = nil
	return err
}
