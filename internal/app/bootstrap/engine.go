// Package bootstrap wires the turn engine and its adapters from config so
// every binary builds the same runtime.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/commerce-concierge/cmd/mainconfig"
	"github.com/wolfman30/commerce-concierge/internal/classify"
	appconfig "github.com/wolfman30/commerce-concierge/internal/config"
	"github.com/wolfman30/commerce-concierge/internal/escalation"
	"github.com/wolfman30/commerce-concierge/internal/governor"
	"github.com/wolfman30/commerce-concierge/internal/journey"
	"github.com/wolfman30/commerce-concierge/internal/observability/metrics"
	"github.com/wolfman30/commerce-concierge/internal/orchestrator"
	"github.com/wolfman30/commerce-concierge/internal/reply"
	"github.com/wolfman30/commerce-concierge/internal/router"
	"github.com/wolfman30/commerce-concierge/internal/state"
	"github.com/wolfman30/commerce-concierge/internal/tenant"
	"github.com/wolfman30/commerce-concierge/internal/tools"
	"github.com/wolfman30/commerce-concierge/pkg/logging"
)

// Options override adapters chosen from config. Zero values mean "from config".
type Options struct {
	Backend    tools.Backend
	Tenants    tenant.Provider
	States     state.Store
	Registerer prometheus.Registerer
}

// Runtime is a fully wired engine with the resources it owns.
type Runtime struct {
	Engine     *orchestrator.Engine
	Dispatcher *orchestrator.Dispatcher
	Gateway    *tools.Gateway
	States     state.Store
	Tenants    tenant.Provider
	Metrics    *metrics.EngineMetrics
	Redis      *redis.Client
	Audit      *AuditTrail

	logger  *logging.Logger
	closers []func() error
}

// Build assembles the runtime. Callers must Close it.
func Build(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, opts Options) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	logger = logging.OrDefault(logger)
	rt := &Runtime{logger: logger}
	loadAWS := mainconfig.LazyAWSConfig(ctx, cfg)

	fail := func(err error) (*Runtime, error) {
		_ = rt.closeResources()
		return nil, err
	}

	if opts.Registerer != nil {
		rt.Metrics = metrics.NewEngineMetrics(opts.Registerer)
	}

	if opts.States == nil || opts.Tenants == nil || cfg.StateBackend == "redis" {
		rt.Redis = BuildRedisClient(ctx, cfg, logger, true)
		if rt.Redis != nil {
			rt.closers = append(rt.closers, rt.Redis.Close)
		}
	}

	var locker state.Locker
	rt.States = opts.States
	if rt.States == nil {
		store, l, err := BuildStateStore(cfg, rt.Redis, loadAWS)
		if err != nil {
			return fail(err)
		}
		rt.States, locker = store, l
	}
	rt.Tenants = opts.Tenants
	if rt.Tenants == nil {
		rt.Tenants = BuildTenantProvider(rt.Redis, logger)
	}

	backend := opts.Backend
	if backend == nil {
		switch {
		case cfg.ToolBackendURL != "":
			backend = tools.NewHTTPBackend(cfg.ToolBackendURL, cfg.ToolBackendJWTSecret, &http.Client{})
		case cfg.Env == "production":
			return fail(fmt.Errorf("bootstrap: TOOL_BACKEND_URL is required in production"))
		default:
			logger.Warn("no TOOL_BACKEND_URL; serving tools from the in-memory backend")
			backend = tools.NewMemoryBackend()
		}
	}

	trail, err := BuildAuditTrail(ctx, cfg, loadAWS, logger)
	if err != nil {
		return fail(err)
	}
	rt.Audit = trail
	gatewayOpts := []tools.Option{
		tools.WithLogger(logger),
		tools.WithMetrics(rt.Metrics),
		tools.WithTimeouts(cfg.ToolTimeoutDefault, cfg.ToolTimeoutPayment),
	}
	if trail != nil {
		rt.closers = append(rt.closers, func() error { trail.Close(); return nil })
		gatewayOpts = append(gatewayOpts, tools.WithAuditSink(trail.Outbox))
	}
	rt.Gateway = tools.NewGateway(backend, gatewayOpts...)

	alerts, alertDB, err := BuildAlertSink(cfg, loadAWS, logger)
	if alertDB != nil {
		rt.closers = append(rt.closers, alertDB.Close)
	}
	if err != nil {
		return fail(err)
	}

	classifiers, err := BuildClassifiers(ctx, cfg, loadAWS, logger)
	if err != nil {
		return fail(err)
	}
	rt.closers = append(rt.closers, classifiers.Close)

	toolbox := journey.NewToolbox(rt.Gateway, cfg.ToolRetryBackoff, logger)
	rt.Engine = orchestrator.NewEngine(orchestrator.Deps{
		Tenants:     rt.Tenants,
		States:      rt.States,
		Stage:       classify.NewStage(classifiers.Intent, classifiers.Language, classifiers.Governor, 0, logger),
		Governor:    governor.New(cfg.IntentClarifyThreshold),
		Router:      router.New(cfg.IntentRouteThreshold, cfg.IntentClarifyThreshold, cfg.LanguageConfidenceThreshold),
		Journeys:    journey.NewSet(toolbox, cfg.KBMinConfidence),
		Escalations: escalation.NewHandler(rt.Gateway, alerts, logger, rt.Metrics),
		Assembler:   reply.NewAssembler(logger),
		Metrics:     rt.Metrics,
		Logger:      logger,
	})

	dispatchOpts := []orchestrator.DispatcherOption{
		orchestrator.WithWorkers(cfg.WorkerCount),
		orchestrator.WithDispatcherMetrics(rt.Metrics),
		orchestrator.WithDispatcherLogger(logger),
	}
	if locker != nil {
		dispatchOpts = append(dispatchOpts, orchestrator.WithLocker(locker, cfg.StateLockTTL))
	}
	rt.Dispatcher = orchestrator.NewDispatcher(rt.Engine, dispatchOpts...)

	logger.Info("turn engine ready",
		"state_backend", cfg.StateBackend,
		"classifier", cfg.Classifier,
		"tool_backend", fmt.Sprintf("%T", backend),
		"audit_outbox", trail != nil,
		"distributed_lock", locker != nil,
	)
	return rt, nil
}

// Close drains in-flight turns, then releases connections.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	if r.Dispatcher != nil {
		if err := r.Dispatcher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("bootstrap: drain dispatcher: %w", err))
		}
	}
	if err := r.closeResources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (r *Runtime) closeResources() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
