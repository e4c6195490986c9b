// Package bootstrap assembles the gateway from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/patientpal/internal/api/router"
	"github.com/wolfman30/patientpal/internal/auth"
	appconfig "github.com/wolfman30/patientpal/internal/config"
	"github.com/wolfman30/patientpal/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/patientpal/internal/http/middleware"
	"github.com/wolfman30/patientpal/internal/intent"
	"github.com/wolfman30/patientpal/internal/observability/metrics"
	"github.com/wolfman30/patientpal/internal/operations"
	"github.com/wolfman30/patientpal/internal/session"
	"github.com/wolfman30/patientpal/internal/webchat"
	"github.com/wolfman30/patientpal/pkg/logging"
)

// Runtime collects what the built components need at shutdown and for
// health reporting.
type Runtime struct {
	Logger  *logging.Logger
	checks  map[string]func(context.Context) error
	closers []func()
}

// NewRuntime returns an empty runtime logging through logger.
func NewRuntime(logger *logging.Logger) *Runtime {
	if logger == nil {
		logger = logging.Default()
	}
	return &Runtime{Logger: logger, checks: map[string]func(context.Context) error{}}
}

func (rt *Runtime) addCheck(name string, check func(context.Context) error) {
	rt.checks[name] = check
}

func (rt *Runtime) addCloser(fn func()) {
	rt.closers = append(rt.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// App is the fully wired gateway.
type App struct {
	Handler  http.Handler
	Sessions *session.Manager
	runtime  *Runtime
	stop     chan struct{}
}

// Close stops background work and releases connections.
func (a *App) Close() {
	close(a.stop)
	a.runtime.Close()
}

// Build wires configuration into an HTTP handler. A nil reg uses the
// default Prometheus registry.
func Build(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, reg *prometheus.Registry) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	rt := NewRuntime(logger)
	app, err := build(ctx, cfg, rt, reg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return app, nil
}

// BuildManager wires transcript store, classifier and booking adapter into
// a session manager.
func BuildManager(ctx context.Context, cfg *appconfig.Config, rt *Runtime, cm *metrics.ChatMetrics) (*session.Manager, error) {
	registry := operations.Default()

	store, err := BuildHistoryStore(ctx, cfg, rt)
	if err != nil {
		return nil, err
	}
	client, err := BuildLLMClient(ctx, cfg, rt)
	if err != nil {
		return nil, err
	}
	adapter, err := BuildBookingAdapter(ctx, cfg, registry, cm, rt)
	if err != nil {
		return nil, err
	}

	classifier := intent.NewClassifier(client, registry,
		intent.WithLogger(rt.Logger),
		intent.WithMetrics(cm),
		intent.WithTimeout(cfg.ClassifierTimeout),
	)
	return session.NewManager(store, classifier, adapter,
		session.WithLogger(rt.Logger),
		session.WithMetrics(cm),
	), nil
}

func build(ctx context.Context, cfg *appconfig.Config, rt *Runtime, reg *prometheus.Registry) (*App, error) {
	authn, err := auth.NewJWTAuthenticator(cfg.JWTSecret)
	if err != nil {
		return nil, err
	}

	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	cm := metrics.NewChatMetrics(registerer)

	manager, err := BuildManager(ctx, cfg, rt, cm)
	if err != nil {
		return nil, err
	}

	system := handlers.NewSystemHandler(rt.Logger)
	for name, check := range rt.checks {
		system.AddCheck(name, check)
	}

	stop := make(chan struct{})
	limiter := httpmiddleware.NewRateLimiter(cfg.ChatRatePerSecond, cfg.ChatRateBurst)
	go limiter.Run(stop)

	handler := router.New(&router.Config{
		Logger:             rt.Logger,
		Authenticator:      authn,
		System:             system,
		Chat:               webchat.NewHandler(manager, cfg.CORSAllowedOrigins, rt.Logger),
		MessageLimiter:     limiter,
		MetricsHandler:     promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	return &App{Handler: handler, Sessions: manager, runtime: rt, stop: stop}, nil
}
