package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"SwingPulse/internal/handler/api"
	"SwingPulse/internal/usecase"
	"SwingPulse/pkg/config"
	xhttp "SwingPulse/pkg/http"
	pkgkafka "SwingPulse/pkg/kafka"
	applogger "SwingPulse/pkg/logger"
)

// HealthCheck probes one dependency.
type HealthCheck func(context.Context) error

// App owns the process lifecycle: it starts the controller, the ingestion
// paths and the HTTP API, and tears them down in reverse order.
type App struct {
	cfg      *config.Config
	logger   *applogger.Logger
	registry *prometheus.Registry
	ctrl     *usecase.FrameworkController
	handler  *api.FrameworkEchoHandler

	consumer    *pkgkafka.Consumer
	barsHandler pkgkafka.MessageHandler
	loader      *usecase.MarketDataLoader
	forwarder   *usecase.EventForwarder
	checks      map[string]HealthCheck

	httpServer *xhttp.Server
	bg         sync.WaitGroup
}

// Option attaches optional components to the App.
type Option func(*App)

// WithConsumer consumes h's topic with c. Either may be nil.
func WithConsumer(c *pkgkafka.Consumer, h pkgkafka.MessageHandler) Option {
	return func(a *App) {
		if c != nil && h != nil {
			a.consumer = c
			a.barsHandler = h
		}
	}
}

func WithLoader(l *usecase.MarketDataLoader) Option {
	return func(a *App) { a.loader = l }
}

func WithForwarder(f *usecase.EventForwarder) Option {
	return func(a *App) { a.forwarder = f }
}

// WithHealthCheck adds a readiness probe. A nil check is ignored.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(a *App) {
		if check != nil {
			a.checks[name] = check
		}
	}
}

// New creates an App.
func New(cfg *config.Config, l *applogger.Logger, reg *prometheus.Registry, ctrl *usecase.FrameworkController, handler *api.FrameworkEchoHandler, opts ...Option) *App {
	a := &App{
		cfg:      cfg,
		logger:   l.Named("app"),
		registry: reg,
		ctrl:     ctrl,
		handler:  handler,
		checks:   make(map[string]HealthCheck),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts everything and blocks until ctx is done or the process is
// interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverOpts := []xhttp.ServerOption{
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(a.logger),
	}
	if a.cfg.Metrics.Enabled {
		serverOpts = append(serverOpts, xhttp.WithMetrics(a.cfg.Metrics.Path, a.registry, a.registry))
	}
	a.httpServer = xhttp.NewServer([]xhttp.Handler{a.handler}, serverOpts...)
	a.httpServer.Echo().GET("/readyz", a.ready)

	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	if a.forwarder != nil {
		a.ctrl.OnAll(a.forwarder.Handle)
		a.goBackground(func() { a.forwarder.Run(bgCtx) })
	}

	if a.loader != nil {
		if err := a.loader.LoadOnce(ctx); err != nil {
			a.logger.Warn("initial load incomplete", applogger.Error(err))
		}
		a.goBackground(func() { a.loader.Run(bgCtx) })
	}

	if a.consumer != nil {
		a.consumer.RegisterHandler(a.barsHandler)
		if err := a.consumer.Start(bgCtx); err != nil {
			return err
		}
		a.logger.Info("kafka consumer started", applogger.String("topic", a.barsHandler.Topic()))
	}

	if err := a.ctrl.Start(); err != nil {
		return err
	}
	a.logger.Info("engine started",
		applogger.Strings("instruments", a.cfg.Instruments),
		applogger.Duration("interval", a.cfg.Engine.UpdateInterval))

	if err := a.httpServer.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	a.logger.Info("shutdown signal received")
	return a.shutdown(cancelBg)
}

func (a *App) goBackground(fn func()) {
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		fn()
	}()
}

// shutdown stops intake first so that the final events still reach the forwarder.
func (a *App) shutdown(cancelBg context.CancelFunc) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout+5*time.Second)
	defer cancel()

	var errs []error
	if err := a.httpServer.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.ctrl.IsActive() {
		if err := a.ctrl.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	cancelBg()

	done := make(chan struct{})
	go func() {
		a.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	if err := errors.Join(errs...); err != nil {
		a.logger.Error("shutdown incomplete", applogger.Error(err))
		return err
	}
	a.logger.Info("shutdown complete")
	return nil
}

// ready reports 503 when any dependency check fails.
func (a *App) ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	status := map[string]string{}
	ok := true
	for name, check := range a.checks {
		if err := check(ctx); err != nil {
			status[name] = err.Error()
			ok = false
			continue
		}
		status[name] = "ok"
	}
	if !ok {
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, status)
	}
	return xhttp.SuccessResponse(c, status)
}
