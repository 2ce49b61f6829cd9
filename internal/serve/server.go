// Package serve exposes the BEST checkpoint over HTTP: single-image
// prediction, a bounded prediction history, health and metrics. The model is
// swapped atomically when BEST is rewritten by a training run.
package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/lamim/dermaforge/internal/checkpoint"
	"github.com/lamim/dermaforge/internal/config"
	"github.com/lamim/dermaforge/internal/metrics"
	"github.com/lamim/dermaforge/pkg/models"
)

// ErrNoBestCheckpoint is returned when the BEST slot has never been written
var ErrNoBestCheckpoint = errors.New("no best checkpoint to serve")

const apiRoot = "/api/v1"

// Options configures an App
type Options struct {
	Config    config.ServeConfig
	Defaults  PredictorDefaults
	Store     *checkpoint.Store
	WatchPath string // BEST file on the filesystem backend; empty disables reloads
	Metrics   *metrics.Collector
	Logger    *slog.Logger
}

// App owns everything the handlers share; there is no package-level state
type App struct {
	cfg       config.ServeConfig
	defaults  PredictorDefaults
	store     *checkpoint.Store
	watchPath string
	predictor atomic.Pointer[Predictor]
	history   *History
	limiter   *RateLimiterPool
	metrics   *metrics.Collector
	logger    *slog.Logger
	echo      *echo.Echo
}

// New builds the app and its routes. Call LoadBest before serving.
func New(opts Options) (*App, error) {
	if opts.Store == nil || opts.Logger == nil {
		return nil, fmt.Errorf("serve needs a checkpoint store and a logger")
	}
	if opts.Config.HistorySize < 1 {
		return nil, fmt.Errorf("history size must be at least 1 (got %d)", opts.Config.HistorySize)
	}
	if opts.Config.RateLimitPerMinute < 1 {
		return nil, fmt.Errorf("rate limit must be at least 1 request per minute")
	}
	collector := opts.Metrics
	if collector == nil {
		collector = metrics.NewCollector(opts.Logger)
	}

	a := &App{
		cfg:       opts.Config,
		defaults:  opts.Defaults,
		store:     opts.Store,
		watchPath: opts.WatchPath,
		history:   NewHistory(opts.Config.HistorySize),
		limiter:   NewRateLimiterPool(opts.Config.RateLimitPerMinute, opts.Logger),
		metrics:   collector,
		logger:    opts.Logger,
	}
	a.echo = a.buildServer()
	return a, nil
}

func (a *App) buildServer() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.HTTPErrorHandler = func(err error, c echo.Context) {
		e.DefaultHTTPErrorHandler(err, c)
		var he *echo.HTTPError
		if errors.As(err, &he) && he.Code < http.StatusInternalServerError {
			return
		}
		a.logger.Error("Request failed",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"error", err)
	}

	e.Use(middleware.Recover())
	// server-side latency
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			begin := time.Now()
			err := next(c)
			a.logger.Debug("Handled request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(begin).Milliseconds())
			return err
		}
	})

	e.POST(apiRoot+"/predict", a.handlePredict(),
		middleware.BodyLimit(fmt.Sprintf("%dB", a.cfg.MaxUploadBytes)))
	e.GET(apiRoot+"/history", a.handleHistory())
	e.GET("/healthz", a.handleHealth())
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	return e
}

// Handler returns the HTTP handler of the app
func (a *App) Handler() http.Handler {
	return a.echo
}

// Predictor returns the model currently being served, nil before LoadBest
func (a *App) Predictor() *Predictor {
	return a.predictor.Load()
}

// LoadBest reads BEST and swaps it in. On any failure the previous predictor
// keeps serving.
func (a *App) LoadBest(ctx context.Context) error {
	err := a.loadBest(ctx)
	a.metrics.RecordModelReload(err == nil)
	return err
}

func (a *App) loadBest(ctx context.Context) error {
	cp, err := a.store.Read(ctx, models.SlotBest)
	if err != nil {
		return fmt.Errorf("failed to read best checkpoint: %w", err)
	}
	if cp == nil {
		return fmt.Errorf("%w at %s", ErrNoBestCheckpoint, a.store.Location(models.SlotBest))
	}
	p, err := NewPredictor(cp, a.defaults)
	if err != nil {
		return fmt.Errorf("failed to build predictor from %s: %w", a.store.Location(models.SlotBest), err)
	}

	prev := a.predictor.Swap(p)
	attrs := []any{
		"location", a.store.Location(models.SlotBest),
		"epoch", p.Epoch(),
		"run_id", p.RunID(),
		"classes", len(p.classes),
	}
	if prev != nil {
		attrs = append(attrs, "previous_epoch", prev.Epoch())
	}
	a.logger.Info("Loaded best checkpoint", attrs...)
	return nil
}

// Run serves on addr until ctx is done, reloading BEST when it changes
func (a *App) Run(ctx context.Context, addr string) error {
	if a.watchPath != "" {
		if err := a.watchBest(ctx); err != nil {
			return fmt.Errorf("failed to watch best checkpoint: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Serving predictions", "addr", addr)
		errCh <- a.echo.Start(addr)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}
		a.logger.Info("Server stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
