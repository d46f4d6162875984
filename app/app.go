package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/searchktools/fast-uring/config"
	"github.com/searchktools/fast-uring/core"
	"github.com/searchktools/fast-uring/core/pools"
)

// App is the application instance: one engine fanned out over one worker
// per CPU in multi-core mode
type App struct {
	cfg    *config.Config
	log    *zap.Logger
	engine *core.Engine
}

// New creates an application instance
func New(cfg *config.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		log:    logger,
		engine: core.NewEngine(cfg, logger),
	}
}

// NewWithEngine creates an application instance with a pre-configured engine
func NewWithEngine(cfg *config.Config, logger *zap.Logger, engine *core.Engine) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{cfg: cfg, log: logger, engine: engine}
}

// Engine returns the underlying engine for route registration
func (a *App) Engine() *core.Engine {
	return a.engine
}

// Run validates the configuration, starts the workers and blocks until ctx
// is done, SIGINT or SIGTERM arrives, or a worker fails
func (a *App) Run(ctx context.Context) error {
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	if _, err := a.engine.Table(); err != nil {
		return err
	}

	prev := pools.ApplyGCConfig(pools.DefaultGCConfig())
	a.log.Debug("gc tuned", zap.Int("previous_gogc", prev))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	n := a.cfg.Workers()
	pool, err := ants.NewPool(n, ants.WithPanicHandler(func(v any) {
		a.log.Error("worker panicked", zap.Any("panic", v))
		cancel()
	}))
	if err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}
	defer pool.Release()

	a.log.Info("server starting",
		zap.Int("port", a.cfg.Port),
		zap.String("env", a.cfg.Env),
		zap.Int("workers", n),
		zap.String("backend", a.cfg.Backend))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for id := 0; id < n; id++ {
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			if err := a.runPinned(ctx, id); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				cancel()
			}
		})
		if err != nil {
			wg.Done()
			cancel()
			errs = append(errs, fmt.Errorf("start worker %d: %w", id, err))
			break
		}
	}
	wg.Wait()

	a.log.Info("server stopped")
	return errors.Join(errs...)
}

// runPinned runs worker id on a thread bound to one CPU
func (a *App) runPinned(ctx context.Context, id int) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if a.cfg.MultiCore {
		var set unix.CPUSet
		set.Set(id % runtime.NumCPU())
		if err := unix.SchedSetaffinity(0, &set); err != nil {
			a.log.Warn("cpu pinning failed", zap.Int("worker", id), zap.Error(err))
		}
	}
	return a.engine.RunWorker(ctx, id)
}
