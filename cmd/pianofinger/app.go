package main

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/apsjohn/pianovision-fingerings/internal/cache"
	"github.com/apsjohn/pianovision-fingerings/internal/config"
	"github.com/apsjohn/pianovision-fingerings/internal/engine"
	"github.com/apsjohn/pianovision-fingerings/internal/exec"
	"github.com/apsjohn/pianovision-fingerings/internal/worker"
)

// app wires the engine gate, the worker and the optional result cache for
// one process lifetime
type app struct {
	cfg     *config.Config // last loaded
	running *config.Config // the engine was started with this one
	logger  *slog.Logger
	gate    *engine.Gate
	worker  *worker.Worker
}

func newApp(cfg *config.Config, logger *slog.Logger, useCache bool) (*app, error) {
	libs := cfg.Libraries()

	runner := exec.NewRunner(cfg.Engine.Python, cfg.Engine.Venv)
	prov := exec.NewProvisioner(runner, logger)
	prov.StartTimeout = cfg.Engine.StartTimeout
	prov.PipCacheDir = cfg.Engine.PipCache

	gate := engine.NewGate(prov, libs, logger)

	opts := worker.Options{
		QueueSize:       cfg.Worker.QueueSize,
		DefaultHandSize: cfg.HandSize(),
		Logger:          logger,
	}
	if useCache {
		version := engineVersion(cfg)
		rc, err := cache.New(cfg.Cache.Dir, version)
		if err != nil {
			return nil, err
		}
		logger.Debug("result cache enabled", "dir", rc.Dir(), "version", version)
		opts.Cache = rc
	}

	return &app{
		cfg:     cfg,
		running: cfg,
		logger:  logger,
		gate:    gate,
		worker:  worker.New(gate, opts),
	}, nil
}

// start runs the worker loop and the config watcher. The returned stop
// function ends both and shuts the engine down.
func (a *app) start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.worker.Run(ctx)
	}()

	if a.cfg.Engine.Warm {
		a.gate.Warm()
	}

	if fileExists(configPath) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := config.Watch(ctx, configPath, a.logger, a.reload)
			if err != nil {
				a.logger.Warn("config watch unavailable", "error", err)
			}
		}()
	}

	return func() {
		cancel()
		wg.Wait()
		if err := a.gate.Close(); err != nil {
			a.logger.Warn("engine shutdown", "error", err)
		}
	}
}

// reload applies the hot-reloadable part of a new config. An engine edit
// is reported once, when it first appears.
func (a *app) reload(next *config.Config) {
	if config.EngineChanged(a.cfg, next) {
		if config.EngineChanged(a.running, next) {
			a.logger.Warn("engine settings changed, restart to apply")
		} else {
			a.logger.Info("engine settings match the running engine again")
		}
	}
	if hs := next.HandSize(); hs != a.worker.DefaultHandSize() {
		a.logger.Info("default hand size changed", "from", a.worker.DefaultHandSize(), "to", hs)
		a.worker.SetDefaultHandSize(hs)
	}
	a.cfg = next
}

// engineVersion tags cached results with the helper and library sources
// that produced them
func engineVersion(cfg *config.Config) string {
	libs := cfg.Libraries()
	return cache.Version(exec.HelperVersion(), libs.Notation.Source, libs.Fingering.Source)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
