// Package host owns the daemon lifecycle around a service: logger setup,
// telemetry wiring, the graph view, and configuration hot reload.
package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/timzifer/nodebus/config"
	"github.com/timzifer/nodebus/generators"
	"github.com/timzifer/nodebus/internal/logging"
	"github.com/timzifer/nodebus/internal/reload"
	"github.com/timzifer/nodebus/service"
	"github.com/timzifer/nodebus/telemetry"
)

// ReloadFunc represents a function that reloads the host configuration.
type ReloadFunc func(ctx context.Context) error

// Option configures the host during construction.
type Option func(*settings) error

// GeneratorDefinition describes a generator factory that should be
// registered before startup.
type GeneratorDefinition struct {
	ID      string
	Factory generators.Factory
}

type settings struct {
	config            *config.Config
	configPath        string
	registerReload    func(ReloadFunc)
	logger            zerolog.Logger
	customLogger      bool
	collector         telemetry.Collector
	collectorProvided bool
	generatorDefs     []GeneratorDefinition
	serviceOptions    []service.Option
	graphViewListen   string
	enableGraphView   bool
}

// Host orchestrates the service lifecycle, including configuration reloads
// and cleanup.
type Host struct {
	mu sync.Mutex

	config     *config.Config
	configPath string

	collector telemetry.Collector

	serviceOptions []service.Option

	customLogger bool
	baseLogger   zerolog.Logger

	graphViewEnabled bool
	graphViewListen  string

	watcher  *reload.Watcher
	reloadCh chan reloadRequest

	current *runtimeState
	running bool
}

type runtimeState struct {
	cfg     *config.Config
	logger  zerolog.Logger
	cleanup func()
	srv     *service.Service
}

type reloadRequest struct {
	done  chan error
	files []string
}

// New constructs a host with the supplied options.
func New(ctx context.Context, opts ...Option) (*Host, error) {
	if ctx != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	cfg := settings{
		logger:    zerolog.Nop(),
		collector: telemetry.Noop(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		if cfg.configPath == "" {
			return nil, errors.New("configuration path required")
		}
		loaded, err := config.Load(cfg.configPath)
		if err != nil {
			return nil, fmt.Errorf("load configuration: %w", err)
		}
		cfg.config = loaded
	}

	if !cfg.collectorProvided {
		collector, err := newTelemetryCollector(cfg.config.Telemetry)
		if err != nil {
			fmt.Fprintf(os.Stderr, "telemetry disabled: %v\n", err)
			cfg.collector = telemetry.Noop()
		} else {
			cfg.collector = collector
		}
	}

	if err := registerGenerators(cfg.generatorDefs); err != nil {
		return nil, err
	}

	serviceOpts := append([]service.Option{service.WithCollector(cfg.collector)}, cfg.serviceOptions...)

	graphViewEnabled := cfg.enableGraphView || cfg.config.GraphView.Enabled
	graphViewListen := cfg.graphViewListen
	if graphViewListen == "" {
		graphViewListen = cfg.config.GraphView.Listen
	}
	if graphViewListen == "" {
		graphViewListen = "127.0.0.1:8780"
	}

	h := &Host{
		config:           cfg.config,
		configPath:       cfg.configPath,
		collector:        cfg.collector,
		serviceOptions:   serviceOpts,
		customLogger:     cfg.customLogger,
		baseLogger:       cfg.logger,
		graphViewEnabled: graphViewEnabled,
		graphViewListen:  graphViewListen,
	}

	runtime, err := h.buildRuntime(cfg.config)
	if err != nil {
		return nil, err
	}
	h.current = runtime

	if cfg.configPath != "" {
		h.reloadCh = make(chan reloadRequest)
	}

	if err := h.initWatcher(cfg.config); err != nil {
		_ = runtime.srv.Close()
		runtime.cleanup()
		return nil, err
	}

	if cfg.registerReload != nil {
		cfg.registerReload(h.Reload)
	}

	return h, nil
}

// Run executes the host until the context is cancelled or the service stops
// with an error. Configuration changes rebuild the runtime in place.
func (h *Host) Run(ctx context.Context) error {
	h.mu.Lock()
	if h.current == nil {
		h.mu.Unlock()
		return errors.New("host not initialized")
	}
	if h.running {
		h.mu.Unlock()
		return errors.New("host already running")
	}
	h.running = true
	current := h.current
	watcher := h.watcher
	reloadCh := h.reloadCh
	h.mu.Unlock()

	var ticker *time.Ticker
	if watcher != nil {
		ticker = time.NewTicker(time.Second)
		defer ticker.Stop()
	}

	defer func() {
		h.mu.Lock()
		h.running = false
		if h.current == current {
			h.current = nil
		}
		h.mu.Unlock()
	}()

	for {
		runCtx, cancelRun := context.WithCancel(ctx)
		errCh := make(chan error, 1)
		go func(s *service.Service) {
			errCh <- s.Run(runCtx)
		}(current.srv)

		var pending *reloadRequest
		var nextConfig *config.Config

	loop:
		for {
			select {
			case <-ctx.Done():
				cancelRun()
				err := <-errCh
				_ = current.srv.Close()
				current.cleanup()
				if err != nil && err != context.Canceled && err != context.DeadlineExceeded {
					return err
				}
				return ctx.Err()
			case err := <-errCh:
				cancelRun()
				_ = current.srv.Close()
				current.cleanup()
				return err
			case req := <-reloadCh:
				cfg, err := h.loadConfig()
				if err != nil {
					if req.done != nil {
						req.done <- err
					}
					continue
				}
				if err := service.Validate(cfg, current.logger, h.serviceOptions...); err != nil {
					current.logger.Error().Err(err).Msg("reloaded configuration invalid")
					if req.done != nil {
						req.done <- err
					}
					continue
				}
				pending = &req
				nextConfig = cfg
				break loop
			case <-tickChannel(ticker):
				changes, err := watcher.Check()
				if err != nil {
					current.logger.Error().Err(err).Msg("failed to check configuration changes")
					continue
				}
				if len(changes) == 0 {
					continue
				}
				cfg, err := h.loadConfig()
				if err != nil {
					current.logger.Error().Err(err).Msg("failed to reload configuration")
					continue
				}
				if err := service.Validate(cfg, current.logger, h.serviceOptions...); err != nil {
					current.logger.Error().Err(err).Msg("reloaded configuration invalid")
					continue
				}
				pending = &reloadRequest{files: changes}
				nextConfig = cfg
				break loop
			}
		}

		cancelRun()
		if err := <-errCh; err != nil && err != context.Canceled && err != context.DeadlineExceeded {
			current.logger.Error().Err(err).Msg("service stopped during reload")
		}
		_ = current.srv.Close()
		current.cleanup()

		runtime, err := h.buildRuntime(nextConfig)
		if err != nil {
			if pending != nil && pending.done != nil {
				pending.done <- err
			}
			return err
		}

		h.mu.Lock()
		h.current = runtime
		current = runtime
		h.config = nextConfig
		if err := h.initWatcher(nextConfig); err != nil {
			current.logger.Error().Err(err).Msg("failed to update configuration watcher")
		} else {
			watcher = h.watcher
		}
		if ticker != nil {
			ticker.Stop()
			ticker = nil
		}
		if watcher != nil {
			ticker = time.NewTicker(time.Second)
		}
		h.mu.Unlock()

		if pending != nil {
			if pending.done != nil {
				pending.done <- nil
			}
			for _, file := range pending.files {
				h.collector.IncHotReload(file)
			}
		}
	}
}

// Reload rebuilds the host using the latest configuration from disk.
func (h *Host) Reload(ctx context.Context) error {
	h.mu.Lock()
	running := h.running
	reloadCh := h.reloadCh
	h.mu.Unlock()

	if !running {
		cfg, err := h.loadConfig()
		if err != nil {
			return err
		}
		if err := service.Validate(cfg, zerolog.Nop(), h.serviceOptions...); err != nil {
			return err
		}
		return h.swapRuntime(cfg)
	}

	if reloadCh == nil {
		return errors.New("reload not supported without configuration path")
	}

	req := reloadRequest{done: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case reloadCh <- req:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-req.done:
		return err
	}
}

// Close releases resources managed by the host.
func (h *Host) Close() {
	h.mu.Lock()
	current := h.current
	h.current = nil
	h.mu.Unlock()

	if current != nil {
		_ = current.srv.Close()
		current.cleanup()
	}
}

// Service returns the currently running service instance, or nil.
func (h *Host) Service() *service.Service {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == nil {
		return nil
	}
	return h.current.srv
}

func (h *Host) swapRuntime(cfg *config.Config) error {
	runtime, err := h.buildRuntime(cfg)
	if err != nil {
		return err
	}

	h.mu.Lock()
	old := h.current
	h.current = runtime
	h.config = cfg
	err = h.initWatcher(cfg)
	h.mu.Unlock()
	if err != nil {
		_ = runtime.srv.Close()
		runtime.cleanup()
		return err
	}

	if old != nil {
		_ = old.srv.Close()
		old.cleanup()
	}
	return nil
}

func (h *Host) buildRuntime(cfg *config.Config) (*runtimeState, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	runtime := &runtimeState{cfg: cfg, cleanup: func() {}}
	if h.customLogger {
		runtime.logger = h.baseLogger
	} else {
		logger, cleanup, err := logging.Setup(cfg.Logging)
		if err != nil {
			return nil, err
		}
		runtime.logger = logger
		runtime.cleanup = cleanup
	}
	log.Logger = runtime.logger

	srv, err := service.New(cfg, runtime.logger, h.serviceOptions...)
	if err != nil {
		runtime.cleanup()
		return nil, err
	}
	if h.graphViewEnabled {
		if err := srv.EnableGraphView(h.graphViewListen); err != nil {
			_ = srv.Close()
			runtime.cleanup()
			return nil, err
		}
	}
	runtime.srv = srv
	return runtime, nil
}

func (h *Host) loadConfig() (*config.Config, error) {
	if h.configPath == "" {
		return nil, errors.New("configuration path not configured")
	}
	return config.Load(h.configPath)
}

func (h *Host) initWatcher(cfg *config.Config) error {
	if h.configPath == "" || !cfg.HotReload {
		h.watcher = nil
		return nil
	}
	if h.watcher == nil {
		watcher, err := reload.NewWatcher(h.configPath, cfg)
		if err != nil {
			return err
		}
		h.watcher = watcher
		return nil
	}
	return h.watcher.Update(h.configPath, cfg)
}

func registerGenerators(defs []GeneratorDefinition) error {
	if len(defs) == 0 {
		return nil
	}
	existing := make(map[string]struct{})
	for _, id := range generators.RegisteredIDs() {
		existing[id] = struct{}{}
	}
	for _, def := range defs {
		if def.ID == "" {
			return errors.New("generator id must not be empty")
		}
		if def.Factory == nil {
			return fmt.Errorf("generator %s factory must not be nil", def.ID)
		}
		if _, ok := existing[def.ID]; ok {
			return fmt.Errorf("generator %s already registered", def.ID)
		}
		generators.Register(def.ID, def.Factory)
		existing[def.ID] = struct{}{}
	}
	return nil
}

func tickChannel(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}
