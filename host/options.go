package host

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/timzifer/nodebus/config"
	"github.com/timzifer/nodebus/generators"
	"github.com/timzifer/nodebus/service"
	"github.com/timzifer/nodebus/telemetry"
)

// WithLogger provides a custom logger instance for the host.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.logger = logger
		cfg.customLogger = true
		return nil
	}
}

// WithGenerator registers a custom generator factory before startup.
func WithGenerator(def GeneratorDefinition) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.generatorDefs = append(cfg.generatorDefs, def)
		return nil
	}
}

// WithConfigPath configures the host to load configuration data from the
// provided path. The optional register callback receives the host's reload
// entry point.
func WithConfigPath(path string, register func(ReloadFunc)) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.configPath = strings.TrimSpace(path)
		cfg.registerReload = register
		return nil
	}
}

// WithConfig supplies an already loaded configuration instance.
func WithConfig(cfgData *config.Config) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.config = cfgData
		return nil
	}
}

// WithGraphView enables the embedded graph view server on the given listen
// address, overriding the configuration.
func WithGraphView(listen string) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.enableGraphView = true
		cfg.graphViewListen = listen
		return nil
	}
}

// WithTelemetry injects a collector instance overriding the
// configuration-based default.
func WithTelemetry(collector telemetry.Collector) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		if collector == nil {
			collector = telemetry.Noop()
		}
		cfg.collector = collector
		cfg.collectorProvided = true
		return nil
	}
}

// WithServiceOptions appends raw service options, for example a custom
// transport factory.
func WithServiceOptions(opts ...service.Option) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.serviceOptions = append(cfg.serviceOptions, opts...)
		return nil
	}
}

// NewGeneratorDefinition creates a generator definition from identifier and
// factory.
func NewGeneratorDefinition(id string, factory generators.Factory) GeneratorDefinition {
	return GeneratorDefinition{ID: id, Factory: factory}
}
