// Package service assembles the daemon runtime: it connects to the
// configured transport, creates the configured nodes and endpoints, and
// drives publishers, service servers and clients in a periodic cycle.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/nodebus/bus"
	"github.com/timzifer/nodebus/config"
	"github.com/timzifer/nodebus/generators"
	"github.com/timzifer/nodebus/telemetry"
	"github.com/timzifer/nodebus/transport"
	"github.com/timzifer/nodebus/transport/inmem"
)

const (
	defaultCycleInterval = 100 * time.Millisecond
	minCycleInterval     = 10 * time.Millisecond
	defaultPublishSlots  = 4
)

// Option configures the service during construction.
type Option func(*factoryRegistry)

type factoryRegistry struct {
	transports map[string]transport.Factory
	generators map[string]generators.Factory
	collector  telemetry.Collector
}

func newFactoryRegistry() factoryRegistry {
	return factoryRegistry{
		transports: map[string]transport.Factory{
			"inmem": inmem.NewBus().Factory(),
		},
		generators: make(map[string]generators.Factory),
		collector:  telemetry.Noop(),
	}
}

func applyOptions(reg factoryRegistry, opts []Option) factoryRegistry {
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}
	return reg
}

// WithTransport registers or overrides the transport factory for a provider
// identifier.
func WithTransport(provider string, factory transport.Factory) Option {
	return func(reg *factoryRegistry) {
		if reg == nil || provider == "" {
			return
		}
		if factory == nil {
			delete(reg.transports, provider)
			return
		}
		reg.transports[provider] = factory
	}
}

// WithGeneratorFactory registers or overrides a generator factory for a
// generator type id, shadowing the global registry.
func WithGeneratorFactory(id string, factory generators.Factory) Option {
	return func(reg *factoryRegistry) {
		if reg == nil || id == "" {
			return
		}
		if factory == nil {
			delete(reg.generators, id)
			return
		}
		reg.generators[id] = factory
	}
}

// WithCollector sets the telemetry collector.
func WithCollector(collector telemetry.Collector) Option {
	return func(reg *factoryRegistry) {
		if reg == nil || collector == nil {
			return
		}
		reg.collector = collector
	}
}

// Metrics summarises the most recent cycles.
type Metrics struct {
	CycleCount        uint64
	LastDuration      time.Duration
	LastPublishErrors int
	LastServiceErrors int
	LastClientErrors  int
}

type boundNode struct {
	cfg  config.NodeConfig
	node *bus.Node
}

// Service owns a transport participant, its connection and every configured
// endpoint for the lifetime of one configuration.
type Service struct {
	cfg       *config.Config
	logger    zerolog.Logger
	collector telemetry.Collector

	part transport.Participant
	conn *bus.Connection

	nodes         []*boundNode
	publishers    []*publisherRuntime
	subscriptions []*subscriptionRuntime
	servers       []*serverRuntime
	clients       []*clientRuntime

	cycle     time.Duration
	graphView *graphViewServer

	mu        sync.Mutex
	metrics   Metrics
	lastCycle time.Time
	closed    bool
}

// New builds a service from configuration and connects it to the transport.
func New(cfg *config.Config, logger zerolog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	registry := applyOptions(newFactoryRegistry(), opts)

	provider := cfg.Transport.Provider
	if provider == "" {
		provider = "inmem"
	}
	factory := registry.transports[provider]
	if factory == nil {
		return nil, fmt.Errorf("no transport factory registered for provider %s", provider)
	}
	part, err := factory(cfg.Transport.Domain)
	if err != nil {
		return nil, fmt.Errorf("join transport domain %d: %w", cfg.Transport.Domain, err)
	}

	conn, err := bus.Connect(part, bus.ConnectionOptions{LeaveTransportDefaults: cfg.Transport.LeaveDefaults})
	if err != nil {
		_ = part.Close()
		return nil, err
	}

	svc := &Service{
		cfg:       cfg,
		logger:    logger,
		collector: registry.collector,
		part:      part,
		conn:      conn,
		cycle:     cycleInterval(cfg),
	}
	svc.watchGraph()

	cleanupOnErr := func(err error) (*Service, error) {
		_ = conn.Close()
		_ = part.Close()
		return nil, err
	}

	for _, nodeCfg := range cfg.Nodes {
		node, err := conn.CreateNode(nodeCfg.Name, nodeCfg.Namespace)
		if err != nil {
			return cleanupOnErr(fmt.Errorf("node %s: %w", nodeCfg.Name, err))
		}
		bound := &boundNode{cfg: nodeCfg, node: node}
		svc.nodes = append(svc.nodes, bound)
		if err := svc.buildEndpoints(bound, registry); err != nil {
			return cleanupOnErr(err)
		}
	}

	return svc, nil
}

// watchGraph mirrors the graph cache counters into the telemetry gauges.
func (s *Service) watchGraph() {
	cache := s.conn.Graph()
	collector := s.collector
	cache.SetOnChange(func() {
		stats := cache.Snapshot()
		collector.SetGraphNodes(stats.Nodes)
		collector.SetGraphEndpoints(stats.Readers, stats.Writers)
	})
}

func (s *Service) buildEndpoints(bound *boundNode, registry factoryRegistry) error {
	nodeCfg := bound.cfg
	for _, subCfg := range nodeCfg.Subscriptions {
		if subCfg.Disable {
			continue
		}
		rt, err := newSubscriptionRuntime(bound, subCfg, s.cfg, s.logger)
		if err != nil {
			s.collector.IncEndpointFailed("subscription")
			return fmt.Errorf("subscription %s: %w", subCfg.ID, err)
		}
		s.collector.IncEndpointCreated("subscription")
		s.subscriptions = append(s.subscriptions, rt)
	}
	for _, pubCfg := range nodeCfg.Publishers {
		if pubCfg.Disable {
			continue
		}
		rt, err := newPublisherRuntime(bound, pubCfg, s.cfg, registry.generators)
		if err != nil {
			s.collector.IncEndpointFailed("publisher")
			return fmt.Errorf("publisher %s: %w", pubCfg.ID, err)
		}
		s.collector.IncEndpointCreated("publisher")
		s.publishers = append(s.publishers, rt)
	}
	for _, svcCfg := range nodeCfg.Services {
		if svcCfg.Disable {
			continue
		}
		rt, err := newServerRuntime(bound, svcCfg, s.cfg)
		if err != nil {
			s.collector.IncEndpointFailed("service")
			return fmt.Errorf("service %s: %w", svcCfg.ID, err)
		}
		s.collector.IncEndpointCreated("service")
		s.servers = append(s.servers, rt)
	}
	for _, clientCfg := range nodeCfg.Clients {
		if clientCfg.Disable {
			continue
		}
		rt, err := newClientRuntime(bound, clientCfg, s.cfg)
		if err != nil {
			s.collector.IncEndpointFailed("client")
			return fmt.Errorf("client %s: %w", clientCfg.ID, err)
		}
		s.collector.IncEndpointCreated("client")
		s.clients = append(s.clients, rt)
	}
	return nil
}

// cycleInterval derives the run loop tick from the smallest configured
// publisher or client interval.
func cycleInterval(cfg *config.Config) time.Duration {
	interval := defaultCycleInterval
	consider := func(d time.Duration) {
		if d > 0 && d < interval {
			interval = d
		}
	}
	for _, node := range cfg.Nodes {
		for _, pub := range node.Publishers {
			if !pub.Disable && pub.Generator.Type != "" {
				consider(pub.Interval.Duration)
			}
		}
		for _, client := range node.Clients {
			if !client.Disable && len(client.Request) > 0 {
				consider(client.Interval.Duration)
			}
		}
	}
	if interval < minCycleInterval {
		interval = minCycleInterval
	}
	return interval
}

// Validate performs a dry-run validation of the configuration without
// touching the transport.
func Validate(cfg *config.Config, logger zerolog.Logger, opts ...Option) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}
	registry := applyOptions(newFactoryRegistry(), opts)

	provider := cfg.Transport.Provider
	if provider == "" {
		provider = "inmem"
	}
	if registry.transports[provider] == nil {
		return fmt.Errorf("no transport factory registered for provider %s", provider)
	}

	for _, node := range cfg.Nodes {
		for _, pub := range node.Publishers {
			if pub.Disable {
				continue
			}
			if _, err := messageDescriptor(pub.Type); err != nil {
				return fmt.Errorf("publisher %s: %w", pub.ID, err)
			}
			if _, err := cfg.FindProfile(pub.Profile); err != nil {
				return fmt.Errorf("publisher %s: %w", pub.ID, err)
			}
			if pub.Generator.Type != "" {
				if _, err := instantiateGenerator(registry.generators, pub.Generator, pub.ID); err != nil {
					return fmt.Errorf("publisher %s: %w", pub.ID, err)
				}
			}
		}
		for _, sub := range node.Subscriptions {
			if sub.Disable {
				continue
			}
			if _, err := messageDescriptor(sub.Type); err != nil {
				return fmt.Errorf("subscription %s: %w", sub.ID, err)
			}
			if _, err := cfg.FindProfile(sub.Profile); err != nil {
				return fmt.Errorf("subscription %s: %w", sub.ID, err)
			}
		}
		for _, svc := range node.Services {
			if svc.Disable {
				continue
			}
			if _, err := serviceDescriptor(svc.Type); err != nil {
				return fmt.Errorf("service %s: %w", svc.ID, err)
			}
			if _, err := cfg.FindProfile(svc.Profile); err != nil {
				return fmt.Errorf("service %s: %w", svc.ID, err)
			}
			if _, err := compileReplyExpression(svc.Expression); err != nil {
				return fmt.Errorf("service %s: %w", svc.ID, err)
			}
		}
		for _, client := range node.Clients {
			if client.Disable {
				continue
			}
			if _, err := serviceDescriptor(client.Type); err != nil {
				return fmt.Errorf("client %s: %w", client.ID, err)
			}
			if _, err := cfg.FindProfile(client.Profile); err != nil {
				return fmt.Errorf("client %s: %w", client.ID, err)
			}
		}
	}
	_ = logger
	return nil
}

func instantiateGenerator(local map[string]generators.Factory, cfg config.GeneratorConfig, instanceID string) (generators.Generator, error) {
	if factory, ok := local[cfg.Type]; ok {
		return factory(instanceID, cfg.Settings)
	}
	return generators.Instantiate(cfg.Type, instanceID, cfg.Settings)
}

// Connection exposes the underlying bus connection.
func (s *Service) Connection() *bus.Connection {
	if s == nil {
		return nil
	}
	return s.conn
}

// Metrics returns a copy of the current cycle metrics.
func (s *Service) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// EnableGraphView starts the embedded graph inspection server.
func (s *Service) EnableGraphView(listen string) error {
	if s == nil {
		return errors.New("service must not be nil")
	}
	if s.graphView != nil {
		return errors.New("graph view already enabled")
	}
	server, err := newGraphViewServer(listen, s, s.logger)
	if err != nil {
		return err
	}
	s.graphView = server
	return nil
}

// GraphViewAddr returns the listen address of the graph view server, or an
// empty string when it is not running.
func (s *Service) GraphViewAddr() string {
	if s == nil || s.graphView == nil {
		return ""
	}
	return s.graphView.addr()
}

// Run drives the publish and service cycle until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ticker := time.NewTicker(s.cycle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := s.IterateOnce(ctx, now); err != nil {
				s.logger.Error().Err(err).Msg("cycle failure")
			}
		}
	}
}

// IterateOnce performs a single cycle: due publishers fire, service servers
// answer pending requests, due clients send theirs, and subscription queues
// drain.
func (s *Service) IterateOnce(ctx context.Context, now time.Time) error {
	start := time.Now()

	publishErrors := s.publishPhase(ctx, now)
	serviceErrors := s.servicePhase(now)
	clientErrors := s.clientPhase(now)
	s.drainSubscriptions()

	s.mu.Lock()
	s.metrics.CycleCount++
	s.metrics.LastDuration = time.Since(start)
	s.metrics.LastPublishErrors = publishErrors
	s.metrics.LastServiceErrors = serviceErrors
	s.metrics.LastClientErrors = clientErrors
	s.lastCycle = now
	s.mu.Unlock()
	return nil
}

func (s *Service) publishPhase(ctx context.Context, now time.Time) int {
	due := make([]*publisherRuntime, 0, len(s.publishers))
	for _, rt := range s.publishers {
		if rt.due(now) {
			due = append(due, rt)
		}
	}
	if len(due) == 0 {
		return 0
	}
	errs, _ := runWorkerPool(ctx, defaultPublishSlots, due, func(_ context.Context, rt *publisherRuntime) int {
		return rt.publish(now, s.collector, s.logger)
	})
	return errs
}

func (s *Service) servicePhase(now time.Time) int {
	errs := 0
	for _, rt := range s.servers {
		errs += rt.process(now, s.logger)
	}
	return errs
}

func (s *Service) clientPhase(now time.Time) int {
	errs := 0
	for _, rt := range s.clients {
		errs += rt.tick(now, s.logger)
	}
	return errs
}

func (s *Service) drainSubscriptions() {
	for _, rt := range s.subscriptions {
		rt.drain(s.collector, s.logger)
	}
}

// Close releases every endpoint, the connection and the participant. It is
// safe to call more than once.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.graphView != nil {
		s.graphView.close()
		s.graphView = nil
	}

	var errs []error
	// Connection close cascades into nodes and their endpoints.
	if err := s.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.part.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
