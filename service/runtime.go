package service

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/nodebus/bus"
	"github.com/timzifer/nodebus/config"
	"github.com/timzifer/nodebus/generators"
	"github.com/timzifer/nodebus/telemetry"
)

// publisherRuntime drives one configured publisher. Publishers without a
// generator exist in the graph but are never fired by the cycle.
type publisherRuntime struct {
	cfg  config.PublisherConfig
	node string
	pub  *bus.Publisher
	gen  generators.Generator

	interval time.Duration

	mu   sync.Mutex
	next time.Time
	prev time.Time
	seq  uint64
	last map[string]interface{}
}

func newPublisherRuntime(bound *boundNode, cfg config.PublisherConfig, root *config.Config, local map[string]generators.Factory) (*publisherRuntime, error) {
	desc, err := messageDescriptor(cfg.Type)
	if err != nil {
		return nil, err
	}
	profile, err := root.FindProfile(cfg.Profile)
	if err != nil {
		return nil, err
	}
	var gen generators.Generator
	if cfg.Generator.Type != "" {
		gen, err = instantiateGenerator(local, cfg.Generator, cfg.ID)
		if err != nil {
			return nil, err
		}
	}
	pub, err := bound.node.CreatePublisher(desc, cfg.Topic, profile, bus.PublisherOptions{
		Keyed:          cfg.Keyed,
		EventCallbacks: true,
	})
	if err != nil {
		return nil, err
	}
	interval := cfg.Interval.Duration
	if interval <= 0 {
		interval = time.Second
	}
	return &publisherRuntime{
		cfg:      cfg,
		node:     bound.cfg.Name,
		pub:      pub,
		gen:      gen,
		interval: interval,
	}, nil
}

func (p *publisherRuntime) due(now time.Time) bool {
	if p.gen == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return !now.Before(p.next)
}

func (p *publisherRuntime) publish(now time.Time, collector telemetry.Collector, logger zerolog.Logger) int {
	p.mu.Lock()
	delta := time.Duration(0)
	if !p.prev.IsZero() {
		delta = now.Sub(p.prev)
	}
	ctx := generators.Context{Now: now, Delta: delta, Seq: p.seq, Last: p.last}
	p.mu.Unlock()

	payload, err := p.gen.Next(ctx)
	if err != nil {
		logger.Error().Err(err).Str("publisher", p.cfg.ID).Msg("generate sample")
		p.reschedule(now)
		return 1
	}
	if err := p.pub.Publish(payload); err != nil {
		logger.Error().Err(err).Str("publisher", p.cfg.ID).Str("topic", p.cfg.Topic).Msg("publish sample")
		p.reschedule(now)
		return 1
	}
	collector.IncSamplesPublished(p.node, p.cfg.Topic)

	p.mu.Lock()
	p.seq++
	p.prev = now
	p.next = now.Add(p.interval)
	p.last = payload
	p.mu.Unlock()
	return 0
}

func (p *publisherRuntime) reschedule(now time.Time) {
	p.mu.Lock()
	p.prev = now
	p.next = now.Add(p.interval)
	p.mu.Unlock()
}

// subscriptionRuntime drains one configured subscription queue and accounts
// for dropped samples.
type subscriptionRuntime struct {
	cfg  config.SubscriptionConfig
	node string
	sub  *bus.Subscription

	mu          sync.Mutex
	received    uint64
	lastDropped uint64
}

func newSubscriptionRuntime(bound *boundNode, cfg config.SubscriptionConfig, root *config.Config, logger zerolog.Logger) (*subscriptionRuntime, error) {
	desc, err := messageDescriptor(cfg.Type)
	if err != nil {
		return nil, err
	}
	profile, err := root.FindProfile(cfg.Profile)
	if err != nil {
		return nil, err
	}
	sub, err := bound.node.CreateSubscription(desc, cfg.Topic, profile, bus.SubscriptionOptions{
		EventCallbacks:          true,
		IgnoreLocalPublications: cfg.IgnoreLocal,
	})
	if err != nil {
		return nil, err
	}
	_ = logger
	return &subscriptionRuntime{cfg: cfg, node: bound.cfg.Name, sub: sub}, nil
}

func (s *subscriptionRuntime) drain(collector telemetry.Collector, logger zerolog.Logger) {
	for {
		msg, ok, err := s.sub.Take()
		if err != nil {
			logger.Error().Err(err).Str("subscription", s.cfg.ID).Msg("take sample")
			return
		}
		if !ok {
			break
		}
		s.mu.Lock()
		s.received++
		s.mu.Unlock()
		logger.Debug().Str("subscription", s.cfg.ID).Str("topic", s.cfg.Topic).Interface("msg", msg).Msg("sample received")
	}
	dropped := s.sub.Dropped()
	s.mu.Lock()
	delta := dropped - s.lastDropped
	s.lastDropped = dropped
	s.mu.Unlock()
	if delta > 0 {
		collector.AddSamplesDropped(s.node, s.cfg.Topic, delta)
	}
}

// Received reports the number of samples taken from the queue so far.
func (s *subscriptionRuntime) Received() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received
}

// serverRuntime answers pending requests of one configured service server
// with the reply computed by its expression.
type serverRuntime struct {
	cfg     config.ServiceConfig
	node    string
	svc     *bus.Service
	program *replyProgram
}

func newServerRuntime(bound *boundNode, cfg config.ServiceConfig, root *config.Config) (*serverRuntime, error) {
	desc, err := serviceDescriptor(cfg.Type)
	if err != nil {
		return nil, err
	}
	profile, err := root.FindProfile(cfg.Profile)
	if err != nil {
		return nil, err
	}
	program, err := compileReplyExpression(cfg.Expression)
	if err != nil {
		return nil, err
	}
	svc, err := bound.node.CreateService(desc, cfg.Service, profile, bus.ServiceOptions{EventCallbacks: true})
	if err != nil {
		return nil, err
	}
	return &serverRuntime{cfg: cfg, node: bound.cfg.Name, svc: svc, program: program}, nil
}

func (r *serverRuntime) process(now time.Time, logger zerolog.Logger) int {
	errs := 0
	for {
		req, ok, err := r.svc.TakeRequest()
		if err != nil {
			logger.Error().Err(err).Str("service", r.cfg.ID).Msg("take request")
			return errs + 1
		}
		if !ok {
			return errs
		}
		reply, err := r.program.evaluate(req, now)
		if err != nil {
			logger.Error().Err(err).Str("service", r.cfg.ID).Msg("evaluate reply")
			errs++
			continue
		}
		if err := r.svc.SendReply(reply); err != nil {
			logger.Error().Err(err).Str("service", r.cfg.ID).Msg("send reply")
			errs++
		}
	}
}

// clientRuntime fires one configured client on its interval and drains the
// replies.
type clientRuntime struct {
	cfg    config.ClientConfig
	node   string
	client *bus.Client

	interval time.Duration

	mu      sync.Mutex
	next    time.Time
	replies uint64
}

func newClientRuntime(bound *boundNode, cfg config.ClientConfig, root *config.Config) (*clientRuntime, error) {
	desc, err := serviceDescriptor(cfg.Type)
	if err != nil {
		return nil, err
	}
	profile, err := root.FindProfile(cfg.Profile)
	if err != nil {
		return nil, err
	}
	client, err := bound.node.CreateClient(desc, cfg.Service, profile, bus.ClientOptions{EventCallbacks: true})
	if err != nil {
		return nil, err
	}
	interval := cfg.Interval.Duration
	if interval <= 0 {
		interval = time.Second
	}
	return &clientRuntime{cfg: cfg, node: bound.cfg.Name, client: client, interval: interval}, nil
}

func (c *clientRuntime) tick(now time.Time, logger zerolog.Logger) int {
	errs := 0
	if len(c.cfg.Request) > 0 {
		c.mu.Lock()
		due := !now.Before(c.next)
		if due {
			c.next = now.Add(c.interval)
		}
		c.mu.Unlock()
		if due {
			if err := c.client.SendRequest(c.cfg.Request); err != nil {
				logger.Error().Err(err).Str("client", c.cfg.ID).Str("service", c.cfg.Service).Msg("send request")
				errs++
			}
		}
	}
	for {
		reply, ok, err := c.client.TakeReply()
		if err != nil {
			logger.Error().Err(err).Str("client", c.cfg.ID).Msg("take reply")
			return errs + 1
		}
		if !ok {
			return errs
		}
		c.mu.Lock()
		c.replies++
		c.mu.Unlock()
		logger.Debug().Str("client", c.cfg.ID).Str("service", c.cfg.Service).Interface("reply", reply).Msg("reply received")
	}
}

// Replies reports the number of replies taken so far.
func (c *clientRuntime) Replies() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replies
}
