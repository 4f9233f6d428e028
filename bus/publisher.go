package bus

import (
	"fmt"
	"sync"

	"github.com/timzifer/nodebus/graph"
	"github.com/timzifer/nodebus/qos"
	"github.com/timzifer/nodebus/transport"
)

// PublisherOptions configure a publisher endpoint.
type PublisherOptions struct {
	// Keyed selects a keyed topic carrying per-instance streams.
	Keyed bool

	// EventCallbacks attaches a listener surfacing match changes.
	EventCallbacks bool

	// OnMatched is invoked when the number of matched subscribers changes.
	OnMatched func(matched int)
}

type publisherInfo struct {
	encoding Encoding
	typeName string
	support  transport.TypeSupport
	ownsType bool
	listener *publisherListener
	writer   transport.Writer
	gid      transport.GUID
}

// Publisher is the public handle of a writer endpoint.
type Publisher struct {
	impl      string
	node      *Node
	info      *publisherInfo
	topicName string
	opts      PublisherOptions

	mu     sync.Mutex
	closed bool
}

// CreatePublisher creates a writer endpoint on the node's connection and
// attributes it to the node. Failure semantics mirror CreateSubscription:
// everything acquired by this call is released, only a type registration
// that reached the participant survives.
func (n *Node) CreatePublisher(desc *TypeDescriptor, topicName string, profile qos.Profile, opts PublisherOptions) (*Publisher, error) {
	if err := n.valid(); err != nil {
		return nil, err
	}
	if topicName == "" {
		return nil, fmt.Errorf("%w: topic name must not be empty", ErrInvalidArgument)
	}
	variant, err := resolveVariant(desc)
	if err != nil {
		return nil, err
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return createPublisher(n, variant, topicNaming, topicName, profile, opts)
}

func createPublisher(n *Node, variant *TypeVariant, wn wireNaming, graphName string, profile qos.Profile, opts PublisherOptions) (*Publisher, error) {
	conn := n.conn
	part := conn.part

	var undo releaseList
	defer undo.release()

	info := &publisherInfo{encoding: variant.Encoding}
	info.typeName = wn.wireTypeName(variant)

	support, created, err := ensureTypeRegistered(part, info.typeName, variant)
	if err != nil {
		return nil, err
	}
	info.support = support
	info.ownsType = created

	attrs := part.DefaultWriterAttributes()
	if !conn.opts.LeaveTransportDefaults && !profile.LeaveTransportDefaults {
		attrs.HistoryMemory = transport.MemoryPreallocatedWithRealloc
	}
	attrs.Topic = transport.TopicAttributes{
		Name:     wn.mangleTopic(graphName, profile.AvoidConventions),
		TypeName: info.typeName,
		Kind:     topicKind(opts.Keyed),
	}
	attrs.QoS, err = translateQoS(attrs.QoS, profile)
	if err != nil {
		return nil, fmt.Errorf("translate profile to writer attributes: %w", err)
	}

	var listener transport.WriterListener
	if opts.EventCallbacks {
		info.listener = newPublisherListener(opts)
		listener = info.listener
	}

	writer, err := part.CreateWriter(attrs, listener)
	if err != nil {
		return nil, fmt.Errorf("create writer on %s: %w", attrs.Topic.Name, err)
	}
	undo.add(func() { _ = writer.Close() })
	info.writer = writer
	info.gid = writer.GUID()

	// Mirror the endpoint into the graph cache. Transports with discovery
	// report it again under the same GUID, which overwrites in place.
	conn.cache.AddWriter(graph.EndpointInfo{
		GUID:        info.gid,
		Participant: part.GUID(),
		TopicName:   attrs.Topic.Name,
		TypeName:    attrs.Topic.TypeName,
		QoS:         attrs.QoS,
	})
	undo.add(func() { conn.cache.RemoveWriter(info.gid) })

	pub := &Publisher{
		impl:      implementationID,
		node:      n,
		info:      info,
		topicName: graphName,
		opts:      opts,
	}
	n.attachWriter(info.gid, pub.Close)
	undo.commit()
	return pub, nil
}

// TopicName returns the graph-level topic name the publisher was created
// with.
func (p *Publisher) TopicName() string {
	if p == nil {
		return ""
	}
	return p.topicName
}

// GID returns the endpoint's global identifier.
func (p *Publisher) GID() transport.GUID {
	if p == nil || p.info == nil {
		return transport.GUID{}
	}
	return p.info.gid
}

// Options returns the options the publisher was created with.
func (p *Publisher) Options() PublisherOptions {
	if p == nil {
		return PublisherOptions{}
	}
	return p.opts
}

// Publish encodes the message and delivers it to every matched subscriber.
func (p *Publisher) Publish(msg interface{}) error {
	if p == nil || p.info == nil {
		return fmt.Errorf("%w: publisher must not be nil", ErrInvalidArgument)
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return fmt.Errorf("publisher %s: %w", p.topicName, ErrClosed)
	}
	payload, err := p.info.support.Serialize(msg)
	if err != nil {
		return fmt.Errorf("encode sample on %s: %w", p.topicName, err)
	}
	if err := p.info.writer.Write(payload); err != nil {
		return fmt.Errorf("publish on %s: %w", p.topicName, err)
	}
	return nil
}

// MatchedSubscribers returns the number of readers currently matched with
// the publisher.
func (p *Publisher) MatchedSubscribers() int {
	if p == nil || p.info == nil {
		return 0
	}
	return p.info.writer.MatchedReaders()
}

// Close releases the endpoint. The type registration is never released
// here. Close is idempotent.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := p.info.writer.Close()
	p.node.conn.cache.RemoveWriter(p.info.gid)
	p.node.detachWriter(p.info.gid)
	return err
}
