package bus

import (
	"fmt"
	"sync"

	"github.com/timzifer/nodebus/graph"
	"github.com/timzifer/nodebus/qos"
	"github.com/timzifer/nodebus/transport"
)

// SubscriptionOptions configure a subscription endpoint.
type SubscriptionOptions struct {
	// Keyed selects a keyed topic carrying per-instance streams.
	Keyed bool

	// EventCallbacks attaches a listener to the endpoint. Samples are then
	// delivered into a bounded queue sized by the history depth, with drop
	// accounting on overflow. Without it no listener exists and delivery
	// events are lost; samples are only available by polling the transport
	// reader's own history.
	EventCallbacks bool

	// IgnoreLocalPublications drops samples written by endpoints of the
	// same participant. Only effective together with EventCallbacks.
	IgnoreLocalPublications bool

	// OnMessage is invoked per delivered sample with the decoded message.
	OnMessage func(msg interface{})
	// OnMatched is invoked when the number of matched publishers changes.
	OnMatched func(matched int)
}

// subscriptionInfo is the endpoint's private record. The public handle owns
// it once creation succeeds; until then the creation routine does and
// releases every sub-resource it acquired.
type subscriptionInfo struct {
	encoding Encoding
	typeName string
	support  transport.TypeSupport
	ownsType bool
	listener *subscriptionListener
	reader   transport.Reader
	gid      transport.GUID
}

// Subscription is the public handle of a reader endpoint.
type Subscription struct {
	impl      string
	node      *Node
	info      *subscriptionInfo
	topicName string
	opts      SubscriptionOptions

	mu     sync.Mutex
	closed bool
}

// CreateSubscription creates a reader endpoint on the node's connection and
// attributes it to the node. On any failure every resource acquired by this
// call is released and no handle is returned; a type registration that
// already reached the participant is retained on purpose, it is
// participant-lifetime state shared with future endpoints of the same type.
func (n *Node) CreateSubscription(desc *TypeDescriptor, topicName string, profile qos.Profile, opts SubscriptionOptions) (*Subscription, error) {
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
	return createSubscription(n, variant, topicNaming, topicName, profile, opts)
}

func createSubscription(n *Node, variant *TypeVariant, wn wireNaming, graphName string, profile qos.Profile, opts SubscriptionOptions) (*Subscription, error) {
	conn := n.conn
	part := conn.part

	var undo releaseList
	defer undo.release()

	info := &subscriptionInfo{encoding: variant.Encoding}
	info.typeName = wn.wireTypeName(variant)

	support, created, err := ensureTypeRegistered(part, info.typeName, variant)
	if err != nil {
		return nil, err
	}
	info.support = support
	info.ownsType = created

	attrs := part.DefaultReaderAttributes()
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
		return nil, fmt.Errorf("translate profile to reader attributes: %w", err)
	}

	var listener transport.ReaderListener
	if opts.EventCallbacks {
		info.listener = newSubscriptionListener(support, queueDepth(profile), part.GUID(), opts)
		listener = info.listener
	}

	reader, err := part.CreateReader(attrs, listener)
	if err != nil {
		return nil, fmt.Errorf("create reader on %s: %w", attrs.Topic.Name, err)
	}
	undo.add(func() { _ = reader.Close() })
	info.reader = reader
	info.gid = reader.GUID()

	// Mirror the endpoint into the graph cache. Transports with discovery
	// report it again under the same GUID, which overwrites in place.
	conn.cache.AddReader(graph.EndpointInfo{
		GUID:        info.gid,
		Participant: part.GUID(),
		TopicName:   attrs.Topic.Name,
		TypeName:    attrs.Topic.TypeName,
		QoS:         attrs.QoS,
	})
	undo.add(func() { conn.cache.RemoveReader(info.gid) })

	sub := &Subscription{
		impl:      implementationID,
		node:      n,
		info:      info,
		topicName: graphName,
		opts:      opts,
	}
	n.attachReader(info.gid, sub.Close)
	undo.commit()
	return sub, nil
}

// TopicName returns the graph-level topic name the subscription was created
// with.
func (s *Subscription) TopicName() string {
	if s == nil {
		return ""
	}
	return s.topicName
}

// GID returns the endpoint's global identifier.
func (s *Subscription) GID() transport.GUID {
	if s == nil || s.info == nil {
		return transport.GUID{}
	}
	return s.info.gid
}

// Options returns the options the subscription was created with.
func (s *Subscription) Options() SubscriptionOptions {
	if s == nil {
		return SubscriptionOptions{}
	}
	return s.opts
}

// Take removes and decodes the oldest available sample. With event
// callbacks enabled it drains the listener queue, otherwise the transport
// reader's history.
func (s *Subscription) Take() (interface{}, bool, error) {
	if s == nil || s.info == nil {
		return nil, false, fmt.Errorf("%w: subscription must not be nil", ErrInvalidArgument)
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, false, fmt.Errorf("subscription %s: %w", s.topicName, ErrClosed)
	}
	var (
		sample transport.Sample
		ok     bool
	)
	if s.info.listener != nil {
		sample, ok = s.info.listener.take()
	} else {
		sample, ok = s.info.reader.Take()
	}
	if !ok {
		return nil, false, nil
	}
	msg, err := s.info.support.Deserialize(sample.Payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode sample on %s: %w", s.topicName, err)
	}
	return msg, true, nil
}

// MatchedPublishers returns the number of writers currently matched with
// the subscription.
func (s *Subscription) MatchedPublishers() int {
	if s == nil || s.info == nil {
		return 0
	}
	return s.info.reader.MatchedWriters()
}

// Dropped returns how many samples the listener queue discarded. Zero
// without event callbacks.
func (s *Subscription) Dropped() uint64 {
	if s == nil || s.info == nil || s.info.listener == nil {
		return 0
	}
	return s.info.listener.droppedCount()
}

// Close releases the endpoint. The type registration is never released
// here, it belongs to the participant. Close is idempotent.
func (s *Subscription) Close() error {
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

	err := s.info.reader.Close()
	s.node.conn.cache.RemoveReader(s.info.gid)
	s.node.detachReader(s.info.gid)
	return err
}
