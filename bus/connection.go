package bus

import (
	"errors"
	"fmt"
	"sync"

	"github.com/timzifer/nodebus/graph"
	"github.com/timzifer/nodebus/transport"
)

// graphFacade is the query surface the dispatcher needs from the graph
// cache. It exists as a seam so tests can observe the exact lookup and
// demangling combination a query selects.
type graphFacade interface {
	ReaderNamesAndTypesByNode(nodeName, namespace string, demangleTopic, demangleType demangleFunc, dst *graph.NamesAndTypes) error
	WriterNamesAndTypesByNode(nodeName, namespace string, demangleTopic, demangleType demangleFunc, dst *graph.NamesAndTypes) error
}

// ConnectionOptions configure a connection.
type ConnectionOptions struct {
	// LeaveTransportDefaults skips the adapter's history memory override on
	// endpoint attributes so the transport's own allocation policy applies
	// connection-wide.
	LeaveTransportDefaults bool
}

// Connection is the adapter's handle onto one transport participant. It
// borrows the participant from the caller for its lifetime and owns the
// graph cache mirroring the participant's domain.
//
// Endpoint creation on one connection must be serialised by the caller: the
// find-then-register step of type registration is not atomic, and two
// concurrent creations for the same unregistered type race. The transport
// surfaces the loser with transport.ErrTypeAlreadyRegistered rather than
// masking the misuse.
type Connection struct {
	impl   string
	part   transport.Participant
	cache  *graph.Cache
	facade graphFacade
	opts   ConnectionOptions

	cancelWatch func()

	mu     sync.Mutex
	nodes  map[*Node]struct{}
	closed bool
}

// Connect wraps a transport participant into a connection. When the
// participant surfaces discovery, the connection mirrors domain entities
// into its graph cache; otherwise only the local participant is recorded.
func Connect(part transport.Participant, opts ConnectionOptions) (*Connection, error) {
	if part == nil {
		return nil, fmt.Errorf("%w: participant must not be nil", ErrInvalidArgument)
	}
	cache := graph.NewCache()
	conn := &Connection{
		impl:   implementationID,
		part:   part,
		cache:  cache,
		facade: cache,
		opts:   opts,
		nodes:  make(map[*Node]struct{}),
	}
	if source, ok := part.(transport.DiscoverySource); ok {
		cancel, err := source.WatchDiscovery(conn.applyDiscovery)
		if err != nil {
			return nil, fmt.Errorf("watch discovery: %w", err)
		}
		conn.cancelWatch = cancel
	} else {
		cache.AddParticipant(part.GUID())
	}
	return conn, nil
}

func (c *Connection) applyDiscovery(ev transport.DiscoveryEvent) {
	switch ev.Kind {
	case transport.DiscoveryParticipant:
		if ev.Removed {
			c.cache.RemoveParticipant(ev.Participant)
		} else {
			c.cache.AddParticipant(ev.Participant)
		}
	case transport.DiscoveryReader:
		if ev.Removed {
			c.cache.RemoveReader(ev.Entity)
		} else {
			c.cache.AddReader(graph.EndpointInfo{
				GUID:        ev.Entity,
				Participant: ev.Participant,
				TopicName:   ev.Topic.Name,
				TypeName:    ev.Topic.TypeName,
				QoS:         ev.QoS,
			})
		}
	case transport.DiscoveryWriter:
		if ev.Removed {
			c.cache.RemoveWriter(ev.Entity)
		} else {
			c.cache.AddWriter(graph.EndpointInfo{
				GUID:        ev.Entity,
				Participant: ev.Participant,
				TopicName:   ev.Topic.Name,
				TypeName:    ev.Topic.TypeName,
				QoS:         ev.QoS,
			})
		}
	}
}

// Graph exposes the connection's graph cache.
func (c *Connection) Graph() *graph.Cache {
	if c == nil {
		return nil
	}
	return c.cache
}

// GUID returns the wrapped participant's identity.
func (c *Connection) GUID() transport.GUID {
	if c == nil || c.part == nil {
		return transport.GUID{}
	}
	return c.part.GUID()
}

func (c *Connection) valid() error {
	if c == nil {
		return fmt.Errorf("%w: connection must not be nil", ErrInvalidArgument)
	}
	if c.impl != implementationID {
		return fmt.Errorf("%w: connection handle", ErrIdentityMismatch)
	}
	if c.part == nil {
		return fmt.Errorf("%w: connection has no participant", ErrInvalidArgument)
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("connection: %w", ErrClosed)
	}
	return nil
}

// CreateNode registers a node on the connection. The namespace must be
// fully qualified with a leading slash.
func (c *Connection) CreateNode(name, namespace string) (*Node, error) {
	if err := c.valid(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("%w: node name must not be empty", ErrInvalidArgument)
	}
	if namespace == "" || namespace[0] != '/' {
		return nil, fmt.Errorf("%w: node namespace must start with a slash", ErrInvalidArgument)
	}
	node := &Node{
		impl:      implementationID,
		conn:      c,
		name:      name,
		namespace: namespace,
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("connection: %w", ErrClosed)
	}
	for existing := range c.nodes {
		if existing.name == name && existing.namespace == namespace {
			c.mu.Unlock()
			return nil, fmt.Errorf("node %s%s already exists on connection", namespace, name)
		}
	}
	c.nodes[node] = struct{}{}
	c.mu.Unlock()
	c.publishNodes()
	return node, nil
}

// publishNodes replays the complete node attribution of this participant
// into the graph cache. The cache replaces the previous state wholesale.
func (c *Connection) publishNodes() {
	c.mu.Lock()
	entities := make([]graph.NodeEntities, 0, len(c.nodes))
	for node := range c.nodes {
		entities = append(entities, node.entities())
	}
	c.mu.Unlock()
	c.cache.UpdateParticipantNodes(c.part.GUID(), entities)
}

func (c *Connection) dropNode(node *Node) {
	c.mu.Lock()
	delete(c.nodes, node)
	c.mu.Unlock()
	c.publishNodes()
}

// Close detaches the connection from discovery and closes its nodes. The
// participant itself stays with its owner and is not closed here.
func (c *Connection) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	nodes := make([]*Node, 0, len(c.nodes))
	for node := range c.nodes {
		nodes = append(nodes, node)
	}
	c.mu.Unlock()

	var errs []error
	for _, node := range nodes {
		if err := node.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.cancelWatch != nil {
		c.cancelWatch()
	}
	c.cache.RemoveParticipant(c.part.GUID())
	return errors.Join(errs...)
}
