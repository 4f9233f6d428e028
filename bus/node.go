package bus

import (
	"errors"
	"fmt"
	"sync"

	"github.com/timzifer/nodebus/graph"
	"github.com/timzifer/nodebus/transport"
)

// Node groups endpoints under one graph identity. Endpoints created through
// a node are attributed to it in the graph cache, which is what the by-node
// queries resolve against.
type Node struct {
	impl      string
	conn      *Connection
	name      string
	namespace string

	mu      sync.Mutex
	readers map[transport.GUID]struct{}
	writers map[transport.GUID]struct{}
	closers []func() error
	closed  bool
}

// Name returns the node name.
func (n *Node) Name() string {
	if n == nil {
		return ""
	}
	return n.name
}

// Namespace returns the node namespace.
func (n *Node) Namespace() string {
	if n == nil {
		return ""
	}
	return n.namespace
}

// Connection returns the connection the node lives on.
func (n *Node) Connection() *Connection {
	if n == nil {
		return nil
	}
	return n.conn
}

func (n *Node) valid() error {
	if n == nil {
		return fmt.Errorf("%w: node must not be nil", ErrInvalidArgument)
	}
	if n.impl != implementationID {
		return fmt.Errorf("%w: node handle", ErrIdentityMismatch)
	}
	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return fmt.Errorf("node %s: %w", n.name, ErrClosed)
	}
	return n.conn.valid()
}

// entities snapshots the node's graph attribution. Called by the connection
// while rebuilding the participant's node list.
func (n *Node) entities() graph.NodeEntities {
	n.mu.Lock()
	defer n.mu.Unlock()
	ent := graph.NodeEntities{Name: n.name, Namespace: n.namespace}
	for guid := range n.readers {
		ent.Readers = append(ent.Readers, guid)
	}
	for guid := range n.writers {
		ent.Writers = append(ent.Writers, guid)
	}
	return ent
}

// attachReader attributes a reader endpoint to the node. The endpoint's
// close function is tracked so Node.Close can release leftovers.
func (n *Node) attachReader(guid transport.GUID, closer func() error) {
	n.mu.Lock()
	if n.readers == nil {
		n.readers = make(map[transport.GUID]struct{})
	}
	n.readers[guid] = struct{}{}
	n.closers = append(n.closers, closer)
	n.mu.Unlock()
	n.conn.publishNodes()
}

func (n *Node) attachWriter(guid transport.GUID, closer func() error) {
	n.mu.Lock()
	if n.writers == nil {
		n.writers = make(map[transport.GUID]struct{})
	}
	n.writers[guid] = struct{}{}
	n.closers = append(n.closers, closer)
	n.mu.Unlock()
	n.conn.publishNodes()
}

func (n *Node) detachReader(guid transport.GUID) {
	n.mu.Lock()
	delete(n.readers, guid)
	n.mu.Unlock()
	n.conn.publishNodes()
}

func (n *Node) detachWriter(guid transport.GUID) {
	n.mu.Lock()
	delete(n.writers, guid)
	n.mu.Unlock()
	n.conn.publishNodes()
}

// Close releases the node's remaining endpoints and removes its graph
// attribution. Close is idempotent.
func (n *Node) Close() error {
	if n == nil {
		return nil
	}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	closers := n.closers
	n.closers = nil
	n.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	n.conn.dropNode(n)
	return errors.Join(errs...)
}
