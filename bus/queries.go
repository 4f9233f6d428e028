package bus

import (
	"fmt"

	"github.com/timzifer/nodebus/graph"
	"github.com/timzifer/nodebus/naming"
)

// demangleFunc aliases the naming package's policy function type so the
// dispatch table and the graph facade share one signature.
type demangleFunc = naming.DemangleFunc

// QueryKind selects one of the by-node graph queries.
type QueryKind int

const (
	// QueryTopicsSubscribed lists the topics a node subscribes to.
	QueryTopicsSubscribed QueryKind = iota
	// QueryTopicsPublished lists the topics a node publishes.
	QueryTopicsPublished
	// QueryServicesOffered lists the services a node serves.
	QueryServicesOffered
	// QueryServicesUsed lists the services a node calls.
	QueryServicesUsed
)

func (k QueryKind) String() string {
	switch k {
	case QueryTopicsSubscribed:
		return "topics_subscribed"
	case QueryTopicsPublished:
		return "topics_published"
	case QueryServicesOffered:
		return "services_offered"
	case QueryServicesUsed:
		return "services_used"
	default:
		return fmt.Sprintf("query_kind(%d)", int(k))
	}
}

type lookupDirection int

const (
	lookupReaders lookupDirection = iota
	lookupWriters
)

// queryPlan fixes the lookup direction and demangling pair of one query
// kind. rawAllowed marks the kinds where callers may request undemangled
// transport names; the service kinds never expose that choice.
type queryPlan struct {
	direction     lookupDirection
	demangleTopic demangleFunc
	demangleType  demangleFunc
	rawAllowed    bool
}

// queryPlans is the complete dispatch matrix. Topic queries resolve plain
// graph topics in both directions; both service queries resolve readers,
// the server's request leg and the client's reply leg respectively.
var queryPlans = map[QueryKind]queryPlan{
	QueryTopicsSubscribed: {
		direction:     lookupReaders,
		demangleTopic: naming.DemangleTopic,
		demangleType:  naming.DemangleIfWireType,
		rawAllowed:    true,
	},
	QueryTopicsPublished: {
		direction:     lookupWriters,
		demangleTopic: naming.DemangleTopic,
		demangleType:  naming.DemangleIfWireType,
		rawAllowed:    true,
	},
	QueryServicesOffered: {
		direction:     lookupReaders,
		demangleTopic: naming.DemangleServiceRequest,
		demangleType:  naming.DemangleServiceTypeOnly,
	},
	QueryServicesUsed: {
		direction:     lookupReaders,
		demangleTopic: naming.DemangleServiceReply,
		demangleType:  naming.DemangleServiceTypeOnly,
	},
}

// NamesAndTypesByNode answers what the named node subscribes, publishes,
// offers or uses, filling dst with the demangled name to type-set mapping.
// The node handle supplies the graph to query; nodeName and namespace
// identify the queried node, which may live on any participant in the
// domain. noDemangle switches the two topic kinds to raw transport names
// and is ignored for service kinds.
//
// The destination must be zero; an already populated destination is
// rejected before any cache access so results are populated exactly once.
func NamesAndTypesByNode(node *Node, kind QueryKind, nodeName, namespace string, noDemangle bool, dst *graph.NamesAndTypes) error {
	if dst == nil {
		return fmt.Errorf("%w: destination must not be nil", ErrInvalidArgument)
	}
	if node == nil {
		return fmt.Errorf("%w: node must not be nil", ErrInvalidArgument)
	}
	if node.impl != implementationID {
		return fmt.Errorf("%w: node handle", ErrIdentityMismatch)
	}
	if nodeName == "" {
		return fmt.Errorf("%w: node name must not be empty", ErrInvalidArgument)
	}
	if namespace == "" {
		return fmt.Errorf("%w: node namespace must not be empty", ErrInvalidArgument)
	}
	if !dst.Zero() {
		return fmt.Errorf("%w: destination already populated", ErrInvalidArgument)
	}
	plan, ok := queryPlans[kind]
	if !ok {
		return fmt.Errorf("%w: unknown query kind %d", ErrInvalidArgument, int(kind))
	}

	demangleTopic := plan.demangleTopic
	demangleType := plan.demangleType
	if noDemangle && plan.rawAllowed {
		demangleTopic = naming.Identity
		demangleType = naming.Identity
	}

	facade := node.conn.facade
	if plan.direction == lookupWriters {
		return facade.WriterNamesAndTypesByNode(nodeName, namespace, demangleTopic, demangleType, dst)
	}
	return facade.ReaderNamesAndTypesByNode(nodeName, namespace, demangleTopic, demangleType, dst)
}

// SubscribedTopicsByNode lists the topics the named node subscribes to.
func SubscribedTopicsByNode(node *Node, nodeName, namespace string, noDemangle bool, dst *graph.NamesAndTypes) error {
	return NamesAndTypesByNode(node, QueryTopicsSubscribed, nodeName, namespace, noDemangle, dst)
}

// PublishedTopicsByNode lists the topics the named node publishes.
func PublishedTopicsByNode(node *Node, nodeName, namespace string, noDemangle bool, dst *graph.NamesAndTypes) error {
	return NamesAndTypesByNode(node, QueryTopicsPublished, nodeName, namespace, noDemangle, dst)
}

// ServicesOfferedByNode lists the services the named node serves. Service
// names are never returned raw.
func ServicesOfferedByNode(node *Node, nodeName, namespace string, dst *graph.NamesAndTypes) error {
	return NamesAndTypesByNode(node, QueryServicesOffered, nodeName, namespace, false, dst)
}

// ServicesUsedByNode lists the services the named node calls. Service
// names are never returned raw.
func ServicesUsedByNode(node *Node, nodeName, namespace string, dst *graph.NamesAndTypes) error {
	return NamesAndTypesByNode(node, QueryServicesUsed, nodeName, namespace, false, dst)
}
