package bus

import (
	"fmt"

	"github.com/timzifer/nodebus/naming"
	"github.com/timzifer/nodebus/qos"
	"github.com/timzifer/nodebus/transport"
)

// releaseList collects undo actions during a multi-step acquisition. Each
// step appends the release of the resource it just acquired; commit disarms
// the list once ownership has transferred into the final handle. Releases
// run in reverse acquisition order and each at most once.
type releaseList struct {
	funcs []func()
}

func (l *releaseList) add(fn func()) {
	l.funcs = append(l.funcs, fn)
}

func (l *releaseList) commit() {
	l.funcs = nil
}

func (l *releaseList) release() {
	for i := len(l.funcs) - 1; i >= 0; i-- {
		l.funcs[i]()
	}
	l.funcs = nil
}

// wireNaming bundles the topic mangling rule and type name suffix of one
// endpoint role. Plain topics use the bare type name; service legs append
// the request or response marker before wire type derivation.
type wireNaming struct {
	mangleTopic func(name string, avoidConventions bool) string
	typeSuffix  string
}

var (
	topicNaming          = wireNaming{mangleTopic: naming.MangleTopicName}
	serviceRequestNaming = wireNaming{mangleTopic: naming.MangleServiceRequestName, typeSuffix: "_Request"}
	serviceReplyNaming   = wireNaming{mangleTopic: naming.MangleServiceReplyName, typeSuffix: "_Response"}
)

// wireTypeName derives the canonical transport type name for a variant. The
// result is deterministic for a given type identity, which is what keys the
// participant's registration registry.
func (w wireNaming) wireTypeName(v *TypeVariant) string {
	return naming.WireTypeName(v.Package, v.Kind, v.Name+w.typeSuffix)
}

// ensureTypeRegistered resolves the type registration for typeName on the
// participant. An existing registration is borrowed; otherwise a new support
// is built from the variant and registered, transferring ownership to the
// participant. The returned flag reports whether this call created the
// registration.
//
// The find-then-register sequence is not atomic; see Connection for the
// serialisation requirement on endpoint creation.
func ensureTypeRegistered(part transport.Participant, typeName string, variant *TypeVariant) (transport.TypeSupport, bool, error) {
	if existing, ok := part.FindType(typeName); ok {
		return existing, false, nil
	}
	support := &typeSupport{name: typeName, variant: *variant}
	if err := part.RegisterType(support); err != nil {
		return nil, false, fmt.Errorf("register type %s: %w", typeName, err)
	}
	return support, true, nil
}

// translateQoS maps a profile onto the transport attribute template.
// System-default policies keep the template value so connection-wide
// defaults take precedence.
func translateQoS(base transport.EndpointQoS, p qos.Profile) (transport.EndpointQoS, error) {
	out := base
	switch p.History {
	case qos.HistorySystemDefault:
	case qos.HistoryKeepLast:
		out.History = transport.HistoryKeepLast
		out.Depth = int32(p.Depth)
	case qos.HistoryKeepAll:
		out.History = transport.HistoryKeepAll
		out.Depth = 0
	default:
		return transport.EndpointQoS{}, fmt.Errorf("unsupported history policy %q", p.History)
	}
	switch p.Reliability {
	case qos.ReliabilitySystemDefault:
	case qos.ReliabilityReliable:
		out.Reliability = transport.ReliabilityReliable
	case qos.ReliabilityBestEffort:
		out.Reliability = transport.ReliabilityBestEffort
	default:
		return transport.EndpointQoS{}, fmt.Errorf("unsupported reliability policy %q", p.Reliability)
	}
	switch p.Durability {
	case qos.DurabilitySystemDefault:
	case qos.DurabilityVolatile:
		out.Durability = transport.DurabilityVolatile
	case qos.DurabilityTransientLocal:
		out.Durability = transport.DurabilityTransientLocal
	default:
		return transport.EndpointQoS{}, fmt.Errorf("unsupported durability policy %q", p.Durability)
	}
	switch p.Liveliness {
	case qos.LivelinessSystemDefault:
	case qos.LivelinessAutomatic:
		out.Liveliness = transport.LivelinessAutomatic
	case qos.LivelinessManualByTopic:
		out.Liveliness = transport.LivelinessManualByTopic
	default:
		return transport.EndpointQoS{}, fmt.Errorf("unsupported liveliness policy %q", p.Liveliness)
	}
	if p.Deadline > 0 {
		out.Deadline = p.Deadline
	}
	if p.Lifespan > 0 {
		out.Lifespan = p.Lifespan
	}
	if p.LeaseDuration > 0 {
		out.LeaseDuration = p.LeaseDuration
	}
	return out, nil
}

func topicKind(keyed bool) transport.TopicKind {
	if keyed {
		return transport.TopicKindWithKey
	}
	return transport.TopicKindNoKey
}

// queueDepth resolves the listener queue bound from a profile. Keep-all
// history means an unbounded queue, reported as zero.
func queueDepth(p qos.Profile) int {
	if p.History == qos.HistoryKeepAll {
		return 0
	}
	if p.Depth > 0 {
		return p.Depth
	}
	return 1
}
