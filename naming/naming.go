// Package naming implements the wire naming conventions of the node graph.
// Graph-visible topic and service names are mapped onto raw transport topic
// names by prefixing, and transport type names follow the
// pkg::kind::dds_::Name_ layout. Demangling reverses the mapping for graph
// queries.
package naming

import "strings"

const (
	// TopicPrefix marks transport topics that carry graph topics.
	TopicPrefix = "rt"
	// ServiceRequestPrefix marks transport topics that carry the request leg of a service.
	ServiceRequestPrefix = "rq"
	// ServiceReplyPrefix marks transport topics that carry the reply leg of a service.
	ServiceReplyPrefix = "rr"

	serviceRequestSuffix = "Request"
	serviceReplySuffix   = "Reply"

	wireNamespaceToken = "dds_::"
)

// ReservedPrefixes returns the transport name prefixes claimed by the graph
// conventions. Topics starting with any of these are never treated as plain
// transport topics.
func ReservedPrefixes() []string {
	return []string{TopicPrefix, ServiceRequestPrefix, ServiceReplyPrefix}
}

// MangleTopicName builds the transport topic name for a graph topic. The
// graph name must be fully qualified (leading slash). When avoidConventions
// is set the name is used verbatim and the topic stays invisible to graph
// queries.
func MangleTopicName(name string, avoidConventions bool) string {
	if avoidConventions {
		return name
	}
	return TopicPrefix + name
}

// MangleServiceRequestName builds the transport topic name for the request
// leg of a graph service.
func MangleServiceRequestName(name string, avoidConventions bool) string {
	if avoidConventions {
		return name + serviceRequestSuffix
	}
	return ServiceRequestPrefix + name + serviceRequestSuffix
}

// MangleServiceReplyName builds the transport topic name for the reply leg
// of a graph service.
func MangleServiceReplyName(name string, avoidConventions bool) string {
	if avoidConventions {
		return name + serviceReplySuffix
	}
	return ServiceReplyPrefix + name + serviceReplySuffix
}

// WireTypeName builds the transport type name for a message or service type.
// Package and kind form the type namespace, for example
// WireTypeName("sensor_data", "msg", "Temperature") yields
// "sensor_data::msg::dds_::Temperature_".
func WireTypeName(pkg, kind, name string) string {
	return pkg + "::" + kind + "::" + wireNamespaceToken + name + "_"
}

// stripPrefix resolves name against a reserved prefix. It returns the
// remainder including its leading slash, or the empty string when the prefix
// does not match.
func stripPrefix(name, prefix string) string {
	if strings.HasPrefix(name, prefix+"/") {
		return name[len(prefix):]
	}
	return ""
}
