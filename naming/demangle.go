package naming

import "strings"

// DemangleFunc maps a raw transport name onto its graph-visible form. An
// empty result means the name is not visible under the policy and has to be
// skipped by the caller.
type DemangleFunc func(string) string

// Identity returns the name unchanged. It is the policy applied when a
// caller asks for raw transport names.
func Identity(name string) string {
	return name
}

// DemangleTopic maps a transport topic name onto the graph topic it carries.
// Names without the topic prefix are not graph topics and demangle to "".
func DemangleTopic(name string) string {
	return stripPrefix(name, TopicPrefix)
}

// DemangleIfTopic strips the topic prefix when present and otherwise returns
// the name unchanged. It is used for listings that mix graph topics with
// plain transport topics.
func DemangleIfTopic(name string) string {
	for _, prefix := range ReservedPrefixes() {
		if stripped := stripPrefix(name, prefix); stripped != "" {
			return stripped
		}
	}
	return name
}

// DemangleIfWireType maps a transport type name onto its graph form when it
// follows the wire layout, for example "sensor_data::msg::dds_::Temperature_"
// onto "sensor_data/msg/Temperature". Foreign type names pass through
// unchanged.
func DemangleIfWireType(typeName string) string {
	if typeName == "" || typeName[len(typeName)-1] != '_' {
		return typeName
	}
	pos := strings.Index(typeName, wireNamespaceToken)
	if pos < 0 {
		return typeName
	}
	namespace := strings.ReplaceAll(typeName[:pos], "::", "/")
	name := typeName[pos+len(wireNamespaceToken) : len(typeName)-1]
	return namespace + name
}

// DemangleServiceRequest maps the transport topic of a service request leg
// onto the graph service name, "rq/add_two_intsRequest" onto
// "/add_two_ints". Non-matching names demangle to "".
func DemangleServiceRequest(name string) string {
	return demangleServiceLeg(name, ServiceRequestPrefix, serviceRequestSuffix)
}

// DemangleServiceReply maps the transport topic of a service reply leg onto
// the graph service name. Non-matching names demangle to "".
func DemangleServiceReply(name string) string {
	return demangleServiceLeg(name, ServiceReplyPrefix, serviceReplySuffix)
}

func demangleServiceLeg(name, prefix, suffix string) string {
	service := stripPrefix(name, prefix)
	if service == "" {
		return ""
	}
	if !strings.HasSuffix(service, suffix) {
		return ""
	}
	return service[:len(service)-len(suffix)]
}

// DemangleServiceTypeOnly maps a service leg type name onto the graph
// service type, "example::srv::dds_::AddTwoInts_Request_" onto
// "example/srv/AddTwoInts". Names without the wire namespace or without a
// request or response suffix demangle to "".
func DemangleServiceTypeOnly(typeName string) string {
	pos := strings.Index(typeName, wireNamespaceToken)
	if pos < 0 {
		return ""
	}
	start := pos + len(wireNamespaceToken)
	var end int
	switch {
	case strings.HasSuffix(typeName, "_Request_"):
		end = len(typeName) - len("_Request_")
	case strings.HasSuffix(typeName, "_Response_"):
		end = len(typeName) - len("_Response_")
	default:
		return ""
	}
	if end <= start {
		return ""
	}
	namespace := strings.ReplaceAll(typeName[:pos], "::", "/")
	return namespace + typeName[start:end]
}
