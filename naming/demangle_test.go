package naming

import "testing"

func TestDemangleTopic(t *testing.T) {
	if got := DemangleTopic("rt/chatter"); got != "/chatter" {
		t.Fatalf("expected /chatter, got %q", got)
	}
	if got := DemangleTopic("plain_topic"); got != "" {
		t.Fatalf("expected plain topic to be invisible, got %q", got)
	}
	if got := DemangleTopic("rq/add_two_intsRequest"); got != "" {
		t.Fatalf("service leg must not demangle as topic, got %q", got)
	}
	if got := DemangleTopic("rtx/other"); got != "" {
		t.Fatalf("prefix must match a full path segment, got %q", got)
	}
}

func TestDemangleIfTopic(t *testing.T) {
	if got := DemangleIfTopic("rt/chatter"); got != "/chatter" {
		t.Fatalf("expected /chatter, got %q", got)
	}
	if got := DemangleIfTopic("plain_topic"); got != "plain_topic" {
		t.Fatalf("plain topics pass through, got %q", got)
	}
}

func TestDemangleIfWireType(t *testing.T) {
	got := DemangleIfWireType("sensor_data::msg::dds_::Temperature_")
	if got != "sensor_data/msg/Temperature" {
		t.Fatalf("unexpected demangled type %q", got)
	}
	if got := DemangleIfWireType("ForeignType"); got != "ForeignType" {
		t.Fatalf("foreign types pass through, got %q", got)
	}
	if got := DemangleIfWireType("Trailing_"); got != "Trailing_" {
		t.Fatalf("missing wire namespace passes through, got %q", got)
	}
}

func TestDemangleServiceLegs(t *testing.T) {
	if got := DemangleServiceRequest("rq/add_two_intsRequest"); got != "/add_two_ints" {
		t.Fatalf("unexpected service name %q", got)
	}
	if got := DemangleServiceReply("rr/add_two_intsReply"); got != "/add_two_ints" {
		t.Fatalf("unexpected service name %q", got)
	}
	if got := DemangleServiceRequest("rr/add_two_intsReply"); got != "" {
		t.Fatalf("reply leg must not demangle as request, got %q", got)
	}
	if got := DemangleServiceRequest("rq/odd_suffix"); got != "" {
		t.Fatalf("missing suffix must not demangle, got %q", got)
	}
	if got := DemangleServiceReply("rt/chatter"); got != "" {
		t.Fatalf("topic must not demangle as service leg, got %q", got)
	}
}

func TestDemangleServiceTypeOnly(t *testing.T) {
	if got := DemangleServiceTypeOnly("example::srv::dds_::AddTwoInts_Request_"); got != "example/srv/AddTwoInts" {
		t.Fatalf("unexpected service type %q", got)
	}
	if got := DemangleServiceTypeOnly("example::srv::dds_::AddTwoInts_Response_"); got != "example/srv/AddTwoInts" {
		t.Fatalf("unexpected service type %q", got)
	}
	if got := DemangleServiceTypeOnly("example::msg::dds_::Temperature_"); got != "" {
		t.Fatalf("message types are not service types, got %q", got)
	}
	if got := DemangleServiceTypeOnly("NoNamespace_Request_"); got != "" {
		t.Fatalf("missing wire namespace must not demangle, got %q", got)
	}
}
