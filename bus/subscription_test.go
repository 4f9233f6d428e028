package bus

import (
	"errors"
	"testing"

	"github.com/timzifer/nodebus/graph"
	"github.com/timzifer/nodebus/naming"
	"github.com/timzifer/nodebus/qos"
	"github.com/timzifer/nodebus/transport"
)

func TestCreateSubscriptionAcquiresEndpoint(t *testing.T) {
	part := newFakeParticipant()
	conn, node, err := mustConnect(part, ConnectionOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	sub, err := node.CreateSubscription(temperatureType(), "/chatter", qos.DefaultProfile(), SubscriptionOptions{})
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	if sub.TopicName() != "/chatter" {
		t.Fatalf("topic name = %q, want /chatter", sub.TopicName())
	}
	if sub.GID() == (transport.GUID{}) {
		t.Fatal("subscription GID is zero")
	}

	if len(part.readers) != 1 {
		t.Fatalf("readers created = %d, want 1", len(part.readers))
	}
	attrs := part.readers[0].attrs
	if attrs.Topic.Name != "rt/chatter" {
		t.Errorf("transport topic = %q, want rt/chatter", attrs.Topic.Name)
	}
	if want := "sensor_data::msg::dds_::Temperature_"; attrs.Topic.TypeName != want {
		t.Errorf("transport type = %q, want %q", attrs.Topic.TypeName, want)
	}
	if attrs.HistoryMemory != transport.MemoryPreallocatedWithRealloc {
		t.Errorf("history memory = %v, want realloc override", attrs.HistoryMemory)
	}
	if len(part.registered) != 1 {
		t.Fatalf("types registered = %d, want 1", len(part.registered))
	}
	if !sub.info.ownsType {
		t.Error("first endpoint of a type should own the registration")
	}

	var dst graph.NamesAndTypes
	if err := conn.Graph().ReaderNamesAndTypesByNode("tester", "/test", naming.DemangleTopic, naming.DemangleIfWireType, &dst); err != nil {
		t.Fatalf("query graph: %v", err)
	}
	if got := dst.Types("/chatter"); len(got) != 1 || got[0] != "sensor_data/msg/Temperature" {
		t.Fatalf("graph attribution = %v, want sensor_data/msg/Temperature under /chatter", got)
	}
}

func TestCreateSubscriptionRejectsEmptyTopic(t *testing.T) {
	part := newFakeParticipant()
	conn, node, err := mustConnect(part, ConnectionOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()
	before := part.callCount()

	sub, err := node.CreateSubscription(temperatureType(), "", qos.DefaultProfile(), SubscriptionOptions{})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
	if sub != nil {
		t.Fatal("got a handle despite invalid arguments")
	}
	if part.callCount() != before {
		t.Fatalf("participant was touched on precondition failure: %v", part.calls[before:])
	}
}

func TestCreateSubscriptionRejectsForeignTypeSupport(t *testing.T) {
	part := newFakeParticipant()
	conn, node, err := mustConnect(part, ConnectionOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	desc := &TypeDescriptor{Variants: []TypeVariant{{
		Encoding:  Encoding("other_adapter/native"),
		Package:   "sensor_data",
		Kind:      "msg",
		Name:      "Temperature",
		Marshal:   jsonMarshal,
		Unmarshal: jsonUnmarshal,
	}}}
	if _, err := node.CreateSubscription(desc, "/chatter", qos.DefaultProfile(), SubscriptionOptions{}); !errors.Is(err, ErrTypeSupportMismatch) {
		t.Fatalf("err = %v, want ErrTypeSupportMismatch", err)
	}
	if len(part.registered) != 0 {
		t.Fatal("foreign descriptor reached the type registry")
	}
}

func TestCreateSubscriptionPrefersNativeVariant(t *testing.T) {
	part := newFakeParticipant()
	conn, node, err := mustConnect(part, ConnectionOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	desc := &TypeDescriptor{Variants: []TypeVariant{
		{Encoding: EncodingLegacy, Package: "sensor_data", Kind: "msg", Name: "Temperature", Marshal: jsonMarshal, Unmarshal: jsonUnmarshal},
		{Encoding: EncodingNative, Package: "sensor_data", Kind: "msg", Name: "Temperature", Marshal: jsonMarshal, Unmarshal: jsonUnmarshal},
	}}
	sub, err := node.CreateSubscription(desc, "/chatter", qos.DefaultProfile(), SubscriptionOptions{})
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	if sub.info.encoding != EncodingNative {
		t.Fatalf("resolved encoding = %q, want native even when legacy is listed first", sub.info.encoding)
	}
}

func TestCreateSubscriptionBorrowsExistingRegistration(t *testing.T) {
	part := newFakeParticipant()
	conn, node, err := mustConnect(part, ConnectionOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	first, err := node.CreateSubscription(temperatureType(), "/inside", qos.DefaultProfile(), SubscriptionOptions{})
	if err != nil {
		t.Fatalf("create first subscription: %v", err)
	}
	second, err := node.CreateSubscription(temperatureType(), "/outside", qos.DefaultProfile(), SubscriptionOptions{})
	if err != nil {
		t.Fatalf("create second subscription: %v", err)
	}

	if len(part.registered) != 1 {
		t.Fatalf("types registered = %d, want a single shared registration", len(part.registered))
	}
	if first.info.ownsType == second.info.ownsType {
		t.Fatal("exactly one endpoint should have created the registration")
	}
	if first.GID() == second.GID() {
		t.Fatal("endpoints share a GID")
	}

	// Closing the creator must not invalidate the borrower.
	if err := first.Close(); err != nil {
		t.Fatalf("close first: %v", err)
	}
	if _, ok := part.types["sensor_data::msg::dds_::Temperature_"]; !ok {
		t.Fatal("registration vanished with the endpoint that created it")
	}
}

func TestCreateSubscriptionRollsBackOnReaderFailure(t *testing.T) {
	part := newFakeParticipant()
	conn, node, err := mustConnect(part, ConnectionOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	part.createReaderErr = errors.New("no resources")
	sub, err := node.CreateSubscription(temperatureType(), "/chatter", qos.DefaultProfile(), SubscriptionOptions{})
	if err == nil {
		t.Fatal("expected reader creation failure")
	}
	if sub != nil {
		t.Fatal("got a handle despite failure")
	}

	// The registration reached the participant before the failing step and
	// stays; retrying must reuse it instead of registering again.
	if _, ok := part.types["sensor_data::msg::dds_::Temperature_"]; !ok {
		t.Fatal("registration was rolled back, it is participant-lifetime state")
	}
	var dst graph.NamesAndTypes
	if err := conn.Graph().ReaderNamesAndTypesByNode("tester", "/test", naming.DemangleTopic, naming.DemangleIfWireType, &dst); err != nil {
		t.Fatalf("query graph: %v", err)
	}
	if dst.Len() != 0 {
		t.Fatalf("failed creation left graph attribution: %v", dst.Names())
	}

	part.createReaderErr = nil
	retried, err := node.CreateSubscription(temperatureType(), "/chatter", qos.DefaultProfile(), SubscriptionOptions{})
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if len(part.registered) != 1 {
		t.Fatalf("types registered = %d, want the retry to borrow", len(part.registered))
	}
	if retried.info.ownsType {
		t.Error("retry reported a fresh registration")
	}
}

func TestCreateSubscriptionRollsBackOnRegisterFailure(t *testing.T) {
	part := newFakeParticipant()
	conn, node, err := mustConnect(part, ConnectionOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	part.registerErr = errors.New("registry full")
	if _, err := node.CreateSubscription(temperatureType(), "/chatter", qos.DefaultProfile(), SubscriptionOptions{}); err == nil {
		t.Fatal("expected registration failure")
	}
	if len(part.readers) != 0 {
		t.Fatal("a reader was created after the failing step")
	}
}

func TestCreateSubscriptionRejectsInvalidProfile(t *testing.T) {
	part := newFakeParticipant()
	conn, node, err := mustConnect(part, ConnectionOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	profile := qos.DefaultProfile()
	profile.History = qos.HistoryKeepLast
	profile.Depth = -1
	if _, err := node.CreateSubscription(temperatureType(), "/chatter", profile, SubscriptionOptions{}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
	if len(part.readers) != 0 || len(part.registered) != 0 {
		t.Fatal("invalid profile reached the participant")
	}
}

func TestCreateSubscriptionOnForeignNode(t *testing.T) {
	part := newFakeParticipant()
	conn, _, err := mustConnect(part, ConnectionOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()
	before := part.callCount()

	foreign := &Node{impl: "other_adapter", conn: conn, name: "intruder", namespace: "/"}
	if _, err := foreign.CreateSubscription(temperatureType(), "/chatter", qos.DefaultProfile(), SubscriptionOptions{}); !errors.Is(err, ErrIdentityMismatch) {
		t.Fatalf("err = %v, want ErrIdentityMismatch", err)
	}
	if part.callCount() != before {
		t.Fatal("foreign handle reached the participant")
	}
}

func TestSubscriptionLeaveTransportDefaults(t *testing.T) {
	part := newFakeParticipant()
	conn, node, err := mustConnect(part, ConnectionOptions{LeaveTransportDefaults: true})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	if _, err := node.CreateSubscription(temperatureType(), "/chatter", qos.DefaultProfile(), SubscriptionOptions{}); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	if got := part.readers[0].attrs.HistoryMemory; got != transport.MemoryPreallocated {
		t.Fatalf("history memory = %v, want the transport default preserved", got)
	}
}

func TestSubscriptionTakeDecodesSamples(t *testing.T) {
	part := newFakeParticipant()
	conn, node, err := mustConnect(part, ConnectionOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	sub, err := node.CreateSubscription(temperatureType(), "/chatter", qos.DefaultProfile(), SubscriptionOptions{})
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	part.readers[0].deliver(transport.Sample{Payload: []byte(`{"celsius":21.5}`)})

	msg, ok, err := sub.Take()
	if err != nil || !ok {
		t.Fatalf("take = (%v, %v), want a sample", ok, err)
	}
	decoded, isMap := msg.(map[string]interface{})
	if !isMap || decoded["celsius"] != 21.5 {
		t.Fatalf("decoded sample = %#v", msg)
	}
	if _, ok, _ := sub.Take(); ok {
		t.Fatal("second take returned a sample from an empty history")
	}
}

func TestSubscriptionListenerQueueBoundsAndDropCount(t *testing.T) {
	part := newFakeParticipant()
	conn, node, err := mustConnect(part, ConnectionOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	profile := qos.DefaultProfile()
	profile.History = qos.HistoryKeepLast
	profile.Depth = 2
	sub, err := node.CreateSubscription(temperatureType(), "/chatter", profile, SubscriptionOptions{EventCallbacks: true})
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	part.readers[0].deliver(
		transport.Sample{Payload: []byte(`{"seq":1}`)},
		transport.Sample{Payload: []byte(`{"seq":2}`)},
		transport.Sample{Payload: []byte(`{"seq":3}`)},
	)

	msg, ok, err := sub.Take()
	if err != nil || !ok {
		t.Fatalf("take = (%v, %v), want a sample", ok, err)
	}
	// Depth two with drop-oldest keeps samples 2 and 3.
	if got := msg.(map[string]interface{})["seq"]; got != 2.0 {
		t.Fatalf("first retained sample seq = %v, want 2", got)
	}
	if sub.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", sub.Dropped())
	}
}

func TestSubscriptionCloseDetachesFromNode(t *testing.T) {
	part := newFakeParticipant()
	conn, node, err := mustConnect(part, ConnectionOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	sub, err := node.CreateSubscription(temperatureType(), "/chatter", qos.DefaultProfile(), SubscriptionOptions{})
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !part.readers[0].closed {
		t.Fatal("transport reader still open")
	}
	if _, _, err := sub.Take(); !errors.Is(err, ErrClosed) {
		t.Fatalf("take after close = %v, want ErrClosed", err)
	}

	var dst graph.NamesAndTypes
	if err := conn.Graph().ReaderNamesAndTypesByNode("tester", "/test", naming.DemangleTopic, naming.DemangleIfWireType, &dst); err != nil {
		t.Fatalf("query graph: %v", err)
	}
	if dst.Len() != 0 {
		t.Fatalf("closed endpoint still attributed: %v", dst.Names())
	}
}
