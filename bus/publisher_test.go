package bus

import (
	"errors"
	"testing"

	"github.com/timzifer/nodebus/graph"
	"github.com/timzifer/nodebus/naming"
	"github.com/timzifer/nodebus/qos"
	"github.com/timzifer/nodebus/transport"
)

func TestCreatePublisherAcquiresEndpoint(t *testing.T) {
	part := newFakeParticipant()
	conn, node, err := mustConnect(part, ConnectionOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	pub, err := node.CreatePublisher(temperatureType(), "/chatter", qos.DefaultProfile(), PublisherOptions{})
	if err != nil {
		t.Fatalf("create publisher: %v", err)
	}
	if pub.GID() == (transport.GUID{}) {
		t.Fatal("publisher GID is zero")
	}
	if len(part.writers) != 1 {
		t.Fatalf("writers created = %d, want 1", len(part.writers))
	}
	attrs := part.writers[0].attrs
	if attrs.Topic.Name != "rt/chatter" {
		t.Errorf("transport topic = %q, want rt/chatter", attrs.Topic.Name)
	}
	if attrs.QoS.Reliability != transport.ReliabilityReliable {
		t.Errorf("reliability = %v, want the writer default preserved", attrs.QoS.Reliability)
	}

	var dst graph.NamesAndTypes
	if err := conn.Graph().WriterNamesAndTypesByNode("tester", "/test", naming.DemangleTopic, naming.DemangleIfWireType, &dst); err != nil {
		t.Fatalf("query graph: %v", err)
	}
	if got := dst.Types("/chatter"); len(got) != 1 || got[0] != "sensor_data/msg/Temperature" {
		t.Fatalf("graph attribution = %v, want sensor_data/msg/Temperature under /chatter", got)
	}
}

func TestCreatePublisherRollsBackOnWriterFailure(t *testing.T) {
	part := newFakeParticipant()
	conn, node, err := mustConnect(part, ConnectionOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	part.createWriterErr = errors.New("no resources")
	if _, err := node.CreatePublisher(temperatureType(), "/chatter", qos.DefaultProfile(), PublisherOptions{}); err == nil {
		t.Fatal("expected writer creation failure")
	}
	if _, ok := part.types["sensor_data::msg::dds_::Temperature_"]; !ok {
		t.Fatal("registration was rolled back, it is participant-lifetime state")
	}
	if conn.Graph().Snapshot().Writers != 0 {
		t.Fatal("failed creation left a writer in the graph cache")
	}
}

func TestPublishEncodesThroughTypeSupport(t *testing.T) {
	part := newFakeParticipant()
	conn, node, err := mustConnect(part, ConnectionOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	pub, err := node.CreatePublisher(temperatureType(), "/chatter", qos.DefaultProfile(), PublisherOptions{})
	if err != nil {
		t.Fatalf("create publisher: %v", err)
	}
	if err := pub.Publish(map[string]interface{}{"celsius": 21.5}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := len(part.writers[0].payloads); got != 1 {
		t.Fatalf("payloads written = %d, want 1", got)
	}
	if got := string(part.writers[0].payloads[0]); got != `{"celsius":21.5}` {
		t.Fatalf("payload = %s", got)
	}
}

func TestPublishAfterCloseFails(t *testing.T) {
	part := newFakeParticipant()
	conn, node, err := mustConnect(part, ConnectionOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	pub, err := node.CreatePublisher(temperatureType(), "/chatter", qos.DefaultProfile(), PublisherOptions{})
	if err != nil {
		t.Fatalf("create publisher: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := pub.Publish(map[string]interface{}{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("publish after close = %v, want ErrClosed", err)
	}
	if !part.writers[0].closed {
		t.Fatal("transport writer still open")
	}
}

func TestNodeCloseReleasesRemainingEndpoints(t *testing.T) {
	part := newFakeParticipant()
	conn, node, err := mustConnect(part, ConnectionOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	if _, err := node.CreatePublisher(temperatureType(), "/out", qos.DefaultProfile(), PublisherOptions{}); err != nil {
		t.Fatalf("create publisher: %v", err)
	}
	if _, err := node.CreateSubscription(temperatureType(), "/in", qos.DefaultProfile(), SubscriptionOptions{}); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	if err := node.Close(); err != nil {
		t.Fatalf("close node: %v", err)
	}
	if !part.writers[0].closed || !part.readers[0].closed {
		t.Fatal("node close left transport endpoints open")
	}
	if got := conn.Graph().Snapshot().Nodes; got != 0 {
		t.Fatalf("nodes in graph after close = %d, want 0", got)
	}
}
