package bus

import (
	"errors"
	"testing"
	"time"

	"github.com/timzifer/nodebus/graph"
	"github.com/timzifer/nodebus/qos"
	"github.com/timzifer/nodebus/transport/inmem"
)

func TestConnectRejectsNilParticipant(t *testing.T) {
	if _, err := Connect(nil, ConnectionOptions{}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestCreateNodeValidation(t *testing.T) {
	part := newFakeParticipant()
	conn, err := Connect(part, ConnectionOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	if _, err := conn.CreateNode("", "/demo"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty name: err = %v, want ErrInvalidArgument", err)
	}
	if _, err := conn.CreateNode("talker", "demo"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("relative namespace: err = %v, want ErrInvalidArgument", err)
	}
	if _, err := conn.CreateNode("talker", "/demo"); err != nil {
		t.Fatalf("create node: %v", err)
	}
	if _, err := conn.CreateNode("talker", "/demo"); err == nil {
		t.Error("duplicate node name was accepted")
	}
	if _, err := conn.CreateNode("talker", "/other"); err != nil {
		t.Errorf("same name under another namespace: %v", err)
	}
}

func TestConnectionCloseClosesNodes(t *testing.T) {
	part := newFakeParticipant()
	conn, node, err := mustConnect(part, ConnectionOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := node.CreateSubscription(temperatureType(), "/chatter", qos.DefaultProfile(), SubscriptionOptions{}); err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !part.readers[0].closed {
		t.Fatal("connection close left endpoints open")
	}
	if _, err := conn.CreateNode("late", "/demo"); !errors.Is(err, ErrClosed) {
		t.Fatalf("create node after close = %v, want ErrClosed", err)
	}
	if _, err := node.CreateSubscription(temperatureType(), "/late", qos.DefaultProfile(), SubscriptionOptions{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("create subscription after close = %v, want ErrClosed", err)
	}
}

// End-to-end over the in-memory transport: two participants in one domain,
// samples flowing from a publisher connection to a subscriber connection,
// and both connections seeing the same endpoint graph through discovery.
func TestConnectionsOverInmemBus(t *testing.T) {
	busNet := inmem.NewBus()
	talkerPart, err := busNet.Participant(0)
	if err != nil {
		t.Fatalf("join talker: %v", err)
	}
	listenerPart, err := busNet.Participant(0)
	if err != nil {
		t.Fatalf("join listener: %v", err)
	}

	talkerConn, err := Connect(talkerPart, ConnectionOptions{})
	if err != nil {
		t.Fatalf("connect talker: %v", err)
	}
	defer talkerConn.Close()
	listenerConn, err := Connect(listenerPart, ConnectionOptions{})
	if err != nil {
		t.Fatalf("connect listener: %v", err)
	}
	defer listenerConn.Close()

	talker, err := talkerConn.CreateNode("talker", "/demo")
	if err != nil {
		t.Fatalf("create talker node: %v", err)
	}
	listener, err := listenerConn.CreateNode("listener", "/demo")
	if err != nil {
		t.Fatalf("create listener node: %v", err)
	}

	profile := qos.DefaultProfile()
	profile.Reliability = qos.ReliabilityReliable
	sub, err := listener.CreateSubscription(temperatureType(), "/chatter", profile, SubscriptionOptions{})
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	pub, err := talker.CreatePublisher(temperatureType(), "/chatter", profile, PublisherOptions{})
	if err != nil {
		t.Fatalf("create publisher: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for pub.MatchedSubscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("publisher never matched the subscription")
		}
		time.Sleep(time.Millisecond)
	}

	if err := pub.Publish(map[string]interface{}{"celsius": 19.0}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg, ok, err := sub.Take()
	if err != nil || !ok {
		t.Fatalf("take = (%v, %v), want a sample", ok, err)
	}
	if msg.(map[string]interface{})["celsius"] != 19.0 {
		t.Fatalf("decoded sample = %#v", msg)
	}

	// Discovery mirrors the remote endpoint into each connection's cache.
	stats := listenerConn.Graph().Snapshot()
	if stats.Participants != 2 {
		t.Fatalf("participants seen = %d, want 2", stats.Participants)
	}
	if stats.Readers != 1 || stats.Writers != 1 {
		t.Fatalf("endpoints seen = %d readers, %d writers, want 1 and 1", stats.Readers, stats.Writers)
	}

	// Each connection can answer by-node queries for its own nodes.
	var published graph.NamesAndTypes
	if err := PublishedTopicsByNode(talker, "talker", "/demo", false, &published); err != nil {
		t.Fatalf("published by node: %v", err)
	}
	if got := published.Names(); len(got) != 1 || got[0] != "/chatter" {
		t.Fatalf("published topics = %v, want [/chatter]", got)
	}
	var subscribed graph.NamesAndTypes
	if err := SubscribedTopicsByNode(listener, "listener", "/demo", false, &subscribed); err != nil {
		t.Fatalf("subscribed by node: %v", err)
	}
	if got := subscribed.Names(); len(got) != 1 || got[0] != "/chatter" {
		t.Fatalf("subscribed topics = %v, want [/chatter]", got)
	}
}

func TestConnectionAvoidConventionsKeepsTopicInvisible(t *testing.T) {
	part := newFakeParticipant()
	conn, node, err := mustConnect(part, ConnectionOptions{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	profile := qos.DefaultProfile()
	profile.AvoidConventions = true
	if _, err := node.CreateSubscription(temperatureType(), "raw_feed", profile, SubscriptionOptions{}); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	if got := part.readers[0].attrs.Topic.Name; got != "raw_feed" {
		t.Fatalf("transport topic = %q, want the name verbatim", got)
	}

	var dst graph.NamesAndTypes
	if err := SubscribedTopicsByNode(node, "tester", "/test", false, &dst); err != nil {
		t.Fatalf("query: %v", err)
	}
	if dst.Len() != 0 {
		t.Fatalf("unconventional topic leaked into the graph: %v", dst.Names())
	}
}
