package inmem

import (
	"errors"
	"sync"
	"testing"

	"github.com/timzifer/nodebus/transport"
)

type stringType struct{ name string }

func (s stringType) Name() string { return s.name }

func (s stringType) Serialize(msg interface{}) ([]byte, error) {
	str, ok := msg.(string)
	if !ok {
		return nil, errors.New("not a string")
	}
	return []byte(str), nil
}

func (s stringType) Deserialize(data []byte) (interface{}, error) {
	return string(data), nil
}

type recordingListener struct {
	mu      sync.Mutex
	data    int
	matched []int
}

func (l *recordingListener) OnDataAvailable(transport.Reader) {
	l.mu.Lock()
	l.data++
	l.mu.Unlock()
}

func (l *recordingListener) OnReaderMatched(_ transport.Reader, matched int) {
	l.mu.Lock()
	l.matched = append(l.matched, matched)
	l.mu.Unlock()
}

func (l *recordingListener) counts() (int, []int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.data, append([]int(nil), l.matched...)
}

func newTestParticipant(t *testing.T, bus *Bus) transport.Participant {
	t.Helper()
	part, err := bus.Participant(0)
	if err != nil {
		t.Fatalf("join domain: %v", err)
	}
	if err := part.RegisterType(stringType{name: "test::msg::dds_::Text_"}); err != nil {
		t.Fatalf("register type: %v", err)
	}
	return part
}

func textReaderAttrs(part transport.Participant, topic string) transport.ReaderAttributes {
	attrs := part.DefaultReaderAttributes()
	attrs.Topic.Name = topic
	attrs.Topic.TypeName = "test::msg::dds_::Text_"
	attrs.QoS.Depth = 4
	return attrs
}

func textWriterAttrs(part transport.Participant, topic string) transport.WriterAttributes {
	attrs := part.DefaultWriterAttributes()
	attrs.Topic.Name = topic
	attrs.Topic.TypeName = "test::msg::dds_::Text_"
	return attrs
}

func TestRoundTrip(t *testing.T) {
	bus := NewBus()
	pub := newTestParticipant(t, bus)
	sub := newTestParticipant(t, bus)

	listener := &recordingListener{}
	r, err := sub.CreateReader(textReaderAttrs(sub, "rt/chatter"), listener)
	if err != nil {
		t.Fatalf("create reader: %v", err)
	}
	w, err := pub.CreateWriter(textWriterAttrs(pub, "rt/chatter"), nil)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}

	if got := r.MatchedWriters(); got != 1 {
		t.Fatalf("expected 1 matched writer, got %d", got)
	}
	if got := w.MatchedReaders(); got != 1 {
		t.Fatalf("expected 1 matched reader, got %d", got)
	}

	if err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	sample, ok := r.Take()
	if !ok {
		t.Fatalf("expected a sample")
	}
	if string(sample.Payload) != "hello" {
		t.Fatalf("unexpected payload %q", sample.Payload)
	}
	if sample.Writer != w.GUID() {
		t.Fatalf("sample writer %s, want %s", sample.Writer, w.GUID())
	}
	if sample.SequenceNumber != 1 {
		t.Fatalf("unexpected sequence number %d", sample.SequenceNumber)
	}

	data, matched := listener.counts()
	if data != 1 {
		t.Fatalf("expected 1 data callback, got %d", data)
	}
	if len(matched) != 1 || matched[0] != 1 {
		t.Fatalf("unexpected match callbacks %v", matched)
	}
}

func TestRegisterTypeTwice(t *testing.T) {
	bus := NewBus()
	part := newTestParticipant(t, bus)
	err := part.RegisterType(stringType{name: "test::msg::dds_::Text_"})
	if !errors.Is(err, transport.ErrTypeAlreadyRegistered) {
		t.Fatalf("expected ErrTypeAlreadyRegistered, got %v", err)
	}
	if _, ok := part.FindType("test::msg::dds_::Text_"); !ok {
		t.Fatalf("registered type not found")
	}
	if _, ok := part.FindType("missing"); ok {
		t.Fatalf("unexpected hit for missing type")
	}
}

func TestQosGate(t *testing.T) {
	bus := NewBus()
	pub := newTestParticipant(t, bus)
	sub := newTestParticipant(t, bus)

	rAttrs := textReaderAttrs(sub, "rt/chatter")
	rAttrs.QoS.Reliability = transport.ReliabilityReliable
	r, err := sub.CreateReader(rAttrs, nil)
	if err != nil {
		t.Fatalf("create reader: %v", err)
	}

	wAttrs := textWriterAttrs(pub, "rt/chatter")
	wAttrs.QoS.Reliability = transport.ReliabilityBestEffort
	w, err := pub.CreateWriter(wAttrs, nil)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}

	if got := r.MatchedWriters(); got != 0 {
		t.Fatalf("reliable reader must not match best-effort writer, got %d", got)
	}
	if err := w.Write([]byte("lost")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok := r.Take(); ok {
		t.Fatalf("unmatched reader must not receive samples")
	}
}

func TestKeepLastOverflow(t *testing.T) {
	bus := NewBus()
	part := newTestParticipant(t, bus)

	attrs := textReaderAttrs(part, "rt/chatter")
	attrs.QoS.Depth = 2
	r, err := part.CreateReader(attrs, nil)
	if err != nil {
		t.Fatalf("create reader: %v", err)
	}
	w, err := part.CreateWriter(textWriterAttrs(part, "rt/chatter"), nil)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}

	for _, payload := range []string{"a", "b", "c"} {
		if err := w.Write([]byte(payload)); err != nil {
			t.Fatalf("write %s: %v", payload, err)
		}
	}

	first, ok := r.Take()
	if !ok || string(first.Payload) != "b" {
		t.Fatalf("expected oldest retained sample b, got %q ok=%v", first.Payload, ok)
	}
	second, ok := r.Take()
	if !ok || string(second.Payload) != "c" {
		t.Fatalf("expected sample c, got %q ok=%v", second.Payload, ok)
	}
	if _, ok := r.Take(); ok {
		t.Fatalf("queue should be drained")
	}
	impl, ok := r.(*reader)
	if !ok {
		t.Fatalf("unexpected reader implementation")
	}
	if impl.Dropped() != 1 {
		t.Fatalf("expected 1 dropped sample, got %d", impl.Dropped())
	}
}

func TestTransientLocalReplay(t *testing.T) {
	bus := NewBus()
	pub := newTestParticipant(t, bus)
	sub := newTestParticipant(t, bus)

	wAttrs := textWriterAttrs(pub, "rt/state")
	wAttrs.QoS.Durability = transport.DurabilityTransientLocal
	wAttrs.QoS.Depth = 8
	w, err := pub.CreateWriter(wAttrs, nil)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	if err := w.Write([]byte("retained")); err != nil {
		t.Fatalf("write: %v", err)
	}

	rAttrs := textReaderAttrs(sub, "rt/state")
	rAttrs.QoS.Durability = transport.DurabilityTransientLocal
	rAttrs.QoS.Reliability = transport.ReliabilityBestEffort
	r, err := sub.CreateReader(rAttrs, nil)
	if err != nil {
		t.Fatalf("create reader: %v", err)
	}

	sample, ok := r.Take()
	if !ok || string(sample.Payload) != "retained" {
		t.Fatalf("expected replayed sample, got %q ok=%v", sample.Payload, ok)
	}
}

func TestTopicTypeConflict(t *testing.T) {
	bus := NewBus()
	part := newTestParticipant(t, bus)
	if err := part.RegisterType(stringType{name: "test::msg::dds_::Other_"}); err != nil {
		t.Fatalf("register second type: %v", err)
	}

	if _, err := part.CreateReader(textReaderAttrs(part, "rt/chatter"), nil); err != nil {
		t.Fatalf("create reader: %v", err)
	}
	attrs := textWriterAttrs(part, "rt/chatter")
	attrs.Topic.TypeName = "test::msg::dds_::Other_"
	if _, err := part.CreateWriter(attrs, nil); err == nil {
		t.Fatalf("expected topic type conflict")
	}
}

func TestCreateReaderRequiresRegisteredType(t *testing.T) {
	bus := NewBus()
	part, err := bus.Participant(0)
	if err != nil {
		t.Fatalf("join domain: %v", err)
	}
	if _, err := part.CreateReader(textReaderAttrs(part, "rt/chatter"), nil); err == nil {
		t.Fatalf("expected unregistered type to fail")
	}
}

func TestDiscoveryWatch(t *testing.T) {
	bus := NewBus()
	pub := newTestParticipant(t, bus)
	w, err := pub.CreateWriter(textWriterAttrs(pub, "rt/chatter"), nil)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}

	sub := newTestParticipant(t, bus)
	var mu sync.Mutex
	var events []transport.DiscoveryEvent
	source, ok := sub.(transport.DiscoverySource)
	if !ok {
		t.Fatalf("participant does not expose discovery")
	}
	cancel, err := source.WatchDiscovery(func(ev transport.DiscoveryEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("watch discovery: %v", err)
	}
	defer cancel()

	mu.Lock()
	replayed := len(events)
	var sawWriter bool
	for _, ev := range events {
		if ev.Kind == transport.DiscoveryWriter && ev.Entity == w.GUID() && !ev.Removed {
			sawWriter = true
		}
	}
	mu.Unlock()
	if replayed < 3 {
		t.Fatalf("expected replay of two participants and one writer, got %d events", replayed)
	}
	if !sawWriter {
		t.Fatalf("replay missing existing writer")
	}

	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	mu.Lock()
	var sawRemoval bool
	for _, ev := range events {
		if ev.Kind == transport.DiscoveryWriter && ev.Entity == w.GUID() && ev.Removed {
			sawRemoval = true
		}
	}
	mu.Unlock()
	if !sawRemoval {
		t.Fatalf("expected writer removal event")
	}
}

func TestParticipantClose(t *testing.T) {
	bus := NewBus()
	part := newTestParticipant(t, bus)
	r, err := part.CreateReader(textReaderAttrs(part, "rt/chatter"), nil)
	if err != nil {
		t.Fatalf("create reader: %v", err)
	}
	if err := part.Close(); err != nil {
		t.Fatalf("close participant: %v", err)
	}
	if err := part.Close(); err != nil {
		t.Fatalf("second close must be a no-op: %v", err)
	}
	if _, err := part.CreateReader(textReaderAttrs(part, "rt/chatter"), nil); !errors.Is(err, transport.ErrParticipantClosed) {
		t.Fatalf("expected ErrParticipantClosed, got %v", err)
	}
	if err := part.RegisterType(stringType{name: "late"}); !errors.Is(err, transport.ErrParticipantClosed) {
		t.Fatalf("expected ErrParticipantClosed for late registration, got %v", err)
	}
	if _, ok := r.Take(); ok {
		t.Fatalf("closed reader must not deliver samples")
	}
}
