package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/timzifer/nodebus/transport"
)

// fakeParticipant is a scripted transport participant. Failure hooks let
// tests force individual creation steps to fail and the call log records
// which collaborator operations ran.
type fakeParticipant struct {
	guid transport.GUID

	registerErr     error
	createReaderErr error
	createWriterErr error

	mu         sync.Mutex
	types      map[string]transport.TypeSupport
	registered []string
	calls      []string
	readers    []*fakeReader
	writers    []*fakeWriter
	entitySeq  uint32
}

func newFakeParticipant() *fakeParticipant {
	guid := transport.GUID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c}
	return &fakeParticipant{
		guid:  guid.WithEntity(0x01c1),
		types: make(map[string]transport.TypeSupport),
	}
}

func (p *fakeParticipant) log(call string) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
}

func (p *fakeParticipant) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *fakeParticipant) GUID() transport.GUID {
	return p.guid
}

func (p *fakeParticipant) DefaultReaderAttributes() transport.ReaderAttributes {
	p.log("default_reader_attributes")
	return transport.ReaderAttributes{
		Topic: transport.TopicAttributes{Kind: transport.TopicKindNoKey},
		QoS: transport.EndpointQoS{
			History:     transport.HistoryKeepLast,
			Depth:       1,
			Reliability: transport.ReliabilityBestEffort,
			Durability:  transport.DurabilityVolatile,
			Liveliness:  transport.LivelinessAutomatic,
		},
		HistoryMemory: transport.MemoryPreallocated,
	}
}

func (p *fakeParticipant) DefaultWriterAttributes() transport.WriterAttributes {
	p.log("default_writer_attributes")
	return transport.WriterAttributes{
		Topic: transport.TopicAttributes{Kind: transport.TopicKindNoKey},
		QoS: transport.EndpointQoS{
			History:     transport.HistoryKeepLast,
			Depth:       1,
			Reliability: transport.ReliabilityReliable,
			Durability:  transport.DurabilityVolatile,
			Liveliness:  transport.LivelinessAutomatic,
		},
		HistoryMemory: transport.MemoryPreallocated,
	}
}

func (p *fakeParticipant) FindType(name string) (transport.TypeSupport, bool) {
	p.log("find_type " + name)
	p.mu.Lock()
	defer p.mu.Unlock()
	ts, ok := p.types[name]
	return ts, ok
}

func (p *fakeParticipant) RegisterType(ts transport.TypeSupport) error {
	p.log("register_type " + ts.Name())
	if p.registerErr != nil {
		return p.registerErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.types[ts.Name()]; ok {
		return fmt.Errorf("%w: %s", transport.ErrTypeAlreadyRegistered, ts.Name())
	}
	p.types[ts.Name()] = ts
	p.registered = append(p.registered, ts.Name())
	return nil
}

func (p *fakeParticipant) CreateReader(attrs transport.ReaderAttributes, listener transport.ReaderListener) (transport.Reader, error) {
	p.log("create_reader " + attrs.Topic.Name)
	if p.createReaderErr != nil {
		return nil, p.createReaderErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entitySeq++
	r := &fakeReader{guid: p.guid.WithEntity(p.entitySeq), attrs: attrs, listener: listener}
	p.readers = append(p.readers, r)
	return r, nil
}

func (p *fakeParticipant) CreateWriter(attrs transport.WriterAttributes, listener transport.WriterListener) (transport.Writer, error) {
	p.log("create_writer " + attrs.Topic.Name)
	if p.createWriterErr != nil {
		return nil, p.createWriterErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entitySeq++
	w := &fakeWriter{guid: p.guid.WithEntity(p.entitySeq), attrs: attrs, listener: listener}
	p.writers = append(p.writers, w)
	return w, nil
}

func (p *fakeParticipant) Close() error {
	return nil
}

type fakeReader struct {
	guid     transport.GUID
	attrs    transport.ReaderAttributes
	listener transport.ReaderListener

	mu      sync.Mutex
	samples []transport.Sample
	matched int
	closed  bool
}

func (r *fakeReader) GUID() transport.GUID {
	return r.guid
}

func (r *fakeReader) Take() (transport.Sample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.samples) == 0 {
		return transport.Sample{}, false
	}
	s := r.samples[0]
	r.samples = r.samples[1:]
	return s, true
}

func (r *fakeReader) MatchedWriters() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.matched
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// deliver queues samples and fires the listener like the transport's
// delivery path would.
func (r *fakeReader) deliver(samples ...transport.Sample) {
	r.mu.Lock()
	r.samples = append(r.samples, samples...)
	listener := r.listener
	r.mu.Unlock()
	if listener != nil {
		listener.OnDataAvailable(r)
	}
}

type fakeWriter struct {
	guid     transport.GUID
	attrs    transport.WriterAttributes
	listener transport.WriterListener

	mu       sync.Mutex
	payloads [][]byte
	matched  int
	closed   bool
}

func (w *fakeWriter) GUID() transport.GUID {
	return w.guid
}

func (w *fakeWriter) Write(payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("writer closed")
	}
	w.payloads = append(w.payloads, append([]byte(nil), payload...))
	return nil
}

func (w *fakeWriter) MatchedReaders() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.matched
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func transportSample(payload string) transport.Sample {
	return transport.Sample{Payload: []byte(payload)}
}

func jsonMarshal(msg interface{}) ([]byte, error) {
	return json.Marshal(msg)
}

func jsonUnmarshal(data []byte) (interface{}, error) {
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func temperatureType() *TypeDescriptor {
	return NewMessageType("sensor_data", "Temperature", jsonMarshal, jsonUnmarshal)
}

func addTwoIntsService() *ServiceDescriptor {
	return &ServiceDescriptor{Variants: []ServiceVariant{{
		Encoding:         EncodingNative,
		Package:          "example_interfaces",
		Name:             "AddTwoInts",
		RequestMarshal:   jsonMarshal,
		RequestUnmarshal: jsonUnmarshal,
		ReplyMarshal:     jsonMarshal,
		ReplyUnmarshal:   jsonUnmarshal,
	}}}
}

func mustConnect(part transport.Participant, opts ConnectionOptions) (*Connection, *Node, error) {
	conn, err := Connect(part, opts)
	if err != nil {
		return nil, nil, err
	}
	node, err := conn.CreateNode("tester", "/test")
	if err != nil {
		return nil, nil, err
	}
	return conn, node, nil
}
