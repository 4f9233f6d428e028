// Package inmem implements the transport contract with an in-process topic
// bus. Participants joined to the same Bus and domain discover each other,
// match readers and writers by topic and compatible QoS, and deliver
// payloads synchronously. The package is self-contained and carries no
// external broker dependency, which makes it the default transport for
// tests and single-process deployments.
package inmem

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/timzifer/nodebus/transport"
)

// participantEntityID is the fixed entity id of a participant GUID.
const participantEntityID = 0x000001c1

// Bus is an in-process transport fabric. The zero value is not usable, use
// NewBus. A Bus can host any number of domains; participants only see peers
// in their own domain.
type Bus struct {
	mu      sync.Mutex
	domains map[uint32]*domain
}

// NewBus creates an empty transport fabric.
func NewBus() *Bus {
	return &Bus{domains: make(map[uint32]*domain)}
}

// Participant joins the given domain and returns the new participant.
func (b *Bus) Participant(domainID uint32) (transport.Participant, error) {
	if b == nil {
		return nil, errors.New("bus is nil")
	}
	b.mu.Lock()
	dom, ok := b.domains[domainID]
	if !ok {
		dom = &domain{
			id:           domainID,
			topics:       make(map[string]*topic),
			participants: make(map[transport.GUID]*participant),
			watchers:     make(map[int]func(transport.DiscoveryEvent)),
		}
		b.domains[domainID] = dom
	}
	b.mu.Unlock()
	return dom.join()
}

// Factory adapts the bus to the transport factory signature.
func (b *Bus) Factory() transport.Factory {
	return func(domainID uint32) (transport.Participant, error) {
		return b.Participant(domainID)
	}
}

type domain struct {
	id uint32

	mu           sync.Mutex
	topics       map[string]*topic
	participants map[transport.GUID]*participant
	watchers     map[int]func(transport.DiscoveryEvent)
	watchSeq     int
}

func (d *domain) join() (*participant, error) {
	id := uuid.New()
	var guid transport.GUID
	copy(guid[:transport.PrefixLen], id[:transport.PrefixLen])
	guid = guid.WithEntity(participantEntityID)

	p := &participant{
		dom:   d,
		guid:  guid,
		types: make(map[string]transport.TypeSupport),
	}

	d.mu.Lock()
	d.participants[guid] = p
	watchers := d.watcherListLocked()
	d.mu.Unlock()

	notify(watchers, transport.DiscoveryEvent{
		Kind:        transport.DiscoveryParticipant,
		Participant: guid,
		Entity:      guid,
	})
	return p, nil
}

// watcherListLocked snapshots the watcher callbacks. Callers hold d.mu and
// invoke the callbacks only after releasing it.
func (d *domain) watcherListLocked() []func(transport.DiscoveryEvent) {
	if len(d.watchers) == 0 {
		return nil
	}
	ids := make([]int, 0, len(d.watchers))
	for id := range d.watchers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(transport.DiscoveryEvent), 0, len(ids))
	for _, id := range ids {
		out = append(out, d.watchers[id])
	}
	return out
}

func notify(watchers []func(transport.DiscoveryEvent), events ...transport.DiscoveryEvent) {
	for _, ev := range events {
		for _, fn := range watchers {
			fn(ev)
		}
	}
}

// snapshotLocked builds replay events for the current domain state.
func (d *domain) snapshotLocked() []transport.DiscoveryEvent {
	events := make([]transport.DiscoveryEvent, 0, len(d.participants))
	parts := make([]*participant, 0, len(d.participants))
	for _, p := range d.participants {
		parts = append(parts, p)
	}
	sort.Slice(parts, func(i, j int) bool {
		return bytes.Compare(parts[i].guid[:], parts[j].guid[:]) < 0
	})
	for _, p := range parts {
		events = append(events, transport.DiscoveryEvent{
			Kind:        transport.DiscoveryParticipant,
			Participant: p.guid,
			Entity:      p.guid,
		})
	}
	names := make([]string, 0, len(d.topics))
	for name := range d.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		top := d.topics[name]
		for _, r := range top.sortedReaders() {
			events = append(events, readerEvent(r, false))
		}
		for _, w := range top.sortedWriters() {
			events = append(events, writerEvent(w, false))
		}
	}
	return events
}

type participant struct {
	dom  *domain
	guid transport.GUID

	mu        sync.Mutex
	types     map[string]transport.TypeSupport
	readers   map[transport.GUID]*reader
	writers   map[transport.GUID]*writer
	entitySeq uint32
	closed    bool
}

// GUID returns the participant identity within the domain.
func (p *participant) GUID() transport.GUID {
	return p.guid
}

// DefaultReaderAttributes returns the attribute template readers start from.
func (p *participant) DefaultReaderAttributes() transport.ReaderAttributes {
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

// DefaultWriterAttributes returns the attribute template writers start from.
func (p *participant) DefaultWriterAttributes() transport.WriterAttributes {
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

// FindType looks up a registered type support by name.
func (p *participant) FindType(name string) (transport.TypeSupport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ts, ok := p.types[name]
	return ts, ok
}

// RegisterType adds a type support to the participant registry.
func (p *participant) RegisterType(ts transport.TypeSupport) error {
	if ts == nil {
		return errors.New("type support is nil")
	}
	name := ts.Name()
	if name == "" {
		return errors.New("type support has no name")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return transport.ErrParticipantClosed
	}
	if _, ok := p.types[name]; ok {
		return fmt.Errorf("%w: %s", transport.ErrTypeAlreadyRegistered, name)
	}
	p.types[name] = ts
	return nil
}

func (p *participant) nextGUIDLocked() transport.GUID {
	p.entitySeq++
	return p.guid.WithEntity(p.entitySeq)
}

func (p *participant) validateTopicLocked(attrs transport.TopicAttributes) error {
	if attrs.Name == "" {
		return errors.New("topic name is empty")
	}
	if attrs.TypeName == "" {
		return fmt.Errorf("topic %s has no type name", attrs.Name)
	}
	if _, ok := p.types[attrs.TypeName]; !ok {
		return fmt.Errorf("type %s not registered", attrs.TypeName)
	}
	return nil
}

func validateQoS(qos transport.EndpointQoS) error {
	if qos.History == transport.HistoryKeepLast && qos.Depth <= 0 {
		return fmt.Errorf("keep_last history requires positive depth, got %d", qos.Depth)
	}
	return nil
}

// CreateReader attaches a new reader to the topic described by attrs.
func (p *participant) CreateReader(attrs transport.ReaderAttributes, listener transport.ReaderListener) (transport.Reader, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, transport.ErrParticipantClosed
	}
	if err := p.validateTopicLocked(attrs.Topic); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if err := validateQoS(attrs.QoS); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	r := &reader{
		dom:      p.dom,
		part:     p,
		guid:     p.nextGUIDLocked(),
		attrs:    attrs,
		listener: listener,
		matchedW: make(map[transport.GUID]*writer),
	}
	if p.readers == nil {
		p.readers = make(map[transport.GUID]*reader)
	}
	p.readers[r.guid] = r
	p.mu.Unlock()

	if err := p.dom.attachReader(r); err != nil {
		p.mu.Lock()
		delete(p.readers, r.guid)
		p.mu.Unlock()
		return nil, err
	}
	return r, nil
}

// CreateWriter attaches a new writer to the topic described by attrs.
func (p *participant) CreateWriter(attrs transport.WriterAttributes, listener transport.WriterListener) (transport.Writer, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, transport.ErrParticipantClosed
	}
	if err := p.validateTopicLocked(attrs.Topic); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if err := validateQoS(attrs.QoS); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	w := &writer{
		dom:      p.dom,
		part:     p,
		guid:     p.nextGUIDLocked(),
		attrs:    attrs,
		listener: listener,
		matchedR: make(map[transport.GUID]*reader),
	}
	if p.writers == nil {
		p.writers = make(map[transport.GUID]*writer)
	}
	p.writers[w.guid] = w
	p.mu.Unlock()

	if err := p.dom.attachWriter(w); err != nil {
		p.mu.Lock()
		delete(p.writers, w.guid)
		p.mu.Unlock()
		return nil, err
	}
	return w, nil
}

// WatchDiscovery registers a discovery callback. The current domain state is
// replayed synchronously before live events arrive.
func (p *participant) WatchDiscovery(fn func(transport.DiscoveryEvent)) (func(), error) {
	if fn == nil {
		return nil, errors.New("discovery callback is nil")
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, transport.ErrParticipantClosed
	}
	p.mu.Unlock()

	d := p.dom
	d.mu.Lock()
	d.watchSeq++
	id := d.watchSeq
	d.watchers[id] = fn
	replay := d.snapshotLocked()
	d.mu.Unlock()

	for _, ev := range replay {
		fn(ev)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.watchers, id)
			d.mu.Unlock()
		})
	}
	return cancel, nil
}

// Close detaches every endpoint of the participant and removes it from the
// domain. Close is idempotent.
func (p *participant) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	readers := make([]*reader, 0, len(p.readers))
	for _, r := range p.readers {
		readers = append(readers, r)
	}
	writers := make([]*writer, 0, len(p.writers))
	for _, w := range p.writers {
		writers = append(writers, w)
	}
	p.mu.Unlock()

	var errs []error
	for _, r := range readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, w := range writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	d := p.dom
	d.mu.Lock()
	delete(d.participants, p.guid)
	watchers := d.watcherListLocked()
	d.mu.Unlock()

	notify(watchers, transport.DiscoveryEvent{
		Kind:        transport.DiscoveryParticipant,
		Removed:     true,
		Participant: p.guid,
		Entity:      p.guid,
	})
	return errors.Join(errs...)
}
