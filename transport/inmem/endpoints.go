package inmem

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/timzifer/nodebus/transport"
)

type topic struct {
	name     string
	typeName string
	kind     transport.TopicKind
	readers  map[transport.GUID]*reader
	writers  map[transport.GUID]*writer
}

func (t *topic) sortedReaders() []*reader {
	out := make([]*reader, 0, len(t.readers))
	for _, r := range t.readers {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].guid[:], out[j].guid[:]) < 0
	})
	return out
}

func (t *topic) sortedWriters() []*writer {
	out := make([]*writer, 0, len(t.writers))
	for _, w := range t.writers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].guid[:], out[j].guid[:]) < 0
	})
	return out
}

func (d *domain) topicForLocked(attrs transport.TopicAttributes) (*topic, error) {
	top, ok := d.topics[attrs.Name]
	if !ok {
		top = &topic{
			name:     attrs.Name,
			typeName: attrs.TypeName,
			kind:     attrs.Kind,
			readers:  make(map[transport.GUID]*reader),
			writers:  make(map[transport.GUID]*writer),
		}
		d.topics[attrs.Name] = top
		return top, nil
	}
	if top.typeName != attrs.TypeName {
		return nil, fmt.Errorf("topic %s already uses type %s", attrs.Name, top.typeName)
	}
	if top.kind != attrs.Kind {
		return nil, fmt.Errorf("topic %s already uses kind %s", attrs.Name, top.kind)
	}
	return top, nil
}

func (d *domain) dropTopicIfEmptyLocked(top *topic) {
	if len(top.readers) == 0 && len(top.writers) == 0 {
		delete(d.topics, top.name)
	}
}

// qosCompatible applies the request-versus-offer gate between a reader and
// a writer: a reliable reader needs a reliable writer and a transient-local
// reader needs a transient-local writer.
func qosCompatible(r, w transport.EndpointQoS) bool {
	if r.Reliability == transport.ReliabilityReliable && w.Reliability != transport.ReliabilityReliable {
		return false
	}
	if r.Durability == transport.DurabilityTransientLocal && w.Durability != transport.DurabilityTransientLocal {
		return false
	}
	return true
}

func readerEvent(r *reader, removed bool) transport.DiscoveryEvent {
	return transport.DiscoveryEvent{
		Kind:        transport.DiscoveryReader,
		Removed:     removed,
		Participant: r.part.guid,
		Entity:      r.guid,
		Topic:       r.attrs.Topic,
		QoS:         r.attrs.QoS,
	}
}

func writerEvent(w *writer, removed bool) transport.DiscoveryEvent {
	return transport.DiscoveryEvent{
		Kind:        transport.DiscoveryWriter,
		Removed:     removed,
		Participant: w.part.guid,
		Entity:      w.guid,
		Topic:       w.attrs.Topic,
		QoS:         w.attrs.QoS,
	}
}

func (d *domain) attachReader(r *reader) error {
	d.mu.Lock()
	top, err := d.topicForLocked(r.attrs.Topic)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	top.readers[r.guid] = r
	r.top = top

	var notes []func()
	var replayFrom []*writer
	for _, w := range top.sortedWriters() {
		if !qosCompatible(r.attrs.QoS, w.attrs.QoS) {
			continue
		}
		r.matchedW[w.guid] = w
		w.matchedR[r.guid] = r
		notes = append(notes, matchNotes(r, w)...)
		if r.attrs.QoS.Durability == transport.DurabilityTransientLocal {
			replayFrom = append(replayFrom, w)
		}
	}
	watchers := d.watcherListLocked()
	ev := readerEvent(r, false)
	d.mu.Unlock()

	notify(watchers, ev)
	for _, note := range notes {
		note()
	}
	for _, w := range replayFrom {
		w.replayTo(r)
	}
	return nil
}

func (d *domain) attachWriter(w *writer) error {
	d.mu.Lock()
	top, err := d.topicForLocked(w.attrs.Topic)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	top.writers[w.guid] = w
	w.top = top

	var notes []func()
	for _, r := range top.sortedReaders() {
		if !qosCompatible(r.attrs.QoS, w.attrs.QoS) {
			continue
		}
		r.matchedW[w.guid] = w
		w.matchedR[r.guid] = r
		notes = append(notes, matchNotes(r, w)...)
	}
	watchers := d.watcherListLocked()
	ev := writerEvent(w, false)
	d.mu.Unlock()

	notify(watchers, ev)
	for _, note := range notes {
		note()
	}
	return nil
}

// matchNotes captures the listener notifications for a match change while
// the domain lock is held. The closures run after the lock is released.
func matchNotes(r *reader, w *writer) []func() {
	notes := make([]func(), 0, 2)
	if r.listener != nil {
		count := len(r.matchedW)
		rr := r
		notes = append(notes, func() { rr.listener.OnReaderMatched(rr, count) })
	}
	if w.listener != nil {
		count := len(w.matchedR)
		ww := w
		notes = append(notes, func() { ww.listener.OnWriterMatched(ww, count) })
	}
	return notes
}

func (d *domain) detachReader(r *reader) {
	d.mu.Lock()
	top := r.top
	if top == nil {
		d.mu.Unlock()
		return
	}
	delete(top.readers, r.guid)
	var notes []func()
	for _, w := range r.matchedW {
		delete(w.matchedR, r.guid)
		if w.listener != nil {
			count := len(w.matchedR)
			ww := w
			notes = append(notes, func() { ww.listener.OnWriterMatched(ww, count) })
		}
	}
	r.matchedW = make(map[transport.GUID]*writer)
	d.dropTopicIfEmptyLocked(top)
	watchers := d.watcherListLocked()
	ev := readerEvent(r, true)
	d.mu.Unlock()

	notify(watchers, ev)
	for _, note := range notes {
		note()
	}
}

func (d *domain) detachWriter(w *writer) {
	d.mu.Lock()
	top := w.top
	if top == nil {
		d.mu.Unlock()
		return
	}
	delete(top.writers, w.guid)
	var notes []func()
	for _, r := range w.matchedR {
		delete(r.matchedW, w.guid)
		if r.listener != nil {
			count := len(r.matchedW)
			rr := r
			notes = append(notes, func() { rr.listener.OnReaderMatched(rr, count) })
		}
	}
	w.matchedR = make(map[transport.GUID]*reader)
	d.dropTopicIfEmptyLocked(top)
	watchers := d.watcherListLocked()
	ev := writerEvent(w, true)
	d.mu.Unlock()

	notify(watchers, ev)
	for _, note := range notes {
		note()
	}
}

type reader struct {
	dom      *domain
	part     *participant
	top      *topic
	guid     transport.GUID
	attrs    transport.ReaderAttributes
	listener transport.ReaderListener

	mu      sync.Mutex
	queue   []transport.Sample
	dropped uint64
	closed  bool

	matchedW map[transport.GUID]*writer
}

// GUID returns the reader identity.
func (r *reader) GUID() transport.GUID {
	return r.guid
}

// Take removes and returns the oldest buffered sample.
func (r *reader) Take() (transport.Sample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return transport.Sample{}, false
	}
	s := r.queue[0]
	r.queue = append(r.queue[:0], r.queue[1:]...)
	return s, true
}

// MatchedWriters returns the number of currently matched writers.
func (r *reader) MatchedWriters() int {
	r.dom.mu.Lock()
	defer r.dom.mu.Unlock()
	return len(r.matchedW)
}

// Dropped returns how many samples were discarded due to history overflow.
func (r *reader) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// push buffers a sample according to the history policy. It reports whether
// the reader accepted the sample.
func (r *reader) push(s transport.Sample) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	if r.attrs.QoS.History == transport.HistoryKeepLast {
		depth := int(r.attrs.QoS.Depth)
		if len(r.queue) >= depth {
			drop := len(r.queue) - depth + 1
			r.queue = append(r.queue[:0], r.queue[drop:]...)
			r.dropped += uint64(drop)
		}
	}
	r.queue = append(r.queue, s)
	return true
}

// Close detaches the reader from its topic. Close is idempotent.
func (r *reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.queue = nil
	r.mu.Unlock()

	r.dom.detachReader(r)

	r.part.mu.Lock()
	delete(r.part.readers, r.guid)
	r.part.mu.Unlock()
	return nil
}

type writer struct {
	dom      *domain
	part     *participant
	top      *topic
	guid     transport.GUID
	attrs    transport.WriterAttributes
	listener transport.WriterListener

	// deliverMu serializes whole deliveries so samples of one writer reach
	// every reader in sequence order even under concurrent writes.
	deliverMu sync.Mutex

	mu      sync.Mutex
	seq     uint64
	history []transport.Sample
	closed  bool

	matchedR map[transport.GUID]*reader
}

// GUID returns the writer identity.
func (w *writer) GUID() transport.GUID {
	return w.guid
}

// MatchedReaders returns the number of currently matched readers.
func (w *writer) MatchedReaders() int {
	w.dom.mu.Lock()
	defer w.dom.mu.Unlock()
	return len(w.matchedR)
}

// Write delivers the payload to every matched reader.
func (w *writer) Write(payload []byte) error {
	w.deliverMu.Lock()
	defer w.deliverMu.Unlock()

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("writer %s closed", w.guid)
	}
	w.seq++
	sample := transport.Sample{
		Payload:        append([]byte(nil), payload...),
		Writer:         w.guid,
		Timestamp:      time.Now(),
		SequenceNumber: w.seq,
	}
	if w.attrs.QoS.Durability == transport.DurabilityTransientLocal {
		w.history = append(w.history, sample)
		if w.attrs.QoS.History == transport.HistoryKeepLast {
			if depth := int(w.attrs.QoS.Depth); len(w.history) > depth {
				w.history = append(w.history[:0], w.history[len(w.history)-depth:]...)
			}
		}
	}
	w.mu.Unlock()

	w.dom.mu.Lock()
	readers := make([]*reader, 0, len(w.matchedR))
	for _, r := range w.matchedR {
		readers = append(readers, r)
	}
	w.dom.mu.Unlock()
	sort.Slice(readers, func(i, j int) bool {
		return bytes.Compare(readers[i].guid[:], readers[j].guid[:]) < 0
	})

	for _, r := range readers {
		if r.push(sample) && r.listener != nil {
			r.listener.OnDataAvailable(r)
		}
	}
	return nil
}

// replayTo pushes the retained transient-local history to a late joiner.
// Replay competes with live writes; a sample written during the handover may
// arrive before the replayed history.
func (w *writer) replayTo(r *reader) {
	w.deliverMu.Lock()
	defer w.deliverMu.Unlock()

	w.mu.Lock()
	history := make([]transport.Sample, len(w.history))
	copy(history, w.history)
	w.mu.Unlock()

	for _, sample := range history {
		if r.push(sample) && r.listener != nil {
			r.listener.OnDataAvailable(r)
		}
	}
}

// Close detaches the writer from its topic. Close is idempotent.
func (w *writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.history = nil
	w.mu.Unlock()

	w.dom.detachWriter(w)

	w.part.mu.Lock()
	delete(w.part.writers, w.guid)
	w.part.mu.Unlock()
	return nil
}
