package bus

import (
	"sync"

	"github.com/timzifer/nodebus/transport"
)

// subscriptionListener buffers delivered samples for a subscription and
// surfaces match changes. Callbacks run on transport goroutines; the
// listener only moves samples into its queue and invokes the user hooks,
// it never blocks on application work.
type subscriptionListener struct {
	support   transport.TypeSupport
	depth     int
	ownPrefix [transport.PrefixLen]byte

	ignoreLocal bool
	onMessage   func(msg interface{})
	onMatched   func(matched int)

	mu      sync.Mutex
	queue   []transport.Sample
	dropped uint64
	matched int
}

func newSubscriptionListener(support transport.TypeSupport, depth int, own transport.GUID, opts SubscriptionOptions) *subscriptionListener {
	return &subscriptionListener{
		support:     support,
		depth:       depth,
		ownPrefix:   own.Prefix(),
		ignoreLocal: opts.IgnoreLocalPublications,
		onMessage:   opts.OnMessage,
		onMatched:   opts.OnMatched,
	}
}

// OnDataAvailable drains the reader into the listener queue. A bounded
// queue drops its oldest entries on overflow and accounts for them.
func (l *subscriptionListener) OnDataAvailable(r transport.Reader) {
	for {
		sample, ok := r.Take()
		if !ok {
			return
		}
		if l.ignoreLocal && sample.Writer.Prefix() == l.ownPrefix {
			continue
		}
		l.mu.Lock()
		if l.depth > 0 && len(l.queue) >= l.depth {
			drop := len(l.queue) - l.depth + 1
			l.queue = append(l.queue[:0], l.queue[drop:]...)
			l.dropped += uint64(drop)
		}
		l.queue = append(l.queue, sample)
		l.mu.Unlock()

		if l.onMessage != nil {
			if msg, err := l.support.Deserialize(sample.Payload); err == nil {
				l.onMessage(msg)
			}
		}
	}
}

// OnReaderMatched records the current match count.
func (l *subscriptionListener) OnReaderMatched(_ transport.Reader, matched int) {
	l.mu.Lock()
	l.matched = matched
	l.mu.Unlock()
	if l.onMatched != nil {
		l.onMatched(matched)
	}
}

func (l *subscriptionListener) take() (transport.Sample, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return transport.Sample{}, false
	}
	sample := l.queue[0]
	l.queue = append(l.queue[:0], l.queue[1:]...)
	return sample, true
}

func (l *subscriptionListener) droppedCount() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

func (l *subscriptionListener) matchedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.matched
}

var _ transport.ReaderListener = (*subscriptionListener)(nil)

// publisherListener surfaces writer match changes.
type publisherListener struct {
	onMatched func(matched int)

	mu      sync.Mutex
	matched int
}

func newPublisherListener(opts PublisherOptions) *publisherListener {
	return &publisherListener{onMatched: opts.OnMatched}
}

// OnWriterMatched records the current match count.
func (l *publisherListener) OnWriterMatched(_ transport.Writer, matched int) {
	l.mu.Lock()
	l.matched = matched
	l.mu.Unlock()
	if l.onMatched != nil {
		l.onMatched(matched)
	}
}

func (l *publisherListener) matchedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.matched
}

var _ transport.WriterListener = (*publisherListener)(nil)
