// Package transport defines the contract between the adapter core and a
// topic-based transport implementation. A transport exposes participants
// that own a type registry and materialise readers and writers on named
// topics. The in-process implementation lives in transport/inmem; other
// backends plug in through the same interfaces.
package transport

import (
	"errors"
	"time"
)

// ErrTypeAlreadyRegistered is returned when a type name is registered twice
// on the same participant.
var ErrTypeAlreadyRegistered = errors.New("type already registered")

// ErrParticipantClosed is returned for operations on a closed participant.
var ErrParticipantClosed = errors.New("participant closed")

// TopicKind distinguishes keyed from unkeyed topics.
type TopicKind string

const (
	// TopicKindNoKey is the kind of plain sample streams.
	TopicKindNoKey TopicKind = "no_key"
	// TopicKindWithKey is the kind of keyed instance streams.
	TopicKindWithKey TopicKind = "with_key"
)

// HistoryKind is the transport-level retention policy. Unlike profile
// policies it has no system-default value; attribute translation resolves
// defaults before the transport sees them.
type HistoryKind string

const (
	HistoryKeepLast HistoryKind = "keep_last"
	HistoryKeepAll  HistoryKind = "keep_all"
)

// ReliabilityKind is the transport-level delivery guarantee.
type ReliabilityKind string

const (
	ReliabilityReliable   ReliabilityKind = "reliable"
	ReliabilityBestEffort ReliabilityKind = "best_effort"
)

// DurabilityKind is the transport-level late-joiner policy.
type DurabilityKind string

const (
	DurabilityVolatile       DurabilityKind = "volatile"
	DurabilityTransientLocal DurabilityKind = "transient_local"
)

// LivelinessKind is the transport-level liveliness assertion mode.
type LivelinessKind string

const (
	LivelinessAutomatic     LivelinessKind = "automatic"
	LivelinessManualByTopic LivelinessKind = "manual_by_topic"
)

// HistoryMemoryPolicy controls how an endpoint allocates sample storage.
type HistoryMemoryPolicy string

const (
	MemoryPreallocated            HistoryMemoryPolicy = "preallocated"
	MemoryPreallocatedWithRealloc HistoryMemoryPolicy = "preallocated_with_realloc"
	MemoryDynamic                 HistoryMemoryPolicy = "dynamic"
)

// TopicAttributes describe the transport topic an endpoint attaches to.
type TopicAttributes struct {
	Name     string
	TypeName string
	Kind     TopicKind
}

// EndpointQoS carries the resolved transport-level quality of service of a
// reader or writer. Zero durations mean unlimited.
type EndpointQoS struct {
	History       HistoryKind
	Depth         int32
	Reliability   ReliabilityKind
	Durability    DurabilityKind
	Deadline      time.Duration
	Lifespan      time.Duration
	Liveliness    LivelinessKind
	LeaseDuration time.Duration
}

// ReaderAttributes parameterise reader creation.
type ReaderAttributes struct {
	Topic         TopicAttributes
	QoS           EndpointQoS
	HistoryMemory HistoryMemoryPolicy
}

// WriterAttributes parameterise writer creation.
type WriterAttributes struct {
	Topic         TopicAttributes
	QoS           EndpointQoS
	HistoryMemory HistoryMemoryPolicy
}

// TypeSupport describes a message type to the transport. The adapter
// registers one instance per type name and participant; readers and writers
// reference the registration through the topic's type name.
type TypeSupport interface {
	Name() string
	Serialize(msg interface{}) ([]byte, error)
	Deserialize(data []byte) (interface{}, error)
}

// Sample carries one received payload together with its wire metadata.
type Sample struct {
	Payload        []byte
	Writer         GUID
	Timestamp      time.Time
	SequenceNumber uint64
}

// Reader consumes samples from a topic.
//
// Implementations must be safe for concurrent use; Take competes with the
// transport's delivery path. Close detaches the reader from the topic and is
// idempotent.
type Reader interface {
	GUID() GUID
	Take() (Sample, bool)
	MatchedWriters() int
	Close() error
}

// Writer produces samples on a topic.
//
// Write delivers the payload to every matched reader. Implementations must
// tolerate writes while matching changes underneath. Close is idempotent.
type Writer interface {
	GUID() GUID
	Write(payload []byte) error
	MatchedReaders() int
	Close() error
}

// ReaderListener receives reader events from the transport's delivery path.
// Callbacks run on transport goroutines and must not block.
type ReaderListener interface {
	OnDataAvailable(r Reader)
	OnReaderMatched(r Reader, matched int)
}

// WriterListener receives writer events from the transport.
type WriterListener interface {
	OnWriterMatched(w Writer, matched int)
}

// Participant is a connection into one transport domain. It owns the type
// registry and all readers and writers created through it; closing the
// participant releases them.
//
// The registry operations FindType and RegisterType are individually
// consistent, but a find-then-register sequence is not atomic. Callers that
// create endpoints concurrently have to serialise externally.
type Participant interface {
	GUID() GUID
	DefaultReaderAttributes() ReaderAttributes
	DefaultWriterAttributes() WriterAttributes
	FindType(name string) (TypeSupport, bool)
	RegisterType(ts TypeSupport) error
	CreateReader(attrs ReaderAttributes, listener ReaderListener) (Reader, error)
	CreateWriter(attrs WriterAttributes, listener WriterListener) (Writer, error)
	Close() error
}

// Factory constructs a participant joined to the given domain.
type Factory func(domain uint32) (Participant, error)
