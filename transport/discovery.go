package transport

// DiscoveryEventKind enumerates the entity kinds surfaced by discovery.
type DiscoveryEventKind string

const (
	DiscoveryParticipant DiscoveryEventKind = "participant"
	DiscoveryReader      DiscoveryEventKind = "reader"
	DiscoveryWriter      DiscoveryEventKind = "writer"
)

// DiscoveryEvent reports a transport entity appearing in or disappearing
// from the domain. Topic and QoS are only set for reader and writer events.
type DiscoveryEvent struct {
	Kind        DiscoveryEventKind
	Removed     bool
	Participant GUID
	Entity      GUID
	Topic       TopicAttributes
	QoS         EndpointQoS
}

// DiscoverySource is implemented by participants that surface domain
// discovery. WatchDiscovery replays the current domain state as synthetic
// events before delivering live changes, so subscribers never miss entities
// that existed beforehand. The returned cancel function detaches the
// watcher and is idempotent.
//
// Events include the caller's own entities; subscribers filter by
// participant GUID when they only care about remote ones.
type DiscoverySource interface {
	WatchDiscovery(fn func(DiscoveryEvent)) (cancel func(), err error)
}
