package graph

import (
	"bytes"
	"sort"
	"sync"

	"github.com/timzifer/nodebus/naming"
	"github.com/timzifer/nodebus/transport"
)

// EndpointKind distinguishes reader from writer entries.
type EndpointKind string

const (
	EndpointReader EndpointKind = "reader"
	EndpointWriter EndpointKind = "writer"
)

// EndpointInfo describes one cached transport endpoint.
type EndpointInfo struct {
	GUID        transport.GUID
	Participant transport.GUID
	Kind        EndpointKind
	TopicName   string
	TypeName    string
	QoS         transport.EndpointQoS
}

// NodeEntities describes one node of a participant together with the
// endpoints attributed to it. Participant info messages carry a full list
// of these per participant.
type NodeEntities struct {
	Name      string
	Namespace string
	Readers   []transport.GUID
	Writers   []transport.GUID
}

// NodeInfo summarises a cached node for listings.
type NodeInfo struct {
	Name      string
	Namespace string
	Readers   int
	Writers   int
}

// Stats summarises the cache for telemetry.
type Stats struct {
	Participants int
	Nodes        int
	Readers      int
	Writers      int
}

type nodeRecord struct {
	name      string
	namespace string
	readers   map[transport.GUID]struct{}
	writers   map[transport.GUID]struct{}
}

// Cache is the shared graph state of a connection. All methods are safe for
// concurrent use; mutations come from discovery callbacks while queries run
// on caller goroutines.
type Cache struct {
	mu           sync.RWMutex
	participants map[transport.GUID]struct{}
	nodesByPart  map[transport.GUID][]*nodeRecord
	readers      map[transport.GUID]*EndpointInfo
	writers      map[transport.GUID]*EndpointInfo

	onChange func()
}

// NewCache creates an empty graph cache.
func NewCache() *Cache {
	return &Cache{
		participants: make(map[transport.GUID]struct{}),
		nodesByPart:  make(map[transport.GUID][]*nodeRecord),
		readers:      make(map[transport.GUID]*EndpointInfo),
		writers:      make(map[transport.GUID]*EndpointInfo),
	}
}

// SetOnChange registers a callback invoked after every mutation. The
// callback runs without cache locks held and must be set before the cache
// receives traffic.
func (c *Cache) SetOnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

func (c *Cache) changed() {
	c.mu.RLock()
	fn := c.onChange
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// AddParticipant records a participant in the domain.
func (c *Cache) AddParticipant(guid transport.GUID) {
	c.mu.Lock()
	c.participants[guid] = struct{}{}
	c.mu.Unlock()
	c.changed()
}

// RemoveParticipant drops a participant and its node attributions. Endpoint
// entries are removed by their own discovery events.
func (c *Cache) RemoveParticipant(guid transport.GUID) {
	c.mu.Lock()
	delete(c.participants, guid)
	delete(c.nodesByPart, guid)
	c.mu.Unlock()
	c.changed()
}

// AddReader records a discovered reader endpoint.
func (c *Cache) AddReader(info EndpointInfo) {
	info.Kind = EndpointReader
	c.mu.Lock()
	c.readers[info.GUID] = &info
	c.mu.Unlock()
	c.changed()
}

// AddWriter records a discovered writer endpoint.
func (c *Cache) AddWriter(info EndpointInfo) {
	info.Kind = EndpointWriter
	c.mu.Lock()
	c.writers[info.GUID] = &info
	c.mu.Unlock()
	c.changed()
}

// RemoveReader drops a reader endpoint.
func (c *Cache) RemoveReader(guid transport.GUID) {
	c.mu.Lock()
	delete(c.readers, guid)
	c.mu.Unlock()
	c.changed()
}

// RemoveWriter drops a writer endpoint.
func (c *Cache) RemoveWriter(guid transport.GUID) {
	c.mu.Lock()
	delete(c.writers, guid)
	c.mu.Unlock()
	c.changed()
}

// UpdateParticipantNodes replaces the node list attributed to a participant.
// Participant info messages always carry the complete list, so the previous
// state is discarded wholesale.
func (c *Cache) UpdateParticipantNodes(participant transport.GUID, nodes []NodeEntities) {
	records := make([]*nodeRecord, 0, len(nodes))
	for _, node := range nodes {
		rec := &nodeRecord{
			name:      node.Name,
			namespace: node.Namespace,
			readers:   make(map[transport.GUID]struct{}, len(node.Readers)),
			writers:   make(map[transport.GUID]struct{}, len(node.Writers)),
		}
		for _, guid := range node.Readers {
			rec.readers[guid] = struct{}{}
		}
		for _, guid := range node.Writers {
			rec.writers[guid] = struct{}{}
		}
		records = append(records, rec)
	}
	c.mu.Lock()
	c.participants[participant] = struct{}{}
	c.nodesByPart[participant] = records
	c.mu.Unlock()
	c.changed()
}

func (c *Cache) findNodeLocked(name, namespace string) *nodeRecord {
	parts := make([]transport.GUID, 0, len(c.nodesByPart))
	for guid := range c.nodesByPart {
		parts = append(parts, guid)
	}
	sort.Slice(parts, func(i, j int) bool {
		return bytes.Compare(parts[i][:], parts[j][:]) < 0
	})
	for _, guid := range parts {
		for _, rec := range c.nodesByPart[guid] {
			if rec.name == name && rec.namespace == namespace {
				return rec
			}
		}
	}
	return nil
}

func fillFromGids(dst *NamesAndTypes, gids map[transport.GUID]struct{}, entities map[transport.GUID]*EndpointInfo, demangleTopic, demangleType naming.DemangleFunc) {
	for guid := range gids {
		info, ok := entities[guid]
		if !ok {
			continue
		}
		name := demangleTopic(info.TopicName)
		if name == "" {
			continue
		}
		typeName := demangleType(info.TypeName)
		if typeName == "" {
			continue
		}
		dst.add(name, typeName)
	}
}

// ReaderNamesAndTypesByNode fills dst with the demangled topic names and
// types of the readers attributed to the named node.
func (c *Cache) ReaderNamesAndTypesByNode(nodeName, namespace string, demangleTopic, demangleType naming.DemangleFunc, dst *NamesAndTypes) error {
	return c.namesAndTypesByNode(nodeName, namespace, demangleTopic, demangleType, dst, EndpointReader)
}

// WriterNamesAndTypesByNode fills dst with the demangled topic names and
// types of the writers attributed to the named node.
func (c *Cache) WriterNamesAndTypesByNode(nodeName, namespace string, demangleTopic, demangleType naming.DemangleFunc, dst *NamesAndTypes) error {
	return c.namesAndTypesByNode(nodeName, namespace, demangleTopic, demangleType, dst, EndpointWriter)
}

func (c *Cache) namesAndTypesByNode(nodeName, namespace string, demangleTopic, demangleType naming.DemangleFunc, dst *NamesAndTypes, kind EndpointKind) error {
	if !dst.Zero() {
		return ErrDestinationNotZero
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec := c.findNodeLocked(nodeName, namespace)
	if rec == nil {
		return ErrNodeNotFound
	}
	if kind == EndpointReader {
		fillFromGids(dst, rec.readers, c.readers, demangleTopic, demangleType)
	} else {
		fillFromGids(dst, rec.writers, c.writers, demangleTopic, demangleType)
	}
	return nil
}

// TopicNamesAndTypes fills dst with every topic seen on any endpoint in the
// domain, demangled by the given policies.
func (c *Cache) TopicNamesAndTypes(demangleTopic, demangleType naming.DemangleFunc, dst *NamesAndTypes) error {
	if !dst.Zero() {
		return ErrDestinationNotZero
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, entities := range []map[transport.GUID]*EndpointInfo{c.readers, c.writers} {
		for _, info := range entities {
			name := demangleTopic(info.TopicName)
			if name == "" {
				continue
			}
			typeName := demangleType(info.TypeName)
			if typeName == "" {
				continue
			}
			dst.add(name, typeName)
		}
	}
	return nil
}

// ServiceNamesAndTypes fills dst with every service visible in the domain,
// derived from the request and reply legs of its endpoints.
func (c *Cache) ServiceNamesAndTypes(dst *NamesAndTypes) error {
	if !dst.Zero() {
		return ErrDestinationNotZero
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, entities := range []map[transport.GUID]*EndpointInfo{c.readers, c.writers} {
		for _, info := range entities {
			name := naming.DemangleServiceRequest(info.TopicName)
			if name == "" {
				name = naming.DemangleServiceReply(info.TopicName)
			}
			if name == "" {
				continue
			}
			typeName := naming.DemangleServiceTypeOnly(info.TypeName)
			if typeName == "" {
				continue
			}
			dst.add(name, typeName)
		}
	}
	return nil
}

// CountReaders returns the number of readers on the given transport topic.
func (c *Cache) CountReaders(topicName string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	count := 0
	for _, info := range c.readers {
		if info.TopicName == topicName {
			count++
		}
	}
	return count
}

// CountWriters returns the number of writers on the given transport topic.
func (c *Cache) CountWriters(topicName string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	count := 0
	for _, info := range c.writers {
		if info.TopicName == topicName {
			count++
		}
	}
	return count
}

// EndpointsByTopic returns the cached endpoints of the given kind on a
// transport topic, sorted by GUID.
func (c *Cache) EndpointsByTopic(topicName string, kind EndpointKind) []EndpointInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entities := c.readers
	if kind == EndpointWriter {
		entities = c.writers
	}
	var out []EndpointInfo
	for _, info := range entities {
		if info.TopicName == topicName {
			out = append(out, *info)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].GUID[:], out[j].GUID[:]) < 0
	})
	return out
}

// Nodes lists the cached nodes sorted by namespace and name.
func (c *Cache) Nodes() []NodeInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []NodeInfo
	for _, records := range c.nodesByPart {
		for _, rec := range records {
			out = append(out, NodeInfo{
				Name:      rec.name,
				Namespace: rec.namespace,
				Readers:   len(rec.readers),
				Writers:   len(rec.writers),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Namespace != out[j].Namespace {
			return out[i].Namespace < out[j].Namespace
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Snapshot returns the current cache statistics.
func (c *Cache) Snapshot() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stats := Stats{
		Participants: len(c.participants),
		Readers:      len(c.readers),
		Writers:      len(c.writers),
	}
	for _, records := range c.nodesByPart {
		stats.Nodes += len(records)
	}
	return stats
}
