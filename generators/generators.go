// Package generators provides the payload generators that drive configured
// publishers and clients. Generators are registered under a stable type id so
// the service can instantiate them from configuration.
package generators

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Context carries the per-cycle state a generator may use to produce the next
// payload.
type Context struct {
	Now   time.Time
	Delta time.Duration
	Seq   uint64
	Last  map[string]interface{}
}

// Generator produces the payload for one publish cycle.
//
// Implementations should be deterministic for a given context where possible,
// avoid blocking, and be safe for repeated calls with advancing sequence
// numbers.
type Generator interface {
	ID() string
	Next(ctx Context) (map[string]interface{}, error)
}

// Factory creates generator instances from configuration data.
type Factory func(instanceID string, settings map[string]interface{}) (Generator, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a generator factory under the provided type id. Registering an
// empty id, a nil factory, or a duplicate id panics.
func Register(id string, factory Factory) {
	if id == "" {
		panic("generator id must not be empty")
	}
	if factory == nil {
		panic("generator factory must not be nil")
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[id]; exists {
		panic(fmt.Sprintf("generator factory for %s already registered", id))
	}
	registry[id] = factory
}

// Instantiate creates a generator of the given type.
func Instantiate(id, instanceID string, settings map[string]interface{}) (Generator, error) {
	registryMu.RLock()
	factory, ok := registry[id]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("generator type %s not registered", id)
	}
	return factory(instanceID, settings)
}

// RegisteredIDs returns the known generator type ids in sorted order.
func RegisteredIDs() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
