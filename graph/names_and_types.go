// Package graph maintains the node graph cache: which participants, nodes,
// readers and writers exist in the domain, and how they map onto
// graph-visible names. The cache is fed by transport discovery and by
// participant info messages; queries run against the cached state only and
// never touch the transport.
package graph

import (
	"errors"
	"sort"
)

// ErrDestinationNotZero is returned when a query destination already holds
// entries. Results are populated exactly once into a zero destination.
var ErrDestinationNotZero = errors.New("names-and-types destination is not zero")

// ErrNodeNotFound is returned by by-node queries when no node with the
// requested name and namespace exists in the graph.
var ErrNodeNotFound = errors.New("node not found in graph")

// NamesAndTypes collects graph names together with the set of type names
// seen under each of them. The zero value is empty and ready to be filled
// by a query.
type NamesAndTypes struct {
	entries map[string]map[string]struct{}
}

// Zero reports whether the collection has never been populated. Queries
// demand zero destinations so stale entries cannot leak into results.
func (nt *NamesAndTypes) Zero() bool {
	return nt == nil || nt.entries == nil
}

// Reset returns the collection to its zero state so it can be reused.
func (nt *NamesAndTypes) Reset() {
	if nt == nil {
		return
	}
	nt.entries = nil
}

func (nt *NamesAndTypes) add(name, typeName string) {
	if nt.entries == nil {
		nt.entries = make(map[string]map[string]struct{})
	}
	types, ok := nt.entries[name]
	if !ok {
		types = make(map[string]struct{})
		nt.entries[name] = types
	}
	types[typeName] = struct{}{}
}

// Len returns the number of distinct names.
func (nt *NamesAndTypes) Len() int {
	if nt == nil {
		return 0
	}
	return len(nt.entries)
}

// Names returns the collected names in sorted order.
func (nt *NamesAndTypes) Names() []string {
	if nt == nil || len(nt.entries) == 0 {
		return nil
	}
	names := make([]string, 0, len(nt.entries))
	for name := range nt.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Types returns the sorted type names recorded under a name.
func (nt *NamesAndTypes) Types(name string) []string {
	if nt == nil {
		return nil
	}
	set, ok := nt.entries[name]
	if !ok {
		return nil
	}
	types := make([]string, 0, len(set))
	for typeName := range set {
		types = append(types, typeName)
	}
	sort.Strings(types)
	return types
}
