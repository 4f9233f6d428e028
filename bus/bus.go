// Package bus implements the node-centric publish/subscribe adapter on top
// of a topic-based transport. A Connection wraps one transport participant
// and owns the graph cache for its domain; Nodes created on the connection
// group endpoints for graph attribution. Endpoint creation is a multi-step
// acquisition against the participant with full rollback on any failure,
// and graph queries dispatch onto the shared cache with per-kind name
// demangling.
package bus

import "errors"

// implementationID tags every handle produced by this adapter. Operations
// reject handles carrying a foreign tag before touching any collaborator.
const implementationID = "nodebus"

// ErrInvalidArgument is returned when a required input is nil, empty or a
// query destination is already populated.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrIdentityMismatch is returned when a handle belongs to a different
// adapter implementation. It is distinct from ErrInvalidArgument because it
// indicates cross-adapter misuse rather than a plain caller bug.
var ErrIdentityMismatch = errors.New("handle not from this implementation")

// ErrTypeSupportMismatch is returned when a type descriptor offers neither
// the native nor the legacy type support encoding.
var ErrTypeSupportMismatch = errors.New("type support not from this implementation")

// ErrClosed is returned for operations on a closed handle.
var ErrClosed = errors.New("handle is closed")
