// Package qos defines quality-of-service profiles for endpoints and their
// validation. Profiles are transport-agnostic; the adapter translates them
// into transport attributes when an endpoint is created.
package qos

import (
	"fmt"
	"math"
	"time"
)

// History controls how many samples an endpoint retains.
type History string

const (
	// HistorySystemDefault leaves the retention policy to the transport.
	HistorySystemDefault History = "system_default"
	// HistoryKeepLast retains the most recent Depth samples.
	HistoryKeepLast History = "keep_last"
	// HistoryKeepAll retains every sample until delivered.
	HistoryKeepAll History = "keep_all"
)

// Reliability controls the delivery guarantee of an endpoint.
type Reliability string

const (
	// ReliabilitySystemDefault leaves the delivery guarantee to the transport.
	ReliabilitySystemDefault Reliability = "system_default"
	// ReliabilityReliable retries delivery until acknowledged.
	ReliabilityReliable Reliability = "reliable"
	// ReliabilityBestEffort delivers samples at most once.
	ReliabilityBestEffort Reliability = "best_effort"
)

// Durability controls whether late joiners receive historic samples.
type Durability string

const (
	// DurabilitySystemDefault leaves durability to the transport.
	DurabilitySystemDefault Durability = "system_default"
	// DurabilityVolatile delivers only samples written after matching.
	DurabilityVolatile Durability = "volatile"
	// DurabilityTransientLocal replays writer history to late joiners.
	DurabilityTransientLocal Durability = "transient_local"
)

// Liveliness controls how a writer asserts it is alive.
type Liveliness string

const (
	// LivelinessSystemDefault leaves liveliness to the transport.
	LivelinessSystemDefault Liveliness = "system_default"
	// LivelinessAutomatic asserts liveliness on every write.
	LivelinessAutomatic Liveliness = "automatic"
	// LivelinessManualByTopic requires explicit assertions per topic.
	LivelinessManualByTopic Liveliness = "manual_by_topic"
)

// MaxHistoryDepth is the largest supported keep-last depth.
const MaxHistoryDepth = math.MaxInt32

// Profile bundles the quality-of-service settings of an endpoint.
// Zero-valued durations mean unspecified and inherit transport defaults.
type Profile struct {
	History       History
	Depth         int
	Reliability   Reliability
	Durability    Durability
	Deadline      time.Duration
	Lifespan      time.Duration
	Liveliness    Liveliness
	LeaseDuration time.Duration

	// AvoidConventions disables graph name mangling for the endpoint. The
	// endpoint then talks on the raw transport topic and stays invisible
	// to graph queries.
	AvoidConventions bool

	// LeaveTransportDefaults skips the adapter's history memory tuning
	// and keeps the transport's own allocation behaviour.
	LeaveTransportDefaults bool
}

// DefaultProfile returns the profile applied when an endpoint does not
// request anything specific.
func DefaultProfile() Profile {
	return Profile{
		History:     HistoryKeepLast,
		Depth:       10,
		Reliability: ReliabilityReliable,
		Durability:  DurabilityVolatile,
		Liveliness:  LivelinessSystemDefault,
	}
}

// SensorDataProfile returns a lossy profile for high-rate sensor streams.
func SensorDataProfile() Profile {
	return Profile{
		History:     HistoryKeepLast,
		Depth:       5,
		Reliability: ReliabilityBestEffort,
		Durability:  DurabilityVolatile,
		Liveliness:  LivelinessSystemDefault,
	}
}

// ServicesProfile returns the profile used for service request and reply legs.
func ServicesProfile() Profile {
	return Profile{
		History:     HistoryKeepLast,
		Depth:       10,
		Reliability: ReliabilityReliable,
		Durability:  DurabilityVolatile,
		Liveliness:  LivelinessSystemDefault,
	}
}

// ParseHistory normalises the textual representation of a history policy.
func ParseHistory(value string) (History, error) {
	if value == "" {
		return HistorySystemDefault, nil
	}
	switch History(value) {
	case HistorySystemDefault, HistoryKeepLast, HistoryKeepAll:
		return History(value), nil
	default:
		return "", fmt.Errorf("unknown history policy %q", value)
	}
}

// ParseReliability normalises the textual representation of a reliability policy.
func ParseReliability(value string) (Reliability, error) {
	if value == "" {
		return ReliabilitySystemDefault, nil
	}
	switch Reliability(value) {
	case ReliabilitySystemDefault, ReliabilityReliable, ReliabilityBestEffort:
		return Reliability(value), nil
	default:
		return "", fmt.Errorf("unknown reliability policy %q", value)
	}
}

// ParseDurability normalises the textual representation of a durability policy.
func ParseDurability(value string) (Durability, error) {
	if value == "" {
		return DurabilitySystemDefault, nil
	}
	switch Durability(value) {
	case DurabilitySystemDefault, DurabilityVolatile, DurabilityTransientLocal:
		return Durability(value), nil
	default:
		return "", fmt.Errorf("unknown durability policy %q", value)
	}
}

// ParseLiveliness normalises the textual representation of a liveliness policy.
func ParseLiveliness(value string) (Liveliness, error) {
	if value == "" {
		return LivelinessSystemDefault, nil
	}
	switch Liveliness(value) {
	case LivelinessSystemDefault, LivelinessAutomatic, LivelinessManualByTopic:
		return Liveliness(value), nil
	default:
		return "", fmt.Errorf("unknown liveliness policy %q", value)
	}
}

// Validate checks the profile for inconsistent settings. Endpoint creation
// rejects invalid profiles before touching the transport.
func (p Profile) Validate() error {
	if _, err := ParseHistory(string(p.History)); err != nil {
		return err
	}
	if _, err := ParseReliability(string(p.Reliability)); err != nil {
		return err
	}
	if _, err := ParseDurability(string(p.Durability)); err != nil {
		return err
	}
	if _, err := ParseLiveliness(string(p.Liveliness)); err != nil {
		return err
	}
	if p.Depth < 0 || p.Depth > MaxHistoryDepth {
		return fmt.Errorf("history depth %d out of range", p.Depth)
	}
	if p.History == HistoryKeepLast && p.Depth == 0 {
		return fmt.Errorf("keep_last history requires a positive depth")
	}
	if p.Deadline < 0 {
		return fmt.Errorf("deadline must not be negative")
	}
	if p.Lifespan < 0 {
		return fmt.Errorf("lifespan must not be negative")
	}
	if p.LeaseDuration < 0 {
		return fmt.Errorf("lease duration must not be negative")
	}
	if p.Liveliness == LivelinessManualByTopic && p.LeaseDuration == 0 {
		return fmt.Errorf("manual liveliness requires a lease duration")
	}
	return nil
}
