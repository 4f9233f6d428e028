package bus

import (
	"fmt"

	"github.com/timzifer/nodebus/transport"
)

// Encoding identifies the type support encoding a descriptor variant was
// produced for. Descriptors may carry several variants; resolution probes
// the native encoding first and falls back to the legacy encoding.
type Encoding string

const (
	// EncodingNative is this adapter's own type support encoding.
	EncodingNative Encoding = "nodebus/native"
	// EncodingLegacy is the compatibility encoding accepted as fallback so
	// descriptors generated for older adapter releases keep working.
	EncodingLegacy Encoding = "nodebus/legacy"
)

// TypeVariant is one encoding-specific entry of a type descriptor. Package,
// Kind and Name identify the type in the graph ("sensor_data", "msg",
// "Temperature"); Marshal and Unmarshal translate between application
// messages and wire payloads.
type TypeVariant struct {
	Encoding  Encoding
	Package   string
	Kind      string
	Name      string
	Marshal   func(msg interface{}) ([]byte, error)
	Unmarshal func(data []byte) (interface{}, error)
}

// TypeDescriptor carries the type supports offered for one message type.
// Endpoint creation resolves it against the adapter's encodings; a
// descriptor without a usable variant fails with ErrTypeSupportMismatch.
type TypeDescriptor struct {
	Variants []TypeVariant
}

// NewMessageType builds a descriptor for a message type under the native
// encoding.
func NewMessageType(pkg, name string, marshal func(interface{}) ([]byte, error), unmarshal func([]byte) (interface{}, error)) *TypeDescriptor {
	return &TypeDescriptor{Variants: []TypeVariant{{
		Encoding:  EncodingNative,
		Package:   pkg,
		Kind:      "msg",
		Name:      name,
		Marshal:   marshal,
		Unmarshal: unmarshal,
	}}}
}

// resolveVariant picks the usable variant of a descriptor. The native
// encoding is probed first; resolution order is significant because a
// descriptor may carry both and the native one is authoritative.
func resolveVariant(desc *TypeDescriptor) (*TypeVariant, error) {
	if desc == nil {
		return nil, fmt.Errorf("%w: type descriptor must not be nil", ErrInvalidArgument)
	}
	for _, enc := range []Encoding{EncodingNative, EncodingLegacy} {
		for i := range desc.Variants {
			v := &desc.Variants[i]
			if v.Encoding != enc {
				continue
			}
			if err := validateVariant(v); err != nil {
				return nil, err
			}
			return v, nil
		}
	}
	return nil, ErrTypeSupportMismatch
}

func validateVariant(v *TypeVariant) error {
	if v.Package == "" || v.Kind == "" || v.Name == "" {
		return fmt.Errorf("%w: type variant %s is missing package, kind or name", ErrInvalidArgument, v.Encoding)
	}
	if v.Marshal == nil || v.Unmarshal == nil {
		return fmt.Errorf("%w: type variant %s is missing marshal or unmarshal", ErrInvalidArgument, v.Encoding)
	}
	return nil
}

// typeSupport adapts a resolved variant to the transport type registry.
// One instance is registered per (participant, type name); the participant
// owns it for its remaining lifetime.
type typeSupport struct {
	name    string
	variant TypeVariant
}

func (t *typeSupport) Name() string {
	return t.name
}

func (t *typeSupport) Serialize(msg interface{}) ([]byte, error) {
	return t.variant.Marshal(msg)
}

func (t *typeSupport) Deserialize(data []byte) (interface{}, error) {
	return t.variant.Unmarshal(data)
}

var _ transport.TypeSupport = (*typeSupport)(nil)
