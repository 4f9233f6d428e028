package service

import (
	"encoding/json"
	"fmt"

	"github.com/timzifer/nodebus/bus"
	"github.com/timzifer/nodebus/config"
)

// The daemon speaks generic JSON payloads: every message is a map of field
// values. Typed codecs come in through the library API, not the daemon.

func jsonMarshal(msg interface{}) ([]byte, error) {
	return json.Marshal(msg)
}

func jsonUnmarshal(data []byte) (interface{}, error) {
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// messageDescriptor builds the type descriptor for a configured topic
// endpoint. The reference kind must be "msg".
func messageDescriptor(ref config.TypeRef) (*bus.TypeDescriptor, error) {
	pkg, kind, name, err := ref.Parts()
	if err != nil {
		return nil, err
	}
	if kind != "msg" {
		return nil, fmt.Errorf("type reference %q must have kind msg", string(ref))
	}
	return bus.NewMessageType(pkg, name, jsonMarshal, jsonUnmarshal), nil
}

// serviceDescriptor builds the service descriptor for a configured service
// endpoint. The reference kind must be "srv".
func serviceDescriptor(ref config.TypeRef) (*bus.ServiceDescriptor, error) {
	pkg, kind, name, err := ref.Parts()
	if err != nil {
		return nil, err
	}
	if kind != "srv" {
		return nil, fmt.Errorf("type reference %q must have kind srv", string(ref))
	}
	return &bus.ServiceDescriptor{Variants: []bus.ServiceVariant{{
		Encoding:         bus.EncodingNative,
		Package:          pkg,
		Name:             name,
		RequestMarshal:   jsonMarshal,
		RequestUnmarshal: jsonUnmarshal,
		ReplyMarshal:     jsonMarshal,
		ReplyUnmarshal:   jsonUnmarshal,
	}}}, nil
}
