package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

var (
	schemaOnce  sync.Once
	schemaValue cue.Value
	schemaErr   error
)

func configSchema() (cue.Value, error) {
	schemaOnce.Do(func() {
		ctx := cuecontext.New()
		compiled := ctx.CompileString(moduleOverlayContent, cue.Filename(moduleOverlayPath))
		if err := compiled.Err(); err != nil {
			schemaErr = err
			return
		}
		schemaValue = compiled.LookupPath(cue.ParsePath("#Config"))
		schemaErr = schemaValue.Err()
	})
	return schemaValue, schemaErr
}

// validateAgainstSchema checks a raw configuration document against the CUE
// schema before decoding. Structural mistakes like a misspelled enum value
// surface here with the schema's wording instead of a zero-value surprise
// later.
func validateAgainstSchema(root *yaml.Node) error {
	schema, err := configSchema()
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	var doc map[string]interface{}
	if err := root.Decode(&doc); err != nil {
		return fmt.Errorf("decode for schema validation: %w", err)
	}
	encoded := schema.Context().Encode(doc)
	if err := encoded.Err(); err != nil {
		return fmt.Errorf("encode for schema validation: %w", err)
	}
	if err := schema.Unify(encoded).Validate(); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}
