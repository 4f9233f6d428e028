package generators

import (
	"fmt"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

type exprField struct {
	name    string
	program *vm.Program
}

// exprGenerator evaluates one compiled expression per payload field. The
// environment exposes the cycle context and previously produced values, so
// fields can build on each other and on the previous payload.
type exprGenerator struct {
	id     string
	fields []exprField
}

func newExprGenerator(instanceID string, settings map[string]interface{}) (Generator, error) {
	rawFields, err := getMap(settings, "fields")
	if err != nil {
		return nil, err
	}
	if len(rawFields) == 0 {
		return nil, fmt.Errorf("expr generator %s requires at least one field", instanceID)
	}
	names := make([]string, 0, len(rawFields))
	for name := range rawFields {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]exprField, 0, len(names))
	for _, name := range names {
		source, err := getString(rawFields, name, "")
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		if source == "" {
			return nil, fmt.Errorf("field %s: expression must not be empty", name)
		}
		program, err := expr.Compile(source, expr.Env(map[string]interface{}{}), expr.AllowUndefinedVariables())
		if err != nil {
			return nil, fmt.Errorf("field %s: compile: %w", name, err)
		}
		fields = append(fields, exprField{name: name, program: program})
	}
	return &exprGenerator{id: instanceID, fields: fields}, nil
}

func (g *exprGenerator) ID() string { return g.id }

func (g *exprGenerator) Next(ctx Context) (map[string]interface{}, error) {
	payload := make(map[string]interface{}, len(g.fields))
	env := map[string]interface{}{
		"now":   ctx.Now,
		"seq":   ctx.Seq,
		"delta": ctx.Delta.Seconds(),
		"last":  ctx.Last,
	}
	for _, field := range g.fields {
		env["self"] = previousValue(ctx.Last, field.name)
		value, err := vm.Run(field.program, env)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.name, err)
		}
		payload[field.name] = value
		// Later fields see the values produced before them.
		env[field.name] = value
	}
	return payload, nil
}

func previousValue(last map[string]interface{}, field string) interface{} {
	if last == nil {
		return nil
	}
	return last[field]
}

func init() {
	Register("expr", newExprGenerator)
}
