package service

import (
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// replyProgram computes a service reply from a decoded request. An empty
// expression echoes the request back.
type replyProgram struct {
	program *vm.Program
}

func compileReplyExpression(source string) (*replyProgram, error) {
	if source == "" {
		return &replyProgram{}, nil
	}
	program, err := expr.Compile(source, expr.Env(map[string]interface{}{}), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile expression: %w", err)
	}
	return &replyProgram{program: program}, nil
}

func (r *replyProgram) evaluate(req interface{}, now time.Time) (map[string]interface{}, error) {
	if r.program == nil {
		if reply, ok := req.(map[string]interface{}); ok {
			return reply, nil
		}
		return map[string]interface{}{"result": req}, nil
	}
	env := map[string]interface{}{
		"req": req,
		"now": now,
	}
	result, err := vm.Run(r.program, env)
	if err != nil {
		return nil, err
	}
	switch v := result.(type) {
	case map[string]interface{}:
		return v, nil
	case nil:
		return nil, fmt.Errorf("expression produced no reply")
	default:
		return map[string]interface{}{"result": v}, nil
	}
}
