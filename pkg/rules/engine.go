package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/Mindburn-Labs/dccvalidate/pkg/certlogic"
)

// Engine evaluates a rule's logic against the evaluation context
// {"payload": ..., "external": ...}.
type Engine interface {
	Name() string
	Evaluate(logic any, data map[string]any) (any, error)
}

// CertLogicEngine evaluates CertLogic expressions.
type CertLogicEngine struct{}

func (CertLogicEngine) Name() string { return EngineCertLogic }

func (CertLogicEngine) Evaluate(logic any, data map[string]any) (any, error) {
	return certlogic.Evaluate(logic, data)
}

// CELEngine evaluates rules whose logic is a CEL expression over the
// variables payload and external. Compiled programs are cached by source.
type CELEngine struct {
	env      *cel.Env
	programs sync.Map // string -> cel.Program
}

// NewCELEngine creates a CEL engine.
func NewCELEngine() (*CELEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("external", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, err
	}
	return &CELEngine{env: env}, nil
}

func (e *CELEngine) Name() string { return EngineCEL }

func (e *CELEngine) Evaluate(logic any, data map[string]any) (any, error) {
	expr, ok := logic.(string)
	if !ok {
		return nil, fmt.Errorf("cel: logic must be a string expression, got %T", logic)
	}

	prg, err := e.program(expr)
	if err != nil {
		return nil, err
	}

	val, _, err := prg.Eval(map[string]any{
		"payload":  data["payload"],
		"external": data["external"],
	})
	if err != nil {
		return nil, fmt.Errorf("cel: runtime error: %w", err)
	}
	return val.Value(), nil
}

func (e *CELEngine) program(expr string) (cel.Program, error) {
	if p, ok := e.programs.Load(expr); ok {
		return p.(cel.Program), nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel: compile: %w", issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("cel: program: %w", err)
	}
	e.programs.Store(expr, prg)
	return prg, nil
}
