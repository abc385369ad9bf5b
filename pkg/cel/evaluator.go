package cel

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"homeflow/pkg/models"
)

// Evaluator compiles boolean conditions over home events. Compiled programs
// are cached by expression text.
type Evaluator struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("connection_id", cel.StringType),
		cel.Variable("event_type", cel.StringType),
		cel.Variable("entity_id", cel.StringType),
		cel.Variable("old_state", cel.StringType),
		cel.Variable("new_state", cel.StringType),
		cel.Variable("timestamp", cel.TimestampType),
		cel.Variable("attributes", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

func (e *Evaluator) ValidateExpression(expression string) error {
	_, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}
	return nil
}

func (e *Evaluator) ValidateFilterExpression(expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	return nil
}

func (e *Evaluator) EvaluateFilter(ctx context.Context, expression string, evt models.Event) (bool, error) {
	program, err := e.program(expression)
	if err != nil {
		return false, err
	}

	result, _, err := program.ContextEval(ctx, eventVars(evt))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

func (e *Evaluator) program(expression string) (cel.Program, error) {
	e.mu.RLock()
	program, ok := e.programs[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	e.mu.Lock()
	e.programs[expression] = program
	e.mu.Unlock()

	return program, nil
}

// Forget drops cached programs, typically after a rule reload.
func (e *Evaluator) Forget() {
	e.mu.Lock()
	e.programs = make(map[string]cel.Program)
	e.mu.Unlock()
}

func eventVars(evt models.Event) map[string]interface{} {
	attrs := evt.Attributes
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	return map[string]interface{}{
		"id":            evt.ID,
		"connection_id": evt.ConnectionID,
		"event_type":    evt.EventType,
		"entity_id":     evt.EntityID,
		"old_state":     evt.OldState,
		"new_state":     evt.NewState,
		"timestamp":     evt.Timestamp,
		"attributes":    attrs,
	}
}
