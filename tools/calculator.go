package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"go/constant"
	"go/token"
	"go/types"
	"strings"
)

type CalculatorInput struct {
	Expr string `json:"expr" jsonschema_description:"Arithmetic expression, e.g. (3+4)*2 or 7/2.0. Integer division truncates."`
}

var CalculatorDefinition = ToolDefinition{
	Name:        "calculator",
	Description: "Evaluate an arithmetic expression exactly and return the numeric result.",
	InputSchema: GenerateSchema[CalculatorInput](),
	Function:    Calculate,
}

// Calculate evaluates a constant expression using Go's constant arithmetic,
// so results are exact for integers and no identifiers or calls are allowed.
func Calculate(_ context.Context, input json.RawMessage) (any, error) {
	var in CalculatorInput
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	expr := strings.TrimSpace(in.Expr)
	if expr == "" {
		return nil, errors.New("expr is required")
	}

	tv, err := types.Eval(token.NewFileSet(), nil, token.NoPos, expr)
	if err != nil {
		return nil, fmt.Errorf("invalid expression: %w", err)
	}
	if tv.Value == nil {
		return nil, fmt.Errorf("not a constant expression: %s", expr)
	}

	switch tv.Value.Kind() {
	case constant.Int:
		return json.Number(tv.Value.ExactString()), nil
	case constant.Float:
		f, _ := constant.Float64Val(tv.Value)
		return f, nil
	default:
		return nil, fmt.Errorf("expression is not numeric: %s", expr)
	}
}
