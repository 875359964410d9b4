package tools

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/expr-lang/expr"
	"github.com/ianrichard/agentservice/errors"
)

// CalculateTool evaluates arithmetic expressions such as "2+2" or "(3 * 4) ** 2".
type CalculateTool struct{}

func (t *CalculateTool) Name() string { return "calculate" }
func (t *CalculateTool) Description() string {
	return "Evaluates an arithmetic expression and returns the result. Args: expression (string)."
}

func (t *CalculateTool) Parameters() map[string]interface{} {
	return objectSchema([]string{"expression"}, map[string]string{
		"expression": "Arithmetic expression, for example \"2+2\" or \"(3 * 4) ** 2\".",
	})
}

func (t *CalculateTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	expression, ok := stringArg(args, "expression")
	if !ok || expression == "" {
		return "", errors.New("missing or invalid 'expression' argument")
	}

	out, err := expr.Eval(expression, nil)
	if err != nil {
		return "", errors.Wrapf(err, "cannot evaluate '%s'", expression)
	}
	return formatNumber(out)
}

func formatNumber(v interface{}) (string, error) {
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n), nil
	case int64:
		return strconv.FormatInt(n, 10), nil
	case float64:
		if math.IsInf(n, 0) || math.IsNaN(n) {
			return "", errors.New("result is not a finite number")
		}
		if n == math.Trunc(n) && math.Abs(n) < 1e15 {
			return strconv.FormatInt(int64(n), 10), nil
		}
		return strconv.FormatFloat(n, 'g', -1, 64), nil
	case bool:
		return strconv.FormatBool(n), nil
	}
	return "", fmt.Errorf("expression did not evaluate to a number (got %T)", v)
}
