package stdlib

import (
	"math"

	"github.com/thomasrohde/guardeval/pkg/evaluator"
)

// math.max { in: list } → number
func stdlibMathMax(args *evaluator.Record) (evaluator.Value, error) {
	return extremum(args, "math.max", math.Inf(-1), func(a, b float64) bool { return a > b })
}

// math.min { in: list } → number
func stdlibMathMin(args *evaluator.Record) (evaluator.Value, error) {
	return extremum(args, "math.min", math.Inf(1), func(a, b float64) bool { return a < b })
}

func extremum(args *evaluator.Record, fn string, start float64, better func(a, b float64) bool) (evaluator.Value, error) {
	list, err := listArg(args, fn, "in")
	if err != nil {
		return nil, err
	}
	if len(list.Items) == 0 {
		return nil, evaluator.Raise(evaluator.SeverityDynamic, evaluator.CodeNoValue, nil, "%s: list must not be empty", fn)
	}

	best := start
	for _, item := range list.Items {
		num, ok := item.(evaluator.Number)
		if !ok {
			return nil, typeError("%s: all elements must be numbers, got %s", fn, evaluator.TypeName(item))
		}
		if better(num.Value, best) {
			best = num.Value
		}
	}
	return evaluator.NewNumber(best), nil
}
