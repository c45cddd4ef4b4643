package stdlib

import (
	"strings"

	"github.com/thomasrohde/guardeval/pkg/evaluator"
)

// contains { in: string|list|record, value: any } → bool
func stdlibContains(args *evaluator.Record) (evaluator.Value, error) {
	value := arg(args, "value")

	switch in := arg(args, "in").(type) {
	case evaluator.String:
		valStr, ok := value.(evaluator.String)
		if !ok {
			return evaluator.NewBool(false), nil
		}
		return evaluator.NewBool(strings.Contains(in.Value, valStr.Value)), nil

	case evaluator.List:
		for _, item := range in.Items {
			if evaluator.DeepEqual(item, value) {
				return evaluator.NewBool(true), nil
			}
		}
		return evaluator.NewBool(false), nil

	case evaluator.Record:
		// Key existence
		valStr, ok := value.(evaluator.String)
		if !ok {
			return evaluator.NewBool(false), nil
		}
		_, found := in.Get(valStr.Value)
		return evaluator.NewBool(found), nil
	}

	return evaluator.NewBool(false), nil
}

// and { a, b } → bool
func stdlibAnd(args *evaluator.Record) (evaluator.Value, error) {
	return evaluator.NewBool(evaluator.Truthiness(arg(args, "a")) && evaluator.Truthiness(arg(args, "b"))), nil
}

// or { a, b } → bool
func stdlibOr(args *evaluator.Record) (evaluator.Value, error) {
	return evaluator.NewBool(evaluator.Truthiness(arg(args, "a")) || evaluator.Truthiness(arg(args, "b"))), nil
}

// coalesce { in, default } → any
// Returns `in` if not null (strict null-check, not truthiness), else `default`.
func stdlibCoalesce(args *evaluator.Record) (evaluator.Value, error) {
	input := arg(args, "in")
	if _, isNull := input.(evaluator.Null); isNull {
		return arg(args, "default"), nil
	}
	return input, nil
}

// typeof { in } → string
func stdlibTypeof(args *evaluator.Record) (evaluator.Value, error) {
	return evaluator.NewString(evaluator.TypeName(arg(args, "in"))), nil
}
