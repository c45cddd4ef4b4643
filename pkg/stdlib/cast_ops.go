package stdlib

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/thomasrohde/guardeval/pkg/ast"
	"github.com/thomasrohde/guardeval/pkg/evaluator"
)

const dateLayout = "2006-01-02"

func castError(v evaluator.Value, format string, a ...any) error {
	return evaluator.Raise(evaluator.SeverityDynamic, evaluator.CodeCast, nil, format, a...).WithValue(v)
}

// int { value } → number
// Strings must be integer literals; numbers are truncated.
func stdlibInt(args *evaluator.Record) (evaluator.Value, error) {
	switch v := arg(args, "value").(type) {
	case evaluator.Null:
		return v, nil
	case evaluator.Bool:
		if v.Value {
			return evaluator.NewNumber(1), nil
		}
		return evaluator.NewNumber(0), nil
	case evaluator.Number:
		if math.IsInf(v.Value, 0) || math.IsNaN(v.Value) {
			return nil, castError(v, "int: cannot cast %s to integer", evaluator.FormatNumber(v.Value))
		}
		return evaluator.NewNumber(math.Trunc(v.Value)), nil
	case evaluator.String:
		n, err := strconv.ParseInt(strings.TrimSpace(v.Value), 10, 64)
		if err != nil {
			return nil, castError(v, "int: invalid integer '%s'", v.Value)
		}
		return evaluator.NewNumber(float64(n)), nil
	default:
		return nil, typeError("int: cannot cast a value of type %s", evaluator.TypeName(v))
	}
}

// date { value } → string in YYYY-MM-DD form
// The value must name a real calendar day.
func stdlibDate(args *evaluator.Record) (evaluator.Value, error) {
	switch v := arg(args, "value").(type) {
	case evaluator.Null:
		return v, nil
	case evaluator.String:
		t, err := time.Parse(dateLayout, strings.TrimSpace(v.Value))
		if err != nil {
			return nil, castError(v, "date: invalid date '%s'", v.Value)
		}
		return evaluator.NewString(t.Format(dateLayout)), nil
	default:
		return nil, typeError("date: cannot cast a value of type %s", evaluator.TypeName(v))
	}
}

// treat { value, as } → value, when it conforms to the named type
// The type name is a runtime value; a literal unknown name is rejected by the
// validator before execution.
func stdlibTreat(args *evaluator.Record) (evaluator.Value, error) {
	typ, err := stringArg(args, "treat", "as")
	if err != nil {
		return nil, err
	}
	if !ast.TypeNames[typ] {
		return nil, evaluator.Raise(evaluator.SeverityDynamic, evaluator.CodeNoType, nil, "treat: unknown type '%s'", typ).
			WithValue(evaluator.NewString(typ))
	}
	v := arg(args, "value")
	if !evaluator.Conforms(v, typ) {
		return nil, evaluator.Raise(evaluator.SeverityType, evaluator.CodeTreat, nil,
			"treat: value of type %s does not match %s", evaluator.TypeName(v), typ).WithValue(v)
	}
	return v, nil
}
