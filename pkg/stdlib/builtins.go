package stdlib

import (
	"github.com/thomasrohde/guardeval/pkg/evaluator"
)

// RegisterDefaults adds all builtin functions. error, doc, id, map and
// reduce need the evaluator's state and are handled there.
func RegisterDefaults(r *Registry) {
	// Predicates
	r.Register(Fn{Name: "eq", Execute: stdlibEq})
	r.Register(Fn{Name: "not", Execute: stdlibNot})
	r.Register(Fn{Name: "contains", Execute: stdlibContains})
	r.Register(Fn{Name: "and", Execute: stdlibAnd})
	r.Register(Fn{Name: "or", Execute: stdlibOr})
	r.Register(Fn{Name: "coalesce", Execute: stdlibCoalesce})
	r.Register(Fn{Name: "typeof", Execute: stdlibTypeof})

	// List ops
	r.Register(Fn{Name: "len", Execute: stdlibLen})
	r.Register(Fn{Name: "append", Execute: stdlibAppend})
	r.Register(Fn{Name: "concat", Execute: stdlibConcat})
	r.Register(Fn{Name: "sort", Execute: stdlibSort})
	r.Register(Fn{Name: "find", Execute: stdlibFind})
	r.Register(Fn{Name: "range", Execute: stdlibRange})
	r.Register(Fn{Name: "join", Execute: stdlibJoin})
	r.Register(Fn{Name: "unique", Execute: stdlibUnique})
	r.Register(Fn{Name: "flat", Execute: stdlibFlat})

	// String ops
	r.Register(Fn{Name: "str.concat", Execute: stdlibStrConcat})
	r.Register(Fn{Name: "str.split", Execute: stdlibStrSplit})
	r.Register(Fn{Name: "str.starts", Execute: stdlibStrStarts})
	r.Register(Fn{Name: "str.ends", Execute: stdlibStrEnds})
	r.Register(Fn{Name: "str.replace", Execute: stdlibStrReplace})

	// Record ops
	r.Register(Fn{Name: "keys", Execute: stdlibKeys})
	r.Register(Fn{Name: "values", Execute: stdlibValues})
	r.Register(Fn{Name: "merge", Execute: stdlibMerge})
	r.Register(Fn{Name: "entries", Execute: stdlibEntries})
	r.Register(Fn{Name: "get", Execute: stdlibGet})
	r.Register(Fn{Name: "put", Execute: stdlibPut})

	// Qualified names
	r.Register(Fn{Name: "qname", Execute: stdlibQName})
	r.Register(Fn{Name: "qname.local", Execute: stdlibQNameLocal})
	r.Register(Fn{Name: "qname.prefix", Execute: stdlibQNamePrefix})
	r.Register(Fn{Name: "qname.uri", Execute: stdlibQNameURI})
	r.Register(Fn{Name: "string", Execute: stdlibString})

	// Casts
	r.Register(Fn{Name: "int", Execute: stdlibInt})
	r.Register(Fn{Name: "date", Execute: stdlibDate})
	r.Register(Fn{Name: "treat", Execute: stdlibTreat})

	// Parse
	r.Register(Fn{Name: "parse.json", Execute: stdlibParseJSON})

	// Math
	r.Register(Fn{Name: "math.max", Execute: stdlibMathMax})
	r.Register(Fn{Name: "math.min", Execute: stdlibMathMin})
}

// arg returns the named argument, or null when it is absent.
func arg(args *evaluator.Record, name string) evaluator.Value {
	v, ok := args.Get(name)
	if !ok || v == nil {
		return evaluator.NewNull()
	}
	return v
}

// typeError raises err:XPTY0004. The evaluator locates it at the call site.
func typeError(format string, a ...any) error {
	return evaluator.Raise(evaluator.SeverityType, evaluator.CodeType, nil, format, a...)
}

func listArg(args *evaluator.Record, fn, name string) (evaluator.List, error) {
	v := arg(args, name)
	list, ok := v.(evaluator.List)
	if !ok {
		return evaluator.List{}, typeError("%s: '%s' must be a list, got %s", fn, name, evaluator.TypeName(v))
	}
	return list, nil
}

func recordArg(args *evaluator.Record, fn, name string) (evaluator.Record, error) {
	v := arg(args, name)
	rec, ok := v.(evaluator.Record)
	if !ok {
		return evaluator.Record{}, typeError("%s: '%s' must be a record, got %s", fn, name, evaluator.TypeName(v))
	}
	return rec, nil
}

func stringArg(args *evaluator.Record, fn, name string) (string, error) {
	v := arg(args, name)
	s, ok := v.(evaluator.String)
	if !ok {
		return "", typeError("%s: '%s' must be a string, got %s", fn, name, evaluator.TypeName(v))
	}
	return s.Value, nil
}

// eq { a, b } → deep equality → bool
func stdlibEq(args *evaluator.Record) (evaluator.Value, error) {
	return evaluator.NewBool(evaluator.DeepEqual(arg(args, "a"), arg(args, "b"))), nil
}

// not { in } → negate truthiness → bool
func stdlibNot(args *evaluator.Record) (evaluator.Value, error) {
	return evaluator.NewBool(!evaluator.Truthiness(arg(args, "in"))), nil
}

// range { from, to } → list of numbers
func stdlibRange(args *evaluator.Record) (evaluator.Value, error) {
	from := 0.0
	to := 0.0

	if num, ok := arg(args, "from").(evaluator.Number); ok {
		from = num.Value
	}
	if num, ok := arg(args, "to").(evaluator.Number); ok {
		to = num.Value
	}

	if to < from {
		return evaluator.NewList(nil), nil
	}

	count := int(to - from)
	if count > 1000000 {
		return nil, evaluator.Raise(evaluator.SeverityDynamic, evaluator.CodeOverflow, nil, "range: too large (%d items)", count)
	}

	items := make([]evaluator.Value, 0, count)
	for i := from; i < to; i++ {
		items = append(items, evaluator.NewNumber(i))
	}
	return evaluator.NewList(items), nil
}

// len { in } → length of list, record, or string
func stdlibLen(args *evaluator.Record) (evaluator.Value, error) {
	switch v := arg(args, "in").(type) {
	case evaluator.List:
		return evaluator.NewNumber(float64(len(v.Items))), nil
	case evaluator.Record:
		return evaluator.NewNumber(float64(len(v.Pairs))), nil
	case evaluator.String:
		return evaluator.NewNumber(float64(len([]rune(v.Value)))), nil
	default:
		return evaluator.NewNumber(0), nil
	}
}
