package stdlib

import (
	"strings"

	"github.com/thomasrohde/guardeval/pkg/evaluator"
	"github.com/thomasrohde/guardeval/pkg/names"
)

func invalidQName(format string, a ...any) error {
	return evaluator.Raise(evaluator.SeverityDynamic, evaluator.CodeInvalidQName, nil, format, a...)
}

// qname { uri, name } → qname
// name may carry a prefix, which is kept for display. A prefixed name needs
// a namespace URI.
func stdlibQName(args *evaluator.Record) (evaluator.Value, error) {
	uri := ""
	switch u := arg(args, "uri").(type) {
	case evaluator.Null:
	case evaluator.String:
		uri = u.Value
	default:
		return nil, typeError("qname: 'uri' must be a string, got %s", evaluator.TypeName(u))
	}
	name, err := stringArg(args, "qname", "name")
	if err != nil {
		return nil, err
	}

	prefix, local, hasPrefix := strings.Cut(name, ":")
	if !hasPrefix {
		prefix, local = "", name
	}
	if !names.IsNCName(local) || (hasPrefix && !names.IsNCName(prefix)) {
		return nil, invalidQName("qname: '%s' is not a valid lexical QName", name)
	}
	if hasPrefix && uri == "" {
		return nil, invalidQName("qname: prefix '%s' requires a namespace URI", prefix)
	}
	return evaluator.NewQName(names.NewQName(prefix, uri, local)), nil
}

func qnameArg(args *evaluator.Record, fn string) (names.QName, bool, error) {
	switch v := arg(args, "in").(type) {
	case evaluator.Null:
		return names.QName{}, false, nil
	case evaluator.QName:
		return v.Name, true, nil
	default:
		return names.QName{}, false, typeError("%s: 'in' must be a qname, got %s", fn, evaluator.TypeName(v))
	}
}

// qname.local { in } → string|null
func stdlibQNameLocal(args *evaluator.Record) (evaluator.Value, error) {
	q, ok, err := qnameArg(args, "qname.local")
	if err != nil || !ok {
		return evaluator.NewNull(), err
	}
	return evaluator.NewString(q.Local), nil
}

// qname.prefix { in } → string|null
func stdlibQNamePrefix(args *evaluator.Record) (evaluator.Value, error) {
	q, ok, err := qnameArg(args, "qname.prefix")
	if err != nil || !ok || q.Prefix == "" {
		return evaluator.NewNull(), err
	}
	return evaluator.NewString(q.Prefix), nil
}

// qname.uri { in } → string|null
func stdlibQNameURI(args *evaluator.Record) (evaluator.Value, error) {
	q, ok, err := qnameArg(args, "qname.uri")
	if err != nil || !ok {
		return evaluator.NewNull(), err
	}
	return evaluator.NewString(q.URI), nil
}

// string { value } → string value of any value
func stdlibString(args *evaluator.Record) (evaluator.Value, error) {
	return evaluator.NewString(evaluator.StringValue(arg(args, "value"))), nil
}
