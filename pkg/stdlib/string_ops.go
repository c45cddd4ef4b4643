package stdlib

import (
	"strings"

	"github.com/thomasrohde/guardeval/pkg/evaluator"
)

// str.concat { parts: list } → string
func stdlibStrConcat(args *evaluator.Record) (evaluator.Value, error) {
	list, err := listArg(args, "str.concat", "parts")
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	for _, item := range list.Items {
		sb.WriteString(displayString(item))
	}
	return evaluator.NewString(sb.String()), nil
}

// str.split { in: string, sep: string } → list
func stdlibStrSplit(args *evaluator.Record) (evaluator.Value, error) {
	in, err := stringArg(args, "str.split", "in")
	if err != nil {
		return nil, err
	}
	sep, err := stringArg(args, "str.split", "sep")
	if err != nil {
		return nil, err
	}

	parts := strings.Split(in, sep)
	items := make([]evaluator.Value, len(parts))
	for i, p := range parts {
		items[i] = evaluator.NewString(p)
	}
	return evaluator.NewList(items), nil
}

// str.starts { in: string, value: string } → bool
func stdlibStrStarts(args *evaluator.Record) (evaluator.Value, error) {
	in, err := stringArg(args, "str.starts", "in")
	if err != nil {
		return nil, err
	}
	value, err := stringArg(args, "str.starts", "value")
	if err != nil {
		return nil, err
	}
	return evaluator.NewBool(strings.HasPrefix(in, value)), nil
}

// str.ends { in: string, value: string } → bool
func stdlibStrEnds(args *evaluator.Record) (evaluator.Value, error) {
	in, err := stringArg(args, "str.ends", "in")
	if err != nil {
		return nil, err
	}
	value, err := stringArg(args, "str.ends", "value")
	if err != nil {
		return nil, err
	}
	return evaluator.NewBool(strings.HasSuffix(in, value)), nil
}

// str.replace { in: string, from: string, to: string } → string
func stdlibStrReplace(args *evaluator.Record) (evaluator.Value, error) {
	in, err := stringArg(args, "str.replace", "in")
	if err != nil {
		return nil, err
	}
	from, err := stringArg(args, "str.replace", "from")
	if err != nil {
		return nil, err
	}
	to, err := stringArg(args, "str.replace", "to")
	if err != nil {
		return nil, err
	}
	return evaluator.NewString(strings.ReplaceAll(in, from, to)), nil
}
