package stdlib

import (
	"strconv"
	"strings"

	"github.com/thomasrohde/guardeval/pkg/evaluator"
)

// keys { in: record } → list of strings
func stdlibKeys(args *evaluator.Record) (evaluator.Value, error) {
	rec, err := recordArg(args, "keys", "in")
	if err != nil {
		return nil, err
	}
	items := make([]evaluator.Value, len(rec.Pairs))
	for i, kv := range rec.Pairs {
		items[i] = evaluator.NewString(kv.Key)
	}
	return evaluator.NewList(items), nil
}

// values { in: record } → list
func stdlibValues(args *evaluator.Record) (evaluator.Value, error) {
	rec, err := recordArg(args, "values", "in")
	if err != nil {
		return nil, err
	}
	items := make([]evaluator.Value, len(rec.Pairs))
	for i, kv := range rec.Pairs {
		items[i] = kv.Value
	}
	return evaluator.NewList(items), nil
}

// merge { a: record, b: record } → record (b wins on conflicts)
func stdlibMerge(args *evaluator.Record) (evaluator.Value, error) {
	aRec, err := recordArg(args, "merge", "a")
	if err != nil {
		return nil, err
	}
	bRec, err := recordArg(args, "merge", "b")
	if err != nil {
		return nil, err
	}

	result := copyRecord(aRec)
	for _, kv := range bRec.Pairs {
		result.Set(kv.Key, kv.Value)
	}
	return result, nil
}

// copyRecord returns a record that shares no storage with rec.
func copyRecord(rec evaluator.Record) evaluator.Record {
	pairs := make([]evaluator.KeyValue, len(rec.Pairs))
	copy(pairs, rec.Pairs)
	return evaluator.NewRecord(pairs).(evaluator.Record)
}

// entries { in: record } → list of { key, value } records
func stdlibEntries(args *evaluator.Record) (evaluator.Value, error) {
	rec, err := recordArg(args, "entries", "in")
	if err != nil {
		return nil, err
	}
	items := make([]evaluator.Value, len(rec.Pairs))
	for i, kv := range rec.Pairs {
		items[i] = evaluator.NewRecord([]evaluator.KeyValue{
			{Key: "key", Value: evaluator.NewString(kv.Key)},
			{Key: "value", Value: kv.Value},
		})
	}
	return evaluator.NewList(items), nil
}

// parsePath splits a dotted path such as "a.b[0].c" into segments. Numeric
// segments index lists.
func parsePath(path string) []string {
	path = strings.ReplaceAll(path, "[", ".")
	path = strings.ReplaceAll(path, "]", "")
	var segs []string
	for _, s := range strings.Split(path, ".") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// get { in, path } → any (null when the path does not resolve)
func stdlibGet(args *evaluator.Record) (evaluator.Value, error) {
	path, err := stringArg(args, "get", "path")
	if err != nil {
		return nil, err
	}
	current := arg(args, "in")
	for _, seg := range parsePath(path) {
		switch c := current.(type) {
		case evaluator.Record:
			v, found := c.Get(seg)
			if !found {
				return evaluator.NewNull(), nil
			}
			current = v
		case evaluator.List:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(c.Items) {
				return evaluator.NewNull(), nil
			}
			current = c.Items[idx]
		default:
			return evaluator.NewNull(), nil
		}
	}
	return current, nil
}

// put { in, path, value } → record with the value set at path. Missing
// intermediate records are created.
func stdlibPut(args *evaluator.Record) (evaluator.Value, error) {
	path, err := stringArg(args, "put", "path")
	if err != nil {
		return nil, err
	}
	segs := parsePath(path)
	if len(segs) == 0 {
		return nil, typeError("put: 'path' must not be empty")
	}
	return putPath(arg(args, "in"), segs, arg(args, "value"))
}

func putPath(target evaluator.Value, segs []string, value evaluator.Value) (evaluator.Value, error) {
	if len(segs) == 0 {
		return value, nil
	}
	seg := segs[0]

	if list, ok := target.(evaluator.List); ok {
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(list.Items) {
			return nil, evaluator.Raise(evaluator.SeverityDynamic, evaluator.CodeNoValue, nil,
				"put: index '%s' out of range for list of length %d", seg, len(list.Items))
		}
		items := make([]evaluator.Value, len(list.Items))
		copy(items, list.Items)
		v, err := putPath(items[idx], segs[1:], value)
		if err != nil {
			return nil, err
		}
		items[idx] = v
		return evaluator.NewList(items), nil
	}

	var rec evaluator.Record
	switch t := target.(type) {
	case evaluator.Record:
		rec = copyRecord(t)
	case evaluator.Null:
		rec = evaluator.NewRecord(nil).(evaluator.Record)
	default:
		return nil, typeError("put: cannot set '%s' on a value of type %s", seg, evaluator.TypeName(target))
	}
	child, _ := rec.Get(seg)
	if child == nil {
		child = evaluator.NewNull()
	}
	v, err := putPath(child, segs[1:], value)
	if err != nil {
		return nil, err
	}
	rec.Set(seg, v)
	return rec, nil
}
