package stdlib

import (
	"sort"
	"strings"

	"github.com/thomasrohde/guardeval/pkg/evaluator"
)

// append { in: list, value: any } → list
func stdlibAppend(args *evaluator.Record) (evaluator.Value, error) {
	list, err := listArg(args, "append", "in")
	if err != nil {
		return nil, err
	}
	newItems := make([]evaluator.Value, len(list.Items)+1)
	copy(newItems, list.Items)
	newItems[len(list.Items)] = arg(args, "value")
	return evaluator.NewList(newItems), nil
}

// concat { a: list, b: list } → list
func stdlibConcat(args *evaluator.Record) (evaluator.Value, error) {
	aList, err := listArg(args, "concat", "a")
	if err != nil {
		return nil, err
	}
	bList, err := listArg(args, "concat", "b")
	if err != nil {
		return nil, err
	}
	newItems := make([]evaluator.Value, 0, len(aList.Items)+len(bList.Items))
	newItems = append(newItems, aList.Items...)
	newItems = append(newItems, bList.Items...)
	return evaluator.NewList(newItems), nil
}

// sort { in: list, by?: string|list } → list
func stdlibSort(args *evaluator.Record) (evaluator.Value, error) {
	list, err := listArg(args, "sort", "in")
	if err != nil {
		return nil, err
	}

	var keys []string
	switch bv := arg(args, "by").(type) {
	case evaluator.Null:
	case evaluator.String:
		keys = []string{bv.Value}
	case evaluator.List:
		keys = make([]string, 0, len(bv.Items))
		for _, item := range bv.Items {
			s, ok := item.(evaluator.String)
			if !ok {
				return nil, typeError("sort: 'by' elements must be strings, got %s", evaluator.TypeName(item))
			}
			keys = append(keys, s.Value)
		}
	default:
		return nil, typeError("sort: 'by' must be a string or list of strings, got %s", evaluator.TypeName(bv))
	}

	sorted := make([]evaluator.Value, len(list.Items))
	copy(sorted, list.Items)

	sort.SliceStable(sorted, func(i, j int) bool {
		if keys == nil {
			return compareValues(sorted[i], sorted[j]) < 0
		}
		for _, key := range keys {
			cmp := compareValues(recordField(sorted[i], key), recordField(sorted[j], key))
			if cmp != 0 {
				return cmp < 0
			}
		}
		return false
	})

	return evaluator.NewList(sorted), nil
}

func recordField(v evaluator.Value, key string) evaluator.Value {
	if rec, ok := v.(evaluator.Record); ok {
		if val, found := rec.Get(key); found {
			return val
		}
	}
	return evaluator.NewNull()
}

func compareValues(a, b evaluator.Value) int {
	aNum, aIsNum := a.(evaluator.Number)
	bNum, bIsNum := b.(evaluator.Number)
	if aIsNum && bIsNum {
		switch {
		case aNum.Value < bNum.Value:
			return -1
		case aNum.Value > bNum.Value:
			return 1
		}
		return 0
	}

	aStr, aIsStr := a.(evaluator.String)
	bStr, bIsStr := b.(evaluator.String)
	if aIsStr && bIsStr {
		return strings.Compare(aStr.Value, bStr.Value)
	}

	// Mixed types order by their JSON form.
	return strings.Compare(evaluator.ValueToJSONString(a), evaluator.ValueToJSONString(b))
}

// find { in: list, key: string, value: any } → any|null
func stdlibFind(args *evaluator.Record) (evaluator.Value, error) {
	list, err := listArg(args, "find", "in")
	if err != nil {
		return nil, err
	}
	key, err := stringArg(args, "find", "key")
	if err != nil {
		return nil, err
	}
	value := arg(args, "value")

	for _, item := range list.Items {
		if _, ok := item.(evaluator.Record); !ok {
			continue
		}
		if evaluator.DeepEqual(recordField(item, key), value) {
			return item, nil
		}
	}
	return evaluator.NewNull(), nil
}

// join { in: list, sep?: string } → string
func stdlibJoin(args *evaluator.Record) (evaluator.Value, error) {
	list, err := listArg(args, "join", "in")
	if err != nil {
		return nil, err
	}

	sep := ""
	switch s := arg(args, "sep").(type) {
	case evaluator.Null:
	case evaluator.String:
		sep = s.Value
	default:
		return nil, typeError("join: 'sep' must be a string, got %s", evaluator.TypeName(s))
	}

	parts := make([]string, len(list.Items))
	for i, item := range list.Items {
		parts[i] = displayString(item)
	}
	return evaluator.NewString(strings.Join(parts, sep)), nil
}

// displayString renders an item for join and str.concat. Unlike the string
// value, null renders as "null".
func displayString(v evaluator.Value) string {
	if _, ok := v.(evaluator.Null); ok {
		return "null"
	}
	return evaluator.StringValue(v)
}

// unique { in: list } → list
func stdlibUnique(args *evaluator.Record) (evaluator.Value, error) {
	list, err := listArg(args, "unique", "in")
	if err != nil {
		return nil, err
	}

	var result []evaluator.Value
	for _, item := range list.Items {
		found := false
		for _, existing := range result {
			if evaluator.DeepEqual(existing, item) {
				found = true
				break
			}
		}
		if !found {
			result = append(result, item)
		}
	}
	return evaluator.NewList(result), nil
}

// flat { in: list } → list
func stdlibFlat(args *evaluator.Record) (evaluator.Value, error) {
	list, err := listArg(args, "flat", "in")
	if err != nil {
		return nil, err
	}

	var result []evaluator.Value
	for _, item := range list.Items {
		if subList, ok := item.(evaluator.List); ok {
			result = append(result, subList.Items...)
		} else {
			result = append(result, item)
		}
	}
	return evaluator.NewList(result), nil
}
