package evaluator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
)

// ValueToJSON marshals a Value to JSON bytes.
// Records preserve key order. Numbers output integers without decimal point.
// QNames render in their lexical prefix:local form.
func ValueToJSON(v Value) ([]byte, error) {
	raw := valueToRaw(v)
	return json.Marshal(raw)
}

func valueToRaw(v Value) any {
	if v == nil {
		return nil
	}

	switch val := v.(type) {
	case Null:
		return nil

	case Bool:
		return val.Value

	case Number:
		if val.Value == math.Trunc(val.Value) && !math.IsInf(val.Value, 0) && !math.IsNaN(val.Value) {
			if val.Value >= math.MinInt64 && val.Value <= math.MaxInt64 {
				return int64(val.Value)
			}
		}
		return val.Value

	case String:
		return val.Value

	case QName:
		return val.Name.String()

	case List:
		items := make([]any, len(val.Items))
		for i, item := range val.Items {
			items[i] = valueToRaw(item)
		}
		return items

	case Record:
		return &orderedRecord{pairs: val.Pairs}
	}

	return nil
}

// orderedRecord preserves key order in JSON output.
type orderedRecord struct {
	pairs []KeyValue
}

func (o *orderedRecord) MarshalJSON() ([]byte, error) {
	if len(o.pairs) == 0 {
		return []byte("{}"), nil
	}

	buf := []byte{'{'}
	for i, kv := range o.pairs {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyBytes, err := json.Marshal(kv.Key)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyBytes...)
		buf = append(buf, ':')

		valBytes, err := json.Marshal(valueToRaw(kv.Value))
		if err != nil {
			return nil, err
		}
		buf = append(buf, valBytes...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// MarshalJSON renders the record as a JSON object in key order.
func (r Record) MarshalJSON() ([]byte, error) {
	return (&orderedRecord{pairs: r.Pairs}).MarshalJSON()
}

// ValueToJSONString is a convenience that returns a string.
func ValueToJSONString(v Value) string {
	b, err := ValueToJSON(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// ParseJSONToValue converts a JSON document to a Value. Object keys keep
// their document order.
func ParseJSONToValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after JSON value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case nil:
		return NewNull(), nil
	case bool:
		return NewBool(t), nil
	case string:
		return NewString(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, err
		}
		return NewNumber(f), nil
	case json.Delim:
		switch t {
		case '[':
			items := []Value{}
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return NewList(items), nil
		case '{':
			rec := newRecord(nil)
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("invalid object key %v", keyTok)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				rec.Set(key, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return rec, nil
		}
	}
	return nil, fmt.Errorf("unexpected JSON token %v", tok)
}

// FormatNumber formats a float64 as an integer string if it's a whole number.
func FormatNumber(n float64) string {
	if n == math.Trunc(n) && !math.IsInf(n, 0) && !math.IsNaN(n) {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// StringValue returns the string value of v: strings as is, numbers and
// booleans in lexical form, qnames as prefix:local, null as the empty string
// and lists and records as JSON.
func StringValue(v Value) string {
	switch val := v.(type) {
	case nil, Null:
		return ""
	case String:
		return val.Value
	case Number:
		return FormatNumber(val.Value)
	case Bool:
		return strconv.FormatBool(val.Value)
	case QName:
		return val.Name.String()
	default:
		return ValueToJSONString(v)
	}
}
