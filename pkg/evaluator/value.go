// Package evaluator implements the guarded-evaluation runtime: values,
// environments, signals, the try/catch dispatcher and the tree walker.
package evaluator

import (
	"math"

	"github.com/thomasrohde/guardeval/pkg/names"
)

// Value is the interface for all runtime values.
// The sealed marker method restricts implementations to this package.
type Value interface {
	value() // sealed marker
}

// Null represents a null value.
type Null struct{}

func (Null) value() {}

// Bool represents a boolean value.
type Bool struct {
	Value bool
}

func (Bool) value() {}

// Number represents a numeric value (int or float).
type Number struct {
	Value float64
}

func (Number) value() {}

// String represents a string value.
type String struct {
	Value string
}

func (String) value() {}

// List represents an ordered list of values.
type List struct {
	Items []Value
}

func (List) value() {}

// KeyValue is a key-value pair in an ordered record.
type KeyValue struct {
	Key   string
	Value Value
}

// Record represents an ordered map of string keys to values.
// Insertion order is preserved via the Pairs slice.
type Record struct {
	Pairs []KeyValue
	index map[string]int // lazy index for lookups
}

func (Record) value() {}

// QName is a qualified-name value, the type of $err:code.
type QName struct {
	Name names.QName
}

func (QName) value() {}

// NewNull creates a null value.
func NewNull() Value {
	return Null{}
}

// NewBool creates a boolean value.
func NewBool(b bool) Value {
	return Bool{Value: b}
}

// NewNumber creates a numeric value.
func NewNumber(n float64) Value {
	return Number{Value: n}
}

// NewString creates a string value.
func NewString(s string) Value {
	return String{Value: s}
}

// NewList creates a list value.
func NewList(items []Value) Value {
	if items == nil {
		items = []Value{}
	}
	return List{Items: items}
}

// NewRecord creates a record value from key-value pairs.
func NewRecord(pairs []KeyValue) Value {
	return newRecord(pairs)
}

func newRecord(pairs []KeyValue) Record {
	idx := make(map[string]int, len(pairs))
	for i, kv := range pairs {
		idx[kv.Key] = i
	}
	return Record{Pairs: pairs, index: idx}
}

// NewQName creates a qualified-name value.
func NewQName(q names.QName) Value {
	return QName{Name: q}
}

// Get retrieves a value by key from the record.
func (r *Record) Get(key string) (Value, bool) {
	if r.index == nil {
		r.reindex()
	}
	i, ok := r.index[key]
	if !ok {
		return nil, false
	}
	return r.Pairs[i].Value, true
}

// Set sets a value by key in the record, preserving insertion order.
func (r *Record) Set(key string, val Value) {
	if r.index == nil {
		r.reindex()
	}
	if i, ok := r.index[key]; ok {
		r.Pairs[i].Value = val
		return
	}
	r.index[key] = len(r.Pairs)
	r.Pairs = append(r.Pairs, KeyValue{Key: key, Value: val})
}

func (r *Record) reindex() {
	r.index = make(map[string]int, len(r.Pairs))
	for i, kv := range r.Pairs {
		r.index[kv.Key] = i
	}
}

// Keys returns all keys in insertion order.
func (r *Record) Keys() []string {
	keys := make([]string, len(r.Pairs))
	for i, kv := range r.Pairs {
		keys[i] = kv.Key
	}
	return keys
}

// Truthiness returns the boolean interpretation of a value.
// null, false, 0, and "" are falsy; everything else is truthy.
func Truthiness(v Value) bool {
	switch val := v.(type) {
	case Null:
		return false
	case Bool:
		return val.Value
	case Number:
		return val.Value != 0
	case String:
		return val.Value != ""
	default:
		return true
	}
}

// TypeName returns the type name of v as used by typeof and `let x as T`.
func TypeName(v Value) string {
	switch v.(type) {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case List:
		return "list"
	case Record:
		return "record"
	case QName:
		return "qname"
	default:
		return "unknown"
	}
}

// Conforms reports whether v is an instance of the named type. Unknown type
// names conform to nothing.
func Conforms(v Value, typ string) bool {
	switch typ {
	case "any":
		return true
	case "integer":
		n, ok := v.(Number)
		return ok && n.Value == math.Trunc(n.Value) && !math.IsInf(n.Value, 0)
	default:
		return TypeName(v) == typ
	}
}

// DeepEqual recursively compares two values.
func DeepEqual(a, b Value) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}

	switch av := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok

	case Bool:
		bv, ok := b.(Bool)
		return ok && av.Value == bv.Value

	case Number:
		bv, ok := b.(Number)
		return ok && av.Value == bv.Value

	case String:
		bv, ok := b.(String)
		return ok && av.Value == bv.Value

	case QName:
		bv, ok := b.(QName)
		return ok && av.Name.Equal(bv.Name)

	case List:
		bv, ok := b.(List)
		if !ok || len(av.Items) != len(bv.Items) {
			return false
		}
		for i := range av.Items {
			if !DeepEqual(av.Items[i], bv.Items[i]) {
				return false
			}
		}
		return true

	case Record:
		bv, ok := b.(Record)
		if !ok || len(av.Pairs) != len(bv.Pairs) {
			return false
		}
		for _, kv := range av.Pairs {
			bVal, found := bv.Get(kv.Key)
			if !found || !DeepEqual(kv.Value, bVal) {
				return false
			}
		}
		return true
	}

	return false
}
