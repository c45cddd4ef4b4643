package evaluator

import "github.com/thomasrohde/guardeval/pkg/names"

// ErrorContext exposes the caught signal to a catch clause body through the
// six err: variables. It is read-only.
type ErrorContext struct {
	sig *Signal
}

// NewErrorContext creates the context for sig.
func NewErrorContext(sig *Signal) *ErrorContext {
	return &ErrorContext{sig: sig}
}

// Signal returns the caught signal.
func (c *ErrorContext) Signal() *Signal {
	return c.sig
}

// Lookup returns the value of the variable with the given local name. Absent
// optional fields are null; value is always a list.
func (c *ErrorContext) Lookup(local string) (Value, bool) {
	s := c.sig
	switch local {
	case names.VarCode:
		return NewQName(s.Code), true
	case names.VarDescription:
		return optString(s.Description), true
	case names.VarValue:
		items := make([]Value, len(s.Value))
		copy(items, s.Value)
		return NewList(items), true
	case names.VarModule:
		return optString(s.Module), true
	case names.VarLineNumber:
		return optInt(s.Line), true
	case names.VarColumnNumber:
		return optInt(s.Column), true
	}
	return nil, false
}

// Record returns every variable as a record keyed by local name.
func (c *ErrorContext) Record() Value {
	pairs := make([]KeyValue, 0, len(names.ContextVars))
	for _, name := range names.ContextVars {
		v, _ := c.Lookup(name)
		pairs = append(pairs, KeyValue{Key: name, Value: v})
	}
	return NewRecord(pairs)
}

func optString(s string) Value {
	if s == "" {
		return NewNull()
	}
	return NewString(s)
}

func optInt(n int) Value {
	if n <= 0 {
		return NewNull()
	}
	return NewNumber(float64(n))
}
