package evaluator

// Env is a scoped environment for variable bindings.
// It supports parent-chained lookup for lexical scoping. A frame created for
// a catch clause body also carries the ErrorContext of the caught signal.
type Env struct {
	bindings map[string]Value
	fns      map[string]*userFn
	parent   *Env
	errCtx   *ErrorContext
}

// NewEnv creates a new environment with an optional parent scope.
func NewEnv(parent *Env) *Env {
	return &Env{
		bindings: make(map[string]Value),
		parent:   parent,
	}
}

// Child creates a new child scope whose parent is this environment.
func (e *Env) Child() *Env {
	return NewEnv(e)
}

// WithErrorContext creates a child scope that carries ctx.
func (e *Env) WithErrorContext(ctx *ErrorContext) *Env {
	child := NewEnv(e)
	child.errCtx = ctx
	return child
}

// ErrorContext returns the context of the innermost enclosing catch clause,
// or nil outside any clause body.
func (e *Env) ErrorContext() *ErrorContext {
	for env := e; env != nil; env = env.parent {
		if env.errCtx != nil {
			return env.errCtx
		}
	}
	return nil
}

// Get looks up a variable by name, traversing parent scopes.
func (e *Env) Get(name string) (Value, bool) {
	if val, ok := e.bindings[name]; ok {
		return val, true
	}
	if e.parent != nil {
		return e.parent.Get(name)
	}
	return nil, false
}

// Set binds a variable in this scope.
func (e *Env) Set(name string, val Value) {
	e.bindings[name] = val
}

// Has checks whether a variable is defined in this scope or any parent.
func (e *Env) Has(name string) bool {
	if _, ok := e.bindings[name]; ok {
		return true
	}
	if e.parent != nil {
		return e.parent.Has(name)
	}
	return false
}

// defineFn binds a user function in this scope.
func (e *Env) defineFn(name string, fn *userFn) {
	if e.fns == nil {
		e.fns = make(map[string]*userFn)
	}
	e.fns[name] = fn
}

// lookupFn finds the user function visible from this scope.
func (e *Env) lookupFn(name string) (*userFn, bool) {
	for env := e; env != nil; env = env.parent {
		if fn, ok := env.fns[name]; ok {
			return fn, true
		}
	}
	return nil, false
}
