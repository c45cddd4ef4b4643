// Package runtime provides the top-level orchestrator: parse, validate and
// execute with the configured stdlib, tools, policy and document store.
package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/thomasrohde/guardeval/pkg/ast"
	"github.com/thomasrohde/guardeval/pkg/capabilities"
	"github.com/thomasrohde/guardeval/pkg/config"
	"github.com/thomasrohde/guardeval/pkg/diagnostics"
	"github.com/thomasrohde/guardeval/pkg/docstore"
	"github.com/thomasrohde/guardeval/pkg/evaluator"
	"github.com/thomasrohde/guardeval/pkg/formatter"
	"github.com/thomasrohde/guardeval/pkg/parser"
	"github.com/thomasrohde/guardeval/pkg/stdlib"
	"github.com/thomasrohde/guardeval/pkg/tools"
	"github.com/thomasrohde/guardeval/pkg/validator"
)

// Result holds the outcome of a program execution.
type Result struct {
	Value evaluator.Value
	Usage evaluator.BudgetTracker
	RunID string
}

// Runtime wires together all components for program execution.
type Runtime struct {
	stdlib *stdlib.Registry
	tools  *tools.Registry
	policy *capabilities.Policy
	cfg    *config.Config
	docs   evaluator.DocumentLoader
	logger *slog.Logger
	runID  string
	trace  func(event evaluator.TraceEvent)
}

// Option is a functional option for configuring the Runtime.
type Option func(*Runtime)

// WithStdlib sets the stdlib registry.
func WithStdlib(r *stdlib.Registry) Option {
	return func(rt *Runtime) {
		rt.stdlib = r
	}
}

// WithTools sets the tools registry.
func WithTools(r *tools.Registry) Option {
	return func(rt *Runtime) {
		rt.tools = r
	}
}

// WithPolicy sets the capability policy, replacing the one derived from the
// configuration.
func WithPolicy(p *capabilities.Policy) Option {
	return func(rt *Runtime) {
		rt.policy = p
	}
}

// WithUnsafeAllowAll sets the policy to allow all capabilities.
func WithUnsafeAllowAll() Option {
	return func(rt *Runtime) {
		rt.policy = capabilities.AllowAll()
	}
}

// WithConfig sets the project configuration.
func WithConfig(cfg *config.Config) Option {
	return func(rt *Runtime) {
		rt.cfg = cfg
	}
}

// WithDocuments sets the loader used by doc {}, replacing the store named by
// the configuration.
func WithDocuments(d evaluator.DocumentLoader) Option {
	return func(rt *Runtime) {
		rt.docs = d
	}
}

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(rt *Runtime) {
		rt.logger = l
	}
}

// WithRunID fixes the run ID for trace events. By default each run gets a
// fresh UUID.
func WithRunID(id string) Option {
	return func(rt *Runtime) {
		rt.runID = id
	}
}

// WithTrace sets the trace callback.
func WithTrace(fn func(event evaluator.TraceEvent)) Option {
	return func(rt *Runtime) {
		rt.trace = fn
	}
}

// New creates a new Runtime with the given options.
// By default the stdlib and tool defaults are registered, the configuration is
// config.Default() and the policy comes from the configuration.
func New(opts ...Option) *Runtime {
	rt := &Runtime{
		stdlib: stdlib.Default(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.tools == nil {
		rt.tools = tools.NewRegistry()
		tools.RegisterDefaults(rt.tools)
	}
	if rt.cfg == nil {
		rt.cfg = config.Default()
	}
	if rt.policy == nil {
		rt.policy = capabilities.FromConfig(rt.cfg.Capabilities)
	}
	return rt
}

// Config returns the configuration in effect.
func (rt *Runtime) Config() *config.Config {
	return rt.cfg
}

// Policy returns the capability policy in effect.
func (rt *Runtime) Policy() *capabilities.Policy {
	return rt.policy
}

// Run parses, validates, and executes a program.
func (rt *Runtime) Run(ctx context.Context, source, filename string) (*Result, error) {
	runID := rt.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	log := rt.logger.With("run", runID, "file", filename)

	program, diags := rt.compile(source, filename)
	if len(diags) > 0 {
		log.Debug("program rejected", "diagnostics", len(diags), "first", diags[0].Code)
		return nil, &DiagnosticError{Diagnostics: diags}
	}

	docs := rt.docs
	if docs == nil {
		store, err := docstore.Open(rt.cfg.Documents)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		docs = store
	}

	opts := rt.buildExecOptions(runID, docs, log)
	log.Debug("execute", "budget", opts.Budget.String(), "capabilities", strings.Join(rt.policy.List(), ","))

	result, err := evaluator.Execute(ctx, program, opts)
	if err != nil {
		if sig, ok := err.(*evaluator.Signal); ok {
			log.Debug("run failed", "code", sig.Code.String(), "severity", sig.Severity.String(), "at", sig.Location())
		}
		if result != nil {
			return &Result{Usage: result.Usage, RunID: runID}, err
		}
		return &Result{RunID: runID}, err
	}

	log.Debug("run complete", "toolCalls", result.Usage.ToolCalls, "iterations", result.Usage.Iterations)
	return &Result{Value: result.Value, Usage: result.Usage, RunID: runID}, nil
}

// Check parses and validates a program without executing it.
func (rt *Runtime) Check(source, filename string) []diagnostics.Diagnostic {
	_, diags := rt.compile(source, filename)
	return diags
}

func (rt *Runtime) compile(source, filename string) (*ast.Program, []diagnostics.Diagnostic) {
	program, diags := parser.Parse(source, filename)
	if len(diags) > 0 {
		return nil, diags
	}
	return program, validator.Validate(program, validator.WithNamespaces(rt.cfg.NamespaceTable()))
}

// Format parses and formats a program.
func (rt *Runtime) Format(source, filename string) (string, error) {
	program, diags := parser.Parse(source, filename)
	if len(diags) > 0 {
		return "", &DiagnosticError{Diagnostics: diags}
	}
	return formatter.Format(program), nil
}

// buildExecOptions constructs evaluator options from the runtime's configuration.
func (rt *Runtime) buildExecOptions(runID string, docs evaluator.DocumentLoader, log *slog.Logger) evaluator.ExecOptions {
	b := rt.cfg.Budget
	return evaluator.ExecOptions{
		AllowedCapabilities: rt.policy.Map(),
		Tools:               rt.tools.Map(),
		Stdlib:              rt.stdlib.Map(),
		Namespaces:          rt.cfg.NamespaceTable(),
		Documents:           docs,
		Budget: evaluator.Budget{
			TimeMs:          b.TimeMs,
			MaxToolCalls:    b.MaxToolCalls,
			MaxBytesWritten: b.MaxBytesWritten,
			MaxIterations:   b.MaxIterations,
			MaxDepth:        b.MaxDepth,
		},
		ValidateIDs: rt.cfg.Validation.IDs,
		Trace:       traceBridge(log, rt.trace),
		RunID:       runID,
	}
}

// traceBridge logs try dispatch decisions and forwards every event to next.
func traceBridge(log *slog.Logger, next func(evaluator.TraceEvent)) func(evaluator.TraceEvent) {
	return func(ev evaluator.TraceEvent) {
		switch ev.Event {
		case evaluator.TraceCatch:
			log.Debug("try.dispatch", "code", field(ev, "code"), "clause", field(ev, "clause"), "tests", field(ev, "tests"))
		case evaluator.TracePropagate:
			log.Debug("try.propagate", "code", field(ev, "code"), "severity", field(ev, "severity"))
		case evaluator.TraceBudgetExceeded:
			log.Warn("budget exceeded", "reason", field(ev, "reason"))
		}
		if next != nil {
			next(ev)
		}
	}
}

func field(ev evaluator.TraceEvent, key string) string {
	if ev.Data == nil {
		return ""
	}
	v, _ := ev.Data.Get(key)
	return evaluator.StringValue(v)
}

// DiagnosticError wraps diagnostics as an error.
type DiagnosticError struct {
	Diagnostics []diagnostics.Diagnostic
}

func (e *DiagnosticError) Error() string {
	msgs := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		msgs[i] = fmt.Sprintf("%s: %s", d.Code, d.Message)
	}
	return strings.Join(msgs, "; ")
}
