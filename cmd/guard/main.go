// Command guard runs, checks and formats guarded-evaluation programs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/thomasrohde/guardeval/pkg/config"
	"github.com/thomasrohde/guardeval/pkg/diagnostics"
	"github.com/thomasrohde/guardeval/pkg/evaluator"
	"github.com/thomasrohde/guardeval/pkg/formatter"
	"github.com/thomasrohde/guardeval/pkg/runtime"
)

const usage = `usage: guard <command> [options]
commands:
  run <file>    execute a program and print its value as JSON
  check <file>  parse and validate without executing
  fmt <file>    print the canonical form (--write to rewrite the file)
  trace <file>  summarize a trace written by run --trace
  config        print the effective configuration`

type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	tty    bool // stderr is a terminal; enables pretty diagnostics by default
	dir    string
}

func main() {
	fd := os.Stderr.Fd()
	cwd, _ := os.Getwd()
	c := &cli{
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
		tty:    isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd),
		dir:    cwd,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := c.main(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func (c *cli) main(ctx context.Context, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(c.stderr, usage)
		return runtime.ExitUsage
	}

	switch args[0] {
	case "run":
		return c.cmdRun(ctx, args[1:])
	case "check":
		return c.cmdCheck(args[1:])
	case "fmt":
		return c.cmdFmt(args[1:])
	case "trace":
		return c.cmdTrace(args[1:])
	case "config":
		return c.cmdConfig(args[1:])
	case "help", "--help", "-h":
		fmt.Fprintln(c.stdout, usage)
		return runtime.ExitOK
	default:
		fmt.Fprintf(c.stderr, "Unknown command: %s\n", args[0])
		return runtime.ExitUsage
	}
}

// flags holds the options shared by the commands. Each command reads the
// ones it understands.
type flags struct {
	file           string
	pretty         bool
	unsafeAllowAll bool
	verbose        bool
	write          bool
	text           bool
	tracePath      string
	configPath     string
}

func (c *cli) parseFlags(args []string) (flags, error) {
	f := flags{pretty: c.tty}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--pretty":
			f.pretty = true
		case "--json":
			f.pretty = false
			f.text = false
		case "--text":
			f.text = true
		case "--unsafe-allow-all":
			f.unsafeAllowAll = true
		case "--verbose", "-v":
			f.verbose = true
		case "--write":
			f.write = true
		case "--trace", "--config":
			if i+1 >= len(args) {
				return f, fmt.Errorf("%s requires a path", args[i])
			}
			i++
			if args[i-1] == "--trace" {
				f.tracePath = args[i]
			} else {
				f.configPath = args[i]
			}
		default:
			if strings.HasPrefix(args[i], "-") && args[i] != "-" {
				return f, fmt.Errorf("unknown option %s", args[i])
			}
			f.file = args[i]
		}
	}
	return f, nil
}

func (c *cli) cmdRun(ctx context.Context, args []string) int {
	f, err := c.parseFlags(args)
	if err != nil || f.file == "" {
		c.usageError(err, "usage: guard run <file> [--pretty|--json] [--unsafe-allow-all] [--trace <path>] [--config <path>] [--verbose]")
		return runtime.ExitUsage
	}

	source, filename, ok := c.readSource(f.file, f.pretty)
	if !ok {
		return runtime.ExitUsage
	}
	cfg, ok := c.loadConfig(f)
	if !ok {
		return runtime.ExitUsage
	}

	opts := []runtime.Option{runtime.WithConfig(cfg), runtime.WithLogger(c.logger(f.verbose))}
	if f.unsafeAllowAll {
		opts = append(opts, runtime.WithUnsafeAllowAll())
	}
	if f.tracePath != "" {
		traceFile, err := os.Create(f.tracePath)
		if err != nil {
			c.ioError(fmt.Sprintf("cannot write trace: %s", f.tracePath), f.pretty)
			return runtime.ExitUsage
		}
		defer traceFile.Close()
		enc := json.NewEncoder(traceFile)
		opts = append(opts, runtime.WithTrace(func(ev evaluator.TraceEvent) {
			_ = enc.Encode(ev)
		}))
	}

	rt := runtime.New(opts...)
	result, err := rt.Run(ctx, source, filename)
	if err != nil {
		fmt.Fprintln(c.stderr, diagnostics.FormatDiagnosticsWithSource(runtime.ErrorDiagnostics(err), f.pretty, source))
		return runtime.ExitCode(err)
	}

	out, err := evaluator.ValueToJSON(result.Value)
	if err != nil {
		fmt.Fprintf(c.stderr, "error serializing result: %s\n", err)
		return runtime.ExitUncaught
	}
	fmt.Fprintln(c.stdout, string(out))
	return runtime.ExitOK
}

func (c *cli) cmdCheck(args []string) int {
	f, err := c.parseFlags(args)
	if err != nil || f.file == "" {
		c.usageError(err, "usage: guard check <file> [--pretty|--json] [--config <path>]")
		return runtime.ExitUsage
	}

	source, filename, ok := c.readSource(f.file, f.pretty)
	if !ok {
		return runtime.ExitUsage
	}
	cfg, ok := c.loadConfig(f)
	if !ok {
		return runtime.ExitUsage
	}

	diags := runtime.New(runtime.WithConfig(cfg)).Check(source, filename)
	if len(diags) > 0 {
		fmt.Fprintln(c.stderr, diagnostics.FormatDiagnosticsWithSource(diags, f.pretty, source))
		return runtime.ExitRejected
	}

	if f.pretty {
		fmt.Fprintln(c.stdout, "No errors found.")
	} else {
		fmt.Fprintln(c.stdout, "[]")
	}
	return runtime.ExitOK
}

func (c *cli) cmdFmt(args []string) int {
	f, err := c.parseFlags(args)
	if err != nil || f.file == "" {
		c.usageError(err, "usage: guard fmt <file> [--write]")
		return runtime.ExitUsage
	}

	source, filename, ok := c.readSource(f.file, f.pretty)
	if !ok {
		return runtime.ExitUsage
	}

	formatted, err := runtime.New().Format(source, filename)
	if err != nil {
		fmt.Fprintln(c.stderr, diagnostics.FormatDiagnosticsWithSource(runtime.ErrorDiagnostics(err), f.pretty, source))
		return runtime.ExitRejected
	}

	if formatter.HasComments(source) {
		fmt.Fprintln(c.stderr, "warning: comments are not preserved by the formatter")
	}

	if f.write && f.file != "-" {
		if err := os.WriteFile(f.file, []byte(formatted), 0644); err != nil {
			fmt.Fprintf(c.stderr, "error writing file: %s\n", err)
			return runtime.ExitUsage
		}
		return runtime.ExitOK
	}
	fmt.Fprint(c.stdout, formatted)
	return runtime.ExitOK
}

func (c *cli) cmdTrace(args []string) int {
	f, err := c.parseFlags(args)
	if err != nil || f.file == "" {
		c.usageError(err, "usage: guard trace <file.jsonl> [--json|--text]")
		return runtime.ExitUsage
	}

	r, err := os.Open(f.file)
	if err != nil {
		c.ioError(fmt.Sprintf("cannot read file: %s", f.file), false)
		return runtime.ExitUsage
	}
	defer r.Close()

	summary := computeTraceSummary(r)
	if f.text {
		printTraceSummaryText(c.stdout, summary)
		return runtime.ExitOK
	}
	b, _ := json.Marshal(summary)
	fmt.Fprintln(c.stdout, string(b))
	return runtime.ExitOK
}

func (c *cli) cmdConfig(args []string) int {
	f, err := c.parseFlags(args)
	if err != nil {
		c.usageError(err, "usage: guard config [--config <path>]")
		return runtime.ExitUsage
	}
	cfg, ok := c.loadConfig(f)
	if !ok {
		return runtime.ExitUsage
	}

	out, err := cfg.Marshal()
	if err != nil {
		fmt.Fprintf(c.stderr, "error serializing config: %s\n", err)
		return runtime.ExitUsage
	}
	source := cfg.Path
	if source == "" {
		source = "defaults"
	}
	fmt.Fprintf(c.stdout, "# source: %s\n%s", source, out)
	return runtime.ExitOK
}

func (c *cli) loadConfig(f flags) (*config.Config, bool) {
	var cfg *config.Config
	var err error
	if f.configPath != "" {
		cfg, err = config.LoadFile(f.configPath)
	} else {
		cfg, err = config.Load(c.dir)
	}
	if err != nil {
		c.ioError(err.Error(), f.pretty)
		return nil, false
	}
	return cfg, true
}

func (c *cli) logger(verbose bool) *slog.Logger {
	if !verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(c.stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func (c *cli) readSource(file string, pretty bool) (string, string, bool) {
	if file == "-" {
		data, err := io.ReadAll(c.stdin)
		if err != nil {
			fmt.Fprintf(c.stderr, "error reading stdin: %s\n", err)
			return "", "", false
		}
		return string(data), "<stdin>", true
	}

	source, err := os.ReadFile(file)
	if err != nil {
		c.ioError(fmt.Sprintf("cannot read file: %s", file), pretty)
		return "", "", false
	}
	return string(source), file, true
}

func (c *cli) ioError(msg string, pretty bool) {
	diag := diagnostics.MakeDiag(diagnostics.EIO, msg, nil, "")
	fmt.Fprintln(c.stderr, diagnostics.FormatDiagnostics([]diagnostics.Diagnostic{diag}, pretty))
}

func (c *cli) usageError(err error, usage string) {
	if err != nil {
		fmt.Fprintf(c.stderr, "error: %s\n", err)
	}
	fmt.Fprintln(c.stderr, usage)
}
