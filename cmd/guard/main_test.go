package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, dir, stdin string, args ...string) result {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	var stdout, stderr bytes.Buffer
	c := &cli{stdin: strings.NewReader(stdin), stdout: &stdout, stderr: &stderr, dir: dir}
	code := c.main(context.Background(), args)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "ok.gq", `return try { 1 / 0 } catch err:FOAR0001 { { code: string { value: $err:code }, line: $err:line-number } }`)

	res := runCLI(t, dir, "", "run", file)
	assert.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, `{"code":"err:FOAR0001","line":1}`+"\n", res.stdout)
}

func TestRun_Stdin(t *testing.T) {
	res := runCLI(t, t.TempDir(), `return [1, "two", null]`, "run", "-")
	assert.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "[1,\"two\",null]\n", res.stdout)
}

func TestRun_ExitCodes(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name     string
		src      string
		want     int
		wantCode string
	}{
		{"syntax", `return (`, 2, "err:XPST0003"},
		{"unbound prefix", `return try { 1 } catch nope:x { 2 }`, 2, "err:XPST0081"},
		{"cap denied", "cap { fs.read: true }\nreturn 1", 3, "g:CAP_DENIED"},
		{"uncaught", `return try { 1 / 0 } catch err:XPTY0004 { 0 }`, 4, "err:FOAR0001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := writeFile(t, dir, "p.gq", tt.src)
			res := runCLI(t, dir, "", "run", file, "--json")
			assert.Equal(t, tt.want, res.code)
			assert.Empty(t, res.stdout)

			var diags []map[string]any
			require.NoError(t, json.Unmarshal([]byte(res.stderr), &diags), res.stderr)
			require.NotEmpty(t, diags)
			assert.Equal(t, tt.wantCode, diags[0]["code"])
		})
	}
}

func TestRun_PrettyDiagnostic(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "p.gq", "let a = 1\nreturn a / 0")

	res := runCLI(t, dir, "", "run", file, "--pretty")
	assert.Equal(t, 4, res.code)
	assert.Contains(t, res.stderr, "error[err:FOAR0001] (dynamic): division by zero")
	assert.Contains(t, res.stderr, "   2 | return a / 0")
	assert.Contains(t, res.stderr, "^")
}

func TestRun_ConfigAndUnsafe(t *testing.T) {
	dir := t.TempDir()
	data := writeFile(t, dir, "data.txt", "payload")
	src := "cap { fs.read: true }\nreturn call? fs.read { path: " + jsonString(data) + " }"
	file := writeFile(t, dir, "p.gq", src)

	res := runCLI(t, dir, "", "run", file, "--json")
	assert.Equal(t, 3, res.code)

	res = runCLI(t, dir, "", "run", file, "--unsafe-allow-all")
	assert.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "\"payload\"\n", res.stdout)

	writeFile(t, dir, ".guard.yaml", "capabilities:\n  allow: [fs.read]\n")
	res = runCLI(t, dir, "", "run", file)
	assert.Equal(t, 0, res.code, res.stderr)

	cfg := writeFile(t, dir, "other.yaml", "capabilities:\n  deny: [fs.read]\n")
	res = runCLI(t, dir, "", "run", file, "--config", cfg, "--json")
	assert.Equal(t, 3, res.code)
}

func TestRun_VerboseLogsDispatch(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "p.gq", `return try { 1 / 0 } catch * { 0 }`)

	res := runCLI(t, dir, "", "run", file, "--verbose")
	assert.Equal(t, 0, res.code)
	assert.Contains(t, res.stderr, "msg=try.dispatch")
	assert.Contains(t, res.stderr, "clause=0")
}

func TestRunAndTrace(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "p.gq", `let a = try { 1 / 0 } catch * { 0 }
let b = try { 1 + "x" } catch err:XPTY0004 { 1 }
return try { a + b } catch * { 2 }`)
	tracePath := filepath.Join(dir, "trace.jsonl")

	res := runCLI(t, dir, "", "run", file, "--trace", tracePath)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "1\n", res.stdout)

	res = runCLI(t, dir, "", "trace", tracePath, "--json")
	require.Equal(t, 0, res.code, res.stderr)
	var summary TraceSummary
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &summary))
	assert.Equal(t, 3, summary.Tries)
	assert.Equal(t, map[string]int{"err:FOAR0001": 1, "err:XPTY0004": 1}, summary.Caught)
	assert.Empty(t, summary.Propagated)
	assert.NotEmpty(t, summary.RunID)

	res = runCLI(t, dir, "", "trace", tracePath, "--text")
	assert.Contains(t, res.stdout, "Try expressions: 3")
	assert.Contains(t, res.stdout, "  err:XPTY0004: 1")
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.gq", `return 1`)
	bad := writeFile(t, dir, "bad.gq", `return missing`)

	res := runCLI(t, dir, "", "check", good, "--json")
	assert.Equal(t, 0, res.code)
	assert.Equal(t, "[]\n", res.stdout)

	res = runCLI(t, dir, "", "check", bad, "--json")
	assert.Equal(t, 2, res.code)
	assert.Contains(t, res.stderr, "err:XPST0008")

	writeFile(t, dir, ".guard.yaml", "namespaces:\n  app: \"urn:app\"\n")
	ns := writeFile(t, dir, "ns.gq", `return try { 1 } catch app:* { 2 }`)
	res = runCLI(t, dir, "", "check", ns, "--pretty")
	assert.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "No errors found.\n", res.stdout)
}

func TestFmt(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "p.gq", "# note\nreturn   1+2")

	res := runCLI(t, dir, "", "fmt", file)
	assert.Equal(t, 0, res.code)
	assert.Equal(t, "return 1 + 2\n", res.stdout)
	assert.Contains(t, res.stderr, "comments are not preserved")

	res = runCLI(t, dir, "", "fmt", file, "--write")
	assert.Equal(t, 0, res.code)
	written, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "return 1 + 2\n", string(written))
}

func TestConfigCommand(t *testing.T) {
	dir := t.TempDir()
	res := runCLI(t, dir, "", "config")
	assert.Equal(t, 0, res.code)
	assert.True(t, strings.HasPrefix(res.stdout, "# source: defaults\n"), res.stdout)

	writeFile(t, dir, ".guard.yaml", "validation:\n  ids: true\n")
	res = runCLI(t, dir, "", "config")
	assert.Equal(t, 0, res.code)
	assert.Contains(t, res.stdout, filepath.Join(dir, ".guard.yaml"))
	assert.Contains(t, res.stdout, "ids: true")

	writeFile(t, dir, ".guard.yaml", "budget: [")
	res = runCLI(t, dir, "", "config")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "g:IO")
}

func TestUsageErrors(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, 1, runCLI(t, dir, "").code)
	assert.Equal(t, 1, runCLI(t, dir, "", "bogus").code)
	assert.Equal(t, 1, runCLI(t, dir, "", "run").code)
	assert.Equal(t, 1, runCLI(t, dir, "", "run", "x.gq", "--nope").code)
	assert.Equal(t, 1, runCLI(t, dir, "", "run", "x.gq", "--trace").code)
	assert.Equal(t, 1, runCLI(t, dir, "", "run", filepath.Join(dir, "missing.gq")).code)
	assert.Equal(t, 0, runCLI(t, dir, "", "help").code)
}

func TestComputeTraceSummary(t *testing.T) {
	input := strings.Join([]string{
		`{"ts":"2025-01-01T00:00:00Z","runId":"r","event":"run_start"}`,
		`{"ts":"2025-01-01T00:00:00Z","runId":"r","event":"tool_start","data":{"tool":"fs.read"}}`,
		`not json`,
		`{"ts":"2025-01-01T00:00:00Z","runId":"r","event":"try_start"}`,
		`{"ts":"2025-01-01T00:00:00Z","runId":"r","event":"propagate","data":{"code":"g:BUDGET","severity":"static"}}`,
		`{"ts":"2025-01-01T00:00:00Z","runId":"r","event":"budget_exceeded","data":{"reason":"x"}}`,
		`{"ts":"2025-01-01T00:00:00.250Z","runId":"r","event":"run_end"}`,
	}, "\n")

	s := computeTraceSummary(strings.NewReader(input))
	assert.Equal(t, "r", s.RunID)
	assert.Equal(t, 6, s.TotalEvents)
	assert.Equal(t, 1, s.ToolsByName["fs.read"])
	assert.Equal(t, 1, s.Propagated["g:BUDGET"])
	assert.Equal(t, 1, s.BudgetExceeded)
	assert.Equal(t, float64(250), s.DurationMs)
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
