// Package testutil provides shared test helpers, chiefly the YAML scenario
// loader used by the conformance suite.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// ScenariosDir is the relative path from the module root to the scenarios.
const ScenariosDir = "testdata/scenarios"

// Scenario is one program together with the outcome it must produce.
type Scenario struct {
	Name   string         `yaml:"name"`
	Cmd    string         `yaml:"cmd"` // "run" (default) or "check"
	Source string         `yaml:"source"`
	Config string         `yaml:"config,omitempty"` // .guard.yaml content
	Docs   map[string]any `yaml:"docs,omitempty"`   // uri -> JSON document
	Pretty bool           `yaml:"pretty,omitempty"`
	Tags   []string       `yaml:"tags,omitempty"`
	Expect Expect         `yaml:"expect"`
}

// Expect describes the expected outcome of a scenario.
type Expect struct {
	ExitCode       int    `yaml:"exitCode"`
	Stdout         any    `yaml:"stdout,omitempty"` // compared as JSON
	StderrContains string `yaml:"stderrContains,omitempty"`
	StderrSubset   any    `yaml:"stderrSubset,omitempty"` // JSON subset of the diagnostics
}

// File is a scenario file: a list of scenarios sharing a topic.
type File struct {
	Path      string
	Scenarios []Scenario
}

// LoadFile parses a scenario file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var scenarios []Scenario
	if err := yaml.Unmarshal(data, &scenarios); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	for i, s := range scenarios {
		if s.Name == "" {
			return nil, fmt.Errorf("%s: scenario %d has no name", path, i)
		}
		if s.Cmd == "" {
			scenarios[i].Cmd = "run"
		}
	}
	return &File{Path: path, Scenarios: scenarios}, nil
}

// ListFiles returns the scenario files under root in name order.
func ListFiles(root string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(root, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// JSONCompatible converts values decoded from YAML into the shapes
// encoding/json produces, so expectations can be compared with decoded
// output.
func JSONCompatible(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = JSONCompatible(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = JSONCompatible(item)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case uint64:
		return float64(val)
	default:
		return v
	}
}

// IsSubset reports whether expected is contained in actual. Maps match when
// every expected key matches; lists match element-wise on a prefix.
func IsSubset(expected, actual any) bool {
	switch e := expected.(type) {
	case map[string]any:
		a, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, ev := range e {
			av, exists := a[k]
			if !exists || !IsSubset(ev, av) {
				return false
			}
		}
		return true

	case []any:
		a, ok := actual.([]any)
		if !ok || len(e) > len(a) {
			return false
		}
		for i, ev := range e {
			if !IsSubset(ev, a[i]) {
				return false
			}
		}
		return true

	case nil:
		return actual == nil

	default:
		return fmt.Sprintf("%v", expected) == fmt.Sprintf("%v", actual)
	}
}
