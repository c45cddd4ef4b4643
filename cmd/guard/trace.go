package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// TraceSummary aggregates the events of one trace file.
type TraceSummary struct {
	RunID           string         `json:"runId"`
	TotalEvents     int            `json:"totalEvents"`
	ToolInvocations int            `json:"toolInvocations"`
	ToolsByName     map[string]int `json:"toolsByName"`
	Tries           int            `json:"tries"`
	Caught          map[string]int `json:"caught"`
	Propagated      map[string]int `json:"propagated"`
	BudgetExceeded  int            `json:"budgetExceeded"`
	StartTime       string         `json:"startTime,omitempty"`
	EndTime         string         `json:"endTime,omitempty"`
	DurationMs      float64        `json:"durationMs"`
}

type traceEvent struct {
	Event string            `json:"event"`
	RunID string            `json:"runId"`
	TS    string            `json:"ts"`
	Data  map[string]string `json:"data,omitempty"`
}

func computeTraceSummary(r io.Reader) *TraceSummary {
	summary := &TraceSummary{
		ToolsByName: make(map[string]int),
		Caught:      make(map[string]int),
		Propagated:  make(map[string]int),
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var event traceEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue // skip invalid lines
		}

		summary.TotalEvents++
		if summary.RunID == "" {
			summary.RunID = event.RunID
		}

		switch event.Event {
		case "run_start":
			if summary.StartTime == "" {
				summary.StartTime = event.TS
			}
		case "run_end":
			summary.EndTime = event.TS
		case "tool_start":
			summary.ToolInvocations++
			if name := event.Data["tool"]; name != "" {
				summary.ToolsByName[name]++
			}
		case "try_start":
			summary.Tries++
		case "catch":
			summary.Caught[event.Data["code"]]++
		case "propagate":
			summary.Propagated[event.Data["code"]]++
		case "budget_exceeded":
			summary.BudgetExceeded++
		}
	}

	if summary.StartTime != "" && summary.EndTime != "" {
		start, err1 := time.Parse(time.RFC3339Nano, summary.StartTime)
		end, err2 := time.Parse(time.RFC3339Nano, summary.EndTime)
		if err1 == nil && err2 == nil {
			summary.DurationMs = float64(end.Sub(start).Milliseconds())
		}
	}

	return summary
}

func printTraceSummaryText(w io.Writer, s *TraceSummary) {
	fmt.Fprintf(w, "Run: %s\n", s.RunID)
	fmt.Fprintf(w, "Events: %d\n", s.TotalEvents)
	fmt.Fprintf(w, "Tools: %d invocations\n", s.ToolInvocations)
	printCounts(w, s.ToolsByName)
	fmt.Fprintf(w, "Try expressions: %d\n", s.Tries)
	fmt.Fprintf(w, "Caught: %d\n", total(s.Caught))
	printCounts(w, s.Caught)
	fmt.Fprintf(w, "Propagated: %d\n", total(s.Propagated))
	printCounts(w, s.Propagated)
	if s.BudgetExceeded > 0 {
		fmt.Fprintf(w, "Budget exceeded: %d\n", s.BudgetExceeded)
	}
	if s.DurationMs > 0 {
		fmt.Fprintf(w, "Duration: %.0fms\n", s.DurationMs)
	}
}

func printCounts(w io.Writer, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %d\n", k, counts[k])
	}
}

func total(counts map[string]int) int {
	n := 0
	for _, c := range counts {
		n += c
	}
	return n
}
