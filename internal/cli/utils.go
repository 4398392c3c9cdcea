// Package cli provides output formatting for the matome commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/matome/internal/models"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat maps a -output flag value to an OutputFormat.
func ParseFormat(value string) (OutputFormat, error) {
	switch value {
	case "", "text":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", value)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteMatchResults writes the outcome of a fragment submission.
func WriteMatchResults(w io.Writer, results []models.MatchResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, results)
	}
	if len(results) == 0 {
		fmt.Fprintln(w, "No fragments found in input.")
		return nil
	}
	fmt.Fprintf(w, "Staged %d fragment(s):\n\n", len(results))
	for _, r := range results {
		marker := "->"
		if r.IsNew {
			marker = "++"
		}
		fmt.Fprintf(w, "  %s %s  [%s", marker, r.ResolvedTitle, r.Method)
		if r.Method == models.MatchSemantic || r.Method == models.MatchKeyword {
			fmt.Fprintf(w, " %.2f", r.Confidence)
		}
		fmt.Fprint(w, "]")
		if r.Kind != "" {
			fmt.Fprintf(w, " (new %s)", r.Kind)
		}
		if r.Suggestion != "" {
			fmt.Fprintf(w, " (did you mean %q?)", r.Suggestion)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// WriteStructure writes a document's section tree.
func WriteStructure(w io.Writer, sections []models.Section, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, sections)
	}
	for _, s := range sections {
		if s.Level == 0 {
			if strings.TrimSpace(s.Body) != "" {
				fmt.Fprintln(w, "(preamble)")
			}
			continue
		}
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", s.Level-1), title)
	}
	return nil
}

// WriteHistory writes a document's version log, newest first.
func WriteHistory(w io.Writer, versions []models.Version, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, versions)
	}
	for i := len(versions) - 1; i >= 0; i-- {
		v := versions[i]
		fmt.Fprintf(w, "v%-4d %s  %-13s %s\n",
			v.Number, v.CreatedAt.Format("2006-01-02 15:04:05"), v.Trigger, v.Comment)
		if len(v.Sections) > 0 {
			fmt.Fprintf(w, "      sections: %s\n", strings.Join(v.Sections, ", "))
		}
	}
	return nil
}

// WriteTask writes one merge task's status, result preview included when
// the task completed.
func WriteTask(w io.Writer, task models.Task, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, task)
	}
	fmt.Fprintf(w, "Task:     %s\n", task.ID)
	fmt.Fprintf(w, "Document: %s\n", task.Document)
	fmt.Fprintf(w, "Section:  %s\n", task.Section)
	fmt.Fprintf(w, "Strategy: %s\n", task.Strategy)
	fmt.Fprintf(w, "Status:   %s\n", task.Status)
	if task.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", task.Error)
	}
	if task.Result != nil {
		fmt.Fprintln(w)
		if task.Result.Diff != "" {
			fmt.Fprintln(w, task.Result.Diff)
		} else {
			fmt.Fprintln(w, "(no changes)")
		}
	}
	return nil
}

// WriteTaskList writes a one-line summary per task.
func WriteTaskList(w io.Writer, tasks []models.Task, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, tasks)
	}
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No tasks.")
		return nil
	}
	for _, t := range tasks {
		fmt.Fprintf(w, "%s  %-9s %-17s %s/%s\n",
			t.ID, t.Status, t.Strategy, t.Document, t.Section)
	}
	return nil
}

// Truncate truncates s to maxLen and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
