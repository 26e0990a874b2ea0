// Package report renders the outcome of an import run.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/asphaltanchors/importer/internal/errtrack"
	"github.com/asphaltanchors/importer/internal/model"
)

// StageResult is the outcome of one pipeline stage.
type StageResult struct {
	Name       string      `yaml:"name"`
	Stats      model.Stats `yaml:"stats"`
	DurationMS int64       `yaml:"duration_ms"`
}

// Report summarizes a full import run.
type Report struct {
	StartedAt  time.Time       `yaml:"started_at"`
	FinishedAt time.Time       `yaml:"finished_at"`
	Rows       int             `yaml:"rows"`
	Stages     []StageResult   `yaml:"stages"`
	Errors     []errtrack.Entry `yaml:"errors,omitempty"`
}

// AddStage appends one stage outcome.
func (r *Report) AddStage(name string, stats model.Stats, duration time.Duration) {
	r.Stages = append(r.Stages, StageResult{
		Name:       name,
		Stats:      stats,
		DurationMS: duration.Milliseconds(),
	})
}

// Totals sums stats across stages.
func (r *Report) Totals() model.Stats {
	var total model.Stats
	for _, s := range r.Stages {
		total.Add(s.Stats)
	}
	return total
}

// HasFailures reports whether any batch was rolled back.
func (r *Report) HasFailures() bool {
	for _, s := range r.Stages {
		if s.Stats.FailedBatches > 0 {
			return true
		}
	}
	return false
}

// ErrorCount is the number of error occurrences across the run, counting
// repeats of a deduplicated entry individually.
func (r *Report) ErrorCount() int {
	n := 0
	for _, e := range r.Errors {
		n += e.Count
	}
	return n
}

// Render formats the report as human-readable text.
func (r *Report) Render() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Import run: %d rows in %s\n",
		r.Rows, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	b.WriteString("\n")

	fmt.Fprintf(&b, "%-12s %8s %8s %8s %8s %8s %10s\n",
		"STAGE", "CREATED", "UPDATED", "SKIPPED", "ERRORED", "BATCHES", "DURATION")
	for _, s := range r.Stages {
		batches := fmt.Sprintf("%d", s.Stats.Batches)
		if s.Stats.FailedBatches > 0 {
			batches = fmt.Sprintf("%d(%d!)", s.Stats.Batches, s.Stats.FailedBatches)
		}
		fmt.Fprintf(&b, "%-12s %8d %8d %8d %8d %8s %10s\n",
			s.Name, s.Stats.Created, s.Stats.Updated, s.Stats.Skipped,
			s.Stats.Errored, batches,
			(time.Duration(s.DurationMS) * time.Millisecond).String())
	}

	if len(r.Errors) > 0 {
		fmt.Fprintf(&b, "\nErrors (%d occurrences, %d distinct):\n", r.ErrorCount(), len(r.Errors))
		for _, e := range r.Errors {
			fmt.Fprintf(&b, "  [%s] x%d %s\n", e.Type, e.Count, e.Message)
			for _, sample := range e.Samples {
				fmt.Fprintf(&b, "      %s\n", formatSample(sample))
			}
		}
	}

	return b.String()
}

// YAML renders the report for machine consumption.
func (r *Report) YAML() ([]byte, error) {
	data, err := yaml.Marshal(r)
	if err != nil {
		return nil, eris.Wrap(err, "report: marshal yaml")
	}
	return data, nil
}

func formatSample(sample map[string]string) string {
	// Stable order for the fields we always record, then the rest.
	keys := []string{"processor", "row_index", "batch_start"}
	var parts []string
	seen := map[string]bool{}
	for _, k := range keys {
		if v, ok := sample[k]; ok {
			parts = append(parts, k+"="+v)
			seen[k] = true
		}
	}
	var rest []string
	for k := range sample {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		parts = append(parts, k+"="+sample[k])
	}
	return strings.Join(parts, " ")
}
