// Package errtrack aggregates row and batch errors across an import run.
// Identical (type, message) pairs collapse into one counted occurrence so a
// systemic fault hitting thousands of rows stays bounded in memory.
package errtrack

import (
	"fmt"

	"go.uber.org/zap"
)

// DefaultMaxSamples bounds the context samples kept per distinct error.
const DefaultMaxSamples = 3

// Entry is one distinct error with its occurrence count and a bounded set of
// context samples from the first rows that triggered it.
type Entry struct {
	Type    string              `json:"type" yaml:"type"`
	Message string              `json:"message" yaml:"message"`
	Count   int                 `json:"count" yaml:"count"`
	Samples []map[string]string `json:"samples,omitempty" yaml:"samples,omitempty"`
}

// Tracker deduplicates and counts error occurrences. Not safe for concurrent
// use; each processor run owns its own tracker.
type Tracker struct {
	maxSamples int
	entries    map[string]*Entry
	order      []string
}

// New creates a tracker keeping up to maxSamples context samples per distinct
// error. maxSamples <= 0 uses DefaultMaxSamples.
func New(maxSamples int) *Tracker {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &Tracker{
		maxSamples: maxSamples,
		entries:    make(map[string]*Entry),
	}
}

// Record registers one occurrence of an error. The first occurrence of a
// (type, message) pair stores the context sample; later identical occurrences
// only increment the counter. Never fails.
func (t *Tracker) Record(errType, message string, sample map[string]string) {
	key := errType + "\x00" + message
	e, ok := t.entries[key]
	if !ok {
		e = &Entry{Type: errType, Message: message}
		t.entries[key] = e
		t.order = append(t.order, key)
	}
	e.Count++
	if sample != nil && len(e.Samples) < t.maxSamples {
		e.Samples = append(e.Samples, sample)
	}

	if e.Count == 1 {
		zap.L().Debug("error recorded",
			zap.String("error_type", errType),
			zap.String("message", message),
		)
	}
}

// RecordErr registers err under errType using its message.
func (t *Tracker) RecordErr(errType string, err error, sample map[string]string) {
	if err == nil {
		return
	}
	t.Record(errType, err.Error(), sample)
}

// Summary returns all distinct errors in first-seen order.
func (t *Tracker) Summary() []Entry {
	out := make([]Entry, 0, len(t.order))
	for _, key := range t.order {
		out = append(out, *t.entries[key])
	}
	return out
}

// Total returns the total occurrence count across all distinct errors.
func (t *Tracker) Total() int {
	n := 0
	for _, e := range t.entries {
		n += e.Count
	}
	return n
}

// String summarizes the tracker for log lines.
func (t *Tracker) String() string {
	return fmt.Sprintf("%d distinct errors, %d occurrences", len(t.entries), t.Total())
}
