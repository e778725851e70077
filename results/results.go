// Package results holds the durable artifact of a test run: per-test outcome
// records plus run metadata, persisted as a JSON document that the uploader
// can submit (and re-submit) to the registry.
package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Status is the outcome of a single test.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
	StatusSkip Status = "skip"
)

// Record captures the outcome of a single test.
type Record struct {
	Name            string  `json:"name"`
	UUID            string  `json:"uuid,omitempty"`
	Status          Status  `json:"status"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Stats tracks aggregate counts for a run.
type Stats struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Document is the persisted run artifact. Records accumulate during a run
// and the document is finalized once at run completion; a run interrupted
// mid-way still produces a valid document with a partial record array.
type Document struct {
	CPID            string    `json:"cpid"`
	DurationSeconds int       `json:"duration_seconds"`
	RunID           string    `json:"run_id,omitempty"`
	StartedAt       time.Time `json:"started_at,omitempty"`
	FinishedAt      time.Time `json:"finished_at,omitempty"`
	Interrupted     bool      `json:"interrupted,omitempty"`
	Stats           Stats     `json:"stats"`
	Results         []Record  `json:"results"`
}

// Append adds a record to the document and updates the running stats.
func (d *Document) Append(rec Record) {
	d.Results = append(d.Results, rec)
	d.Stats.Total++
	switch rec.Status {
	case StatusPass:
		d.Stats.Passed++
	case StatusFail:
		d.Stats.Failed++
	case StatusSkip:
		d.Stats.Skipped++
	}
}

// Passed returns the records for tests that passed, the subset the registry
// accepts as compliance evidence.
func (d *Document) Passed() []Record {
	var passed []Record
	for _, rec := range d.Results {
		if rec.Status == StatusPass {
			passed = append(passed, rec)
		}
	}
	return passed
}

// Save writes the document to path atomically. The document is written to a
// temporary file in the same directory and renamed into place, so a reader
// never observes a partially-written file even if the run is cancelled.
func (d *Document) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating results directory: %w", err)
	}

	data, err := json.MarshalIndent(d, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".results-*.json")
	if err != nil {
		return fmt.Errorf("creating temporary results file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing results: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing results file: %w", err)
	}
	// CreateTemp makes the file 0600; result documents are shareable
	// artifacts, so widen to the usual file mode before publishing.
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("setting results file mode: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming results file: %w", err)
	}
	return nil
}

// Load reads a document previously written by Save.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading results file: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing results file: %w", err)
	}
	return &doc, nil
}

// FileName builds the results file name for a run, prefixed with an optional
// tag so runs against different targets can be told apart.
func FileName(tag string, startedAt time.Time) string {
	name := fmt.Sprintf("refstack-%s.json", startedAt.UTC().Format("20060102-150405"))
	if tag != "" {
		name = tag + "-" + name
	}
	return name
}
