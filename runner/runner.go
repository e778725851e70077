// Package runner executes a test selection in an external Tempest workspace
// and captures the streamed results.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jcmdln/refstack-client/results"
	"github.com/jcmdln/refstack-client/subunit"
)

// defaultRegex selects the API test surface when no explicit selection is
// given.
const defaultRegex = "tempest.api"

var attrPattern = regexp.MustCompile(`\[([^\]]*)\]`)

// Config holds runner configuration.
type Config struct {
	// TempestDir is the Tempest workspace the runner is installed in.
	TempestDir string
	// Parallel runs workers concurrently; serial execution otherwise.
	Parallel bool
	// Regex selects tests when no explicit selection is given. Empty
	// means the API test surface.
	Regex string
	// Timeout bounds the whole run; zero means no limit.
	Timeout time.Duration
	Log     *slog.Logger
	// OnRecord, when set, observes each finished test as it completes.
	OnRecord func(results.Record)
}

// Runner drives the external test runner and decodes its result stream.
type Runner struct {
	cfg Config
}

func NewRunner(cfg Config) (*Runner, error) {
	if cfg.TempestDir == "" {
		return nil, fmt.Errorf("tempest directory is required")
	}
	if cfg.Regex == "" {
		cfg.Regex = defaultRegex
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Runner{cfg: cfg}, nil
}

// Run executes the given tests and returns the captured results. A nil or
// empty selection falls back to the configured regex. Cancellation stops the
// subprocess and returns the results collected so far with Interrupted set;
// it is not an error. A failing subprocess is an error only when it produced
// no results at all. When the result stream turns corrupt mid-run, the
// records decoded so far are returned alongside the error.
func (r *Runner) Run(ctx context.Context, selection []string) (*results.Document, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	args, cleanup, err := r.command(selection)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = r.cfg.TempestDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("attaching to runner output: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	r.cfg.Log.Info("Running tests", "command", cmd.String(), "dir", cmd.Dir, "tests", len(selection))

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting test runner: %w", err)
	}

	doc := &results.Document{
		RunID:     uuid.New().String(),
		StartedAt: start.UTC(),
	}
	streamErr := r.consume(stdout, doc)
	waitErr := cmd.Wait()

	doc.FinishedAt = time.Now().UTC()
	doc.DurationSeconds = int(doc.FinishedAt.Sub(doc.StartedAt).Seconds())

	if ctx.Err() != nil {
		doc.Interrupted = true
		r.cfg.Log.Warn("Test run interrupted", "cause", ctx.Err(), "collected", doc.Stats.Total)
		return doc, nil
	}
	if streamErr != nil {
		err := fmt.Errorf("reading result stream: %w", streamErr)
		if doc.Stats.Total == 0 {
			return nil, err
		}
		// Stream corrupted mid-run. Records decoded before the
		// corruption stand so the caller can persist a partial set.
		doc.Interrupted = true
		r.cfg.Log.Warn("Result stream corrupted mid-run", "error", streamErr, "collected", doc.Stats.Total)
		return doc, err
	}
	// stestr exits non-zero when tests fail; that is a result, not a
	// runner failure.
	if waitErr != nil && doc.Stats.Total == 0 {
		return nil, fmt.Errorf("test runner failed: %w\nstderr: %s", waitErr, stderr.String())
	}

	r.cfg.Log.Info("Test run finished",
		"total", doc.Stats.Total,
		"passed", doc.Stats.Passed,
		"failed", doc.Stats.Failed,
		"skipped", doc.Stats.Skipped,
		"duration", doc.DurationSeconds)
	return doc, nil
}

// consume decodes the subunit stream, folding terminal events into records.
func (r *Runner) consume(stream io.Reader, doc *results.Document) error {
	return fold(stream, doc, func(rec results.Record) {
		if r.cfg.OnRecord != nil {
			r.cfg.OnRecord(rec)
		}
		r.cfg.Log.Debug("Test finished", "test", rec.Name, "status", rec.Status)
	})
}

// Collect decodes a complete result stream, e.g. one saved to a file by an
// earlier run, into a result set.
func Collect(stream io.Reader) (*results.Document, error) {
	doc := &results.Document{RunID: uuid.New().String()}
	if err := fold(stream, doc, nil); err != nil {
		return nil, fmt.Errorf("reading result stream: %w", err)
	}
	if doc.Stats.Total == 0 {
		return nil, fmt.Errorf("result stream holds no tests")
	}
	return doc, nil
}

// fold replays a subunit stream into doc. In-progress timestamps are kept so
// each record carries its own duration. A torn stream is not an error: the
// records read so far stand, and the caller decides what a truncated source
// means.
func fold(stream io.Reader, doc *results.Document, onRecord func(results.Record)) error {
	reader := subunit.NewReader(stream)
	started := make(map[string]time.Time)

	for {
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if ev.TestID == "" {
			continue
		}

		switch {
		case ev.Status == subunit.StatusInProgress:
			started[ev.TestID] = ev.Timestamp
		case ev.Status.Terminal():
			rec := record(ev, started)
			doc.Append(rec)
			delete(started, ev.TestID)
			if onRecord != nil {
				onRecord(rec)
			}
		}
	}
}

// record converts a terminal event into a stored result. The identifier is
// stripped of its attribute block; the id- attribute, when present, becomes
// the record's UUID.
func record(ev subunit.Event, started map[string]time.Time) results.Record {
	rec := results.Record{
		Name:   attrPattern.ReplaceAllString(ev.TestID, ""),
		UUID:   extractUUID(ev.TestID),
		Status: status(ev.Status),
	}
	if begin, ok := started[ev.TestID]; ok && !ev.Timestamp.IsZero() && ev.Timestamp.After(begin) {
		rec.DurationSeconds = ev.Timestamp.Sub(begin).Seconds()
	}
	return rec
}

func status(s subunit.Status) results.Status {
	switch s {
	case subunit.StatusSuccess, subunit.StatusXFail:
		return results.StatusPass
	case subunit.StatusSkip:
		return results.StatusSkip
	default:
		return results.StatusFail
	}
}

func extractUUID(testID string) string {
	m := attrPattern.FindStringSubmatch(testID)
	if m == nil {
		return ""
	}
	for _, attr := range strings.Split(m[1], ",") {
		attr = strings.TrimSpace(attr)
		if strings.HasPrefix(attr, "id-") {
			return strings.TrimPrefix(attr, "id-")
		}
	}
	return ""
}

// command builds the runner invocation. An explicit selection is written to
// a load list file; otherwise the configured regex selects tests. The
// returned cleanup removes the list file.
func (r *Runner) command(selection []string) ([]string, func(), error) {
	var args []string
	if wrapper := filepath.Join(r.cfg.TempestDir, "tools", "with_venv.sh"); fileExists(wrapper) {
		args = append(args, wrapper)
	}
	args = append(args, "stestr", "run", "--subunit")
	if !r.cfg.Parallel {
		args = append(args, "--serial")
	}

	if len(selection) == 0 {
		args = append(args, "--regex", r.cfg.Regex)
		return args, func() {}, nil
	}

	list, err := writeLoadList(selection)
	if err != nil {
		return nil, nil, err
	}
	args = append(args, "--load-list", list)
	return args, func() { os.Remove(list) }, nil
}

func writeLoadList(selection []string) (string, error) {
	f, err := os.CreateTemp("", "refstack-load-list-*.txt")
	if err != nil {
		return "", fmt.Errorf("creating load list: %w", err)
	}
	for _, id := range selection {
		if _, err := fmt.Fprintln(f, id); err != nil {
			f.Close()
			os.Remove(f.Name())
			return "", fmt.Errorf("writing load list: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("writing load list: %w", err)
	}
	return f.Name(), nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
