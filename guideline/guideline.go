// Package guideline retrieves a compliance guideline's required-test
// manifest from a remote URL or a local file. The manifest is a JSON array
// of entries carrying a test identifier plus required/flagged metadata and
// optional alias identifiers for tests renamed across releases.
package guideline

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
)

// Entry is one test in a guideline manifest. Entries are immutable once
// fetched.
type Entry struct {
	ID       string   `json:"id"`
	Required bool     `json:"required"`
	Flagged  bool     `json:"flagged"`
	Target   string   `json:"target,omitempty"`
	Aliases  []string `json:"aliases,omitempty"`
}

// EntryType filters entries by their required flag.
type EntryType string

const (
	TypeAll      EntryType = ""
	TypeRequired EntryType = "required"
	TypeOptional EntryType = "optional"
)

// Options filter the fetched manifest.
type Options struct {
	Target         string    // restrict to entries for a target program, empty for all
	Type           EntryType // required, optional, or all
	IncludeAliases bool      // keep per-entry alias lists
	IncludeFlagged bool      // keep flagged (waived) entries
}

// Fetcher retrieves and parses guideline manifests.
type Fetcher struct {
	log      *slog.Logger
	client   *retryablehttp.Client
	insecure bool
}

// Config holds fetcher configuration.
type Config struct {
	Log      *slog.Logger
	Insecure bool // skip TLS verification on remote retrieval
}

func NewFetcher(cfg Config) *Fetcher {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 3
	if cfg.Insecure {
		client.HTTPClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return &Fetcher{
		log:      cfg.Log,
		client:   client,
		insecure: cfg.Insecure,
	}
}

// Fetch retrieves the guideline at ref, which may be an http(s) URL or a
// local file path, and returns its entries after validation and filtering.
// Malformed entries are rejected individually and logged; only an
// unreachable or wholly unparseable document is an error.
func (f *Fetcher) Fetch(ctx context.Context, ref string, opts Options) ([]Entry, error) {
	var (
		data []byte
		err  error
	)
	if isRemote(ref) {
		data, err = f.fetchRemote(ctx, ref)
	} else {
		data, err = os.ReadFile(ref)
	}
	if err != nil {
		return nil, fmt.Errorf("retrieving guideline %q: %w", ref, err)
	}

	entries, err := f.parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing guideline %q: %w", ref, err)
	}

	return filter(entries, opts), nil
}

func isRemote(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

func (f *Fetcher) fetchRemote(ctx context.Context, url string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// parse decodes the manifest, dropping individually malformed entries so a
// single bad record in an evolving remote document does not abort the run.
func (f *Fetcher) parse(data []byte) ([]Entry, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("guideline is not a JSON array: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for i, msg := range raw {
		var entry Entry
		if err := json.Unmarshal(msg, &entry); err != nil {
			f.log.Warn("Dropping malformed guideline entry", "index", i, "error", err)
			continue
		}
		if entry.ID == "" {
			f.log.Warn("Dropping guideline entry with empty id", "index", i)
			continue
		}
		entries = append(entries, entry)
	}

	if len(raw) > 0 && len(entries) == 0 {
		return nil, fmt.Errorf("no valid entries among %d", len(raw))
	}
	return entries, nil
}

func filter(entries []Entry, opts Options) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if opts.Target != "" && entry.Target != "" && entry.Target != opts.Target {
			continue
		}
		switch opts.Type {
		case TypeRequired:
			if !entry.Required {
				continue
			}
		case TypeOptional:
			if entry.Required {
				continue
			}
		}
		if !opts.IncludeFlagged && entry.Flagged {
			continue
		}
		if !opts.IncludeAliases {
			entry.Aliases = nil
		}
		out = append(out, entry)
	}
	return out
}
