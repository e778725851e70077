// Package api is the client for the RefStack results server.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/jcmdln/refstack-client/results"
)

// Signer produces the signature headers for an authenticated upload.
type Signer interface {
	Sign(data []byte) (string, error)
	PublicKey() (string, error)
}

// StatusError is a non-2xx reply from the results server.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("results server returned %s: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("results server returned %s", e.Status)
}

// Client talks to a RefStack API endpoint.
type Client struct {
	base string
	http *retryablehttp.Client
	log  *slog.Logger
}

// NewClient builds a client for the server at base, e.g.
// https://refstack.openstack.org/api.
func NewClient(base string, insecure bool, log *slog.Logger) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid results server url %q", base)
	}
	if log == nil {
		log = slog.Default()
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	if insecure {
		client.HTTPClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: client,
		log:  log,
	}, nil
}

type uploadResult struct {
	Name string `json:"name"`
	UUID string `json:"uuid,omitempty"`
}

type uploadPayload struct {
	CPID            string         `json:"cpid"`
	DurationSeconds int            `json:"duration_seconds"`
	Results         []uploadResult `json:"results"`
}

// PostResults uploads the passed tests of a result set and returns the URL
// the server stored them under. A nil signer uploads anonymously.
func (c *Client) PostResults(ctx context.Context, doc *results.Document, signer Signer) (string, error) {
	passed := doc.Passed()
	if len(passed) == 0 {
		return "", fmt.Errorf("result set holds no passed tests, nothing to upload")
	}

	payload := uploadPayload{
		CPID:            doc.CPID,
		DurationSeconds: doc.DurationSeconds,
		Results:         make([]uploadResult, 0, len(passed)),
	}
	for _, rec := range passed {
		payload.Results = append(payload.Results, uploadResult{Name: rec.Name, UUID: rec.UUID})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding upload: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/results/", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if signer != nil {
		sig, err := signer.Sign(body)
		if err != nil {
			return "", err
		}
		pub, err := signer.PublicKey()
		if err != nil {
			return "", err
		}
		req.Header.Set("X-Signature", sig)
		req.Header.Set("X-Public-Key", pub)
	}

	c.log.Info("Uploading results", "server", c.base, "tests", len(payload.Results), "signed", signer != nil)
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("uploading results to %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", statusError(resp)
	}

	var reply struct {
		TestID string `json:"test_id"`
		URL    string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", fmt.Errorf("decoding upload reply: %w", err)
	}
	if reply.URL != "" {
		return reply.URL, nil
	}
	return c.base + "/#/results/" + reply.TestID, nil
}

// Result is one stored result set in a listing.
type Result struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	CreatedAt string `json:"created_at"`
}

// ListOptions narrows a results listing. Dates are YYYY-MM-DD strings
// matching the server's filter format.
type ListOptions struct {
	StartDate string
	EndDate   string
}

// ListResults fetches every page of the server's results listing.
func (c *Client) ListResults(ctx context.Context, opts ListOptions) ([]Result, error) {
	var all []Result
	for page := 1; ; page++ {
		batch, totalPages, err := c.listPage(ctx, page, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if page >= totalPages {
			return all, nil
		}
	}
}

func (c *Client) listPage(ctx context.Context, page int, opts ListOptions) ([]Result, int, error) {
	endpoint, err := url.Parse(c.base + "/v1/results")
	if err != nil {
		return nil, 0, fmt.Errorf("building listing request: %w", err)
	}
	q := endpoint.Query()
	q.Set("page", fmt.Sprint(page))
	if opts.StartDate != "" {
		q.Set("start_date", opts.StartDate)
	}
	if opts.EndDate != "" {
		q.Set("end_date", opts.EndDate)
	}
	endpoint.RawQuery = q.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("building listing request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("listing results from %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, statusError(resp)
	}

	var reply struct {
		Results    []Result `json:"results"`
		Pagination struct {
			TotalPages int `json:"total_pages"`
		} `json:"pagination"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, 0, fmt.Errorf("decoding listing reply: %w", err)
	}
	if reply.Pagination.TotalPages < 1 {
		reply.Pagination.TotalPages = 1
	}
	return reply.Results, reply.Pagination.TotalPages, nil
}

func statusError(resp *http.Response) error {
	var detail struct {
		Title string `json:"title"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&detail)
	return &StatusError{Code: resp.StatusCode, Status: resp.Status, Body: detail.Title}
}
