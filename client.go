// Package refstack drives the compliance workflow: select tests from a
// guideline, run them in a Tempest workspace, persist the results and upload
// them to a RefStack server.
package refstack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/jcmdln/refstack-client/api"
	"github.com/jcmdln/refstack-client/catalog"
	"github.com/jcmdln/refstack-client/guideline"
	"github.com/jcmdln/refstack-client/keystone"
	"github.com/jcmdln/refstack-client/metrics"
	"github.com/jcmdln/refstack-client/normalize"
	"github.com/jcmdln/refstack-client/results"
	"github.com/jcmdln/refstack-client/runner"
	"github.com/jcmdln/refstack-client/sign"
)

// Client runs the compliance workflow.
type Client struct {
	cfg *Config
}

func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return &Client{cfg: cfg}, nil
}

// Test selects tests, runs them and persists the results. It returns a
// TestFailureError when tests fail, and a RuntimeError wrapping the phase
// error when the run itself could not be carried out.
func (c *Client) Test(ctx context.Context) error {
	log := c.cfg.Log

	cpid, err := c.cpid(ctx)
	if err != nil {
		return NewRuntimeError(err)
	}
	log.Info("Starting test run", "cpid", cpid, "tempestDir", c.cfg.TempestDir)

	selection, unresolved, err := c.selectTests(ctx)
	if err != nil {
		metrics.RecordErrorDetails("test.select", err)
		return NewRuntimeError(err)
	}

	r, err := runner.NewRunner(runner.Config{
		TempestDir: c.cfg.TempestDir,
		Parallel:   c.cfg.Parallel,
		Regex:      c.cfg.Regex,
		Timeout:    c.cfg.Timeout,
		Log:        log,
	})
	if err != nil {
		return NewRuntimeError(err)
	}
	doc, runErr := r.Run(ctx, selection)
	if runErr != nil {
		metrics.RecordErrorDetails("test.run", runErr)
		if doc == nil {
			return NewRuntimeError(&RunError{Err: runErr})
		}
		// The runner handed back a partial result set; persist it
		// before failing so nothing already produced is lost.
	}
	doc.CPID = cpid

	path := filepath.Join(c.cfg.ResultDir, results.FileName(c.cfg.ResultTag, doc.StartedAt))
	if err := doc.Save(path); err != nil {
		return NewRuntimeError(err)
	}
	log.Info("Results saved", "path", path)

	if runErr != nil {
		log.Warn("Run ended abnormally, partial results saved", "path", path, "collected", doc.Stats.Total)
		return NewRuntimeError(&RunError{Err: runErr})
	}

	metrics.RecordRun(doc.RunID, doc.Stats, doc.Stats.Failed == 0, time.Duration(doc.DurationSeconds)*time.Second)

	if !c.cfg.Quiet {
		printResults(doc, unresolved)
	}
	for _, id := range unresolved {
		log.Warn("Guideline test not found in this environment", "id", id)
	}

	if c.cfg.Upload {
		if err := c.upload(ctx, doc); err != nil {
			return err
		}
	} else {
		log.Info("Results kept local, upload any time", "command", fmt.Sprintf("refstack-client upload --file %s", path))
	}

	if doc.Stats.Failed > 0 {
		return NewTestFailureError(fmt.Sprintf("%d of %d tests failed", doc.Stats.Failed, doc.Stats.Total))
	}
	return nil
}

// cpid resolves the cloud provider identifier, falling back to one derived
// from the identity endpoint when the identity service cannot be asked.
func (c *Client) cpid(ctx context.Context) (string, error) {
	auth, err := keystone.LoadAuth(c.cfg.ConfFile)
	if err != nil {
		return "", err
	}
	cpid, err := keystone.NewClient(c.cfg.Insecure, c.cfg.Log).CPID(ctx, auth)
	if err == nil {
		return cpid, nil
	}
	c.cfg.Log.Warn("Identity service unavailable, deriving cpid from its endpoint", "error", err)
	return keystone.CPIDFromEndpoint(auth.AuthURL)
}

// selectTests resolves the guideline against the discoverable tests. Without
// a guideline the runner's own selection regex applies and no normalization
// happens.
func (c *Client) selectTests(ctx context.Context) (selection []string, unresolved []string, err error) {
	if c.cfg.GuidelineRef == "" {
		return nil, nil, nil
	}
	log := c.cfg.Log

	fetcher := guideline.NewFetcher(guideline.Config{Insecure: c.cfg.Insecure, Log: log})
	entries, err := fetcher.Fetch(ctx, c.cfg.GuidelineRef, guideline.Options{
		Target:         c.cfg.Target,
		Type:           guideline.TypeRequired,
		IncludeAliases: true,
		IncludeFlagged: true,
	})
	if err != nil {
		return nil, nil, &FetchError{Ref: c.cfg.GuidelineRef, Err: err}
	}
	log.Info("Guideline fetched", "ref", c.cfg.GuidelineRef, "entries", len(entries))

	loader, err := catalog.NewLoader(catalog.Config{TempestDir: c.cfg.TempestDir, Log: log})
	if err != nil {
		return nil, nil, &CatalogError{Err: err}
	}
	cat, err := loader.Load(ctx)
	if err != nil {
		return nil, nil, &CatalogError{Err: err}
	}

	res := normalize.New(log).Normalize(entries, cat, c.cfg.IncludeFlagged)
	metrics.RecordNormalization(len(res.Unresolved), len(res.Ambiguities))
	log.Info("Guideline normalized",
		"selected", len(res.Selection),
		"unresolved", len(res.Unresolved),
		"ambiguous", len(res.Ambiguities))

	for _, id := range res.Selection {
		selection = append(selection, cat.FullID(id))
	}
	return selection, res.Unresolved, nil
}

// Upload transmits a previously saved result file. The file itself is never
// modified, so a failed upload can be retried as-is.
func (c *Client) Upload(ctx context.Context, path string) error {
	doc, err := results.Load(path)
	if err != nil {
		return NewRuntimeError(err)
	}
	return c.upload(ctx, doc)
}

// UploadSubunit converts a raw result stream produced by the runner into a
// result set and uploads it.
func (c *Client) UploadSubunit(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return NewRuntimeError(err)
	}
	defer f.Close()

	doc, err := runner.Collect(f)
	if err != nil {
		return NewRuntimeError(err)
	}
	cpid, err := c.cpid(ctx)
	if err != nil {
		return NewRuntimeError(err)
	}
	doc.CPID = cpid
	return c.upload(ctx, doc)
}

func (c *Client) upload(ctx context.Context, doc *results.Document) error {
	client, err := api.NewClient(c.cfg.ServerURL, c.cfg.Insecure, c.cfg.Log)
	if err != nil {
		return NewRuntimeError(err)
	}
	var signer api.Signer
	if c.cfg.PrivateKey != "" {
		s, err := sign.NewSigner(c.cfg.PrivateKey)
		if err != nil {
			return NewRuntimeError(err)
		}
		signer = s
	}

	url, err := client.PostResults(ctx, doc, signer)
	metrics.RecordUpload(err == nil)
	if err != nil {
		return NewRuntimeError(classifyUpload(err))
	}
	c.cfg.Log.Info("Results uploaded", "url", url)
	fmt.Printf("Test results uploaded!\nURL: %s\n", url)
	return nil
}

// classifyUpload sorts an upload failure into the retryable kinds.
func classifyUpload(err error) error {
	var statusErr *api.StatusError
	if errors.As(err, &statusErr) {
		kind := UploadRejected
		if statusErr.Code == http.StatusUnauthorized || statusErr.Code == http.StatusForbidden {
			kind = UploadAuth
		}
		return &UploadError{Kind: kind, Err: err}
	}
	return &UploadError{Kind: UploadNetwork, Err: err}
}

// List prints the result sets the server already holds.
func (c *Client) List(ctx context.Context, opts api.ListOptions) error {
	client, err := api.NewClient(c.cfg.ServerURL, c.cfg.Insecure, c.cfg.Log)
	if err != nil {
		return NewRuntimeError(err)
	}
	listed, err := client.ListResults(ctx, opts)
	if err != nil {
		return NewRuntimeError(err)
	}
	printListing(listed)
	return nil
}

// SelfSign prints a proof-of-ownership signature for the configured key, for
// linking uploads to an account.
func (c *Client) SelfSign() error {
	if c.cfg.PrivateKey == "" {
		return NewRuntimeError(errors.New("a private key is required to sign"))
	}
	signer, err := sign.NewSigner(c.cfg.PrivateKey)
	if err != nil {
		return NewRuntimeError(err)
	}
	sig, err := signer.SelfSignature()
	if err != nil {
		return NewRuntimeError(err)
	}
	pub, err := signer.PublicKey()
	if err != nil {
		return NewRuntimeError(err)
	}
	fmt.Printf("signature: %s\npublic key: %s\n", sig, pub)
	return nil
}

// GenerateConfig runs the workspace's configuration discovery tool to write
// a tempest configuration for the current cloud.
func (c *Client) GenerateConfig(ctx context.Context) error {
	var args []string
	if wrapper := filepath.Join(c.cfg.TempestDir, "tools", "with_venv.sh"); fileExists(wrapper) {
		args = append(args, wrapper)
	}
	args = append(args, "discover-tempest-config", "--out", c.cfg.ConfFile)

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = c.cfg.TempestDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	c.cfg.Log.Info("Generating tempest configuration", "command", cmd.String(), "out", c.cfg.ConfFile)
	if err := cmd.Run(); err != nil {
		return NewRuntimeError(fmt.Errorf("generating tempest configuration: %w", err))
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
