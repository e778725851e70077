package refstack

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/jcmdln/refstack-client/flags"
	"github.com/jcmdln/refstack-client/service"
)

// Config holds the application configuration
type Config struct {
	ServerURL      string        // RefStack API endpoint
	Insecure       bool          // Skip TLS verification
	PrivateKey     string        // Path to the signing key, empty for anonymous uploads
	TempestDir     string        // Tempest workspace the runner lives in
	ConfFile       string        // tempest.conf path, defaults to etc/tempest.conf in the workspace
	GuidelineRef   string        // URL or path of the guideline, empty to run by regex
	Target         string        // Guideline target program
	IncludeFlagged bool          // Also run flagged guideline tests
	ResultDir      string        // Directory result files are written to
	ResultTag      string        // Tag prepended to result file names
	Upload         bool          // Upload after the run without prompting
	Parallel       bool          // Let the runner execute tests concurrently
	Regex          string        // Selection regex when no guideline is given
	Timeout        time.Duration // Bound on the whole run, 0 means none
	Quiet          bool          // Suppress the result table
	Service        service.Config
	Log            *slog.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log *slog.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx, flags.TempestDir); err != nil {
		return nil, err
	}

	tempestDir, err := filepath.Abs(ctx.String(flags.TempestDir.Name))
	if err != nil {
		return nil, fmt.Errorf("resolving tempest directory: %w", err)
	}

	confFile := ctx.String(flags.ConfFile.Name)
	if confFile == "" {
		confFile = filepath.Join(tempestDir, "etc", "tempest.conf")
	} else if confFile, err = filepath.Abs(confFile); err != nil {
		return nil, fmt.Errorf("resolving tempest configuration path: %w", err)
	}

	resultDir, err := filepath.Abs(ctx.String(flags.ResultDir.Name))
	if err != nil {
		return nil, fmt.Errorf("resolving result directory: %w", err)
	}

	cfg := &Config{
		ServerURL:      ctx.String(flags.URL.Name),
		Insecure:       ctx.Bool(flags.Insecure.Name),
		PrivateKey:     ctx.String(flags.PrivateKey.Name),
		TempestDir:     tempestDir,
		ConfFile:       confFile,
		GuidelineRef:   ctx.String(flags.Guideline.Name),
		Target:         ctx.String(flags.Target.Name),
		IncludeFlagged: ctx.Bool(flags.IncludeFlagged.Name),
		ResultDir:      resultDir,
		ResultTag:      ctx.String(flags.ResultTag.Name),
		Upload:         ctx.Bool(flags.Upload.Name),
		Parallel:       ctx.Bool(flags.Parallel.Name),
		Regex:          ctx.String(flags.Regex.Name),
		Timeout:        ctx.Duration(flags.Timeout.Name),
		Quiet:          ctx.Bool(flags.Quiet.Name),
		Service: service.Config{
			Healthz: service.ServerConfig{
				Enabled: ctx.Bool(flags.HealthzEnabled.Name),
				Host:    "0.0.0.0",
				Port:    ctx.String(flags.HealthzPort.Name),
			},
			Metrics: service.ServerConfig{
				Enabled: ctx.Bool(flags.MetricsEnabled.Name),
				Host:    "0.0.0.0",
				Port:    ctx.String(flags.MetricsPort.Name),
			},
		},
		Log: log,
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Check validates the configuration. The Tempest workspace is only needed
// for running tests, so commands that merely talk to the server may leave it
// unset.
func (c *Config) Check() error {
	if c.Upload && c.ServerURL == "" {
		return errors.New("a server url is required to upload results")
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	return nil
}
