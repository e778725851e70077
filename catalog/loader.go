package catalog

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

const defaultListTimeout = 30 * time.Second

// Loader queries the external runner for discoverable tests. This is the
// only point of contact with the test runner for metadata purposes; no test
// is executed here.
type Loader struct {
	cfg Config
}

// Config holds loader configuration.
type Config struct {
	// TempestDir is the Tempest workspace the runner is installed in.
	TempestDir string
	// Timeout bounds the discovery subprocess; zero means a 30s default.
	Timeout time.Duration
	Log     *slog.Logger
}

func NewLoader(cfg Config) (*Loader, error) {
	if cfg.TempestDir == "" {
		return nil, fmt.Errorf("tempest directory is required")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultListTimeout
	}
	return &Loader{cfg: cfg}, nil
}

// Load runs the runner's list facility and builds the catalog. The runner
// binary is stestr when the workspace carries a .stestr.conf, testr
// otherwise, both wrapped in the workspace venv script when present.
func (l *Loader) Load(ctx context.Context) (*Catalog, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	args := l.listCommand()
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = l.cfg.TempestDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	l.cfg.Log.Debug("Listing tests in environment", "command", cmd.String(), "dir", cmd.Dir)

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("test discovery timed out after %v", l.cfg.Timeout)
		}
		return nil, fmt.Errorf("querying test catalog: %w\nstderr: %s", err, stderr.String())
	}

	tests := ParseListing(stdout.String())
	if len(tests) == 0 {
		return nil, fmt.Errorf("test discovery returned no tests")
	}

	cat, err := New(tests)
	if err != nil {
		return nil, fmt.Errorf("building catalog: %w", err)
	}
	l.cfg.Log.Debug("Catalog loaded", "tests", cat.Len())
	return cat, nil
}

func (l *Loader) listCommand() []string {
	var args []string
	if wrapper := filepath.Join(l.cfg.TempestDir, "tools", "with_venv.sh"); fileExists(wrapper) {
		args = append(args, wrapper)
	}
	if fileExists(filepath.Join(l.cfg.TempestDir, ".stestr.conf")) {
		return append(args, "stestr", "list")
	}
	return append(args, "testr", "list-tests")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
