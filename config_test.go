package refstack

import (
	"flag"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/jcmdln/refstack-client/flags"
)

func cliContext(t *testing.T, args ...string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range flags.TestFlags {
		require.NoError(t, f.Apply(set))
	}
	require.NoError(t, set.Parse(args))
	return cli.NewContext(cli.NewApp(), set, nil)
}

func TestNewConfig(t *testing.T) {
	dir := t.TempDir()
	ctx := cliContext(t,
		"--tempest-dir", dir,
		"--test-list", "https://refstack.openstack.org/api/v1/guidelines/2024.06/tests",
		"--include-flagged",
		"--parallel",
	)

	cfg, err := NewConfig(ctx, NewLogger("error"))
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.TempestDir)
	assert.Equal(t, filepath.Join(dir, "etc", "tempest.conf"), cfg.ConfFile)
	assert.True(t, cfg.IncludeFlagged)
	assert.True(t, cfg.Parallel)
	assert.Equal(t, "https://refstack.openstack.org/api", cfg.ServerURL)
	assert.Equal(t, "platform", cfg.Target)
	assert.True(t, filepath.IsAbs(cfg.ResultDir))
}

func TestNewConfigRequiresTempestDir(t *testing.T) {
	_, err := NewConfig(cliContext(t), NewLogger("error"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tempest-dir")
}

func TestNewConfigExplicitConfFile(t *testing.T) {
	dir := t.TempDir()
	ctx := cliContext(t, "--tempest-dir", dir, "--conf-file", filepath.Join(dir, "custom.conf"))

	cfg, err := NewConfig(ctx, NewLogger("error"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "custom.conf"), cfg.ConfFile)
}

func TestConfigCheckUploadNeedsServer(t *testing.T) {
	cfg := &Config{Upload: true}
	require.Error(t, cfg.Check())

	cfg.ServerURL = "https://refstack.openstack.org/api"
	require.NoError(t, cfg.Check())
	assert.NotNil(t, cfg.Log)
}
