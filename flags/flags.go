package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

const EnvVarPrefix = "REFSTACK"

func prefixEnvVars(name string) []string {
	return []string{EnvVarPrefix + "_" + name}
}

var (
	URL = &cli.StringFlag{
		Name:    "url",
		Value:   "https://refstack.openstack.org/api",
		EnvVars: prefixEnvVars("URL"),
		Usage:   "RefStack API URL to upload results to / list results from",
	}
	Insecure = &cli.BoolFlag{
		Name:    "insecure",
		Aliases: []string{"k"},
		Value:   false,
		EnvVars: prefixEnvVars("INSECURE"),
		Usage:   "Skip TLS certificate verification",
	}
	PrivateKey = &cli.StringFlag{
		Name:    "priv-key",
		Aliases: []string{"i"},
		EnvVars: prefixEnvVars("PRIV_KEY"),
		Usage:   "Path to the PEM private key used to sign uploads",
	}
	TempestDir = &cli.StringFlag{
		Name:    "tempest-dir",
		EnvVars: prefixEnvVars("TEMPEST_DIR"),
		Usage:   "Path to the Tempest workspace to run tests from",
	}
	ConfFile = &cli.StringFlag{
		Name:    "conf-file",
		Aliases: []string{"c"},
		EnvVars: prefixEnvVars("CONF_FILE"),
		Usage:   "Path to the tempest configuration file",
	}
	Guideline = &cli.StringFlag{
		Name:    "test-list",
		Aliases: []string{"t"},
		EnvVars: prefixEnvVars("TEST_LIST"),
		Usage:   "URL or path of the guideline document selecting tests to run",
	}
	Target = &cli.StringFlag{
		Name:    "target",
		Value:   "platform",
		EnvVars: prefixEnvVars("TARGET"),
		Usage:   "Guideline target program to select tests for",
	}
	IncludeFlagged = &cli.BoolFlag{
		Name:    "include-flagged",
		Value:   false,
		EnvVars: prefixEnvVars("INCLUDE_FLAGGED"),
		Usage:   "Also run tests the guideline has flagged",
	}
	ResultDir = &cli.StringFlag{
		Name:    "result-dir",
		Value:   ".refstack",
		EnvVars: prefixEnvVars("RESULT_DIR"),
		Usage:   "Directory result files are written to",
	}
	ResultTag = &cli.StringFlag{
		Name:    "result-tag",
		EnvVars: prefixEnvVars("RESULT_TAG"),
		Usage:   "Tag prepended to the result file name",
	}
	Upload = &cli.BoolFlag{
		Name:    "upload",
		Aliases: []string{"u"},
		Value:   false,
		EnvVars: prefixEnvVars("UPLOAD"),
		Usage:   "Upload results after the run without prompting",
	}
	Parallel = &cli.BoolFlag{
		Name:    "parallel",
		Value:   false,
		EnvVars: prefixEnvVars("PARALLEL"),
		Usage:   "Let the runner execute tests concurrently",
	}
	Regex = &cli.StringFlag{
		Name:    "regex",
		EnvVars: prefixEnvVars("REGEX"),
		Usage:   "Test selection regex used when no guideline is given",
	}
	Timeout = &cli.DurationFlag{
		Name:    "timeout",
		Value:   0,
		EnvVars: prefixEnvVars("TIMEOUT"),
		Usage:   "Bound on the whole test run (e.g. '2h'). 0 means no limit.",
	}
	Quiet = &cli.BoolFlag{
		Name:    "quiet",
		Aliases: []string{"q"},
		Value:   false,
		EnvVars: prefixEnvVars("QUIET"),
		Usage:   "Suppress the result table",
	}
	LogLevel = &cli.StringFlag{
		Name:    "log-level",
		Value:   "info",
		EnvVars: prefixEnvVars("LOG_LEVEL"),
		Usage:   "Log level: debug, info, warn, error",
	}
	HealthzEnabled = &cli.BoolFlag{
		Name:    "healthz-enabled",
		Value:   false,
		EnvVars: prefixEnvVars("HEALTHZ_ENABLED"),
		Usage:   "Serve a liveness endpoint during the run",
	}
	HealthzPort = &cli.StringFlag{
		Name:    "healthz-port",
		Value:   "8080",
		EnvVars: prefixEnvVars("HEALTHZ_PORT"),
		Usage:   "Port for the liveness endpoint",
	}
	MetricsEnabled = &cli.BoolFlag{
		Name:    "metrics-enabled",
		Value:   false,
		EnvVars: prefixEnvVars("METRICS_ENABLED"),
		Usage:   "Serve Prometheus metrics during the run",
	}
	MetricsPort = &cli.StringFlag{
		Name:    "metrics-port",
		Value:   "7300",
		EnvVars: prefixEnvVars("METRICS_PORT"),
		Usage:   "Port for the metrics endpoint",
	}
	StartDate = &cli.StringFlag{
		Name:    "start-date",
		EnvVars: prefixEnvVars("START_DATE"),
		Usage:   "Only list results created on or after this date (YYYY-MM-DD)",
	}
	EndDate = &cli.StringFlag{
		Name:    "end-date",
		EnvVars: prefixEnvVars("END_DATE"),
		Usage:   "Only list results created on or before this date (YYYY-MM-DD)",
	}
	File = &cli.StringFlag{
		Name:    "file",
		Aliases: []string{"f"},
		EnvVars: prefixEnvVars("FILE"),
		Usage:   "Path of the result or subunit file to upload",
	}
)

var TestFlags = []cli.Flag{
	URL,
	Insecure,
	PrivateKey,
	TempestDir,
	ConfFile,
	Guideline,
	Target,
	IncludeFlagged,
	ResultDir,
	ResultTag,
	Upload,
	Parallel,
	Regex,
	Timeout,
	Quiet,
	LogLevel,
	HealthzEnabled,
	HealthzPort,
	MetricsEnabled,
	MetricsPort,
}

var UploadFlags = []cli.Flag{
	URL,
	Insecure,
	PrivateKey,
	File,
	LogLevel,
}

var ListFlags = []cli.Flag{
	URL,
	Insecure,
	StartDate,
	EndDate,
	LogLevel,
}

var SignFlags = []cli.Flag{
	PrivateKey,
	LogLevel,
}

var ConfigFlags = []cli.Flag{
	ConfFile,
	TempestDir,
	LogLevel,
}

// CheckRequired validates the flags a command cannot run without.
func CheckRequired(ctx *cli.Context, flags ...cli.Flag) error {
	for _, f := range flags {
		name := f.Names()[0]
		if !ctx.IsSet(name) {
			return fmt.Errorf("flag %s is required", name)
		}
	}
	return nil
}
