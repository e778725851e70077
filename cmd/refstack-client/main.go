package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	refstack "github.com/jcmdln/refstack-client"
	"github.com/jcmdln/refstack-client/api"
	"github.com/jcmdln/refstack-client/exitcodes"
	"github.com/jcmdln/refstack-client/flags"
	"github.com/jcmdln/refstack-client/service"
)

var (
	Version   = "v1.0.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "refstack-client"
	app.Usage = "OpenStack interoperability compliance test client"
	app.Description = "refstack-client selects tests from an interoperability guideline, runs them against a cloud and uploads signed results"
	app.Commands = []*cli.Command{
		{
			Name:   "test",
			Usage:  "Select and run tests, then persist the results",
			Flags:  flags.TestFlags,
			Action: runTest,
		},
		{
			Name:   "upload",
			Usage:  "Upload a previously saved result file",
			Flags:  flags.UploadFlags,
			Action: runUpload,
		},
		{
			Name:   "upload-subunit",
			Usage:  "Convert a raw subunit stream into results and upload them",
			Flags:  append(flags.UploadFlags, flags.TempestDir, flags.ConfFile),
			Action: runUploadSubunit,
		},
		{
			Name:   "list",
			Usage:  "List result sets already stored on the server",
			Flags:  flags.ListFlags,
			Action: runList,
		},
		{
			Name:   "sign",
			Usage:  "Print a proof-of-ownership signature for the private key",
			Flags:  flags.SignFlags,
			Action: runSign,
		},
		{
			Name:   "config",
			Usage:  "Generate a tempest configuration for the current cloud",
			Flags:  flags.ConfigFlags,
			Action: runConfig,
		},
	}
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			if refstack.IsRuntimeError(err) {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.RuntimeErr))
			} else if refstack.IsTestFailureError(err) {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.TestFailure))
			} else {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.TestFailure))
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		os.Exit(exitcodes.RuntimeErr)
	}
}

func newClient(ctx *cli.Context) (*refstack.Client, *refstack.Config, error) {
	log := refstack.NewLogger(ctx.String(flags.LogLevel.Name))
	cfg, err := refstack.NewConfig(ctx, log)
	if err != nil {
		return nil, nil, refstack.NewRuntimeError(err)
	}
	client, err := refstack.New(cfg)
	if err != nil {
		return nil, nil, refstack.NewRuntimeError(err)
	}
	return client, cfg, nil
}

func runTest(ctx *cli.Context) error {
	client, cfg, err := newClient(ctx)
	if err != nil {
		return err
	}

	svc := service.New(cfg.Service, cfg.Log)
	svc.Start(ctx.Context)
	defer svc.Shutdown()
	svc.Healthz.SetRunning(true)
	defer svc.Healthz.SetRunning(false)

	return client.Test(ctx.Context)
}

func runUpload(ctx *cli.Context) error {
	if err := flags.CheckRequired(ctx, flags.File); err != nil {
		return refstack.NewRuntimeError(err)
	}
	client, _, err := uploadClient(ctx)
	if err != nil {
		return err
	}
	return client.Upload(ctx.Context, ctx.String(flags.File.Name))
}

func runUploadSubunit(ctx *cli.Context) error {
	if err := flags.CheckRequired(ctx, flags.File, flags.TempestDir); err != nil {
		return refstack.NewRuntimeError(err)
	}
	client, _, err := newClient(ctx)
	if err != nil {
		return err
	}
	return client.UploadSubunit(ctx.Context, ctx.String(flags.File.Name))
}

func runList(ctx *cli.Context) error {
	client, _, err := uploadClient(ctx)
	if err != nil {
		return err
	}
	return client.List(ctx.Context, api.ListOptions{
		StartDate: ctx.String(flags.StartDate.Name),
		EndDate:   ctx.String(flags.EndDate.Name),
	})
}

func runSign(ctx *cli.Context) error {
	if err := flags.CheckRequired(ctx, flags.PrivateKey); err != nil {
		return refstack.NewRuntimeError(err)
	}
	client, _, err := uploadClient(ctx)
	if err != nil {
		return err
	}
	return client.SelfSign()
}

func runConfig(ctx *cli.Context) error {
	client, _, err := newClient(ctx)
	if err != nil {
		return err
	}
	return client.GenerateConfig(ctx.Context)
}

// uploadClient builds a client for the commands that do not need a Tempest
// workspace.
func uploadClient(ctx *cli.Context) (*refstack.Client, *refstack.Config, error) {
	log := refstack.NewLogger(ctx.String(flags.LogLevel.Name))
	cfg := &refstack.Config{
		ServerURL:  ctx.String(flags.URL.Name),
		Insecure:   ctx.Bool(flags.Insecure.Name),
		PrivateKey: ctx.String(flags.PrivateKey.Name),
		Log:        log,
	}
	client, err := refstack.New(cfg)
	if err != nil {
		return nil, nil, refstack.NewRuntimeError(err)
	}
	return client, cfg, nil
}
