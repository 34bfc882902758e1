package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	railsync "github.com/ethereum-optimism/infra/op-testrail"
	"github.com/ethereum-optimism/infra/op-testrail/casemap"
	"github.com/ethereum-optimism/infra/op-testrail/exitcodes"
	"github.com/ethereum-optimism/infra/op-testrail/flags"
	"github.com/ethereum-optimism/infra/op-testrail/gotest"
	"github.com/ethereum-optimism/infra/op-testrail/metrics"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := newApp()

	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		shutdown, err := otelconfig.ConfigureOpenTelemetry(
			otelconfig.WithServiceName(app.Name),
			otelconfig.WithServiceVersion(app.Version),
		)
		if err != nil {
			log.Crit("Failed to setup open telemetry", "message", err)
		}
		defer shutdown()
	}

	ctx := ctxinterrupt.WithSignalWaiterMain(context.Background())
	err := app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-testrail"
	app.Usage = "Report go test results to TestRail"
	app.Description = "op-testrail selects the tests a TestRail run still needs, reports their results in batches and prunes plan entries to what was executed"
	app.Flags = cliapp.ProtectFlags(flags.GlobalFlags)
	app.Commands = []*cli.Command{
		{
			Name:   "run",
			Usage:  "Run the selected tests with go test and report them",
			Flags:  cliapp.ProtectFlags(flags.RunFlags()),
			Action: cliapp.LifecycleCmd(runSession),
		},
		{
			Name:   "report",
			Usage:  "Report an existing go test -json stream",
			Flags:  cliapp.ProtectFlags(flags.ReportFlags()),
			Action: cliapp.LifecycleCmd(reportSession),
		},
		{
			Name:   "select",
			Usage:  "Print the tests the run still needs",
			Flags:  cliapp.ProtectFlags(flags.SelectFlags()),
			Action: selectTests,
		},
		{
			Name:   "prune",
			Usage:  "Prune a distributed plan entry to the cases every worker executed",
			Flags:  cliapp.ProtectFlags(flags.PruneFlags()),
			Action: pruneEntry,
		},
		{
			Name:   "create-entry",
			Usage:  "Create a plan entry for distributed workers and print '<entry id> <run id>'",
			Flags:  cliapp.ProtectFlags(flags.CreateEntryFlags()),
			Action: createEntry,
		},
	}
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			if railsync.IsTestFailureError(err) {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.TestFailure))
			} else {
				// config errors, remote faults and exhausted retries alike
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.RuntimeErr))
			}
		}
	}
	return app
}

func setupLogger(ctx *cli.Context, w io.Writer) log.Logger {
	logCfg := oplog.ReadCLIConfig(ctx)
	logger := oplog.NewLogger(w, logCfg)
	metrics.Debug = logCfg.Level <= log.LevelDebug
	oplog.SetGlobalLogHandler(logger.Handler())
	return logger
}

func newConfig(ctx *cli.Context, w io.Writer) (*railsync.Config, error) {
	cfg, err := railsync.NewConfig(ctx, setupLogger(ctx, w))
	if err != nil {
		return nil, railsync.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}
	cfg.Log.Debug("Config", "target", cfg.Target, "product", cfg.Product, "handoff", cfg.Handoff.Backend, "worker", cfg.WorkerID)
	return cfg, nil
}

func sessionOptions(cfg *railsync.Config) (railsync.Options, error) {
	api, err := railsync.NewAPI(cfg)
	if err != nil {
		return railsync.Options{}, err
	}
	cases, err := casemap.Load(cfg.CasesFile, cfg.Product)
	if err != nil {
		return railsync.Options{}, err
	}
	opts := railsync.Options{API: api, Cases: cases}

	mode, err := cfg.Target.Resolve()
	if err != nil {
		return railsync.Options{}, err
	}
	if mode == railsync.ModeDistributedPlan {
		h, err := railsync.NewHandoff(cfg, cfg.Target.PlanID, cfg.Target.EntryID)
		if err != nil {
			return railsync.Options{}, err
		}
		opts.Handoff = h
	}
	return opts, nil
}

func runSession(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	cfg, err := newConfig(ctx, oplog.AppOut(ctx))
	if err != nil {
		return nil, err
	}
	opts, err := sessionOptions(cfg)
	if err != nil {
		return nil, railsync.NewRuntimeError(err)
	}
	opts.Source = &railsync.ExecSource{
		Executor: gotest.NewExecutor(gotest.ExecutorConfig{
			Log:      cfg.Log,
			GoBinary: cfg.GoBinary,
			Packages: cfg.Packages,
		}),
	}
	svc, err := railsync.New(cfg, opts, closeApp)
	if err != nil {
		return nil, railsync.NewRuntimeError(fmt.Errorf("failed to create session: %w", err))
	}
	return svc, nil
}

func reportSession(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	cfg, err := newConfig(ctx, oplog.AppOut(ctx))
	if err != nil {
		return nil, err
	}
	opts, err := sessionOptions(cfg)
	if err != nil {
		return nil, railsync.NewRuntimeError(err)
	}
	var input io.Reader = os.Stdin
	if cfg.Input != "" {
		data, err := os.ReadFile(cfg.Input)
		if err != nil {
			return nil, railsync.NewRuntimeError(fmt.Errorf("failed to read test output: %w", err))
		}
		input = bytes.NewReader(data)
	}
	opts.Source = &railsync.ReaderSource{Reader: input}
	svc, err := railsync.New(cfg, opts, closeApp)
	if err != nil {
		return nil, railsync.NewRuntimeError(fmt.Errorf("failed to create session: %w", err))
	}
	return svc, nil
}

func selectTests(ctx *cli.Context) error {
	// stdout carries the selection itself
	cfg, err := newConfig(ctx, ctx.App.ErrWriter)
	if err != nil {
		return err
	}
	api, err := railsync.NewAPI(cfg)
	if err != nil {
		return railsync.NewRuntimeError(err)
	}
	cases, err := casemap.Load(cfg.CasesFile, cfg.Product)
	if err != nil {
		return railsync.NewRuntimeError(err)
	}
	_, err = railsync.Select(ctx.Context, cfg, api, cases, ctx.String(flags.Format.Name), ctx.App.Writer, ctx.App.ErrWriter)
	if err != nil {
		return railsync.NewRuntimeError(err)
	}
	return nil
}

func pruneEntry(ctx *cli.Context) error {
	cfg, err := newConfig(ctx, oplog.AppOut(ctx))
	if err != nil {
		return err
	}
	api, err := railsync.NewAPI(cfg)
	if err != nil {
		return railsync.NewRuntimeError(err)
	}
	h, err := railsync.NewHandoff(cfg, cfg.Target.PlanID, cfg.Target.EntryID)
	if err != nil {
		return railsync.NewRuntimeError(err)
	}
	defer h.Close()
	res, err := railsync.Prune(ctx.Context, cfg, api, h)
	if err != nil {
		return railsync.NewRuntimeError(err)
	}
	cfg.Log.Info("Prune complete", "workers", len(res.Workers), "cases", len(res.Executed))
	return nil
}

func createEntry(ctx *cli.Context) error {
	// stdout carries the entry for the caller to capture
	cfg, err := newConfig(ctx, ctx.App.ErrWriter)
	if err != nil {
		return err
	}
	api, err := railsync.NewAPI(cfg)
	if err != nil {
		return railsync.NewRuntimeError(err)
	}
	if _, err := railsync.CreateEntry(ctx.Context, cfg, api, ctx.App.Writer); err != nil {
		return railsync.NewRuntimeError(err)
	}
	return nil
}
