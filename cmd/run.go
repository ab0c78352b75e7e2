package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Bondifuzz/sbxbin-runner/app"
	"github.com/Bondifuzz/sbxbin-runner/config"
	"github.com/Bondifuzz/sbxbin-runner/util/conf"
	"github.com/Bondifuzz/sbxbin-runner/util/logging"
)

var (
	runCmdDescription = `The run command loads the launch configuration from the given
file, starts the configured process and supervises it until it
finishes, the run timeout elapses, or a termination signal is
caught. On timeout or signal the process is shut down with a
cooperative SIGTERM first and a SIGKILL after the grace period.

The supervised process' decoded exit code is printed to stdout
as a single decimal line. The runner's own exit status encodes
the supervision outcome: 0 when the process finished on its own,
138 on run timeout, 130 on external termination, 255 on internal
errors.`
	runCmd = &cli.Command{
		Name:        "run",
		Usage:       "Run and supervise the configured process.",
		ArgsUsage:   "<config.json>",
		Description: runCmdDescription,
		Action:      runAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "the path of the configuration file to load.",
				EnvVars: []string{"RUNNER_CONFIG"},
			},
		},
	}
)

func runAction(ctx *cli.Context) error {
	log, err := logging.LoggerFromContext(ctx.Context)
	if err != nil {
		return err
	}

	path := ctx.String("config")
	if path == "" {
		path = ctx.Args().First()
	}

	if path == "" {
		return cli.Exit(fmt.Sprintf("usage: %s run <config.json>", appName), 255)
	}

	log.Info("using config file", zap.String("path", path))

	cfg, err := loadConfig(ctx, path, log)
	if err != nil {
		log.Error("failed to load config", zap.Error(err))
		return cli.Exit("", 255)
	}

	// inject the config into the cli context
	ctx.Context = conf.ContextWithConfig(ctx.Context, cfg)

	outcome, err := app.Run(ctx)
	if err != nil {
		log.Error("supervision failed", zap.Error(err))
	}

	log.Info("exit",
		zap.Stringer("reason", outcome.Reason),
		zap.Any("child_exit_code", outcome.ChildExitCode),
	)

	// the single machine-readable output: the child's exit code
	if outcome.ChildExitCode != nil {
		fmt.Println(*outcome.ChildExitCode)
	}

	if status := outcome.Reason.ExitStatus(); status != 0 {
		return cli.Exit("", status)
	}

	return nil
}

func loadConfig(ctx *cli.Context, path string, log *zap.Logger) (config.Config, error) {
	var cfg config.Config

	// validate JSON config documents against the schema before
	// unmarshalling, for field-level error messages
	if isJSONDocument(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := config.ValidateDocument(data); err != nil {
			return cfg, err
		}
	}

	cfg, err := conf.Parse[config.Config](conf.ParseOptions{
		Cli:       ctx,
		Defaults:  config.DefaultConfig,
		EnvPrefix: "RUNNER",
		FileName:  path,
		Log:       log,
	})
	if err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func isJSONDocument(path string) bool {
	return strings.HasSuffix(path, ".json")
}

func init() {
	rootApp.Commands = append(rootApp.Commands, runCmd)
}
