package app

import (
	"context"

	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Bondifuzz/sbxbin-runner/config"
	"github.com/Bondifuzz/sbxbin-runner/internal/shell"
	"github.com/Bondifuzz/sbxbin-runner/internal/streams"
	"github.com/Bondifuzz/sbxbin-runner/internal/supervision"
	"github.com/Bondifuzz/sbxbin-runner/util/conf"
	"github.com/Bondifuzz/sbxbin-runner/util/logging"
)

// New builds the application shell with the shared module: the
// parsed config, the launch spec, the stream bindings, the signal
// latch and the supervisor.
func New(ctx *cli.Context) (*shell.Shell, error) {
	log, err := logging.LoggerFromContext(ctx.Context)
	if err != nil {
		return nil, err
	}

	cfg, err := conf.GetConfigFromContext[config.Config](ctx.Context)
	if err != nil {
		return nil, err
	}

	sharedModule := fx.Module(
		"runner",
		// rename logger for module
		logging.DecorateLogger("runner"),
		// provide global config
		fx.Supply(cfg),
		// provide launch spec
		fx.Provide(config.Config.LaunchSpec),
		// provide stream bindings, closed on shutdown
		fx.Provide(newBindings),
		// provide signal latch
		fx.Provide(supervision.NewSignalLatch),
		// provide supervisor
		fx.Provide(newSupervisor),
	)

	return shell.New(log, sharedModule), nil
}

// Run assembles the application and performs one supervision run.
// The latch is armed before the child is spawned, so an early
// signal cannot be missed; stream handles are released when the
// app stops.
func Run(ctx *cli.Context) (supervision.Outcome, error) {
	sh, err := New(ctx)
	if err != nil {
		return supervision.Outcome{Reason: supervision.InternalError}, err
	}

	outcome := supervision.Outcome{Reason: supervision.InternalError}

	runModule := fx.Invoke(func(
		appCtx context.Context,
		s *supervision.Supervisor,
		latch *supervision.SignalLatch,
	) {
		latch.Arm()
		defer latch.Disarm()

		outcome = s.Run(appCtx)
	})

	if err := sh.Run(ctx.Context, runModule); err != nil {
		return supervision.Outcome{Reason: supervision.InternalError}, err
	}

	return outcome, nil
}

func newBindings(cfg config.Config, lc fx.Lifecycle) (*streams.Bindings, error) {
	bindings, err := streams.Resolve(cfg.Streams)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return bindings.Close()
		},
	})

	return bindings, nil
}

func newSupervisor(
	spec supervision.LaunchSpec,
	bindings *streams.Bindings,
	latch *supervision.SignalLatch,
	log *zap.Logger,
) (*supervision.Supervisor, error) {
	return supervision.New(supervision.Params{
		Spec:     spec,
		Bindings: bindings,
		Latch:    latch,
		Log:      log,
	})
}
