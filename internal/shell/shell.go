package shell

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// Shell assembles and drives an fx application that runs to
// completion. Unlike a daemon shell it never waits for OS signals
// itself: signal handling belongs to the supervision loop inside
// the app, and hijacking SIGINT here would bypass the graceful
// shutdown protocol.
type Shell struct {
	log     *zap.Logger
	options []fx.Option
}

func New(log *zap.Logger, options ...fx.Option) *Shell {
	return &Shell{
		log:     log,
		options: options,
	}
}

// Run builds the fx application and executes it. All invocations
// run during construction; Start and Stop bracket the lifecycle
// hooks (resource cleanup such as closing stream handles).
func (s *Shell) Run(ctx context.Context, options ...fx.Option) error {
	// after run ends, flush the logger
	defer s.log.Sync()

	app := s.createFxApp(ctx, options...)

	// constructor or invocation errors surface here
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancelStart := context.WithTimeout(ctx, app.StartTimeout())
	defer cancelStart()

	if err := app.Start(startCtx); err != nil {
		return err
	}

	stopCtx, cancelStop := context.WithTimeout(ctx, app.StopTimeout())
	defer cancelStop()

	return app.Stop(stopCtx)
}

func (s *Shell) createFxApp(ctx context.Context, options ...fx.Option) *fx.App {
	return fx.New(
		// inject global execution context
		fx.Supply(fx.Annotate(ctx, fx.As(new(context.Context)))),

		// inject the logger
		fx.Supply(s.log),

		// use the logger also for fx' logs
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: s.log.Named("fx")}
		}),

		// provide shell-level options
		fx.Options(s.options...),

		// provide run options
		fx.Options(options...),
	)
}
