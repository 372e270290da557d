package main

import (
	"errors"
	"io"

	"github.com/samber/do"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fastsd/console"
	"fastsd/core"
	"fastsd/shutdown"
	"fastsd/webui"
)

// application owns the shutdown manager and the component graph of one run.
type application struct {
	cfg      *core.Config
	logger   *zap.Logger
	mgr      *shutdown.Manager
	injector *do.Injector
}

func newApplication(cfg *core.Config, logger *zap.Logger, in io.Reader, out io.Writer, opts ...shutdown.ManagerOption) *application {
	opts = append([]shutdown.ManagerOption{shutdown.WithTimeout(cfg.ShutdownTimeout)}, opts...)
	mgr := shutdown.NewManager(logger, opts...)
	return &application{
		cfg:      cfg,
		logger:   logger,
		mgr:      mgr,
		injector: setupInjector(cfg, logger, mgr, in, out),
	}
}

// run starts the configured surfaces and blocks until a signal, a console
// quit, a stop request or a surface failure. It always runs the shutdown
// sequence before returning.
func (a *application) run() error {
	a.mgr.Start()

	var (
		web *webui.Server
		con *console.Console
		err error
	)
	if a.cfg.Surface.Includes(core.SurfaceWeb) {
		web, err = do.Invoke[*webui.Server](a.injector)
	}
	if err == nil && a.cfg.Surface.Includes(core.SurfaceConsole) {
		con, err = do.Invoke[*console.Console](a.injector)
	}
	if err != nil {
		a.logger.Error("Failed to build components", zap.Error(err))
		return errors.Join(err, a.mgr.Shutdown())
	}

	g, ctx := errgroup.WithContext(a.mgr.Context())
	if web != nil {
		g.Go(func() error {
			return web.Start(ctx)
		})
	}
	if con != nil {
		g.Go(func() error {
			err := con.Run(ctx)
			if web == nil {
				a.mgr.Trigger("console closed")
			}
			return err
		})
	}

	a.logger.Info("FastSD started",
		zap.String("version", core.Version),
		zap.String("surface", string(a.cfg.Surface)),
		zap.String("pipeline", a.cfg.Pipeline),
		zap.String("policy", a.cfg.DispatchPolicy.String()),
	)
	<-ctx.Done()

	shutdownErr := a.mgr.Shutdown()
	runErr := g.Wait()
	if runErr != nil {
		a.logger.Error("Surface failed", zap.Error(runErr))
	}
	return errors.Join(runErr, shutdownErr)
}

// stop requests shutdown from outside the process signal handlers.
func (a *application) stop(reason string) {
	a.mgr.Trigger(reason)
}

// exitCode maps the outcome of run to a process exit code.
func (a *application) exitCode(runErr error) int {
	if runErr != nil {
		return core.ExitCodeError
	}
	return a.mgr.ExitCode()
}
