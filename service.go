package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kardianos/service"
	"go.uber.org/zap"

	"fastsd/core"
)

// serviceActions are the subcommands forwarded to the service manager.
var serviceActions = []string{"install", "uninstall", "start", "stop"}

// serviceConfig describes the OS service. The service always runs the web
// surface; there is no terminal to attach the console to.
func serviceConfig() *service.Config {
	return &service.Config{
		Name:        "fastsd",
		DisplayName: core.AppName,
		Description: "Local LCM image generation with a browser interface",
		EnvVars:     map[string]string{"FASTSD_SURFACE": string(core.SurfaceWeb)},
	}
}

// Program implements service.Interface around one application run.
type Program struct {
	cfg    *core.Config
	logger *zap.Logger

	app  *application
	done chan error
}

func newProgram(cfg *core.Config, logger *zap.Logger) *Program {
	return &Program{cfg: cfg, logger: logger}
}

// Start must not block; the application runs in its own goroutine.
func (p *Program) Start(s service.Service) error {
	if p.cfg == nil {
		return errors.New("service: program has no configuration")
	}
	cfg := *p.cfg
	cfg.Surface = core.SurfaceWeb

	p.app = newApplication(&cfg, p.logger, strings.NewReader(""), io.Discard)
	p.done = make(chan error, 1)
	go func() {
		p.done <- p.app.run()
	}()
	return nil
}

// Stop triggers shutdown and waits for it to finish.
func (p *Program) Stop(s service.Service) error {
	if p.app == nil {
		return nil
	}
	p.app.stop("service stop")

	// Allow the shutdown sequence its full timeout plus a margin to return.
	select {
	case err := <-p.done:
		return err
	case <-time.After(p.cfg.ShutdownTimeout + 5*time.Second):
		return fmt.Errorf("service: timeout waiting for shutdown after %v", p.cfg.ShutdownTimeout)
	}
}

// isServiceAction reports whether arg is one of serviceActions.
func isServiceAction(arg string) bool {
	for _, a := range serviceActions {
		if a == arg {
			return true
		}
	}
	return false
}

// controlService runs a service manager action such as install.
func controlService(action string, out io.Writer) int {
	s, err := service.New(newProgram(nil, nil), serviceConfig())
	if err != nil {
		fmt.Fprintf(out, "Service setup failed: %v\n", err)
		return core.ExitCodeError
	}
	if err := service.Control(s, action); err != nil {
		fmt.Fprintf(out, "Service %s failed: %v\n", action, err)
		return core.ExitCodeError
	}
	fmt.Fprintf(out, "Service %s succeeded\n", action)
	return core.ExitCodeSuccess
}

// runService hands control to the service manager until it stops the
// program.
func runService(cfg *core.Config, logger *zap.Logger) int {
	s, err := service.New(newProgram(cfg, logger), serviceConfig())
	if err != nil {
		logger.Error("Service setup failed", zap.Error(err))
		return core.ExitCodeError
	}
	if err := s.Run(); err != nil {
		logger.Error("Service exited with error", zap.Error(err))
		return core.ExitCodeError
	}
	return core.ExitCodeSuccess
}
