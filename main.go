package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kardianos/service"
	"go.uber.org/zap"

	"fastsd/core"
	"fastsd/logging"
	"fastsd/shutdown"
	"fastsd/webui/auth"
)

const usage = `Usage: fastsd [command]

Without a command the surfaces selected by FASTSD_SURFACE are started.

Commands:
  hash-password [password]    print a bcrypt hash for WEBUI_PASSWORD_HASH
                              (reads the password from stdin when omitted)
  install | uninstall         register or remove the OS service
  start | stop                control the installed OS service
  version                     print version information
  help                        show this message
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) > 0 {
		switch cmd := args[0]; {
		case cmd == "hash-password":
			return hashPasswordCommand(args[1:], stdin, stdout, stderr)
		case cmd == "version" || cmd == "--version":
			fmt.Fprintln(stdout, core.AppName, core.GetVersionInfo())
			return core.ExitCodeSuccess
		case cmd == "help" || cmd == "-h" || cmd == "--help":
			fmt.Fprint(stdout, usage)
			return core.ExitCodeSuccess
		case isServiceAction(cmd):
			return controlService(cmd, stdout)
		default:
			fmt.Fprintf(stderr, "Unknown command %q\n\n%s", cmd, usage)
			return core.ExitCodeError
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(stderr, "Warning: could not read .env: %v\n", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return core.ExitCodeError
	}

	logger, err := logging.NewLogger(cfg.DevMode, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize logger: %v\n", err)
		return core.ExitCodeError
	}

	logger.Info("Configuration loaded",
		zap.String("settings_path", cfg.SettingsPath),
		zap.String("surface", string(cfg.Surface)),
		zap.String("pipeline", cfg.Pipeline),
		zap.String("dispatch_policy", cfg.DispatchPolicy.String()),
		zap.String("listen_addr", cfg.ListenAddr()),
		zap.Bool("auth_enabled", cfg.WebUIPasswordHash != ""),
		zap.String("history_db", cfg.HistoryDBPath),
		zap.String("s3_bucket", cfg.OutputS3Bucket),
		zap.Duration("shutdown_timeout", cfg.ShutdownTimeout),
		zap.Bool("dev_mode", cfg.DevMode),
	)

	if !service.Interactive() {
		code := runService(cfg, logger)
		_ = logger.Sync()
		return code
	}

	app := newApplication(cfg, logger, stdin, stdout)
	app.mgr.Register("logger", shutdown.PriorityLogger, func(context.Context) error {
		// Sync on a console fails with EINVAL on some platforms.
		if err := logger.Sync(); err != nil && !isStdSyncError(err) {
			return err
		}
		return nil
	})

	runErr := app.run()
	code := app.exitCode(runErr)
	fmt.Fprintf(stderr, "Exit: %s\n", core.ExitCodeName(code))
	return code
}

func loadConfig() (*core.Config, error) {
	cfg, err := core.LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// hashPasswordCommand prints the bcrypt hash of the password given as the
// first argument or on the first line of stdin.
func hashPasswordCommand(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var password string
	if len(args) > 0 {
		password = args[0]
	} else {
		scanner := bufio.NewScanner(stdin)
		if scanner.Scan() {
			password = strings.TrimRight(scanner.Text(), "\r")
		}
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		fmt.Fprintf(stderr, "hash-password: %v\n", err)
		return core.ExitCodeError
	}
	fmt.Fprintln(stdout, hash)
	return core.ExitCodeSuccess
}

func isStdSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "/dev/stdout") ||
		strings.Contains(msg, "/dev/stderr") ||
		strings.Contains(msg, "invalid argument") ||
		strings.Contains(msg, "inappropriate ioctl")
}
