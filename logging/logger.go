// Package logging builds the process logger: a zap core that tees a console
// encoder with a rotated JSON file and redacts secrets from every entry.
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LevelEnvVar selects the minimum level; see ParseLogLevel.
const LevelEnvVar = "LOG_LEVEL"

// DefaultLogFile is used when LOG_FILE is unset.
const DefaultLogFile = "fastsd.log"

// Options configures NewLoggerWithOptions.
type Options struct {
	// Development selects the colored console encoder and debug level
	Development bool

	// FilePath is the JSON log file; empty disables file output
	FilePath string

	// Level overrides the default level for the mode when non-nil
	Level *zapcore.Level

	// Console receives console output (default: os.Stdout)
	Console io.Writer

	// File configures rotation of FilePath
	File FileWriterConfig
}

// NewLogger returns a logger writing to stdout and a rotated logFilePath.
// The level defaults to debug in development and info otherwise, and can be
// overridden with LOG_LEVEL.
func NewLogger(isDevelopment bool, logFilePath string) (*zap.Logger, error) {
	def := zapcore.InfoLevel
	if isDevelopment {
		def = zapcore.DebugLevel
	}
	level := ParseLogLevel(LevelEnvVar, def)
	return NewLoggerWithOptions(Options{
		Development: isDevelopment,
		FilePath:    logFilePath,
		Level:       &level,
		File:        DefaultFileWriterConfig(),
	})
}

// NewLoggerWithOptions builds a logger from opts.
func NewLoggerWithOptions(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Development {
		level = zapcore.DebugLevel
	}
	if opts.Level != nil {
		level = *opts.Level
	}

	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	var file zapcore.WriteSyncer
	if opts.FilePath != "" {
		if err := ensureLogDir(opts.FilePath); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file = NewFileWriterWithConfig(opts.FilePath, opts.File)
	}

	core := NewMultiCore(level, zapcore.AddSync(console), file, opts.Development)
	return zap.New(NewRedactingCore(core), zap.AddCaller()), nil
}
