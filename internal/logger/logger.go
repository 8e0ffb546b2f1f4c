// Package logger wraps go.uber.org/zap with the conventions fleetd uses
// everywhere: a process-wide SugaredLogger, a human console encoder for
// interactive use, and JSON output for production deployments.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Logger *zap.SugaredLogger

func init() {
	// Safe no-op logger so packages that log at init time never panic
	// before Initialize has run.
	Logger = zap.NewNop().Sugar()
}

// Initialize sets up the global logger. jsonOutput selects structured JSON
// (for log aggregation) over the human-readable console encoder.
func Initialize(jsonOutput bool, verbosity int) error {
	var zapLogger *zap.Logger
	var err error

	level := VerbosityToLevel(verbosity)

	if jsonOutput {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(level)
		zapLogger, err = cfg.Build()
	} else {
		zapLogger = zap.New(
			zapcore.NewCore(
				newMinimalEncoder(),
				zapcore.AddSync(os.Stdout),
				level,
			),
		)
	}
	if err != nil {
		return err
	}

	Logger = zapLogger.Sugar()
	return nil
}

// Sync flushes any buffered log entries. Errors from Sync on stdout/stderr
// are routinely ignorable (EINVAL on some platforms) and are returned, not
// swallowed, so callers can decide.
func Sync() error {
	if Logger == nil {
		return nil
	}
	return Logger.Sync()
}
