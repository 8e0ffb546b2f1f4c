package logger

import "go.uber.org/zap/zapcore"

// Verbosity level constants for the CLI's repeated -v flag.
const (
	VerbosityUser  = 0 // default: warnings and errors only
	VerbosityInfo  = 1 // -v
	VerbosityDebug = 2 // -vv and above
)

// VerbosityToLevel maps a -v count to a zap level.
func VerbosityToLevel(verbosity int) zapcore.Level {
	switch {
	case verbosity <= VerbosityUser:
		return zapcore.WarnLevel
	case verbosity == VerbosityInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}
