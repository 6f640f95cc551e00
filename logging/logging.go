// logging wires up warden's structured logger. Records go to an append-mode
// log file rather than the terminal, which the control surface owns. The
// returned zap.AtomicLevel is the handle the rest of the supervisor uses to
// retune verbosity at runtime.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below zap's DebugLevel. The configuration surface exposes
// five level names; zap only defines four of them.
const TraceLevel = zapcore.DebugLevel - 1

// ParseLevel maps a configuration level name to a zap level.
func ParseLevel(name string) (zapcore.Level, error) {
	switch name {
	case "trace":
		return TraceLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return 0, fmt.Errorf("unknown log level %q, expected one of trace, debug, info, warn, error", name)
}

// LevelName is the inverse of ParseLevel.
func LevelName(level zapcore.Level) string {
	if level == TraceLevel {
		return "trace"
	}
	return level.String()
}

// New opens (or creates) the log file in append mode and builds a logger
// writing to it. The returned AtomicLevel governs the minimum level and can
// be adjusted at any time.
func New(path string, level zapcore.Level) (*zap.Logger, zap.AtomicLevel, error) {
	filter := zap.NewAtomicLevelAt(level)

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, filter, fmt.Errorf("opening log file %q: %w", path, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(file), filter)
	return zap.New(core), filter, nil
}
