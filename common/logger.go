package common

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below zap's debug level and is used for per-request logging
const TraceLevel = zapcore.DebugLevel - 1

// LogLevel is the process-wide, runtime adjustable verbosity shared by every
// core of the logger.
type LogLevel struct {
	zap.AtomicLevel
}

// NewLogLevel creates a LogLevel starting at the given level
func NewLogLevel(level zapcore.Level) *LogLevel {
	return &LogLevel{AtomicLevel: zap.NewAtomicLevelAt(level)}
}

// ParseLevel converts a level name ("error", "warn", "info", "debug", "trace")
// into a zap level.
func ParseLevel(name string) (zapcore.Level, bool) {
	switch strings.ToLower(name) {
	case "error":
		return zapcore.ErrorLevel, true
	case "warn":
		return zapcore.WarnLevel, true
	case "info":
		return zapcore.InfoLevel, true
	case "debug":
		return zapcore.DebugLevel, true
	case "trace":
		return TraceLevel, true
	}
	return zapcore.InfoLevel, false
}

// SetCode selects a level from a single firelog code character. E/e/0 is
// error, W/w/1 warn, I/i/2 info, D/d/3 debug and T/t/4 trace. Unknown codes
// leave the level alone and return false.
func (l *LogLevel) SetCode(code byte) bool {
	switch code {
	case 'E', 'e', '0':
		l.SetLevel(zapcore.ErrorLevel)
	case 'W', 'w', '1':
		l.SetLevel(zapcore.WarnLevel)
	case 'I', 'i', '2':
		l.SetLevel(zapcore.InfoLevel)
	case 'D', 'd', '3':
		l.SetLevel(zapcore.DebugLevel)
	case 'T', 't', '4':
		l.SetLevel(TraceLevel)
	default:
		return false
	}
	return true
}

// Name returns the lower case name of the current level
func (l *LogLevel) Name() string {
	if l.Level() == TraceLevel {
		return "trace"
	}
	return l.Level().String()
}

func capitalLevelEncoder(color bool) zapcore.LevelEncoder {
	return func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		if level == TraceLevel {
			enc.AppendString("TRACE")
			return
		}
		if color {
			zapcore.CapitalColorLevelEncoder(level, enc)
			return
		}
		zapcore.CapitalLevelEncoder(level, enc)
	}
}

// SetupLogger configures a Zap logger with console and/or file output.
// Parameters:
//   - logFile: path to log file (empty string disables file logging)
//   - level: shared level every core checks against
//   - silent: if true, disables console output
//
// Returns a configured SugaredLogger instance.
func SetupLogger(logFile string, level *LogLevel, silent bool) *zap.SugaredLogger {
	cores := []zapcore.Core{}

	// Add console logging if not silent
	if !silent {
		consoleConfig := zapcore.EncoderConfig{
			TimeKey:       "time",
			LevelKey:      "level",
			NameKey:       "logger",
			CallerKey:     "caller",
			MessageKey:    "msg",
			StacktraceKey: "stacktrace",
			EncodeLevel:   capitalLevelEncoder(true),
			EncodeTime:    zapcore.ISO8601TimeEncoder,
			EncodeCaller:  zapcore.ShortCallerEncoder,
		}
		consoleEncoder := zapcore.NewConsoleEncoder(consoleConfig)
		cores = append(cores,
			zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), level),
		)
	}

	// Add file logging if logFile is specified
	if logFile != "" {
		fileConfig := zapcore.EncoderConfig{
			TimeKey:       "time",
			LevelKey:      "level",
			NameKey:       "logger",
			CallerKey:     "caller",
			MessageKey:    "msg",
			StacktraceKey: "stacktrace",
			EncodeLevel:   capitalLevelEncoder(false),
			EncodeTime:    zapcore.ISO8601TimeEncoder,
			EncodeCaller:  zapcore.ShortCallerEncoder,
		}
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			fileEncoder := zapcore.NewJSONEncoder(fileConfig)
			cores = append(cores,
				zapcore.NewCore(fileEncoder, zapcore.AddSync(file), level),
			)
		}
	}

	// Create multi-core logger
	core := zapcore.NewTee(cores...)
	logger := zap.New(core, zap.AddCaller())

	return logger.Sugar()
}

// Tracef logs at TraceLevel. zap has no sugared trace method, so the record is
// checked against the core directly.
func Tracef(logger *zap.SugaredLogger, template string, args ...interface{}) {
	base := logger.Desugar().WithOptions(zap.AddCallerSkip(1))
	if !base.Core().Enabled(TraceLevel) {
		return
	}
	if ce := base.Check(TraceLevel, fmt.Sprintf(template, args...)); ce != nil {
		ce.Write()
	}
}
