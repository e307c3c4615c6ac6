// Package logger wraps zap with the level-name/arg-list call shape the rest
// of sessionhost uses (logger.Info("msg", zap.String(...), err)) instead of
// requiring every call site to import zap directly.
package logger

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process-wide sink; nil until InitLogger runs. cmd/sessiond
// calls it once at startup, before anything else touches the package.
var Logger *zap.Logger

// InitLogger builds the console-encoded, leveled logger every log.* call
// below writes through. level is one of zap's name strings
// (debug/info/warn/error/dpanic/panic/fatal); anything else falls back to
// info.
func InitLogger(level string) {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     "\n",
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout(time.RFC3339),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		levelFromName(level),
	)
	Logger = zap.New(core, zap.AddCaller(), zap.Development(), zap.AddStacktrace(zapcore.ErrorLevel))
}

// Sync flushes any buffered log entries; call it before process exit.
// Writing to a terminal, Sync itself sometimes returns a harmless "invalid
// argument" error on stdout, which callers can safely ignore.
func Sync() error {
	if Logger == nil {
		return nil
	}
	return Logger.Sync()
}

func Info(msg string, args ...interface{}) {
	Logger.Info(msg, ConvertArgsToFields(args...)...)
}

func Error(msg string, args ...interface{}) {
	Logger.Error(msg, ConvertArgsToFields(args...)...)
}

func Debug(msg string, args ...interface{}) {
	Logger.Debug(msg, ConvertArgsToFields(args...)...)
}

func Fatal(msg string, args ...interface{}) {
	Logger.Fatal(msg, ConvertArgsToFields(args...)...)
}

func Warn(msg string, args ...interface{}) {
	Logger.Warn(msg, ConvertArgsToFields(args...)...)
}

func Panic(msg string, args ...interface{}) {
	Logger.Panic(msg, ConvertArgsToFields(args...)...)
}

// ConvertArgsToFields lets call sites mix zap.Field values with bare
// strings/ints/errors/etc.; anything not already a zap.Field gets tagged
// with a type-named key so it still shows up in the console encoder.
func ConvertArgsToFields(args ...interface{}) []zap.Field {
	fields := make([]zap.Field, len(args))
	for i, arg := range args {
		fields[i] = toField(arg)
	}
	return fields
}

func toField(arg interface{}) zap.Field {
	switch v := arg.(type) {
	case zap.Field:
		return v
	case string:
		return zap.String("string", v)
	case int:
		return zap.Int("int", v)
	case int64:
		return zap.Int64("int64", v)
	case float64:
		return zap.Float64("float64", v)
	case bool:
		return zap.Bool("bool", v)
	case error:
		return zap.Error(v)
	case rune:
		return zap.String("rune", string(v))
	default:
		return zap.Any("any", v)
	}
}

// ConvertLevelToZapCoreLevel exports the level-name lookup; it defers to the
// same table InitLogger uses internally.
func ConvertLevelToZapCoreLevel(level string) zapcore.LevelEnabler {
	return levelFromName(level)
}

func levelFromName(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "dpanic":
		return zapcore.DPanicLevel
	case "panic":
		return zapcore.PanicLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
