package log

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	logger     *zap.SugaredLogger
	level      = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	loggerOnce sync.Once
	mu         sync.RWMutex
)

// initLogger builds the global zap logger (JSON to stderr) on first use.
func initLogger() {
	loggerOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = level
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.DisableStacktrace = true

		z, err := cfg.Build(zap.AddCallerSkip(2))
		if err != nil {
			z = zap.NewNop()
		}
		mu.Lock()
		if logger == nil {
			logger = z.Sugar()
		}
		mu.Unlock()
	})
}

// ParseLevel maps a config string ("debug", "info", ...) to a Level.
// Unknown values fall back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func SetLevel(l Level) {
	initLogger()
	switch l {
	case LevelDebug:
		level.SetLevel(zapcore.DebugLevel)
	case LevelWarn:
		level.SetLevel(zapcore.WarnLevel)
	case LevelError:
		level.SetLevel(zapcore.ErrorLevel)
	default:
		level.SetLevel(zapcore.InfoLevel)
	}
}

// Use replaces the global logger. Tests pass zap.NewNop() or an
// observer core here.
func Use(z *zap.Logger) {
	initLogger()
	mu.Lock()
	logger = z.WithOptions(zap.AddCallerSkip(2)).Sugar()
	mu.Unlock()
}

func Sync() {
	initLogger()
	mu.RLock()
	defer mu.RUnlock()
	_ = logger.Sync()
}

func Debug(msg string, kv ...any) {
	logWithLevel(LevelDebug, msg, kv...)
}

func Info(msg string, kv ...any) {
	logWithLevel(LevelInfo, msg, kv...)
}

func Warn(msg string, kv ...any) {
	logWithLevel(LevelWarn, msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	logWithLevel(LevelError, msg, extended...)
}

func logWithLevel(l Level, msg string, kv ...any) {
	initLogger()
	mu.RLock()
	s := logger
	mu.RUnlock()

	kv = evenKVs(kv)
	switch l {
	case LevelDebug:
		s.Debugw(msg, kv...)
	case LevelWarn:
		s.Warnw(msg, kv...)
	case LevelError:
		s.Errorw(msg, kv...)
	default:
		s.Infow(msg, kv...)
	}
}

// evenKVs drops a trailing key without value and non-string keys,
// the same leniency the old line logger had.
func evenKVs(kv []any) []any {
	out := make([]any, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, key, kv[i+1])
	}
	return out
}
