package secretariat

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggerOnce sync.Once
	baseLogger *zap.Logger
	levelVar   = zap.NewAtomicLevel()
)

type ctxKeyRequestID struct{}

// LogSettings selects level, encoding and destination of the process logger.
type LogSettings struct {
	Level  string
	Format string
	Dest   string
}

// Logger returns the singleton logger. Unless ConfigureLogger ran first it is
// configured from LOG_LEVEL, LOG_FORMAT and LOG_DEST.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		baseLogger = buildLogger(LogSettings{
			Level:  os.Getenv("LOG_LEVEL"),
			Format: os.Getenv("LOG_FORMAT"),
			Dest:   os.Getenv("LOG_DEST"),
		})
	})
	return baseLogger
}

// ConfigureLogger installs settings coming from the config file. Only the
// first of ConfigureLogger and Logger takes effect; the level can still change.
func ConfigureLogger(s LogSettings) {
	loggerOnce.Do(func() {
		baseLogger = buildLogger(s)
	})
	levelVar.SetLevel(determineLevel(s.Level))
}

func buildLogger(s LogSettings) *zap.Logger {
	levelVar.SetLevel(determineLevel(s.Level))
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	switch strings.ToLower(strings.TrimSpace(s.Format)) {
	case "text", "console":
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		enc = zapcore.NewJSONEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, selectWriter(s.Dest), levelVar)
	return zap.New(core).With(zap.String("app", "dignitary-secretariat"))
}

func determineLevel(raw string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

func selectWriter(dest string) zapcore.WriteSyncer {
	switch strings.ToLower(strings.TrimSpace(dest)) {
	case "stderr":
		return zapcore.Lock(os.Stderr)
	case "stdout", "":
		return zapcore.Lock(os.Stdout)
	default:
		if strings.HasPrefix(dest, "file:") {
			path := strings.TrimPrefix(dest, "file:")
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err == nil {
				return zapcore.AddSync(f)
			}
			zap.L().Warn("failed to open log file, falling back to stderr", zap.String("path", path), zap.Error(err))
			return zapcore.Lock(os.Stderr)
		}
		return zapcore.Lock(os.Stdout)
	}
}

// WithRequestID ensures the context carries a request id and returns the updated context + id.
func WithRequestID(ctx context.Context) (context.Context, string) {
	if ctx == nil {
		ctx = context.Background()
	}
	if id, ok := ctx.Value(ctxKeyRequestID{}).(string); ok && id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	ctx = context.WithValue(ctx, ctxKeyRequestID{}, id)
	return ctx, id
}

// ContextWithRequestID stores a request id received from the caller.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		ctx, _ = WithRequestID(ctx)
		return ctx
	}
	return context.WithValue(ctx, ctxKeyRequestID{}, id)
}

// RequestIDFromContext returns the request id stored in the context, if any.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(ctxKeyRequestID{}).(string); ok {
		return id
	}
	return ""
}
