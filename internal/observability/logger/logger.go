package logger

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/smallbiznis/aerocert/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config configures the zap logger.
type Config struct {
	ServiceName string
	Environment string
	Version     string
	Level       string
	Format      string
	// Debug switches to a console encoder without sampling.
	Debug bool

	SamplingInitial     int
	SamplingThereafter  int
	SamplingWindow      time.Duration
	IncludeCaller       bool
	IncludeStackOnError bool
}

// New builds the process logger, installs it as the zap global and syncs it
// when the application stops.
func New(lc fx.Lifecycle, cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		if strings.TrimSpace(cfg.Level) != "" {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = zapcore.InfoLevel
	}

	core := zapcore.NewCore(newEncoder(cfg), zapcore.Lock(os.Stdout), zap.NewAtomicLevelAt(level))
	if !cfg.Debug {
		initial, thereafter, window := cfg.sampling()
		core = zapcore.NewSamplerWithOptions(core, window, initial, thereafter)
	}

	options := []zap.Option{zap.ErrorOutput(zapcore.Lock(os.Stderr))}
	if cfg.IncludeCaller {
		options = append(options, zap.AddCaller())
	}
	if cfg.IncludeStackOnError {
		options = append(options, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	log := zap.New(core, options...).With(staticFields(cfg)...)
	zap.ReplaceGlobals(log)

	if lc != nil {
		lc.Append(fx.StopHook(func() {
			_ = log.Sync()
		}))
	}
	return log, nil
}

func newEncoder(cfg Config) zapcore.Encoder {
	if cfg.Debug {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(encCfg)
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "console") {
		return zapcore.NewConsoleEncoder(encCfg)
	}
	return zapcore.NewJSONEncoder(encCfg)
}

func (c Config) sampling() (initial, thereafter int, window time.Duration) {
	initial, thereafter, window = c.SamplingInitial, c.SamplingThereafter, c.SamplingWindow
	if initial <= 0 {
		initial = 100
	}
	if thereafter <= 0 {
		thereafter = 100
	}
	if window <= 0 {
		window = time.Second
	}
	return initial, thereafter, window
}

func staticFields(cfg Config) []zap.Field {
	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "aerocert"
	}
	return []zap.Field{
		zap.String("service", service),
		zap.String("env", strings.TrimSpace(cfg.Environment)),
		zap.String("version", strings.TrimSpace(cfg.Version)),
	}
}

// FromContext scopes the global logger to ctx.
func FromContext(ctx context.Context) *zap.Logger {
	return WithContext(ctx, zap.L())
}

// WithContext adds the correlation ID, actor and active span to base.
// Empty values are left out.
func WithContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if ctx == nil || base == nil {
		return base
	}

	fields := make([]zap.Field, 0, 5)
	if id := correlation.ExtractCorrelationID(ctx); id != "" {
		fields = append(fields, zap.String("correlation_id", id))
	}
	if actor := correlation.ActorFromContext(ctx); actor.Type != "" {
		fields = append(fields, zap.String("actor_type", actor.Type), zap.String("actor_id", actor.ID))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// WithRecord scopes a logger to one training record.
func WithRecord(log *zap.Logger, recordID string) *zap.Logger {
	if log == nil {
		return nil
	}
	return log.With(zap.String("record_id", strings.TrimSpace(recordID)))
}

// WithJob scopes a logger to one scheduler job run.
func WithJob(log *zap.Logger, job, runID string) *zap.Logger {
	if log == nil {
		return nil
	}
	return log.With(
		zap.String("job", strings.TrimSpace(job)),
		zap.String("run_id", strings.TrimSpace(runID)),
	)
}
