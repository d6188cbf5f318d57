package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

const gormQueryMessage = "gorm.query"

// GormLoggerConfig configures the GORM zap logger.
type GormLoggerConfig struct {
	Level                gormlogger.LogLevel
	SlowThreshold        time.Duration
	IgnoreRecordNotFound bool
	// Base is used instead of the global logger when set.
	Base *zap.Logger
}

func DefaultGormLoggerConfig() GormLoggerConfig {
	return GormLoggerConfig{
		Level:                gormlogger.Warn,
		SlowThreshold:        250 * time.Millisecond,
		IgnoreRecordNotFound: true,
	}
}

// GormLogger routes GORM output through zap. Statements are logged with the
// operation and table they touch; bound values are never logged because
// certificate rows carry employee identifiers.
type GormLogger struct {
	cfg GormLoggerConfig
}

func NewGormLogger(cfg GormLoggerConfig) *GormLogger {
	return &GormLogger{cfg: cfg}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.cfg.Level = level
	return &next
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Info, zapcore.InfoLevel, msg, data)
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Warn, zapcore.WarnLevel, msg, data)
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Error, zapcore.ErrorLevel, msg, data)
}

func (l *GormLogger) message(ctx context.Context, min gormlogger.LogLevel, level zapcore.Level, msg string, data []interface{}) {
	if l.cfg.Level < min {
		return
	}
	fields := []zap.Field{zap.String("component", "gorm")}
	if len(data) > 0 {
		fields = append(fields, zap.Any("data", data))
	}
	if ce := l.logger(ctx).Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

// Trace logs failed statements at error, slow ones at warn and the rest at
// debug when the level is Info.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.cfg.Level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	var level zapcore.Level
	switch {
	case err != nil && l.cfg.Level >= gormlogger.Error && !l.ignored(err):
		level = zapcore.ErrorLevel
	case l.cfg.SlowThreshold > 0 && elapsed > l.cfg.SlowThreshold && l.cfg.Level >= gormlogger.Warn:
		level, err = zapcore.WarnLevel, nil
	case l.cfg.Level >= gormlogger.Info:
		level, err = zapcore.DebugLevel, nil
	default:
		return
	}

	sql, rows := fc()
	operation, table := describeSQL(sql)
	fields := []zap.Field{
		zap.String("component", "gorm"),
		zap.String("operation", operation),
		zap.String("table", table),
		zap.String("sql", strings.TrimSpace(sql)),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	if level == zapcore.WarnLevel {
		fields = append(fields, zap.Bool("slow", true))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if ce := l.logger(ctx).Check(level, gormQueryMessage); ce != nil {
		ce.Write(fields...)
	}
}

func (l *GormLogger) ignored(err error) bool {
	return l.cfg.IgnoreRecordNotFound && errors.Is(err, gormlogger.ErrRecordNotFound)
}

// ParamsFilter drops bound values so they never reach the log line.
func (l *GormLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

func (l *GormLogger) logger(ctx context.Context) *zap.Logger {
	if l.cfg.Base != nil {
		return WithContext(ctx, l.cfg.Base)
	}
	return FromContext(ctx)
}

// describeSQL returns the leading DML verb and the first table it targets.
// CTE prefixes are skipped.
func describeSQL(sql string) (string, string) {
	tokens := strings.Fields(strings.TrimSpace(sql))
	operation := "UNKNOWN"
	depth := 0
	for i, raw := range tokens {
		depth += strings.Count(raw, "(") - strings.Count(raw, ")")
		if depth > 0 {
			continue
		}
		token := strings.ToUpper(strings.Trim(raw, "();"))
		switch token {
		case "SELECT", "DELETE":
			operation = token
			return operation, tableAfter(tokens[i+1:], "FROM")
		case "INSERT":
			return token, tableAfter(tokens[i+1:], "INTO")
		case "UPDATE":
			return token, tableName(tokens[i+1:])
		}
	}
	return operation, ""
}

func tableAfter(tokens []string, keyword string) string {
	for i, token := range tokens {
		if strings.EqualFold(token, keyword) {
			return tableName(tokens[i+1:])
		}
	}
	return ""
}

func tableName(tokens []string) string {
	if len(tokens) == 0 {
		return ""
	}
	name := strings.Trim(tokens[0], "\"`();")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return strings.Trim(name, "\"`")
}

var _ gormlogger.Interface = (*GormLogger)(nil)
