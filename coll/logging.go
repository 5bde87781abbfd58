package coll

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides printf-style debug logging hooks for the component.
type Logger interface {
	Debugf(format string, args ...any)
}

// StructuredLogger emits key/value pairs for structured logging backends.
type StructuredLogger interface {
	Debugw(msg string, keyvals ...any)
	Warnw(msg string, keyvals ...any)
}

// NewLogger builds a production zap logger whose level follows the verbose
// setting: 0 error, 1 warn, 2 info, 3 and above debug.
func NewLogger(verbose int, opts ...zap.Option) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(verboseLevel(verbose))
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("ucg coll: build logger: %w", err)
	}
	return logger.Sugar().Named("ucg"), nil
}

func verboseLevel(verbose int) zapcore.Level {
	switch {
	case verbose <= 0:
		return zapcore.ErrorLevel
	case verbose == 1:
		return zapcore.WarnLevel
	case verbose == 2:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

type logField struct {
	key   string
	value any
}

func logKV(key string, value any) logField {
	return logField{key: key, value: value}
}

// logger fans events out to whichever sinks the config provided.
type logger struct {
	plain      Logger
	structured StructuredLogger
}

func (l logger) event(event string, fields ...logField) {
	l.emit(false, event, fields...)
}

func (l logger) warn(event string, fields ...logField) {
	l.emit(true, event, fields...)
}

func (l logger) emit(warn bool, event string, fields ...logField) {
	if l.structured != nil {
		kv := make([]any, 0, len(fields)*2+2)
		kv = append(kv, "event", event)
		for _, field := range fields {
			if field.key == "" {
				continue
			}
			kv = append(kv, field.key, field.value)
		}
		if warn {
			l.structured.Warnw("ucg coll", kv...)
		} else {
			l.structured.Debugw("ucg coll", kv...)
		}
		return
	}
	if l.plain == nil {
		return
	}
	var b strings.Builder
	b.WriteString(event)
	for _, field := range fields {
		if field.key == "" {
			continue
		}
		b.WriteString(" ")
		b.WriteString(field.key)
		b.WriteString("=")
		b.WriteString(fmt.Sprint(field.value))
	}
	l.plain.Debugf("ucg coll %s", b.String())
}
