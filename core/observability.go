package core

import (
	"context"
	"sort"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Observer emits one structured line per operation outcome. Retryable
// failures are logged at warn, everything else that fails at error.
type Observer struct {
	logger Logger
}

func NewObserver(logger Logger) Observer {
	return Observer{logger: logger}
}

func (o Observer) Logger() Logger {
	if o.logger == nil {
		return glog.Nop()
	}
	return o.logger
}

// Observe logs the outcome of operation started at startedAt.
func (o Observer) Observe(ctx context.Context, startedAt time.Time, operation string, err error, fields map[string]any) {
	operation = operationName(operation)
	out := copyFields(fields, 6)
	out["operation"] = operation
	out["duration_ms"] = time.Since(startedAt).Milliseconds()
	if err == nil {
		out["status"] = "success"
		o.Log(ctx, LevelInfo, operation+" succeeded", out)
		return
	}

	out["status"] = "failure"
	out["error"] = err.Error()
	if code := TextCode(err); code != "" {
		out["error_code"] = code
	}
	retryable := IsRetryable(err)
	out["retryable"] = retryable
	level := LevelError
	if retryable {
		level = LevelWarn
	}
	o.Log(ctx, level, operation+" failed", out)
}

// Log writes message at level. Loggers that accept fields get them as a map;
// others receive sorted key/value pairs.
func (o Observer) Log(ctx context.Context, level string, message string, fields map[string]any) {
	logger := o.Logger()
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	var args []any
	if withFields, ok := logger.(FieldsLogger); ok {
		logger = withFields.WithFields(copyFields(fields, 0))
	} else {
		args = pairs(fields)
	}

	emit := logger.Info
	switch strings.ToLower(strings.TrimSpace(level)) {
	case LevelError:
		emit = logger.Error
	case LevelWarn:
		emit = logger.Warn
	case LevelDebug:
		emit = logger.Debug
	}
	emit(message, args...)
}

func copyFields(fields map[string]any, extra int) map[string]any {
	out := make(map[string]any, len(fields)+extra)
	for key, value := range fields {
		out[key] = value
	}
	return out
}

func pairs(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, 2*len(keys))
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

// operationName lowercases and snake cases operation; blank means "unknown".
func operationName(operation string) string {
	operation = strings.ToLower(strings.TrimSpace(operation))
	if operation == "" {
		return "unknown"
	}
	return strings.NewReplacer(" ", "_", "-", "_").Replace(operation)
}
