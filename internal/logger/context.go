package logger

import (
	"context"
	"time"
)

type contextKey struct{}

// LogContext carries the fields every log line of one operation repeats.
// Values are copied on change, so a LogContext stored in a context is
// never mutated.
type LogContext struct {
	TraceID   string
	SpanID    string
	Operation string
	PID       uint32

	// Branch, UID and GID are set once the caller's view is resolved.
	Branch string
	UID    uint32
	GID    uint32

	StartTime time.Time
}

// NewLogContext starts a LogContext for one operation by pid.
func NewLogContext(operation string, pid uint32) *LogContext {
	return &LogContext{Operation: operation, PID: pid, StartTime: time.Now()}
}

// WithTrace returns a copy carrying trace and span ids.
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	c := *lc
	c.TraceID, c.SpanID = traceID, spanID
	return &c
}

// WithView returns a copy carrying the caller's branch and identity.
func (lc *LogContext) WithView(branch string, uid, gid uint32) *LogContext {
	c := *lc
	c.Branch, c.UID, c.GID = branch, uid, gid
	return &c
}

func (lc *LogContext) fields() []any {
	f := make([]any, 0, 16)
	if lc.TraceID != "" {
		f = append(f, KeyTraceID, lc.TraceID, KeySpanID, lc.SpanID)
	}
	if lc.Operation != "" {
		f = append(f, KeyOperation, lc.Operation)
	}
	if lc.PID != 0 {
		f = append(f, KeyPID, lc.PID)
	}
	// uid 0 is meaningful once the view is known
	if lc.Branch != "" {
		f = append(f, KeyBranch, lc.Branch, KeyUID, lc.UID, KeyGID, lc.GID)
	}
	return f
}

// WithContext returns ctx carrying lc.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, contextKey{}, lc)
}

// FromContext returns the LogContext in ctx, or nil.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(contextKey{}).(*LogContext)
	return lc
}
