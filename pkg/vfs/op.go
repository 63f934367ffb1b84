package vfs

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/agentfs/internal/logger"
	"github.com/marmos91/agentfs/internal/telemetry"
	fserrors "github.com/marmos91/agentfs/pkg/vfs/errors"
	"github.com/marmos91/agentfs/pkg/vfs/graph"
	"github.com/marmos91/agentfs/pkg/vfs/process"
)

// opScope brackets one public operation: span, log context and metrics.
type opScope struct {
	c     *Core
	ctx   context.Context
	span  trace.Span
	name  string
	start time.Time
}

// begin starts a filesystem operation issued by pid.
func (c *Core) begin(ctx context.Context, name string, pid uint32, attrs ...attribute.KeyValue) (context.Context, *opScope) {
	ctx, span := telemetry.StartVFSSpan(ctx, name, pid, attrs...)
	return c.scope(ctx, span, name, pid)
}

// beginControl starts a control-plane operation.
func (c *Core) beginControl(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *opScope) {
	ctx, span := telemetry.StartControlSpan(ctx, name, attrs...)
	return c.scope(ctx, span, name, 0)
}

func (c *Core) scope(ctx context.Context, span trace.Span, name string, pid uint32) (context.Context, *opScope) {
	lc := logger.NewLogContext(name, pid).WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx))
	ctx = logger.WithContext(ctx, lc)
	return ctx, &opScope{c: c, ctx: ctx, span: span, name: name, start: lc.StartTime}
}

// end finishes the operation and returns err unchanged.
func (s *opScope) end(err error) error {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
		s.span.SetAttributes(telemetry.Status(fserrors.CodeOf(err).String()))
		logger.DebugCtx(s.ctx, "Operation failed",
			logger.Err(err),
			logger.ErrorCode(fserrors.CodeOf(err).String()),
			logger.DurationMs(logger.Duration(s.start)))
	}
	s.span.End()
	if s.c.metrics != nil {
		s.c.metrics.ObserveOperation(s.name, time.Since(s.start), err)
	}
	return err
}

// view is what an operation works against once the caller is resolved.
type view struct {
	ctx     context.Context
	binding process.Binding
	br      *branch
}

func (v *view) tree() *graph.Tree { return v.br.tip.Load() }

// resolveView binds pid to its branch and records the identity in ctx's log
// context and span.
func (c *Core) resolveView(ctx context.Context, pid uint32) (*view, error) {
	b := c.procs.Resolve(pid)
	br, err := c.lookupBranch(BranchID(b.Branch))
	if err != nil {
		return nil, err
	}
	if lc := logger.FromContext(ctx); lc != nil {
		ctx = logger.WithContext(ctx, lc.WithView(b.Branch, b.Credentials.UID, b.Credentials.GID))
	}
	telemetry.SetAttributes(ctx,
		telemetry.Branch(b.Branch),
		telemetry.UID(b.Credentials.UID),
		telemetry.GID(b.Credentials.GID))
	return &view{ctx: ctx, binding: b, br: br}, nil
}

// mutate runs fn against a private copy of the branch tip under the branch
// mutex and publishes the copy when fn succeeds.
func (c *Core) mutate(v *view, fn func(t *graph.Tree) error) error {
	v.br.mu.Lock()
	defer v.br.mu.Unlock()
	return c.mutateLocked(v.br, fn)
}

func (c *Core) mutateLocked(br *branch, fn func(t *graph.Tree) error) error {
	t := br.tip.Load().Clone()
	if err := fn(t); err != nil {
		return err
	}
	br.tip.Store(t)
	return nil
}
