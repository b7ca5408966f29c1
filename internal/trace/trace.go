// Package trace carries trace, span and session identifiers through
// context so every log line and outgoing call can be correlated.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"
)

// Propagation keys, shared by gRPC metadata and HTTP headers.
const (
	TraceIDKey      = "x-trace-id"
	SpanIDKey       = "x-span-id"
	ParentSpanIDKey = "x-parent-span-id"
	SessionIDKey    = "x-session-id"
)

type (
	idsKey     struct{}
	sessionKey struct{}
)

// ids identify one span within a trace.
type ids struct {
	trace  string
	span   string
	parent string
}

// 128-bit trace and 64-bit span ids, hex encoded as in W3C trace context.
func newTraceID() string { return randomHex(16) }
func newSpanID() string  { return randomHex(8) }

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// root starts a trace.
func root() ids {
	return ids{trace: newTraceID(), span: newSpanID()}
}

// child continues p's trace under a fresh span; a zero p starts a new one.
func (p ids) child() ids {
	if p.trace == "" {
		return root()
	}
	return ids{trace: p.trace, span: newSpanID(), parent: p.span}
}

// remote continues a trace received from a caller. Missing ids start fresh.
func remote(traceID, callerSpan string) ids {
	if traceID == "" {
		traceID = newTraceID()
	}
	return ids{trace: traceID, span: newSpanID(), parent: callerSpan}
}

func (c ids) pairs() map[string]string {
	m := map[string]string{TraceIDKey: c.trace, SpanIDKey: c.span}
	if c.parent != "" {
		m[ParentSpanIDKey] = c.parent
	}
	return m
}

func fromContext(ctx context.Context) (ids, bool) {
	c, ok := ctx.Value(idsKey{}).(ids)
	return c, ok
}

func withIDs(ctx context.Context, c ids) context.Context {
	return context.WithValue(ctx, idsKey{}, c)
}

// current returns ctx's ids, or a new root when ctx carries none.
func current(ctx context.Context) ids {
	if c, ok := fromContext(ctx); ok {
		return c
	}
	return root()
}

// WithSession tags ctx with a recording session id.
func WithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

func sessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// Span times one operation. End logs it at debug level.
type Span struct {
	name  string
	ctx   context.Context
	start time.Time
	attrs []any
}

// StartSpan begins a span as a child of ctx's current span.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent, _ := fromContext(ctx)
	ctx = withIDs(ctx, parent.child())
	return ctx, &Span{name: name, ctx: ctx, start: time.Now()}
}

// SetAttr attaches a key/value logged when the span ends.
func (s *Span) SetAttr(key string, val any) {
	s.attrs = append(s.attrs, key, val)
}

func (s *Span) End() {
	args := append([]any{"span", s.name, "duration", time.Since(s.start)}, s.attrs...)
	Logger(s.ctx).Debug("span ended", args...)
}

// Logger returns the default logger tagged with ctx's session and trace.
func Logger(ctx context.Context) *slog.Logger {
	args := make([]any, 0, 8)
	if id := sessionID(ctx); id != "" {
		args = append(args, "session", id)
	}
	if c, ok := fromContext(ctx); ok {
		args = append(args, "trace_id", c.trace, "span_id", c.span)
		if c.parent != "" {
			args = append(args, "parent_span_id", c.parent)
		}
	}
	if len(args) == 0 {
		return slog.Default()
	}
	return slog.Default().With(args...)
}
