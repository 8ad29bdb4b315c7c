/*
 * Copyright (c) 2024 yakumioto <yaku.mioto@gmail.com>
 * All rights reserved.
 */

package otelactivity

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel/trace"
)

var _ slog.Handler = (*Handler)(nil)

// HandlerOptions is a functional option for the Handler.
type HandlerOptions func(*Handler)

// WithTraceIDKey sets the key used to record the trace ID in records passed to
// the next handler.
func WithTraceIDKey(key string) HandlerOptions {
	return func(h *Handler) {
		h.traceIDKey = key
	}
}

// WithSpanIDKey sets the key used to record the span ID in records passed to
// the next handler.
func WithSpanIDKey(key string) HandlerOptions {
	return func(h *Handler) {
		h.spanIDKey = key
	}
}

// WithNext sets the handler that receives every record after the bridge.
func WithNext(next slog.Handler) HandlerOptions {
	return func(h *Handler) {
		h.Next = next
	}
}

// NewHandler creates a slog.Handler that turns records into bridge events.
func NewHandler(b *Bridge, opts ...HandlerOptions) *Handler {
	h := &Handler{
		bridge:     b,
		traceIDKey: "trace_id",
		spanIDKey:  "span_id",
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Handler is a slog.Handler that emits every record through a Bridge, rendered
// with the span chain it was logged in. The span is taken from the
// OpenTelemetry span in the context when the bridge tracks it, and from the
// innermost scope entered with Bridge.OnEnter otherwise.
type Handler struct {
	bridge *Bridge

	// OpenTelemetry trace context keys for the next handler
	traceIDKey string
	spanIDKey  string

	attrs     []slog.Attr
	groupKeys []string

	// Next slog.Handler in the chain
	Next slog.Handler
}

// Enabled checks if the bridge or the next handler wants records at level.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.bridge.Enabled(level) {
		return true
	}
	return h.Next != nil && h.Next.Enabled(ctx, level)
}

func (h *Handler) nextHandle(ctx context.Context, record slog.Record, spanCtx trace.SpanContext) error {
	if h.Next == nil || !h.Next.Enabled(ctx, record.Level) {
		return nil
	}

	if spanCtx.HasTraceID() || spanCtx.HasSpanID() {
		record = record.Clone()
		if spanCtx.HasTraceID() {
			record.AddAttrs(slog.String(h.traceIDKey, spanCtx.TraceID().String()))
		}
		if spanCtx.HasSpanID() {
			record.AddAttrs(slog.String(h.spanIDKey, spanCtx.SpanID().String()))
		}
	}

	return h.Next.Handle(ctx, record)
}

// Handle emits record through the bridge and then hands it to the next handler.
// The next handler receives the record even when the bridge fails; the bridge
// error also goes to the bridge's error handler, since slog.Logger drops it.
func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()

	var bridgeErr error
	if h.bridge.Enabled(record.Level) {
		var spanID trace.SpanID
		if id := spanCtx.SpanID(); id.IsValid() && h.bridge.Tracks(id) {
			spanID = id
		}

		err := h.bridge.OnEvent(ctx, Event{
			Level:      record.Level,
			Span:       spanID,
			Attributes: CollectRecord(record, h.groupKeys, h.attrs),
		})
		if err != nil {
			h.bridge.handleError(err)
			bridgeErr = err
		}
	}

	return errors.Join(bridgeErr, h.nextHandle(ctx, record, spanCtx))
}

func (h *Handler) clone() *Handler {
	return &Handler{
		bridge:     h.bridge,
		traceIDKey: h.traceIDKey,
		spanIDKey:  h.spanIDKey,
		attrs:      slices.Clip(h.attrs),
		groupKeys:  slices.Clip(h.groupKeys),
		Next:       h.Next,
	}
}

// WithAttrs returns a new slog.Handler that includes the given slog.Attrs.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}

	nh := h.clone()
	nh.attrs = append(nh.attrs, nestAttrs(h.groupKeys, attrs)...)
	if h.Next != nil {
		nh.Next = h.Next.WithAttrs(attrs)
	}
	return nh
}

// WithGroup returns a new slog.Handler that qualifies later attributes with name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	nh := h.clone()
	nh.groupKeys = append(nh.groupKeys, name)
	if h.Next != nil {
		nh.Next = h.Next.WithGroup(name)
	}
	return nh
}

// nestAttrs wraps attrs in the groups that were open when they were added.
func nestAttrs(groups []string, attrs []slog.Attr) []slog.Attr {
	attrs = slices.Clone(attrs)
	for i := len(groups) - 1; i >= 0; i-- {
		attrs = []slog.Attr{{Key: groups[i], Value: slog.GroupValue(attrs...)}}
	}
	return attrs
}
