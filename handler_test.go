/*
 * Copyright (c) 2024 yakumioto <yaku.mioto@gmail.com>
 * All rights reserved.
 */

package otelactivity

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/yakumioto/otelactivity/facility"
)

type pipeline struct {
	bridge   *Bridge
	recorder *facility.Recorder
	tracer   trace.Tracer
	logger   *slog.Logger
	errs     []error
}

// TestHandler tests the Handler and SpanProcessor together.
func TestHandler(t *testing.T) {
	setupPipeline := func(t *testing.T, opts ...HandlerOptions) *pipeline {
		p := &pipeline{}
		p.bridge, p.recorder = newTestBridge(t, WithErrorHandler(func(err error) {
			p.errs = append(p.errs, err)
		}))
		tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(NewSpanProcessor(p.bridge)))
		t.Cleanup(func() {
			_ = tp.Shutdown(context.Background())
		})
		p.tracer = tp.Tracer("test")
		p.logger = slog.New(NewHandler(p.bridge, opts...))
		return p
	}

	t.Run("with handler options", func(t *testing.T) {
		b, _ := newTestBridge(t)
		next := slog.NewJSONHandler(bytes.NewBuffer(nil), nil)
		h := NewHandler(b,
			WithTraceIDKey("test_trace_id"),
			WithSpanIDKey("test_span_id"),
			WithNext(next))

		assert.Equal(t, "test_trace_id", h.traceIDKey)
		assert.Equal(t, "test_span_id", h.spanIDKey)
		assert.Equal(t, next, h.Next)
	})

	t.Run("with out span", func(t *testing.T) {
		p := setupPipeline(t)
		p.logger.Warn("with out span test", "key1", "value1")

		emitted := p.recorder.Emitted()
		require.Len(t, emitted, 1)
		assert.Equal(t, "with out span test  key1=value1", emitted[0].Message)
		assert.Equal(t, facility.LevelError, emitted[0].Level)
		assert.Equal(t, facility.CurrentActivity, emitted[0].Activity)
	})

	t.Run("with span chain", func(t *testing.T) {
		p := setupPipeline(t)
		ctx, span1 := p.tracer.Start(context.Background(), "request", trace.WithAttributes(attribute.String("method", "GET")))
		ctx, span2 := p.tracer.Start(ctx, "query")

		p.logger.InfoContext(ctx, "loaded", "count", 3)
		span2.End()
		span1.End()

		assert.Equal(t, []string{"request{method=GET}: query: loaded  count=3"}, p.recorder.Messages())

		activities := p.recorder.Activities()
		require.Len(t, activities, 2)
		assert.Equal(t, "test::request(method: GET)", activities[0].Name.String())
		assert.Equal(t, "test::query()", activities[1].Name.String())
		assert.Equal(t, activities[0].Handle, activities[1].Parent)
		for _, a := range activities {
			assert.Equal(t, 1, p.recorder.ReleaseCount(a.Handle))
		}
		assert.Equal(t, 0, p.bridge.Stats().LiveActivities)
		assert.Empty(t, p.errs)
	})

	t.Run("with meta attributes", func(t *testing.T) {
		p := setupPipeline(t)
		ctx, span := p.tracer.Start(context.Background(), "span", trace.WithAttributes(attribute.String("log.target", "app")))
		p.logger.InfoContext(ctx, "hello", "log.file", "main.go", "key1", "value1")
		span.End()

		assert.Equal(t, []string{"span: hello  key1=value1"}, p.recorder.Messages())
	})

	t.Run("with span on slog.With and slog.WithGroup", func(t *testing.T) {
		p := setupPipeline(t)
		ctx, span := p.tracer.Start(context.Background(), "span")
		p.logger.With("svc", "api").WithGroup("req").With("id", 1).InfoContext(ctx, "hi", slog.Group("user", slog.String("name", "alice")))
		span.End()

		assert.Equal(t, []string{"span: hi  svc=api req.id=1 req.user.name=alice"}, p.recorder.Messages())
	})

	t.Run("with next handler", func(t *testing.T) {
		buf := bytes.NewBuffer(nil)
		p := setupPipeline(t, WithNext(slog.NewJSONHandler(buf, nil)))
		ctx, span := p.tracer.Start(context.Background(), "span")
		p.logger.InfoContext(ctx, "with next handler", "key1", "value1")
		span.End()

		sc := span.SpanContext()
		assert.Contains(t, buf.String(), `"level":"INFO"`)
		assert.Contains(t, buf.String(), `"msg":"with next handler"`)
		assert.Contains(t, buf.String(), `"key1":"value1"`)
		assert.Contains(t, buf.String(), `"trace_id":"`+sc.TraceID().String()+`"`)
		assert.Contains(t, buf.String(), `"span_id":"`+sc.SpanID().String()+`"`)
		assert.Len(t, p.recorder.Emitted(), 1)
	})

	t.Run("with next handler after close", func(t *testing.T) {
		buf := bytes.NewBuffer(nil)
		p := setupPipeline(t, WithNext(slog.NewJSONHandler(buf, nil)))
		require.NoError(t, p.bridge.Close())

		p.logger.Info("after close")
		assert.Contains(t, buf.String(), `"msg":"after close"`)
		assert.Empty(t, p.recorder.Emitted())
		require.Len(t, p.errs, 1)
		assert.ErrorIs(t, p.errs[0], ErrClosed)

		err := NewHandler(p.bridge).Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "direct", 0))
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("with next handler after fatal", func(t *testing.T) {
		buf := bytes.NewBuffer(nil)
		p := setupPipeline(t, WithNext(slog.NewJSONHandler(buf, nil)))
		fatal := p.bridge.OnClose(spanID(9))
		require.True(t, IsFatal(fatal))

		p.logger.Warn("after fatal")
		assert.Contains(t, buf.String(), `"msg":"after fatal"`)
		assert.Empty(t, p.recorder.Emitted())
		require.Len(t, p.errs, 1)
		assert.Equal(t, fatal, p.errs[0])
	})

	t.Run("with child started after parent ended", func(t *testing.T) {
		p := setupPipeline(t)
		ctx, parent := p.tracer.Start(context.Background(), "request")
		parent.End()

		ctx, child := p.tracer.Start(ctx, "async")
		p.logger.InfoContext(ctx, "inside")
		child.End()
		p.logger.Info("unrelated")

		assert.Equal(t, []string{"async: inside  ", "unrelated  "}, p.recorder.Messages())
		activities := p.recorder.Activities()
		require.Len(t, activities, 2)
		assert.Equal(t, facility.CurrentActivity, activities[1].Parent)
		for _, a := range activities {
			assert.Equal(t, 1, p.recorder.ReleaseCount(a.Handle))
		}
		assert.NoError(t, p.bridge.Err())
		assert.Empty(t, p.errs)
	})

	t.Run("with child outliving parent", func(t *testing.T) {
		p := setupPipeline(t)
		ctx, parent := p.tracer.Start(context.Background(), "request")
		ctx1, first := p.tracer.Start(ctx, "first")
		parent.End()

		ctx2, second := p.tracer.Start(ctx, "second")
		p.logger.InfoContext(ctx1, "one")
		p.logger.InfoContext(ctx2, "two")
		first.End()
		second.End()

		assert.Equal(t, []string{"request: first: one  ", "request: second: two  "}, p.recorder.Messages())
		activities := p.recorder.Activities()
		require.Len(t, activities, 3)
		assert.Equal(t, activities[0].Handle, activities[2].Parent)
		for _, a := range activities {
			assert.Equal(t, 1, p.recorder.ReleaseCount(a.Handle))
		}
		assert.Equal(t, 0, p.bridge.Stats().LiveActivities)
		assert.Empty(t, p.errs)
	})

	t.Run("with bridge level above record", func(t *testing.T) {
		buf := bytes.NewBuffer(nil)
		b, rec := newTestBridge(t, WithLevel(slog.LevelWarn))
		logger := slog.New(NewHandler(b, WithNext(slog.NewJSONHandler(buf, nil))))

		logger.Info("only next")
		assert.Empty(t, rec.Emitted())
		assert.Contains(t, buf.String(), `"msg":"only next"`)

		assert.False(t, NewHandler(b).Enabled(context.Background(), slog.LevelInfo))
		assert.True(t, NewHandler(b).Enabled(context.Background(), slog.LevelError))
	})

	t.Run("with untracked span", func(t *testing.T) {
		p := setupPipeline(t)
		other := sdktrace.NewTracerProvider()
		ctx, span := other.Tracer("other").Start(context.Background(), "elsewhere")
		p.logger.InfoContext(ctx, "untracked")
		span.End()

		assert.Equal(t, []string{"untracked  "}, p.recorder.Messages())
		assert.NoError(t, p.bridge.Err())
	})

	t.Run("with entered scope", func(t *testing.T) {
		p := setupPipeline(t)
		ctx, end := p.bridge.Start(context.Background(), p.tracer, "job", trace.WithAttributes(attribute.Int("id", 7)))
		p.logger.DebugContext(ctx, "working")
		end()

		activities := p.recorder.Activities()
		require.Len(t, activities, 1)
		emitted := p.recorder.Emitted()
		require.Len(t, emitted, 1)
		assert.Equal(t, "job{id=7}: working  ", emitted[0].Message)
		assert.Equal(t, facility.LevelDebug, emitted[0].Level)
		assert.Equal(t, activities[0].Handle, emitted[0].Activity)

		enters, leaves := p.recorder.Scopes()
		assert.Equal(t, 1, enters)
		assert.Equal(t, 1, leaves)
		assert.Equal(t, 1, p.recorder.ReleaseCount(activities[0].Handle))
		assert.Empty(t, p.errs)
	})

	t.Run("with remote parent", func(t *testing.T) {
		p := setupPipeline(t)
		remote := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    trace.TraceID{1},
			SpanID:     trace.SpanID{2},
			TraceFlags: trace.FlagsSampled,
			Remote:     true,
		})
		ctx := trace.ContextWithRemoteSpanContext(context.Background(), remote)
		_, span := p.tracer.Start(ctx, "continued")
		span.End()

		activities := p.recorder.Activities()
		require.Len(t, activities, 1)
		assert.Equal(t, facility.CurrentActivity, activities[0].Parent)
		assert.Empty(t, p.errs)
	})
}

func TestSpanProcessor(t *testing.T) {
	t.Run("errors go to the handler", func(t *testing.T) {
		var errs []error
		b, _ := newTestBridge(t, WithErrorHandler(func(err error) {
			errs = append(errs, err)
		}))
		p := NewSpanProcessor(b)

		stub := tracetest.SpanStub{
			Name: "never started",
			SpanContext: trace.NewSpanContext(trace.SpanContextConfig{
				TraceID: trace.TraceID{1},
				SpanID:  trace.SpanID{3},
			}),
		}
		p.OnEnd(stub.Snapshot())

		require.Len(t, errs, 1)
		assert.ErrorIs(t, errs[0], ErrNoActivity)
		assert.True(t, IsFatal(errs[0]))
	})

	t.Run("shutdown", func(t *testing.T) {
		b, rec := newTestBridge(t)
		tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(NewSpanProcessor(b)))
		require.NoError(t, tp.Shutdown(context.Background()))
		assert.NoError(t, b.Close())
		assert.Equal(t, 1, rec.ReleaseCount(rec.Loggers()[0].Handle))
	})

	t.Run("shutdown closes bridge", func(t *testing.T) {
		b, rec := newTestBridge(t)
		tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(NewSpanProcessor(b, WithShutdownClose())))
		_, span := tp.Tracer("test").Start(context.Background(), "open")

		require.NoError(t, tp.Shutdown(context.Background()))
		assert.ErrorIs(t, b.Close(), ErrClosed)
		assert.Equal(t, 1, rec.ReleaseCount(rec.Activities()[0].Handle))
		assert.Equal(t, 1, rec.ReleaseCount(rec.Loggers()[0].Handle))

		span.End()
	})

	t.Run("force flush", func(t *testing.T) {
		b, _ := newTestBridge(t)
		assert.NoError(t, NewSpanProcessor(b).ForceFlush(context.Background()))
	})
}
