/*
 * Copyright (c) 2024 yakumioto <yaku.mioto@gmail.com>
 * All rights reserved.
 */

// Package otelfacility implements facility.Facility on top of OpenTelemetry.
// Activities become spans, scopes are carried by the context, and emitted
// messages become span events on the innermost entered activity.
//
// The TracerProvider given to this package must not have the bridge's own
// SpanProcessor registered, otherwise every activity span would be fed back
// into the bridge as a new span.
package otelfacility

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yakumioto/otelactivity/facility"
)

const instrumentationName = "github.com/yakumioto/otelactivity/otelfacility"

var _ facility.Facility = &Facility{}

// Options is a functional option for the Facility.
type Options func(*Facility)

// WithTracerProvider sets the provider activity spans are created on.
func WithTracerProvider(provider trace.TracerProvider) Options {
	return func(f *Facility) {
		f.provider = provider
	}
}

// WithFallback sets the logger that receives messages emitted outside any
// activity.
func WithFallback(logger *slog.Logger) Options {
	return func(f *Facility) {
		f.fallback = logger
	}
}

type logger struct {
	subsystem string
	category  string
}

type activity struct {
	ctx  context.Context
	span trace.Span
}

// Facility is a facility.Facility backed by OpenTelemetry spans.
type Facility struct {
	provider trace.TracerProvider
	tracer   trace.Tracer
	fallback *slog.Logger

	mu         sync.Mutex
	next       uint64
	loggers    map[facility.Logger]logger
	activities map[facility.Activity]activity
}

// New creates a Facility.
func New(opts ...Options) *Facility {
	f := &Facility{
		loggers:    make(map[facility.Logger]logger),
		activities: make(map[facility.Activity]activity),
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.provider == nil {
		f.provider = otel.GetTracerProvider()
	}
	if f.fallback == nil {
		f.fallback = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	f.tracer = f.provider.Tracer(instrumentationName)

	return f
}

func (f *Facility) CreateLogger(subsystem, category string) (facility.Logger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.next++
	l := facility.Logger(f.next)
	f.loggers[l] = logger{subsystem: subsystem, category: category}
	return l, nil
}

func (f *Facility) CreateActivity(name *facility.Name, parent facility.Activity, flags facility.ActivityFlag) (facility.Activity, error) {
	ctx := context.Background()
	var opts []trace.SpanStartOption

	f.mu.Lock()
	if parent != facility.CurrentActivity && parent != facility.NoActivity {
		p, ok := f.activities[parent]
		if !ok {
			f.mu.Unlock()
			return facility.NoActivity, errors.Errorf("parent activity %d is not live", parent)
		}
		ctx = p.ctx
	}
	f.next++
	a := facility.Activity(f.next)
	f.mu.Unlock()

	if flags&facility.FlagDetached != 0 {
		opts = append(opts, trace.WithNewRoot())
	}
	ctx, span := f.tracer.Start(ctx, name.String(), opts...)

	f.mu.Lock()
	f.activities[a] = activity{ctx: ctx, span: span}
	f.mu.Unlock()

	return a, nil
}

func (f *Facility) Release(h facility.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch h := h.(type) {
	case facility.Logger:
		if _, ok := f.loggers[h]; !ok {
			return errors.Errorf("release of unknown logger %d", h)
		}
		delete(f.loggers, h)
	case facility.Activity:
		a, ok := f.activities[h]
		if !ok {
			return errors.Errorf("release of unknown activity %d", h)
		}
		delete(f.activities, h)
		a.span.End()
	default:
		return errors.Errorf("release of unsupported handle %T", h)
	}
	return nil
}

func (f *Facility) ScopeEnter(a facility.Activity, state *facility.ScopeState) {
	state.Previous = facility.CurrentActivity
	if state.Outer != nil {
		state.Previous = state.Outer.Activity
	}
	state.Activity = a
}

// ScopeLeave has nothing to undo: the scope lives in the caller's context.
func (f *Facility) ScopeLeave(_ *facility.ScopeState) {}

func (f *Facility) Emit(ctx context.Context, l facility.Logger, level facility.Level, message string) {
	current := facility.CurrentFromContext(ctx)

	f.mu.Lock()
	lg := f.loggers[l]
	a, ok := f.activities[current]
	f.mu.Unlock()

	if !ok {
		f.fallback.Log(ctx, slogLevel(level), message,
			slog.String("subsystem", lg.subsystem),
			slog.String("category", lg.category),
		)
		return
	}

	a.span.AddEvent(level.String(), trace.WithAttributes(
		attribute.String("message", message),
		attribute.String("subsystem", lg.subsystem),
		attribute.String("category", lg.category),
	))

	switch level {
	case facility.LevelError, facility.LevelFault:
		a.span.SetStatus(codes.Error, message)
	}
}

func slogLevel(level facility.Level) slog.Level {
	switch level {
	case facility.LevelDebug:
		return slog.LevelDebug
	case facility.LevelInfo, facility.LevelDefault:
		return slog.LevelInfo
	default:
		return slog.LevelError
	}
}
