/*
 * Copyright (c) 2024 yakumioto <yaku.mioto@gmail.com>
 * All rights reserved.
 */

package otelactivity

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yakumioto/otelactivity/facility"
)

// Option is a functional option for the Bridge.
type Option func(*Bridge)

// WithInterner sets the Interner used to name activities.
func WithInterner(interner *Interner) Option {
	return func(b *Bridge) {
		b.interner = interner
	}
}

// WithLevel sets the minimum level of events that are emitted.
func WithLevel(level slog.Leveler) Option {
	return func(b *Bridge) {
		b.level = level
	}
}

// WithErrorHandler sets the function that receives errors from callbacks that
// cannot return them, such as SpanProcessor.OnStart. The default is otel.Handle.
func WithErrorHandler(handler func(error)) Option {
	return func(b *Bridge) {
		b.errorHandler = handler
	}
}

// SpanStart describes a newly created span.
type SpanStart struct {
	ID trace.SpanID
	// Parent is the local parent span. An invalid id makes a root span.
	Parent trace.SpanID
	// Target is the qualified scope of the span, usually the tracer name.
	Target     string
	Name       string
	Attributes []attribute.KeyValue
	// OrphanRoot makes the span a root when Parent is set but no longer has
	// an activity, instead of failing. OpenTelemetry lets a child start after
	// its parent has ended.
	OrphanRoot bool
}

// Event is a point-in-time record emitted within the scope of a span.
type Event struct {
	Level slog.Level
	// Span is the span the event belongs to. When it is invalid the innermost
	// span entered in the event's context is used, if any.
	Span       trace.SpanID
	Attributes *AttributeMap
}

// Stats is a snapshot of a Bridge's bookkeeping.
type Stats struct {
	LiveActivities int
	InternedNames  int
}

// Bridge projects span and event lifecycle callbacks onto a facility. It owns
// one native logger and the activity of every live span it has seen.
type Bridge struct {
	facility     facility.Facility
	interner     *Interner
	logger       facility.Logger
	level        slog.Leveler
	errorHandler func(error)

	spans  *registry
	closed atomic.Bool
	fatal  atomic.Pointer[FatalError]
}

// New creates a Bridge logging to subsystem and category on f.
func New(f facility.Facility, subsystem, category string, opts ...Option) (*Bridge, error) {
	for _, id := range []string{subsystem, category} {
		if id == "" {
			return nil, encodingError("new", ErrEmptyIdentifier)
		}
		if strings.IndexByte(id, 0) >= 0 {
			return nil, encodingError("new", errors.Wrapf(ErrNulByte, "identifier %q", id))
		}
	}

	b := &Bridge{
		facility:     f,
		interner:     SharedInterner(),
		level:        LevelTrace,
		errorHandler: otel.Handle,
		spans:        newRegistry(),
	}
	for _, opt := range opts {
		opt(b)
	}

	logger, err := f.CreateLogger(subsystem, category)
	if err != nil {
		return nil, errors.Wrapf(err, "create logger %s/%s", subsystem, category)
	}
	b.logger = logger

	return b, nil
}

// Err returns the fatal error that stopped the bridge, if any.
func (b *Bridge) Err() error {
	if err := b.fatal.Load(); err != nil {
		return err
	}
	return nil
}

// Enabled reports whether events at level are emitted.
func (b *Bridge) Enabled(level slog.Level) bool {
	return level >= b.level.Level()
}

// Stats returns the current bookkeeping counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		LiveActivities: b.spans.len(),
		InternedNames:  b.interner.Len(),
	}
}

// fail records err as the bridge's fatal error and returns it.
func (b *Bridge) fail(err *FatalError) error {
	b.fatal.CompareAndSwap(nil, err)
	return err
}

// failOn records err when it is fatal and returns it.
func (b *Bridge) failOn(err error) error {
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return b.fail(fatal)
	}
	return err
}

func (b *Bridge) check() error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := b.fatal.Load(); err != nil {
		return err
	}
	return nil
}

func (b *Bridge) handleError(err error) {
	if err != nil && b.errorHandler != nil {
		b.errorHandler(err)
	}
}

// OnNewSpan creates the activity for a new span. Calling it again for a span
// that already has an activity does nothing.
func (b *Bridge) OnNewSpan(s SpanStart) error {
	if err := b.check(); err != nil {
		return err
	}

	err := b.spans.create(s, func(parent *activity) (*activity, error) {
		parentHandle := facility.CurrentActivity
		if parent != nil {
			parentHandle = parent.handle
		}

		attrs := CollectAttributes(s.Attributes)
		name, err := b.interner.Intern(Signature(s.Target, s.Name, attrs))
		if err != nil {
			return nil, err
		}

		handle, err := b.facility.CreateActivity(name, parentHandle, facility.FlagDefault)
		if err != nil {
			return nil, consistencyError("new span", errors.Wrapf(err, "create activity for span %s", s.ID))
		}

		return &activity{
			id:         s.ID,
			parent:     parent,
			handle:     handle,
			name:       s.Name,
			attributes: attrs,
		}, nil
	})
	return b.failOn(err)
}

// OnClose closes the activity of a span. The native activity is released once
// the span and all of its children have closed.
func (b *Bridge) OnClose(id trace.SpanID) error {
	if err := b.check(); err != nil {
		return err
	}

	done, err := b.spans.close(id)
	if err != nil {
		return b.failOn(err)
	}
	for _, a := range done {
		if err := a.release(b.facility); err != nil {
			if !IsFatal(err) {
				err = consistencyError("close", errors.Wrapf(err, "release activity of span %s", a.id))
			}
			return b.failOn(err)
		}
	}
	return nil
}

// OnEvent renders ev with its enclosing span chain and emits it.
func (b *Bridge) OnEvent(ctx context.Context, ev Event) error {
	if err := b.check(); err != nil {
		return err
	}
	if !b.Enabled(ev.Level) {
		return nil
	}

	var chain []*activity
	if ev.Span.IsValid() {
		a, ok := b.spans.get(ev.Span)
		if !ok {
			return b.fail(consistencyError("event", errors.Wrapf(ErrNoActivity, "span %s", ev.Span)))
		}
		chain = a.chain()
	} else if s := enteredFromContext(ctx); s != nil {
		chain = s.activity.chain()
	}

	attrs := NewAttributeMap()
	if ev.Attributes != nil {
		attrs = ev.Attributes.Clone()
	}

	message, err := renderMessage(chain, attrs)
	if err != nil {
		return b.failOn(err)
	}

	b.facility.Emit(ctx, b.logger, NativeLevel(ev.Level), message)
	return nil
}

// Tracks reports whether id has a live activity.
func (b *Bridge) Tracks(id trace.SpanID) bool {
	_, ok := b.spans.get(id)
	return ok
}

// Close releases the activities that are still live and then the logger.
// Calling Close again returns ErrClosed.
func (b *Bridge) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	var first error
	for _, a := range b.spans.drain() {
		if err := a.release(b.facility); err != nil && first == nil {
			first = errors.Wrapf(err, "release activity of span %s", a.id)
		}
	}
	if err := b.facility.Release(b.logger); err != nil && first == nil {
		first = errors.Wrap(err, "release logger")
	}
	return first
}
