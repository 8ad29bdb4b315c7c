/*
 * Copyright (c) 2024 yakumioto <yaku.mioto@gmail.com>
 * All rights reserved.
 */

package otelactivity

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace"

	"github.com/yakumioto/otelactivity/facility"
)

// entered is one span scope entered by a logical thread. Scopes form an
// immutable stack carried by the context, so goroutines never share one.
type entered struct {
	activity *activity
	state    *facility.ScopeState
	outer    *entered
}

type enteredKey struct{}

func rawEnteredFromContext(ctx context.Context) *entered {
	if ctx == nil {
		return nil
	}
	e, _ := ctx.Value(enteredKey{}).(*entered)
	return e
}

// enteredFromContext returns the innermost scope in ctx that is still entered.
func enteredFromContext(ctx context.Context) *entered {
	for e := rawEnteredFromContext(ctx); e != nil; e = e.outer {
		if !e.state.Left() {
			return e
		}
	}
	return nil
}

// OnEnter enters the activity of span id. The returned context carries the
// new scope and must be passed to the matching OnExit.
func (b *Bridge) OnEnter(ctx context.Context, id trace.SpanID) (context.Context, error) {
	if err := b.check(); err != nil {
		return ctx, err
	}

	a, ok := b.spans.get(id)
	if !ok {
		return ctx, b.fail(consistencyError("enter", errors.Wrapf(ErrNoActivity, "span %s", id)))
	}

	state := &facility.ScopeState{Outer: facility.ScopeFromContext(ctx)}
	b.facility.ScopeEnter(a.handle, state)

	ctx = facility.ContextWithScope(ctx, state)
	return context.WithValue(ctx, enteredKey{}, &entered{
		activity: a,
		state:    state,
		outer:    rawEnteredFromContext(ctx),
	}), nil
}

// OnExit leaves the innermost scope entered in ctx, which must belong to id.
func (b *Bridge) OnExit(ctx context.Context, id trace.SpanID) error {
	if err := b.check(); err != nil {
		return err
	}

	e := enteredFromContext(ctx)
	if e == nil {
		return b.fail(consistencyError("exit", errors.Wrapf(ErrScopeNotEntered, "span %s", id)))
	}
	if e.activity.id != id {
		return b.fail(consistencyError("exit", errors.Wrapf(ErrScopeMismatch, "exit %s, innermost %s", id, e.activity.id)))
	}
	if !e.state.MarkLeft() {
		return b.fail(consistencyError("exit", errors.Wrapf(ErrScopeNotEntered, "span %s already exited", id)))
	}

	b.facility.ScopeLeave(e.state)
	return nil
}

// Enter enters the span that is active in ctx. It returns the context to do
// the span's work in and the function that exits the scope again. When ctx
// has no span, Enter does nothing.
func (b *Bridge) Enter(ctx context.Context) (context.Context, func(), error) {
	id := trace.SpanFromContext(ctx).SpanContext().SpanID()
	if !id.IsValid() {
		return ctx, func() {}, nil
	}

	scoped, err := b.OnEnter(ctx, id)
	if err != nil {
		return ctx, func() {}, err
	}
	return scoped, func() {
		b.handleError(b.OnExit(scoped, id))
	}, nil
}

// Start starts a span on tracer, enters it and returns the function that exits
// and ends it. The tracer's provider must have this bridge's SpanProcessor
// registered. Errors go to the bridge's error handler.
func (b *Bridge) Start(ctx context.Context, tracer trace.Tracer, name string, opts ...trace.SpanStartOption) (context.Context, func()) {
	ctx, span := tracer.Start(ctx, name, opts...)
	scoped, exit, err := b.Enter(ctx)
	if err != nil {
		b.handleError(err)
	}
	return scoped, func() {
		exit()
		span.End()
	}
}
