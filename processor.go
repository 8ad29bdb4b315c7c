/*
 * Copyright (c) 2024 yakumioto <yaku.mioto@gmail.com>
 * All rights reserved.
 */

package otelactivity

import (
	"context"

	"github.com/pkg/errors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

var _ sdktrace.SpanProcessor = (*SpanProcessor)(nil)

// ProcessorOptions is a functional option for the SpanProcessor.
type ProcessorOptions func(*SpanProcessor)

// WithShutdownClose makes Shutdown close the bridge.
func WithShutdownClose() ProcessorOptions {
	return func(p *SpanProcessor) {
		p.closeOnShutdown = true
	}
}

// SpanProcessor feeds the span lifecycle of an OpenTelemetry TracerProvider
// into a Bridge: started spans get an activity and ended spans release it.
type SpanProcessor struct {
	bridge          *Bridge
	closeOnShutdown bool
}

// NewSpanProcessor creates a SpanProcessor for b.
func NewSpanProcessor(b *Bridge, opts ...ProcessorOptions) *SpanProcessor {
	p := &SpanProcessor{bridge: b}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OnStart creates the activity of s. Remote and unsampled parents never reach
// the processor, so their children become roots. So do children of a parent
// that has already ended and been released.
func (p *SpanProcessor) OnStart(_ context.Context, s sdktrace.ReadWriteSpan) {
	var parent trace.SpanID
	if sc := s.Parent(); sc.IsValid() && !sc.IsRemote() && sc.IsSampled() {
		parent = sc.SpanID()
	}

	p.bridge.handleError(p.bridge.OnNewSpan(SpanStart{
		ID:         s.SpanContext().SpanID(),
		Parent:     parent,
		Target:     s.InstrumentationScope().Name,
		Name:       s.Name(),
		Attributes: s.Attributes(),
		OrphanRoot: true,
	}))
}

// OnEnd closes the activity of s. It is released once its children have ended.
func (p *SpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	p.bridge.handleError(p.bridge.OnClose(s.SpanContext().SpanID()))
}

func (p *SpanProcessor) Shutdown(_ context.Context) error {
	if !p.closeOnShutdown {
		return nil
	}
	if err := p.bridge.Close(); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}

func (p *SpanProcessor) ForceFlush(_ context.Context) error {
	return nil
}
