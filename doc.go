/*
Package otelactivity projects OpenTelemetry spans and slog records onto an
activity based logging facility, the model used by Apple's os_log: opaque
hierarchical activities that can be entered and left, plus a flat leveled
text log call.

# Core Concepts

A Bridge listens to the span lifecycle and keeps one native activity per live
span. The activity is created as a child of the parent span's activity, named
after the span's signature, and released when the span ends. Records logged
inside a span are rendered into a single line that carries the whole span
chain:

	request{method=GET}: db.query{table=users}: rows loaded  count=3

The native facility is pluggable through facility.Facility. The otelfacility
package maps activities back onto OpenTelemetry spans, and facility.Recorder
keeps everything in memory for tests.

# Key Features

Span Lifecycle:
  - One activity per span, created once and released exactly once
  - Activity names interned by signature, "target::name(key: value)"
  - Scope enter and exit carried by the context, one stack per goroutine

Message Rendering:
  - Span chain rendered root to leaf with its attributes
  - The record message first, followed by the remaining attributes
  - Attributes prefixed with "log." are never rendered

Severity:
  - Trace and debug map to the native debug level
  - Info maps to info
  - Warn and error map to the native error level

# Basic Usage

	b, err := otelactivity.New(otelfacility.New(), "com.example.app", "network")
	if err != nil {
	    return err
	}
	defer b.Close()

	tp := sdktrace.NewTracerProvider(
	    sdktrace.WithSpanProcessor(otelactivity.NewSpanProcessor(b)),
	)
	logger := slog.New(otelactivity.NewHandler(b))

	ctx, end := b.Start(ctx, tp.Tracer("app"), "request",
	    trace.WithAttributes(attribute.String("method", "GET")))
	defer end()

	logger.InfoContext(ctx, "handled", "status", 200)

# Error Handling

Text bound for the facility that contains a NUL byte, and span callbacks that
arrive out of lifecycle order, are fatal. The Bridge returns a *FatalError,
remembers it, and refuses further work. Callbacks that cannot return errors
(SpanProcessor.OnStart and OnEnd, the exit function returned by Enter) report
them to otel.Handle unless WithErrorHandler is given.

# Thread Safety

The Bridge is safe for concurrent use. Activity names are interned under a
single lock; span bookkeeping is guarded by a read/write lock. Each call to
OnEnter allocates its own scope state and returns it in a derived context, so
goroutines never share an enter/exit stack.
*/
package otelactivity
