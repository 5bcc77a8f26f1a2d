package falkordb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/zero-day-ai/falkordb-go"

// instrumentation is a go-redis hook that traces and counts commands, logs
// them at debug level and forwards them to the configured EventListener.
type instrumentation struct {
	tracer   trace.Tracer
	commands metric.Int64Counter
	duration metric.Float64Histogram
	logger   *slog.Logger
	listener EventListener
}

var _ redis.Hook = (*instrumentation)(nil)

func newInstrumentation(o *clientOptions, listener EventListener) (*instrumentation, error) {
	meter := o.meterProvider.Meter(instrumentationName, metric.WithInstrumentationVersion(Version))

	commands, err := meter.Int64Counter(
		"falkordb.commands",
		metric.WithDescription("Number of commands sent to FalkorDB"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create command counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		"falkordb.command.duration",
		metric.WithDescription("Command round-trip duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	return &instrumentation{
		tracer:   o.tracerProvider.Tracer(instrumentationName, trace.WithInstrumentationVersion(Version)),
		commands: commands,
		duration: duration,
		logger:   o.logger,
		listener: listener,
	}, nil
}

func (h *instrumentation) emit(ctx context.Context, ev Event) {
	if h.listener != nil {
		h.listener.OnEvent(ctx, ev)
	}
}

// DialHook implements redis.Hook.
func (h *instrumentation) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		start := time.Now()
		conn, err := next(ctx, network, addr)
		elapsed := time.Since(start)

		if err != nil {
			h.logger.DebugContext(ctx, "dial failed", "network", network, "addr", addr, "error", err)
			h.emit(ctx, Event{Kind: EventConnectFailed, Addr: addr, Duration: elapsed, Err: err})
			return nil, err
		}

		h.logger.DebugContext(ctx, "connection established", "network", network, "addr", addr, "duration", elapsed)
		h.emit(ctx, Event{Kind: EventConnect, Addr: addr, Duration: elapsed})
		return conn, nil
	}
}

// ProcessHook implements redis.Hook.
func (h *instrumentation) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		op := strings.ToUpper(cmd.Name())
		attrs := commandAttributes(op, cmd.Args())

		ctx, span := h.tracer.Start(ctx, "falkordb.command",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		start := time.Now()
		err := next(ctx, cmd)
		elapsed := time.Since(start)

		h.record(ctx, span, op, attrs, elapsed, err)
		return err
	}
}

// ProcessPipelineHook implements redis.Hook. Each queued command is recorded
// on its own; the span covers the whole round trip.
func (h *instrumentation) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		ctx, span := h.tracer.Start(ctx, "falkordb.pipeline",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("db.system", "falkordb"),
				attribute.Int("db.falkordb.pipeline_length", len(cmds)),
			),
		)
		defer span.End()

		start := time.Now()
		err := next(ctx, cmds)
		elapsed := time.Since(start)

		for _, cmd := range cmds {
			op := strings.ToUpper(cmd.Name())
			h.record(ctx, nil, op, commandAttributes(op, cmd.Args()), elapsed, cmd.Err())
		}
		if isFailure(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
}

func (h *instrumentation) record(ctx context.Context, span trace.Span, op string, attrs []attribute.KeyValue, elapsed time.Duration, err error) {
	failed := isFailure(err)
	status := "ok"
	if failed {
		status = "error"
	}

	metricAttrs := metric.WithAttributes(append(attrs, attribute.String("status", status))...)
	h.commands.Add(ctx, 1, metricAttrs)
	h.duration.Record(ctx, float64(elapsed.Microseconds())/1000.0, metricAttrs)

	if span != nil {
		span.SetAttributes(attribute.Int64("db.falkordb.duration_ms", elapsed.Milliseconds()))
		if failed {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	if failed {
		h.logger.DebugContext(ctx, "command failed", "command", op, "duration", elapsed, "error", err)
		h.emit(ctx, Event{Kind: EventCommandFailed, Command: op, Duration: elapsed, Err: err})
		return
	}
	h.logger.DebugContext(ctx, "command completed", "command", op, "duration", elapsed)
	h.emit(ctx, Event{Kind: EventCommand, Command: op, Duration: elapsed})
}

// commandAttributes describes a command without recording its arguments,
// which may hold query text and parameters.
func commandAttributes(op string, args []any) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("db.system", "falkordb"),
		attribute.String("db.operation", op),
	}
	if strings.HasPrefix(op, "GRAPH.") && len(args) > 1 {
		if graph, ok := args[1].(string); ok && op != "GRAPH.CONFIG" && op != "GRAPH.LIST" {
			attrs = append(attrs, attribute.String("db.falkordb.graph", graph))
		}
	}
	return attrs
}

// isFailure reports whether err is a real failure. A nil reply is not.
func isFailure(err error) bool {
	return err != nil && !errors.Is(err, redis.Nil)
}

// dialHook reports dials only. It is attached to per-node clients of a
// cluster, where commands are already recorded at the cluster level.
type dialHook struct {
	*instrumentation
}

func (h dialHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return next
}

func (h dialHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}
