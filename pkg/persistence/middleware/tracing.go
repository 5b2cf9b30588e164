package middleware

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/observability"
	"github.com/aretw0/lattice/pkg/ports"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Default tracer name for store spans.
const defaultTracerName = "github.com/aretw0/lattice"

// TracingOption configures the tracing middleware.
type TracingOption func(*tracingMiddleware)

// WithTracer replaces the tracer resolved from the global provider.
func WithTracer(tracer trace.Tracer) TracingOption {
	return func(m *tracingMiddleware) {
		m.tracer = tracer
	}
}

type tracingMiddleware struct {
	next   ports.Store
	tracer trace.Tracer
}

// NewTracingMiddleware opens an OpenTelemetry client span around every store
// call. Queries span the whole iteration and record how many refs were yielded.
//
// The tracer uses the global OpenTelemetry tracer provider unless WithTracer
// is given; without a configured provider spans are no-ops.
func NewTracingMiddleware(opts ...TracingOption) Middleware {
	return func(next ports.Store) ports.Store {
		m := &tracingMiddleware{next: next, tracer: otel.Tracer(defaultTracerName)}
		for _, opt := range opts {
			opt(m)
		}
		return m
	}
}

func (m *tracingMiddleware) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "lattice.store."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
		trace.WithTimestamp(time.Now()),
	)
}

// finish records the outcome. Races another node already won are not errors.
func finish(span trace.Span, err error) {
	span.SetAttributes(attribute.String("lattice.outcome", observability.Outcome(err)))
	if err != nil && !domain.IsBenignRace(err) && !errors.Is(err, domain.ErrAlreadyExists) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func sessionID(id string) attribute.KeyValue {
	return attribute.String("lattice.session_id", id)
}

func (m *tracingMiddleware) Load(ctx context.Context, id string) (domain.Record, error) {
	ctx, span := m.start(ctx, "load", sessionID(id))
	rec, err := m.next.Load(ctx, id)
	if err == nil {
		span.SetAttributes(attribute.Int64("lattice.version", rec.Version))
	}
	finish(span, err)
	return rec, err
}

func (m *tracingMiddleware) Create(ctx context.Context, rec domain.Record) error {
	ctx, span := m.start(ctx, "create", sessionID(rec.ID), attribute.String("lattice.node", rec.LastNode))
	err := m.next.Create(ctx, rec)
	finish(span, err)
	return err
}

func (m *tracingMiddleware) Save(ctx context.Context, rec domain.Record) (int64, error) {
	ctx, span := m.start(ctx, "save",
		sessionID(rec.ID),
		attribute.String("lattice.node", rec.LastNode),
		attribute.Int64("lattice.expected_version", rec.Version),
	)
	v, err := m.next.Save(ctx, rec)
	if err == nil {
		span.SetAttributes(attribute.Int64("lattice.version", v))
	}
	finish(span, err)
	return v, err
}

func (m *tracingMiddleware) Delete(ctx context.Context, id string, expectedVersion int64) error {
	ctx, span := m.start(ctx, "delete", sessionID(id), attribute.Int64("lattice.expected_version", expectedVersion))
	err := m.next.Delete(ctx, id, expectedVersion)
	finish(span, err)
	return err
}

func (m *tracingMiddleware) QueryExpiredBefore(ctx context.Context, ts time.Time) iter.Seq2[domain.RecordRef, error] {
	return m.traced(ctx, "query_expired", func(ctx context.Context) iter.Seq2[domain.RecordRef, error] {
		return m.next.QueryExpiredBefore(ctx, ts)
	}, attribute.Int64("lattice.before_ms", ts.UnixMilli()))
}

func (m *tracingMiddleware) QueryOwnedBy(ctx context.Context, nodeIDs []string) iter.Seq2[domain.RecordRef, error] {
	return m.traced(ctx, "query_owned", func(ctx context.Context) iter.Seq2[domain.RecordRef, error] {
		return m.next.QueryOwnedBy(ctx, nodeIDs)
	}, attribute.StringSlice("lattice.owners", nodeIDs))
}

func (m *tracingMiddleware) ListOwners(ctx context.Context) ([]string, error) {
	ctx, span := m.start(ctx, "list_owners")
	owners, err := m.next.ListOwners(ctx)
	span.SetAttributes(attribute.Int("lattice.owners", len(owners)))
	finish(span, err)
	return owners, err
}

// traced starts the span when iteration begins, so an unconsumed sequence
// leaves no span behind.
func (m *tracingMiddleware) traced(ctx context.Context, op string, open func(context.Context) iter.Seq2[domain.RecordRef, error], attrs ...attribute.KeyValue) iter.Seq2[domain.RecordRef, error] {
	return func(yield func(domain.RecordRef, error) bool) {
		ctx, span := m.start(ctx, op, attrs...)
		var (
			failure error
			n       int
		)
		defer func() {
			span.SetAttributes(attribute.Int("lattice.refs", n))
			finish(span, failure)
		}()

		for ref, err := range open(ctx) {
			if err != nil {
				failure = err
			} else {
				n++
			}
			if !yield(ref, err) {
				return
			}
		}
	}
}
