package middleware

import (
	"context"
	"iter"
	"time"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/observability"
	"github.com/aretw0/lattice/pkg/ports"
)

type instrumentationMiddleware struct {
	next    ports.Store
	metrics *observability.Metrics
}

// NewInstrumentationMiddleware records the latency and outcome of every store
// call. Queries are timed over the whole iteration.
func NewInstrumentationMiddleware(metrics *observability.Metrics) Middleware {
	return func(next ports.Store) ports.Store {
		return &instrumentationMiddleware{next: next, metrics: metrics}
	}
}

func (m *instrumentationMiddleware) observe(op string, start time.Time, err error) {
	m.metrics.StoreOp(op, time.Since(start), err)
}

func (m *instrumentationMiddleware) Load(ctx context.Context, id string) (domain.Record, error) {
	start := time.Now()
	rec, err := m.next.Load(ctx, id)
	m.observe("load", start, err)
	return rec, err
}

func (m *instrumentationMiddleware) Create(ctx context.Context, rec domain.Record) error {
	start := time.Now()
	err := m.next.Create(ctx, rec)
	m.observe("create", start, err)
	return err
}

func (m *instrumentationMiddleware) Save(ctx context.Context, rec domain.Record) (int64, error) {
	start := time.Now()
	v, err := m.next.Save(ctx, rec)
	m.observe("save", start, err)
	return v, err
}

func (m *instrumentationMiddleware) Delete(ctx context.Context, id string, expectedVersion int64) error {
	start := time.Now()
	err := m.next.Delete(ctx, id, expectedVersion)
	m.observe("delete", start, err)
	return err
}

func (m *instrumentationMiddleware) QueryExpiredBefore(ctx context.Context, ts time.Time) iter.Seq2[domain.RecordRef, error] {
	return m.timed("query_expired", m.next.QueryExpiredBefore(ctx, ts))
}

func (m *instrumentationMiddleware) QueryOwnedBy(ctx context.Context, nodeIDs []string) iter.Seq2[domain.RecordRef, error] {
	return m.timed("query_owned", m.next.QueryOwnedBy(ctx, nodeIDs))
}

func (m *instrumentationMiddleware) ListOwners(ctx context.Context) ([]string, error) {
	start := time.Now()
	owners, err := m.next.ListOwners(ctx)
	m.observe("list_owners", start, err)
	return owners, err
}

func (m *instrumentationMiddleware) timed(op string, seq iter.Seq2[domain.RecordRef, error]) iter.Seq2[domain.RecordRef, error] {
	return func(yield func(domain.RecordRef, error) bool) {
		start := time.Now()
		var failure error
		defer func() { m.observe(op, start, failure) }()

		for ref, err := range seq {
			if err != nil {
				failure = err
			}
			if !yield(ref, err) {
				return
			}
		}
	}
}
