package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/waggle-sh/waggle/internal/store"
)

const storeScopeName = "github.com/waggle-sh/waggle/store"

// instrumentedDB wraps a store.DB with OTel tracing and metrics. Every
// statement execution gets a span and is counted in waggle.store.* metrics.
type instrumentedDB struct {
	inner  store.DB
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapDB returns db decorated with OTel instrumentation. When telemetry is
// disabled, db is returned as-is with zero overhead.
func WrapDB(db store.DB) store.DB {
	if !Enabled() {
		return db
	}
	m := Meter(storeScopeName)
	ops, _ := m.Int64Counter("waggle.store.operations",
		metric.WithDescription("Total store statements executed"),
	)
	dur, _ := m.Float64Histogram("waggle.store.operation.duration",
		metric.WithDescription("Store statement duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("waggle.store.errors",
		metric.WithDescription("Total store statement errors"),
	)
	return &instrumentedDB{
		inner:  db,
		tracer: Tracer(storeScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

func (d *instrumentedDB) op(ctx context.Context, name string) (context.Context, trace.Span, time.Time) {
	ctx, span := d.tracer.Start(ctx, "store."+name,
		trace.WithAttributes(attribute.String("db.operation", name)),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	d.ops.Add(ctx, 1, metric.WithAttributes(attribute.String("db.operation", name)))
	return ctx, span, time.Now()
}

func (d *instrumentedDB) done(ctx context.Context, span trace.Span, start time.Time, err error) {
	d.dur.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.errs.Add(ctx, 1)
	}
	span.End()
}

func (d *instrumentedDB) Prepare(query string) store.Statement {
	return &instrumentedStatement{db: d, inner: d.inner.Prepare(query)}
}

func (d *instrumentedDB) Exec(ctx context.Context, query string) error {
	ctx, span, t := d.op(ctx, "Exec")
	err := d.inner.Exec(ctx, query)
	d.done(ctx, span, t, err)
	return err
}

func (d *instrumentedDB) Batch(ctx context.Context, stmts []store.Statement) ([]store.Result, error) {
	ctx, span, t := d.op(ctx, "Batch")
	span.SetAttributes(attribute.Int("db.statement.count", len(stmts)))
	results, err := d.inner.Batch(ctx, unwrap(stmts))
	d.done(ctx, span, t, err)
	return results, err
}

func (d *instrumentedDB) Close() error {
	return d.inner.Close()
}

// instrumentedStatement traces each execution of one statement.
type instrumentedStatement struct {
	db    *instrumentedDB
	inner store.Statement
}

func (s *instrumentedStatement) Bind(args ...any) store.Statement {
	return &instrumentedStatement{db: s.db, inner: s.inner.Bind(args...)}
}

func (s *instrumentedStatement) Run(ctx context.Context) (store.Result, error) {
	ctx, span, t := s.db.op(ctx, "Run")
	res, err := s.inner.Run(ctx)
	s.db.done(ctx, span, t, err)
	return res, err
}

func (s *instrumentedStatement) First(ctx context.Context) (store.Row, error) {
	ctx, span, t := s.db.op(ctx, "First")
	row, err := s.inner.First(ctx)
	s.db.done(ctx, span, t, err)
	return row, err
}

func (s *instrumentedStatement) All(ctx context.Context) ([]store.Row, error) {
	ctx, span, t := s.db.op(ctx, "All")
	rows, err := s.inner.All(ctx)
	if err == nil {
		span.SetAttributes(attribute.Int("db.result.count", len(rows)))
	}
	s.db.done(ctx, span, t, err)
	return rows, err
}

// unwrap strips instrumentation so the underlying adapter sees its own
// statement type inside Batch.
func unwrap(stmts []store.Statement) []store.Statement {
	out := make([]store.Statement, len(stmts))
	for i, st := range stmts {
		if is, ok := st.(*instrumentedStatement); ok {
			out[i] = is.inner
			continue
		}
		out[i] = st
	}
	return out
}
