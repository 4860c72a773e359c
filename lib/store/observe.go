package store

import (
	"context"
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/konceiver/dockv/lib/db"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Operation names, used for spans, metrics and OpError.Op
const (
	opGet         = "get"
	opGetMany     = "get_many"
	opPut         = "put"
	opPutMany     = "put_many"
	opHas         = "has"
	opHasMany     = "has_many"
	opMissing     = "missing"
	opMissingMany = "missing_many"
	opPull        = "pull"
	opPullMany    = "pull_many"
	opForget      = "forget"
	opForgetMany  = "forget_many"
	opFlush       = "flush"
	opAll         = "all"
	opKeys        = "keys"
	opValues      = "values"
	opCount       = "count"
	opIsEmpty     = "is_empty"
	opIsNotEmpty  = "is_not_empty"
)

// retriesTotal counts retried write and removal attempts of all stores
var retriesTotal = metrics.NewCounter(`dockv_store_retries_total`)

// operation tracks one call of a public store operation
type operation struct {
	name      string
	start     time.Time
	span      trace.Span
	collapsed *metrics.Counter
}

// begin starts the span and the latency measurement of a public operation
func (s *Store[K, T]) begin(ctx context.Context, name string) (context.Context, *operation) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`dockv_store_ops_total{op=%q}`, name)).Inc()

	ctx, span := s.tracer.Start(ctx, "store."+name, trace.WithAttributes(
		attribute.String("dockv.connection", s.config.Connection),
	))

	return ctx, &operation{
		name:      name,
		start:     time.Now(),
		span:      span,
		collapsed: metrics.GetOrCreateCounter(fmt.Sprintf(`dockv_store_collapsed_errors_total{op=%q}`, name)),
	}
}

// end records the duration and ends the span
func (op *operation) end() {
	metrics.GetOrCreateHistogram(fmt.Sprintf(`dockv_store_op_duration_seconds{op=%q}`, op.name)).UpdateDuration(op.start)
	op.span.End()
}

// collapse is the single place where errors of the database are swallowed.
// The caller returns the fallback value of its operation, collapse records the
// error for LastError, the metrics and the span of the operation.
func (s *Store[K, T]) collapse(op *operation, err error) {
	if err == nil {
		return
	}

	e := &OpError{Op: op.name, Err: err}
	s.lastErr.Store(e)

	op.collapsed.Inc()
	op.span.RecordError(err)
	op.span.SetStatus(codes.Error, db.CodeOf(err).String())

	Logger.Debugf("%s collapsed: %v", op.name, err)
}
