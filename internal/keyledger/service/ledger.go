package service

import (
	"context"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openkey-lms/keyledger/internal/keyledger/metrics"
	"github.com/openkey-lms/keyledger/internal/keyledger/store"
)

const tracerName = "github.com/openkey-lms/keyledger/internal/keyledger/service"

type Options struct {
	// Now is the clock; defaults to time.Now in UTC.
	Now func() time.Time

	// Rooms, when set, is an occupancy store separate from the ledger.
	// Checkout then vacates the room first and terminates credentials in
	// a second step, which may fail on its own (see PartialCheckoutError).
	Rooms store.RoomStore

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Ledger owns every mutation of the credential ledger and the lookups the
// mutations depend on.
type Ledger struct {
	store   store.Store
	rooms   store.RoomStore
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

func NewLedger(st store.Store, opts Options) *Ledger {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Ledger{
		store:   st,
		rooms:   opts.Rooms,
		now:     opts.Now,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		tracer:  otel.Tracer(tracerName),
	}
}

// Now returns the ledger clock in UTC.
func (l *Ledger) Now() time.Time { return l.now().UTC() }

// Store exposes the underlying store for read-only collaborators such as
// the report aggregator.
func (l *Ledger) Store() store.Store { return l.store }

func (l *Ledger) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return l.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
