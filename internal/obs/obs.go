// Package obs provides the observability context injected throughout the
// decision plane: a structured logger, Prometheus-backed metrics, an OTel
// tracer, and request-scoped correlation IDs. A nil *Context behaves as a
// null implementation so that library code and unit tests never require
// wiring observability (spec §9: "a null implementation is the default").
package obs

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Context bundles the observability substrate. The zero value is not
// usable directly — use New or Null.
type Context struct {
	Logger  *slog.Logger
	Metrics *Metrics
	Tracer  trace.Tracer
}

// Null returns an observability Context backed by a discard logger, a
// metrics registry that is never scraped, and the OTel no-op tracer. It is
// the default for components that receive no *Context.
func Null() *Context {
	return &Context{
		Logger:  slog.New(slog.NewTextHandler(discardWriter{}, nil)),
		Metrics: NewMetrics(prometheus.NewRegistry()),
		Tracer:  otel.Tracer("prefctl/null"),
	}
}

// New builds a Context around the given logger and a fresh metrics
// registry, using the global OTel tracer provider.
func New(logger *slog.Logger, reg *prometheus.Registry) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Context{
		Logger:  logger,
		Metrics: NewMetrics(reg),
		Tracer:  otel.Tracer("prefctl"),
	}
}

// With returns a derived Context whose logger carries an additional
// "component" attribute, matching the teacher convention of
// logger.With("component", "<pkg>.<Type>") on every constructor.
func (c *Context) With(component string) *Context {
	if c == nil {
		c = Null()
	}
	return &Context{
		Logger:  c.Logger.With("component", component),
		Metrics: c.Metrics,
		Tracer:  c.Tracer,
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// correlationKey is the context.Context key for the request-scoped
// correlation ID.
type correlationKey struct{}

// WithCorrelationID returns a derived context.Context carrying id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID extracts the correlation ID bound to ctx, or "" if none.
func CorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(correlationKey{}).(string)
	return v
}
