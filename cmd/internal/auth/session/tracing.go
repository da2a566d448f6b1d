package session

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"instant/cmd/internal/metrics"
)

var tracer = otel.Tracer("instant/session")

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// finish closes span and records the operation outcome.
func (s *Service) finish(op string, span trace.Span, err error) {
	label := KindLabel(err)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("auth.outcome", label))
		span.SetStatus(codes.Error, label)
	}
	span.End()
	metrics.RecordAuth(op, label)
}
