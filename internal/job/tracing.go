package job

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/jonesrussell/ocrbase/internal/job"

type tracer struct {
	tracer trace.Tracer
}

func newTracer() *tracer {
	return &tracer{tracer: otel.Tracer(tracerName)}
}

// start opens a span tagged with the job id. The caller ends it.
//
//nolint:spancheck // span is returned to caller who manages its lifecycle
func (t *tracer) start(ctx context.Context, name, jobID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("job.id", jobID)))
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
