package scoring

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Best-effort, per-instance counters. Without a metrics SDK wired in,
// the global meter is a no-op; validation failures still never crash
// the request.
var (
	eiEmitted  metric.Int64Counter
	eiRejected metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/hcpsim/coachgate/internal/scoring")
	var err error
	eiEmitted, err = meter.Int64Counter("coachgate_ei_payloads_emitted_total",
		metric.WithDescription("EI payloads attached to responses"))
	if err != nil {
		slog.Warn("scoring: failed to create ei emission counter", "error", err)
	}
	eiRejected, err = meter.Int64Counter("coachgate_ei_payloads_rejected_total",
		metric.WithDescription("EI payloads suppressed by validation"))
	if err != nil {
		slog.Warn("scoring: failed to create ei rejection counter", "error", err)
	}
}

// RecordEiEmitted counts an EI payload attached to a response.
func RecordEiEmitted(ctx context.Context, mode string) {
	if eiEmitted != nil {
		eiEmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
	}
}

// RecordEiRejected counts an EI payload suppressed by validation.
func RecordEiRejected(ctx context.Context, reason string) {
	if eiRejected != nil {
		eiRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}
