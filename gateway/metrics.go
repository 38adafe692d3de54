package gateway

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"taskboard/domain"
)

const (
	tracerName          = "taskboard/gateway"
	mutationEventName   = "board.mutation"
	mutationEventDomain = "taskboard.gateway"
	observabilityEvent  = "observability.event"
)

// opMetrics times one gateway operation and reports it both as a span and
// as a structured log line.
type opMetrics struct {
	logger        *log.Logger
	span          trace.Span
	op            string
	boardID       string
	start         time.Time
	storeDuration time.Duration
	published     bool
	errorStage    string
}

func newOpMetrics(ctx context.Context, logger *log.Logger, op, boardID string) (*opMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "gateway."+op)
	return &opMetrics{
		logger:  logger,
		span:    span,
		op:      op,
		boardID: boardID,
		start:   time.Now(),
	}, ctx
}

func (m *opMetrics) ObserveStore(d time.Duration) {
	if d > 0 {
		m.storeDuration += d
	}
}

func (m *opMetrics) SetBoard(id string) {
	if id != "" {
		m.boardID = id
	}
}

func (m *opMetrics) SetPublished() { m.published = true }

func (m *opMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

// severityFor follows the OpenTelemetry log severity numbers.
func severityFor(err error) (string, int) {
	switch {
	case err == nil:
		return "INFO", 9
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrNotFound):
		return "WARN", 13
	default:
		return "ERROR", 17
	}
}

func (m *opMetrics) Log(err error) {
	if m == nil {
		return
	}
	total := durationToMillis(time.Since(m.start))
	severityText, severityNumber := severityFor(err)

	attrs := []attribute.KeyValue{
		attribute.String("taskboard.op", m.op),
		attribute.String("taskboard.board_id", m.boardID),
		attribute.Float64("taskboard.total_ms", total),
		attribute.Float64("taskboard.store_ms", durationToMillis(m.storeDuration)),
		attribute.Bool("taskboard.published", m.published),
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("taskboard.error_stage", m.errorStage))
	}
	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", mutationEventName),
		attribute.String("event.domain", mutationEventDomain),
		attribute.String("severity_text", severityText),
	}, attrs...)
	if err != nil {
		eventAttrs = append(eventAttrs, attribute.String("error.message", err.Error()))
	}

	m.span.SetAttributes(attrs...)
	m.span.AddEvent(observabilityEvent, trace.WithAttributes(eventAttrs...))
	if err != nil {
		m.span.RecordError(err)
		m.span.SetStatus(codes.Error, err.Error())
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	sc := m.span.SpanContext()
	m.span.End()

	if m.logger == nil {
		return
	}
	logged := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		logged[string(kv.Key)] = kv.Value.AsInterface()
	}
	fields := log.Fields{
		"event.name":      mutationEventName,
		"event.domain":    mutationEventDomain,
		"attributes":      logged,
		"severity_text":   severityText,
		"severity_number": severityNumber,
	}
	if sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
		fields["span_id"] = sc.SpanID().String()
	}
	entry := m.logger.WithFields(fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	switch severityNumber {
	case 9:
		entry.Info(observabilityEvent)
	case 13:
		entry.Warn(observabilityEvent)
	default:
		entry.Error(observabilityEvent)
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
