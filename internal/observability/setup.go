package observability

import (
	"context"
	"sync"

	"github.com/pborman/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/iamwavecut/ngguard"

var (
	// Logger writes the structured audit trail of moderation verdicts.
	Logger = zap.NewNop()

	initOnce sync.Once
	initErr  error
	provider *trace.TracerProvider
)

// Init sets up the audit logger, registers metrics and installs the tracer
// provider. Safe to call more than once.
func Init(ctx context.Context) error {
	initOnce.Do(func() {
		var logger *zap.Logger
		logger, initErr = zap.NewProduction()
		if initErr != nil {
			return
		}
		Logger = logger.Named("audit")

		registerMetrics(prometheus.DefaultRegisterer)

		provider = trace.NewTracerProvider()
		otel.SetTracerProvider(provider)
	})
	return initErr
}

// Shutdown flushes the audit log and the tracer provider.
func Shutdown(ctx context.Context) error {
	_ = Logger.Sync()
	if provider != nil {
		return provider.Shutdown(ctx)
	}
	return nil
}

func Tracer() oteltrace.Tracer {
	return otel.Tracer(tracerName)
}

// Audit records a moderation incident and returns its id.
func Audit(event string, fields ...zap.Field) string {
	incidentID := uuid.New()
	Logger.Info(event, append([]zap.Field{zap.String("incident_id", incidentID)}, fields...)...)
	return incidentID
}
