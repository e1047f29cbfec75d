package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

var (
	// Global logger instance
	Logger *zap.Logger

	pipelineOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_outcomes_total",
			Help: "Terminal pipeline outcomes by kind",
		},
		[]string{"outcome"},
	)

	spamVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spam_verdicts_total",
			Help: "Spam detector verdicts",
		},
		[]string{"verdict"},
	)

	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_duration_seconds",
			Help:    "Time spent dispatching one update",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	queueDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "update_queue_dropped_total",
			Help: "Inbound updates dropped because the queue was full",
		},
	)
)

func Init(ctx context.Context, metricsAddr string) error {
	var err error
	Logger, err = zap.NewProduction()
	if err != nil {
		return err
	}

	prometheus.MustRegister(pipelineOutcomes)
	prometheus.MustRegister(spamVerdicts)
	prometheus.MustRegister(dispatchDuration)
	prometheus.MustRegister(queueDropped)

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
		Logger.Info("metrics endpoint listening", zap.String("addr", metricsAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			Logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	return nil
}

func RecordOutcome(outcome string) {
	pipelineOutcomes.WithLabelValues(outcome).Inc()
}

func RecordSpamVerdict(verdict string) {
	spamVerdicts.WithLabelValues(verdict).Inc()
}

func RecordQueueDrop() {
	queueDropped.Inc()
}

// StartDispatch opens a dispatch span and returns the span context plus a
// closure that ends the span and records the dispatch duration.
func StartDispatch(ctx context.Context, command string) (context.Context, func()) {
	start := time.Now()
	ctx, span := otel.Tracer("zultra/dispatch").Start(ctx, "dispatch")
	span.SetAttributes(attribute.String("command", command))
	return ctx, func() {
		span.End()
		dispatchDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
	}
}
