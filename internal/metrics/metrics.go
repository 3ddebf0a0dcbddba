package metrics

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "labwatch"

var (
	// Sampling loop
	CapturesWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_written_total",
			Help:      "Total number of captures committed",
		},
	)

	AcquisitionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquisition_errors_total",
			Help:      "Metric probes that failed, by component kind",
		},
		[]string{"kind"},
	)

	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Threshold evaluations per machine, by result",
		},
		[]string{"result"}, // result: ok, error
	)

	AlertsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_enqueued_total",
			Help:      "Alerts written to the outbox, by level",
		},
		[]string{"level"},
	)

	StoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Persistence failures, by operation",
		},
		[]string{"op"},
	)

	// Drain loop
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Outbox drain outcomes",
		},
		[]string{"result"}, // result: sent, no_target, sink_error, failed_permanently
	)

	SinkSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sink_send_duration_seconds",
			Help:      "Time spent in the notification sink call",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"sink"},
	)

	// Scheduler
	TickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of one scheduled loop iteration",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"loop"},
	)

	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "panics_recovered_total",
			Help:      "Panics recovered at the loop iteration boundary",
		},
		[]string{"loop"},
	)
)

// OutboxCounter reports the number of alerts per outbox state.
type OutboxCounter interface {
	PendingCount(ctx context.Context) (int, error)
}

// RegisterOutboxGauge exposes the pending outbox size, queried on every scrape.
// Registering twice against the same registerer is not an error.
func RegisterOutboxGauge(reg prometheus.Registerer, store OutboxCounter, logger *slog.Logger) error {
	gauge := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_pending",
			Help:      "Alerts waiting for delivery",
		},
		func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			n, err := store.PendingCount(ctx)
			if err != nil {
				logger.Warn("outbox gauge query failed", "err", err)
				return 0
			}
			return float64(n)
		},
	)
	if err := reg.Register(gauge); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return nil
		}
		return err
	}
	return nil
}
