package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"labwatch/internal/metrics"
	"labwatch/internal/models"
)

// Outbox is the claim side of the alert outbox.
type Outbox interface {
	ClaimOnePending(ctx context.Context, owner string, lease time.Duration, now time.Time) (*models.OutboxAlert, error)
	MarkSent(ctx context.Context, id int64, at time.Time) error
	MarkFailed(ctx context.Context, id int64, maxAttempts int) (permanent bool, err error)
}

type TargetResolver interface {
	ResolveForMachine(ctx context.Context, machineID int64) (target string, ok bool, err error)
}

// Outcome is what a single drain pass did with the alert it claimed.
type Outcome string

const (
	OutcomeIdle              Outcome = "idle"
	OutcomeSent              Outcome = "sent"
	OutcomeNoTarget          Outcome = "no_target"
	OutcomeSinkError         Outcome = "sink_error"
	OutcomeFailedPermanently Outcome = "failed_permanently"
)

type Options struct {
	// Lease is how long a claim stays exclusive. An alert whose lease ran out is claimable again.
	Lease time.Duration
	// MaxAttempts retires an alert as failed-permanently after that many failed deliveries. 0 retries forever.
	MaxAttempts int
	Owner       string
}

// Notifier drains the outbox one alert per call.
type Notifier struct {
	outbox   Outbox
	resolver TargetResolver
	sink     Sink
	opts     Options
	log      *slog.Logger
	now      func() time.Time
}

func NewNotifier(outbox Outbox, resolver TargetResolver, sink Sink, opts Options, logger *slog.Logger) *Notifier {
	if opts.Lease <= 0 {
		opts.Lease = time.Minute
	}
	if opts.MaxAttempts < 0 {
		opts.MaxAttempts = 0
	}
	if opts.Owner == "" {
		opts.Owner = uuid.NewString()
	}
	return &Notifier{
		outbox:   outbox,
		resolver: resolver,
		sink:     sink,
		opts:     opts,
		log:      logger.With("sink", sink.Name(), "owner", opts.Owner),
		now:      time.Now,
	}
}

// Drain claims one pending alert and tries to deliver it. Failures of that alert are logged and
// leave it pending for a later pass; only a failed claim is returned as an error.
func (n *Notifier) Drain(ctx context.Context) (Outcome, error) {
	a, err := n.outbox.ClaimOnePending(ctx, n.opts.Owner, n.opts.Lease, n.now())
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("claim_alert").Inc()
		return OutcomeIdle, fmt.Errorf("claim alert: %w", err)
	}
	if a == nil {
		return OutcomeIdle, nil
	}
	log := n.log.With("alert_id", a.ID, "machine_id", a.MachineID, "component", a.Component, "level", a.Level)

	target, ok, err := n.resolver.ResolveForMachine(ctx, a.MachineID)
	if err == nil && !ok {
		err = ErrNoTarget
	}
	if err != nil {
		log.Warn("delivery target unresolved", "err", err)
		return n.failed(ctx, log, a, OutcomeNoTarget), nil
	}

	start := time.Now()
	err = n.sink.Send(ctx, target, FormatMessage(a))
	metrics.SinkSendDuration.WithLabelValues(n.sink.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		var sinkErr *SinkError
		if !errors.As(err, &sinkErr) {
			err = &SinkError{Sink: n.sink.Name(), Err: err}
		}
		log.Error("send alert failed", "target", target, "err", err)
		return n.failed(ctx, log, a, OutcomeSinkError), nil
	}

	if err := n.outbox.MarkSent(ctx, a.ID, n.now()); err != nil {
		// The lease expires and the alert is delivered again.
		metrics.StoreErrorsTotal.WithLabelValues("mark_sent").Inc()
		log.Error("mark alert sent failed", "err", err)
		return OutcomeSent, nil
	}
	metrics.NotificationsTotal.WithLabelValues(string(OutcomeSent)).Inc()
	log.Info("alert sent", "target", target)
	return OutcomeSent, nil
}

func (n *Notifier) failed(ctx context.Context, log *slog.Logger, a *models.OutboxAlert, outcome Outcome) Outcome {
	permanent, err := n.outbox.MarkFailed(ctx, a.ID, n.opts.MaxAttempts)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("mark_failed").Inc()
		log.Error("record failed attempt", "err", err)
	}
	if permanent {
		outcome = OutcomeFailedPermanently
		log.Warn("alert retired after max attempts", "max_attempts", n.opts.MaxAttempts)
	}
	metrics.NotificationsTotal.WithLabelValues(string(outcome)).Inc()
	return outcome
}

// Tick runs one drain pass for the scheduler.
func (n *Notifier) Tick(ctx context.Context) error {
	_, err := n.Drain(ctx)
	return err
}
